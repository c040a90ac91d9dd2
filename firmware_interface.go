package t4api

// FirmwareChannel defines the interface for adapter firmware interactions.
type FirmwareChannel interface {
	VectorAllocator
	FilterChannel
	Close() error
}

// VectorAllocator negotiates interrupt vectors with the platform.
type VectorAllocator interface {
	VectorsAvailable(kind VectorKind) int
	AllocVectors(kind VectorKind, count int) (int, error)
	ReleaseVectors(kind VectorKind) error
}

// FilterChannel carries filter programming to firmware. SubmitFilterWR is
// fire and forget; the reply arrives later on the completion handler.
type FilterChannel interface {
	SubmitFilterWR(wr *FilterWorkRequest) error
	SetCompletionHandler(h CompletionHandler)
	ReadFilterHits(idx uint32) (uint64, error)
	SetFilterConfig(fconf uint32) error
	WriteL2T(e L2TWrite) error
}
