package t4api

import (
	"fmt"
	"net"
	"strings"
)

// common constants
const (
	// ExtraVectors is the fixed interrupt overhead of every plan: one vector
	// for errors and one for the firmware event queue.
	ExtraVectors = 2

	MaxPorts        = 4
	FilterSlotsIPv6 = 4 // an IPv6 filter spans four consecutive slots

	ETHER_ADDR_LENGTH = 6
)

// VectorKind is the interrupt delivery mechanism tier.
type VectorKind uint32

const (
	VectorExclusive VectorKind = iota // message-signaled-extended (MSI-X)
	VectorShared                      // message-signaled (MSI)
	VectorLegacy                      // single line (INTx)
)

// PreferenceOrder lists every vector kind from most to least desirable.
var PreferenceOrder = []VectorKind{VectorExclusive, VectorShared, VectorLegacy}

func (k VectorKind) String() string {
	switch k {
	case VectorExclusive:
		return "exclusive"
	case VectorShared:
		return "shared"
	case VectorLegacy:
		return "legacy"
	}
	return fmt.Sprintf("VectorKind(%d)", uint32(k))
}

// NeedsPowerOfTwo reports whether the platform can only grant this kind in
// power-of-two blocks.
func (k VectorKind) NeedsPowerOfTwo() bool {
	return k != VectorExclusive
}

// ParseVectorKind accepts the config spelling of a vector kind as well as
// the PCI names.
func ParseVectorKind(s string) (VectorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exclusive", "msix", "msi-x":
		return VectorExclusive, nil
	case "shared", "msi":
		return VectorShared, nil
	case "legacy", "intx", "line":
		return VectorLegacy, nil
	}
	return 0, fmt.Errorf("unknown vector kind %q", s)
}

// FilterOp is the operation carried by a filter work request.
type FilterOp uint8

const (
	FilterOpAdd FilterOp = iota
	FilterOpDelete
)

func (op FilterOp) String() string {
	if op == FilterOpDelete {
		return "delete"
	}
	return "add"
}

// ReplyCode is the cookie firmware echoes back in a filter reply.
type ReplyCode uint8

const (
	ReplyAdded   ReplyCode = 1 // filter written
	ReplyDeleted ReplyCode = 2 // filter deleted
	ReplySMTFull ReplyCode = 3 // source MAC table full
	ReplyInvalid ReplyCode = 4 // request rejected
	// any other value is also a firmware error
)

// IsError reports whether the reply carries a firmware error.
func (c ReplyCode) IsError() bool {
	return c != ReplyAdded && c != ReplyDeleted
}

// FilterWorkRequest is the management-queue work request used to write or
// delete one hardware filter. Idx doubles as the correlation id of the
// asynchronous reply.
type FilterWorkRequest struct {
	Op     FilterOp
	Idx    uint32
	IPv6   bool
	Drop   bool
	Switch bool
	EPort  uint8
	Prio   bool
	L2TIdx uint16 // zero when no rewrite entry is attached
	Match  FilterMatch

	HitCounts bool
	DirSteer  bool
	IQ        uint16 // ingress queue when DirSteer is set

	// Egress rewrites applied by switching filters besides the L2T entry.
	NewSMAC    bool
	SMAC       net.HardwareAddr
	VLANAction uint8 // 0 none, 1 remove, 2 insert, 3 replace
	VLAN       uint16
}

// FilterMatch is the subset of match fields firmware compares against. The
// zero value of a field together with a zero mask means "don't care".
type FilterMatch struct {
	EtherType, EtherTypeMask uint16
	Proto, ProtoMask         uint8
	SrcIP, SrcIPMask         net.IP
	DstIP, DstIPMask         net.IP
	SrcPort, SrcPortMask     uint16
	DstPort, DstPortMask     uint16
	VLAN, VLANMask           uint16
	IPort, IPortMask         uint8
}

// Completion is an asynchronous filter reply delivered by firmware on the
// completion context.
type Completion struct {
	Idx      uint32
	Code     ReplyCode
	AuxIndex uint8 // hardware-assigned source MAC table index
}

// CompletionHandler consumes asynchronous completions. It runs on the
// firmware's completion context and must not block.
type CompletionHandler func(Completion)

// L2TWrite programs one layer-2 rewrite entry.
type L2TWrite struct {
	Idx  uint16
	VLAN uint16
	Port uint8
	DMAC net.HardwareAddr
}
