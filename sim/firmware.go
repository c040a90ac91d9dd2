// Package sim provides an in-memory firmware that implements
// t4api.FirmwareChannel. Filter replies are delivered asynchronously from
// a single goroutine, or on demand in manual mode, and frames injected
// with Inject update the hit counters of the installed filters.
package sim

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	A "github.com/t4nic/t4api"
)

// ErrClosed is returned by every call made after Close.
var ErrClosed = fmt.Errorf("simulated firmware closed: %w", A.ErrDeviceGone)

// Options configure a simulated firmware.
type Options struct {
	// Available is the number of vectors the platform reports per kind.
	Available map[A.VectorKind]int
	// GrantCap limits what a single allocation grants per kind. Zero means
	// no limit beyond Available.
	GrantCap map[A.VectorKind]int
	// Manual queues replies until Deliver or DeliverAll is called.
	Manual bool
	// Latency delays every reply delivered by the completion goroutine.
	Latency time.Duration
	Clock   clock.Clock
	Logger  *zap.Logger
}

// AllocAttempt records one AllocVectors call.
type AllocAttempt struct {
	Kind      A.VectorKind
	Requested int
	Granted   int
	Err       error
}

// Firmware is a simulated adapter firmware.
type Firmware struct {
	opts  Options
	clock clock.Clock
	log   *zap.Logger

	mu        sync.Mutex
	closed    bool
	handler   A.CompletionHandler
	allocated map[A.VectorKind]int
	allocErr  map[A.VectorKind]error
	attempts  []AllocAttempt
	fconf     uint32
	l2t       map[uint16]A.L2TWrite
	inflight  map[uint32]A.FilterWorkRequest
	installed map[uint32]A.FilterWorkRequest
	hits      map[uint32]uint64
	failNext  map[uint32]A.ReplyCode
	queue     []A.Completion

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// New returns a running simulated firmware.
func New(opts Options) *Firmware {
	f := &Firmware{
		opts:      opts,
		clock:     opts.Clock,
		log:       opts.Logger,
		allocated: make(map[A.VectorKind]int),
		allocErr:  make(map[A.VectorKind]error),
		l2t:       make(map[uint16]A.L2TWrite),
		inflight:  make(map[uint32]A.FilterWorkRequest),
		installed: make(map[uint32]A.FilterWorkRequest),
		hits:      make(map[uint32]uint64),
		failNext:  make(map[uint32]A.ReplyCode),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if f.clock == nil {
		f.clock = clock.New()
	}
	if f.log == nil {
		f.log = zap.NewNop()
	}
	if f.opts.Available == nil {
		f.opts.Available = map[A.VectorKind]int{
			A.VectorExclusive: 64,
			A.VectorShared:    32,
			A.VectorLegacy:    1,
		}
	}
	if !opts.Manual {
		f.wg.Add(1)
		go f.run()
	}
	return f
}

// VectorsAvailable implements t4api.VectorAllocator.
func (f *Firmware) VectorsAvailable(kind A.VectorKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts.Available[kind]
}

// AllocVectors implements t4api.VectorAllocator.
func (f *Firmware) AllocVectors(kind A.VectorKind, count int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	attempt := AllocAttempt{Kind: kind, Requested: count}
	defer func() { f.attempts = append(f.attempts, attempt) }()

	switch {
	case f.closed:
		attempt.Err = ErrClosed
	case f.allocErr[kind] != nil:
		attempt.Err = f.allocErr[kind]
	case f.allocated[kind] > 0:
		attempt.Err = fmt.Errorf("%s vectors already allocated: %w", kind, A.ErrBusy)
	case count <= 0:
		attempt.Err = fmt.Errorf("bad vector count %d: %w", count, A.ErrInvalidSpec)
	}
	if attempt.Err != nil {
		return 0, attempt.Err
	}

	granted := min(count, f.opts.Available[kind])
	if limit := f.opts.GrantCap[kind]; limit > 0 {
		granted = min(granted, limit)
	}
	attempt.Granted = granted
	f.allocated[kind] = granted
	return granted, nil
}

// ReleaseVectors implements t4api.VectorAllocator.
func (f *Firmware) ReleaseVectors(kind A.VectorKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allocated[kind] == 0 {
		return fmt.Errorf("no %s vectors allocated: %w", kind, A.ErrInvalidSpec)
	}
	f.allocated[kind] = 0
	return nil
}

// FailAlloc makes every later allocation of kind fail with err. A nil err
// clears the failure.
func (f *Firmware) FailAlloc(kind A.VectorKind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.allocErr, kind)
		return
	}
	f.allocErr[kind] = err
}

// Allocated returns the number of vectors of kind currently held.
func (f *Firmware) Allocated(kind A.VectorKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allocated[kind]
}

// Attempts returns every allocation attempt in call order.
func (f *Firmware) Attempts() []AllocAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AllocAttempt(nil), f.attempts...)
}

// SetCompletionHandler implements t4api.FilterChannel.
func (f *Firmware) SetCompletionHandler(h A.CompletionHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

// SubmitFilterWR implements t4api.FilterChannel. The reply is queued and
// delivered later, never from the calling goroutine.
func (f *Firmware) SubmitFilterWR(wr *A.FilterWorkRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	c := A.Completion{Idx: wr.Idx, Code: A.ReplyAdded}
	if wr.Op == A.FilterOpDelete {
		c.Code = A.ReplyDeleted
	}
	if code, ok := f.failNext[wr.Idx]; ok {
		c.Code = code
		delete(f.failNext, wr.Idx)
	}
	f.inflight[wr.Idx] = *wr
	f.queue = append(f.queue, c)

	if !f.opts.Manual {
		select {
		case f.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

// FailNext makes the next reply for idx carry code.
func (f *Firmware) FailNext(idx uint32, code A.ReplyCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[idx] = code
}

// Pending returns the number of replies not delivered yet.
func (f *Firmware) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Deliver delivers up to n queued replies on the calling goroutine and
// returns how many were delivered.
func (f *Firmware) Deliver(n int) int {
	delivered := 0
	for ; delivered < n; delivered++ {
		if !f.deliverOne() {
			break
		}
	}
	return delivered
}

// DeliverAll delivers every queued reply on the calling goroutine.
func (f *Firmware) DeliverAll() int {
	delivered := 0
	for f.deliverOne() {
		delivered++
	}
	return delivered
}

func (f *Firmware) deliverOne() bool {
	f.mu.Lock()
	if len(f.queue) == 0 {
		f.mu.Unlock()
		return false
	}
	c := f.queue[0]
	f.queue = f.queue[1:]

	wr := f.inflight[c.Idx]
	delete(f.inflight, c.Idx)
	switch {
	case c.Code == A.ReplyAdded:
		f.installed[c.Idx] = wr
		f.hits[c.Idx] = 0
	case wr.Op == A.FilterOpDelete && c.Code.IsError():
		// delete failed, the filter stays
	default:
		delete(f.installed, c.Idx)
		delete(f.hits, c.Idx)
	}
	h := f.handler
	f.mu.Unlock()

	if h == nil {
		f.log.Warn("dropping filter reply, no handler", zap.Uint32("idx", c.Idx))
		return true
	}
	h(c)
	return true
}

// run is the completion goroutine.
func (f *Firmware) run() {
	defer f.wg.Done()
	for {
		select {
		case <-f.done:
			return
		case <-f.notify:
		}
		for f.Pending() > 0 {
			if f.opts.Latency > 0 {
				select {
				case <-f.done:
					return
				case <-f.clock.After(f.opts.Latency):
				}
			}
			f.deliverOne()
		}
	}
}

// ReadFilterHits implements t4api.FilterChannel.
func (f *Firmware) ReadFilterHits(idx uint32) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	if _, ok := f.installed[idx]; !ok {
		return 0, fmt.Errorf("filter %d not installed: %w", idx, A.ErrInvalidSpec)
	}
	return f.hits[idx], nil
}

// SetFilterConfig implements t4api.FilterChannel.
func (f *Firmware) SetFilterConfig(fconf uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if len(f.installed) > 0 {
		return fmt.Errorf("%d filters installed: %w", len(f.installed), A.ErrBusy)
	}
	f.fconf = fconf
	return nil
}

// FilterConfig returns the last filter configuration written.
func (f *Firmware) FilterConfig() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fconf
}

// WriteL2T implements t4api.FilterChannel.
func (f *Firmware) WriteL2T(e A.L2TWrite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if e.Idx == 0 {
		return errors.New("l2t entry 0 is reserved")
	}
	f.l2t[e.Idx] = e
	return nil
}

// L2T returns the rewrite entry last written at idx.
func (f *Firmware) L2T(idx uint16) (A.L2TWrite, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.l2t[idx]
	return e, ok
}

// Installed returns the indices of the filters firmware holds, ascending.
func (f *Firmware) Installed() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installedLocked()
}

func (f *Firmware) installedLocked() []uint32 {
	idxs := make([]uint32, 0, len(f.installed))
	for idx := range f.installed {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	return idxs
}

// Close stops the completion goroutine. Replies still queued are dropped.
func (f *Firmware) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	dropped := len(f.queue)
	f.queue = nil
	f.mu.Unlock()

	close(f.done)
	f.wg.Wait()
	if dropped > 0 {
		f.log.Debug("dropped undelivered filter replies", zap.Int("count", dropped))
	}
	return nil
}

var _ A.FirmwareChannel = (*Firmware)(nil)
