package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	A "github.com/t4nic/t4api"
)

// FilterState is the lifecycle state of one filter table entry.
type FilterState uint8

const (
	FilterEmpty FilterState = iota
	FilterPending
	FilterValid
)

func (s FilterState) String() string {
	switch s {
	case FilterPending:
		return "pending"
	case FilterValid:
		return "valid"
	}
	return "empty"
}

// flushConcurrency bounds the number of removals Flush keeps in flight.
const flushConcurrency = 8

// completionSlot is the rendezvous between one submitted command and the
// reply for it. code and gone are written before done is closed. gone is
// set when the device went away before the reply arrived.
type completionSlot struct {
	done chan struct{}
	code A.ReplyCode
	gone bool
}

type filterEntry struct {
	state  FilterState
	op     A.FilterOp // meaningful while pending
	locked bool
	spec   FilterSpec
	l2t    *L2Entry
	smtIdx uint8
	slot   *completionSlot
}

// FilterInfo is a snapshot of one filter table entry.
type FilterInfo struct {
	Idx       uint32
	State     FilterState
	PendingOp A.FilterOp
	Locked    bool
	Spec      FilterSpec
	Hits      uint64
	HitsValid bool
	L2TIdx    uint16
	AuxIndex  uint8
}

// FilterManagerOptions configure a FilterManager.
type FilterManagerOptions struct {
	Name       string // adapter name used in logs and metrics
	NumFilters int
	Ports      int
	Mode       FilterMode
	L2T        *L2Table
	Logger     *zap.Logger
	Metrics    *Metrics
	Clock      clock.Clock
}

// FilterManager owns the adapter's hardware filter table. Mutations are
// admitted by the adapter gate and submitted to firmware; their outcome
// arrives later through OnCompletion.
type FilterManager struct {
	gate   *Gate
	fw     A.FilterChannel
	l2t    *L2Table
	nports int
	name   string

	mu    sync.Mutex // guards tab, inUse and mode
	tab   []filterEntry
	inUse int
	mode  FilterMode

	log     *zap.Logger
	metrics *Metrics
	clock   clock.Clock
}

// NewFilterManager returns a manager with an all-empty table. It does not
// register itself as the completion handler of fw.
func NewFilterManager(gate *Gate, fw A.FilterChannel, opts FilterManagerOptions) *FilterManager {
	fm := &FilterManager{
		gate:    gate,
		fw:      fw,
		l2t:     opts.L2T,
		nports:  opts.Ports,
		name:    opts.Name,
		tab:     make([]filterEntry, opts.NumFilters),
		mode:    opts.Mode | ModeBase,
		log:     opts.Logger,
		metrics: opts.Metrics,
		clock:   opts.Clock,
	}
	if fm.log == nil {
		fm.log = zap.NewNop()
	}
	if fm.clock == nil {
		fm.clock = clock.New()
	}
	if fm.l2t == nil {
		fm.l2t = NewL2Table(fw, DefaultL2TSize, fm.log)
	}
	if fm.nports <= 0 {
		fm.nports = 1
	}
	return fm
}

// Len returns the number of entries in the table.
func (fm *FilterManager) Len() int {
	return len(fm.tab)
}

// InUse returns the number of entries that are not empty.
func (fm *FilterManager) InUse() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.inUse
}

// L2T returns the rewrite table used by switching filters.
func (fm *FilterManager) L2T() *L2Table {
	return fm.l2t
}

func (fm *FilterManager) checkIdx(idx uint32) error {
	if len(fm.tab) == 0 {
		return fmt.Errorf("no filter table: %w", A.ErrNotSupported)
	}
	if int(idx) >= len(fm.tab) {
		return fmt.Errorf("filter index %d out of range [0, %d): %w", idx, len(fm.tab), A.ErrInvalidSpec)
	}
	return nil
}

// Install writes spec into entry idx and waits for firmware to confirm it.
// If ctx is cancelled after the command was submitted Install returns
// ErrCancelled and the entry stays pending until the reply arrives.
func (fm *FilterManager) Install(ctx context.Context, idx uint32, spec FilterSpec) (err error) {
	defer func() { fm.metrics.observeFilterOp(A.FilterOpAdd, err) }()

	tok, err := fm.gate.Begin(ctx, AdapterWide, SleepOK|IntrOK, "t4setf")
	if err != nil {
		return err
	}
	slot, err := fm.submitAdd(idx, &spec)
	fm.gate.End(tok)
	if err != nil {
		return err
	}
	return fm.wait(ctx, idx, A.FilterOpAdd, slot)
}

// submitAdd runs with the gate held.
func (fm *FilterManager) submitAdd(idx uint32, spec *FilterSpec) (*completionSlot, error) {
	if err := fm.checkIdx(idx); err != nil {
		return nil, err
	}
	if err := spec.validate(fm.nports); err != nil {
		return nil, err
	}
	n := spec.Type.slots()
	if n > 1 && (int(idx)%n != 0 || int(idx)+n >= len(fm.tab)) {
		return nil, fmt.Errorf("ipv6 filter at %d needs a %d-aligned index below %d: %w",
			idx, n, len(fm.tab)-n, A.ErrInvalidSpec)
	}

	fm.mu.Lock()
	if err := spec.CheckMode(fm.mode); err != nil {
		fm.mu.Unlock()
		return nil, err
	}
	if err := fm.checkFree(idx, n); err != nil {
		fm.mu.Unlock()
		return nil, err
	}
	var l2e *L2Entry
	if spec.NeedsRewrite() {
		vlan := spec.VLAN
		if spec.NewVLAN == VLANNone || spec.NewVLAN == VLANRemove {
			vlan = 0
		}
		var err error
		if l2e, err = fm.l2t.Acquire(vlan, spec.EPort, spec.DMAC); err != nil {
			fm.mu.Unlock()
			return nil, err
		}
	}

	var l2tIdx uint16
	if l2e != nil {
		l2tIdx = l2e.Idx
	}
	slot := &completionSlot{done: make(chan struct{})}
	e := &fm.tab[idx]
	e.state = FilterPending
	e.op = A.FilterOpAdd
	e.spec = *spec
	e.l2t = l2e
	e.slot = slot
	fm.inUse++
	inUse := fm.inUse
	fm.mu.Unlock()

	if err := fm.fw.SubmitFilterWR(spec.workRequest(idx, l2tIdx)); err != nil {
		fm.mu.Lock()
		fm.clear(e)
		inUse = fm.inUse
		fm.mu.Unlock()
		fm.metrics.setFiltersInUse(fm.name, inUse)
		return nil, fmt.Errorf("submit filter %d: %w", idx, err)
	}
	fm.metrics.setFiltersInUse(fm.name, inUse)
	return slot, nil
}

// checkFree runs with fm.mu held. Besides the n slots starting at idx it
// checks that idx isn't covered by an IPv6 filter starting below it.
func (fm *FilterManager) checkFree(idx uint32, n int) error {
	if base := int(idx) &^ (A.FilterSlotsIPv6 - 1); base != int(idx) {
		if e := &fm.tab[base]; e.state != FilterEmpty && e.spec.Type == FilterIPv6 {
			return fmt.Errorf("filter %d is inside the ipv6 filter at %d: %w", idx, base, A.ErrBusy)
		}
	}
	for i := 0; i < n; i++ {
		e := &fm.tab[int(idx)+i]
		if e.state != FilterEmpty {
			return fmt.Errorf("filter %d is %s: %w", int(idx)+i, e.state, A.ErrBusy)
		}
		if e.locked {
			return fmt.Errorf("filter %d: %w", int(idx)+i, A.ErrPermission)
		}
	}
	return nil
}

// clear returns e to the empty state. It runs with fm.mu held.
func (fm *FilterManager) clear(e *filterEntry) {
	if e.l2t != nil {
		fm.l2t.Release(e.l2t)
	}
	locked := e.locked
	*e = filterEntry{locked: locked}
	fm.inUse--
}

// Remove deletes the valid filter at idx and waits for firmware to confirm
// it.
func (fm *FilterManager) Remove(ctx context.Context, idx uint32) (err error) {
	defer func() { fm.metrics.observeFilterOp(A.FilterOpDelete, err) }()

	tok, err := fm.gate.Begin(ctx, AdapterWide, SleepOK|IntrOK, "t4delf")
	if err != nil {
		return err
	}
	slot, err := fm.submitDelete(idx)
	fm.gate.End(tok)
	if err != nil {
		return err
	}
	return fm.wait(ctx, idx, A.FilterOpDelete, slot)
}

// submitDelete runs with the gate held.
func (fm *FilterManager) submitDelete(idx uint32) (*completionSlot, error) {
	if err := fm.checkIdx(idx); err != nil {
		return nil, err
	}

	fm.mu.Lock()
	e := &fm.tab[idx]
	switch {
	case e.locked:
		fm.mu.Unlock()
		return nil, fmt.Errorf("filter %d: %w", idx, A.ErrPermission)
	case e.state == FilterPending:
		fm.mu.Unlock()
		return nil, fmt.Errorf("filter %d has a %s pending: %w", idx, e.op, A.ErrBusy)
	case e.state == FilterEmpty:
		fm.mu.Unlock()
		return nil, fmt.Errorf("filter %d is not installed: %w", idx, A.ErrInvalidSpec)
	}
	slot := &completionSlot{done: make(chan struct{})}
	e.state = FilterPending
	e.op = A.FilterOpDelete
	e.slot = slot
	fm.mu.Unlock()

	if err := fm.fw.SubmitFilterWR(&A.FilterWorkRequest{Op: A.FilterOpDelete, Idx: idx}); err != nil {
		fm.mu.Lock()
		e.state = FilterValid
		e.slot = nil
		fm.mu.Unlock()
		return nil, fmt.Errorf("submit filter %d delete: %w", idx, err)
	}
	return slot, nil
}

func (fm *FilterManager) wait(ctx context.Context, idx uint32, op A.FilterOp, slot *completionSlot) error {
	select {
	case <-slot.done:
	case <-ctx.Done():
		return fmt.Errorf("filter %d %s: %w", idx, op, A.ErrCancelled)
	}
	if slot.gone {
		return fmt.Errorf("filter %d %s: %w", idx, op, A.ErrDeviceGone)
	}

	want := A.ReplyAdded
	if op == A.FilterOpDelete {
		want = A.ReplyDeleted
	}
	if slot.code != want {
		return &A.FirmwareError{Idx: idx, Op: op, Code: slot.code}
	}
	return nil
}

// InstallTimeout is Install with a deadline measured on the manager's
// clock.
func (fm *FilterManager) InstallTimeout(ctx context.Context, idx uint32, spec FilterSpec, d time.Duration) error {
	ctx, cancel := fm.clock.WithTimeout(ctx, d)
	defer cancel()
	return fm.Install(ctx, idx, spec)
}

// RemoveTimeout is Remove with a deadline measured on the manager's clock.
func (fm *FilterManager) RemoveTimeout(ctx context.Context, idx uint32, d time.Duration) error {
	ctx, cancel := fm.clock.WithTimeout(ctx, d)
	defer cancel()
	return fm.Remove(ctx, idx)
}

// OnCompletion consumes an asynchronous filter reply. It never blocks on
// anything but the table lock and is safe to call from the firmware's
// completion context.
func (fm *FilterManager) OnCompletion(c A.Completion) {
	if int(c.Idx) >= len(fm.tab) {
		fm.log.Warn("filter reply for an out of range index",
			zap.Uint32("idx", c.Idx), zap.Int("nfilters", len(fm.tab)))
		return
	}

	fm.mu.Lock()
	e := &fm.tab[c.Idx]
	if e.state != FilterPending {
		state := e.state
		fm.mu.Unlock()
		fm.log.Warn("filter reply for an entry that is not pending",
			zap.Uint32("idx", c.Idx),
			zap.Stringer("state", state),
			zap.Uint8("code", uint8(c.Code)))
		return
	}

	slot, op := e.slot, e.op
	e.slot = nil
	if c.Code == A.ReplyAdded {
		e.state = FilterValid
		e.smtIdx = c.AuxIndex
	} else {
		fm.clear(e)
	}
	inUse := fm.inUse
	slot.code = c.Code
	close(slot.done)
	fm.mu.Unlock()

	switch {
	case c.Code.IsError() && op == A.FilterOpAdd:
		fm.log.Error("filter setup failed",
			zap.Uint32("idx", c.Idx), zap.Uint8("code", uint8(c.Code)))
	case c.Code != A.ReplyDeleted && op == A.FilterOpDelete:
		fm.log.Warn("filter delete failed",
			zap.Uint32("idx", c.Idx), zap.Uint8("code", uint8(c.Code)))
	}
	fm.metrics.observeCompletion(c.Code)
	fm.metrics.setFiltersInUse(fm.name, inUse)
}

// Abandon empties every pending entry and wakes its waiter with
// ErrDeviceGone. It is called during teardown, with the adapter doomed and
// the firmware closed, when no reply can arrive any more. It returns the
// number of entries abandoned.
func (fm *FilterManager) Abandon() int {
	fm.mu.Lock()
	n := 0
	for i := range fm.tab {
		e := &fm.tab[i]
		if e.state != FilterPending {
			continue
		}
		slot := e.slot
		fm.clear(e)
		slot.gone = true
		close(slot.done)
		n++
	}
	inUse := fm.inUse
	fm.mu.Unlock()

	if n > 0 {
		fm.log.Warn("abandoned pending filter commands", zap.Int("count", n))
	}
	fm.metrics.setFiltersInUse(fm.name, inUse)
	return n
}

// WaitSettled blocks until the entry at idx is no longer pending and returns
// its state. It is how a caller whose Install or Remove was cancelled learns
// the outcome.
func (fm *FilterManager) WaitSettled(ctx context.Context, idx uint32) (FilterState, error) {
	if err := fm.checkIdx(idx); err != nil {
		return FilterEmpty, err
	}
	for {
		fm.mu.Lock()
		e := &fm.tab[idx]
		if e.state != FilterPending {
			state := e.state
			fm.mu.Unlock()
			return state, nil
		}
		done := e.slot.done
		fm.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return FilterPending, fmt.Errorf("filter %d: %w", idx, A.ErrCancelled)
		}
	}
}

// Query returns a snapshot of entry idx, with its hit count when the filter
// is valid and counts hits.
func (fm *FilterManager) Query(ctx context.Context, idx uint32) (FilterInfo, error) {
	tok, err := fm.gate.Begin(ctx, AdapterWide, SleepOK|IntrOK, "t4getf")
	if err != nil {
		return FilterInfo{}, err
	}
	defer fm.gate.End(tok)

	if err := fm.checkIdx(idx); err != nil {
		return FilterInfo{}, err
	}
	return fm.info(idx)
}

// QueryNext returns the first valid entry at or after from. ok is false when
// there is none.
func (fm *FilterManager) QueryNext(ctx context.Context, from uint32) (info FilterInfo, ok bool, err error) {
	tok, err := fm.gate.Begin(ctx, AdapterWide, SleepOK|IntrOK, "t4getf")
	if err != nil {
		return FilterInfo{}, false, err
	}
	defer fm.gate.End(tok)

	if len(fm.tab) == 0 {
		return FilterInfo{}, false, fmt.Errorf("no filter table: %w", A.ErrNotSupported)
	}

	idx := -1
	fm.mu.Lock()
	for i := int(from); i < len(fm.tab); i++ {
		if fm.tab[i].state == FilterValid {
			idx = i
			break
		}
	}
	fm.mu.Unlock()
	if idx < 0 {
		return FilterInfo{}, false, nil
	}
	info, err = fm.info(uint32(idx))
	return info, err == nil, err
}

// info runs with the gate held.
func (fm *FilterManager) info(idx uint32) (FilterInfo, error) {
	fm.mu.Lock()
	e := &fm.tab[idx]
	info := FilterInfo{
		Idx:      idx,
		State:    e.state,
		Locked:   e.locked,
		Spec:     e.spec,
		AuxIndex: e.smtIdx,
	}
	if e.state == FilterPending {
		info.PendingOp = e.op
	}
	if e.l2t != nil {
		info.L2TIdx = e.l2t.Idx
	}
	fm.mu.Unlock()

	if info.State == FilterValid && info.Spec.HitCounts {
		hits, err := fm.fw.ReadFilterHits(idx)
		if err != nil {
			return info, fmt.Errorf("read hits of filter %d: %w", idx, err)
		}
		info.Hits, info.HitsValid = hits, true
	}
	return info, nil
}

// GetMode returns the active filter mode.
func (fm *FilterManager) GetMode() FilterMode {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.mode
}

// SetMode changes the filter mode. It fails with ErrInUse while any entry
// is not empty, and with ErrBusy if the change would flip the ingress VNIC
// configuration, which can't be changed on the fly.
func (fm *FilterManager) SetMode(ctx context.Context, mode FilterMode) error {
	mode |= ModeBase
	if mode.IConf() != fm.GetMode().IConf() {
		return fmt.Errorf("ingress config change to %s: %w", mode, A.ErrBusy)
	}
	if w := mode.TupleWidth(); w > MaxTupleWidth {
		return fmt.Errorf("filter mode %s needs %d bits, have %d: %w", mode.Optional(), w, MaxTupleWidth, A.ErrInvalidSpec)
	}

	tok, err := fm.gate.Begin(ctx, AdapterWide, HoldLock|SleepOK|IntrOK, "t4setfm")
	if err != nil {
		return err
	}
	defer fm.gate.End(tok)

	if n := fm.InUse(); n > 0 {
		return fmt.Errorf("%d filters installed: %w", n, A.ErrInUse)
	}
	if err := fm.fw.SetFilterConfig(mode.FConf()); err != nil {
		return fmt.Errorf("set filter mode %s: %w", mode.Optional(), err)
	}

	fm.mu.Lock()
	fm.mode = mode
	fm.mu.Unlock()
	fm.log.Info("filter mode changed", zap.Stringer("mode", mode))
	return nil
}

// SetLocked sets or clears the administrative lock of entry idx. Locked
// entries can't be installed over or removed.
func (fm *FilterManager) SetLocked(ctx context.Context, idx uint32, locked bool) error {
	tok, err := fm.gate.Begin(ctx, AdapterWide, SleepOK|IntrOK, "t4lockf")
	if err != nil {
		return err
	}
	defer fm.gate.End(tok)

	if err := fm.checkIdx(idx); err != nil {
		return err
	}
	fm.mu.Lock()
	fm.tab[idx].locked = locked
	fm.mu.Unlock()
	return nil
}

// Flush removes every valid, unlocked filter. Filters that disappear while
// the flush is running are skipped; every other failure is returned.
func (fm *FilterManager) Flush(ctx context.Context) error {
	var idxs []uint32
	fm.mu.Lock()
	for i := range fm.tab {
		if fm.tab[i].state == FilterValid && !fm.tab[i].locked {
			idxs = append(idxs, uint32(i))
		}
	}
	fm.mu.Unlock()

	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	g.SetLimit(flushConcurrency)
	for _, idx := range idxs {
		idx := idx
		g.Go(func() error {
			err := fm.Remove(ctx, idx)
			if err == nil || errors.Is(err, A.ErrInvalidSpec) {
				return nil
			}
			mu.Lock()
			errs = multierr.Append(errs, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if errs == nil {
		fm.log.Debug("filters flushed", zap.Int("count", len(idxs)))
	}
	return errs
}
