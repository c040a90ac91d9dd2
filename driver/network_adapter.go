package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	A "github.com/t4nic/t4api"
)

// PortSpeed is the speed class of a port.
type PortSpeed uint8

const (
	HighSpeed PortSpeed = iota
	LowSpeed
)

func (s PortSpeed) String() string {
	if s == LowSpeed {
		return "low"
	}
	return "high"
}

// SubInterfaceHandle names a sub-interface without owning it. Resolve it
// through Registry.Lookup.
type SubInterfaceHandle struct {
	Adapter uuid.UUID
	Unit    SubUnitID
}

func (h SubInterfaceHandle) String() string {
	return fmt.Sprintf("%s/%d", h.Adapter, h.Unit)
}

// SubInterface is a virtual interface on a port. The first sub-interface of
// every port is its primary interface.
type SubInterface struct {
	Handle      SubInterfaceHandle
	Port        int
	Speed       PortSpeed
	Primary     bool
	Queues      QueueCounts
	RxQueueSize int
	Up          bool
}

// AttachConfig describes the adapter being attached.
type AttachConfig struct {
	Name        string
	Topology    Topology
	Kinds       []A.VectorKind // allowed kinds, most preferred first
	MaxAttempts int
	NumFilters  int
	L2TSize     int
	FilterMode  FilterMode
}

// AttachOptions carry the ambient dependencies of an adapter.
type AttachOptions struct {
	Logger  *zap.Logger
	Metrics *Metrics
	Clock   clock.Clock
}

// Adapter is one attached multi-port adapter.
type Adapter struct {
	id      uuid.UUID
	name    string
	fw      A.FirmwareChannel
	reg     *Registry
	plan    *ResourcePlan
	gate    *Gate
	filters *FilterManager

	subs map[SubUnitID]*SubInterface // guarded by the gate's data lock

	log     *zap.Logger
	metrics *Metrics
}

// Attach negotiates interrupt resources for the adapter, builds its ports,
// sub-interfaces and filter table, and adds it to reg. Nothing is applied if
// negotiation fails.
func Attach(ctx context.Context, reg *Registry, fw A.FirmwareChannel, cfg AttachConfig, opts AttachOptions) (*Adapter, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("attach %s: %w", cfg.Name, A.ErrCancelled)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.New()
	log = log.Named("adapter").With(zap.String("adapter", cfg.Name), zap.Stringer("id", id))

	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = A.PreferenceOrder
	}
	plan, err := Negotiate(cfg.Topology, kinds, fw, NegotiateOptions{
		Logger:      log.Named("planner"),
		MaxAttempts: cfg.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", cfg.Name, err)
	}

	if cfg.NumFilters > 0 {
		if err := fw.SetFilterConfig((cfg.FilterMode | ModeBase).FConf()); err != nil {
			err = multierr.Append(err, fw.ReleaseVectors(plan.Kind))
			return nil, fmt.Errorf("attach %s: set filter mode: %w", cfg.Name, err)
		}
	}

	a := &Adapter{
		id:      id,
		name:    cfg.Name,
		fw:      fw,
		reg:     reg,
		plan:    plan,
		subs:    make(map[SubUnitID]*SubInterface),
		log:     log,
		metrics: opts.Metrics,
	}
	a.gate = NewGate(GateOptions{Logger: log.Named("gate"), Metrics: opts.Metrics, Clock: opts.Clock})
	a.filters = NewFilterManager(a.gate, fw, FilterManagerOptions{
		Name:       cfg.Name,
		NumFilters: cfg.NumFilters,
		Ports:      plan.ports(),
		Mode:       cfg.FilterMode,
		L2T:        NewL2Table(fw, cfg.L2TSize, log.Named("l2t")),
		Logger:     log.Named("filters"),
		Metrics:    opts.Metrics,
		Clock:      opts.Clock,
	})
	a.buildSubInterfaces()
	fw.SetCompletionHandler(a.filters.OnCompletion)

	if reg != nil {
		if err := reg.Add(a); err != nil {
			fw.SetCompletionHandler(nil)
			err = multierr.Append(err, fw.ReleaseVectors(plan.Kind))
			return nil, fmt.Errorf("attach %s: %w", cfg.Name, err)
		}
	}

	opts.Metrics.setVectors(cfg.Name, plan.Kind, plan.Vectors)
	opts.Metrics.observePlan(plan.Step)
	log.Info("adapter attached",
		zap.Stringer("plan", plan),
		zap.Int("ports", plan.ports()),
		zap.Int("filters", cfg.NumFilters))
	return a, nil
}

func (a *Adapter) buildSubInterfaces() {
	p := a.plan
	unit := SubUnitID(0)
	for port := 0; port < p.ports(); port++ {
		speed, q := HighSpeed, p.HighSpeed
		if port >= p.HighSpeedPorts {
			speed, q = LowSpeed, p.LowSpeed
		}
		for i := 0; i < p.SubInterfaces; i++ {
			si := &SubInterface{
				Handle:      SubInterfaceHandle{Adapter: a.id, Unit: unit},
				Port:        port,
				Speed:       speed,
				Primary:     i == 0,
				Queues:      q,
				RxQueueSize: DefaultRxQueueSize,
			}
			if i > 0 {
				si.Queues = p.SubInterface
			}
			a.subs[unit] = si
			unit++
		}
	}
}

// ID returns the registry key of the adapter.
func (a *Adapter) ID() uuid.UUID {
	return a.id
}

// Name returns the configured adapter name.
func (a *Adapter) Name() string {
	return a.name
}

// Plan returns the resource plan accepted at attach time.
func (a *Adapter) Plan() *ResourcePlan {
	return a.plan
}

// Gate returns the adapter's admission gate.
func (a *Adapter) Gate() *Gate {
	return a.gate
}

// Filters returns the adapter's filter table.
func (a *Adapter) Filters() *FilterManager {
	return a.filters
}

// SubInterfaces returns a snapshot of every live sub-interface ordered by
// unit.
func (a *Adapter) SubInterfaces() []SubInterface {
	a.gate.Lock()
	defer a.gate.Unlock()

	out := make([]SubInterface, 0, len(a.subs))
	for _, si := range a.subs {
		out = append(out, *si)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle.Unit < out[j].Handle.Unit })
	return out
}

// SubInterface returns a snapshot of one sub-interface.
func (a *Adapter) SubInterface(unit SubUnitID) (SubInterface, error) {
	a.gate.Lock()
	defer a.gate.Unlock()

	si, ok := a.subs[unit]
	if !ok {
		return SubInterface{}, a.unknownUnit(unit)
	}
	return *si, nil
}

// unknownUnit runs with the data lock held.
func (a *Adapter) unknownUnit(unit SubUnitID) error {
	if a.gate.isDoomed(unit) {
		return fmt.Errorf("sub-interface %d: %w", unit, A.ErrDeviceGone)
	}
	return fmt.Errorf("no sub-interface %d: %w", unit, A.ErrInvalidSpec)
}

// BringUp marks a sub-interface up.
func (a *Adapter) BringUp(ctx context.Context, unit SubUnitID) error {
	return a.setUp(ctx, unit, true, "t4up")
}

// TearDown marks a sub-interface down.
func (a *Adapter) TearDown(ctx context.Context, unit SubUnitID) error {
	return a.setUp(ctx, unit, false, "t4down")
}

func (a *Adapter) setUp(ctx context.Context, unit SubUnitID, up bool, op string) error {
	tok, err := a.gate.Begin(ctx, unit, SleepOK|IntrOK|HoldLock, op)
	if err != nil {
		return err
	}
	defer a.gate.End(tok)

	si, ok := a.subs[unit]
	if !ok {
		return a.unknownUnit(unit)
	}
	if si.Up != up {
		si.Up = up
		a.log.Debug("sub-interface state changed", zap.Uint32("unit", uint32(unit)), zap.Bool("up", up))
	}
	return nil
}

// SetRxQueueSize changes the rx queue size of a sub-interface that is down.
func (a *Adapter) SetRxQueueSize(ctx context.Context, unit SubUnitID, n int) error {
	tok, err := a.gate.Begin(ctx, unit, SleepOK|IntrOK|HoldLock, "t4rxqs")
	if err != nil {
		return err
	}
	defer a.gate.End(tok)

	si, ok := a.subs[unit]
	if !ok {
		return a.unknownUnit(unit)
	}
	if si.Up {
		return fmt.Errorf("sub-interface %d is up: %w", unit, A.ErrBusy)
	}
	if !ValidQueueSize(n) {
		return fmt.Errorf("rx queue size %d, want a multiple of 8 >= %d: %w", n, MinQueueSize, A.ErrInvalidSpec)
	}
	si.RxQueueSize = n
	return nil
}

// RemoveSubInterface dooms a sub-interface, waits for the operation in
// flight against the adapter and drops it. Later operations on the unit fail
// with ErrDeviceGone.
func (a *Adapter) RemoveSubInterface(unit SubUnitID) error {
	a.gate.Lock()
	_, ok := a.subs[unit]
	a.gate.Unlock()
	if !ok {
		a.gate.Lock()
		defer a.gate.Unlock()
		return a.unknownUnit(unit)
	}

	tok := a.gate.Doom(unit, "t4subrm")
	a.gate.EndRetain(tok)
	if si, ok := a.subs[unit]; ok {
		si.Up = false
		delete(a.subs, unit)
	}
	a.gate.Unlock()

	a.log.Info("sub-interface removed", zap.Uint32("unit", uint32(unit)))
	return nil
}

// Detach removes every filter and sub-interface, returns the interrupt
// vectors, closes the firmware channel and unregisters the adapter. Filter
// commands still waiting for a reply fail with ErrDeviceGone. It keeps going
// after errors and returns all of them.
func (a *Adapter) Detach(ctx context.Context) error {
	var errs error

	if a.filters.Len() > 0 {
		errs = multierr.Append(errs, a.filters.Flush(ctx))
	}
	for _, si := range a.SubInterfaces() {
		errs = multierr.Append(errs, a.RemoveSubInterface(si.Handle.Unit))
	}

	tok := a.gate.Doom(AdapterWide, "t4detach")
	a.fw.SetCompletionHandler(nil)
	errs = multierr.Append(errs, a.fw.ReleaseVectors(a.plan.Kind))
	errs = multierr.Append(errs, a.fw.Close())
	a.filters.Abandon()
	a.gate.End(tok)

	if a.reg != nil {
		a.reg.Remove(a.id)
	}
	a.metrics.setVectors(a.name, a.plan.Kind, 0)
	a.log.Info("adapter detached", zap.Int("errors", len(multierr.Errors(errs))))
	return errs
}

// Registry tracks attached adapters by id.
type Registry struct {
	mu       sync.RWMutex
	adapters map[uuid.UUID]*Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[uuid.UUID]*Adapter)}
}

// Add registers a.
func (r *Registry) Add(a *Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[a.id]; ok {
		return fmt.Errorf("adapter %s already registered: %w", a.id, A.ErrBusy)
	}
	r.adapters[a.id] = a
	return nil
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id uuid.UUID) (*Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// Remove unregisters id. It is a no-op if id is unknown.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, id)
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// Iterate calls fn for every adapter in name order until fn returns false.
// fn may call back into the registry.
func (r *Registry) Iterate(fn func(*Adapter) bool) {
	r.mu.RLock()
	list := make([]*Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		list = append(list, a)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].name != list[j].name {
			return list[i].name < list[j].name
		}
		return list[i].id.String() < list[j].id.String()
	})
	for _, a := range list {
		if !fn(a) {
			return
		}
	}
}

// Lookup resolves a sub-interface handle.
func (r *Registry) Lookup(h SubInterfaceHandle) (*Adapter, SubInterface, error) {
	a, ok := r.Get(h.Adapter)
	if !ok {
		return nil, SubInterface{}, fmt.Errorf("adapter %s: %w", h.Adapter, A.ErrDeviceGone)
	}
	si, err := a.SubInterface(h.Unit)
	if err != nil {
		return nil, SubInterface{}, err
	}
	return a, si, nil
}
