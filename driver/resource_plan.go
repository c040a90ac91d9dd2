package driver

import (
	"fmt"

	"go.uber.org/zap"

	A "github.com/t4nic/t4api"
)

// QueueCounts is a number of queues per role.
type QueueCounts struct {
	NicRx     int `yaml:"nic_rx"`
	NicTx     int `yaml:"nic_tx"`
	OffloadRx int `yaml:"offload_rx"`
	OffloadTx int `yaml:"offload_tx"`
}

func (q QueueCounts) rx() int {
	return q.NicRx + q.OffloadRx
}

// Topology describes the ports of an adapter and the queues requested for
// them. Queue counts may be Auto or -N, see ResolveQueueCount.
type Topology struct {
	HighSpeedPorts int
	LowSpeedPorts  int
	SubInterfaces  int // per port, including the primary interface
	CPUs           int // caps automatic queue counts; 0 means no cap
	Offload        bool

	HighSpeed    QueueCounts
	LowSpeed     QueueCounts
	SubInterface QueueCounts
}

// Ports returns the total number of ports.
func (t Topology) Ports() int {
	return t.HighSpeedPorts + t.LowSpeedPorts
}

// Resolve returns a copy of t with every queue count concrete.
func (t Topology) Resolve() Topology {
	r := t
	if r.SubInterfaces < 1 {
		r.SubInterfaces = 1
	}
	res := func(q QueueCounts, nicRx, nicTx, ofldRx, ofldTx int) QueueCounts {
		out := QueueCounts{
			NicRx: ResolveQueueCount(q.NicRx, t.CPUs, nicRx),
			NicTx: ResolveQueueCount(q.NicTx, t.CPUs, nicTx),
		}
		if t.Offload {
			out.OffloadRx = ResolveQueueCount(q.OffloadRx, t.CPUs, ofldRx)
			out.OffloadTx = ResolveQueueCount(q.OffloadTx, t.CPUs, ofldTx)
		}
		return out
	}
	r.HighSpeed = res(t.HighSpeed, DefaultHighSpeedNicRx, DefaultHighSpeedNicTx,
		DefaultHighSpeedOffloadRx, DefaultHighSpeedOffloadTx)
	r.LowSpeed = res(t.LowSpeed, DefaultLowSpeedNicRx, DefaultLowSpeedNicTx,
		DefaultLowSpeedOffloadRx, DefaultLowSpeedOffloadTx)
	r.SubInterface = res(t.SubInterface, DefaultSubIfNicRx, DefaultSubIfNicTx,
		DefaultSubIfOffloadRx, DefaultSubIfOffloadTx)
	return r
}

// Validate checks the port counts.
func (t Topology) Validate() error {
	if t.HighSpeedPorts < 0 || t.LowSpeedPorts < 0 {
		return fmt.Errorf("negative port count: %w", A.ErrInvalidSpec)
	}
	if n := t.Ports(); n == 0 || n > A.MaxPorts {
		return fmt.Errorf("%d ports, want 1..%d: %w", n, A.MaxPorts, A.ErrInvalidSpec)
	}
	return nil
}

// VectorBudget is the number of vectors the platform can supply for a kind.
type VectorBudget struct {
	Kind      A.VectorKind
	Available int
}

// Forwarding tells which receive queues of a speed class own interrupt
// vectors. Queues without a vector forward their interrupts to those that
// have one.
type Forwarding uint8

const (
	ForwardNone      Forwarding = iota // everything shares one vector
	ForwardAll                         // every rx queue has its own vector
	ForwardNicRx                       // NIC rx queues own the vectors
	ForwardOffloadRx                   // offload rx queues own the vectors
)

func (f Forwarding) String() string {
	switch f {
	case ForwardAll:
		return "all"
	case ForwardNicRx:
		return "nic-rx"
	case ForwardOffloadRx:
		return "offload-rx"
	}
	return "none"
}

// PlanStep identifies how degraded a plan is.
type PlanStep uint8

const (
	StepIdeal PlanStep = iota + 1
	StepNoSubInterfaces
	StepShared
	StepPartial
	StepSingle
)

func (s PlanStep) String() string {
	switch s {
	case StepIdeal:
		return "ideal"
	case StepNoSubInterfaces:
		return "no-sub-interfaces"
	case StepShared:
		return "shared"
	case StepPartial:
		return "partial"
	case StepSingle:
		return "single"
	}
	return fmt.Sprintf("PlanStep(%d)", uint8(s))
}

// ResourcePlan is the interrupt and queue layout chosen at attach time. It
// is immutable once returned.
type ResourcePlan struct {
	Kind    A.VectorKind
	Vectors int
	Step    PlanStep

	HighSpeedPorts int
	LowSpeedPorts  int
	// SubInterfaces is the effective number of interfaces per port,
	// including the primary.
	SubInterfaces         int
	SubInterfacesDisabled bool

	HighSpeed    QueueCounts
	LowSpeed     QueueCounts
	SubInterface QueueCounts

	HighSpeedForwarding Forwarding
	LowSpeedForwarding  Forwarding
}

func (p *ResourcePlan) ports() int {
	return p.HighSpeedPorts + p.LowSpeedPorts
}

func (p *ResourcePlan) extraVIs() int {
	return p.ports() * (p.SubInterfaces - 1)
}

// RxQueues is the number of NIC receive queues on the adapter.
func (p *ResourcePlan) RxQueues() int {
	return p.HighSpeedPorts*p.HighSpeed.NicRx + p.LowSpeedPorts*p.LowSpeed.NicRx +
		p.extraVIs()*p.SubInterface.NicRx
}

// TxQueues is the number of NIC transmit queues on the adapter.
func (p *ResourcePlan) TxQueues() int {
	return p.HighSpeedPorts*p.HighSpeed.NicTx + p.LowSpeedPorts*p.LowSpeed.NicTx +
		p.extraVIs()*p.SubInterface.NicTx
}

// OffloadRxQueues is the number of offload receive queues on the adapter.
func (p *ResourcePlan) OffloadRxQueues() int {
	return p.HighSpeedPorts*p.HighSpeed.OffloadRx + p.LowSpeedPorts*p.LowSpeed.OffloadRx +
		p.extraVIs()*p.SubInterface.OffloadRx
}

// OffloadTxQueues is the number of offload transmit queues on the adapter.
func (p *ResourcePlan) OffloadTxQueues() int {
	return p.HighSpeedPorts*p.HighSpeed.OffloadTx + p.LowSpeedPorts*p.LowSpeed.OffloadTx +
		p.extraVIs()*p.SubInterface.OffloadTx
}

// EgressQueues counts hardware egress queues: every tx queue, the free list
// of every rx queue, one control queue per port and the management queue.
func (p *ResourcePlan) EgressQueues() int {
	return p.TxQueues() + p.RxQueues() + p.OffloadTxQueues() + p.OffloadRxQueues() +
		p.ports() + 1
}

// IngressQueues counts hardware ingress queues: every rx queue plus the
// firmware event queue.
func (p *ResourcePlan) IngressQueues() int {
	return p.RxQueues() + p.OffloadRxQueues() + 1
}

func (p *ResourcePlan) String() string {
	return fmt.Sprintf("%s x%d (%s) hs=%+v ls=%+v vi=%d%+v",
		p.Kind, p.Vectors, p.Step, p.HighSpeed, p.LowSpeed, p.SubInterfaces, p.SubInterface)
}

// Plan picks the first vector kind in budget that can carry topo and
// returns the least degraded plan that fits in the available vectors. It
// does no I/O.
func Plan(topo Topology, budget []VectorBudget) (*ResourcePlan, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	res := topo.Resolve()
	for _, b := range budget {
		if p, ok := planKind(res, b.Kind, b.Available); ok {
			return p, nil
		}
	}
	return nil, A.ErrNoUsableVectorKind
}

func isPowerOf2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// planKind runs the degradation ladder for one vector kind. t must be
// resolved.
func planKind(t Topology, kind A.VectorKind, avail int) (*ResourcePlan, bool) {
	if avail <= 0 {
		return nil, false
	}

	fits := func(n int) bool {
		return n <= avail && (!kind.NeedsPowerOfTwo() || isPowerOf2(n))
	}

	p := &ResourcePlan{
		Kind:           kind,
		HighSpeedPorts: t.HighSpeedPorts,
		LowSpeedPorts:  t.LowSpeedPorts,
		SubInterfaces:  t.SubInterfaces,
		HighSpeed:      t.HighSpeed,
		LowSpeed:       t.LowSpeed,
		SubInterface:   t.SubInterface,
	}
	if p.SubInterfaces == 1 {
		p.SubInterface = QueueCounts{}
	}
	n10g, n1g := t.HighSpeedPorts, t.LowSpeedPorts

	// Ideal: a vector for every rx queue of every interface.
	for {
		p.Vectors = A.ExtraVectors + n10g*p.HighSpeed.rx() + n1g*p.LowSpeed.rx() +
			p.extraVIs()*p.SubInterface.rx()
		if fits(p.Vectors) {
			p.Step = StepIdeal
			if p.SubInterfacesDisabled {
				p.Step = StepNoSubInterfaces
			}
			p.HighSpeedForwarding, p.LowSpeedForwarding = ForwardAll, ForwardAll
			return p, true
		}
		if p.SubInterfaces <= 1 {
			break
		}
		p.SubInterfaces = 1
		p.SubInterface = QueueCounts{}
		p.SubInterfacesDisabled = true
	}

	// Shared: per speed class, vectors only for the role with more rx queues.
	owner := func(q QueueCounts) (Forwarding, int) {
		if q.NicRx >= q.OffloadRx {
			return ForwardNicRx, q.NicRx
		}
		return ForwardOffloadRx, q.OffloadRx
	}
	fw10g, target10g := owner(p.HighSpeed)
	fw1g, target1g := owner(p.LowSpeed)
	p.HighSpeedForwarding, p.LowSpeedForwarding = fw10g, fw1g
	p.Vectors = A.ExtraVectors + n10g*target10g + n1g*target1g
	if fits(p.Vectors) {
		p.Step = StepShared
		return p, true
	}

	// Partial: at least one vector per port, leftover handed out.
	base := A.ExtraVectors + n10g + n1g
	if base <= avail {
		budget := avail
		for {
			q := *p
			q.Vectors = growPerPort(&q, budget, target10g, target1g)
			if !kind.NeedsPowerOfTwo() || isPowerOf2(q.Vectors) {
				q.Step = StepPartial
				return &q, true
			}
			if budget == base {
				break
			}
			budget--
		}
	}

	// Single vector for everything.
	p.Vectors = 1
	p.Step = StepSingle
	p.HighSpeedForwarding, p.LowSpeedForwarding = ForwardNone, ForwardNone
	p.HighSpeed.NicRx = min(1, t.HighSpeed.NicRx)
	p.HighSpeed.OffloadRx = min(1, t.HighSpeed.OffloadRx)
	p.LowSpeed.NicRx = min(1, t.LowSpeed.NicRx)
	p.LowSpeed.OffloadRx = min(1, t.LowSpeed.OffloadRx)
	return p, true
}

// growPerPort gives every port one vector and then grows the per-port count
// with the vectors left in budget. Low-speed ports only grow once the
// high-speed ports have reached their target, so no count can shrink when
// the budget grows. It trims the rx queue counts of p to the result and
// returns the vectors used.
func growPerPort(p *ResourcePlan, budget, target10g, target1g int) int {
	nirq := A.ExtraVectors + p.HighSpeedPorts + p.LowSpeedPorts
	leftover := budget - nirq

	grow := func(nports, target int, q *QueueCounts) bool {
		if nports == 0 {
			return true
		}
		n := 1
		for n < target && leftover >= nports {
			leftover -= nports
			nirq += nports
			n++
		}
		q.NicRx = min(n, q.NicRx)
		q.OffloadRx = min(n, q.OffloadRx)
		return n >= target
	}
	if grow(p.HighSpeedPorts, target10g, &p.HighSpeed) {
		grow(p.LowSpeedPorts, target1g, &p.LowSpeed)
	} else {
		grow(p.LowSpeedPorts, 1, &p.LowSpeed)
	}
	return nirq
}

// NegotiateOptions configure Negotiate.
type NegotiateOptions struct {
	Logger *zap.Logger
	// MaxAttempts bounds the downshift retries per vector kind.
	MaxAttempts int
}

// Negotiate plans topo against the vector kinds in preference order and
// allocates the vectors from alloc. When the platform grants fewer vectors
// than requested the plan is recomputed with the granted count as the new
// budget, until the request stops changing.
func Negotiate(topo Topology, kinds []A.VectorKind, alloc A.VectorAllocator, opts NegotiateOptions) (*ResourcePlan, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	res := topo.Resolve()

	for _, kind := range kinds {
		avail := alloc.VectorsAvailable(kind)
		last := -1
		for attempt := 0; attempt < maxAttempts; attempt++ {
			p, ok := planKind(res, kind, avail)
			if !ok {
				break
			}
			if p.Vectors == last {
				break
			}
			last = p.Vectors
			if p.SubInterfacesDisabled && attempt == 0 {
				log.Warn("sub-interfaces disabled, not enough interrupt vectors",
					zap.Int("sub_interfaces", res.SubInterfaces),
					zap.Stringer("kind", kind),
					zap.Int("available", avail))
			}

			granted, err := alloc.AllocVectors(kind, p.Vectors)
			if err != nil {
				log.Warn("failed to allocate vectors",
					zap.Stringer("kind", kind), zap.Int("requested", p.Vectors), zap.Error(err))
				break
			}
			if granted >= p.Vectors {
				return p, nil
			}

			log.Info("fewer vectors than requested, will downshift",
				zap.Stringer("kind", kind), zap.Int("requested", p.Vectors), zap.Int("granted", granted))
			if err := alloc.ReleaseVectors(kind); err != nil {
				log.Warn("failed to release vectors", zap.Stringer("kind", kind), zap.Error(err))
			}
			avail = granted
		}
	}

	log.Error("failed to find a usable interrupt vector kind", zap.Int("kinds", len(kinds)))
	return nil, A.ErrNoUsableVectorKind
}
