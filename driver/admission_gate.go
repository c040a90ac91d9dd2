package driver

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	A "github.com/t4nic/t4api"
)

// SubUnitID identifies a sub-interface of an adapter.
type SubUnitID uint32

// AdapterWide is passed to Begin by operations that don't target a
// particular sub-interface. Dooming it dooms every unit of the adapter.
const AdapterWide SubUnitID = math.MaxUint32

// BeginFlags control how Begin behaves when the adapter is busy.
type BeginFlags uint8

const (
	SleepOK  BeginFlags = 1 << iota // wait for the adapter instead of failing with ErrBusy
	IntrOK                          // ctx cancellation ends the wait with ErrCancelled
	HoldLock                        // return with the adapter data lock held
)

// Token is proof that its holder owns the adapter's single exclusive
// operation slot. Tokens are not transferable between goroutines.
type Token struct {
	gate      *Gate
	op        string
	holdsLock bool
	ended     bool
}

// Op returns the name the operation was admitted under.
func (t *Token) Op() string {
	return t.op
}

// HoldsLock reports whether the adapter data lock is held on behalf of the
// token.
func (t *Token) HoldsLock() bool {
	return t.holdsLock
}

// ReleaseLock drops the adapter data lock acquired with HoldLock while
// keeping the operation slot.
func (t *Token) ReleaseLock() {
	if !t.holdsLock {
		panic("t4api: ReleaseLock on a token that does not hold the adapter lock")
	}
	t.holdsLock = false
	t.gate.mu.Unlock()
}

// GateOptions configure a Gate.
type GateOptions struct {
	Logger  *zap.Logger
	Metrics *Metrics
	Clock   clock.Clock
}

// Gate serializes every configuration-changing operation on one adapter.
// Its mutex doubles as the adapter's coarse data lock.
type Gate struct {
	mu     sync.Mutex
	busy   bool
	doomed map[SubUnitID]struct{}
	idle   *event
	lastOp string

	log     *zap.Logger
	metrics *Metrics
	clock   clock.Clock
}

// NewGate returns an idle gate.
func NewGate(opts GateOptions) *Gate {
	g := &Gate{
		doomed:  make(map[SubUnitID]struct{}),
		idle:    newEvent(),
		log:     opts.Logger,
		metrics: opts.Metrics,
		clock:   opts.Clock,
	}
	if g.log == nil {
		g.log = zap.NewNop()
	}
	if g.clock == nil {
		g.clock = clock.New()
	}
	return g
}

// Begin admits one exclusive operation named op. It fails with
// ErrDeviceGone if unit is doomed and with ErrBusy if another operation is
// in flight and SleepOK is not set. With SleepOK it waits for the adapter;
// with IntrOK as well, cancelling ctx ends the wait with ErrCancelled.
func (g *Gate) Begin(ctx context.Context, unit SubUnitID, flags BeginFlags, op string) (*Token, error) {
	var (
		err    error
		waited bool
		start  = g.clock.Now()
	)

	g.mu.Lock()
	for {
		if g.isDoomed(unit) {
			err = fmt.Errorf("%s: unit %d: %w", op, unit, A.ErrDeviceGone)
			break
		}
		if !g.busy {
			break
		}
		if flags&SleepOK == 0 {
			err = fmt.Errorf("%s: adapter busy with %s: %w", op, g.lastOp, A.ErrBusy)
			break
		}

		waited = true
		wake := g.idle.C()
		g.mu.Unlock()
		if flags&IntrOK != 0 {
			select {
			case <-wake:
			case <-ctx.Done():
				err = fmt.Errorf("%s: %w", op, A.ErrCancelled)
			}
		} else {
			<-wake
		}
		g.mu.Lock()
		if err != nil {
			break
		}
	}

	var tok *Token
	if err == nil {
		g.busy = true
		g.lastOp = op
		tok = &Token{gate: g, op: op, holdsLock: flags&HoldLock != 0}
	}
	if err != nil || flags&HoldLock == 0 {
		g.mu.Unlock()
	}

	var dur time.Duration
	if waited {
		dur = g.clock.Since(start)
	}
	g.metrics.observeBegin(err, dur)
	return tok, err
}

// End releases the operation slot and the adapter data lock, whether or not
// the token was holding it.
func (g *Gate) End(tok *Token) {
	g.end(tok)
	g.mu.Unlock()
}

// EndRetain releases the operation slot but returns with the adapter data
// lock held. The caller must call Unlock.
func (g *Gate) EndRetain(tok *Token) {
	g.end(tok)
}

func (g *Gate) end(tok *Token) {
	if !tok.holdsLock {
		g.mu.Lock()
	}
	if tok.gate != g || tok.ended {
		g.mu.Unlock()
		panic("t4api: token ended twice or on the wrong adapter")
	}
	if !g.busy {
		g.mu.Unlock()
		panic("t4api: adapter not busy")
	}
	tok.ended = true
	tok.holdsLock = false
	g.busy = false
	g.idle.Signal()
}

// Doom marks unit as going away so that every later Begin against it fails
// with ErrDeviceGone, waits for the operation in flight (if any) and then
// takes the operation slot itself under the name op. It never fails. The
// returned token must be passed to End.
func (g *Gate) Doom(unit SubUnitID, op string) *Token {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.doomed[unit] = struct{}{}
	g.idle.Signal()
	for g.busy {
		wake := g.idle.C()
		g.mu.Unlock()
		<-wake
		g.mu.Lock()
	}
	g.busy = true
	g.lastOp = op
	g.log.Debug("sub-interface doomed", zap.Uint32("unit", uint32(unit)), zap.String("op", op))
	return &Token{gate: g, op: op}
}

// Lock acquires the adapter data lock.
func (g *Gate) Lock() {
	g.mu.Lock()
}

// Unlock releases the adapter data lock.
func (g *Gate) Unlock() {
	g.mu.Unlock()
}

// Busy reports whether an operation is in flight.
func (g *Gate) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

// IsDoomed reports whether unit, or the whole adapter, has been doomed.
func (g *Gate) IsDoomed(unit SubUnitID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isDoomed(unit)
}

func (g *Gate) isDoomed(unit SubUnitID) bool {
	if _, ok := g.doomed[AdapterWide]; ok {
		return true
	}
	_, ok := g.doomed[unit]
	return ok
}

// LastOp returns the name of the most recently admitted operation.
func (g *Gate) LastOp() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastOp
}
