package driver

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	A "github.com/t4nic/t4api"
)

func TestGate_BeginEnd(t *testing.T) {
	g := NewGate(GateOptions{})

	tok, err := g.Begin(context.Background(), AdapterWide, 0, "t4setf")
	require.NoError(t, err)
	assert.True(t, g.Busy())
	assert.Equal(t, "t4setf", tok.Op())
	assert.Equal(t, "t4setf", g.LastOp())
	assert.False(t, tok.HoldsLock())

	g.End(tok)
	assert.False(t, g.Busy())
}

func TestGate_BeginBusy(t *testing.T) {
	g := NewGate(GateOptions{})

	tok, err := g.Begin(context.Background(), AdapterWide, 0, "first")
	require.NoError(t, err)
	defer g.End(tok)

	_, err = g.Begin(context.Background(), AdapterWide, 0, "second")
	assert.ErrorIs(t, err, A.ErrBusy)
	_, err = g.Begin(context.Background(), 1, IntrOK, "second")
	assert.ErrorIs(t, err, A.ErrBusy)
}

func TestGate_MutualExclusion(t *testing.T) {
	g := NewGate(GateOptions{})
	var active, admitted int32

	var eg errgroup.Group
	for i := 0; i < 32; i++ {
		eg.Go(func() error {
			tok, err := g.Begin(context.Background(), AdapterWide, SleepOK, "op")
			if err != nil {
				return err
			}
			n := atomic.AddInt32(&active, 1)
			assert.Equal(t, int32(1), n)
			atomic.AddInt32(&admitted, 1)
			time.Sleep(100 * time.Microsecond)
			atomic.AddInt32(&active, -1)
			g.End(tok)
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, int32(32), admitted)
	assert.False(t, g.Busy())
}

func TestGate_BeginCancelled(t *testing.T) {
	g := NewGate(GateOptions{})
	tok, err := g.Begin(context.Background(), AdapterWide, 0, "holder")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Begin(ctx, AdapterWide, SleepOK|IntrOK, "waiter")
	assert.ErrorIs(t, err, A.ErrCancelled)

	// the holder still owns the slot
	assert.True(t, g.Busy())
	assert.Equal(t, "holder", g.LastOp())
	g.End(tok)
}

func TestGate_SleepWithoutIntrIgnoresCancel(t *testing.T) {
	g := NewGate(GateOptions{})
	tok, err := g.Begin(context.Background(), AdapterWide, 0, "holder")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := make(chan error, 1)
	go func() {
		tok, err := g.Begin(ctx, AdapterWide, SleepOK, "waiter")
		if err == nil {
			g.End(tok)
		}
		got <- err
	}()

	select {
	case err := <-got:
		t.Fatalf("waiter returned before the holder ended: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	g.End(tok)

	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestGate_Doom(t *testing.T) {
	g := NewGate(GateOptions{})
	tok, err := g.Begin(context.Background(), 3, 0, "t4up")
	require.NoError(t, err)

	waiter := make(chan error, 1)
	go func() {
		_, err := g.Begin(context.Background(), 3, SleepOK, "t4down")
		waiter <- err
	}()

	doomed := make(chan *Token, 1)
	go func() { doomed <- g.Doom(3, "t4subrm") }()

	require.Eventually(t, func() bool { return g.IsDoomed(3) }, time.Second, time.Millisecond)

	select {
	case err := <-waiter:
		assert.ErrorIs(t, err, A.ErrDeviceGone)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by doom")
	}

	select {
	case <-doomed:
		t.Fatal("doom took the slot while an operation was in flight")
	default:
	}

	g.End(tok)
	dtok := <-doomed
	assert.Equal(t, "t4subrm", dtok.Op())
	assert.Equal(t, "t4subrm", g.LastOp())
	assert.True(t, g.Busy())
	g.End(dtok)

	// doom is final
	_, err = g.Begin(context.Background(), 3, SleepOK, "t4up")
	assert.ErrorIs(t, err, A.ErrDeviceGone)

	// other units are unaffected
	tok, err = g.Begin(context.Background(), 4, SleepOK, "t4up")
	require.NoError(t, err)
	g.End(tok)
}

func TestGate_DoomAdapterWide(t *testing.T) {
	g := NewGate(GateOptions{})
	g.End(g.Doom(AdapterWide, "t4detach"))

	_, err := g.Begin(context.Background(), AdapterWide, SleepOK, "t4setf")
	assert.ErrorIs(t, err, A.ErrDeviceGone)
	_, err = g.Begin(context.Background(), 7, SleepOK, "t4up")
	assert.ErrorIs(t, err, A.ErrDeviceGone)
	assert.True(t, g.IsDoomed(7))
}

func TestGate_HoldLock(t *testing.T) {
	g := NewGate(GateOptions{})

	tok, err := g.Begin(context.Background(), AdapterWide, HoldLock, "t4setfm")
	require.NoError(t, err)
	assert.True(t, tok.HoldsLock())
	assert.False(t, g.mu.TryLock())

	g.End(tok)
	require.True(t, g.mu.TryLock())
	g.mu.Unlock()
}

func TestGate_ReleaseLock(t *testing.T) {
	g := NewGate(GateOptions{})

	tok, err := g.Begin(context.Background(), AdapterWide, HoldLock, "op")
	require.NoError(t, err)
	tok.ReleaseLock()
	assert.False(t, tok.HoldsLock())
	assert.True(t, g.Busy())

	g.End(tok)
	assert.False(t, g.Busy())
}

func TestGate_EndRetain(t *testing.T) {
	g := NewGate(GateOptions{})

	tok, err := g.Begin(context.Background(), AdapterWide, 0, "op")
	require.NoError(t, err)

	g.EndRetain(tok)
	assert.False(t, g.busy)
	assert.False(t, g.mu.TryLock())
	g.Unlock()

	assert.False(t, g.Busy())
}

func TestGate_EndTwicePanics(t *testing.T) {
	g := NewGate(GateOptions{})

	tok, err := g.Begin(context.Background(), AdapterWide, 0, "op")
	require.NoError(t, err)
	g.End(tok)

	assert.Panics(t, func() { g.End(tok) })
	require.True(t, g.mu.TryLock())
	g.mu.Unlock()
}

func TestGate_EndWrongGatePanics(t *testing.T) {
	g1 := NewGate(GateOptions{})
	g2 := NewGate(GateOptions{})

	tok, err := g1.Begin(context.Background(), AdapterWide, 0, "op")
	require.NoError(t, err)
	_, err = g2.Begin(context.Background(), AdapterWide, 0, "op")
	require.NoError(t, err)

	assert.Panics(t, func() { g2.End(tok) })
	g1.End(tok)
}

func TestGate_Metrics(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry(), "")
	require.NoError(t, err)
	g := NewGate(GateOptions{Metrics: m})

	tok, err := g.Begin(context.Background(), AdapterWide, 0, "op")
	require.NoError(t, err)
	_, err = g.Begin(context.Background(), AdapterWide, 0, "op")
	require.ErrorIs(t, err, A.ErrBusy)
	g.End(tok)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.gateBegin.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.gateBegin.WithLabelValues("busy")))
}
