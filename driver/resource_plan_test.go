package driver

import (
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	A "github.com/t4nic/t4api"
	mock_t4api "github.com/t4nic/t4api/mock"
)

// twoSpeedTopology is one high-speed and one low-speed port asking for 8
// and 2 NIC rx queues.
func twoSpeedTopology() Topology {
	return Topology{
		HighSpeedPorts: 1,
		LowSpeedPorts:  1,
		SubInterfaces:  1,
		HighSpeed:      QueueCounts{NicRx: 8, NicTx: 16},
		LowSpeed:       QueueCounts{NicRx: 2, NicTx: 4},
	}
}

func exclusive(n int) []VectorBudget {
	return []VectorBudget{{Kind: A.VectorExclusive, Available: n}}
}

func TestPlan_IdealFits(t *testing.T) {
	p, err := Plan(twoSpeedTopology(), exclusive(16))
	require.NoError(t, err)

	assert.Equal(t, A.VectorExclusive, p.Kind)
	assert.Equal(t, StepIdeal, p.Step)
	assert.Equal(t, 12, p.Vectors)
	assert.Equal(t, 8, p.HighSpeed.NicRx)
	assert.Equal(t, 2, p.LowSpeed.NicRx)
	assert.Equal(t, ForwardAll, p.HighSpeedForwarding)
}

func TestPlan_PartialDegrade(t *testing.T) {
	p, err := Plan(twoSpeedTopology(), exclusive(8))
	require.NoError(t, err)

	assert.Equal(t, StepPartial, p.Step)
	assert.LessOrEqual(t, p.Vectors, 8)
	// leftover goes to the high-speed port first
	assert.Equal(t, 5, p.HighSpeed.NicRx)
	assert.Equal(t, 1, p.LowSpeed.NicRx)
	assert.LessOrEqual(t, p.HighSpeed.NicRx, 8)
	assert.LessOrEqual(t, p.LowSpeed.NicRx, 2)
	// tx queues never degrade
	assert.Equal(t, 16, p.HighSpeed.NicTx)
	assert.Equal(t, 4, p.LowSpeed.NicTx)
}

func TestPlan_DisablesSubInterfaces(t *testing.T) {
	topo := Topology{
		HighSpeedPorts: 2,
		SubInterfaces:  2,
		HighSpeed:      QueueCounts{NicRx: 4, NicTx: 4},
		SubInterface:   QueueCounts{NicRx: 1, NicTx: 1},
	}

	p, err := Plan(topo, exclusive(12))
	require.NoError(t, err)
	assert.Equal(t, StepIdeal, p.Step)
	assert.Equal(t, 2, p.SubInterfaces)

	p, err = Plan(topo, exclusive(10))
	require.NoError(t, err)
	assert.Equal(t, StepNoSubInterfaces, p.Step)
	assert.True(t, p.SubInterfacesDisabled)
	assert.Equal(t, 1, p.SubInterfaces)
	assert.Equal(t, QueueCounts{}, p.SubInterface)
	assert.Equal(t, 4, p.HighSpeed.NicRx)
	assert.Equal(t, 10, p.Vectors)
}

func TestPlan_SharedNicAndOffload(t *testing.T) {
	topo := Topology{
		HighSpeedPorts: 1,
		Offload:        true,
		HighSpeed:      QueueCounts{NicRx: 4, NicTx: 4, OffloadRx: 2, OffloadTx: 2},
	}

	p, err := Plan(topo, exclusive(6))
	require.NoError(t, err)
	assert.Equal(t, StepShared, p.Step)
	assert.Equal(t, ForwardNicRx, p.HighSpeedForwarding)
	assert.Equal(t, 6, p.Vectors)
	assert.Equal(t, 4, p.HighSpeed.NicRx)
	assert.Equal(t, 2, p.HighSpeed.OffloadRx)

	topo.HighSpeed = QueueCounts{NicRx: 1, NicTx: 1, OffloadRx: 2, OffloadTx: 2}
	p, err = Plan(topo, exclusive(4))
	require.NoError(t, err)
	assert.Equal(t, StepShared, p.Step)
	assert.Equal(t, ForwardOffloadRx, p.HighSpeedForwarding)
}

func TestPlan_SingleVector(t *testing.T) {
	topo := Topology{
		HighSpeedPorts: 2,
		LowSpeedPorts:  2,
		HighSpeed:      QueueCounts{NicRx: 8, NicTx: 8},
		LowSpeed:       QueueCounts{NicRx: 2, NicTx: 2},
	}

	p, err := Plan(topo, exclusive(3))
	require.NoError(t, err)
	assert.Equal(t, StepSingle, p.Step)
	assert.Equal(t, 1, p.Vectors)
	assert.Equal(t, 1, p.HighSpeed.NicRx)
	assert.Equal(t, 1, p.LowSpeed.NicRx)
	assert.Equal(t, ForwardNone, p.LowSpeedForwarding)
}

func TestPlan_PowerOfTwo(t *testing.T) {
	topo := Topology{HighSpeedPorts: 1, HighSpeed: QueueCounts{NicRx: 8, NicTx: 8}}
	shared := func(n int) []VectorBudget { return []VectorBudget{{Kind: A.VectorShared, Available: n}} }

	p, err := Plan(topo, shared(8))
	require.NoError(t, err)
	assert.Equal(t, 8, p.Vectors)
	assert.Equal(t, 6, p.HighSpeed.NicRx)

	p, err = Plan(topo, shared(7))
	require.NoError(t, err)
	assert.Equal(t, 4, p.Vectors)
	assert.Equal(t, 2, p.HighSpeed.NicRx)

	p, err = Plan(topo, []VectorBudget{{Kind: A.VectorLegacy, Available: 1}})
	require.NoError(t, err)
	assert.Equal(t, StepSingle, p.Step)
	assert.Equal(t, 1, p.Vectors)
}

func TestPlan_BudgetOrder(t *testing.T) {
	p, err := Plan(twoSpeedTopology(), []VectorBudget{
		{Kind: A.VectorExclusive, Available: 0},
		{Kind: A.VectorShared, Available: 16},
	})
	require.NoError(t, err)
	assert.Equal(t, A.VectorShared, p.Kind)
	assert.Equal(t, 8, p.Vectors)

	_, err = Plan(twoSpeedTopology(), exclusive(0))
	assert.ErrorIs(t, err, A.ErrNoUsableVectorKind)
	assert.ErrorIs(t, err, A.ErrResourceExhausted)
}

func TestPlan_InvalidTopology(t *testing.T) {
	_, err := Plan(Topology{}, exclusive(16))
	assert.ErrorIs(t, err, A.ErrInvalidSpec)

	_, err = Plan(Topology{HighSpeedPorts: 3, LowSpeedPorts: 2}, exclusive(16))
	assert.ErrorIs(t, err, A.ErrInvalidSpec)
}

func TestPlan_Totals(t *testing.T) {
	topo := Topology{
		HighSpeedPorts: 2,
		SubInterfaces:  2,
		HighSpeed:      QueueCounts{NicRx: 4, NicTx: 8},
		SubInterface:   QueueCounts{NicRx: 1, NicTx: 1},
	}
	p, err := Plan(topo, exclusive(64))
	require.NoError(t, err)

	assert.Equal(t, 10, p.RxQueues())
	assert.Equal(t, 18, p.TxQueues())
	assert.Equal(t, 18+10+2+1, p.EgressQueues())
	assert.Equal(t, 11, p.IngressQueues())
}

func planTopologies() []Topology {
	var out []Topology
	for hs := 0; hs <= 2; hs++ {
		for ls := 0; ls <= 2; ls++ {
			if hs+ls == 0 {
				continue
			}
			for vi := 1; vi <= 2; vi++ {
				for _, offload := range []bool{false, true} {
					for _, rx := range []int{1, 3, 8} {
						out = append(out, Topology{
							HighSpeedPorts: hs,
							LowSpeedPorts:  ls,
							SubInterfaces:  vi,
							Offload:        offload,
							HighSpeed:      QueueCounts{NicRx: rx, NicTx: rx, OffloadRx: 2, OffloadTx: 2},
							LowSpeed:       QueueCounts{NicRx: 2, NicTx: 2, OffloadRx: 1, OffloadTx: 1},
						})
					}
				}
			}
		}
	}
	return out
}

func TestPlan_Feasibility(t *testing.T) {
	for _, topo := range planTopologies() {
		res := topo.Resolve()
		for _, kind := range A.PreferenceOrder {
			for avail := 1; avail <= 48; avail++ {
				p, err := Plan(topo, []VectorBudget{{Kind: kind, Available: avail}})
				require.NoError(t, err)

				assert.LessOrEqual(t, p.Vectors, avail, "%+v %s %d", topo, kind, avail)
				if kind.NeedsPowerOfTwo() {
					assert.True(t, isPowerOf2(p.Vectors), "%+v %s %d: %d", topo, kind, avail, p.Vectors)
				}
				assert.LessOrEqual(t, p.HighSpeed.NicRx, res.HighSpeed.NicRx)
				assert.LessOrEqual(t, p.LowSpeed.NicRx, res.LowSpeed.NicRx)
				assert.LessOrEqual(t, p.HighSpeed.OffloadRx, res.HighSpeed.OffloadRx)
				assert.LessOrEqual(t, p.LowSpeed.OffloadRx, res.LowSpeed.OffloadRx)
			}
		}
	}
}

func TestPlan_Monotonicity(t *testing.T) {
	counts := func(p *ResourcePlan) []int {
		return []int{
			p.HighSpeed.NicRx, p.HighSpeed.OffloadRx,
			p.LowSpeed.NicRx, p.LowSpeed.OffloadRx,
			p.SubInterface.NicRx, p.SubInterface.OffloadRx,
			p.SubInterfaces,
		}
	}

	for _, topo := range planTopologies() {
		for _, kind := range A.PreferenceOrder {
			prev, err := Plan(topo, []VectorBudget{{Kind: kind, Available: 48}})
			require.NoError(t, err)
			for avail := 47; avail >= 1; avail-- {
				p, err := Plan(topo, []VectorBudget{{Kind: kind, Available: avail}})
				require.NoError(t, err)
				got, was := counts(p), counts(prev)
				for i := range got {
					assert.LessOrEqual(t, got[i], was[i], "%+v %s budget %d -> %d", topo, kind, avail+1, avail)
				}
				prev = p
			}
		}
	}
}

func TestResolveQueueCount(t *testing.T) {
	assert.Equal(t, 12, ResolveQueueCount(12, 4, 8))
	assert.Equal(t, 8, ResolveQueueCount(Auto, 0, 8))
	assert.Equal(t, 4, ResolveQueueCount(Auto, 4, 8))
	assert.Equal(t, 3, ResolveQueueCount(-3, 16, 8))
	assert.Equal(t, 2, ResolveQueueCount(-3, 2, 8))
}

func TestTopology_Resolve(t *testing.T) {
	res := Topology{HighSpeedPorts: 1, LowSpeedPorts: 1, CPUs: 4}.Resolve()

	assert.Equal(t, 1, res.SubInterfaces)
	assert.Equal(t, QueueCounts{NicRx: 4, NicTx: 4}, res.HighSpeed)
	assert.Equal(t, QueueCounts{NicRx: DefaultLowSpeedNicRx, NicTx: DefaultLowSpeedNicTx}, res.LowSpeed)

	res = Topology{HighSpeedPorts: 1, Offload: true}.Resolve()
	assert.Equal(t, DefaultHighSpeedOffloadRx, res.HighSpeed.OffloadRx)
	assert.Equal(t, DefaultHighSpeedOffloadTx, res.HighSpeed.OffloadTx)
}

func TestValidQueueSize(t *testing.T) {
	assert.True(t, ValidQueueSize(128))
	assert.True(t, ValidQueueSize(1024))
	assert.False(t, ValidQueueSize(120))
	assert.False(t, ValidQueueSize(130))
}

func TestNegotiate_Downshift(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	alloc := mock_t4api.NewMockVectorAllocator(ctrl)
	gomock.InOrder(
		alloc.EXPECT().VectorsAvailable(A.VectorExclusive).Return(16),
		alloc.EXPECT().AllocVectors(A.VectorExclusive, 12).Return(8, nil),
		alloc.EXPECT().ReleaseVectors(A.VectorExclusive).Return(nil),
		alloc.EXPECT().AllocVectors(A.VectorExclusive, 8).Return(8, nil),
	)

	p, err := Negotiate(twoSpeedTopology(), A.PreferenceOrder, alloc, NegotiateOptions{})
	require.NoError(t, err)
	assert.Equal(t, A.VectorExclusive, p.Kind)
	assert.Equal(t, 8, p.Vectors)
	assert.Equal(t, 5, p.HighSpeed.NicRx)
	assert.Equal(t, 1, p.LowSpeed.NicRx)
}

func TestNegotiate_FallsBackToNextKind(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	alloc := mock_t4api.NewMockVectorAllocator(ctrl)
	gomock.InOrder(
		alloc.EXPECT().VectorsAvailable(A.VectorExclusive).Return(16),
		alloc.EXPECT().AllocVectors(A.VectorExclusive, 12).Return(0, errors.New("msi-x disabled")),
		alloc.EXPECT().VectorsAvailable(A.VectorShared).Return(4),
		alloc.EXPECT().AllocVectors(A.VectorShared, 4).Return(4, nil),
	)

	p, err := Negotiate(twoSpeedTopology(), A.PreferenceOrder, alloc, NegotiateOptions{})
	require.NoError(t, err)
	assert.Equal(t, A.VectorShared, p.Kind)
	assert.Equal(t, StepPartial, p.Step)
	assert.Equal(t, 1, p.HighSpeed.NicRx)
}

func TestNegotiate_NoUsableKind(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	alloc := mock_t4api.NewMockVectorAllocator(ctrl)
	gomock.InOrder(
		alloc.EXPECT().VectorsAvailable(A.VectorExclusive).Return(0),
		alloc.EXPECT().VectorsAvailable(A.VectorShared).Return(8),
		alloc.EXPECT().AllocVectors(A.VectorShared, 8).Return(0, errors.New("no msi")),
		alloc.EXPECT().VectorsAvailable(A.VectorLegacy).Return(1),
		alloc.EXPECT().AllocVectors(A.VectorLegacy, 1).Return(0, nil),
		alloc.EXPECT().ReleaseVectors(A.VectorLegacy).Return(nil),
	)

	_, err := Negotiate(twoSpeedTopology(), A.PreferenceOrder, alloc, NegotiateOptions{})
	assert.ErrorIs(t, err, A.ErrNoUsableVectorKind)
}

func TestNegotiate_MaxAttempts(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	alloc := mock_t4api.NewMockVectorAllocator(ctrl)
	alloc.EXPECT().VectorsAvailable(A.VectorExclusive).Return(16)
	alloc.EXPECT().AllocVectors(A.VectorExclusive, gomock.Any()).DoAndReturn(
		func(_ A.VectorKind, count int) (int, error) { return count - 1, nil },
	).Times(3)
	alloc.EXPECT().ReleaseVectors(A.VectorExclusive).Return(nil).Times(3)

	_, err := Negotiate(twoSpeedTopology(), []A.VectorKind{A.VectorExclusive}, alloc,
		NegotiateOptions{MaxAttempts: 3})
	assert.ErrorIs(t, err, A.ErrNoUsableVectorKind)
}
