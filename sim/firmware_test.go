package sim

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	A "github.com/t4nic/t4api"
)

type recorder struct {
	mu   sync.Mutex
	got  []A.Completion
	seen chan struct{}
}

func newRecorder() *recorder {
	return &recorder{seen: make(chan struct{}, 64)}
}

func (r *recorder) handle(c A.Completion) {
	r.mu.Lock()
	r.got = append(r.got, c)
	r.mu.Unlock()
	r.seen <- struct{}{}
}

func (r *recorder) completions() []A.Completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]A.Completion(nil), r.got...)
}

func tcpRequest(idx uint32, dport uint16) *A.FilterWorkRequest {
	return &A.FilterWorkRequest{
		Op:  A.FilterOpAdd,
		Idx: idx,
		Match: A.FilterMatch{
			Proto: uint8(layers.IPProtocolTCP), ProtoMask: 0xff,
			DstPort: dport, DstPortMask: 0xffff,
		},
	}
}

func TestFirmware_AllocVectors(t *testing.T) {
	fw := New(Options{
		Manual:    true,
		Available: map[A.VectorKind]int{A.VectorExclusive: 16},
		GrantCap:  map[A.VectorKind]int{A.VectorExclusive: 6},
	})
	defer fw.Close()

	assert.Equal(t, 16, fw.VectorsAvailable(A.VectorExclusive))
	assert.Equal(t, 0, fw.VectorsAvailable(A.VectorShared))

	granted, err := fw.AllocVectors(A.VectorExclusive, 12)
	require.NoError(t, err)
	assert.Equal(t, 6, granted)
	assert.Equal(t, 6, fw.Allocated(A.VectorExclusive))

	_, err = fw.AllocVectors(A.VectorExclusive, 4)
	assert.ErrorIs(t, err, A.ErrBusy)

	require.NoError(t, fw.ReleaseVectors(A.VectorExclusive))
	assert.ErrorIs(t, fw.ReleaseVectors(A.VectorExclusive), A.ErrInvalidSpec)

	_, err = fw.AllocVectors(A.VectorExclusive, 0)
	assert.ErrorIs(t, err, A.ErrInvalidSpec)

	boom := errors.New("boom")
	fw.FailAlloc(A.VectorExclusive, boom)
	_, err = fw.AllocVectors(A.VectorExclusive, 4)
	assert.ErrorIs(t, err, boom)
	fw.FailAlloc(A.VectorExclusive, nil)
	granted, err = fw.AllocVectors(A.VectorExclusive, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, granted)

	attempts := fw.Attempts()
	require.Len(t, attempts, 5)
	assert.Equal(t, AllocAttempt{Kind: A.VectorExclusive, Requested: 12, Granted: 6}, attempts[0])
	assert.ErrorIs(t, attempts[3].Err, boom)
}

func TestFirmware_ManualDelivery(t *testing.T) {
	fw := New(Options{Manual: true})
	defer fw.Close()
	rec := newRecorder()
	fw.SetCompletionHandler(rec.handle)

	require.NoError(t, fw.SubmitFilterWR(tcpRequest(1, 80)))
	require.NoError(t, fw.SubmitFilterWR(tcpRequest(2, 443)))
	fw.FailNext(3, A.ReplySMTFull)
	require.NoError(t, fw.SubmitFilterWR(tcpRequest(3, 22)))

	assert.Equal(t, 3, fw.Pending())
	assert.Empty(t, rec.completions())
	assert.Empty(t, fw.Installed())

	assert.Equal(t, 1, fw.Deliver(1))
	assert.Equal(t, []uint32{1}, fw.Installed())
	assert.Equal(t, 2, fw.DeliverAll())
	assert.Equal(t, 0, fw.DeliverAll())

	assert.Equal(t, []A.Completion{
		{Idx: 1, Code: A.ReplyAdded},
		{Idx: 2, Code: A.ReplyAdded},
		{Idx: 3, Code: A.ReplySMTFull},
	}, rec.completions())
	assert.Equal(t, []uint32{1, 2}, fw.Installed())

	require.NoError(t, fw.SubmitFilterWR(&A.FilterWorkRequest{Op: A.FilterOpDelete, Idx: 1}))
	fw.FailNext(2, A.ReplyInvalid)
	require.NoError(t, fw.SubmitFilterWR(&A.FilterWorkRequest{Op: A.FilterOpDelete, Idx: 2}))
	fw.DeliverAll()

	// a failed delete leaves the filter in place
	assert.Equal(t, []uint32{2}, fw.Installed())
	_, err := fw.ReadFilterHits(1)
	assert.ErrorIs(t, err, A.ErrInvalidSpec)
}

func TestFirmware_AsyncDelivery(t *testing.T) {
	mock := clock.NewMock()
	fw := New(Options{Latency: time.Millisecond, Clock: mock})
	defer fw.Close()
	rec := newRecorder()
	fw.SetCompletionHandler(rec.handle)

	require.NoError(t, fw.SubmitFilterWR(tcpRequest(4, 80)))

	select {
	case <-rec.seen:
		t.Fatal("reply delivered before the latency elapsed")
	case <-time.After(10 * time.Millisecond):
	}

	require.Eventually(t, func() bool {
		mock.Add(time.Millisecond)
		select {
		case <-rec.seen:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	assert.Equal(t, []A.Completion{{Idx: 4, Code: A.ReplyAdded}}, rec.completions())
}

func TestFirmware_Close(t *testing.T) {
	fw := New(Options{Manual: true})
	require.NoError(t, fw.SubmitFilterWR(tcpRequest(1, 80)))

	require.NoError(t, fw.Close())
	require.NoError(t, fw.Close())
	assert.Equal(t, 0, fw.Pending())

	assert.ErrorIs(t, fw.SubmitFilterWR(tcpRequest(2, 80)), A.ErrDeviceGone)
	assert.ErrorIs(t, fw.SetFilterConfig(0), ErrClosed)
	assert.ErrorIs(t, fw.WriteL2T(A.L2TWrite{Idx: 1}), ErrClosed)
	_, err := fw.AllocVectors(A.VectorExclusive, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFirmware_FilterConfigAndL2T(t *testing.T) {
	fw := New(Options{Manual: true})
	defer fw.Close()

	require.NoError(t, fw.SetFilterConfig(0x2a))
	assert.Equal(t, uint32(0x2a), fw.FilterConfig())

	assert.Error(t, fw.WriteL2T(A.L2TWrite{Idx: 0}))
	w := A.L2TWrite{Idx: 3, VLAN: 10, Port: 1, DMAC: net.HardwareAddr{0x02, 0, 0, 0, 0, 9}}
	require.NoError(t, fw.WriteL2T(w))
	got, ok := fw.L2T(3)
	require.True(t, ok)
	assert.Equal(t, w, got)

	fw.SetCompletionHandler(func(A.Completion) {})
	require.NoError(t, fw.SubmitFilterWR(tcpRequest(0, 80)))
	fw.DeliverAll()
	assert.ErrorIs(t, fw.SetFilterConfig(0), A.ErrBusy)
}

func TestFirmware_Inject(t *testing.T) {
	fw := New(Options{Manual: true})
	defer fw.Close()
	fw.SetCompletionHandler(func(A.Completion) {})

	vlanOnly := &A.FilterWorkRequest{Op: A.FilterOpAdd, Idx: 2, Match: A.FilterMatch{VLAN: 100, VLANMask: 0xfff}}
	subnet := &A.FilterWorkRequest{Op: A.FilterOpAdd, Idx: 7, Match: A.FilterMatch{
		DstIP: net.IPv4(10, 1, 0, 0), DstIPMask: net.IPv4(255, 255, 0, 0),
	}}
	for _, wr := range []*A.FilterWorkRequest{tcpRequest(5, 80), vlanOnly, subnet} {
		require.NoError(t, fw.SubmitFilterWR(wr))
	}
	fw.DeliverAll()

	build := func(fr Frame) []byte {
		if fr.SrcIP == nil {
			fr.SrcIP = net.IPv4(192, 0, 2, 1)
		}
		if fr.DstIP == nil {
			fr.DstIP = net.IPv4(192, 0, 2, 2)
		}
		frame, err := BuildFrame(fr)
		require.NoError(t, err)
		return frame
	}
	cases := []struct {
		name    string
		frame   []byte
		idx     uint32
		matched bool
	}{
		{"tcp 80", build(Frame{Proto: layers.IPProtocolTCP, DstPort: 80}), 5, true},
		{"udp 80", build(Frame{Proto: layers.IPProtocolUDP, DstPort: 80}), 0, false},
		{"vlan 100 wins by index", build(Frame{VLAN: 100, Proto: layers.IPProtocolTCP, DstPort: 80}), 2, true},
		{"subnet", build(Frame{DstIP: net.IPv4(10, 1, 2, 3), Proto: layers.IPProtocolUDP, DstPort: 53}), 7, true},
		{"other subnet", build(Frame{DstIP: net.IPv4(10, 2, 2, 3), Proto: layers.IPProtocolUDP, DstPort: 53}), 0, false},
		{"ipv6", build(Frame{SrcIP: net.ParseIP("2001:db8::1"), DstIP: net.ParseIP("2001:db8::2"), Proto: layers.IPProtocolTCP, DstPort: 80}), 0, false},
	}
	for _, c := range cases {
		idx, matched, err := fw.Inject(c.frame)
		require.NoError(t, err, c.name)
		assert.Equal(t, c.matched, matched, c.name)
		if c.matched {
			assert.Equal(t, c.idx, idx, c.name)
		}
	}

	hits, err := fw.ReadFilterHits(5)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), hits)
	hits, err = fw.ReadFilterHits(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), hits)

	_, _, err = fw.Inject([]byte{0x01})
	assert.Error(t, err)
}

func TestBuildFrame_Unsupported(t *testing.T) {
	_, err := BuildFrame(Frame{SrcIP: net.IPv4(192, 0, 2, 1), DstIP: net.IPv4(192, 0, 2, 2), Proto: layers.IPProtocolICMPv4})
	assert.ErrorIs(t, err, A.ErrNotSupported)
}
