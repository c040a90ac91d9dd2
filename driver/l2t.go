package driver

import (
	"bytes"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	A "github.com/t4nic/t4api"
)

// DefaultL2TSize is the number of rewrite entries when none is configured.
const DefaultL2TSize = 4096

// L2Entry is one layer-2 rewrite entry. Entries with the same VLAN, port
// and destination MAC are shared between filters.
type L2Entry struct {
	Idx  uint16
	VLAN uint16
	Port uint8
	DMAC net.HardwareAddr

	refs int
}

// L2Table is the fixed-size table of switching rewrite entries. Index 0 is
// never handed out so that a zero L2TIdx means "no rewrite".
type L2Table struct {
	mu      sync.Mutex
	fw      A.FilterChannel
	entries []L2Entry
	inUse   int
	log     *zap.Logger
}

// NewL2Table returns an empty table of size entries.
func NewL2Table(fw A.FilterChannel, size int, log *zap.Logger) *L2Table {
	if size <= 1 {
		size = DefaultL2TSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	t := &L2Table{
		fw:      fw,
		entries: make([]L2Entry, size),
		log:     log,
	}
	for i := range t.entries {
		t.entries[i].Idx = uint16(i)
	}
	return t
}

// Acquire returns an entry rewriting to (vlan, port, dmac), sharing an
// existing one when possible. A new entry is written to hardware before it
// is returned.
func (t *L2Table) Acquire(vlan uint16, port uint8, dmac net.HardwareAddr) (*L2Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var free *L2Entry
	for i := 1; i < len(t.entries); i++ {
		e := &t.entries[i]
		if e.refs == 0 {
			if free == nil {
				free = e
			}
			continue
		}
		if e.VLAN == vlan && e.Port == port && bytes.Equal(e.DMAC, dmac) {
			e.refs++
			return e, nil
		}
	}
	if free == nil {
		return nil, fmt.Errorf("l2 rewrite table full (%d entries): %w", len(t.entries)-1, A.ErrResourceExhausted)
	}

	w := A.L2TWrite{Idx: free.Idx, VLAN: vlan, Port: port, DMAC: append(net.HardwareAddr(nil), dmac...)}
	if err := t.fw.WriteL2T(w); err != nil {
		return nil, fmt.Errorf("write l2t entry %d: %w", free.Idx, err)
	}
	free.VLAN, free.Port, free.DMAC = w.VLAN, w.Port, w.DMAC
	free.refs = 1
	t.inUse++
	t.log.Debug("l2t entry allocated",
		zap.Uint16("idx", free.Idx),
		zap.Uint16("vlan", vlan),
		zap.Uint8("port", port),
		zap.Stringer("dmac", dmac))
	return free, nil
}

// Release drops one reference to e. The entry becomes free when the last
// reference goes away.
func (t *L2Table) Release(e *L2Entry) {
	if e == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if e.refs <= 0 {
		panic("t4api: l2t entry released too many times")
	}
	e.refs--
	if e.refs == 0 {
		e.VLAN, e.Port, e.DMAC = 0, 0, nil
		t.inUse--
	}
}

// InUse returns the number of referenced entries.
func (t *L2Table) InUse() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inUse
}

// Refs returns the number of filters referencing entry idx.
func (t *L2Table) Refs(idx uint16) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(idx) >= len(t.entries) {
		return 0
	}
	return t.entries[idx].refs
}

// Len returns the number of usable entries.
func (t *L2Table) Len() int {
	return len(t.entries) - 1
}
