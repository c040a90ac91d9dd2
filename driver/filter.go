package driver

import (
	"bytes"
	"fmt"
	"net"

	"github.com/google/gopacket/layers"

	A "github.com/t4nic/t4api"
)

// FilterType selects the address family of a filter.
type FilterType uint8

const (
	FilterIPv4 FilterType = iota
	FilterIPv6
)

func (t FilterType) String() string {
	if t == FilterIPv6 {
		return "ipv6"
	}
	return "ipv4"
}

// slots is the number of consecutive table entries a filter occupies.
func (t FilterType) slots() int {
	if t == FilterIPv6 {
		return A.FilterSlotsIPv6
	}
	return 1
}

// FilterAction is what happens to a matching packet.
type FilterAction uint8

const (
	ActionPass   FilterAction = iota // deliver to the host
	ActionDrop                       // drop
	ActionSwitch                     // switch out of EPort
)

func (a FilterAction) String() string {
	switch a {
	case ActionDrop:
		return "drop"
	case ActionSwitch:
		return "switch"
	}
	return "pass"
}

// VLANRewrite is the VLAN rewrite applied to switched packets.
type VLANRewrite uint8

const (
	VLANNone VLANRewrite = iota
	VLANRemove
	VLANInsert
	VLANReplace
)

// FilterTuple holds the match fields of a filter. A FilterSpec carries one
// as the value and one as the mask.
type FilterTuple struct {
	SrcIP     net.IP
	DstIP     net.IP
	SrcPort   uint16
	DstPort   uint16
	Proto     layers.IPProtocol
	EtherType layers.EthernetType
	TOS       uint8

	VLAN      uint16
	VLANValid bool

	// VNIC is the outer VLAN, or the PF/VF when the filter mode has
	// ModeVNICIngress.
	VNIC       uint16
	OVLANValid bool
	PFVFValid  bool

	IPort     uint8
	MACIdx    uint16
	MatchType uint8
	Frag      bool
	FCoE      bool
}

// FilterSpec describes one hardware filter.
type FilterSpec struct {
	Type   FilterType
	Action FilterAction
	Val    FilterTuple
	Mask   FilterTuple

	HitCounts bool // maintain a hit counter
	Prio      bool // filter has priority over offload connections
	DirSteer  bool // steer to IQ instead of RSS
	IQ        uint16
	EPort     uint8 // egress port for ActionSwitch

	NewDMAC bool
	DMAC    net.HardwareAddr
	NewSMAC bool
	SMAC    net.HardwareAddr
	NewVLAN VLANRewrite
	VLAN    uint16
}

// RequiredFields returns the optional mode fields the filter matches on.
func (s *FilterSpec) RequiredFields() FilterMode {
	var m FilterMode
	if s.Val.Frag || s.Mask.Frag {
		m |= ModeFragment
	}
	if s.Val.MatchType != 0 || s.Mask.MatchType != 0 {
		m |= ModeMPSHitType
	}
	if s.Val.MACIdx != 0 || s.Mask.MACIdx != 0 {
		m |= ModeMACIndex
	}
	if s.Val.EtherType != 0 || s.Mask.EtherType != 0 {
		m |= ModeEtherType
	}
	if s.Val.Proto != 0 || s.Mask.Proto != 0 {
		m |= ModeIPProto
	}
	if s.Val.TOS != 0 || s.Mask.TOS != 0 {
		m |= ModeTOS
	}
	if s.Val.VLANValid || s.Mask.VLANValid {
		m |= ModeVLAN
	}
	if s.Val.OVLANValid || s.Mask.OVLANValid || s.Val.PFVFValid || s.Mask.PFVFValid {
		m |= ModeVNIC
	}
	if s.Val.IPort != 0 || s.Mask.IPort != 0 {
		m |= ModePort
	}
	if s.Val.FCoE || s.Mask.FCoE {
		m |= ModeFCoE
	}
	return m
}

// CheckMode reports whether the filter can be expressed under mode.
func (s *FilterSpec) CheckMode(mode FilterMode) error {
	ovlan := s.Val.OVLANValid || s.Mask.OVLANValid
	pfvf := s.Val.PFVFValid || s.Mask.PFVFValid

	if ovlan && mode&ModeVNICIngress != 0 {
		return fmt.Errorf("outer VLAN match with PF/VF ingress config: %w", A.ErrModeMismatch)
	}
	if pfvf && mode&ModeVNICIngress == 0 {
		return fmt.Errorf("PF/VF match without PF/VF ingress config: %w", A.ErrModeMismatch)
	}
	if missing := s.RequiredFields() &^ mode; missing != 0 {
		return fmt.Errorf("fields %s not in filter mode %s: %w", missing, mode.Optional(), A.ErrModeMismatch)
	}
	return nil
}

// NeedsRewrite reports whether switched packets need a layer-2 rewrite
// entry.
func (s *FilterSpec) NeedsRewrite() bool {
	return s.NewDMAC || s.NewVLAN != VLANNone
}

// validate checks the parts of the spec that don't depend on the table.
func (s *FilterSpec) validate(nports int) error {
	if int(s.EPort) >= nports {
		return fmt.Errorf("egress port %d out of range: %w", s.EPort, A.ErrInvalidSpec)
	}
	if int(s.Val.IPort) >= nports {
		return fmt.Errorf("ingress port %d out of range: %w", s.Val.IPort, A.ErrInvalidSpec)
	}
	if s.IQ != 0 && !s.DirSteer {
		return fmt.Errorf("iq %d without dirsteer: %w", s.IQ, A.ErrInvalidSpec)
	}
	if s.NewDMAC && len(s.DMAC) != A.ETHER_ADDR_LENGTH {
		return fmt.Errorf("bad rewrite dmac %q: %w", s.DMAC, A.ErrInvalidSpec)
	}
	if s.NewSMAC && len(s.SMAC) != A.ETHER_ADDR_LENGTH {
		return fmt.Errorf("bad rewrite smac %q: %w", s.SMAC, A.ErrInvalidSpec)
	}
	for _, ip := range []net.IP{s.Val.SrcIP, s.Val.DstIP, s.Mask.SrcIP, s.Mask.DstIP} {
		if ip == nil {
			continue
		}
		if s.Type == FilterIPv4 && ip.To4() == nil {
			return fmt.Errorf("%s is not an IPv4 address: %w", ip, A.ErrInvalidSpec)
		}
		if s.Type == FilterIPv6 && ip.To4() != nil {
			return fmt.Errorf("%s is not an IPv6 address: %w", ip, A.ErrInvalidSpec)
		}
	}
	return nil
}

// workRequest builds the firmware request that writes the filter at idx.
func (s *FilterSpec) workRequest(idx uint32, l2tIdx uint16) *A.FilterWorkRequest {
	wr := &A.FilterWorkRequest{
		Op:     A.FilterOpAdd,
		Idx:    idx,
		IPv6:   s.Type == FilterIPv6,
		Drop:   s.Action == ActionDrop,
		Switch: s.Action == ActionSwitch,
		EPort:  s.EPort,
		Prio:   s.Prio,
		L2TIdx: l2tIdx,

		HitCounts:  s.HitCounts,
		DirSteer:   s.DirSteer,
		IQ:         s.IQ,
		NewSMAC:    s.NewSMAC,
		VLANAction: uint8(s.NewVLAN),
		VLAN:       s.VLAN,
		Match: A.FilterMatch{
			EtherType:     uint16(s.Val.EtherType),
			EtherTypeMask: uint16(s.Mask.EtherType),
			Proto:         uint8(s.Val.Proto),
			ProtoMask:     uint8(s.Mask.Proto),
			SrcIP:         s.Val.SrcIP,
			SrcIPMask:     s.Mask.SrcIP,
			DstIP:         s.Val.DstIP,
			DstIPMask:     s.Mask.DstIP,
			SrcPort:       s.Val.SrcPort,
			SrcPortMask:   s.Mask.SrcPort,
			DstPort:       s.Val.DstPort,
			DstPortMask:   s.Mask.DstPort,
			IPort:         s.Val.IPort,
			IPortMask:     s.Mask.IPort,
		},
	}
	if s.NewSMAC {
		wr.SMAC = append(net.HardwareAddr(nil), s.SMAC...)
	}
	if s.Val.VLANValid {
		wr.Match.VLAN = s.Val.VLAN
		wr.Match.VLANMask = s.Mask.VLAN
	}
	return wr
}

// Equal checks if two filter specs are equal
func (s *FilterSpec) Equal(other *FilterSpec) bool {
	if s == other {
		return true
	}
	if other == nil {
		return false
	}
	return s.Type == other.Type &&
		s.Action == other.Action &&
		s.Val.equal(&other.Val) &&
		s.Mask.equal(&other.Mask) &&
		s.HitCounts == other.HitCounts &&
		s.Prio == other.Prio &&
		s.DirSteer == other.DirSteer &&
		s.IQ == other.IQ &&
		s.EPort == other.EPort &&
		s.NewDMAC == other.NewDMAC &&
		bytes.Equal(s.DMAC, other.DMAC) &&
		s.NewSMAC == other.NewSMAC &&
		bytes.Equal(s.SMAC, other.SMAC) &&
		s.NewVLAN == other.NewVLAN &&
		s.VLAN == other.VLAN
}

func (t *FilterTuple) equal(o *FilterTuple) bool {
	return ipEqual(t.SrcIP, o.SrcIP) &&
		ipEqual(t.DstIP, o.DstIP) &&
		t.SrcPort == o.SrcPort &&
		t.DstPort == o.DstPort &&
		t.Proto == o.Proto &&
		t.EtherType == o.EtherType &&
		t.TOS == o.TOS &&
		t.VLAN == o.VLAN &&
		t.VLANValid == o.VLANValid &&
		t.VNIC == o.VNIC &&
		t.OVLANValid == o.OVLANValid &&
		t.PFVFValid == o.PFVFValid &&
		t.IPort == o.IPort &&
		t.MACIdx == o.MACIdx &&
		t.MatchType == o.MatchType &&
		t.Frag == o.Frag &&
		t.FCoE == o.FCoE
}

func ipEqual(a, b net.IP) bool {
	if a == nil || b == nil {
		return len(a) == len(b)
	}
	return a.Equal(b)
}
