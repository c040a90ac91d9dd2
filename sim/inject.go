package sim

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	A "github.com/t4nic/t4api"
)

// frameFields are the header fields a filter can compare against.
type frameFields struct {
	etherType uint16
	vlan      uint16
	hasVLAN   bool
	proto     uint8
	srcIP     net.IP
	dstIP     net.IP
	srcPort   uint16
	dstPort   uint16
}

func decode(frame []byte) (*frameFields, error) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	eth, _ := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if eth == nil {
		return nil, fmt.Errorf("not an ethernet frame: %w", A.ErrInvalidSpec)
	}

	ff := &frameFields{etherType: uint16(eth.EthernetType)}
	if dot1q, ok := packet.Layer(layers.LayerTypeDot1Q).(*layers.Dot1Q); ok {
		ff.hasVLAN = true
		ff.vlan = dot1q.VLANIdentifier
		ff.etherType = uint16(dot1q.Type)
	}
	if ip, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		ff.proto = uint8(ip.Protocol)
		ff.srcIP, ff.dstIP = ip.SrcIP, ip.DstIP
	} else if ip, ok := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6); ok {
		ff.proto = uint8(ip.NextHeader)
		ff.srcIP, ff.dstIP = ip.SrcIP, ip.DstIP
	}
	switch l4 := packet.TransportLayer().(type) {
	case *layers.TCP:
		ff.srcPort, ff.dstPort = uint16(l4.SrcPort), uint16(l4.DstPort)
	case *layers.UDP:
		ff.srcPort, ff.dstPort = uint16(l4.SrcPort), uint16(l4.DstPort)
	}
	return ff, nil
}

func maskedEqual(val, mask, got uint32) bool {
	return val&mask == got&mask
}

func ipMatch(val, mask, got net.IP, v6 bool) bool {
	if len(mask) == 0 {
		return true
	}
	if got == nil {
		return false
	}
	norm := func(ip net.IP) net.IP {
		if v6 {
			return ip.To16()
		}
		return ip.To4()
	}
	val, mask, got = norm(val), norm(mask), norm(got)
	if val == nil || mask == nil || got == nil || len(val) != len(got) || len(mask) != len(got) {
		return false
	}
	for i := range got {
		if val[i]&mask[i] != got[i]&mask[i] {
			return false
		}
	}
	return true
}

func (ff *frameFields) matches(wr *A.FilterWorkRequest) bool {
	m := &wr.Match
	isV6 := ff.srcIP != nil && ff.srcIP.To4() == nil
	if ff.srcIP != nil && isV6 != wr.IPv6 {
		return false
	}
	if m.VLANMask != 0 && (!ff.hasVLAN || !maskedEqual(uint32(m.VLAN), uint32(m.VLANMask), uint32(ff.vlan))) {
		return false
	}
	return maskedEqual(uint32(m.EtherType), uint32(m.EtherTypeMask), uint32(ff.etherType)) &&
		maskedEqual(uint32(m.Proto), uint32(m.ProtoMask), uint32(ff.proto)) &&
		maskedEqual(uint32(m.SrcPort), uint32(m.SrcPortMask), uint32(ff.srcPort)) &&
		maskedEqual(uint32(m.DstPort), uint32(m.DstPortMask), uint32(ff.dstPort)) &&
		ipMatch(m.SrcIP, m.SrcIPMask, ff.srcIP, wr.IPv6) &&
		ipMatch(m.DstIP, m.DstIPMask, ff.dstIP, wr.IPv6)
}

// Inject runs frame through the installed filters. The lowest-index filter
// that matches has its hit counter incremented and is returned.
func (f *Firmware) Inject(frame []byte) (idx uint32, matched bool, err error) {
	ff, err := decode(frame)
	if err != nil {
		return 0, false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, false, ErrClosed
	}
	for _, i := range f.installedLocked() {
		wr := f.installed[i]
		if ff.matches(&wr) {
			f.hits[i]++
			return i, true, nil
		}
	}
	return 0, false, nil
}

// Frame describes a test frame for BuildFrame.
type Frame struct {
	SrcMAC, DstMAC   net.HardwareAddr
	VLAN             uint16 // 0 means untagged
	SrcIP, DstIP     net.IP
	Proto            layers.IPProtocol // TCP or UDP
	SrcPort, DstPort uint16
	Payload          []byte
}

// BuildFrame serializes fr into an ethernet frame.
func BuildFrame(fr Frame) ([]byte, error) {
	srcMAC, dstMAC := fr.SrcMAC, fr.DstMAC
	if srcMAC == nil {
		srcMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	}
	if dstMAC == nil {
		dstMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 2}
	}

	var stack []gopacket.SerializableLayer
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC}
	stack = append(stack, eth)

	l3Type := layers.EthernetTypeIPv4
	if fr.SrcIP.To4() == nil {
		l3Type = layers.EthernetTypeIPv6
	}
	if fr.VLAN != 0 {
		eth.EthernetType = layers.EthernetTypeDot1Q
		stack = append(stack, &layers.Dot1Q{VLANIdentifier: fr.VLAN, Type: l3Type})
	} else {
		eth.EthernetType = l3Type
	}

	var network gopacket.NetworkLayer
	if l3Type == layers.EthernetTypeIPv4 {
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: fr.Proto, SrcIP: fr.SrcIP.To4(), DstIP: fr.DstIP.To4()}
		stack = append(stack, ip)
		network = ip
	} else {
		ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: fr.Proto, SrcIP: fr.SrcIP, DstIP: fr.DstIP}
		stack = append(stack, ip)
		network = ip
	}

	switch fr.Proto {
	case layers.IPProtocolTCP:
		tcp := &layers.TCP{SrcPort: layers.TCPPort(fr.SrcPort), DstPort: layers.TCPPort(fr.DstPort), SYN: true, Window: 65535}
		if err := tcp.SetNetworkLayerForChecksum(network); err != nil {
			return nil, err
		}
		stack = append(stack, tcp)
	case layers.IPProtocolUDP:
		udp := &layers.UDP{SrcPort: layers.UDPPort(fr.SrcPort), DstPort: layers.UDPPort(fr.DstPort)}
		if err := udp.SetNetworkLayerForChecksum(network); err != nil {
			return nil, err
		}
		stack = append(stack, udp)
	default:
		return nil, fmt.Errorf("unsupported protocol %s: %w", fr.Proto, A.ErrNotSupported)
	}
	stack = append(stack, gopacket.Payload(fr.Payload))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		return nil, fmt.Errorf("serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}
