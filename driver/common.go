package driver

import (
	"fmt"
	"sort"
	"strings"
)

// FilterMode selects the optional tuple fields the hardware comparator
// examines. The address and port fields are always present.
type FilterMode uint32

const (
	ModeIPv4        FilterMode = 0x00000001
	ModeIPv6        FilterMode = 0x00000002
	ModeSrcIP       FilterMode = 0x00000004
	ModeDstIP       FilterMode = 0x00000008
	ModeSrcPort     FilterMode = 0x00000010
	ModeDstPort     FilterMode = 0x00000020
	ModeFCoE        FilterMode = 0x00000040
	ModePort        FilterMode = 0x00000080 // ingress port
	ModeVNIC        FilterMode = 0x00000100 // outer VLAN or PF/VF, see ModeVNICIngress
	ModeVLAN        FilterMode = 0x00000200
	ModeTOS         FilterMode = 0x00000400
	ModeIPProto     FilterMode = 0x00000800
	ModeEtherType   FilterMode = 0x00001000
	ModeMACIndex    FilterMode = 0x00002000
	ModeMPSHitType  FilterMode = 0x00004000
	ModeFragment    FilterMode = 0x00008000
	ModeVNICIngress FilterMode = 0x80000000 // VNIC field carries PF/VF instead of outer VLAN

	ModeBase = ModeIPv4 | ModeIPv6 | ModeSrcIP | ModeDstIP | ModeSrcPort | ModeDstPort
)

// Hardware filter configuration (fconf) bits and the ingress config bit.
const (
	FCONF_FCOE          = 1 << 0
	FCONF_PORT          = 1 << 1
	FCONF_VNIC_ID       = 1 << 2
	FCONF_VLAN          = 1 << 3
	FCONF_TOS           = 1 << 4
	FCONF_PROTOCOL      = 1 << 5
	FCONF_ETHERTYPE     = 1 << 6
	FCONF_MACMATCH      = 1 << 7
	FCONF_MPSHITTYPE    = 1 << 8
	FCONF_FRAGMENTATION = 1 << 9

	ICONF_VNIC = 1 << 11

	// MaxTupleWidth is the number of bits the comparator has for optional
	// fields.
	MaxTupleWidth = 36
)

var modeFields = []struct {
	mode  FilterMode
	fconf uint32
	width int
	name  string
}{
	{ModeFCoE, FCONF_FCOE, 1, "fcoe"},
	{ModePort, FCONF_PORT, 3, "port"},
	{ModeVNIC, FCONF_VNIC_ID, 17, "vnic"},
	{ModeVLAN, FCONF_VLAN, 17, "vlan"},
	{ModeTOS, FCONF_TOS, 8, "tos"},
	{ModeIPProto, FCONF_PROTOCOL, 8, "ip_proto"},
	{ModeEtherType, FCONF_ETHERTYPE, 16, "ethertype"},
	{ModeMACIndex, FCONF_MACMATCH, 9, "mac_index"},
	{ModeMPSHitType, FCONF_MPSHITTYPE, 3, "mps_hit_type"},
	{ModeFragment, FCONF_FRAGMENTATION, 1, "fragment"},
}

// ModeFromHardware converts cached fconf/iconf register values to a mode.
func ModeFromHardware(fconf, iconf uint32) FilterMode {
	mode := ModeBase
	for _, f := range modeFields {
		if fconf&f.fconf != 0 {
			mode |= f.mode
		}
	}
	if fconf&FCONF_VNIC_ID != 0 && iconf&ICONF_VNIC != 0 {
		mode |= ModeVNICIngress
	}
	return mode
}

// FConf returns the filter configuration register value for the mode.
func (m FilterMode) FConf() uint32 {
	var fconf uint32
	for _, f := range modeFields {
		if m&f.mode != 0 {
			fconf |= f.fconf
		}
	}
	return fconf
}

// IConf returns the ingress configuration bits implied by the mode.
func (m FilterMode) IConf() uint32 {
	if m&ModeVNICIngress != 0 {
		return ICONF_VNIC
	}
	return 0
}

// TupleWidth is the number of comparator bits the optional fields need.
func (m FilterMode) TupleWidth() int {
	w := 0
	for _, f := range modeFields {
		if m&f.mode != 0 {
			w += f.width
		}
	}
	return w
}

// Optional returns the mode without the always-present fields.
func (m FilterMode) Optional() FilterMode {
	return m &^ ModeBase
}

func (m FilterMode) String() string {
	var names []string
	for _, f := range modeFields {
		if m&f.mode != 0 {
			names = append(names, f.name)
		}
	}
	if m&ModeVNICIngress != 0 {
		names = append(names, "vnic_ingress")
	}
	if len(names) == 0 {
		return "base"
	}
	return strings.Join(names, ",")
}

// ParseFilterMode builds a mode from field names as used in configuration.
func ParseFilterMode(fields []string) (FilterMode, error) {
	mode := ModeBase
	for _, name := range fields {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "vnic_ingress" {
			mode |= ModeVNICIngress | ModeVNIC
			continue
		}
		found := false
		for _, f := range modeFields {
			if f.name == name {
				mode |= f.mode
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown filter mode field %q", name)
		}
	}
	return mode, nil
}

// ModeFieldNames returns every field name ParseFilterMode accepts.
func ModeFieldNames() []string {
	names := []string{"vnic_ingress"}
	for _, f := range modeFields {
		names = append(names, f.name)
	}
	sort.Strings(names)
	return names
}
