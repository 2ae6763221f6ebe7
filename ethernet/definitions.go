package ethernet

import (
	"strconv"
)

const (
	sizeHeaderNoVLAN = 14
	sizeHeaderVLAN   = 18
)

// AppendAddr appends the text representation of the hardware address to the destination buffer.
func AppendAddr(dst []byte, hwAddr [6]byte) []byte {
	for i, b := range hwAddr {
		if i != 0 {
			dst = append(dst, ':')
		}
		if b < 16 {
			dst = append(dst, '0')
		}
		dst = strconv.AppendUint(dst, uint64(b), 16)
	}
	return dst
}

// BroadcastAddr returns the all 0xff's broadcast hardware/MAC/EUI/OUI address.
func BroadcastAddr() [6]byte {
	return [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}

// Type is the EtherType field of an Ethernet frame. Values of 1500 and below
// are payload sizes rather than types, see [Type.IsSize].
type Type uint16

// IsSize returns true if the EtherType is actually the size of the payload
// and should NOT be interpreted as an EtherType.
func (et Type) IsSize() bool { return et <= 1500 }

// Ethernet types the stack recognizes.
const (
	TypeIPv4        Type = 0x0800 // IPv4
	TypeARP         Type = 0x0806 // ARP
	TypeIPv6        Type = 0x86DD // IPv6
	TypeVLAN        Type = 0x8100 // VLAN
	TypeServiceVLAN Type = 0x88a8 // service VLAN
)

func (et Type) String() string {
	switch et {
	case TypeIPv4:
		return "IPv4"
	case TypeARP:
		return "ARP"
	case TypeIPv6:
		return "IPv6"
	case TypeVLAN:
		return "VLAN"
	case TypeServiceVLAN:
		return "service VLAN"
	}
	if et.IsSize() {
		return "size(" + strconv.Itoa(int(et)) + ")"
	}
	return "Type(0x" + strconv.FormatUint(uint64(et), 16) + ")"
}
