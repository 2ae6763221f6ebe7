// Package ltesto provides frame generation helpers for tests.
package ltesto

import (
	"math/rand"

	"github.com/slashdev/synstamp"
	"github.com/slashdev/synstamp/ethernet"
	"github.com/slashdev/synstamp/ipv4"
	"github.com/slashdev/synstamp/tcp"
)

const (
	sizeHeaderIPv4      = 20
	sizeHeaderTCP       = 20
	sizeHeaderEthNoVLAN = 14
)

// PacketGen generates Ethernet+IPv4+TCP frames between two fixed endpoints.
type PacketGen struct {
	SrcMAC, DstMAC   [6]byte // hardware address
	SrcIPv4, DstIPv4 [4]byte // address
	SrcTCP, DstTCP   uint16  // ports
	// IPOptions and TCPOptions are copied verbatim into the headers.
	// Their length must be a multiple of 4.
	IPOptions, TCPOptions []byte
}

func (gen *PacketGen) RandomizeAddrs(rng *rand.Rand) {
	rng.Read(gen.SrcMAC[:])
	rng.Read(gen.DstMAC[:])
	rng.Read(gen.SrcIPv4[:])
	rng.Read(gen.DstIPv4[:])
	ports := rng.Uint32()
	gen.SrcTCP = uint16(ports) | 1
	gen.DstTCP = uint16(ports>>16) | 1
}

// AppendIPv4TCPPacket appends a frame with valid checksums carrying payload to dst.
func (gen *PacketGen) AppendIPv4TCPPacket(dst []byte, seq tcp.Value, flags tcp.Flags, payload []byte) []byte {
	if len(gen.IPOptions)%4 != 0 || len(gen.TCPOptions)%4 != 0 {
		panic("options must be multiple of 4 in length")
	}
	ipHL := sizeHeaderIPv4 + len(gen.IPOptions)
	tcpHL := sizeHeaderTCP + len(gen.TCPOptions)
	off := len(dst)
	dst = append(dst, make([]byte, sizeHeaderEthNoVLAN+ipHL+tcpHL+len(payload))...)
	efrm, err := ethernet.NewFrame(dst[off:])
	if err != nil {
		panic(err)
	}
	*efrm.DestinationHardwareAddr() = gen.DstMAC
	*efrm.SourceHardwareAddr() = gen.SrcMAC
	efrm.SetEtherType(ethernet.TypeIPv4)

	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		panic(err)
	}
	ifrm.SetVersionAndIHL(4, uint8(ipHL/4))
	ifrm.SetTotalLength(uint16(ipHL + tcpHL + len(payload)))
	ifrm.SetID(uint16(seq))
	ifrm.SetFlags(ipv4.FlagDontFragment)
	ifrm.SetTTL(ipv4.DefaultTTL)
	ifrm.SetProtocol(synstamp.IPProtoTCP)
	*ifrm.SourceAddr() = gen.SrcIPv4
	*ifrm.DestinationAddr() = gen.DstIPv4
	copy(ifrm.Options(), gen.IPOptions)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	tfrm, err := tcp.NewFrame(ifrm.Payload())
	if err != nil {
		panic(err)
	}
	tfrm.SetSourcePort(gen.SrcTCP)
	tfrm.SetDestinationPort(gen.DstTCP)
	tfrm.SetSeq(seq)
	tfrm.SetOffsetAndFlags(uint8(tcpHL/4), flags)
	tfrm.SetWindowSize(1024)
	copy(tfrm.Options(), gen.TCPOptions)
	copy(tfrm.Payload(), payload)
	var crc synstamp.CRC791
	ifrm.CRCWriteTCPPseudo(&crc)
	tfrm.CRCWrite(&crc)
	tfrm.SetCRC(crc.Sum16())
	return dst
}
