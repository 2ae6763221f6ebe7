package internet

import (
	"errors"
	"io"
	"log/slog"
	"net/netip"

	"github.com/slashdev/synstamp"
	"github.com/slashdev/synstamp/ethernet"
	"github.com/slashdev/synstamp/internal"
	"github.com/slashdev/synstamp/ipv4"
	"github.com/slashdev/synstamp/tcp"
)

// Fixed frame layout of the stack buffers. VLAN tagged frames and IPv4
// options are not supported on either path.
const (
	OffsetIP  = synstamp.SizeHeaderEthNoVLAN
	OffsetTCP = OffsetIP + synstamp.SizeHeaderIPv4
	// MaxFrameSize is the size of an untagged Ethernet frame with a 1500 byte MTU, without FCS.
	MaxFrameSize = synstamp.SizeHeaderEthNoVLAN + 1500
)

var (
	_ tcp.NetworkPreparer = (*Stack)(nil)
	_ tcp.LinkTransmitter = (*Stack)(nil)
)

var broadcast = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

var (
	errInvalidAddr = errors.New("internet: require valid IPv4 address")
	errZeroMAC     = errors.New("internet: zero hardware address")
)

// StackConfig configures a [Stack].
type StackConfig struct {
	// HardwareAddr is the stack's own Ethernet address.
	HardwareAddr [6]byte
	// Gateway is the destination hardware address used when a send names a zero one.
	// A zero Gateway selects the broadcast address.
	Gateway [6]byte
	// Addr is the stack's own IPv4 address.
	Addr netip.Addr
	// Link receives every transmitted frame in a single Write call.
	Link io.Writer
	// MaxPorts is the capacity of the TCP port registry.
	MaxPorts int
	// Counter provides sequence number tags to the SYN stamper. If nil the
	// stack allocates a counter starting at [tcp.DefaultSeqStart].
	Counter *tcp.SeqCounter
	Logger  *slog.Logger
}

// Stats are the traffic counters of a [Stack].
type Stats struct {
	// TCPOutFrames is the amount of frames handed to the link.
	TCPOutFrames uint64
	// TCPOutBytes counts link layer bytes handed to the link.
	TCPOutBytes uint64
	// TCPInFrames is the amount of valid TCP frames received. Frames addressed
	// to unregistered ports are counted here and in Dropped.
	TCPInFrames uint64
	// TCPInBytes counts link layer bytes of valid TCP frames received.
	TCPInBytes uint64
	// Dropped is the amount of received frames that were discarded,
	// including valid segments addressed to unregistered ports.
	Dropped uint64
}

// Stack is a minimal Ethernet/IPv4 host which stamps TCP SYN segments and
// dispatches inbound TCP segments to registered port handlers.
// It owns one outbound and one inbound frame buffer, both reused for every frame.
//
// Stack is not safe for concurrent use and must not be copied after Reset.
type Stack struct {
	out [MaxFrameSize]byte
	in  [MaxFrameSize]byte

	link      io.Writer
	mac       [6]byte
	gwmac     [6]byte
	ip        [4]byte
	ipID      uint16
	validator synstamp.Validator
	stamper   tcp.SYNStamper
	ports     tcp.PortRegistry
	stats     Stats
	logger
}

// Reset configures the stack and clears its counters, registered ports and buffers.
func (s *Stack) Reset(cfg StackConfig) error {
	if !cfg.Addr.IsValid() || !cfg.Addr.Is4() {
		return errInvalidAddr
	} else if internal.IsZeroed(cfg.HardwareAddr[:]...) {
		return errZeroMAC
	} else if cfg.Link == nil {
		return synstamp.ErrInvalidConfig
	}
	counter := cfg.Counter
	if counter == nil {
		counter = tcp.NewSeqCounter(tcp.DefaultSeqStart)
	}
	err := s.ports.Reset(tcp.RegistryConfig{
		Capacity: cfg.MaxPorts,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return err
	}
	err = s.stamper.Reset(tcp.StamperConfig{
		Out:      s.out[:],
		OffsetIP: OffsetIP,
		Counter:  counter,
		Network:  s,
		Link:     s,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return err
	}
	clear(s.out[:])
	clear(s.in[:])
	s.link = cfg.Link
	s.mac = cfg.HardwareAddr
	s.gwmac = cfg.Gateway
	if internal.IsZeroed(s.gwmac[:]...) {
		s.gwmac = broadcast
	}
	s.ip = cfg.Addr.As4()
	// Xorshift seed must be non-zero.
	s.ipID = uint16(s.ip[2])<<8 | uint16(s.ip[3]) | 1
	s.validator.ResetErr()
	s.stats = Stats{}
	s.logger = logger{log: cfg.Logger}
	s.debug("Stack.Reset",
		internal.SlogAddr4("addr", &s.ip),
		internal.SlogAddr6("hw", &s.mac),
		internal.SlogAddr6("gw", &s.gwmac),
		slog.Int("ports", s.ports.Cap()),
	)
	return nil
}

// Addr returns the IPv4 address of the stack.
func (s *Stack) Addr() netip.Addr { return netip.AddrFrom4(s.ip) }

// HardwareAddr6 returns the Ethernet address of the stack.
func (s *Stack) HardwareAddr6() [6]byte { return s.mac }

// Gateway6 returns the default destination hardware address.
func (s *Stack) Gateway6() [6]byte { return s.gwmac }

// Stats returns a snapshot of the traffic counters.
func (s *Stack) Stats() Stats { return s.stats }

// Ports returns the TCP port registry used on the receive path.
func (s *Stack) Ports() *tcp.PortRegistry { return &s.ports }

// RegisterPort routes segments addressed to port to h. See [tcp.PortRegistry.Register].
func (s *Stack) RegisterPort(port uint16, h tcp.Handler) { s.ports.Register(port, h) }

// UnregisterPort removes the handler of port. See [tcp.PortRegistry.Unregister].
func (s *Stack) UnregisterPort(port uint16) { s.ports.Unregister(port) }

// SendSYN stamps and transmits one SYN segment from srcPort to dst.
// A zero dstHW selects the configured gateway. writePayload may be nil.
func (s *Stack) SendSYN(srcPort uint16, dst netip.AddrPort, dstHW [6]byte, writePayload func(payload []byte) int) error {
	if !dst.Addr().Is4() {
		return errInvalidAddr
	}
	return s.stamper.Stamp(srcPort, dst.Addr().As4(), dst.Port(), dstHW, writePayload)
}

// PrepareIP writes the Ethernet header and an option-less IPv4 header
// into the outbound buffer. Total length and header checksum are left
// for the transport layer to fill in once the payload length is known.
func (s *Stack) PrepareIP(proto synstamp.IPProto, dst [4]byte, dstHW [6]byte) {
	if internal.IsZeroed(dstHW[:]...) {
		dstHW = s.gwmac
	}
	efrm, _ := ethernet.NewFrame(s.out[:])
	*efrm.DestinationHardwareAddr() = dstHW
	*efrm.SourceHardwareAddr() = s.mac
	efrm.SetEtherType(ethernet.TypeIPv4)

	s.ipID = internal.Prand16(s.ipID)
	ifrm, _ := ipv4.NewFrame(s.out[OffsetIP:])
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetToS(0)
	ifrm.SetTotalLength(0)
	ifrm.SetID(s.ipID)
	ifrm.SetFlags(ipv4.FlagDontFragment)
	ifrm.SetTTL(ipv4.DefaultTTL)
	ifrm.SetProtocol(proto)
	ifrm.SetCRC(0)
	*ifrm.SourceAddr() = s.ip
	*ifrm.DestinationAddr() = dst
}

// Transmit writes the first frameLen bytes of the outbound buffer to the link.
func (s *Stack) Transmit(frameLen int) error {
	if frameLen < OffsetTCP || frameLen > len(s.out) {
		return synstamp.ErrInvalidLengthField
	}
	_, err := s.link.Write(s.out[:frameLen])
	if err != nil {
		s.error("Stack.Transmit", slog.String("err", err.Error()))
		return err
	}
	s.stats.TCPOutFrames++
	s.stats.TCPOutBytes += uint64(frameLen)
	return nil
}

// InboundBuffer returns the inbound frame buffer so that a link may read a
// frame directly into it before calling [Stack.Recv].
func (s *Stack) InboundBuffer() []byte { return s.in[:] }

// RecvFrom reads a single frame from link into the inbound buffer and processes it.
// A zero length read is not an error.
func (s *Stack) RecvFrom(link io.Reader) error {
	n, err := link.Read(s.in[:])
	if n > 0 {
		rerr := s.Recv(n)
		if err == nil {
			err = rerr
		}
	}
	return err
}

// RecvEth copies frame into the inbound buffer and processes it.
func (s *Stack) RecvEth(frame []byte) error {
	if len(frame) > len(s.in) {
		s.stats.Dropped++
		return synstamp.ErrShortBuffer
	}
	n := copy(s.in[:], frame)
	return s.Recv(n)
}

// Recv processes the frame held in the first n bytes of the inbound buffer.
// Frames not addressed to the stack, frames that are not TCP over IPv4 and
// frames that fail size or checksum validation are dropped and an error is
// returned. Valid segments are dispatched to the handler of their
// destination port; segments for unregistered ports are discarded silently.
func (s *Stack) Recv(n int) error {
	if n < 0 || n > len(s.in) {
		return synstamp.ErrInvalidLengthField
	}
	frame := s.in[:n]
	efrm, err := ethernet.NewFrame(frame)
	if err != nil {
		return s.drop(err)
	}
	dstHW := efrm.DestinationHardwareAddr()
	if *dstHW != s.mac && !efrm.IsBroadcast() {
		return s.drop(synstamp.ErrPacketDrop) // Not meant for us.
	} else if efrm.EtherTypeOrSize() != ethernet.TypeIPv4 {
		return s.drop(synstamp.ErrPacketDrop)
	}
	s.validator.ResetErr()
	efrm.ValidateSize(&s.validator)
	if err = s.validator.ErrPop(); err != nil {
		return s.drop(err)
	}

	ifrm, err := ipv4.NewFrame(frame[OffsetIP:])
	if err != nil {
		return s.drop(err)
	}
	ifrm.ValidateExceptCRC(&s.validator)
	if err = s.validator.ErrPop(); err != nil {
		return s.drop(err)
	}
	if *ifrm.DestinationAddr() != s.ip {
		return s.drop(synstamp.ErrPacketDrop)
	} else if ifrm.HeaderLength() != synstamp.SizeHeaderIPv4 {
		return s.drop(synstamp.ErrPacketDrop) // Options unsupported.
	} else if flags := ifrm.Flags(); flags.MoreFragments() || flags.FragmentOffset() != 0 {
		return s.drop(synstamp.ErrPacketDrop) // No reassembly.
	} else if ifrm.CalculateHeaderCRC() != ifrm.CRC() {
		return s.drop(synstamp.ErrBadCRC)
	} else if ifrm.Protocol() != synstamp.IPProtoTCP {
		return s.drop(synstamp.ErrPacketDrop)
	}

	tfrm, err := tcp.NewFrame(ifrm.Payload())
	if err != nil {
		return s.drop(err)
	}
	tfrm.ValidateSize(&s.validator)
	if err = s.validator.ErrPop(); err != nil {
		return s.drop(err)
	}
	var crc synstamp.CRC791
	ifrm.CRCWriteTCPPseudo(&crc)
	tfrm.CRCWrite(&crc)
	if crc.Sum16() != tfrm.CRC() {
		return s.drop(synstamp.ErrBadCRC)
	}

	s.stats.TCPInFrames++
	s.stats.TCPInBytes += uint64(n)
	if !s.ports.Demux(frame, OffsetIP) {
		s.stats.Dropped++
	}
	return nil
}

func (s *Stack) drop(reason error) error {
	s.stats.Dropped++
	s.debug("Stack.Recv:drop", slog.String("reason", reason.Error()))
	return reason
}
