package tcp

import (
	"log/slog"

	"github.com/slashdev/synstamp"
	"github.com/slashdev/synstamp/ipv4"
)

// NetworkPreparer writes the link and network headers of the outbound frame
// for a datagram of protocol proto addressed to dst at hardware address dstHW.
type NetworkPreparer interface {
	PrepareIP(proto synstamp.IPProto, dst [4]byte, dstHW [6]byte)
}

// LinkTransmitter transmits the first frameLen bytes of the outbound frame buffer.
type LinkTransmitter interface {
	Transmit(frameLen int) error
}

// Fixed SYN segment layout.
const (
	synHeaderWords = 7
	synHeaderLen   = 4 * synHeaderWords
	synWindow      = 1024
	synMSS         = 1024
	synWindowScale = 0
	// seqPattern fills the upper three octets of every stamped sequence number.
	seqPattern Value = 0x01_00_00_00
)

// synOptions is the option block of every SYN: MSS, window scale and end of list.
var synOptions = func() (opts [synHeaderLen - sizeHeaderTCP]byte) {
	var codec OptionCodec
	n, _ := codec.PutOption16(opts[:], OptMaxSegmentSize, synMSS)
	m, _ := codec.PutOption(opts[n:], OptWindowScale, synWindowScale)
	opts[n+m] = byte(OptEnd)
	return opts
}()

// StamperConfig configures a [SYNStamper].
type StamperConfig struct {
	// Out is the outbound frame buffer shared with the network and link layers.
	// Out[0] is the first byte of the link header.
	Out []byte
	// OffsetIP is the offset of the IPv4 header in Out. The header must not carry options.
	OffsetIP int
	// Counter provides the sequence number tag. It may be shared between stampers.
	Counter *SeqCounter
	// Network writes the link and IPv4 headers before the TCP header is stamped.
	Network NetworkPreparer
	// Link transmits the finished frame.
	Link   LinkTransmitter
	Logger *slog.Logger
}

// SYNStamper builds TCP segments with only the SYN flag set in place in a
// shared outbound buffer and hands them to the link layer. It holds no
// connection state: every segment is an independent connection attempt
// with a fixed 28 byte header, window 1024 and MSS 1024.
//
// A SYNStamper is not safe for concurrent use. One frame is assembled at a time
// between [SYNStamper.Prepare] and [SYNStamper.Send].
type SYNStamper struct {
	out   []byte
	offIP int
	seq   *SeqCounter
	net   NetworkPreparer
	link  LinkTransmitter
	logger
}

// Reset configures the stamper. It returns [synstamp.ErrInvalidConfig] when a
// collaborator is missing and [synstamp.ErrShortBuffer] when Out cannot hold
// the headers of a SYN segment.
func (s *SYNStamper) Reset(cfg StamperConfig) error {
	if cfg.Counter == nil || cfg.Network == nil || cfg.Link == nil || cfg.OffsetIP < 0 {
		return synstamp.ErrInvalidConfig
	} else if len(cfg.Out) < cfg.OffsetIP+synstamp.SizeHeaderIPv4+synHeaderLen {
		return synstamp.ErrShortBuffer
	}
	*s = SYNStamper{
		out:    cfg.Out,
		offIP:  cfg.OffsetIP,
		seq:    cfg.Counter,
		net:    cfg.Network,
		link:   cfg.Link,
		logger: logger{log: cfg.Logger},
	}
	return nil
}

// Counter returns the sequence counter the stamper draws tags from.
func (s *SYNStamper) Counter() *SeqCounter { return s.seq }

// Frame returns the TCP segment currently held in the outbound buffer.
func (s *SYNStamper) Frame() Frame {
	return Frame{buf: s.out[s.offTCP():]}
}

func (s *SYNStamper) offTCP() int { return s.offIP + synstamp.SizeHeaderIPv4 }

// Prepare writes the link, IPv4 and TCP headers of a SYN segment from srcPort
// to dstAddr:dstPort into the outbound buffer and returns the buffer
// following the header, where the caller may write payload bytes.
// Prepare consumes one tag of the sequence counter.
func (s *SYNStamper) Prepare(srcPort uint16, dstAddr [4]byte, dstPort uint16, dstHW [6]byte) (payload []byte) {
	s.net.PrepareIP(synstamp.IPProtoTCP, dstAddr, dstHW)
	tfrm := s.Frame()
	tfrm.SetSourcePort(srcPort)
	tfrm.SetDestinationPort(dstPort)
	tfrm.SetSeq(seqPattern | Value(s.seq.Next()))
	tfrm.SetAck(0)
	tfrm.SetOffsetAndFlags(synHeaderWords, FlagSYN)
	tfrm.SetWindowSize(synWindow)
	tfrm.SetCRC(0) // Filled in by Send.
	tfrm.SetUrgentPtr(0)
	copy(tfrm.buf[sizeHeaderTCP:synHeaderLen], synOptions[:])
	if s.logenabled(slog.LevelDebug) {
		s.debug("tcp:prepare",
			slog.Uint64("sport", uint64(srcPort)),
			slog.Uint64("dport", uint64(dstPort)),
			slog.Uint64("seq", uint64(tfrm.Seq())),
		)
	}
	return tfrm.buf[synHeaderLen:]
}

// Send finalizes the segment prepared by [SYNStamper.Prepare] which carries
// payloadLen bytes of payload: it sets the IPv4 total length, computes the
// IPv4 header and TCP checksums and transmits the frame over the link.
// The only errors returned are [synstamp.ErrShortBuffer] for a payload
// length that does not fit the outbound buffer and errors from the link.
func (s *SYNStamper) Send(payloadLen int) error {
	tfrm := s.Frame()
	if payloadLen < 0 || payloadLen > len(tfrm.buf)-tfrm.HeaderLength() {
		return synstamp.ErrShortBuffer
	}
	segLen := tfrm.HeaderLength() + payloadLen

	ip := s.out[s.offIP:]
	ifrm, _ := ipv4.NewFrame(ip)
	ifrm.SetTotalLength(uint16(synstamp.SizeHeaderIPv4 + segLen))
	ifrm.SetCRC(0)
	ifrm.SetCRC(synstamp.Checksum(ip, synstamp.SizeHeaderIPv4, synstamp.ChecksumIP))

	// Checksum region starts at the source address, TCP header follows the address pair.
	tfrm.SetCRC(0)
	tfrm.SetCRC(synstamp.Checksum(ip[12:], segLen, synstamp.ChecksumTCP))

	frameLen := s.offIP + synstamp.SizeHeaderIPv4 + segLen
	s.trace("tcp:send", slog.Int("seglen", segLen), slog.Int("framelen", frameLen), slog.Uint64("crc", uint64(tfrm.CRC())))
	return s.link.Transmit(frameLen)
}

// Stamp builds and sends a single SYN segment. If writePayload is not nil
// it is called with the payload buffer and must return the amount of bytes written.
func (s *SYNStamper) Stamp(srcPort uint16, dstAddr [4]byte, dstPort uint16, dstHW [6]byte, writePayload func(payload []byte) int) error {
	payload := s.Prepare(srcPort, dstAddr, dstPort, dstHW)
	n := 0
	if writePayload != nil {
		n = writePayload(payload)
	}
	return s.Send(n)
}
