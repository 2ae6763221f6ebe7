package tcp_test

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/slashdev/synstamp"
	"github.com/slashdev/synstamp/ipv4"
	"github.com/slashdev/synstamp/tcp"
)

const testOffIP = 14

var wantSYNOptions = []byte{0x02, 0x04, 0x04, 0x00, 0x03, 0x03, 0x00, 0x00}

// testLink writes a bare IPv4 header on PrepareIP and records transmitted frames.
type testLink struct {
	buf    []byte
	src    [4]byte
	frames [][]byte
	err    error
}

func (l *testLink) PrepareIP(proto synstamp.IPProto, dst [4]byte, dstHW [6]byte) {
	copy(l.buf[:6], dstHW[:])
	ifrm, _ := ipv4.NewFrame(l.buf[testOffIP:])
	ifrm.ClearHeader()
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTTL(ipv4.DefaultTTL)
	ifrm.SetProtocol(proto)
	*ifrm.SourceAddr() = l.src
	*ifrm.DestinationAddr() = dst
}

func (l *testLink) Transmit(frameLen int) error {
	if l.err != nil {
		return l.err
	}
	l.frames = append(l.frames, append([]byte(nil), l.buf[:frameLen]...))
	return nil
}

func newTestStamper(t *testing.T, counter *tcp.SeqCounter) (*tcp.SYNStamper, *testLink) {
	t.Helper()
	link := &testLink{buf: make([]byte, 1514), src: [4]byte{10, 0, 0, 1}}
	var s tcp.SYNStamper
	err := s.Reset(tcp.StamperConfig{
		Out:      link.buf,
		OffsetIP: testOffIP,
		Counter:  counter,
		Network:  link,
		Link:     link,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &s, link
}

// checkFrame verifies both checksums of a transmitted frame and returns its TCP segment.
func checkFrame(t *testing.T, frame []byte) (ipv4.Frame, tcp.Frame) {
	t.Helper()
	ifrm, err := ipv4.NewFrame(frame[testOffIP:])
	if err != nil {
		t.Fatal(err)
	}
	if int(ifrm.TotalLength()) != len(frame)-testOffIP {
		t.Fatalf("total length %d does not match frame length %d", ifrm.TotalLength(), len(frame)-testOffIP)
	}
	if got := ifrm.CalculateHeaderCRC(); got != ifrm.CRC() {
		t.Errorf("IPv4 header checksum want %#04x, got %#04x", got, ifrm.CRC())
	}
	tfrm, err := tcp.NewFrame(ifrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	var crc synstamp.CRC791
	ifrm.CRCWriteTCPPseudo(&crc)
	tfrm.CRCWrite(&crc)
	if got := crc.Sum16(); got != tfrm.CRC() {
		t.Errorf("TCP checksum want %#04x, got %#04x", got, tfrm.CRC())
	}
	return ifrm, tfrm
}

func TestSeqCounterWrap(t *testing.T) {
	c := tcp.NewSeqCounter(254)
	want := []uint8{254, 255, 0, 1}
	for i, w := range want {
		if c.Peek() != w {
			t.Errorf("%d: peek want %d, got %d", i, w, c.Peek())
		}
		if got := c.Next(); got != w {
			t.Errorf("%d: next want %d, got %d", i, w, got)
		}
	}
}

func TestStamperReset(t *testing.T) {
	link := &testLink{buf: make([]byte, 64)}
	var s tcp.SYNStamper
	err := s.Reset(tcp.StamperConfig{Out: link.buf, OffsetIP: testOffIP, Network: link, Link: link})
	if !errors.Is(err, synstamp.ErrInvalidConfig) {
		t.Errorf("missing counter: want ErrInvalidConfig, got %v", err)
	}
	err = s.Reset(tcp.StamperConfig{Out: link.buf[:testOffIP+20+27], OffsetIP: testOffIP, Counter: tcp.NewSeqCounter(1), Network: link, Link: link})
	if !errors.Is(err, synstamp.ErrShortBuffer) {
		t.Errorf("short buffer: want ErrShortBuffer, got %v", err)
	}
}

func TestStamperSYN(t *testing.T) {
	s, link := newTestStamper(t, tcp.NewSeqCounter(tcp.DefaultSeqStart))
	dst := [4]byte{10, 0, 0, 2}
	dstHW := [6]byte{0xde, 0xad, 0xbe, 0xef, 0, 1}
	err := s.Stamp(1000, dst, 80, dstHW, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(link.frames) != 1 {
		t.Fatalf("want 1 frame, got %d", len(link.frames))
	}
	frame := link.frames[0]
	if len(frame) != testOffIP+20+28 {
		t.Fatalf("want frame length %d, got %d", testOffIP+20+28, len(frame))
	}
	if !bytes.Equal(frame[:6], dstHW[:]) {
		t.Errorf("destination hardware address not passed to network layer: %x", frame[:6])
	}
	ifrm, tfrm := checkFrame(t, frame)
	if *ifrm.DestinationAddr() != dst {
		t.Errorf("want destination %v, got %v", dst, *ifrm.DestinationAddr())
	}
	if ifrm.TotalLength() != 48 {
		t.Errorf("want total length 48, got %d", ifrm.TotalLength())
	}
	seg := frame[testOffIP+20:]
	if seg[12] != 0x70 {
		t.Errorf("want data offset byte 0x70, got %#02x", seg[12])
	}
	if seg[13] != 0x02 {
		t.Errorf("want flags byte 0x02, got %#02x", seg[13])
	}
	if tfrm.SourcePort() != 1000 || tfrm.DestinationPort() != 80 {
		t.Errorf("want ports 1000->80, got %d->%d", tfrm.SourcePort(), tfrm.DestinationPort())
	}
	if tfrm.Seq() != 0x01000001 {
		t.Errorf("want seq 0x01000001, got %#08x", tfrm.Seq())
	}
	if tfrm.Ack() != 0 || tfrm.UrgentPtr() != 0 {
		t.Errorf("want zero ack and urgent pointer, got %d %d", tfrm.Ack(), tfrm.UrgentPtr())
	}
	if tfrm.WindowSize() != 1024 {
		t.Errorf("want window 1024, got %d", tfrm.WindowSize())
	}
	if tfrm.CRC() == 0 {
		t.Error("zero TCP checksum")
	}
	if !bytes.Equal(tfrm.Options(), wantSYNOptions) {
		t.Errorf("want options %x, got %x", wantSYNOptions, tfrm.Options())
	}
	var codec tcp.OptionCodec
	var gotMSS, gotWS = -1, -1
	err = codec.ForEachOption(tfrm.Options(), func(kind tcp.OptionKind, data []byte) error {
		switch kind {
		case tcp.OptMaxSegmentSize:
			gotMSS = int(data[0])<<8 | int(data[1])
		case tcp.OptWindowScale:
			gotWS = int(data[0])
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotMSS != 1024 || gotWS != 0 {
		t.Errorf("want MSS 1024 and window scale 0, got %d %d", gotMSS, gotWS)
	}
}

func TestStamperFixedHeaderFields(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	counter := tcp.NewSeqCounter(tcp.DefaultSeqStart)
	s, link := newTestStamper(t, counter)
	const nsegs = 600
	var payload [64]byte
	for i := 0; i < nsegs; i++ {
		var dst [4]byte
		rng.Read(dst[:])
		plen := rng.Intn(len(payload))
		rng.Read(payload[:plen])
		err := s.Stamp(uint16(rng.Uint32())|1, dst, uint16(rng.Uint32())|1, [6]byte{}, func(b []byte) int {
			return copy(b, payload[:plen])
		})
		if err != nil {
			t.Fatal(err)
		}
		frame := link.frames[len(link.frames)-1]
		_, tfrm := checkFrame(t, frame)
		seg := frame[testOffIP+20:]
		if seg[12] != 0x70 || seg[13] != 0x02 {
			t.Fatalf("%d: want offset/flags 0x70 0x02, got %#02x %#02x", i, seg[12], seg[13])
		}
		if !bytes.Equal(seg[20:28], wantSYNOptions) {
			t.Fatalf("%d: want options %x, got %x", i, wantSYNOptions, seg[20:28])
		}
		wantSeq := tcp.Value(0x01000000) | tcp.Value(uint8(i+tcp.DefaultSeqStart))
		if tfrm.Seq() != wantSeq {
			t.Fatalf("%d: want seq %#08x, got %#08x", i, wantSeq, tfrm.Seq())
		}
		if !bytes.Equal(seg[28:], payload[:plen]) {
			t.Fatalf("%d: payload mismatch", i)
		}
	}
	end := nsegs + tcp.DefaultSeqStart
	if counter.Peek() != uint8(end) {
		t.Errorf("want counter at %d, got %d", uint8(end), counter.Peek())
	}
}

func TestStamperSharedCounter(t *testing.T) {
	counter := tcp.NewSeqCounter(255)
	s1, l1 := newTestStamper(t, counter)
	s2, l2 := newTestStamper(t, counter)
	dst := [4]byte{192, 168, 1, 1}
	if err := s1.Stamp(1, dst, 2, [6]byte{}, nil); err != nil {
		t.Fatal(err)
	}
	if err := s2.Stamp(1, dst, 2, [6]byte{}, nil); err != nil {
		t.Fatal(err)
	}
	_, t1 := checkFrame(t, l1.frames[0])
	_, t2 := checkFrame(t, l2.frames[0])
	if t1.Seq() != 0x010000ff || t2.Seq() != 0x01000000 {
		t.Errorf("want seqs 0x010000ff then 0x01000000, got %#08x %#08x", t1.Seq(), t2.Seq())
	}
}

func TestStamperSendErrors(t *testing.T) {
	s, link := newTestStamper(t, tcp.NewSeqCounter(tcp.DefaultSeqStart))
	payload := s.Prepare(1, [4]byte{1, 2, 3, 4}, 2, [6]byte{})
	if err := s.Send(len(payload) + 1); !errors.Is(err, synstamp.ErrShortBuffer) {
		t.Errorf("oversized payload: want ErrShortBuffer, got %v", err)
	}
	if err := s.Send(-1); !errors.Is(err, synstamp.ErrShortBuffer) {
		t.Errorf("negative payload: want ErrShortBuffer, got %v", err)
	}
	linkErr := errors.New("link down")
	link.err = linkErr
	if err := s.Send(0); err != linkErr {
		t.Errorf("want link error, got %v", err)
	}
	if len(link.frames) != 0 {
		t.Errorf("want no frames recorded, got %d", len(link.frames))
	}
}

func TestChecksumTCPMatchesPseudoHeader(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	buf := make([]byte, 20+20+301)
	for i := 0; i < 100; i++ {
		seglen := 20 + rng.Intn(281)
		rng.Read(buf)
		ifrm, _ := ipv4.NewFrame(buf)
		ifrm.SetVersionAndIHL(4, 5)
		ifrm.SetProtocol(synstamp.IPProtoTCP)
		ifrm.SetTotalLength(uint16(20 + seglen))
		tfrm, _ := tcp.NewFrame(buf[20 : 20+seglen])
		tfrm.SetCRC(0)
		var crc synstamp.CRC791
		ifrm.CRCWriteTCPPseudo(&crc)
		tfrm.CRCWrite(&crc)
		want := crc.Sum16()
		got := synstamp.Checksum(buf[12:], seglen, synstamp.ChecksumTCP)
		if got != want {
			t.Fatalf("seglen=%d: want %#04x, got %#04x", seglen, want, got)
		}
	}
}
