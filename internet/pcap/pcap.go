// Package pcap reads and writes Ethernet frames in the libpcap file format
// and renders frames as one-line summaries. It lets a [internet.Stack] use a
// capture file as its link: a [Writer] records transmitted frames and a
// [Reader] replays captured frames into the receive path.
package pcap

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/slashdev/synstamp/tcp"
)

// DefaultSnapLen is the snapshot length written to new capture files.
const DefaultSnapLen = 65536

var errLinkType = errors.New("pcap: capture is not Ethernet")

// Writer writes each frame passed to Write as one packet record of a pcap capture.
type Writer struct {
	w *pcapgo.Writer
	// Now returns the timestamp of written records. If nil [time.Now] is used.
	Now func() time.Time
}

// NewWriter writes the file header of an Ethernet capture with snapshot
// length snaplen to w and returns a Writer appending records to it.
// A zero snaplen selects [DefaultSnapLen].
func NewWriter(w io.Writer, snaplen uint32) (*Writer, error) {
	if snaplen == 0 {
		snaplen = DefaultSnapLen
	}
	pw := pcapgo.NewWriter(w)
	err := pw.WriteFileHeader(snaplen, layers.LinkTypeEthernet)
	if err != nil {
		return nil, err
	}
	return &Writer{w: pw}, nil
}

// Write records frame as a single captured packet.
func (w *Writer) Write(frame []byte) (int, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	err := w.w.WritePacket(ci, frame)
	if err != nil {
		return 0, err
	}
	return len(frame), nil
}

// Reader returns one captured Ethernet frame per Read call.
type Reader struct {
	r    *pcapgo.Reader
	last gopacket.CaptureInfo
}

// NewReader reads the pcap file header from r. Captures with a link type
// other than Ethernet are rejected.
func NewReader(r io.Reader) (*Reader, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, err
	}
	if pr.LinkType() != layers.LinkTypeEthernet {
		return nil, errLinkType
	}
	return &Reader{r: pr}, nil
}

// Read copies the next captured frame into b. It returns [io.EOF] after the
// last record and [io.ErrShortBuffer] if b cannot hold the frame.
func (r *Reader) Read(b []byte) (int, error) {
	data, ci, err := r.r.ReadPacketData()
	if err != nil {
		return 0, err
	}
	r.last = ci
	if len(data) > len(b) {
		return 0, io.ErrShortBuffer
	}
	return copy(b, data), nil
}

// CaptureInfo returns the record metadata of the frame returned by the last Read.
func (r *Reader) CaptureInfo() gopacket.CaptureInfo { return r.last }

// Describe returns a one-line summary of an Ethernet frame, for example
//
//	10.0.0.1:1000 -> 10.0.0.2:80 TCP [SYN] seq=16777217 win=1024 len=0
func Describe(frame []byte) string {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	eth, _ := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if eth == nil {
		return fmt.Sprintf("undecodable frame len=%d", len(frame))
	}
	ip, _ := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if ip == nil {
		return fmt.Sprintf("%s -> %s %s len=%d", eth.SrcMAC, eth.DstMAC, eth.EthernetType, len(frame))
	}
	seg, _ := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if seg == nil {
		return fmt.Sprintf("%s -> %s %s len=%d", ip.SrcIP, ip.DstIP, ip.Protocol, len(ip.Payload))
	}
	return fmt.Sprintf("%s:%d -> %s:%d TCP %s seq=%d win=%d len=%d",
		ip.SrcIP, seg.SrcPort, ip.DstIP, seg.DstPort, segmentFlags(seg), seg.Seq, seg.Window, len(seg.Payload))
}

// segmentFlags converts the decoded TCP flag bits to [tcp.Flags].
func segmentFlags(seg *layers.TCP) tcp.Flags {
	var flags tcp.Flags
	for _, f := range [...]struct {
		set  bool
		flag tcp.Flags
	}{
		{seg.FIN, tcp.FlagFIN}, {seg.SYN, tcp.FlagSYN}, {seg.RST, tcp.FlagRST},
		{seg.PSH, tcp.FlagPSH}, {seg.ACK, tcp.FlagACK}, {seg.URG, tcp.FlagURG},
		{seg.ECE, tcp.FlagECE}, {seg.CWR, tcp.FlagCWR}, {seg.NS, tcp.FlagNS},
	} {
		if f.set {
			flags |= f.flag
		}
	}
	return flags
}
