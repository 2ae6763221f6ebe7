package tcp

import (
	"strconv"

	"github.com/slashdev/synstamp"
)

// OptionKind is the kind octet of a TCP option. See [RFC9293] section 3.2.
//
// [RFC9293]: https://datatracker.ietf.org/doc/html/rfc9293
type OptionKind uint8

const (
	OptEnd            OptionKind = 0 // end of option list
	OptNop            OptionKind = 1 // no-operation
	OptMaxSegmentSize OptionKind = 2 // maximum segment size
	OptWindowScale    OptionKind = 3 // window scale
	OptSACKPermitted  OptionKind = 4 // SACK permitted
	OptSACK           OptionKind = 5 // SACK
	OptTimestamps     OptionKind = 8 // timestamps
	OptUserTimeout    OptionKind = 28
)

func (kind OptionKind) String() string {
	switch kind {
	case OptEnd:
		return "end of option list"
	case OptNop:
		return "no-operation"
	case OptMaxSegmentSize:
		return "maximum segment size"
	case OptWindowScale:
		return "window scale"
	case OptSACKPermitted:
		return "SACK permitted"
	case OptSACK:
		return "SACK"
	case OptTimestamps:
		return "timestamps"
	case OptUserTimeout:
		return "user timeout"
	}
	return "OptionKind(" + strconv.Itoa(int(kind)) + ")"
}

// OptionCodec writes and iterates over TCP options.
type OptionCodec struct {
	Flags OptionFlags
}

// OptionFlags modify [OptionCodec] behaviour.
type OptionFlags uint8

const (
	OptFlagSkipSizeValidation OptionFlags = 1 << iota
)

func (flags OptionFlags) HasAny(ofTheseFlags OptionFlags) bool {
	return flags&ofTheseFlags != 0
}

// PutOption16 writes an option with a 16 bit big-endian value. i.e: Maximum segment size.
func (op OptionCodec) PutOption16(dst []byte, kind OptionKind, v uint16) (int, error) {
	return op.PutOption(dst, kind, byte(v>>8), byte(v))
}

// PutOption writes a kind-length-data option to dst and returns the amount of bytes written.
func (op OptionCodec) PutOption(dst []byte, kind OptionKind, data ...byte) (int, error) {
	putSize := 2 + len(data)
	if len(dst) < putSize {
		return -1, synstamp.ErrShortBuffer
	} else if putSize > 255 {
		return -1, synstamp.ErrInvalidLengthField
	} else if kind == OptNop || kind == OptEnd {
		return -1, synstamp.ErrInvalidField
	}
	dst[0] = byte(kind)
	dst[1] = byte(putSize)
	copy(dst[2:], data)
	return putSize, nil
}

// ForEachOption calls fn for every option in opts until the end of option list
// or the end of the buffer. No-operation options are skipped.
func (op OptionCodec) ForEachOption(opts []byte, fn func(OptionKind, []byte) error) error {
	off := 0
	skipSizeValidation := op.Flags.HasAny(OptFlagSkipSizeValidation)
	for off < len(opts) && opts[off] != byte(OptEnd) {
		kind := OptionKind(opts[off])
		off++
		if kind == OptNop {
			continue
		}
		if len(opts[off:]) < 1 {
			return synstamp.ErrShortBuffer
		}
		size := int(opts[off]) // Total option length including kind and length bytes.
		off++
		dataLen := size - 2
		if dataLen < 0 || len(opts[off:]) < dataLen {
			return synstamp.ErrShortBuffer
		}
		if !skipSizeValidation {
			expectSize := -1
			switch kind {
			case OptTimestamps:
				expectSize = 10
			case OptMaxSegmentSize, OptUserTimeout:
				expectSize = 4
			case OptWindowScale:
				expectSize = 3
			case OptSACKPermitted:
				expectSize = 2
			}
			if expectSize != -1 && size != expectSize {
				return synstamp.ErrInvalidLengthField
			}
		}
		err := fn(kind, opts[off:off+dataLen])
		if err != nil {
			return err
		}
		off += dataLen
	}
	return nil
}
