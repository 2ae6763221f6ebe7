package synstamp

type errGeneric uint8

// Generic errors common to internet functioning.
const (
	_                     errGeneric = iota // non-initialized err
	ErrPacketDrop                           // packet dropped
	ErrBadCRC                               // incorrect checksum
	ErrShortBuffer                          // short buffer
	ErrInvalidConfig                        // invalid configuration
	ErrInvalidLengthField                   // invalid length field
	ErrInvalidField                         // invalid field
	ErrZeroSource                           // zero source(port/addr)
	ErrZeroDestination                      // zero destination(port/addr)
	ErrMismatch                             // mismatch
)

func (err errGeneric) Error() string {
	return err.String()
}

func (err errGeneric) String() string {
	switch err {
	case ErrPacketDrop:
		return "packet dropped"
	case ErrBadCRC:
		return "incorrect checksum"
	case ErrShortBuffer:
		return "short buffer"
	case ErrInvalidConfig:
		return "invalid configuration"
	case ErrInvalidLengthField:
		return "invalid length field"
	case ErrInvalidField:
		return "invalid field"
	case ErrZeroSource:
		return "zero source(port/addr)"
	case ErrZeroDestination:
		return "zero destination(port/addr)"
	case ErrMismatch:
		return "mismatch"
	}
	return "non-initialized err"
}
