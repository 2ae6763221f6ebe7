package synstamp

import (
	"encoding/binary"
)

// CRC791 function as defined by RFC 791. The Checksum field for TCP+IP
// is the 16-bit ones' complement of the ones' complement sum of
// all 16-bit words in the header. In case of uneven number of octet the
// last word is LSB padded with zeros.
//
// The zero value of CRC791 is ready to use.
type CRC791 struct {
	sum uint32
}

func checksum16(sum uint32) uint16 {
	sum = (sum & 0xffff) + sum>>16
	// the max value of sum at this point is 0x1fffe, so an additional round is enough
	return ^uint16(sum + sum>>16)
}

func checksumWriteEven(sum uint32, buff []byte) uint32 {
	for i := 0; i < len(buff); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(buff[i:]))
	}
	return sum
}

// WriteEven adds the bytes in buff to the running checksum. The buffer size must be even or the function will panic.
func (c *CRC791) WriteEven(buff []byte) {
	c.sum = checksumWriteEven(c.sum, buff)
}

// Write adds the bytes in buff to the running checksum. Write may only be called
// once with an odd length buffer, and it must be the last write before [CRC791.Sum16].
func (c *CRC791) Write(buff []byte) {
	odd := len(buff) & 1
	c.sum = checksumWriteEven(c.sum, buff[:len(buff)-odd])
	if odd > 0 {
		c.sum += uint32(buff[len(buff)-1]) << 8
	}
}

// AddUint32 adds a 32 bit value to the running checksum interpreted as BigEndian (network order).
func (c *CRC791) AddUint32(value uint32) {
	c.AddUint16(uint16(value >> 16))
	c.AddUint16(uint16(value))
}

// AddUint16 adds a 16 bit value to the running checksum interpreted as BigEndian (network order).
func (c *CRC791) AddUint16(value uint16) {
	c.sum += uint32(value)
}

// Sum16 calculates the checksum with the data written to c thus far.
func (c *CRC791) Sum16() uint16 {
	return checksum16(c.sum)
}

// PayloadSum16 returns the checksum resulting by adding the bytes in p to the running checksum.
func (c *CRC791) PayloadSum16(buff []byte) uint16 {
	odd := len(buff) & 1
	sum := checksumWriteEven(c.sum, buff[:len(buff)-odd])
	if odd > 0 {
		sum += uint32(buff[len(buff)-1]) << 8
	}
	return checksum16(sum)
}

// Reset zeros out the CRC791, resetting it to the initial state.
func (c *CRC791) Reset() { *c = CRC791{} }

// NeverZeroChecksum ensures that the given checksum is not zero, by returning 0xffff instead.
func NeverZeroChecksum(sum16 uint16) uint16 {
	// 0x0000 and 0xffff are the same number in ones' complement math
	if sum16 == 0 {
		return 0xffff
	}
	return sum16
}

// ChecksumVariant selects the region and pseudo-header composition used by [Checksum].
type ChecksumVariant uint8

const (
	// ChecksumIP sums the IPv4 header only.
	ChecksumIP ChecksumVariant = iota + 1
	// ChecksumTCP sums the IPv4 address pair, a TCP pseudo-header and the segment.
	ChecksumTCP
	// ChecksumUDP sums the IPv4 address pair, a UDP pseudo-header and the datagram.
	ChecksumUDP
)

// Checksum computes the RFC 791 checksum over a region of a frame buffer.
//
// For [ChecksumIP] buf must start at the first byte of the IPv4 header and length is
// the header length. The checksum field must be zeroed beforehand.
//
// For [ChecksumTCP] and [ChecksumUDP] buf must start at the IPv4 source address
// (source and destination address are contiguous, followed by the transport segment
// when the IPv4 header carries no options) and length is the transport segment length.
// The pseudo-header protocol and length words are added by the variant. The
// transport checksum field must be zeroed beforehand.
//
// Checksum panics if buf is shorter than the region or variant is unknown.
func Checksum(buf []byte, length int, variant ChecksumVariant) uint16 {
	var crc CRC791
	switch variant {
	case ChecksumIP:
		crc.Write(buf[:length])
		return crc.Sum16()
	case ChecksumTCP, ChecksumUDP:
		proto := IPProtoTCP
		if variant == ChecksumUDP {
			proto = IPProtoUDP
		}
		crc.WriteEven(buf[:8]) // Source and destination address.
		crc.AddUint16(uint16(proto))
		crc.AddUint16(uint16(length))
		crc.Write(buf[8 : 8+length])
		return crc.Sum16()
	}
	panic("invalid checksum variant")
}
