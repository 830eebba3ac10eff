package ip6

import (
	"encoding/binary"

	"github.com/threadcore/node/internal/buf"
)

// sumBytes folds the Internet checksum accumulator (RFC 1071) seed over
// data, mirroring buf.Message.UpdateChecksum's algorithm exactly so the two
// can be combined (pseudo-header bytes live nowhere in the Message chain,
// so they are summed here and carried as the seed into UpdateChecksum).
func sumBytes(seed uint16, data []byte) uint16 {
	sum := uint32(seed)
	i := 0
	for ; i+1 < len(data); i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
	}
	if i < len(data) {
		sum += uint32(data[i]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return uint16(sum)
}

// pseudoHeader builds the 40-byte IPv6 pseudo-header (RFC 8200 §8.1): src
// (16), dst (16), upper-layer length (4), 3 zero bytes, next-header (1).
func pseudoHeader(src, dst [16]byte, upperLen uint32, nextHeader uint8) []byte {
	b := make([]byte, 40)
	copy(b[0:16], src[:])
	copy(b[16:32], dst[:])
	binary.BigEndian.PutUint32(b[32:36], upperLen)
	b[39] = nextHeader
	return b
}

// Checksum computes the Internet checksum of the upper-layer payload at
// [upperOffset, upperOffset+upperLen) in msg (payload-relative, i.e.
// immediately after the IPv6 base header if upperOffset==HeaderLen),
// folded over src/dst's pseudo-header per spec §4.5: "Internet 16-bit
// ones-complement over pseudo-header {src(16), dst(16), length(4),
// zero(3), proto(1)} + upper-layer."
func Checksum(msg *buf.Message, src, dst [16]byte, nextHeader uint8, upperOffset, upperLen int) uint16 {
	seed := sumBytes(0, pseudoHeader(src, dst, uint32(upperLen), nextHeader))
	sum := msg.UpdateChecksum(seed, upperOffset, upperLen)
	return ^sum
}

// ChecksumBytes is Checksum's byte-slice-oriented twin, used where the
// upper-layer payload is a plain []byte rather than a buf.Message (e.g.
// while building an ICMPv6 or UDP datagram before it is ever placed into a
// Message).
func ChecksumBytes(upperLayer []byte, src, dst [16]byte, nextHeader uint8) uint16 {
	seed := sumBytes(0, pseudoHeader(src, dst, uint32(len(upperLayer)), nextHeader))
	sum := sumBytes(seed, upperLayer)
	return ^sum
}
