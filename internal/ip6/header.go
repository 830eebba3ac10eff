// Package ip6 implements the node's IPv6 core: base-header parse/build,
// the Internet checksum over IPv6's pseudo-header, the extension-header
// walk, ICMPv6 Echo Request/Reply and Destination Unreachable, the UDP
// socket table with ephemeral port allocation, and MPL duplicate
// suppression for realm-local multicast (spec §4.5).
package ip6

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/threadcore/node/internal/buf"
)

// HeaderLen is the fixed IPv6 base header size (RFC 8200 §3).
const HeaderLen = 40

// MTU is the logical IPv6 MTU this stack enforces above 6LoWPAN
// fragmentation (spec §4.8/§9: "MTU: IPv6 = 1280 logical").
const MTU = 1280

// Next-header values this stack recognizes (spec §4.5: "extension headers
// loop (HopByHop, Fragment-single-only, DstOpts, IPv6, Routing, None)").
const (
	NextHeaderHopByHop uint8 = 0
	NextHeaderTCP      uint8 = 6
	NextHeaderUDP      uint8 = 17
	NextHeaderIP6      uint8 = 41
	NextHeaderRouting  uint8 = 43
	NextHeaderFragment uint8 = 44
	NextHeaderICMPv6   uint8 = 58
	NextHeaderNone     uint8 = 59
	NextHeaderDstOpts  uint8 = 60
)

// Sentinel errors.
var (
	ErrTooShort        = errors.New("ip6: buffer shorter than claimed header")
	ErrBadVersion      = errors.New("ip6: version field is not 6")
	ErrFragmentRejected = errors.New("ip6: non-initial or more-fragments IPv6 fragment rejected")
)

// Header is the canonical IPv6 base header (RFC 8200 §3). Distinct from
// internal/lowpan's private ip6Header, which is only the compression
// codec's narrow view of the same bytes.
type Header struct {
	TrafficClass uint8
	FlowLabel    uint32
	PayloadLen   uint16
	NextHeader   uint8
	HopLimit     uint8
	Src, Dst     [16]byte
}

// EncodeHeader serializes h to its 40-byte wire form.
func EncodeHeader(h Header) []byte {
	out := make([]byte, HeaderLen)
	vtf := uint32(6)<<28 | uint32(h.TrafficClass)<<20 | (h.FlowLabel & 0xfffff)
	binary.BigEndian.PutUint32(out[0:4], vtf)
	binary.BigEndian.PutUint16(out[4:6], h.PayloadLen)
	out[6] = h.NextHeader
	out[7] = h.HopLimit
	copy(out[8:24], h.Src[:])
	copy(out[24:40], h.Dst[:])
	return out
}

// DecodeHeader parses the first 40 bytes of raw as an IPv6 base header.
func DecodeHeader(raw []byte) (Header, error) {
	if len(raw) < HeaderLen {
		return Header{}, ErrTooShort
	}
	vtf := binary.BigEndian.Uint32(raw[0:4])
	if vtf>>28 != 6 {
		return Header{}, ErrBadVersion
	}
	h := Header{
		TrafficClass: uint8((vtf >> 20) & 0xff),
		FlowLabel:    vtf & 0xfffff,
		PayloadLen:   binary.BigEndian.Uint16(raw[4:6]),
		NextHeader:   raw[6],
		HopLimit:     raw[7],
	}
	copy(h.Src[:], raw[8:24])
	copy(h.Dst[:], raw[24:40])
	return h, nil
}

// IsMulticast reports whether addr is an IPv6 multicast address (ff00::/8).
func IsMulticast(addr [16]byte) bool { return addr[0] == 0xff }

// ExtensionHeader is one parsed extension header's framing: the 1-byte
// next-header field it carries plus its option bytes.
type ExtensionHeader struct {
	NextHeader uint8
	Options    []byte // raw option bytes, excluding the 2-byte next-header+length prefix
}

// WalkExtensionHeaders walks the extension-header chain starting at
// nextHeader over payload (the bytes immediately following the IPv6 base
// header), per spec §4.5: "extension headers loop (HopByHop, Fragment-
// single-only, DstOpts, IPv6, Routing, None)". It returns the final upper-
// layer protocol number, the byte offset within payload where that upper
// layer begins, and every HopByHop option byte blob encountered (so the
// caller can run MPL dedup on it) in encounter order.
func WalkExtensionHeaders(payload []byte, nextHeader uint8) (upperProto uint8, upperOffset int, hopByHop [][]byte, err error) {
	offset := 0
	for {
		switch nextHeader {
		case NextHeaderHopByHop, NextHeaderDstOpts, NextHeaderRouting:
			if offset+2 > len(payload) {
				return 0, 0, nil, fmt.Errorf("ip6: truncated extension header: %w", ErrTooShort)
			}
			hdrNext := payload[offset]
			hdrLenUnits := payload[offset+1]
			hdrLen := (int(hdrLenUnits) + 1) * 8
			if offset+hdrLen > len(payload) {
				return 0, 0, nil, fmt.Errorf("ip6: extension header length exceeds buffer: %w", ErrTooShort)
			}
			if nextHeader == NextHeaderHopByHop {
				hopByHop = append(hopByHop, append([]byte{}, payload[offset+2:offset+hdrLen]...))
			}
			offset += hdrLen
			nextHeader = hdrNext
		case NextHeaderFragment:
			// spec §9(b): accept only offset-0, more-flag-clear fragment
			// headers; anything else is a retired IPv6-level fragment and
			// rejected outright (6LoWPAN fragmentation is mandatory above
			// one frame instead).
			if offset+8 > len(payload) {
				return 0, 0, nil, fmt.Errorf("ip6: truncated fragment header: %w", ErrTooShort)
			}
			hdrNext := payload[offset]
			fragOffsetAndFlags := binary.BigEndian.Uint16(payload[offset+2 : offset+4])
			fragOffset := fragOffsetAndFlags >> 3
			moreFragments := fragOffsetAndFlags&0x1 != 0
			if fragOffset != 0 || moreFragments {
				return 0, 0, nil, ErrFragmentRejected
			}
			offset += 8
			nextHeader = hdrNext
		case NextHeaderNone:
			return NextHeaderNone, offset, hopByHop, nil
		default:
			return nextHeader, offset, hopByHop, nil
		}
	}
}

// BuildDatagram encodes h followed by upperLayer into a fresh Message from
// pool, with reserveHeader bytes of front room for the caller's later
// Prepend (e.g. a 6LoWPAN/MAC header).
func BuildDatagram(pool *buf.Pool, h Header, upperLayer []byte, reserveHeader int) (*buf.Message, error) {
	h.PayloadLen = uint16(len(upperLayer))
	m, err := buf.New(pool, buf.TypeIPv6, reserveHeader)
	if err != nil {
		return nil, err
	}
	if err := m.Append(EncodeHeader(h)); err != nil {
		return nil, err
	}
	if err := m.Append(upperLayer); err != nil {
		return nil, err
	}
	return m, nil
}
