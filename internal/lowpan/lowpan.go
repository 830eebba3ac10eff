// Package lowpan implements the 6LoWPAN header compression codec: LOWPAN_IPHC
// base-header compression (RFC 6282), LOWPAN_NHC extension-header and UDP
// compression, and the RFC 4944 mesh and fragment headers used to carry IPv6
// datagrams over 802.15.4 frames (spec §4.3). There is no third-party 6LoWPAN
// library available for this; this package is hand-rolled domain code, a
// wire codec written by hand rather than pulled from a dependency.
package lowpan

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/threadcore/node/internal/buf"
	"github.com/threadcore/node/internal/mac"
)

// ip6HeaderLen is the fixed IPv6 base header size (RFC 8200).
const ip6HeaderLen = 40

// Sentinel errors for the compress/decompress paths.
var (
	// ErrTooShort indicates a buffer too small to hold a claimed field.
	ErrTooShort = errors.New("lowpan: buffer too short")
	// ErrUnsupportedDispatch indicates the first byte(s) match no dispatch
	// this codec understands.
	ErrUnsupportedDispatch = errors.New("lowpan: unsupported dispatch")
	// ErrNoContext indicates a context-based address compression referenced
	// a context ID absent from the supplied table.
	ErrNoContext = errors.New("lowpan: unknown context id")
)

// Context is one entry of the on-mesh prefix table used to compress/
// decompress addresses whose prefix is neither link-local nor the mesh-local
// prefix (spec §4.3: "context prefix (by context-id from NetworkData)").
type Context struct {
	Prefix       [16]byte
	PrefixLength uint8
	ContextID    uint8
}

func findContext(addr [16]byte, contexts []Context) (Context, bool) {
	best := Context{}
	found := false
	for _, c := range contexts {
		if prefixMatches(addr, c.Prefix, c.PrefixLength) {
			if !found || c.PrefixLength > best.PrefixLength {
				best = c
				found = true
			}
		}
	}
	return best, found
}

func contextByID(id uint8, contexts []Context) (Context, bool) {
	for _, c := range contexts {
		if c.ContextID == id {
			return c, true
		}
	}
	return Context{}, false
}

func prefixMatches(addr, prefix [16]byte, bits uint8) bool {
	fullBytes := bits / 8
	for i := uint8(0); i < fullBytes; i++ {
		if addr[i] != prefix[i] {
			return false
		}
	}
	rem := bits % 8
	if rem == 0 {
		return true
	}
	mask := byte(0xff << (8 - rem))
	return addr[fullBytes]&mask == prefix[fullBytes]&mask
}

// LOWPAN_HC dispatch and control bits (RFC 6282 §3.1).
const (
	hcDispatch     = 3 << 13
	hcDispatchMask = 7 << 13

	hcTrafficFlowMask = 3 << 11
	hcTrafficClass    = 1 << 11
	hcFlowLabel       = 2 << 11
	hcTrafficFlow     = 3 << 11

	hcNextHeader = 1 << 10

	hcHopLimitMask = 3 << 8
	hcHopLimit1    = 1 << 8
	hcHopLimit64   = 2 << 8
	hcHopLimit255  = 3 << 8

	hcContextID = 1 << 7

	hcSrcAddrContext   = 1 << 6
	hcSrcAddrModeShift = 4
	hcSrcAddrModeMask  = 3 << hcSrcAddrModeShift

	hcMulticast      = 1 << 3
	hcDstAddrContext = 1 << 2
	hcDstAddrModeMask = 3 << 0
)

// ip6Header is the minimal set of IPv6 base-header fields the compressor and
// decompressor read and write; not the system's canonical IPv6 header type
// (internal/ip6 owns that), just the compression codec's own view of it.
type ip6Header struct {
	trafficClass uint8
	flowLabel    uint32
	payloadLen   uint16
	nextHeader   uint8
	hopLimit     uint8
	src, dst     [16]byte
}

func parseIP6Header(b []byte) (ip6Header, error) {
	if len(b) < ip6HeaderLen {
		return ip6Header{}, ErrTooShort
	}
	vtf := binary.BigEndian.Uint32(b[0:4])
	var h ip6Header
	h.trafficClass = uint8((vtf >> 20) & 0xff)
	h.flowLabel = vtf & 0xfffff
	h.payloadLen = binary.BigEndian.Uint16(b[4:6])
	h.nextHeader = b[6]
	h.hopLimit = b[7]
	copy(h.src[:], b[8:24])
	copy(h.dst[:], b[24:40])
	return h, nil
}

func (h ip6Header) encode() []byte {
	out := make([]byte, ip6HeaderLen)
	vtf := uint32(6)<<28 | uint32(h.trafficClass)<<20 | h.flowLabel
	binary.BigEndian.PutUint32(out[0:4], vtf)
	binary.BigEndian.PutUint16(out[4:6], h.payloadLen)
	out[6] = h.nextHeader
	out[7] = h.hopLimit
	copy(out[8:24], h.src[:])
	copy(out[24:40], h.dst[:])
	return out
}

// Compress reads the full IPv6 datagram carried by message (starting at
// payload offset 0) and returns its 6LoWPAN-compressed encoding, ready to use
// as a MAC frame payload (spec §4.3).
func Compress(message *buf.Message, macSrc, macDst mac.Address, contexts []Context) ([]byte, error) {
	raw := make([]byte, message.Length()-message.Reserved())
	if n := message.Read(0, raw); n != len(raw) {
		return nil, fmt.Errorf("lowpan: short read (%d of %d)", n, len(raw))
	}
	return CompressBytes(raw, macSrc, macDst, contexts)
}

// CompressBytes is the byte-slice-oriented core of Compress, split out so
// tests and the MeshForwarder can compress without allocating a Message.
func CompressBytes(datagram []byte, macSrc, macDst mac.Address, contexts []Context) ([]byte, error) {
	h, err := parseIP6Header(datagram)
	if err != nil {
		return nil, err
	}
	rest := datagram[ip6HeaderLen:]

	hc := uint16(hcDispatch)

	src := compressAddr(h.src, macSrc, contexts, false)
	dst := compressAddr(h.dst, macDst, contexts, true)

	if src.context {
		hc |= hcSrcAddrContext
	}
	hc |= uint16(src.mode) << hcSrcAddrModeShift
	if dst.multicast {
		hc |= hcMulticast
	}
	if dst.context {
		hc |= hcDstAddrContext
	}
	hc |= uint16(dst.mode)

	out := make([]byte, 2, len(datagram))

	if src.context || dst.context {
		hc |= hcContextID
		out = append(out, src.ctxID<<4|dst.ctxID)
	}

	switch {
	case h.trafficClass == 0 && h.flowLabel == 0:
		hc |= hcTrafficFlow
	case h.flowLabel == 0:
		hc |= hcTrafficClass
		out = append(out, h.trafficClass)
	case h.trafficClass == 0:
		hc |= hcFlowLabel
		out = append(out, byte(h.flowLabel>>16), byte(h.flowLabel>>8), byte(h.flowLabel))
	default:
		out = append(out, h.trafficClass, byte(h.flowLabel>>16), byte(h.flowLabel>>8), byte(h.flowLabel))
	}

	switch h.hopLimit {
	case 1:
		hc |= hcHopLimit1
	case 64:
		hc |= hcHopLimit64
	case 255:
		hc |= hcHopLimit255
	default:
		out = append(out, h.hopLimit)
	}

	out = append(out, src.bytes...)
	out = append(out, dst.bytes...)

	var tail []byte
	if compressed, ok := compressNextHeaders(h.nextHeader, rest); ok {
		hc |= hcNextHeader
		tail = compressed
	} else {
		tail = make([]byte, 1+len(rest))
		tail[0] = h.nextHeader
		copy(tail[1:], rest)
	}

	var hcBytes [2]byte
	binary.BigEndian.PutUint16(hcBytes[:], hc)
	result := append(append([]byte{}, hcBytes[:]...), out[2:]...)
	return append(result, tail...), nil
}

// Decompress is the exact inverse of Compress: it reconstructs a full IPv6
// datagram from a 6LoWPAN-compressed byte stream and writes it into a fresh
// Message allocated from pool (spec §4.3: "Decompress(Compress(x)) = x").
func Decompress(pool *buf.Pool, compressed []byte, macSrc, macDst mac.Address, contexts []Context) (*buf.Message, error) {
	datagram, err := DecompressBytes(compressed, macSrc, macDst, contexts)
	if err != nil {
		return nil, err
	}
	m, err := buf.New(pool, buf.TypeIPv6, 0)
	if err != nil {
		return nil, err
	}
	if err := m.Append(datagram); err != nil {
		return nil, err
	}
	return m, nil
}

// DecompressBytes is the byte-slice-oriented core of Decompress.
func DecompressBytes(compressed []byte, macSrc, macDst mac.Address, contexts []Context) ([]byte, error) {
	if len(compressed) < 2 {
		return nil, ErrTooShort
	}
	hc := binary.BigEndian.Uint16(compressed[0:2])
	if hc&hcDispatchMask != hcDispatch {
		return nil, ErrUnsupportedDispatch
	}
	pos := 2

	var srcCtxID, dstCtxID uint8
	if hc&hcContextID != 0 {
		if pos >= len(compressed) {
			return nil, ErrTooShort
		}
		srcCtxID = compressed[pos] >> 4
		dstCtxID = compressed[pos] & 0x0f
		pos++
	}

	var h ip6Header
	switch hc & hcTrafficFlowMask {
	case hcTrafficFlow:
		// both elided, already zero
	case hcTrafficClass:
		if pos >= len(compressed) {
			return nil, ErrTooShort
		}
		h.trafficClass = compressed[pos]
		pos++
	case hcFlowLabel:
		if pos+3 > len(compressed) {
			return nil, ErrTooShort
		}
		h.flowLabel = uint32(compressed[pos])<<16 | uint32(compressed[pos+1])<<8 | uint32(compressed[pos+2])
		pos += 3
	default: // 00: both inline, 4 bytes
		if pos+4 > len(compressed) {
			return nil, ErrTooShort
		}
		h.trafficClass = compressed[pos]
		h.flowLabel = uint32(compressed[pos+1])<<16 | uint32(compressed[pos+2])<<8 | uint32(compressed[pos+3])
		pos += 4
	}

	switch hc & hcHopLimitMask {
	case hcHopLimit1:
		h.hopLimit = 1
	case hcHopLimit64:
		h.hopLimit = 64
	case hcHopLimit255:
		h.hopLimit = 255
	default:
		if pos >= len(compressed) {
			return nil, ErrTooShort
		}
		h.hopLimit = compressed[pos]
		pos++
	}

	srcMode := uint8((hc & hcSrcAddrModeMask) >> hcSrcAddrModeShift)
	dstMode := uint8(hc & hcDstAddrModeMask)

	src, n, err := decompressAddr(srcMode, hc&hcSrcAddrContext != 0, false, srcCtxID, compressed[pos:], macSrc, contexts)
	if err != nil {
		return nil, err
	}
	h.src = src
	pos += n

	dst, n, err := decompressAddr(dstMode, hc&hcDstAddrContext != 0, hc&hcMulticast != 0, dstCtxID, compressed[pos:], macDst, contexts)
	if err != nil {
		return nil, err
	}
	h.dst = dst
	pos += n

	var payload []byte
	if hc&hcNextHeader != 0 {
		nh, body, err := decompressNextHeaders(compressed[pos:])
		if err != nil {
			return nil, err
		}
		h.nextHeader = nh
		payload = body
	} else {
		if pos >= len(compressed) {
			return nil, ErrTooShort
		}
		h.nextHeader = compressed[pos]
		payload = append([]byte{}, compressed[pos+1:]...)
	}

	h.payloadLen = uint16(len(payload))

	out := h.encode()
	out = append(out, payload...)
	return out, nil
}
