package lowpan

// LOWPAN_NHC extension-header dispatch (RFC 6282 §4.2). Constant names and
// values are taken directly from the Thread stack's Lowpan class (spec §4.3:
// "Dispatch-to-next-header: tag bits 11100xxx (kExtHdrDispatch) map low 3
// bits (kExtHdrEidMask) to {HopByHop=0, Routing=2, Fragment=4, DstOpts=6,
// Mobility=8, IPv6=14}").
const (
	extHdrDispatch     = 0xe0
	extHdrDispatchMask = 0xf0
	extHdrEidMask      = 0x0e
	extHdrNextHeader   = 0x01 // NH-inline bit

	extHdrEidHbh      = 0x00
	extHdrEidRouting  = 0x02
	extHdrEidFragment = 0x04
	extHdrEidDst      = 0x06
	extHdrEidMobility = 0x08
	extHdrEidIP6      = 0x0e
)

// IPv6 next-header protocol numbers this codec knows how to NHC-compress.
const (
	protoHopByHop  = 0
	protoRouting   = 43
	protoFragment  = 44
	protoDstOpts   = 60
	protoMobility  = 135
	protoIPv6inIP6 = 41
)

// DispatchToNextHeader maps an NHC extension-header dispatch byte to the
// IPv6 next-header protocol number it represents (spec §4.3).
func DispatchToNextHeader(dispatch byte) (uint8, error) {
	switch dispatch & extHdrEidMask {
	case extHdrEidHbh:
		return protoHopByHop, nil
	case extHdrEidRouting:
		return protoRouting, nil
	case extHdrEidFragment:
		return protoFragment, nil
	case extHdrEidDst:
		return protoDstOpts, nil
	case extHdrEidMobility:
		return protoMobility, nil
	case extHdrEidIP6:
		return protoIPv6inIP6, nil
	default:
		return 0, ErrUnsupportedDispatch
	}
}

func extHeaderEID(nextHeader uint8) (eid byte, ok bool) {
	switch nextHeader {
	case protoHopByHop:
		return extHdrEidHbh, true
	case protoRouting:
		return extHdrEidRouting, true
	case protoFragment:
		return extHdrEidFragment, true
	case protoDstOpts:
		return extHdrEidDst, true
	case protoMobility:
		return extHdrEidMobility, true
	default:
		return 0, false
	}
}

// compressNextHeaders handles the one NHC-compressible header that
// immediately follows the IPv6 base header: either LOWPAN_NHC_UDP directly,
// or a single generic extension header (HopByHop/Routing/Fragment/DstOpts/
// Mobility) whose own next-header value is carried inline. Anything
// following that one compressed header is copied through uncompressed —
// chaining a second NHC-compressed header is out of scope here, a
// deliberate reduction from the full Thread stack's recursive compressor.
func compressNextHeaders(nextHeader uint8, rest []byte) (tail []byte, ok bool) {
	if nextHeader == protoUDP {
		out, err := compressUDP(rest)
		if err != nil {
			return nil, false
		}
		return out, true
	}

	eid, isExt := extHeaderEID(nextHeader)
	if !isExt {
		return nil, false
	}
	if len(rest) < 2 {
		return nil, false
	}

	realNH := rest[0]
	var hdrLen int
	if nextHeader == protoFragment {
		hdrLen = 8
	} else {
		hdrLen = (int(rest[1]) + 1) * 8
	}
	if len(rest) < hdrLen {
		return nil, false
	}

	headerData := rest[2:hdrLen]
	afterExt := rest[hdrLen:]

	out := []byte{extHdrDispatch | eid | extHdrNextHeader, realNH, byte(len(headerData))}
	out = append(out, headerData...)
	out = append(out, afterExt...)
	return out, true
}

// decompressNextHeaders is the inverse of compressNextHeaders.
func decompressNextHeaders(buf []byte) (nextHeader uint8, body []byte, err error) {
	if len(buf) < 1 {
		return 0, nil, ErrTooShort
	}

	if buf[0]&udpDispatchMask == udpDispatch {
		return decompressUDP(buf)
	}

	if buf[0]&extHdrDispatchMask != extHdrDispatch {
		return 0, nil, ErrUnsupportedDispatch
	}
	if len(buf) < 3 {
		return 0, nil, ErrTooShort
	}

	nh, err := DispatchToNextHeader(buf[0])
	if err != nil {
		return 0, nil, err
	}
	realNH := buf[1]
	length := int(buf[2])
	if len(buf) < 3+length {
		return 0, nil, ErrTooShort
	}
	headerData := buf[3 : 3+length]
	afterExt := buf[3+length:]

	var rebuilt []byte
	if nh == protoFragment {
		rebuilt = append([]byte{realNH, 0x00}, headerData...)
	} else {
		hdrExtLen := byte((len(headerData)+2)/8 - 1)
		rebuilt = append([]byte{realNH, hdrExtLen}, headerData...)
	}
	rebuilt = append(rebuilt, afterExt...)

	return nh, rebuilt, nil
}
