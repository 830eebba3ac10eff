package lowpan

import "encoding/binary"

// LOWPAN_NHC_UDP dispatch (RFC 6282 §4.3).
const (
	udpDispatch     = 0xf0
	udpDispatchMask = 0xf8
	udpChecksum     = 1 << 2
	udpPortMask     = 3 << 0

	udpShortPortBase  = 0xf0b0 // both-compressed range: 0xf0b0-0xf0bf
	udpMediumPortBase = 0xf000 // single-compressed range: 0xf000-0xf0ff
)

const protoUDP = 17

func compressPorts(src, dst uint16) (mode uint8, bytes []byte) {
	switch {
	case inRange(src, udpShortPortBase, 0xf) && inRange(dst, udpShortPortBase, 0xf):
		return 3, []byte{byte(src&0xf)<<4 | byte(dst&0xf)}
	case inRange(dst, udpMediumPortBase, 0xff):
		bytes = make([]byte, 3)
		binary.BigEndian.PutUint16(bytes[0:2], src)
		bytes[2] = byte(dst)
		return 1, bytes
	case inRange(src, udpMediumPortBase, 0xff):
		bytes = make([]byte, 3)
		bytes[0] = byte(src)
		binary.BigEndian.PutUint16(bytes[1:3], dst)
		return 2, bytes
	default:
		bytes = make([]byte, 4)
		binary.BigEndian.PutUint16(bytes[0:2], src)
		binary.BigEndian.PutUint16(bytes[2:4], dst)
		return 0, bytes
	}
}

func inRange(port uint16, base uint16, span uint16) bool {
	return port >= base && port <= base+span
}

func decompressPorts(mode uint8, buf []byte) (src, dst uint16, consumed int, err error) {
	switch mode {
	case 3:
		if len(buf) < 1 {
			return 0, 0, 0, ErrTooShort
		}
		src = udpShortPortBase | uint16(buf[0]>>4)
		dst = udpShortPortBase | uint16(buf[0]&0xf)
		return src, dst, 1, nil
	case 1:
		if len(buf) < 3 {
			return 0, 0, 0, ErrTooShort
		}
		src = binary.BigEndian.Uint16(buf[0:2])
		dst = udpMediumPortBase | uint16(buf[2])
		return src, dst, 3, nil
	case 2:
		if len(buf) < 3 {
			return 0, 0, 0, ErrTooShort
		}
		src = udpMediumPortBase | uint16(buf[0])
		dst = binary.BigEndian.Uint16(buf[1:3])
		return src, dst, 3, nil
	default:
		if len(buf) < 4 {
			return 0, 0, 0, ErrTooShort
		}
		src = binary.BigEndian.Uint16(buf[0:2])
		dst = binary.BigEndian.Uint16(buf[2:4])
		return src, dst, 4, nil
	}
}

// compressUDP implements LOWPAN_NHC_UDP compression (spec §4.3: "UDP:
// LOWPAN_NHC_UDP with optional checksum elision"). This implementation
// always carries the checksum inline; eliding it requires the link layer to
// vouch for datagram integrity, which no driver in this tree currently
// asserts, so the option is implemented on decompress only (for streams
// produced by a peer that does elide) and never exercised on compress.
func compressUDP(rest []byte) ([]byte, error) {
	if len(rest) < 8 {
		return nil, ErrTooShort
	}
	srcPort := binary.BigEndian.Uint16(rest[0:2])
	dstPort := binary.BigEndian.Uint16(rest[2:4])
	checksum := rest[6:8]
	payload := rest[8:]

	mode, portBytes := compressPorts(srcPort, dstPort)
	out := []byte{udpDispatch | mode}
	out = append(out, portBytes...)
	out = append(out, checksum...)
	out = append(out, payload...)
	return out, nil
}

func decompressUDP(buf []byte) (uint8, []byte, error) {
	if len(buf) < 1 {
		return 0, nil, ErrTooShort
	}
	dispatch := buf[0]
	mode := dispatch & udpPortMask
	elideChecksum := dispatch&udpChecksum != 0
	pos := 1

	src, dst, n, err := decompressPorts(mode, buf[pos:])
	if err != nil {
		return 0, nil, err
	}
	pos += n

	var checksum uint16
	if !elideChecksum {
		if len(buf) < pos+2 {
			return 0, nil, ErrTooShort
		}
		checksum = binary.BigEndian.Uint16(buf[pos : pos+2])
		pos += 2
	}

	payload := buf[pos:]
	header := make([]byte, 8)
	binary.BigEndian.PutUint16(header[0:2], src)
	binary.BigEndian.PutUint16(header[2:4], dst)
	binary.BigEndian.PutUint16(header[4:6], uint16(8+len(payload)))
	binary.BigEndian.PutUint16(header[6:8], checksum)

	return protoUDP, append(header, payload...), nil
}
