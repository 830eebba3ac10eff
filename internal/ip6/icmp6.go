package ip6

import (
	"encoding/binary"
	"errors"
)

// ErrICMPChecksum is returned by DecodeEcho when the checksum does not
// verify against src/dst.
var ErrICMPChecksum = errors.New("ip6: icmpv6 checksum mismatch")

// ICMPv6 message types this stack implements (spec §4.5: "ICMPv6 supports
// Echo Request/Reply and Destination Unreachable (No Route)").
const (
	ICMPTypeDestinationUnreachable uint8 = 1
	ICMPTypeEchoRequest            uint8 = 128
	ICMPTypeEchoReply              uint8 = 129
)

// Destination Unreachable codes (RFC 4443 §3.1).
const (
	ICMPCodeNoRoute uint8 = 0
)

// ICMPHeaderLen is the fixed 4-byte ICMPv6 header (type, code, checksum).
const ICMPHeaderLen = 4

// EchoMessage is an ICMPv6 Echo Request/Reply body (RFC 4443 §4).
type EchoMessage struct {
	Identifier     uint16
	SequenceNumber uint16
	Data           []byte
}

// EncodeEcho serializes an Echo Request or Reply (icmpType must be
// ICMPTypeEchoRequest or ICMPTypeEchoReply), checksummed against src/dst.
func EncodeEcho(icmpType uint8, e EchoMessage, src, dst [16]byte) []byte {
	body := make([]byte, 8+len(e.Data))
	body[0] = icmpType
	body[1] = 0
	binary.BigEndian.PutUint16(body[4:6], e.Identifier)
	binary.BigEndian.PutUint16(body[6:8], e.SequenceNumber)
	copy(body[8:], e.Data)

	sum := ChecksumBytes(body, src, dst, NextHeaderICMPv6)
	binary.BigEndian.PutUint16(body[2:4], sum)
	return body
}

// DecodeEcho parses raw as an ICMPv6 Echo Request/Reply, verifying its
// checksum. Returns the message type actually found.
func DecodeEcho(raw []byte, src, dst [16]byte) (icmpType uint8, e EchoMessage, err error) {
	if len(raw) < 8 {
		return 0, EchoMessage{}, ErrTooShort
	}
	if sum := ChecksumBytes(raw, src, dst, NextHeaderICMPv6); sum != 0 {
		return 0, EchoMessage{}, ErrICMPChecksum
	}
	e = EchoMessage{
		Identifier:     binary.BigEndian.Uint16(raw[4:6]),
		SequenceNumber: binary.BigEndian.Uint16(raw[6:8]),
		Data:           append([]byte{}, raw[8:]...),
	}
	return raw[0], e, nil
}

// EncodeDestinationUnreachable builds a Destination Unreachable message
// whose body carries as much of the offending original datagram as fits
// (RFC 4443 §3.1: "As much of invoking packet as possible without the
// ICMPv6 packet exceeding the minimum IPv6 MTU"). originalDatagram is the
// full IPv6 datagram (header included) that could not be forwarded.
func EncodeDestinationUnreachable(code uint8, originalDatagram []byte, src, dst [16]byte) []byte {
	maxOriginal := MTU - HeaderLen - ICMPHeaderLen - 4
	if len(originalDatagram) > maxOriginal {
		originalDatagram = originalDatagram[:maxOriginal]
	}
	body := make([]byte, 8+len(originalDatagram))
	body[0] = ICMPTypeDestinationUnreachable
	body[1] = code
	copy(body[8:], originalDatagram)

	sum := ChecksumBytes(body, src, dst, NextHeaderICMPv6)
	binary.BigEndian.PutUint16(body[2:4], sum)
	return body
}
