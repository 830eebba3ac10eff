// Package coap implements the subset of RFC 7252 (Constrained Application
// Protocol) the Thread control plane rides on: message header parse/build
// (version, type, code, message ID, token, options, payload marker), the
// small option set Thread's address-resolution and network-data protocols
// use, and the six well-known URI paths spec §6 names:
// /a/sd, /a/aq, /a/an, /a/ae, /a/as, /a/ar.
//
// Grounded on original_source/src/coap/coap_header.cpp's field layout; no
// CoAP library exists anywhere in the retrieved example pack, so — same as
// this module's 6LoWPAN and MLE codecs — the wire format is domain code,
// hand-rolled rather than imported.
package coap

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type is the 2-bit CoAP message type (RFC 7252 §3).
type Type uint8

const (
	TypeConfirmable    Type = 0
	TypeNonConfirmable Type = 1
	TypeAcknowledgement Type = 2
	TypeReset           Type = 3
)

func (t Type) String() string {
	switch t {
	case TypeConfirmable:
		return "CON"
	case TypeNonConfirmable:
		return "NON"
	case TypeAcknowledgement:
		return "ACK"
	case TypeReset:
		return "RST"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// Code is the CoAP method/response code, encoded as (class<<5 | detail).
type Code uint8

func NewCode(class, detail uint8) Code { return Code(class<<5 | detail&0x1f) }

const (
	CodeEmpty  Code = 0
	CodeGET    Code = 1
	CodePOST   Code = 2
	CodePUT    Code = 3
	CodeDELETE Code = 4

	CodeChanged Code = (2 << 5) | 4 // 2.04 Changed
	CodeContent Code = (2 << 5) | 5 // 2.05 Content
)

// OptionNumber identifies a CoAP option (RFC 7252 §5.10). Only the two
// Thread's control plane URIs need are implemented.
type OptionNumber uint16

const (
	OptionURIPath      OptionNumber = 11
	OptionContentFormat OptionNumber = 12
)

// ContentFormatOctetStream is the application/octet-stream content-format
// value spec §6 mandates for Thread TLV payloads.
const ContentFormatOctetStream = 42

// ServerPort is the UDP port Thread's CoAP control plane listens on (spec
// §6: "CoAP URIs (MLE/ND control plane, port 19789)").
const ServerPort = 19789

// Well-known Thread control-plane URI paths (spec §6).
const (
	PathServerData        = "a/sd" // server data registration (local -> leader)
	PathAddressQuery       = "a/aq" // address query (multicast)
	PathAddressNotify      = "a/an" // address notification (unicast)
	PathAddressError       = "a/ae" // address error
	PathAddressSolicit     = "a/as" // address solicit (router promotion)
	PathAddressRelease     = "a/ar" // address release
)

// Option is one parsed/to-be-encoded CoAP option.
type Option struct {
	Number OptionNumber
	Value  []byte
}

// Message is a parsed (or about-to-be-encoded) CoAP message.
type Message struct {
	Type      Type
	Code      Code
	MessageID uint16
	Token     []byte // 0-8 bytes
	Options   []Option
	Payload   []byte
}

// Sentinel errors for the codec.
var (
	ErrTooShort       = errors.New("coap: message too short")
	ErrBadVersion     = errors.New("coap: unsupported version")
	ErrTokenTooLong   = errors.New("coap: token length exceeds 8 bytes")
	ErrBadOptionDelta = errors.New("coap: reserved option delta/length 15")
)

const protocolVersion = 1

// Path returns the concatenated URI-Path option values of m joined by '/',
// e.g. "a/aq" for the address-query URI.
func (m *Message) Path() string {
	out := ""
	for _, opt := range m.Options {
		if opt.Number != OptionURIPath {
			continue
		}
		if out != "" {
			out += "/"
		}
		out += string(opt.Value)
	}
	return out
}

// SetPath replaces m's URI-Path options with one option per '/'-separated
// segment of path (e.g. SetPath("a/aq") installs segments "a", "aq").
func (m *Message) SetPath(path string) {
	filtered := m.Options[:0]
	for _, opt := range m.Options {
		if opt.Number != OptionURIPath {
			filtered = append(filtered, opt)
		}
	}
	m.Options = filtered

	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				m.Options = append(m.Options, Option{Number: OptionURIPath, Value: []byte(path[start:i])})
			}
			start = i + 1
		}
	}
}

// Encode serializes m to its RFC 7252 wire form.
func Encode(m *Message) ([]byte, error) {
	if len(m.Token) > 8 {
		return nil, ErrTokenTooLong
	}

	out := make([]byte, 0, 16+len(m.Payload))
	first := byte(protocolVersion<<6) | byte(m.Type)<<4 | byte(len(m.Token)&0x0f)
	out = append(out, first, byte(m.Code))

	var mid [2]byte
	binary.BigEndian.PutUint16(mid[:], m.MessageID)
	out = append(out, mid[:]...)
	out = append(out, m.Token...)

	sortOptionsStable(m.Options)

	prevNumber := OptionNumber(0)
	for _, opt := range m.Options {
		delta := int(opt.Number) - int(prevNumber)
		prevNumber = opt.Number
		out = appendOption(out, delta, opt.Value)
	}

	if len(m.Payload) > 0 {
		out = append(out, 0xff)
		out = append(out, m.Payload...)
	}

	return out, nil
}

// sortOptionsStable orders options by ascending number, required so delta
// encoding is well-formed; a stable insertion sort suffices for the handful
// of options this package ever constructs.
func sortOptionsStable(opts []Option) {
	for i := 1; i < len(opts); i++ {
		for j := i; j > 0 && opts[j-1].Number > opts[j].Number; j-- {
			opts[j-1], opts[j] = opts[j], opts[j-1]
		}
	}
}

// appendOption appends one option's delta/length/value encoding, using the
// extended 8/13-bit forms for deltas or lengths >= 13 (RFC 7252 §3.1).
func appendOption(out []byte, delta int, value []byte) []byte {
	deltaNibble, deltaExt := splitOptionField(delta)
	lenNibble, lenExt := splitOptionField(len(value))

	out = append(out, byte(deltaNibble<<4|lenNibble))
	out = append(out, deltaExt...)
	out = append(out, lenExt...)
	out = append(out, value...)
	return out
}

// splitOptionField returns the 4-bit nibble value and any extended bytes
// for a delta or length field per RFC 7252 §3.1's 13/269 extension rule.
func splitOptionField(n int) (nibble int, ext []byte) {
	switch {
	case n < 13:
		return n, nil
	case n < 269:
		return 13, []byte{byte(n - 13)}
	default:
		v := n - 269
		return 14, []byte{byte(v >> 8), byte(v)}
	}
}

// Decode parses a CoAP message from raw.
func Decode(raw []byte) (*Message, error) {
	if len(raw) < 4 {
		return nil, ErrTooShort
	}
	if raw[0]>>6 != protocolVersion {
		return nil, ErrBadVersion
	}

	m := &Message{
		Type: Type((raw[0] >> 4) & 0x3),
		Code: Code(raw[1]),
	}
	tokenLen := int(raw[0] & 0x0f)
	m.MessageID = binary.BigEndian.Uint16(raw[2:4])

	pos := 4
	if tokenLen > 8 {
		return nil, ErrTokenTooLong
	}
	if pos+tokenLen > len(raw) {
		return nil, ErrTooShort
	}
	m.Token = append([]byte{}, raw[pos:pos+tokenLen]...)
	pos += tokenLen

	number := OptionNumber(0)
	for pos < len(raw) {
		if raw[pos] == 0xff {
			pos++
			m.Payload = append([]byte{}, raw[pos:]...)
			return m, nil
		}

		deltaNibble := int(raw[pos] >> 4)
		lenNibble := int(raw[pos] & 0x0f)
		pos++

		delta, n, err := readOptionField(deltaNibble, raw[pos:])
		if err != nil {
			return nil, err
		}
		pos += n

		length, n, err := readOptionField(lenNibble, raw[pos:])
		if err != nil {
			return nil, err
		}
		pos += n

		if pos+length > len(raw) {
			return nil, ErrTooShort
		}
		number += OptionNumber(delta)
		m.Options = append(m.Options, Option{Number: number, Value: append([]byte{}, raw[pos:pos+length]...)})
		pos += length
	}

	return m, nil
}

// readOptionField decodes one delta-or-length nibble, consuming any
// extended bytes per RFC 7252 §3.1.
func readOptionField(nibble int, rest []byte) (value, consumed int, err error) {
	switch nibble {
	case 15:
		return 0, 0, ErrBadOptionDelta
	case 13:
		if len(rest) < 1 {
			return 0, 0, ErrTooShort
		}
		return int(rest[0]) + 13, 1, nil
	case 14:
		if len(rest) < 2 {
			return 0, 0, ErrTooShort
		}
		return (int(rest[0])<<8 | int(rest[1])) + 269, 2, nil
	default:
		return nibble, 0, nil
	}
}
