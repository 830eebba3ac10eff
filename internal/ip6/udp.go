package ip6

import (
	"encoding/binary"
	"errors"
)

// UDPHeaderLen is the fixed UDP header size.
const UDPHeaderLen = 8

// Ephemeral source port range (spec §4.5: "Ephemeral source port selected
// from [49152, 65535]"), RFC 6335's dynamic/private port range.
const (
	ephemeralPortMin uint16 = 49152
	ephemeralPortMax uint16 = 65535
)

// ErrChecksumZero is returned by DecodeUDP when the checksum field is zero;
// spec §4.5 requires rejecting zero-checksum UDP rather than treating it as
// "no checksum" (IPv4's convention, not IPv6's).
var ErrChecksumZero = errors.New("ip6: udp zero checksum rejected")

// ErrNoEphemeralPort is returned when every port in the ephemeral range is
// already bound.
var ErrNoEphemeralPort = errors.New("ip6: no free ephemeral port")

// UDPHeader is the 8-byte UDP header.
type UDPHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// EncodeUDP serializes h followed by payload into one UDP datagram, with
// the checksum computed over the pseudo-header and h+payload.
func EncodeUDP(h UDPHeader, payload []byte, src, dst [16]byte) []byte {
	h.Length = uint16(UDPHeaderLen + len(payload))
	out := make([]byte, UDPHeaderLen+len(payload))
	binary.BigEndian.PutUint16(out[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(out[2:4], h.DstPort)
	binary.BigEndian.PutUint16(out[4:6], h.Length)
	copy(out[8:], payload)

	sum := ChecksumBytes(out, src, dst, NextHeaderUDP)
	if sum == 0 {
		sum = 0xffff // RFC 8200 §8.1: a computed zero is transmitted as all-ones
	}
	binary.BigEndian.PutUint16(out[6:8], sum)
	return out
}

// DecodeUDP parses raw as a UDP datagram, verifying its checksum against
// src/dst. A zero on-wire checksum is rejected (spec §4.5: "UDP zero-
// checksum is rejected").
func DecodeUDP(raw []byte, src, dst [16]byte) (UDPHeader, []byte, error) {
	if len(raw) < UDPHeaderLen {
		return UDPHeader{}, nil, ErrTooShort
	}
	h := UDPHeader{
		SrcPort:  binary.BigEndian.Uint16(raw[0:2]),
		DstPort:  binary.BigEndian.Uint16(raw[2:4]),
		Length:   binary.BigEndian.Uint16(raw[4:6]),
		Checksum: binary.BigEndian.Uint16(raw[6:8]),
	}
	if h.Checksum == 0 {
		return UDPHeader{}, nil, ErrChecksumZero
	}
	if int(h.Length) > len(raw) {
		return UDPHeader{}, nil, ErrTooShort
	}
	if sum := ChecksumBytes(raw[:h.Length], src, dst, NextHeaderUDP); sum != 0 {
		return UDPHeader{}, nil, errors.New("ip6: udp checksum mismatch")
	}
	return h, raw[UDPHeaderLen:h.Length], nil
}

// Socket is one bound UDP endpoint (spec §4.5: "UDP sockets: bound {addr,
// port, scopeId}").
type Socket struct {
	Addr    [16]byte // zero value means "any address"
	Port    uint16
	ScopeID uint8 // zero means "any scope"
	Handler UDPHandler
}

// UDPHandler receives a datagram delivered to a bound socket.
type UDPHandler func(src [16]byte, srcPort uint16, dst [16]byte, payload []byte)

// SocketTable owns every bound UDP socket on the interface and performs
// delivery matching and ephemeral port allocation (spec §4.5).
type SocketTable struct {
	sockets []*Socket
	nextEph uint16
}

// NewSocketTable creates an empty socket table.
func NewSocketTable() *SocketTable {
	return &SocketTable{nextEph: ephemeralPortMin}
}

// Bind registers a new socket listening at addr/port/scopeID (addr and
// scopeID may be zero for "any"). If port is zero, an ephemeral port is
// allocated and returned via the result's Port field.
func (t *SocketTable) Bind(addr [16]byte, port uint16, scopeID uint8, handler UDPHandler) (*Socket, error) {
	if port == 0 {
		p, err := t.allocateEphemeral()
		if err != nil {
			return nil, err
		}
		port = p
	}
	s := &Socket{Addr: addr, Port: port, ScopeID: scopeID, Handler: handler}
	t.sockets = append(t.sockets, s)
	return s, nil
}

// Unbind removes s from the table.
func (t *SocketTable) Unbind(s *Socket) {
	for i, existing := range t.sockets {
		if existing == s {
			t.sockets = append(t.sockets[:i], t.sockets[i+1:]...)
			return
		}
	}
}

func (t *SocketTable) portInUse(port uint16) bool {
	for _, s := range t.sockets {
		if s.Port == port {
			return true
		}
	}
	return false
}

// allocateEphemeral returns the next unused port in [ephemeralPortMin,
// ephemeralPortMax], wrapping around once.
func (t *SocketTable) allocateEphemeral() (uint16, error) {
	start := t.nextEph
	for {
		port := t.nextEph
		if t.nextEph == ephemeralPortMax {
			t.nextEph = ephemeralPortMin
		} else {
			t.nextEph++
		}
		if !t.portInUse(port) {
			return port, nil
		}
		if t.nextEph == start {
			return 0, ErrNoEphemeralPort
		}
	}
}

// Deliver matches an inbound datagram against every bound socket: on port,
// and on address when the socket's address is nonzero; a multicast
// destination matches on port alone. A socket's ScopeID is not consulted.
// It invokes every matching socket's handler and reports whether any
// socket matched.
func (t *SocketTable) Deliver(src [16]byte, srcPort uint16, dst [16]byte, dstPort uint16, payload []byte) bool {
	delivered := false
	multicast := IsMulticast(dst)
	for _, s := range t.sockets {
		if s.Port != dstPort {
			continue
		}
		if !multicast && s.Addr != ([16]byte{}) && s.Addr != dst {
			continue
		}
		s.Handler(src, srcPort, dst, payload)
		delivered = true
	}
	return delivered
}
