package ip6

import (
	"errors"
	"time"
)

// ErrNoRoute is returned (and turned into an ICMPv6 Destination
// Unreachable toward the source) when a non-local datagram has nowhere to
// go (spec §7: "NoRoute — no route / no neighbor for destination; IPv6
// responds with ICMPv6 Destination Unreachable").
var ErrNoRoute = errors.New("ip6: no route to destination")

// ErrDuplicate reports an MPL-duplicate datagram dropped by the dedup
// cache (spec §7: "Drop — inbound packet deliberately dropped (duplicate,
// MPL replay, bad version)").
var ErrDuplicate = errors.New("ip6: duplicate mpl datagram dropped")

// Forwarder is the subset of MeshForwarder the IPv6 core calls into when a
// datagram's destination is not this node (spec §2: "IPv6 ... MeshForwarder
// enqueue"). Echo/Destination-Unreachable replies toward a non-local source
// also go out through Forward.
type Forwarder interface {
	Forward(datagram []byte, dst [16]byte) error
}

// LocalAddressSet reports whether addr is one of this node's own unicast
// addresses (mesh-local EID, link-local, RLOC, ALOCs) or a multicast group
// it has joined.
type LocalAddressSet interface {
	IsLocal(addr [16]byte) bool
}

// Stack is the node's IPv6 core: it owns the UDP socket table and MPL
// dedup cache and drives the receive-path dispatch described in spec
// §4.5.
type Stack struct {
	Sockets    *SocketTable
	MPL        *DedupCache
	Local      LocalAddressSet
	Forwarder  Forwarder
	EchoHandler func(src, dst [16]byte, echo EchoMessage) // nil to disable Echo Request replies
}

// NewStack creates a Stack with a fresh socket table and MPL cache using
// the supplied dedup parameters (spec §9(d): implementation parameters,
// not hardcoded).
func NewStack(local LocalAddressSet, forwarder Forwarder, mplWindow int, mplLifetime time.Duration) *Stack {
	s := &Stack{
		Sockets:   NewSocketTable(),
		MPL:       NewDedupCache(mplWindow, mplLifetime),
		Local:     local,
		Forwarder: forwarder,
	}
	s.EchoHandler = s.defaultEchoReply
	return s
}

// HandleInbound processes one inbound IPv6 datagram per spec §4.5's
// receive path: version/length check, MPL dedup on any HopByHop MPL
// option, the extension-header walk, then local dispatch (UDP/ICMPv6) or
// forwarding.
func (s *Stack) HandleInbound(raw []byte, now time.Duration) error {
	h, err := DecodeHeader(raw)
	if err != nil {
		return err
	}
	payload := raw[HeaderLen:]
	if int(h.PayloadLen) > len(payload) {
		return ErrTooShort
	}
	payload = payload[:h.PayloadLen]

	upperProto, upperOffset, hopByHop, err := WalkExtensionHeaders(payload, h.NextHeader)
	if err != nil {
		return err
	}

	for _, opts := range hopByHop {
		for i := 0; i < len(opts); {
			if opts[i] == 0 { // Pad1 has no length octet
				i++
				continue
			}
			if i+2 > len(opts) || i+2+int(opts[i+1]) > len(opts) {
				break
			}
			value := opts[i+2 : i+2+int(opts[i+1])]
			if opts[i] == MPLOptionType {
				if seed, ok := ParseMPLOption(value); ok && s.MPL.Seen(seed, now) {
					return ErrDuplicate
				}
			}
			i += 2 + int(opts[i+1])
		}
	}

	isLocal := s.Local != nil && s.Local.IsLocal(h.Dst)
	upper := payload[upperOffset:]

	if isLocal {
		switch upperProto {
		case NextHeaderUDP:
			udpHdr, udpPayload, err := DecodeUDP(upper, h.Src, h.Dst)
			if err != nil {
				return err
			}
			s.Sockets.Deliver(h.Src, udpHdr.SrcPort, h.Dst, udpHdr.DstPort, udpPayload)
			return nil
		case NextHeaderICMPv6:
			return s.handleICMP(h, upper)
		default:
			return nil
		}
	}

	if s.Forwarder == nil {
		return ErrNoRoute
	}
	if err := s.Forwarder.Forward(raw[:HeaderLen+int(h.PayloadLen)], h.Dst); err != nil {
		return s.sendUnreachable(h, raw[:HeaderLen+int(h.PayloadLen)])
	}
	return nil
}

func (s *Stack) handleICMP(h Header, raw []byte) error {
	icmpType, echo, err := DecodeEcho(raw, h.Src, h.Dst)
	if err != nil {
		return err
	}
	switch icmpType {
	case ICMPTypeEchoRequest:
		if s.EchoHandler != nil {
			s.EchoHandler(h.Src, h.Dst, echo)
		}
	case ICMPTypeEchoReply:
		// Delivered to whichever higher-layer issued the request; this
		// stack has no raw-ICMP socket API, so replies are observable
		// only via EchoHandler's caller tracking identifiers/sequence
		// numbers itself.
	}
	return nil
}

// defaultEchoReply answers an Echo Request in place by swapping src/dst
// and the message type, forwarding the reply back out (spec §8 S1: "Echo
// Reply within 100 ms").
func (s *Stack) defaultEchoReply(src, dst [16]byte, echo EchoMessage) {
	reply := EncodeEcho(ICMPTypeEchoReply, echo, dst, src)
	h := Header{NextHeader: NextHeaderICMPv6, HopLimit: 64, Src: dst, Dst: src}
	datagram := append(EncodeHeader(h), reply...)
	if s.Forwarder != nil {
		_ = s.Forwarder.Forward(datagram, src)
	}
}

// sendUnreachable builds and forwards an ICMPv6 Destination Unreachable
// (No Route) toward the original datagram's source (spec §4.5, §7).
func (s *Stack) sendUnreachable(orig Header, original []byte) error {
	if s.Forwarder == nil {
		return ErrNoRoute
	}
	localSrc := orig.Dst
	body := EncodeDestinationUnreachable(ICMPCodeNoRoute, original, localSrc, orig.Src)
	h := Header{NextHeader: NextHeaderICMPv6, HopLimit: 64, Src: localSrc, Dst: orig.Src}
	datagram := append(EncodeHeader(h), body...)
	return s.Forwarder.Forward(datagram, orig.Src)
}
