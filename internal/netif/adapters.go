package netif

import (
	"github.com/threadcore/node/internal/addrresolver"
	"github.com/threadcore/node/internal/coap"
	"github.com/threadcore/node/internal/forwarder"
	"github.com/threadcore/node/internal/ip6"
	"github.com/threadcore/node/internal/mac"
	"github.com/threadcore/node/internal/mle"
)

// forwarderAdapter satisfies internal/ip6's Forwarder interface
// (Forward(datagram, dst)) by delegating to the mesh forwarder's
// SendMessage, the two packages having settled on different verbs for the
// same handoff.
type forwarderAdapter struct {
	fwd *forwarder.Forwarder
}

func (a forwarderAdapter) Forward(datagram []byte, dst [16]byte) error {
	return a.fwd.SendMessage(datagram, dst)
}

// eidResolverAdapter satisfies internal/forwarder's EIDResolver interface
// by translating addrresolver's (ResolveResult, rloc16) pair into the
// forwarder's (found bool, rloc16) pair. Constructed empty and filled in
// once the addrresolver.Resolver it wraps exists, since the forwarder and
// the resolver are each the other's constructor argument.
type eidResolverAdapter struct {
	resolver *addrresolver.Resolver
}

func (a *eidResolverAdapter) Resolve(eid [16]byte) (bool, uint16) {
	if a.resolver == nil {
		return false, 0
	}
	result, rloc16 := a.resolver.Resolve(eid)
	return result == addrresolver.ResolveFound, rloc16
}

// childTableAdapter satisfies internal/forwarder's ChildTable interface
// over mle.Device's Children map. The slot index forwarder uses to track
// indirect-transmission pending bits is the RLOC16's 10-bit child-id
// field, so it survives a child's entry being re-keyed by short address.
type childTableAdapter struct {
	device *mle.Device
}

func (a *childTableAdapter) ChildSlot(rloc16 uint16) (int, bool, bool) {
	child, ok := a.device.Children[rloc16]
	if !ok {
		return 0, false, false
	}
	sleepy := child.Mode&0x01 == 0
	return int(rloc16 & 0x3ff), sleepy, true
}

func (a *childTableAdapter) ChildAddress(slotIndex int) (mac.Address, bool) {
	rloc16 := uint16(a.device.RouterID)<<10 | uint16(slotIndex&0x3ff)
	if _, ok := a.device.Children[rloc16]; !ok {
		return mac.Address{}, false
	}
	return mac.ShortAddress(rloc16), true
}

// coapSender satisfies addrresolver.Sender by wrapping a CoAP message in a UDP/IPv6 datagram addressed to
// coap.ServerPort and handing it to the mesh forwarder, the way
// internal/addrresolver's doc comment describes internal/netif supplying
// the concrete transport over internal/ip6's sockets.
type coapSender struct {
	netif *ThreadNetif
}

func (s *coapSender) SendCoAP(dst [16]byte, msg *coap.Message) error {
	payload, err := coap.Encode(msg)
	if err != nil {
		return err
	}
	udp := ip6.EncodeUDP(ip6.UDPHeader{
		SrcPort: coap.ServerPort,
		DstPort: coap.ServerPort,
	}, payload, s.netif.addrs.rloc16Address(), dst)

	datagram := ip6.EncodeHeader(ip6.Header{
		NextHeader: ip6.NextHeaderUDP,
		HopLimit:   64,
		PayloadLen: uint16(len(udp)),
		Src:        s.netif.addrs.rloc16Address(),
		Dst:        dst,
	})
	datagram = append(datagram, udp...)

	return s.netif.Forwarder.SendMessage(datagram, dst)
}
