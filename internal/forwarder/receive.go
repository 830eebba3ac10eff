package forwarder

import (
	"github.com/threadcore/node/internal/buf"
	"github.com/threadcore/node/internal/lowpan"
	"github.com/threadcore/node/internal/mac"
)

// relayEntry is a mesh-forwarded frame waiting to go back out unchanged
// (mesh header already decremented) rather than originate from a local
// IPv6 datagram; the MAC send path treats it identically to a locally
// originated message except that it needs no 6LoWPAN compression (spec
// §4.4: inbound "Mesh -> decrement hops-left; drop at zero" else forward).
type relayEntry struct {
	payload []byte
	dest    mac.Address
}

// HandleReceivedFrame implements mac.Receiver: it dispatches an inbound
// 802.15.4 data frame's payload by its leading byte per spec §4.4's
// "dispatch by first payload byte" rule: Mesh, Fragment, or a bare
// (unfragmented) 6LoWPAN-compressed datagram.
func (f *Forwarder) HandleReceivedFrame(frame *mac.Frame) {
	if frame.Type == mac.FrameTypeCmd {
		f.handleCommandFrame(frame)
		return
	}
	if frame.Type != mac.FrameTypeData || len(frame.Payload) == 0 {
		return
	}

	payload := frame.Payload
	if lowpan.IsMeshDispatch(payload[0]) {
		f.handleMesh(frame, payload)
		return
	}
	if lowpan.IsFragmentDispatch(payload[0]) {
		f.handleFragment(frame, payload)
		return
	}
	f.handleCompressed(frame.SrcAddr, payload)
}

// handleCommandFrame services a MAC Data Request by popping the oldest
// still-pending indirect message addressed to the requesting child and
// handing it to the MAC layer directly (spec §4.4: "HandleDataRequest").
func (f *Forwarder) handleCommandFrame(frame *mac.Frame) {
	if f.children == nil {
		return
	}
	slotIndex, _, ok := f.children.ChildSlot(shortOf(frame.SrcAddr))
	if !ok {
		return
	}

	var target *buf.Message
	f.sendQueue.Walk(func(m *buf.Message) {
		if target == nil && m.IsChildPending(slotIndex) {
			target = m
		}
	})
	if target == nil {
		return
	}
	target.SetChildPending(slotIndex, false)
	target.SetDirectTx(true)
	f.engine.SendFrameRequest(f)
}

func shortOf(a mac.Address) uint16 {
	if a.Mode == mac.AddrModeShort {
		return a.Short
	}
	return 0
}

// handleMesh processes an inbound mesh-header-wrapped frame: decrements
// hops-left, drops at zero, delivers locally if addressed to this node, or
// relays toward the next hop otherwise (spec §4.3, §4.4).
func (f *Forwarder) handleMesh(frame *mac.Frame, payload []byte) {
	h, n, err := lowpan.DecodeMeshHeader(payload)
	if err != nil {
		return
	}
	rest := payload[n:]

	if h.Destination == f.ownShortAddr {
		if lowpan.IsFragmentDispatch(rest[0]) {
			f.handleFragment(frame, rest)
			return
		}
		f.handleCompressed(mac.ShortAddress(h.Source), rest)
		return
	}

	if h.HopsLeft <= 1 {
		return
	}
	h.HopsLeft--

	nextHopAddr, _, ok := f.nextHop(h.Destination)
	if !ok {
		return
	}
	relayed := append(lowpan.EncodeMeshHeader(h), rest...)
	f.relayQueue = append(f.relayQueue, relayEntry{payload: relayed, dest: nextHopAddr})
	f.engine.SendFrameRequest(f)
}

// handleFragment reassembles one fragment into its reassemblyList entry,
// creating the entry on the first fragment and dispatching the completed
// datagram once every byte has arrived (spec §4.4).
func (f *Forwarder) handleFragment(frame *mac.Frame, payload []byte) {
	fh, n, err := lowpan.DecodeFragmentHeader(payload)
	if err != nil {
		return
	}
	data := payload[n:]

	key := reassemblyKey{src: shortOf(frame.SrcAddr), tag: fh.Tag, size: fh.Size}
	entry, ok := f.reassembly[key]
	if !ok {
		msg, err := buf.New(f.pool, buf.TypeLowpan, 0)
		if err != nil {
			return
		}
		if err := msg.SetLength(int(fh.Size)); err != nil {
			msg.Free()
			return
		}
		msg.SetTimeout(int(ReassemblyTimeout.Seconds()))
		entry = &reassemblyEntry{msg: msg}
		f.reassembly[key] = entry
	}

	if err := entry.msg.Write(int(fh.Offset), data); err != nil {
		return
	}
	if int(fh.Offset)+len(data) >= int(fh.Size) {
		delete(f.reassembly, key)
		compressed := make([]byte, entry.msg.Length())
		entry.msg.Read(0, compressed)
		entry.msg.Free()
		f.handleCompressed(frame.SrcAddr, compressed)
	}
}

// handleCompressed decompresses a bare (unfragmented) 6LoWPAN stream and
// hands the reconstructed IPv6 datagram to the IPv6 core (spec §4.4:
// "treat as a compressed datagram -> HandleLowpanHC").
func (f *Forwarder) handleCompressed(src mac.Address, compressed []byte) {
	datagram, err := lowpan.DecompressBytes(compressed, src, mac.ShortAddress(f.ownShortAddr), f.contexts)
	if err != nil {
		return
	}
	if f.ip6 == nil {
		return
	}
	_ = f.ip6.HandleInbound(datagram, f.sched.Now())
}
