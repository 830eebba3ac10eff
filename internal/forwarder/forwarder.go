// Package forwarder implements Thread's MeshForwarder: the per-interface
// send queue, inbound mesh/fragment/datagram dispatch, 6LoWPAN
// fragmentation and reassembly, and indirect (sleepy-child) delivery that
// bridges the MAC layer to the IPv6 core (spec §4.4).
//
// One aggregate owns the in-flight message maps and queues, keyed by
// datagram tag, and demuxes inbound traffic against them.
package forwarder

import (
	"time"

	"github.com/threadcore/node/internal/buf"
	"github.com/threadcore/node/internal/lowpan"
	"github.com/threadcore/node/internal/mac"
	"github.com/threadcore/node/internal/tasklet"
)

// ReassemblyTimeout bounds how long a partially reassembled inbound
// datagram waits for its remaining fragments (spec §4.4:
// "kReassemblyTimeout = 5s").
const ReassemblyTimeout = 5 * time.Second

// macFrameOverhead is a conservative estimate of 802.15.4 framing overhead
// (FCF, sequence, addressing, security, FCS) subtracted from radio.MaxPSDU
// to get the payload budget available to 6LoWPAN (spec §4.4: "if
// compressed payload exceeds MAC MTU, build a first-fragment frame").
const macFrameOverhead = 25

// MACPayloadMTU is the maximum 6LoWPAN payload (including any mesh/
// fragment headers) that fits in one 802.15.4 frame.
const MACPayloadMTU = 127 - macFrameOverhead

// IP6Receiver is the subset of the IPv6 core the forwarder hands fully
// reassembled, decompressed datagrams to (spec §2: "6LoWPAN decompress/
// reassemble -> IPv6").
type IP6Receiver interface {
	HandleInbound(datagram []byte, now time.Duration) error
}

// EIDResolver is the subset of the AddressResolver the forwarder consults
// when a destination's RLOC16 is unknown (spec §4.8).
type EIDResolver interface {
	Resolve(eid [16]byte) (found bool, rloc16 uint16)
}

// RouteResolver supplies the next-hop RLOC16 for a destination RLOC16,
// backed by MLE's router table once built (spec §4.6: "Route64 next-hop
// table").
type RouteResolver interface {
	NextHop(dstRLOC16 uint16) (neighborRLOC16 uint16, ok bool)
}

// ChildTable maps a child's RLOC16 to its indirect-queue slot index
// (0..buf.MaxPendingChildren-1) and reports whether it is currently sleepy
// (requiring indirect transmission) (spec §3: "per-message childMask").
type ChildTable interface {
	ChildSlot(rloc16 uint16) (slotIndex int, sleepy bool, ok bool)
	ChildAddress(slotIndex int) (mac.Address, bool)
}

// reassemblyKey identifies one in-flight inbound fragmented datagram (spec
// §4.4: "look up reassembly-list entry by (src, datagramTag,
// datagramSize)").
type reassemblyKey struct {
	src  uint16
	tag  uint16
	size uint16
}

type reassemblyEntry struct {
	msg        *buf.Message
	nextOffset int
}

// outboundMeta is per-message forwarding state kept alongside sendQueue,
// since buf.Message itself only carries the fields spec §3 names
// (childPending, directTx, timeout, datagramTag) and not transient routing
// decisions.
type outboundMeta struct {
	destRLOC16    uint16
	nextOffset    int // byte offset into the compressed stream of the next fragment to send
	compressedLen int // total length of the compressed datagram, known after the first BuildFrame call
	fragTag       uint16
}

// Forwarder is the per-interface MeshForwarder.
type Forwarder struct {
	pool   *buf.Pool
	engine *mac.Engine
	sched  *tasklet.Scheduler

	ownShortAddr uint16
	ownExtAddr   uint64

	contexts []lowpan.Context

	resolver EIDResolver
	routes   RouteResolver
	children ChildTable
	ip6      IP6Receiver

	sendQueue *buf.MessageQueue
	meta      map[*buf.Message]*outboundMeta

	reassembly map[reassemblyKey]*reassemblyEntry

	resolvingQueue map[[16]byte][]*buf.Message

	fragTagCounter uint16

	transmitting *buf.Message
	relayQueue   []relayEntry
	relaying     bool
}

// New creates a MeshForwarder bound to pool for message allocation, engine
// for MAC transmission/reception, and sched for the reassembly timeout
// tick. Routing and resolution dependencies are supplied separately via
// SetRoutes/SetChildTable/SetIP6Receiver once those layers exist, since
// they are constructed after the forwarder during node bring-up.
func New(pool *buf.Pool, engine *mac.Engine, sched *tasklet.Scheduler, resolver EIDResolver, ownShortAddr uint16, ownExtAddr uint64) *Forwarder {
	f := &Forwarder{
		pool:           pool,
		engine:         engine,
		sched:          sched,
		ownShortAddr:   ownShortAddr,
		ownExtAddr:     ownExtAddr,
		resolver:       resolver,
		sendQueue:      buf.NewMessageQueue(),
		meta:           make(map[*buf.Message]*outboundMeta),
		reassembly:     make(map[reassemblyKey]*reassemblyEntry),
		resolvingQueue: make(map[[16]byte][]*buf.Message),
	}
	engine.RegisterReceiver(f)
	f.scheduleReassemblyTick()
	return f
}

// SetRoutes installs the next-hop route resolver (supplied by internal/mle
// once the router table is built).
func (f *Forwarder) SetRoutes(r RouteResolver) { f.routes = r }

// SetChildTable installs the sleepy-child indirect-queue table.
func (f *Forwarder) SetChildTable(c ChildTable) { f.children = c }

// SetIP6Receiver installs the IPv6 core that receives reassembled inbound
// datagrams.
func (f *Forwarder) SetIP6Receiver(r IP6Receiver) { f.ip6 = r }

// UpdateContexts replaces the 6LoWPAN context table used for address
// compression, refreshed whenever NetworkData changes (spec §4.3).
func (f *Forwarder) UpdateContexts(contexts []lowpan.Context) { f.contexts = contexts }

func (f *Forwarder) scheduleReassemblyTick() {
	f.sched.After(time.Second, func() {
		f.tickReassembly()
		f.scheduleReassemblyTick()
	})
}

// tickReassembly ages every in-flight reassembly entry by one second,
// dropping any that exceed ReassemblyTimeout (spec §4.4).
func (f *Forwarder) tickReassembly() {
	for key, entry := range f.reassembly {
		if entry.msg.DecrementTimeout() {
			entry.msg.Free()
			delete(f.reassembly, key)
		}
	}
}

// SendMessage queues an IPv6 datagram for transmission toward dst, the
// destination's mesh-local EID or RLOC-derived address. If dst's RLOC16 is
// not yet known, the message is parked on the resolving queue pending an
// AddressResolver notification (spec §4.4, §4.8).
func (f *Forwarder) SendMessage(datagram []byte, dst [16]byte) error {
	destRLOC16, ok := f.lookupDestination(dst)
	if !ok {
		f.resolvingQueue[dst] = append(f.resolvingQueue[dst], nil)
		msg, err := buf.New(f.pool, buf.TypeIPv6, 0)
		if err != nil {
			return err
		}
		if err := msg.Append(datagram); err != nil {
			msg.Free()
			return err
		}
		f.resolvingQueue[dst][len(f.resolvingQueue[dst])-1] = msg
		return nil
	}

	msg, err := buf.New(f.pool, buf.TypeIPv6, 0)
	if err != nil {
		return err
	}
	if err := msg.Append(datagram); err != nil {
		msg.Free()
		return err
	}
	return f.enqueueDirect(msg, destRLOC16)
}

// lookupDestination derives dst's RLOC16 from the low 16 bits of its IID
// when it follows the RLOC-derived-IID form (0000:00ff:fe00:RLOC16),
// falling back to the AddressResolver cache for genuine extended-address
// EIDs (spec §3 GLOSSARY: "RLOC ... derived from RLOC16").
func (f *Forwarder) lookupDestination(dst [16]byte) (uint16, bool) {
	if dst[8] == 0x00 && dst[9] == 0x00 && dst[10] == 0x00 && dst[11] == 0xff &&
		dst[12] == 0xfe && dst[13] == 0x00 {
		return uint16(dst[14])<<8 | uint16(dst[15]), true
	}
	if f.resolver == nil {
		return 0, false
	}
	return f.resolver.Resolve(dst)
}

// HandleResolved drains every message parked on the resolving queue for
// eid once the AddressResolver has installed a cache entry for it (spec
// §4.8: "invoke MeshForwarder.HandleResolved(eid) which drains the
// resolving queue").
func (f *Forwarder) HandleResolved(eid [16]byte) {
	msgs, ok := f.resolvingQueue[eid]
	if !ok {
		return
	}
	delete(f.resolvingQueue, eid)

	destRLOC16, ok := f.lookupDestination(eid)
	if !ok {
		for _, msg := range msgs {
			msg.Free()
		}
		return
	}
	for _, msg := range msgs {
		f.enqueueDirect(msg, destRLOC16)
	}
}

// enqueueDirect places msg on the send queue for direct (non-indirect)
// transmission toward destRLOC16, requesting a MAC transmission slot.
func (f *Forwarder) enqueueDirect(msg *buf.Message, destRLOC16 uint16) error {
	msg.SetDirectTx(true)
	f.meta[msg] = &outboundMeta{destRLOC16: destRLOC16}
	if err := f.sendQueue.Enqueue(msg); err != nil {
		delete(f.meta, msg)
		return err
	}
	f.engine.SendFrameRequest(f)
	return nil
}

// EnqueueIndirect places msg on the send queue pending delivery to a
// sleepy child identified by slotIndex, cleared by a subsequent Data
// Request (spec §4.4: "per-child indirect queues").
func (f *Forwarder) EnqueueIndirect(msg *buf.Message, destRLOC16 uint16, slotIndex int) error {
	if err := msg.SetChildPending(slotIndex, true); err != nil {
		return err
	}
	f.meta[msg] = &outboundMeta{destRLOC16: destRLOC16}
	return f.sendQueue.Enqueue(msg)
}

// nextHop resolves destRLOC16 to the mac.Address of the neighbor to
// transmit toward: the destination directly if it is a one-hop neighbor,
// else the routed next hop (spec §4.6's Route64 table, via RouteResolver).
func (f *Forwarder) nextHop(destRLOC16 uint16) (mac.Address, uint16, bool) {
	if f.routes == nil {
		return mac.ShortAddress(destRLOC16), destRLOC16, true
	}
	hop, ok := f.routes.NextHop(destRLOC16)
	if !ok {
		return mac.Address{}, 0, false
	}
	return mac.ShortAddress(hop), hop, true
}

// pickNextOutbound selects the next message the MAC layer should transmit:
// a directTx message before any indirect one, FIFO within each class
// (spec §4.4 data structures: "sendQueue (direct transmissions) ...
// per-child indirect queues").
func (f *Forwarder) pickNextOutbound() (*buf.Message, *outboundMeta) {
	var indirect *buf.Message
	var indirectMeta *outboundMeta
	var result *buf.Message
	var resultMeta *outboundMeta

	f.sendQueue.Walk(func(m *buf.Message) {
		meta := f.meta[m]
		if meta == nil || result != nil {
			return
		}
		if m.DirectTx() {
			result, resultMeta = m, meta
			return
		}
		if indirect == nil {
			indirect, indirectMeta = m, meta
		}
	})

	if result != nil {
		return result, resultMeta
	}
	return indirect, indirectMeta
}

// BuildFrame implements mac.Sender: it compresses (and, if necessary,
// fragments) the next queued message into f, per spec §4.4's transmit
// path.
func (f *Forwarder) BuildFrame(frame *mac.Frame) error {
	if len(f.relayQueue) > 0 {
		entry := f.relayQueue[0]
		f.relayQueue = f.relayQueue[1:]
		frame.Type = mac.FrameTypeData
		frame.Payload = entry.payload
		frame.DstAddr = entry.dest
		frame.SrcAddr = mac.ShortAddress(f.ownShortAddr)
		frame.AckRequest = !entry.dest.IsBroadcast()
		f.relaying = true
		return nil
	}

	msg, meta := f.pickNextOutbound()
	if msg == nil {
		return errNoOutboundMessage
	}
	f.transmitting = msg

	destAddr, destRLOC16, ok := f.nextHop(meta.destRLOC16)
	if !ok {
		f.finishOutbound(msg, meta, errNoOutboundMessage)
		return errNoOutboundMessage
	}

	payload := make([]byte, msg.Length())
	msg.Read(0, payload)

	if meta.nextOffset == 0 {
		compressed, err := lowpan.CompressBytes(payload, mac.ShortAddress(f.ownShortAddr), destAddr, f.contexts)
		if err != nil {
			f.finishOutbound(msg, meta, err)
			return err
		}
		meta.compressedLen = len(compressed)
		if len(compressed) <= MACPayloadMTU {
			frame.Payload = compressed
			meta.nextOffset = len(compressed)
		} else {
			f.fragTagCounter++
			meta.fragTag = f.fragTagCounter
			// Fragment offsets travel in 8-octet units, so every chunk but
			// the last is a multiple of 8 bytes.
			chunk := (MACPayloadMTU - lowpan.FirstFragmentHeaderLen) &^ 7
			fh := lowpan.FragmentHeader{Size: uint16(len(compressed)), Tag: meta.fragTag}
			frame.Payload = append(lowpan.EncodeFragmentHeader(fh), compressed[:chunk]...)
			meta.nextOffset = chunk
			msg.SetDatagramTag(meta.fragTag)
		}
	} else {
		// Subsequent fragment: re-derive the full compressed stream (the
		// original message bytes are still intact) and slice the next
		// chunk at meta.nextOffset.
		compressed, err := lowpan.CompressBytes(payload, mac.ShortAddress(f.ownShortAddr), destAddr, f.contexts)
		if err != nil {
			f.finishOutbound(msg, meta, err)
			return err
		}
		remaining := len(compressed) - meta.nextOffset
		chunk := (MACPayloadMTU - lowpan.SubsequentFragmentHeaderLen) &^ 7
		if chunk > remaining {
			chunk = remaining
		}
		fh := lowpan.FragmentHeader{Size: uint16(len(compressed)), Tag: meta.fragTag, Offset: uint16(meta.nextOffset)}
		frame.Payload = append(lowpan.EncodeFragmentHeader(fh), compressed[meta.nextOffset:meta.nextOffset+chunk]...)
		meta.nextOffset += chunk
	}

	frame.Type = mac.FrameTypeData
	frame.DstAddr = destAddr
	frame.SrcAddr = mac.ShortAddress(f.ownShortAddr)
	frame.AckRequest = !destAddr.IsBroadcast()
	_ = destRLOC16
	return nil
}

// errNoOutboundMessage signals BuildFrame found nothing ready to send; the
// MAC engine treats this as "nothing to transmit right now" rather than an
// error condition worth retrying.
var errNoOutboundMessage = forwarderError("forwarder: no outbound message ready")

type forwarderError string

func (e forwarderError) Error() string { return string(e) }

// SentFrame implements mac.Sender: on success, advance the fragmentation
// cursor or retire the message; on failure, drop it (spec §4.4: "On
// success, if messageNextOffset < msg.length, re-enqueue same message as
// subsequent fragment; else free (direct) or clear childMask bit
// (indirect)").
func (f *Forwarder) SentFrame(frame *mac.Frame, err error) {
	if f.relaying {
		f.relaying = false
		return
	}

	msg := f.transmitting
	f.transmitting = nil
	if msg == nil {
		return
	}
	meta := f.meta[msg]
	if meta == nil {
		return
	}

	if err != nil {
		f.finishOutbound(msg, meta, err)
		return
	}

	if meta.nextOffset < meta.compressedLen {
		f.engine.SendFrameRequest(f)
		return
	}
	f.finishOutbound(msg, meta, nil)
}

// finishOutbound removes msg from the send queue and frees it if it was a
// direct transmission, or simply clears its remaining childMask bits for
// indirect transmissions that are no longer pending.
func (f *Forwarder) finishOutbound(msg *buf.Message, meta *outboundMeta, sendErr error) {
	delete(f.meta, msg)
	f.sendQueue.Remove(msg)
	if !msg.AnyChildPending() {
		msg.Free()
	}
	_ = sendErr
}
