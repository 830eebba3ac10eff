// Package addrresolver implements Thread's AddressResolver: the fixed-size
// cache mapping IPv6 EIDs to RLOC16s, its Discover/Retry/Valid state
// machine, and the CoAP address-query/notification/error protocol that
// keeps it populated (spec §4.8).
package addrresolver

import (
	"time"

	"github.com/threadcore/node/internal/coap"
	"github.com/threadcore/node/internal/tasklet"
)

// CacheSize is the fixed number of EID cache entries (spec §5: "Address-
// resolver cache: 16").
const CacheSize = 16

// Timing constants (spec §4.8).
const (
	QueryTimeout        = 3 * time.Second
	InitialRetryDelay   = 15 * time.Second
	MaxRetryDelay       = 480 * time.Second
)

// State is a cache entry's lifecycle state (spec §3: "state ∈ {Invalid,
// Discover, Retry, Valid}").
type State uint8

const (
	StateInvalid State = iota
	StateDiscover
	StateRetry
	StateValid
)

// ResolveResult is Resolve's outcome (spec §4.8: "Resolve(eid) ->
// (Found(rloc16) | Query)").
type ResolveResult uint8

const (
	ResolveFound ResolveResult = iota
	ResolveQuery
)

// entry is one cache slot.
type entry struct {
	eid          [16]byte
	meshLocalIID [8]byte
	rloc16       uint16
	state        State
	timeout      time.Duration // absolute deadline on the scheduler clock
	failureCount int
	lastUsed     uint64 // LRU generation counter
}

// Sender abstracts the CoAP multicast/unicast transport the resolver drives
// (internal/netif supplies the concrete implementation over internal/ip6's
// UDP sockets); kept as an interface so this package has no network I/O
// dependency of its own, matching internal/mac's Sender/Receiver style.
type Sender interface {
	SendCoAP(dst [16]byte, msg *coap.Message) error
}

// ForwarderNotifier is the subset of MeshForwarder the resolver drains once
// an EID resolves (spec §4.8: "invoke MeshForwarder.HandleResolved(eid)
// which drains the resolving queue").
type ForwarderNotifier interface {
	HandleResolved(eid [16]byte)
}

// Resolver is the AddressResolver cache and protocol state machine.
type Resolver struct {
	sched    *tasklet.Scheduler
	sender   Sender
	notifier ForwarderNotifier

	ownRLOC16 uint16

	entries [CacheSize]entry
	gen     uint64

	nextMessageID uint16
}

// New creates a Resolver bound to sched for timeout bookkeeping and sender
// for issuing CoAP queries.
func New(sched *tasklet.Scheduler, sender Sender, notifier ForwarderNotifier, ownRLOC16 uint16) *Resolver {
	r := &Resolver{sched: sched, sender: sender, notifier: notifier, ownRLOC16: ownRLOC16}
	for i := range r.entries {
		r.entries[i].state = StateInvalid
	}
	return r
}

func (r *Resolver) findEntry(eid [16]byte) int {
	for i := range r.entries {
		if r.entries[i].state != StateInvalid && r.entries[i].eid == eid {
			return i
		}
	}
	return -1
}

// lruVictim returns the index of the least-recently-used entry, preferring
// an Invalid slot if one exists.
func (r *Resolver) lruVictim() int {
	victim := 0
	best := r.entries[0].lastUsed
	for i, e := range r.entries {
		if e.state == StateInvalid {
			return i
		}
		if e.lastUsed < best {
			best, victim = e.lastUsed, i
		}
	}
	return victim
}

// Resolve implements spec §4.8's Resolve(eid): a cache hit in Valid returns
// Found; a Discover/Retry hit returns Query (caller parks the datagram); a
// miss allocates an LRU slot, enters Discover, and multicasts a CoAP
// non-confirmable POST to /a/aq.
func (r *Resolver) Resolve(eid [16]byte) (ResolveResult, uint16) {
	r.gen++

	if idx := r.findEntry(eid); idx >= 0 {
		e := &r.entries[idx]
		e.lastUsed = r.gen
		if e.state == StateValid {
			return ResolveFound, e.rloc16
		}
		return ResolveQuery, 0
	}

	idx := r.lruVictim()
	e := &r.entries[idx]
	*e = entry{eid: eid, state: StateDiscover, lastUsed: r.gen}
	r.armTimeout(idx, QueryTimeout)
	r.sendQuery(eid)
	return ResolveQuery, 0
}

// realmLocalAllRoutersMulticast is ff03::2 (spec §4.8: "multicast ... to
// realm-local-all-routers").
var realmLocalAllRoutersMulticast = [16]byte{0xff, 0x03, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x02}

func (r *Resolver) sendQuery(eid [16]byte) {
	if r.sender == nil {
		return
	}
	msg := &coap.Message{
		Type:      coap.TypeNonConfirmable,
		Code:      coap.CodePOST,
		MessageID: r.nextToken(),
		Payload:   eid[:],
	}
	msg.SetPath(coap.PathAddressQuery)
	_ = r.sender.SendCoAP(realmLocalAllRoutersMulticast, msg)
}

func (r *Resolver) nextToken() uint16 {
	r.nextMessageID++
	return r.nextMessageID
}

// armTimeout schedules the entry's retry/expiry handling after d.
func (r *Resolver) armTimeout(idx int, d time.Duration) {
	r.sched.After(d, func() { r.handleTimeout(idx) })
}

func (r *Resolver) handleTimeout(idx int) {
	e := &r.entries[idx]
	switch e.state {
	case StateDiscover:
		e.state = StateRetry
		e.failureCount++
		r.armTimeout(idx, InitialRetryDelay)
		r.sendQuery(e.eid)
	case StateRetry:
		delay := InitialRetryDelay << uint(e.failureCount)
		if delay > MaxRetryDelay || delay <= 0 {
			delay = MaxRetryDelay
		}
		e.failureCount++
		r.armTimeout(idx, delay)
		r.sendQuery(e.eid)
	default:
		// Valid or Invalid: no timer action (Valid entries have no
		// expiry in this implementation; they are invalidated explicitly
		// by HandleAddressError or an ICMP Destination Unreachable).
	}
}

// HandleAddressNotification processes a CoAP /a/an message from the EID's
// owner: installs {rloc16, meshLocalIID, Valid}, and drains the resolving
// queue via the forwarder notifier (spec §4.8).
func (r *Resolver) HandleAddressNotification(eid [16]byte, meshLocalIID [8]byte, rloc16 uint16) {
	idx := r.findEntry(eid)
	if idx < 0 {
		idx = r.lruVictim()
	}
	r.gen++
	r.entries[idx] = entry{
		eid:          eid,
		meshLocalIID: meshLocalIID,
		rloc16:       rloc16,
		state:        StateValid,
		lastUsed:     r.gen,
	}
	if r.notifier != nil {
		r.notifier.HandleResolved(eid)
	}
}

// HandleAddressError processes a CoAP /a/ae message: a duplicate-EID
// collision was detected and this node lost; invalidate the cache entry so
// the next Resolve re-queries (spec §4.8).
func (r *Resolver) HandleAddressError(eid [16]byte) {
	if idx := r.findEntry(eid); idx >= 0 {
		r.entries[idx] = entry{state: StateInvalid}
	}
}

// HandleDestinationUnreachable invalidates the cache entry for eid on
// receipt of an ICMPv6 Destination Unreachable (No Route) for it (spec
// §4.8: "ICMP DstUnreach (No Route) received for a cached EID invalidates
// the entry").
func (r *Resolver) HandleDestinationUnreachable(eid [16]byte) {
	if idx := r.findEntry(eid); idx >= 0 {
		r.entries[idx] = entry{state: StateInvalid}
	}
}

// Lookup returns the cached state and RLOC16 for eid without triggering a
// query, for diagnostics/tests.
func (r *Resolver) Lookup(eid [16]byte) (State, uint16) {
	if idx := r.findEntry(eid); idx >= 0 {
		return r.entries[idx].state, r.entries[idx].rloc16
	}
	return StateInvalid, 0
}
