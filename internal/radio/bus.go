package radio

import "sync"

// Bus is an in-process shared medium connecting SimulatedRadio instances,
// standing in for the RF channel in unit tests and local multi-node
// scenarios (spec §8 end-to-end scenarios S1-S6 exercise several nodes on
// one channel/PAN without real hardware). A Bus is safe for concurrent
// use by multiple goroutine-driven test harnesses, even though each
// individual node's own core remains single-threaded per spec §5 — the
// Bus is the one piece of radio-boundary code allowed concurrency,
// because it models physically concurrent transmitters.
type Bus struct {
	mu       sync.Mutex
	members  map[*SimulatedRadio]struct{}
	ackDelay func() // not consulted; delivery is always synchronous
}

// NewBus creates an empty shared medium.
func NewBus() *Bus {
	return &Bus{members: make(map[*SimulatedRadio]struct{})}
}

// join registers r as a participant able to send and receive on the bus.
func (b *Bus) join(r *SimulatedRadio) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members[r] = struct{}{}
}

// leave removes r from the bus.
func (b *Bus) leave(r *SimulatedRadio) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.members, r)
}

// broadcast delivers frame to every other listening member on the same
// channel and reports whether at least one member acknowledged receipt
// (used to resolve the ack-request bit of an 802.15.4 frame).
func (b *Bus) broadcast(from *SimulatedRadio, frame Frame) (acked bool) {
	b.mu.Lock()
	recipients := make([]*SimulatedRadio, 0, len(b.members))
	for m := range b.members {
		if m == from {
			continue
		}
		recipients = append(recipients, m)
	}
	b.mu.Unlock()

	for _, m := range recipients {
		if m.deliver(frame) {
			acked = true
		}
	}
	return acked
}
