package netdata

import (
	"errors"
	"time"
)

// MinContextID and MaxContextID bound the 4-bit context-ID space; ID 0 is
// reserved for the mesh-local prefix and never allocated (spec §3: "Context
// {contextId 1..15 ...}").
const (
	MinContextID uint8 = 1
	MaxContextID uint8 = 15
)

// ContextIDReuseDelay is the minimum time a released context ID sits
// unavailable before reallocation (spec §4.7: "reused after
// kContextIdReuseDelay = 48 h").
const ContextIDReuseDelay = 48 * time.Hour

// ErrContextIDsExhausted is returned when every ID in [MinContextID,
// MaxContextID] is either allocated or in its reuse-delay cooldown.
var ErrContextIDsExhausted = errors.New("netdata: context id space exhausted")

// ContextIDAllocator hands out the 4-bit context IDs referenced by Context
// sub-TLVs, honoring a cooldown after release: a fixed ID space with
// allocate/release and exhaustion reported as a sentinel error, handing
// out the smallest free 4-bit id and rejecting ones still cooling down,
// since Thread context IDs are a dense small space referenced directly on
// the wire rather than an opaque collision-avoidance token.
type ContextIDAllocator struct {
	allocated map[uint8]bool
	cooldown  map[uint8]time.Time // id -> time it becomes available again
	now       func() time.Time
}

// NewContextIDAllocator creates an allocator. now supplies the current time
// for cooldown comparisons (injected so tests and the cooperative scheduler
// control time explicitly, per this module's no-wall-clock convention).
func NewContextIDAllocator(now func() time.Time) *ContextIDAllocator {
	return &ContextIDAllocator{
		allocated: make(map[uint8]bool),
		cooldown:  make(map[uint8]time.Time),
		now:       now,
	}
}

// Allocate returns the smallest available context ID not currently
// allocated or cooling down.
func (a *ContextIDAllocator) Allocate() (uint8, error) {
	t := a.now()
	for id := MinContextID; id <= MaxContextID; id++ {
		if a.allocated[id] {
			continue
		}
		if until, cooling := a.cooldown[id]; cooling && t.Before(until) {
			continue
		}
		a.allocated[id] = true
		delete(a.cooldown, id)
		return id, nil
	}
	return 0, ErrContextIDsExhausted
}

// Release frees id, starting its ContextIDReuseDelay cooldown.
func (a *ContextIDAllocator) Release(id uint8) {
	if !a.allocated[id] {
		return
	}
	delete(a.allocated, id)
	a.cooldown[id] = a.now().Add(ContextIDReuseDelay)
}

// IsAllocated reports whether id is currently allocated.
func (a *ContextIDAllocator) IsAllocated(id uint8) bool { return a.allocated[id] }
