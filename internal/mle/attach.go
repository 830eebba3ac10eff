package mle

import (
	"crypto/rand"
	"sort"
)

// AttachFilter selects which partitions a Parent-Request may attach to
// (spec §4.6 attach procedure step 1: "select attach filter AnyPartition /
// SamePartition / BetterPartition").
type AttachFilter uint8

const (
	AttachAnyPartition AttachFilter = iota
	AttachSamePartition
	AttachBetterPartition
)

// ParentCandidate is one Parent-Response collected during an attach round,
// scored for selection (spec §4.6: "score by (partitionBetter?,
// linkQualityIn, connectivity)").
type ParentCandidate struct {
	ExtAddress    uint64
	ShortAddress  uint16
	LeaderData    LeaderData
	LinkQualityIn uint8
	Connectivity  uint8
	Challenge     [8]byte
}

// partitionBetter reports whether candidate's partition is strictly
// preferred over current under filter.
func partitionBetter(filter AttachFilter, current, candidate LeaderData, haveCurrent bool) bool {
	switch filter {
	case AttachAnyPartition:
		return true
	case AttachSamePartition:
		return haveCurrent && candidate.PartitionID == current.PartitionID
	case AttachBetterPartition:
		return !haveCurrent || candidate.BetterThan(current)
	default:
		return false
	}
}

// score ranks c for ordering by (partitionBetter, linkQualityIn,
// connectivity), all descending (spec §4.6).
func score(filter AttachFilter, current LeaderData, haveCurrent bool, c ParentCandidate) (betterPartition bool, lq, conn uint8) {
	return partitionBetter(filter, current, c.LeaderData, haveCurrent), c.LinkQualityIn, c.Connectivity
}

// SelectBestParent orders candidates per spec §4.6's scoring tuple and
// returns the best one, or false if candidates is empty.
func SelectBestParent(filter AttachFilter, current LeaderData, haveCurrent bool, candidates []ParentCandidate) (ParentCandidate, bool) {
	if len(candidates) == 0 {
		return ParentCandidate{}, false
	}
	ranked := append([]ParentCandidate{}, candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		bi, lqi, ci := score(filter, current, haveCurrent, ranked[i])
		bj, lqj, cj := score(filter, current, haveCurrent, ranked[j])
		if bi != bj {
			return bi
		}
		if lqi != lqj {
			return lqi > lqj
		}
		return ci > cj
	})
	return ranked[0], true
}

// NewChallenge generates the 8-byte Challenge value a Parent-Request or
// Link-Request carries, echoed back in a Response TLV to prove liveness
// (spec §4.6: "Challenge(8B), Response(8B)").
func NewChallenge() ([8]byte, error) {
	var c [8]byte
	if _, err := rand.Read(c[:]); err != nil {
		return c, err
	}
	return c, nil
}

// AttachRound tracks one in-progress attach attempt (spec §4.6 attach
// procedure): broadcast a Parent-Request, widen from routers-only to
// routers-and-REEDs if the first window is silent, collect candidates, then
// send a Child-Id-Request to the best one.
type AttachRound struct {
	Filter         AttachFilter
	Challenge      [8]byte
	RoutersOnly    bool
	Candidates     []ParentCandidate
	RoundsAttempted int
}

// NewAttachRound starts a fresh attach attempt with filter, generating a
// new Challenge.
func NewAttachRound(filter AttachFilter) (*AttachRound, error) {
	ch, err := NewChallenge()
	if err != nil {
		return nil, err
	}
	return &AttachRound{Filter: filter, Challenge: ch, RoutersOnly: true}, nil
}

// WidenToREEDs moves the round from routers-only to including REEDs, fired
// when ParentRequestRouterTimeout elapses with no acceptable candidate
// (spec §4.6).
func (a *AttachRound) WidenToREEDs() {
	a.RoutersOnly = false
}

// AddCandidate records a Parent-Response received during this round.
func (a *AttachRound) AddCandidate(c ParentCandidate) {
	a.Candidates = append(a.Candidates, c)
}

// Best returns the best candidate collected so far under the round's
// filter, given the device's currently-known partition (if any).
func (a *AttachRound) Best(current LeaderData, haveCurrent bool) (ParentCandidate, bool) {
	return SelectBestParent(a.Filter, current, haveCurrent, a.Candidates)
}

// ShouldGiveUp reports whether the device has exhausted MaxAttachRounds
// attach attempts and should remain Detached rather than retry immediately
// (spec §4.6: "remain Detached after N rounds failure").
func ShouldGiveUp(roundsAttempted int) bool {
	return roundsAttempted >= MaxAttachRounds
}
