package mle

// Neighbor/Child/Router table shapes (spec §3): Device owns maps of
// entries (neighbors keyed by extended address, children by RLOC16)
// rather than each entry owning a back-reference to its owning device.

// NeighborState is a neighbor table entry's lifecycle stage (spec §3:
// "state in {Invalid, Parent-Request, Child-Id-Request, Link-Request,
// Valid}").
type NeighborState uint8

const (
	NeighborInvalid NeighborState = iota
	NeighborParentRequest
	NeighborChildIDRequest
	NeighborLinkRequest
	NeighborValid
)

func (s NeighborState) String() string {
	switch s {
	case NeighborInvalid:
		return "Invalid"
	case NeighborParentRequest:
		return "Parent-Request"
	case NeighborChildIDRequest:
		return "Child-Id-Request"
	case NeighborLinkRequest:
		return "Link-Request"
	case NeighborValid:
		return "Valid"
	default:
		return "Unknown"
	}
}

// Neighbor is a single entry in the one-hop neighbor table (spec §3).
type Neighbor struct {
	ExtAddress      uint64
	Valid           bool
	LastHeard       uint32 // seconds since scheduler epoch, caller-defined
	LinkQualityIn   uint8
	MACFrameCounter uint32
	MLEFrameCounter uint32
	KeySequence     uint32
	State           NeighborState
}

// RegisteredAddressCount is the maximum number of IPv6 addresses a Child
// may register via an Address-Registration TLV (spec §3: "up to 4
// registered IPv6 addresses").
const RegisteredAddressCount = 4

// Child extends Neighbor with the fields only a parent tracks about its
// children (spec §3).
type Child struct {
	Neighbor
	ShortAddress   uint16
	Timeout        uint32 // seconds; child must poll within this window
	Mode           uint8  // spec §4.6 Mode TLV bit flags: rx-on-idle, device type, network data type
	Addresses      [RegisteredAddressCount][16]byte
	AddressesInUse int
}

// Router extends Neighbor with the fields only a router-capable device
// tracks about its router-id peers (spec §3).
type Router struct {
	Neighbor
	RouterID      uint8 // 0..62
	NextHop       uint8
	RouteCost     uint8
	LinkQualityIn uint8
	LinkQualityOut uint8
	Allocated     bool
	ReclaimDelay  uint32 // seconds remaining before a released id is reusable
}

// LeaderData carries the partition's authoritative metadata (spec §3):
// partitionId, weighting, dataVersion, stableVersion, leaderRouterId.
type LeaderData struct {
	PartitionID    uint32
	Weighting      uint8
	DataVersion    uint8
	StableVersion  uint8
	LeaderRouterID uint8
}

// BetterThan reports whether ld is the preferred partition over other per
// spec §4.6's leader-election and attach-filter ordering: higher weighting
// wins, partitionId breaks ties.
func (ld LeaderData) BetterThan(other LeaderData) bool {
	if ld.Weighting != other.Weighting {
		return ld.Weighting > other.Weighting
	}
	return ld.PartitionID > other.PartitionID
}

// LinkQualityToCost maps an 802.15.4 link quality indicator bucket (0..3)
// to a Route64 route cost, per spec §4.6's next-hop table: "link cost =
// max(linkQualityIn, linkQualityOut) mapped 1/2/4/16".
func LinkQualityToCost(lq uint8) uint8 {
	switch lq {
	case 3:
		return 1
	case 2:
		return 2
	case 1:
		return 4
	default:
		return 16
	}
}

// LinkCost computes the bidirectional route cost between this device and a
// neighbor from the worse of the two observed link qualities (spec §4.6).
func LinkCost(linkQualityIn, linkQualityOut uint8) uint8 {
	worse := linkQualityIn
	if linkQualityOut < worse {
		worse = linkQualityOut
	}
	return LinkQualityToCost(worse)
}
