package ip6

import "time"

// MPLOptionType is the HopByHop option type carrying MPL seed/sequence
// information for realm-local multicast forwarding (RFC 7731 §6.1).
const MPLOptionType uint8 = 0x6d

// DefaultMPLDedupWindow and DefaultMPLEntryLifetime are this
// implementation's defaults; SPEC_FULL.md's supplemental config carries
// them as Config fields rather than compile-time constants (spec §9(d):
// "MPL cache-entry lifetime and dedup window size are compile-time config;
// expose as implementation parameters").
const (
	DefaultMPLDedupWindow   = 32
	DefaultMPLEntryLifetime = 5 * time.Minute
)

// SeedInfo identifies one MPL-originated multicast datagram (RFC 7731
// §6.1: seed-id + sequence number).
type SeedInfo struct {
	Seed     uint16
	Sequence uint8
}

type mplEntry struct {
	window   []uint8 // recent sequence numbers seen for this seed, most-recent last
	expiry   time.Duration
}

// DedupCache suppresses re-forwarding of MPL datagrams already seen,
// keyed by (seed, sequence) within a bounded per-seed window (spec §4.5:
// "MPL option processing for realm-local multicast (dedupe by
// (seed,sequence) window)").
type DedupCache struct {
	windowSize int
	lifetime   time.Duration
	entries    map[uint16]*mplEntry
}

// NewDedupCache creates a cache retaining windowSize most-recent sequence
// numbers per seed, each entry expiring lifetime after its last insertion.
func NewDedupCache(windowSize int, lifetime time.Duration) *DedupCache {
	return &DedupCache{windowSize: windowSize, lifetime: lifetime, entries: make(map[uint16]*mplEntry)}
}

// Seen reports whether (seed, sequence) has already been observed within
// its window, recording it if not. now is the scheduler's current
// monotonic time, used to expire stale per-seed entries entirely once
// lifetime elapses since their last insertion.
func (c *DedupCache) Seen(info SeedInfo, now time.Duration) bool {
	e, ok := c.entries[info.Seed]
	if ok && now > e.expiry {
		delete(c.entries, info.Seed)
		ok = false
	}
	if !ok {
		e = &mplEntry{}
		c.entries[info.Seed] = e
	}
	e.expiry = now + c.lifetime

	for _, seq := range e.window {
		if seq == info.Sequence {
			return true
		}
	}

	e.window = append(e.window, info.Sequence)
	if len(e.window) > c.windowSize {
		e.window = e.window[len(e.window)-c.windowSize:]
	}
	return false
}

// Purge removes every seed entry whose lifetime has elapsed as of now,
// intended to be driven by the 1 Hz housekeeping tick alongside reassembly
// timeouts (spec §5).
func (c *DedupCache) Purge(now time.Duration) {
	for seed, e := range c.entries {
		if now > e.expiry {
			delete(c.entries, seed)
		}
	}
}

// ParseMPLOption extracts the SeedInfo from a raw HopByHop option's value
// bytes (option type + length already stripped by the caller), per RFC
// 7731 §6.1's S/M/V-flag-and-seed-length layout, restricted to the 2-byte
// seed-id form Thread requires.
func ParseMPLOption(value []byte) (SeedInfo, bool) {
	if len(value) < 4 {
		return SeedInfo{}, false
	}
	sequence := value[1]
	seed := uint16(value[2])<<8 | uint16(value[3])
	return SeedInfo{Seed: seed, Sequence: sequence}, true
}

// EncodeMPLOption serializes info into a HopByHop option value using the
// 2-byte seed-id form (control byte with S=01, sequence, 2-byte seed).
func EncodeMPLOption(info SeedInfo) []byte {
	return []byte{
		0x40, // S=01 (2-byte seed-id), M=0, V=0
		info.Sequence,
		byte(info.Seed >> 8),
		byte(info.Seed),
	}
}
