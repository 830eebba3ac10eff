package netdata

import (
	"reflect"
	"testing"
	"time"
)

func TestTLVRoundTrip(t *testing.T) {
	tlv := TLV{Type: TypeHasRoute, Stable: true, Value: []byte{1, 2, 3}}
	raw, err := EncodeTLV(tlv)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, n, err := DecodeTLV(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(raw) {
		t.Fatalf("consumed %d, want %d", n, len(raw))
	}
	if !reflect.DeepEqual(got, tlv) {
		t.Fatalf("got %+v, want %+v", got, tlv)
	}
}

func TestPrefixTLVRoundTrip(t *testing.T) {
	p := PrefixTLV{
		PrefixLength: 64,
		Stable:       true,
		HasRoutes:    []HasRouteEntry{{RLOC16: 0x0400, Preference: PreferenceHigh}},
		BorderRouters: []BorderRouterEntry{
			{RLOC16: 0x0401, Preference: PreferenceMedium, Flags: BorderRouterFlags{DefaultRoute: true, Valid: true}},
		},
		Context: &ContextEntry{ContextID: 1, PrefixLength: 64, Compress: true},
	}
	copy(p.Prefix[:], []byte{0xfd, 0, 0, 0, 0, 0, 0, 1})

	tlv, err := EncodePrefix(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw, err := EncodeTLV(tlv)
	if err != nil {
		t.Fatalf("encode tlv: %v", err)
	}

	top, n, err := DecodeTLV(raw)
	if err != nil || n != len(raw) {
		t.Fatalf("decode tlv: n=%d err=%v", n, err)
	}
	got, err := DecodePrefix(top.Value)
	if err != nil {
		t.Fatalf("decode prefix: %v", err)
	}

	if got.Prefix != p.Prefix || got.PrefixLength != p.PrefixLength {
		t.Fatalf("prefix mismatch: %+v", got)
	}
	if len(got.HasRoutes) != 1 || got.HasRoutes[0] != p.HasRoutes[0] {
		t.Fatalf("has-route mismatch: %+v", got.HasRoutes)
	}
	if len(got.BorderRouters) != 1 || got.BorderRouters[0] != p.BorderRouters[0] {
		t.Fatalf("border-router mismatch: %+v", got.BorderRouters)
	}
	if got.Context == nil || *got.Context != *p.Context {
		t.Fatalf("context mismatch: %+v", got.Context)
	}
}

func TestContextIDAllocatorReuseDelay(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	a := NewContextIDAllocator(clock)

	id, err := a.Allocate()
	if err != nil || id != MinContextID {
		t.Fatalf("first allocation = (%d, %v), want (%d, nil)", id, err, MinContextID)
	}
	a.Release(id)

	id2, err := a.Allocate()
	if err != nil {
		t.Fatalf("second allocate: %v", err)
	}
	if id2 == id {
		t.Fatalf("reused id %d immediately after release, want cooldown honored", id)
	}

	now = now.Add(ContextIDReuseDelay + time.Second)
	a.Release(id2)
	id3, err := a.Allocate()
	if err != nil || id3 != id {
		t.Fatalf("expected id %d free again after cooldown, got (%d, %v)", id, id3, err)
	}
}

func TestContextIDAllocatorExhaustion(t *testing.T) {
	now := time.Unix(0, 0)
	a := NewContextIDAllocator(func() time.Time { return now })
	for i := MinContextID; i <= MaxContextID; i++ {
		if _, err := a.Allocate(); err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
	}
	if _, err := a.Allocate(); err != ErrContextIDsExhausted {
		t.Fatalf("expected ErrContextIDsExhausted, got %v", err)
	}
}

func TestRouteLookupLongestPrefixAndPreference(t *testing.T) {
	l := NewLeader(NewContextIDAllocator(func() time.Time { return time.Unix(0, 0) }))

	short := PrefixTLV{PrefixLength: 32, HasRoutes: []HasRouteEntry{{RLOC16: 0x0400, Preference: PreferenceHigh}}}
	long := PrefixTLV{PrefixLength: 64, HasRoutes: []HasRouteEntry{{RLOC16: 0x0c00, Preference: PreferenceLow}}}
	copy(short.Prefix[:], []byte{0xfd, 0, 0, 1})
	copy(long.Prefix[:], []byte{0xfd, 0, 0, 1})

	l.SetContribution(0x0400, []PrefixTLV{short})
	l.SetContribution(0x0c00, []PrefixTLV{long})

	var dst [16]byte
	copy(dst[:], []byte{0xfd, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 9})

	rloc, ok := l.RouteLookup(dst, 0x0000)
	if !ok {
		t.Fatalf("expected a route match")
	}
	if rloc != 0x0c00 {
		t.Fatalf("rloc = %#x, want longest-prefix match 0xc00", rloc)
	}
}

func TestLocalEncodeIncludesContributions(t *testing.T) {
	local := NewLocal()
	p := PrefixTLV{PrefixLength: 64}
	copy(p.Prefix[:], []byte{0xfd, 1})
	local.AddPrefix(p)

	raw, err := local.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tlvs, err := DecodeAll(raw)
	if err != nil {
		t.Fatalf("decode all: %v", err)
	}
	if len(tlvs) != 1 || tlvs[0].Type != TypePrefix {
		t.Fatalf("expected one prefix TLV, got %+v", tlvs)
	}
}
