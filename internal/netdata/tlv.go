// Package netdata implements Thread's NetworkData: the distributed,
// versioned byte blob of TLVs describing on-mesh prefixes, routes, and
// border-router/context assignments (spec §4.7), plus the context-ID
// allocator for 6LoWPAN compression contexts and a longest-prefix
// RouteLookup over the leader's prefix set.
package netdata

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// TLV type codes (spec §4.7, §6: "1-byte type|stableBit, 1-byte length").
// Only the Prefix container and its three sub-TLVs are implemented; this is
// the complete set spec §4.7 names.
const (
	TypePrefix      uint8 = 3
	TypeHasRoute    uint8 = 2
	TypeBorderRouter uint8 = 1
	TypeContext      uint8 = 4

	stableBit = 0x80
	typeMask  = 0x7f
)

// Sentinel errors.
var (
	ErrTooShort    = errors.New("netdata: TLV buffer too short")
	ErrValueTooLong = errors.New("netdata: TLV value exceeds 255 bytes")
)

// TLV is one parsed top-level or sub network-data TLV.
type TLV struct {
	Type   uint8
	Stable bool
	Value  []byte
}

// EncodeTLV serializes t to its 2+len(Value)-byte wire form.
func EncodeTLV(t TLV) ([]byte, error) {
	if len(t.Value) > 0xff {
		return nil, ErrValueTooLong
	}
	out := make([]byte, 2+len(t.Value))
	out[0] = t.Type & typeMask
	if t.Stable {
		out[0] |= stableBit
	}
	out[1] = byte(len(t.Value))
	copy(out[2:], t.Value)
	return out, nil
}

// DecodeTLV parses one TLV from the front of raw, returning it and the
// number of bytes consumed.
func DecodeTLV(raw []byte) (TLV, int, error) {
	if len(raw) < 2 {
		return TLV{}, 0, ErrTooShort
	}
	length := int(raw[1])
	if len(raw) < 2+length {
		return TLV{}, 0, ErrTooShort
	}
	t := TLV{
		Type:   raw[0] & typeMask,
		Stable: raw[0]&stableBit != 0,
		Value:  append([]byte{}, raw[2:2+length]...),
	}
	return t, 2 + length, nil
}

// DecodeAll parses every top-level TLV in raw in order.
func DecodeAll(raw []byte) ([]TLV, error) {
	var out []TLV
	for len(raw) > 0 {
		t, n, err := DecodeTLV(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		raw = raw[n:]
	}
	return out, nil
}

// Preference is the 2-bit route/border-router preference field (spec §4.7:
// "prf" entries, "+1, 0, -1").
type Preference int8

const (
	PreferenceLow    Preference = -1
	PreferenceMedium Preference = 0
	PreferenceHigh   Preference = 1
)

func encodePreference(p Preference) uint8 { return uint8(p) & 0x03 }

func decodePreference(b uint8) Preference {
	switch b & 0x03 {
	case 1:
		return PreferenceHigh
	case 3:
		return PreferenceLow
	default:
		return PreferenceMedium
	}
}

// HasRouteEntry is one sub-TLV entry of a Has-Route TLV (spec §3: "Has-Route
// entries {rloc16, prf}").
type HasRouteEntry struct {
	RLOC16     uint16
	Preference Preference
}

// EncodeHasRoute serializes entries into a Has-Route sub-TLV value.
func EncodeHasRoute(entries []HasRouteEntry, stable bool) (TLV, error) {
	val := make([]byte, 0, 3*len(entries))
	for _, e := range entries {
		var b [3]byte
		binary.BigEndian.PutUint16(b[0:2], e.RLOC16)
		b[2] = encodePreference(e.Preference)
		val = append(val, b[:]...)
	}
	return TLV{Type: TypeHasRoute, Stable: stable, Value: val}, nil
}

// DecodeHasRoute parses a Has-Route sub-TLV's value.
func DecodeHasRoute(value []byte) ([]HasRouteEntry, error) {
	if len(value)%3 != 0 {
		return nil, fmt.Errorf("netdata: has-route value length %d not a multiple of 3: %w", len(value), ErrTooShort)
	}
	var out []HasRouteEntry
	for i := 0; i+3 <= len(value); i += 3 {
		out = append(out, HasRouteEntry{
			RLOC16:     binary.BigEndian.Uint16(value[i : i+2]),
			Preference: decodePreference(value[i+2]),
		})
	}
	return out, nil
}

// BorderRouterFlags are the 1-bit flags a Border-Router entry carries (spec
// §3: "{rloc16, prf, preferred, valid, dhcp, configure, default-route}").
type BorderRouterFlags struct {
	Preferred    bool
	Valid        bool
	DHCP         bool
	Configure    bool
	DefaultRoute bool
}

// BorderRouterEntry is one sub-TLV entry of a Border-Router TLV.
type BorderRouterEntry struct {
	RLOC16     uint16
	Preference Preference
	Flags      BorderRouterFlags
}

func encodeBRFlags(f BorderRouterFlags) uint8 {
	var b uint8
	if f.Preferred {
		b |= 1 << 5
	}
	if f.Valid {
		b |= 1 << 4
	}
	if f.DHCP {
		b |= 1 << 3
	}
	if f.Configure {
		b |= 1 << 2
	}
	if f.DefaultRoute {
		b |= 1 << 1
	}
	return b
}

func decodeBRFlags(b uint8) BorderRouterFlags {
	return BorderRouterFlags{
		Preferred:    b&(1<<5) != 0,
		Valid:        b&(1<<4) != 0,
		DHCP:         b&(1<<3) != 0,
		Configure:    b&(1<<2) != 0,
		DefaultRoute: b&(1<<1) != 0,
	}
}

// EncodeBorderRouter serializes entries into a Border-Router sub-TLV value.
func EncodeBorderRouter(entries []BorderRouterEntry, stable bool) (TLV, error) {
	val := make([]byte, 0, 4*len(entries))
	for _, e := range entries {
		var b [4]byte
		binary.BigEndian.PutUint16(b[0:2], e.RLOC16)
		b[2] = encodePreference(e.Preference) | encodeBRFlags(e.Flags)
		val = append(val, b[:3]...)
	}
	return TLV{Type: TypeBorderRouter, Stable: stable, Value: val}, nil
}

// DecodeBorderRouter parses a Border-Router sub-TLV's value.
func DecodeBorderRouter(value []byte) ([]BorderRouterEntry, error) {
	if len(value)%3 != 0 {
		return nil, fmt.Errorf("netdata: border-router value length %d not a multiple of 3: %w", len(value), ErrTooShort)
	}
	var out []BorderRouterEntry
	for i := 0; i+3 <= len(value); i += 3 {
		out = append(out, BorderRouterEntry{
			RLOC16:     binary.BigEndian.Uint16(value[i : i+2]),
			Preference: decodePreference(value[i+2]),
			Flags:      decodeBRFlags(value[i+2]),
		})
	}
	return out, nil
}

// ContextEntry is a Context sub-TLV value (spec §3: "Context {contextId
// 1..15, length, compress-flag}").
type ContextEntry struct {
	ContextID    uint8
	PrefixLength uint8
	Compress     bool
}

// EncodeContext serializes c into a Context sub-TLV.
func EncodeContext(c ContextEntry, stable bool) TLV {
	b := c.ContextID & 0x0f
	if c.Compress {
		b |= 0x10
	}
	return TLV{Type: TypeContext, Stable: stable, Value: []byte{c.PrefixLength, b}}
}

// DecodeContext parses a Context sub-TLV's value.
func DecodeContext(value []byte) (ContextEntry, error) {
	if len(value) < 2 {
		return ContextEntry{}, ErrTooShort
	}
	return ContextEntry{
		PrefixLength: value[0],
		ContextID:    value[1] & 0x0f,
		Compress:     value[1]&0x10 != 0,
	}, nil
}

// PrefixTLV is a Prefix TLV's parsed content: the prefix itself plus the
// Has-Route/Border-Router/Context sub-TLVs nested inside it (spec §3:
// "Prefix TLV is container for Has-Route, Border-Router, Context
// sub-TLVs").
type PrefixTLV struct {
	Domain       uint8 // always 0 in this implementation (no multi-domain support)
	Prefix       [16]byte
	PrefixLength uint8
	Stable       bool

	HasRoutes      []HasRouteEntry
	BorderRouters  []BorderRouterEntry
	Context        *ContextEntry
}

// EncodePrefix serializes a PrefixTLV and its sub-TLVs into one top-level
// TLV.
func EncodePrefix(p PrefixTLV) (TLV, error) {
	prefixBytes := (int(p.PrefixLength) + 7) / 8
	val := make([]byte, 0, 2+prefixBytes)
	val = append(val, p.Domain, p.PrefixLength)
	val = append(val, p.Prefix[:prefixBytes]...)

	if len(p.HasRoutes) > 0 {
		t, err := EncodeHasRoute(p.HasRoutes, p.Stable)
		if err != nil {
			return TLV{}, err
		}
		raw, err := EncodeTLV(t)
		if err != nil {
			return TLV{}, err
		}
		val = append(val, raw...)
	}
	if len(p.BorderRouters) > 0 {
		t, err := EncodeBorderRouter(p.BorderRouters, p.Stable)
		if err != nil {
			return TLV{}, err
		}
		raw, err := EncodeTLV(t)
		if err != nil {
			return TLV{}, err
		}
		val = append(val, raw...)
	}
	if p.Context != nil {
		raw, err := EncodeTLV(EncodeContext(*p.Context, p.Stable))
		if err != nil {
			return TLV{}, err
		}
		val = append(val, raw...)
	}

	return TLV{Type: TypePrefix, Stable: p.Stable, Value: val}, nil
}

// DecodePrefix parses a Prefix TLV's value, including its nested sub-TLVs.
func DecodePrefix(value []byte) (PrefixTLV, error) {
	if len(value) < 2 {
		return PrefixTLV{}, ErrTooShort
	}
	p := PrefixTLV{Domain: value[0], PrefixLength: value[1]}
	prefixBytes := (int(p.PrefixLength) + 7) / 8
	if len(value) < 2+prefixBytes {
		return PrefixTLV{}, ErrTooShort
	}
	copy(p.Prefix[:], value[2:2+prefixBytes])

	rest := value[2+prefixBytes:]
	for len(rest) > 0 {
		sub, n, err := DecodeTLV(rest)
		if err != nil {
			return PrefixTLV{}, err
		}
		rest = rest[n:]
		if sub.Stable {
			p.Stable = true
		}
		switch sub.Type {
		case TypeHasRoute:
			entries, err := DecodeHasRoute(sub.Value)
			if err != nil {
				return PrefixTLV{}, err
			}
			p.HasRoutes = entries
		case TypeBorderRouter:
			entries, err := DecodeBorderRouter(sub.Value)
			if err != nil {
				return PrefixTLV{}, err
			}
			p.BorderRouters = entries
		case TypeContext:
			ctx, err := DecodeContext(sub.Value)
			if err != nil {
				return PrefixTLV{}, err
			}
			p.Context = &ctx
		}
	}
	return p, nil
}
