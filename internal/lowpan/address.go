package lowpan

import (
	"encoding/binary"

	"github.com/threadcore/node/internal/mac"
)

// linkLocalPrefix is fe80::/64.
var linkLocalPrefix = [16]byte{0xfe, 0x80}

func isLinkLocal(addr [16]byte) bool {
	return prefixMatches(addr, linkLocalPrefix, 64)
}

func isMulticast(addr [16]byte) bool { return addr[0] == 0xff }

// extDerivedIID computes the 64-bit interface identifier RFC 4944 derives
// from an extended (EUI-64-class) MAC address: the address with the
// universal/local bit (bit 1 of the first octet) inverted.
func extDerivedIID(ext uint64) [8]byte {
	var iid [8]byte
	binary.BigEndian.PutUint64(iid[:], ext)
	iid[0] ^= 0x02
	return iid
}

// shortDerivedIID computes the 64-bit IID RFC 4944 derives from a 16-bit
// short address: 0000:00ff:fe00:<short>.
func shortDerivedIID(short uint16) [8]byte {
	return [8]byte{0x00, 0x00, 0x00, 0xff, 0xfe, 0x00, byte(short >> 8), byte(short)}
}

func macIIDs(a mac.Address) (ext [8]byte, hasExt bool, short [8]byte, hasShort bool) {
	if a.Mode == mac.AddrModeExt {
		return extDerivedIID(a.Ext), true, short, false
	}
	if a.Mode == mac.AddrModeShort {
		return ext, false, shortDerivedIID(a.Short), true
	}
	return
}

type addrResult struct {
	context   bool
	multicast bool
	ctxID     uint8
	mode      uint8
	bytes     []byte
}

// compressAddr selects the IPHC source/destination address mode for addr,
// preferring full elision when its IID matches the one RFC 4944 derives
// from macAddr, falling back to an inline interface identifier, and finally
// to the full 128-bit address when nothing compresses (spec §4.3: "select
// mode (0..3) by matching against link-local prefix, context prefix ...").
func compressAddr(addr [16]byte, macAddr mac.Address, contexts []Context, isDst bool) addrResult {
	if isDst && isMulticast(addr) {
		return compressMulticast(addr)
	}

	prefixElided := false
	ctx := false
	var ctxID uint8
	if isLinkLocal(addr) {
		prefixElided = true
	} else if c, ok := findContext(addr, contexts); ok {
		prefixElided = true
		ctx = true
		ctxID = c.ContextID
	}

	extIID, hasExt, shortIID, hasShort := macIIDs(macAddr)
	var iid [8]byte
	copy(iid[:], addr[8:16])

	switch {
	case prefixElided && hasExt && iid == extIID:
		return addrResult{context: ctx, ctxID: ctxID, mode: 3}
	case prefixElided && hasShort && iid == shortIID:
		return addrResult{context: ctx, ctxID: ctxID, mode: 2, bytes: append([]byte{}, addr[14:16]...)}
	case prefixElided:
		return addrResult{context: ctx, ctxID: ctxID, mode: 1, bytes: append([]byte{}, addr[8:16]...)}
	default:
		return addrResult{mode: 0, bytes: append([]byte{}, addr[:]...)}
	}
}

// compressMulticast handles the multicast-destination subset this codec
// supports: DAM=3 (1 byte) for the common ff02::/16 "all-X" shortcut form,
// DAM=0 (full 16 bytes) otherwise. The 32-bit/48-bit general multicast
// compressed forms (RFC 6282 DAM 1/2) are not implemented; every multicast
// address still round-trips, just without that extra compression (spec §4.3
// "compressible set" scopes full compression to the addresses listed there).
func compressMulticast(addr [16]byte) addrResult {
	if addr[1] == 0x02 {
		allZero := true
		for i := 2; i < 15; i++ {
			if addr[i] != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			return addrResult{multicast: true, mode: 3, bytes: []byte{addr[15]}}
		}
	}
	return addrResult{multicast: true, mode: 0, bytes: append([]byte{}, addr[:]...)}
}

func decompressAddr(mode uint8, context, multicast bool, ctxID uint8, buf []byte, macAddr mac.Address, contexts []Context) ([16]byte, int, error) {
	if multicast {
		return decompressMulticast(mode, buf)
	}

	var prefix [16]byte
	if context {
		c, ok := contextByID(ctxID, contexts)
		if !ok {
			return [16]byte{}, 0, ErrNoContext
		}
		prefix = c.Prefix
	} else {
		prefix = linkLocalPrefix
	}

	switch mode {
	case 0:
		if len(buf) < 16 {
			return [16]byte{}, 0, ErrTooShort
		}
		var addr [16]byte
		copy(addr[:], buf[:16])
		return addr, 16, nil
	case 1:
		if len(buf) < 8 {
			return [16]byte{}, 0, ErrTooShort
		}
		var addr [16]byte
		copy(addr[:8], prefix[:8])
		copy(addr[8:], buf[:8])
		return addr, 8, nil
	case 2:
		if len(buf) < 2 {
			return [16]byte{}, 0, ErrTooShort
		}
		var addr [16]byte
		copy(addr[:8], prefix[:8])
		iid := shortDerivedIID(binary.BigEndian.Uint16(buf[:2]))
		copy(addr[8:], iid[:])
		return addr, 2, nil
	case 3:
		extIID, hasExt, shortIID, hasShort := macIIDs(macAddr)
		var addr [16]byte
		copy(addr[:8], prefix[:8])
		switch {
		case hasExt:
			copy(addr[8:], extIID[:])
		case hasShort:
			copy(addr[8:], shortIID[:])
		}
		return addr, 0, nil
	default:
		return [16]byte{}, 0, ErrUnsupportedDispatch
	}
}

func decompressMulticast(mode uint8, buf []byte) ([16]byte, int, error) {
	switch mode {
	case 0:
		if len(buf) < 16 {
			return [16]byte{}, 0, ErrTooShort
		}
		var addr [16]byte
		copy(addr[:], buf[:16])
		return addr, 16, nil
	case 3:
		if len(buf) < 1 {
			return [16]byte{}, 0, ErrTooShort
		}
		addr := [16]byte{0xff, 0x02}
		addr[15] = buf[0]
		return addr, 1, nil
	default:
		return [16]byte{}, 0, ErrUnsupportedDispatch
	}
}
