package netif

import "encoding/binary"

// localAddressSet tracks the handful of unicast/multicast addresses this
// node answers to and satisfies internal/ip6's LocalAddressSet interface.
// It is deliberately narrow: the mesh-local EID, the link-local address,
// the RLOC derived from the current RLOC16, and the multicast groups
// every Thread node joins (spec §4.5, §4.8).
type localAddressSet struct {
	meshLocalPrefix [8]byte
	extAddress      uint64

	haveRLOC16 bool
	rloc16     uint16
}

func newLocalAddressSet(meshLocalPrefix [8]byte, extAddress uint64) *localAddressSet {
	return &localAddressSet{meshLocalPrefix: meshLocalPrefix, extAddress: extAddress}
}

func (s *localAddressSet) setRLOC16(rloc16 uint16) {
	s.rloc16 = rloc16
	s.haveRLOC16 = true
}

// iidFromExtAddress derives a 64-bit interface identifier from a 64-bit
// extended address by flipping the universal/local bit, the standard
// EUI-64 -> modified-EUI-64 IID transform (RFC 4291 appendix A).
func iidFromExtAddress(ext uint64) [8]byte {
	var iid [8]byte
	binary.BigEndian.PutUint64(iid[:], ext)
	iid[0] ^= 0x02
	return iid
}

// EIDAddress returns this node's mesh-local endpoint identifier.
func (s *localAddressSet) EIDAddress() [16]byte {
	var addr [16]byte
	copy(addr[:8], s.meshLocalPrefix[:])
	iid := iidFromExtAddress(s.extAddress)
	copy(addr[8:], iid[:])
	return addr
}

// LinkLocalAddress returns this node's fe80::/64 address.
func (s *localAddressSet) LinkLocalAddress() [16]byte {
	var addr [16]byte
	addr[0], addr[1] = 0xfe, 0x80
	iid := iidFromExtAddress(s.extAddress)
	copy(addr[8:], iid[:])
	return addr
}

// rloc16Address returns this node's Routing Locator address, built from
// the mesh-local prefix and the reserved 0000:00ff:fe00:RLOC16 IID (spec
// §4.5: RLOC addresses use a fixed locator-derived IID, not the extended
// address's).
func (s *localAddressSet) rloc16Address() [16]byte {
	var addr [16]byte
	copy(addr[:8], s.meshLocalPrefix[:])
	addr[11], addr[12] = 0xff, 0xfe
	binary.BigEndian.PutUint16(addr[14:16], s.rloc16)
	return addr
}

// realmLocalAllNodes and linkLocalAllNodes are the fixed multicast groups every Thread node (not just routers) joins.
var (
	realmLocalAllNodes = [16]byte{0xff, 0x03, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01}
	linkLocalAllNodes  = [16]byte{0xff, 0x02, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01}
)

// IsLocal reports whether addr is one of this node's own unicast
// addresses or a multicast group it has joined, satisfying
// internal/ip6.LocalAddressSet.
func (s *localAddressSet) IsLocal(addr [16]byte) bool {
	if addr == s.EIDAddress() || addr == s.LinkLocalAddress() {
		return true
	}
	if s.haveRLOC16 && addr == s.rloc16Address() {
		return true
	}
	return addr == realmLocalAllNodes || addr == linkLocalAllNodes
}
