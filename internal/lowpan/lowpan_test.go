package lowpan

import (
	"bytes"
	"testing"

	"github.com/threadcore/node/internal/mac"
)

func buildUDPDatagram(src, dst [16]byte, hopLimit uint8, srcPort, dstPort uint16, payload []byte) []byte {
	udp := make([]byte, 8+len(payload))
	udp[0], udp[1] = byte(srcPort>>8), byte(srcPort)
	udp[2], udp[3] = byte(dstPort>>8), byte(dstPort)
	length := uint16(8 + len(payload))
	udp[4], udp[5] = byte(length>>8), byte(length)
	udp[6], udp[7] = 0xab, 0xcd // checksum, arbitrary for this codec's purposes
	copy(udp[8:], payload)

	out := make([]byte, ip6HeaderLen+len(udp))
	out[0] = 0x60 // version 6, traffic class/flow label zero
	l := uint16(len(udp))
	out[4], out[5] = byte(l>>8), byte(l)
	out[6] = protoUDP
	out[7] = hopLimit
	copy(out[8:24], src[:])
	copy(out[24:40], dst[:])
	copy(out[40:], udp)
	return out
}

func linkLocalFromExt(ext uint64) [16]byte {
	var addr [16]byte
	copy(addr[:], linkLocalPrefix[:8])
	iid := extDerivedIID(ext)
	copy(addr[8:], iid[:])
	return addr
}

func TestCompressDecompressRoundTripLinkLocalUDP(t *testing.T) {
	srcExt := uint64(0x0011223344556677)
	dstExt := uint64(0x8899aabbccddeeff)

	src := linkLocalFromExt(srcExt)
	dst := linkLocalFromExt(dstExt)

	datagram := buildUDPDatagram(src, dst, 64, 61631, 61631, []byte("hello thread"))

	macSrc := mac.ExtAddress(srcExt)
	macDst := mac.ExtAddress(dstExt)

	compressed, err := CompressBytes(datagram, macSrc, macDst, nil)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(compressed) >= len(datagram) {
		t.Fatalf("compressed length %d did not shrink below original %d", len(compressed), len(datagram))
	}

	got, err := DecompressBytes(compressed, macSrc, macDst, nil)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, datagram) {
		t.Fatalf("round trip mismatch:\n got  %x\n want %x", got, datagram)
	}
}

func TestCompressDecompressRoundTripWithContext(t *testing.T) {
	prefix := [16]byte{0xfd, 0x00, 0x0d, 0xb8}
	ctx := Context{Prefix: prefix, PrefixLength: 64, ContextID: 1}

	srcShort := uint16(0x0400)
	dstShort := uint16(0x0401)

	src := prefix
	iid := shortDerivedIID(srcShort)
	copy(src[8:], iid[:])
	dst := prefix
	iid2 := shortDerivedIID(dstShort)
	copy(dst[8:], iid2[:])

	datagram := buildUDPDatagram(src, dst, 255, 5683, 5683, []byte{0x01, 0x02, 0x03})

	macSrc := mac.ShortAddress(srcShort)
	macDst := mac.ShortAddress(dstShort)

	compressed, err := CompressBytes(datagram, macSrc, macDst, []Context{ctx})
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	got, err := DecompressBytes(compressed, macSrc, macDst, []Context{ctx})
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, datagram) {
		t.Fatalf("round trip mismatch with context:\n got  %x\n want %x", got, datagram)
	}
}

func TestCompressDecompressRoundTripFullInlineAddresses(t *testing.T) {
	var src, dst [16]byte
	src[0] = 0x20
	src[15] = 0x01
	dst[0] = 0x20
	dst[15] = 0x02

	datagram := buildUDPDatagram(src, dst, 30, 12345, 443, []byte("payload"))

	macSrc := mac.ExtAddress(0x1111111111111111)
	macDst := mac.ExtAddress(0x2222222222222222)

	compressed, err := CompressBytes(datagram, macSrc, macDst, nil)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	got, err := DecompressBytes(compressed, macSrc, macDst, nil)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, datagram) {
		t.Fatalf("round trip mismatch:\n got  %x\n want %x", got, datagram)
	}
}

func TestCompressDecompressMulticastDestination(t *testing.T) {
	src := linkLocalFromExt(0x0011223344556677)
	dst := [16]byte{0xff, 0x02}
	dst[15] = 0x01 // ff02::1, all-nodes

	datagram := buildUDPDatagram(src, dst, 64, 19788, 19788, []byte("mle"))

	macSrc := mac.ExtAddress(0x0011223344556677)
	macDst := mac.Address{Mode: mac.AddrModeShort, Short: 0xffff}

	compressed, err := CompressBytes(datagram, macSrc, macDst, nil)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	got, err := DecompressBytes(compressed, macSrc, macDst, nil)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, datagram) {
		t.Fatalf("round trip mismatch:\n got  %x\n want %x", got, datagram)
	}
}

func TestDecompressRejectsBadDispatch(t *testing.T) {
	if _, err := DecompressBytes([]byte{0x00, 0x00}, mac.Address{}, mac.Address{}, nil); err != ErrUnsupportedDispatch {
		t.Fatalf("expected ErrUnsupportedDispatch, got %v", err)
	}
}
