// Package mle implements Thread's Mesh Link Establishment control plane:
// the secured MLE header and TLV codec, the attach procedure, router/leader
// promotion, advertisement trickle timing, the Route64 next-hop table, and
// the device state machine Disabled -> Detached -> {Child, Router, Leader}
// (spec §4.6).
//
// The device state machine is a pure transition-table function, and
// Neighbor/Child/Router storage follows an aggregate-owns-tables shape
// (carried forward into ThreadNetif in internal/netif).
package mle

import (
	"encoding/binary"
	"errors"
)

// Port is the UDP port MLE messages are exchanged on (spec §4.6: "sent
// over UDP port 19788").
const Port = 19788

// RealmLocalAllThreadNodes is ff03::1, the multicast address MLE broadcasts
// (Parent-Request, Advertisement) are sent to (spec §6: "UDP port 19788 on
// ff03::1 (realm-local-all-thread-nodes)").
var RealmLocalAllThreadNodes = [16]byte{0xff, 0x03, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01}

// Command identifies an MLE message's command field (spec §4.6: "Commands
// include Link-Request/Accept/Reject, Advertisement, Data-Request/Response,
// Parent-Request/Response, Child-Id-Request/Response,
// Child-Update-Request/Response").
type Command uint8

const (
	CommandLinkRequest       Command = 0
	CommandLinkAccept        Command = 1
	CommandLinkAcceptAndReq  Command = 2
	CommandLinkReject        Command = 3
	CommandAdvertisement     Command = 4
	CommandUpdate            Command = 5
	CommandUpdateRequest     Command = 6
	CommandDataRequest       Command = 7
	CommandDataResponse      Command = 8
	CommandParentRequest     Command = 9
	CommandParentResponse    Command = 10
	CommandChildIdRequest    Command = 11
	CommandChildIdResponse   Command = 12
	CommandChildUpdateReq    Command = 13
	CommandChildUpdateResp   Command = 14
)

// TLVType identifies one MLE TLV's type octet (spec §4.6: "TLV carriers in
// payload: Source-Address, Mode, Timeout, Challenge(8B), Response(8B),
// LinkFrameCounter, MleFrameCounter, Route64, Address16, LeaderData,
// NetworkData, TlvRequest, ScanMask, Connectivity, LinkMargin, Status,
// Version, AddressRegistration").
type TLVType uint8

const (
	TLVSourceAddress       TLVType = 0
	TLVMode                TLVType = 1
	TLVTimeout             TLVType = 2
	TLVChallenge           TLVType = 3
	TLVResponse            TLVType = 4
	TLVLinkFrameCounter    TLVType = 5
	TLVRoute64             TLVType = 9
	TLVAddress16           TLVType = 10
	TLVLeaderData          TLVType = 11
	TLVNetworkData         TLVType = 12
	TLVTLVRequest          TLVType = 13
	TLVScanMask            TLVType = 14
	TLVConnectivity        TLVType = 15
	TLVLinkMargin          TLVType = 16
	TLVStatus              TLVType = 17
	TLVVersion             TLVType = 18
	TLVAddressRegistration TLVType = 19
	TLVMleFrameCounter     TLVType = 8
)

// Sentinel errors for the header/TLV codec.
var (
	ErrTooShort        = errors.New("mle: buffer shorter than claimed field")
	ErrKeyIDModeUnsupp = errors.New("mle: unsupported key-id mode")
)

// headerFixedLen is security-suite(1) + security-control(1) + frame-counter(4).
const headerFixedLen = 6

// Header is the MLE security header plus the command octet that follows
// the decrypted payload (spec §4.6: "security-suite(1) + security-
// control(1) + frame-counter(4) + key-identifier(1 or 5B) + command(1)").
type Header struct {
	SecuritySuite   uint8
	KeyIDMode       uint8 // 0: 1-byte key-id (current sequence implied); 1: 5-byte (sequence + key-id)
	FrameCounter    uint32
	KeySequence     uint32 // valid in both modes: mode 0 implies "current", mode 1 carries it explicitly
	Command         Command
}

// EncodeHeader serializes h's security header and command octet. The
// 5-byte key-identifier form (4-byte key sequence + 1-byte key id) is
// always emitted, whatever h.KeyIDMode holds; KeyIDMode only sets the
// key-id-mode bits of the security-control octet.
func EncodeHeader(h Header) []byte {
	out := make([]byte, 0, headerFixedLen+5+1)
	out = append(out, h.SecuritySuite)
	out = append(out, (h.KeyIDMode<<3)&0x18)
	var fc [4]byte
	binary.BigEndian.PutUint32(fc[:], h.FrameCounter)
	out = append(out, fc[:]...)

	var seq [4]byte
	binary.BigEndian.PutUint32(seq[:], h.KeySequence)
	out = append(out, seq[:]...)
	out = append(out, byte(h.KeySequence)) // low byte doubles as the 1-byte key id

	out = append(out, byte(h.Command))
	return out
}

// DecodeHeader parses the fixed security header, the 5-byte key-identifier
// field this codec always emits, and the trailing command octet.
func DecodeHeader(raw []byte) (Header, int, error) {
	if len(raw) < headerFixedLen+5+1 {
		return Header{}, 0, ErrTooShort
	}
	h := Header{
		SecuritySuite: raw[0],
		KeyIDMode:     (raw[1] >> 3) & 0x03,
	}
	h.FrameCounter = binary.BigEndian.Uint32(raw[2:6])
	h.KeySequence = binary.BigEndian.Uint32(raw[6:10])
	h.Command = Command(raw[11])
	return h, headerFixedLen + 5 + 1, nil
}

// TLV is one decoded type-length-value entry (spec §4.6 TLV carriers).
type TLV struct {
	Type  TLVType
	Value []byte
}

// EncodeTLVs serializes tlvs back-to-back as type(1)+length(1)+value.
func EncodeTLVs(tlvs []TLV) []byte {
	out := make([]byte, 0, 16*len(tlvs))
	for _, t := range tlvs {
		out = append(out, byte(t.Type), byte(len(t.Value)))
		out = append(out, t.Value...)
	}
	return out
}

// DecodeTLVs walks payload as a sequence of type(1)+length(1)+value TLVs
// until the buffer is exhausted.
func DecodeTLVs(payload []byte) ([]TLV, error) {
	var out []TLV
	pos := 0
	for pos < len(payload) {
		if pos+2 > len(payload) {
			return nil, ErrTooShort
		}
		typ := TLVType(payload[pos])
		length := int(payload[pos+1])
		pos += 2
		if pos+length > len(payload) {
			return nil, ErrTooShort
		}
		out = append(out, TLV{Type: typ, Value: append([]byte{}, payload[pos:pos+length]...)})
		pos += length
	}
	return out, nil
}

// FindTLV returns the first TLV of type t in tlvs.
func FindTLV(tlvs []TLV, t TLVType) (TLV, bool) {
	for _, tlv := range tlvs {
		if tlv.Type == t {
			return tlv, true
		}
	}
	return TLV{}, false
}

func encodeU16(v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return b[:]
}

func decodeU16(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, ErrTooShort
	}
	return binary.BigEndian.Uint16(b[:2]), nil
}
