// Package mac implements the IEEE 802.15.4 MAC layer: frame encode/decode,
// CSMA/CA-scheduled transmission, ACK timeout/retry, active scan, and
// link-layer security (spec §4.2).
package mac

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/threadcore/node/internal/radio"
	"github.com/threadcore/node/internal/xcrypto"
)

// FrameType is the 3-bit FCF frame type field.
type FrameType uint8

const (
	FrameTypeBeacon FrameType = 0
	FrameTypeData   FrameType = 1
	FrameTypeAck    FrameType = 2
	FrameTypeCmd    FrameType = 3
)

// AddressMode is the 2-bit FCF address mode field.
type AddressMode uint8

const (
	AddrModeNone  AddressMode = 0
	AddrModeShort AddressMode = 2
	AddrModeExt   AddressMode = 3
)

// FrameVersion is the 2-bit FCF frame version field.
type FrameVersion uint8

const (
	FrameVersion2006 FrameVersion = 1
)

// CmdDataRequest is the MAC command frame identifier for a Data Request
// (spec §4.4: "MAC command Data-Request").
const CmdDataRequest = 0x04

// Frame Control Field bit layout (802.15.4-2006, first two octets).
const (
	fcfTypeMask          = 0x0007
	fcfSecurityEnabled   = 0x0008
	fcfFramePending      = 0x0010
	fcfAckRequest        = 0x0020
	fcfPanIDCompression  = 0x0040
	fcfDstAddrModeShift  = 10
	fcfDstAddrModeMask   = 0x0003
	fcfFrameVersionShift = 12
	fcfFrameVersionMask  = 0x0003
	fcfSrcAddrModeShift  = 14
	fcfSrcAddrModeMask   = 0x0003
)

// Address is a MAC-layer address, either 16-bit short or 64-bit extended.
type Address struct {
	Mode  AddressMode
	Short uint16
	Ext   uint64
}

func ShortAddress(a uint16) Address { return Address{Mode: AddrModeShort, Short: a} }
func ExtAddress(a uint64) Address   { return Address{Mode: AddrModeExt, Ext: a} }

// IsBroadcast reports whether a is the reserved all-ones short broadcast
// address.
func (a Address) IsBroadcast() bool {
	return a.Mode == AddrModeShort && a.Short == 0xffff
}

// AuxSecurityHeader carries the per-frame security parameters (spec §3:
// "aux security header (level, key-id-mode, frame counter, key ID)").
type AuxSecurityHeader struct {
	Level        xcrypto.SecurityLevel
	KeyIDMode    uint8
	FrameCounter uint32
	KeyID        uint8 // valid when KeyIDMode == 1
}

// Frame is a parsed IEEE 802.15.4 MAC frame (spec §3: "MAC Frame").
type Frame struct {
	Type               FrameType
	SecurityEnabled    bool
	FramePending       bool
	AckRequest         bool
	PANIDCompression   bool
	Version            FrameVersion
	Sequence           uint8
	DstPANID           uint16
	DstAddr            Address
	SrcPANID           uint16
	SrcAddr            Address
	Security           AuxSecurityHeader
	Payload            []byte
	MIC                []byte
}

var (
	// ErrFrameTooShort indicates the buffer is too small to hold even the
	// fixed-size portion of the fields it claims to carry.
	ErrFrameTooShort = errors.New("mac: frame too short")
	// ErrUnsupportedAddrMode indicates an FCF addressing mode this codec
	// does not implement (reserved value 1).
	ErrUnsupportedAddrMode = errors.New("mac: unsupported address mode")
)

// Encode serializes f into a PSDU byte slice ready for radio.Frame.PSDU.
// Security (encryption/MIC) must already be applied to f.Payload/f.MIC by
// the caller (the Engine applies it via xcrypto before calling Encode).
func Encode(f *Frame) ([]byte, error) {
	buf := make([]byte, 0, radio.MaxPSDU)

	fcf := uint16(f.Type) & fcfTypeMask
	if f.SecurityEnabled {
		fcf |= fcfSecurityEnabled
	}
	if f.FramePending {
		fcf |= fcfFramePending
	}
	if f.AckRequest {
		fcf |= fcfAckRequest
	}
	if f.PANIDCompression {
		fcf |= fcfPanIDCompression
	}
	fcf |= (uint16(f.DstAddr.Mode) & fcfDstAddrModeMask) << fcfDstAddrModeShift
	fcf |= (uint16(f.Version) & fcfFrameVersionMask) << fcfFrameVersionShift
	fcf |= (uint16(f.SrcAddr.Mode) & fcfSrcAddrModeMask) << fcfSrcAddrModeShift

	var fcfBytes [2]byte
	binary.LittleEndian.PutUint16(fcfBytes[:], fcf)
	buf = append(buf, fcfBytes[:]...)
	buf = append(buf, f.Sequence)

	if f.DstAddr.Mode != AddrModeNone {
		var panBytes [2]byte
		binary.LittleEndian.PutUint16(panBytes[:], f.DstPANID)
		buf = append(buf, panBytes[:]...)
		buf = appendAddr(buf, f.DstAddr)
	}

	if f.SrcAddr.Mode != AddrModeNone {
		if !f.PANIDCompression {
			var panBytes [2]byte
			binary.LittleEndian.PutUint16(panBytes[:], f.SrcPANID)
			buf = append(buf, panBytes[:]...)
		}
		buf = appendAddr(buf, f.SrcAddr)
	}

	if f.SecurityEnabled {
		buf = appendAuxSecurity(buf, f.Security)
	}

	buf = append(buf, f.Payload...)
	buf = append(buf, f.MIC...)

	if len(buf) > radio.MaxPSDU {
		return nil, fmt.Errorf("encoded frame length %d: %w", len(buf), radio.ErrFrameTooLarge)
	}
	return buf, nil
}

func appendAddr(buf []byte, a Address) []byte {
	switch a.Mode {
	case AddrModeShort:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], a.Short)
		return append(buf, b[:]...)
	case AddrModeExt:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], a.Ext)
		return append(buf, b[:]...)
	default:
		return buf
	}
}

func appendAuxSecurity(buf []byte, s AuxSecurityHeader) []byte {
	control := byte(s.Level) | (s.KeyIDMode << 3)
	buf = append(buf, control)
	var fc [4]byte
	binary.LittleEndian.PutUint32(fc[:], s.FrameCounter)
	buf = append(buf, fc[:]...)
	if s.KeyIDMode == 1 {
		buf = append(buf, s.KeyID)
	}
	return buf
}

// micLenForLevel returns the CCM* tag size the aux security header implies.
func micLenForLevel(level xcrypto.SecurityLevel) int { return level.TagSize() }

// Decode parses a PSDU byte slice into a Frame. MIC bytes (if the aux
// security header indicates one) are split off into f.MIC but not
// verified; verification happens in the Engine once the MAC key is known.
func Decode(psdu []byte) (*Frame, error) {
	if len(psdu) < 3 {
		return nil, ErrFrameTooShort
	}

	fcf := binary.LittleEndian.Uint16(psdu[0:2])
	f := &Frame{
		Type:             FrameType(fcf & fcfTypeMask),
		SecurityEnabled:  fcf&fcfSecurityEnabled != 0,
		FramePending:     fcf&fcfFramePending != 0,
		AckRequest:       fcf&fcfAckRequest != 0,
		PANIDCompression: fcf&fcfPanIDCompression != 0,
		Version:          FrameVersion((fcf >> fcfFrameVersionShift) & fcfFrameVersionMask),
		Sequence:         psdu[2],
	}
	dstMode := AddressMode((fcf >> fcfDstAddrModeShift) & fcfDstAddrModeMask)
	srcMode := AddressMode((fcf >> fcfSrcAddrModeShift) & fcfSrcAddrModeMask)
	if dstMode == 1 || srcMode == 1 {
		return nil, ErrUnsupportedAddrMode
	}

	pos := 3

	if dstMode != AddrModeNone {
		if pos+2 > len(psdu) {
			return nil, ErrFrameTooShort
		}
		f.DstPANID = binary.LittleEndian.Uint16(psdu[pos : pos+2])
		pos += 2
		addr, n, err := readAddr(psdu[pos:], dstMode)
		if err != nil {
			return nil, err
		}
		f.DstAddr = addr
		pos += n
	}

	if srcMode != AddrModeNone {
		if f.PANIDCompression {
			f.SrcPANID = f.DstPANID
		} else {
			if pos+2 > len(psdu) {
				return nil, ErrFrameTooShort
			}
			f.SrcPANID = binary.LittleEndian.Uint16(psdu[pos : pos+2])
			pos += 2
		}
		addr, n, err := readAddr(psdu[pos:], srcMode)
		if err != nil {
			return nil, err
		}
		f.SrcAddr = addr
		pos += n
	}

	if f.SecurityEnabled {
		if pos+5 > len(psdu) {
			return nil, ErrFrameTooShort
		}
		control := psdu[pos]
		f.Security.Level = xcrypto.SecurityLevel(control & 0x07)
		f.Security.KeyIDMode = (control >> 3) & 0x03
		pos++
		f.Security.FrameCounter = binary.LittleEndian.Uint32(psdu[pos : pos+4])
		pos += 4
		if f.Security.KeyIDMode == 1 {
			if pos >= len(psdu) {
				return nil, ErrFrameTooShort
			}
			f.Security.KeyID = psdu[pos]
			pos++
		}
	}

	rest := psdu[pos:]
	micLen := 0
	if f.SecurityEnabled {
		micLen = micLenForLevel(f.Security.Level)
	}
	if micLen > len(rest) {
		return nil, ErrFrameTooShort
	}
	f.Payload = rest[:len(rest)-micLen]
	f.MIC = rest[len(rest)-micLen:]

	return f, nil
}

func readAddr(b []byte, mode AddressMode) (Address, int, error) {
	switch mode {
	case AddrModeShort:
		if len(b) < 2 {
			return Address{}, 0, ErrFrameTooShort
		}
		return ShortAddress(binary.LittleEndian.Uint16(b[:2])), 2, nil
	case AddrModeExt:
		if len(b) < 8 {
			return Address{}, 0, ErrFrameTooShort
		}
		return ExtAddress(binary.LittleEndian.Uint64(b[:8])), 8, nil
	default:
		return Address{}, 0, nil
	}
}
