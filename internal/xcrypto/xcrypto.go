// Package xcrypto provides the stateless cryptographic primitives the
// Thread stack treats as an external contract (spec §1, §6): AES-128
// single-block encryption, HMAC-SHA256, Thread's HMAC-based key
// derivation, and the AES-CCM* authenticated construction used to protect
// both 802.15.4 MAC frames and MLE messages.
//
// None of these hold state across calls; every function is a pure
// transform over its inputs, matching the contract spec §6 assumes for
// "cryptographic primitives (AES-ECB, SHA-256)".
package xcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
)

// ErrInvalidKeyLength is returned when a master or derived key is not a
// supported AES key length.
var ErrInvalidKeyLength = errors.New("xcrypto: invalid key length")

// ErrAuthenticationFailed is returned by Open when the CCM* tag does not
// verify, i.e. the MIC check failed (spec: "Security — MIC check failed").
var ErrAuthenticationFailed = errors.New("xcrypto: message authentication failed")

// NonceSize is the fixed length of a Thread CCM* nonce: 8-byte extended
// source address, 4-byte frame counter, 1-byte security level (spec §4.3:
// "nonce = (64-bit source ext-addr ∥ 32-bit frame counter ∥ 1-byte
// security level)").
const NonceSize = 13

// keyDerivationLabel is the ASCII string HMAC'd alongside the key sequence
// when deriving Thread's MLE/MAC key pair from the master key.
var keyDerivationLabel = []byte("Thread")

// ECBEncrypt performs a single AES-128 block encryption of in (16 bytes)
// under key (16 bytes), matching the `otCryptoAesEcbEncrypt` contract
// referenced throughout the MAC and CCM* layers.
func ECBEncrypt(key, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKeyLength
	}
	out := make([]byte, aes.BlockSize)
	block.Encrypt(out, in)
	return out, nil
}

// HMACSHA256 computes HMAC-SHA256(key, data).
func HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// DeriveKeys computes Thread's current 32-byte key material for the given
// key sequence from the master key: HMAC-SHA256(masterKey, keySequence
// (big-endian uint32) || "Thread"). The first 16 bytes are the MLE key,
// the next 16 bytes are the MAC key (spec §3: "derived current 32-B key
// (first 16 B MLE key, next 16 B MAC key)").
func DeriveKeys(masterKey []byte, keySequence uint32) (mleKey, macKey [16]byte) {
	var seqBytes [4]byte
	binary.BigEndian.PutUint32(seqBytes[:], keySequence)

	mac := hmac.New(sha256.New, masterKey)
	mac.Write(seqBytes[:])
	mac.Write(keyDerivationLabel)
	digest := mac.Sum(nil)

	copy(mleKey[:], digest[:16])
	copy(macKey[:], digest[16:32])
	return mleKey, macKey
}

// SecurityLevel is the 802.15.4 aux-security-header security level field;
// it selects the CCM* tag length (spec: "aux security header (level,
// key-id-mode, frame counter, key ID)").
type SecurityLevel uint8

const (
	SecurityNone      SecurityLevel = 0
	SecurityMIC32     SecurityLevel = 1
	SecurityMIC64     SecurityLevel = 2
	SecurityMIC128    SecurityLevel = 3
	SecurityEnc       SecurityLevel = 4
	SecurityEncMIC32  SecurityLevel = 5
	SecurityEncMIC64  SecurityLevel = 6
	SecurityEncMIC128 SecurityLevel = 7
)

// TagSize returns the CCM* authentication tag length in bytes for the
// given security level, or 0 if the level applies no authentication.
func (l SecurityLevel) TagSize() int {
	switch l {
	case SecurityMIC32, SecurityEncMIC32:
		return 4
	case SecurityMIC64, SecurityEncMIC64:
		return 8
	case SecurityMIC128, SecurityEncMIC128:
		return 16
	default:
		return 0
	}
}

// Encrypted reports whether the given security level encrypts the payload
// (levels 4-7) as opposed to only authenticating it (levels 1-3) or doing
// neither (level 0).
func (l SecurityLevel) Encrypted() bool {
	return l >= SecurityEnc
}

// BuildNonce assembles the 13-byte CCM* nonce from the frame's source
// extended address, frame counter, and security level.
func BuildNonce(extAddr uint64, frameCounter uint32, level SecurityLevel) [NonceSize]byte {
	var nonce [NonceSize]byte
	binary.BigEndian.PutUint64(nonce[0:8], extAddr)
	binary.BigEndian.PutUint32(nonce[8:12], frameCounter)
	nonce[12] = byte(level)
	return nonce
}

// ccmAEAD builds a cipher.AEAD configured for Thread's fixed 13-byte nonce
// and the tag size appropriate to level. Go's CCM implementation already
// performs the RFC 3610 / 802.15.4-"CCM*" construction (counter-mode
// encryption plus CBC-MAC authentication) that OpenThread hand-rolls in
// its aes_ccm.cpp; reusing it avoids a second, easier-to-get-wrong
// implementation of the same primitive.
func ccmAEAD(key []byte, level SecurityLevel) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKeyLength
	}
	tagSize := level.TagSize()
	if tagSize == 0 {
		tagSize = 16
	}
	return cipher.NewCCMWithNonceAndTagSize(block, NonceSize, tagSize)
}

// Seal authenticates header (not encrypted) and encrypts+authenticates
// payload (if level is an Enc* level) or only authenticates it (if level
// is a MIC-only level), appending the resulting tag. It mirrors the
// OpenThread AesCcm Header/Payload/Finalize sequence collapsed into one
// call, matching the stdlib AEAD shape used throughout the rest of this
// module's wire codecs.
func Seal(key []byte, nonce [NonceSize]byte, level SecurityLevel, header, payload []byte) ([]byte, error) {
	if level == SecurityNone {
		return append(append([]byte{}, header...), payload...), nil
	}

	aead, err := ccmAEAD(key, level)
	if err != nil {
		return nil, err
	}

	if !level.Encrypted() {
		// MIC-only levels authenticate the full frame (header+payload) as
		// additional data and produce an empty ciphertext; the tag is
		// appended directly after the plaintext payload.
		sealed := aead.Seal(nil, nonce[:], nil, append(append([]byte{}, header...), payload...))
		return append(append([]byte{}, payload...), sealed...), nil
	}

	ciphertext := aead.Seal(nil, nonce[:], payload, header)
	return ciphertext, nil
}

// Open reverses Seal. header is passed separately at every level. For
// MIC-only levels, sealed must be payload||tag as Seal returns it; for Enc*
// levels, sealed must be the ciphertext+tag produced by Seal. Returns ErrAuthenticationFailed
// if the tag does not verify.
func Open(key []byte, nonce [NonceSize]byte, level SecurityLevel, header, sealed []byte) ([]byte, error) {
	if level == SecurityNone {
		return sealed, nil
	}

	aead, err := ccmAEAD(key, level)
	if err != nil {
		return nil, err
	}

	if !level.Encrypted() {
		tagSize := level.TagSize()
		if len(sealed) < tagSize {
			return nil, ErrAuthenticationFailed
		}
		payload := sealed[:len(sealed)-tagSize]
		tag := sealed[len(sealed)-tagSize:]
		plain := append(append([]byte{}, header...), payload...)
		if _, err := aead.Open(nil, nonce[:], tag, plain); err != nil {
			return nil, ErrAuthenticationFailed
		}
		return payload, nil
	}

	plain, err := aead.Open(nil, nonce[:], sealed, header)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plain, nil
}
