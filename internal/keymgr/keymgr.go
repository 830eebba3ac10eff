// Package keymgr implements Thread's KeyManager: the master network key,
// the current key sequence, current/previous/next 32-byte key derivation,
// and the MAC/MLE frame counters, which must stay strictly monotone per
// key sequence (spec §3, §4.6 "Key sequence rollover").
package keymgr

import (
	"errors"
	"fmt"

	"github.com/threadcore/node/internal/xcrypto"
)

// ErrInvalidMasterKey is returned when a master key of the wrong length is
// supplied to New.
var ErrInvalidMasterKey = errors.New("keymgr: master key must be 16 bytes")

// KeyManager holds the master key and derives the rolling MLE/MAC key pair
// for the current and previous key sequence, plus the two frame counters
// spec §5 names as the only state "mutated only by MAC send path and MLE
// send path; one strictly-monotonic counter each."
//
// KeyManager is not safe for concurrent use, matching every other component
// in this tree's single-threaded cooperative model (spec §5).
type KeyManager struct {
	masterKey [16]byte

	sequence uint32

	curMLEKey, curMACKey [16]byte

	havePrevious            bool
	prevMLEKey, prevMACKey  [16]byte

	macFrameCounter uint32
	mleFrameCounter uint32
}

// New derives the initial current key pair (sequence 0) from masterKey.
func New(masterKey []byte) (*KeyManager, error) {
	if len(masterKey) != 16 {
		return nil, fmt.Errorf("new key manager: %w", ErrInvalidMasterKey)
	}
	km := &KeyManager{}
	copy(km.masterKey[:], masterKey)
	km.curMLEKey, km.curMACKey = xcrypto.DeriveKeys(km.masterKey[:], km.sequence)
	return km, nil
}

// CurrentKeySequence returns the active key sequence number.
func (km *KeyManager) CurrentKeySequence() uint32 { return km.sequence }

// CurrentMACKey returns the MAC key derived for the current sequence,
// satisfying mac.KeyProvider.
func (km *KeyManager) CurrentMACKey() [16]byte { return km.curMACKey }

// CurrentMLEKey returns the MLE key derived for the current sequence.
func (km *KeyManager) CurrentMLEKey() [16]byte { return km.curMLEKey }

// PreviousMACKey returns the MAC key of the immediately prior sequence and
// true, or the zero value and false if no previous key is held (spec §3:
// "optional previous key (valid for one sequence step)").
func (km *KeyManager) PreviousMACKey() ([16]byte, bool) { return km.prevMACKey, km.havePrevious }

// PreviousMLEKey returns the MLE key of the immediately prior sequence and
// true, or the zero value and false if none is held.
func (km *KeyManager) PreviousMLEKey() ([16]byte, bool) { return km.prevMLEKey, km.havePrevious }

// NextMACFrameCounter returns the next MAC frame counter value and
// post-increments it, keeping the counter strictly monotone per key
// sequence and extended source address — the extended address half of
// that pairing is the caller's, since one KeyManager serves one node.
func (km *KeyManager) NextMACFrameCounter() uint32 {
	v := km.macFrameCounter
	km.macFrameCounter++
	return v
}

// NextMLEFrameCounter returns the next MLE frame counter value and
// post-increments it.
func (km *KeyManager) NextMLEFrameCounter() uint32 {
	v := km.mleFrameCounter
	km.mleFrameCounter++
	return v
}

// MACFrameCounter returns the current MAC frame counter without advancing it.
func (km *KeyManager) MACFrameCounter() uint32 { return km.macFrameCounter }

// MLEFrameCounter returns the current MLE frame counter without advancing it.
func (km *KeyManager) MLEFrameCounter() uint32 { return km.mleFrameCounter }

// AcceptsSequence reports whether seq is a sequence this node will accept a
// received secured frame under: the current sequence, the previous sequence
// (if still held), or exactly current+1 (which triggers rollover via
// SetCurrentKeySequence — spec §4.2: "accept current or previous; reject
// future sequences beyond +1").
func (km *KeyManager) AcceptsSequence(seq uint32) bool {
	if seq == km.sequence {
		return true
	}
	if km.havePrevious && seq == km.sequence-1 {
		return true
	}
	return seq == km.sequence+1
}

// SetCurrentKeySequence installs seq as the current key sequence, promoting
// the current key pair to previous and deriving a fresh current pair, then
// resets both frame counters to zero (spec §4.6: "promotes current-
// >previous, derives new current, resets MAC and MLE frame counters to 0").
// Only valid for seq == CurrentKeySequence()+1; any other value is a no-op,
// since rollover is driven exclusively by the "received sequence = current+1"
// trigger described in spec S6.
func (km *KeyManager) SetCurrentKeySequence(seq uint32) bool {
	if seq != km.sequence+1 {
		return false
	}
	km.prevMLEKey, km.prevMACKey = km.curMLEKey, km.curMACKey
	km.havePrevious = true

	km.sequence = seq
	km.curMLEKey, km.curMACKey = xcrypto.DeriveKeys(km.masterKey[:], km.sequence)

	km.macFrameCounter = 0
	km.mleFrameCounter = 0
	return true
}

// MasterKey returns a copy of the 16-byte master key, e.g. for inclusion in
// a commissioning dataset snapshot (not otherwise consulted by this tree,
// which excludes commissioning per spec §1 Non-goals).
func (km *KeyManager) MasterKey() [16]byte { return km.masterKey }
