package keymgr

import "testing"

var testMasterKey = []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}

func TestNewRejectsWrongLength(t *testing.T) {
	if _, err := New([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for short master key")
	}
}

func TestFrameCounterMonotone(t *testing.T) {
	km, err := New(testMasterKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	prev := km.NextMACFrameCounter()
	for i := 0; i < 100; i++ {
		next := km.NextMACFrameCounter()
		if next <= prev {
			t.Fatalf("frame counter not strictly monotone: %d -> %d", prev, next)
		}
		prev = next
	}
}

func TestSetCurrentKeySequenceRollover(t *testing.T) {
	km, err := New(testMasterKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	oldMAC := km.CurrentMACKey()
	km.NextMACFrameCounter()
	km.NextMLEFrameCounter()

	if !km.SetCurrentKeySequence(1) {
		t.Fatalf("rollover to sequence 1 should succeed")
	}
	if km.CurrentKeySequence() != 1 {
		t.Fatalf("sequence = %d, want 1", km.CurrentKeySequence())
	}
	if prev, ok := km.PreviousMACKey(); !ok || prev != oldMAC {
		t.Fatalf("previous MAC key not preserved")
	}
	if km.MACFrameCounter() != 0 || km.MLEFrameCounter() != 0 {
		t.Fatalf("frame counters not reset on rollover")
	}
	if !km.AcceptsSequence(0) || !km.AcceptsSequence(1) || !km.AcceptsSequence(2) {
		t.Fatalf("accepted-sequence window wrong after rollover")
	}
	if km.AcceptsSequence(3) {
		t.Fatalf("sequence 3 past current+1 must be rejected")
	}
}

func TestSetCurrentKeySequenceRejectsNonSuccessor(t *testing.T) {
	km, err := New(testMasterKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if km.SetCurrentKeySequence(5) {
		t.Fatalf("jump to a non-successor sequence must be rejected")
	}
}
