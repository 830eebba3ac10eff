package lowpan

import "testing"

func TestFragmentHeaderFirstRoundTrip(t *testing.T) {
	h := FragmentHeader{Size: 1200, Tag: 0xbeef}
	raw := EncodeFragmentHeader(h)
	if len(raw) != FirstFragmentHeaderLen {
		t.Fatalf("encoded length %d, want %d", len(raw), FirstFragmentHeaderLen)
	}
	if !IsFragmentDispatch(raw[0]) {
		t.Fatalf("encoded fragment header does not carry the fragment dispatch bits: %08b", raw[0])
	}
	if raw[0]&fragOffsetBit != 0 {
		t.Fatalf("first fragment must not set the offset bit")
	}

	got, n, err := DecodeFragmentHeader(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != FirstFragmentHeaderLen {
		t.Fatalf("consumed %d bytes, want %d", n, FirstFragmentHeaderLen)
	}
	if got != h {
		t.Fatalf("decoded %+v, want %+v", got, h)
	}
	if !got.IsFirst() {
		t.Fatalf("decoded header should report IsFirst")
	}
}

func TestFragmentHeaderSubsequentRoundTrip(t *testing.T) {
	h := FragmentHeader{Size: 1200, Tag: 0xbeef, Offset: 96}
	raw := EncodeFragmentHeader(h)
	if len(raw) != SubsequentFragmentHeaderLen {
		t.Fatalf("encoded length %d, want %d", len(raw), SubsequentFragmentHeaderLen)
	}
	if raw[0]&fragOffsetBit == 0 {
		t.Fatalf("subsequent fragment must set the offset bit")
	}

	got, n, err := DecodeFragmentHeader(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != SubsequentFragmentHeaderLen {
		t.Fatalf("consumed %d bytes, want %d", n, SubsequentFragmentHeaderLen)
	}
	if got != h {
		t.Fatalf("decoded %+v, want %+v", got, h)
	}
	if got.IsFirst() {
		t.Fatalf("decoded header with nonzero offset should not report IsFirst")
	}
}

func TestFragmentHeaderSizeSpansElevenBits(t *testing.T) {
	h := FragmentHeader{Size: 0x07ff, Tag: 1}
	raw := EncodeFragmentHeader(h)
	got, _, err := DecodeFragmentHeader(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Size != 0x07ff {
		t.Fatalf("size = %#x, want 0x7ff", got.Size)
	}
}

func TestDecodeFragmentHeaderRejectsTruncated(t *testing.T) {
	if _, _, err := DecodeFragmentHeader([]byte{0xc0, 0x00}); err != ErrTooShort {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
}
