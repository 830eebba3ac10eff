package buf

import "testing"

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	return NewPool(64)
}

func TestMessageSetLengthBoundary(t *testing.T) {
	// Boundary behavior B1: SetLength to exactly HeadDataSize allocates no
	// tail buffer; one byte more allocates exactly one.
	p := newTestPool(t)

	m, err := New(p, TypeIPv6, 0)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}

	if err := m.SetLength(HeadDataSize); err != nil {
		t.Fatalf("set length to head capacity: %v", err)
	}
	if got := BufferCount(m.Length()); got != 1 {
		t.Fatalf("buffer count at exactly head capacity = %d, want 1", got)
	}

	if err := m.SetLength(HeadDataSize + 1); err != nil {
		t.Fatalf("set length one over head capacity: %v", err)
	}
	if got := BufferCount(m.Length()); got != 2 {
		t.Fatalf("buffer count one byte over head capacity = %d, want 2", got)
	}
}

func TestMessageReadWriteRoundTrip(t *testing.T) {
	p := newTestPool(t)

	m, err := New(p, TypeMisc, 0)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}

	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}

	if err := m.Append(payload); err != nil {
		t.Fatalf("append: %v", err)
	}

	out := make([]byte, len(payload))
	n := m.Read(0, out)
	if n != len(payload) {
		t.Fatalf("read returned %d bytes, want %d", n, len(payload))
	}
	for i := range payload {
		if out[i] != payload[i] {
			t.Fatalf("byte %d = %d, want %d", i, out[i], payload[i])
		}
	}
}

func TestMessagePrependRequiresReserved(t *testing.T) {
	p := newTestPool(t)

	m, err := New(p, TypeLowpan, 8)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}

	if err := m.Prepend(make([]byte, 9)); err == nil {
		t.Fatalf("expected error prepending more than reserved")
	}

	header := []byte{1, 2, 3, 4}
	if err := m.Prepend(header); err != nil {
		t.Fatalf("prepend within reserved room: %v", err)
	}
	if m.Reserved() != 4 {
		t.Fatalf("reserved after prepend = %d, want 4", m.Reserved())
	}
}

func TestMessageWritePastLengthForbidden(t *testing.T) {
	p := newTestPool(t)

	m, err := New(p, TypeMisc, 0)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	if err := m.SetLength(10); err != nil {
		t.Fatalf("set length: %v", err)
	}

	if err := m.Write(5, make([]byte, 10)); err == nil {
		t.Fatalf("expected ErrWritePastLength")
	}
}

func TestMessageFreeRequiresNoQueue(t *testing.T) {
	p := newTestPool(t)

	m, err := New(p, TypeMisc, 0)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}

	q := NewMessageQueue()
	if err := q.Enqueue(m); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := m.Free(); err == nil {
		t.Fatalf("expected Free to reject a still-queued message")
	}

	if err := q.Remove(m); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := m.Free(); err != nil {
		t.Fatalf("free after remove: %v", err)
	}
}

func TestMessageChecksumFoldsToZero(t *testing.T) {
	// UpdateChecksum composed with its own complement folds to zero once
	// the checksum field is installed correctly.
	p := newTestPool(t)

	m, err := New(p, TypeIPv6, 0)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}

	data := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05}
	if err := m.Append(data); err != nil {
		t.Fatalf("append: %v", err)
	}

	sum := m.UpdateChecksum(0, 0, len(data))
	checksum := ^sum

	// Append the checksum field and fold again over data+checksum: the
	// total must reduce to 0xffff (all-ones == zero in ones-complement).
	withChecksum := append(append([]byte{}, data...), byte(checksum>>8), byte(checksum))
	m2, err := New(p, TypeIPv6, 0)
	if err != nil {
		t.Fatalf("new message 2: %v", err)
	}
	if err := m2.Append(withChecksum); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	total := m2.UpdateChecksum(0, 0, len(withChecksum))
	if total != 0xffff {
		t.Fatalf("folded checksum = %#x, want 0xffff", total)
	}
}
