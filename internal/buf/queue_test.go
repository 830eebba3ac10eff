package buf

import "testing"

func TestMessageQueueFIFOOrder(t *testing.T) {
	p := newTestPool(t)
	q := NewMessageQueue()

	var msgs []*Message
	for i := 0; i < 5; i++ {
		m, err := New(p, TypeMisc, 0)
		if err != nil {
			t.Fatalf("new message %d: %v", i, err)
		}
		if err := q.Enqueue(m); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		msgs = append(msgs, m)
	}

	var seen []*Message
	q.Walk(func(m *Message) { seen = append(seen, m) })

	if len(seen) != len(msgs) {
		t.Fatalf("walked %d messages, want %d", len(seen), len(msgs))
	}
	for i := range msgs {
		if seen[i] != msgs[i] {
			t.Fatalf("message %d out of FIFO order", i)
		}
	}
}

// TestMessageQueueTwoQueueMembership checks that a message can sit on two
// queues at once via its two independent link sets, and that removal from
// one leaves the other intact.
func TestMessageQueueTwoQueueMembership(t *testing.T) {
	p := newTestPool(t)
	global := NewMessageQueue()
	local := NewMessageQueue()

	m, err := New(p, TypeMisc, 0)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}

	if err := global.Enqueue(m); err != nil {
		t.Fatalf("enqueue global: %v", err)
	}
	if err := local.Enqueue(m); err != nil {
		t.Fatalf("enqueue local: %v", err)
	}

	if !global.Contains(m) || !local.Contains(m) {
		t.Fatalf("message should be a member of both queues")
	}

	if err := local.Remove(m); err != nil {
		t.Fatalf("remove from local: %v", err)
	}
	if !global.Contains(m) {
		t.Fatalf("removing from local queue must not affect global membership")
	}
	if local.Contains(m) {
		t.Fatalf("message should no longer be a member of local queue")
	}

	if err := global.Remove(m); err != nil {
		t.Fatalf("remove from global: %v", err)
	}
	if err := m.Free(); err != nil {
		t.Fatalf("free after removal from both queues: %v", err)
	}
}

func TestMessageQueueRejectsThirdQueue(t *testing.T) {
	p := newTestPool(t)
	q1 := NewMessageQueue()
	q2 := NewMessageQueue()
	q3 := NewMessageQueue()

	m, err := New(p, TypeMisc, 0)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}

	if err := q1.Enqueue(m); err != nil {
		t.Fatalf("enqueue q1: %v", err)
	}
	if err := q2.Enqueue(m); err != nil {
		t.Fatalf("enqueue q2: %v", err)
	}
	if err := q3.Enqueue(m); err == nil {
		t.Fatalf("expected error enqueueing onto a third queue")
	}
}

func TestMessageQueuePopFront(t *testing.T) {
	p := newTestPool(t)
	q := NewMessageQueue()

	m1, _ := New(p, TypeMisc, 0)
	m2, _ := New(p, TypeMisc, 0)
	_ = q.Enqueue(m1)
	_ = q.Enqueue(m2)

	got := q.PopFront()
	if got != m1 {
		t.Fatalf("pop front returned wrong message")
	}
	if q.Len() != 1 {
		t.Fatalf("queue length after pop = %d, want 1", q.Len())
	}
}
