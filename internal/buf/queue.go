package buf

import "errors"

// ErrAlreadyQueued indicates Enqueue was called with a message already a
// member of the target queue's link slot.
var ErrAlreadyQueued = errors.New("message already queued")

// ErrNotQueued indicates Remove was called with a message not a member of
// the given queue.
var ErrNotQueued = errors.New("message not queued here")

// MessageQueue is an intrusive doubly-linked FIFO list of Messages. A
// Message may be a member of at most two MessageQueues simultaneously (one
// global, one component-local), using its two independent link slots
// (spec §3, §4.1).
type MessageQueue struct {
	head, tail *Message
	size       int
}

// NewMessageQueue returns an empty queue.
func NewMessageQueue() *MessageQueue { return &MessageQueue{} }

// Len returns the number of messages currently on the queue.
func (q *MessageQueue) Len() int { return q.size }

// slotFor returns the index of the link slot m uses for this queue and
// found=true if m is already on it; otherwise it returns the index of m's
// first free slot (-1 if both are taken) and found=false.
func (q *MessageQueue) slotFor(m *Message) (idx int, found bool) {
	free := -1
	for i := range m.links {
		if m.links[i].queue == q {
			return i, true
		}
		if m.links[i].queue == nil && free == -1 {
			free = i
		}
	}
	return free, false
}

// Enqueue appends m to the tail of the queue using one of its two free
// link slots. Returns ErrAlreadyQueued if m is already a member of q, or
// an error if both link slots are occupied by other queues.
func (q *MessageQueue) Enqueue(m *Message) error {
	idx, found := q.slotFor(m)
	if found {
		return ErrAlreadyQueued
	}
	if idx == -1 {
		return errors.New("message already on two queues")
	}

	m.links[idx] = queueLink{queue: q, prev: q.tail, next: nil}

	if q.tail != nil {
		q.setNext(q.tail, m)
	} else {
		q.head = m
	}
	q.tail = m
	q.size++
	return nil
}

// setNext updates prev's link-to-this-queue next pointer to point at m.
func (q *MessageQueue) setNext(prev, m *Message) {
	for i := range prev.links {
		if prev.links[i].queue == q {
			prev.links[i].next = m
			return
		}
	}
}

// setPrev updates next's link-to-this-queue prev pointer to point at m
// (m may be nil).
func (q *MessageQueue) setPrev(next, m *Message) {
	for i := range next.links {
		if next.links[i].queue == q {
			next.links[i].prev = m
			return
		}
	}
}

// Remove unlinks m from the queue. Returns ErrNotQueued if m is not a
// member of q.
func (q *MessageQueue) Remove(m *Message) error {
	idx, found := q.slotFor(m)
	if !found {
		return ErrNotQueued
	}

	link := m.links[idx]

	if link.prev != nil {
		q.setNext(link.prev, link.next)
	} else {
		q.head = link.next
	}

	if link.next != nil {
		q.setPrev(link.next, link.prev)
	} else {
		q.tail = link.prev
	}

	m.links[idx] = queueLink{}
	q.size--
	return nil
}

// Front returns the head-of-queue message, or nil if empty.
func (q *MessageQueue) Front() *Message { return q.head }

// Contains reports whether m is currently a member of q.
func (q *MessageQueue) Contains(m *Message) bool {
	_, found := q.slotFor(m)
	return found
}

// PopFront removes and returns the head-of-queue message, or nil if empty.
func (q *MessageQueue) PopFront() *Message {
	m := q.head
	if m == nil {
		return nil
	}
	_ = q.Remove(m)
	return m
}

// Walk calls fn for every message in FIFO order. fn may not mutate the
// queue; collect messages to remove and remove them after Walk returns.
func (q *MessageQueue) Walk(fn func(*Message)) {
	for m := q.head; m != nil; {
		next := q.nextOf(m)
		fn(m)
		m = next
	}
}

// nextOf returns the successor of m within this queue.
func (q *MessageQueue) nextOf(m *Message) *Message {
	for i := range m.links {
		if m.links[i].queue == q {
			return m.links[i].next
		}
	}
	return nil
}
