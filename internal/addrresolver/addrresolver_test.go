package addrresolver

import (
	"testing"

	"github.com/threadcore/node/internal/coap"
	"github.com/threadcore/node/internal/tasklet"
)

type fakeSender struct {
	sent []struct {
		dst [16]byte
		msg *coap.Message
	}
}

func (f *fakeSender) SendCoAP(dst [16]byte, msg *coap.Message) error {
	f.sent = append(f.sent, struct {
		dst [16]byte
		msg *coap.Message
	}{dst, msg})
	return nil
}

type fakeNotifier struct {
	resolved [][16]byte
}

func (f *fakeNotifier) HandleResolved(eid [16]byte) { f.resolved = append(f.resolved, eid) }

func testEID(b byte) [16]byte {
	var e [16]byte
	e[15] = b
	return e
}

func TestResolveMissSendsQuery(t *testing.T) {
	sched := tasklet.New()
	sender := &fakeSender{}
	r := New(sched, sender, &fakeNotifier{}, 0x0400)

	res, _ := r.Resolve(testEID(1))
	if res != ResolveQuery {
		t.Fatalf("expected ResolveQuery on first miss, got %v", res)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one query sent, got %d", len(sender.sent))
	}
	if sender.sent[0].msg.Path() != coap.PathAddressQuery {
		t.Fatalf("expected path %s, got %s", coap.PathAddressQuery, sender.sent[0].msg.Path())
	}

	state, _ := r.Lookup(testEID(1))
	if state != StateDiscover {
		t.Fatalf("expected StateDiscover, got %v", state)
	}
}

func TestResolveRepeatedMissDoesNotRequery(t *testing.T) {
	sched := tasklet.New()
	sender := &fakeSender{}
	r := New(sched, sender, &fakeNotifier{}, 0x0400)

	r.Resolve(testEID(1))
	r.Resolve(testEID(1))
	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one query across repeated misses on the same EID, got %d", len(sender.sent))
	}
}

func TestHandleAddressNotificationResolvesAndNotifies(t *testing.T) {
	sched := tasklet.New()
	sender := &fakeSender{}
	notifier := &fakeNotifier{}
	r := New(sched, sender, notifier, 0x0400)

	eid := testEID(1)
	r.Resolve(eid)

	var iid [8]byte
	r.HandleAddressNotification(eid, iid, 0x0c00)

	res, rloc := r.Resolve(eid)
	if res != ResolveFound || rloc != 0x0c00 {
		t.Fatalf("expected Found(0xc00), got (%v, %#x)", res, rloc)
	}
	if len(notifier.resolved) != 1 || notifier.resolved[0] != eid {
		t.Fatalf("expected forwarder notified of resolved eid, got %+v", notifier.resolved)
	}
}

func TestHandleAddressErrorInvalidatesEntry(t *testing.T) {
	sched := tasklet.New()
	sender := &fakeSender{}
	r := New(sched, sender, &fakeNotifier{}, 0x0400)

	eid := testEID(1)
	r.Resolve(eid)
	var iid [8]byte
	r.HandleAddressNotification(eid, iid, 0x0c00)

	r.HandleAddressError(eid)

	state, _ := r.Lookup(eid)
	if state != StateInvalid {
		t.Fatalf("expected StateInvalid after address error, got %v", state)
	}
}

func TestDestinationUnreachableInvalidatesEntry(t *testing.T) {
	sched := tasklet.New()
	r := New(sched, &fakeSender{}, &fakeNotifier{}, 0x0400)

	eid := testEID(1)
	r.Resolve(eid)
	var iid [8]byte
	r.HandleAddressNotification(eid, iid, 0x0c00)

	r.HandleDestinationUnreachable(eid)

	state, _ := r.Lookup(eid)
	if state != StateInvalid {
		t.Fatalf("expected StateInvalid after destination unreachable, got %v", state)
	}
}

func TestDiscoverTimeoutTransitionsToRetryAndRequeries(t *testing.T) {
	sched := tasklet.New()
	sender := &fakeSender{}
	r := New(sched, sender, &fakeNotifier{}, 0x0400)

	eid := testEID(1)
	r.Resolve(eid)
	if len(sender.sent) != 1 {
		t.Fatalf("setup: expected 1 query, got %d", len(sender.sent))
	}

	sched.Advance(QueryTimeout)
	sched.DrainTasklets()

	state, _ := r.Lookup(eid)
	if state != StateRetry {
		t.Fatalf("expected StateRetry after query timeout, got %v", state)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected a requery on timeout, got %d sends", len(sender.sent))
	}
}

func TestLRUEvictsLeastRecentlyUsedEntry(t *testing.T) {
	sched := tasklet.New()
	r := New(sched, &fakeSender{}, &fakeNotifier{}, 0x0400)

	for i := 0; i < CacheSize; i++ {
		r.Resolve(testEID(byte(i)))
	}
	// Touch every entry except eid(0) so it becomes the LRU victim.
	for i := 1; i < CacheSize; i++ {
		r.Resolve(testEID(byte(i)))
	}

	r.Resolve(testEID(200)) // should evict eid(0)

	state, _ := r.Lookup(testEID(0))
	if state != StateInvalid {
		t.Fatalf("expected eid(0) evicted as LRU, got state %v", state)
	}
	state, _ = r.Lookup(testEID(1))
	if state == StateInvalid {
		t.Fatalf("expected eid(1) to survive eviction")
	}
}
