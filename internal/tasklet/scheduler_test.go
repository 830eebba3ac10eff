package tasklet

import (
	"testing"
	"time"
)

func TestPostFIFOOrder(t *testing.T) {
	s := New()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		s.Post(func() { order = append(order, i) })
	}
	s.Drain()

	for i, v := range order {
		if v != i {
			t.Fatalf("tasklet fired out of FIFO order: order=%v", order)
		}
	}
}

func TestPostDuringDrainRunsSameCycle(t *testing.T) {
	s := New()

	ran := false
	s.Post(func() {
		s.Post(func() { ran = true })
	})
	s.Drain()

	if !ran {
		t.Fatalf("tasklet posted during drain must run in the same Drain call")
	}
}

func TestTimerFiresOnlyAfterDeadline(t *testing.T) {
	s := New()

	fired := false
	s.After(10*time.Millisecond, func() { fired = true })

	s.Advance(5 * time.Millisecond)
	if fired {
		t.Fatalf("timer fired before its deadline")
	}

	s.Advance(5 * time.Millisecond)
	if !fired {
		t.Fatalf("timer did not fire once its deadline elapsed")
	}
}

func TestCancelBeforeExpiryPreventsHandler(t *testing.T) {
	s := New()

	fired := false
	id := s.After(10*time.Millisecond, func() { fired = true })
	s.Cancel(id)

	s.Advance(20 * time.Millisecond)
	if fired {
		t.Fatalf("cancelled timer must never run its handler")
	}
}

func TestSameTickTimersFireInInsertionOrder(t *testing.T) {
	s := New()

	var order []int
	for i := 0; i < 4; i++ {
		i := i
		s.After(5*time.Millisecond, func() { order = append(order, i) })
	}

	s.Advance(5 * time.Millisecond)

	for i, v := range order {
		if v != i {
			t.Fatalf("same-tick timers fired out of insertion order: order=%v", order)
		}
	}
}

func TestTimerHandlerPostedTaskletsDrainInSameCycle(t *testing.T) {
	s := New()

	ran := false
	s.After(1*time.Millisecond, func() {
		s.Post(func() { ran = true })
	})

	s.Advance(1 * time.Millisecond)
	s.Drain()
	if !ran {
		t.Fatalf("tasklet posted by a firing timer must drain within Advance+Drain")
	}
}

func TestHasWorkReflectsPendingState(t *testing.T) {
	s := New()

	if s.HasWork() {
		t.Fatalf("empty scheduler should report no work")
	}

	s.Post(func() {})
	if !s.HasWork() {
		t.Fatalf("scheduler with a queued tasklet should report work")
	}
	s.DrainTasklets()

	s.After(5*time.Millisecond, func() {})
	if s.HasWork() {
		t.Fatalf("scheduler with a not-yet-due timer should report no work")
	}
	s.Advance(5 * time.Millisecond)
}

func TestNextTimerDeadline(t *testing.T) {
	s := New()

	if _, ok := s.NextTimerDeadline(); ok {
		t.Fatalf("expected no pending timer")
	}

	s.After(30*time.Millisecond, func() {})
	s.After(10*time.Millisecond, func() {})

	deadline, ok := s.NextTimerDeadline()
	if !ok {
		t.Fatalf("expected a pending timer")
	}
	if deadline != 10*time.Millisecond {
		t.Fatalf("next deadline = %v, want 10ms", deadline)
	}
}
