package mac

import (
	"testing"
	"time"

	"github.com/threadcore/node/internal/radio"
	"github.com/threadcore/node/internal/tasklet"
)

type fakeKeys struct {
	seq     uint32
	current [16]byte
	counter uint32
}

func (k *fakeKeys) CurrentKeySequence() uint32       { return k.seq }
func (k *fakeKeys) CurrentMACKey() [16]byte          { return k.current }
func (k *fakeKeys) PreviousMACKey() ([16]byte, bool) { return [16]byte{}, false }
func (k *fakeKeys) NextMACFrameCounter() uint32 {
	k.counter++
	return k.counter
}

type recordingSender struct {
	built   []*Frame
	results []error
}

func (s *recordingSender) BuildFrame(f *Frame) error {
	f.Type = FrameTypeData
	f.DstAddr = ShortAddress(0x0401)
	f.DstPANID = 0xface
	f.Payload = []byte("hello")
	s.built = append(s.built, f)
	return nil
}

func (s *recordingSender) SentFrame(f *Frame, err error) {
	s.results = append(s.results, err)
}

type recordingReceiver struct {
	frames []*Frame
}

func (r *recordingReceiver) HandleReceivedFrame(f *Frame) {
	r.frames = append(r.frames, f)
}

func driveUntil(sched *tasklet.Scheduler, maxSteps int, done func() bool) {
	for i := 0; i < maxSteps && !done(); i++ {
		sched.Drain()
		if deadline, ok := sched.NextTimerDeadline(); ok {
			sched.Advance(deadline - sched.Now())
		} else {
			break
		}
	}
	sched.Drain()
}

func TestEngineSendFrameRequestDeliversFrame(t *testing.T) {
	bus := radio.NewBus()
	schedA := tasklet.New()
	schedB := tasklet.New()

	driverA := radio.NewSimulatedRadio(bus, schedA)
	driverB := radio.NewSimulatedRadio(bus, schedB)

	engA := NewEngine(driverA, schedA, &fakeKeys{})
	engB := NewEngine(driverB, schedB, &fakeKeys{})

	if err := engA.Start(11, 0xface, 0x1, 0x0400); err != nil {
		t.Fatalf("start A: %v", err)
	}
	if err := engB.Start(11, 0xface, 0x2, 0x0401); err != nil {
		t.Fatalf("start B: %v", err)
	}

	recv := &recordingReceiver{}
	engB.RegisterReceiver(recv)

	sender := &recordingSender{}
	engA.SendFrameRequest(sender)

	driveUntil(schedA, 50, func() bool { return len(sender.results) > 0 })
	driveUntil(schedB, 50, func() bool { return len(recv.frames) > 0 })

	if len(sender.results) != 1 || sender.results[0] != nil {
		t.Fatalf("sender results = %v, want one nil result", sender.results)
	}
	if len(recv.frames) != 1 {
		t.Fatalf("receiver got %d frames, want 1", len(recv.frames))
	}
	if string(recv.frames[0].Payload) != "hello" {
		t.Fatalf("received payload = %q, want %q", recv.frames[0].Payload, "hello")
	}
}

func TestEngineActiveScanCompletesWithTerminalCallback(t *testing.T) {
	bus := radio.NewBus()
	sched := tasklet.New()
	driver := radio.NewSimulatedRadio(bus, sched)
	eng := NewEngine(driver, sched, &fakeKeys{})
	if err := eng.Start(11, 0xface, 0x1, 0x0400); err != nil {
		t.Fatalf("start: %v", err)
	}

	var terminal bool
	err := eng.ActiveScan(1<<11, 2*time.Millisecond, func(b Beacon, ok bool) {
		if !ok {
			terminal = true
		}
	})
	if err != nil {
		t.Fatalf("active scan: %v", err)
	}

	driveUntil(sched, 50, func() bool { return terminal })
	if !terminal {
		t.Fatalf("active scan never reached terminal callback")
	}
}
