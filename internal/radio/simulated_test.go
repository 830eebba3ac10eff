package radio

import (
	"testing"
	"time"

	"github.com/threadcore/node/internal/tasklet"
)

func newIdleRadio(t *testing.T, bus *Bus, sched *tasklet.Scheduler) *SimulatedRadio {
	t.Helper()
	r := NewSimulatedRadio(bus, sched)
	if err := r.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := r.Enable(); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := r.Idle(); err != nil {
		t.Fatalf("idle: %v", err)
	}
	return r
}

func TestSimulatedRadioNoAckDelivery(t *testing.T) {
	bus := NewBus()
	schedA := tasklet.New()
	schedB := tasklet.New()

	a := newIdleRadio(t, bus, schedA)
	b := newIdleRadio(t, bus, schedB)

	var gotFrame Frame
	var gotResult ReceiveResult
	if err := b.Receive(11, func(f Frame, r ReceiveResult) {
		gotFrame, gotResult = f, r
	}); err != nil {
		t.Fatalf("receive: %v", err)
	}

	var txResult TransmitResult
	frame := Frame{PSDU: []byte{0x01, 0x02, 0x03}, Channel: 11}
	if err := a.Transmit(frame, func(r TransmitResult, _ bool) { txResult = r }); err != nil {
		t.Fatalf("transmit: %v", err)
	}

	schedA.Drain()
	schedB.Drain()

	if gotResult != ReceiveNone {
		t.Fatalf("receive result = %v, want None", gotResult)
	}
	if len(gotFrame.PSDU) != 3 {
		t.Fatalf("received PSDU length = %d, want 3", len(gotFrame.PSDU))
	}
	if txResult != TransmitNone {
		t.Fatalf("transmit result = %v, want None", txResult)
	}
}

func TestSimulatedRadioNoAckWhenNoListener(t *testing.T) {
	bus := NewBus()
	schedA := tasklet.New()

	a := newIdleRadio(t, bus, schedA)

	var txResult TransmitResult
	// ack-request bit set, but no peer listening: must time out to NoAck.
	frame := Frame{PSDU: []byte{ackRequestBit, 0x00}, Channel: 11}
	if err := a.Transmit(frame, func(r TransmitResult, _ bool) { txResult = r }); err != nil {
		t.Fatalf("transmit: %v", err)
	}

	schedA.Advance(20 * time.Millisecond)
	schedA.Drain()

	if txResult != TransmitNoAck {
		t.Fatalf("transmit result = %v, want NoAck", txResult)
	}
}

func TestSimulatedRadioAckedWhenListenerPresent(t *testing.T) {
	bus := NewBus()
	schedA := tasklet.New()
	schedB := tasklet.New()

	a := newIdleRadio(t, bus, schedA)
	b := newIdleRadio(t, bus, schedB)

	_ = b.Receive(11, func(Frame, ReceiveResult) {})

	var txResult TransmitResult
	frame := Frame{PSDU: []byte{ackRequestBit, 0x00}, Channel: 11}
	if err := a.Transmit(frame, func(r TransmitResult, _ bool) { txResult = r }); err != nil {
		t.Fatalf("transmit: %v", err)
	}

	schedA.Drain()
	schedB.Drain()

	if txResult != TransmitNone {
		t.Fatalf("transmit result = %v, want None (acked)", txResult)
	}
}

func TestSimulatedRadioRejectsOversizedFrame(t *testing.T) {
	bus := NewBus()
	sched := tasklet.New()
	a := newIdleRadio(t, bus, sched)

	frame := Frame{PSDU: make([]byte, MaxPSDU+1), Channel: 11}
	if err := a.Transmit(frame, func(TransmitResult, bool) {}); err == nil {
		t.Fatalf("expected ErrFrameTooLarge")
	}
}

func TestSimulatedRadioRejectsInvalidChannel(t *testing.T) {
	bus := NewBus()
	sched := tasklet.New()
	a := newIdleRadio(t, bus, sched)

	if err := a.Receive(10, func(Frame, ReceiveResult) {}); err == nil {
		t.Fatalf("expected ErrInvalidChannel for channel below 11")
	}
	if err := a.Receive(27, func(Frame, ReceiveResult) {}); err == nil {
		t.Fatalf("expected ErrInvalidChannel for channel above 26")
	}
}

func TestSimulatedRadioTransmitRequiresIdle(t *testing.T) {
	bus := NewBus()
	sched := tasklet.New()
	r := NewSimulatedRadio(bus, sched)
	_ = r.Init()
	_ = r.Enable()
	// still Sleep, not Idle

	frame := Frame{PSDU: []byte{0x01}, Channel: 11}
	if err := r.Transmit(frame, func(TransmitResult, bool) {}); err != ErrNotIdle {
		t.Fatalf("expected ErrNotIdle, got %v", err)
	}
}
