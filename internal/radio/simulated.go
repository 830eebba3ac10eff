package radio

import (
	"errors"
	"sync"
	"time"

	"github.com/threadcore/node/internal/tasklet"
)

// ackRequestBit is bit 5 of the first 802.15.4 FCF byte (spec §3: "FCF
// (type, security, ack-request, ...)"). Real auto-ACK radio hardware
// inspects this bit to decide whether to wait for an acknowledgment;
// SimulatedRadio mirrors that behavior rather than relying on the MAC
// layer to tell it.
const ackRequestBit = 0x20

// ErrNotIdle is returned when Receive or Transmit is called while the
// radio is not in a state that permits it.
var ErrNotIdle = errors.New("radio: operation requires Idle state")

// ErrNotInitialized is returned when an operation is attempted before
// Init.
var ErrNotInitialized = errors.New("radio: not initialized")

// SimulatedRadio is a Driver implementation backed by an in-process Bus,
// used by component tests and local multi-node scenario harnesses in
// place of real 802.15.4 hardware.
type SimulatedRadio struct {
	mu         sync.Mutex
	bus        *Bus
	sched      *tasklet.Scheduler
	state      State
	channel    uint8
	panID      uint16
	shortAddr  uint16
	extAddr    uint64
	noiseFloor int8
	ackTimeout time.Duration

	pendingReceive  ReceiveDoneFunc
	pendingInboxCh  uint8
	pendingTransmit TransmitDoneFunc
}

// NewSimulatedRadio creates a radio attached to bus, posting completions
// to sched so they run as ordinary tasklets within the node's cooperative
// loop (spec §5: deferred events join the task queue, never run inline).
func NewSimulatedRadio(bus *Bus, sched *tasklet.Scheduler) *SimulatedRadio {
	return &SimulatedRadio{
		bus:        bus,
		sched:      sched,
		state:      StateDisabled,
		ackTimeout: 16 * time.Millisecond,
		noiseFloor: -95,
	}
}

func (r *SimulatedRadio) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateSleep
	return nil
}

func (r *SimulatedRadio) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateDisabled {
		return ErrNotInitialized
	}
	r.bus.join(r)
	r.state = StateSleep
	return nil
}

func (r *SimulatedRadio) Disable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bus.leave(r)
	r.state = StateDisabled
	return nil
}

func (r *SimulatedRadio) Sleep() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateSleep
	return nil
}

func (r *SimulatedRadio) Idle() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateIdle
	return nil
}

// Receive arms the radio to accept an inbound frame on channel. The
// completion fires on the next tasklet drain once Bus.broadcast delivers
// a frame to this radio via deliver.
func (r *SimulatedRadio) Receive(channel uint8, onDone ReceiveDoneFunc) error {
	if err := ValidateChannel(channel); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle && r.state != StateListen {
		return ErrNotIdle
	}
	r.state = StateListen
	r.channel = channel
	r.pendingReceive = onDone
	r.pendingInboxCh = channel
	return nil
}

// deliver is called by Bus.broadcast from the sender's goroutine. It
// reports whether this radio acknowledges the frame (ack-request bit set
// and the radio is currently listening on a matching channel), and posts
// the receive completion to this radio's own scheduler.
func (r *SimulatedRadio) deliver(frame Frame) (acked bool) {
	r.mu.Lock()
	onDone := r.pendingReceive
	listening := r.state == StateListen && r.channel == frame.Channel
	if listening {
		r.pendingReceive = nil
		r.state = StateIdle
	}
	r.mu.Unlock()

	if !listening || onDone == nil {
		return false
	}

	r.sched.Post(func() { onDone(frame, ReceiveNone) })

	if len(frame.PSDU) > 0 && frame.PSDU[0]&ackRequestBit != 0 {
		return true
	}
	return false
}

// Transmit broadcasts frame on the bus and resolves the completion once
// the (simulated) on-air exchange finishes: immediately with TransmitNone
// if no ACK was requested or one was observed, otherwise after ackTimeout
// with TransmitNoAck.
func (r *SimulatedRadio) Transmit(frame Frame, onDone TransmitDoneFunc) error {
	if err := ValidateFrame(frame); err != nil {
		return err
	}

	r.mu.Lock()
	if r.state != StateIdle && r.state != StateListen {
		r.mu.Unlock()
		return ErrNotIdle
	}
	r.state = StateTransmit
	r.mu.Unlock()

	acked := r.bus.broadcast(r, frame)

	needsAck := len(frame.PSDU) > 0 && frame.PSDU[0]&ackRequestBit != 0

	r.mu.Lock()
	r.state = StateIdle
	r.mu.Unlock()

	if !needsAck || acked {
		r.sched.Post(func() { onDone(TransmitNone, false) })
		return nil
	}

	r.sched.After(r.ackTimeout, func() { onDone(TransmitNoAck, false) })
	return nil
}

func (r *SimulatedRadio) SetPanID(panID uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panID = panID
	return nil
}

func (r *SimulatedRadio) SetShortAddress(shortAddr uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shortAddr = shortAddr
	return nil
}

func (r *SimulatedRadio) SetExtendedAddress(extAddr uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extAddr = extAddr
	return nil
}

func (r *SimulatedRadio) GetNoiseFloor() (int8, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.noiseFloor, nil
}

func (r *SimulatedRadio) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
