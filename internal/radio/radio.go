// Package radio defines the narrow packet-in/packet-out + state control
// contract the core treats as an external hardware dependency (spec §1:
// "the bit-level radio driver (provides a narrow packet-in/packet-out +
// state control contract)"), plus the implementations this module ships
// so the rest of the stack can be exercised without real 802.15.4
// hardware: an in-process simulated bus for unit tests, and a UDP
// multicast medium for running multiple node processes against each
// other on a single machine or LAN.
package radio

import (
	"errors"
	"fmt"
)

// State is the radio's current operating state (spec: "state machine
// {Disabled, Sleep, Idle, Listen, Receive, Transmit}").
type State uint8

const (
	StateDisabled State = iota
	StateSleep
	StateIdle
	StateListen
	StateReceive
	StateTransmit
)

var stateNames = [...]string{
	StateDisabled: "Disabled",
	StateSleep:    "Sleep",
	StateIdle:     "Idle",
	StateListen:   "Listen",
	StateReceive:  "Receive",
	StateTransmit: "Transmit",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(s))
}

// MinChannel and MaxChannel bound the 2.4 GHz 802.15.4-2006 channel range
// (spec: "PHY: 2.4 GHz 802.15.4-2006, channels 11-26").
const (
	MinChannel uint8 = 11
	MaxChannel uint8 = 26
)

// MaxPSDU is the maximum 802.15.4 PHY payload size in bytes (spec:
// "PSDU <= 127 B").
const MaxPSDU = 127

// Frame is one PHY-layer protocol data unit crossing the radio boundary,
// carrying the raw PSDU bytes plus the out-of-band metadata the MAC layer
// needs (spec: "The packet carries PSDU bytes, channel, measured RSSI").
type Frame struct {
	PSDU    []byte
	Channel uint8
	RSSI    int8
}

// ReceiveResult is returned from HandleReceiveDone (spec: "completes with
// signalReceiveDone() then handleReceiveDone() -> {None, Abort,
// InvalidState}").
type ReceiveResult uint8

const (
	ReceiveNone ReceiveResult = iota
	ReceiveAbort
	ReceiveInvalidState
)

func (r ReceiveResult) String() string {
	switch r {
	case ReceiveNone:
		return "None"
	case ReceiveAbort:
		return "Abort"
	case ReceiveInvalidState:
		return "InvalidState"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(r))
	}
}

// TransmitResult is returned from HandleTransmitDone (spec: "completes
// with signalTransmitDone() then handleTransmitDone(outFramePending) ->
// {None, NoAck, CcaFailed, Abort, InvalidState}").
type TransmitResult uint8

const (
	TransmitNone TransmitResult = iota
	TransmitNoAck
	TransmitCcaFailed
	TransmitAbort
	TransmitInvalidState
)

func (r TransmitResult) String() string {
	switch r {
	case TransmitNone:
		return "None"
	case TransmitNoAck:
		return "NoAck"
	case TransmitCcaFailed:
		return "CcaFailed"
	case TransmitAbort:
		return "Abort"
	case TransmitInvalidState:
		return "InvalidState"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(r))
	}
}

// ErrInvalidChannel is returned when a requested channel falls outside
// [MinChannel, MaxChannel].
var ErrInvalidChannel = errors.New("radio: channel out of range 11-26")

// ErrFrameTooLarge is returned when a frame's PSDU exceeds MaxPSDU.
var ErrFrameTooLarge = errors.New("radio: PSDU exceeds 127 bytes")

// ReceiveDoneFunc is invoked once an in-flight Receive completes. result
// is the outcome of HandleReceiveDone; frame is only valid when result is
// ReceiveNone.
type ReceiveDoneFunc func(frame Frame, result ReceiveResult)

// TransmitDoneFunc is invoked once an in-flight Transmit completes.
// framePending reports whether the ACK's frame-pending bit was set.
type TransmitDoneFunc func(result TransmitResult, framePending bool)

// Driver is the hardware contract the MAC layer is built against. All
// Receive/Transmit operations are asynchronous: they return immediately
// and invoke their completion callback once posted to the caller's
// tasklet scheduler (spec §2: "Interrupt-like events ... are deferred
// into a task queue that the loop drains"), matching the
// signalReceiveDone/handleReceiveDone split described in spec §6.
type Driver interface {
	// Init prepares the driver for use; must precede any other call.
	Init() error

	// Enable brings an initialized radio (Sleep, after Init) onto the
	// medium and leaves it in Sleep; from Disabled it fails with
	// ErrNotInitialized. Disable returns the radio to Disabled.
	Enable() error
	Disable() error

	// Sleep transitions to the low-power Sleep state.
	Sleep() error

	// Idle transitions to the Idle state, ready to Receive or Transmit.
	Idle() error

	// Receive begins listening on channel and transitions to Receive.
	// onDone is invoked exactly once, with the received frame or an
	// error result, when a frame arrives or the operation is aborted.
	Receive(channel uint8, onDone ReceiveDoneFunc) error

	// Transmit sends frame and transitions to Transmit. onDone is invoked
	// exactly once with the outcome, including ACK status, once the
	// on-air exchange (CSMA backoff, transmission, ACK wait) completes.
	Transmit(frame Frame, onDone TransmitDoneFunc) error

	// SetPanID, SetShortAddress, and SetExtendedAddress program address
	// filtering and nonce/ACK construction fields.
	SetPanID(panID uint16) error
	SetShortAddress(shortAddr uint16) error
	SetExtendedAddress(extAddr uint64) error

	// GetNoiseFloor returns the measured noise floor in dBm.
	GetNoiseFloor() (int8, error)

	// State returns the driver's current operating state.
	State() State
}

// ValidateChannel returns ErrInvalidChannel if ch is outside the
// 802.15.4-2006 2.4 GHz channel range.
func ValidateChannel(ch uint8) error {
	if ch < MinChannel || ch > MaxChannel {
		return fmt.Errorf("channel %d: %w", ch, ErrInvalidChannel)
	}
	return nil
}

// ValidateFrame returns ErrFrameTooLarge if frame's PSDU exceeds MaxPSDU.
func ValidateFrame(frame Frame) error {
	if len(frame.PSDU) > MaxPSDU {
		return fmt.Errorf("PSDU length %d: %w", len(frame.PSDU), ErrFrameTooLarge)
	}
	return nil
}
