package mac

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/threadcore/node/internal/radio"
	"github.com/threadcore/node/internal/tasklet"
	"github.com/threadcore/node/internal/xcrypto"
)

// State is the MAC engine's operating state (spec §4.2: "State machine:
// {Disabled, Idle, ActiveScan, TransmitBeacon, TransmitData}").
type State uint8

const (
	StateDisabled State = iota
	StateIdle
	StateActiveScan
	StateTransmitBeacon
	StateTransmitData
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "Disabled"
	case StateIdle:
		return "Idle"
	case StateActiveScan:
		return "ActiveScan"
	case StateTransmitBeacon:
		return "TransmitBeacon"
	case StateTransmitData:
		return "TransmitData"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// CSMA parameters (spec §4.2: "backoff counter BE starts at 3 (min) / 5
// (max)... increment BE (capped) up to kMaxBE and retry up to
// aMaxCsmaBackoffs").
const (
	macMinBE           = 3
	macMaxBE           = 5
	macMaxCsmaBackoffs = 4
	macMaxFrameRetries = 3
	symbolPeriod       = 16 * time.Microsecond // 250 kb/s, 4 bits/symbol
)

// KeyProvider is the subset of KeyManager the MAC engine needs: the
// current/previous MAC key material and a monotonically incrementing
// frame counter (spec §3: "KeyManager state ... MAC frame counter").
type KeyProvider interface {
	CurrentKeySequence() uint32
	CurrentMACKey() [16]byte
	PreviousMACKey() ([16]byte, bool)
	NextMACFrameCounter() uint32
}

// Sender is implemented by upper layers (MeshForwarder) that want to
// transmit a frame through the MAC engine (spec §4.2: "SendFrameRequest
// (sender): enqueues sender onto a sender list").
type Sender interface {
	// BuildFrame populates f with the next frame to send.
	BuildFrame(f *Frame) error
	// SentFrame is the paired completion callback, always called exactly
	// once per BuildFrame (spec §5: "FrameRequest -> SentFrame callbacks
	// are strictly paired and strictly ordered").
	SentFrame(f *Frame, err error)
}

// Receiver is notified of every successfully validated received frame
// (spec §4.2: "RegisterReceiver(r): r.handle is called for each validated
// receive frame").
type Receiver interface {
	HandleReceivedFrame(f *Frame)
}

// Beacon is the parsed content of a received 802.15.4 beacon frame (spec
// §4.2: "network name, extended PAN ID, extended address of beacon
// sender, PAN ID, channel, and measured RSSI").
type Beacon struct {
	NetworkName   [16]byte
	ExtPANID      [8]byte
	SenderExtAddr uint64
	PANID         uint16
	Channel       uint8
	RSSI          int8
}

// BeaconHandler is invoked once per received beacon during an active
// scan, then once more with ok=false when the scan completes.
type BeaconHandler func(b Beacon, ok bool)

var (
	// ErrNotIdle is returned by operations that require the Idle state.
	ErrNotIdle = errors.New("mac: engine not idle")
	// ErrSecurityFailed is returned when a received secured frame's MIC
	// does not verify, or its key sequence is outside the accepted window.
	ErrSecurityFailed = errors.New("mac: security check failed")
)

// Engine drives the 802.15.4 MAC state machine over a radio.Driver,
// applying CSMA/CA, ACK retry, active scan, and link-layer security (spec
// §4.2). It is driven entirely by tasklet.Scheduler callbacks and is not
// safe for concurrent use, matching the single-threaded cooperative model
// of spec §5.
type Engine struct {
	driver radio.Driver
	sched  *tasklet.Scheduler
	keys   KeyProvider

	state   State
	channel uint8
	panID   uint16
	extAddr uint64
	short   uint16

	sequence uint8

	senders   []Sender
	receivers []Receiver

	csmaBE        int
	csmaAttempts  int
	frameRetries  int
	pendingFrame  *Frame
	pendingRaw    []byte
	currentSender Sender

	scanChannels   []uint8
	scanIdx        int
	scanIntervalMs time.Duration
	scanHandler    BeaconHandler
}

// NewEngine creates a MAC engine bound to driver, posting all deferred
// work through sched.
func NewEngine(driver radio.Driver, sched *tasklet.Scheduler, keys KeyProvider) *Engine {
	return &Engine{driver: driver, sched: sched, keys: keys, state: StateDisabled}
}

// Start brings the radio up and transitions the engine to Idle.
func (e *Engine) Start(channel uint8, panID uint16, extAddr uint64, short uint16) error {
	if err := e.driver.Init(); err != nil {
		return err
	}
	if err := e.driver.Enable(); err != nil {
		return err
	}
	if err := e.driver.SetExtendedAddress(extAddr); err != nil {
		return err
	}
	if err := e.driver.SetPanID(panID); err != nil {
		return err
	}
	if err := e.driver.SetShortAddress(short); err != nil {
		return err
	}
	e.channel, e.panID, e.extAddr, e.short = channel, panID, extAddr, short
	return e.toIdle()
}

// Stop disables the radio and transitions to Disabled.
func (e *Engine) Stop() error {
	e.state = StateDisabled
	return e.driver.Disable()
}

func (e *Engine) toIdle() error {
	if err := e.driver.Idle(); err != nil {
		return err
	}
	e.state = StateIdle
	e.scheduleReceive()
	e.scheduleNext()
	return nil
}

// RegisterReceiver adds r to the set notified of every validated inbound
// frame.
func (e *Engine) RegisterReceiver(r Receiver) { e.receivers = append(e.receivers, r) }

// SendFrameRequest enqueues s to be asked for a frame the next time the
// engine is idle with no higher-priority operation pending.
func (e *Engine) SendFrameRequest(s Sender) {
	e.senders = append(e.senders, s)
	e.scheduleNext()
}

// scheduleNext starts a transmission if the engine is Idle and a sender
// is waiting (spec §4.2: "when MAC reaches Idle and no higher-priority op
// is pending, it calls sender.buildFrame").
func (e *Engine) scheduleNext() {
	if e.state != StateIdle || len(e.senders) == 0 || e.pendingFrame != nil {
		return
	}

	s := e.senders[0]
	e.senders = e.senders[1:]

	f := &Frame{Sequence: e.sequence, SrcAddr: ExtAddress(e.extAddr), SrcPANID: e.panID}
	if err := s.BuildFrame(f); err != nil {
		s.SentFrame(f, err)
		e.scheduleNext()
		return
	}
	e.sequence++
	e.beginTransmit(f, s)
}

func (e *Engine) beginTransmit(f *Frame, s Sender) {
	e.state = StateTransmitData
	e.pendingFrame = f
	e.csmaBE = macMinBE
	e.csmaAttempts = 0
	e.frameRetries = 0
	e.currentSender = s
	e.attemptTransmit()
}

func (e *Engine) attemptTransmit() {
	backoffSlots := rand.IntN(1 << uint(e.csmaBE))
	delay := time.Duration(backoffSlots) * symbolPeriod
	e.sched.After(delay, e.doTransmit)
}

func (e *Engine) doTransmit() {
	f := e.pendingFrame
	raw, err := e.secureAndEncode(f)
	if err != nil {
		e.finishTransmit(err)
		return
	}
	e.pendingRaw = raw

	frame := radio.Frame{PSDU: raw, Channel: e.channel}
	if err := e.driver.Transmit(frame, e.handleTransmitDone); err != nil {
		e.finishTransmit(err)
	}
}

// secureAndEncode applies link-layer security (if f.SecurityEnabled) and
// encodes f to a PSDU (spec §4.2: "Security: when the frame's FCF
// security-enabled bit is set, before transmit compute AES-CCM*").
func (e *Engine) secureAndEncode(f *Frame) ([]byte, error) {
	if f.SecurityEnabled {
		f.Security.FrameCounter = e.keys.NextMACFrameCounter()
		key := e.keys.CurrentMACKey()
		nonce := xcrypto.BuildNonce(e.extAddr, f.Security.FrameCounter, f.Security.Level)

		header, err := Encode(&Frame{
			Type: f.Type, SecurityEnabled: true, FramePending: f.FramePending,
			AckRequest: f.AckRequest, PANIDCompression: f.PANIDCompression,
			Version: f.Version, Sequence: f.Sequence,
			DstPANID: f.DstPANID, DstAddr: f.DstAddr,
			SrcPANID: f.SrcPANID, SrcAddr: f.SrcAddr, Security: f.Security,
		})
		if err != nil {
			return nil, err
		}

		sealed, err := xcrypto.Seal(key[:], nonce, f.Security.Level, header, f.Payload)
		if err != nil {
			return nil, err
		}

		if f.Security.Level.Encrypted() {
			f.Payload = sealed
			f.MIC = nil
		} else {
			tagSize := f.Security.Level.TagSize()
			f.Payload = sealed[:len(sealed)-tagSize]
			f.MIC = sealed[len(sealed)-tagSize:]
		}
	}
	return Encode(f)
}

func (e *Engine) handleTransmitDone(result radio.TransmitResult, framePending bool) {
	switch result {
	case radio.TransmitNone:
		e.onTransmitAccepted(framePending)
	case radio.TransmitCcaFailed:
		e.onCcaFailed()
	case radio.TransmitNoAck:
		e.onNoAck()
	default:
		e.finishTransmit(fmt.Errorf("mac: transmit %s", result))
	}
}

func (e *Engine) onTransmitAccepted(framePending bool) {
	if !e.pendingFrame.AckRequest {
		e.finishTransmit(nil)
		return
	}
	// Radio driver already folded ACK wait into Transmit's result for
	// implementations with hardware auto-ACK; software/simulated radios
	// report NoAck directly too, so reaching here with AckRequest set
	// means the ACK was observed.
	e.finishTransmit(nil)
}

func (e *Engine) onCcaFailed() {
	e.csmaAttempts++
	if e.csmaAttempts >= macMaxCsmaBackoffs {
		e.finishTransmit(errCcaFailed)
		return
	}
	if e.csmaBE < macMaxBE {
		e.csmaBE++
	}
	e.attemptTransmit()
}

func (e *Engine) onNoAck() {
	e.frameRetries++
	if e.frameRetries > macMaxFrameRetries {
		e.finishTransmit(errNoAck)
		return
	}
	e.csmaBE = macMinBE
	e.csmaAttempts = 0
	e.attemptTransmit()
}

var (
	errCcaFailed = errors.New("mac: CCA failed")
	errNoAck     = errors.New("mac: no ACK received")
)

func (e *Engine) finishTransmit(err error) {
	f := e.pendingFrame
	s := e.currentSender
	e.pendingFrame = nil
	e.pendingRaw = nil
	e.currentSender = nil

	if err := e.toIdle(); err != nil {
		err = fmt.Errorf("mac: return to idle: %w", err)
	}
	if s != nil {
		s.SentFrame(f, err)
	}
	e.scheduleNext()
}

func (e *Engine) scheduleReceive() {
	if e.state != StateIdle {
		return
	}
	_ = e.driver.Receive(e.channel, e.handleReceiveDone)
}

func (e *Engine) handleReceiveDone(frame radio.Frame, result radio.ReceiveResult) {
	defer e.scheduleReceive()

	if result != radio.ReceiveNone {
		return
	}

	f, err := Decode(frame.PSDU)
	if err != nil {
		return // spec: "parse errors on receive -> drop silently"
	}

	if f.SecurityEnabled {
		if err := e.verifyAndOpen(f); err != nil {
			return
		}
	}

	if e.state == StateActiveScan {
		e.handleScanReceive(f, frame)
		return
	}

	for _, r := range e.receivers {
		r.HandleReceivedFrame(f)
	}
}

// verifyAndOpen authenticates/decrypts a secured frame in place by trying
// the current MAC key and then the previous one, if held. The frame's
// key-id field is not consulted, and a frame secured under the next key
// sequence fails verification.
func (e *Engine) verifyAndOpen(f *Frame) error {
	header, err := Encode(&Frame{
		Type: f.Type, SecurityEnabled: true, FramePending: f.FramePending,
		AckRequest: f.AckRequest, PANIDCompression: f.PANIDCompression,
		Version: f.Version, Sequence: f.Sequence,
		DstPANID: f.DstPANID, DstAddr: f.DstAddr,
		SrcPANID: f.SrcPANID, SrcAddr: f.SrcAddr, Security: f.Security,
	})
	if err != nil {
		return err
	}

	nonce := xcrypto.BuildNonce(f.SrcAddr.Ext, f.Security.FrameCounter, f.Security.Level)
	sealed := append(append([]byte{}, f.Payload...), f.MIC...)

	for _, key := range e.candidateKeys() {
		plain, err := xcrypto.Open(key[:], nonce, f.Security.Level, header, sealed)
		if err == nil {
			f.Payload = plain
			return nil
		}
	}
	return ErrSecurityFailed
}

func (e *Engine) candidateKeys() [][16]byte {
	keys := [][16]byte{e.keys.CurrentMACKey()}
	if prev, ok := e.keys.PreviousMACKey(); ok {
		keys = append(keys, prev)
	}
	return keys
}

func (e *Engine) handleScanReceive(f *Frame, raw radio.Frame) {
	if f.Type != FrameTypeBeacon || len(f.Payload) < 32 {
		return
	}
	var b Beacon
	copy(b.NetworkName[:], f.Payload[0:16])
	copy(b.ExtPANID[:], f.Payload[16:24])
	b.SenderExtAddr = binary.LittleEndian.Uint64(f.Payload[24:32])
	b.PANID = f.SrcPANID
	b.Channel = raw.Channel
	b.RSSI = raw.RSSI
	if e.scanHandler != nil {
		e.scanHandler(b, true)
	}
}

// ActiveScan iterates each channel in channelMask (0xffff meaning all
// channels 11-26, spec §9 open question (c)), transmitting a Beacon
// Request and listening for intervalMs before moving to the next. handler
// is invoked once per beacon received and once more with ok=false when
// the scan completes.
func (e *Engine) ActiveScan(channelMask uint32, intervalMs time.Duration, handler BeaconHandler) error {
	if e.state != StateIdle {
		return ErrNotIdle
	}

	var channels []uint8
	for ch := radio.MinChannel; ch <= radio.MaxChannel; ch++ {
		if channelMask == 0xffff || channelMask&(1<<uint(ch)) != 0 {
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		handler(Beacon{}, false)
		return nil
	}

	e.state = StateActiveScan
	e.scanChannels = channels
	e.scanIdx = 0
	e.scanIntervalMs = intervalMs
	e.scanHandler = handler
	e.scanNextChannel()
	return nil
}

func (e *Engine) scanNextChannel() {
	if e.scanIdx >= len(e.scanChannels) {
		e.scanHandler(Beacon{}, false)
		e.scanHandler = nil
		e.state = StateIdle
		_ = e.toIdle()
		return
	}

	ch := e.scanChannels[e.scanIdx]
	e.scanIdx++

	beaconReq := &Frame{
		Type: FrameTypeCmd, Sequence: e.sequence,
		DstAddr: ShortAddress(0xffff), DstPANID: 0xffff,
		SrcAddr: AddressNone(), Payload: []byte{0x07},
	}
	e.sequence++

	raw, err := Encode(beaconReq)
	if err == nil {
		_ = e.driver.Transmit(radio.Frame{PSDU: raw, Channel: ch}, func(radio.TransmitResult, bool) {
			_ = e.driver.Receive(ch, e.handleReceiveDone)
			e.sched.After(e.scanIntervalMs, e.scanNextChannel)
		})
	} else {
		e.sched.After(e.scanIntervalMs, e.scanNextChannel)
	}
}

// AddressNone is the zero-value "no address" marker used for Beacon
// Request frames, which carry no source address.
func AddressNone() Address { return Address{Mode: AddrModeNone} }
