//go:build linux

package radio

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"syscall"

	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/threadcore/node/internal/tasklet"
)

// multicastGroupV6 is the link-local multicast group UDPMedium uses to
// emulate the shared RF channel across processes, one UDP port per
// 802.15.4 channel number so that a process tuned to channel 15 never
// observes traffic from channel 20.
var multicastGroupV6 = netip.MustParseAddr("ff02::3a")

// basePort is the UDP port used for channel 11; channel c listens on
// basePort + (c - MinChannel).
const basePort = 19900

// UDPMedium is a Driver implementation that multicasts 802.15.4 frames
// over UDP, allowing independent `threadnode` processes on the same host
// or LAN to exchange frames the way real radios would share spectrum.
// It uses the Control-callback idiom for raw socket option access (via
// golang.org/x/sys/unix), with SO_REUSEADDR so multiple listeners can
// bind the same port, adapted to a multicast broadcast-domain transport
// appropriate to a shared radio channel.
type UDPMedium struct {
	mu      sync.Mutex
	ifName  string
	conn    *net.UDPConn
	sched   *tasklet.Scheduler
	state   State
	channel uint8
	ifIndex int

	pendingReceive ReceiveDoneFunc
	done           chan struct{}
}

// NewUDPMedium creates a Driver bound to the named network interface,
// which must support multicast (e.g. a veth or bridge set up for a local
// multi-node simulation).
func NewUDPMedium(ifName string, sched *tasklet.Scheduler) *UDPMedium {
	return &UDPMedium{ifName: ifName, sched: sched, state: StateDisabled}
}

func (m *UDPMedium) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateSleep
	return nil
}

func (m *UDPMedium) Enable() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDisabled {
		return ErrNotInitialized
	}
	m.state = StateSleep
	return nil
}

func (m *UDPMedium) Disable() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	m.state = StateDisabled
	return nil
}

func (m *UDPMedium) Sleep() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.state = StateSleep
	return nil
}

func (m *UDPMedium) Idle() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateIdle
	return nil
}

func channelPort(ch uint8) int { return basePort + int(ch) - int(MinChannel) }

// Receive joins the multicast group for channel's port and starts a
// background reader goroutine that posts completions onto the node's
// tasklet scheduler — the only point where this driver crosses from a
// real OS thread back into the single-threaded core (spec §5: deferred
// work must enqueue onto the tasklet queue, never call into core state
// directly).
func (m *UDPMedium) Receive(channel uint8, onDone ReceiveDoneFunc) error {
	if err := ValidateChannel(channel); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state != StateIdle && m.state != StateListen {
		m.mu.Unlock()
		return ErrNotIdle
	}

	if m.conn == nil || m.channel != channel {
		if m.conn != nil {
			_ = m.conn.Close()
		}
		conn, ifIndex, err := joinMulticast(m.ifName, channelPort(channel))
		if err != nil {
			m.mu.Unlock()
			return fmt.Errorf("join multicast for channel %d: %w", channel, err)
		}
		m.conn = conn
		m.ifIndex = ifIndex
	}

	m.channel = channel
	m.state = StateListen
	m.pendingReceive = onDone
	done := make(chan struct{})
	m.done = done
	conn := m.conn
	m.mu.Unlock()

	go m.readLoop(conn, channel, done)
	return nil
}

func (m *UDPMedium) readLoop(conn *net.UDPConn, channel uint8, done chan struct{}) {
	buf := make([]byte, MaxPSDU+1)
	for {
		select {
		case <-done:
			return
		default:
		}

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if n < 1 {
			continue
		}

		frame := Frame{
			PSDU:    append([]byte(nil), buf[1:n]...),
			Channel: channel,
			RSSI:    int8(buf[0]),
		}

		m.mu.Lock()
		onDone := m.pendingReceive
		m.pendingReceive = nil
		if m.state == StateListen {
			m.state = StateIdle
		}
		m.mu.Unlock()

		if onDone != nil {
			m.sched.Post(func() { onDone(frame, ReceiveNone) })
		}
		return
	}
}

// Transmit sends frame's PSDU, prefixed with a synthetic RSSI byte, to
// the multicast group for the frame's channel. Since UDP multicast gives
// no hardware ACK, the ack-request bit is honored by waiting for the
// caller's own receive loop to observe a frame whose first PSDU byte
// marks it as an ACK addressed back to this node's short address — that
// matching is the MAC layer's job; this driver reports TransmitNone
// unconditionally once the datagram is sent, leaving ACK timeout handling
// to the MAC retry loop operating one layer up (spec: "retry on missing
// ACK" is a MAC, not radio, responsibility when no hardware auto-ACK is
// available).
func (m *UDPMedium) Transmit(frame Frame, onDone TransmitDoneFunc) error {
	if err := ValidateFrame(frame); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrNotIdle
	}
	m.state = StateTransmit
	m.mu.Unlock()

	group := netip.AddrPortFrom(multicastGroupV6, uint16(channelPort(frame.Channel)))
	dst := net.UDPAddrFromAddrPort(group)

	conn, err := net.DialUDP("udp6", nil, dst)
	if err != nil {
		m.mu.Lock()
		m.state = StateIdle
		m.mu.Unlock()
		return fmt.Errorf("dial multicast group for channel %d: %w", frame.Channel, err)
	}
	defer conn.Close()

	payload := make([]byte, 1+len(frame.PSDU))
	payload[0] = byte(frame.RSSI)
	copy(payload[1:], frame.PSDU)

	_, werr := conn.Write(payload)

	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()

	if werr != nil {
		m.sched.Post(func() { onDone(TransmitAbort, false) })
		return nil
	}

	m.sched.Post(func() { onDone(TransmitNone, false) })
	return nil
}

func (m *UDPMedium) SetPanID(uint16) error           { return nil }
func (m *UDPMedium) SetShortAddress(uint16) error    { return nil }
func (m *UDPMedium) SetExtendedAddress(uint64) error { return nil }

func (m *UDPMedium) GetNoiseFloor() (int8, error) { return -95, nil }

func (m *UDPMedium) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// joinMulticast opens a UDP socket bound to port, joins multicastGroupV6
// on the named interface, and enables SO_REUSEADDR so multiple channel
// listeners in the same process (or multiple node processes) can bind the
// same port concurrently.
func joinMulticast(ifName string, port int) (*net.UDPConn, int, error) {
	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, 0, fmt.Errorf("lookup interface %s: %w", ifName, err)
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp6", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, 0, fmt.Errorf("listen udp6 port %d: %w", port, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, 0, fmt.Errorf("unexpected packet conn type for udp6 port %d", port)
	}

	group := net.UDPAddrFromAddrPort(netip.AddrPortFrom(multicastGroupV6, uint16(port)))
	pconn := ipv6.NewPacketConn(conn)
	if err := pconn.JoinGroup(iface, group); err != nil {
		_ = conn.Close()
		return nil, 0, fmt.Errorf("join multicast group on %s: %w", ifName, err)
	}

	return conn, iface.Index, nil
}
