package netif

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/threadcore/node/internal/addrresolver"
	"github.com/threadcore/node/internal/buf"
	"github.com/threadcore/node/internal/coap"
	"github.com/threadcore/node/internal/mac"
	"github.com/threadcore/node/internal/mle"
	"github.com/threadcore/node/internal/radio"
	"github.com/threadcore/node/internal/tasklet"
	"github.com/threadcore/node/internal/threadmetrics"
)

func testConfig(ext uint64) Config {
	return Config{
		Channel:           11,
		PANID:             0xface,
		ExtendedAddress:   ext,
		MeshLocalPrefix:   [8]byte{0xfd, 0xde, 0xad, 0, 0xbe, 0xef, 0, 0},
		ReassemblyTimeout: 5_000_000_000,
		MPLDedupWindow:    32,
		MPLEntryLifetime:  300_000_000_000,
	}
}

func newTestNetif(t *testing.T, ext uint64) *ThreadNetif {
	t.Helper()
	sched := tasklet.New()
	bus := radio.NewBus()
	driver := radio.NewSimulatedRadio(bus, sched)
	pool := buf.NewPool(64)

	n, err := New(testConfig(ext), driver, sched, pool, threadmetrics.NewCollector(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n
}

func TestNewWiresEveryCollaborator(t *testing.T) {
	t.Parallel()

	n := newTestNetif(t, 0x0011223344556677)

	if n.MAC == nil || n.Forwarder == nil || n.IP6 == nil || n.Resolver == nil || n.Device == nil {
		t.Fatal("New left a collaborator nil")
	}
	if n.Device.State != mle.StateDisabled {
		t.Fatalf("new device state = %v, want Disabled", n.Device.State)
	}
}

func TestEnableBringsDeviceToDetachedAndRecordsTransition(t *testing.T) {
	t.Parallel()

	n := newTestNetif(t, 0x0011223344556678)
	cfg := testConfig(0x0011223344556678)

	if err := n.Enable(cfg); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if n.Device.State != mle.StateDetached {
		t.Fatalf("device state after Enable = %v, want Detached", n.Device.State)
	}
	if n.lastRole != mle.StateDetached {
		t.Fatalf("recorded role after Enable = %v, want Detached", n.lastRole)
	}
}

func TestPromoteToRouterAssignsRLOC16AndRecomputesRoutes(t *testing.T) {
	t.Parallel()

	n := newTestNetif(t, 0x0011223344556679)
	cfg := testConfig(0x0011223344556679)
	if err := n.Enable(cfg); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	n.Device.Apply(mle.EventAttached)

	n.PromoteToRouter(5)

	if n.Device.State != mle.StateRouter {
		t.Fatalf("state after PromoteToRouter = %v, want Router", n.Device.State)
	}
	if n.Device.ShortAddress != 5<<10 {
		t.Fatalf("ShortAddress = %#x, want %#x", n.Device.ShortAddress, uint16(5)<<10)
	}

	// Route64's self pointer should now be router id 5: a router-id other
	// than 5 resolves against an empty adjacency table, and 5 itself does
	// not (NextHop always refuses to route to the table's own root).
	if _, ok := n.Device.Routers.NextHop(5 << 10); ok {
		t.Fatal("NextHop resolved the table's own root as a next hop")
	}
}

func TestBecomeLeaderInstallsNetworkDataLeader(t *testing.T) {
	t.Parallel()

	n := newTestNetif(t, 0x001122334455667a)
	cfg := testConfig(0x001122334455667a)
	if err := n.Enable(cfg); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	n.Device.Apply(mle.EventAttached)
	n.PromoteToRouter(1)

	n.BecomeLeader(42, 64)

	if n.Device.State != mle.StateLeader {
		t.Fatalf("state after BecomeLeader = %v, want Leader", n.Device.State)
	}
	if n.Leader == nil {
		t.Fatal("Leader is nil after BecomeLeader")
	}
}

func TestLocalAddressSetIdentifiesOwnAddressesOnly(t *testing.T) {
	t.Parallel()

	addrs := newLocalAddressSet([8]byte{0xfd, 1, 2, 3, 4, 5, 6, 7}, 0x0011223344556677)
	addrs.setRLOC16(0x1c00)

	if !addrs.IsLocal(addrs.EIDAddress()) {
		t.Error("EID address not recognized as local")
	}
	if !addrs.IsLocal(addrs.LinkLocalAddress()) {
		t.Error("link-local address not recognized as local")
	}
	if !addrs.IsLocal(addrs.rloc16Address()) {
		t.Error("RLOC address not recognized as local")
	}
	if !addrs.IsLocal(realmLocalAllNodes) {
		t.Error("realm-local-all-nodes not recognized as local")
	}

	var other [16]byte
	other[0] = 0xfd
	other[15] = 0x99
	if addrs.IsLocal(other) {
		t.Error("unrelated address incorrectly recognized as local")
	}
}

func TestChildTableAdapterRoundTrip(t *testing.T) {
	t.Parallel()

	device := mle.NewDevice(0x1, nil)
	device.RouterID = 3
	childRLOC16 := uint16(3)<<10 | 7
	device.Children[childRLOC16] = &mle.Child{
		ShortAddress: childRLOC16,
		Mode:         0x01, // rx-on-when-idle set: not sleepy
	}

	adapter := &childTableAdapter{device: device}

	slot, sleepy, ok := adapter.ChildSlot(childRLOC16)
	if !ok || slot != 7 || sleepy {
		t.Fatalf("ChildSlot = (%d, %v, %v), want (7, false, true)", slot, sleepy, ok)
	}

	addr, ok := adapter.ChildAddress(7)
	if !ok || addr != mac.ShortAddress(childRLOC16) {
		t.Fatalf("ChildAddress(7) = (%v, %v), want (%v, true)", addr, ok, mac.ShortAddress(childRLOC16))
	}

	if _, _, ok := adapter.ChildSlot(0xffff); ok {
		t.Error("ChildSlot found an entry for an unregistered RLOC16")
	}
}

func TestEIDResolverAdapterTranslatesResolveResult(t *testing.T) {
	t.Parallel()

	sched := tasklet.New()
	sender := &recordingCoAPSender{}
	notifier := &recordingNotifier{}
	resolver := addrresolver.New(sched, sender, notifier, 0x1c00)

	adapter := &eidResolverAdapter{resolver: resolver}

	var eid [16]byte
	eid[15] = 0x42

	found, _ := adapter.Resolve(eid)
	if found {
		t.Error("Resolve on an empty cache reported found")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one address query sent, got %d", len(sender.sent))
	}
}

type recordingCoAPSender struct {
	sent []struct {
		dst [16]byte
		msg *coap.Message
	}
}

func (s *recordingCoAPSender) SendCoAP(dst [16]byte, msg *coap.Message) error {
	s.sent = append(s.sent, struct {
		dst [16]byte
		msg *coap.Message
	}{dst, msg})
	return nil
}

type recordingNotifier struct {
	resolved [][16]byte
}

func (n *recordingNotifier) HandleResolved(eid [16]byte) {
	n.resolved = append(n.resolved, eid)
}
