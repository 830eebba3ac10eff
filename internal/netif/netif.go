// Package netif assembles the per-layer packages (mac, lowpan, forwarder,
// ip6, mle, addrresolver, netdata, coap, keymgr) into one running Thread
// node: ThreadNetif, the single object that owns every table and wires
// the scheduler into every subsystem. The run loop itself lives in
// cmd/threadnode/main.go, not here.
package netif

import (
	"fmt"
	"time"

	"github.com/threadcore/node/internal/addrresolver"
	"github.com/threadcore/node/internal/buf"
	"github.com/threadcore/node/internal/forwarder"
	"github.com/threadcore/node/internal/ip6"
	"github.com/threadcore/node/internal/keymgr"
	"github.com/threadcore/node/internal/lowpan"
	"github.com/threadcore/node/internal/mac"
	"github.com/threadcore/node/internal/mle"
	"github.com/threadcore/node/internal/netdata"
	"github.com/threadcore/node/internal/radio"
	"github.com/threadcore/node/internal/tasklet"
	"github.com/threadcore/node/internal/threadmetrics"
)

// Config carries the identity and timing parameters ThreadNetif needs at
// construction (spec §4.6, §9); internal/config.Config is marshaled into
// one of these by cmd/threadnode before New is called.
type Config struct {
	Channel         uint8
	PANID           uint16
	ExtendedAddress uint64
	MasterKey       [16]byte

	MeshLocalPrefix [8]byte // upper 64 bits of the mesh-local /64

	ReassemblyTimeout time.Duration
	MPLDedupWindow    int
	MPLEntryLifetime  time.Duration
}

// ThreadNetif is one Thread node: every layer's state, wired together and
// driven by a single tasklet.Scheduler (spec §5's single-threaded
// cooperative model), one object owning every table, allocator, and clock
// a running node needs.
type ThreadNetif struct {
	Sched *tasklet.Scheduler
	Pool  *buf.Pool
	Radio radio.Driver

	Keys      *keymgr.KeyManager
	MAC       *mac.Engine
	Forwarder *forwarder.Forwarder
	IP6       *ip6.Stack
	Device    *mle.Device
	Resolver  *addrresolver.Resolver

	Local      *netdata.Local
	Leader     *netdata.Leader
	CtxAlloc   *netdata.ContextIDAllocator
	Metrics    *threadmetrics.Collector

	addrs *localAddressSet

	lastRole mle.State
}

// New builds a fully wired, Disabled ThreadNetif over driver. The caller
// still must call Enable to bring the MAC engine and device FSM up.
func New(cfg Config, driver radio.Driver, sched *tasklet.Scheduler, pool *buf.Pool, metrics *threadmetrics.Collector) (*ThreadNetif, error) {
	keys, err := keymgr.New(cfg.MasterKey[:])
	if err != nil {
		return nil, fmt.Errorf("netif: %w", err)
	}

	n := &ThreadNetif{
		Sched:    sched,
		Pool:     pool,
		Radio:    driver,
		Keys:     keys,
		Device:   mle.NewDevice(cfg.ExtendedAddress, keys),
		Local:    netdata.NewLocal(),
		CtxAlloc: netdata.NewContextIDAllocator(time.Now),
		Metrics:  metrics,
		lastRole: mle.StateDisabled,
	}

	n.addrs = newLocalAddressSet(cfg.MeshLocalPrefix, cfg.ExtendedAddress)

	n.MAC = mac.NewEngine(driver, sched, keys)

	// The forwarder needs an EIDResolver at construction time but the
	// resolver it talks to needs the forwarder (as a ForwarderNotifier),
	// so the adapter's target is wired in after both exist.
	eidAdapter := &eidResolverAdapter{}
	n.Forwarder = forwarder.New(n.Pool, n.MAC, sched, eidAdapter, 0, cfg.ExtendedAddress)
	n.Forwarder.SetRoutes(n.Device.Routers)
	n.Forwarder.SetChildTable(&childTableAdapter{device: n.Device})

	n.IP6 = ip6.NewStack(n.addrs, forwarderAdapter{fwd: n.Forwarder}, cfg.MPLDedupWindow, cfg.MPLEntryLifetime)
	n.Forwarder.SetIP6Receiver(n.IP6)

	n.Resolver = addrresolver.New(sched, &coapSender{netif: n}, n.Forwarder, 0)
	eidAdapter.resolver = n.Resolver

	return n, nil
}

// Enable starts the radio and MAC engine and drives the device FSM into
// Detached, beginning the attach procedure (spec §4.6's step 1).
func (n *ThreadNetif) Enable(cfg Config) error {
	if err := n.MAC.Start(cfg.Channel, cfg.PANID, cfg.ExtendedAddress, 0); err != nil {
		return fmt.Errorf("netif: start mac: %w", err)
	}
	n.Device.Apply(mle.EventEnable)
	n.recordRoleTransition()
	return nil
}

// Disable tears the interface down (spec §4.6's Disabled state).
func (n *ThreadNetif) Disable() error {
	n.Device.Apply(mle.EventDisable)
	n.recordRoleTransition()
	return n.MAC.Stop()
}

// UpdateContexts refreshes the 6LoWPAN compression context table the
// forwarder and lowpan codec use, called whenever Network Data's context
// set changes (spec §4.7).
func (n *ThreadNetif) UpdateContexts(contexts []lowpan.Context) {
	n.Forwarder.UpdateContexts(contexts)
}

// AssignShortAddress installs a Thread RLOC16 (router-id/child-id pair, or
// a child's assigned address) after a successful attach or promotion. It
// updates the device and the node's own address set (the RLOC address);
// the MAC engine, forwarder and address resolver keep the short address 0
// they were constructed or started with.
func (n *ThreadNetif) AssignShortAddress(rloc16 uint16) {
	n.Device.ShortAddress = rloc16
	n.addrs.setRLOC16(rloc16)
}

// HandleAttached installs the RLOC16 granted by a Child-Id-Response and
// fires the Detached->Child FSM transition (spec §4.6 attach step 4).
func (n *ThreadNetif) HandleAttached(rloc16 uint16) {
	n.AssignShortAddress(rloc16)
	n.Device.Apply(mle.EventAttached)
	n.recordRoleTransition()
}

// PromoteToRouter installs a router-id granted by a successful
// Address-Solicit, fires the Child->Router transition, and reruns Route64
// now that this device has next-hop responsibilities of its own.
func (n *ThreadNetif) PromoteToRouter(routerID uint8) {
	n.Device.PromoteToRouter(routerID)
	n.AssignShortAddress(uint16(routerID) << 10)
	n.RecomputeRoutes()
	n.recordRoleTransition()
}

// BecomeLeader installs fresh Network Data leader state alongside the
// device FSM's Router->Leader transition (spec §4.6 leader election,
// §4.7 Network Data's Leader role).
func (n *ThreadNetif) BecomeLeader(partitionID uint32, weighting uint8) {
	n.Device.BecomeLeader(mle.LeaderData{
		PartitionID:    partitionID,
		Weighting:      weighting,
		LeaderRouterID: n.Device.RouterID,
	})
	n.Leader = netdata.NewLeader(n.CtxAlloc)
	n.recordRoleTransition()
}

// RecomputeRoutes reruns the Route64 Dijkstra relaxation and resets the
// advertise trickle timer on every call; it does not check whether the
// result changed the next-hop set.
func (n *ThreadNetif) RecomputeRoutes() {
	n.Device.Routers.Recompute()
	n.Device.ResetAdvertiseInterval()
	n.updateNeighborMetrics()
}

// recordRoleTransition reports a device FSM role change to the metrics
// collector whenever Apply/PromoteToRouter/BecomeLeader moved the state.
func (n *ThreadNetif) recordRoleTransition() {
	if n.Metrics == nil {
		return
	}
	if n.Device.State == n.lastRole {
		return
	}
	n.Metrics.RecordRoleTransition(n.lastRole.String(), n.Device.State.String())
	n.lastRole = n.Device.State
	n.updateNeighborMetrics()
}

func (n *ThreadNetif) updateNeighborMetrics() {
	if n.Metrics == nil {
		return
	}
	n.Metrics.SetNeighborCount("child", len(n.Device.Children))
	routers := 0
	for _, r := range n.Device.Routers.AllRouters() {
		if r.Allocated {
			routers++
		}
	}
	n.Metrics.SetNeighborCount("router", routers)
}
