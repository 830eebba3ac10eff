package mle

import (
	"time"

	"github.com/threadcore/node/internal/keymgr"
)

// Device aggregates the device role state machine, the neighbor/child/
// router tables, the route table, and the key manager into the single
// owning object internal/netif's ThreadNetif wires into its run loop: the
// one place device state, the router-id allocator, and the clock all
// meet.
type Device struct {
	ExtAddress   uint64
	ShortAddress uint16

	State      State
	Leader     LeaderData
	HaveLeader bool

	Neighbors map[uint64]*Neighbor
	Children  map[uint16]*Child
	Routers   *RouteTable

	RouterIDs    *RouterIDAllocator // non-nil only while acting as Leader
	RouterID     uint8
	HaveRouterID bool

	Keys *keymgr.KeyManager

	AdvertiseInterval time.Duration
	Attach            *AttachRound
}

// NewDevice creates a Disabled device with empty tables.
func NewDevice(extAddress uint64, keys *keymgr.KeyManager) *Device {
	return &Device{
		ExtAddress: extAddress,
		State:      StateDisabled,
		Neighbors:  make(map[uint64]*Neighbor),
		Children:   make(map[uint16]*Child),
		Routers:    NewRouteTable(0),
		Keys:       keys,
	}
}

// Apply drives the device's role FSM and keeps the Attach/advertise state
// in sync with the resulting actions.
func (d *Device) Apply(event Event) FSMResult {
	res := ApplyEvent(d.State, event)
	d.State = res.NewState
	for _, a := range res.Actions {
		switch a {
		case ActionResetTables:
			d.Neighbors = make(map[uint64]*Neighbor)
			d.Children = make(map[uint16]*Child)
			d.HaveLeader = false
			d.HaveRouterID = false
			d.RouterIDs = nil
		case ActionStartAttach:
			round, err := NewAttachRound(AttachAnyPartition)
			if err == nil {
				d.Attach = round
			}
		case ActionStartAdvertiseTrickle:
			d.AdvertiseInterval = AdvertiseIntervalMin
		case ActionStopAdvertiseTrickle:
			d.AdvertiseInterval = 0
		}
	}
	return res
}

// ResetAdvertiseInterval restores the trickle timer to its minimum,
// triggered by route churn (spec §4.6: "resetting on route churn").
func (d *Device) ResetAdvertiseInterval() {
	if d.State == StateRouter || d.State == StateLeader {
		d.AdvertiseInterval = AdvertiseIntervalMin
	}
}

// DoubleAdvertiseInterval backs the trickle timer off after a silent
// interval (spec §4.6: "doubling on silence").
func (d *Device) DoubleAdvertiseInterval() {
	d.AdvertiseInterval = NextAdvertiseInterval(d.AdvertiseInterval)
}

// HandleKeySequence implements the key-sequence rollover hook (spec §6:
// "Key sequence rollover: valid MLE/MAC frame with key-sequence=current+1
// triggers KeyManager.SetCurrentKeySequence(current+1)"). Returns whether
// the manager accepted a rollover.
func (d *Device) HandleKeySequence(seq uint32) bool {
	if d.Keys == nil {
		return false
	}
	if seq == d.Keys.CurrentKeySequence()+1 {
		return d.Keys.SetCurrentKeySequence(seq)
	}
	return false
}

// PromoteToRouter installs routerID granted by a successful Address-Solicit
// and fires the Child->Router FSM transition (spec §4.6).
func (d *Device) PromoteToRouter(routerID uint8) FSMResult {
	d.RouterID = routerID
	d.HaveRouterID = true
	d.Routers.SetSelf(routerID)
	return d.Apply(EventPromoted)
}

// BecomeLeader installs a fresh RouterIDAllocator (reserving this device's
// own id) and fires the Router->Leader FSM transition (spec §4.6 leader
// election).
func (d *Device) BecomeLeader(leaderData LeaderData) FSMResult {
	d.Leader = leaderData
	d.HaveLeader = true
	d.RouterIDs = NewRouterIDAllocator()
	if d.HaveRouterID {
		d.RouterIDs.Reserve(d.RouterID)
	}
	return d.Apply(EventElectedLeader)
}
