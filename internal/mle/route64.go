package mle

import "math"

// MaxRouterID is the largest router-id value a leader may allocate (spec
// §4.6: "leader allocates from router-id mask <= 62 ids").
const MaxRouterID = 62

// RouteTable holds the Dijkstra-relaxed next-hop table a Router or Leader
// maintains over the set of known router-ids (spec §4.6: "Next-hop table:
// Dijkstra-style relaxation"). adjacency[a][b] is the route cost router a
// advertised for its direct link to router b, learned from Route64 TLVs
// carried in Advertisement messages; a router's link to itself is implicit
// cost zero and is not stored.
type RouteTable struct {
	self      uint8
	adjacency map[uint8]map[uint8]uint8
	routers   map[uint8]*Router
}

// NewRouteTable creates an empty table rooted at selfRouterID.
func NewRouteTable(selfRouterID uint8) *RouteTable {
	return &RouteTable{
		self:      selfRouterID,
		adjacency: make(map[uint8]map[uint8]uint8),
		routers:   make(map[uint8]*Router),
	}
}

// SetSelf updates the router-id this table computes routes from, used when
// a device is promoted from Child to Router and allocated a fresh id.
func (rt *RouteTable) SetSelf(selfRouterID uint8) {
	rt.self = selfRouterID
}

// UpdateLink records router a's advertised direct-link cost to router b,
// overwriting any prior value (spec §4.6: contents of an Advertisement
// include the sender's Route64 TLV).
func (rt *RouteTable) UpdateLink(a, b, cost uint8) {
	if rt.adjacency[a] == nil {
		rt.adjacency[a] = make(map[uint8]uint8)
	}
	rt.adjacency[a][b] = cost
}

// RemoveRouter drops every link to or from id, used when a router-id is
// released and its reclaim delay has not yet expired (spec §4.6:
// "kRouterIdReuseDelay=100s on release").
func (rt *RouteTable) RemoveRouter(id uint8) {
	delete(rt.adjacency, id)
	for _, links := range rt.adjacency {
		delete(links, id)
	}
	delete(rt.routers, id)
}

// Router returns the Router table entry for id, if tracked.
func (rt *RouteTable) Router(id uint8) (*Router, bool) {
	r, ok := rt.routers[id]
	return r, ok
}

// NextHop resolves an RLOC16 (router-id in bits 15:10, child-id in bits
// 9:0) to the RLOC16 of the neighboring router the mesh forwarder should
// hand the frame to next, per the last Recompute. It satisfies
// internal/forwarder's RouteResolver interface.
func (rt *RouteTable) NextHop(dstRLOC16 uint16) (uint16, bool) {
	routerID := uint8(dstRLOC16 >> 10)
	if routerID == rt.self {
		return 0, false
	}
	r, ok := rt.routers[routerID]
	if !ok || !r.Allocated {
		return 0, false
	}
	return uint16(r.NextHop) << 10, true
}

// SetRouter installs or replaces the Router table entry for r.RouterID.
func (rt *RouteTable) SetRouter(r *Router) {
	rt.routers[r.RouterID] = r
}

// AllRouters returns every tracked Router entry, in no particular order,
// for callers that need to summarize table occupancy (e.g. metrics).
func (rt *RouteTable) AllRouters() []*Router {
	out := make([]*Router, 0, len(rt.routers))
	for _, r := range rt.routers {
		out = append(out, r)
	}
	return out
}

// nextHopResult is one relaxed shortest-path entry.
type nextHopResult struct {
	cost    uint8
	nextHop uint8
}

// Recompute runs a Dijkstra relaxation over the known adjacency graph
// rooted at rt.self and returns, for every reachable router-id other than
// self, its total route cost and the id of the next-hop neighbor on the
// shortest path (spec §4.6: "Next-hop table: Dijkstra-style relaxation").
// It also updates the NextHop and RouteCost fields of every tracked Router
// entry in place.
func (rt *RouteTable) Recompute() map[uint8]nextHopResult {
	const unreached = math.MaxUint32

	dist := map[uint8]uint32{rt.self: 0}
	prevHop := map[uint8]uint8{}
	visited := map[uint8]bool{}

	nodes := map[uint8]bool{rt.self: true}
	for a, links := range rt.adjacency {
		nodes[a] = true
		for b := range links {
			nodes[b] = true
		}
	}

	for len(visited) < len(nodes) {
		var u uint8
		best := uint32(unreached)
		found := false
		for n := range nodes {
			if visited[n] {
				continue
			}
			d, ok := dist[n]
			if !ok {
				d = unreached
			}
			if d < best {
				best = d
				u = n
				found = true
			}
		}
		if !found {
			break
		}
		visited[u] = true

		for v, cost := range rt.adjacency[u] {
			if visited[v] {
				continue
			}
			alt := dist[u] + uint32(cost)
			cur, ok := dist[v]
			if !ok || alt < cur {
				dist[v] = alt
				if u == rt.self {
					prevHop[v] = v
				} else {
					prevHop[v] = prevHop[u]
				}
			}
		}
	}

	out := make(map[uint8]nextHopResult)
	for id, d := range dist {
		if id == rt.self || d >= unreached {
			continue
		}
		nh := prevHop[id]
		out[id] = nextHopResult{cost: uint8(d), nextHop: nh}
		if r, ok := rt.routers[id]; ok {
			r.RouteCost = uint8(d)
			r.NextHop = nh
		}
	}
	return out
}
