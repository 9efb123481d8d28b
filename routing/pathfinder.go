// Package routing implements PathFinder: a modified Dijkstra search over
// the gossip-derived directed multigraph, accumulating fees backward from
// destination to source and returning up to MaxRoutes feasible paths (spec
// §4.8). The teacher corpus has no pathfinding component to ground this on
// directly; container/heap is the standard-library priority queue idiom
// used throughout the Go ecosystem for exactly this shape of search (see
// DESIGN.md for why no third-party graph/pathfinding library from the pack
// fits better).
package routing

import (
	"container/heap"
	"math"
	"sort"

	"github.com/adimov-eth/xln-sub002/gossip"
	"github.com/adimov-eth/xln-sub002/types"
)

// FeeScale is FEE_SCALE = 1_000_000 ppm (spec §6.5).
const FeeScale = 1_000_000

// MaxRoutes caps the number of feasible routes PathFinder returns (spec §6.5).
const MaxRoutes = 100

// Kind enumerates the routing failure taxonomy (spec §7).
type Kind int

const (
	_ Kind = iota
	NoPath
	InsufficientCapacity
	LoopDetected
)

func (k Kind) String() string {
	switch k {
	case NoPath:
		return "NoPath"
	case InsufficientCapacity:
		return "InsufficientCapacity"
	case LoopDetected:
		return "LoopDetected"
	default:
		return "Unknown"
	}
}

// Error is the typed error value returned when no route satisfies the request.
type Error struct{ Kind Kind }

func (e *Error) Error() string { return "routing: " + e.Kind.String() }

// Route is one feasible payment path from source to destination.
type Route struct {
	Path              []types.EntityID
	TotalFee          uint64
	RequiredAtSource  uint64 // amount that must enter the first edge, after backward fee accumulation
	SuccessProbability float64
}

// graph is the adjacency view PathFinder searches, built once from the
// gossip store's derived edges for a single token. reverse indexes edges by
// destination so the search can walk backward from dest toward source,
// which is what spec §4.8's backward fee accumulation requires: the amount
// required to enter an edge depends on the amount its successor edge needs,
// not on the amount leaving the source.
type graph struct {
	reverse map[string][]gossip.Edge // to entity_id string -> incoming edges
}

func buildGraph(edges []gossip.Edge, tokenID types.TokenID) *graph {
	g := &graph{reverse: make(map[string][]gossip.Edge)}
	for _, e := range edges {
		if !e.TokenID.Equal(tokenID) {
			continue
		}
		g.reverse[e.To.String()] = append(g.reverse[e.To.String()], e)
	}
	return g
}

// requiredAmount computes the amount that must enter edge (u,v) so that
// a_in arrives at v, per spec §4.8's backward fee accumulation:
// required = a_in + base_fee + ceil(a_in * fee_ppm / FEE_SCALE).
func requiredAmount(e gossip.Edge, aIn uint64) uint64 {
	ppmFee := (aIn*e.FeePPM + FeeScale - 1) / FeeScale
	return aIn + e.BaseFee + ppmFee
}

// FindRoutes searches the directed graph implied by edges for up to
// MaxRoutes feasible paths from source to dest carrying amount of tokenID,
// sorted ascending by total fee with hop-count then lexicographic-path
// tie-breaks (spec §4.8).
func FindRoutes(edges []gossip.Edge, source, dest types.EntityID, tokenID types.TokenID, amount uint64) ([]Route, error) {
	g := buildGraph(edges, tokenID)
	if len(g.reverse) == 0 {
		return nil, &Error{Kind: NoPath}
	}
	routes := dijkstraKShortest(g, source, dest, amount)
	if len(routes) == 0 {
		return nil, &Error{Kind: NoPath}
	}

	sort.SliceStable(routes, func(i, j int) bool {
		if routes[i].TotalFee != routes[j].TotalFee {
			return routes[i].TotalFee < routes[j].TotalFee
		}
		if len(routes[i].Path) != len(routes[j].Path) {
			return len(routes[i].Path) < len(routes[j].Path)
		}
		return lexLess(routes[i].Path, routes[j].Path)
	})
	if len(routes) > MaxRoutes {
		routes = routes[:MaxRoutes]
	}
	return routes, nil
}

func lexLess(a, b []types.EntityID) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := types.Compare(a[i], b[i]); c != 0 {
			return c < 0
		}
	}
	return len(a) < len(b)
}

// pqItem is a single state in the Dijkstra frontier: a path from the
// destination back to node `at`, with the total fee accumulated so far and the amount that
// must currently flow into the next edge toward source (computed backward).
type pqItem struct {
	at       string
	path     []types.EntityID
	edges    []pathEdge
	totalFee uint64
	aIn      uint64 // amount that must arrive at `at` for the destination to receive `amount`
	index    int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].totalFee != pq[j].totalFee {
		return pq[i].totalFee < pq[j].totalFee
	}
	return len(pq[i].path) < len(pq[j].path)
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *priorityQueue) Push(x interface{}) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// dijkstraKShortest walks the reverse graph backward from dest toward
// source. The frontier's `path` is built tail-first (dest, ..., source) and
// reversed once a route reaches source; `aIn` at each step is the amount
// that must exit the edge under consideration so that, after all fees
// accumulated so far, `amount` still arrives at dest (spec §4.8's backward
// fee accumulation). Loop prevention excludes any node already present in
// the path.
func dijkstraKShortest(g *graph, source, dest types.EntityID, amount uint64) []Route {
	start := &pqItem{at: dest.String(), path: []types.EntityID{dest}, totalFee: 0, aIn: amount}
	pq := &priorityQueue{start}
	heap.Init(pq)

	var found []Route
	visitCount := make(map[string]int)

	for pq.Len() > 0 && len(found) < MaxRoutes*4 {
		cur := heap.Pop(pq).(*pqItem)
		if visitCount[cur.at] > MaxRoutes {
			continue
		}
		visitCount[cur.at]++

		if cur.at == source.String() && len(cur.path) > 1 {
			found = append(found, Route{
				Path:               reverseIDs(cur.path),
				TotalFee:           cur.totalFee,
				RequiredAtSource:   cur.aIn,
				SuccessProbability: successProbability(cur.edges),
			})
			continue
		}

		for _, e := range g.reverse[cur.at] {
			if containsEntity(cur.path, e.From) {
				continue // loop prevention (spec §4.8)
			}
			required := requiredAmount(e, cur.aIn)
			if e.OutCapacity < required {
				continue // infeasible: capacity exhausted on this edge
			}
			edgeFee := required - cur.aIn
			next := &pqItem{
				at:       e.From.String(),
				path:     append(append([]types.EntityID(nil), cur.path...), e.From),
				edges:    append(append([]pathEdge(nil), cur.edges...), pathEdge{outCapacity: e.OutCapacity, required: required}),
				totalFee: cur.totalFee + edgeFee,
				aIn:      required,
			}
			heap.Push(pq, next)
		}
	}
	return found
}

func reverseIDs(ids []types.EntityID) []types.EntityID {
	out := make([]types.EntityID, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}

func containsEntity(path []types.EntityID, id types.EntityID) bool {
	for _, p := range path {
		if p.Equal(id) {
			return true
		}
	}
	return false
}

// successProbability returns exp(-2*utilization) averaged over the path's
// edges, the optional routing hint spec §4.8 names. Utilization is the
// fraction of an edge's out_capacity the route's required amount would
// consume; an edge with zero remaining capacity after the route is treated
// as fully utilized.
func successProbability(route []pathEdge) float64 {
	if len(route) == 0 {
		return 1
	}
	var sum float64
	for _, e := range route {
		if e.outCapacity == 0 {
			sum += 1
			continue
		}
		util := float64(e.required) / float64(e.outCapacity)
		if util > 1 {
			util = 1
		}
		sum += util
	}
	return math.Exp(-2 * sum / float64(len(route)))
}

// pathEdge records, per hop of a discovered route, the capacity and
// required-amount figures needed to compute its success-probability hint.
type pathEdge struct {
	outCapacity uint64
	required    uint64
}
