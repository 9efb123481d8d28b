// Package gossip implements the timestamp-LWW profile CRDT and the
// capacity derivation that feeds the routing graph (spec §4.7). Grounded on
// the teacher's core/txpool_snapshot.go use of github.com/google/btree for
// deterministic sorted iteration over a mutable working set; here it backs
// the profile store so gossip-derived routing edges always iterate in
// canonical entity_id order.
package gossip

import (
	"bytes"
	"math/big"

	"github.com/google/btree"

	"github.com/adimov-eth/xln-sub002/account"
	"github.com/adimov-eth/xln-sub002/codec"
	"github.com/adimov-eth/xln-sub002/types"
)

// Profile is the gossiped, last-writer-wins advertisement for one entity:
// its declared routing fee policy and any other self-reported metadata.
type Profile struct {
	EntityID  types.EntityID
	Timestamp uint64
	BaseFee   uint64
	FeePPM    uint64
	Metadata  []byte
}

// canonicalEncoding renders p deterministically for the LWW tie-break
// (spec §4.7: "on equality, compare canonical RLP encoding lexicographically").
func (p Profile) canonicalEncoding() []byte {
	item := codec.List{
		codec.Bytes(p.EntityID),
		codec.Bytes(beMinimal(p.Timestamp)),
		codec.Bytes(beMinimal(p.BaseFee)),
		codec.Bytes(beMinimal(p.FeePPM)),
		codec.Bytes(p.Metadata),
	}
	return codec.Encode(item)
}

func beMinimal(x uint64) []byte {
	if x == 0 {
		return nil
	}
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(x)
		x >>= 8
	}
	i := 0
	for i < 8 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}

// entry is the btree.Item wrapping a Profile, ordered by entity_id bytes.
type entry struct{ p Profile }

func (e entry) Less(than btree.Item) bool {
	return bytes.Compare(e.p.EntityID, than.(entry).p.EntityID) < 0
}

// Store is an eventually-consistent LWW profile table, iterable in
// canonical entity_id order via google/btree.
type Store struct {
	tree *btree.BTree
}

// NewStore creates an empty profile store.
func NewStore() *Store {
	return &Store{tree: btree.New(32)}
}

// Merge applies an incoming Profile update. It is accepted iff its
// timestamp is strictly greater than the stored one for the same
// entity_id, or — on an exact timestamp tie — its canonical encoding sorts
// lexicographically greater (spec §4.7). Returns whether the update was
// accepted.
func (s *Store) Merge(incoming Profile) bool {
	key := entry{Profile{EntityID: incoming.EntityID}}
	existing := s.tree.Get(key)
	if existing == nil {
		s.tree.ReplaceOrInsert(entry{incoming})
		return true
	}
	cur := existing.(entry).p
	switch {
	case incoming.Timestamp > cur.Timestamp:
		s.tree.ReplaceOrInsert(entry{incoming})
		return true
	case incoming.Timestamp == cur.Timestamp:
		if bytes.Compare(incoming.canonicalEncoding(), cur.canonicalEncoding()) > 0 {
			s.tree.ReplaceOrInsert(entry{incoming})
			return true
		}
		return false
	default:
		return false
	}
}

// Get returns the stored profile for entityID, if any.
func (s *Store) Get(entityID types.EntityID) (Profile, bool) {
	item := s.tree.Get(entry{Profile{EntityID: entityID}})
	if item == nil {
		return Profile{}, false
	}
	return item.(entry).p, true
}

// All returns every stored profile in canonical entity_id order, satisfying
// the determinism contract for any downstream hashing or routing-graph
// construction (spec §5).
func (s *Store) All() []Profile {
	out := make([]Profile, 0, s.tree.Len())
	s.tree.Ascend(func(i btree.Item) bool {
		out = append(out, i.(entry).p)
		return true
	})
	return out
}

// Edge is a directed, token-scoped routing edge derived from one bilateral
// account's Delta, from the perspective of `From` (spec §4.7: "capacities
// are derived, not set").
type Edge struct {
	From, To    types.EntityID
	TokenID     types.TokenID
	OutCapacity uint64
	InCapacity  uint64
	BaseFee     uint64
	FeePPM      uint64
}

// DeriveEdges produces the two directed edges (left->right, right->left) a
// single account's per-token Delta implies, using the out/in capacity
// formulas of spec §4.7/§4.4. Fee policy for each direction is taken from
// the destination node's gossiped Profile, defaulting to zero if absent.
func DeriveEdges(key types.AccountKey, table []account.Delta, store *Store) []Edge {
	edges := make([]Edge, 0, 2*len(table))
	for _, d := range table {
		leftToRight := Edge{
			From: key.Left, To: key.Right, TokenID: d.TokenID,
			OutCapacity: bigToUint64(d.OutCapacity()),
			InCapacity:  bigToUint64(d.InCapacity()),
		}
		if p, ok := store.Get(key.Right); ok {
			leftToRight.BaseFee, leftToRight.FeePPM = p.BaseFee, p.FeePPM
		}
		edges = append(edges, leftToRight)

		rightToLeft := Edge{
			From: key.Right, To: key.Left, TokenID: d.TokenID,
			OutCapacity: bigToUint64(d.InCapacity()),
			InCapacity:  bigToUint64(d.OutCapacity()),
		}
		if p, ok := store.Get(key.Left); ok {
			rightToLeft.BaseFee, rightToLeft.FeePPM = p.BaseFee, p.FeePPM
		}
		edges = append(edges, rightToLeft)
	}
	return edges
}

// bigToUint64 clamps a non-negative *big.Int (already clamped by
// OutCapacity/InCapacity to be >= 0) to uint64. Routing edge capacities are
// gossip-derived display/planning values, not settlement amounts, so
// saturating at MaxUint64 on overflow is an acceptable loss of precision
// here rather than a correctness issue.
func bigToUint64(x *big.Int) uint64 {
	if x == nil {
		return 0
	}
	if !x.IsUint64() {
		return ^uint64(0)
	}
	return x.Uint64()
}
