// Package types defines the opaque byte identifiers shared across the
// settlement kernel: EntityID, SignerID, TokenID and the canonical ordering
// rules derived from them (AccountKey, CompositeKey). None of these types
// carry behavior beyond comparison and formatting — every stateful machine
// lives in its own package.
package types

import (
	"bytes"
	"encoding/hex"
	"sort"
)

// EntityID identifies an entity — a replicated BFT state machine — by its
// opaque byte address (e.g. a 20-byte EVM-style address once registered on
// the jurisdiction layer, or any other caller-chosen identifier pre-registration).
type EntityID []byte

// SignerID identifies a single validator key participating in an entity's
// consensus quorum.
type SignerID []byte

// TokenID identifies a fungible asset tracked inside a bilateral account's
// per-token delta table.
type TokenID []byte

func (e EntityID) String() string { return hex.EncodeToString(e) }
func (s SignerID) String() string { return hex.EncodeToString(s) }
func (t TokenID) String() string  { return hex.EncodeToString(t) }

// Equal reports byte-for-byte equality.
func (e EntityID) Equal(o EntityID) bool { return bytes.Equal(e, o) }
func (s SignerID) Equal(o SignerID) bool { return bytes.Equal(s, o) }
func (t TokenID) Equal(o TokenID) bool   { return bytes.Equal(t, o) }

// Compare is the canonical total order used throughout the system for
// lexicographic tie-breaks: negative if a<b, zero if equal, positive if a>b.
func Compare(a, b []byte) int { return bytes.Compare(a, b) }

// AccountKey is the pair (left_id, right_id) with left_id < right_id always.
// Every account lookup normalizes through NewAccountKey so the same
// bilateral relationship always hashes to one canonical key regardless of
// which side constructed it.
type AccountKey struct {
	Left  EntityID
	Right EntityID
}

// NewAccountKey normalizes two entity ids into canonical left/right order.
func NewAccountKey(a, b EntityID) AccountKey {
	if bytes.Compare(a, b) <= 0 {
		return AccountKey{Left: a, Right: b}
	}
	return AccountKey{Left: b, Right: a}
}

// IsLeft reports whether id is the left (lower-ordered) party of the key.
func (k AccountKey) IsLeft(id EntityID) bool { return bytes.Equal(k.Left, id) }

// Counterparty returns the other side of the account relative to id.
func (k AccountKey) Counterparty(id EntityID) EntityID {
	if k.IsLeft(id) {
		return k.Right
	}
	return k.Left
}

func (k AccountKey) String() string { return k.Left.String() + ":" + k.Right.String() }

// Bytes returns a deterministic byte encoding of the key suitable for use as
// a map/db key: len-prefixed left id followed by the right id.
func (k AccountKey) Bytes() []byte {
	out := make([]byte, 0, 1+len(k.Left)+len(k.Right))
	out = append(out, byte(len(k.Left)))
	out = append(out, k.Left...)
	out = append(out, k.Right...)
	return out
}

// CompositeKey identifies a single EntityReplica slot: (entity_id, signer_id).
// It is the sort key for snapshot replica_entry ordering (spec §4.9).
type CompositeKey struct {
	EntityID EntityID
	SignerID SignerID
}

// Bytes returns the composite key's canonical byte encoding, length-prefixed
// so that distinct (entity_id, signer_id) pairs never collide when the
// components themselves vary in length.
func (c CompositeKey) Bytes() []byte {
	out := make([]byte, 0, 2+len(c.EntityID)+len(c.SignerID))
	out = append(out, byte(len(c.EntityID)))
	out = append(out, c.EntityID...)
	out = append(out, byte(len(c.SignerID)))
	out = append(out, c.SignerID...)
	return out
}

func (c CompositeKey) String() string { return c.EntityID.String() + "/" + c.SignerID.String() }

// CompareComposite orders composite keys first by entity id, then by signer id.
func CompareComposite(a, b CompositeKey) int {
	if c := bytes.Compare(a.EntityID, b.EntityID); c != 0 {
		return c
	}
	return bytes.Compare(a.SignerID, b.SignerID)
}

// SortByteKeys sorts a slice of byte keys in place using the canonical
// lexicographic order. Used wherever a map over byte-keyed data must be
// flattened into a deterministic sequence before hashing or encoding.
func SortByteKeys(keys [][]byte) {
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
}

// SortCompositeKeys sorts composite keys by (entity_id, signer_id) — the
// order spec §4.9 requires for state_root computation.
func SortCompositeKeys(keys []CompositeKey) {
	sort.Slice(keys, func(i, j int) bool { return CompareComposite(keys[i], keys[j]) < 0 })
}
