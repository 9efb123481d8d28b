// Package entity implements the BFT-replicated entity machine: one
// EntityReplica per (entity_id, signer_id), advancing through
// propose/precommit/commit rounds with CometBFT-style frame locking (spec
// §4.5). Grounded on the teacher's core/consensus.go SynnergyConsensus —
// generalized from its PoH/PoW/PoS hybrid to a pure shares-weighted quorum
// BFT reducer, and on its networkAdapter/securityAdapter dependency
// injection pattern for the Signer the replica needs.
package entity

import (
	"sort"

	"github.com/adimov-eth/xln-sub002/codec"
	"github.com/adimov-eth/xln-sub002/types"
)

// ConsensusConfig fixes the validator set and quorum threshold for one
// entity. Weighted shares generalize equal-weight BFT naturally (spec
// §4.5's Byzantine-tolerance note).
type ConsensusConfig struct {
	Shares     map[string]uint64 // signer_id hex -> voting weight
	Threshold  uint64
	ProposerID types.SignerID // addressing target for InputForwardTx/InputPrecommit replies
}

// DefaultThreshold computes BFT_DEFAULT_THRESHOLD(n_shares) = floor(2n/3)+1
// (spec §6.5).
func DefaultThreshold(totalShares uint64) uint64 {
	return (2*totalShares)/3 + 1
}

// TotalShares sums every signer's weight.
func (c ConsensusConfig) TotalShares() uint64 {
	var total uint64
	for _, s := range c.Shares {
		total += s
	}
	return total
}

// PowerOfKeys sums the shares of the given signer_id hex keys (the same
// keys Shares is indexed by), ignoring unknown ids and never double-counting
// a repeated key.
func (c ConsensusConfig) PowerOfKeys(keys []string) uint64 {
	seen := make(map[string]bool, len(keys))
	var power uint64
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		power += c.Shares[key]
	}
	return power
}

// EntityState is the committed, immutable value an EntityReplica's cell
// holds between heights (spec §9's "mutable-struct-with-immutable-fields"
// guidance: replace the cell, never mutate a field in place).
type EntityState struct {
	Height         uint64
	Config         ConsensusConfig
	Balances       map[string]map[string]uint64 // reserved for future token accounting; entity-scoped, not account deltas
	NoncesBySigner map[string]uint64            // signer_id hex -> highest committed nonce, replay protection across frames (spec testable property 11)
	AccountsByCounterparty []types.EntityID      // committed registry of open bilateral accounts; informational, not consensus-critical (excluded from stateFingerprint)
}

// Clone returns a deep copy of the state so speculative execution never
// mutates the committed cell.
func (s EntityState) Clone() EntityState {
	c := s
	if s.Balances != nil {
		c.Balances = make(map[string]map[string]uint64, len(s.Balances))
		for k, v := range s.Balances {
			inner := make(map[string]uint64, len(v))
			for ik, iv := range v {
				inner[ik] = iv
			}
			c.Balances[k] = inner
		}
	}
	if s.NoncesBySigner != nil {
		c.NoncesBySigner = make(map[string]uint64, len(s.NoncesBySigner))
		for k, v := range s.NoncesBySigner {
			c.NoncesBySigner[k] = v
		}
	}
	c.AccountsByCounterparty = append([]types.EntityID(nil), s.AccountsByCounterparty...)
	return c
}

func sortedNonceKeys(nonces map[string]uint64) []string {
	keys := make([]string, 0, len(nonces))
	for k := range nonces {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SortedBalanceKeys returns the outer balance map's keys in canonical order,
// satisfying the hard determinism contract (spec §5) for any iteration that
// feeds hashing or serialization.
func (s EntityState) SortedBalanceKeys() []string {
	keys := make([]string, 0, len(s.Balances))
	for k := range s.Balances {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedShareKeys(shares map[string]uint64) []string {
	keys := make([]string, 0, len(shares))
	for k := range shares {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EncodeState renders s as a canonical RLP item: the full replica_entry
// payload persistence snapshots embed (spec §4.9), sufficient to
// reconstruct the committed cell exactly on load.
func EncodeState(s EntityState) []byte {
	shareItems := codec.List{}
	for _, k := range sortedShareKeys(s.Config.Shares) {
		shareItems = append(shareItems, codec.List{
			codec.Bytes([]byte(k)),
			codec.Bytes(beMinimal(s.Config.Shares[k])),
		})
	}

	balItems := codec.List{}
	for _, k := range s.SortedBalanceKeys() {
		inner := s.Balances[k]
		innerKeys := make([]string, 0, len(inner))
		for ik := range inner {
			innerKeys = append(innerKeys, ik)
		}
		sort.Strings(innerKeys)
		innerItems := codec.List{}
		for _, ik := range innerKeys {
			innerItems = append(innerItems, codec.List{
				codec.Bytes([]byte(ik)),
				codec.Bytes(beMinimal(inner[ik])),
			})
		}
		balItems = append(balItems, codec.List{codec.Bytes([]byte(k)), innerItems})
	}

	nonceItems := codec.List{}
	for _, k := range sortedNonceKeys(s.NoncesBySigner) {
		nonceItems = append(nonceItems, codec.List{
			codec.Bytes([]byte(k)),
			codec.Bytes(beMinimal(s.NoncesBySigner[k])),
		})
	}

	acctItems := codec.List{}
	for _, id := range s.AccountsByCounterparty {
		acctItems = append(acctItems, codec.Bytes(id))
	}

	payload := codec.List{
		codec.Bytes(beMinimal(s.Height)),
		codec.Bytes(beMinimal(s.Config.Threshold)),
		codec.Bytes(s.Config.ProposerID),
		shareItems,
		balItems,
		nonceItems,
		acctItems,
	}
	return codec.Encode(payload)
}

// DecodeState is the inverse of EncodeState, used when a driver reloads a
// snapshot off disk (spec §4.9's load procedure).
func DecodeState(b []byte) (EntityState, error) {
	item, err := codec.Decode(b)
	if err != nil {
		return EntityState{}, err
	}
	top, ok := item.(codec.List)
	if !ok || len(top) != 7 {
		return EntityState{}, newDecodeErr("entity state: expected 7-item list")
	}

	height, err := beUint(top[0])
	if err != nil {
		return EntityState{}, err
	}
	threshold, err := beUint(top[1])
	if err != nil {
		return EntityState{}, err
	}
	proposerB, ok := top[2].(codec.Bytes)
	if !ok {
		return EntityState{}, newDecodeErr("entity state: malformed proposer id")
	}
	proposerID := types.SignerID(append([]byte(nil), proposerB...))

	shareList, ok := top[3].(codec.List)
	if !ok {
		return EntityState{}, newDecodeErr("entity state: shares not a list")
	}
	shares := make(map[string]uint64, len(shareList))
	for _, it := range shareList {
		pair, ok := it.(codec.List)
		if !ok || len(pair) != 2 {
			return EntityState{}, newDecodeErr("entity state: malformed share entry")
		}
		kb, ok := pair[0].(codec.Bytes)
		if !ok {
			return EntityState{}, newDecodeErr("entity state: malformed share key")
		}
		v, err := beUint(pair[1])
		if err != nil {
			return EntityState{}, err
		}
		shares[string(kb)] = v
	}

	balList, ok := top[4].(codec.List)
	if !ok {
		return EntityState{}, newDecodeErr("entity state: balances not a list")
	}
	balances := make(map[string]map[string]uint64, len(balList))
	for _, it := range balList {
		pair, ok := it.(codec.List)
		if !ok || len(pair) != 2 {
			return EntityState{}, newDecodeErr("entity state: malformed balance entry")
		}
		kb, ok := pair[0].(codec.Bytes)
		if !ok {
			return EntityState{}, newDecodeErr("entity state: malformed balance key")
		}
		innerList, ok := pair[1].(codec.List)
		if !ok {
			return EntityState{}, newDecodeErr("entity state: malformed inner balance list")
		}
		inner := make(map[string]uint64, len(innerList))
		for _, iit := range innerList {
			ipair, ok := iit.(codec.List)
			if !ok || len(ipair) != 2 {
				return EntityState{}, newDecodeErr("entity state: malformed inner balance entry")
			}
			ikb, ok := ipair[0].(codec.Bytes)
			if !ok {
				return EntityState{}, newDecodeErr("entity state: malformed inner balance key")
			}
			iv, err := beUint(ipair[1])
			if err != nil {
				return EntityState{}, err
			}
			inner[string(ikb)] = iv
		}
		balances[string(kb)] = inner
	}

	nonceList, ok := top[5].(codec.List)
	if !ok {
		return EntityState{}, newDecodeErr("entity state: nonces not a list")
	}
	nonces := make(map[string]uint64, len(nonceList))
	for _, it := range nonceList {
		pair, ok := it.(codec.List)
		if !ok || len(pair) != 2 {
			return EntityState{}, newDecodeErr("entity state: malformed nonce entry")
		}
		kb, ok := pair[0].(codec.Bytes)
		if !ok {
			return EntityState{}, newDecodeErr("entity state: malformed nonce key")
		}
		v, err := beUint(pair[1])
		if err != nil {
			return EntityState{}, err
		}
		nonces[string(kb)] = v
	}

	acctList, ok := top[6].(codec.List)
	if !ok {
		return EntityState{}, newDecodeErr("entity state: accounts not a list")
	}
	accounts := make([]types.EntityID, 0, len(acctList))
	for _, it := range acctList {
		ab, ok := it.(codec.Bytes)
		if !ok {
			return EntityState{}, newDecodeErr("entity state: malformed account entry")
		}
		accounts = append(accounts, types.EntityID(append([]byte(nil), ab...)))
	}

	return EntityState{
		Height:                 height,
		Config:                 ConsensusConfig{Shares: shares, Threshold: threshold, ProposerID: proposerID},
		Balances:               balances,
		NoncesBySigner:         nonces,
		AccountsByCounterparty: accounts,
	}, nil
}

func beUint(item codec.Item) (uint64, error) {
	b, ok := item.(codec.Bytes)
	if !ok {
		return 0, newDecodeErr("entity state: expected byte string integer")
	}
	var x uint64
	for _, c := range b {
		x = x<<8 | uint64(c)
	}
	return x, nil
}

func newDecodeErr(msg string) error { return decodeError(msg) }

type decodeError string

func (e decodeError) Error() string { return string(e) }
