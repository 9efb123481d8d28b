package entity

import (
	"sort"

	"github.com/adimov-eth/xln-sub002/codec"
	"github.com/adimov-eth/xln-sub002/merkle"
	"github.com/adimov-eth/xln-sub002/xcrypto"
)

// Frame is a proposed or committed entity frame: height, the folded txs and
// the resulting state, bound together by frame_hash.
type Frame struct {
	Height    uint64
	Txs       []Tx
	NewState  EntityState
	FrameHash xcrypto.Hash
}

// ComputeFrameHash derives frame_hash = keccak256(rlp(height, txs_root,
// state_fingerprint)). state_fingerprint stands in for a full state
// encoding: the state height, the balances table flattened in sorted-key
// order and the per-signer nonce table. Other EntityState fields (the
// consensus config, the account registry) do not enter frame_hash, so two
// frames whose states differ only there share a frame_hash.
func ComputeFrameHash(height uint64, txs []Tx, state EntityState) xcrypto.Hash {
	root := txsRoot(txs)
	fp := stateFingerprint(state)
	payload := codec.List{
		codec.Bytes(beMinimal(height)),
		codec.Bytes(root.Bytes()),
		codec.Bytes(fp.Bytes()),
	}
	return xcrypto.Keccak256(codec.Encode(payload))
}

func txsRoot(txs []Tx) xcrypto.Hash {
	if len(txs) == 0 {
		return xcrypto.Keccak256(codec.Encode(codec.List{}))
	}
	leaves := make([][]byte, len(txs))
	for i, tx := range txs {
		leaves[i] = EncodeTx(tx)
	}
	return merkle.Root(leaves)
}

func stateFingerprint(s EntityState) xcrypto.Hash {
	items := codec.List{codec.Bytes(beMinimal(s.Height))}
	for _, k := range s.SortedBalanceKeys() {
		inner := s.Balances[k]
		innerKeys := make([]string, 0, len(inner))
		for ik := range inner {
			innerKeys = append(innerKeys, ik)
		}
		sort.Strings(innerKeys)
		for _, ik := range innerKeys {
			items = append(items, codec.List{
				codec.Bytes([]byte(k)),
				codec.Bytes([]byte(ik)),
				codec.Bytes(beMinimal(inner[ik])),
			})
		}
	}
	for _, k := range sortedNonceKeys(s.NoncesBySigner) {
		items = append(items, codec.List{
			codec.Bytes([]byte(k)),
			codec.Bytes(beMinimal(s.NoncesBySigner[k])),
		})
	}
	// AccountsByCounterparty and Config (shares, threshold, ProposerID) are
	// not encoded here: they are excluded so opening
	// a bilateral account never forces a frame hash mismatch across
	// replicas that haven't yet observed the same account traffic.
	return xcrypto.Keccak256(codec.Encode(items))
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
