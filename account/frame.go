package account

import (
	"math/big"

	"github.com/adimov-eth/xln-sub002/codec"
	"github.com/adimov-eth/xln-sub002/types"
	"github.com/adimov-eth/xln-sub002/xcrypto"
)

// GenesisPreimage is the fixed preimage hashed to produce the prev_frame_hash
// of height-0 account frames (spec §6.5, GENESIS_PREV_HASH). Spec §4.3's
// narrative description of genesis ("prev_frame_hash = keccak256(\"genesis\")")
// names the same constant informally; §6.5's Constants table is the binding
// value since it is the section the wire format is defined against.
const GenesisPreimage = "xln-genesis"

// GenesisPrevHash returns the canonical genesis prev_frame_hash.
func GenesisPrevHash() xcrypto.Hash {
	return xcrypto.Keccak256([]byte(GenesisPreimage))
}

// Frame is a committed account frame: the bilateral analogue of a block
// (spec §4.3).
type Frame struct {
	Height        uint64
	Timestamp     uint64
	PrevFrameHash xcrypto.Hash
	Txs           []Tx
	TokenIDs      []types.TokenID
	DeltasPost    []Delta
	StateHash     xcrypto.Hash
}

// deltasItem renders a Delta table as the canonical RLP item fed into
// StateHash: each Delta as a list of token id, collateral, on-delta,
// off-delta, credit-left and credit-right, tokens in table order; allowances
// and subcontract state are not part of the encoding. Signed fields (on/off-delta) are encoded as a sign byte
// followed by the minimal-magnitude bytes, since RLP itself only knows
// non-negative byte strings.
func deltasItem(table []Delta) codec.Item {
	items := make([]codec.Item, 0, len(table))
	for _, d := range table {
		items = append(items, codec.List{
			codec.Bytes(d.TokenID),
			codec.Bytes(nonNegBigBytes(d.Collateral)),
			codec.Bytes(signedBigBytes(d.OnDelta)),
			codec.Bytes(signedBigBytes(d.OffDelta)),
			codec.Bytes(nonNegBigBytes(d.CreditLeft)),
			codec.Bytes(nonNegBigBytes(d.CreditRight)),
		})
	}
	return codec.List(items)
}

// nonNegBigBytes returns the minimal big-endian magnitude of a non-negative
// *big.Int — already in RLP's minimal-integer form, since big.Int.Bytes()
// never carries a leading zero and renders zero as the empty slice.
func nonNegBigBytes(x *big.Int) []byte {
	if x == nil {
		return nil
	}
	return x.Bytes()
}

// signedBigBytes encodes a possibly-negative integer as a leading sign byte
// (0x00 positive-or-zero, 0x01 negative) followed by the big-endian magnitude.
func signedBigBytes(x *big.Int) []byte {
	if x == nil {
		x = big.NewInt(0)
	}
	sign := byte(0x00)
	mag := x
	if x.Sign() < 0 {
		sign = 0x01
		mag = new(big.Int).Neg(x)
	}
	return append([]byte{sign}, mag.Bytes()...)
}

// ComputeStateHash derives the frame's state_hash as
// keccak256(rlp(height, prev_frame_hash, txs_root, deltas_post)) per spec §4.3.
func ComputeStateHash(height uint64, prevFrameHash xcrypto.Hash, txsRoot xcrypto.Hash, deltasPost []Delta) xcrypto.Hash {
	payload := codec.List{
		codec.Bytes(nonNegBigBytes(new(big.Int).SetUint64(height))),
		codec.Bytes(prevFrameHash.Bytes()),
		codec.Bytes(txsRoot.Bytes()),
		deltasItem(deltasPost),
	}
	enc := codec.Encode(payload)
	return xcrypto.Keccak256(enc)
}
