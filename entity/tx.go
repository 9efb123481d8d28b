package entity

import (
	"sort"

	"github.com/adimov-eth/xln-sub002/codec"
	"github.com/adimov-eth/xln-sub002/types"
)

// TxKind enumerates the entity_tx kinds the mempool can carry.
type TxKind int

const (
	_ TxKind = iota
	TxTransfer
	TxJurisdictionEvent
	TxForward
)

// Tx is a single entity-layer transaction, ordered canonically before
// folding into a proposed frame.
type Tx struct {
	Sender        types.SignerID
	Nonce         uint64
	Kind          TxKind
	Amount        uint64
	TokenID       types.TokenID
	InsertionSeq  uint64 // monotonically assigned on mempool insertion, breaks remaining ties
}

// CanonicalOrder sorts txs by (nonce asc, sender bytes asc, kind asc,
// insertion_index asc) and drops every duplicate (sender, nonce) pair after
// the first, per spec §4.5.
func CanonicalOrder(txs []Tx) []Tx {
	ordered := append([]Tx(nil), txs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Nonce != b.Nonce {
			return a.Nonce < b.Nonce
		}
		if c := types.Compare(a.Sender, b.Sender); c != 0 {
			return c < 0
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.InsertionSeq < b.InsertionSeq
	})

	seen := make(map[string]bool, len(ordered))
	out := make([]Tx, 0, len(ordered))
	for _, tx := range ordered {
		key := tx.Sender.String() + ":" + uintKey(tx.Nonce)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tx)
	}
	return out
}

// DropReplayed filters out every tx whose (sender, nonce) is already
// recorded in nonces — a nonce committed in an earlier frame can never be
// re-applied by resubmitting it through InputForwardTx (spec testable
// property 11). ordered must already be in CanonicalOrder.
func DropReplayed(ordered []Tx, nonces map[string]uint64) []Tx {
	out := make([]Tx, 0, len(ordered))
	for _, tx := range ordered {
		if used, ok := nonces[tx.Sender.String()]; ok && tx.Nonce <= used {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// FoldNonces returns a new map recording, per sender, the highest nonce seen
// across ordered merged with prior — the persisted replay-protection table
// a committed frame carries forward in EntityState.NoncesBySigner.
func FoldNonces(ordered []Tx, prior map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(prior)+len(ordered))
	for k, v := range prior {
		out[k] = v
	}
	for _, tx := range ordered {
		k := tx.Sender.String()
		if tx.Nonce > out[k] {
			out[k] = tx.Nonce
		}
	}
	return out
}

func uintKey(x uint64) string {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(x)
		x >>= 8
	}
	return string(buf)
}

// EncodeTx renders tx as a canonical RLP item for hashing into a frame.
func EncodeTx(tx Tx) []byte {
	return codec.Encode(txItem(tx))
}

// txItem is the structural RLP form shared by EncodeTx (hashing) and the
// snapshot/WAL codec (entity/codec.go), which nests it directly inside a
// larger list rather than re-decoding an opaque encoded blob.
func txItem(tx Tx) codec.List {
	return codec.List{
		codec.Bytes(tx.Sender),
		codec.Bytes(nonNeg(tx.Nonce)),
		codec.Bytes([]byte{byte(tx.Kind)}),
		codec.Bytes(nonNeg(tx.Amount)),
		codec.Bytes(tx.TokenID),
	}
}

// decodeTxItem is the inverse of txItem. InsertionSeq is not part of the
// wire form: it is a local mempool-ordering artifact, re-assigned by the
// replica on QueueTx rather than persisted.
func decodeTxItem(item codec.Item) (Tx, error) {
	list, ok := item.(codec.List)
	if !ok || len(list) != 5 {
		return Tx{}, newDecodeErr("entity tx: expected 5-item list")
	}
	sender, ok := list[0].(codec.Bytes)
	if !ok {
		return Tx{}, newDecodeErr("entity tx: malformed sender")
	}
	nonce, err := beUint(list[1])
	if err != nil {
		return Tx{}, err
	}
	kindB, ok := list[2].(codec.Bytes)
	if !ok || len(kindB) > 1 {
		return Tx{}, newDecodeErr("entity tx: malformed kind")
	}
	var kind TxKind
	if len(kindB) == 1 {
		kind = TxKind(kindB[0])
	}
	amount, err := beUint(list[3])
	if err != nil {
		return Tx{}, err
	}
	tokenID, ok := list[4].(codec.Bytes)
	if !ok {
		return Tx{}, newDecodeErr("entity tx: malformed token id")
	}
	return Tx{
		Sender:  types.SignerID(append([]byte(nil), sender...)),
		Nonce:   nonce,
		Kind:    kind,
		Amount:  amount,
		TokenID: types.TokenID(append([]byte(nil), tokenID...)),
	}, nil
}

func nonNeg(x uint64) []byte {
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
