package entity

import (
	"sort"

	"github.com/adimov-eth/xln-sub002/codec"
	"github.com/adimov-eth/xln-sub002/types"
	"github.com/adimov-eth/xln-sub002/xcrypto"
)

// EncodeInput and DecodeInput give EntityInput a full canonical wire form,
// distinct from ComputeFrameHash's fingerprint encoding: this one must
// round-trip every field exactly, since the persistence WAL replays
// recorded inputs verbatim to reproduce a run (spec §4.9).

func sigItem(sig xcrypto.Signature) codec.List {
	return codec.List{codec.Bytes(sig.R), codec.Bytes(sig.S), codec.Bytes([]byte{sig.V})}
}

func decodeSigItem(item codec.Item) (xcrypto.Signature, error) {
	list, ok := item.(codec.List)
	if !ok || len(list) != 3 {
		return xcrypto.Signature{}, newDecodeErr("entity signature: expected 3-item list")
	}
	r, ok := list[0].(codec.Bytes)
	if !ok {
		return xcrypto.Signature{}, newDecodeErr("entity signature: malformed r")
	}
	s, ok := list[1].(codec.Bytes)
	if !ok {
		return xcrypto.Signature{}, newDecodeErr("entity signature: malformed s")
	}
	vb, ok := list[2].(codec.Bytes)
	if !ok || len(vb) > 1 {
		return xcrypto.Signature{}, newDecodeErr("entity signature: malformed v")
	}
	var v byte
	if len(vb) == 1 {
		v = vb[0]
	}
	return xcrypto.Signature{R: append([]byte(nil), r...), S: append([]byte(nil), s...), V: v}, nil
}

func frameItem(f Frame) codec.List {
	txs := make(codec.List, 0, len(f.Txs))
	for _, tx := range f.Txs {
		txs = append(txs, txItem(tx))
	}
	return codec.List{
		codec.Bytes(beMinimal(f.Height)),
		txs,
		codec.Bytes(EncodeState(f.NewState)),
		codec.Bytes(f.FrameHash.Bytes()),
	}
}

func decodeFrameItem(item codec.Item) (Frame, error) {
	list, ok := item.(codec.List)
	if !ok || len(list) != 4 {
		return Frame{}, newDecodeErr("entity frame: expected 4-item list")
	}
	height, err := beUint(list[0])
	if err != nil {
		return Frame{}, err
	}
	txList, ok := list[1].(codec.List)
	if !ok {
		return Frame{}, newDecodeErr("entity frame: malformed tx list")
	}
	txs := make([]Tx, 0, len(txList))
	for _, it := range txList {
		tx, err := decodeTxItem(it)
		if err != nil {
			return Frame{}, err
		}
		txs = append(txs, tx)
	}
	stateB, ok := list[2].(codec.Bytes)
	if !ok {
		return Frame{}, newDecodeErr("entity frame: malformed state blob")
	}
	state, err := DecodeState(stateB)
	if err != nil {
		return Frame{}, err
	}
	hashB, ok := list[3].(codec.Bytes)
	if !ok || len(hashB) != 32 {
		return Frame{}, newDecodeErr("entity frame: malformed frame hash")
	}
	var h xcrypto.Hash
	copy(h[:], hashB)
	return Frame{Height: height, Txs: txs, NewState: state, FrameHash: h}, nil
}

// EncodeInput renders an EntityInput as a canonical RLP item: a tag byte
// for Kind followed by whichever sub-message that kind carries. Unused
// sub-messages are encoded as empty placeholders rather than omitted, so
// the item shape is fixed-arity and trivially decodable.
func EncodeInput(in Input) []byte {
	precommit := codec.List{
		codec.Bytes(in.Precommit.SignerID),
		sigItem(in.Precommit.Sig),
	}

	sigKeys := make([]string, 0, len(in.Signatures))
	for k := range in.Signatures {
		sigKeys = append(sigKeys, k)
	}
	sort.Strings(sigKeys)
	sigItems := codec.List{}
	for _, k := range sigKeys {
		sigItems = append(sigItems, codec.List{codec.Bytes([]byte(k)), sigItem(in.Signatures[k])})
	}

	payload := codec.List{
		codec.Bytes([]byte{byte(in.Kind)}),
		txItem(in.Tx),
		frameItem(in.Frame),
		precommit,
		sigItems,
		codec.Bytes(in.To),
	}
	return codec.Encode(payload)
}

// DecodeInput is the inverse of EncodeInput.
func DecodeInput(b []byte) (Input, error) {
	item, err := codec.Decode(b)
	if err != nil {
		return Input{}, err
	}
	list, ok := item.(codec.List)
	if !ok || len(list) != 6 {
		return Input{}, newDecodeErr("entity input: expected 6-item list")
	}

	kindB, ok := list[0].(codec.Bytes)
	if !ok || len(kindB) > 1 {
		return Input{}, newDecodeErr("entity input: malformed kind")
	}
	var kind InputKind
	if len(kindB) == 1 {
		kind = InputKind(kindB[0])
	}

	tx, err := decodeTxItem(list[1])
	if err != nil {
		return Input{}, err
	}
	frame, err := decodeFrameItem(list[2])
	if err != nil {
		return Input{}, err
	}

	pcList, ok := list[3].(codec.List)
	if !ok || len(pcList) != 2 {
		return Input{}, newDecodeErr("entity input: malformed precommit")
	}
	signerID, ok := pcList[0].(codec.Bytes)
	if !ok {
		return Input{}, newDecodeErr("entity input: malformed precommit signer")
	}
	pcSig, err := decodeSigItem(pcList[1])
	if err != nil {
		return Input{}, err
	}

	sigList, ok := list[4].(codec.List)
	if !ok {
		return Input{}, newDecodeErr("entity input: malformed signatures list")
	}
	var sigs map[string]xcrypto.Signature
	if len(sigList) > 0 {
		sigs = make(map[string]xcrypto.Signature, len(sigList))
		for _, it := range sigList {
			pair, ok := it.(codec.List)
			if !ok || len(pair) != 2 {
				return Input{}, newDecodeErr("entity input: malformed signature entry")
			}
			kb, ok := pair[0].(codec.Bytes)
			if !ok {
				return Input{}, newDecodeErr("entity input: malformed signature key")
			}
			sig, err := decodeSigItem(pair[1])
			if err != nil {
				return Input{}, err
			}
			sigs[string(kb)] = sig
		}
	}

	toB, ok := list[5].(codec.Bytes)
	if !ok {
		return Input{}, newDecodeErr("entity input: malformed to")
	}
	var to types.SignerID
	if len(toB) > 0 {
		to = types.SignerID(append([]byte(nil), toB...))
	}

	return Input{
		Kind:       kind,
		Tx:         tx,
		Frame:      frame,
		Precommit:  Precommit{SignerID: types.SignerID(append([]byte(nil), signerID...)), Sig: pcSig},
		Signatures: sigs,
		To:         to,
	}, nil
}
