package account

import (
	"math/big"

	"github.com/adimov-eth/xln-sub002/types"
	"github.com/adimov-eth/xln-sub002/xcrypto"
)

// SubcontractKind enumerates the dispute-time subcontracts attachable to a
// Delta (spec §4.4).
type SubcontractKind int

const (
	_ SubcontractKind = iota
	SubcontractHTLC
	SubcontractSwap
)

// SubcontractState is the opaque, attachable dispute-time condition on a
// single token's Delta. Only one is active per token at a time; it resolves
// (applies or expires) before ordinary payments can touch that token again.
type SubcontractState struct {
	Kind SubcontractKind
	HTLC *HTLCState
	Swap *SwapState
}

// HTLCState locks an amount pending reveal of a preimage hashing to Hash, or
// refunds it to the sender once Expiry (a runtime tick height) is reached.
type HTLCState struct {
	Hash     xcrypto.Hash
	Amount   *big.Int
	Expiry   uint64
	SenderIs types.EntityID // who gets the refund on expiry
}

// Resolve attempts to settle the HTLC against a revealed preimage, or
// against expiry if now >= h.Expiry and no preimage is supplied. It returns
// the signed adjustment to apply to the Delta's offdelta from the
// perspective of the account's left party (positive = moves toward right).
func (h *HTLCState) Resolve(preimage []byte, now uint64, leftIsSender bool) (*big.Int, bool) {
	if len(preimage) > 0 {
		if xcrypto.Keccak256(preimage) != h.Hash {
			return nil, false
		}
		adj := new(big.Int).Set(h.Amount)
		if leftIsSender {
			return adj, true // sender was left, locked amount now credited rightward
		}
		return new(big.Int).Neg(adj), true
	}
	if now >= h.Expiry {
		return big.NewInt(0), true // refund: no net delta movement, lock simply releases
	}
	return nil, false
}

// SwapState exchanges add_amount of one token for sub_amount of another,
// gated on an externally adjudicated condition. The condition ("price
// condition" in spec §4.4) is not defined by the protocol itself; this
// implementation accepts it as a boolean supplied by whichever dispute
// resolver (on-chain oracle, counterparty attestation) the caller wires in,
// rather than fabricating a price feed.
type SwapState struct {
	AddTokenID types.TokenID
	AddAmount  *big.Int
	SubTokenID types.TokenID
	SubAmount  *big.Int
}

// Resolve returns the signed adjustments to apply to the add and sub token
// deltas if satisfied is true. When false, the swap expires untouched.
func (s *SwapState) Resolve(satisfied bool) (addAdj, subAdj *big.Int, applied bool) {
	if !satisfied {
		return big.NewInt(0), big.NewInt(0), false
	}
	return new(big.Int).Set(s.AddAmount), new(big.Int).Neg(s.SubAmount), true
}

// FinalizeHTLC resolves the HTLC attached to tokenID's Delta and threads its
// adjustment into a cloned working table, re-validating RCPAN across every
// token before committing (spec §4.4 closing paragraph: "the resulting delta
// vector must still satisfy RCPAN ... otherwise the entire finalization is
// rejected"). On any rejection the original table is returned unmodified —
// finalization never partially applies.
func FinalizeHTLC(table []Delta, tokenID types.TokenID, preimage []byte, now uint64, key types.AccountKey) ([]Delta, error) {
	d := FindToken(table, tokenID)
	if d == nil || d.Subcontract == nil || d.Subcontract.Kind != SubcontractHTLC || d.Subcontract.HTLC == nil {
		return table, &Error{Kind: ChainBroken, TokenID: tokenID, Detail: "no active HTLC on token"}
	}
	adj, ok := d.Subcontract.HTLC.Resolve(preimage, now, key.IsLeft(d.Subcontract.HTLC.SenderIs))
	if !ok {
		return table, &Error{Kind: ChainBroken, TokenID: tokenID, Detail: "HTLC not yet resolvable: wrong preimage and expiry not reached"}
	}

	working := CloneTable(table)
	wd := FindToken(working, tokenID)
	wd.OffDelta.Add(wd.OffDelta, adj)
	wd.Subcontract = nil

	if err := CheckAllRCPAN(working); err != nil {
		return table, err
	}
	return working, nil
}

// FinalizeSwap resolves the swap attached to addTokenID's Delta, threading
// both leg adjustments into a cloned working table and re-validating RCPAN
// across every token before committing. An unsatisfied swap still clears the
// subcontract slot (the lock expires untouched) but moves no funds.
func FinalizeSwap(table []Delta, addTokenID, subTokenID types.TokenID, satisfied bool) ([]Delta, error) {
	ad := FindToken(table, addTokenID)
	if ad == nil || ad.Subcontract == nil || ad.Subcontract.Kind != SubcontractSwap || ad.Subcontract.Swap == nil {
		return table, &Error{Kind: ChainBroken, TokenID: addTokenID, Detail: "no active swap on token"}
	}
	addAdj, subAdj, applied := ad.Subcontract.Swap.Resolve(satisfied)

	working := CloneTable(table)
	if FindToken(working, subTokenID) == nil {
		working = append(working, NewDelta(subTokenID, nil, nil, nil))
	}
	wad := FindToken(working, addTokenID)
	wad.Subcontract = nil
	if applied {
		wad.OffDelta.Add(wad.OffDelta, addAdj)
		wsd := FindToken(working, subTokenID)
		wsd.OffDelta.Add(wsd.OffDelta, subAdj)
	}

	if err := CheckAllRCPAN(working); err != nil {
		return table, err
	}
	return working, nil
}
