// Package account implements the bilateral 2-of-2 account (channel) state
// machine: the RCPAN-bounded delta table, frame proposal/ack lifecycle,
// replay protection and the dispute-time subcontract engine (spec §4.4).
// Grounded on the teacher's core/state_channel.go (open/update/close/
// challenge/finalize lifecycle, ECDSA-signed off-chain state, escrow
// bookkeeping) generalized from a single aggregate balance per channel to a
// per-token delta table with credit lines on both sides.
package account

import (
	"math/big"

	"github.com/adimov-eth/xln-sub002/codec"
	"github.com/adimov-eth/xln-sub002/merkle"
	"github.com/adimov-eth/xln-sub002/types"
	"github.com/adimov-eth/xln-sub002/xcrypto"
)

// Signer abstracts the signing/verification dependency the machine needs,
// mirroring the teacher's networkAdapter/securityAdapter injection pattern
// (core/consensus.go) so tests can supply deterministic keys without the
// machine itself touching key material.
type Signer interface {
	Sign(msgHash xcrypto.Hash) (xcrypto.Signature, error)
	Verify(pub *xcrypto.PublicKey, msgHash xcrypto.Hash, sig xcrypto.Signature) bool
}

// InputKind distinguishes the two account_input shapes spec §4.4 defines.
type InputKind int

const (
	_ InputKind = iota
	InputPropose
	InputAck
)

// Input is a single account_input exchanged between the two parties of a
// bilateral account.
type Input struct {
	Kind     InputKind
	Frame    Frame
	Sig      xcrypto.Signature
	PrevSig  xcrypto.Signature // InputPropose only: counterparty's signature over m.LastFrame.StateHash, authenticating the chain tip this proposal builds on
	Counter  uint64            // strictly-incrementing sequence number (replay protection)
}

// Machine holds one side's view of a single bilateral account: the last
// committed frame and a mempool of not-yet-framed txs.
type Machine struct {
	Key            types.AccountKey
	Self           types.EntityID
	LastFrame      Frame
	Mempool        []Tx
	RecvCounter    uint64 // highest counter accepted from the counterparty
	SendCounter    uint64 // counter attached to our own next proposal
	Rollbacks      uint64 // count of rejected replayed/stale inputs, for diagnostics
	pendingPropose *Frame // our outstanding proposal awaiting ack, nil if none
}

// NewMachine creates a fresh account at genesis height 0.
func NewMachine(key types.AccountKey, self types.EntityID) *Machine {
	return &Machine{
		Key:  key,
		Self: self,
		LastFrame: Frame{
			Height:        0,
			PrevFrameHash: GenesisPrevHash(),
			DeltasPost:    nil,
		},
	}
}

// QueueTx appends tx to the mempool for inclusion in the next proposed frame.
func (m *Machine) QueueTx(tx Tx) {
	m.Mempool = append(m.Mempool, tx)
}

// ProposeFrame builds a new frame from the current mempool, applying its txs
// over the last committed delta table and validating the RCPAN invariant
// across every token. It does not commit the frame: the proposer holds it as
// pending until the counterparty's ack input arrives (spec §4.4, Case A/B).
func (m *Machine) ProposeFrame(now uint64) (Frame, error) {
	working := ApplyAll(m.LastFrame.DeltasPost, m.Mempool, m.Key)
	if err := CheckAllRCPAN(working); err != nil {
		return Frame{}, err
	}

	txsRoot := txsRoot(m.Mempool)
	height := m.LastFrame.Height + 1
	stateHash := ComputeStateHash(height, frameHash(m.LastFrame), txsRoot, working)

	frame := Frame{
		Height:        height,
		Timestamp:     now,
		PrevFrameHash: frameHash(m.LastFrame),
		Txs:           append([]Tx(nil), m.Mempool...),
		TokenIDs:      TokenIDs(working),
		DeltasPost:    working,
		StateHash:     stateHash,
	}
	m.pendingPropose = &frame
	m.SendCounter++
	return frame, nil
}

// HandleInput processes an account_input received from the counterparty.
// Three cases are handled (spec §4.4):
//
//   - Case A: the counterparty proposes a frame. Its prev_signature must
//     verify against our last committed frame's state hash before anything
//     else is checked; we then re-execute the frame over our own last
//     committed state and either ack (if it reproduces their claimed
//     deltas_post) or reject.
//   - Case B: the counterparty acks our pending proposal. We commit it.
//   - Tie-break: both sides proposed simultaneously at the same height. The
//     left party's proposal wins; the right party discards its own pending
//     proposal and processes the left's as Case A.
//
// Inputs whose Counter does not strictly exceed RecvCounter are replays: they
// increment Rollbacks and are rejected with a Replay error without mutating
// any other state.
func (m *Machine) HandleInput(in Input, counterpartyPub *xcrypto.PublicKey, verifier Signer) (committed bool, err error) {
	if in.Counter <= m.RecvCounter {
		m.Rollbacks++
		return false, &Error{Kind: Replay, Counter: in.Counter}
	}

	switch in.Kind {
	case InputAck:
		if m.pendingPropose == nil {
			return false, &Error{Kind: ChainBroken, Detail: "ack received with no pending proposal"}
		}
		if !verifier.Verify(counterpartyPub, m.pendingPropose.StateHash, in.Sig) {
			return false, &Error{Kind: ChainBroken, Detail: "invalid ack signature"}
		}
		m.commit(*m.pendingPropose)
		m.pendingPropose = nil
		m.RecvCounter = in.Counter
		return true, nil

	case InputPropose:
		if !verifier.Verify(counterpartyPub, m.LastFrame.StateHash, in.PrevSig) {
			return false, &Error{Kind: ChainBroken, Detail: "invalid prev_signature over last committed frame"}
		}

		if m.pendingPropose != nil && in.Frame.Height == m.pendingPropose.Height {
			// Simultaneous proposal at the same height: left wins. If we are
			// the right party, discard our pending proposal and fall through
			// to validating theirs as the winner.
			if m.Key.IsLeft(m.Self) {
				return false, &Error{Kind: ChainBroken, Detail: "counterparty proposal lost tie-break to ours"}
			}
			m.pendingPropose = nil
		}

		if in.Frame.PrevFrameHash != frameHash(m.LastFrame) {
			return false, &Error{Kind: ChainBroken, Detail: "prev_frame_hash does not chain from last committed frame"}
		}

		working := ApplyAll(m.LastFrame.DeltasPost, in.Frame.Txs, m.Key)
		if err := CheckAllRCPAN(working); err != nil {
			return false, err
		}
		txsRoot := txsRoot(in.Frame.Txs)
		wantHash := ComputeStateHash(in.Frame.Height, in.Frame.PrevFrameHash, txsRoot, working)
		if wantHash != in.Frame.StateHash {
			return false, &Error{Kind: StateDivergence, Detail: "recomputed state_hash does not match proposal"}
		}
		if !EqualTables(working, in.Frame.DeltasPost) {
			return false, &Error{Kind: StateDivergence, Detail: "recomputed deltas_post does not match proposal"}
		}

		m.commit(in.Frame)
		m.RecvCounter = in.Counter
		return true, nil
	}

	return false, &Error{Kind: ChainBroken, Detail: "unknown input kind"}
}

// NextCounter returns a counter value guaranteed to exceed every counter
// this machine has sent or received so far, suitable for tagging an
// outgoing ack that does not originate from ProposeFrame (and therefore
// never bumps SendCounter itself).
func (m *Machine) NextCounter() uint64 {
	n := m.SendCounter
	if m.RecvCounter > n {
		n = m.RecvCounter
	}
	return n + 1
}

func (m *Machine) commit(f Frame) {
	m.LastFrame = f
	m.Mempool = nil
}

// frameHash returns the committed frame's own hash for chaining purposes.
// Height 0 (genesis, no txs committed yet) chains from GenesisPrevHash
// directly rather than hashing an empty frame.
func frameHash(f Frame) xcrypto.Hash {
	if f.Height == 0 && len(f.Txs) == 0 {
		return f.PrevFrameHash
	}
	return f.StateHash
}

func txsRoot(txs []Tx) xcrypto.Hash {
	if len(txs) == 0 {
		return xcrypto.Keccak256(codec.Encode(codec.List{}))
	}
	leaves := make([][]byte, len(txs))
	for i, tx := range txs {
		leaves[i] = encodeTx(tx)
	}
	return merkle.Root(leaves)
}

func encodeTx(tx Tx) []byte {
	amt := tx.Amount
	if amt == nil {
		amt = big.NewInt(0)
	}
	item := codec.List{
		codec.Bytes([]byte{byte(tx.Kind)}),
		codec.Bytes(tx.TokenID),
		codec.Bytes(tx.From),
		codec.Bytes(nonNegBigBytes(amt)),
	}
	return codec.Encode(item)
}
