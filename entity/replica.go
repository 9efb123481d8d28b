package entity

import (
	"encoding/hex"
	"sort"

	"github.com/adimov-eth/xln-sub002/account"
	"github.com/adimov-eth/xln-sub002/types"
	"github.com/adimov-eth/xln-sub002/xcrypto"
)

// Signer abstracts the signing/verification dependency a replica needs to
// produce and check precommit signatures, mirroring the teacher's
// securityAdapter injection (core/consensus.go).
type Signer interface {
	Sign(msgHash xcrypto.Hash) (xcrypto.Signature, error)
	Verify(pub *xcrypto.PublicKey, msgHash xcrypto.Hash, sig xcrypto.Signature) bool
}

// InputKind distinguishes the EntityInput shapes spec §4.5 defines.
type InputKind int

const (
	_ InputKind = iota
	InputForwardTx      // non-proposer forwarding a local tx to the proposer
	InputProposedFrame  // proposer broadcasting a new proposal to non-proposers
	InputPrecommit      // non-proposer returning a signed precommit to the proposer
	InputCommitNotice   // proposer broadcasting the finalized frame + signatures
)

// Input is a single EntityInput exchanged between replicas of one entity.
type Input struct {
	Kind       InputKind
	Tx         Tx                            // InputForwardTx
	Frame      Frame                         // InputProposedFrame / InputCommitNotice
	Precommit  Precommit                     // InputPrecommit
	Signatures map[string]xcrypto.Signature  // InputCommitNotice: signer_id hex -> sig
	To         types.SignerID                // routing metadata only: intended recipient signer within this entity, never part of frame_hash or any consensus check
}

// Precommit is a single validator's signature over a proposed frame's hash.
type Precommit struct {
	SignerID types.SignerID
	Sig      xcrypto.Signature
}

// proposal is the proposer-side in-flight state for a height not yet
// committed.
type proposal struct {
	frame      Frame
	signatures map[string]xcrypto.Signature
}

// Replica is one (entity_id, signer_id) slot of a BFT-replicated entity.
type Replica struct {
	EntityID    types.EntityID
	SignerID    types.SignerID
	IsProposer  bool
	State       EntityState
	Mempool     []Tx
	mempoolSeq  uint64

	Accounts map[string]*account.Machine // account_key string -> bilateral channel machine this replica owns (spec §4.5 Runtime -> Entity -> Account control flow)

	proposal     *proposal // proposer-only: in-flight proposal awaiting quorum
	lockedFrame  *Frame    // non-proposer-only: CometBFT lock at the current height
}

// NewReplica creates a replica at genesis height 0.
func NewReplica(entityID types.EntityID, signerID types.SignerID, isProposer bool, cfg ConsensusConfig) *Replica {
	return &Replica{
		EntityID:   entityID,
		SignerID:   signerID,
		IsProposer: isProposer,
		State:      EntityState{Height: 0, Config: cfg},
		Accounts:   make(map[string]*account.Machine),
	}
}

// OpenAccount returns this entity's bilateral account machine with
// counterparty, lazily creating one and recording it in the committed
// AccountsByCounterparty registry on first use.
func (r *Replica) OpenAccount(counterparty types.EntityID) *account.Machine {
	key := types.NewAccountKey(r.EntityID, counterparty)
	k := key.String()
	if m, ok := r.Accounts[k]; ok {
		return m
	}
	m := account.NewMachine(key, r.EntityID)
	r.Accounts[k] = m

	ids := append([]types.EntityID(nil), r.State.AccountsByCounterparty...)
	ids = append(ids, counterparty)
	newState := r.State.Clone()
	newState.AccountsByCounterparty = dedupSortedEntityIDs(ids)
	r.State = newState
	return m
}

// QueueAccountTx queues tx on the bilateral account with counterparty,
// opening it first if this is the first traffic between the two entities.
func (r *Replica) QueueAccountTx(counterparty types.EntityID, tx account.Tx) {
	r.OpenAccount(counterparty).QueueTx(tx)
}

// AccountProposal pairs an outgoing account_input with the counterparty
// entity it is addressed to.
type AccountProposal struct {
	Counterparty types.EntityID
	Input        account.Input
}

// ProposeAccountFrames advances every hosted account machine with a
// non-empty mempool one step, signing both the chain-tip prev_signature and
// the new proposal (spec §4.4's account_input wire format). Iteration order
// is the account key's sorted order, satisfying the hard determinism
// contract (spec §5).
func (r *Replica) ProposeAccountFrames(self account.Signer, now uint64) ([]AccountProposal, error) {
	keys := make([]string, 0, len(r.Accounts))
	for k := range r.Accounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []AccountProposal
	for _, k := range keys {
		m := r.Accounts[k]
		if len(m.Mempool) == 0 {
			continue
		}
		prevSig, err := self.Sign(m.LastFrame.StateHash)
		if err != nil {
			return out, err
		}
		frame, err := m.ProposeFrame(now)
		if err != nil {
			return out, err
		}
		sig, err := self.Sign(frame.StateHash)
		if err != nil {
			return out, err
		}
		out = append(out, AccountProposal{
			Counterparty: m.Key.Counterparty(r.EntityID),
			Input: account.Input{
				Kind:    account.InputPropose,
				Frame:   frame,
				Sig:     sig,
				PrevSig: prevSig,
				Counter: m.SendCounter,
			},
		})
	}
	return out, nil
}

func dedupSortedEntityIDs(ids []types.EntityID) []types.EntityID {
	sort.Slice(ids, func(i, j int) bool { return types.Compare(ids[i], ids[j]) < 0 })
	out := make([]types.EntityID, 0, len(ids))
	for i, id := range ids {
		if i > 0 && id.Equal(ids[i-1]) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// QueueTx appends tx to the mempool, stamping it with the next insertion
// sequence number so CanonicalOrder's final tie-break is deterministic.
func (r *Replica) QueueTx(tx Tx) Tx {
	tx.InsertionSeq = r.mempoolSeq
	r.mempoolSeq++
	r.Mempool = append(r.Mempool, tx)
	return tx
}

// ProposeFrame implements propose_entity_frame (spec §4.5): only valid when
// r.IsProposer, the mempool is non-empty, and no proposal is already
// in-flight. Txs whose (sender, nonce) already appear in
// State.NoncesBySigner (committed in an earlier frame) are dropped before
// folding, closing the replay gap CanonicalOrder's batch-local dedup alone
// cannot (spec testable property 11). It returns one InputProposedFrame per
// non-proposer signer, each addressed via To.
//
// If this replica's own signature already meets the quorum threshold (the
// single-validator case: one signer, Threshold==1), the proposal commits
// immediately rather than waiting for a precommit that will never arrive,
// and the returned inputs are InputCommitNotice broadcasts instead.
func (r *Replica) ProposeFrame(others []types.SignerID, self Signer, now uint64) ([]Input, error) {
	if !r.IsProposer {
		return nil, &Error{Kind: HeightMismatch, Height: r.State.Height, Detail: "not proposer"}
	}
	if len(r.Mempool) == 0 {
		return nil, nil
	}
	if r.proposal != nil {
		return nil, &Error{Kind: HeightMismatch, Height: r.State.Height, Detail: "proposal already in flight"}
	}

	ordered := CanonicalOrder(r.Mempool)
	ordered = DropReplayed(ordered, r.State.NoncesBySigner)
	newState := r.State.Clone()
	newState.Height = r.State.Height + 1
	newState.NoncesBySigner = FoldNonces(ordered, r.State.NoncesBySigner)

	frame := Frame{
		Height:   newState.Height,
		Txs:      ordered,
		NewState: newState,
	}
	frame.FrameHash = ComputeFrameHash(frame.Height, frame.Txs, frame.NewState)

	sig, err := self.Sign(frame.FrameHash)
	if err != nil {
		return nil, err
	}
	sigs := map[string]xcrypto.Signature{r.SignerID.String(): sig}

	if r.State.Config.PowerOfKeys(mapKeys(sigs)) >= r.State.Config.Threshold {
		r.commitFrame(frame)
		return fanoutCommitNotice(frame, sigs, others), nil
	}

	r.proposal = &proposal{frame: frame, signatures: sigs}

	inputs := make([]Input, 0, len(others))
	for _, o := range others {
		inputs = append(inputs, Input{Kind: InputProposedFrame, Frame: frame, To: o})
	}
	return inputs, nil
}

// commitFrame applies a finalized frame to the committed cell and drops its
// txs from the mempool, shared by handlePrecommit's quorum path and
// ProposeFrame's single-validator self-commit path.
func (r *Replica) commitFrame(f Frame) {
	r.State = f.NewState
	r.proposal = nil
	r.lockedFrame = nil
	r.Mempool = dropCommitted(r.Mempool, f.Txs)
}

// fanoutCommitNotice builds one InputCommitNotice per recipient in others,
// addressed via To so a multi-validator broadcast reaches every intended
// signer rather than looping back to the proposer alone.
func fanoutCommitNotice(frame Frame, sigs map[string]xcrypto.Signature, others []types.SignerID) []Input {
	inputs := make([]Input, 0, len(others))
	for _, o := range others {
		inputs = append(inputs, Input{Kind: InputCommitNotice, Frame: frame, Signatures: sigs, To: o})
	}
	return inputs
}

// HandleInput implements handle_entity_input (spec §4.5), dispatching on
// in.Kind and the replica's proposer/non-proposer role.
func (r *Replica) HandleInput(in Input, signerPubs map[string]*xcrypto.PublicKey, self Signer) ([]Input, error) {
	switch in.Kind {
	case InputForwardTx:
		return r.handleForwardTx(in)
	case InputProposedFrame:
		return r.handleProposedFrame(in, self)
	case InputPrecommit:
		return r.handlePrecommit(in, signerPubs)
	case InputCommitNotice:
		return r.handleCommitNotice(in, signerPubs)
	}
	return nil, &Error{Kind: HeightMismatch, Height: r.State.Height, Detail: "unknown input kind"}
}

// handleForwardTx: non-proposer with a local tx forwards it to the proposer
// rather than applying it locally (spec §4.5 case 1).
func (r *Replica) handleForwardTx(in Input) ([]Input, error) {
	if r.IsProposer {
		r.QueueTx(in.Tx)
		return nil, nil
	}
	return []Input{{Kind: InputForwardTx, Tx: in.Tx, To: r.State.Config.ProposerID}}, nil
}

// handleProposedFrame: non-proposer validates and locks a proposer's frame,
// returning a precommit (spec §4.5 case 2).
func (r *Replica) handleProposedFrame(in Input, self Signer) ([]Input, error) {
	f := in.Frame
	if f.Height != r.State.Height+1 {
		return nil, &Error{Kind: HeightMismatch, Height: r.State.Height, Detail: "proposed height does not follow current"}
	}
	if r.lockedFrame != nil && r.lockedFrame.Height == f.Height && r.lockedFrame.FrameHash != f.FrameHash {
		return nil, &Error{Kind: LockedOnDifferentFrame, Height: f.Height}
	}

	want := ComputeFrameHash(f.Height, f.Txs, f.NewState)
	if want != f.FrameHash {
		return nil, &Error{Kind: FrameHashMismatch, Height: f.Height}
	}

	// Independently re-derive the replay-protection fold rather than trust
	// the proposer's claim: any tx whose nonce was already committed must
	// be absent from f.Txs (spec testable property 11).
	for _, tx := range f.Txs {
		if used, ok := r.State.NoncesBySigner[tx.Sender.String()]; ok && tx.Nonce <= used {
			return nil, &Error{Kind: ReplayedNonce, Height: f.Height, Detail: "proposed frame includes an already-committed nonce"}
		}
	}

	locked := f
	r.lockedFrame = &locked

	sig, err := self.Sign(f.FrameHash)
	if err != nil {
		return nil, err
	}
	return []Input{{
		Kind:      InputPrecommit,
		Precommit: Precommit{SignerID: r.SignerID, Sig: sig},
		Frame:     Frame{Height: f.Height, FrameHash: f.FrameHash},
		To:        r.State.Config.ProposerID,
	}}, nil
}

// handlePrecommit: proposer merges a precommit, commits on quorum and
// broadcasts a commit notification (spec §4.5 case 3).
func (r *Replica) handlePrecommit(in Input, signerPubs map[string]*xcrypto.PublicKey) ([]Input, error) {
	if r.proposal == nil || r.proposal.frame.FrameHash != in.Frame.FrameHash {
		return nil, &Error{Kind: FrameHashMismatch, Height: in.Frame.Height, Detail: "precommit does not match in-flight proposal"}
	}
	signerKey := in.Precommit.SignerID.String()
	pub, ok := signerPubs[signerKey]
	if !ok || !xcrypto.Verify(pub, r.proposal.frame.FrameHash, in.Precommit.Sig) {
		return nil, &Error{Kind: DoubleSign, Height: in.Frame.Height, Detail: "invalid or unverifiable precommit signature"}
	}
	if _, exists := r.proposal.signatures[signerKey]; exists {
		return nil, nil // duplicate precommit: idempotent, no new effect (spec testable property 11)
	}
	r.proposal.signatures[signerKey] = in.Precommit.Sig

	power := r.State.Config.PowerOfKeys(mapKeys(r.proposal.signatures))
	if power < r.State.Config.Threshold {
		return nil, nil
	}

	committed := r.proposal.frame
	sigs := r.proposal.signatures
	r.commitFrame(committed)

	return fanoutCommitNotice(committed, sigs, otherSignerIDsFromPubs(signerPubs, r.SignerID)), nil
}

// handleCommitNotice: a non-proposer validator applies a proposer-finalized
// frame once its signature set is independently verified to meet threshold
// (spec §4.5 case 4).
func (r *Replica) handleCommitNotice(in Input, signerPubs map[string]*xcrypto.PublicKey) ([]Input, error) {
	for signerKey, sig := range in.Signatures {
		pub, ok := signerPubs[signerKey]
		if !ok || !xcrypto.Verify(pub, in.Frame.FrameHash, sig) {
			return nil, &Error{Kind: DoubleSign, Height: in.Frame.Height, Detail: "commit notice carries an unverifiable signature"}
		}
	}
	power := r.State.Config.PowerOfKeys(mapKeys(in.Signatures))
	if power < r.State.Config.Threshold {
		return nil, &Error{Kind: InsufficientPower, Height: in.Frame.Height}
	}

	r.State = in.Frame.NewState
	r.lockedFrame = nil
	r.Mempool = dropCommitted(r.Mempool, in.Frame.Txs)
	return nil, nil
}

// otherSignerIDsFromPubs returns every signer_id known to pubs except self,
// sorted, for addressing a broadcast to the rest of the validator set.
func otherSignerIDsFromPubs(pubs map[string]*xcrypto.PublicKey, self types.SignerID) []types.SignerID {
	selfKey := self.String()
	keys := make([]string, 0, len(pubs))
	for k := range pubs {
		if k == selfKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]types.SignerID, 0, len(keys))
	for _, k := range keys {
		b, err := hex.DecodeString(k)
		if err != nil {
			continue
		}
		out = append(out, types.SignerID(b))
	}
	return out
}

func mapKeys(m map[string]xcrypto.Signature) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func dropCommitted(mempool []Tx, committed []Tx) []Tx {
	out := mempool[:0:0]
	for _, tx := range mempool {
		already := false
		for _, c := range committed {
			if tx.Sender.Equal(c.Sender) && tx.Nonce == c.Nonce {
				already = true
				break
			}
		}
		if !already {
			out = append(out, tx)
		}
	}
	return out
}
