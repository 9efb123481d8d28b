package account

import (
	"math/big"
	"testing"

	"github.com/adimov-eth/xln-sub002/types"
	"github.com/adimov-eth/xln-sub002/xcrypto"
)

type fakeSigner struct{ priv *xcrypto.PrivateKey }

func (f fakeSigner) Sign(h xcrypto.Hash) (xcrypto.Signature, error) { return xcrypto.Sign(f.priv, h) }
func (f fakeSigner) Verify(pub *xcrypto.PublicKey, h xcrypto.Hash, sig xcrypto.Signature) bool {
	return xcrypto.Verify(pub, h, sig)
}

func newPair(t *testing.T) (left, right *xcrypto.PrivateKey) {
	t.Helper()
	left = xcrypto.PrivateKeyFromBytes(bytesOf(1))
	right = xcrypto.PrivateKeyFromBytes(bytesOf(2))
	return left, right
}

func bytesOf(b byte) []byte {
	out := make([]byte, 32)
	out[31] = b
	return out
}

func newTestAccount(t *testing.T) (*Machine, *Machine, *xcrypto.PrivateKey, *xcrypto.PrivateKey) {
	t.Helper()
	leftPriv, rightPriv := newPair(t)
	leftAddr := types.EntityID(leftPriv.PublicKey().Address())
	rightAddr := types.EntityID(rightPriv.PublicKey().Address())
	key := types.NewAccountKey(leftAddr, rightAddr)

	leftM := NewMachine(key, key.Left)
	rightM := NewMachine(key, key.Right)

	tok := types.TokenID([]byte{0x01})
	coll := big.NewInt(1000)
	leftM.LastFrame.DeltasPost = []Delta{NewDelta(tok, coll, big.NewInt(0), big.NewInt(0))}
	rightM.LastFrame.DeltasPost = []Delta{NewDelta(tok, coll, big.NewInt(0), big.NewInt(0))}

	return leftM, rightM, leftPriv, rightPriv
}

// S1: a payment initiated by the left party moves the delta positive
// (offdelta = +100), which the right party's re-execution must reproduce
// exactly.
func TestScenarioS1_LeftPaymentIncreasesDelta(t *testing.T) {
	leftM, rightM, leftPriv, rightPriv := newTestAccount(t)
	tok := types.TokenID([]byte{0x01})

	leftM.QueueTx(Tx{Kind: TxPayment, TokenID: tok, From: leftM.Key.Left, Amount: big.NewInt(100)})

	frame, err := leftM.ProposeFrame(1000)
	if err != nil {
		t.Fatalf("ProposeFrame: %v", err)
	}
	if got := FindToken(frame.DeltasPost, tok).Net(); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected net delta 100, got %s", got)
	}

	signer := fakeSigner{priv: leftPriv}
	sig, err := signer.Sign(frame.StateHash)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	prevSig, err := signer.Sign(leftM.LastFrame.StateHash)
	if err != nil {
		t.Fatalf("sign prev: %v", err)
	}

	leftPub := leftPriv.PublicKey()
	committed, err := rightM.HandleInput(Input{Kind: InputPropose, Frame: frame, Sig: sig, PrevSig: prevSig, Counter: 1}, leftPub, fakeSigner{priv: rightPriv})
	if err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if !committed {
		t.Fatalf("expected commit")
	}
	if got := FindToken(rightM.LastFrame.DeltasPost, tok).Net(); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("right machine net delta mismatch: got %s", got)
	}
}

// S2: replaying an already-seen input (counter not strictly increasing) is
// rejected as Replay and bumps Rollbacks without touching committed state.
func TestScenarioS2_ReplayRejected(t *testing.T) {
	leftM, rightM, leftPriv, rightPriv := newTestAccount(t)
	tok := types.TokenID([]byte{0x01})
	leftM.QueueTx(Tx{Kind: TxPayment, TokenID: tok, From: leftM.Key.Left, Amount: big.NewInt(50)})

	frame, err := leftM.ProposeFrame(1000)
	if err != nil {
		t.Fatalf("ProposeFrame: %v", err)
	}
	sig, _ := fakeSigner{priv: leftPriv}.Sign(frame.StateHash)
	prevSig, _ := fakeSigner{priv: leftPriv}.Sign(leftM.LastFrame.StateHash)
	leftPub := leftPriv.PublicKey()

	in := Input{Kind: InputPropose, Frame: frame, Sig: sig, PrevSig: prevSig, Counter: 1}
	if _, err := rightM.HandleInput(in, leftPub, fakeSigner{priv: rightPriv}); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	committed, err := rightM.HandleInput(in, leftPub, fakeSigner{priv: rightPriv})
	if committed {
		t.Fatalf("replay must not commit")
	}
	acctErr, ok := err.(*Error)
	if !ok || acctErr.Kind != Replay {
		t.Fatalf("expected Replay error, got %v", err)
	}
	if rightM.Rollbacks != 1 {
		t.Fatalf("expected Rollbacks=1, got %d", rightM.Rollbacks)
	}
}

// S5-analog: a payment that would push Δ above C + L_r is rejected as an
// RcpanViolation before any frame is committed (spec §3, upper bound).
func TestScenarioS5_UpperBoundViolationRejected(t *testing.T) {
	leftM, _, _, _ := newTestAccount(t)
	tok := types.TokenID([]byte{0x01})
	// Collateral is 1000, credit right is 0, so the outbound capacity is
	// exactly 1000. A 1100 payment from left overshoots it.
	leftM.QueueTx(Tx{Kind: TxPayment, TokenID: tok, From: leftM.Key.Left, Amount: big.NewInt(1100)})

	_, err := leftM.ProposeFrame(1000)
	if err == nil {
		t.Fatalf("expected RcpanViolation, got nil")
	}
	acctErr, ok := err.(*Error)
	if !ok || acctErr.Kind != RcpanViolation {
		t.Fatalf("expected RcpanViolation, got %v", err)
	}
}

func TestCheckRCPAN_WithinBoundsPasses(t *testing.T) {
	d := NewDelta(types.TokenID([]byte{0x01}), big.NewInt(500), big.NewInt(100), big.NewInt(200))
	d.OffDelta = big.NewInt(300)
	if err := d.CheckRCPAN(); err != nil {
		t.Fatalf("expected no violation, got %v", err)
	}
}

// A correctly hashed HTLC (keccak256, not sha256) is redeemable by its
// preimage, crediting the receiving side and re-validating RCPAN on the
// resulting table (spec §4.4).
func TestFinalizeHTLC_RevealCreditsReceiver(t *testing.T) {
	tok := types.TokenID([]byte{0x01})
	left := types.EntityID(bytesOf(1))
	right := types.EntityID(bytesOf(2))
	key := types.NewAccountKey(left, right)

	preimage := []byte("xln-htlc-secret")
	hash := xcrypto.Keccak256(preimage)

	d := NewDelta(tok, big.NewInt(1000), big.NewInt(0), big.NewInt(0))
	d.Subcontract = &SubcontractState{
		Kind: SubcontractHTLC,
		HTLC: &HTLCState{Hash: hash, Amount: big.NewInt(100), Expiry: 5000, SenderIs: left},
	}
	table := []Delta{d}

	working, err := FinalizeHTLC(table, tok, preimage, 1000, key)
	if err != nil {
		t.Fatalf("FinalizeHTLC: %v", err)
	}
	got := FindToken(working, tok)
	if got.Net().Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected net delta 100, got %s", got.Net())
	}
	if got.Subcontract != nil {
		t.Fatalf("expected subcontract cleared after finalize")
	}
}

// A preimage hashed with the wrong function (or simply wrong) never resolves
// the HTLC before expiry.
func TestFinalizeHTLC_WrongPreimageRejectedBeforeExpiry(t *testing.T) {
	tok := types.TokenID([]byte{0x01})
	left := types.EntityID(bytesOf(1))
	right := types.EntityID(bytesOf(2))
	key := types.NewAccountKey(left, right)

	d := NewDelta(tok, big.NewInt(1000), big.NewInt(0), big.NewInt(0))
	d.Subcontract = &SubcontractState{
		Kind: SubcontractHTLC,
		HTLC: &HTLCState{Hash: xcrypto.Keccak256([]byte("real-secret")), Amount: big.NewInt(100), Expiry: 5000, SenderIs: left},
	}
	table := []Delta{d}

	_, err := FinalizeHTLC(table, tok, []byte("wrong-secret"), 1000, key)
	if err == nil {
		t.Fatalf("expected rejection for wrong preimage before expiry")
	}
}

// An HTLC whose resolution would push the net delta outside RCPAN bounds is
// rejected atomically: the original table comes back unmodified.
func TestFinalizeHTLC_RcpanViolationRejectsAtomically(t *testing.T) {
	tok := types.TokenID([]byte{0x01})
	left := types.EntityID(bytesOf(1))
	right := types.EntityID(bytesOf(2))
	key := types.NewAccountKey(left, right)

	preimage := []byte("xln-htlc-secret")
	hash := xcrypto.Keccak256(preimage)

	// Collateral 50, no credit: an HTLC crediting 100 rightward overshoots
	// the outbound capacity entirely.
	d := NewDelta(tok, big.NewInt(50), big.NewInt(0), big.NewInt(0))
	d.Subcontract = &SubcontractState{
		Kind: SubcontractHTLC,
		HTLC: &HTLCState{Hash: hash, Amount: big.NewInt(100), Expiry: 5000, SenderIs: left},
	}
	table := []Delta{d}

	working, err := FinalizeHTLC(table, tok, preimage, 1000, key)
	if err == nil {
		t.Fatalf("expected RcpanViolation")
	}
	acctErr, ok := err.(*Error)
	if !ok || acctErr.Kind != RcpanViolation {
		t.Fatalf("expected RcpanViolation, got %v", err)
	}
	if !EqualTables(working, table) {
		t.Fatalf("rejected finalize must return the table unmodified")
	}
}

// A satisfied swap moves both legs and clears the subcontract.
func TestFinalizeSwap_SatisfiedMovesBothLegs(t *testing.T) {
	addTok := types.TokenID([]byte{0x01})
	subTok := types.TokenID([]byte{0x02})

	addDelta := NewDelta(addTok, big.NewInt(1000), big.NewInt(0), big.NewInt(0))
	addDelta.Subcontract = &SubcontractState{
		Kind: SubcontractSwap,
		Swap: &SwapState{AddTokenID: addTok, AddAmount: big.NewInt(50), SubTokenID: subTok, SubAmount: big.NewInt(30)},
	}
	subDelta := NewDelta(subTok, big.NewInt(1000), big.NewInt(100), big.NewInt(0))
	table := []Delta{addDelta, subDelta}

	working, err := FinalizeSwap(table, addTok, subTok, true)
	if err != nil {
		t.Fatalf("FinalizeSwap: %v", err)
	}
	if got := FindToken(working, addTok).Net(); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected add-leg net 50, got %s", got)
	}
	if got := FindToken(working, subTok).Net(); got.Cmp(big.NewInt(-30)) != 0 {
		t.Fatalf("expected sub-leg net -30, got %s", got)
	}
	if FindToken(working, addTok).Subcontract != nil {
		t.Fatalf("expected subcontract cleared after finalize")
	}
}

func TestOutInCapacity(t *testing.T) {
	d := NewDelta(types.TokenID([]byte{0x01}), big.NewInt(500), big.NewInt(100), big.NewInt(50))
	d.OffDelta = big.NewInt(0)
	if got := d.OutCapacity(); got.Cmp(big.NewInt(550)) != 0 {
		t.Fatalf("OutCapacity: got %s, want 550", got)
	}
	if got := d.InCapacity(); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("InCapacity: got %s, want 100", got)
	}
}
