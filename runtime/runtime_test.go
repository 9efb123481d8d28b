package runtime

import (
	"testing"

	"github.com/adimov-eth/xln-sub002/entity"
	"github.com/adimov-eth/xln-sub002/types"
	"github.com/adimov-eth/xln-sub002/xcrypto"
)

type fakeSigner struct{ priv *xcrypto.PrivateKey }

func (f fakeSigner) Sign(h xcrypto.Hash) (xcrypto.Signature, error) { return xcrypto.Sign(f.priv, h) }
func (f fakeSigner) Verify(pub *xcrypto.PublicKey, h xcrypto.Hash, sig xcrypto.Signature) bool {
	return xcrypto.Verify(pub, h, sig)
}

type fakeKeys struct {
	priv *xcrypto.PrivateKey
	pubs map[string]*xcrypto.PublicKey
}

func (k fakeKeys) SignerFor(ReplicaSlot) entity.Signer { return fakeSigner{k.priv} }
func (k fakeKeys) PublicKeysFor(ReplicaSlot) map[string]*xcrypto.PublicKey { return k.pubs }

func TestMergeInputs_GroupsAndOrdersLexicographically(t *testing.T) {
	slotA := ReplicaSlot{EntityID: types.EntityID{0x01}, SignerID: types.SignerID{0x01}}
	slotB := ReplicaSlot{EntityID: types.EntityID{0x00}, SignerID: types.SignerID{0x01}}

	inputs := []Input{
		{Slot: slotA, Payload: entity.Input{Kind: entity.InputForwardTx}},
		{Slot: slotB, Payload: entity.Input{Kind: entity.InputForwardTx}},
		{Slot: slotA, Payload: entity.Input{Kind: entity.InputPrecommit}},
	}
	merged := MergeInputs(inputs)
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged inputs, got %d", len(merged))
	}
	if merged[0].Slot != slotB {
		t.Fatalf("expected slotB group first lexicographically, got %+v", merged[0].Slot)
	}
	if merged[1].Slot != slotA || merged[1].Payload.Kind != entity.InputForwardTx {
		t.Fatalf("expected slotA's first input preserved in arrival order")
	}
}

func TestApplyTick_DeadLettersUnroutedInput(t *testing.T) {
	env := NewEnv("test-runtime")
	slot := ReplicaSlot{EntityID: types.EntityID{0xFF}, SignerID: types.SignerID{0xFF}}
	keys := fakeKeys{}

	_, outbox := ApplyTick(env, []Input{{Slot: slot, Payload: entity.Input{Kind: entity.InputForwardTx}}}, keys, 1)
	if len(outbox) != 0 {
		t.Fatalf("expected empty outbox for dead-lettered input, got %d entries", len(outbox))
	}
	if len(env.DeadLetters) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(env.DeadLetters))
	}
	if env.Height != 1 {
		t.Fatalf("expected height to advance once, got %d", env.Height)
	}
}
