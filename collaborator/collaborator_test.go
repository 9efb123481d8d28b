package collaborator

import (
	"testing"

	"github.com/adimov-eth/xln-sub002/entity"
	"github.com/adimov-eth/xln-sub002/runtime"
	"github.com/adimov-eth/xln-sub002/types"
)

func TestLoopbackTransport_DeliverThenDrain(t *testing.T) {
	var transport LoopbackTransport
	slot := runtime.ReplicaSlot{EntityID: types.EntityID{0x01}, SignerID: types.SignerID{0xaa}}

	if err := transport.Deliver(Envelope{Slot: slot, Payload: entity.Input{Kind: entity.InputForwardTx}}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := transport.Deliver(Envelope{Slot: slot, Payload: entity.Input{Kind: entity.InputPrecommit}}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	drained := transport.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained inputs, got %d", len(drained))
	}
	if drained[0].Payload.Kind != entity.InputForwardTx || drained[1].Payload.Kind != entity.InputPrecommit {
		t.Fatalf("expected arrival order preserved, got %+v", drained)
	}

	if len(transport.Drain()) != 0 {
		t.Fatalf("expected second Drain to be empty")
	}
}

func TestIntent_SettleDiffsShape(t *testing.T) {
	key := types.NewAccountKey(types.EntityID{0x01}, types.EntityID{0x02})
	intent := Intent{
		Kind:       IntentSettleDiffs,
		AccountKey: key,
		Diffs:      []TokenDiff{{TokenID: types.TokenID{0x01}, Amount: []byte{0x0a}}},
	}
	if intent.Kind != IntentSettleDiffs {
		t.Fatalf("expected IntentSettleDiffs")
	}
	if len(intent.Diffs) != 1 {
		t.Fatalf("expected 1 token diff")
	}
}
