package runtime

import (
	"encoding/hex"
	"sort"

	"github.com/adimov-eth/xln-sub002/entity"
	"github.com/adimov-eth/xln-sub002/types"
	"github.com/adimov-eth/xln-sub002/xcrypto"
)

// KeyMaterial resolves the signing key and the quorum's public keys a
// replica needs to participate in consensus. The runtime never generates or
// stores private keys itself — this is supplied by the driver, mirroring
// the teacher's securityAdapter boundary (core/consensus.go).
type KeyMaterial interface {
	SignerFor(slot ReplicaSlot) entity.Signer
	PublicKeysFor(slot ReplicaSlot) map[string]*xcrypto.PublicKey
}

// OutboxEntry is a single produced message, addressed to the replica slot
// that should receive it on a later tick (spec §4.6: outbox items are
// returned for the driver to resubmit next tick, never fed back within the
// same tick).
type OutboxEntry struct {
	Slot    ReplicaSlot
	Payload entity.Input
}

// ApplyTick implements apply_runtime_tick(env, inputs, now_ts) → (env',
// outbox). It is pure given (env, inputs, keys, now): no wall-clock reads,
// no randomness, no I/O. The driver owns persistence and key material.
func ApplyTick(env *Env, inputs []Input, keys KeyMaterial, nowTs uint64) (*Env, []OutboxEntry) {
	merged := MergeInputs(inputs)
	var outbox []OutboxEntry

	for _, in := range merged {
		k := in.Slot.key()
		replica, ok := env.Replicas[k]
		if !ok {
			env.DeadLetters = append(env.DeadLetters, DeadLetter{Slot: in.Slot, Input: in.Payload, Tick: nowTs})
			continue
		}

		signer := keys.SignerFor(in.Slot)
		pubs := keys.PublicKeysFor(in.Slot)

		produced, err := replica.HandleInput(in.Payload, pubs, signer)
		if err != nil {
			// A rejected input leaves an empty Input addressed to its slot in
			// the outbox (the error value itself is not carried) rather than
			// mutating state (spec §7); it never unwinds the tick, so the
			// remaining merged inputs still get processed.
			outbox = append(outbox, OutboxEntry{Slot: in.Slot, Payload: entity.Input{}})
			continue
		}
		for _, p := range produced {
			outbox = append(outbox, OutboxEntry{Slot: counterpartySlot(in.Slot, p), Payload: p})
		}
	}

	for _, k := range sortedReplicaKeys(env.Replicas) {
		replica := env.Replicas[k]
		if !replica.IsProposer || len(replica.Mempool) == 0 {
			continue
		}
		slot := env.slotOf[k]
		if keys.PublicKeysFor(slot)[slot.SignerID.String()] == nil {
			continue // no registered key material for this replica yet
		}
		signer := keys.SignerFor(slot)
		others := otherSignerIDs(replica.State.Config, slot.SignerID)
		produced, err := replica.ProposeFrame(others, signer, nowTs)
		if err != nil {
			continue
		}
		for _, p := range produced {
			outbox = append(outbox, OutboxEntry{Slot: counterpartySlot(slot, p), Payload: p})
		}
	}

	driveAccounts(env, keys, nowTs)

	env.Height++
	return env, outbox
}

// counterpartySlot derives the addressee for a produced EntityInput from its
// To field: every producer (ProposeFrame, handleForwardTx,
// handleProposedFrame, handlePrecommit) tags each Input it returns with the
// specific signer it is addressed to, so a broadcast fans out to every
// intended recipient instead of looping back to the input's own origin
// (spec §4.5 cases 1-4).
func counterpartySlot(origin ReplicaSlot, p entity.Input) ReplicaSlot {
	if len(p.To) == 0 {
		return origin
	}
	return ReplicaSlot{EntityID: origin.EntityID, SignerID: p.To}
}

// otherSignerIDs returns every signer_id hex key in cfg.Shares except self,
// decoded and sorted, for addressing ProposeFrame's broadcast.
func otherSignerIDs(cfg entity.ConsensusConfig, self types.SignerID) []types.SignerID {
	selfKey := self.String()
	keys := make([]string, 0, len(cfg.Shares))
	for k := range cfg.Shares {
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
