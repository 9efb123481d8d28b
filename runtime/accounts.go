package runtime

import (
	"github.com/adimov-eth/xln-sub002/account"
	"github.com/adimov-eth/xln-sub002/xcrypto"
)

// driveAccounts advances every hosted replica's bilateral account machines
// one step, restoring the Runtime -> Entity -> Account control flow (spec
// §4.5): each proposer replica with queued account traffic proposes a
// frame, and if the counterparty entity is also hosted in this Env the
// proposal is delivered and acked within the same tick. Delivering to a
// counterparty hosted in another process is the transport collaborator's
// concern (spec §6.3), same as entity-level addressing — driveAccounts only
// drives traffic between entities this node itself hosts.
func driveAccounts(env *Env, keys KeyMaterial, nowTs uint64) {
	for _, k := range sortedReplicaKeys(env.Replicas) {
		r := env.Replicas[k]
		if !r.IsProposer || len(r.Accounts) == 0 {
			continue
		}
		slot := env.slotOf[k]
		self := keys.SignerFor(slot)
		selfPub := pubKeyForSlot(keys, slot)
		if self == nil || selfPub == nil {
			continue
		}

		proposals, err := r.ProposeAccountFrames(self, nowTs)
		if err != nil {
			continue
		}
		for _, p := range proposals {
			peer, peerSlot, ok := env.ReplicaForEntity(p.Counterparty)
			if !ok {
				continue
			}
			peerSelf := keys.SignerFor(peerSlot)
			peerPub := pubKeyForSlot(keys, peerSlot)
			if peerSelf == nil || peerPub == nil {
				continue
			}

			peerMachine := peer.OpenAccount(r.EntityID)
			committed, err := peerMachine.HandleInput(p.Input, selfPub, peerSelf)
			if err != nil || !committed {
				continue
			}

			ackSig, err := peerSelf.Sign(peerMachine.LastFrame.StateHash)
			if err != nil {
				continue
			}
			ack := account.Input{
				Kind:    account.InputAck,
				Frame:   peerMachine.LastFrame,
				Sig:     ackSig,
				Counter: peerMachine.NextCounter(),
			}
			origin := r.OpenAccount(p.Counterparty)
			origin.HandleInput(ack, peerPub, self)
		}
	}
}

func pubKeyForSlot(keys KeyMaterial, slot ReplicaSlot) *xcrypto.PublicKey {
	return keys.PublicKeysFor(slot)[slot.SignerID.String()]
}
