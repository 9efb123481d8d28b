package collaborator

import (
	"github.com/adimov-eth/xln-sub002/entity"
	"github.com/adimov-eth/xln-sub002/runtime"
)

// Envelope pairs an outbox entry with the slot it is addressed to, the unit
// a TransportAdapter drains from an Env's outbox and delivers to whichever
// node hosts that replica.
type Envelope struct {
	Slot    runtime.ReplicaSlot
	Payload entity.Input
}

// TransportAdapter is implemented by an external collaborator that drains
// env.outbox and delivers each EntityInput to the addressee, resubmitting
// it into that recipient's apply_runtime_tick on receipt (spec §6.3). The
// core assumes best-effort delivery — messages may be delayed, duplicated,
// or reordered; counters and frame locks absorb that here, not the
// adapter. Network transport itself (the wire carrier) is an explicit
// Non-goal (spec §1) — this interface is the seam a real implementation
// (libp2p, a message queue, plain TCP) would sit behind without the kernel
// importing any of it.
type TransportAdapter interface {
	// Deliver sends env to whichever node hosts Slot. Implementations may
	// drop, delay, or duplicate delivery; the kernel's replay protection
	// (spec §4.5 counters, §4.4 nonces, frame locks) tolerates all three.
	Deliver(env Envelope) error
}

// LoopbackTransport is an in-process TransportAdapter that feeds every
// envelope straight back into a single local Env on the next tick — useful
// for tests and single-process demos that need the interface satisfied
// without a real network, mirroring the teacher's in-memory
// networkAdapter stand-ins used in its own consensus tests.
type LoopbackTransport struct {
	pending []runtime.Input
}

// Deliver queues env for the next ApplyTick call via Drain.
func (t *LoopbackTransport) Deliver(env Envelope) error {
	t.pending = append(t.pending, runtime.Input{Slot: env.Slot, Payload: env.Payload})
	return nil
}

// Drain returns and clears every envelope queued since the last Drain,
// ready to pass as the inputs argument to runtime.ApplyTick.
func (t *LoopbackTransport) Drain() []runtime.Input {
	out := t.pending
	t.pending = nil
	return out
}
