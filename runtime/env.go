// Package runtime implements the deterministic tick orchestrator: the pure
// reducer apply_runtime_tick(env, inputs, now_ts) → (env', outbox) that
// merges inputs, routes them to the right entity replica, and collects
// every produced EntityInput/AccountInput into a per-tick outbox (spec
// §4.6). Grounded on the teacher's core/consensus.go subBlockLoop/blockLoop
// driver shape (a tick-cadence loop around a pure state-advancing step),
// generalized here into a single side-effect-free function the driver calls
// once per tick.
package runtime

import (
	"sort"

	"github.com/adimov-eth/xln-sub002/entity"
	"github.com/adimov-eth/xln-sub002/types"
)

// ReplicaSlot is the routing key for one entity replica: (entity_id,
// signer_id).
type ReplicaSlot struct {
	EntityID types.EntityID
	SignerID types.SignerID
}

func (s ReplicaSlot) key() string {
	return s.EntityID.String() + "/" + s.SignerID.String()
}

// Env is the runtime's whole addressable world: every replica this node
// hosts, plus the dead-letter log for inputs addressed to a replica this
// node does not have.
type Env struct {
	RuntimeID   string
	Height      uint64
	Replicas    map[string]*entity.Replica
	slotOf      map[string]ReplicaSlot
	DeadLetters []DeadLetter
	History     []Snapshot // optional, driver-controlled cadence (spec §4.6)
}

// DeadLetter records an input that named no replica this Env hosts, per
// spec §4.6 ("route to dead-letter in outbox, do not panic"). It is kept on
// Env rather than discarded so operators can inspect misrouted traffic
// instead of it vanishing silently.
type DeadLetter struct {
	Slot  ReplicaSlot
	Input entity.Input
	Tick  uint64
}

// Snapshot is a driver-cadence point-in-time copy of Env's routing table,
// used only for the optional in-memory history; durable snapshots are the
// persistence package's concern.
type Snapshot struct {
	Height uint64
}

// NewEnv creates an empty Env for runtimeID.
func NewEnv(runtimeID string) *Env {
	return &Env{
		RuntimeID: runtimeID,
		Replicas:  make(map[string]*entity.Replica),
		slotOf:    make(map[string]ReplicaSlot),
	}
}

// AddReplica registers r under slot, so future ticks can route inputs to it.
func (e *Env) AddReplica(slot ReplicaSlot, r *entity.Replica) {
	k := slot.key()
	e.Replicas[k] = r
	e.slotOf[k] = slot
}

// sortedReplicaKeys returns m's keys in canonical order, satisfying the hard
// determinism contract (spec §5) for any iteration over hosted replicas.
func sortedReplicaKeys(m map[string]*entity.Replica) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ReplicaForEntity returns the hosted proposer replica for id, if any. Only
// the proposer replica is returned (never a non-proposer mirror of the same
// entity this node also happens to host), so lookups that drive account
// traffic or entity frame proposals always land on a deterministic single
// replica regardless of Go's randomized map iteration order.
func (e *Env) ReplicaForEntity(id types.EntityID) (*entity.Replica, ReplicaSlot, bool) {
	for _, k := range sortedReplicaKeys(e.Replicas) {
		r := e.Replicas[k]
		if r.IsProposer && r.EntityID.Equal(id) {
			return r, e.slotOf[k], true
		}
	}
	return nil, ReplicaSlot{}, false
}

// Input is one addressed EntityInput submitted to a tick.
type Input struct {
	Slot    ReplicaSlot
	Payload entity.Input
}

// groupKey is used only to establish lexicographic group order (spec §4.6:
// "across groups process in lexicographic key order"); within a group,
// arrival order in the input slice is preserved.
func groupKey(slot ReplicaSlot) string { return slot.key() }

// MergeInputs groups inputs by (entity_id, signer_id), preserving arrival
// order within a group and ordering groups lexicographically by key, to
// guarantee the tick's determinism contract (spec §4.6, §5).
func MergeInputs(inputs []Input) []Input {
	groups := make(map[string][]Input)
	for _, in := range inputs {
		k := groupKey(in.Slot)
		groups[k] = append(groups[k], in)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Input, 0, len(inputs))
	for _, k := range keys {
		out = append(out, groups[k]...)
	}
	return out
}
