package persistence

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os"
	"sort"

	"github.com/adimov-eth/xln-sub002/codec"
	"github.com/adimov-eth/xln-sub002/entity"
	"github.com/adimov-eth/xln-sub002/merkle"
	"github.com/adimov-eth/xln-sub002/runtime"
	"github.com/adimov-eth/xln-sub002/types"
	"github.com/adimov-eth/xln-sub002/xcrypto"
)

// ReplicaEntry is one (entity_id, signer_id) slot's committed cell as it is
// bound into a snapshot's Merkle-rooted entry list (spec §4.9).
type ReplicaEntry struct {
	EntityID types.EntityID
	SignerID types.SignerID
	Height   uint64
	StateRLP []byte // entity.EncodeState(replica.State)
}

func compositeKeyBytes(e ReplicaEntry) []byte {
	return types.CompositeKey{EntityID: e.EntityID, SignerID: e.SignerID}.Bytes()
}

func beMinimal(x uint64) []byte {
	if x == 0 {
		return nil
	}
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(x)
		x >>= 8
	}
	i := 0
	for i < 8 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}

func beUint(item codec.Item) (uint64, error) {
	b, ok := item.(codec.Bytes)
	if !ok {
		return 0, &RecoveryError{Kind: Malformed, Detail: "expected byte string integer"}
	}
	var x uint64
	for _, c := range b {
		x = x<<8 | uint64(c)
	}
	return x, nil
}

func replicaEntryItem(e ReplicaEntry) codec.List {
	return codec.List{
		codec.Bytes(compositeKeyBytes(e)),
		codec.Bytes(e.EntityID),
		codec.Bytes(e.SignerID),
		codec.Bytes(beMinimal(e.Height)),
		codec.Bytes(e.StateRLP),
	}
}

func decodeReplicaEntryItem(item codec.Item) (ReplicaEntry, error) {
	list, ok := item.(codec.List)
	if !ok || len(list) != 5 {
		return ReplicaEntry{}, &RecoveryError{Kind: Malformed, Detail: "replica entry: expected 5-item list"}
	}
	entityID, ok := list[1].(codec.Bytes)
	if !ok {
		return ReplicaEntry{}, &RecoveryError{Kind: Malformed, Detail: "replica entry: malformed entity id"}
	}
	signerID, ok := list[2].(codec.Bytes)
	if !ok {
		return ReplicaEntry{}, &RecoveryError{Kind: Malformed, Detail: "replica entry: malformed signer id"}
	}
	height, err := beUint(list[3])
	if err != nil {
		return ReplicaEntry{}, err
	}
	stateRLP, ok := list[4].(codec.Bytes)
	if !ok {
		return ReplicaEntry{}, &RecoveryError{Kind: Malformed, Detail: "replica entry: malformed state blob"}
	}
	return ReplicaEntry{
		EntityID: types.EntityID(append([]byte(nil), entityID...)),
		SignerID: types.SignerID(append([]byte(nil), signerID...)),
		Height:   height,
		StateRLP: append([]byte(nil), stateRLP...),
	}, nil
}

// BuildReplicaEntries snapshots every replica env hosts, sorted by
// composite key ascending — the order spec §4.9 requires for state_root
// determinism.
func BuildReplicaEntries(env *runtime.Env) []ReplicaEntry {
	entries := make([]ReplicaEntry, 0, len(env.Replicas))
	for _, r := range env.Replicas {
		entries = append(entries, ReplicaEntry{
			EntityID: r.EntityID,
			SignerID: r.SignerID,
			Height:   r.State.Height,
			StateRLP: entity.EncodeState(r.State),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(compositeKeyBytes(entries[i]), compositeKeyBytes(entries[j])) < 0
	})
	return entries
}

// StateRoot computes merkle_root([keccak256(RLP(replica_entry)) for
// replica_entry in sorted_by_composite_key]) (spec §4.9). merkle.Root
// performs the per-leaf Keccak-256 hash itself, so the leaves passed in
// here are the raw RLP(replica_entry) encodings, not pre-hashed digests.
func StateRoot(entries []ReplicaEntry) xcrypto.Hash {
	leaves := make([][]byte, len(entries))
	for i, e := range entries {
		leaves[i] = codec.Encode(replicaEntryItem(e))
	}
	return merkle.Root(leaves)
}

// EncodeSnapshotBody renders the canonical RLP snapshot body: RLP(height,
// timestamp, state_root, [replica_entry...]) (spec §4.9, §6.4).
func EncodeSnapshotBody(height, timestamp uint64, entries []ReplicaEntry) []byte {
	root := StateRoot(entries)
	items := make(codec.List, 0, len(entries))
	for _, e := range entries {
		items = append(items, replicaEntryItem(e))
	}
	payload := codec.List{
		codec.Bytes(beMinimal(height)),
		codec.Bytes(beMinimal(timestamp)),
		codec.Bytes(root.Bytes()),
		items,
	}
	return codec.Encode(payload)
}

// DecodeSnapshotBody is the inverse of EncodeSnapshotBody.
func DecodeSnapshotBody(b []byte) (height, timestamp uint64, root xcrypto.Hash, entries []ReplicaEntry, err error) {
	item, decErr := codec.Decode(b)
	if decErr != nil {
		err = decErr
		return
	}
	list, ok := item.(codec.List)
	if !ok || len(list) != 4 {
		err = &RecoveryError{Kind: Malformed, Detail: "snapshot body: expected 4-item list"}
		return
	}
	if height, err = beUint(list[0]); err != nil {
		return
	}
	if timestamp, err = beUint(list[1]); err != nil {
		return
	}
	rootB, ok := list[2].(codec.Bytes)
	if !ok || len(rootB) != 32 {
		err = &RecoveryError{Kind: Malformed, Detail: "snapshot body: malformed state root"}
		return
	}
	copy(root[:], rootB)
	entryList, ok := list[3].(codec.List)
	if !ok {
		err = &RecoveryError{Kind: Malformed, Detail: "snapshot body: malformed entry list"}
		return
	}
	entries = make([]ReplicaEntry, 0, len(entryList))
	for _, it := range entryList {
		e, eerr := decodeReplicaEntryItem(it)
		if eerr != nil {
			err = eerr
			return
		}
		entries = append(entries, e)
	}
	return
}

// debugSnapshot is the dual human-readable sibling form (spec §4.9: "dual
// form (debug)"). The binary form is authoritative; this is never parsed
// back by LoadSnapshot.
type debugSnapshot struct {
	Height    uint64            `json:"height"`
	Timestamp uint64            `json:"timestamp"`
	StateRoot string            `json:"state_root"`
	Replicas  []debugReplicaRow `json:"replicas"`
}

type debugReplicaRow struct {
	EntityID string `json:"entity_id"`
	SignerID string `json:"signer_id"`
	Height   uint64 `json:"height"`
}

// SaveSnapshot writes both the authoritative binary snapshot at path and a
// human-readable ".json" sibling alongside it (spec §4.9).
func SaveSnapshot(env *runtime.Env, path string, timestamp uint64) error {
	entries := BuildReplicaEntries(env)
	body := EncodeSnapshotBody(env.Height, timestamp, entries)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return err
	}

	root := StateRoot(entries)
	dbg := debugSnapshot{
		Height:    env.Height,
		Timestamp: timestamp,
		StateRoot: hex.EncodeToString(root.Bytes()),
	}
	for _, e := range entries {
		dbg.Replicas = append(dbg.Replicas, debugReplicaRow{
			EntityID: e.EntityID.String(),
			SignerID: e.SignerID.String(),
			Height:   e.Height,
		})
	}
	dbgBytes, err := json.MarshalIndent(dbg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path+".json", dbgBytes, 0o600)
}

// LoadSnapshot decodes the binary snapshot at path, recomputes state_root
// from its own replica entries, and refuses to mount it on mismatch (spec
// §4.9's load procedure). runtimeID is supplied by the driver since it is
// not part of the persisted snapshot body.
func LoadSnapshot(path, runtimeID string) (*runtime.Env, xcrypto.Hash, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xcrypto.Hash{}, err
	}
	height, _, storedRoot, entries, err := DecodeSnapshotBody(raw)
	if err != nil {
		return nil, xcrypto.Hash{}, &RecoveryError{Kind: Malformed, Detail: err.Error()}
	}

	recomputed := StateRoot(entries)
	if recomputed != storedRoot {
		return nil, xcrypto.Hash{}, &RecoveryError{Kind: MerkleMismatch, Detail: "recomputed state root does not match stored root"}
	}

	env := runtime.NewEnv(runtimeID)
	env.Height = height
	for _, e := range entries {
		r, rerr := reconstructReplica(e)
		if rerr != nil {
			return nil, xcrypto.Hash{}, &RecoveryError{Kind: Malformed, Detail: rerr.Error()}
		}
		env.AddReplica(runtime.ReplicaSlot{EntityID: e.EntityID, SignerID: e.SignerID}, r)
	}
	return env, recomputed, nil
}

// reconstructReplica rebuilds a committed-state-only Replica from a
// snapshot entry. IsProposer is local role configuration the driver
// re-attaches, not persisted consensus state, so it defaults false here;
// in-flight proposals and locks are never persisted (spec §4.9 only
// commits EntityState, not mempool/proposal working state).
func reconstructReplica(e ReplicaEntry) (*entity.Replica, error) {
	state, err := entity.DecodeState(e.StateRLP)
	if err != nil {
		return nil, err
	}
	r := entity.NewReplica(e.EntityID, e.SignerID, false, state.Config)
	r.State = state
	return r, nil
}
