package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/adimov-eth/xln-sub002/entity"
	"github.com/adimov-eth/xln-sub002/runtime"
	"github.com/adimov-eth/xln-sub002/types"
)

func testEnv() *runtime.Env {
	env := runtime.NewEnv("test-runtime")
	cfg := entity.ConsensusConfig{
		Shares:    map[string]uint64{"aa": 1, "bb": 1, "cc": 1},
		Threshold: entity.DefaultThreshold(3),
	}
	r := entity.NewReplica(types.EntityID{0x01}, types.SignerID{0xaa}, true, cfg)
	r.State.Height = 3
	r.State.Balances = map[string]map[string]uint64{"aa": {"tok": 42}}
	env.AddReplica(runtime.ReplicaSlot{EntityID: types.EntityID{0x01}, SignerID: types.SignerID{0xaa}}, r)
	env.Height = 3
	return env
}

func TestSaveLoadSnapshot_RoundTrip(t *testing.T) {
	env := testEnv()
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.bin")

	if err := SaveSnapshot(env, path, 1000); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if _, err := os.Stat(path + ".json"); err != nil {
		t.Fatalf("expected debug json sibling to exist: %v", err)
	}

	loaded, root, err := LoadSnapshot(path, "test-runtime")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if loaded.Height != 3 {
		t.Fatalf("expected loaded height 3, got %d", loaded.Height)
	}
	entries := BuildReplicaEntries(env)
	if root != StateRoot(entries) {
		t.Fatalf("recomputed root mismatch")
	}

	if len(loaded.Replicas) != 1 {
		t.Fatalf("expected 1 reconstructed replica, got %d", len(loaded.Replicas))
	}
}

func TestLoadSnapshot_RejectsTamperedBody(t *testing.T) {
	env := testEnv()
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.bin")
	if err := SaveSnapshot(env, path, 1000); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	raw[len(raw)-1] ^= 0xFF
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, _, err = LoadSnapshot(path, "test-runtime")
	if err == nil {
		t.Fatalf("expected tampered snapshot to be rejected")
	}
	if rerr, ok := err.(*RecoveryError); !ok || (rerr.Kind != MerkleMismatch && rerr.Kind != Malformed) {
		t.Fatalf("expected MerkleMismatch or Malformed RecoveryError, got %v", err)
	}
}

func TestWAL_AppendAndReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w, err := OpenWAL(path, nil)
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	slot := runtime.ReplicaSlot{EntityID: types.EntityID{0x01}, SignerID: types.SignerID{0xaa}}
	records := []Record{
		{Seq: 1, Timestamp: 100, Kind: RecordTickInput, Slot: slot, Payload: entity.Input{Kind: entity.InputForwardTx}},
		{Seq: 2, Timestamp: 101, Kind: RecordTickOutput, Slot: slot, Payload: entity.Input{Kind: entity.InputPrecommit}},
	}
	for _, r := range records {
		if err := w.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	replayed, err := ReplayWAL(path, nil)
	if err != nil {
		t.Fatalf("ReplayWAL: %v", err)
	}
	if len(replayed) != 2 {
		t.Fatalf("expected 2 replayed records, got %d", len(replayed))
	}
	if replayed[0].Seq != 1 || replayed[1].Seq != 2 {
		t.Fatalf("expected seq order preserved, got %+v", replayed)
	}
	if replayed[0].Payload.Kind != entity.InputForwardTx {
		t.Fatalf("expected first record payload kind preserved")
	}
}

func TestReplayWAL_TruncatesAtCorruptTrailingEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w, err := OpenWAL(path, nil)
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	slot := runtime.ReplicaSlot{EntityID: types.EntityID{0x01}, SignerID: types.SignerID{0xaa}}
	good := Record{Seq: 1, Timestamp: 1, Kind: RecordTickInput, Slot: slot, Payload: entity.Input{Kind: entity.InputForwardTx}}
	if err := w.Append(good); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	goodSize, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.Write([]byte{0x00, 0x00, 0x00, 0x05, 'g', 'a', 'r', 'b'}); err != nil {
		t.Fatalf("Write garbage: %v", err)
	}
	f.Close()

	replayed, err := ReplayWAL(path, nil)
	if err != nil {
		t.Fatalf("ReplayWAL: %v", err)
	}
	if len(replayed) != 1 {
		t.Fatalf("expected 1 valid record recovered, got %d", len(replayed))
	}

	truncated, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile after replay: %v", err)
	}
	if len(truncated) != len(goodSize) {
		t.Fatalf("expected file truncated back to %d bytes, got %d", len(goodSize), len(truncated))
	}
}

func TestBoltSnapshotIndex_TracksLatest(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenBoltSnapshotIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("OpenBoltSnapshotIndex: %v", err)
	}
	defer idx.Close()

	if err := idx.RecordSnapshot(5, "/snap/5.bin"); err != nil {
		t.Fatalf("RecordSnapshot: %v", err)
	}
	if err := idx.RecordSnapshot(10, "/snap/10.bin"); err != nil {
		t.Fatalf("RecordSnapshot: %v", err)
	}

	height, path, ok, err := idx.LatestSnapshot()
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if !ok || height != 10 || path != "/snap/10.bin" {
		t.Fatalf("expected latest (10, /snap/10.bin), got (%d, %s, %v)", height, path, ok)
	}
}
