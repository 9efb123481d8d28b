package driver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/adimov-eth/xln-sub002/entity"
	"github.com/adimov-eth/xln-sub002/pkg/config"
	"github.com/adimov-eth/xln-sub002/runtime"
	"github.com/adimov-eth/xln-sub002/types"
	"github.com/adimov-eth/xln-sub002/xcrypto"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Runtime.RuntimeID = "test-runtime"
	cfg.Persistence.WALPath = filepath.Join(dir, "test.wal")
	cfg.Persistence.SnapshotDir = dir
	cfg.Persistence.SnapshotEveryN = 2
	return cfg
}

func seedReplica(d *Driver) runtime.ReplicaSlot {
	slot := runtime.ReplicaSlot{EntityID: types.EntityID{0x01}, SignerID: types.SignerID{0xaa}}
	cfg := entity.ConsensusConfig{
		Shares:    map[string]uint64{"aa": 1},
		Threshold: entity.DefaultThreshold(1),
	}
	r := entity.NewReplica(slot.EntityID, slot.SignerID, true, cfg)
	d.Env.AddReplica(slot, r)
	return slot
}

func TestDriver_ApplyTickAdvancesHeight(t *testing.T) {
	cfg := testConfig(t)
	d, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()
	seedReplica(d)

	keys := NewLocalKeyMaterial()
	if _, err := d.ApplyTick(nil, keys, 1000); err != nil {
		t.Fatalf("ApplyTick: %v", err)
	}
	if d.Env.Height != 1 {
		t.Fatalf("expected height 1, got %d", d.Env.Height)
	}
}

// A proposer replica with a non-empty mempool and a registered signing key
// must actually produce and commit a frame through ApplyTick: the reducer
// calling ProposeFrame every tick, not just HandleInput on inputs handed
// to it explicitly.
func TestDriver_ApplyTickProposesAndCommitsQueuedTx(t *testing.T) {
	cfg := testConfig(t)
	d, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()
	slot := seedReplica(d)

	priv := xcrypto.PrivateKeyFromBytes(append(make([]byte, 31), 0x01))
	pub := priv.PublicKey()
	keys := NewLocalKeyMaterial()
	keys.Register(slot, priv, map[string]*xcrypto.PublicKey{slot.SignerID.String(): pub})

	replica := d.Env.Replicas[slot.EntityID.String()+"/"+slot.SignerID.String()]
	replica.QueueTx(entity.Tx{Sender: slot.SignerID, Nonce: 1, Kind: entity.TxTransfer, Amount: 10})

	if _, err := d.ApplyTick(nil, keys, 1000); err != nil {
		t.Fatalf("ApplyTick: %v", err)
	}
	if replica.State.Height != 1 {
		t.Fatalf("expected replica height to advance to 1 via auto-propose, got %d", replica.State.Height)
	}
	if len(replica.Mempool) != 0 {
		t.Fatalf("expected committed tx dropped from mempool, got %d remaining", len(replica.Mempool))
	}
}

func TestDriver_SnapshotCadenceFiresEveryNHeights(t *testing.T) {
	cfg := testConfig(t)
	d, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()
	seedReplica(d)

	keys := NewLocalKeyMaterial()
	for i := 0; i < 2; i++ {
		if _, err := d.ApplyTick(nil, keys, uint64(1000+i)); err != nil {
			t.Fatalf("ApplyTick: %v", err)
		}
	}
	if d.Env.Height != 2 {
		t.Fatalf("expected height 2, got %d", d.Env.Height)
	}
	path := filepath.Join(cfg.Persistence.SnapshotDir, "snapshot-00000000000000000002.bin")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected snapshot-on-cadence file to exist at %s: %v", path, err)
	}
}

func TestDriver_ReplayReconstructsHeightFromSnapshotAndWAL(t *testing.T) {
	cfg := testConfig(t)
	d, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	slot := seedReplica(d)
	keys := NewLocalKeyMaterial()

	tickInput := []runtime.Input{{
		Slot:    slot,
		Payload: entity.Input{Kind: entity.InputForwardTx, Tx: entity.Tx{Sender: slot.SignerID, Nonce: 1, Kind: entity.TxTransfer, Amount: 1}},
	}}

	if _, err := d.ApplyTick(tickInput, keys, 1000); err != nil {
		t.Fatalf("ApplyTick 1: %v", err)
	}
	if err := d.SaveSnapshot(1000); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	snapshotPath := filepath.Join(cfg.Persistence.SnapshotDir, "snapshot-00000000000000000001.bin")

	tickInput2 := []runtime.Input{{
		Slot:    slot,
		Payload: entity.Input{Kind: entity.InputForwardTx, Tx: entity.Tx{Sender: slot.SignerID, Nonce: 2, Kind: entity.TxTransfer, Amount: 1}},
	}}
	if _, err := d.ApplyTick(tickInput2, keys, 1001); err != nil {
		t.Fatalf("ApplyTick 2: %v", err)
	}
	wantHeight := d.Env.Height
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	replayDir := t.TempDir()
	replayCfg := cfg
	replayCfg.Persistence.WALPath = filepath.Join(replayDir, "replay.wal")
	replayed, err := Open(replayCfg, nil)
	if err != nil {
		t.Fatalf("Open for replay: %v", err)
	}
	defer replayed.Close()

	if err := replayed.Replay(snapshotPath, cfg.Persistence.WALPath, keys); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.Env.Height != wantHeight {
		t.Fatalf("expected replayed height %d, got %d", wantHeight, replayed.Env.Height)
	}
}
