package persistence

import (
	"encoding/binary"

	"go.etcd.io/bbolt"
)

var snapshotBucket = []byte("snapshots")

// BoltSnapshotIndex is a recovery-acceleration side index from committed
// height to snapshot file path, backed by go.etcd.io/bbolt. The canonical
// snapshot/WAL bytes on disk remain the RLP+Merkle format; this index is
// never the source of truth and is safe to delete and rebuild by rescanning
// the snapshot directory.
type BoltSnapshotIndex struct {
	db *bbolt.DB
}

// OpenBoltSnapshotIndex opens (creating if absent) the bbolt index file at path.
func OpenBoltSnapshotIndex(path string) (*BoltSnapshotIndex, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltSnapshotIndex{db: db}, nil
}

// Close closes the underlying bbolt database.
func (idx *BoltSnapshotIndex) Close() error { return idx.db.Close() }

// RecordSnapshot indexes a snapshot taken at height under path, so a
// driver can locate the most recent mountable snapshot without rescanning
// the snapshot directory (spec §4.9 cadence note).
func (idx *BoltSnapshotIndex) RecordSnapshot(height uint64, path string) error {
	return idx.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(snapshotBucket)
		return b.Put(heightKey(height), []byte(path))
	})
}

// LatestSnapshot returns the highest-height indexed snapshot, if any.
// bbolt keeps bucket keys in byte-sorted order, and heightKey's big-endian
// encoding makes that order match numeric height order, so the bucket
// cursor's last key is always the latest snapshot.
func (idx *BoltSnapshotIndex) LatestSnapshot() (height uint64, path string, ok bool, err error) {
	err = idx.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(snapshotBucket)
		c := b.Cursor()
		k, v := c.Last()
		if k == nil {
			return nil
		}
		ok = true
		height = binary.BigEndian.Uint64(k)
		path = string(v)
		return nil
	})
	return
}

func heightKey(h uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], h)
	return b[:]
}
