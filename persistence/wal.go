package persistence

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/adimov-eth/xln-sub002/codec"
	"github.com/adimov-eth/xln-sub002/entity"
	"github.com/adimov-eth/xln-sub002/runtime"
	"github.com/adimov-eth/xln-sub002/types"
	"github.com/adimov-eth/xln-sub002/xcrypto"
)

// RecordKind enumerates the WAL's record taxonomy (spec §4.9).
type RecordKind int

const (
	_ RecordKind = iota
	RecordTickInput
	RecordTickOutput
	RecordSnapshotRef
)

// Record is one WAL entry: a tick's input or output EntityInput, or a
// pointer to a snapshot file taken at this point in the log.
type Record struct {
	Seq          uint64
	Timestamp    uint64
	Kind         RecordKind
	Slot         runtime.ReplicaSlot
	Payload      entity.Input
	SnapshotPath string
}

func recordItem(r Record) codec.List {
	return codec.List{
		codec.Bytes(beMinimal(r.Seq)),
		codec.Bytes(beMinimal(r.Timestamp)),
		codec.Bytes([]byte{byte(r.Kind)}),
		codec.Bytes(r.Slot.EntityID),
		codec.Bytes(r.Slot.SignerID),
		codec.Bytes(entity.EncodeInput(r.Payload)),
		codec.Bytes([]byte(r.SnapshotPath)),
	}
}

// EncodeRecord renders r as canonical RLP, the payload the WAL frames with
// a length prefix and checksum (spec §6.4).
func EncodeRecord(r Record) []byte {
	return codec.Encode(recordItem(r))
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(b []byte) (Record, error) {
	item, err := codec.Decode(b)
	if err != nil {
		return Record{}, err
	}
	list, ok := item.(codec.List)
	if !ok || len(list) != 7 {
		return Record{}, &RecoveryError{Kind: Malformed, Detail: "wal record: expected 7-item list"}
	}
	seq, err := beUint(list[0])
	if err != nil {
		return Record{}, err
	}
	ts, err := beUint(list[1])
	if err != nil {
		return Record{}, err
	}
	kindB, ok := list[2].(codec.Bytes)
	if !ok || len(kindB) > 1 {
		return Record{}, &RecoveryError{Kind: Malformed, Detail: "wal record: malformed kind"}
	}
	var kind RecordKind
	if len(kindB) == 1 {
		kind = RecordKind(kindB[0])
	}
	entityID, ok := list[3].(codec.Bytes)
	if !ok {
		return Record{}, &RecoveryError{Kind: Malformed, Detail: "wal record: malformed entity id"}
	}
	signerID, ok := list[4].(codec.Bytes)
	if !ok {
		return Record{}, &RecoveryError{Kind: Malformed, Detail: "wal record: malformed signer id"}
	}
	payloadB, ok := list[5].(codec.Bytes)
	if !ok {
		return Record{}, &RecoveryError{Kind: Malformed, Detail: "wal record: malformed payload"}
	}
	payload, err := entity.DecodeInput(payloadB)
	if err != nil {
		return Record{}, err
	}
	pathB, ok := list[6].(codec.Bytes)
	if !ok {
		return Record{}, &RecoveryError{Kind: Malformed, Detail: "wal record: malformed snapshot path"}
	}

	return Record{
		Seq:       seq,
		Timestamp: ts,
		Kind:      kind,
		Slot: runtime.ReplicaSlot{
			EntityID: types.EntityID(append([]byte(nil), entityID...)),
			SignerID: types.SignerID(append([]byte(nil), signerID...)),
		},
		Payload:      payload,
		SnapshotPath: string(pathB),
	}, nil
}

// WAL is an append-only log of Records, each framed as len_be(4) ||
// RLP(record) || sha256(RLP(record))[0:4] (spec §6.4). Grounded on the
// teacher's core/ledger.go NewLedger, which opens its WAL with
// O_CREATE|O_RDWR|O_APPEND and replays it with bufio.Scanner; here the
// framing is checksum-verified rather than newline-delimited so a torn
// write mid-append truncates cleanly instead of corrupting the next entry.
type WAL struct {
	f      *os.File
	path   string
	logger *logrus.Logger
}

// OpenWAL opens (creating if absent) the WAL file at path. A nil logger
// falls back to logrus's standard logger, mirroring the teacher's direct
// package-level logrus usage in core/consensus.go while still allowing
// injection for tests.
func OpenWAL(path string, logger *logrus.Logger) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WAL{f: f, path: path, logger: logger}, nil
}

// Append writes one framed record and fsyncs it before returning, so a
// crash immediately after Append never loses an acknowledged write.
func (w *WAL) Append(r Record) error {
	body := EncodeRecord(r)
	sum := xcrypto.SHA256(body)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	frame := make([]byte, 0, 4+len(body)+4)
	frame = append(frame, lenBuf[:]...)
	frame = append(frame, body...)
	frame = append(frame, sum.Bytes()[:4]...)

	if _, err := w.f.Write(frame); err != nil {
		return err
	}
	return w.f.Sync()
}

// Close closes the underlying WAL file.
func (w *WAL) Close() error { return w.f.Close() }

// ReplayWAL reads every well-formed, checksum-valid record from path in
// order. On the first corrupt or incomplete frame it stops, logs a
// warning, and truncates the file at the last good entry's boundary (spec
// §4.9: "Corruption is detected by checksum mismatch and truncates the log
// at the last good entry"). A missing file replays as an empty log.
func ReplayWAL(path string, logger *logrus.Logger) ([]Record, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []Record
	offset := 0
	for offset < len(data) {
		if offset+4 > len(data) {
			break
		}
		length := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		bodyStart := offset + 4
		bodyEnd := bodyStart + length
		checksumEnd := bodyEnd + 4
		if checksumEnd > len(data) {
			break
		}
		body := data[bodyStart:bodyEnd]
		checksum := data[bodyEnd:checksumEnd]
		want := xcrypto.SHA256(body)
		if !bytes.Equal(checksum, want.Bytes()[:4]) {
			break
		}
		rec, decErr := DecodeRecord(body)
		if decErr != nil {
			break
		}
		records = append(records, rec)
		offset = checksumEnd
	}

	if offset != len(data) {
		logger.Warnf("persistence: wal %s truncated at offset %d of %d bytes (corrupt or partial trailing entry)", path, offset, len(data))
		if err := os.Truncate(path, int64(offset)); err != nil {
			return records, err
		}
	}
	return records, nil
}
