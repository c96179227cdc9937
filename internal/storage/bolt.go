// Package storage — bolt.go
//
// BoltDB-backed persistent storage for the governance circuit.
//
// Schema (BoltDB bucket layout):
//
//	/audit_trail
//	    key:   RFC3339Nano timestamp + "_" + zero-padded seq  [sortable]
//	    value: JSON-encoded AuditRecord
//
//	/event_log
//	    key:   RFC3339Nano timestamp + "_" + event_id  [sortable]
//	    value: JSON-encoded EventRecord
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer (BoltDB does not support concurrent writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//   - CRC32 integrity check on database open (bbolt built-in).
//
// This store persists the Intervenor's audit trail and the Event Bus's
// exported log — it is explicitly NOT the cross-invocation detector state
// (growth-rate momentum) that spec.md's design notes call host-managed;
// nothing here is read back into a Detector.
//
// Retention:
//   - Entries older than RetentionDays are pruned on startup.
//
// Failure modes:
//   - BoltDB file corruption: bbolt detects via CRC and returns an error on
//     Open(). The circuit host logs a fatal event and refuses to start.
//   - Disk full: bbolt.Update() returns an error, surfaced to the caller.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBPath is the default BoltDB file location.
	DefaultDBPath = "govcircuit.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	// DefaultRetentionDays is the default retention period for both buckets.
	DefaultRetentionDays = 30

	bucketAuditTrail = "audit_trail"
	bucketEventLog   = "event_log"
	bucketMeta       = "meta"
)

// AuditRecord is the persisted form of one intervention.AuditEntry.
type AuditRecord struct {
	SessionID    string          `json:"session_id"`
	Seq          int64           `json:"seq"`
	Timestamp    time.Time       `json:"timestamp"`
	Action       string          `json:"action"`
	Actor        string          `json:"actor"`
	Details      json.RawMessage `json:"details"`
	PreviousHash string          `json:"previous_hash"`
	EntryHash    string          `json:"entry_hash"`
}

// EventRecord is the persisted form of one eventbus.Event.
type EventRecord struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	EventID   string          `json:"event_id"`
}

// DB wraps a BoltDB instance with typed accessors for circuit data.
type DB struct {
	db            *bolt.DB
	retentionDays int
}

// Open opens (or creates) the BoltDB database at path, initialising all
// required buckets and verifying the schema version.
func Open(path string, retentionDays int) (*DB, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb, retentionDays: retentionDays}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketAuditTrail, bucketEventLog, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, circuit requires %q; "+
					"run migration or restore from backup", string(v), SchemaVersion)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

// ─── Audit trail operations ───────────────────────────────────────────────────

func sortableKey(t time.Time, suffix string) []byte {
	return []byte(fmt.Sprintf("%s_%s", t.UTC().Format(time.RFC3339Nano), suffix))
}

// AppendAuditEntry persists one audit record. Uses a single ACID write
// transaction.
func (d *DB) AppendAuditEntry(rec AuditRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("AppendAuditEntry marshal: %w", err)
	}
	key := sortableKey(rec.Timestamp, fmt.Sprintf("%020d", rec.Seq))
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAuditTrail))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("AppendAuditEntry bolt.Put: %w", err)
		}
		return nil
	})
}

// ReadAuditTrail returns every persisted audit record in chronological order.
func (d *DB) ReadAuditTrail() ([]AuditRecord, error) {
	var records []AuditRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAuditTrail))
		return b.ForEach(func(_, v []byte) error {
			var rec AuditRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

// ─── Event log operations ─────────────────────────────────────────────────────

// AppendEvent persists one event log record.
func (d *DB) AppendEvent(rec EventRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("AppendEvent marshal: %w", err)
	}
	key := sortableKey(rec.Timestamp, rec.EventID)
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEventLog))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("AppendEvent bolt.Put: %w", err)
		}
		return nil
	})
}

// ReadEvents returns every persisted event record in chronological order.
func (d *DB) ReadEvents() ([]EventRecord, error) {
	var records []EventRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEventLog))
		return b.ForEach(func(_, v []byte) error {
			var rec EventRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

// PruneOldEntries deletes audit and event records older than retentionDays.
// Returns the total number of entries deleted.
func (d *DB) PruneOldEntries() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -d.retentionDays)
	cutoffKey := sortableKey(cutoff, "")

	var deleted int
	err := d.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{bucketAuditTrail, bucketEventLog} {
			b := tx.Bucket([]byte(bucket))
			c := b.Cursor()
			var toDelete [][]byte
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				if string(k) >= string(cutoffKey) {
					break
				}
				keyCopy := make([]byte, len(k))
				copy(keyCopy, k)
				toDelete = append(toDelete, keyCopy)
			}
			for _, k := range toDelete {
				if err := b.Delete(k); err != nil {
					return fmt.Errorf("PruneOldEntries delete from %s: %w", bucket, err)
				}
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}
