package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// SetCheckpoint updates a sync checkpoint value.
func (db *DB) SetCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// Checkpoint retrieves a sync checkpoint value. ok is false when it was never set.
func (db *DB) Checkpoint(key string) (value string, ok bool, err error) {
	err = db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func seqKey(companyID int64) string {
	return fmt.Sprintf("realtime.last_seq.%d", companyID)
}

// LastSeq returns the last live-channel sequence number seen for a tenant.
func (db *DB) LastSeq(companyID int64) (uint64, error) {
	v, ok, err := db.Checkpoint(seqKey(companyID))
	if err != nil || !ok {
		return 0, err
	}
	seq, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse checkpoint %q: %w", v, err)
	}
	return seq, nil
}

// SaveLastSeq stores the last live-channel sequence number seen for a tenant.
func (db *DB) SaveLastSeq(companyID int64, seq uint64) error {
	return db.SetCheckpoint(seqKey(companyID), strconv.FormatUint(seq, 10))
}
