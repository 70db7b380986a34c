package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// CacheEntryRecord is one externally-synced resource snapshot.
type CacheEntryRecord struct {
	Identity     string
	ResourceType string
	ResourceID   string
	Payload      json.RawMessage
	UpdatedAt    time.Time
}

// SyncCursorRecord is the incremental-sync position for one
// (identity, resource_type) pair.
type SyncCursorRecord struct {
	Identity     string
	ResourceType string
	Cursor       string
	LastSyncTS   time.Time
}

// ApplyCacheBatch upserts one incremental-sync batch and advances the
// cursor in a single transaction. A failure anywhere rolls back both, so
// the cursor never moves past the last fully applied batch. Re-applying the
// same batch is a no-op beyond refreshed timestamps.
func (db *DB) ApplyCacheBatch(identity, resourceType string, entries []CacheEntryRecord, cursor string, syncTS time.Time) error {
	return db.WithTx(func(tx *Tx) error {
		for _, entry := range entries {
			payload := entry.Payload
			if payload == nil {
				payload = json.RawMessage("{}")
			}
			if _, err := tx.Exec(
				`INSERT INTO cache_entries (identity, resource_type, resource_id, payload, updated_at)
				 VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(identity, resource_type, resource_id)
				 DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
				identity, resourceType, entry.ResourceID, string(payload), syncTS,
			); err != nil {
				return err
			}
		}

		_, err := tx.Exec(
			`INSERT INTO sync_cursors (identity, resource_type, cursor, last_sync_ts)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(identity, resource_type)
			 DO UPDATE SET cursor = excluded.cursor, last_sync_ts = excluded.last_sync_ts`,
			identity, resourceType, cursor, syncTS,
		)
		return err
	})
}

// DeleteCacheEntries removes tombstoned resources reported by an
// incremental sync.
func (db *DB) DeleteCacheEntries(identity, resourceType string, resourceIDs []string) error {
	return db.WithTx(func(tx *Tx) error {
		for _, resourceID := range resourceIDs {
			if _, err := tx.Exec(
				`DELETE FROM cache_entries WHERE identity = ? AND resource_type = ? AND resource_id = ?`,
				identity, resourceType, resourceID,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListCacheEntries returns cached entries for the identity/resource pair,
// most recently updated first.
func (db *DB) ListCacheEntries(identity, resourceType string, limit int) ([]CacheEntryRecord, error) {
	rows, err := db.Query(
		`SELECT identity, resource_type, resource_id, payload, updated_at
		 FROM cache_entries WHERE identity = ? AND resource_type = ?
		 ORDER BY updated_at DESC LIMIT ?`,
		identity, resourceType, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CacheEntryRecord
	for rows.Next() {
		var entry CacheEntryRecord
		var payload string
		if err := rows.Scan(&entry.Identity, &entry.ResourceType, &entry.ResourceID, &payload, &entry.UpdatedAt); err != nil {
			return nil, err
		}
		entry.Payload = json.RawMessage(payload)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetSyncCursor returns the stored cursor for the identity/resource pair.
func (db *DB) GetSyncCursor(identity, resourceType string) (*SyncCursorRecord, error) {
	var record SyncCursorRecord
	err := db.QueryRow(
		`SELECT identity, resource_type, cursor, last_sync_ts FROM sync_cursors
		 WHERE identity = ? AND resource_type = ?`,
		identity, resourceType,
	).Scan(&record.Identity, &record.ResourceType, &record.Cursor, &record.LastSyncTS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// PurgeIdentity removes all cached state for an identity. Used on account
// teardown only.
func (db *DB) PurgeIdentity(identity string) error {
	return db.WithTx(func(tx *Tx) error {
		if _, err := tx.Exec(`DELETE FROM cache_entries WHERE identity = ?`, identity); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM sync_cursors WHERE identity = ?`, identity)
		return err
	})
}
