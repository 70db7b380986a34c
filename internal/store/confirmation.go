package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// ConfirmationRecord is one pending (or resolved) write confirmation.
type ConfirmationRecord struct {
	ConfirmationRequestID string
	TurnID                string
	StepIndex             int
	ActionType            string
	Preview               string
	Status                string
	EditedArgs            json.RawMessage
	CreatedAt             time.Time
	ExpiresAt             time.Time
	ResolvedAt            *time.Time
}

// CreateConfirmation inserts a pending confirmation request.
func (db *DB) CreateConfirmation(record ConfirmationRecord) error {
	_, err := db.Exec(
		`INSERT INTO confirmation_requests (confirmation_request_id, turn_id, step_index, action_type, preview, status, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ConfirmationRequestID, record.TurnID, record.StepIndex,
		record.ActionType, record.Preview, record.Status,
		record.CreatedAt, record.ExpiresAt,
	)
	return err
}

// ResolveConfirmation records the decision for a pending request. It only
// transitions rows still pending so a late decision cannot overwrite an
// expiry (or the reverse).
func (db *DB) ResolveConfirmation(confirmationRequestID, status string, editedArgs json.RawMessage, resolvedAt time.Time) error {
	var edited any
	if editedArgs != nil {
		edited = string(editedArgs)
	}
	result, err := db.Exec(
		`UPDATE confirmation_requests SET status = ?, edited_args = ?, resolved_at = ?
		 WHERE confirmation_request_id = ? AND status = 'pending'`,
		status, edited, resolvedAt, confirmationRequestID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// GetConfirmation loads a confirmation request by ID.
func (db *DB) GetConfirmation(confirmationRequestID string) (*ConfirmationRecord, error) {
	var record ConfirmationRecord
	var editedArgs sql.NullString
	var resolvedAt sql.NullTime

	err := db.QueryRow(
		`SELECT confirmation_request_id, turn_id, step_index, action_type, preview, status, edited_args, created_at, expires_at, resolved_at
		 FROM confirmation_requests WHERE confirmation_request_id = ?`, confirmationRequestID,
	).Scan(
		&record.ConfirmationRequestID, &record.TurnID, &record.StepIndex,
		&record.ActionType, &record.Preview, &record.Status,
		&editedArgs, &record.CreatedAt, &record.ExpiresAt, &resolvedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if editedArgs.Valid {
		record.EditedArgs = json.RawMessage(editedArgs.String)
	}
	if resolvedAt.Valid {
		record.ResolvedAt = &resolvedAt.Time
	}
	return &record, nil
}
