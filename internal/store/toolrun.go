package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// ToolRunRecord is one capability invocation attempt.
type ToolRunRecord struct {
	ToolRunID      string
	TurnID         string
	StepIndex      int
	Capability     string
	Status         string
	IdempotencyKey string
	Args           json.RawMessage
	Result         json.RawMessage
	ErrorCode      string
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// CreateToolRun inserts a new tool run row. The idempotency key is unique;
// callers must check GetToolRunByIdempotencyKey first when retrying.
func (db *DB) CreateToolRun(record ToolRunRecord) error {
	args := record.Args
	if args == nil {
		args = json.RawMessage("{}")
	}
	_, err := db.Exec(
		`INSERT INTO tool_runs (tool_run_id, turn_id, step_index, capability, status, idempotency_key, args, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ToolRunID, record.TurnID, record.StepIndex, record.Capability,
		record.Status, record.IdempotencyKey, string(args), record.StartedAt,
	)
	return err
}

// UpdateToolRunStatus moves a tool run through its lifecycle.
func (db *DB) UpdateToolRunStatus(toolRunID, status string) error {
	result, err := db.Exec(`UPDATE tool_runs SET status = ? WHERE tool_run_id = ?`, status, toolRunID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// FinishToolRun records the terminal status, result payload and error code.
func (db *DB) FinishToolRun(toolRunID, status string, result json.RawMessage, errorCode string, finishedAt time.Time) error {
	var resultText any
	if result != nil {
		resultText = string(result)
	}
	res, err := db.Exec(
		`UPDATE tool_runs SET status = ?, result = ?, error_code = ?, finished_at = ? WHERE tool_run_id = ?`,
		status, resultText, errorCode, finishedAt, toolRunID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// GetToolRunByIdempotencyKey returns the prior attempt sharing the key, if
// any. A prior succeeded row short-circuits retries to its recorded result.
func (db *DB) GetToolRunByIdempotencyKey(idempotencyKey string) (*ToolRunRecord, error) {
	return db.scanToolRun(db.QueryRow(
		`SELECT tool_run_id, turn_id, step_index, capability, status, idempotency_key, args, result, error_code, started_at, finished_at
		 FROM tool_runs WHERE idempotency_key = ?`, idempotencyKey,
	))
}

// ListToolRuns returns all invocation attempts recorded for a turn, ordered
// by step.
func (db *DB) ListToolRuns(turnID string) ([]ToolRunRecord, error) {
	rows, err := db.Query(
		`SELECT tool_run_id, turn_id, step_index, capability, status, idempotency_key, args, result, error_code, started_at, finished_at
		 FROM tool_runs WHERE turn_id = ? ORDER BY step_index, started_at`, turnID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ToolRunRecord
	for rows.Next() {
		record, err := scanToolRunRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func (db *DB) scanToolRun(row *sql.Row) (*ToolRunRecord, error) {
	record, err := scanToolRunRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return record, err
}

func scanToolRunRow(scan func(...any) error) (*ToolRunRecord, error) {
	var record ToolRunRecord
	var args string
	var result, errorCode sql.NullString
	var finishedAt sql.NullTime

	err := scan(
		&record.ToolRunID, &record.TurnID, &record.StepIndex, &record.Capability,
		&record.Status, &record.IdempotencyKey, &args, &result, &errorCode,
		&record.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Args = json.RawMessage(args)
	if result.Valid {
		record.Result = json.RawMessage(result.String)
	}
	record.ErrorCode = errorCode.String
	if finishedAt.Valid {
		record.FinishedAt = &finishedAt.Time
	}
	return &record, nil
}
