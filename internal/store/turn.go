package store

import (
	"database/sql"
	"errors"
	"time"
)

// TurnRecord is the persisted view of a turn.
type TurnRecord struct {
	TurnID        string
	SessionID     string
	ThreadID      string
	RequestKey    string
	InputMode     string
	Pipeline      string
	ExecutionMode string
	State         string
	TurnSeq       uint64
	Outcome       string
	ErrorCode     string
	StartedAt     time.Time
	EndedAt       *time.Time
}

// CreateTurn inserts a new turn row.
func (db *DB) CreateTurn(record TurnRecord) error {
	var requestKey any
	if record.RequestKey != "" {
		requestKey = record.RequestKey
	}
	_, err := db.Exec(
		`INSERT INTO turns (turn_id, session_id, thread_id, request_key, input_mode, pipeline, execution_mode, state, turn_seq, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.TurnID, record.SessionID, record.ThreadID, requestKey,
		record.InputMode, record.Pipeline, record.ExecutionMode,
		record.State, record.TurnSeq, record.StartedAt,
	)
	return err
}

// UpdateTurnState persists a state machine transition.
func (db *DB) UpdateTurnState(turnID, state string) error {
	result, err := db.Exec(`UPDATE turns SET state = ? WHERE turn_id = ?`, state, turnID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// UpdateTurnModes persists the selector's pipeline and execution mode choice.
func (db *DB) UpdateTurnModes(turnID, pipeline, executionMode string) error {
	result, err := db.Exec(
		`UPDATE turns SET pipeline = ?, execution_mode = ? WHERE turn_id = ?`,
		pipeline, executionMode, turnID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// CompleteTurn marks the turn terminal: state, outcome and ended_at land in
// one statement so a crash cannot leave a half-finished row. The row is not
// mutated further once ended_at is set.
func (db *DB) CompleteTurn(turnID, state, outcome, errorCode string, endedAt time.Time) error {
	result, err := db.Exec(
		`UPDATE turns SET state = ?, outcome = ?, error_code = ?, ended_at = ? WHERE turn_id = ? AND ended_at IS NULL`,
		state, outcome, errorCode, endedAt, turnID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// GetTurn loads a turn by ID.
func (db *DB) GetTurn(turnID string) (*TurnRecord, error) {
	return db.scanTurn(db.QueryRow(
		`SELECT turn_id, session_id, thread_id, request_key, input_mode, pipeline, execution_mode, state, turn_seq, outcome, error_code, started_at, ended_at
		 FROM turns WHERE turn_id = ?`, turnID,
	))
}

// GetTurnByRequestKey returns the turn previously admitted for the caller's
// idempotency key, if any. Duplicate start requests resolve to this row.
func (db *DB) GetTurnByRequestKey(requestKey string) (*TurnRecord, error) {
	return db.scanTurn(db.QueryRow(
		`SELECT turn_id, session_id, thread_id, request_key, input_mode, pipeline, execution_mode, state, turn_seq, outcome, error_code, started_at, ended_at
		 FROM turns WHERE request_key = ?`, requestKey,
	))
}

// LastTurnSeq returns the highest turn_seq recorded for the session, zero if
// the session has no turns yet.
func (db *DB) LastTurnSeq(sessionID string) (uint64, error) {
	var seq uint64
	err := db.QueryRow(
		`SELECT COALESCE(MAX(turn_seq), 0) FROM turns WHERE session_id = ?`, sessionID,
	).Scan(&seq)
	return seq, err
}

func (db *DB) scanTurn(row *sql.Row) (*TurnRecord, error) {
	var record TurnRecord
	var threadID, requestKey, outcome, errorCode sql.NullString
	var endedAt sql.NullTime

	err := row.Scan(
		&record.TurnID, &record.SessionID, &threadID, &requestKey,
		&record.InputMode, &record.Pipeline, &record.ExecutionMode,
		&record.State, &record.TurnSeq, &outcome, &errorCode,
		&record.StartedAt, &endedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	record.ThreadID = threadID.String
	record.RequestKey = requestKey.String
	record.Outcome = outcome.String
	record.ErrorCode = errorCode.String
	if endedAt.Valid {
		record.EndedAt = &endedAt.Time
	}
	return &record, nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
