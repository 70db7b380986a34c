package store

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	turn_id        TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL,
	thread_id      TEXT,
	request_key    TEXT UNIQUE,
	input_mode     TEXT NOT NULL,
	pipeline       TEXT NOT NULL DEFAULT '',
	execution_mode TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL,
	turn_seq       INTEGER NOT NULL,
	outcome        TEXT,
	error_code     TEXT,
	started_at     TIMESTAMP NOT NULL,
	ended_at       TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, turn_seq);

CREATE TABLE IF NOT EXISTS tool_runs (
	tool_run_id     TEXT PRIMARY KEY,
	turn_id         TEXT NOT NULL,
	step_index      INTEGER NOT NULL,
	capability      TEXT NOT NULL,
	status          TEXT NOT NULL,
	idempotency_key TEXT NOT NULL UNIQUE,
	args            TEXT NOT NULL DEFAULT '{}',
	result          TEXT,
	error_code      TEXT,
	started_at      TIMESTAMP NOT NULL,
	finished_at     TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tool_runs_turn ON tool_runs(turn_id, step_index);

CREATE TABLE IF NOT EXISTS confirmation_requests (
	confirmation_request_id TEXT PRIMARY KEY,
	turn_id                 TEXT NOT NULL,
	step_index              INTEGER NOT NULL,
	action_type             TEXT NOT NULL,
	preview                 TEXT NOT NULL DEFAULT '',
	status                  TEXT NOT NULL,
	edited_args             TEXT,
	created_at              TIMESTAMP NOT NULL,
	expires_at              TIMESTAMP NOT NULL,
	resolved_at             TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_confirmations_turn ON confirmation_requests(turn_id);

CREATE TABLE IF NOT EXISTS cache_entries (
	identity      TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id   TEXT NOT NULL,
	payload       TEXT NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	PRIMARY KEY (identity, resource_type, resource_id)
);

CREATE TABLE IF NOT EXISTS sync_cursors (
	identity      TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	cursor        TEXT NOT NULL,
	last_sync_ts  TIMESTAMP NOT NULL,
	PRIMARY KEY (identity, resource_type)
);
`
