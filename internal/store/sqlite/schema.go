package sqlite

import "database/sql"

// Schema is the full DDL for the realtime layer. Every statement is
// idempotent so applying it to an existing database is safe.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	display_name  TEXT NOT NULL DEFAULT '',
	avatar_url    TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	is_guest      BOOLEAN NOT NULL DEFAULT 0,
	session_id    TEXT,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS call_sessions (
	id           TEXT PRIMARY KEY,
	context_type TEXT NOT NULL,
	context_id   INTEGER NOT NULL,
	initiator_id INTEGER NOT NULL REFERENCES users(id),
	status       TEXT NOT NULL DEFAULT 'waiting',
	started_at   DATETIME NOT NULL,
	ended_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_call_sessions_context
	ON call_sessions(context_type, context_id, status);

CREATE TABLE IF NOT EXISTS call_participants (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES call_sessions(id),
	user_id    INTEGER NOT NULL REFERENCES users(id),
	joined_at  DATETIME NOT NULL,
	left_at    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_call_participants_session
	ON call_participants(session_id, user_id);

CREATE TABLE IF NOT EXISTS cluster_messages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	cluster_id   INTEGER NOT NULL,
	user_id      INTEGER NOT NULL REFERENCES users(id),
	message      TEXT NOT NULL,
	message_type TEXT NOT NULL DEFAULT 'text',
	metadata     TEXT NOT NULL DEFAULT '{}',
	read_by      TEXT NOT NULL DEFAULT '[]',
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cluster_messages_scope ON cluster_messages(cluster_id, id);

CREATE TABLE IF NOT EXISTS fyp_messages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	fyp_id       INTEGER NOT NULL,
	user_id      INTEGER NOT NULL REFERENCES users(id),
	message      TEXT NOT NULL,
	message_type TEXT NOT NULL DEFAULT 'text',
	metadata     TEXT NOT NULL DEFAULT '{}',
	read_by      TEXT NOT NULL DEFAULT '[]',
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fyp_messages_scope ON fyp_messages(fyp_id, id);

CREATE TABLE IF NOT EXISTS project_messages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id   INTEGER NOT NULL,
	user_id      INTEGER NOT NULL REFERENCES users(id),
	message      TEXT NOT NULL,
	message_type TEXT NOT NULL DEFAULT 'text',
	metadata     TEXT NOT NULL DEFAULT '{}',
	read_by      TEXT NOT NULL DEFAULT '[]',
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_project_messages_scope ON project_messages(project_id, id);
`

// Migrate applies the schema to the given database.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
