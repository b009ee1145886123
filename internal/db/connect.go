package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// DB wraps sql.DB with the driver so stores can rebind placeholders.
type DB struct {
	*sql.DB
	Driver Driver
}

// Rebind rewrites ? placeholders to $1..$n for postgres. Queries are
// written in sqlite style throughout the stores.
func (d *DB) Rebind(query string) string {
	if d.Driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:tutor.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/tutor?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	raw, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := raw.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := ensureSchema(ctx, raw, driver); err != nil {
		return nil, err
	}
	return &DB{DB: raw, Driver: driver}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS resource_configs (
  resource_id TEXT PRIMARY KEY,
  mode TEXT NOT NULL DEFAULT 'tutor',
  tutor_prompt TEXT NOT NULL DEFAULT '',
  quiz_json TEXT NOT NULL DEFAULT '[]',
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS config_templates (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  context_id TEXT,
  mode TEXT NOT NULL DEFAULT 'tutor',
  tutor_prompt TEXT NOT NULL DEFAULT '',
  quiz_json TEXT NOT NULL DEFAULT '[]',
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tutor_sessions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  context_id TEXT,
  resource_id TEXT,
  topic TEXT,
  started_at INTEGER NOT NULL,
  ended_at INTEGER
);

CREATE TABLE IF NOT EXISTS messages (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL REFERENCES tutor_sessions(id) ON DELETE CASCADE,
  role TEXT NOT NULL,
  content TEXT NOT NULL,
  message_type TEXT NOT NULL DEFAULT 'chat',
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS quiz_responses (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  context_id TEXT,
  resource_id TEXT,
  question_id TEXT NOT NULL,
  question_text TEXT,
  student_answer TEXT NOT NULL,
  correct_answer TEXT,
  is_correct INTEGER NOT NULL DEFAULT 0,
  ai_feedback TEXT,
  score REAL NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS learning_analytics (
  user_id TEXT NOT NULL,
  context_id TEXT NOT NULL DEFAULT '',
  topic TEXT NOT NULL DEFAULT '',
  total_attempts INTEGER NOT NULL DEFAULT 0,
  correct_attempts INTEGER NOT NULL DEFAULT 0,
  average_score REAL NOT NULL DEFAULT 0,
  predicted_performance REAL,
  difficulty_level TEXT NOT NULL DEFAULT 'medium',
  needs_intervention INTEGER NOT NULL DEFAULT 0,
  intervention_reason TEXT,
  last_activity INTEGER NOT NULL,
  PRIMARY KEY (user_id, context_id, topic)
);

CREATE TABLE IF NOT EXISTS adaptive_memory (
  user_id TEXT NOT NULL,
  resource_id TEXT NOT NULL,
  summary TEXT NOT NULL DEFAULT '',
  last_topics TEXT NOT NULL DEFAULT '[]',
  weak_areas TEXT NOT NULL DEFAULT '[]',
  strong_areas TEXT NOT NULL DEFAULT '[]',
  session_count INTEGER NOT NULL DEFAULT 0,
  total_messages INTEGER NOT NULL DEFAULT 0,
  average_quiz_score REAL,
  last_seen INTEGER,
  PRIMARY KEY (user_id, resource_id)
);

CREATE TABLE IF NOT EXISTS documents (
  id TEXT PRIMARY KEY,
  resource_id TEXT NOT NULL,
  filename TEXT NOT NULL,
  blob_key TEXT NOT NULL,
  num_chunks INTEGER NOT NULL DEFAULT 0,
  uploaded_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS document_chunks (
  doc_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
  resource_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  content TEXT NOT NULL,
  PRIMARY KEY (doc_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_chunks_resource ON document_chunks(resource_id);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS resource_configs (
  resource_id TEXT PRIMARY KEY,
  mode TEXT NOT NULL DEFAULT 'tutor',
  tutor_prompt TEXT NOT NULL DEFAULT '',
  quiz_json TEXT NOT NULL DEFAULT '[]',
  updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS config_templates (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  context_id TEXT,
  mode TEXT NOT NULL DEFAULT 'tutor',
  tutor_prompt TEXT NOT NULL DEFAULT '',
  quiz_json TEXT NOT NULL DEFAULT '[]',
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS tutor_sessions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  context_id TEXT,
  resource_id TEXT,
  topic TEXT,
  started_at BIGINT NOT NULL,
  ended_at BIGINT
);

CREATE TABLE IF NOT EXISTS messages (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL REFERENCES tutor_sessions(id) ON DELETE CASCADE,
  role TEXT NOT NULL,
  content TEXT NOT NULL,
  message_type TEXT NOT NULL DEFAULT 'chat',
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS quiz_responses (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  context_id TEXT,
  resource_id TEXT,
  question_id TEXT NOT NULL,
  question_text TEXT,
  student_answer TEXT NOT NULL,
  correct_answer TEXT,
  is_correct INTEGER NOT NULL DEFAULT 0,
  ai_feedback TEXT,
  score DOUBLE PRECISION NOT NULL DEFAULT 0,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS learning_analytics (
  user_id TEXT NOT NULL,
  context_id TEXT NOT NULL DEFAULT '',
  topic TEXT NOT NULL DEFAULT '',
  total_attempts INTEGER NOT NULL DEFAULT 0,
  correct_attempts INTEGER NOT NULL DEFAULT 0,
  average_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  predicted_performance DOUBLE PRECISION,
  difficulty_level TEXT NOT NULL DEFAULT 'medium',
  needs_intervention INTEGER NOT NULL DEFAULT 0,
  intervention_reason TEXT,
  last_activity BIGINT NOT NULL,
  PRIMARY KEY (user_id, context_id, topic)
);

CREATE TABLE IF NOT EXISTS adaptive_memory (
  user_id TEXT NOT NULL,
  resource_id TEXT NOT NULL,
  summary TEXT NOT NULL DEFAULT '',
  last_topics TEXT NOT NULL DEFAULT '[]',
  weak_areas TEXT NOT NULL DEFAULT '[]',
  strong_areas TEXT NOT NULL DEFAULT '[]',
  session_count INTEGER NOT NULL DEFAULT 0,
  total_messages INTEGER NOT NULL DEFAULT 0,
  average_quiz_score DOUBLE PRECISION,
  last_seen BIGINT,
  PRIMARY KEY (user_id, resource_id)
);

CREATE TABLE IF NOT EXISTS documents (
  id TEXT PRIMARY KEY,
  resource_id TEXT NOT NULL,
  filename TEXT NOT NULL,
  blob_key TEXT NOT NULL,
  num_chunks INTEGER NOT NULL DEFAULT 0,
  uploaded_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS document_chunks (
  doc_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
  resource_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  content TEXT NOT NULL,
  PRIMARY KEY (doc_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_chunks_resource ON document_chunks(resource_id);
`
