package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS generation_audit (
	id                TEXT PRIMARY KEY,
	content_type      TEXT NOT NULL,
	schema_name       TEXT NOT NULL,
	strategy          TEXT,
	attempted         TEXT,
	stop_reason       TEXT,
	prompt            TEXT NOT NULL,
	system_prompt     TEXT,
	generated_text    TEXT NOT NULL,
	user_id           TEXT,
	child_id          TEXT,
	context_tag       TEXT,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	calls             INTEGER NOT NULL DEFAULT 0,
	duration_ms       INTEGER NOT NULL DEFAULT 0,
	fallback          INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_generation_audit_created ON generation_audit(created_at);
CREATE INDEX IF NOT EXISTS idx_generation_audit_user ON generation_audit(user_id);
`

// SQLiteSink appends audits to a SQLite table.
type SQLiteSink struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewSQLiteSink opens or creates the database at path and ensures the
// audit table exists.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite audit sink requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; sqlite serializes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteSink{db: db, path: path}, nil
}

// Record implements Sink.
func (s *SQLiteSink) Record(ctx context.Context, a GenerationAudit) error {
	a = a.Stamp()
	attempted, err := json.Marshal(a.Attempted)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO generation_audit (
			id, content_type, schema_name, strategy, attempted, stop_reason,
			prompt, system_prompt, generated_text, user_id, child_id, context_tag,
			prompt_tokens, completion_tokens, calls, duration_ms, fallback, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ContentType, a.Schema, a.Strategy, string(attempted), a.StopReason,
		a.Prompt, a.SystemPrompt, a.GeneratedText, a.UserID, a.ChildID, a.ContextTag,
		a.PromptTokens, a.CompletionTokens, a.Calls, a.Duration.Milliseconds(), a.Fallback,
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert audit %s: %w", a.ID, err)
	}
	return nil
}

// Recent returns up to limit audits, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]GenerationAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content_type, schema_name, strategy, attempted, stop_reason,
			prompt, system_prompt, generated_text, user_id, child_id, context_tag,
			prompt_tokens, completion_tokens, calls, duration_ms, fallback, created_at
		FROM generation_audit ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GenerationAudit
	for rows.Next() {
		var (
			a          GenerationAudit
			attempted  string
			durationMS int64
			createdAt  string
		)
		err := rows.Scan(&a.ID, &a.ContentType, &a.Schema, &a.Strategy, &attempted, &a.StopReason,
			&a.Prompt, &a.SystemPrompt, &a.GeneratedText, &a.UserID, &a.ChildID, &a.ContextTag,
			&a.PromptTokens, &a.CompletionTokens, &a.Calls, &durationMS, &a.Fallback, &createdAt)
		if err != nil {
			return nil, err
		}
		if attempted != "" && attempted != "null" {
			if err := json.Unmarshal([]byte(attempted), &a.Attempted); err != nil {
				return nil, fmt.Errorf("decode attempted for %s: %w", a.ID, err)
			}
		}
		a.Duration = time.Duration(durationMS) * time.Millisecond
		if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Path returns the database file path.
func (s *SQLiteSink) Path() string {
	return s.path
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
