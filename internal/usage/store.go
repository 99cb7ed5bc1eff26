// Package usage persists per-request accounting records. It stores request
// metadata and token counts only, never conversation content.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Record is one completed (or failed) gateway request.
type Record struct {
	ID           string    `json:"id"`
	MessageID    string    `json:"message_id,omitempty"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Streaming    bool      `json:"streaming"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	StopReason   string    `json:"stop_reason,omitempty"`
	Status       string    `json:"status"`
	DurationNS   int64     `json:"duration_ns"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is a SQLite-backed usage store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the usage database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	query := `CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		message_id TEXT,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		streaming INTEGER NOT NULL DEFAULT 0,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		stop_reason TEXT,
		status TEXT NOT NULL,
		duration_ns INTEGER,
		created_at TIMESTAMP NOT NULL
	)`
	if _, err := s.db.Exec(query); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_usage_created_at ON usage_records(created_at)`)
	return err
}

// Save inserts one record. A zero ID and CreatedAt are filled in.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	streaming := 0
	if rec.Streaming {
		streaming = 1
	}

	query := `INSERT INTO usage_records (
		id, message_id, provider, model, streaming,
		input_tokens, output_tokens, stop_reason, status, duration_ns, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.MessageID, rec.Provider, rec.Model, streaming,
		rec.InputTokens, rec.OutputTokens, rec.StopReason, rec.Status,
		rec.DurationNS, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save usage record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Record, error) {
	query := `SELECT id, message_id, provider, model, streaming,
		input_tokens, output_tokens, stop_reason, status, duration_ns, created_at
	FROM usage_records ORDER BY created_at DESC, id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var rec Record
		var streaming int
		var stopReason sql.NullString
		if err := rows.Scan(&rec.ID, &rec.MessageID, &rec.Provider, &rec.Model, &streaming,
			&rec.InputTokens, &rec.OutputTokens, &stopReason, &rec.Status,
			&rec.DurationNS, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		rec.Streaming = streaming != 0
		rec.StopReason = stopReason.String
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
