// ABOUTME: SQLite ledger of generation requests using modernc.org/sqlite
// ABOUTME: Records kind, model, outcome, token counts and latency per request

package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record is one generation request that reached the API.
type Record struct {
	ID               string
	RequestID        string
	Kind             string // "chat" or "image"
	Model            string
	ConversationID   string
	ThreadID         string
	Status           string
	PromptTokens     int64
	CompletionTokens int64
	Latency          time.Duration
	CreatedAt        time.Time
}

// Totals aggregates ledger rows.
type Totals struct {
	Requests         int64
	Rejected         int64
	PromptTokens     int64
	CompletionTokens int64
}

// Ledger stores usage records in SQLite.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "usage")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Conversations save concurrently; one connection serializes the writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	l := &Ledger{db: db, logger: logger}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("usage ledger initialized", "path", path)
	return l, nil
}

func (l *Ledger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS generation_usage (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			model TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			thread_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,

			CHECK (kind IN ('chat', 'image'))
		);

		CREATE INDEX IF NOT EXISTS idx_generation_usage_conversation
			ON generation_usage(conversation_id, created_at);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Save stores a usage record.
func (l *Ledger) Save(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO generation_usage (
			id, request_id, kind, model, conversation_id, thread_id, status,
			prompt_tokens, completion_tokens, latency_ms, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := l.db.ExecContext(ctx, query,
		rec.ID,
		rec.RequestID,
		rec.Kind,
		rec.Model,
		rec.ConversationID,
		rec.ThreadID,
		rec.Status,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.Latency.Milliseconds(),
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	l.logger.Debug("saved generation usage",
		"id", rec.ID,
		"kind", rec.Kind,
		"status", rec.Status,
		"prompt_tokens", rec.PromptTokens,
		"completion_tokens", rec.CompletionTokens,
	)
	return nil
}

// conversationRecords returns a conversation's records oldest first.
func (l *Ledger) conversationRecords(ctx context.Context, conversationID string) ([]*Record, error) {
	query := `
		SELECT id, request_id, kind, model, conversation_id, thread_id, status,
		       prompt_tokens, completion_tokens, latency_ms, created_at
		FROM generation_usage
		WHERE conversation_id = ?
		ORDER BY created_at ASC
	`

	rows, err := l.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		var (
			rec       Record
			latencyMS int64
			createdAt string
		)
		if err := rows.Scan(
			&rec.ID, &rec.RequestID, &rec.Kind, &rec.Model, &rec.ConversationID, &rec.ThreadID, &rec.Status,
			&rec.PromptTokens, &rec.CompletionTokens, &latencyMS, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning usage: %w", err)
		}
		rec.Latency = time.Duration(latencyMS) * time.Millisecond
		rec.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}

	return records, nil
}

// Totals aggregates every record created at or after since.
// A zero since covers the whole ledger.
func (l *Ledger) Totals(ctx context.Context, since time.Time) (*Totals, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0)
		FROM generation_usage
		WHERE created_at >= ?
	`

	var from string
	if !since.IsZero() {
		from = since.UTC().Format(timeLayout)
	}

	var t Totals
	err := l.db.QueryRowContext(ctx, query, from).Scan(
		&t.Requests,
		&t.Rejected,
		&t.PromptTokens,
		&t.CompletionTokens,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage totals: %w", err)
	}
	return &t, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
