package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/leonardotrapani/callscribe/internal/conversation"
	"github.com/leonardotrapani/callscribe/internal/dispatch"
)

const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Record is one archived batch and what became of it.
type Record struct {
	ID         int64     `json:"id"`
	BatchID    string    `json:"batch_id"`
	CreatedAt  time.Time `json:"created_at"`
	Reason     string    `json:"reason"`
	Lines      int       `json:"lines"`
	Text       string    `json:"text"`
	Status     string    `json:"status"`
	Response   string    `json:"response,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// Store keeps every dispatched batch in a SQLite database.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger.WithPrefix("archive")}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS batches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			reason TEXT NOT NULL,
			lines INTEGER NOT NULL,
			text TEXT NOT NULL,
			status TEXT NOT NULL,
			response TEXT,
			error TEXT,
			duration_ms INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create batches table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_batches_created_at ON batches(created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create created_at index: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert adds a record and returns its row id.
func (s *Store) Insert(ctx context.Context, r Record) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO batches
		(batch_id, created_at, reason, lines, text, status, response, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.BatchID,
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
		r.Reason,
		r.Lines,
		r.Text,
		r.Status,
		r.Response,
		r.Error,
		r.DurationMs,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert batch: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// Dispatched implements dispatch.Observer. Archive failures are logged only.
func (s *Store) Dispatched(batch conversation.Batch, result dispatch.Result, err error, took time.Duration) {
	r := Record{
		BatchID:    batch.ID,
		CreatedAt:  batch.CreatedAt,
		Reason:     string(batch.Reason),
		Lines:      batch.Len(),
		Text:       batch.Text(),
		Status:     StatusDelivered,
		Response:   result.Response,
		DurationMs: took.Milliseconds(),
	}
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, storeErr := s.Insert(ctx, r); storeErr != nil {
		s.logger.Warn("failed to archive batch", "batch", batch.ID, "err", storeErr)
	}
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, created_at, reason, lines, text, status,
			COALESCE(response, ''), COALESCE(error, ''), duration_ms
		FROM batches ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var createdAt string
		if err := rows.Scan(&r.ID, &r.BatchID, &createdAt, &r.Reason, &r.Lines, &r.Text, &r.Status,
			&r.Response, &r.Error, &r.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at of batch %s: %w", r.BatchID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
