package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"engiero/internal/idgen"
	"engiero/internal/snapshot"
	"engiero/internal/storage"
)

// SQLiteStorage implements storage.Storage using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

var _ storage.Storage = (*SQLiteStorage)(nil)

// New creates a new SQLite storage instance
func New(dbPath string) (*SQLiteStorage, error) {
	// SQLite will store times as UTC strings, we'll convert in app layer
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; pollers for several entries share the handle
	db.SetMaxOpenConns(1)

	storage := &SQLiteStorage{db: db}

	if err := storage.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return storage, nil
}

// migrate creates the database schema
func (s *SQLiteStorage) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
			entry_id TEXT PRIMARY KEY,
			fetched_at DATETIME NOT NULL,
			payload TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS cycle_runs (
			id TEXT PRIMARY KEY,
			entry_id TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			duration_ms INTEGER NOT NULL,
			success INTEGER NOT NULL,
			error TEXT,
			section_errors INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_cycle_runs_entry ON cycle_runs(entry_id, started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveSnapshot stores the snapshot as the entry's last good one. The access
// token is redacted before it reaches the database.
func (s *SQLiteStorage) SaveSnapshot(ctx context.Context, entryID string, snap *snapshot.Snapshot) error {
	payload, err := snapshot.Marshal(snap.Redacted())
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (entry_id, fetched_at, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET
			fetched_at = excluded.fetched_at,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, entryID, snap.FetchedAt.UTC(), string(payload), time.Now().UTC())

	return err
}

// LatestSnapshot returns the stored snapshot for an entry
func (s *SQLiteStorage) LatestSnapshot(ctx context.Context, entryID string) (*snapshot.Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM snapshots WHERE entry_id = ?
	`, entryID).Scan(&payload)

	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	snap, err := snapshot.Unmarshal([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// DeleteSnapshot removes the stored snapshot for an entry
func (s *SQLiteStorage) DeleteSnapshot(ctx context.Context, entryID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE entry_id = ?", entryID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// RecordCycle appends a cycle run. An empty ID is generated.
func (s *SQLiteStorage) RecordCycle(ctx context.Context, run *storage.CycleRun) error {
	if run.ID == "" {
		run.ID = idgen.NewCycle()
	}

	var errText sql.NullString
	if run.Error != "" {
		errText = sql.NullString{String: run.Error, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cycle_runs (id, entry_id, started_at, duration_ms, success, error, section_errors)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.EntryID, run.StartedAt.UTC(), run.Duration.Milliseconds(), run.Success, errText, run.SectionErrors)

	return err
}

// ListCycles returns the most recent cycle runs for an entry, newest first
func (s *SQLiteStorage) ListCycles(ctx context.Context, entryID string, limit int) ([]*storage.CycleRun, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_id, started_at, duration_ms, success, error, section_errors
		FROM cycle_runs
		WHERE entry_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, entryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*storage.CycleRun
	for rows.Next() {
		var run storage.CycleRun
		var durationMS int64
		var errText sql.NullString

		if err := rows.Scan(&run.ID, &run.EntryID, &run.StartedAt, &durationMS,
			&run.Success, &errText, &run.SectionErrors); err != nil {
			return nil, err
		}

		run.Duration = time.Duration(durationMS) * time.Millisecond
		if errText.Valid {
			run.Error = errText.String
		}
		runs = append(runs, &run)
	}

	return runs, rows.Err()
}

// PruneCycles deletes cycle runs started before the cutoff
func (s *SQLiteStorage) PruneCycles(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM cycle_runs WHERE started_at < ?", before.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
