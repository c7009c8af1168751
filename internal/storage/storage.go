package storage

import (
	"context"
	"errors"
	"time"

	"engiero/internal/snapshot"
)

var ErrNotFound = errors.New("not found")

// CycleRun records the outcome of one refresh cycle
type CycleRun struct {
	ID            string
	EntryID       string
	StartedAt     time.Time
	Duration      time.Duration
	Success       bool
	Error         string
	SectionErrors int
}

// Storage defines the interface for data persistence
type Storage interface {
	// Snapshots (last good per entry)
	SaveSnapshot(ctx context.Context, entryID string, s *snapshot.Snapshot) error
	LatestSnapshot(ctx context.Context, entryID string) (*snapshot.Snapshot, error)
	DeleteSnapshot(ctx context.Context, entryID string) error

	// Cycle history
	RecordCycle(ctx context.Context, run *CycleRun) error
	ListCycles(ctx context.Context, entryID string, limit int) ([]*CycleRun, error)
	PruneCycles(ctx context.Context, before time.Time) (int64, error)

	// Lifecycle
	Close() error
}
