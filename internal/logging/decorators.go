package logging

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"engiero/internal/snapshot"
)

// Refresher produces one snapshot per call
type Refresher interface {
	Refresh(ctx context.Context) (*snapshot.Snapshot, error)
}

// RefresherLogger wraps a Refresher and logs every cycle
type RefresherLogger struct {
	refresher Refresher
	logger    *slog.Logger
}

// NewRefresherLogger creates a new logging decorator for a Refresher
func NewRefresherLogger(refresher Refresher, logger *slog.Logger) Refresher {
	return &RefresherLogger{
		refresher: refresher,
		logger:    logger.With("interface", "Refresher"),
	}
}

func (l *RefresherLogger) Refresh(ctx context.Context) (*snapshot.Snapshot, error) {
	start := time.Now()
	l.logger.Debug("Refresh called")

	snap, err := l.refresher.Refresh(ctx)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("Refresh failed",
			"duration", duration,
			"error", err)
		return nil, err
	}

	failed := make([]string, 0, len(snap.Errors))
	for section := range snap.Errors {
		failed = append(failed, section)
	}
	sort.Strings(failed)

	l.logger.Info("Refresh completed",
		"duration", duration,
		"places", len(snap.Places),
		"invoices", len(snap.InvoiceHistory),
		"unpaid_total", snap.UnpaidTotal,
		"failed_sections", failed)

	return snap, nil
}
