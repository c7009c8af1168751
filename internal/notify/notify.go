// Package notify tells the user when an entry needs new credentials.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Kind identifies a notification
type Kind string

const (
	KindReauthRequired Kind = "reauth_required"
	KindRecovered      Kind = "recovered"
)

// Event is one user-facing notification
type Event struct {
	EntryID   string
	EntryName string
	Kind      Kind
	Err       error
	At        time.Time
}

// Notifier delivers events
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Format renders an event as a short plain-text message.
func Format(e Event) string {
	var sb strings.Builder
	name := e.EntryName
	if name == "" {
		name = e.EntryID
	}

	switch e.Kind {
	case KindReauthRequired:
		sb.WriteString(fmt.Sprintf("🔑 ENGIE account %q needs new credentials.\n", name))
		if e.Err != nil {
			sb.WriteString(fmt.Sprintf("Reason: %s\n", e.Err))
		}
		sb.WriteString("Update the entry configuration and run: engiero login --entry " + e.EntryID)
	case KindRecovered:
		sb.WriteString(fmt.Sprintf("✅ ENGIE account %q is refreshing again.", name))
	default:
		sb.WriteString(fmt.Sprintf("ENGIE account %q: %s", name, e.Kind))
	}

	if !e.At.IsZero() {
		sb.WriteString(fmt.Sprintf("\n%s", e.At.Format("2006-01-02 15:04 MST")))
	}
	return sb.String()
}

// LogNotifier writes events to the log
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, e Event) error {
	n.logger.Warn("Entry notification",
		"entry_id", e.EntryID,
		"kind", string(e.Kind),
		"error", e.Err)
	return nil
}

// Dedup forwards a reauth event once per failure streak and a recovery
// event only after a reauth event was sent.
type Dedup struct {
	next Notifier

	mu      sync.Mutex
	pending map[string]bool
}

// NewDedup wraps next
func NewDedup(next Notifier) *Dedup {
	return &Dedup{next: next, pending: make(map[string]bool)}
}

func (d *Dedup) Notify(ctx context.Context, e Event) error {
	d.mu.Lock()
	switch e.Kind {
	case KindReauthRequired:
		if d.pending[e.EntryID] {
			d.mu.Unlock()
			return nil
		}
		d.pending[e.EntryID] = true
	case KindRecovered:
		if !d.pending[e.EntryID] {
			d.mu.Unlock()
			return nil
		}
		delete(d.pending, e.EntryID)
	}
	d.mu.Unlock()

	return d.next.Notify(ctx, e)
}
