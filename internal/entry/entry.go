// Package entry wires one configured account into a running poller.
package entry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"engiero/config"
	"engiero/internal/auth"
	"engiero/internal/coordinator"
	"engiero/internal/engie"
	"engiero/internal/entities"
	"engiero/internal/idgen"
	"engiero/internal/logging"
	"engiero/internal/metrics"
	"engiero/internal/notify"
	"engiero/internal/scheduler"
	"engiero/internal/snapshot"
	"engiero/internal/storage"
)

const storeTimeout = 5 * time.Second

// Deps are the collaborators shared by every entry
type Deps struct {
	Logger   *slog.Logger
	Storage  storage.Storage
	Notifier notify.Notifier

	// Client options appended after the configured ones (tests)
	ClientOptions []engie.Option
}

// Entry is the runtime context of one configured account
type Entry struct {
	cfg    config.EntryConfig
	logger *slog.Logger
	deps   Deps

	client  *engie.Client
	auth    *auth.Manager
	orch    *coordinator.Orchestrator
	poller *scheduler.Poller

	mu      sync.Mutex
	sensors []*entities.Sensor
}

// Setup builds the entry from its configuration. The poller is not started;
// a stored snapshot, if any, is published before the first cycle.
func Setup(ctx context.Context, cfg config.EntryConfig, deps Deps) (*Entry, error) {
	if !auth.Mode(cfg.AuthMode).Valid() {
		return nil, fmt.Errorf("entry %s: %w", cfg.ID, config.ErrInvalidAuthMode)
	}

	logger := logging.ForEntry(deps.Logger, "entry", cfg.ID)
	if deps.Notifier == nil {
		deps.Notifier = notify.NewDedup(notify.NewLogNotifier(logger))
	}

	interval, raised := coordinator.ClampInterval(time.Duration(cfg.RefreshIntervalSeconds) * time.Second)
	if raised {
		logger.Warn("Refresh interval below minimum, raised",
			"configured_seconds", cfg.RefreshIntervalSeconds,
			"interval", interval.String())
	}

	opts := []engie.Option{
		engie.WithTimeout(time.Duration(cfg.RequestTimeoutSeconds) * time.Second),
		engie.WithLogger(logging.ForEntry(deps.Logger, "engie", cfg.ID)),
	}
	client := engie.NewClient(cfg.BaseURL, append(opts, deps.ClientOptions...)...)

	manager := auth.NewManager(auth.Config{
		Mode:        auth.Mode(cfg.AuthMode),
		Username:    cfg.Username,
		Password:    cfg.Password,
		DeviceID:    cfg.DeviceID,
		BearerToken: cfg.BearerToken,
		ProbeStatus: cfg.ProbeStatus,
	}, client, auth.NewFileStore(cfg.TokenFilePath),
		auth.WithLogger(logging.ForEntry(deps.Logger, "auth", cfg.ID)),
		auth.WithLoginHook(func(err error) { metrics.RecordLogin(cfg.ID, err) }),
	)

	orch := coordinator.New(manager, client, coordinator.Config{POC: cfg.POC},
		coordinator.WithLogger(logging.ForEntry(deps.Logger, "coordinator", cfg.ID)),
		coordinator.WithSectionHook(func(section string, _ error) { metrics.RecordSectionFailure(cfg.ID, section) }),
	)

	refresher := logging.NewRefresherLogger(orch, logging.ForEntry(deps.Logger, "refresh", cfg.ID))
	poller := scheduler.NewPoller(refresher.Refresh, interval, logging.ForEntry(deps.Logger, "poller", cfg.ID))

	e := &Entry{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
		client: client,
		auth:   manager,
		orch:   orch,
		poller: poller,
	}

	e.restore(ctx)
	e.buildSensors()
	poller.AddListener(e.onCycle)
	poller.OnReauthRequired(e.onReauth)

	return e, nil
}

// buildSensors creates the sensors from the first available data, restored
// or fetched. Their unique ids stay fixed from then on.
func (e *Entry) buildSensors() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sensors != nil || e.poller.Data() == nil {
		return
	}
	e.sensors = entities.Build(e.cfg.ID, e.poller)
	e.logger.Info("Sensors created", "count", len(e.sensors), "unique_id", e.sensors[0].UniqueID())
}

func (e *Entry) restore(ctx context.Context) {
	if e.deps.Storage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	snap, err := e.deps.Storage.LatestSnapshot(ctx, e.cfg.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return
	case err != nil:
		e.logger.Warn("Failed to restore snapshot", "error", err)
		return
	}
	e.poller.Seed(snap)
	e.logger.Info("Restored last snapshot", "fetched_at", snap.FetchedAt)
}

func (e *Entry) onCycle(r scheduler.Result) {
	metrics.RecordCycle(e.cfg.ID, r.Duration.Seconds(), r.Err)
	if r.Success() {
		e.buildSensors()
		metrics.SetUnpaidTotal(e.cfg.ID, r.Snapshot.UnpaidTotal)
		e.notify(notify.KindRecovered, nil)
	}

	if e.deps.Storage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	run := &storage.CycleRun{
		ID:        idgen.NewCycle(),
		EntryID:   e.cfg.ID,
		StartedAt: r.StartedAt,
		Duration:  r.Duration,
		Success:   r.Success(),
	}
	if r.Err != nil {
		run.Error = r.Err.Error()
	}
	if r.Snapshot != nil {
		run.SectionErrors = len(r.Snapshot.Errors)
	}
	if err := e.deps.Storage.RecordCycle(ctx, run); err != nil {
		e.logger.Warn("Failed to record cycle", "error", err)
	}

	if r.Success() {
		if err := e.deps.Storage.SaveSnapshot(ctx, e.cfg.ID, r.Snapshot); err != nil {
			e.logger.Warn("Failed to save snapshot", "error", err)
		}
	}
}

func (e *Entry) onReauth(err error) {
	e.logger.Error("Re-authentication required", "error", err)
	e.notify(notify.KindReauthRequired, err)
}

func (e *Entry) notify(kind notify.Kind, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	event := notify.Event{EntryID: e.cfg.ID, EntryName: e.cfg.Name, Kind: kind, Err: err, At: time.Now()}
	if nerr := e.deps.Notifier.Notify(ctx, event); nerr != nil {
		e.logger.Warn("Failed to send notification", "kind", string(kind), "error", nerr)
	}
}

// Start runs the poller in its own goroutine
func (e *Entry) Start() {
	go e.poller.Start()
}

// Unload stops polling, waits for the loop to exit and releases the transport.
func (e *Entry) Unload() error {
	e.poller.Stop()
	metrics.Forget(e.cfg.ID)
	return e.client.Close()
}

// ID returns the entry id
func (e *Entry) ID() string {
	return e.cfg.ID
}

// Name returns the display name
func (e *Entry) Name() string {
	return e.cfg.Name
}

// Config returns the entry configuration
func (e *Entry) Config() config.EntryConfig {
	return e.cfg
}

// Auth returns the token manager
func (e *Entry) Auth() *auth.Manager {
	return e.auth
}

// Poller returns the polling state
func (e *Entry) Poller() *scheduler.Poller {
	return e.poller
}

// Sensors returns the entry's sensors, or nil before any data exists
func (e *Entry) Sensors() []*entities.Sensor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sensors
}

// Refresh runs a cycle now, or joins the running one
func (e *Entry) Refresh(ctx context.Context) error {
	_, err := e.poller.RefreshNow(ctx)
	return err
}

// Diagnostics is a redacted view of the entry for troubleshooting
type Diagnostics struct {
	Options             map[string]any `json:"options"`
	Data                map[string]any `json:"data"`
	CoordinatorDataKeys []string       `json:"coordinator_data_keys"`
	AuthState           string         `json:"auth_state"`
	LastUpdateSuccess   bool           `json:"last_update_success"`
	LastError           string         `json:"last_error,omitempty"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
}

const redacted = "***"

// Diagnostics returns the entry configuration with secrets redacted
func (e *Entry) Diagnostics() Diagnostics {
	secret := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}

	d := Diagnostics{
		Options: map[string]any{
			"refresh_interval_seconds": int(e.poller.Interval().Seconds()),
			"request_timeout_seconds":  e.cfg.RequestTimeoutSeconds,
			"poc":                      e.cfg.POC,
			"probe_status":             e.cfg.ProbeStatus,
		},
		Data: map[string]any{
			"auth_mode":       e.cfg.AuthMode,
			"base_url":        e.cfg.BaseURL,
			"username":        e.cfg.Username,
			"password":        redacted,
			"bearer_token":    secret(e.cfg.BearerToken),
			"device_id":       e.cfg.DeviceID,
			"token_file_path": e.cfg.TokenFilePath,
		},
		CoordinatorDataKeys: []string{},
		AuthState:           string(e.auth.State()),
		LastUpdateSuccess:   e.poller.LastUpdateSuccess(),
		ConsecutiveFailures: e.poller.ConsecutiveFailures(),
	}
	if e.poller.Data() != nil {
		d.CoordinatorDataKeys = append(d.CoordinatorDataKeys, snapshot.Keys()...)
	}
	if err := e.poller.LastError(); err != nil {
		d.LastError = err.Error()
	}
	return d
}
