package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"engiero/internal/engie"
	"engiero/internal/normalize"
)

// API is the subset of the upstream client used for authentication.
type API interface {
	MobileLogin(ctx context.Context, creds engie.Credentials) (any, error)
	AppStatus(ctx context.Context, h engie.HeaderBuilder) error
}

// Config is resolved once per entry activation and never changed.
type Config struct {
	Mode        Mode
	Username    string
	Password    string
	DeviceID    string
	BearerToken string
	ProbeStatus bool
}

// Manager hands out valid access tokens for one entry.
type Manager struct {
	cfg     Config
	api     API
	store   TokenStore
	logger  *slog.Logger
	now     func() time.Time
	onLogin func(err error)

	bundle   atomic.Pointer[Bundle]
	state    atomic.Value
	loadOnce sync.Once
	logins   singleflight.Group
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithLoginHook registers a callback run after every login attempt.
func WithLoginHook(fn func(err error)) Option {
	return func(m *Manager) {
		m.onLogin = fn
	}
}

// NewManager creates a manager. store may be nil for bearer mode.
func NewManager(cfg Config, api API, store TokenStore, opts ...Option) *Manager {
	if cfg.Mode == "" {
		cfg.Mode = ModeMobileLogin
	}
	m := &Manager{
		cfg:    cfg,
		api:    api,
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state.Store(StateNoToken)
	return m
}

// Mode returns the configured auth mode
func (m *Manager) Mode() Mode {
	return m.cfg.Mode
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	return m.state.Load().(State)
}

// Bundle returns the bundle currently held in memory, if any.
func (m *Manager) Bundle() *Bundle {
	return m.bundle.Load()
}

// Headers builds the desktop header set for token.
func (m *Manager) Headers(token string) engie.HeaderBuilder {
	return engie.DesktopHeaders{Token: token}
}

// EnsureValidToken returns a token usable for the next request, logging in
// when none is stored or the stored one is within GracePeriod of expiry.
func (m *Manager) EnsureValidToken(ctx context.Context) (string, error) {
	if m.cfg.Mode == ModeBearer {
		token := engie.Clean(m.cfg.BearerToken)
		if token == "" {
			m.setState(StateFailed)
			return "", fmt.Errorf("bearer token not configured: %w", ErrCredentials)
		}
		m.setState(StateTokenValid)
		return token, nil
	}

	b := m.current(ctx)
	if b == nil {
		m.setState(StateNoToken)
		return m.loginToken(ctx)
	}
	if !b.Fresh(m.now()) {
		m.setState(StateTokenExpiring)
		m.logger.Info("Access token expiring, logging in again",
			"expires_in", b.ExpiresIn(m.now()).String())
		return m.loginToken(ctx)
	}

	if m.cfg.ProbeStatus {
		err := m.api.AppStatus(ctx, m.Headers(b.AccessToken))
		switch {
		case engie.IsUnauthorized(err):
			m.logger.Info("Stored token rejected by status probe, logging in again")
			m.discard(b)
			return m.loginToken(ctx)
		case err != nil:
			m.logger.Warn("Status probe failed, keeping token", "error", err)
		}
	}

	m.setState(StateTokenValid)
	return b.AccessToken, nil
}

// RefreshAfter401 is called when an upstream call was rejected mid-cycle.
// Bearer mode cannot recover and always returns ErrReauthRequired.
func (m *Manager) RefreshAfter401(ctx context.Context) (string, error) {
	if m.cfg.Mode == ModeBearer {
		m.setState(StateFailed)
		return "", fmt.Errorf("bearer token rejected by upstream: %w", ErrReauthRequired)
	}
	m.discard(m.bundle.Load())
	return m.loginToken(ctx)
}

// Login performs a mobile login and replaces the held bundle. Concurrent
// callers share one upstream request.
func (m *Manager) Login(ctx context.Context) (*Bundle, error) {
	v, err, _ := m.logins.Do("login", func() (any, error) {
		return m.login(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Bundle), nil
}

func (m *Manager) loginToken(ctx context.Context) (string, error) {
	b, err := m.Login(ctx)
	if err != nil {
		return "", err
	}
	return b.AccessToken, nil
}

func (m *Manager) login(ctx context.Context) (b *Bundle, err error) {
	defer func() {
		if m.onLogin != nil {
			m.onLogin(err)
		}
	}()

	if m.cfg.Mode != ModeMobileLogin {
		return nil, fmt.Errorf("login not available in %s mode: %w", m.cfg.Mode, ErrReauthRequired)
	}
	username := engie.Clean(m.cfg.Username)
	password := engie.Clean(m.cfg.Password)
	if username == "" || password == "" {
		m.setState(StateFailed)
		return nil, fmt.Errorf("username and password required: %w", ErrCredentials)
	}

	m.setState(StateReauthenticating)
	m.logger.Info("Logging in", "device_id", m.cfg.DeviceID)

	resp, err := m.api.MobileLogin(ctx, engie.Credentials{
		Email:    username,
		Password: password,
		DeviceID: m.cfg.DeviceID,
	})
	if err != nil {
		m.setState(StateFailed)
		if engie.IsUnauthorized(err) {
			return nil, fmt.Errorf("login rejected: %w: %w", ErrCredentials, err)
		}
		return nil, fmt.Errorf("login failed: %w", err)
	}

	b, err = m.bundleFrom(resp)
	if err != nil {
		m.setState(StateFailed)
		return nil, err
	}

	m.bundle.Store(b)
	if m.store != nil {
		if err := m.store.Save(ctx, b); err != nil {
			m.logger.Warn("Failed to persist token, keeping it in memory", "error", err)
		}
	}
	m.setState(StateTokenValid)
	m.logger.Info("Login succeeded", "ttl_seconds", b.TTL)
	return b, nil
}

// bundleFrom validates a login response envelope.
func (m *Manager) bundleFrom(resp any) (*Bundle, error) {
	envelope, _ := resp.(map[string]any)
	data, _ := envelope["data"].(map[string]any)
	if data == nil {
		return nil, fmt.Errorf("login response has no data object: %w", ErrCredentials)
	}
	token := engie.Clean(normalize.Text(data["token"]))
	if token == "" {
		return nil, fmt.Errorf("login response has no token: %w", ErrCredentials)
	}

	now := m.now()
	exp, ok := normalize.ParseNumber(data["exp"])
	expiresAt, ttl := expiryFrom(exp, ok, now)

	return &Bundle{
		AccessToken:      token,
		RefreshToken:     engie.Clean(normalize.Text(data["refresh_token"])),
		ExpiresAt:        &expiresAt,
		RefreshExpiresAt: parseExpiration(data["refresh_token_expiration_date"]),
		TTL:              ttl,
	}, nil
}

// current returns the in-memory bundle, loading the stored one the first
// time. Store failures count as no token.
func (m *Manager) current(ctx context.Context) *Bundle {
	if b := m.bundle.Load(); b != nil {
		return b
	}
	if m.store == nil {
		return nil
	}

	m.loadOnce.Do(func() {
		b, err := m.store.Load(ctx)
		switch {
		case errors.Is(err, ErrCorruptTokenFile):
			m.logger.Warn("Ignoring unreadable token file", "error", err)
		case err != nil:
			m.logger.Warn("Failed to load stored token", "error", err)
		case b != nil:
			m.bundle.CompareAndSwap(nil, b)
		}
	})
	return m.bundle.Load()
}

// discard drops b from memory unless another bundle already replaced it.
func (m *Manager) discard(b *Bundle) {
	if b != nil {
		m.bundle.CompareAndSwap(b, nil)
	}
}

func (m *Manager) setState(s State) {
	m.state.Store(s)
}
