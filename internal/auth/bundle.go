// Package auth owns the ENGIE access-token lifecycle: persisted bundles,
// freshness checks, mobile login and re-authentication after a 401.
package auth

import (
	"errors"
	"fmt"
	"time"
)

const (
	// GracePeriod is subtracted from the expiry when judging freshness.
	GracePeriod = 120 * time.Second

	// DefaultTTL applies when the login response carries no usable exp.
	DefaultTTL = 3600

	// epochThreshold separates a TTL in seconds from an absolute epoch.
	epochThreshold = 1e9
)

var (
	ErrReauthRequired = errors.New("re-authentication required")
	ErrCredentials    = fmt.Errorf("invalid or missing credentials: %w", ErrReauthRequired)
)

// Mode selects how a Manager obtains tokens.
type Mode string

const (
	ModeMobileLogin Mode = "mobile_login"
	ModeBearer      Mode = "bearer"
)

// Valid reports whether m is a known auth mode.
func (m Mode) Valid() bool {
	return m == ModeMobileLogin || m == ModeBearer
}

// State is the observable token lifecycle state.
type State string

const (
	StateNoToken          State = "no_token"
	StateTokenValid       State = "token_valid"
	StateTokenExpiring    State = "token_expiring"
	StateReauthenticating State = "reauthenticating"
	StateFailed           State = "failed"
)

// Bundle is one access token plus its expiry metadata. Bundles are never
// mutated once published; a refresh always builds a new one.
type Bundle struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        *time.Time
	RefreshExpiresAt *time.Time
	TTL              int
}

// Fresh reports whether the bundle can be used at now. A bundle without a
// known expiry is fresh.
func (b *Bundle) Fresh(now time.Time) bool {
	if b == nil || b.AccessToken == "" {
		return false
	}
	if b.ExpiresAt == nil {
		return true
	}
	return now.Before(b.ExpiresAt.Add(-GracePeriod))
}

// ExpiresIn returns the time left before expiry, or 0 when unknown or past.
func (b *Bundle) ExpiresIn(now time.Time) time.Duration {
	if b == nil || b.ExpiresAt == nil {
		return 0
	}
	if d := b.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// expiryFrom turns a server exp value into an absolute expiry and a TTL.
// Values at or above 1e9 are absolute epoch seconds.
func expiryFrom(exp float64, ok bool, now time.Time) (time.Time, int) {
	if !ok || exp <= 0 {
		return now.Add(DefaultTTL * time.Second), DefaultTTL
	}
	if exp >= epochThreshold {
		at := time.Unix(int64(exp), 0)
		return at, int(at.Sub(now) / time.Second)
	}
	return now.Add(time.Duration(exp) * time.Second), int(exp)
}
