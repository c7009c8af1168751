package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"engiero/internal/normalize"
)

var ErrCorruptTokenFile = errors.New("corrupt token file")

// TokenStore persists bundles between process restarts. Load returns
// (nil, nil) when nothing is stored.
type TokenStore interface {
	Load(ctx context.Context) (*Bundle, error)
	Save(ctx context.Context, b *Bundle) error
	Clear(ctx context.Context) error
}

// tokenFile is the on-disk JSON layout.
type tokenFile struct {
	Token                      string   `json:"token"`
	RefreshToken               *string  `json:"refresh_token"`
	Exp                        *float64 `json:"exp"`
	ExpEpoch                   *float64 `json:"exp_epoch"`
	RefreshTokenExpirationDate any      `json:"refresh_token_expiration_date"`
}

// FileStore keeps the bundle in a small JSON file. A plain-text file holding
// only the token is accepted as the legacy format. File access runs off the
// caller's goroutine so a cancelled context never waits on the disk.
type FileStore struct {
	path string
}

// NewFileStore creates a store at path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the token file location
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the stored bundle. A missing or empty file yields (nil, nil);
// an unparseable one yields ErrCorruptTokenFile.
func (s *FileStore) Load(ctx context.Context) (*Bundle, error) {
	return offload(ctx, func() (*Bundle, error) {
		info, err := os.Stat(s.path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat token file: %w", err)
		}
		raw, err := os.ReadFile(s.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read token file: %w", err)
		}
		return parseTokenFile(raw, info.ModTime())
	})
}

func parseTokenFile(raw []byte, modTime time.Time) (*Bundle, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	if raw[0] != '{' {
		token := strings.TrimSpace(string(raw))
		if strings.ContainsAny(token, " \t\r\n") {
			return nil, ErrCorruptTokenFile
		}
		return &Bundle{AccessToken: token}, nil
	}

	var f tokenFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptTokenFile, err)
	}
	token := strings.TrimSpace(f.Token)
	if token == "" {
		return nil, nil
	}

	b := &Bundle{AccessToken: token}
	if f.RefreshToken != nil {
		b.RefreshToken = *f.RefreshToken
	}
	switch {
	case f.ExpEpoch != nil && *f.ExpEpoch > 0:
		at := time.Unix(int64(*f.ExpEpoch), 0)
		b.ExpiresAt = &at
	case f.Exp != nil && *f.Exp > 0:
		at := modTime.Add(time.Duration(*f.Exp * float64(time.Second)))
		b.ExpiresAt = &at
	}
	if f.Exp != nil {
		b.TTL = int(*f.Exp)
	}
	b.RefreshExpiresAt = parseExpiration(f.RefreshTokenExpirationDate)
	return b, nil
}

// parseExpiration accepts an epoch number or a date string.
func parseExpiration(v any) *time.Time {
	if n, ok := normalize.ParseNumber(v); ok && n >= epochThreshold {
		at := time.Unix(int64(n), 0)
		return &at
	}
	if t, ok := normalize.ParseDate(v); ok {
		return &t
	}
	return nil
}

// Save writes the bundle atomically with owner-only permissions.
func (s *FileStore) Save(ctx context.Context, b *Bundle) error {
	if b == nil {
		return s.Clear(ctx)
	}

	f := tokenFile{Token: b.AccessToken}
	if b.RefreshToken != "" {
		f.RefreshToken = &b.RefreshToken
	}
	if b.TTL > 0 {
		ttl := float64(b.TTL)
		f.Exp = &ttl
	}
	if b.ExpiresAt != nil {
		epoch := float64(b.ExpiresAt.Unix())
		f.ExpEpoch = &epoch
	}
	if b.RefreshExpiresAt != nil {
		f.RefreshTokenExpirationDate = b.RefreshExpiresAt.Unix()
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token file: %w", err)
	}

	_, err = offload(ctx, func() (struct{}, error) {
		return struct{}{}, writeAtomic(s.path, data)
	})
	return err
}

// Clear removes the token file
func (s *FileStore) Clear(ctx context.Context) error {
	_, err := offload(ctx, func() (struct{}, error) {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return struct{}{}, fmt.Errorf("failed to remove token file: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".engie_token_*")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod token file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// offload runs fn on its own goroutine and returns early if ctx ends first.
func offload[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
