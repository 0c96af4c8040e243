// Package tokenstore persists the courtside session tokens in a small JSON
// file, one key per value.
//
// The access token lives under a single canonical key, KeyAccessToken.
// Older clients wrote it under other names; MigrateLegacy moves such a value
// to the canonical key once. Reads never fall back to the old names.
package tokenstore

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wricardo/courtside/jsoncodec"
)

const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
)

// LegacyAccessKeys are the names older clients stored the access token under,
// in the order MigrateLegacy checks them.
var LegacyAccessKeys = []string{"token", "access_token"}

var (
	ErrKeyNotFound  = errors.New("key not found")
	ErrNotJWT       = errors.New("token is not a JWT")
	ErrNoExpiration = errors.New("token has no expiration")
)

// Store is a file-backed key-value store. It is safe for concurrent use by
// one process.
type Store struct {
	path string

	mu     sync.RWMutex
	values map[string]string
}

// Open loads the store at path, creating its directory. A missing file is an
// empty store.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create token directory: %w", err)
	}

	s := &Store{path: path, values: make(map[string]string)}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := jsoncodec.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("failed to parse token file %s: %w", path, err)
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Get returns the value stored under key.
func (s *Store) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

// Set stores value under key and writes the file.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(func(values map[string]string) {
		values[key] = value
	})
}

// Delete removes key and writes the file.
func (s *Store) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(func(values map[string]string) {
		for _, k := range keys {
			delete(values, k)
		}
	})
}

// Token returns the access token, or "" when none is stored.
func (s *Store) Token() (string, error) {
	v, err := s.Get(KeyAccessToken)
	if errors.Is(err, ErrKeyNotFound) {
		return "", nil
	}
	return v, err
}

// SetTokens stores a login result. An empty refresh token leaves the stored
// one untouched.
func (s *Store) SetTokens(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(func(values map[string]string) {
		values[KeyAccessToken] = access
		if refresh != "" {
			values[KeyRefreshToken] = refresh
		}
	})
}

// Clear removes both tokens.
func (s *Store) Clear() error {
	return s.Delete(KeyAccessToken, KeyRefreshToken)
}

// MigrateLegacy copies the first non-empty legacy access token to the
// canonical key, unless one is already there, and deletes every legacy key.
// It reports whether a value was moved.
func (s *Store) MigrateLegacy() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for _, k := range LegacyAccessKeys {
		if _, ok := s.values[k]; ok {
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}

	moved := false
	err := s.updateLocked(func(values map[string]string) {
		if values[KeyAccessToken] == "" {
			for _, k := range LegacyAccessKeys {
				if v := values[k]; v != "" {
					values[KeyAccessToken] = v
					moved = true
					break
				}
			}
		}
		for _, k := range LegacyAccessKeys {
			delete(values, k)
		}
	})
	if err != nil {
		return false, err
	}
	return moved, nil
}

// updateLocked applies fn to a copy of the values and keeps the copy only
// once it is on disk. s.mu must be held.
func (s *Store) updateLocked(fn func(values map[string]string)) error {
	next := maps.Clone(s.values)
	fn(next)
	if err := s.save(next); err != nil {
		return err
	}
	s.values = next
	return nil
}

func (s *Store) save(values map[string]string) error {
	data, err := jsoncodec.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// Claims is what the CLI shows about a stored token.
type Claims struct {
	UserID    any
	ExpiresAt time.Time
}

// Expired reports whether the claims expired before now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Inspect reads the claims of a JWT without verifying its signature.
func Inspect(token string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}

	out := Claims{UserID: claims["user_id"]}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}
	if exp == nil {
		return out, ErrNoExpiration
	}
	out.ExpiresAt = exp.Time
	return out, nil
}
