package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSessionNotFound indicates the provided id does not map to a live session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired indicates the session existed but its TTL elapsed.
	ErrSessionExpired = errors.New("session expired")
)

// Store persists visitor session records so they survive process restarts.
type Store interface {
	Save(ctx context.Context, record Record) error
	Find(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
}

// Record is an opaque visitor session payload.
type Record struct {
	ID        string
	Data      []byte
	ExpiresAt time.Time
}

// Manager loads and saves typed session state backed by a Store.
type Manager struct {
	ttl   time.Duration
	store Store
}

// NewManager constructs a Manager whose sessions live for ttl after each save.
func NewManager(ttl time.Duration, store Store) *Manager {
	if store == nil {
		panic("session: store must not be nil")
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Manager{ttl: ttl, store: store}
}

// TTL returns the sliding session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// NewID returns a fresh random session identifier.
func (m *Manager) NewID() (string, error) {
	return randomToken()
}

// Load decodes the session identified by id into dst. Missing and expired
// sessions both leave dst untouched and return an error matching
// ErrSessionNotFound or ErrSessionExpired.
func (m *Manager) Load(ctx context.Context, id string, dst any) error {
	if id == "" {
		return ErrSessionNotFound
	}

	record, err := m.store.Find(ctx, id)
	if err != nil {
		return err
	}

	if time.Now().UTC().After(record.ExpiresAt) {
		_ = m.store.Delete(ctx, id)
		return ErrSessionExpired
	}

	if len(record.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(record.Data, dst); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	return nil
}

// Save encodes state under id and extends its expiry.
func (m *Manager) Save(ctx context.Context, id string, state any) error {
	if id == "" {
		return errors.New("session id must be provided")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	return m.store.Save(ctx, Record{
		ID:        id,
		Data:      data,
		ExpiresAt: time.Now().UTC().Add(m.ttl),
	})
}

func randomToken() (string, error) {
	const size = 32
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
