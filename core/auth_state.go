package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"
)

const DefaultAuthStateTTL = 15 * time.Minute

// AuthorizationState is the server-side record behind a state nonce handed to
// the browser during an authorization redirect.
type AuthorizationState struct {
	State       string
	UserID      string
	ProviderID  string
	RedirectURI string
	Scopes      []string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// AuthStateStore persists pending authorization states. Consume is single
// use: a state can be redeemed at most once, replays and unknown states fail.
type AuthStateStore interface {
	Save(ctx context.Context, record AuthorizationState) error
	Consume(ctx context.Context, state string) (AuthorizationState, error)
}

type MemoryAuthStateStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	records map[string]AuthorizationState
	nowFn   func() time.Time
}

func NewMemoryAuthStateStore(ttl time.Duration) *MemoryAuthStateStore {
	if ttl <= 0 {
		ttl = DefaultAuthStateTTL
	}
	return &MemoryAuthStateStore{
		ttl:     ttl,
		records: map[string]AuthorizationState{},
		nowFn:   time.Now,
	}
}

func (s *MemoryAuthStateStore) Save(_ context.Context, record AuthorizationState) error {
	if s == nil {
		return fmt.Errorf("core: auth state store is nil")
	}
	state := strings.TrimSpace(record.State)
	if state == "" {
		return fmt.Errorf("core: authorization state value is required")
	}

	now := s.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = now.Add(s.ttl)
	}
	record.State = state
	record.Scopes = append([]string(nil), record.Scopes...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[state] = record
	return nil
}

// Consume removes the record before checking expiry so an expired state can
// never be redeemed on a later attempt either.
func (s *MemoryAuthStateStore) Consume(_ context.Context, state string) (AuthorizationState, error) {
	if s == nil {
		return AuthorizationState{}, fmt.Errorf("core: auth state store is nil")
	}
	key := strings.TrimSpace(state)
	if key == "" {
		return AuthorizationState{}, fmt.Errorf("core: authorization state value is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return AuthorizationState{}, fmt.Errorf("core: authorization state %q not found", key)
	}
	delete(s.records, key)

	if s.now().After(record.ExpiresAt) {
		return AuthorizationState{}, fmt.Errorf("core: authorization state %q expired", key)
	}
	record.Scopes = append([]string(nil), record.Scopes...)
	return record, nil
}

func (s *MemoryAuthStateStore) now() time.Time {
	if s.nowFn != nil {
		return s.nowFn()
	}
	return time.Now()
}

func generateAuthState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("core: generate authorization state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

var _ AuthStateStore = (*MemoryAuthStateStore)(nil)
