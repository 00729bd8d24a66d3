package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"
)

type memoryConnectionStore struct {
	mu      sync.Mutex
	records map[string]Connection
	nextID  int
}

func newMemoryConnectionStore() *memoryConnectionStore {
	return &memoryConnectionStore{records: map[string]Connection{}}
}

func connectionKey(userID, providerID string) string {
	return userID + "::" + providerID
}

func (s *memoryConnectionStore) Get(_ context.Context, userID string, providerID string) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[connectionKey(userID, providerID)]
	if !ok {
		return Connection{}, fmt.Errorf("%w: %s/%s", ErrConnectionNotFound, userID, providerID)
	}
	return cloneConnection(record), nil
}

func (s *memoryConnectionStore) Create(_ context.Context, record Connection) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := connectionKey(record.UserID, record.ProviderID)
	if _, exists := s.records[key]; exists {
		return Connection{}, fmt.Errorf("memory store: connection %s already exists", key)
	}
	s.nextID++
	record.ID = fmt.Sprintf("conn_%d", s.nextID)
	if record.Version < 1 {
		record.Version = 1
	}
	s.records[key] = cloneConnection(record)
	return cloneConnection(record), nil
}

func (s *memoryConnectionStore) Update(_ context.Context, record Connection, expectedVersion int) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := connectionKey(record.UserID, record.ProviderID)
	current, ok := s.records[key]
	if !ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, key)
	}
	if current.Version != expectedVersion {
		return Connection{}, fmt.Errorf("%w: have %d want %d", ErrVersionConflict, current.Version, expectedVersion)
	}
	record.ID = current.ID
	record.Version = expectedVersion + 1
	record.CreatedAt = current.CreatedAt
	s.records[key] = cloneConnection(record)
	return cloneConnection(record), nil
}

func (s *memoryConnectionStore) ListExpiring(_ context.Context, before time.Time, limit int) ([]Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Connection{}
	for _, record := range s.records {
		if record.ExpiresAt.IsZero() || !record.ExpiresAt.Before(before) {
			continue
		}
		out = append(out, cloneConnection(record))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func cloneConnection(record Connection) Connection {
	record.EncryptedPayload = append([]byte(nil), record.EncryptedPayload...)
	record.GrantedScopes = append([]string(nil), record.GrantedScopes...)
	return record
}

type testSecretProvider struct{}

func (testSecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	return []byte("enc:" + base64.StdEncoding.EncodeToString(plaintext)), nil
}

func (testSecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	payload := strings.TrimPrefix(string(ciphertext), "enc:")
	return base64.StdEncoding.DecodeString(payload)
}

type fakeProvider struct {
	id             string
	requiredScopes []string
	exchangeGrant  TokenGrant
	exchangeErr    error
	revokeErr      error

	mu            sync.Mutex
	exchangeCalls int
	revokeCalls   int
}

func (p *fakeProvider) ID() string {
	return p.id
}

func (p *fakeProvider) Capabilities() ProviderCapabilities {
	return ProviderCapabilities{
		ProviderID:       p.id,
		SupportsRefresh:  false,
		AuthorizationURL: "https://provider.example/authorize",
		TokenURL:         "https://provider.example/token",
		RequiredScopes:   append([]string(nil), p.requiredScopes...),
	}
}

func (p *fakeProvider) BuildAuthorizationURL(_ context.Context, req AuthorizationRequest) (AuthorizationRedirect, error) {
	return AuthorizationRedirect{
		URL:    "https://provider.example/authorize?state=" + req.State,
		State:  req.State,
		Scopes: append([]string(nil), req.Scopes...),
	}, nil
}

func (p *fakeProvider) ExchangeCode(_ context.Context, _ ExchangeRequest) (TokenGrant, error) {
	p.mu.Lock()
	p.exchangeCalls++
	p.mu.Unlock()
	if p.exchangeErr != nil {
		return TokenGrant{}, p.exchangeErr
	}
	return p.exchangeGrant, nil
}

func (p *fakeProvider) RevokeGrant(context.Context, RevokeRequest) error {
	p.mu.Lock()
	p.revokeCalls++
	p.mu.Unlock()
	return p.revokeErr
}

func (p *fakeProvider) exchangeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchangeCalls
}

func (p *fakeProvider) revokeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revokeCalls
}

type fakeRefreshProvider struct {
	fakeProvider
	refreshGrant TokenGrant
	refreshErr   error
	refreshDelay time.Duration

	refreshMu    sync.Mutex
	refreshCalls int
}

func (p *fakeRefreshProvider) Capabilities() ProviderCapabilities {
	caps := p.fakeProvider.Capabilities()
	caps.SupportsRefresh = true
	return caps
}

func (p *fakeRefreshProvider) RefreshGrant(_ context.Context, _ RefreshGrantRequest) (TokenGrant, error) {
	p.refreshMu.Lock()
	p.refreshCalls++
	p.refreshMu.Unlock()
	if p.refreshDelay > 0 {
		time.Sleep(p.refreshDelay)
	}
	if p.refreshErr != nil {
		return TokenGrant{}, p.refreshErr
	}
	return p.refreshGrant, nil
}

func (p *fakeRefreshProvider) refreshCount() int {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()
	return p.refreshCalls
}

type memoryEnqueuer struct {
	mu       sync.Mutex
	messages []*JobExecutionMessage
	err      error
}

func (e *memoryEnqueuer) Enqueue(_ context.Context, msg *JobExecutionMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.messages = append(e.messages, msg)
	return nil
}

func (e *memoryEnqueuer) enqueued() []*JobExecutionMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*JobExecutionMessage(nil), e.messages...)
}

type memoryDelivery struct {
	msg    *JobExecutionMessage
	acked  bool
	nacked bool
	nack   JobNackOptions
}

func (d *memoryDelivery) Message() *JobExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts JobNackOptions) error {
	d.nacked = true
	d.nack = opts
	return nil
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

func newTestService(t interface {
	Helper()
	Fatalf(string, ...any)
}, store ConnectionStore, providers []Provider, options ...Option) *Service {
	t.Helper()
	registry := NewProviderRegistry()
	for _, provider := range providers {
		if err := registry.Register(provider); err != nil {
			t.Fatalf("register provider: %v", err)
		}
	}
	base := []Option{
		WithRegistry(registry),
		WithConnectionStore(store),
		WithSecretProvider(testSecretProvider{}),
	}
	svc, err := NewService(Config{ServiceName: "connections"}, append(base, options...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func ptrTime(value time.Time) *time.Time {
	out := value.UTC()
	return &out
}
