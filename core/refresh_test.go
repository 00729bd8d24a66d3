package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func TestService_EnsureValidTokenReturnsFreshTokenWithoutProviderCall(t *testing.T) {
	ctx := context.Background()
	store := newMemoryConnectionStore()
	expires := time.Now().UTC().Add(time.Hour)
	provider := &fakeRefreshProvider{
		fakeProvider: fakeProvider{
			id: "youtube",
			exchangeGrant: TokenGrant{
				AccessToken:  "at-1",
				RefreshToken: "rt-1",
				TokenType:    "bearer",
				ExpiresAt:    &expires,
			},
		},
		refreshGrant: TokenGrant{AccessToken: "at-2"},
	}
	svc := newTestService(t, store, []Provider{provider})
	mustCompleteFlow(t, svc, "usr_1", "youtube")

	token, err := svc.EnsureValidToken(ctx, "usr_1", "youtube")
	if err != nil {
		t.Fatalf("ensure valid token: %v", err)
	}
	if token.Token != "at-1" {
		t.Fatalf("expected stored token, got %q", token.Token)
	}
	if provider.refreshCount() != 0 {
		t.Fatalf("expected no refresh for fresh token, got %d calls", provider.refreshCount())
	}
}

func TestService_EnsureValidTokenRefreshesInsideLeadWindow(t *testing.T) {
	ctx := context.Background()
	store := newMemoryConnectionStore()
	base := time.Now().UTC()
	issuedExpiry := base.Add(time.Hour)
	refreshedExpiry := base.Add(3 * time.Hour)
	provider := &fakeRefreshProvider{
		fakeProvider: fakeProvider{
			id: "youtube",
			exchangeGrant: TokenGrant{
				AccessToken:  "at-1",
				RefreshToken: "rt-1",
				TokenType:    "bearer",
				ExpiresAt:    &issuedExpiry,
			},
		},
		refreshGrant: TokenGrant{
			AccessToken:  "at-2",
			RefreshToken: "rt-2",
			ExpiresAt:    &refreshedExpiry,
		},
	}

	now := base
	svc := newTestService(t, store, []Provider{provider}, WithClock(func() time.Time { return now }))
	created := mustCompleteFlow(t, svc, "usr_1", "youtube")

	// Two minutes of validity left, inside the five minute lead window.
	now = issuedExpiry.Add(-2 * time.Minute)

	token, err := svc.EnsureValidToken(ctx, "usr_1", "youtube")
	if err != nil {
		t.Fatalf("ensure valid token: %v", err)
	}
	if token.Token != "at-2" {
		t.Fatalf("expected refreshed token, got %q", token.Token)
	}
	if provider.refreshCount() != 1 {
		t.Fatalf("expected one refresh call, got %d", provider.refreshCount())
	}

	record, err := store.Get(ctx, "usr_1", "youtube")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Version != created.Version+1 {
		t.Fatalf("expected version bump by one, got %d -> %d", created.Version, record.Version)
	}
	if !record.ExpiresAt.Equal(refreshedExpiry) {
		t.Fatalf("expected refreshed expiry persisted, got %s", record.ExpiresAt)
	}

	payload, err := svc.openPayload(ctx, record)
	if err != nil {
		t.Fatalf("open payload: %v", err)
	}
	if payload.RefreshToken != "rt-2" {
		t.Fatalf("expected rotated refresh token persisted, got %q", payload.RefreshToken)
	}
}

func TestService_EnsureValidTokenKeepsRefreshTokenWhenProviderDoesNotRotate(t *testing.T) {
	ctx := context.Background()
	store := newMemoryConnectionStore()
	base := time.Now().UTC()
	issuedExpiry := base.Add(time.Minute)
	provider := &fakeRefreshProvider{
		fakeProvider: fakeProvider{
			id: "youtube",
			exchangeGrant: TokenGrant{
				AccessToken:  "at-1",
				RefreshToken: "rt-1",
				ExpiresAt:    &issuedExpiry,
			},
		},
		refreshGrant: TokenGrant{AccessToken: "at-2"},
	}
	now := base
	svc := newTestService(t, store, []Provider{provider}, WithClock(func() time.Time { return now }))
	mustCompleteFlow(t, svc, "usr_1", "youtube")

	if _, err := svc.EnsureValidToken(ctx, "usr_1", "youtube"); err != nil {
		t.Fatalf("ensure valid token: %v", err)
	}

	record, err := store.Get(ctx, "usr_1", "youtube")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	payload, err := svc.openPayload(ctx, record)
	if err != nil {
		t.Fatalf("open payload: %v", err)
	}
	if payload.RefreshToken != "rt-1" {
		t.Fatalf("expected original refresh token kept, got %q", payload.RefreshToken)
	}
}

func TestService_EnsureValidTokenConcurrentCallersShareOneRefresh(t *testing.T) {
	ctx := context.Background()
	store := newMemoryConnectionStore()
	base := time.Now().UTC()
	issuedExpiry := base.Add(time.Minute)
	refreshedExpiry := base.Add(2 * time.Hour)
	provider := &fakeRefreshProvider{
		fakeProvider: fakeProvider{
			id: "tiktok",
			exchangeGrant: TokenGrant{
				AccessToken:  "at-1",
				RefreshToken: "rt-1",
				ExpiresAt:    &issuedExpiry,
			},
		},
		refreshGrant: TokenGrant{AccessToken: "at-2", ExpiresAt: &refreshedExpiry},
		refreshDelay: 30 * time.Millisecond,
	}
	now := base
	svc := newTestService(t, store, []Provider{provider}, WithClock(func() time.Time { return now }))
	created := mustCompleteFlow(t, svc, "usr_1", "tiktok")

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			token, err := svc.EnsureValidToken(ctx, "usr_1", "tiktok")
			tokens[idx] = token.Token
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if tokens[i] != "at-2" {
			t.Fatalf("caller %d got token %q, want at-2", i, tokens[i])
		}
	}
	if provider.refreshCount() != 1 {
		t.Fatalf("expected exactly one provider refresh, got %d", provider.refreshCount())
	}

	record, err := store.Get(ctx, "usr_1", "tiktok")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Version != created.Version+1 {
		t.Fatalf("expected exactly one version bump, got %d -> %d", created.Version, record.Version)
	}
}

func TestService_EnsureValidTokenRejectedRefreshMarksNeedsReauth(t *testing.T) {
	ctx := context.Background()
	store := newMemoryConnectionStore()
	base := time.Now().UTC()
	issuedExpiry := base.Add(time.Minute)
	provider := &fakeRefreshProvider{
		fakeProvider: fakeProvider{
			id: "youtube",
			exchangeGrant: TokenGrant{
				AccessToken:  "at-1",
				RefreshToken: "rt-1",
				ExpiresAt:    &issuedExpiry,
			},
		},
		refreshErr: NewProviderRejectedError("youtube", "invalid_grant"),
	}
	now := base
	svc := newTestService(t, store, []Provider{provider}, WithClock(func() time.Time { return now }))
	mustCompleteFlow(t, svc, "usr_1", "youtube")

	_, err := svc.EnsureValidToken(ctx, "usr_1", "youtube")
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != ConnectionErrorReauthRequired {
		t.Fatalf("expected %s, got %v", ConnectionErrorReauthRequired, err)
	}
	if ClassifyFailure(err) != DispositionNeedsReauth {
		t.Fatalf("expected needs_reauth disposition")
	}

	record, err := store.Get(ctx, "usr_1", "youtube")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Status != ConnectionStatusNeedsReauth {
		t.Fatalf("expected needs_reauth status, got %s", record.Status)
	}

	// Subsequent callers signal reauth without touching the provider again.
	before := provider.refreshCount()
	_, err = svc.EnsureValidToken(ctx, "usr_1", "youtube")
	if !goerrors.As(err, &rich) || rich.TextCode != ConnectionErrorReauthRequired {
		t.Fatalf("expected %s on follow-up, got %v", ConnectionErrorReauthRequired, err)
	}
	if provider.refreshCount() != before {
		t.Fatalf("expected no further provider calls, got %d", provider.refreshCount())
	}
}

func TestService_EnsureValidTokenTransientFailureLeavesRecordUntouched(t *testing.T) {
	ctx := context.Background()
	store := newMemoryConnectionStore()
	base := time.Now().UTC()
	issuedExpiry := base.Add(time.Minute)
	provider := &fakeRefreshProvider{
		fakeProvider: fakeProvider{
			id: "youtube",
			exchangeGrant: TokenGrant{
				AccessToken:  "at-1",
				RefreshToken: "rt-1",
				ExpiresAt:    &issuedExpiry,
			},
		},
		refreshErr: NewProviderUnavailableError("youtube", "upstream 503", nil),
	}
	now := base
	svc := newTestService(t, store, []Provider{provider}, WithClock(func() time.Time { return now }))
	created := mustCompleteFlow(t, svc, "usr_1", "youtube")

	_, err := svc.EnsureValidToken(ctx, "usr_1", "youtube")
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != ConnectionErrorProviderUnavailable {
		t.Fatalf("expected %s, got %v", ConnectionErrorProviderUnavailable, err)
	}
	if ClassifyFailure(err) != DispositionRetryable {
		t.Fatalf("expected retryable disposition")
	}

	record, err := store.Get(ctx, "usr_1", "youtube")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Status != ConnectionStatusActive {
		t.Fatalf("expected active status after transient failure, got %s", record.Status)
	}
	if record.Version != created.Version {
		t.Fatalf("expected version unchanged, got %d -> %d", created.Version, record.Version)
	}
}

func TestService_EnsureValidTokenNonRefreshProviderNeedsReauthWithoutNetwork(t *testing.T) {
	ctx := context.Background()
	store := newMemoryConnectionStore()
	base := time.Now().UTC()
	issuedExpiry := base.Add(time.Minute)
	provider := &fakeProvider{
		id: "linkedin",
		exchangeGrant: TokenGrant{
			AccessToken: "at-1",
			ExpiresAt:   &issuedExpiry,
		},
	}
	now := base
	svc := newTestService(t, store, []Provider{provider}, WithClock(func() time.Time { return now }))
	mustCompleteFlow(t, svc, "usr_1", "linkedin")

	exchangesBefore := provider.exchangeCount()
	_, err := svc.EnsureValidToken(ctx, "usr_1", "linkedin")
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != ConnectionErrorReauthRequired {
		t.Fatalf("expected %s, got %v", ConnectionErrorReauthRequired, err)
	}
	if provider.exchangeCount() != exchangesBefore {
		t.Fatalf("expected zero network calls for non-refresh provider")
	}

	record, err := store.Get(ctx, "usr_1", "linkedin")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Status != ConnectionStatusNeedsReauth {
		t.Fatalf("expected needs_reauth status, got %s", record.Status)
	}
}

func TestService_EnsureValidTokenUnknownConnection(t *testing.T) {
	svc := newTestService(t, newMemoryConnectionStore(), []Provider{&fakeProvider{id: "linkedin"}})

	_, err := svc.EnsureValidToken(context.Background(), "usr_missing", "linkedin")
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != ConnectionErrorNotConnected {
		t.Fatalf("expected %s, got %v", ConnectionErrorNotConnected, err)
	}
}

// conflictOnceStore makes the first CAS update lose to a simulated concurrent
// writer that stored its own refreshed token.
type conflictOnceStore struct {
	*memoryConnectionStore
	winnerPayload []byte
	mu            sync.Mutex
	injected      bool
}

func (s *conflictOnceStore) Update(ctx context.Context, record Connection, expectedVersion int) (Connection, error) {
	s.mu.Lock()
	inject := !s.injected
	if inject {
		s.injected = true
	}
	s.mu.Unlock()

	if inject {
		current, err := s.memoryConnectionStore.Get(ctx, record.UserID, record.ProviderID)
		if err != nil {
			return Connection{}, err
		}
		winner := current
		winner.EncryptedPayload = s.winnerPayload
		winner.ExpiresAt = time.Now().UTC().Add(2 * time.Hour)
		if _, err := s.memoryConnectionStore.Update(ctx, winner, current.Version); err != nil {
			return Connection{}, err
		}
		return Connection{}, fmt.Errorf("%w: concurrent writer", ErrVersionConflict)
	}
	return s.memoryConnectionStore.Update(ctx, record, expectedVersion)
}

func TestService_EnsureValidTokenVersionConflictSurfacesWinnerToken(t *testing.T) {
	ctx := context.Background()
	base := time.Now().UTC()
	issuedExpiry := base.Add(time.Minute)

	codec := JSONTokenCodec{}
	encoded, err := codec.Encode(TokenPayload{AccessToken: "winner-at", TokenType: "bearer"})
	if err != nil {
		t.Fatalf("encode winner payload: %v", err)
	}
	sealed, err := testSecretProvider{}.Encrypt(ctx, encoded)
	if err != nil {
		t.Fatalf("seal winner payload: %v", err)
	}

	store := &conflictOnceStore{
		memoryConnectionStore: newMemoryConnectionStore(),
		winnerPayload:         sealed,
	}
	provider := &fakeRefreshProvider{
		fakeProvider: fakeProvider{
			id: "youtube",
			exchangeGrant: TokenGrant{
				AccessToken:  "at-1",
				RefreshToken: "rt-1",
				ExpiresAt:    &issuedExpiry,
			},
		},
		refreshGrant: TokenGrant{AccessToken: "loser-at"},
	}
	now := base
	svc := newTestService(t, store, []Provider{provider}, WithClock(func() time.Time { return now }))
	mustCompleteFlow(t, svc, "usr_1", "youtube")

	token, err := svc.EnsureValidToken(ctx, "usr_1", "youtube")
	if err != nil {
		t.Fatalf("expected version conflict treated as success, got %v", err)
	}
	if token.Token != "winner-at" {
		t.Fatalf("expected winner token surfaced, got %q", token.Token)
	}
}
