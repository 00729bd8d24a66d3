package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultRefreshInitialBackoff = 500 * time.Millisecond
	defaultRefreshMaxBackoff     = 10 * time.Second
)

// RefreshBackoffScheduler decides how long a failed refresh waits before the
// next delivery attempt.
type RefreshBackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	initial := s.Initial
	if initial <= 0 {
		initial = defaultRefreshInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultRefreshMaxBackoff
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// AccessToken is the read model EnsureValidToken hands to callers. It never
// exposes the refresh token.
type AccessToken struct {
	Token     string
	TokenType string
	Scopes    []string
	ExpiresAt *time.Time
}

// EnsureValidToken returns a usable access token for the pair, refreshing it
// first when it expires inside the lead window. Concurrent callers for the
// same (user, provider) pair share one refresh: the first caller performs the
// provider call, the rest wait on its outcome.
func (s *Service) EnsureValidToken(ctx context.Context, userID string, providerID string) (token AccessToken, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider_id": providerID,
		"user_id":     userID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "ensure_valid_token", err, fields)
	}()

	if s == nil || s.connectionStore == nil {
		return AccessToken{}, fmt.Errorf("core: service is not initialized")
	}
	userID = strings.TrimSpace(userID)
	providerID = strings.TrimSpace(providerID)
	if userID == "" || providerID == "" {
		err = s.mapError(fmt.Errorf("core: user id and provider id are required"))
		return AccessToken{}, err
	}

	provider, resolveErr := s.resolveProvider(providerID)
	if resolveErr != nil {
		err = resolveErr
		return AccessToken{}, err
	}

	record, getErr := s.loadConnection(ctx, userID, provider.ID())
	if getErr != nil {
		err = getErr
		return AccessToken{}, err
	}
	fields["connection_id"] = record.ID

	if statusErr := s.guardUsableStatus(record); statusErr != nil {
		err = statusErr
		return AccessToken{}, err
	}

	payload, decodeErr := s.openPayload(ctx, record)
	if decodeErr != nil {
		err = s.mapError(decodeErr)
		return AccessToken{}, err
	}
	if tokenFresh(s.now(), record.ExpiresAt, s.refreshLeadWindow()) {
		return accessTokenFromPayload(payload), nil
	}

	// Expired and the provider cannot refresh: no network call can help.
	if !provider.Capabilities().SupportsRefresh {
		_ = s.markNeedsReauth(ctx, record, "access token expired and provider does not support refresh")
		err = s.reauthRequiredError(provider.ID(), "access token expired and provider does not support refresh", nil)
		return AccessToken{}, err
	}

	token, err = s.refreshFlights.Do(ctx, flightKey(userID, provider.ID()), func() (AccessToken, error) {
		return s.refreshConnection(ctx, provider, userID)
	})
	return token, err
}

// refreshConnection runs inside the single-flight slot for the pair. It
// re-reads the record first so callers that queued behind a finished refresh
// reuse the fresh token without another provider call.
func (s *Service) refreshConnection(ctx context.Context, provider Provider, userID string) (AccessToken, error) {
	record, err := s.loadConnection(ctx, userID, provider.ID())
	if err != nil {
		return AccessToken{}, err
	}
	if statusErr := s.guardUsableStatus(record); statusErr != nil {
		return AccessToken{}, statusErr
	}
	payload, decodeErr := s.openPayload(ctx, record)
	if decodeErr != nil {
		return AccessToken{}, s.mapError(decodeErr)
	}
	now := s.now()
	if tokenFresh(now, record.ExpiresAt, s.refreshLeadWindow()) {
		return accessTokenFromPayload(payload), nil
	}

	refresher, ok := provider.(RefreshingProvider)
	if !ok || strings.TrimSpace(payload.RefreshToken) == "" {
		_ = s.markNeedsReauth(ctx, record, "no refresh token available")
		return AccessToken{}, s.reauthRequiredError(provider.ID(), "no refresh token available", nil)
	}

	refreshCtx := ctx
	if s.config.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		refreshCtx, cancel = context.WithTimeout(ctx, s.config.ProviderTimeout)
		defer cancel()
	}
	grant, refreshErr := refresher.RefreshGrant(refreshCtx, RefreshGrantRequest{
		RefreshToken: payload.RefreshToken,
		Scopes:       payload.GrantedScopes,
	})
	if refreshErr != nil {
		if IsProviderRejected(refreshErr) {
			_ = s.markNeedsReauth(ctx, record, refreshErr.Error())
			return AccessToken{}, s.reauthRequiredError(provider.ID(), "refresh rejected by provider", refreshErr)
		}
		// Transient failure: the stored record stays untouched so the next
		// attempt can retry against the same token material.
		return AccessToken{}, s.mapError(ensureConnectionErrorEnvelope(
			goerrors.Wrap(refreshErr, goerrors.CategoryExternal, "token refresh unavailable").
				WithTextCode(ConnectionErrorProviderUnavailable).
				WithMetadata(map[string]any{"provider_id": provider.ID()}),
		))
	}

	next := payload
	next.AccessToken = grant.AccessToken
	next.TokenType = firstNonEmpty(strings.TrimSpace(grant.TokenType), payload.TokenType)
	next.ExpiresAt = cloneTimePointer(grant.ExpiresAt)
	if len(grant.GrantedScopes) > 0 {
		next.GrantedScopes = normalizeScopes(grant.GrantedScopes)
	}
	// Providers that rotate refresh tokens send a new one, the rest keep the
	// old token valid.
	if strings.TrimSpace(grant.RefreshToken) != "" {
		next.RefreshToken = grant.RefreshToken
	}

	sealed, format, version, sealErr := s.sealPayload(ctx, next)
	if sealErr != nil {
		return AccessToken{}, s.mapError(sealErr)
	}

	updated := record
	updated.EncryptedPayload = sealed
	updated.PayloadFormat = format
	updated.PayloadVersion = version
	updated.TokenType = next.TokenType
	updated.GrantedScopes = next.GrantedScopes
	updated.ExpiresAt = derefTime(next.ExpiresAt)
	updated.LastRefreshedAt = now
	updated.LastError = ""
	updated.UpdatedAt = now

	if _, updateErr := s.connectionStore.Update(ctx, updated, record.Version); updateErr != nil {
		if !errors.Is(updateErr, ErrVersionConflict) {
			return AccessToken{}, s.mapError(updateErr)
		}
		// A concurrent writer won the version race; its token is the current
		// one, so surface that instead of failing.
		current, getErr := s.loadConnection(ctx, userID, provider.ID())
		if getErr != nil {
			return AccessToken{}, getErr
		}
		if statusErr := s.guardUsableStatus(current); statusErr != nil {
			return AccessToken{}, statusErr
		}
		currentPayload, currentErr := s.openPayload(ctx, current)
		if currentErr != nil {
			return AccessToken{}, s.mapError(currentErr)
		}
		return accessTokenFromPayload(currentPayload), nil
	}
	return accessTokenFromPayload(next), nil
}

func (s *Service) loadConnection(ctx context.Context, userID string, providerID string) (Connection, error) {
	record, err := s.connectionStore.Get(ctx, userID, providerID)
	if err == nil {
		return record, nil
	}
	if errors.Is(err, ErrConnectionNotFound) {
		return Connection{}, s.mapError(ensureConnectionErrorEnvelope(
			s.errorFactory(
				fmt.Sprintf("no connection for user %q and provider %q", userID, providerID),
				goerrors.CategoryNotFound,
			).WithTextCode(ConnectionErrorNotConnected),
		))
	}
	return Connection{}, s.mapError(err)
}

func (s *Service) guardUsableStatus(record Connection) error {
	switch record.Status {
	case ConnectionStatusRevoked:
		return s.mapError(newConnectionError(
			"connection has been disconnected",
			goerrors.CategoryOperation,
			ConnectionErrorDisconnected,
		))
	case ConnectionStatusNeedsReauth:
		return s.reauthRequiredError(record.ProviderID, "connection requires reauthorization", nil)
	}
	return nil
}

func (s *Service) reauthRequiredError(providerID string, message string, cause error) error {
	base := s.errorFactory(message, goerrors.CategoryAuth)
	if cause != nil {
		base = goerrors.Wrap(cause, goerrors.CategoryAuth, message)
	}
	return s.mapError(ensureConnectionErrorEnvelope(
		base.WithTextCode(ConnectionErrorReauthRequired).
			WithMetadata(map[string]any{"provider_id": providerID}),
	))
}

// markNeedsReauth transitions through CAS and tolerates losing the race, a
// concurrent writer either refreshed successfully or marked the same thing.
func (s *Service) markNeedsReauth(ctx context.Context, record Connection, reason string) error {
	for attempt := 0; attempt < persistAttempts; attempt++ {
		updated := record
		if err := (&updated).TransitionTo(ConnectionStatusNeedsReauth, reason, s.now()); err != nil {
			return err
		}
		_, err := s.connectionStore.Update(ctx, updated, record.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		current, getErr := s.connectionStore.Get(ctx, record.UserID, record.ProviderID)
		if getErr != nil {
			return getErr
		}
		if current.Status != ConnectionStatusActive {
			return nil
		}
		record = current
	}
	return fmt.Errorf("core: connection version conflict marking needs_reauth for %s/%s", record.UserID, record.ProviderID)
}

func (s *Service) refreshLeadWindow() time.Duration {
	if s != nil && s.config.RefreshLeadWindow > 0 {
		return s.config.RefreshLeadWindow
	}
	return DefaultRefreshLeadWindow
}

// tokenFresh reports whether the token is still usable past the lead window.
// A zero expiry means the provider issued a non-expiring token.
func tokenFresh(now time.Time, expiresAt time.Time, leadWindow time.Duration) bool {
	if expiresAt.IsZero() {
		return true
	}
	if leadWindow <= 0 {
		leadWindow = DefaultRefreshLeadWindow
	}
	return expiresAt.After(now.Add(leadWindow))
}

func accessTokenFromPayload(payload TokenPayload) AccessToken {
	return AccessToken{
		Token:     payload.AccessToken,
		TokenType: payload.TokenType,
		Scopes:    append([]string(nil), payload.GrantedScopes...),
		ExpiresAt: cloneTimePointer(payload.ExpiresAt),
	}
}

func flightKey(userID string, providerID string) string {
	return userID + "\x00" + providerID
}

// flightGroup collapses concurrent refreshes per key into one in-flight call.
// Followers wait on the leader's outcome instead of calling the provider.
type flightGroup struct {
	mu    sync.Mutex
	calls map[string]*flightCall
}

type flightCall struct {
	done  chan struct{}
	token AccessToken
	err   error
}

func newFlightGroup() *flightGroup {
	return &flightGroup{calls: map[string]*flightCall{}}
}

func (g *flightGroup) Do(ctx context.Context, key string, fn func() (AccessToken, error)) (AccessToken, error) {
	g.mu.Lock()
	if call, ok := g.calls[key]; ok {
		g.mu.Unlock()
		select {
		case <-ctx.Done():
			return AccessToken{}, ctx.Err()
		case <-call.done:
			return call.token, call.err
		}
	}
	call := &flightCall{done: make(chan struct{})}
	g.calls[key] = call
	g.mu.Unlock()

	call.token, call.err = fn()

	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
	close(call.done)

	return call.token, call.err
}
