package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const persistAttempts = 3

type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	secretProvider    SecretProvider
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	stateStore        AuthStateStore
	registry          Registry
	connectionStore   ConnectionStore
	tokenCodec        TokenCodec
	refreshEnqueuer   JobEnqueuer
	refreshBackoff    RefreshBackoffScheduler
	refreshFlights    *flightGroup
	nowFn             func() time.Time
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	SecretProvider    SecretProvider
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	AuthStateStore    AuthStateStore
	Registry          Registry
	ConnectionStore   ConnectionStore
	TokenCodec        TokenCodec
	RefreshEnqueuer   JobEnqueuer
	RefreshBackoff    RefreshBackoffScheduler
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("connections", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("connections"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewProviderRegistry()
	}
	if builder.tokenCodec == nil {
		builder.tokenCodec = JSONTokenCodec{}
	}
	if builder.refreshBackoff == nil {
		builder.refreshBackoff = ExponentialBackoffScheduler{
			Initial: defaultRefreshInitialBackoff,
			Max:     defaultRefreshMaxBackoff,
		}
	}
	if builder.nowFn == nil {
		builder.nowFn = time.Now
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.stateStore == nil {
		stateStore := NewMemoryAuthStateStore(finalConfig.StateTTL)
		// State expiry must be judged by the same clock that stamped it.
		stateStore.nowFn = builder.nowFn
		builder.stateStore = stateStore
	}

	if builder.connectionStore == nil && builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			storeProvider, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			if storeProvider != nil {
				builder.connectionStore = storeProvider.ConnectionStore()
			}
		} else if storeProvider, ok := builder.repositoryFactory.(StoreProvider); ok {
			builder.connectionStore = storeProvider.ConnectionStore()
		}
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		secretProvider:    builder.secretProvider,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		stateStore:        builder.stateStore,
		registry:          builder.registry,
		connectionStore:   builder.connectionStore,
		tokenCodec:        builder.tokenCodec,
		refreshEnqueuer:   builder.refreshEnqueuer,
		refreshBackoff:    builder.refreshBackoff,
		refreshFlights:    newFlightGroup(),
		nowFn:             builder.nowFn,
	}, nil
}

func Setup(cfg Config, options ...Option) (*Service, error) {
	return NewService(cfg, options...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Registry() Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		SecretProvider:    s.secretProvider,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		AuthStateStore:    s.stateStore,
		Registry:          s.registry,
		ConnectionStore:   s.connectionStore,
		TokenCodec:        s.tokenCodec,
		RefreshEnqueuer:   s.refreshEnqueuer,
		RefreshBackoff:    s.refreshBackoff,
	}
}

// Capabilities answers what callers may expect from a provider before
// starting a flow.
func (s *Service) Capabilities(providerID string) (ProviderCapabilities, error) {
	if s == nil || s.registry == nil {
		return ProviderCapabilities{}, fmt.Errorf("core: service is not initialized")
	}
	caps, err := s.registry.CapabilitiesFor(providerID)
	if err != nil {
		return ProviderCapabilities{}, s.mapError(err)
	}
	return caps, nil
}

type InitiateRequest struct {
	UserID      string
	ProviderID  string
	RedirectURI string
	Scopes      []string
}

// Initiate starts an authorization flow: it generates a single-use state
// nonce, records it with a TTL and returns the provider redirect URL.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (redirect AuthorizationRedirect, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider_id": req.ProviderID,
		"user_id":     req.UserID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "initiate", err, fields)
	}()

	if s == nil || s.stateStore == nil {
		return AuthorizationRedirect{}, fmt.Errorf("core: service is not initialized")
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		err = s.mapError(fmt.Errorf("core: user id is required"))
		return AuthorizationRedirect{}, err
	}

	provider, resolveErr := s.resolveProvider(req.ProviderID)
	if resolveErr != nil {
		err = resolveErr
		return AuthorizationRedirect{}, err
	}

	caps := provider.Capabilities()
	scopes := mergeScopes(caps.RequiredScopes, req.Scopes)

	state, stateErr := generateAuthState()
	if stateErr != nil {
		err = s.mapError(stateErr)
		return AuthorizationRedirect{}, err
	}

	redirect, buildErr := provider.BuildAuthorizationURL(ctx, AuthorizationRequest{
		UserID:      userID,
		ProviderID:  provider.ID(),
		RedirectURI: strings.TrimSpace(req.RedirectURI),
		State:       state,
		Scopes:      scopes,
	})
	if buildErr != nil {
		err = s.mapError(buildErr)
		return AuthorizationRedirect{}, err
	}
	if strings.TrimSpace(redirect.State) == "" {
		redirect.State = state
	}
	if len(redirect.Scopes) == 0 {
		redirect.Scopes = scopes
	}

	now := s.now()
	if saveErr := s.stateStore.Save(ctx, AuthorizationState{
		State:       redirect.State,
		UserID:      userID,
		ProviderID:  provider.ID(),
		RedirectURI: strings.TrimSpace(req.RedirectURI),
		Scopes:      scopes,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.stateTTL()),
	}); saveErr != nil {
		err = s.mapError(saveErr)
		return AuthorizationRedirect{}, err
	}
	return redirect, nil
}

type CallbackRequest struct {
	State         string
	Code          string
	ProviderError string
	RedirectURI   string
}

// CompleteCallback redeems a callback exactly once: it consumes the state
// nonce, exchanges the code and writes the connection record. Replays of the
// same state fail even when the first attempt errored downstream.
func (s *Service) CompleteCallback(ctx context.Context, req CallbackRequest) (connection Connection, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		s.observeOperation(ctx, startedAt, "complete_callback", err, fields)
	}()

	if s == nil || s.stateStore == nil || s.connectionStore == nil {
		return Connection{}, fmt.Errorf("core: service is not initialized")
	}

	stateValue := strings.TrimSpace(req.State)
	if stateValue == "" {
		err = s.mapError(newConnectionError(
			"authorization state is required",
			goerrors.CategoryAuth,
			ConnectionErrorStateInvalid,
		))
		return Connection{}, err
	}

	stateRecord, consumeErr := s.stateStore.Consume(ctx, stateValue)
	if consumeErr != nil {
		err = s.mapError(ensureConnectionErrorEnvelope(
			goerrors.Wrap(consumeErr, goerrors.CategoryAuth, "authorization state is invalid or expired").
				WithTextCode(ConnectionErrorStateInvalid),
		))
		return Connection{}, err
	}
	fields["provider_id"] = stateRecord.ProviderID
	fields["user_id"] = stateRecord.UserID

	if strings.TrimSpace(req.ProviderError) != "" {
		err = s.mapError(ensureConnectionErrorEnvelope(
			s.errorFactory("authorization denied by user", goerrors.CategoryAuth).
				WithTextCode(ConnectionErrorAuthorizationDenied).
				WithMetadata(map[string]any{
					"provider_id":    stateRecord.ProviderID,
					"provider_error": strings.TrimSpace(req.ProviderError),
				}),
		))
		return Connection{}, err
	}

	provider, resolveErr := s.resolveProvider(stateRecord.ProviderID)
	if resolveErr != nil {
		err = resolveErr
		return Connection{}, err
	}

	if strings.TrimSpace(req.Code) == "" {
		err = s.mapError(fmt.Errorf("core: authorization code is required"))
		return Connection{}, err
	}

	grant, exchangeErr := provider.ExchangeCode(ctx, ExchangeRequest{
		Code:        strings.TrimSpace(req.Code),
		RedirectURI: stateRecord.RedirectURI,
	})
	if exchangeErr != nil {
		if IsProviderUnavailable(exchangeErr) {
			err = s.mapError(ensureConnectionErrorEnvelope(
				goerrors.Wrap(exchangeErr, goerrors.CategoryExternal, "code exchange unavailable").
					WithTextCode(ConnectionErrorExchangeUnavailable).
					WithMetadata(map[string]any{"provider_id": provider.ID()}),
			))
			return Connection{}, err
		}
		err = s.mapError(ensureConnectionErrorEnvelope(
			goerrors.Wrap(exchangeErr, goerrors.CategoryAuth, "code exchange rejected").
				WithTextCode(ConnectionErrorExchangeRejected).
				WithMetadata(map[string]any{"provider_id": provider.ID()}),
		))
		return Connection{}, err
	}

	// Providers without refresh support never get a refresh token persisted,
	// even when the platform sends one.
	if !provider.Capabilities().SupportsRefresh {
		grant.RefreshToken = ""
	}

	connection, persistErr := s.persistGrant(ctx, stateRecord.UserID, provider.ID(), grant)
	if persistErr != nil {
		err = s.mapError(persistErr)
		return Connection{}, err
	}
	fields["connection_id"] = connection.ID
	return connection, nil
}

type DisconnectRequest struct {
	UserID     string
	ProviderID string
	Reason     string
}

// Disconnect revokes the grant upstream on a best-effort basis and always
// marks the local record revoked, a provider outage cannot block disconnect.
func (s *Service) Disconnect(ctx context.Context, req DisconnectRequest) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider_id": req.ProviderID,
		"user_id":     req.UserID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "disconnect", err, fields)
	}()

	if s == nil || s.connectionStore == nil {
		return fmt.Errorf("core: service is not initialized")
	}
	userID := strings.TrimSpace(req.UserID)
	providerID := strings.TrimSpace(req.ProviderID)
	if userID == "" || providerID == "" {
		err = s.mapError(fmt.Errorf("core: user id and provider id are required"))
		return err
	}

	record, getErr := s.connectionStore.Get(ctx, userID, providerID)
	if getErr != nil {
		if errors.Is(getErr, ErrConnectionNotFound) {
			err = s.mapError(ensureConnectionErrorEnvelope(
				s.errorFactory(
					fmt.Sprintf("no connection for user %q and provider %q", userID, providerID),
					goerrors.CategoryNotFound,
				).WithTextCode(ConnectionErrorNotConnected),
			))
			return err
		}
		err = s.mapError(getErr)
		return err
	}
	fields["connection_id"] = record.ID
	if record.Status == ConnectionStatusRevoked {
		return nil
	}

	s.revokeUpstream(ctx, record, fields)

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "disconnected"
	}
	for attempt := 0; attempt < persistAttempts; attempt++ {
		updated := record
		if transitionErr := (&updated).TransitionTo(ConnectionStatusRevoked, reason, s.now()); transitionErr != nil {
			err = s.mapError(transitionErr)
			return err
		}
		_, updateErr := s.connectionStore.Update(ctx, updated, record.Version)
		if updateErr == nil {
			return nil
		}
		if !errors.Is(updateErr, ErrVersionConflict) {
			err = s.mapError(updateErr)
			return err
		}
		record, getErr = s.connectionStore.Get(ctx, userID, providerID)
		if getErr != nil {
			err = s.mapError(getErr)
			return err
		}
		if record.Status == ConnectionStatusRevoked {
			return nil
		}
	}
	err = s.mapError(fmt.Errorf("core: connection version conflict persisting disconnect for %s/%s", userID, providerID))
	return err
}

// revokeUpstream never fails disconnect. Decrypt errors and provider errors
// are logged and swallowed.
func (s *Service) revokeUpstream(ctx context.Context, record Connection, fields map[string]any) {
	provider, ok := s.registry.Get(record.ProviderID)
	if !ok {
		return
	}
	payload, decodeErr := s.openPayload(ctx, record)
	if decodeErr != nil {
		s.logWarn(ctx, "skipping upstream revoke, payload unreadable", cloneFields(fields))
		return
	}

	revokeCtx := ctx
	if s.config.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		revokeCtx, cancel = context.WithTimeout(ctx, s.config.ProviderTimeout)
		defer cancel()
	}
	if revokeErr := provider.RevokeGrant(revokeCtx, RevokeRequest{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}); revokeErr != nil {
		warnFields := cloneFields(fields)
		warnFields["error"] = revokeErr.Error()
		s.logWarn(ctx, "upstream revoke failed, marking revoked anyway", warnFields)
	}
}

// persistGrant writes the grant as a new connection or as a CAS update of the
// existing one, retrying a bounded number of times on write races.
func (s *Service) persistGrant(ctx context.Context, userID string, providerID string, grant TokenGrant) (Connection, error) {
	payload := TokenPayload{
		AccessToken:   grant.AccessToken,
		RefreshToken:  grant.RefreshToken,
		TokenType:     grant.TokenType,
		GrantedScopes: normalizeScopes(grant.GrantedScopes),
		ExpiresAt:     cloneTimePointer(grant.ExpiresAt),
	}
	sealed, format, version, sealErr := s.sealPayload(ctx, payload)
	if sealErr != nil {
		return Connection{}, sealErr
	}
	now := s.now()

	for attempt := 0; attempt < persistAttempts; attempt++ {
		existing, getErr := s.connectionStore.Get(ctx, userID, providerID)
		if errors.Is(getErr, ErrConnectionNotFound) {
			created, createErr := s.connectionStore.Create(ctx, Connection{
				UserID:            userID,
				ProviderID:        providerID,
				ExternalAccountID: strings.TrimSpace(grant.AccountID),
				Status:            ConnectionStatusActive,
				Version:           1,
				EncryptedPayload:  sealed,
				PayloadFormat:     format,
				PayloadVersion:    version,
				TokenType:         payload.TokenType,
				GrantedScopes:     payload.GrantedScopes,
				ExpiresAt:         derefTime(payload.ExpiresAt),
				LastRefreshedAt:   now,
				CreatedAt:         now,
				UpdatedAt:         now,
			})
			if createErr == nil {
				return created, nil
			}
			// Only a concurrent create for the same pair warrants a retry.
			// When the record still is not visible the store failed outright
			// and the create error surfaces as-is.
			if _, recheckErr := s.connectionStore.Get(ctx, userID, providerID); recheckErr != nil {
				return Connection{}, createErr
			}
			continue
		}
		if getErr != nil {
			return Connection{}, getErr
		}

		updated := existing
		updated.ExternalAccountID = firstNonEmpty(strings.TrimSpace(grant.AccountID), existing.ExternalAccountID)
		updated.EncryptedPayload = sealed
		updated.PayloadFormat = format
		updated.PayloadVersion = version
		updated.TokenType = payload.TokenType
		updated.GrantedScopes = payload.GrantedScopes
		updated.ExpiresAt = derefTime(payload.ExpiresAt)
		updated.LastRefreshedAt = now
		if updated.Status != ConnectionStatusActive {
			if transitionErr := (&updated).TransitionTo(ConnectionStatusActive, "", now); transitionErr != nil {
				return Connection{}, transitionErr
			}
		} else {
			updated.LastError = ""
			updated.UpdatedAt = now
		}

		stored, updateErr := s.connectionStore.Update(ctx, updated, existing.Version)
		if updateErr == nil {
			return stored, nil
		}
		if !errors.Is(updateErr, ErrVersionConflict) {
			return Connection{}, updateErr
		}
	}
	return Connection{}, fmt.Errorf("core: connection version conflict persisting grant for %s/%s", userID, providerID)
}

func (s *Service) sealPayload(ctx context.Context, payload TokenPayload) ([]byte, string, int, error) {
	encoded, err := s.tokenCodec.Encode(payload)
	if err != nil {
		return nil, "", 0, err
	}
	if s.secretProvider == nil {
		return encoded, s.tokenCodec.Format(), s.tokenCodec.Version(), nil
	}
	sealed, err := s.secretProvider.Encrypt(ctx, encoded)
	if err != nil {
		return nil, "", 0, err
	}
	return sealed, s.tokenCodec.Format(), s.tokenCodec.Version(), nil
}

func (s *Service) openPayload(ctx context.Context, record Connection) (TokenPayload, error) {
	raw := record.EncryptedPayload
	if s.secretProvider != nil {
		decrypted, err := s.secretProvider.Decrypt(ctx, raw)
		if err != nil {
			return TokenPayload{}, err
		}
		raw = decrypted
	}
	return s.tokenCodec.Decode(raw)
}

func (s *Service) resolveProvider(providerID string) (Provider, error) {
	id := strings.TrimSpace(providerID)
	if id == "" {
		return nil, s.mapError(fmt.Errorf("core: provider id is required"))
	}
	if s.registry == nil {
		return nil, s.mapError(fmt.Errorf("core: provider registry is not configured"))
	}
	provider, ok := s.registry.Get(id)
	if !ok {
		return nil, s.mapError(ensureConnectionErrorEnvelope(
			s.errorFactory(
				fmt.Sprintf("provider %q is not registered", id),
				goerrors.CategoryNotFound,
			).WithTextCode(ConnectionErrorProviderNotFound).
				WithMetadata(map[string]any{"provider_id": id}),
		))
	}
	return provider, nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) now() time.Time {
	if s != nil && s.nowFn != nil {
		return s.nowFn().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) stateTTL() time.Duration {
	if s != nil && s.config.StateTTL > 0 {
		return s.config.StateTTL
	}
	return DefaultAuthStateTTL
}

func derefTime(value *time.Time) time.Time {
	if value == nil {
		return time.Time{}
	}
	return value.UTC()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
