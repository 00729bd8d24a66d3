package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// ProviderCapabilities is the static description of a platform integration.
// SupportsRefresh is decided per provider type at construction time and never
// changes for the lifetime of the process.
type ProviderCapabilities struct {
	ProviderID       string
	DisplayName      string
	SupportsRefresh  bool
	AccessTokenTTL   time.Duration
	AuthorizationURL string
	TokenURL         string
	RevocationURL    string
	RequiredScopes   []string
}

type AuthorizationRequest struct {
	UserID      string
	ProviderID  string
	RedirectURI string
	State       string
	Scopes      []string
}

type AuthorizationRedirect struct {
	URL    string
	State  string
	Scopes []string
}

type ExchangeRequest struct {
	Code        string
	RedirectURI string
}

// TokenGrant carries what a provider returned from a code exchange or a
// refresh. RefreshToken is empty when the platform did not issue one.
type TokenGrant struct {
	AccessToken   string
	RefreshToken  string
	TokenType     string
	GrantedScopes []string
	ExpiresAt     *time.Time
	AccountID     string
}

type RefreshGrantRequest struct {
	RefreshToken string
	Scopes       []string
}

type RevokeRequest struct {
	AccessToken  string
	RefreshToken string
}

// Provider is the minimum contract every platform adapter implements.
// Adapters classify their own failures at the network boundary, a deliberate
// provider denial comes back as a rejected error and outages or timeouts as
// an unavailable error. Adapters never retry internally.
type Provider interface {
	ID() string
	Capabilities() ProviderCapabilities
	BuildAuthorizationURL(ctx context.Context, req AuthorizationRequest) (AuthorizationRedirect, error)
	ExchangeCode(ctx context.Context, req ExchangeRequest) (TokenGrant, error)
	RevokeGrant(ctx context.Context, req RevokeRequest) error
}

// RefreshingProvider is implemented only by providers whose platform issues
// refresh tokens. A provider without the method cannot be asked to refresh;
// there is no runtime "not supported" path to probe.
type RefreshingProvider interface {
	Provider
	RefreshGrant(ctx context.Context, req RefreshGrantRequest) (TokenGrant, error)
}

type Registry interface {
	Register(provider Provider) error
	Get(providerID string) (Provider, bool)
	CapabilitiesFor(providerID string) (ProviderCapabilities, error)
	List() []Provider
}

// ConnectionStore persists one Connection per (user, provider). Update is a
// compare-and-swap: it writes only while the stored version still equals
// expectedVersion, bumps the version by exactly one and returns the stored
// row, or fails with ErrVersionConflict.
type ConnectionStore interface {
	Get(ctx context.Context, userID string, providerID string) (Connection, error)
	Create(ctx context.Context, record Connection) (Connection, error)
	Update(ctx context.Context, record Connection, expectedVersion int) (Connection, error)
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]Connection, error)
}

type StoreProvider interface {
	ConnectionStore() ConnectionStore
}

// ThrottleResponseMeta carries what a token endpoint response said about rate
// limits. RetryAfter is set when the adapter already parsed a Retry-After
// duration; otherwise the policy reads the headers.
type ThrottleResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
}

// TokenEndpointThrottle lets provider adapters honor platform rate limits on
// their token endpoints. BeforeCall fails fast while a bucket is throttled;
// AfterCall records what the platform returned.
type TokenEndpointThrottle interface {
	BeforeCall(ctx context.Context, providerID string, bucket string) error
	AfterCall(ctx context.Context, providerID string, bucket string, meta ThrottleResponseMeta) error
}

// RepositoryStoreFactory builds stores from a persistence client. The
// argument is intentionally loose so callers can hand over a *bun.DB or a
// go-persistence-bun client without this package importing either.
type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// TokenCodec serializes token payloads before encryption. Format and Version
// are persisted next to the ciphertext so stored rows stay decodable after a
// codec change.
type TokenCodec interface {
	Format() string
	Version() int
	Encode(payload TokenPayload) ([]byte, error)
	Decode(data []byte) (TokenPayload, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// Job contracts mirror the shape of go-job without importing it. The queue
// dependency stays behind adapters/gojob.

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Delivery  JobDelivery
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnDequeue(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
	OnDeadLetter(ctx context.Context, event JobWorkerEvent)
}
