package connections

import "github.com/goliatone/go-connections/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type Provider = core.Provider
type RefreshingProvider = core.RefreshingProvider
type ProviderCapabilities = core.ProviderCapabilities
type Registry = core.Registry
type Connection = core.Connection
type ConnectionStatus = core.ConnectionStatus
type ConnectionStore = core.ConnectionStore
type AuthStateStore = core.AuthStateStore
type SecretProvider = core.SecretProvider
type TokenCodec = core.TokenCodec
type MetricsRecorder = core.MetricsRecorder
type RefreshBackoffScheduler = core.RefreshBackoffScheduler
type JobEnqueuer = core.JobEnqueuer
type JobDequeuer = core.JobDequeuer

type InitiateRequest = core.InitiateRequest
type CallbackRequest = core.CallbackRequest
type DisconnectRequest = core.DisconnectRequest

type AuthorizationRedirect = core.AuthorizationRedirect
type AccessToken = core.AccessToken
type SweepStats = core.SweepStats
type FailureDisposition = core.FailureDisposition

var (
	WithLogger                  = core.WithLogger
	WithLoggerProvider          = core.WithLoggerProvider
	WithMetricsRecorder         = core.WithMetricsRecorder
	WithErrorFactory            = core.WithErrorFactory
	WithErrorMapper             = core.WithErrorMapper
	WithSecretProvider          = core.WithSecretProvider
	WithPersistenceClient       = core.WithPersistenceClient
	WithRepositoryFactory       = core.WithRepositoryFactory
	WithConfigProvider          = core.WithConfigProvider
	WithOptionsResolver         = core.WithOptionsResolver
	WithAuthStateStore          = core.WithAuthStateStore
	WithRegistry                = core.WithRegistry
	WithConnectionStore         = core.WithConnectionStore
	WithTokenCodec              = core.WithTokenCodec
	WithRefreshEnqueuer         = core.WithRefreshEnqueuer
	WithRefreshBackoffScheduler = core.WithRefreshBackoffScheduler
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}

// ClassifyFailure maps a lifecycle error to the caller-facing disposition.
func ClassifyFailure(err error) FailureDisposition {
	return core.ClassifyFailure(err)
}
