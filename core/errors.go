package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ConnectionErrorBadInput            = "CONNECTIONS_BAD_INPUT"
	ConnectionErrorProviderNotFound    = "CONNECTIONS_PROVIDER_NOT_FOUND"
	ConnectionErrorStateInvalid        = "CONNECTIONS_STATE_INVALID"
	ConnectionErrorAuthorizationDenied = "CONNECTIONS_AUTH_DENIED"
	ConnectionErrorExchangeRejected    = "CONNECTIONS_EXCHANGE_REJECTED"
	ConnectionErrorExchangeUnavailable = "CONNECTIONS_EXCHANGE_UNAVAILABLE"
	ConnectionErrorNotConnected        = "CONNECTIONS_NOT_CONNECTED"
	ConnectionErrorDisconnected        = "CONNECTIONS_DISCONNECTED"
	ConnectionErrorReauthRequired      = "CONNECTIONS_REAUTH_REQUIRED"
	ConnectionErrorProviderRejected    = "CONNECTIONS_PROVIDER_REJECTED"
	ConnectionErrorProviderUnavailable = "CONNECTIONS_PROVIDER_UNAVAILABLE"
	ConnectionErrorVersionConflict     = "CONNECTIONS_VERSION_CONFLICT"
	ConnectionErrorConflict            = "CONNECTIONS_CONFLICT"
	ConnectionErrorRateLimited         = "CONNECTIONS_RATE_LIMITED"
	ConnectionErrorWebhookRejected     = "CONNECTIONS_WEBHOOK_REJECTED"
	ConnectionErrorProfileNotFound     = "CONNECTIONS_PROFILE_NOT_FOUND"
	ConnectionErrorInternal            = "CONNECTIONS_INTERNAL_ERROR"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

// connectionErrorMapper keeps error output consistent: rich errors pass
// through with the envelope filled in, sentinel and free-form errors get a
// category and text code inferred from their message.
func connectionErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return ensureConnectionErrorEnvelope(rich)
	}

	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "not registered"):
		return ensureConnectionErrorEnvelope(
			goerrors.Wrap(err, goerrors.CategoryNotFound, err.Error()).
				WithTextCode(ConnectionErrorProviderNotFound),
		)
	case strings.Contains(message, "authorization state"):
		return ensureConnectionErrorEnvelope(
			goerrors.Wrap(err, goerrors.CategoryAuth, err.Error()).
				WithTextCode(ConnectionErrorStateInvalid),
		)
	case strings.Contains(message, "version conflict"):
		return ensureConnectionErrorEnvelope(
			goerrors.Wrap(err, goerrors.CategoryConflict, err.Error()).
				WithTextCode(ConnectionErrorVersionConflict),
		)
	case strings.Contains(message, "not found"):
		return ensureConnectionErrorEnvelope(
			goerrors.Wrap(err, goerrors.CategoryNotFound, err.Error()),
		)
	case strings.Contains(message, "required"),
		strings.Contains(message, "invalid"),
		strings.Contains(message, "mismatch"):
		return ensureConnectionErrorEnvelope(
			goerrors.Wrap(err, goerrors.CategoryBadInput, err.Error()).
				WithTextCode(ConnectionErrorBadInput),
		)
	}

	return ensureConnectionErrorEnvelope(
		goerrors.MapToError(err, goerrors.DefaultErrorMappers()),
	)
}

func newConnectionError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureConnectionErrorEnvelope(
		goerrors.New(message, category).WithTextCode(textCode),
	)
}

// NewProviderRejectedError marks a deliberate provider denial, the stored
// grant is no longer acceptable and the user has to authorize again.
func NewProviderRejectedError(providerID string, message string) *goerrors.Error {
	return ensureConnectionErrorEnvelope(
		goerrors.New(message, goerrors.CategoryAuth).
			WithTextCode(ConnectionErrorProviderRejected).
			WithMetadata(map[string]any{"provider_id": providerID}),
	)
}

// NewProviderUnavailableError marks a transient provider failure such as an
// outage, timeout or 5xx response. Callers may retry; stored state is intact.
func NewProviderUnavailableError(providerID string, message string, cause error) *goerrors.Error {
	base := goerrors.New(message, goerrors.CategoryExternal)
	if cause != nil {
		base = goerrors.Wrap(cause, goerrors.CategoryExternal, message)
	}
	return ensureConnectionErrorEnvelope(
		base.WithTextCode(ConnectionErrorProviderUnavailable).
			WithMetadata(map[string]any{"provider_id": providerID}),
	)
}

func IsProviderRejected(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == ConnectionErrorProviderRejected
}

func IsProviderUnavailable(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == ConnectionErrorProviderUnavailable ||
		rich.TextCode == ConnectionErrorExchangeUnavailable
}

func ensureConnectionErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Category == "" {
		err.Category = goerrors.CategoryInternal
	}
	if err.Code == 0 {
		err = err.WithCode(connectionHTTPStatus(err.Category))
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err = err.WithTextCode(defaultConnectionTextCode(err.Category))
	}
	if strings.TrimSpace(err.Message) == "" {
		err.Message = "internal error"
	}
	return err
}

func defaultConnectionTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ConnectionErrorBadInput
	case goerrors.CategoryNotFound:
		return ConnectionErrorNotConnected
	case goerrors.CategoryConflict:
		return ConnectionErrorVersionConflict
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ConnectionErrorReauthRequired
	case goerrors.CategoryExternal:
		return ConnectionErrorProviderUnavailable
	default:
		return ConnectionErrorInternal
	}
}

func connectionHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
