package core

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

type FailureDisposition string

const (
	// DispositionRetryable covers transient failures, retry with backoff.
	DispositionRetryable FailureDisposition = "retryable"
	// DispositionNeedsReauth means the stored grant is dead and only a new
	// user authorization recovers the connection. Retrying cannot help.
	DispositionNeedsReauth FailureDisposition = "needs_reauth"
	// DispositionFatal covers everything a caller should neither retry nor
	// answer with a reauth prompt, bad input, programming errors and such.
	DispositionFatal FailureDisposition = "fatal"
)

// ClassifyFailure routes a lifecycle error to the recovery path callers
// should take. Text codes win over categories, categories over message
// heuristics.
func ClassifyFailure(err error) FailureDisposition {
	if err == nil {
		return ""
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		switch rich.TextCode {
		case ConnectionErrorReauthRequired,
			ConnectionErrorProviderRejected,
			ConnectionErrorAuthorizationDenied,
			ConnectionErrorExchangeRejected,
			ConnectionErrorStateInvalid:
			return DispositionNeedsReauth
		case ConnectionErrorProviderUnavailable,
			ConnectionErrorExchangeUnavailable,
			ConnectionErrorVersionConflict:
			return DispositionRetryable
		}
		switch rich.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz:
			return DispositionNeedsReauth
		case goerrors.CategoryExternal, goerrors.CategoryRateLimit, goerrors.CategoryConflict:
			return DispositionRetryable
		case goerrors.CategoryBadInput, goerrors.CategoryValidation, goerrors.CategoryNotFound:
			return DispositionFatal
		}
	}

	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "invalid_grant"),
		strings.Contains(message, "invalid refresh token"),
		strings.Contains(message, "reauthorization required"),
		strings.Contains(message, "re-auth required"):
		return DispositionNeedsReauth
	case strings.Contains(message, "timeout"),
		strings.Contains(message, "temporarily"),
		strings.Contains(message, "connection refused"),
		strings.Contains(message, "unavailable"):
		return DispositionRetryable
	}
	return DispositionFatal
}
