package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-connections/core"
)

const (
	defaultTokenTTL       = time.Hour
	defaultRenewBefore    = 2 * time.Minute
	defaultRequestTimeout = 30 * time.Second
	maxTokenBodyBytes     = 1 << 20 // 1 MiB

	appTokenBucket = "app_token"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AppToken is an application credential. It carries no user and no refresh
// token; renewal means asking the platform for a fresh one.
type AppToken struct {
	ProviderID string
	TokenType  string
	Token      string
	Scopes     []string
	ExpiresAt  *time.Time
	Metadata   map[string]any
}

func (t AppToken) Expired(now time.Time) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !t.ExpiresAt.After(now)
}

// AppTokenSource mints and renews one application credential. Implementations
// cache internally and return the same token until it nears expiry.
type AppTokenSource interface {
	Kind() string
	ProviderID() string
	Token(ctx context.Context) (AppToken, error)
}

// tokenCache holds the most recent token a source minted. Sources refresh it
// once the remaining lifetime drops below renewBefore.
type tokenCache struct {
	mu          sync.Mutex
	token       AppToken
	renewBefore time.Duration
	now         func() time.Time
}

func newTokenCache(renewBefore time.Duration, now func() time.Time) *tokenCache {
	if renewBefore <= 0 {
		renewBefore = defaultRenewBefore
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &tokenCache{renewBefore: renewBefore, now: now}
}

func (c *tokenCache) get() (AppToken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.TrimSpace(c.token.Token) == "" {
		return AppToken{}, false
	}
	if c.token.ExpiresAt == nil {
		return c.token, true
	}
	if !c.token.ExpiresAt.After(c.now().UTC().Add(c.renewBefore)) {
		return AppToken{}, false
	}
	return c.token, true
}

func (c *tokenCache) put(token AppToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

type tokenEndpointResult struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	ExpiresIn        int64  `json:"expires_in"`
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// postTokenRequest posts a form to an app token endpoint and classifies the
// outcome the same way the user-delegated flows do. Denials come back
// rejected, transport and 5xx failures come back unavailable.
func postTokenRequest(
	ctx context.Context,
	doer HTTPDoer,
	throttle core.TokenEndpointThrottle,
	providerID string,
	tokenURL string,
	form string,
	timeout time.Duration,
) (tokenEndpointResult, error) {
	if doer == nil {
		return tokenEndpointResult{}, fmt.Errorf("auth: http client is not configured for provider %q", providerID)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	if throttle != nil {
		if err := throttle.BeforeCall(ctx, providerID, appTokenBucket); err != nil {
			return tokenEndpointResult{}, core.NewProviderUnavailableError(providerID, "app token endpoint throttled", err)
		}
	}

	requestCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, tokenURL, strings.NewReader(form))
	if err != nil {
		return tokenEndpointResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	response, err := doer.Do(req)
	if err != nil {
		return tokenEndpointResult{}, core.NewProviderUnavailableError(providerID, "app token request failed", err)
	}
	defer response.Body.Close()

	if throttle != nil {
		headers := map[string]string{}
		for key := range response.Header {
			headers[key] = response.Header.Get(key)
		}
		// Recording failures never mask the token outcome.
		_ = throttle.AfterCall(ctx, providerID, appTokenBucket, core.ThrottleResponseMeta{
			StatusCode: response.StatusCode,
			Headers:    headers,
		})
	}

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenBodyBytes+1))
	if readErr != nil {
		return tokenEndpointResult{}, core.NewProviderUnavailableError(providerID, "read app token response", readErr)
	}
	if int64(len(body)) > maxTokenBodyBytes {
		return tokenEndpointResult{}, core.NewProviderUnavailableError(
			providerID,
			fmt.Sprintf("app token response exceeds %d bytes", maxTokenBodyBytes),
			nil,
		)
	}

	var result tokenEndpointResult
	if response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices {
		if err := json.Unmarshal(body, &result); err != nil {
			return tokenEndpointResult{}, core.NewProviderUnavailableError(providerID, "decode app token response", err)
		}
		if strings.TrimSpace(result.AccessToken) == "" {
			return tokenEndpointResult{}, core.NewProviderRejectedError(providerID, "app token response is missing access_token")
		}
		return result, nil
	}

	// OAuth denials usually come with an error payload on 4xx.
	_ = json.Unmarshal(body, &result)
	message := strings.TrimSpace(result.ErrorDescription)
	if message == "" {
		message = strings.TrimSpace(result.ErrorCode)
	}
	if message == "" {
		message = fmt.Sprintf("app token endpoint returned %d", response.StatusCode)
	}
	if response.StatusCode == http.StatusTooManyRequests || response.StatusCode >= http.StatusInternalServerError {
		return tokenEndpointResult{}, core.NewProviderUnavailableError(providerID, message, nil)
	}
	return tokenEndpointResult{}, core.NewProviderRejectedError(providerID, message)
}

func appTokenFromResult(providerID string, kind string, result tokenEndpointResult, now time.Time, fallbackTTL time.Duration) AppToken {
	tokenType := strings.TrimSpace(result.TokenType)
	if tokenType == "" {
		tokenType = "bearer"
	}
	token := AppToken{
		ProviderID: providerID,
		TokenType:  strings.ToLower(tokenType),
		Token:      strings.TrimSpace(result.AccessToken),
		Scopes:     splitScopes(result.Scope),
		Metadata: map[string]any{
			"auth_kind": kind,
		},
	}
	ttl := fallbackTTL
	if result.ExpiresIn > 0 {
		ttl = time.Duration(result.ExpiresIn) * time.Second
	}
	if ttl > 0 {
		expiresAt := now.UTC().Add(ttl)
		token.ExpiresAt = &expiresAt
	}
	return token
}
