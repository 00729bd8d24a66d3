package providers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-connections/core"
)

const (
	defaultTokenRequestTimeout = 30 * time.Second
	maxTokenResponseBodyBytes  = 1 << 20 // 1 MiB
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type CodeGrantConfig struct {
	ID                  string
	DisplayName         string
	AuthURL             string
	TokenURL            string
	RevokeURL           string
	ClientID            string
	ClientSecret        string
	ClientSecretInBody  bool
	DefaultScopes       []string
	TokenTTL            time.Duration
	TokenRequestTimeout time.Duration
	Now                 func() time.Time
	HTTPClient          HTTPDoer
	Throttle            core.TokenEndpointThrottle
}

// CodeGrantProvider implements the authorization-code grant against a single
// platform's endpoints. It never refreshes; platforms that rotate tokens wrap
// it in a RenewableProvider.
type CodeGrantProvider struct {
	cfg        CodeGrantConfig
	httpClient HTTPDoer
}

type tokenEndpointPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	Scope            string
	ExpiresIn        int64
	AccountID        string
	ErrorCode        string
	ErrorDescription string
}

func NewCodeGrantProvider(cfg CodeGrantConfig) (*CodeGrantProvider, error) {
	cfg.ID = strings.TrimSpace(strings.ToLower(cfg.ID))
	if cfg.ID == "" {
		return nil, fmt.Errorf("providers: provider id is required")
	}
	if strings.TrimSpace(cfg.AuthURL) == "" {
		return nil, fmt.Errorf("providers: auth url is required for provider %q", cfg.ID)
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, fmt.Errorf("providers: token url is required for provider %q", cfg.ID)
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("providers: client id is required for provider %q", cfg.ID)
	}

	cfg.AuthURL = strings.TrimSpace(cfg.AuthURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.RevokeURL = strings.TrimSpace(cfg.RevokeURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.DisplayName = strings.TrimSpace(cfg.DisplayName)
	if cfg.DisplayName == "" {
		cfg.DisplayName = cfg.ID
	}
	cfg.DefaultScopes = normalizeScopeList(cfg.DefaultScopes)
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.TokenRequestTimeout <= 0 {
		cfg.TokenRequestTimeout = defaultTokenRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time {
			return time.Now().UTC()
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.TokenRequestTimeout}
	}

	return &CodeGrantProvider{
		cfg:        cfg,
		httpClient: httpClient,
	}, nil
}

func (p *CodeGrantProvider) ID() string {
	if p == nil {
		return ""
	}
	return p.cfg.ID
}

func (p *CodeGrantProvider) Capabilities() core.ProviderCapabilities {
	if p == nil {
		return core.ProviderCapabilities{}
	}
	return core.ProviderCapabilities{
		ProviderID:       p.cfg.ID,
		DisplayName:      p.cfg.DisplayName,
		SupportsRefresh:  false,
		AccessTokenTTL:   p.cfg.TokenTTL,
		AuthorizationURL: p.cfg.AuthURL,
		TokenURL:         p.cfg.TokenURL,
		RevocationURL:    p.cfg.RevokeURL,
		RequiredScopes:   append([]string(nil), p.cfg.DefaultScopes...),
	}
}

func (p *CodeGrantProvider) BuildAuthorizationURL(_ context.Context, req core.AuthorizationRequest) (core.AuthorizationRedirect, error) {
	if p == nil {
		return core.AuthorizationRedirect{}, fmt.Errorf("providers: code grant provider is nil")
	}
	state := strings.TrimSpace(req.State)
	if state == "" {
		generated, err := generateRedirectState()
		if err != nil {
			return core.AuthorizationRedirect{}, err
		}
		state = generated
	}
	scopes := normalizeScopeList(req.Scopes)
	if len(scopes) == 0 {
		scopes = append([]string(nil), p.cfg.DefaultScopes...)
	}

	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", p.cfg.ClientID)
	if strings.TrimSpace(req.RedirectURI) != "" {
		values.Set("redirect_uri", strings.TrimSpace(req.RedirectURI))
	}
	values.Set("scope", strings.Join(scopes, " "))
	values.Set("state", state)

	authURL := p.cfg.AuthURL
	if strings.Contains(authURL, "?") {
		authURL += "&" + values.Encode()
	} else {
		authURL += "?" + values.Encode()
	}

	return core.AuthorizationRedirect{
		URL:    authURL,
		State:  state,
		Scopes: scopes,
	}, nil
}

func (p *CodeGrantProvider) ExchangeCode(ctx context.Context, req core.ExchangeRequest) (core.TokenGrant, error) {
	if p == nil {
		return core.TokenGrant{}, fmt.Errorf("providers: code grant provider is nil")
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return core.TokenGrant{}, fmt.Errorf("providers: auth code is required")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if redirectURI := strings.TrimSpace(req.RedirectURI); redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	payload, err := p.fetchToken(ctx, form)
	if err != nil {
		return core.TokenGrant{}, err
	}
	return p.grantFromPayload(payload), nil
}

func (p *CodeGrantProvider) RevokeGrant(ctx context.Context, req core.RevokeRequest) error {
	if p == nil {
		return fmt.Errorf("providers: code grant provider is nil")
	}
	if p.cfg.RevokeURL == "" {
		return nil
	}
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		token = strings.TrimSpace(req.AccessToken)
	}
	if token == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	values := url.Values{}
	values.Set("token", token)
	values.Set("client_id", p.cfg.ClientID)
	if p.cfg.ClientSecretInBody && p.cfg.ClientSecret != "" {
		values.Set("client_secret", p.cfg.ClientSecret)
	}

	requestCtx, cancel := context.WithTimeout(ctx, p.cfg.TokenRequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		p.cfg.RevokeURL,
		strings.NewReader(values.Encode()),
	)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if !p.cfg.ClientSecretInBody && p.cfg.ClientSecret != "" {
		httpReq.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	}

	response, err := p.httpClient.Do(httpReq)
	if err != nil {
		return core.NewProviderUnavailableError(p.cfg.ID, "revocation request failed", err)
	}
	defer response.Body.Close()
	io.Copy(io.Discard, io.LimitReader(response.Body, maxTokenResponseBodyBytes))

	switch {
	case response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices:
		return nil
	case isTransientStatus(response.StatusCode):
		return core.NewProviderUnavailableError(
			p.cfg.ID,
			fmt.Sprintf("revocation endpoint returned %d", response.StatusCode),
			nil,
		)
	default:
		return core.NewProviderRejectedError(
			p.cfg.ID,
			fmt.Sprintf("revocation endpoint returned %d", response.StatusCode),
		)
	}
}

// refreshGrant runs the refresh-token grant. Only RenewableProvider exposes
// it on the public surface.
func (p *CodeGrantProvider) refreshGrant(ctx context.Context, req core.RefreshGrantRequest) (core.TokenGrant, error) {
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		return core.TokenGrant{}, core.NewProviderRejectedError(p.cfg.ID, "refresh token is required")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	if scopes := normalizeScopeList(req.Scopes); len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}

	payload, err := p.fetchToken(ctx, form)
	if err != nil {
		return core.TokenGrant{}, err
	}
	return p.grantFromPayload(payload), nil
}

// fetchToken posts the form to the token endpoint and classifies the outcome.
// Deliberate denials (4xx, OAuth error payloads) come back rejected; network
// failures, 5xx, 429 and malformed success bodies come back unavailable.
func (p *CodeGrantProvider) fetchToken(ctx context.Context, form url.Values) (tokenEndpointPayload, error) {
	if p.httpClient == nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: http client is not configured for provider %q", p.cfg.ID)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if p.cfg.Throttle != nil {
		if err := p.cfg.Throttle.BeforeCall(ctx, p.cfg.ID, tokenEndpointBucket); err != nil {
			return tokenEndpointPayload{}, core.NewProviderUnavailableError(p.cfg.ID, "token endpoint throttled", err)
		}
	}

	values := url.Values{}
	for key, items := range form {
		if strings.TrimSpace(key) == "" {
			continue
		}
		for _, item := range items {
			values.Add(key, strings.TrimSpace(item))
		}
	}
	values.Set("client_id", p.cfg.ClientID)
	if p.cfg.ClientSecretInBody && p.cfg.ClientSecret != "" {
		values.Set("client_secret", p.cfg.ClientSecret)
	}

	requestCtx, cancel := context.WithTimeout(ctx, p.cfg.TokenRequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		p.cfg.TokenURL,
		strings.NewReader(values.Encode()),
	)
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if !p.cfg.ClientSecretInBody && p.cfg.ClientSecret != "" {
		httpReq.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	}

	response, err := p.httpClient.Do(httpReq)
	if err != nil {
		return tokenEndpointPayload{}, core.NewProviderUnavailableError(p.cfg.ID, "token request failed", err)
	}
	defer response.Body.Close()
	p.recordThrottleMeta(ctx, response)

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if readErr != nil {
		return tokenEndpointPayload{}, core.NewProviderUnavailableError(p.cfg.ID, "read token response", readErr)
	}
	if int64(len(body)) > maxTokenResponseBodyBytes {
		return tokenEndpointPayload{}, core.NewProviderUnavailableError(
			p.cfg.ID,
			fmt.Sprintf("token response exceeds %d bytes", maxTokenResponseBodyBytes),
			nil,
		)
	}

	payload, parseErr := parseTokenPayload(body, response.Header.Get("Content-Type"))
	if parseErr != nil {
		return tokenEndpointPayload{}, core.NewProviderUnavailableError(p.cfg.ID, "decode token response", parseErr)
	}

	switch {
	case isTransientStatus(response.StatusCode):
		return tokenEndpointPayload{}, core.NewProviderUnavailableError(
			p.cfg.ID,
			fmt.Sprintf("token endpoint returned %d: %s", response.StatusCode, describeTokenError(payload)),
			nil,
		)
	case response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices:
		return tokenEndpointPayload{}, core.NewProviderRejectedError(
			p.cfg.ID,
			fmt.Sprintf("token endpoint returned %d: %s", response.StatusCode, describeTokenError(payload)),
		)
	}

	if payload.ErrorCode != "" {
		if isTransientOAuthError(payload.ErrorCode) {
			return tokenEndpointPayload{}, core.NewProviderUnavailableError(
				p.cfg.ID,
				fmt.Sprintf("token endpoint error: %s", describeTokenError(payload)),
				nil,
			)
		}
		return tokenEndpointPayload{}, core.NewProviderRejectedError(
			p.cfg.ID,
			fmt.Sprintf("token endpoint error: %s", describeTokenError(payload)),
		)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return tokenEndpointPayload{}, core.NewProviderUnavailableError(
			p.cfg.ID,
			"token endpoint response missing access token",
			nil,
		)
	}
	return payload, nil
}

func (p *CodeGrantProvider) grantFromPayload(payload tokenEndpointPayload) core.TokenGrant {
	now := p.cfg.Now().UTC()
	return core.TokenGrant{
		AccessToken:   strings.TrimSpace(payload.AccessToken),
		RefreshToken:  strings.TrimSpace(payload.RefreshToken),
		TokenType:     normalizeTokenType(payload.TokenType),
		GrantedScopes: normalizeScopeList(parseScopeList(payload.Scope)),
		ExpiresAt:     p.resolveExpiresAt(now, payload.ExpiresIn),
		AccountID:     strings.TrimSpace(payload.AccountID),
	}
}

func (p *CodeGrantProvider) resolveExpiresAt(now time.Time, expiresIn int64) *time.Time {
	ttl := p.cfg.TokenTTL
	if expiresIn > 0 {
		ttl = time.Duration(expiresIn) * time.Second
	}
	if ttl <= 0 {
		return nil
	}
	expiresAt := now.Add(ttl)
	return &expiresAt
}

const tokenEndpointBucket = "token"

// recordThrottleMeta feeds the response back to the throttle. Recording
// failures never mask the token outcome.
func (p *CodeGrantProvider) recordThrottleMeta(ctx context.Context, response *http.Response) {
	if p.cfg.Throttle == nil || response == nil {
		return
	}
	headers := make(map[string]string, len(response.Header))
	for key := range response.Header {
		headers[key] = response.Header.Get(key)
	}
	_ = p.cfg.Throttle.AfterCall(ctx, p.cfg.ID, tokenEndpointBucket, core.ThrottleResponseMeta{
		StatusCode: response.StatusCode,
		Headers:    headers,
	})
}

func isTransientStatus(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}

func isTransientOAuthError(code string) bool {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "temporarily_unavailable", "server_error":
		return true
	default:
		return false
	}
}

func describeTokenError(payload tokenEndpointPayload) string {
	if strings.TrimSpace(payload.ErrorDescription) != "" {
		return strings.TrimSpace(payload.ErrorDescription)
	}
	if strings.TrimSpace(payload.ErrorCode) != "" {
		return strings.TrimSpace(payload.ErrorCode)
	}
	return "unknown error"
}

func parseTokenPayload(body []byte, contentType string) (tokenEndpointPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		return parseTokenPayloadJSON(body)
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	accountID := readAnyString(decoded["open_id"])
	if accountID == "" {
		accountID = readAnyString(decoded["user_id"])
	}
	return tokenEndpointPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		TokenType:        readAnyString(decoded["token_type"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		Scope:            readAnyString(decoded["scope"]),
		ExpiresIn:        readAnyInt64(decoded["expires_in"]),
		AccountID:        accountID,
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
	}, nil
}

func parseTokenPayloadForm(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	accountID := strings.TrimSpace(values.Get("open_id"))
	if accountID == "" {
		accountID = strings.TrimSpace(values.Get("user_id"))
	}
	return tokenEndpointPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		Scope:            strings.TrimSpace(values.Get("scope")),
		ExpiresIn:        expiresIn,
		AccountID:        accountID,
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}

func normalizeTokenType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "bearer"
	}
	return normalized
}

func parseScopeList(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return []string{}
	}
	return strings.Fields(strings.ReplaceAll(trimmed, ",", " "))
}

func normalizeScopeList(input []string) []string {
	if len(input) == 0 {
		return []string{}
	}
	values := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, value := range input {
		normalized := strings.TrimSpace(strings.ToLower(value))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		values = append(values, normalized)
	}
	sort.Strings(values)
	return values
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return parsed
		}
		floatParsed, floatErr := typed.Float64()
		if floatErr == nil {
			return int64(floatParsed)
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}

func generateRedirectState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("providers: generate redirect state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

var _ core.Provider = (*CodeGrantProvider)(nil)
