package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-connections/core"
)

const KindClientCredentials = "oauth2_client_credentials"

type ClientCredentialsConfig struct {
	ProviderID     string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	Scopes         []string
	TokenTTL       time.Duration
	RenewBefore    time.Duration
	RequestTimeout time.Duration
	Now            func() time.Time
	HTTPClient     HTTPDoer
	Throttle       core.TokenEndpointThrottle
}

// ClientCredentialsSource mints app tokens with the two-legged client
// credentials grant. LinkedIn's Marketing APIs take this shape for
// application-level calls.
type ClientCredentialsSource struct {
	cfg   ClientCredentialsConfig
	doer  HTTPDoer
	cache *tokenCache
}

func NewClientCredentialsSource(cfg ClientCredentialsConfig) (*ClientCredentialsSource, error) {
	cfg.ProviderID = strings.TrimSpace(strings.ToLower(cfg.ProviderID))
	if cfg.ProviderID == "" {
		return nil, fmt.Errorf("auth: provider id is required")
	}
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("auth: token url is required for provider %q", cfg.ProviderID)
	}
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("auth: client credentials are required for provider %q", cfg.ProviderID)
	}
	cfg.Scopes = normalizeScopes(cfg.Scopes)
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	doer := cfg.HTTPClient
	if doer == nil {
		doer = &http.Client{Timeout: defaultRequestTimeout}
	}

	return &ClientCredentialsSource{
		cfg:   cfg,
		doer:  doer,
		cache: newTokenCache(cfg.RenewBefore, cfg.Now),
	}, nil
}

func (*ClientCredentialsSource) Kind() string {
	return KindClientCredentials
}

func (s *ClientCredentialsSource) ProviderID() string {
	if s == nil {
		return ""
	}
	return s.cfg.ProviderID
}

func (s *ClientCredentialsSource) Token(ctx context.Context) (AppToken, error) {
	if s == nil {
		return AppToken{}, fmt.Errorf("auth: client credentials source is nil")
	}
	if cached, ok := s.cache.get(); ok {
		return cached, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.cfg.ClientID)
	form.Set("client_secret", s.cfg.ClientSecret)
	if len(s.cfg.Scopes) > 0 {
		form.Set("scope", strings.Join(s.cfg.Scopes, " "))
	}

	result, err := postTokenRequest(
		ctx,
		s.doer,
		s.cfg.Throttle,
		s.cfg.ProviderID,
		s.cfg.TokenURL,
		form.Encode(),
		s.cfg.RequestTimeout,
	)
	if err != nil {
		return AppToken{}, err
	}

	token := appTokenFromResult(s.cfg.ProviderID, KindClientCredentials, result, s.cfg.Now(), s.cfg.TokenTTL)
	if len(token.Scopes) == 0 {
		token.Scopes = append([]string(nil), s.cfg.Scopes...)
	}
	s.cache.put(token)
	return token, nil
}

var _ AppTokenSource = (*ClientCredentialsSource)(nil)
