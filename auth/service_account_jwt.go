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

const (
	KindServiceAccountJWT = "service_account_jwt"

	jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	defaultAssertionTTL = 5 * time.Minute
)

type ServiceAccountJWTConfig struct {
	ProviderID       string
	TokenURL         string
	Issuer           string
	Subject          string
	Audience         string
	Scopes           []string
	SigningKey       string
	SigningAlgorithm string
	KeyID            string
	AssertionTTL     time.Duration
	TokenTTL         time.Duration
	RenewBefore      time.Duration
	RequestTimeout   time.Duration
	Now              func() time.Time
	HTTPClient       HTTPDoer
	Throttle         core.TokenEndpointThrottle
}

// ServiceAccountJWTSource mints app tokens with the JWT bearer grant. Google
// service accounts use this for server-to-server YouTube Data API access:
// the issuer is the service account email and the audience is the token
// endpoint itself.
type ServiceAccountJWTSource struct {
	cfg   ServiceAccountJWTConfig
	doer  HTTPDoer
	cache *tokenCache
}

func NewServiceAccountJWTSource(cfg ServiceAccountJWTConfig) (*ServiceAccountJWTSource, error) {
	cfg.ProviderID = strings.TrimSpace(strings.ToLower(cfg.ProviderID))
	if cfg.ProviderID == "" {
		return nil, fmt.Errorf("auth: provider id is required")
	}
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("auth: token url is required for provider %q", cfg.ProviderID)
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("auth: issuer is required for provider %q", cfg.ProviderID)
	}
	cfg.SigningKey = strings.TrimSpace(cfg.SigningKey)
	if cfg.SigningKey == "" {
		return nil, fmt.Errorf("auth: signing key is required for provider %q", cfg.ProviderID)
	}
	cfg.Subject = strings.TrimSpace(cfg.Subject)
	cfg.Audience = firstNonEmpty(cfg.Audience, cfg.TokenURL)
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	cfg.SigningAlgorithm = firstNonEmpty(strings.ToUpper(strings.TrimSpace(cfg.SigningAlgorithm)), jwtAlgRS256)
	cfg.Scopes = normalizeScopes(cfg.Scopes)
	if cfg.AssertionTTL <= 0 {
		cfg.AssertionTTL = defaultAssertionTTL
	}
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

	return &ServiceAccountJWTSource{
		cfg:   cfg,
		doer:  doer,
		cache: newTokenCache(cfg.RenewBefore, cfg.Now),
	}, nil
}

func (*ServiceAccountJWTSource) Kind() string {
	return KindServiceAccountJWT
}

func (s *ServiceAccountJWTSource) ProviderID() string {
	if s == nil {
		return ""
	}
	return s.cfg.ProviderID
}

func (s *ServiceAccountJWTSource) Token(ctx context.Context) (AppToken, error) {
	if s == nil {
		return AppToken{}, fmt.Errorf("auth: service account jwt source is nil")
	}
	if cached, ok := s.cache.get(); ok {
		return cached, nil
	}

	assertion, err := s.buildAssertion()
	if err != nil {
		return AppToken{}, err
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrantType)
	form.Set("assertion", assertion)

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

	token := appTokenFromResult(s.cfg.ProviderID, KindServiceAccountJWT, result, s.cfg.Now(), s.cfg.TokenTTL)
	if len(token.Scopes) == 0 {
		token.Scopes = append([]string(nil), s.cfg.Scopes...)
	}
	token.Metadata["issuer"] = s.cfg.Issuer
	s.cache.put(token)
	return token, nil
}

func (s *ServiceAccountJWTSource) buildAssertion() (string, error) {
	now := s.cfg.Now().UTC()
	claims := map[string]any{
		"iss": s.cfg.Issuer,
		"aud": s.cfg.Audience,
		"iat": now.Unix(),
		"exp": now.Add(s.cfg.AssertionTTL).Unix(),
	}
	if s.cfg.Subject != "" {
		claims["sub"] = s.cfg.Subject
	}
	if len(s.cfg.Scopes) > 0 {
		claims["scope"] = strings.Join(s.cfg.Scopes, " ")
	}
	return signJWT(s.cfg.KeyID, s.cfg.SigningAlgorithm, s.cfg.SigningKey, claims)
}

var _ AppTokenSource = (*ServiceAccountJWTSource)(nil)
