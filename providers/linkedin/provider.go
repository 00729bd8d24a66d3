package linkedin

import (
	"strings"
	"time"

	"github.com/goliatone/go-connections/core"
	"github.com/goliatone/go-connections/providers"
)

const (
	ProviderID  = "linkedin"
	DisplayName = "LinkedIn"
	AuthURL     = "https://www.linkedin.com/oauth/v2/authorization"
	TokenURL    = "https://www.linkedin.com/oauth/v2/accessToken"
)

const (
	ScopeOpenID  = "openid"
	ScopeProfile = "profile"
	ScopeShare   = "w_member_social"
)

type Config struct {
	ClientID      string
	ClientSecret  string
	AuthURL       string
	TokenURL      string
	DefaultScopes []string
	TokenTTL      time.Duration
	HTTPClient    providers.HTTPDoer
}

// Provider speaks LinkedIn's OAuth endpoints. LinkedIn issues long-lived
// access tokens without refresh tokens on the standard program, so the
// provider is built on the plain code-grant base and can never be asked to
// refresh.
type Provider struct {
	*providers.CodeGrantProvider
}

func DefaultConfig() Config {
	return Config{
		AuthURL:  AuthURL,
		TokenURL: TokenURL,
		DefaultScopes: []string{
			ScopeOpenID,
			ScopeProfile,
		},
		TokenTTL: 60 * 24 * time.Hour,
	}
}

func New(cfg Config) (*Provider, error) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.AuthURL) == "" {
		cfg.AuthURL = defaults.AuthURL
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = defaults.TokenURL
	}
	if len(cfg.DefaultScopes) == 0 {
		cfg.DefaultScopes = defaults.DefaultScopes
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaults.TokenTTL
	}

	base, err := providers.NewCodeGrantProvider(providers.CodeGrantConfig{
		ID:            ProviderID,
		DisplayName:   DisplayName,
		AuthURL:       cfg.AuthURL,
		TokenURL:      cfg.TokenURL,
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		DefaultScopes: cfg.DefaultScopes,
		TokenTTL:      cfg.TokenTTL,
		HTTPClient:    cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{CodeGrantProvider: base}, nil
}

var _ core.Provider = (*Provider)(nil)
