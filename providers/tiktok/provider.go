package tiktok

import (
	"strings"
	"time"

	"github.com/goliatone/go-connections/core"
	"github.com/goliatone/go-connections/providers"
)

const (
	ProviderID  = "tiktok"
	DisplayName = "TikTok"
	AuthURL     = "https://www.tiktok.com/v2/auth/authorize/"
	TokenURL    = "https://open.tiktokapis.com/v2/oauth/token/"
	RevokeURL   = "https://open.tiktokapis.com/v2/oauth/revoke/"
)

const (
	ScopeUserInfoBasic = "user.info.basic"
	ScopeVideoList     = "video.list"
	ScopeVideoInsights = "video.insights"
)

type Config struct {
	ClientID      string
	ClientSecret  string
	AuthURL       string
	TokenURL      string
	RevokeURL     string
	DefaultScopes []string
	TokenTTL      time.Duration
	HTTPClient    providers.HTTPDoer
}

// Provider speaks TikTok's open platform OAuth endpoints. TikTok wants the
// client secret in the request body, not in basic auth, and issues rotating
// refresh tokens.
type Provider struct {
	*providers.RenewableProvider
}

func DefaultConfig() Config {
	return Config{
		AuthURL:   AuthURL,
		TokenURL:  TokenURL,
		RevokeURL: RevokeURL,
		DefaultScopes: []string{
			ScopeUserInfoBasic,
			ScopeVideoList,
		},
		TokenTTL: 24 * time.Hour,
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
	if strings.TrimSpace(cfg.RevokeURL) == "" {
		cfg.RevokeURL = defaults.RevokeURL
	}
	if len(cfg.DefaultScopes) == 0 {
		cfg.DefaultScopes = defaults.DefaultScopes
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaults.TokenTTL
	}

	renewable, err := providers.NewRenewableProvider(providers.CodeGrantConfig{
		ID:                 ProviderID,
		DisplayName:        DisplayName,
		AuthURL:            cfg.AuthURL,
		TokenURL:           cfg.TokenURL,
		RevokeURL:          cfg.RevokeURL,
		ClientID:           cfg.ClientID,
		ClientSecret:       cfg.ClientSecret,
		ClientSecretInBody: true,
		DefaultScopes:      cfg.DefaultScopes,
		TokenTTL:           cfg.TokenTTL,
		HTTPClient:         cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{RenewableProvider: renewable}, nil
}

var _ core.RefreshingProvider = (*Provider)(nil)
