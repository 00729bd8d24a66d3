package youtube

import (
	"strings"
	"time"

	"github.com/goliatone/go-connections/core"
	"github.com/goliatone/go-connections/providers"
)

const (
	ProviderID  = "youtube"
	DisplayName = "YouTube"
	AuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	TokenURL    = "https://oauth2.googleapis.com/token"
	RevokeURL   = "https://oauth2.googleapis.com/revoke"
)

const (
	ScopeReadonly       = "https://www.googleapis.com/auth/youtube.readonly"
	ScopeUpload         = "https://www.googleapis.com/auth/youtube.upload"
	ScopeAnalyticsRead  = "https://www.googleapis.com/auth/yt-analytics.readonly"
	ScopeChannelManage  = "https://www.googleapis.com/auth/youtube"
	defaultAccessTokens = time.Hour
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

// Provider speaks Google's OAuth endpoints for YouTube. Google rotates
// refresh tokens, so the provider is renewable.
type Provider struct {
	*providers.RenewableProvider
}

func DefaultConfig() Config {
	return Config{
		AuthURL:   AuthURL,
		TokenURL:  TokenURL,
		RevokeURL: RevokeURL,
		DefaultScopes: []string{
			ScopeReadonly,
			ScopeUpload,
		},
		TokenTTL: defaultAccessTokens,
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
		ID:            ProviderID,
		DisplayName:   DisplayName,
		AuthURL:       cfg.AuthURL,
		TokenURL:      cfg.TokenURL,
		RevokeURL:     cfg.RevokeURL,
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		DefaultScopes: cfg.DefaultScopes,
		TokenTTL:      cfg.TokenTTL,
		HTTPClient:    cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{RenewableProvider: renewable}, nil
}

var _ core.RefreshingProvider = (*Provider)(nil)
