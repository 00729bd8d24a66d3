package connections

import (
	"github.com/goliatone/go-connections/core"
	"github.com/goliatone/go-connections/providers/linkedin"
	"github.com/goliatone/go-connections/providers/tiktok"
	"github.com/goliatone/go-connections/providers/youtube"
)

func YouTubeProvider(cfg youtube.Config) (core.RefreshingProvider, error) {
	return youtube.New(cfg)
}

func TikTokProvider(cfg tiktok.Config) (core.RefreshingProvider, error) {
	return tiktok.New(cfg)
}

// LinkedInProvider returns a code-grant provider. LinkedIn connections
// cannot refresh, expiry always routes through re-authorization.
func LinkedInProvider(cfg linkedin.Config) (core.Provider, error) {
	return linkedin.New(cfg)
}
