package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultRefreshLeadWindow is how long before expiry a token is treated
	// as stale and refreshed ahead of use.
	DefaultRefreshLeadWindow = 5 * time.Minute

	DefaultProviderTimeout = 30 * time.Second

	DefaultSweepLimit = 100
)

type Config struct {
	ServiceName       string        `koanf:"service_name" mapstructure:"service_name"`
	StateTTL          time.Duration `koanf:"state_ttl" mapstructure:"state_ttl"`
	RefreshLeadWindow time.Duration `koanf:"refresh_lead_window" mapstructure:"refresh_lead_window"`
	ProviderTimeout   time.Duration `koanf:"provider_timeout" mapstructure:"provider_timeout"`
	SweepLimit        int           `koanf:"sweep_limit" mapstructure:"sweep_limit"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:       "connections",
		StateTTL:          DefaultAuthStateTTL,
		RefreshLeadWindow: DefaultRefreshLeadWindow,
		ProviderTimeout:   DefaultProviderTimeout,
		SweepLimit:        DefaultSweepLimit,
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("core: config is nil")
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service name is required")
	}
	if c.StateTTL < 0 {
		return fmt.Errorf("core: state ttl must not be negative")
	}
	if c.RefreshLeadWindow < 0 {
		return fmt.Errorf("core: refresh lead window must not be negative")
	}
	if c.ProviderTimeout < 0 {
		return fmt.Errorf("core: provider timeout must not be negative")
	}
	if c.SweepLimit < 0 {
		return fmt.Errorf("core: sweep limit must not be negative")
	}
	return nil
}
