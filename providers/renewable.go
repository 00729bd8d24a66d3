package providers

import (
	"context"
	"fmt"

	"github.com/goliatone/go-connections/core"
)

// RenewableProvider wraps a CodeGrantProvider for platforms that issue
// refresh tokens. The refresh capability lives on the type: a provider built
// without this wrapper can never be asked to refresh.
type RenewableProvider struct {
	*CodeGrantProvider
}

func NewRenewableProvider(cfg CodeGrantConfig) (*RenewableProvider, error) {
	base, err := NewCodeGrantProvider(cfg)
	if err != nil {
		return nil, err
	}
	return &RenewableProvider{CodeGrantProvider: base}, nil
}

func (p *RenewableProvider) Capabilities() core.ProviderCapabilities {
	if p == nil || p.CodeGrantProvider == nil {
		return core.ProviderCapabilities{}
	}
	caps := p.CodeGrantProvider.Capabilities()
	caps.SupportsRefresh = true
	return caps
}

func (p *RenewableProvider) RefreshGrant(ctx context.Context, req core.RefreshGrantRequest) (core.TokenGrant, error) {
	if p == nil || p.CodeGrantProvider == nil {
		return core.TokenGrant{}, fmt.Errorf("providers: renewable provider is nil")
	}
	return p.refreshGrant(ctx, req)
}

var _ core.RefreshingProvider = (*RenewableProvider)(nil)
