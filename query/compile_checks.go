package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-connections/core"
)

var (
	_ gocmd.Querier[GetConnectionMessage, core.Connection]             = (*GetConnectionQuery)(nil)
	_ gocmd.Querier[ListExpiringMessage, []core.Connection]            = (*ListExpiringQuery)(nil)
	_ gocmd.Querier[GetCapabilitiesMessage, core.ProviderCapabilities] = (*GetCapabilitiesQuery)(nil)
)
