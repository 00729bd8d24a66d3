package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[InitiateMessage]         = (*InitiateCommand)(nil)
	_ gocmd.Commander[CompleteCallbackMessage] = (*CompleteCallbackCommand)(nil)
	_ gocmd.Commander[EnsureTokenMessage]      = (*EnsureTokenCommand)(nil)
	_ gocmd.Commander[DisconnectMessage]       = (*DisconnectCommand)(nil)
	_ gocmd.Commander[SweepExpiringMessage]    = (*SweepExpiringCommand)(nil)
)
