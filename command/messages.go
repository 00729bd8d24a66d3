package command

import (
	"strings"
	"time"

	"github.com/goliatone/go-connections/core"
)

const (
	TypeInitiate         = "connections.command.initiate"
	TypeCompleteCallback = "connections.command.callback.complete"
	TypeEnsureToken      = "connections.command.token.ensure"
	TypeDisconnect       = "connections.command.disconnect"
	TypeSweepExpiring    = "connections.command.sweep.expiring"
)

type InitiateMessage struct {
	Request core.InitiateRequest
}

func (InitiateMessage) Type() string { return TypeInitiate }

func (m InitiateMessage) Validate() error {
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.Request.ProviderID) == "" {
		return commandValidationError("provider_id", "provider id is required")
	}
	return nil
}

type CompleteCallbackMessage struct {
	Request core.CallbackRequest
}

func (CompleteCallbackMessage) Type() string { return TypeCompleteCallback }

func (m CompleteCallbackMessage) Validate() error {
	if strings.TrimSpace(m.Request.State) == "" {
		return commandValidationError("state", "state is required")
	}
	if strings.TrimSpace(m.Request.Code) == "" && strings.TrimSpace(m.Request.ProviderError) == "" {
		return commandValidationError("code", "code or provider error is required")
	}
	return nil
}

type EnsureTokenMessage struct {
	UserID     string
	ProviderID string
}

func (EnsureTokenMessage) Type() string { return TypeEnsureToken }

func (m EnsureTokenMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.ProviderID) == "" {
		return commandValidationError("provider_id", "provider id is required")
	}
	return nil
}

type DisconnectMessage struct {
	Request core.DisconnectRequest
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.Request.ProviderID) == "" {
		return commandValidationError("provider_id", "provider id is required")
	}
	return nil
}

type SweepExpiringMessage struct {
	Before time.Time
	Limit  int
}

func (SweepExpiringMessage) Type() string { return TypeSweepExpiring }

func (m SweepExpiringMessage) Validate() error {
	if m.Limit < 0 {
		return commandValidationError("limit", "limit cannot be negative")
	}
	return nil
}
