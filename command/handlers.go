package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-connections/core"
)

type MutatingService interface {
	Initiate(ctx context.Context, req core.InitiateRequest) (core.AuthorizationRedirect, error)
	CompleteCallback(ctx context.Context, req core.CallbackRequest) (core.Connection, error)
	EnsureValidToken(ctx context.Context, userID string, providerID string) (core.AccessToken, error)
	Disconnect(ctx context.Context, req core.DisconnectRequest) error
	SweepExpiring(ctx context.Context, before time.Time, limit int) (core.SweepStats, error)
}

type InitiateCommand struct {
	service MutatingService
}

func NewInitiateCommand(service MutatingService) *InitiateCommand {
	return &InitiateCommand{service: service}
}

func (c *InitiateCommand) Execute(ctx context.Context, msg InitiateMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: initiate service is required")
	}
	out, err := c.service.Initiate(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteCallbackCommand struct {
	service MutatingService
}

func NewCompleteCallbackCommand(service MutatingService) *CompleteCallbackCommand {
	return &CompleteCallbackCommand{service: service}
}

func (c *CompleteCallbackCommand) Execute(ctx context.Context, msg CompleteCallbackMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: callback service is required")
	}
	out, err := c.service.CompleteCallback(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type EnsureTokenCommand struct {
	service MutatingService
}

func NewEnsureTokenCommand(service MutatingService) *EnsureTokenCommand {
	return &EnsureTokenCommand{service: service}
}

func (c *EnsureTokenCommand) Execute(ctx context.Context, msg EnsureTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	out, err := c.service.EnsureValidToken(ctx, msg.UserID, msg.ProviderID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisconnectCommand struct {
	service MutatingService
}

func NewDisconnectCommand(service MutatingService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect service is required")
	}
	return c.service.Disconnect(ctx, msg.Request)
}

type SweepExpiringCommand struct {
	service MutatingService
}

func NewSweepExpiringCommand(service MutatingService) *SweepExpiringCommand {
	return &SweepExpiringCommand{service: service}
}

func (c *SweepExpiringCommand) Execute(ctx context.Context, msg SweepExpiringMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sweep service is required")
	}
	out, err := c.service.SweepExpiring(ctx, msg.Before, msg.Limit)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
