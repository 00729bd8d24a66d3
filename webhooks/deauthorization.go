package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-connections/core"
)

const (
	SurfaceDeauthorization = "deauthorization"

	// ReasonProviderDeauthorized marks disconnects triggered by the platform
	// rather than the user clicking disconnect in our UI.
	ReasonProviderDeauthorized = "provider_deauthorized"
)

// ConnectionDisconnector is the slice of the lifecycle service a
// deauthorization event needs.
type ConnectionDisconnector interface {
	Disconnect(ctx context.Context, req core.DisconnectRequest) error
}

// AccountResolver maps a platform account id from an event payload to the
// owning user. TikTok deauthorization events carry the open_id, never our
// user id.
type AccountResolver interface {
	ResolveUser(ctx context.Context, providerID string, accountID string) (string, error)
}

// DeauthorizationHandler revokes a connection when the platform reports that
// the user withdrew access on their side.
type DeauthorizationHandler struct {
	Service  ConnectionDisconnector
	Accounts AccountResolver
}

func NewDeauthorizationHandler(service ConnectionDisconnector, accounts AccountResolver) *DeauthorizationHandler {
	return &DeauthorizationHandler{
		Service:  service,
		Accounts: accounts,
	}
}

func (h *DeauthorizationHandler) Surface() string { return SurfaceDeauthorization }

func (h *DeauthorizationHandler) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if h == nil || h.Service == nil {
		return core.InboundResult{}, fmt.Errorf("webhooks: deauthorization handler requires a service")
	}
	providerID := strings.TrimSpace(strings.ToLower(req.ProviderID))
	if providerID == "" {
		return core.InboundResult{}, fmt.Errorf("webhooks: provider id is required")
	}

	event, err := parseDeauthorizationEvent(req.Body)
	if err != nil {
		return core.InboundResult{}, err
	}

	userID := event.UserID
	if userID == "" {
		if h.Accounts == nil {
			return core.InboundResult{}, fmt.Errorf(
				"webhooks: deauthorization event for provider %q carries no user id and no account resolver is configured",
				providerID,
			)
		}
		if event.AccountID == "" {
			return core.InboundResult{}, fmt.Errorf(
				"webhooks: deauthorization event for provider %q identifies no account",
				providerID,
			)
		}
		userID, err = h.Accounts.ResolveUser(ctx, providerID, event.AccountID)
		if err != nil {
			return core.InboundResult{}, fmt.Errorf("webhooks: resolve deauthorized account: %w", err)
		}
	}

	if err := h.Service.Disconnect(ctx, core.DisconnectRequest{
		UserID:     userID,
		ProviderID: providerID,
		Reason:     ReasonProviderDeauthorized,
	}); err != nil {
		return core.InboundResult{}, err
	}

	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Metadata: map[string]any{
			"user_id": userID,
			"reason":  ReasonProviderDeauthorized,
		},
	}, nil
}

type deauthorizationEvent struct {
	UserID    string
	AccountID string
}

// parseDeauthorizationEvent reads the fields platforms actually send: TikTok
// wraps the open_id in a "content" object, LinkedIn and Google flavors put
// identifiers at the top level.
func parseDeauthorizationEvent(body []byte) (deauthorizationEvent, error) {
	if len(body) == 0 {
		return deauthorizationEvent{}, fmt.Errorf("webhooks: deauthorization event body is empty")
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return deauthorizationEvent{}, fmt.Errorf("webhooks: decode deauthorization event: %w", err)
	}

	event := deauthorizationEvent{
		UserID:    readEventString(payload, "user_id"),
		AccountID: firstNonEmpty(
			readEventString(payload, "open_id"),
			readEventString(payload, "account_id"),
			readEventString(payload, "member_id"),
			readEventString(payload, "channel_id"),
		),
	}
	if nested, ok := payload["content"].(map[string]any); ok {
		if event.UserID == "" {
			event.UserID = readEventString(nested, "user_id")
		}
		if event.AccountID == "" {
			event.AccountID = firstNonEmpty(
				readEventString(nested, "open_id"),
				readEventString(nested, "account_id"),
			)
		}
	}
	return event, nil
}

func readEventString(payload map[string]any, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

var _ core.InboundHandler = (*DeauthorizationHandler)(nil)
