package query

import (
	"strings"
	"time"
)

const (
	TypeGetConnection   = "connections.query.connection.get"
	TypeListExpiring    = "connections.query.expiring.list"
	TypeGetCapabilities = "connections.query.capabilities.get"
)

type GetConnectionMessage struct {
	UserID     string
	ProviderID string
}

func (GetConnectionMessage) Type() string { return TypeGetConnection }

func (m GetConnectionMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.ProviderID) == "" {
		return queryValidationError("provider_id", "provider id is required")
	}
	return nil
}

type ListExpiringMessage struct {
	Before time.Time
	Limit  int
}

func (ListExpiringMessage) Type() string { return TypeListExpiring }

func (m ListExpiringMessage) Validate() error {
	if m.Limit < 0 {
		return queryValidationError("limit", "limit cannot be negative")
	}
	return nil
}

type GetCapabilitiesMessage struct {
	ProviderID string
}

func (GetCapabilitiesMessage) Type() string { return TypeGetCapabilities }

func (m GetCapabilitiesMessage) Validate() error {
	if strings.TrimSpace(m.ProviderID) == "" {
		return queryValidationError("provider_id", "provider id is required")
	}
	return nil
}
