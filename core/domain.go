package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidConnectionStatusTransition = errors.New("core: invalid connection status transition")
	ErrConnectionNotFound                = errors.New("core: connection not found")
	ErrVersionConflict                   = errors.New("core: connection version conflict")
)

type ConnectionStatus string

const (
	ConnectionStatusActive      ConnectionStatus = "active"
	ConnectionStatusNeedsReauth ConnectionStatus = "needs_reauth"
	ConnectionStatusRevoked     ConnectionStatus = "revoked"
)

// Connection is the single durable record for a (user, provider) pair. Token
// material lives in EncryptedPayload; Version guards every mutation through
// compare-and-swap writes.
type Connection struct {
	ID                string
	UserID            string
	ProviderID        string
	ExternalAccountID string
	Status            ConnectionStatus
	Version           int
	EncryptedPayload  []byte
	PayloadFormat     string
	PayloadVersion    int
	TokenType         string
	GrantedScopes     []string
	ExpiresAt         time.Time
	LastError         string
	LastRefreshedAt   time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (c *Connection) TransitionTo(status ConnectionStatus, reason string, now time.Time) error {
	if c == nil {
		return nil
	}
	if c.Status == status {
		c.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			c.LastError = strings.TrimSpace(reason)
		}
		return nil
	}
	if !connectionTransitionAllowed(c.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidConnectionStatusTransition, c.Status, status)
	}
	c.Status = status
	c.UpdatedAt = now
	c.LastError = strings.TrimSpace(reason)
	if status == ConnectionStatusActive {
		c.LastError = ""
	}
	return nil
}

func connectionTransitionAllowed(current, next ConnectionStatus) bool {
	allowed := map[ConnectionStatus]map[ConnectionStatus]struct{}{
		ConnectionStatusActive: {
			ConnectionStatusNeedsReauth: {},
			ConnectionStatusRevoked:     {},
		},
		ConnectionStatusNeedsReauth: {
			ConnectionStatusActive:  {},
			ConnectionStatusRevoked: {},
		},
		// A revoked pair stays revoked until the user authorizes again,
		// which lands a fresh grant and reactivates the record.
		ConnectionStatusRevoked: {
			ConnectionStatusActive: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

// TokenPayload is the decrypted form of a connection's token material.
type TokenPayload struct {
	AccessToken   string     `json:"access_token"`
	RefreshToken  string     `json:"refresh_token,omitempty"`
	TokenType     string     `json:"token_type,omitempty"`
	GrantedScopes []string   `json:"granted_scopes,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

func normalizeScopes(input []string) []string {
	if len(input) == 0 {
		return []string{}
	}
	values := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, value := range input {
		normalized := strings.TrimSpace(value)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		values = append(values, normalized)
	}
	sort.Strings(values)
	return values
}

func mergeScopes(required []string, requested []string) []string {
	merged := make([]string, 0, len(required)+len(requested))
	merged = append(merged, required...)
	merged = append(merged, requested...)
	return normalizeScopes(merged)
}
