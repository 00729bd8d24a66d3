package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type connectionRecord struct {
	bun.BaseModel `bun:"table:provider_connections,alias:pc"`

	ID                string     `bun:"id,pk"`
	UserID            string     `bun:"user_id,notnull"`
	ProviderID        string     `bun:"provider_id,notnull"`
	ExternalAccountID string     `bun:"external_account_id"`
	Status            string     `bun:"status,notnull"`
	Version           int        `bun:"version,notnull"`
	EncryptedPayload  []byte     `bun:"encrypted_payload"`
	PayloadFormat     string     `bun:"payload_format"`
	PayloadVersion    int        `bun:"payload_version"`
	TokenType         string     `bun:"token_type"`
	GrantedScopes     []string   `bun:"granted_scopes,type:jsonb"`
	ExpiresAt         *time.Time `bun:"expires_at,nullzero"`
	LastError         string     `bun:"last_error"`
	LastRefreshedAt   *time.Time `bun:"last_refreshed_at,nullzero"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
