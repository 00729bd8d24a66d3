package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-connections/core"
)

func newConnectionRecord(in core.Connection) *connectionRecord {
	return &connectionRecord{
		ID:                strings.TrimSpace(in.ID),
		UserID:            strings.TrimSpace(in.UserID),
		ProviderID:        strings.TrimSpace(in.ProviderID),
		ExternalAccountID: strings.TrimSpace(in.ExternalAccountID),
		Status:            string(in.Status),
		Version:           in.Version,
		EncryptedPayload:  append([]byte(nil), in.EncryptedPayload...),
		PayloadFormat:     in.PayloadFormat,
		PayloadVersion:    in.PayloadVersion,
		TokenType:         in.TokenType,
		GrantedScopes:     append([]string(nil), in.GrantedScopes...),
		ExpiresAt:         optionalTime(in.ExpiresAt),
		LastError:         in.LastError,
		LastRefreshedAt:   optionalTime(in.LastRefreshedAt),
		CreatedAt:         in.CreatedAt,
		UpdatedAt:         in.UpdatedAt,
	}
}

func (r *connectionRecord) toDomain() core.Connection {
	if r == nil {
		return core.Connection{}
	}
	return core.Connection{
		ID:                r.ID,
		UserID:            r.UserID,
		ProviderID:        r.ProviderID,
		ExternalAccountID: r.ExternalAccountID,
		Status:            core.ConnectionStatus(r.Status),
		Version:           r.Version,
		EncryptedPayload:  append([]byte(nil), r.EncryptedPayload...),
		PayloadFormat:     r.PayloadFormat,
		PayloadVersion:    r.PayloadVersion,
		TokenType:         r.TokenType,
		GrantedScopes:     append([]string(nil), r.GrantedScopes...),
		ExpiresAt:         derefTime(r.ExpiresAt),
		LastError:         r.LastError,
		LastRefreshedAt:   derefTime(r.LastRefreshedAt),
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func optionalTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func derefTime(value *time.Time) time.Time {
	if value == nil {
		return time.Time{}
	}
	return value.UTC()
}
