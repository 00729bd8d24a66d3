package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-connections/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConnectionStore persists one row per (user, provider). Update is a
// compare-and-swap on the version column so concurrent writers cannot
// silently overwrite each other.
type ConnectionStore struct {
	db   *bun.DB
	repo repository.Repository[*connectionRecord]
}

func (s *ConnectionStore) Get(ctx context.Context, userID string, providerID string) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	userID = strings.TrimSpace(userID)
	providerID = strings.TrimSpace(providerID)
	if userID == "" || providerID == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: user id and provider id are required")
	}

	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", userID),
		repository.SelectBy("provider_id", "=", providerID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Connection{}, err
	}
	if len(records) == 0 {
		return core.Connection{}, fmt.Errorf(
			"sqlstore: connection for user %q and provider %q: %w",
			userID, providerID, core.ErrConnectionNotFound,
		)
	}
	return records[0].toDomain(), nil
}

func (s *ConnectionStore) Create(ctx context.Context, in core.Connection) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: user id is required")
	}
	if strings.TrimSpace(in.ProviderID) == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: provider id is required")
	}

	now := time.Now().UTC()
	record := newConnectionRecord(in)
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = string(core.ConnectionStatusActive)
	}
	if record.Version <= 0 {
		record.Version = 1
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}

	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Connection{}, err
	}
	return created.toDomain(), nil
}

func (s *ConnectionStore) Update(ctx context.Context, in core.Connection, expectedVersion int) (core.Connection, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	userID := strings.TrimSpace(in.UserID)
	providerID := strings.TrimSpace(in.ProviderID)
	if userID == "" || providerID == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: user id and provider id are required")
	}
	if expectedVersion <= 0 {
		return core.Connection{}, fmt.Errorf("sqlstore: expected version must be positive")
	}

	record := newConnectionRecord(in)
	record.Version = expectedVersion + 1
	record.UpdatedAt = time.Now().UTC()

	result, err := s.db.NewUpdate().
		Model(record).
		Column(
			"external_account_id",
			"status",
			"version",
			"encrypted_payload",
			"payload_format",
			"payload_version",
			"token_type",
			"granted_scopes",
			"expires_at",
			"last_error",
			"last_refreshed_at",
			"updated_at",
		).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.provider_id = ?", providerID).
		Where("?TableAlias.version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return core.Connection{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.Connection{}, err
	}
	if affected == 0 {
		return core.Connection{}, fmt.Errorf(
			"sqlstore: connection for user %q and provider %q at version %d: %w",
			userID, providerID, expectedVersion, core.ErrVersionConflict,
		)
	}
	return s.Get(ctx, userID, providerID)
}

func (s *ConnectionStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]core.Connection, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	cutoff := before.UTC()

	records, _, err := s.repo.List(ctx,
		repository.SelectBy("status", "=", string(core.ConnectionStatusActive)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.expires_at IS NOT NULL").
				Where("?TableAlias.expires_at <= ?", cutoff)
		}),
		repository.OrderBy("expires_at ASC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}

	out := make([]core.Connection, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

var _ core.ConnectionStore = (*ConnectionStore)(nil)
