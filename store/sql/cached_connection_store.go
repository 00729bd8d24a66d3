package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-connections/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const connectionCacheKeyPrefix = "go-connections::connection::v1"

// CachedConnectionStore caches reads of the hot (user, provider) lookup and
// invalidates on every write. Version-guarded writes always go to the base
// store, so the cache can only ever serve a stale read, never a stale write.
type CachedConnectionStore struct {
	base  core.ConnectionStore
	cache repositorycache.CacheService
}

func NewCachedConnectionStore(
	base core.ConnectionStore,
	cacheService repositorycache.CacheService,
) (*CachedConnectionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base connection store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: connection cache service is required")
	}
	return &CachedConnectionStore{base: base, cache: cacheService}, nil
}

// ConnectionCacheKey returns the deterministic cache key contract for
// connection reads: go-connections::connection::v1::<user_id>::<provider_id>
// with each segment URL-path escaped.
func ConnectionCacheKey(userID string, providerID string) (string, error) {
	userID = strings.TrimSpace(userID)
	providerID = strings.TrimSpace(providerID)
	if userID == "" || providerID == "" {
		return "", fmt.Errorf("sqlstore: user id and provider id are required")
	}
	segments := []string{
		url.PathEscape(userID),
		url.PathEscape(providerID),
	}
	return strings.Join(append([]string{connectionCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedConnectionStore) Get(ctx context.Context, userID string, providerID string) (core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	cacheKey, err := ConnectionCacheKey(userID, providerID)
	if err != nil {
		return core.Connection{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Connection, error) {
		return s.base.Get(ctx, userID, providerID)
	})
}

func (s *CachedConnectionStore) Create(ctx context.Context, record core.Connection) (core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	created, err := s.base.Create(ctx, record)
	if err != nil {
		return core.Connection{}, err
	}
	if err := s.invalidate(ctx, created.UserID, created.ProviderID); err != nil {
		return core.Connection{}, err
	}
	return created, nil
}

func (s *CachedConnectionStore) Update(ctx context.Context, record core.Connection, expectedVersion int) (core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	updated, err := s.base.Update(ctx, record, expectedVersion)
	if err != nil {
		if errors.Is(err, core.ErrVersionConflict) {
			// a conflicting writer already changed the row, the cached copy
			// is stale
			_ = s.invalidate(ctx, record.UserID, record.ProviderID)
		}
		return core.Connection{}, err
	}
	if err := s.invalidate(ctx, updated.UserID, updated.ProviderID); err != nil {
		return core.Connection{}, err
	}
	return updated, nil
}

func (s *CachedConnectionStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]core.Connection, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	return s.base.ListExpiring(ctx, before, limit)
}

func (s *CachedConnectionStore) invalidate(ctx context.Context, userID string, providerID string) error {
	cacheKey, err := ConnectionCacheKey(userID, providerID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

var _ core.ConnectionStore = (*CachedConnectionStore)(nil)
