package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-connections/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repository "github.com/goliatone/go-repository-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds the SQL-backed connection store from a bun handle
// or a go-persistence-bun client. When a cache service is attached, reads go
// through the caching wrapper.
type RepositoryFactory struct {
	db    *bun.DB
	cache repositorycache.CacheService

	connectionStore core.ConnectionStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// WithCache attaches a cache service; it must be called before BuildStores.
func (f *RepositoryFactory) WithCache(cacheService repositorycache.CacheService) *RepositoryFactory {
	if f == nil {
		return nil
	}
	f.cache = cacheService
	return f
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.connectionStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) ConnectionStore() core.ConnectionStore {
	if f == nil {
		return nil
	}
	return f.connectionStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	connectionRepo := repository.NewRepository[*connectionRecord](f.db, connectionHandlers())
	if validator, ok := connectionRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid connection repository wiring: %w", err)
		}
	}

	base := &ConnectionStore{
		db:   f.db,
		repo: connectionRepo,
	}
	if f.cache == nil {
		f.connectionStore = base
		return nil
	}
	cached, err := NewCachedConnectionStore(base, f.cache)
	if err != nil {
		return err
	}
	f.connectionStore = cached
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}

var (
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
