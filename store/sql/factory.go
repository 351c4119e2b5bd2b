// Package sqlstore implements the gateway stores on bun, targeting postgres in
// production and sqlite for local runs and tests.
package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-ingress/core"
)

type RepositoryFactory struct {
	db *bun.DB

	threadCache repositorycache.CacheService

	threadStore  core.ThreadStore
	legacyStore  *LegacyStore
	messageStore *MessageStore
	balanceStore *BalanceStore
}

type FactoryOption func(*RepositoryFactory)

// WithThreadCache fronts thread reads with the given cache service.
func WithThreadCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.threadCache = cacheService
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
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
	if f.threadStore != nil && f.messageStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) ThreadStore() core.ThreadStore {
	if f == nil {
		return nil
	}
	return f.threadStore
}

func (f *RepositoryFactory) LegacyStore() core.LegacyStore {
	if f == nil {
		return nil
	}
	return f.legacyStore
}

func (f *RepositoryFactory) MessageStore() core.MessageStore {
	if f == nil {
		return nil
	}
	return f.messageStore
}

func (f *RepositoryFactory) BalanceStore() core.BalanceStore {
	if f == nil {
		return nil
	}
	return f.balanceStore
}

// Messages exposes the concrete message store for thread listings.
func (f *RepositoryFactory) Messages() *MessageStore {
	if f == nil {
		return nil
	}
	return f.messageStore
}

// Balances exposes the concrete balance store for ledger reads.
func (f *RepositoryFactory) Balances() *BalanceStore {
	if f == nil {
		return nil
	}
	return f.balanceStore
}

func (f *RepositoryFactory) initStores() error {
	threadStore, err := NewThreadStore(f.db)
	if err != nil {
		return err
	}
	f.threadStore = threadStore
	if f.threadCache != nil {
		cached, err := NewCachedThreadStore(threadStore, f.threadCache)
		if err != nil {
			return err
		}
		f.threadStore = cached
	}

	legacyStore, err := NewLegacyStore(f.db)
	if err != nil {
		return err
	}
	f.legacyStore = legacyStore

	messageStore, err := NewMessageStore(f.db)
	if err != nil {
		return err
	}
	f.messageStore = messageStore

	balanceStore, err := NewBalanceStore(f.db)
	if err != nil {
		return err
	}
	f.balanceStore = balanceStore

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
