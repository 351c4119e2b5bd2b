package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-ingress/core"
)

const threadCacheKeyPrefix = "go-ingress::thread::v1"

// CachedThreadStore serves thread reads from a repository cache. Misses are
// never cached, so a thread created after a miss is visible on the next read.
type CachedThreadStore struct {
	base  core.ThreadStore
	cache repositorycache.CacheService
}

func NewCachedThreadStore(base core.ThreadStore, cacheService repositorycache.CacheService) (*CachedThreadStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base thread store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: thread cache service is required")
	}
	return &CachedThreadStore{base: base, cache: cacheService}, nil
}

// ThreadCacheKey returns go-ingress::thread::v1::<thread_id> with the id URL
// path escaped.
func ThreadCacheKey(threadID string) (string, error) {
	trimmed := strings.TrimSpace(threadID)
	if trimmed == "" {
		return "", fmt.Errorf("sqlstore: thread id is required")
	}
	return threadCacheKeyPrefix + "::" + url.PathEscape(trimmed), nil
}

func (s *CachedThreadStore) GetThread(ctx context.Context, id string) (core.Thread, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Thread{}, fmt.Errorf("sqlstore: cached thread store is not configured")
	}
	cacheKey, err := ThreadCacheKey(id)
	if err != nil {
		return core.Thread{}, core.ErrThreadNotFound
	}
	thread, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Thread, error) {
		fetched, fetchErr := s.base.GetThread(ctx, strings.TrimSpace(id))
		if fetchErr != nil {
			return core.Thread{}, fetchErr
		}
		return cloneThread(fetched), nil
	})
	if err != nil {
		return core.Thread{}, err
	}
	return cloneThread(thread), nil
}

func (s *CachedThreadStore) CreateThreadIfAbsent(ctx context.Context, thread core.Thread) (core.Thread, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Thread{}, fmt.Errorf("sqlstore: cached thread store is not configured")
	}
	stored, err := s.base.CreateThreadIfAbsent(ctx, thread)
	if err != nil {
		return core.Thread{}, err
	}
	cacheKey, err := ThreadCacheKey(stored.ID)
	if err != nil {
		return core.Thread{}, err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return core.Thread{}, err
	}
	return cloneThread(stored), nil
}

func cloneThread(thread core.Thread) core.Thread {
	cloned := thread
	cloned.Settings = copyAnyMap(thread.Settings)
	return cloned
}
