package snapshot

import (
	"context"
	"errors"
	"time"

	"pkt.systems/pslog"

	"github.com/denysvitali/codexbar/internal/cache"
	"github.com/denysvitali/codexbar/internal/provider"
	"github.com/denysvitali/codexbar/internal/usage"
)

// ResolveFunc resolves usage for a provider selector and source filter
type ResolveFunc func(ctx context.Context, selector, source string) (*provider.UsageStats, error)

// Service serves snapshots, from the cache when young enough
type Service struct {
	Resolve ResolveFunc
	// Cache may be nil
	Cache *cache.Manager
	Now   func() time.Time
}

// CacheKey names the cache entry for a selector and source
func CacheKey(selector, source string) string {
	return cache.HashKey("snapshot", selector+"|"+source)
}

// Get returns a snapshot for selector and source. With maxAge > 0 a cached
// snapshot younger than maxAge is returned without resolving. When no
// provider has data the snapshot is empty, not an error, and is not cached.
func (s *Service) Get(ctx context.Context, selector, source string, maxAge time.Duration) (WidgetSnapshot, error) {
	log := pslog.Ctx(ctx)
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	key := CacheKey(selector, source)

	if maxAge > 0 && s.Cache != nil {
		var cached WidgetSnapshot
		cachedAt, found, err := s.Cache.Get(key, maxAge, &cached)
		switch {
		case err != nil:
			log.Warn("snapshot cache unreadable", "dir", s.Cache.CacheDir(), "err", err)
		case found:
			log.Debug("serving cached snapshot", "cached_at", cachedAt)
			return cached, nil
		}
	}

	stats, err := s.Resolve(ctx, selector, source)
	if err != nil && !errors.Is(err, usage.ErrAllProvidersFailed) {
		return WidgetSnapshot{}, err
	}
	snap := New(stats, now())
	if err != nil {
		log.Warn("snapshot has no entries", "err", err)
		return snap, nil
	}
	if s.Cache != nil {
		if err := s.Cache.Set(key, snap); err != nil {
			log.Warn("failed to cache snapshot", "dir", s.Cache.CacheDir(), "err", err)
		}
	}
	return snap, nil
}
