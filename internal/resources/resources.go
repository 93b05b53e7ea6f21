// Package resources reads the earnings REST resources through the expiring
// cache.
//
// Each resource family has its own key namespace and TTL tier: message
// snapshots use the short tier, earnings lists the medium tier and per-ticker
// lookups the long tier. Concurrent misses on the same key share one upstream
// fetch. Successful writes remove the affected keys so the next read goes
// upstream.
package resources

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/earnings-feed/internal/cache"
	"github.com/rickgao/earnings-feed/internal/model"
)

// Key namespaces.
const (
	nsMessages   = "messages"
	nsEarnings   = "earnings"
	nsHistorical = "historical"
	nsConfig     = "config"
)

// Upstream is the REST API the service reads through to.
type Upstream interface {
	GetMessages(ctx context.Context) ([]model.Message, error)
	GetEarnings(ctx context.Context, date string) ([]model.EarningsItem, error)
	GetHistoricalMetrics(ctx context.Context, ticker, date string) (*model.HistoricalMetrics, error)
	GetCompanyConfig(ctx context.Context, ticker string) (*model.CompanyConfig, error)
	PutHistoricalMetrics(ctx context.Context, ticker, date string, doc json.RawMessage) error
	PutCompanyConfig(ctx context.Context, ticker string, doc json.RawMessage) error
}

// fetchTimeout bounds a shared upstream fetch once it no longer follows the
// caller that started it.
const fetchTimeout = 30 * time.Second

// Service is a read-through cache in front of Upstream.
type Service struct {
	upstream Upstream
	store    cache.Store
	ttls     cache.TTLs
	logger   *slog.Logger

	group singleflight.Group

	// gens counts invalidations per key. A fetch only fills the cache if the
	// key's generation is unchanged since the fetch began.
	mu   sync.Mutex
	gens map[string]uint64
}

// New creates a Service.
func New(upstream Upstream, store cache.Store, ttls cache.TTLs, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		upstream: upstream,
		store:    store,
		ttls:     ttls,
		logger:   logger,
		gens:     make(map[string]uint64),
	}
}

// Messages returns the notification snapshot, cached in the short tier.
func (s *Service) Messages(ctx context.Context) ([]model.Message, error) {
	return readThrough(ctx, s, cache.Key(nsMessages), s.ttls.Short, s.upstream.GetMessages)
}

// RefreshMessages fetches a new snapshot, bypassing and then replacing the
// cached one.
func (s *Service) RefreshMessages(ctx context.Context) ([]model.Message, error) {
	s.invalidate(ctx, cache.Key(nsMessages))
	return s.Messages(ctx)
}

// Earnings returns the announcements for date, cached in the medium tier.
func (s *Service) Earnings(ctx context.Context, date string) ([]model.EarningsItem, error) {
	return readThrough(ctx, s, cache.Key(nsEarnings, date), s.ttls.Medium,
		func(ctx context.Context) ([]model.EarningsItem, error) {
			return s.upstream.GetEarnings(ctx, date)
		})
}

// HistoricalMetrics returns ticker's figures for date, cached in the long tier.
func (s *Service) HistoricalMetrics(ctx context.Context, ticker, date string) (*model.HistoricalMetrics, error) {
	ticker = normTicker(ticker)
	return readThrough(ctx, s, cache.Key(nsHistorical, ticker, date), s.ttls.Long,
		func(ctx context.Context) (*model.HistoricalMetrics, error) {
			return s.upstream.GetHistoricalMetrics(ctx, ticker, date)
		})
}

// CompanyConfig returns ticker's scraping config, cached in the long tier.
func (s *Service) CompanyConfig(ctx context.Context, ticker string) (*model.CompanyConfig, error) {
	ticker = normTicker(ticker)
	return readThrough(ctx, s, cache.Key(nsConfig, ticker), s.ttls.Long,
		func(ctx context.Context) (*model.CompanyConfig, error) {
			return s.upstream.GetCompanyConfig(ctx, ticker)
		})
}

// PutHistoricalMetrics writes upstream and invalidates the cached entry.
func (s *Service) PutHistoricalMetrics(ctx context.Context, ticker, date string, doc json.RawMessage) error {
	ticker = normTicker(ticker)
	if err := s.upstream.PutHistoricalMetrics(ctx, ticker, date, doc); err != nil {
		return err
	}
	s.invalidate(ctx, cache.Key(nsHistorical, ticker, date))
	return nil
}

// PutCompanyConfig writes upstream and invalidates the cached entry.
func (s *Service) PutCompanyConfig(ctx context.Context, ticker string, doc json.RawMessage) error {
	ticker = normTicker(ticker)
	if err := s.upstream.PutCompanyConfig(ctx, ticker, doc); err != nil {
		return err
	}
	s.invalidate(ctx, cache.Key(nsConfig, ticker))
	return nil
}

// invalidate drops key from the cache and fences off fetches already in
// flight for it.
func (s *Service) invalidate(ctx context.Context, key string) {
	s.mu.Lock()
	s.gens[key]++
	s.store.Remove(ctx, key)
	s.mu.Unlock()

	s.group.Forget(key)
	s.logger.Debug("cache entry invalidated", "key", key)
}

func (s *Service) generation(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[key]
}

// fill caches v under key unless key was invalidated since generation gen.
func (s *Service) fill(ctx context.Context, key string, gen uint64, v any, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gens[key] != gen {
		return false
	}
	cache.SetJSON(ctx, s.store, key, v, ttl)
	return true
}

// readThrough returns the cached value for key or fetches, caches and returns
// it. Fetch errors are returned and nothing is cached. A fetch that straddles
// an invalidation of key returns its result without caching it.
//
// The shared fetch runs detached from any one caller, so a cancelled caller
// only abandons its own wait.
func readThrough[T any](ctx context.Context, s *Service, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := cache.GetJSON[T](ctx, s.store, key); ok {
		return v, nil
	}

	gen := s.generation(key)
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		if v, ok := cache.GetJSON[T](fetchCtx, s.store, key); ok {
			return v, nil
		}

		ctx, cancel := context.WithTimeout(fetchCtx, fetchTimeout)
		defer cancel()

		start := time.Now()
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if !s.fill(fetchCtx, key, gen, v, ttl) {
			s.logger.Debug("superseded fetch not cached", "key", key)
			return v, nil
		}

		s.logger.Debug("cache miss filled",
			"key", key,
			"ttl", ttl,
			"duration", time.Since(start),
		)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		if r.Shared {
			s.logger.Debug("shared upstream fetch", "key", key)
		}
		return r.Val.(T), nil
	}
}

func normTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
