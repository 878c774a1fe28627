package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CachedOracle serves prices from an in-memory cache backed by a Source.
// Entries fresher than the TTL are served directly. When a refresh fails,
// an entry may still be served until it crosses the staleness bound; past
// that the lookup is a hard ErrPriceUnavailable.
type CachedOracle struct {
	source       Source
	ttl          time.Duration
	maxStaleness time.Duration
	logger       *zap.Logger

	mu      sync.RWMutex
	entries map[string]*cacheEntry

	now func() time.Time
}

type cacheEntry struct {
	price     float64
	fetchedAt time.Time
}

// NewCachedOracle creates a caching oracle around source.
func NewCachedOracle(source Source, ttl, maxStaleness time.Duration, logger *zap.Logger) *CachedOracle {
	return &CachedOracle{
		source:       source,
		ttl:          ttl,
		maxStaleness: maxStaleness,
		logger:       logger,
		entries:      make(map[string]*cacheEntry),
		now:          time.Now,
	}
}

// GetPrice returns the cached rate for symbol, refreshing it when the TTL
// has elapsed.
func (o *CachedOracle) GetPrice(ctx context.Context, symbol string) (float64, error) {
	o.mu.RLock()
	entry, ok := o.entries[symbol]
	o.mu.RUnlock()

	if ok && o.now().Sub(entry.fetchedAt) < o.ttl {
		return entry.price, nil
	}

	price, err := o.source.FetchPrice(ctx, symbol)
	if err != nil {
		// Fall back to the cached value inside the staleness bound only.
		if ok && o.now().Sub(entry.fetchedAt) < o.maxStaleness {
			o.logger.Warn("price refresh failed, serving cached price",
				zap.String("symbol", symbol),
				zap.Time("fetched_at", entry.fetchedAt),
				zap.Error(err))
			return entry.price, nil
		}
		return 0, fmt.Errorf("no fresh price for %s: %w", symbol, ErrPriceUnavailable)
	}

	o.mu.Lock()
	o.entries[symbol] = &cacheEntry{price: price, fetchedAt: o.now()}
	o.mu.Unlock()

	return price, nil
}
