// Package memory implements the in-process price cache tier as a bounded
// LRU keyed by asset id.
package memory

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/solscope/papertrade/internal/domain"
)

// TickCache is a fixed-capacity LRU of the latest tick per asset with O(1)
// get/set/evict. Writes carrying an older ObservedAt than the cached tick
// are rejected.
type TickCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, domain.PriceTick]
}

// New creates a TickCache with the given capacity.
func New(capacity int) (*TickCache, error) {
	c, err := lru.New[string, domain.PriceTick](capacity)
	if err != nil {
		return nil, err
	}
	return &TickCache{lru: c}, nil
}

// Get returns the cached tick or domain.ErrNotFound.
func (c *TickCache) Get(_ context.Context, assetID string) (domain.PriceTick, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tick, ok := c.lru.Get(assetID)
	if !ok {
		return domain.PriceTick{}, domain.ErrNotFound
	}
	return tick, nil
}

// Set stores the tick unless a newer one is already cached. It reports
// whether the tick was accepted.
func (c *TickCache) Set(_ context.Context, tick domain.PriceTick) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.lru.Peek(tick.AssetID); ok && !tick.NewerThan(cached) {
		return false, nil
	}
	c.lru.Add(tick.AssetID, tick)
	return true, nil
}

// Len returns the number of cached assets.
func (c *TickCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Compile-time interface check.
var _ domain.TickCache = (*TickCache)(nil)
