// Package price implements the two-tier price cache and the PriceService
// façade that the rest of the system reads prices through.
package price

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/solscope/papertrade/internal/domain"
	"github.com/solscope/papertrade/internal/metrics"
)

// Fetcher is the upstream fallback chain as seen by the cache.
type Fetcher interface {
	FetchTick(ctx context.Context, assetID string, quoteUSD decimal.Decimal) (domain.PriceTick, error)
	ReferenceAssetID() string
}

// CacheConfig holds cache tier thresholds.
type CacheConfig struct {
	// Fresh is the age under which a cached tick is returned as-is.
	Fresh time.Duration
	// MaxAge is the age beyond which a cached tick no longer counts as a
	// hit. Between Fresh and MaxAge the tick is returned and refreshed in
	// the background.
	MaxAge time.Duration
	// Channel is the pub/sub channel accepted ticks are published on.
	Channel string
	// BatchSize bounds parallel upstream fetches in GetMany.
	BatchSize int
	// FetchTimeout bounds a detached background refresh.
	FetchTimeout time.Duration
}

// Cache layers the in-process LRU tier over the shared Redis tier over the
// upstream source chain. All accepted writes go through both tiers and are
// published for sibling instances; per-asset refreshes are deduplicated
// with singleflight.
type Cache struct {
	mem    domain.TickCache
	shared domain.TickCache
	bus    domain.SignalBus
	chain  Fetcher
	cfg    CacheConfig
	clock  domain.Clock
	logger *slog.Logger

	sf singleflight.Group

	mu       sync.RWMutex
	onAccept func(domain.PriceTick)
}

// NewCache creates a Cache over the given tiers and source chain.
func NewCache(mem, shared domain.TickCache, bus domain.SignalBus, chain Fetcher, cfg CacheConfig, clock domain.Clock, logger *slog.Logger) *Cache {
	if cfg.Fresh <= 0 {
		cfg.Fresh = 10 * time.Second
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 60 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 6 * time.Second
	}
	if cfg.Channel == "" {
		cfg.Channel = "prices"
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Cache{
		mem:    mem,
		shared: shared,
		bus:    bus,
		chain:  chain,
		cfg:    cfg,
		clock:  clock,
		logger: logger.With(slog.String("component", "price_cache")),
	}
}

// OnAccept registers a hook invoked for every tick accepted into the
// in-process tier, including ticks arriving from sibling instances.
func (c *Cache) OnAccept(fn func(domain.PriceTick)) {
	c.mu.Lock()
	c.onAccept = fn
	c.mu.Unlock()
}

// Get returns the freshest available tick for an asset. A tick between the
// freshness and max-age thresholds is returned immediately while a
// background refresh runs; a missing or too-old tick falls through to the
// shared tier and then the source chain before returning.
func (c *Cache) Get(ctx context.Context, assetID string) (domain.PriceTick, error) {
	now := c.clock.Now()

	if tick, err := c.mem.Get(ctx, assetID); err == nil {
		age := tick.Age(now)
		switch {
		case age <= c.cfg.Fresh:
			metrics.CacheHits.WithLabelValues("memory").Inc()
			return tick, nil
		case age <= c.cfg.MaxAge:
			metrics.CacheHits.WithLabelValues("memory").Inc()
			c.refreshAsync(assetID)
			return tick, nil
		}
	}

	if tick, err := c.shared.Get(ctx, assetID); err == nil {
		age := tick.Age(now)
		if age <= c.cfg.MaxAge {
			metrics.CacheHits.WithLabelValues("shared").Inc()
			// Warm the local tier; the tick is already shared.
			c.accept(ctx, tick, false)
			if age > c.cfg.Fresh {
				c.refreshAsync(assetID)
			}
			return tick, nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		c.logger.Warn("shared tier read failed",
			slog.String("asset", assetID),
			slog.String("error", err.Error()),
		)
	}

	metrics.CacheMisses.Inc()
	return c.refresh(ctx, assetID)
}

// GetMany returns ticks for all ids it can satisfy. Fresh entries are
// served from cache, stale-but-usable ones additionally schedule background
// refreshes, and missing ones are fetched upstream in bounded-size parallel
// batches. Assets with no obtainable price are omitted from the result.
func (c *Cache) GetMany(ctx context.Context, assetIDs []string) (map[string]domain.PriceTick, error) {
	now := c.clock.Now()
	result := make(map[string]domain.PriceTick, len(assetIDs))

	var missing []string
	for _, id := range assetIDs {
		tick, err := c.mem.Get(ctx, id)
		if err != nil {
			missing = append(missing, id)
			continue
		}
		age := tick.Age(now)
		switch {
		case age <= c.cfg.Fresh:
			result[id] = tick
		case age <= c.cfg.MaxAge:
			result[id] = tick
			c.refreshAsync(id)
		default:
			missing = append(missing, id)
		}
	}

	if len(missing) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.BatchSize)
	for _, id := range missing {
		id := id
		g.Go(func() error {
			tick, err := c.Get(gctx, id)
			if err != nil {
				// Skip assets with no obtainable price.
				c.logger.Debug("batch fetch miss",
					slog.String("asset", id),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			result[id] = tick
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

// Put accepts a tick produced outside the cache (stream ingestor), writing
// through both tiers and publishing it.
func (c *Cache) Put(ctx context.Context, tick domain.PriceTick) {
	c.accept(ctx, tick, true)
}

// AcceptRemote inserts a tick received over pub/sub from a sibling
// instance into the local tier only.
func (c *Cache) AcceptRemote(ctx context.Context, tick domain.PriceTick) {
	if accepted, err := c.mem.Set(ctx, tick); err == nil && accepted {
		c.notify(tick)
	}
}

// refresh fetches the asset's price through the source chain, deduplicating
// concurrent refreshes of the same asset.
func (c *Cache) refresh(ctx context.Context, assetID string) (domain.PriceTick, error) {
	v, err, _ := c.sf.Do(assetID, func() (interface{}, error) {
		quoteUSD := c.quoteUSD(ctx, assetID)
		tick, err := c.chain.FetchTick(ctx, assetID, quoteUSD)
		if err != nil {
			return nil, err
		}
		c.accept(ctx, tick, true)
		return tick, nil
	})
	if err != nil {
		return domain.PriceTick{}, err
	}
	return v.(domain.PriceTick), nil
}

// refreshAsync schedules a background refresh detached from the caller's
// context. Singleflight collapses concurrent refreshes per asset.
func (c *Cache) refreshAsync(assetID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout+time.Second)
		defer cancel()
		if _, err := c.refresh(ctx, assetID); err != nil {
			c.logger.Debug("background refresh failed",
				slog.String("asset", assetID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// ReferenceUSD returns the reference asset's current USD price, fetching
// it on demand. Zero means no price is currently obtainable.
func (c *Cache) ReferenceUSD(ctx context.Context) decimal.Decimal {
	return c.quoteUSD(ctx, "")
}

// quoteUSD returns the reference asset's current USD price as known
// locally, fetching it on demand. It returns zero while fetching the
// reference asset itself, or when no price is obtainable.
func (c *Cache) quoteUSD(ctx context.Context, fetchingAssetID string) decimal.Decimal {
	ref := c.chain.ReferenceAssetID()
	if fetchingAssetID == ref {
		return decimal.Zero
	}

	if tick, err := c.mem.Get(ctx, ref); err == nil && tick.Age(c.clock.Now()) <= c.cfg.MaxAge {
		return tick.PriceUSD
	}
	tick, err := c.refresh(ctx, ref)
	if err != nil {
		c.logger.Warn("reference asset price unavailable", slog.String("error", err.Error()))
		return decimal.Zero
	}
	return tick.PriceUSD
}

// accept writes a tick through both tiers and optionally publishes it for
// sibling instances. Monotonicity is enforced by each tier; a rejected
// (older) tick is neither published nor fanned out.
func (c *Cache) accept(ctx context.Context, tick domain.PriceTick, publish bool) {
	accepted, err := c.mem.Set(ctx, tick)
	if err != nil {
		c.logger.Warn("memory tier write failed", slog.String("error", err.Error()))
	}

	sharedAccepted, err := c.shared.Set(ctx, tick)
	if err != nil {
		c.logger.Warn("shared tier write failed",
			slog.String("asset", tick.AssetID),
			slog.String("error", err.Error()),
		)
	}

	if publish && sharedAccepted && c.bus != nil {
		payload, err := json.Marshal(tick)
		if err == nil {
			if err := c.bus.Publish(ctx, c.cfg.Channel, payload); err != nil {
				c.logger.Warn("tick publish failed",
					slog.String("asset", tick.AssetID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if accepted {
		c.notify(tick)
	}
}

func (c *Cache) notify(tick domain.PriceTick) {
	c.mu.RLock()
	fn := c.onAccept
	c.mu.RUnlock()
	if fn != nil {
		fn(tick)
	}
}
