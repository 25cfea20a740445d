package price

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solscope/papertrade/internal/domain"
)

// subscriberBuffer bounds each subscriber's delivery queue. A slow
// subscriber drops ticks rather than blocking the publisher.
const subscriberBuffer = 64

// ServiceConfig holds façade parameters.
type ServiceConfig struct {
	// ReferenceAssetID is the quote asset, served via a shortcut and never
	// considered stale.
	ReferenceAssetID string
	// Staleness is the hard tick-age limit for GetValidatedPrice.
	Staleness time.Duration
	// Channel is the pub/sub channel remote ticks arrive on.
	Channel string
}

// Service is the price-reading entry point: cached lookups, the validated
// quote used by the trade executor, and tick subscriptions.
type Service struct {
	cache  *Cache
	cfg    ServiceConfig
	bus    domain.SignalBus
	clock  domain.Clock
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]chan domain.PriceTick
	nextID int
}

// NewService creates the façade over the given cache. It registers itself
// as the cache's accept hook so subscribers observe every accepted tick.
func NewService(cache *Cache, bus domain.SignalBus, cfg ServiceConfig, clock domain.Clock, logger *slog.Logger) *Service {
	if cfg.Staleness <= 0 {
		cfg.Staleness = 5 * time.Minute
	}
	if cfg.Channel == "" {
		cfg.Channel = "prices"
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	s := &Service{
		cache:  cache,
		cfg:    cfg,
		bus:    bus,
		clock:  clock,
		logger: logger.With(slog.String("component", "price_service")),
		subs:   make(map[int]chan domain.PriceTick),
	}
	cache.OnAccept(s.fanOut)
	return s
}

// GetPrice returns the current USD price for an asset.
func (s *Service) GetPrice(ctx context.Context, assetID string) (decimal.Decimal, error) {
	tick, err := s.cache.Get(ctx, assetID)
	if err != nil {
		return decimal.Zero, err
	}
	return tick.PriceUSD, nil
}

// GetPrices returns current USD prices for a batch of assets. Assets with
// no obtainable price are omitted.
func (s *Service) GetPrices(ctx context.Context, assetIDs []string) (map[string]decimal.Decimal, error) {
	ticks, err := s.cache.GetMany(ctx, assetIDs)
	if err != nil {
		return nil, err
	}
	prices := make(map[string]decimal.Decimal, len(ticks))
	for id, tick := range ticks {
		prices[id] = tick.PriceUSD
	}
	return prices, nil
}

// GetValidatedPrice returns a quote safe to trade on. It rejects
// non-positive prices, ticks older than the staleness threshold (synthetic
// curve ticks are exempt: they have no real fetch-time semantics), and a
// non-positive reference-asset price. This is the only price entry point
// the trade executor uses.
func (s *Service) GetValidatedPrice(ctx context.Context, assetID string, side domain.TradeSide) (domain.Quote, error) {
	// The reference asset quotes itself and is always considered live.
	if assetID == s.cfg.ReferenceAssetID {
		tick, err := s.cache.Get(ctx, assetID)
		if err != nil {
			return domain.Quote{}, err
		}
		if !tick.PriceUSD.IsPositive() {
			s.logger.Error("reference asset has non-positive price",
				slog.String("price", tick.PriceUSD.String()),
			)
			return domain.Quote{}, fmt.Errorf("price: reference asset: %w", domain.ErrInvalidPrice)
		}
		return domain.Quote{
			PriceUSD:     tick.PriceUSD,
			PriceInQuote: decimal.NewFromInt(1),
			QuoteUSD:     tick.PriceUSD,
			Source:       tick.Source,
		}, nil
	}

	tick, err := s.cache.Get(ctx, assetID)
	if err != nil {
		return domain.Quote{}, err
	}

	if !tick.PriceUSD.IsPositive() {
		// Upstream data bug: a tick should never be cached non-positive.
		s.logger.Error("non-positive cached price",
			slog.String("asset", assetID),
			slog.String("price", tick.PriceUSD.String()),
			slog.String("source", string(tick.Source)),
		)
		return domain.Quote{}, fmt.Errorf("price: %s: %w", assetID, domain.ErrInvalidPrice)
	}

	if !tick.Source.Synthetic() {
		if age := tick.Age(s.clock.Now()); age > s.cfg.Staleness {
			s.logger.Warn("rejecting stale tick",
				slog.String("asset", assetID),
				slog.String("side", string(side)),
				slog.Duration("age", age),
			)
			return domain.Quote{}, fmt.Errorf("price: %s is %s old: %w", assetID, tick.Age(s.clock.Now()).Truncate(time.Second), domain.ErrStalePrice)
		}
	}

	quoteUSD := tick.QuoteUSD
	if !quoteUSD.IsPositive() {
		refTick, err := s.cache.Get(ctx, s.cfg.ReferenceAssetID)
		if err == nil {
			quoteUSD = refTick.PriceUSD
		}
	}
	if !quoteUSD.IsPositive() {
		s.logger.Error("reference asset price non-positive during validation",
			slog.String("asset", assetID),
		)
		return domain.Quote{}, fmt.Errorf("price: reference asset: %w", domain.ErrInvalidPrice)
	}

	priceInQuote := tick.PriceInQuote
	if !priceInQuote.IsPositive() {
		priceInQuote = tick.PriceUSD.Div(quoteUSD)
	}

	return domain.Quote{
		PriceUSD:     tick.PriceUSD,
		PriceInQuote: priceInQuote,
		QuoteUSD:     quoteUSD,
		MarketCapUSD: tick.MarketCapUSD,
		Source:       tick.Source,
	}, nil
}

// Subscribe registers fn to be called for every tick accepted into the
// cache, including ticks arriving from sibling instances over pub/sub.
// Delivery is decoupled from the publisher through a bounded queue; the
// returned disposer stops delivery and releases the subscription.
func (s *Service) Subscribe(fn func(domain.PriceTick)) (unsubscribe func()) {
	ch := make(chan domain.PriceTick, subscriberBuffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		for tick := range ch {
			fn(tick)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// RunListener consumes ticks published by sibling instances and feeds them
// into the local tier. It blocks until ctx is cancelled.
func (s *Service) RunListener(ctx context.Context) error {
	ch, err := s.bus.Subscribe(ctx, s.cfg.Channel)
	if err != nil {
		return fmt.Errorf("price: subscribe %s: %w", s.cfg.Channel, err)
	}
	s.logger.Info("price listener started", slog.String("channel", s.cfg.Channel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			var tick domain.PriceTick
			if err := json.Unmarshal(payload, &tick); err != nil {
				s.logger.Warn("malformed tick on pub/sub", slog.String("error", err.Error()))
				continue
			}
			s.cache.AcceptRemote(ctx, tick)
		}
	}
}

// fanOut delivers a tick to every subscriber without blocking; a full
// subscriber queue drops the tick.
func (s *Service) fanOut(tick domain.PriceTick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- tick:
		default:
		}
	}
}
