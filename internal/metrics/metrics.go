// Package metrics provides Prometheus instrumentation for the papertrade
// engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradeLatency tracks end-to-end trade execution latency.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// TradeRejections counts trades rejected before execution, by reason.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_trade_rejections_total",
		Help: "Trades rejected before execution",
	}, []string{"reason"})

	// BreakerState reports the current circuit breaker state per provider
	// (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "papertrade_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"provider"})

	// BreakerTransitions counts breaker state transitions per provider.
	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"provider", "to"})

	// CacheHits counts price cache hits by tier ("memory", "shared").
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_price_cache_hits_total",
		Help: "Price cache hits by tier",
	}, []string{"tier"})

	// CacheMisses counts lookups that fell through to the source chain.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_price_cache_misses_total",
		Help: "Price cache misses requiring an upstream fetch",
	})

	// FeedReconnects counts websocket feed reconnection attempts.
	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_feed_reconnects_total",
		Help: "Swap feed reconnection attempts",
	})

	// FeedEvents counts inbound feed events by outcome ("tick", "dropped").
	FeedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_feed_events_total",
		Help: "Inbound feed events by parse outcome",
	}, []string{"status"})

	// CostClamps counts negative cost-basis clamps. A nonzero rate is a
	// data-quality signal, not normal operation.
	CostClamps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_ledger_cost_clamp_total",
		Help: "Cost basis clamped to zero during sell accounting",
	})

	// LockAcquire tracks distributed trade lock acquisition latency.
	LockAcquire = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "papertrade_lock_acquire_seconds",
		Help:    "Trade lock acquisition latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
