// Package breaker implements a sliding-window circuit breaker used to
// isolate failing upstream price providers.
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/solscope/papertrade/internal/domain"
	"github.com/solscope/papertrade/internal/metrics"
)

// State is the breaker state.
type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half_open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds breaker tunables.
type Config struct {
	// Threshold is the failure count within Window that opens the breaker.
	Threshold int
	// Window is the sliding window over which failures are counted.
	Window time.Duration
	// Cooldown is how long the breaker stays open before allowing one
	// trial call.
	Cooldown time.Duration
}

// DefaultConfig matches the documented defaults: 5 failures in 60s opens
// the breaker for 60s.
func DefaultConfig() Config {
	return Config{Threshold: 5, Window: 60 * time.Second, Cooldown: 60 * time.Second}
}

// Breaker is a single circuit breaker protecting one upstream. Each
// protected provider gets its own independent instance. All methods are
// safe for concurrent use.
type Breaker struct {
	name   string
	cfg    Config
	clock  domain.Clock
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures []time.Time // failure timestamps within the window
	openedAt time.Time
	trialing bool // a half-open trial call is in flight
}

// New creates a Breaker named after the upstream it protects.
func New(name string, cfg Config, clock domain.Clock, logger *slog.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg = DefaultConfig()
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		clock:  clock,
		logger: logger.With(slog.String("component", "breaker"), slog.String("provider", name)),
	}
	metrics.BreakerState.WithLabelValues(name).Set(0)
	return b
}

// State returns the current state, accounting for cooldown expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(b.clock.Now())
}

func (b *Breaker) stateLocked(now time.Time) State {
	if b.state == Open && now.Sub(b.openedAt) >= b.cfg.Cooldown {
		b.transitionLocked(HalfOpen)
	}
	return b.state
}

// Allow reports whether a call may proceed. While open it returns
// domain.ErrBreakerOpen; in half-open state exactly one caller is admitted
// as the trial call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked(b.clock.Now()) {
	case Closed:
		return nil
	case HalfOpen:
		if b.trialing {
			return fmt.Errorf("breaker %s: trial in flight: %w", b.name, domain.ErrBreakerOpen)
		}
		b.trialing = true
		return nil
	default:
		return fmt.Errorf("breaker %s: %w", b.name, domain.ErrBreakerOpen)
	}
}

// Success records a successful call. In half-open state it closes the
// breaker and clears failure history.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trialing = false
	if b.state != Closed {
		b.failures = nil
		b.transitionLocked(Closed)
	}
}

// Failure records a failed call. In half-open state it reopens the breaker
// and resets the cooldown; in closed state it opens once the failure count
// within the window reaches the threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	state := b.stateLocked(now)

	if state == HalfOpen {
		b.trialing = false
		b.openedAt = now
		b.transitionLocked(Open)
		return
	}
	if state == Open {
		return
	}

	b.failures = append(b.failures, now)
	b.pruneLocked(now)
	if len(b.failures) >= b.cfg.Threshold {
		b.openedAt = now
		b.transitionLocked(Open)
	}
}

// Do runs fn under the breaker: Allow, then Success/Failure depending on
// the returned error. Context cancellation counts as a failure of the
// protected upstream only when fn itself returns the error.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}

// pruneLocked drops failure timestamps that slid out of the window.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.failures) && !b.failures[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.failures = append(b.failures[:0], b.failures[i:]...)
	}
}

func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to

	metrics.BreakerState.WithLabelValues(b.name).Set(float64(map[State]int{Closed: 0, HalfOpen: 1, Open: 2}[to]))
	metrics.BreakerTransitions.WithLabelValues(b.name, to.String()).Inc()

	lvl := slog.LevelInfo
	if to == Open {
		lvl = slog.LevelWarn
	}
	b.logger.Log(context.Background(), lvl, "breaker state change",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}
