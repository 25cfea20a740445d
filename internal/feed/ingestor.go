// Package feed maintains the long-lived subscription to the real-time swap
// event feed and converts decoded swaps into price ticks.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/solscope/papertrade/internal/domain"
	"github.com/solscope/papertrade/internal/metrics"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	// The read deadline is also pushed forward by every data message.
	pongWait = 75 * time.Second

	// handshakeTimeout bounds the websocket dial.
	handshakeTimeout = 15 * time.Second

	// maxBackoff caps the reconnect delay.
	maxBackoff = 60 * time.Second
)

// connState is the ingestor's connection lifecycle state.
type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateSubscribed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// TickSink receives ticks decoded from the feed.
type TickSink interface {
	Put(ctx context.Context, tick domain.PriceTick)
	ReferenceUSD(ctx context.Context) decimal.Decimal
}

// Config holds ingestor parameters.
type Config struct {
	WsURL string
	// Programs are the venue program ids named in the subscribe request.
	Programs   []string
	Commitment string
	// PingInterval drives the liveness ping, independent of traffic.
	PingInterval time.Duration
	// MaxReconnects caps reconnect attempts; 0 retries forever. When the
	// cap is exhausted ingestion stops with an error log but the process
	// keeps running on fallback sources.
	MaxReconnects int
}

// Ingestor owns one websocket subscription to the swap feed. Decoded
// events become ticks pushed straight into the price cache; malformed
// events are dropped and logged, never fatal. Disconnects trigger
// exponential-backoff reconnection, resubscribing from scratch (gaps are
// filled on demand by the source fallback chain).
type Ingestor struct {
	cfg    Config
	sink   TickSink
	clock  domain.Clock
	logger *slog.Logger

	state connState
}

// NewIngestor creates an Ingestor feeding the given sink.
func NewIngestor(cfg Config, sink TickSink, clock domain.Clock, logger *slog.Logger) *Ingestor {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.Commitment == "" {
		cfg.Commitment = "confirmed"
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Ingestor{
		cfg:    cfg,
		sink:   sink,
		clock:  clock,
		logger: logger.With(slog.String("component", "feed_ingestor")),
	}
}

// Backoff returns the reconnect delay for the given attempt (1-based):
// 1s, 2s, 4s, ... capped at 60s. Pure so it can be tested directly.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// Run connects, subscribes, and ingests until ctx is cancelled or the
// reconnect budget is exhausted.
func (in *Ingestor) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		in.setState(stateConnecting)
		err := in.runConnection(ctx)
		in.setState(stateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		metrics.FeedReconnects.Inc()
		if in.cfg.MaxReconnects > 0 && attempt > in.cfg.MaxReconnects {
			// Give up without crashing the process; fallback sources keep
			// serving prices.
			in.logger.Error("feed reconnect budget exhausted, ingestion stopped",
				slog.Int("attempts", attempt-1),
				slog.String("error", err.Error()),
			)
			return nil
		}

		delay := Backoff(attempt)
		in.logger.Warn("feed disconnected, reconnecting",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runConnection performs one full connect/subscribe/read cycle and returns
// the error that ended it.
func (in *Ingestor) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, in.cfg.WsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := in.subscribe(conn); err != nil {
		return err
	}
	in.setState(stateSubscribed)
	in.logger.Info("feed subscribed",
		slog.Int("programs", len(in.cfg.Programs)),
		slog.String("commitment", in.cfg.Commitment),
	)

	// Liveness ping, independent of normal traffic. Also closes the
	// connection when ctx is cancelled so the read loop unblocks.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(in.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", domain.ErrWSDisconnect)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		in.handleMessage(ctx, raw)
	}
}

// subscribe sends one JSON-RPC subscribe request per configured program.
func (in *Ingestor) subscribe(conn *websocket.Conn) error {
	for i, program := range in.cfg.Programs {
		req := subscribeRequest{
			JSONRPC: "2.0",
			ID:      int64(i + 1),
			Method:  "logsSubscribe",
			Params: []any{
				map[string]any{"mentions": []string{program}},
				map[string]any{"commitment": in.cfg.Commitment},
			},
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(req); err != nil {
			return fmt.Errorf("feed: subscribe %s: %w", program, err)
		}
	}
	return nil
}

// handleMessage decodes one inbound frame. Anything malformed is dropped
// with a warn log; the ingestor itself never crashes on bad data.
func (in *Ingestor) handleMessage(ctx context.Context, raw []byte) {
	var msg rpcMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		metrics.FeedEvents.WithLabelValues("dropped").Inc()
		in.logger.Warn("malformed feed frame", slog.String("error", err.Error()))
		return
	}

	// Subscription confirmations and errors carry an id, not a method.
	if msg.Method == "" {
		if msg.Error != nil {
			in.logger.Warn("feed rpc error",
				slog.Int("code", msg.Error.Code),
				slog.String("message", msg.Error.Message),
			)
		}
		return
	}
	if msg.Params == nil {
		metrics.FeedEvents.WithLabelValues("dropped").Inc()
		return
	}

	events, err := parseSwapEvents(msg.Params.Result)
	if err != nil {
		metrics.FeedEvents.WithLabelValues("dropped").Inc()
		in.logger.Warn("unparseable swap event", slog.String("error", err.Error()))
		return
	}

	for _, event := range events {
		tick, err := in.buildTick(ctx, event)
		if err != nil {
			metrics.FeedEvents.WithLabelValues("dropped").Inc()
			in.logger.Warn("dropped swap event",
				slog.String("mint", event.Mint),
				slog.String("error", err.Error()),
			)
			continue
		}
		metrics.FeedEvents.WithLabelValues("tick").Inc()
		in.sink.Put(ctx, tick)
	}
}

// buildTick converts a swap event into a price tick, pricing it in USD via
// the current reference asset price.
func (in *Ingestor) buildTick(ctx context.Context, event swapEvent) (domain.PriceTick, error) {
	priceInQuote, err := event.priceInQuote()
	if err != nil {
		return domain.PriceTick{}, err
	}

	quoteUSD := in.sink.ReferenceUSD(ctx)
	if !quoteUSD.IsPositive() {
		return domain.PriceTick{}, fmt.Errorf("feed: reference price unavailable for %s", event.Mint)
	}

	observedAt := event.Timestamp * 1000
	if event.Timestamp == 0 {
		observedAt = in.clock.Now().UnixMilli()
	}

	return domain.PriceTick{
		AssetID:      event.Mint,
		PriceUSD:     priceInQuote.Mul(quoteUSD),
		PriceInQuote: priceInQuote,
		QuoteUSD:     quoteUSD,
		MarketCapUSD: event.MarketCapSol.Mul(quoteUSD),
		Volume:       event.SolAmount.Mul(quoteUSD),
		ObservedAt:   observedAt,
		Source:       domain.SourceStream,
	}, nil
}

func (in *Ingestor) setState(s connState) {
	if in.state == s {
		return
	}
	in.logger.Debug("feed state change",
		slog.String("from", in.state.String()),
		slog.String("to", s.String()),
	)
	in.state = s
}
