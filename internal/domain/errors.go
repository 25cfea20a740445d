package domain

import "errors"

var (
	// ErrNotFound is returned when a record or cache entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPriceUnavailable means no source produced a usable tick. The
	// caller may retry; the price layer does not retry on its own.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrStalePrice means a tick exists but is older than the staleness
	// threshold and is not a synthetic curve tick.
	ErrStalePrice = errors.New("price too stale to trade")

	// ErrInvalidPrice means a tick carried a zero or negative price. This
	// indicates an upstream data bug and is logged at high severity.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrInsufficientBalance means a sell exceeds the position beyond the
	// rounding epsilon, or a buy exceeds the user's wallet balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrLockTimeout means the per-(user,asset) trade lock could not be
	// acquired within budget. The trade is safe to retry.
	ErrLockTimeout = errors.New("trade lock timeout")

	// ErrLedgerInvariant means FIFO consumption could not satisfy a sell
	// from open lots, or the cost basis would go negative beyond the
	// defensive floor. Never silently corrupts state.
	ErrLedgerInvariant = errors.New("ledger invariant violation")

	// ErrLockHeld means a lock is currently held by another party.
	ErrLockHeld = errors.New("lock already held")

	// ErrBreakerOpen means a provider's circuit breaker is rejecting calls.
	ErrBreakerOpen = errors.New("circuit breaker open")

	// ErrWSDisconnect is returned on websocket disconnection.
	ErrWSDisconnect = errors.New("websocket disconnected")
)
