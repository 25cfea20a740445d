// Package memory implements the domain store in process memory. It backs
// tests and local development; data does not survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/solscope/papertrade/internal/domain"
)

type positionKey struct {
	userID  string
	assetID string
	mode    domain.TradeMode
}

// Store keeps all accounting state behind one mutex. WithinTx holds the
// mutex for the whole transaction, so transactions serialize the same way
// the row locks do in PostgreSQL. Mutations buffer in the Tx and apply on
// commit, so a failed transaction leaves no trace.
type Store struct {
	mu        sync.Mutex
	balances  map[string]decimal.Decimal
	positions map[positionKey]domain.Position
	lots      map[string][]domain.PositionLot // positionID -> lots, FIFO order
	trades    []domain.Trade
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		balances:  make(map[string]decimal.Decimal),
		positions: make(map[positionKey]domain.Position),
		lots:      make(map[string][]domain.PositionLot),
	}
}

// SeedBalance sets a user's wallet balance directly. Test setup helper.
func (s *Store) SeedBalance(userID string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance
}

// Balance reads a user's wallet balance directly. Test assertion helper.
func (s *Store) Balance(userID string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

// WithinTx runs fn under the store mutex, applying buffered mutations only
// when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// GetPosition reads a position without entering a transaction.
func (s *Store) GetPosition(ctx context.Context, userID, assetID string, mode domain.TradeMode) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[positionKey{userID, assetID, mode}]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

// ListTrades returns a user's trades, newest first.
func (s *Store) ListTrades(ctx context.Context, userID string, limit int) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	var out []domain.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExecutedAt.After(out[j].ExecutedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memTx buffers mutations until commit. Reads see buffered writes first so
// a transaction observes its own effects.
type memTx struct {
	store *Store

	positions  map[positionKey]domain.Position
	lotInserts map[string][]domain.PositionLot
	lotUpdates map[string]decimal.Decimal
	balances   map[string]decimal.Decimal
	tradeQueue []domain.Trade
}

func (t *memTx) commit() {
	s := t.store
	for key, pos := range t.positions {
		s.positions[key] = pos
	}
	for posID, lots := range t.lotInserts {
		s.lots[posID] = append(s.lots[posID], lots...)
	}
	for lotID, remaining := range t.lotUpdates {
		for posID, lots := range s.lots {
			for i := range lots {
				if lots[i].ID == lotID {
					s.lots[posID][i].QtyRemaining = remaining
				}
			}
		}
	}
	for userID, balance := range t.balances {
		s.balances[userID] = balance
	}
	s.trades = append(s.trades, t.tradeQueue...)
}

func (t *memTx) GetPositionForUpdate(ctx context.Context, userID, assetID string, mode domain.TradeMode) (domain.Position, error) {
	key := positionKey{userID, assetID, mode}
	if t.positions != nil {
		if pos, ok := t.positions[key]; ok {
			return pos, nil
		}
	}
	pos, ok := t.store.positions[key]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (t *memTx) UpsertPosition(ctx context.Context, p domain.Position) error {
	if t.positions == nil {
		t.positions = make(map[positionKey]domain.Position)
	}
	t.positions[positionKey{p.UserID, p.AssetID, p.Mode}] = p
	return nil
}

func (t *memTx) OpenLots(ctx context.Context, positionID string) ([]domain.PositionLot, error) {
	var open []domain.PositionLot
	for _, lot := range t.store.lots[positionID] {
		if remaining, ok := t.lotUpdates[lot.ID]; ok {
			lot.QtyRemaining = remaining
		}
		if lot.QtyRemaining.IsPositive() {
			open = append(open, lot)
		}
	}
	for _, lot := range t.lotInserts[positionID] {
		if lot.QtyRemaining.IsPositive() {
			open = append(open, lot)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		if open[i].CreatedAt.Equal(open[j].CreatedAt) {
			return open[i].ID < open[j].ID
		}
		return open[i].CreatedAt.Before(open[j].CreatedAt)
	})
	return open, nil
}

func (t *memTx) InsertLot(ctx context.Context, lot domain.PositionLot) error {
	if t.lotInserts == nil {
		t.lotInserts = make(map[string][]domain.PositionLot)
	}
	t.lotInserts[lot.PositionID] = append(t.lotInserts[lot.PositionID], lot)
	return nil
}

func (t *memTx) UpdateLotRemaining(ctx context.Context, lotID string, remaining decimal.Decimal) error {
	for posID := range t.lotInserts {
		for i := range t.lotInserts[posID] {
			if t.lotInserts[posID][i].ID == lotID {
				t.lotInserts[posID][i].QtyRemaining = remaining
				return nil
			}
		}
	}
	for _, lots := range t.store.lots {
		for _, lot := range lots {
			if lot.ID == lotID {
				if t.lotUpdates == nil {
					t.lotUpdates = make(map[string]decimal.Decimal)
				}
				t.lotUpdates[lotID] = remaining
				return nil
			}
		}
	}
	return domain.ErrNotFound
}

func (t *memTx) InsertTrade(ctx context.Context, trade domain.Trade) error {
	t.tradeQueue = append(t.tradeQueue, trade)
	return nil
}

func (t *memTx) GetBalanceForUpdate(ctx context.Context, userID string) (decimal.Decimal, error) {
	if t.balances != nil {
		if balance, ok := t.balances[userID]; ok {
			return balance, nil
		}
	}
	balance, ok := t.store.balances[userID]
	if !ok {
		return decimal.Zero, domain.ErrNotFound
	}
	return balance, nil
}

func (t *memTx) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) error {
	current, err := t.GetBalanceForUpdate(ctx, userID)
	if err != nil {
		return err
	}
	if t.balances == nil {
		t.balances = make(map[string]decimal.Decimal)
	}
	t.balances[userID] = current.Add(delta)
	return nil
}

// Compile-time interface checks.
var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = (*memTx)(nil)
)
