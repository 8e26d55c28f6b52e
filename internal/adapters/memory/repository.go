// Package memory is the in-process repository used for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tradePilot/internal/domain"
	"tradePilot/internal/ports"
)

// Repository implements ports.Repository in memory. Values are cloned on the way
// in and out so callers never share state with the store.
type Repository struct {
	mu     sync.RWMutex
	st     *store
	logger ports.Logger
}

// NewRepository creates an empty repository.
func NewRepository(logger ports.Logger) *Repository {
	return &Repository{st: newStore(), logger: logger}
}

func (r *Repository) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.SaveTrade(ctx, trade)
}

func (r *Repository) SaveOrder(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.SaveOrder(ctx, order)
}

func (r *Repository) QueryOpenTrades(ctx context.Context) ([]*domain.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.st.QueryOpenTrades(ctx)
}

func (r *Repository) QueryTradeByID(ctx context.Context, id int64) (*domain.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.st.QueryTradeByID(ctx, id)
}

func (r *Repository) QueryTrades(ctx context.Context, filter ports.TradeFilter) ([]*domain.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.st.QueryTrades(ctx, filter)
}

func (r *Repository) QueryOrderByID(ctx context.Context, id int64) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.st.QueryOrderByID(ctx, id)
}

func (r *Repository) QueryOrderByExchangeID(ctx context.Context, orderID string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.st.QueryOrderByExchangeID(ctx, orderID)
}

func (r *Repository) QueryLocks(ctx context.Context, asOf time.Time) ([]*domain.PairLock, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.st.QueryLocks(ctx, asOf)
}

func (r *Repository) SavePairLock(ctx context.Context, lock *domain.PairLock) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.SavePairLock(ctx, lock)
}

func (r *Repository) PurgeLocks(ctx context.Context, asOf time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.PurgeLocks(ctx, asOf)
}

// InTx runs fn against a copy of the store and swaps it in only when fn succeeds.
func (r *Repository) InTx(ctx context.Context, fn func(tx ports.Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	working := r.st.clone()
	if err := fn(working); err != nil {
		if r.logger != nil {
			r.logger.Debug(ctx, "InTx: rolled back in-memory transaction", map[string]interface{}{"error": err.Error()})
		}
		return err
	}
	r.st = working
	return nil
}

// Close is a no-op.
func (r *Repository) Close() error { return nil }

// store holds the data. Its methods do no locking; they implement
// ports.Repository so a store can serve as the transaction view.
type store struct {
	trades    map[int64]*domain.Trade // orders are kept in the orders map
	orders    map[int64]*domain.Order
	locks     map[int64]*domain.PairLock
	nextTrade int64
	nextOrder int64
	nextLock  int64
}

func newStore() *store {
	return &store{
		trades: make(map[int64]*domain.Trade),
		orders: make(map[int64]*domain.Order),
		locks:  make(map[int64]*domain.PairLock),
	}
}

func (s *store) clone() *store {
	c := &store{
		trades:    make(map[int64]*domain.Trade, len(s.trades)),
		orders:    make(map[int64]*domain.Order, len(s.orders)),
		locks:     make(map[int64]*domain.PairLock, len(s.locks)),
		nextTrade: s.nextTrade,
		nextOrder: s.nextOrder,
		nextLock:  s.nextLock,
	}
	for id, t := range s.trades {
		c.trades[id] = t.Clone()
	}
	for id, o := range s.orders {
		c.orders[id] = o.Clone()
	}
	for id, l := range s.locks {
		lc := *l
		c.locks[id] = &lc
	}
	return c
}

func (s *store) SaveTrade(_ context.Context, trade *domain.Trade) error {
	if trade.ID == 0 {
		s.nextTrade++
		trade.ID = s.nextTrade
	} else if _, ok := s.trades[trade.ID]; !ok {
		return fmt.Errorf("trade ID %d not found for update: %w", trade.ID, ports.ErrNotFound)
	}
	stored := trade.Clone()
	stored.Orders = nil
	s.trades[trade.ID] = stored
	return nil
}

func (s *store) SaveOrder(_ context.Context, order *domain.Order) error {
	if _, ok := s.trades[order.TradeID]; !ok {
		return fmt.Errorf("order references unknown trade %d: %w", order.TradeID, ports.ErrNotFound)
	}
	if order.ID == 0 {
		s.nextOrder++
		order.ID = s.nextOrder
	} else if _, ok := s.orders[order.ID]; !ok {
		return fmt.Errorf("order ID %d not found for update: %w", order.ID, ports.ErrNotFound)
	}
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *store) QueryOpenTrades(ctx context.Context) ([]*domain.Trade, error) {
	open := true
	return s.QueryTrades(ctx, ports.TradeFilter{IsOpen: &open})
}

func (s *store) QueryTradeByID(_ context.Context, id int64) (*domain.Trade, error) {
	t, ok := s.trades[id]
	if !ok {
		return nil, nil
	}
	return s.withOrders(t), nil
}

func (s *store) QueryTrades(_ context.Context, filter ports.TradeFilter) ([]*domain.Trade, error) {
	ids := make(map[int64]bool, len(filter.IDs))
	for _, id := range filter.IDs {
		ids[id] = true
	}

	var out []*domain.Trade
	for _, t := range s.trades {
		if len(ids) > 0 && !ids[t.ID] {
			continue
		}
		if filter.Pair != "" && t.Pair != filter.Pair {
			continue
		}
		if filter.IsOpen != nil && t.IsOpen != *filter.IsOpen {
			continue
		}
		if !filter.ClosedAfter.IsZero() && (t.CloseDate == nil || !t.CloseDate.After(filter.ClosedAfter)) {
			continue
		}
		out = append(out, s.withOrders(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

func (s *store) QueryOrderByID(_ context.Context, id int64) (*domain.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return o.Clone(), nil
}

func (s *store) QueryOrderByExchangeID(_ context.Context, orderID string) (*domain.Order, error) {
	for _, o := range s.orders {
		if o.OrderID == orderID {
			return o.Clone(), nil
		}
	}
	return nil, nil
}

func (s *store) QueryLocks(_ context.Context, asOf time.Time) ([]*domain.PairLock, error) {
	var out []*domain.PairLock
	for _, l := range s.locks {
		if l.IsActiveAt(asOf) {
			lc := *l
			out = append(out, &lc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *store) SavePairLock(_ context.Context, lock *domain.PairLock) error {
	if lock.ID == 0 {
		s.nextLock++
		lock.ID = s.nextLock
	}
	lc := *lock
	s.locks[lock.ID] = &lc
	return nil
}

func (s *store) PurgeLocks(_ context.Context, asOf time.Time) (int, error) {
	n := 0
	for _, l := range s.locks {
		if l.Active && !asOf.Before(l.LockEndTime) {
			l.Active = false
			n++
		}
	}
	return n, nil
}

// InTx on the transaction view joins the enclosing transaction.
func (s *store) InTx(_ context.Context, fn func(tx ports.Repository) error) error {
	return fn(s)
}

func (s *store) Close() error { return nil }

func (s *store) withOrders(t *domain.Trade) *domain.Trade {
	c := t.Clone()
	c.Orders = nil
	for _, o := range s.orders {
		if o.TradeID == t.ID {
			c.Orders = append(c.Orders, o.Clone())
		}
	}
	sort.Slice(c.Orders, func(i, j int) bool { return c.Orders[i].ID < c.Orders[j].ID })
	return c
}
