// Package protection stores pair locks and applies the lock decisions of
// protection policies when trades close.
package protection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradePilot/internal/domain"
	"tradePilot/internal/ports"
)

// HistorySource returns closed trades for policy evaluation.
type HistorySource interface {
	TradesMatching(ctx context.Context, filter ports.TradeFilter, keep func(*domain.Trade) bool) ([]*domain.Trade, error)
}

// Config holds the manager collaborators.
type Config struct {
	Repository ports.Repository
	History    HistorySource
	Notifier   ports.Notifier
	Logger     ports.Logger
	Policies   []ports.ProtectionPolicy
	Clock      func() time.Time
}

// Manager keeps the active locks in memory and writes every change through to
// the repository.
type Manager struct {
	mu       sync.RWMutex
	locks    map[int64]*domain.PairLock
	repo     ports.Repository
	history  HistorySource
	notifier ports.Notifier
	logger   ports.Logger
	policies []ports.ProtectionPolicy
	now      func() time.Time
}

// NewManager creates a manager without locks. Call Load to restore persisted locks.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("protection: repository is required: %w", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("protection: logger is required: %w", ports.ErrConfigurationError)
	}
	now := cfg.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		locks:    make(map[int64]*domain.PairLock),
		repo:     cfg.Repository,
		history:  cfg.History,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		policies: cfg.Policies,
		now:      now,
	}, nil
}

// SetPolicies replaces the policies evaluated on trade close.
func (m *Manager) SetPolicies(policies []ports.ProtectionPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies = policies
}

// Load replaces the in-memory locks with the ones still active in the repository.
func (m *Manager) Load(ctx context.Context) error {
	locks, err := m.repo.QueryLocks(ctx, m.now())
	if err != nil {
		return fmt.Errorf("LoadLocks failed: %w: %w", ports.ErrOperational, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks = make(map[int64]*domain.PairLock, len(locks))
	for _, l := range locks {
		m.locks[l.ID] = l
	}
	m.logger.Info(ctx, "LoadLocks: pair locks restored", map[string]interface{}{"count": len(locks)})
	return nil
}

// IsLocked reports whether a lock on pair, or a global lock, is active at asOf.
func (m *Manager) IsLocked(pair string, asOf time.Time) bool {
	_, locked := m.lockFor(pair, asOf)
	return locked
}

// LockFor returns the active lock blocking pair at asOf, the latest-ending one
// when several apply.
func (m *Manager) LockFor(pair string, asOf time.Time) (domain.PairLock, bool) {
	return m.lockFor(pair, asOf)
}

func (m *Manager) lockFor(pair string, asOf time.Time) (domain.PairLock, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *domain.PairLock
	for _, l := range m.locks {
		if l.Covers(pair) && l.IsActiveAt(asOf) {
			if found == nil || l.LockEndTime.After(found.LockEndTime) {
				found = l
			}
		}
	}
	if found == nil {
		return domain.PairLock{}, false
	}
	return *found, true
}

// LockPair locks pair (or GlobalLockPair) until the given time. Locking an already
// locked pair only ever moves the end later.
func (m *Manager) LockPair(ctx context.Context, pair string, until time.Time, reason string) (domain.PairLock, error) {
	op := "LockPair"
	now := m.now()
	if pair == "" {
		return domain.PairLock{}, fmt.Errorf("%s failed: %w: pair is empty", op, ports.ErrValidation)
	}
	if !until.After(now) {
		return domain.PairLock{}, fmt.Errorf("%s failed: %w: lock end %s is not after %s", op, ports.ErrValidation, until, now)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var lock domain.PairLock
	if existing := m.exactLock(pair, now); existing != nil {
		if !until.After(existing.LockEndTime) {
			return *existing, nil
		}
		lock = *existing
		lock.LockEndTime = until
		if reason != "" {
			lock.Reason = reason
		}
	} else {
		lock = domain.PairLock{Pair: pair, LockTime: now, LockEndTime: until, Reason: reason, Active: true}
	}

	if err := m.repo.SavePairLock(ctx, &lock); err != nil {
		return domain.PairLock{}, fmt.Errorf("%s failed: %w: %w", op, ports.ErrOperational, err)
	}
	stored := lock
	m.locks[lock.ID] = &stored

	m.logger.Info(ctx, op+": pair locked", map[string]interface{}{
		"pair":   pair,
		"until":  until.Format(time.RFC3339),
		"reason": reason,
	})
	return lock, nil
}

// exactLock returns the active lock on exactly pair. Caller holds mu.
func (m *Manager) exactLock(pair string, asOf time.Time) *domain.PairLock {
	for _, l := range m.locks {
		if l.Pair == pair && l.IsActiveAt(asOf) {
			return l
		}
	}
	return nil
}

// UnlockExpired drops every lock that ended at or before asOf.
func (m *Manager) UnlockExpired(ctx context.Context, asOf time.Time) (int, error) {
	m.mu.Lock()
	removed := 0
	for id, l := range m.locks {
		if !l.IsActiveAt(asOf) {
			delete(m.locks, id)
			removed++
		}
	}
	m.mu.Unlock()

	if _, err := m.repo.PurgeLocks(ctx, asOf); err != nil {
		return removed, fmt.Errorf("UnlockExpired failed: %w: %w", ports.ErrOperational, err)
	}
	if removed > 0 {
		m.logger.Debug(ctx, "UnlockExpired: locks released", map[string]interface{}{"count": removed})
	}
	return removed, nil
}

// ActiveLocks returns the locks active at asOf ordered by end time.
func (m *Manager) ActiveLocks(asOf time.Time) []domain.PairLock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PairLock, 0, len(m.locks))
	for _, l := range m.locks {
		if l.IsActiveAt(asOf) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LockEndTime.Equal(out[j].LockEndTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].LockEndTime.Before(out[j].LockEndTime)
	})
	return out
}

// HandleTradeClosed runs every policy against the closed trade and applies the
// locks they decide on. A failing policy does not stop the others.
func (m *Manager) HandleTradeClosed(ctx context.Context, closed *domain.Trade) ([]domain.PairLock, error) {
	op := "HandleTradeClosed"
	m.mu.RLock()
	policies := m.policies
	m.mu.RUnlock()

	now := m.now()
	var applied []domain.PairLock
	var firstErr error
	for _, p := range policies {
		history, err := m.closedSince(ctx, now.Add(-p.LookbackPeriod()))
		if err != nil {
			m.logger.Error(ctx, err, op+": history unavailable", map[string]interface{}{"policy": p.Name()})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		decision := p.Evaluate(ctx, closed, history, now)
		if decision == nil {
			continue
		}
		reason := decision.Reason
		if reason == "" {
			reason = p.Name()
		}
		lock, err := m.LockPair(ctx, decision.Pair, decision.Until, reason)
		if err != nil {
			m.logger.Error(ctx, err, op+": could not apply lock", map[string]interface{}{"policy": p.Name(), "pair": decision.Pair})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		applied = append(applied, lock)
		m.notify(lock, now)
	}
	if firstErr != nil {
		return applied, fmt.Errorf("%s failed: %w", op, firstErr)
	}
	return applied, nil
}

func (m *Manager) closedSince(ctx context.Context, since time.Time) ([]*domain.Trade, error) {
	if m.history == nil {
		return nil, nil
	}
	closed := false
	return m.history.TradesMatching(ctx, ports.TradeFilter{IsOpen: &closed, ClosedAfter: since}, nil)
}

func (m *Manager) notify(lock domain.PairLock, now time.Time) {
	if m.notifier == nil {
		return
	}
	msgType := domain.MsgProtectionTrigger
	if lock.IsGlobal() {
		msgType = domain.MsgProtectionTriggerGlobal
	}
	end := lock.LockEndTime
	m.notifier.Send(domain.Message{
		ID:      uuid.NewString(),
		Type:    msgType,
		Time:    now,
		Pair:    lock.Pair,
		Reason:  lock.Reason,
		LockEnd: &end,
	})
}
