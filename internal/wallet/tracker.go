// Package wallet keeps the balance snapshot reconciled from the exchange and
// answers sizing and exposure questions from it.
package wallet

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tradePilot/internal/domain"
	"tradePilot/internal/money"
	"tradePilot/internal/ports"
)

// DefaultStaleness is how long a snapshot is reused without a refresh.
const DefaultStaleness = time.Hour

// TradeSource lists the open trades positions are derived from.
type TradeSource interface {
	OpenTrades(ctx context.Context) ([]*domain.Trade, error)
}

// Config holds the tracker collaborators and sizing settings.
type Config struct {
	Exchange      ports.ExchangeClient
	Trades        TradeSource
	Logger        ports.Logger
	StakeCurrency string
	// StakeAmount is the fixed stake per trade. Ignored when UnlimitedStake is set.
	StakeAmount    money.Decimal
	UnlimitedStake bool
	Staleness      time.Duration
	Clock          func() time.Time
}

type snapshot struct {
	balances  map[string]domain.Wallet
	fetchedAt time.Time
}

type stakeSetting struct {
	amount    money.Decimal
	unlimited bool
}

// Tracker holds the latest balance snapshot. Readers never block and always see
// a complete snapshot.
type Tracker struct {
	cfg       Config
	now       func() time.Time
	snap      atomic.Pointer[snapshot]
	stake     atomic.Pointer[stakeSetting]
	refreshMu sync.Mutex
}

// NewTracker creates a tracker with an empty snapshot.
func NewTracker(cfg Config) (*Tracker, error) {
	if cfg.Exchange == nil {
		return nil, fmt.Errorf("wallet: exchange client is required: %w", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("wallet: logger is required: %w", ports.ErrConfigurationError)
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = DefaultStaleness
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	t := &Tracker{cfg: cfg, now: now}
	t.snap.Store(&snapshot{balances: map[string]domain.Wallet{}})
	t.SetStake(cfg.StakeAmount, cfg.UnlimitedStake)
	return t, nil
}

// SetStake replaces the stake sizing, e.g. after a config reload.
func (t *Tracker) SetStake(amount money.Decimal, unlimited bool) {
	t.stake.Store(&stakeSetting{amount: amount, unlimited: unlimited})
}

// Update refreshes the snapshot from the exchange unless it is younger than the
// staleness window and requireRefresh is false. On failure the previous snapshot
// stays in place.
func (t *Tracker) Update(ctx context.Context, requireRefresh bool) error {
	op := "UpdateWallet"
	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	current := t.snap.Load()
	if !requireRefresh && !current.fetchedAt.IsZero() && t.now().Sub(current.fetchedAt) < t.cfg.Staleness {
		return nil
	}

	wallets, err := t.cfg.Exchange.GetBalances(ctx)
	if err != nil {
		t.cfg.Logger.Warn(ctx, op+": balances unavailable, keeping last snapshot", map[string]interface{}{
			"error":       err.Error(),
			"snapshotAge": t.now().Sub(current.fetchedAt).String(),
		})
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrExchange, err)
	}

	next := &snapshot{balances: make(map[string]domain.Wallet, len(wallets)), fetchedAt: t.now()}
	for _, w := range wallets {
		next.balances[strings.ToUpper(w.Currency)] = w
	}
	t.snap.Store(next)

	t.cfg.Logger.Debug(ctx, op+": snapshot replaced", map[string]interface{}{"currencies": len(wallets)})
	return nil
}

// LastUpdated is when the snapshot was fetched, zero before the first update.
func (t *Tracker) LastUpdated() time.Time {
	return t.snap.Load().fetchedAt
}

func (t *Tracker) balance(currency string) domain.Wallet {
	return t.snap.Load().balances[strings.ToUpper(currency)]
}

// GetFree returns the free balance of currency, zero when unknown.
func (t *Tracker) GetFree(currency string) money.Decimal { return t.balance(currency).Free }

// GetUsed returns the balance of currency locked in orders or positions, zero when unknown.
func (t *Tracker) GetUsed(currency string) money.Decimal { return t.balance(currency).Used }

// GetTotal returns the total balance of currency, zero when unknown.
func (t *Tracker) GetTotal(currency string) money.Decimal { return t.balance(currency).Total }

// Balances returns a copy of every balance in the snapshot.
func (t *Tracker) Balances() []domain.Wallet {
	snap := t.snap.Load()
	out := make([]domain.Wallet, 0, len(snap.balances))
	for _, w := range snap.balances {
		out = append(out, w)
	}
	return out
}

// Positions derives one position per open trade.
func (t *Tracker) Positions(ctx context.Context) ([]domain.PositionWallet, error) {
	if t.cfg.Trades == nil {
		return nil, nil
	}
	trades, err := t.cfg.Trades.OpenTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("Positions failed: %w", err)
	}

	positions := make([]domain.PositionWallet, 0, len(trades))
	for _, tr := range trades {
		lev := tr.Leverage
		if !lev.IsPositive() {
			lev = money.One
		}
		collateral, err := tr.OpenTradeValue.Div(lev)
		if err != nil {
			return nil, fmt.Errorf("Positions failed: trade %d: %w", tr.ID, err)
		}
		positions = append(positions, domain.PositionWallet{
			Symbol:     tr.Pair,
			Position:   tr.RemainingAmount(),
			Leverage:   lev,
			Collateral: collateral,
			Side:       tr.Direction(),
		})
	}
	return positions, nil
}

// PositionWeight is the pair's exposure divided by the portfolio value (stake
// balance plus every position's exposure). Exposure uses the current exit rate,
// or the open rate when no rate is available. Zero when the pair is not held.
func (t *Tracker) PositionWeight(ctx context.Context, pair string) (money.Decimal, error) {
	if t.cfg.Trades == nil {
		return money.Zero, nil
	}
	trades, err := t.cfg.Trades.OpenTrades(ctx)
	if err != nil {
		return money.Zero, fmt.Errorf("PositionWeight failed: %w", err)
	}

	pairExposure := money.Zero
	total := t.GetTotal(t.cfg.StakeCurrency)
	for _, tr := range trades {
		rate, err := t.cfg.Exchange.GetRate(ctx, tr.Pair, domain.PriceSideExit, tr.IsShort)
		if err != nil || !rate.IsPositive() {
			rate = tr.OpenRate
		}
		exposure := tr.RemainingAmount().Mul(rate)
		total = total.Add(exposure)
		if tr.Pair == pair {
			pairExposure = pairExposure.Add(exposure)
		}
	}
	if !total.IsPositive() {
		return money.Zero, nil
	}
	weight, err := pairExposure.Div(total)
	if err != nil {
		return money.Zero, fmt.Errorf("PositionWeight failed: %w", err)
	}
	return weight, nil
}

// StakeAmount returns the stake for the next trade: the fixed stake, or with an
// unlimited stake the free balance split over the remaining trade slots.
func (t *Tracker) StakeAmount(openTrades, maxOpenTrades int) (money.Decimal, error) {
	op := "StakeAmount"
	free := t.GetFree(t.cfg.StakeCurrency)

	stake := t.stake.Load()
	if !stake.unlimited {
		if !stake.amount.IsPositive() {
			return money.Zero, fmt.Errorf("%s failed: %w: stake amount %s", op, ports.ErrConfigurationError, stake.amount)
		}
		if free.LessThan(stake.amount) {
			return money.Zero, fmt.Errorf("%s failed: %w: %w: free %s %s below stake %s",
				op, ports.ErrValidation, ports.ErrInsufficientFunds, free, t.cfg.StakeCurrency, stake.amount)
		}
		return stake.amount, nil
	}

	if maxOpenTrades < 0 {
		return money.Zero, fmt.Errorf("%s failed: %w: unlimited stake needs a finite max open trades", op, ports.ErrConfigurationError)
	}
	slots := maxOpenTrades - openTrades
	if slots <= 0 {
		return money.Zero, fmt.Errorf("%s failed: %w: no free trade slots", op, ports.ErrValidation)
	}
	if !free.IsPositive() {
		return money.Zero, fmt.Errorf("%s failed: %w: %w: no free %s", op, ports.ErrValidation, ports.ErrInsufficientFunds, t.cfg.StakeCurrency)
	}
	share, err := free.Div(money.NewFromInt(int64(slots)))
	if err != nil {
		return money.Zero, fmt.Errorf("%s failed: %w", op, err)
	}
	return share, nil
}
