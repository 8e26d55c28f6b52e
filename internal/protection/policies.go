package protection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tradePilot/internal/domain"
	"tradePilot/internal/money"
)

// CooldownPeriod locks a pair for StopDuration after any trade on it closes.
type CooldownPeriod struct {
	StopDuration time.Duration
}

func (c CooldownPeriod) Name() string { return "CooldownPeriod" }

func (c CooldownPeriod) LookbackPeriod() time.Duration { return 0 }

func (c CooldownPeriod) Evaluate(_ context.Context, closed *domain.Trade, _ []*domain.Trade, now time.Time) *domain.LockDecision {
	if closed == nil || c.StopDuration <= 0 {
		return nil
	}
	return &domain.LockDecision{
		Pair:   closed.Pair,
		Until:  now.Add(c.StopDuration),
		Reason: fmt.Sprintf("cooldown period of %s", c.StopDuration),
	}
}

// StoplossGuard locks after TradeLimit stoploss exits within Lookback. With
// OnlyPerPair it counts and locks per pair, otherwise it locks every pair.
type StoplossGuard struct {
	Lookback     time.Duration
	TradeLimit   int
	StopDuration time.Duration
	OnlyPerPair  bool
}

func (s StoplossGuard) Name() string { return "StoplossGuard" }

func (s StoplossGuard) LookbackPeriod() time.Duration { return s.Lookback }

func (s StoplossGuard) Evaluate(_ context.Context, closed *domain.Trade, history []*domain.Trade, now time.Time) *domain.LockDecision {
	if closed == nil || s.TradeLimit <= 0 || s.StopDuration <= 0 {
		return nil
	}
	since := now.Add(-s.Lookback)
	count := 0
	for _, t := range history {
		if t.CloseDate == nil || t.CloseDate.Before(since) {
			continue
		}
		if s.OnlyPerPair && t.Pair != closed.Pair {
			continue
		}
		if isStoplossExit(t.ExitReason) {
			count++
		}
	}
	if count < s.TradeLimit {
		return nil
	}

	pair := domain.GlobalLockPair
	if s.OnlyPerPair {
		pair = closed.Pair
	}
	return &domain.LockDecision{
		Pair:   pair,
		Until:  now.Add(s.StopDuration),
		Reason: fmt.Sprintf("%d stoplosses in %s", count, s.Lookback),
	}
}

func isStoplossExit(r domain.ExitReason) bool {
	switch r {
	case domain.ExitReasonStopLoss, domain.ExitReasonTrailingStopLoss, domain.ExitReasonLiquidation:
		return true
	}
	return false
}

// MaxDrawdown locks every pair once the running sum of close profit ratios
// within Lookback falls MaxAllowedDrawdown below its peak. Fewer than
// TradeLimit closed trades never lock.
type MaxDrawdown struct {
	Lookback           time.Duration
	TradeLimit         int
	MaxAllowedDrawdown money.Decimal
	StopDuration       time.Duration
}

func (m MaxDrawdown) Name() string { return "MaxDrawdown" }

func (m MaxDrawdown) LookbackPeriod() time.Duration { return m.Lookback }

func (m MaxDrawdown) Evaluate(_ context.Context, closed *domain.Trade, history []*domain.Trade, now time.Time) *domain.LockDecision {
	if closed == nil || m.StopDuration <= 0 || !m.MaxAllowedDrawdown.IsPositive() {
		return nil
	}
	since := now.Add(-m.Lookback)
	window := make([]*domain.Trade, 0, len(history))
	for _, t := range history {
		if t.CloseDate == nil || t.CloseDate.Before(since) {
			continue
		}
		window = append(window, t)
	}
	if len(window) == 0 || len(window) < m.TradeLimit {
		return nil
	}
	sort.SliceStable(window, func(i, j int) bool { return window[i].CloseDate.Before(*window[j].CloseDate) })

	drawdown := Drawdown(window)
	if drawdown.LessThan(m.MaxAllowedDrawdown) {
		return nil
	}
	return &domain.LockDecision{
		Pair:   domain.GlobalLockPair,
		Until:  now.Add(m.StopDuration),
		Reason: fmt.Sprintf("drawdown %s exceeds %s", drawdown.StringFixed(4), m.MaxAllowedDrawdown.String()),
	}
}

// Drawdown returns the largest peak to trough fall of the cumulative close
// profit ratio over trades, taken in the given order. The peak starts at zero.
func Drawdown(trades []*domain.Trade) money.Decimal {
	cum, peak, worst := money.Zero, money.Zero, money.Zero
	for _, t := range trades {
		cum = cum.Add(t.CloseProfit)
		peak = money.Max(peak, cum)
		worst = money.Max(worst, peak.Sub(cum))
	}
	return worst
}
