// Package profit values trades: open and close values, realized and unrealized
// profit, the minimal-ROI table and stoploss / trailing stop handling.
// Every computation uses money.Decimal. Fees always reduce profit.
package profit

import (
	"fmt"
	"time"

	"tradePilot/internal/domain"
	"tradePilot/internal/money"
)

var hoursPerDay = money.NewFromInt(24)

// TrailingConfig controls the trailing stop.
type TrailingConfig struct {
	Enabled bool
	// Positive is the distance kept below (long) or above (short) the current rate.
	// Zero means the base stoploss distance is used.
	Positive money.Decimal
	// PositiveOffset is the favorable move, as a ratio of the open rate, that must be
	// exceeded before the stop trails.
	PositiveOffset money.Decimal
}

// Config holds the valuation settings.
type Config struct {
	StopLoss money.Decimal // stoploss distance as a positive ratio, e.g. 0.10
	Trailing TrailingConfig
	ROI      ROITable
}

// Result is the valuation of a trade at a given rate.
type Result struct {
	ProfitAbs        money.Decimal `json:"profit_abs"`
	ProfitRatio      money.Decimal `json:"profit_ratio"`
	TotalProfit      money.Decimal `json:"total_profit"`
	TotalProfitRatio money.Decimal `json:"total_profit_ratio"`
}

// Distance is how far the stop is from the current rate.
type Distance struct {
	Abs   money.Decimal `json:"abs"`
	Ratio money.Decimal `json:"ratio"`
}

// Engine applies Config to trades.
type Engine struct {
	cfg Config
	now func() time.Time
}

// NewEngine creates an engine. now defaults to time.Now.
func NewEngine(cfg Config, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{cfg: cfg, now: now}
}

// Config returns the engine settings.
func (e *Engine) Config() Config { return e.cfg }

// OpenTradeValue is amount*openRate plus the open fee for a long, minus it for a short.
func OpenTradeValue(amount, openRate, feeOpen money.Decimal, isShort bool) money.Decimal {
	openTrade := amount.Mul(openRate)
	fees := openTrade.Mul(feeOpen)
	if isShort {
		return openTrade.Sub(fees)
	}
	return openTrade.Add(fees)
}

// CloseTradeValue is what closing amount at rate yields (long) or costs (short),
// fees and margin interest included.
func CloseTradeValue(amount, rate, feeClose money.Decimal, isShort bool, interest money.Decimal) money.Decimal {
	closeTrade := amount.Mul(rate)
	fees := closeTrade.Mul(feeClose)
	if isShort {
		return closeTrade.Add(fees).Add(interest)
	}
	return closeTrade.Sub(fees).Sub(interest)
}

// Interest is the margin interest owed on amount of the trade at now.
// It is zero outside margin mode. Borrowing is charged per started hour.
func Interest(trade *domain.Trade, amount money.Decimal, now time.Time) money.Decimal {
	if trade.TradingMode != domain.TradingModeMargin || trade.InterestRate == nil {
		return money.Zero
	}
	notional := amount.Mul(trade.OpenRate)
	borrowed := notional
	if !trade.IsShort {
		lev := leverageOf(trade)
		// long borrows the part of the notional not covered by own stake
		own, err := notional.Div(lev)
		if err != nil {
			return money.Zero
		}
		borrowed = notional.Sub(own)
	}
	hours := int64(now.Sub(trade.OpenDate) / time.Hour)
	if now.Sub(trade.OpenDate)%time.Hour != 0 || hours == 0 {
		hours++
	}
	perDay := borrowed.Mul(*trade.InterestRate).Mul(money.NewFromInt(hours))
	interest, err := perDay.Div(hoursPerDay)
	if err != nil {
		return money.Zero
	}
	return interest
}

// ChunkProfit is the profit of exiting qty of the trade at price.
func ChunkProfit(trade *domain.Trade, qty, price money.Decimal, at time.Time) money.Decimal {
	open := OpenTradeValue(qty, trade.OpenRate, trade.FeeOpen, trade.IsShort)
	closing := CloseTradeValue(qty, price, trade.FeeClose, trade.IsShort, Interest(trade, qty, at))
	if trade.IsShort {
		return open.Sub(closing)
	}
	return closing.Sub(open)
}

// CalculateProfit values the remaining position at rate and adds realized profit.
func (e *Engine) CalculateProfit(trade *domain.Trade, rate money.Decimal) Result {
	return CalculateProfitAt(trade, rate, e.now())
}

// CalculateProfitAt is CalculateProfit with an explicit valuation time.
func CalculateProfitAt(trade *domain.Trade, rate money.Decimal, now time.Time) Result {
	remaining := trade.RemainingAmount()
	profitAbs := ChunkProfit(trade, remaining, rate, now)
	openValue := OpenTradeValue(remaining, trade.OpenRate, trade.FeeOpen, trade.IsShort)

	total := profitAbs.Add(trade.RealizedProfit)
	fullOpenValue := trade.OpenTradeValue
	if fullOpenValue.IsZero() {
		fullOpenValue = OpenTradeValue(trade.Amount, trade.OpenRate, trade.FeeOpen, trade.IsShort)
	}

	return Result{
		ProfitAbs:        profitAbs,
		ProfitRatio:      ratioOnMargin(profitAbs, openValue, trade),
		TotalProfit:      total,
		TotalProfitRatio: ratioOnMargin(total, fullOpenValue, trade),
	}
}

// ratioOnMargin divides profit by the capital actually committed (open value / leverage).
// A trade without open value has a zero ratio.
func ratioOnMargin(profit, openValue money.Decimal, trade *domain.Trade) money.Decimal {
	committed, err := openValue.Div(leverageOf(trade))
	if err != nil {
		return money.Zero
	}
	ratio, err := profit.Div(committed)
	if err != nil {
		return money.Zero
	}
	return ratio
}

func leverageOf(trade *domain.Trade) money.Decimal {
	if trade.Leverage.LessThanOrEqual(money.Zero) {
		return money.One
	}
	return trade.Leverage
}

// InitialStopLoss returns the absolute stop for a new trade. The stoploss ratio
// applies to own capital, so it is divided by leverage.
func InitialStopLoss(openRate, stoploss, leverage money.Decimal, isShort bool) (money.Decimal, error) {
	if leverage.LessThanOrEqual(money.Zero) {
		leverage = money.One
	}
	dist, err := stoploss.Div(leverage)
	if err != nil {
		return money.Zero, err
	}
	if isShort {
		return openRate.Mul(money.One.Add(dist)), nil
	}
	return openRate.Mul(money.One.Sub(dist)), nil
}

// StoplossDistance is stop_loss - rate for a long and rate - stop_loss for a short.
// Ratio is relative to rate.
func StoplossDistance(trade *domain.Trade, rate money.Decimal) (Distance, error) {
	abs := trade.StopLoss.Sub(rate)
	if trade.IsShort {
		abs = rate.Sub(trade.StopLoss)
	}
	ratio, err := abs.Div(rate)
	if err != nil {
		return Distance{}, fmt.Errorf("stoploss distance for trade %d: %w", trade.ID, err)
	}
	return Distance{Abs: abs, Ratio: ratio}, nil
}

// StoplossReached reports whether rate crossed the trade's stop, and which exit reason applies.
func StoplossReached(trade *domain.Trade, rate money.Decimal) (bool, domain.ExitReason) {
	if !trade.StopLoss.IsPositive() {
		return false, ""
	}
	hit := rate.LessThanOrEqual(trade.StopLoss)
	if trade.IsShort {
		hit = rate.GreaterThanOrEqual(trade.StopLoss)
	}
	if !hit {
		return false, ""
	}
	if trade.IsStopLossTrailing {
		return true, domain.ExitReasonTrailingStopLoss
	}
	return true, domain.ExitReasonStopLoss
}

// UpdateTrailingStop tightens the trade's stop when the trailing conditions hold.
// It never loosens the stop and reports whether it moved.
func (e *Engine) UpdateTrailingStop(trade *domain.Trade, rate money.Decimal) (bool, error) {
	tc := e.cfg.Trailing
	if !tc.Enabled || !rate.IsPositive() {
		return false, nil
	}

	move := rate.Sub(trade.OpenRate)
	if trade.IsShort {
		move = trade.OpenRate.Sub(rate)
	}
	moveRatio, err := move.Div(trade.OpenRate)
	if err != nil {
		return false, fmt.Errorf("trailing stop for trade %d: %w", trade.ID, err)
	}
	if !moveRatio.GreaterThan(tc.PositiveOffset) {
		return false, nil
	}

	pct := tc.Positive
	if pct.IsZero() {
		pct = e.cfg.StopLoss
	}

	var candidate money.Decimal
	var tightens bool
	if trade.IsShort {
		candidate = rate.Mul(money.One.Add(pct))
		tightens = trade.StopLoss.IsZero() || candidate.LessThan(trade.StopLoss)
	} else {
		candidate = rate.Mul(money.One.Sub(pct))
		tightens = candidate.GreaterThan(trade.StopLoss)
	}
	if !tightens {
		return false, nil
	}

	trade.StopLoss = candidate
	trade.StopLossPct = pct.Neg()
	trade.IsStopLossTrailing = true
	return true, nil
}

// RoiReached reports whether currentProfitRatio meets the table's requirement.
func (e *Engine) RoiReached(trade *domain.Trade, currentProfitRatio money.Decimal, minutesOpen int) bool {
	return e.cfg.ROI.Reached(currentProfitRatio, minutesOpen)
}
