package domain

import (
	"errors"
	"fmt"
	"time"

	"tradePilot/internal/money"
)

// ErrTradeInvariant is returned by Trade.Validate.
var ErrTradeInvariant = errors.New("trade invariant violated")

// Trade is one opened-to-closed position on one pair. It owns its orders.
type Trade struct {
	ID            int64  `json:"id"`
	Exchange      string `json:"exchange"`
	Pair          string `json:"pair"`
	BaseCurrency  string `json:"base_currency"`
	StakeCurrency string `json:"stake_currency"`
	IsOpen        bool   `json:"is_open"`

	// Amount is the sum of executed entry fills. Before the first entry fill it
	// holds the requested amount; exits are sized from ExitableAmount, which is
	// zero until then.
	Amount          money.Decimal `json:"amount"`
	AmountRequested money.Decimal `json:"amount_requested"`
	StakeAmount     money.Decimal `json:"stake_amount"`
	OpenRate        money.Decimal `json:"open_rate"`
	OpenTradeValue  money.Decimal `json:"open_trade_value"`
	CloseRate       money.Decimal `json:"close_rate"`
	OpenDate        time.Time     `json:"open_date"`
	CloseDate       *time.Time    `json:"close_date,omitempty"`
	FeeOpen         money.Decimal `json:"fee_open"`
	FeeClose        money.Decimal `json:"fee_close"`

	StopLoss           money.Decimal `json:"stop_loss"`
	StopLossPct        money.Decimal `json:"stop_loss_pct"`
	InitialStopLoss    money.Decimal `json:"initial_stop_loss"`
	InitialStopLossPct money.Decimal `json:"initial_stop_loss_pct"`
	IsStopLossTrailing bool          `json:"is_stop_loss_trailing"`
	MaxRate            money.Decimal `json:"max_rate"`
	MinRate            money.Decimal `json:"min_rate"`

	RealizedProfit money.Decimal `json:"realized_profit"`
	CloseProfit    money.Decimal `json:"close_profit"`
	CloseProfitAbs money.Decimal `json:"close_profit_abs"`

	TradingMode  TradingMode    `json:"trading_mode"`
	IsShort      bool           `json:"is_short"`
	Leverage     money.Decimal  `json:"leverage"`
	InterestRate *money.Decimal `json:"interest_rate,omitempty"`

	ExitReason  ExitReason  `json:"exit_reason,omitempty"`
	EnterTag    string      `json:"enter_tag,omitempty"`
	Strategy    string      `json:"strategy,omitempty"`
	StorageMode StorageMode `json:"storage_mode"`

	Orders []*Order `json:"orders"`
}

// EntrySide is the order side that increases the position.
func (t *Trade) EntrySide() OrderSide {
	if t.IsShort {
		return Sell
	}
	return Buy
}

// ExitSide is the order side that reduces the position.
func (t *Trade) ExitSide() OrderSide {
	if t.IsShort {
		return Buy
	}
	return Sell
}

// Direction returns "long" or "short".
func (t *Trade) Direction() string {
	if t.IsShort {
		return "short"
	}
	return "long"
}

// OpenOrders returns the orders that have not reached a terminal status.
func (t *Trade) OpenOrders() []*Order {
	var open []*Order
	for _, o := range t.Orders {
		if !o.Status.IsTerminal() {
			open = append(open, o)
		}
	}
	return open
}

// HasOpenOrderOnSide reports whether a non-terminal order exists on side.
func (t *Trade) HasOpenOrderOnSide(side OrderSide) bool {
	for _, o := range t.OpenOrders() {
		if o.Side == side {
			return true
		}
	}
	return false
}

// OrderByID returns the trade's order with the given ledger id.
func (t *Trade) OrderByID(id int64) *Order {
	for _, o := range t.Orders {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// EntryFilledAmount sums executed quantities of entry-side orders.
func (t *Trade) EntryFilledAmount() money.Decimal {
	return t.filledOnSide(t.EntrySide())
}

// ExitFilledAmount sums executed quantities of exit-side orders.
func (t *Trade) ExitFilledAmount() money.Decimal {
	return t.filledOnSide(t.ExitSide())
}

func (t *Trade) filledOnSide(side OrderSide) money.Decimal {
	sum := money.Zero
	for _, o := range t.Orders {
		if o.Side == side {
			sum = sum.Add(o.ExecutedQuantity)
		}
	}
	return sum
}

// ExitableAmount is the executed position not yet offset by exit fills or
// reserved by exit orders still working.
func (t *Trade) ExitableAmount() money.Decimal {
	free := t.EntryFilledAmount().Sub(t.ExitFilledAmount())
	for _, o := range t.OpenOrders() {
		if o.Side == t.ExitSide() {
			free = free.Sub(o.RemainingQuantity())
		}
	}
	if free.IsNegative() {
		return money.Zero
	}
	return free
}

// AverageFillPrice is the volume-weighted executed price on side.
// ok is false when nothing was executed.
func (t *Trade) AverageFillPrice(side OrderSide) (price money.Decimal, ok bool) {
	qty := money.Zero
	notional := money.Zero
	for _, o := range t.Orders {
		if o.Side != side {
			continue
		}
		for _, f := range o.Fills {
			qty = qty.Add(f.Quantity)
			notional = notional.Add(f.Quantity.Mul(f.Price))
		}
	}
	avg, err := notional.Div(qty)
	if err != nil {
		return money.Zero, false
	}
	return avg, true
}

// RemainingAmount is the position still held.
func (t *Trade) RemainingAmount() money.Decimal {
	rem := t.Amount.Sub(t.ExitFilledAmount())
	if rem.IsNegative() {
		return money.Zero
	}
	return rem
}

// AdjustMinMaxRates tracks the price extremes seen since open.
func (t *Trade) AdjustMinMaxRates(rate money.Decimal) {
	if t.MaxRate.IsZero() {
		t.MaxRate = t.OpenRate
	}
	if t.MinRate.IsZero() {
		t.MinRate = t.OpenRate
	}
	t.MaxRate = money.Max(t.MaxRate, rate)
	t.MinRate = money.Min(t.MinRate, rate)
}

// MinutesOpen is the whole number of minutes between OpenDate and now.
func (t *Trade) MinutesOpen(now time.Time) int {
	return int(now.Sub(t.OpenDate) / time.Minute)
}

// MarkClosed sets the closing bookkeeping fields. It does not compute profit.
func (t *Trade) MarkClosed(rate money.Decimal, at time.Time, reason ExitReason) error {
	if !t.IsOpen || t.CloseDate != nil {
		return fmt.Errorf("%w: trade %d is already closed", ErrTradeInvariant, t.ID)
	}
	if at.Before(t.OpenDate) {
		at = t.OpenDate
	}
	t.IsOpen = false
	t.CloseRate = rate
	t.CloseDate = &at
	if t.ExitReason == "" || reason != "" {
		t.ExitReason = reason
	}
	return nil
}

// Validate checks the structural invariants of the trade.
func (t *Trade) Validate() error {
	if t.Amount.IsNegative() {
		return fmt.Errorf("%w: amount %s is negative", ErrTradeInvariant, t.Amount)
	}
	if t.OpenDate.IsZero() {
		return fmt.Errorf("%w: open date not set", ErrTradeInvariant)
	}
	if t.IsOpen == (t.CloseDate != nil) {
		return fmt.Errorf("%w: is_open=%t with close date set=%t", ErrTradeInvariant, t.IsOpen, t.CloseDate != nil)
	}
	if t.CloseDate != nil && t.CloseDate.Before(t.OpenDate) {
		return fmt.Errorf("%w: close date before open date", ErrTradeInvariant)
	}
	for _, o := range t.Orders {
		if o.TradeID != t.ID {
			return fmt.Errorf("%w: order %d belongs to trade %d", ErrTradeInvariant, o.ID, o.TradeID)
		}
	}
	return nil
}

// Clone returns a deep copy including orders.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	c := *t
	if t.CloseDate != nil {
		d := *t.CloseDate
		c.CloseDate = &d
	}
	if t.InterestRate != nil {
		r := *t.InterestRate
		c.InterestRate = &r
	}
	c.Orders = make([]*Order, len(t.Orders))
	for i, o := range t.Orders {
		c.Orders[i] = o.Clone()
	}
	return &c
}
