package domain

import "time"

// TradeField maps a public field name to its accessor.
type TradeField struct {
	Name string
	Get  func(*Trade) interface{}
}

// TradeFields is the fixed, ordered field table used to render trade views.
var TradeFields = []TradeField{
	{"trade_id", func(t *Trade) interface{} { return t.ID }},
	{"pair", func(t *Trade) interface{} { return t.Pair }},
	{"base_currency", func(t *Trade) interface{} { return t.BaseCurrency }},
	{"stake_currency", func(t *Trade) interface{} { return t.StakeCurrency }},
	{"exchange", func(t *Trade) interface{} { return t.Exchange }},
	{"is_open", func(t *Trade) interface{} { return t.IsOpen }},
	{"is_short", func(t *Trade) interface{} { return t.IsShort }},
	{"trading_mode", func(t *Trade) interface{} { return string(t.TradingMode) }},
	{"amount", func(t *Trade) interface{} { return t.Amount.Float64() }},
	{"amount_requested", func(t *Trade) interface{} { return t.AmountRequested.Float64() }},
	{"stake_amount", func(t *Trade) interface{} { return t.StakeAmount.Float64() }},
	{"open_rate", func(t *Trade) interface{} { return t.OpenRate.Float64() }},
	{"open_trade_value", func(t *Trade) interface{} { return t.OpenTradeValue.Float64() }},
	{"close_rate", func(t *Trade) interface{} { return t.CloseRate.Float64() }},
	{"open_date", func(t *Trade) interface{} { return t.OpenDate.UTC().Format(time.RFC3339) }},
	{"close_date", func(t *Trade) interface{} {
		if t.CloseDate == nil {
			return nil
		}
		return t.CloseDate.UTC().Format(time.RFC3339)
	}},
	{"fee_open", func(t *Trade) interface{} { return t.FeeOpen.Float64() }},
	{"fee_close", func(t *Trade) interface{} { return t.FeeClose.Float64() }},
	{"stop_loss_abs", func(t *Trade) interface{} { return t.StopLoss.Float64() }},
	{"stop_loss_pct", func(t *Trade) interface{} { return t.StopLossPct.Float64() }},
	{"initial_stop_loss_abs", func(t *Trade) interface{} { return t.InitialStopLoss.Float64() }},
	{"initial_stop_loss_pct", func(t *Trade) interface{} { return t.InitialStopLossPct.Float64() }},
	{"is_stop_loss_trailing", func(t *Trade) interface{} { return t.IsStopLossTrailing }},
	{"max_rate", func(t *Trade) interface{} { return t.MaxRate.Float64() }},
	{"min_rate", func(t *Trade) interface{} { return t.MinRate.Float64() }},
	{"realized_profit", func(t *Trade) interface{} { return t.RealizedProfit.Float64() }},
	{"close_profit", func(t *Trade) interface{} { return t.CloseProfit.Float64() }},
	{"close_profit_abs", func(t *Trade) interface{} { return t.CloseProfitAbs.Float64() }},
	{"leverage", func(t *Trade) interface{} { return t.Leverage.Float64() }},
	{"interest_rate", func(t *Trade) interface{} {
		if t.InterestRate == nil {
			return nil
		}
		return t.InterestRate.Float64()
	}},
	{"exit_reason", func(t *Trade) interface{} { return string(t.ExitReason) }},
	{"enter_tag", func(t *Trade) interface{} { return t.EnterTag }},
	{"strategy", func(t *Trade) interface{} { return t.Strategy }},
}

// ToMap renders the trade through TradeFields.
func (t *Trade) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(TradeFields))
	for _, f := range TradeFields {
		m[f.Name] = f.Get(t)
	}
	return m
}
