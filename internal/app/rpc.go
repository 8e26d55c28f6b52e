package app

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"tradePilot/internal/domain"
	"tradePilot/internal/money"
	"tradePilot/internal/ports"
	"tradePilot/internal/profit"
)

// Start moves the bot to RUNNING.
func (c *Controller) Start() string {
	c.mu.Lock()
	switch c.state {
	case domain.StateRunning:
		c.mu.Unlock()
		return "already running"
	case domain.StateReloadConfig:
		// the pending reload resolves to RUNNING
		c.reloadFrom = domain.StateRunning
		c.mu.Unlock()
		return "starting trader ..."
	}
	c.state = domain.StateRunning
	c.mu.Unlock()

	BotState.Set(stateValue(domain.StateRunning))
	c.logger.Info(context.Background(), "Start: Trader starting")
	c.notify(domain.Message{Type: domain.MsgStatus, Status: "running"})
	c.signal()
	return "starting trader ..."
}

// Stop moves a running bot to STOPPED once the tick in flight has finished,
// then reports the orders left open (canceling them only when configured to).
func (c *Controller) Stop(ctx context.Context) string {
	c.tickMu.Lock()
	c.mu.Lock()
	switch c.state {
	case domain.StateStopped:
		c.mu.Unlock()
		c.tickMu.Unlock()
		return "already stopped"
	case domain.StateReloadConfig:
		c.reloadFrom = domain.StateStopped
		c.mu.Unlock()
		c.tickMu.Unlock()
		return "stopping trader ..."
	}
	c.state = domain.StateStopped
	c.mu.Unlock()
	BotState.Set(stateValue(domain.StateStopped))
	c.tickMu.Unlock()

	c.logger.Info(ctx, "Stop: Trader stopped")
	c.handleOpenOrdersOnStop(ctx)
	c.notify(domain.Message{Type: domain.MsgStatus, Status: "stopped"})
	c.signal()
	return "stopping trader ..."
}

// ReloadConfig asks the loop to reload the configuration. The state returns to
// RUNNING or STOPPED once the reload was applied or rejected.
func (c *Controller) ReloadConfig() string {
	c.mu.Lock()
	if c.state != domain.StateReloadConfig {
		c.reloadFrom = c.state
	}
	c.state = domain.StateReloadConfig
	c.mu.Unlock()

	BotState.Set(stateValue(domain.StateReloadConfig))
	c.signal()
	return "Reloading config ..."
}

// applyReload runs on the loop goroutine. A failed reload keeps the previous
// settings and state.
func (c *Controller) applyReload(ctx context.Context) {
	op := "ReloadConfig"
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	settings, err := c.loadSettings(ctx)
	if err != nil {
		ConfigReloads.WithLabelValues("error").Inc()
		state := c.finishReload()
		c.logger.Error(ctx, err, op+": Reload rejected, keeping previous configuration", map[string]interface{}{"state": state})
		c.notify(domain.Message{Type: domain.MsgException, Status: "config reload failed: " + err.Error()})
		return
	}

	c.apply(settings)
	state := c.finishReload()
	ConfigReloads.WithLabelValues("ok").Inc()
	c.logger.Info(ctx, op+": Configuration reloaded", map[string]interface{}{
		"state":         state,
		"pairs":         len(settings.Pairs),
		"maxOpenTrades": settings.MaxOpenTrades,
	})
	c.notify(domain.Message{Type: domain.MsgStatus, Status: "config reloaded, state " + string(state)})
}

// finishReload leaves RELOAD_CONFIG for the state the bot had when the reload was requested.
func (c *Controller) finishReload() domain.BotState {
	c.mu.Lock()
	next := c.reloadFrom
	if next == "" {
		next = domain.StateStopped
	}
	c.state = next
	c.mu.Unlock()
	BotState.Set(stateValue(next))
	return next
}

func (c *Controller) loadSettings(ctx context.Context) (Settings, error) {
	if c.reload == nil {
		return Settings{}, fmt.Errorf("no config source: %w", ports.ErrConfigurationError)
	}
	settings, err := c.reload(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ports.ErrOperational, err)
	}
	if err := validateSettings(settings); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ports.ErrOperational, err)
	}
	return settings, nil
}

// ForceExit exits a trade at market on operator request. It shares the exit lock
// with the control loop, so at most one exit is ever in flight for a trade.
func (c *Controller) ForceExit(ctx context.Context, tradeID int64) error {
	op := "ForceExit"
	if c.State() != domain.StateRunning {
		return fmt.Errorf("%s failed: %w: trader is not running", op, ports.ErrInvalidState)
	}

	c.exitMu.Lock()
	defer c.exitMu.Unlock()

	trade, err := c.ledger.Trade(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if trade == nil {
		return fmt.Errorf("%s failed: %w: trade %d", op, ports.ErrNotFound, tradeID)
	}
	if !trade.IsOpen {
		return fmt.Errorf("%s failed: %w: trade %d is already closed", op, ports.ErrInvalidState, tradeID)
	}
	if trade.HasOpenOrderOnSide(trade.ExitSide()) {
		return fmt.Errorf("%s failed: %w: trade %d already has an exit order open", op, ports.ErrInvalidState, tradeID)
	}

	// Entry orders still working are canceled first
	for _, o := range trade.OpenOrders() {
		if o.Side != trade.EntrySide() {
			continue
		}
		if err := c.cancelOrder(ctx, trade, o, string(domain.ExitReasonForceExit)); err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
	}
	if trade, err = c.ledger.Trade(ctx, tradeID); err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if trade == nil || !trade.IsOpen {
		c.logger.Info(ctx, op+": Trade closed while canceling its entry", map[string]interface{}{"tradeID": tradeID})
		return nil
	}

	rate, err := c.exchange.GetRate(ctx, trade.Pair, domain.PriceSideExit, trade.IsShort)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	return c.executeExit(ctx, trade, rate, domain.ExitReasonForceExit, "")
}

// ConfigView is the non-secret part of the running configuration.
type ConfigView struct {
	State         domain.BotState
	TradingMode   domain.TradingMode
	ShortAllowed  bool
	Strategy      string
	Pairs         []string
	StakeCurrency string
	FiatCurrency  string
	// StakeAmount is "unlimited" when the free balance is split over the open slots.
	StakeAmount string
	// MaxOpenTrades is -1 when unlimited.
	MaxOpenTrades              int
	MinimalROI                 map[string]string
	StopLoss                   string
	TrailingStop               bool
	TrailingStopPositive       string
	TrailingStopPositiveOffset string
	UnfilledTimeout            time.Duration
	ThrottleInterval           time.Duration
}

// ShowConfig returns the settings the bot currently runs with.
func (c *Controller) ShowConfig() ConfigView {
	settings, _ := c.current()

	stake := settings.StakeAmount.String()
	if settings.UnlimitedStake {
		stake = "unlimited"
	}
	maxOpen := settings.MaxOpenTrades
	if maxOpen < 0 {
		maxOpen = -1
	}
	roi := make(map[string]string, len(settings.Profit.ROI))
	for _, minutes := range settings.Profit.ROI.Thresholds() {
		roi[strconv.Itoa(minutes)] = settings.Profit.ROI[minutes].String()
	}
	trailing := settings.Profit.Trailing

	return ConfigView{
		State:                      c.State(),
		TradingMode:                settings.TradingMode,
		ShortAllowed:               settings.TradingMode != domain.TradingModeSpot,
		Strategy:                   c.strategy.Name(),
		Pairs:                      append([]string(nil), settings.Pairs...),
		StakeCurrency:              settings.StakeCurrency,
		FiatCurrency:               settings.FiatCurrency,
		StakeAmount:                stake,
		MaxOpenTrades:              maxOpen,
		MinimalROI:                 roi,
		StopLoss:                   settings.Profit.StopLoss.String(),
		TrailingStop:               trailing.Enabled,
		TrailingStopPositive:       trailing.Positive.String(),
		TrailingStopPositiveOffset: trailing.PositiveOffset.String(),
		UnfilledTimeout:            settings.UnfilledTimeout,
		ThrottleInterval:           settings.ThrottleInterval,
	}
}

// TradeStatus is the status view of one trade. Rates and profits are NaN when
// no rate is available.
type TradeStatus struct {
	Trade                    map[string]interface{}
	CurrentRate              float64
	ProfitRatio              float64
	ProfitPct                float64
	ProfitAbs                float64
	ProfitFiat               *float64
	TotalProfitAbs           float64
	TotalProfitRatio         *float64
	TotalProfitFiat          *float64
	CloseProfit              *float64
	StoplossCurrentDist      float64
	StoplossCurrentDistRatio float64
	StoplossCurrentDistPct   float64
	StoplossEntryDist        float64
	StoplossEntryDistRatio   float64
	OpenOrders               string
}

// Status returns the views of the given trades, or of every open trade when no
// id is given. It fails with ErrNotFound when nothing matches.
func (c *Controller) Status(ctx context.Context, tradeIDs ...int64) ([]TradeStatus, error) {
	op := "Status"
	var trades []*domain.Trade
	var err error
	if len(tradeIDs) > 0 {
		trades, err = c.ledger.TradesMatching(ctx, ports.TradeFilter{IDs: tradeIDs}, nil)
	} else {
		trades, err = c.ledger.OpenTrades(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if len(trades) == 0 {
		return nil, fmt.Errorf("%s failed: %w: no active trade", op, ports.ErrNotFound)
	}

	settings, engine := c.current()
	out := make([]TradeStatus, 0, len(trades))
	for _, trade := range trades {
		out = append(out, c.tradeStatus(ctx, trade, settings, engine))
	}
	return out, nil
}

func (c *Controller) tradeStatus(ctx context.Context, trade *domain.Trade, settings Settings, engine *profit.Engine) TradeStatus {
	st := TradeStatus{Trade: trade.ToMap()}

	var rate money.Decimal
	rateOK := false
	if trade.IsOpen {
		st.CurrentRate = math.NaN()
		if r, err := c.exchange.GetRate(ctx, trade.Pair, domain.PriceSideExit, trade.IsShort); err == nil {
			rate, rateOK = r, true
			st.CurrentRate = r.Float64()
		}
		switch {
		case !trade.EntryFilledAmount().IsPositive():
			// nothing bought yet, nothing to value
		case rateOK:
			res := engine.CalculateProfit(trade, rate)
			st.ProfitRatio = res.ProfitRatio.Float64()
			st.ProfitAbs = res.ProfitAbs.Float64()
			st.TotalProfitAbs = res.TotalProfit.Float64()
			total := res.TotalProfitRatio.Float64()
			st.TotalProfitRatio = &total
		default:
			st.ProfitRatio, st.ProfitAbs = math.NaN(), math.NaN()
		}
	} else {
		rate, rateOK = trade.CloseRate, true
		st.CurrentRate = trade.CloseRate.Float64()
		st.ProfitRatio = trade.CloseProfit.Float64()
		st.ProfitAbs = trade.CloseProfitAbs.Float64()
		cp := trade.CloseProfit.Float64()
		st.CloseProfit = &cp
	}
	st.ProfitPct = math.Round(st.ProfitRatio*10000) / 100

	if c.fiat != nil && settings.FiatCurrency != "" && !math.IsNaN(st.ProfitAbs) {
		if v, err := c.fiat.Convert(st.ProfitAbs, settings.StakeCurrency, settings.FiatCurrency); err == nil {
			st.ProfitFiat = &v
		}
		if v, err := c.fiat.Convert(st.TotalProfitAbs, settings.StakeCurrency, settings.FiatCurrency); err == nil {
			st.TotalProfitFiat = &v
		}
	}

	// What the stop guarantees, and how far away it is
	if trade.StopLoss.IsPositive() {
		stopRes := engine.CalculateProfit(trade, trade.StopLoss)
		st.StoplossEntryDist = stopRes.ProfitAbs.Float64()
		st.StoplossEntryDistRatio = round8(stopRes.ProfitRatio.Float64())
	}
	st.StoplossCurrentDist, st.StoplossCurrentDistRatio = math.NaN(), math.NaN()
	if rateOK {
		if dist, err := profit.StoplossDistance(trade, rate); err == nil {
			st.StoplossCurrentDist = dist.Abs.Float64()
			st.StoplossCurrentDistRatio = round8(dist.Ratio.Float64())
		}
	}
	st.StoplossCurrentDistPct = math.Round(st.StoplossCurrentDistRatio*10000) / 100

	var oo []string
	for _, o := range trade.OpenOrders() {
		oo = append(oo, fmt.Sprintf("(%s %s rem=%s)", o.Type, strings.ToLower(string(o.Side)), o.RemainingQuantity().StringFixed(8)))
	}
	st.OpenOrders = strings.Join(oo, ", ")
	return st
}

func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

// StatusTableResult is the tabular summary of open trades.
type StatusTableResult struct {
	Columns       []string
	Rows          [][]string
	FiatProfitSum float64 // NaN without fiat conversion
}

// StatusTable summarizes every open trade. Profit is converted to fiatCurrency
// when a converter is configured. It fails with ErrNotFound without open trades.
func (c *Controller) StatusTable(ctx context.Context, stakeCurrency, fiatCurrency string) (StatusTableResult, error) {
	op := "StatusTable"
	trades, err := c.ledger.OpenTrades(ctx)
	if err != nil {
		return StatusTableResult{}, fmt.Errorf("%s failed: %w", op, err)
	}
	if len(trades) == 0 {
		return StatusTableResult{}, fmt.Errorf("%s failed: %w: no active trade", op, ports.ErrNotFound)
	}

	settings, engine := c.current()
	nonSpot := settings.TradingMode != domain.TradingModeSpot
	useFiat := c.fiat != nil && fiatCurrency != ""
	now := c.now()

	res := StatusTableResult{FiatProfitSum: math.NaN()}
	for _, trade := range trades {
		var tradeProfit float64
		var profitStr string
		rate, err := c.exchange.GetRate(ctx, trade.Pair, domain.PriceSideExit, trade.IsShort)
		switch {
		case err != nil:
			tradeProfit = math.NaN()
			profitStr = fmt.Sprintf("%.2f%%", math.NaN())
		case trade.EntryFilledAmount().IsPositive():
			p := engine.CalculateProfit(trade, rate)
			tradeProfit = p.ProfitAbs.Float64()
			profitStr = fmt.Sprintf("%.2f%%", p.ProfitRatio.Float64()*100)
		default:
			profitStr = "0.00"
		}

		if useFiat {
			if fiatProfit, err := c.fiat.Convert(tradeProfit, stakeCurrency, fiatCurrency); err == nil && !math.IsNaN(fiatProfit) {
				profitStr += fmt.Sprintf(" (%.2f)", fiatProfit)
				if math.IsNaN(res.FiatProfitSum) {
					res.FiatProfitSum = fiatProfit
				} else {
					res.FiatProfitSum += fiatProfit
				}
			}
		}

		direction := ""
		if nonSpot {
			direction = "L"
			if trade.IsShort {
				direction = "S"
			}
		}
		var marks []string
		for _, o := range trade.OpenOrders() {
			if o.Side == trade.EntrySide() {
				marks = append(marks, "*")
			} else {
				marks = append(marks, "**")
			}
		}

		res.Rows = append(res.Rows, []string{
			strings.TrimSpace(fmt.Sprintf("%d %s", trade.ID, direction)),
			trade.Pair + strings.Join(marks, "."),
			shortDuration(now.Sub(trade.OpenDate)),
			profitStr,
		})
	}

	idCol := "ID"
	if nonSpot {
		idCol = "ID L/S"
	}
	profitCol := "Profit"
	if useFiat {
		profitCol += " (" + fiatCurrency + ")"
	}
	res.Columns = []string{idCol, "Pair", "Since", profitCol}
	return res, nil
}

// shortDuration renders how long ago something happened, e.g. "5 min" or "3 h".
func shortDuration(d time.Duration) string {
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%d min", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d h", int(d/time.Hour))
	default:
		return fmt.Sprintf("%d d", int(d/(24*time.Hour)))
	}
}
