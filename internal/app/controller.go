package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"tradePilot/internal/domain"
	"tradePilot/internal/ledger"
	"tradePilot/internal/money"
	"tradePilot/internal/ports"
	"tradePilot/internal/profit"
	"tradePilot/internal/protection"
	"tradePilot/internal/wallet"
)

const (
	defaultThrottle = 5 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Settings is the reloadable part of the configuration the controller runs with.
type Settings struct {
	Pairs         []string
	StakeCurrency string
	FiatCurrency  string
	StakeAmount   money.Decimal
	// UnlimitedStake splits the free balance over the remaining trade slots.
	UnlimitedStake bool
	// MaxOpenTrades caps concurrently open trades. Negative means unlimited.
	MaxOpenTrades int
	TradingMode   domain.TradingMode
	Leverage      money.Decimal
	InterestRate  *money.Decimal
	Fee           money.Decimal
	Profit        profit.Config
	Protections   []ports.ProtectionPolicy

	ThrottleInterval time.Duration
	// UnfilledTimeout cancels orders still open after this long. Zero disables it.
	UnfilledTimeout time.Duration
	// CancelOpenOrdersOnExit cancels open orders on stop instead of only reporting them.
	CancelOpenOrdersOnExit bool
	// InitialState is the state the controller is created in. Reloads keep the
	// state the bot had when the reload was requested.
	InitialState domain.BotState
}

// Reloader produces fresh settings, e.g. from the environment and strategy file.
type Reloader func(ctx context.Context) (Settings, error)

// Dependencies are the collaborators the controller drives.
type Dependencies struct {
	Ledger     *ledger.Ledger
	Wallet     *wallet.Tracker
	Protection *protection.Manager
	Exchange   ports.ExchangeClient
	Strategy   ports.Strategy
	Notifier   ports.Notifier
	Fiat       ports.FiatConverter // optional
	Logger     ports.Logger
	Reload     Reloader // optional
	Clock      func() time.Time
}

// Controller owns the bot state machine and the control loop.
type Controller struct {
	ledger     *ledger.Ledger
	wallet     *wallet.Tracker
	protection *protection.Manager
	exchange   ports.ExchangeClient
	strategy   ports.Strategy
	notifier   ports.Notifier
	fiat       ports.FiatConverter
	logger     ports.Logger
	reload     Reloader
	now        func() time.Time

	// State fields
	mu         sync.RWMutex // Protects access to state fields below
	state      domain.BotState
	reloadFrom domain.BotState
	settings   Settings
	engine     *profit.Engine

	wake   chan struct{}
	tickMu sync.Mutex // held for a whole tick; Stop waits on it
	exitMu sync.Mutex // serializes every exit decision with forced exits
}

// NewController creates a controller in the settings' initial state (STOPPED by default).
func NewController(settings Settings, deps Dependencies) (*Controller, error) {
	// Validate dependencies
	if deps.Ledger == nil || deps.Wallet == nil || deps.Protection == nil ||
		deps.Exchange == nil || deps.Strategy == nil || deps.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Controller: %w", ports.ErrConfigurationError)
	}
	if err := validateSettings(settings); err != nil {
		return nil, err
	}

	now := deps.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	state := settings.InitialState
	if state == "" {
		state = domain.StateStopped
	}

	c := &Controller{
		ledger:     deps.Ledger,
		wallet:     deps.Wallet,
		protection: deps.Protection,
		exchange:   deps.Exchange,
		strategy:   deps.Strategy,
		notifier:   deps.Notifier,
		fiat:       deps.Fiat,
		logger:     deps.Logger,
		reload:     deps.Reload,
		now:        now,
		state:      state,
		wake:       make(chan struct{}, 1),
	}
	c.apply(settings)
	BotState.Set(stateValue(state))
	return c, nil
}

func validateSettings(s Settings) error {
	if s.StakeCurrency == "" {
		return fmt.Errorf("stake currency is required: %w", ports.ErrConfigurationError)
	}
	if s.TradingMode == domain.TradingModeMargin && s.InterestRate == nil {
		return fmt.Errorf("margin mode requires an interest rate: %w", ports.ErrConfigurationError)
	}
	if s.Leverage.IsPositive() && s.Leverage.LessThan(money.One) {
		return fmt.Errorf("leverage %s must be at least 1: %w", s.Leverage, ports.ErrConfigurationError)
	}
	if s.Profit.StopLoss.IsNegative() {
		return fmt.Errorf("stoploss %s must not be negative: %w", s.Profit.StopLoss, ports.ErrConfigurationError)
	}
	if s.UnlimitedStake && s.MaxOpenTrades < 0 {
		return fmt.Errorf("unlimited stake needs a finite max open trades: %w", ports.ErrConfigurationError)
	}
	return nil
}

// apply installs settings on the controller and the components that hold a copy.
func (c *Controller) apply(s Settings) {
	if s.ThrottleInterval <= 0 {
		s.ThrottleInterval = defaultThrottle
	}
	if s.TradingMode == "" {
		s.TradingMode = domain.TradingModeSpot
	}
	c.mu.Lock()
	c.settings = s
	c.engine = profit.NewEngine(s.Profit, c.now)
	c.mu.Unlock()

	c.ledger.SetMaxOpenTrades(s.MaxOpenTrades)
	c.wallet.SetStake(s.StakeAmount, s.UnlimitedStake)
	c.protection.SetPolicies(s.Protections)
}

func (c *Controller) current() (Settings, *profit.Engine) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings, c.engine
}

// State returns the current bot state.
func (c *Controller) State() domain.BotState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run drives the control loop until ctx is canceled or the process receives
// SIGINT/SIGTERM. Ticks only execute while the bot is RUNNING.
func (c *Controller) Run(ctx context.Context) error {
	op := "Run"
	c.logger.Info(ctx, op+": Starting controller...")

	// Create a context that can be canceled by signals
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			c.logger.Info(ctx, op+": Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	// --- Initialization Steps ---
	// 1. Restore pair locks
	if err := c.protection.Load(ctx); err != nil {
		c.logger.Error(ctx, err, op+": Failed to restore pair locks")
		return fmt.Errorf("%s failed: %w", op, err)
	}

	// 2. Initial wallet snapshot; a failure only degrades sizing until the next refresh
	if err := c.wallet.Update(ctx, true); err != nil {
		c.logger.Warn(ctx, op+": Initial wallet update failed", map[string]interface{}{"error": err.Error()})
	}

	// 3. Report what is already open
	open, err := c.ledger.OpenTrades(ctx)
	if err != nil {
		c.logger.Error(ctx, err, op+": Failed to load open trades")
		return fmt.Errorf("%s failed: %w", op, err)
	}
	OpenTrades.Set(float64(len(open)))
	settings, _ := c.current()
	c.notify(domain.Message{
		Type:   domain.MsgStartup,
		Status: fmt.Sprintf("%s started in state %s with %d open trades", c.strategy.Name(), c.State(), len(open)),
		Fields: map[string]interface{}{
			"pairs":         settings.Pairs,
			"stakeCurrency": settings.StakeCurrency,
			"maxOpenTrades": settings.MaxOpenTrades,
			"tradingMode":   settings.TradingMode,
		},
	})
	c.logger.Info(ctx, op+": Controller initialized", map[string]interface{}{
		"state":      c.State(),
		"openTrades": len(open),
		"throttle":   settings.ThrottleInterval.String(),
	})

	// --- Main Loop ---
	for {
		started := time.Now()
		switch c.State() {
		case domain.StateReloadConfig:
			c.applyReload(ctx)
		case domain.StateRunning:
			c.runTick(ctx)
		}

		// STOPPED waits for a command, RUNNING for the rest of the throttle interval
		var timer *time.Timer
		var fire <-chan time.Time
		if c.State() == domain.StateRunning {
			settings, _ := c.current()
			wait := settings.ThrottleInterval - time.Since(started)
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			c.shutdown()
			return nil
		case <-c.wake:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// shutdown handles orders left open when the process exits while running.
func (c *Controller) shutdown() {
	op := "Shutdown"
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	if c.State() == domain.StateRunning {
		c.handleOpenOrdersOnStop(ctx)
	}
	c.logger.Info(ctx, op+": Controller stopped")
}

// runTick executes one tick under tickMu so ticks never overlap and Stop can
// wait for the one in flight.
func (c *Controller) runTick(ctx context.Context) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	if c.State() != domain.StateRunning {
		return
	}
	if err := c.process(ctx); err != nil {
		c.logger.Warn(ctx, "RunTick: Tick aborted", map[string]interface{}{"error": err.Error()})
	}
}

// process is one pass of the control loop. Errors of a single trade or pair
// are logged and never abort the rest of the tick.
func (c *Controller) process(ctx context.Context) error {
	op := "ProcessTick"
	started := time.Now()
	defer func() {
		TickDuration.Observe(time.Since(started).Seconds())
		TicksTotal.Inc()
	}()
	settings, engine := c.current()

	// 1. Wallet refresh, reusing the snapshot inside the staleness window
	if err := c.wallet.Update(ctx, false); err != nil {
		c.logger.Debug(ctx, op+": Continuing with previous wallet snapshot", map[string]interface{}{"error": err.Error()})
	}

	// 2. Expired pair locks
	if _, err := c.protection.UnlockExpired(ctx, c.now()); err != nil {
		c.logger.Error(ctx, err, op+": Failed to purge expired locks")
	}

	// 3. Orders that stayed unfilled for too long
	c.cancelUnfilled(ctx, settings)

	// 4. Exits
	trades, err := c.ledger.OpenTrades(ctx)
	if err != nil {
		c.logger.Error(ctx, err, op+": Failed to load open trades")
		c.notify(domain.Message{Type: domain.MsgException, Status: err.Error()})
		return fmt.Errorf("%s failed: %w", op, err)
	}
	for _, trade := range trades {
		if err := c.processExit(ctx, trade.ID, engine); err != nil {
			c.logger.Error(ctx, err, op+": Exit processing failed", map[string]interface{}{
				"tradeID": trade.ID,
				"pair":    trade.Pair,
			})
		}
	}

	// 5. Entries
	if err := c.processEntries(ctx, settings); err != nil {
		c.logger.Error(ctx, err, op+": Entry processing failed")
	}
	return nil
}

// processExit refreshes the valuation of one trade and exits it when the stop,
// the ROI table or the strategy say so. It holds the exit lock throughout.
func (c *Controller) processExit(ctx context.Context, tradeID int64, engine *profit.Engine) error {
	op := "ProcessExit"
	c.exitMu.Lock()
	defer c.exitMu.Unlock()

	trade, err := c.ledger.Trade(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if trade == nil || !trade.IsOpen {
		return nil
	}
	// Nothing to exit until the entry has executed, and one exit at a time
	if !trade.EntryFilledAmount().IsPositive() || trade.HasOpenOrderOnSide(trade.ExitSide()) {
		return nil
	}

	rate, err := c.exchange.GetRate(ctx, trade.Pair, domain.PriceSideExit, trade.IsShort)
	if err != nil {
		if ports.IsTransient(err) {
			PricingUnavailable.Inc()
			c.logger.Warn(ctx, op+": Rate unavailable, skipping trade this tick", map[string]interface{}{
				"tradeID": trade.ID,
				"pair":    trade.Pair,
				"error":   err.Error(),
			})
			return nil
		}
		return fmt.Errorf("%s failed: %w", op, err)
	}

	trade, err = c.ledger.UpdateTrade(ctx, trade.ID, func(t *domain.Trade) error {
		t.AdjustMinMaxRates(rate)
		_, err := engine.UpdateTrailingStop(t, rate)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	reason, tag, err := c.exitDecision(ctx, trade, rate, engine)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if reason == "" {
		return nil
	}
	return c.executeExit(ctx, trade, rate, reason, tag)
}

// exitDecision returns the exit reason for trade at rate, empty to hold.
func (c *Controller) exitDecision(ctx context.Context, trade *domain.Trade, rate money.Decimal, engine *profit.Engine) (domain.ExitReason, string, error) {
	if hit, reason := profit.StoplossReached(trade, rate); hit {
		return reason, "", nil
	}
	result := engine.CalculateProfit(trade, rate)
	if engine.RoiReached(trade, result.ProfitRatio, trade.MinutesOpen(c.now())) {
		return domain.ExitReasonROI, "", nil
	}
	sig, err := c.strategy.ExitSignal(ctx, trade, rate, ports.ProfitSnapshot{
		ProfitAbs:   result.ProfitAbs,
		ProfitRatio: result.ProfitRatio,
	})
	if err != nil {
		return "", "", fmt.Errorf("exit signal for %s: %w", trade.Pair, err)
	}
	if !sig.Exit {
		return "", "", nil
	}
	if sig.Reason == "" {
		sig.Reason = domain.ExitReasonExitSignal
	}
	return sig.Reason, sig.Tag, nil
}

// processEntries opens trades on unlocked pairs while slots are free.
func (c *Controller) processEntries(ctx context.Context, settings Settings) error {
	op := "ProcessEntries"
	if len(settings.Pairs) == 0 {
		return nil
	}
	open, err := c.ledger.OpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	OpenTrades.Set(float64(len(open)))

	held := make(map[string]bool, len(open))
	for _, t := range open {
		held[t.Pair] = true
	}
	count := len(open)
	now := c.now()
	for _, pair := range settings.Pairs {
		if settings.MaxOpenTrades >= 0 && count >= settings.MaxOpenTrades {
			c.logger.Debug(ctx, op+": Max open trades reached", map[string]interface{}{"maxOpenTrades": settings.MaxOpenTrades})
			return nil
		}
		if held[pair] {
			continue
		}
		if lock, locked := c.protection.LockFor(pair, now); locked {
			c.logger.Debug(ctx, op+": Pair locked, skipping entry", map[string]interface{}{
				"pair":    pair,
				"lockEnd": lock.LockEndTime.Format(time.RFC3339),
				"reason":  lock.Reason,
			})
			continue
		}
		entered, err := c.enterPosition(ctx, pair, settings, count)
		if err != nil {
			c.logger.Warn(ctx, op+": Entry failed", map[string]interface{}{"pair": pair, "error": err.Error()})
			continue
		}
		if entered {
			count++
		}
	}
	return nil
}

// baseCurrency strips the stake currency from pair: "ETH/USDT" and "ETHUSDT" both give "ETH".
func baseCurrency(pair, stake string) string {
	if base, _, ok := strings.Cut(pair, "/"); ok {
		return base
	}
	if base := strings.TrimSuffix(pair, stake); base != "" {
		return base
	}
	return pair
}
