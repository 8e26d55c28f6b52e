// Package ledger owns the lifecycle of trades and their orders. Every mutation
// runs under one writer lock inside a single repository transaction.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradePilot/internal/domain"
	"tradePilot/internal/money"
	"tradePilot/internal/ports"
	"tradePilot/internal/profit"
)

// Config holds the ledger collaborators and limits.
type Config struct {
	Repository    ports.Repository
	Logger        ports.Logger
	Exchange      string
	StakeCurrency string
	// MaxOpenTrades caps concurrently open trades. Negative means unlimited.
	MaxOpenTrades int
	StorageMode   domain.StorageMode
	Clock         func() time.Time
}

// TradeRequest describes a trade to open.
type TradeRequest struct {
	Pair         string
	BaseCurrency string
	IsShort      bool
	Amount       money.Decimal
	OpenRate     money.Decimal
	StakeAmount  money.Decimal
	FeeOpen      money.Decimal
	FeeClose     money.Decimal
	TradingMode  domain.TradingMode
	Leverage     money.Decimal // zero means 1
	InterestRate *money.Decimal
	StopLoss     money.Decimal // positive ratio, e.g. 0.10
	EnterTag     string
	Strategy     string
	OpenDate     time.Time // zero means now
}

// OrderRequest describes an order placed for a trade, as reported by the exchange.
type OrderRequest struct {
	OrderID          string
	ClientOrderID    string
	Side             domain.OrderSide
	Type             domain.OrderType
	Quantity         money.Decimal
	LimitPrice       money.Decimal
	StopPrice        money.Decimal
	Status           domain.OrderStatus // empty means CREATED
	ExecutedQuantity money.Decimal
	ExecutedPrice    money.Decimal
	Time             time.Time
	// ExitReason is recorded on the trade when the order is an exit.
	ExitReason domain.ExitReason
}

// Ledger is the single writer of trades and orders.
type Ledger struct {
	mu     sync.Mutex
	repo   ports.Repository
	logger ports.Logger
	cfg    Config
	now    func() time.Time
}

// New creates a ledger over cfg.Repository.
func New(cfg Config) (*Ledger, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("ledger: repository is required: %w", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("ledger: logger is required: %w", ports.ErrConfigurationError)
	}
	if cfg.StorageMode == "" {
		cfg.StorageMode = domain.StoragePersisted
	}
	now := cfg.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{repo: cfg.Repository, logger: cfg.Logger, cfg: cfg, now: now}, nil
}

// SetMaxOpenTrades changes the open trade cap, e.g. after a config reload.
func (l *Ledger) SetMaxOpenTrades(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.MaxOpenTrades = n
}

// OpenTrades returns every open trade with its orders, oldest first.
func (l *Ledger) OpenTrades(ctx context.Context) ([]*domain.Trade, error) {
	trades, err := l.repo.QueryOpenTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("OpenTrades failed: %w: %w", ports.ErrOperational, err)
	}
	return trades, nil
}

// Trade returns one trade, or nil when it does not exist.
func (l *Ledger) Trade(ctx context.Context, id int64) (*domain.Trade, error) {
	t, err := l.repo.QueryTradeByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Trade failed: %w: %w", ports.ErrOperational, err)
	}
	return t, nil
}

// OrderByExchangeID returns the order the exchange knows as orderID, or nil.
func (l *Ledger) OrderByExchangeID(ctx context.Context, orderID string) (*domain.Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("OrderByExchangeID failed: %w: empty exchange order id", ports.ErrValidation)
	}
	o, err := l.repo.QueryOrderByExchangeID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("OrderByExchangeID failed: %w: %w", ports.ErrOperational, err)
	}
	return o, nil
}

// TradesMatching returns the trades matching filter and, when given, keep.
func (l *Ledger) TradesMatching(ctx context.Context, filter ports.TradeFilter, keep func(*domain.Trade) bool) ([]*domain.Trade, error) {
	trades, err := l.repo.QueryTrades(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("TradesMatching failed: %w: %w", ports.ErrOperational, err)
	}
	if keep == nil {
		return trades, nil
	}
	out := trades[:0]
	for _, t := range trades {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// CreateTrade validates req and stores a new open trade.
func (l *Ledger) CreateTrade(ctx context.Context, req TradeRequest) (*domain.Trade, error) {
	op := "CreateTrade"
	if err := validateTradeRequest(&req); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrValidation, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	openDate := req.OpenDate
	if openDate.IsZero() {
		openDate = l.now()
	}

	trade := &domain.Trade{
		Exchange:        l.cfg.Exchange,
		Pair:            req.Pair,
		BaseCurrency:    req.BaseCurrency,
		StakeCurrency:   l.cfg.StakeCurrency,
		IsOpen:          true,
		Amount:          req.Amount,
		AmountRequested: req.Amount,
		StakeAmount:     req.StakeAmount,
		OpenRate:        req.OpenRate,
		OpenTradeValue:  profit.OpenTradeValue(req.Amount, req.OpenRate, req.FeeOpen, req.IsShort),
		OpenDate:        openDate,
		FeeOpen:         req.FeeOpen,
		FeeClose:        req.FeeClose,
		MaxRate:         req.OpenRate,
		MinRate:         req.OpenRate,
		TradingMode:     req.TradingMode,
		IsShort:         req.IsShort,
		Leverage:        req.Leverage,
		InterestRate:    req.InterestRate,
		EnterTag:        req.EnterTag,
		Strategy:        req.Strategy,
		StorageMode:     l.cfg.StorageMode,
	}
	if req.StopLoss.IsPositive() {
		stop, err := profit.InitialStopLoss(req.OpenRate, req.StopLoss, req.Leverage, req.IsShort)
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w", op, err)
		}
		trade.StopLoss = stop
		trade.StopLossPct = req.StopLoss.Neg()
		trade.InitialStopLoss = stop
		trade.InitialStopLossPct = req.StopLoss.Neg()
	}

	err := l.repo.InTx(ctx, func(tx ports.Repository) error {
		open, err := tx.QueryOpenTrades(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ports.ErrOperational, err)
		}
		if l.cfg.MaxOpenTrades >= 0 && len(open) >= l.cfg.MaxOpenTrades {
			return fmt.Errorf("%w: max open trades (%d) reached", ports.ErrValidation, l.cfg.MaxOpenTrades)
		}
		for _, t := range open {
			if t.Pair == req.Pair {
				return fmt.Errorf("%w: pair %s already has open trade %d", ports.ErrValidation, req.Pair, t.ID)
			}
		}
		if err := tx.SaveTrade(ctx, trade); err != nil {
			return fmt.Errorf("%w: %w", ports.ErrOperational, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	l.logger.Info(ctx, op+": trade opened", map[string]interface{}{
		"tradeID":  trade.ID,
		"pair":     trade.Pair,
		"side":     trade.Direction(),
		"amount":   trade.Amount.String(),
		"openRate": trade.OpenRate.String(),
	})
	return trade, nil
}

func validateTradeRequest(req *TradeRequest) error {
	if req.Pair == "" {
		return fmt.Errorf("pair is empty")
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("amount %s must be positive", req.Amount)
	}
	if !req.OpenRate.IsPositive() {
		return fmt.Errorf("open rate %s must be positive", req.OpenRate)
	}
	if req.Leverage.IsZero() {
		req.Leverage = money.One
	}
	if req.Leverage.LessThan(money.One) {
		return fmt.Errorf("leverage %s must be at least 1", req.Leverage)
	}
	if req.TradingMode == "" {
		req.TradingMode = domain.TradingModeSpot
	}
	if req.TradingMode == domain.TradingModeMargin && req.InterestRate == nil {
		return fmt.Errorf("margin trade on %s requires an interest rate", req.Pair)
	}
	if req.IsShort && req.TradingMode == domain.TradingModeSpot {
		return fmt.Errorf("short trades are not possible in spot mode")
	}
	if req.StopLoss.IsNegative() {
		return fmt.Errorf("stoploss %s must not be negative", req.StopLoss)
	}
	return nil
}

// RecordOrder attaches a new order to an open trade. Any quantity the exchange
// already executed is applied as the first fill in the same transaction.
func (l *Ledger) RecordOrder(ctx context.Context, tradeID int64, req OrderRequest) (*domain.Order, error) {
	op := "RecordOrder"
	status := req.Status
	if status == "" {
		status = domain.OrderStatusCreated
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("%s failed: %w: unknown order status %q", op, ports.ErrValidation, status)
	}
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("%s failed: %w: quantity %s must be positive", op, ports.ErrValidation, req.Quantity)
	}
	if req.ExecutedQuantity.IsNegative() || req.ExecutedQuantity.GreaterThan(req.Quantity) {
		return nil, fmt.Errorf("%s failed: %w: executed %s outside [0, %s]", op, ports.ErrValidation, req.ExecutedQuantity, req.Quantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	at := req.Time
	if at.IsZero() {
		at = l.now()
	}
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	var order *domain.Order
	err := l.repo.InTx(ctx, func(tx ports.Repository) error {
		trade, err := loadOpenTrade(ctx, tx, tradeID)
		if err != nil {
			return err
		}
		if req.Side != trade.EntrySide() && req.Side != trade.ExitSide() {
			return fmt.Errorf("%w: unknown order side %q", ports.ErrValidation, req.Side)
		}
		if req.Side == trade.ExitSide() {
			if free := trade.ExitableAmount(); req.Quantity.GreaterThan(free) {
				return fmt.Errorf("%w: exit %s exceeds exitable amount %s of trade %d", ports.ErrValidation, req.Quantity, free, trade.ID)
			}
		}

		order = &domain.Order{
			TradeID:       trade.ID,
			OrderID:       req.OrderID,
			ClientOrderID: clientID,
			Side:          req.Side,
			Type:          req.Type,
			Symbol:        trade.Pair,
			Quantity:      req.Quantity,
			LimitPrice:    req.LimitPrice,
			StopPrice:     req.StopPrice,
			Status:        status,
			CreatedTime:   at,
			IsOpen:        !status.IsTerminal(),
		}
		trade.Orders = append(trade.Orders, order)

		if req.Side == trade.ExitSide() && req.ExitReason != "" {
			trade.ExitReason = req.ExitReason
		}
		var fill *domain.Fill
		if req.ExecutedQuantity.IsPositive() {
			if !req.ExecutedPrice.IsPositive() {
				return fmt.Errorf("%w: executed price %s must be positive", ports.ErrValidation, req.ExecutedPrice)
			}
			fill = &domain.Fill{Quantity: req.ExecutedQuantity, Price: req.ExecutedPrice, Time: at}
			if err := order.AddFill(*fill); err != nil {
				return fmt.Errorf("%w: %w", ports.ErrValidation, err)
			}
		}
		return settle(ctx, tx, trade, order, fill, at)
	})
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	l.logger.Debug(ctx, op+": order recorded", map[string]interface{}{
		"tradeID":  tradeID,
		"orderID":  order.ID,
		"exchange": order.OrderID,
		"side":     order.Side,
		"status":   order.Status,
	})
	return order, nil
}

// ApplyFill records an execution of qty at price on the order and updates the trade.
// The returned trade reflects the state after the fill.
func (l *Ledger) ApplyFill(ctx context.Context, orderID int64, qty, price money.Decimal, at time.Time) (*domain.Trade, error) {
	op := "ApplyFill"
	if !qty.IsPositive() || !price.IsPositive() {
		return nil, fmt.Errorf("%s failed: %w: fill %s @ %s", op, ports.ErrValidation, qty, price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if at.IsZero() {
		at = l.now()
	}

	var trade *domain.Trade
	err := l.repo.InTx(ctx, func(tx ports.Repository) error {
		var order *domain.Order
		var err error
		trade, order, err = loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !trade.IsOpen {
			return fmt.Errorf("%w: trade %d is closed", ports.ErrInvalidState, trade.ID)
		}
		if qty.GreaterThan(order.RemainingQuantity()) {
			return fmt.Errorf("%w: fill %s exceeds remaining %s of order %d", ports.ErrValidation, qty, order.RemainingQuantity(), order.ID)
		}
		if order.Side == trade.ExitSide() {
			held := trade.EntryFilledAmount().Sub(trade.ExitFilledAmount())
			if qty.GreaterThan(held) {
				return fmt.Errorf("%w: exit fill %s exceeds position %s of trade %d", ports.ErrValidation, qty, held, trade.ID)
			}
		}

		next := domain.OrderStatusPartiallyFilled
		if qty.Equal(order.RemainingQuantity()) {
			next = domain.OrderStatusFilled
		}
		if err := advance(order, next); err != nil {
			return fmt.Errorf("%w: %w", ports.ErrInvalidState, err)
		}
		fill := domain.Fill{Quantity: qty, Price: price, Time: at}
		if err := order.AddFill(fill); err != nil {
			return fmt.Errorf("%w: %w", ports.ErrValidation, err)
		}
		return settle(ctx, tx, trade, order, &fill, at)
	})
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	l.logger.Debug(ctx, op+": fill applied", map[string]interface{}{
		"tradeID": trade.ID,
		"orderID": orderID,
		"qty":     qty.String(),
		"price":   price.String(),
		"isOpen":  trade.IsOpen,
	})
	return trade, nil
}

// ApplyOrderStatus reconciles a status change that carries no execution:
// acknowledgement, cancel, reject, expiry or error. Reporting the current status
// again is a no-op.
func (l *Ledger) ApplyOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus, reason string) (*domain.Trade, error) {
	op := "ApplyOrderStatus"
	if status == domain.OrderStatusPartiallyFilled || status == domain.OrderStatusFilled {
		return nil, fmt.Errorf("%s failed: %w: %s requires a fill", op, ports.ErrValidation, status)
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("%s failed: %w: unknown order status %q", op, ports.ErrValidation, status)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var trade *domain.Trade
	err := l.repo.InTx(ctx, func(tx ports.Repository) error {
		var order *domain.Order
		var err error
		trade, order, err = loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status == status {
			return nil
		}
		if err := advance(order, status); err != nil {
			return fmt.Errorf("%w: %w", ports.ErrInvalidState, err)
		}
		if reason != "" {
			order.Reason = reason
		}
		return settle(ctx, tx, trade, order, nil, l.now())
	})
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	l.logger.Debug(ctx, op+": order status applied", map[string]interface{}{
		"tradeID": trade.ID,
		"orderID": orderID,
		"status":  status,
		"reason":  reason,
	})
	return trade, nil
}

// CloseTrade closes a trade without an exchange execution, valuing whatever is
// still held at rate. It refuses while any order of the trade is open.
func (l *Ledger) CloseTrade(ctx context.Context, tradeID int64, reason domain.ExitReason, rate money.Decimal) (*domain.Trade, error) {
	op := "CloseTrade"
	l.mu.Lock()
	defer l.mu.Unlock()

	var trade *domain.Trade
	err := l.repo.InTx(ctx, func(tx ports.Repository) error {
		var err error
		trade, err = loadOpenTrade(ctx, tx, tradeID)
		if err != nil {
			return err
		}
		if open := trade.OpenOrders(); len(open) > 0 {
			return fmt.Errorf("%w: trade %d has %d open orders", ports.ErrInvalidState, trade.ID, len(open))
		}
		at := l.now()
		remaining := trade.RemainingAmount()
		if remaining.IsPositive() {
			if !rate.IsPositive() {
				return fmt.Errorf("%w: close rate %s must be positive", ports.ErrValidation, rate)
			}
			trade.RealizedProfit = trade.RealizedProfit.Add(profit.ChunkProfit(trade, remaining, rate, at))
		}
		finalize(trade)
		if err := trade.MarkClosed(rate, at, reason); err != nil {
			return fmt.Errorf("%w: %w", ports.ErrInvalidState, err)
		}
		return saveTrade(ctx, tx, trade)
	})
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	l.logger.Info(ctx, op+": trade closed", map[string]interface{}{
		"tradeID":   trade.ID,
		"pair":      trade.Pair,
		"reason":    reason,
		"profitAbs": trade.CloseProfitAbs.String(),
	})
	return trade, nil
}

// UpdateTrade applies fn to an open trade and saves the result in one transaction.
// fn may change valuation fields (rates, stops); orders are not saved.
func (l *Ledger) UpdateTrade(ctx context.Context, tradeID int64, fn func(*domain.Trade) error) (*domain.Trade, error) {
	op := "UpdateTrade"
	l.mu.Lock()
	defer l.mu.Unlock()

	var trade *domain.Trade
	err := l.repo.InTx(ctx, func(tx ports.Repository) error {
		var err error
		trade, err = loadOpenTrade(ctx, tx, tradeID)
		if err != nil {
			return err
		}
		if err := fn(trade); err != nil {
			return err
		}
		if trade.ID != tradeID {
			return fmt.Errorf("%w: trade id changed from %d to %d", ports.ErrInvalidState, tradeID, trade.ID)
		}
		return saveTrade(ctx, tx, trade)
	})
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	return trade, nil
}

// settle recomputes the trade after a change to order and persists both.
// fill is the execution just added to order, if any.
func settle(ctx context.Context, tx ports.Repository, trade *domain.Trade, order *domain.Order, fill *domain.Fill, at time.Time) error {
	if order.Side == trade.EntrySide() {
		if err := applyEntry(trade, at); err != nil {
			return err
		}
	}
	if order.Side == trade.ExitSide() {
		if err := applyExit(trade, order, fill, at); err != nil {
			return err
		}
	}

	if err := tx.SaveOrder(ctx, order); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrOperational, err)
	}
	return saveTrade(ctx, tx, trade)
}

// applyEntry keeps Amount, OpenRate and OpenTradeValue equal to what the entry
// fills say. An entry that ends without any fill closes the trade empty.
func applyEntry(trade *domain.Trade, at time.Time) error {
	filled := trade.EntryFilledAmount()
	if filled.IsPositive() {
		avg, _ := trade.AverageFillPrice(trade.EntrySide())
		trade.Amount = filled
		trade.OpenRate = avg
		trade.OpenTradeValue = profit.OpenTradeValue(filled, avg, trade.FeeOpen, trade.IsShort)
		if !trade.IsStopLossTrailing && trade.InitialStopLossPct.IsNegative() {
			stop, err := profit.InitialStopLoss(avg, trade.InitialStopLossPct.Neg(), trade.Leverage, trade.IsShort)
			if err != nil {
				return fmt.Errorf("%w: %w", ports.ErrArithmetic, err)
			}
			trade.StopLoss = stop
			trade.InitialStopLoss = stop
		}
		return nil
	}
	if trade.HasOpenOrderOnSide(trade.EntrySide()) {
		return nil
	}

	trade.Amount = money.Zero
	trade.OpenTradeValue = money.Zero
	if err := trade.MarkClosed(trade.OpenRate, at, domain.ExitReasonEntryCanceled); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrInvalidState, err)
	}
	return nil
}

// applyExit books the profit of fill and closes the trade once the exits offset
// the whole position.
func applyExit(trade *domain.Trade, order *domain.Order, fill *domain.Fill, at time.Time) error {
	if fill != nil {
		trade.RealizedProfit = trade.RealizedProfit.Add(profit.ChunkProfit(trade, fill.Quantity, fill.Price, fill.Time))
	}
	if order.Status.IsTerminal() && !order.HasExecution() && trade.IsOpen {
		// an exit that went nowhere frees the trade for a new exit reason
		if !trade.HasOpenOrderOnSide(trade.ExitSide()) {
			trade.ExitReason = ""
		}
	}
	if !trade.IsOpen || trade.RemainingAmount().IsPositive() || trade.HasOpenOrderOnSide(trade.EntrySide()) {
		return nil
	}
	if !trade.ExitFilledAmount().IsPositive() {
		return nil
	}

	closeRate, _ := trade.AverageFillPrice(trade.ExitSide())
	finalize(trade)
	if err := trade.MarkClosed(closeRate, at, ""); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrInvalidState, err)
	}
	if trade.ExitReason == "" {
		trade.ExitReason = domain.ExitReasonExitSignal
	}
	return nil
}

// finalize copies realized profit into the closing fields.
func finalize(trade *domain.Trade) {
	trade.CloseProfitAbs = trade.RealizedProfit
	lev := trade.Leverage
	if !lev.IsPositive() {
		lev = money.One
	}
	committed, err := trade.OpenTradeValue.Div(lev)
	if err != nil {
		trade.CloseProfit = money.Zero
		return
	}
	ratio, err := trade.RealizedProfit.Div(committed)
	if err != nil {
		trade.CloseProfit = money.Zero
		return
	}
	trade.CloseProfit = ratio
}

// advance moves order to status, passing through PENDING when the order was
// never acknowledged.
func advance(order *domain.Order, status domain.OrderStatus) error {
	if order.Status == domain.OrderStatusCreated && status == domain.OrderStatusPartiallyFilled {
		if err := order.Transition(domain.OrderStatusPending); err != nil {
			return err
		}
	}
	if order.Status == domain.OrderStatusPartiallyFilled && status == domain.OrderStatusPartiallyFilled {
		return nil
	}
	return order.Transition(status)
}

func loadOpenTrade(ctx context.Context, tx ports.Repository, tradeID int64) (*domain.Trade, error) {
	trade, err := tx.QueryTradeByID(ctx, tradeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrOperational, err)
	}
	if trade == nil {
		return nil, fmt.Errorf("%w: trade %d", ports.ErrNotFound, tradeID)
	}
	if !trade.IsOpen {
		return nil, fmt.Errorf("%w: trade %d is closed", ports.ErrInvalidState, tradeID)
	}
	return trade, nil
}

func loadOrder(ctx context.Context, tx ports.Repository, orderID int64) (*domain.Trade, *domain.Order, error) {
	stored, err := tx.QueryOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ports.ErrOperational, err)
	}
	if stored == nil {
		return nil, nil, fmt.Errorf("%w: order %d", ports.ErrNotFound, orderID)
	}
	trade, err := tx.QueryTradeByID(ctx, stored.TradeID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ports.ErrOperational, err)
	}
	if trade == nil {
		return nil, nil, fmt.Errorf("%w: trade %d of order %d", ports.ErrNotFound, stored.TradeID, orderID)
	}
	order := trade.OrderByID(orderID)
	if order == nil {
		return nil, nil, fmt.Errorf("%w: order %d missing from trade %d", ports.ErrInvalidState, orderID, trade.ID)
	}
	return trade, order, nil
}

func saveTrade(ctx context.Context, tx ports.Repository, trade *domain.Trade) error {
	if err := trade.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrInvalidState, err)
	}
	if err := tx.SaveTrade(ctx, trade); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrOperational, err)
	}
	return nil
}
