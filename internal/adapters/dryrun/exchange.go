package dryrun

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradePilot/internal/domain"
	"tradePilot/internal/money"
	"tradePilot/internal/ports"
)

var bpsDivisor = money.NewFromInt(10000)

// RateSource quotes prices. The live exchange client satisfies it.
type RateSource interface {
	GetRate(ctx context.Context, pair string, side domain.PriceSide, isShort bool) (money.Decimal, error)
}

// Config holds the simulation settings.
type Config struct {
	Rates         RateSource
	Logger        ports.Logger
	StakeCurrency string
	// Wallet is the starting stake currency balance.
	Wallet money.Decimal
	// FeeRate is charged on every fill's notional, e.g. 0.001.
	FeeRate money.Decimal
	// SlippageBps moves market fills against the order by this many basis points.
	SlippageBps money.Decimal
	Clock       func() time.Time
}

type simOrder struct {
	resp    ports.OrderResponse
	reserve money.Decimal // stake held for an open limit buy
}

// Exchange simulates order execution against live rates. Market orders fill
// immediately at the quoted rate. Limit orders fill when marketable, either on
// placement or on a later Poll.
type Exchange struct {
	cfg    Config
	now    func() time.Time
	mu     sync.Mutex
	nextID int64
	// balances holds the free amount per currency.
	balances map[string]money.Decimal
	used     map[string]money.Decimal
	orders   map[string]*simOrder

	handlersMu sync.RWMutex
	handlers   []func(ports.OrderUpdate)
}

// New creates a simulated exchange funded with cfg.Wallet.
func New(cfg Config) (*Exchange, error) {
	if cfg.Rates == nil {
		return nil, fmt.Errorf("dryrun: rate source is required: %w", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("dryrun: logger is required: %w", ports.ErrConfigurationError)
	}
	if cfg.StakeCurrency == "" {
		return nil, fmt.Errorf("dryrun: stake currency is required: %w", ports.ErrConfigurationError)
	}
	if cfg.Wallet.IsNegative() {
		return nil, fmt.Errorf("dryrun: wallet cannot be negative: %w", ports.ErrConfigurationError)
	}
	now := cfg.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Exchange{
		cfg:      cfg,
		now:      now,
		balances: map[string]money.Decimal{cfg.StakeCurrency: cfg.Wallet},
		used:     map[string]money.Decimal{},
		orders:   map[string]*simOrder{},
	}, nil
}

// GetRate delegates to the live rate source.
func (e *Exchange) GetRate(ctx context.Context, pair string, side domain.PriceSide, isShort bool) (money.Decimal, error) {
	return e.cfg.Rates.GetRate(ctx, pair, side, isShort)
}

// SubscribeOrderUpdates registers handler for fills of resting limit orders.
func (e *Exchange) SubscribeOrderUpdates(handler func(ports.OrderUpdate)) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers = append(e.handlers, handler)
}

func (e *Exchange) dispatch(upd ports.OrderUpdate) {
	e.handlersMu.RLock()
	handlers := append([]func(ports.OrderUpdate){}, e.handlers...)
	e.handlersMu.RUnlock()
	for _, h := range handlers {
		h(upd)
	}
}

// marketRate quotes the side of the book the order trades against.
func (e *Exchange) marketRate(ctx context.Context, pair string, side domain.OrderSide) (money.Decimal, error) {
	if side == domain.Buy {
		return e.cfg.Rates.GetRate(ctx, pair, domain.PriceSideEntry, false)
	}
	return e.cfg.Rates.GetRate(ctx, pair, domain.PriceSideExit, false)
}

// PlaceOrder simulates the order and returns its state after placement.
func (e *Exchange) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	op := "DryRunPlaceOrder"
	if req.Pair == "" || !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("%s failed: %w: %w: pair and positive quantity required", op, ports.ErrExchange, ports.ErrInvalidRequest)
	}
	if req.Side != domain.Buy && req.Side != domain.Sell {
		return nil, fmt.Errorf("%s failed: %w: %w: unknown side %q", op, ports.ErrExchange, ports.ErrInvalidRequest, req.Side)
	}
	limit := req.Type == domain.OrderTypeLimit
	if limit && !req.Price.IsPositive() {
		return nil, fmt.Errorf("%s failed: %w: %w: limit order without price", op, ports.ErrExchange, ports.ErrInvalidRequest)
	}

	rate, err := e.marketRate(ctx, req.Pair, req.Side)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrExchange, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	resp := ports.OrderResponse{
		OrderID:       "dry-" + strconv.FormatInt(e.nextID, 10),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Pair,
		Side:          req.Side,
		Type:          req.Type,
		Status:        domain.OrderStatusPending,
		Price:         req.Price,
		OrigQuantity:  req.Quantity,
		ExecutedQty:   money.Zero,
		AvgPrice:      money.Zero,
		Fee:           e.cfg.FeeRate,
		Timestamp:     e.now(),
	}

	if limit && !marketable(req.Side, req.Price, rate) {
		order := &simOrder{resp: resp}
		if req.Side == domain.Buy {
			reserve := grossCost(req.Quantity, req.Price, e.cfg.FeeRate)
			if err := e.take(e.cfg.StakeCurrency, reserve); err != nil {
				return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrExchange, err)
			}
			e.used[e.cfg.StakeCurrency] = e.used[e.cfg.StakeCurrency].Add(reserve)
			order.reserve = reserve
		}
		e.orders[resp.OrderID] = order
		e.cfg.Logger.Info(ctx, op+": Limit order resting", map[string]interface{}{
			"orderID": resp.OrderID, "pair": req.Pair, "side": req.Side, "limit": req.Price.String(), "rate": rate.String(),
		})
		out := resp
		return &out, nil
	}

	price := req.Price
	if !limit {
		price = e.slip(req.Side, rate)
	}
	if err := e.settle(req.Pair, req.Side, req.Quantity, price, money.Zero); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrExchange, err)
	}
	resp.Status = domain.OrderStatusFilled
	resp.ExecutedQty = req.Quantity
	resp.AvgPrice = price
	e.orders[resp.OrderID] = &simOrder{resp: resp}

	e.cfg.Logger.Info(ctx, op+": Order filled", map[string]interface{}{
		"orderID": resp.OrderID, "pair": req.Pair, "side": req.Side, "quantity": req.Quantity.String(), "price": price.String(),
	})
	out := resp
	return &out, nil
}

// CancelOrder cancels a resting order. Filled orders are returned unchanged.
func (e *Exchange) CancelOrder(ctx context.Context, pair, orderID string) (*ports.OrderResponse, error) {
	op := "DryRunCancelOrder"
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok || order.resp.Symbol != pair {
		return nil, fmt.Errorf("%s failed: %w: %w: %s", op, ports.ErrExchange, ports.ErrOrderNotFound, orderID)
	}
	if order.resp.Status == domain.OrderStatusPending {
		e.release(order)
		order.resp.Status = domain.OrderStatusCanceled
		e.cfg.Logger.Info(ctx, op+": Order canceled", map[string]interface{}{"orderID": orderID, "pair": pair})
	}
	out := order.resp
	return &out, nil
}

// Poll fills resting limit orders that became marketable and pushes the fills
// to subscribers. It returns how many orders filled.
func (e *Exchange) Poll(ctx context.Context) (int, error) {
	op := "DryRunPoll"
	e.mu.Lock()
	pending := make([]*simOrder, 0)
	for _, o := range e.orders {
		if o.resp.Status == domain.OrderStatusPending {
			pending = append(pending, o)
		}
	}
	e.mu.Unlock()

	var updates []ports.OrderUpdate
	var firstErr error
	for _, o := range pending {
		rate, err := e.marketRate(ctx, o.resp.Symbol, o.resp.Side)
		if err != nil {
			e.cfg.Logger.Warn(ctx, op+": Rate unavailable", map[string]interface{}{"pair": o.resp.Symbol, "error": err.Error()})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !marketable(o.resp.Side, o.resp.Price, rate) {
			continue
		}

		e.mu.Lock()
		if o.resp.Status != domain.OrderStatusPending {
			e.mu.Unlock()
			continue
		}
		err = e.settle(o.resp.Symbol, o.resp.Side, o.resp.OrigQuantity, o.resp.Price, o.reserve)
		if err != nil {
			e.mu.Unlock()
			e.cfg.Logger.Warn(ctx, op+": Fill rejected", map[string]interface{}{"orderID": o.resp.OrderID, "error": err.Error()})
			continue
		}
		o.reserve = money.Zero
		o.resp.Status = domain.OrderStatusFilled
		o.resp.ExecutedQty = o.resp.OrigQuantity
		o.resp.AvgPrice = o.resp.Price
		updates = append(updates, ports.OrderUpdate{
			OrderID:   o.resp.OrderID,
			Status:    domain.OrderStatusFilled,
			FillQty:   o.resp.OrigQuantity,
			FillPrice: o.resp.Price,
			Time:      e.now(),
		})
		e.mu.Unlock()
	}

	for _, upd := range updates {
		e.dispatch(upd)
	}
	if firstErr != nil && len(updates) == 0 {
		return 0, fmt.Errorf("%s failed: %w: %w", op, ports.ErrPricing, firstErr)
	}
	return len(updates), nil
}

// Run polls resting orders every interval until ctx is canceled.
func (e *Exchange) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Poll(ctx); err != nil {
				e.cfg.Logger.Debug(ctx, "DryRunPoll: "+err.Error())
			}
		}
	}
}

// GetBalances returns the simulated wallet. Currencies with nothing free or
// held are omitted.
func (e *Exchange) GetBalances(_ context.Context) ([]domain.Wallet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Wallet, 0, len(e.balances))
	for cur, free := range e.balances {
		used := e.used[cur]
		if free.IsZero() && used.IsZero() {
			continue
		}
		out = append(out, domain.Wallet{Currency: cur, Free: free, Used: used, Total: free.Add(used)})
	}
	return out, nil
}

// settle books a fill against the wallet. reserve is stake already held for
// the order. Callers hold e.mu.
func (e *Exchange) settle(pair string, side domain.OrderSide, qty, price, reserve money.Decimal) error {
	base := e.baseCurrency(pair)
	notional := qty.Mul(price)
	fee := notional.Mul(e.cfg.FeeRate)

	if side == domain.Buy {
		cost := notional.Add(fee)
		if reserve.IsPositive() {
			e.used[e.cfg.StakeCurrency] = money.Max(e.used[e.cfg.StakeCurrency].Sub(reserve), money.Zero)
			e.balances[e.cfg.StakeCurrency] = e.balances[e.cfg.StakeCurrency].Add(reserve)
		}
		if err := e.take(e.cfg.StakeCurrency, cost); err != nil {
			return err
		}
		e.balances[base] = e.balances[base].Add(qty)
		return nil
	}

	// Selling more than held opens a short against the stake balance.
	held := e.balances[base]
	e.balances[base] = money.Max(held.Sub(qty), money.Zero)
	e.balances[e.cfg.StakeCurrency] = e.balances[e.cfg.StakeCurrency].Add(notional.Sub(fee))
	return nil
}

func (e *Exchange) take(currency string, amount money.Decimal) error {
	free := e.balances[currency]
	if free.LessThan(amount) {
		return fmt.Errorf("%w: need %s %s, have %s", ports.ErrInsufficientFunds, amount.String(), currency, free.String())
	}
	e.balances[currency] = free.Sub(amount)
	return nil
}

func (e *Exchange) release(order *simOrder) {
	if !order.reserve.IsPositive() {
		return
	}
	stake := e.cfg.StakeCurrency
	e.used[stake] = money.Max(e.used[stake].Sub(order.reserve), money.Zero)
	e.balances[stake] = e.balances[stake].Add(order.reserve)
	order.reserve = money.Zero
}

func (e *Exchange) slip(side domain.OrderSide, rate money.Decimal) money.Decimal {
	if !e.cfg.SlippageBps.IsPositive() {
		return rate
	}
	frac, err := e.cfg.SlippageBps.Div(bpsDivisor)
	if err != nil {
		return rate
	}
	if side == domain.Buy {
		return rate.Mul(money.One.Add(frac))
	}
	return rate.Mul(money.One.Sub(frac))
}

func (e *Exchange) baseCurrency(pair string) string {
	if base := strings.TrimSuffix(pair, e.cfg.StakeCurrency); base != pair && base != "" {
		return base
	}
	return pair
}

func marketable(side domain.OrderSide, limit, rate money.Decimal) bool {
	if side == domain.Buy {
		return rate.LessThanOrEqual(limit)
	}
	return rate.GreaterThanOrEqual(limit)
}

func grossCost(qty, price, feeRate money.Decimal) money.Decimal {
	notional := qty.Mul(price)
	return notional.Add(notional.Mul(feeRate))
}
