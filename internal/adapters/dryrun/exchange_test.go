package dryrun

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradePilot/internal/domain"
	"tradePilot/internal/money"
	"tradePilot/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type stubRates struct {
	mu    sync.Mutex
	rates map[string]money.Decimal
	err   error
}

func (s *stubRates) set(pair, rate string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[pair] = money.MustParse(rate)
}

func (s *stubRates) GetRate(ctx context.Context, pair string, side domain.PriceSide, isShort bool) (money.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return money.Zero, s.err
	}
	r, ok := s.rates[pair]
	if !ok {
		return money.Zero, ports.ErrPricing
	}
	return r, nil
}

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newExchange(t *testing.T, mutate func(*Config)) (*Exchange, *stubRates) {
	t.Helper()
	rates := &stubRates{rates: map[string]money.Decimal{"ETHUSDT": money.MustParse("50")}}
	cfg := Config{
		Rates:         rates,
		Logger:        nopLogger{},
		StakeCurrency: "USDT",
		Wallet:        money.MustParse("1000"),
		FeeRate:       money.MustParse("0.001"),
		Clock:         func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ex, err := New(cfg)
	require.NoError(t, err)
	return ex, rates
}

func assertDecimal(t *testing.T, want string, got money.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, got.Equal(money.MustParse(want)), append([]interface{}{"want %s got %s", want, got.String()}, msgAndArgs...)...)
}

func balanceOf(t *testing.T, ex *Exchange, currency string) domain.Wallet {
	t.Helper()
	balances, err := ex.GetBalances(context.Background())
	require.NoError(t, err)
	for _, w := range balances {
		if w.Currency == currency {
			return w
		}
	}
	return domain.Wallet{Currency: currency, Free: money.Zero, Used: money.Zero, Total: money.Zero}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing rates", func(c *Config) { c.Rates = nil }},
		{"missing logger", func(c *Config) { c.Logger = nil }},
		{"missing stake currency", func(c *Config) { c.StakeCurrency = "" }},
		{"negative wallet", func(c *Config) { c.Wallet = money.MustParse("-1") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Rates: &stubRates{}, Logger: nopLogger{}, StakeCurrency: "USDT", Wallet: money.MustParse("10")}
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, ports.ErrConfigurationError)
		})
	}
}

func TestPlaceOrder_MarketRoundTrip(t *testing.T) {
	ex, rates := newExchange(t, nil)
	ctx := context.Background()

	resp, err := ex.PlaceOrder(ctx, ports.OrderRequest{
		Pair: "ETHUSDT", Side: domain.Buy, Type: domain.OrderTypeMarket,
		Quantity: money.MustParse("2"), ClientOrderID: "c-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "dry-1", resp.OrderID)
	assert.Equal(t, "c-1", resp.ClientOrderID)
	assert.Equal(t, domain.OrderStatusFilled, resp.Status)
	assertDecimal(t, "2", resp.ExecutedQty)
	assertDecimal(t, "50", resp.AvgPrice)
	assert.Equal(t, testNow, resp.Timestamp)

	assertDecimal(t, "899.9", balanceOf(t, ex, "USDT").Free, "cost plus fee")
	assertDecimal(t, "2", balanceOf(t, ex, "ETH").Free)

	rates.set("ETHUSDT", "55")
	resp, err = ex.PlaceOrder(ctx, ports.OrderRequest{
		Pair: "ETHUSDT", Side: domain.Sell, Type: domain.OrderTypeMarket, Quantity: money.MustParse("2"),
	})
	require.NoError(t, err)
	assert.Equal(t, "dry-2", resp.OrderID)
	assertDecimal(t, "55", resp.AvgPrice)

	assertDecimal(t, "1009.79", balanceOf(t, ex, "USDT").Free, "proceeds minus fee")
	balances, err := ex.GetBalances(ctx)
	require.NoError(t, err)
	require.Len(t, balances, 1, "emptied currencies are omitted")
	assert.Equal(t, "USDT", balances[0].Currency)
}

func TestPlaceOrder_Slippage(t *testing.T) {
	ex, _ := newExchange(t, func(c *Config) {
		c.SlippageBps = money.MustParse("10")
		c.FeeRate = money.Zero
	})
	ctx := context.Background()

	buy, err := ex.PlaceOrder(ctx, ports.OrderRequest{Pair: "ETHUSDT", Side: domain.Buy, Type: domain.OrderTypeMarket, Quantity: money.One})
	require.NoError(t, err)
	assertDecimal(t, "50.05", buy.AvgPrice)

	sell, err := ex.PlaceOrder(ctx, ports.OrderRequest{Pair: "ETHUSDT", Side: domain.Sell, Type: domain.OrderTypeMarket, Quantity: money.One})
	require.NoError(t, err)
	assertDecimal(t, "49.95", sell.AvgPrice)
}

func TestPlaceOrder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		req     ports.OrderRequest
		rateErr error
		wantErr error
	}{
		{
			name:    "insufficient funds",
			req:     ports.OrderRequest{Pair: "ETHUSDT", Side: domain.Buy, Type: domain.OrderTypeMarket, Quantity: money.MustParse("100")},
			wantErr: ports.ErrInsufficientFunds,
		},
		{
			name:    "zero quantity",
			req:     ports.OrderRequest{Pair: "ETHUSDT", Side: domain.Buy, Type: domain.OrderTypeMarket, Quantity: money.Zero},
			wantErr: ports.ErrInvalidRequest,
		},
		{
			name:    "limit without price",
			req:     ports.OrderRequest{Pair: "ETHUSDT", Side: domain.Buy, Type: domain.OrderTypeLimit, Quantity: money.One},
			wantErr: ports.ErrInvalidRequest,
		},
		{
			name:    "unknown side",
			req:     ports.OrderRequest{Pair: "ETHUSDT", Side: domain.OrderSide("HOLD"), Type: domain.OrderTypeMarket, Quantity: money.One},
			wantErr: ports.ErrInvalidRequest,
		},
		{
			name:    "rate unavailable",
			req:     ports.OrderRequest{Pair: "ETHUSDT", Side: domain.Buy, Type: domain.OrderTypeMarket, Quantity: money.One},
			rateErr: ports.ErrPricing,
			wantErr: ports.ErrPricing,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, rates := newExchange(t, nil)
			rates.err = tt.rateErr
			_, err := ex.PlaceOrder(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ports.ErrExchange)
			assert.ErrorIs(t, err, tt.wantErr)
			assertDecimal(t, "1000", balanceOf(t, ex, "USDT").Free, "wallet untouched")
		})
	}
}

func TestLimitOrder_RestsAndCancels(t *testing.T) {
	ex, _ := newExchange(t, nil)
	ctx := context.Background()

	resp, err := ex.PlaceOrder(ctx, ports.OrderRequest{
		Pair: "ETHUSDT", Side: domain.Buy, Type: domain.OrderTypeLimit,
		Quantity: money.MustParse("2"), Price: money.MustParse("45"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, resp.Status)
	assert.True(t, resp.ExecutedQty.IsZero())

	usdt := balanceOf(t, ex, "USDT")
	assertDecimal(t, "909.91", usdt.Free)
	assertDecimal(t, "90.09", usdt.Used)
	assertDecimal(t, "1000", usdt.Total)

	canceled, err := ex.CancelOrder(ctx, "ETHUSDT", resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, canceled.Status)
	usdt = balanceOf(t, ex, "USDT")
	assertDecimal(t, "1000", usdt.Free, "reserve released")
	assertDecimal(t, "0", usdt.Used)

	again, err := ex.CancelOrder(ctx, "ETHUSDT", resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, again.Status)
	assertDecimal(t, "1000", balanceOf(t, ex, "USDT").Free, "second cancel releases nothing")
}

func TestLimitOrder_MarketableFillsAtLimit(t *testing.T) {
	ex, _ := newExchange(t, func(c *Config) { c.FeeRate = money.Zero })

	resp, err := ex.PlaceOrder(context.Background(), ports.OrderRequest{
		Pair: "ETHUSDT", Side: domain.Buy, Type: domain.OrderTypeLimit,
		Quantity: money.One, Price: money.MustParse("52"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, resp.Status)
	assertDecimal(t, "52", resp.AvgPrice)
	assertDecimal(t, "948", balanceOf(t, ex, "USDT").Free)
}

func TestPoll_FillsRestingOrders(t *testing.T) {
	ex, rates := newExchange(t, nil)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		updates []ports.OrderUpdate
	)
	ex.SubscribeOrderUpdates(func(u ports.OrderUpdate) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, u)
	})

	resp, err := ex.PlaceOrder(ctx, ports.OrderRequest{
		Pair: "ETHUSDT", Side: domain.Buy, Type: domain.OrderTypeLimit,
		Quantity: money.MustParse("2"), Price: money.MustParse("45"),
	})
	require.NoError(t, err)

	n, err := ex.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "limit above the market keeps resting")

	rates.set("ETHUSDT", "44")
	n, err = ex.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mu.Lock()
	require.Len(t, updates, 1)
	upd := updates[0]
	mu.Unlock()
	assert.Equal(t, resp.OrderID, upd.OrderID)
	assert.Equal(t, domain.OrderStatusFilled, upd.Status)
	assertDecimal(t, "2", upd.FillQty)
	assertDecimal(t, "45", upd.FillPrice)
	assert.Equal(t, testNow, upd.Time)

	usdt := balanceOf(t, ex, "USDT")
	assertDecimal(t, "909.91", usdt.Free)
	assertDecimal(t, "0", usdt.Used)
	assertDecimal(t, "2", balanceOf(t, ex, "ETH").Free)

	n, err = ex.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "filled orders are not refilled")

	filled, err := ex.CancelOrder(ctx, "ETHUSDT", resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, filled.Status, "cancel after fill reports the fill")
}

func TestPoll_RateErrors(t *testing.T) {
	ex, rates := newExchange(t, nil)
	ctx := context.Background()
	_, err := ex.PlaceOrder(ctx, ports.OrderRequest{
		Pair: "ETHUSDT", Side: domain.Sell, Type: domain.OrderTypeLimit,
		Quantity: money.One, Price: money.MustParse("60"),
	})
	require.NoError(t, err)

	rates.err = errors.New("feed down")
	n, err := ex.Poll(ctx)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ports.ErrPricing)
}

func TestCancelOrder_Unknown(t *testing.T) {
	ex, _ := newExchange(t, nil)
	_, err := ex.CancelOrder(context.Background(), "ETHUSDT", "dry-99")
	assert.ErrorIs(t, err, ports.ErrOrderNotFound)
	assert.ErrorIs(t, err, ports.ErrExchange)
}
