package ledger

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradePilot/internal/adapters/memory"
	"tradePilot/internal/domain"
	"tradePilot/internal/money"
	"tradePilot/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

var (
	d       = money.MustParse
	testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newTestLedger(t *testing.T, maxOpenTrades int) *Ledger {
	t.Helper()
	l, err := New(Config{
		Repository:    memory.NewRepository(&mockLogger{}),
		Logger:        &mockLogger{},
		Exchange:      "binance",
		StakeCurrency: "USDT",
		MaxOpenTrades: maxOpenTrades,
		StorageMode:   domain.StorageInMemory,
		Clock:         func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return l
}

func longRequest(pair string, amount, rate string) TradeRequest {
	return TradeRequest{
		Pair:     pair,
		Amount:   d(amount),
		OpenRate: d(rate),
		OpenDate: testNow.Add(-time.Hour),
	}
}

func assertDecimal(t *testing.T, want string, got money.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Truef(t, got.Equal(d(want)), "want %s, got %s %v", want, got, msgAndArgs)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = New(Config{Repository: memory.NewRepository(nil)})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestCreateTrade_RejectsInvalidRequests(t *testing.T) {
	rate := d("0.0005")
	tests := []struct {
		name   string
		mutate func(*TradeRequest)
	}{
		{"zero amount", func(r *TradeRequest) { r.Amount = money.Zero }},
		{"negative amount", func(r *TradeRequest) { r.Amount = d("-1") }},
		{"zero open rate", func(r *TradeRequest) { r.OpenRate = money.Zero }},
		{"empty pair", func(r *TradeRequest) { r.Pair = "" }},
		{"leverage below one", func(r *TradeRequest) { r.Leverage = d("0.5") }},
		{"margin without interest", func(r *TradeRequest) { r.TradingMode = domain.TradingModeMargin }},
		{"short on spot", func(r *TradeRequest) { r.IsShort = true }},
		{"negative stoploss", func(r *TradeRequest) { r.StopLoss = d("-0.1") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t, 3)
			req := longRequest("ETHUSDT", "1", "100")
			tt.mutate(&req)

			trade, err := l.CreateTrade(context.Background(), req)
			assert.ErrorIs(t, err, ports.ErrValidation)
			assert.Nil(t, trade)
		})
	}

	t.Run("margin with interest", func(t *testing.T) {
		l := newTestLedger(t, 3)
		req := longRequest("ETHUSDT", "1", "100")
		req.TradingMode = domain.TradingModeMargin
		req.InterestRate = &rate
		_, err := l.CreateTrade(context.Background(), req)
		assert.NoError(t, err)
	})
}

func TestCreateTrade_MaxOpenTradesAndDuplicatePair(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 2)

	first, err := l.CreateTrade(ctx, longRequest("ETHUSDT", "1", "100"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, domain.StorageInMemory, first.StorageMode)
	assertDecimal(t, "100", first.OpenTradeValue)

	_, err = l.CreateTrade(ctx, longRequest("ETHUSDT", "2", "100"))
	assert.ErrorIs(t, err, ports.ErrValidation, "pair already has an open trade")

	_, err = l.CreateTrade(ctx, longRequest("BTCUSDT", "1", "100"))
	require.NoError(t, err)

	_, err = l.CreateTrade(ctx, longRequest("XRPUSDT", "1", "100"))
	assert.ErrorIs(t, err, ports.ErrValidation, "max open trades reached")

	open, err := l.OpenTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestCreateTrade_InitialStopLoss(t *testing.T) {
	l := newTestLedger(t, 1)
	req := longRequest("ETHUSDT", "1", "100")
	req.StopLoss = d("0.1")

	trade, err := l.CreateTrade(context.Background(), req)
	require.NoError(t, err)
	assertDecimal(t, "90", trade.StopLoss)
	assertDecimal(t, "90", trade.InitialStopLoss)
	assertDecimal(t, "-0.1", trade.InitialStopLossPct)
	assert.False(t, trade.IsStopLossTrailing)
}

func TestApplyFill_AmountIsSumOfEntryFills(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 1)
	req := longRequest("ETHUSDT", "3", "100")
	req.StopLoss = d("0.1")
	trade, err := l.CreateTrade(ctx, req)
	require.NoError(t, err)

	order, err := l.RecordOrder(ctx, trade.ID, OrderRequest{
		OrderID:  "ex-1",
		Side:     domain.Buy,
		Type:     domain.OrderTypeMarket,
		Quantity: d("3"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCreated, order.Status)
	assert.NotEmpty(t, order.ClientOrderID, "client order id is generated")

	trade, err = l.ApplyFill(ctx, order.ID, d("1"), d("100"), testNow)
	require.NoError(t, err)
	assertDecimal(t, "1", trade.Amount)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, trade.OrderByID(order.ID).Status)

	trade, err = l.ApplyFill(ctx, order.ID, d("2"), d("103"), testNow.Add(time.Second))
	require.NoError(t, err)
	assertDecimal(t, "3", trade.Amount)
	assertDecimal(t, "102", trade.OpenRate)
	assertDecimal(t, "306", trade.OpenTradeValue)
	assertDecimal(t, "91.8", trade.StopLoss, "stop follows the filled open rate")
	assert.True(t, trade.Amount.Equal(trade.EntryFilledAmount()))
	assert.Equal(t, domain.OrderStatusFilled, trade.OrderByID(order.ID).Status)
	assert.False(t, trade.OrderByID(order.ID).IsOpen)

	stored, err := l.Trade(ctx, trade.ID)
	require.NoError(t, err)
	assertDecimal(t, "3", stored.Amount)
	require.Len(t, stored.Orders, 1)
	assert.Len(t, stored.Orders[0].Fills, 2)
}

// openFilledLong opens a 2 @ 50 long whose entry order filled completely.
func openFilledLong(t *testing.T, l *Ledger) *domain.Trade {
	t.Helper()
	ctx := context.Background()
	trade, err := l.CreateTrade(ctx, longRequest("BTCUSDT", "2", "50"))
	require.NoError(t, err)

	entry, err := l.RecordOrder(ctx, trade.ID, OrderRequest{
		OrderID:          "entry-1",
		Side:             domain.Buy,
		Type:             domain.OrderTypeMarket,
		Quantity:         d("2"),
		Status:           domain.OrderStatusFilled,
		ExecutedQuantity: d("2"),
		ExecutedPrice:    d("50"),
	})
	require.NoError(t, err)
	assert.Len(t, entry.Fills, 1)

	trade, err = l.Trade(ctx, trade.ID)
	require.NoError(t, err)
	assertDecimal(t, "2", trade.Amount)
	return trade
}

func TestApplyFill_PartialThenFullExitClosesTrade(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 1)
	trade := openFilledLong(t, l)

	exit, err := l.RecordOrder(ctx, trade.ID, OrderRequest{
		OrderID:    "exit-1",
		Side:       domain.Sell,
		Type:       domain.OrderTypeMarket,
		Quantity:   d("2"),
		Status:     domain.OrderStatusPending,
		ExitReason: domain.ExitReasonROI,
	})
	require.NoError(t, err)

	trade, err = l.ApplyFill(ctx, exit.ID, d("1"), d("60"), testNow)
	require.NoError(t, err)
	assert.True(t, trade.IsOpen)
	assertDecimal(t, "10", trade.RealizedProfit)
	assertDecimal(t, "1", trade.RemainingAmount())

	trade, err = l.ApplyFill(ctx, exit.ID, d("1"), d("60"), testNow)
	require.NoError(t, err)
	assert.False(t, trade.IsOpen)
	require.NotNil(t, trade.CloseDate)
	assert.Equal(t, testNow, *trade.CloseDate)
	assertDecimal(t, "60", trade.CloseRate)
	assertDecimal(t, "20", trade.CloseProfitAbs)
	assertDecimal(t, "0.2", trade.CloseProfit)
	assert.Equal(t, domain.ExitReasonROI, trade.ExitReason)
	require.NoError(t, trade.Validate())

	open, err := l.OpenTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestApplyFill_RejectsOverfillAndUnknownOrder(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 1)
	trade := openFilledLong(t, l)

	exit, err := l.RecordOrder(ctx, trade.ID, OrderRequest{Side: domain.Sell, Type: domain.OrderTypeMarket, Quantity: d("2")})
	require.NoError(t, err)

	_, err = l.ApplyFill(ctx, exit.ID, d("3"), d("60"), testNow)
	assert.ErrorIs(t, err, ports.ErrValidation)

	_, err = l.ApplyFill(ctx, 999, d("1"), d("60"), testNow)
	assert.ErrorIs(t, err, ports.ErrNotFound)

	_, err = l.ApplyFill(ctx, exit.ID, money.Zero, d("60"), testNow)
	assert.ErrorIs(t, err, ports.ErrValidation)

	// nothing was applied
	stored, err := l.Trade(ctx, trade.ID)
	require.NoError(t, err)
	assert.True(t, stored.ExitFilledAmount().IsZero())
	assert.True(t, stored.RealizedProfit.IsZero())
}

func TestRecordOrder_RejectsExitBeyondPosition(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 1)
	trade := openFilledLong(t, l)

	_, err := l.RecordOrder(ctx, trade.ID, OrderRequest{
		OrderID:          "exit-big",
		Side:             domain.Sell,
		Type:             domain.OrderTypeMarket,
		Quantity:         d("5"),
		Status:           domain.OrderStatusFilled,
		ExecutedQuantity: d("5"),
		ExecutedPrice:    d("60"),
	})
	assert.ErrorIs(t, err, ports.ErrValidation)

	// a working exit reserves its quantity
	_, err = l.RecordOrder(ctx, trade.ID, OrderRequest{Side: domain.Sell, Type: domain.OrderTypeLimit, Quantity: d("1.5"), LimitPrice: d("70")})
	require.NoError(t, err)
	_, err = l.RecordOrder(ctx, trade.ID, OrderRequest{Side: domain.Sell, Type: domain.OrderTypeMarket, Quantity: d("1")})
	assert.ErrorIs(t, err, ports.ErrValidation)
	_, err = l.RecordOrder(ctx, trade.ID, OrderRequest{Side: domain.Sell, Type: domain.OrderTypeMarket, Quantity: d("0.5")})
	assert.NoError(t, err)

	stored, err := l.Trade(ctx, trade.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsOpen)
	assert.True(t, stored.ExitFilledAmount().IsZero())
	assert.True(t, stored.RealizedProfit.IsZero())
	assertDecimal(t, "2", stored.Amount)
	assert.True(t, stored.ExitableAmount().IsZero())
}

func TestRecordOrder_RejectsExitBeforeEntryFill(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 1)
	trade, err := l.CreateTrade(ctx, longRequest("ETHUSDT", "1", "100"))
	require.NoError(t, err)
	assertDecimal(t, "1", trade.Amount, "requested amount until the first entry fill")
	assert.True(t, trade.EntryFilledAmount().IsZero())

	_, err = l.RecordOrder(ctx, trade.ID, OrderRequest{Side: domain.Buy, Type: domain.OrderTypeLimit, Quantity: d("1"), LimitPrice: d("100")})
	require.NoError(t, err)
	_, err = l.RecordOrder(ctx, trade.ID, OrderRequest{Side: domain.Sell, Type: domain.OrderTypeMarket, Quantity: d("1")})
	assert.ErrorIs(t, err, ports.ErrValidation, "nothing is held yet")
}

func TestApplyFill_RejectsExitFillBeyondPosition(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 1)
	trade := openFilledLong(t, l)

	// an oversized exit that reached storage without RecordOrder
	exit := &domain.Order{
		TradeID:     trade.ID,
		OrderID:     "exit-stored",
		Side:        domain.Sell,
		Type:        domain.OrderTypeMarket,
		Symbol:      trade.Pair,
		Quantity:    d("5"),
		Status:      domain.OrderStatusPending,
		IsOpen:      true,
		CreatedTime: testNow,
	}
	require.NoError(t, l.repo.SaveOrder(ctx, exit))

	_, err := l.ApplyFill(ctx, exit.ID, d("5"), d("60"), testNow)
	assert.ErrorIs(t, err, ports.ErrValidation)

	stored, err := l.Trade(ctx, trade.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsOpen)
	assert.True(t, stored.RealizedProfit.IsZero())

	trade, err = l.ApplyFill(ctx, exit.ID, d("2"), d("60"), testNow)
	require.NoError(t, err)
	assert.False(t, trade.IsOpen)
	assertDecimal(t, "20", trade.CloseProfitAbs)
}

func TestApplyOrderStatus_TerminalOrderRejectsTransition(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 1)
	trade := openFilledLong(t, l)
	entryID := trade.Orders[0].ID

	_, err := l.ApplyOrderStatus(ctx, entryID, domain.OrderStatusCanceled, "late cancel")
	require.Error(t, err)
	assert.True(t, ports.IsInvalidState(err))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = l.ApplyOrderStatus(ctx, entryID, domain.OrderStatusFilled, "")
	assert.ErrorIs(t, err, ports.ErrValidation, "fill statuses need a fill")
}

func TestApplyOrderStatus_UnfilledEntryClosesTrade(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 1)
	trade, err := l.CreateTrade(ctx, longRequest("ETHUSDT", "1", "100"))
	require.NoError(t, err)

	order, err := l.RecordOrder(ctx, trade.ID, OrderRequest{Side: domain.Buy, Type: domain.OrderTypeLimit, Quantity: d("1"), LimitPrice: d("100")})
	require.NoError(t, err)

	trade, err = l.ApplyOrderStatus(ctx, order.ID, domain.OrderStatusPending, "")
	require.NoError(t, err)
	assert.True(t, trade.IsOpen)

	trade, err = l.ApplyOrderStatus(ctx, order.ID, domain.OrderStatusCanceled, "unfilled timeout")
	require.NoError(t, err)
	assert.False(t, trade.IsOpen)
	assert.True(t, trade.Amount.IsZero())
	assert.Equal(t, domain.ExitReasonEntryCanceled, trade.ExitReason)
	assert.Equal(t, "unfilled timeout", trade.OrderByID(order.ID).Reason)
	require.NoError(t, trade.Validate())

	// the pair is free again
	_, err = l.CreateTrade(ctx, longRequest("ETHUSDT", "1", "100"))
	assert.NoError(t, err)
}

func TestCloseTrade(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 1)
	trade := openFilledLong(t, l)

	exit, err := l.RecordOrder(ctx, trade.ID, OrderRequest{
		Side:       domain.Sell,
		Type:       domain.OrderTypeLimit,
		Quantity:   d("2"),
		LimitPrice: d("70"),
		ExitReason: domain.ExitReasonExitSignal,
	})
	require.NoError(t, err)

	_, err = l.CloseTrade(ctx, trade.ID, domain.ExitReasonForceExit, d("55"))
	assert.ErrorIs(t, err, ports.ErrInvalidState, "open exit order blocks closing")

	trade, err = l.ApplyOrderStatus(ctx, exit.ID, domain.OrderStatusCanceled, "")
	require.NoError(t, err)
	assert.True(t, trade.IsOpen)
	assert.Empty(t, trade.ExitReason, "canceled exit releases its reason")

	trade, err = l.CloseTrade(ctx, trade.ID, domain.ExitReasonForceExit, d("55"))
	require.NoError(t, err)
	assert.False(t, trade.IsOpen)
	assertDecimal(t, "10", trade.CloseProfitAbs)
	assertDecimal(t, "0.1", trade.CloseProfit)
	assertDecimal(t, "55", trade.CloseRate)
	assert.Equal(t, domain.ExitReasonForceExit, trade.ExitReason)

	_, err = l.CloseTrade(ctx, trade.ID, domain.ExitReasonForceExit, d("55"))
	assert.ErrorIs(t, err, ports.ErrInvalidState)

	_, err = l.CloseTrade(ctx, 404, domain.ExitReasonForceExit, d("55"))
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestUpdateTrade(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 1)
	trade := openFilledLong(t, l)

	updated, err := l.UpdateTrade(ctx, trade.ID, func(tr *domain.Trade) error {
		tr.AdjustMinMaxRates(d("58"))
		return nil
	})
	require.NoError(t, err)
	assertDecimal(t, "58", updated.MaxRate)

	boom := errors.New("boom")
	_, err = l.UpdateTrade(ctx, trade.ID, func(tr *domain.Trade) error {
		tr.MaxRate = d("99")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := l.Trade(ctx, trade.ID)
	require.NoError(t, err)
	assertDecimal(t, "58", stored.MaxRate, "failed update is rolled back")
}

func TestTradesMatching(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 5)
	for _, pair := range []string{"ETHUSDT", "BTCUSDT", "SOLUSDT"} {
		_, err := l.CreateTrade(ctx, longRequest(pair, "1", "100"))
		require.NoError(t, err)
	}

	got, err := l.TradesMatching(ctx, ports.TradeFilter{}, func(tr *domain.Trade) bool { return tr.Pair != "BTCUSDT" })
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ETHUSDT", got[0].Pair)
	assert.Equal(t, "SOLUSDT", got[1].Pair)

	got, err = l.TradesMatching(ctx, ports.TradeFilter{Pair: "BTCUSDT"}, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 1)
	trade := openFilledLong(t, l)

	var buf bytes.Buffer
	n, err := l.Export(ctx, &buf, ports.TradeFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, buf.String(), `"amount": "2"`)

	decoded, err := DecodeTrades(&buf)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	got := decoded[0]
	assert.Equal(t, trade.ID, got.ID)
	assert.Equal(t, trade.Pair, got.Pair)
	assert.True(t, trade.Amount.Equal(got.Amount))
	assert.True(t, trade.OpenTradeValue.Equal(got.OpenTradeValue))
	assert.True(t, trade.OpenDate.Equal(got.OpenDate))
	require.Len(t, got.Orders, 1)
	assert.True(t, got.Orders[0].ExecutedPrice.Equal(d("50")))

	_, err = DecodeTrades(bytes.NewBufferString(`{"version": 9, "trades": []}`))
	assert.ErrorIs(t, err, ports.ErrValidation)
}
