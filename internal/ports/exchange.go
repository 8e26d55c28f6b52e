package ports

import (
	"context"
	"time"

	"tradePilot/internal/domain"
	"tradePilot/internal/money"
)

// OrderRequest describes an order to submit to the exchange.
type OrderRequest struct {
	Pair          string
	Side          domain.OrderSide
	Type          domain.OrderType
	Quantity      money.Decimal
	Price         money.Decimal // limit price, zero for market orders
	StopPrice     money.Decimal
	ClientOrderID string
	ReduceOnly    bool
}

// OrderResponse represents the essential details returned by the exchange for an order.
type OrderResponse struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          domain.OrderSide
	Type          domain.OrderType
	Status        domain.OrderStatus
	Price         money.Decimal
	AvgPrice      money.Decimal // average filled price
	OrigQuantity  money.Decimal
	ExecutedQty   money.Decimal
	Fee           money.Decimal // fee rate applied, zero when unknown
	Timestamp     time.Time
}

// OrderUpdate is an asynchronous order event pushed by the exchange.
// FillQty/FillPrice describe only the execution carried by this event.
type OrderUpdate struct {
	OrderID   string
	Status    domain.OrderStatus
	FillQty   money.Decimal
	FillPrice money.Decimal
	Time      time.Time
	Reason    string
}

// ExchangeClient is the exchange collaborator consumed by the core.
// Implementations own timeouts, retries and rate limiting; failures are
// returned wrapped in ErrPricing or ErrExchange.
type ExchangeClient interface {
	// GetRate returns the price the given side would trade at.
	GetRate(ctx context.Context, pair string, side domain.PriceSide, isShort bool) (money.Decimal, error)

	// PlaceOrder submits an order and returns its handle.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)

	// CancelOrder cancels an open order by its exchange id.
	CancelOrder(ctx context.Context, pair, orderID string) (*OrderResponse, error)

	// GetBalances returns the account's per-currency balances.
	GetBalances(ctx context.Context) ([]domain.Wallet, error)
}

// OrderUpdateSource is implemented by exchanges that push order events.
type OrderUpdateSource interface {
	SubscribeOrderUpdates(handler func(OrderUpdate))
}

// CandleSource provides historical candles to strategies.
type CandleSource interface {
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error)
}
