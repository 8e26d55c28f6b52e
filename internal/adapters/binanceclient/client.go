package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"tradePilot/internal/domain"
	"tradePilot/internal/money"
	"tradePilot/internal/ports"
)

const (
	// Base URLs
	baseURLProduction   = "https://fapi.binance.com"
	baseURLTestnet      = "https://testnet.binancefuture.com"
	streamURLProduction = "wss://fstream.binance.com/ws"
	streamURLTestnet    = "wss://stream.binancefuture.com/ws"
)

// Client implements ports.ExchangeClient, ports.CandleSource and
// ports.OrderUpdateSource on the Binance USDT-M futures API.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	limiter              *rate.Limiter
	timeout              time.Duration
	streamURL            string
	reconnectDelay       time.Duration
	maxReconnectAttempts int

	mu       sync.RWMutex
	handlers []func(ports.OrderUpdate)
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	// BaseURL and StreamURL override the production/testnet endpoints.
	BaseURL   string
	StreamURL string
	Logger    ports.Logger
	// RequestsPerSecond throttles REST calls. Zero means 10.
	RequestsPerSecond    float64
	Timeout              time.Duration // per request, default 10s
	ReconnectDelay       time.Duration // Reconnect delay (e.g., 1 * time.Second)
	MaxReconnectAttempts int           // Max attempts before giving up
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("binance client: logger is required: %w", ports.ErrConfigurationError)
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	streamURL := streamURLProduction
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		streamURL = streamURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	if cfg.StreamURL != "" {
		streamURL = cfg.StreamURL
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL, "testnet": cfg.UseTestnet})

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		limiter:              rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		timeout:              timeout,
		streamURL:            streamURL,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
	}, nil
}

// begin waits for a request slot and bounds the request by the client timeout.
func (c *Client) begin(ctx context.Context, op string, class error) (context.Context, context.CancelFunc, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("%s failed: %w: %w: %w", op, class, ports.ErrRateLimited, err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	return reqCtx, cancel, nil
}

// handleError translates Binance API and transport errors into ports errors.
// class is ErrPricing for rate lookups and ErrExchange for everything else.
func (c *Client) handleError(ctx context.Context, err error, operation string, class error) error {
	if err == nil {
		return nil
	}
	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message
		mapped := mapAPIError(apiErr.Code)
		c.logger.Error(ctx, err, operation+" failed with API error", fields)
		return fmt.Errorf("%s failed: %w: %w: %w", operation, class, mapped, err)
	}

	var mapped error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		mapped = ports.ErrTimeout
	case errors.Is(err, context.Canceled):
		mapped = ports.ErrContextCanceled
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		mapped = ports.ErrConnectionFailed
	default:
		mapped = ports.ErrUnknown
	}
	c.logger.Error(ctx, err, operation+" failed", fields)
	return fmt.Errorf("%s failed: %w: %w: %w", operation, class, mapped, err)
}

func mapAPIError(code int64) error {
	switch code {
	case -1001, -1007, -1008, -1016: // Internal error, backend timeout, overloaded, maintenance
		return ports.ErrExchangeUnavailable
	case -1003: // Too many requests
		return ports.ErrRateLimited
	case -1021: // Timestamp for this request is outside of the recvWindow
		return ports.ErrTimeout
	case -1022: // Signature for this request is not valid
		return ports.ErrAuthenticationFailed
	case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130:
		return ports.ErrInvalidRequest
	case -2010: // New order rejected
		return ports.ErrOrderPlacementFailed
	case -2011: // Cancel order rejected
		return ports.ErrOrderCancelFailed
	case -2013: // Order does not exist
		return ports.ErrOrderNotFound
	case -2014, -2015: // Invalid API-key, IP, or permissions for action
		return ports.ErrInvalidAPIKeys
	case -2019, -3005, -3041, -4047: // Margin or balance insufficient
		return ports.ErrInsufficientFunds
	case -2022: // ReduceOnly Order is rejected
		return ports.ErrOrderPlacementFailed
	case -4003, -4014, -4015: // Qty, price or leverage out of range
		return ports.ErrInvalidRequest
	default:
		return ports.ErrUnknown
	}
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	ctx, cancel, err := c.begin(ctx, op, ports.ErrExchange)
	if err != nil {
		return err
	}
	defer cancel()
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op, ports.ErrExchange)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// SetLeverage sets the leverage for a specific symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	ctx, cancel, err := c.begin(ctx, op, ports.ErrExchange)
	if err != nil {
		return err
	}
	defer cancel()
	_, err = c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op, ports.ErrExchange)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// GetRate returns the best book price the given side would trade at: the ask
// when buying, the bid when selling.
func (c *Client) GetRate(ctx context.Context, pair string, side domain.PriceSide, isShort bool) (money.Decimal, error) {
	op := "GetRate"
	ctx, cancel, err := c.begin(ctx, op, ports.ErrPricing)
	if err != nil {
		return money.Zero, err
	}
	defer cancel()

	tickers, err := c.futuresClient.NewListBookTickersService().Symbol(pair).Do(ctx)
	if err != nil {
		return money.Zero, c.handleError(ctx, err, op, ports.ErrPricing)
	}
	if len(tickers) == 0 {
		return money.Zero, fmt.Errorf("%s failed: %w: no book ticker for %s", op, ports.ErrPricing, pair)
	}

	buying := (side == domain.PriceSideEntry) != isShort
	raw := tickers[0].BidPrice
	if buying {
		raw = tickers[0].AskPrice
	}
	price, err := money.Parse(raw)
	if err != nil || !price.IsPositive() {
		return money.Zero, fmt.Errorf("%s failed: %w: unusable price %q for %s", op, ports.ErrPricing, raw, pair)
	}
	return price, nil
}

// PlaceOrder submits an order and asks for the full result so market orders
// come back with their execution.
func (c *Client) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	op := "PlaceOrder"
	ctx, cancel, err := c.begin(ctx, op, ports.ErrExchange)
	if err != nil {
		return nil, err
	}
	defer cancel()

	c.logger.Info(ctx, op+": Attempting to place order", map[string]interface{}{
		"symbol":   req.Pair,
		"side":     req.Side,
		"type":     req.Type,
		"quantity": req.Quantity.String(),
	})
	svc := c.futuresClient.NewCreateOrderService().
		Symbol(req.Pair).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		Quantity(req.Quantity.String()).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	if req.Type == domain.OrderTypeLimit || req.Type == domain.OrderTypeStopLimit {
		svc = svc.Price(req.Price.String()).TimeInForce(futures.TimeInForceTypeGTC)
	}
	if req.StopPrice.IsPositive() {
		svc = svc.StopPrice(req.StopPrice.String())
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op, ports.ErrExchange)
	}
	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":   req.Pair,
		"orderID":  resp.OrderID,
		"status":   resp.Status,
		"executed": resp.ExecutedQty.String(),
		"avgPrice": resp.AvgPrice.String(),
	})
	return resp, nil
}

// CancelOrder cancels an open order and reports the order as the exchange has it
// afterwards, including any quantity executed before the cancel.
func (c *Client) CancelOrder(ctx context.Context, pair, orderID string) (*ports.OrderResponse, error) {
	op := "CancelOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w: order id %q", op, ports.ErrExchange, ports.ErrInvalidRequest, orderID)
	}
	ctx, cancel, err := c.begin(ctx, op, ports.ErrExchange)
	if err != nil {
		return nil, err
	}
	defer cancel()

	c.logger.Debug(ctx, op+": Attempting to cancel order", map[string]interface{}{"symbol": pair, "orderID": orderID})
	res, err := c.futuresClient.NewCancelOrderService().
		Symbol(pair).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op, ports.ErrExchange)
	}

	// The cancel response has no average price, the order query has
	final, qErr := c.futuresClient.NewGetOrderService().Symbol(pair).OrderID(id).Do(ctx)
	if qErr != nil {
		c.logger.Warn(ctx, op+": Order query after cancel failed, reporting cancel response", map[string]interface{}{"orderID": orderID, "error": qErr.Error()})
		return &ports.OrderResponse{
			OrderID:       strconv.FormatInt(res.OrderID, 10),
			ClientOrderID: res.ClientOrderID,
			Symbol:        res.Symbol,
			Side:          domain.OrderSide(res.Side),
			Type:          domain.OrderType(res.Type),
			Status:        mapStatus(string(res.Status)),
			Price:         decimalOrZero(res.Price),
			OrigQuantity:  decimalOrZero(res.OrigQuantity),
		}, nil
	}
	resp := translateOrder(final)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": pair, "orderID": orderID, "status": resp.Status, "executed": resp.ExecutedQty.String()})
	return resp, nil
}

// GetBalances returns the futures wallet balances.
func (c *Client) GetBalances(ctx context.Context) ([]domain.Wallet, error) {
	op := "GetBalances"
	ctx, cancel, err := c.begin(ctx, op, ports.ErrExchange)
	if err != nil {
		return nil, err
	}
	defer cancel()

	balances, err := c.futuresClient.NewGetBalanceService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op, ports.ErrExchange)
	}
	out := make([]domain.Wallet, 0, len(balances))
	for _, b := range balances {
		total := decimalOrZero(b.Balance)
		free := decimalOrZero(b.AvailableBalance)
		out = append(out, domain.Wallet{
			Currency: b.Asset,
			Free:     free,
			Used:     money.Max(total.Sub(free), money.Zero),
			Total:    total,
		})
	}
	return out, nil
}

// GetKlines retrieves historical klines/candlestick data for the given symbol.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	ctx, cancel, err := c.begin(ctx, op, ports.ErrPricing)
	if err != nil {
		return nil, err
	}
	defer cancel()

	binanceKlines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op, ports.ErrPricing)
	}
	now := time.Now()
	domainKlines := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, err := translateBinanceKline(bk, symbol, interval, now)
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrPricing, err)
		}
		domainKlines = append(domainKlines, dk)
	}
	return domainKlines, nil
}

// GetKlinesRange fetches all klines for a symbol/interval between start and end time.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	op := "GetKlinesRange"
	var allKlines []*domain.Kline
	const maxLimit = 1500
	from := start

	for {
		reqCtx, cancel, err := c.begin(ctx, op, ports.ErrPricing)
		if err != nil {
			return nil, err
		}
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxLimit).
			Do(reqCtx)
		cancel()
		if err != nil {
			return nil, c.handleError(ctx, err, op, ports.ErrPricing)
		}
		if len(klines) == 0 {
			break
		}
		now := time.Now()
		for _, bk := range klines {
			dk, err := translateBinanceKline(bk, symbol, interval, now)
			if err != nil {
				return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrPricing, err)
			}
			allKlines = append(allKlines, dk)
		}
		from = time.UnixMilli(klines[len(klines)-1].CloseTime)
		if from.After(end) || len(klines) < maxLimit {
			break
		}
	}
	return allKlines, nil
}

// --- Translation Helpers ---

func decimalOrZero(s string) money.Decimal {
	d, err := money.Parse(s)
	if err != nil {
		return money.Zero
	}
	return d
}

// mapStatus converts a Binance order status to the domain status.
func mapStatus(s string) domain.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return domain.OrderStatusPending
	case "PARTIALLY_FILLED":
		return domain.OrderStatusPartiallyFilled
	case "FILLED", "NEW_INSURANCE", "NEW_ADL":
		return domain.OrderStatusFilled
	case "CANCELED":
		return domain.OrderStatusCanceled
	case "REJECTED":
		return domain.OrderStatusRejected
	case "EXPIRED":
		return domain.OrderStatusExpired
	default:
		return domain.OrderStatusPending
	}
}

func unixMilli(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func translateOrderResponse(order *futures.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	return &ports.OrderResponse{
		OrderID:       strconv.FormatInt(order.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          domain.OrderSide(order.Side),
		Type:          domain.OrderType(order.Type),
		Status:        mapStatus(string(order.Status)),
		Price:         decimalOrZero(order.Price),
		AvgPrice:      decimalOrZero(order.AvgPrice),
		OrigQuantity:  decimalOrZero(order.OrigQuantity),
		ExecutedQty:   decimalOrZero(order.ExecutedQuantity),
		Timestamp:     unixMilli(order.UpdateTime),
	}
}

func translateOrder(order *futures.Order) *ports.OrderResponse {
	return &ports.OrderResponse{
		OrderID:       strconv.FormatInt(order.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          domain.OrderSide(order.Side),
		Type:          domain.OrderType(order.Type),
		Status:        mapStatus(string(order.Status)),
		Price:         decimalOrZero(order.Price),
		AvgPrice:      decimalOrZero(order.AvgPrice),
		OrigQuantity:  decimalOrZero(order.OrigQuantity),
		ExecutedQty:   decimalOrZero(order.ExecutedQuantity),
		Timestamp:     unixMilli(order.UpdateTime),
	}
}

func translateBinanceKline(bk *futures.Kline, symbol, interval string, now time.Time) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	k := &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}
	k.IsFinal = !k.CloseTime.After(now)
	if err := k.Validate(); err != nil {
		return nil, err
	}
	return k, nil
}
