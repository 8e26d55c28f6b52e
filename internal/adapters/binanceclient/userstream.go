package binanceclient

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"tradePilot/internal/domain"
	"tradePilot/internal/ports"
)

const listenKeyKeepalive = 30 * time.Minute

// Binance event keys differ only in case ("x"/"X", "l"/"L").
var json = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	CaseSensitive:          true,
}.Froze()

// SubscribeOrderUpdates registers handler for order events from the user data
// stream. Events are delivered once RunUserStream is running.
func (c *Client) SubscribeOrderUpdates(handler func(ports.OrderUpdate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

func (c *Client) dispatch(upd ports.OrderUpdate) {
	c.mu.RLock()
	handlers := append([]func(ports.OrderUpdate){}, c.handlers...)
	c.mu.RUnlock()
	for _, h := range handlers {
		h(upd)
	}
}

// RunUserStream keeps the user data stream connected until ctx is canceled,
// reconnecting with exponential backoff. It returns an error once the
// reconnect attempts are exhausted.
func (c *Client) RunUserStream(ctx context.Context) error {
	op := "RunUserStream"
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			c.logger.Info(ctx, op+": Context cancelled, stopping user stream.")
			return nil
		default:
		}

		c.logger.Info(ctx, op+": Attempting WebSocket connection...", map[string]interface{}{"attempt": attempt + 1})
		err := c.serveUserStream(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			// the connection was up: start counting again
			attempt = 0
			c.logger.Warn(ctx, op+": WebSocket connection closed unexpectedly. Reconnecting...")
			continue
		}

		attempt++
		if attempt >= c.maxReconnectAttempts {
			c.logger.Error(ctx, err, op+": Max reconnection attempts exceeded, giving up.", map[string]interface{}{"maxAttempts": c.maxReconnectAttempts})
			return fmt.Errorf("%s failed: %w: %w", op, ports.ErrConnectionFailed, err)
		}
		delay := c.reconnectDelay * time.Duration(1<<uint(attempt-1))
		c.logger.Info(ctx, op+": Connection failed, retrying...", map[string]interface{}{"attempt": attempt + 1, "delay": delay.String(), "error": err.Error()})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

// serveUserStream runs one connection. It returns nil when an established
// connection dropped and an error when it could not be established.
func (c *Client) serveUserStream(ctx context.Context) error {
	op := "ServeUserStream"
	reqCtx, cancel, err := c.begin(ctx, op, ports.ErrExchange)
	if err != nil {
		return err
	}
	listenKey, err := c.futuresClient.NewStartUserStreamService().Do(reqCtx)
	cancel()
	if err != nil {
		return c.handleError(ctx, err, op, ports.ErrExchange)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.streamURL+"/"+listenKey, nil)
	if err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrConnectionFailed, err)
	}
	c.logger.Info(ctx, op+": WebSocket connection established.")

	connCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()
	go c.keepAlive(connCtx, listenKey)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn(ctx, op+": Read failed", map[string]interface{}{"error": err.Error()})
			}
			return nil
		}
		upd, ok, err := parseOrderUpdate(msg)
		if err != nil {
			c.logger.Warn(ctx, op+": Unparsable user stream event", map[string]interface{}{"error": err.Error()})
			continue
		}
		if ok {
			c.dispatch(upd)
		}
	}
}

func (c *Client) keepAlive(ctx context.Context, listenKey string) {
	op := "KeepAliveUserStream"
	ticker := time.NewTicker(listenKeyKeepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reqCtx, cancel, err := c.begin(ctx, op, ports.ErrExchange)
			if err != nil {
				return
			}
			err = c.futuresClient.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(reqCtx)
			cancel()
			if err != nil {
				c.logger.Warn(ctx, op+": Keepalive failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

type orderTradeUpdate struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol        string `json:"s"`
		ClientOrderID string `json:"c"`
		Side          string `json:"S"`
		ExecutionType string `json:"x"`
		Status        string `json:"X"`
		OrderID       int64  `json:"i"`
		LastQty       string `json:"l"`
		LastPrice     string `json:"L"`
		CumQty        string `json:"z"`
		CumQuote      string `json:"Z"`
		TradeTime     int64  `json:"T"`
	} `json:"o"`
}

// parseOrderUpdate decodes an ORDER_TRADE_UPDATE event. It reports false for
// other events and for acknowledgements that carry nothing to apply.
func parseOrderUpdate(msg []byte) (ports.OrderUpdate, bool, error) {
	var ev orderTradeUpdate
	if err := json.Unmarshal(msg, &ev); err != nil {
		return ports.OrderUpdate{}, false, fmt.Errorf("decode user stream event: %w", err)
	}
	if ev.Event != "ORDER_TRADE_UPDATE" {
		return ports.OrderUpdate{}, false, nil
	}

	o := ev.Order
	at := unixMilli(o.TradeTime)
	if at.IsZero() {
		at = unixMilli(ev.EventTime)
	}
	upd := ports.OrderUpdate{
		OrderID: strconv.FormatInt(o.OrderID, 10),
		Status:  mapStatus(o.Status),
		Time:    at,
	}

	switch strings.ToUpper(o.ExecutionType) {
	case "TRADE":
		upd.FillQty = decimalOrZero(o.LastQty)
		upd.FillPrice = decimalOrZero(o.LastPrice)
		if !upd.FillPrice.IsPositive() {
			// fall back to the cumulative average
			cumQty := decimalOrZero(o.CumQty)
			if avg, err := decimalOrZero(o.CumQuote).Div(cumQty); err == nil {
				upd.FillPrice = avg
			}
		}
		if !upd.FillQty.IsPositive() || !upd.FillPrice.IsPositive() {
			return ports.OrderUpdate{}, false, fmt.Errorf("trade event for order %d without execution", o.OrderID)
		}
	case "CANCELED", "EXPIRED", "REJECTED":
		upd.Reason = strings.ToLower(o.ExecutionType)
		if upd.Status == domain.OrderStatusPending {
			upd.Status = domain.OrderStatusCanceled
		}
	default:
		// NEW and AMENDMENT only acknowledge what PlaceOrder already reported
		return ports.OrderUpdate{}, false, nil
	}
	return upd, true, nil
}
