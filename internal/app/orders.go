package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tradePilot/internal/domain"
	"tradePilot/internal/ledger"
	"tradePilot/internal/money"
	"tradePilot/internal/ports"
)

// enterPosition asks the strategy about pair and opens a trade on an entry signal.
// It reports whether a trade was opened.
func (c *Controller) enterPosition(ctx context.Context, pair string, settings Settings, openCount int) (bool, error) {
	op := "EnterPosition"

	sig, err := c.strategy.EntrySignal(ctx, pair)
	if err != nil {
		return false, fmt.Errorf("%s failed: entry signal: %w", op, err)
	}
	if !sig.Enter {
		return false, nil
	}
	if sig.IsShort && settings.TradingMode == domain.TradingModeSpot {
		c.logger.Debug(ctx, op+": Short signal ignored in spot mode", map[string]interface{}{"pair": pair})
		return false, nil
	}

	stake, err := c.wallet.StakeAmount(openCount, settings.MaxOpenTrades)
	if err != nil {
		return false, fmt.Errorf("%s failed: %w", op, err)
	}
	rate, err := c.exchange.GetRate(ctx, pair, domain.PriceSideEntry, sig.IsShort)
	if err != nil {
		if ports.IsTransient(err) {
			PricingUnavailable.Inc()
		}
		return false, fmt.Errorf("%s failed: %w", op, err)
	}
	leverage := settings.Leverage
	if !leverage.IsPositive() {
		leverage = money.One
	}
	amount, err := stake.Mul(leverage).Div(rate)
	if err != nil {
		return false, fmt.Errorf("%s failed: amount for %s: %w", op, pair, err)
	}

	trade, err := c.ledger.CreateTrade(ctx, ledger.TradeRequest{
		Pair:         pair,
		BaseCurrency: baseCurrency(pair, settings.StakeCurrency),
		IsShort:      sig.IsShort,
		Amount:       amount,
		OpenRate:     rate,
		StakeAmount:  stake,
		FeeOpen:      settings.Fee,
		FeeClose:     settings.Fee,
		TradingMode:  settings.TradingMode,
		Leverage:     leverage,
		InterestRate: settings.InterestRate,
		StopLoss:     settings.Profit.StopLoss,
		EnterTag:     sig.Tag,
		Strategy:     c.strategy.Name(),
	})
	if err != nil {
		return false, fmt.Errorf("%s failed: %w", op, err)
	}

	c.logger.Info(ctx, op+": Attempting to place entry order", map[string]interface{}{
		"tradeID":  trade.ID,
		"pair":     pair,
		"side":     trade.EntrySide(),
		"quantity": amount.String(),
		"rate":     rate.String(),
	})
	req := ports.OrderRequest{
		Pair:          pair,
		Side:          trade.EntrySide(),
		Type:          domain.OrderTypeMarket,
		Quantity:      amount,
		ClientOrderID: uuid.NewString(),
	}
	resp, placeErr := c.exchange.PlaceOrder(ctx, req)
	if placeErr != nil {
		OrdersPlaced.WithLabelValues("entry", "error").Inc()
		c.logger.Error(ctx, placeErr, op+": Failed to place entry order", map[string]interface{}{"tradeID": trade.ID, "pair": pair})
		// The rejected attempt closes the trade as entry_canceled
		if _, err := c.ledger.RecordOrder(ctx, trade.ID, ledger.OrderRequest{
			ClientOrderID: req.ClientOrderID,
			Side:          req.Side,
			Type:          req.Type,
			Quantity:      req.Quantity,
			Status:        domain.OrderStatusRejected,
		}); err != nil {
			c.logger.Error(ctx, err, op+": Failed to record rejected entry", map[string]interface{}{"tradeID": trade.ID})
		}
		c.notify(domain.Message{Type: domain.MsgWarning, Pair: pair, TradeID: trade.ID, Status: "entry order failed: " + placeErr.Error()})
		return false, fmt.Errorf("%s failed: %w", op, placeErr)
	}
	OrdersPlaced.WithLabelValues("entry", "ok").Inc()

	c.notify(domain.Message{
		Type:    domain.MsgEntry,
		Pair:    pair,
		TradeID: trade.ID,
		Reason:  sig.Tag,
		Fields: map[string]interface{}{
			"direction": trade.Direction(),
			"amount":    amount.String(),
			"rate":      rate.String(),
			"stake":     stake.String(),
		},
	})
	if err := c.recordPlacement(ctx, trade.ID, req, resp, ""); err != nil {
		return true, fmt.Errorf("%s failed: %w", op, err)
	}
	return true, nil
}

// executeExit places a market exit for the remaining amount of trade.
// The caller holds exitMu.
func (c *Controller) executeExit(ctx context.Context, trade *domain.Trade, rate money.Decimal, reason domain.ExitReason, tag string) error {
	op := "ExecuteExit"
	qty := trade.ExitableAmount()
	if !qty.IsPositive() {
		return fmt.Errorf("%s failed: %w: trade %d has nothing left to exit", op, ports.ErrInvalidState, trade.ID)
	}

	c.logger.Info(ctx, op+": Attempting to place exit order", map[string]interface{}{
		"tradeID":  trade.ID,
		"pair":     trade.Pair,
		"side":     trade.ExitSide(),
		"quantity": qty.String(),
		"rate":     rate.String(),
		"reason":   reason,
	})
	req := ports.OrderRequest{
		Pair:          trade.Pair,
		Side:          trade.ExitSide(),
		Type:          domain.OrderTypeMarket,
		Quantity:      qty,
		ClientOrderID: uuid.NewString(),
		ReduceOnly:    trade.TradingMode == domain.TradingModeFutures,
	}
	resp, err := c.exchange.PlaceOrder(ctx, req)
	if err != nil {
		OrdersPlaced.WithLabelValues("exit", "error").Inc()
		c.notify(domain.Message{Type: domain.MsgWarning, Pair: trade.Pair, TradeID: trade.ID, Status: "exit order failed: " + err.Error()})
		return fmt.Errorf("%s failed: %w", op, err)
	}
	OrdersPlaced.WithLabelValues("exit", "ok").Inc()

	_, engine := c.current()
	result := engine.CalculateProfit(trade, rate)
	c.notify(domain.Message{
		Type:    domain.MsgExit,
		Pair:    trade.Pair,
		TradeID: trade.ID,
		Reason:  string(reason),
		Fields: map[string]interface{}{
			"amount":      qty.String(),
			"rate":        rate.String(),
			"profitAbs":   result.ProfitAbs.String(),
			"profitRatio": result.ProfitRatio.String(),
			"tag":         tag,
		},
	})
	return c.recordPlacement(ctx, trade.ID, req, resp, reason)
}

// recordPlacement stores an order the exchange accepted. When the ledger cannot
// take it the exchange order is left without a record, so it is canceled if
// still working and reported.
func (c *Controller) recordPlacement(ctx context.Context, tradeID int64, req ports.OrderRequest, resp *ports.OrderResponse, reason domain.ExitReason) error {
	op := "RecordPlacement"
	status := resp.Status
	if status == "" {
		status = domain.OrderStatusPending
	}
	executed := resp.ExecutedQty
	price := resp.AvgPrice
	if !executed.IsPositive() || !price.IsPositive() {
		executed, price = money.Zero, money.Zero
		// a fill status without the execution: the fill arrives as an update
		if status == domain.OrderStatusFilled || status == domain.OrderStatusPartiallyFilled {
			status = domain.OrderStatusPending
		}
	}
	at := resp.Timestamp
	if at.IsZero() {
		at = c.now()
	}

	order, err := c.ledger.RecordOrder(ctx, tradeID, ledger.OrderRequest{
		OrderID:          resp.OrderID,
		ClientOrderID:    req.ClientOrderID,
		Side:             req.Side,
		Type:             req.Type,
		Quantity:         req.Quantity,
		LimitPrice:       resp.Price,
		StopPrice:        req.StopPrice,
		Status:           status,
		ExecutedQuantity: executed,
		ExecutedPrice:    price,
		Time:             at,
		ExitReason:       reason,
	})
	if err != nil {
		c.logger.Error(ctx, err, op+": CRITICAL: exchange order not recorded", map[string]interface{}{
			"tradeID": tradeID,
			"orderID": resp.OrderID,
			"status":  status,
		})
		if !status.IsTerminal() {
			c.cancelOrderWarn(ctx, req.Pair, resp.OrderID, "unrecorded order")
		}
		c.notify(domain.Message{Type: domain.MsgException, Pair: req.Pair, TradeID: tradeID, Status: "order " + resp.OrderID + " not recorded: " + err.Error()})
		return fmt.Errorf("%s failed: %w", op, err)
	}

	trade, err := c.ledger.Trade(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	c.afterOrderChange(ctx, trade, order.ID, domain.OrderStatusCreated)
	return nil
}

// afterOrderChange sends the fill and cancel notifications for one order change
// and runs the close hooks when the change closed the trade.
func (c *Controller) afterOrderChange(ctx context.Context, trade *domain.Trade, orderID int64, prevStatus domain.OrderStatus) {
	if trade == nil {
		return
	}
	order := trade.OrderByID(orderID)
	if order == nil || order.Status == prevStatus {
		return
	}
	entry := order.Side == trade.EntrySide()

	switch {
	case order.IsFilled():
		c.refreshWallet(ctx)
		msgType := domain.MsgExitFill
		if entry {
			msgType = domain.MsgEntryFill
		}
		c.notify(domain.Message{
			Type:    msgType,
			Pair:    trade.Pair,
			TradeID: trade.ID,
			Fields: map[string]interface{}{
				"amount": order.ExecutedQuantity.String(),
				"price":  order.ExecutedPrice.String(),
			},
		})
	case order.Status.IsTerminal():
		msgType := domain.MsgExitCancel
		if entry {
			msgType = domain.MsgEntryCancel
		}
		c.notify(domain.Message{
			Type:    msgType,
			Pair:    trade.Pair,
			TradeID: trade.ID,
			Reason:  order.Reason,
			Status:  string(order.Status),
		})
	}

	if !trade.IsOpen {
		c.onTradeClosed(ctx, trade)
	}
}

// refreshWallet forces a balance refresh after executions changed the account.
func (c *Controller) refreshWallet(ctx context.Context) {
	if err := c.wallet.Update(ctx, true); err != nil {
		c.logger.Debug(ctx, "RefreshWallet: Keeping previous snapshot", map[string]interface{}{"error": err.Error()})
	}
}

// onTradeClosed records metrics and hands the trade to the protection policies.
func (c *Controller) onTradeClosed(ctx context.Context, trade *domain.Trade) {
	op := "TradeClosed"
	TradesClosed.WithLabelValues(string(trade.ExitReason)).Inc()
	c.logger.Info(ctx, op+": Trade closed", map[string]interface{}{
		"tradeID":     trade.ID,
		"pair":        trade.Pair,
		"reason":      trade.ExitReason,
		"closeRate":   trade.CloseRate.String(),
		"profitAbs":   trade.CloseProfitAbs.String(),
		"profitRatio": trade.CloseProfit.String(),
	})
	if trade.ExitReason == domain.ExitReasonEntryCanceled {
		return
	}
	if _, err := c.protection.HandleTradeClosed(ctx, trade); err != nil {
		c.logger.Error(ctx, err, op+": Protection evaluation failed", map[string]interface{}{"tradeID": trade.ID})
	}
}

// HandleOrderUpdate applies an asynchronous order event from the exchange.
func (c *Controller) HandleOrderUpdate(ctx context.Context, upd ports.OrderUpdate) error {
	op := "HandleOrderUpdate"
	order, err := c.ledger.OrderByExchangeID(ctx, upd.OrderID)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if order == nil {
		c.logger.Warn(ctx, op+": Update for unknown order", map[string]interface{}{"orderID": upd.OrderID, "status": upd.Status})
		return fmt.Errorf("%s failed: %w: exchange order %s", op, ports.ErrNotFound, upd.OrderID)
	}

	var trade *domain.Trade
	prev := order.Status
	if upd.FillQty.IsPositive() {
		trade, err = c.ledger.ApplyFill(ctx, order.ID, upd.FillQty, upd.FillPrice, upd.Time)
		if err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
		// a final status after the fill, e.g. the rest of the order was canceled
		if o := trade.OrderByID(order.ID); o != nil && !o.Status.IsTerminal() && isNoFillStatus(upd.Status) {
			trade, err = c.ledger.ApplyOrderStatus(ctx, order.ID, upd.Status, upd.Reason)
			if err != nil {
				return fmt.Errorf("%s failed: %w", op, err)
			}
		}
	} else {
		if !isNoFillStatus(upd.Status) {
			c.logger.Warn(ctx, op+": Fill status without quantity ignored", map[string]interface{}{"orderID": upd.OrderID, "status": upd.Status})
			return nil
		}
		trade, err = c.ledger.ApplyOrderStatus(ctx, order.ID, upd.Status, upd.Reason)
		if err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
	}

	c.afterOrderChange(ctx, trade, order.ID, prev)
	return nil
}

func isNoFillStatus(s domain.OrderStatus) bool {
	return s != "" && s != domain.OrderStatusPartiallyFilled && s != domain.OrderStatusFilled
}

// cancelUnfilled cancels orders that stayed open longer than the unfilled timeout.
func (c *Controller) cancelUnfilled(ctx context.Context, settings Settings) {
	op := "CancelUnfilled"
	if settings.UnfilledTimeout <= 0 {
		return
	}
	trades, err := c.ledger.OpenTrades(ctx)
	if err != nil {
		c.logger.Error(ctx, err, op+": Failed to load open trades")
		return
	}
	now := c.now()
	for _, trade := range trades {
		for _, order := range trade.OpenOrders() {
			if orderAge(order, now) < settings.UnfilledTimeout {
				continue
			}
			c.logger.Info(ctx, op+": Order unfilled past timeout", map[string]interface{}{
				"tradeID": trade.ID,
				"orderID": order.OrderID,
				"age":     orderAge(order, now).String(),
			})
			c.exitMu.Lock()
			err := c.cancelOrder(ctx, trade, order, "timeout")
			c.exitMu.Unlock()
			if err != nil {
				c.logger.Error(ctx, err, op+": Failed to cancel timed out order", map[string]interface{}{
					"tradeID": trade.ID,
					"orderID": order.OrderID,
				})
			}
		}
	}
}

// cancelOrder cancels one open order on the exchange and reconciles the ledger,
// booking any quantity the exchange executed before the cancel.
func (c *Controller) cancelOrder(ctx context.Context, trade *domain.Trade, order *domain.Order, reason string) error {
	op := "CancelOrder"
	// the order may have moved on since trade was loaded
	trade, err := c.ledger.Trade(ctx, trade.ID)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if trade == nil || !trade.IsOpen {
		return nil
	}
	if order = trade.OrderByID(order.ID); order == nil || order.Status.IsTerminal() {
		return nil
	}
	prev := order.Status
	resp, err := c.exchange.CancelOrder(ctx, trade.Pair, order.OrderID)
	if err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	current := trade
	if resp != nil && resp.ExecutedQty.GreaterThan(order.ExecutedQuantity) {
		missing := resp.ExecutedQty.Sub(order.ExecutedQuantity)
		price := resp.AvgPrice
		if !price.IsPositive() {
			price = order.ExecutedPrice
		}
		if current, err = c.ledger.ApplyFill(ctx, order.ID, missing, price, resp.Timestamp); err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
	}
	if o := current.OrderByID(order.ID); o != nil && !o.Status.IsTerminal() {
		if current, err = c.ledger.ApplyOrderStatus(ctx, order.ID, domain.OrderStatusCanceled, reason); err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
	}

	c.logger.Info(ctx, op+": Order canceled", map[string]interface{}{
		"tradeID": trade.ID,
		"orderID": order.OrderID,
		"reason":  reason,
	})
	c.afterOrderChange(ctx, current, order.ID, prev)
	return nil
}

// cancelOrderWarn cancels an exchange order and only logs failures. An order the
// exchange no longer knows counts as canceled.
func (c *Controller) cancelOrderWarn(ctx context.Context, pair, orderID, reason string) {
	op := "CancelOrderWarn"
	if orderID == "" {
		return
	}
	c.logger.Info(ctx, op+": Attempting to cancel order", map[string]interface{}{"pair": pair, "orderID": orderID, "reason": reason})
	_, err := c.exchange.CancelOrder(ctx, pair, orderID)
	if err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			c.logger.Warn(ctx, op+": Order not found for cancellation (likely already filled or canceled)", map[string]interface{}{"orderID": orderID})
		} else {
			c.logger.Error(ctx, err, op+": Failed to cancel order", map[string]interface{}{"orderID": orderID})
		}
		return
	}
	c.logger.Info(ctx, op+": Order canceled successfully", map[string]interface{}{"orderID": orderID})
}

// handleOpenOrdersOnStop reports every order still open, canceling them only
// when CancelOpenOrdersOnExit is set.
func (c *Controller) handleOpenOrdersOnStop(ctx context.Context) {
	op := "HandleOpenOrdersOnStop"
	settings, _ := c.current()
	trades, err := c.ledger.OpenTrades(ctx)
	if err != nil {
		c.logger.Error(ctx, err, op+": Failed to load open trades")
		return
	}

	for _, trade := range trades {
		for _, order := range trade.OpenOrders() {
			if settings.CancelOpenOrdersOnExit {
				c.exitMu.Lock()
				err := c.cancelOrder(ctx, trade, order, "bot stopped")
				c.exitMu.Unlock()
				if err != nil {
					c.logger.Error(ctx, err, op+": Failed to cancel open order", map[string]interface{}{"tradeID": trade.ID, "orderID": order.OrderID})
				}
				continue
			}
			c.logger.Warn(ctx, op+": Order left open", map[string]interface{}{
				"tradeID":   trade.ID,
				"pair":      trade.Pair,
				"orderID":   order.OrderID,
				"side":      order.Side,
				"remaining": order.RemainingQuantity().String(),
			})
			c.notify(domain.Message{
				Type:    domain.MsgWarning,
				Pair:    trade.Pair,
				TradeID: trade.ID,
				Status: fmt.Sprintf("%s %s order %s still open (remaining %s)",
					order.Type, order.Side, order.OrderID, order.RemainingQuantity()),
			})
		}
	}
}

func (c *Controller) notify(msg domain.Message) {
	if c.notifier == nil {
		return
	}
	if msg.Time.IsZero() {
		msg.Time = c.now()
	}
	c.notifier.Send(msg)
}

// orderAge is how long order has been open at now.
func orderAge(order *domain.Order, now time.Time) time.Duration {
	return now.Sub(order.CreatedTime)
}
