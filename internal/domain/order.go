package domain

import (
	"errors"
	"fmt"
	"time"

	"tradePilot/internal/money"
)

// ErrInvalidTransition is returned when an order status change is not allowed.
var ErrInvalidTransition = errors.New("invalid order status transition")

// OrderStatus is the lifecycle status of an exchange order.
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "CREATED"
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusError           OrderStatus = "ERROR"
)

// orderTransitions lists the statuses reachable from each non-terminal status.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated: {
		OrderStatusPending,
		OrderStatusFilled,
		OrderStatusCanceled,
		OrderStatusRejected,
		OrderStatusError,
	},
	OrderStatusPending: {
		OrderStatusPartiallyFilled,
		OrderStatusFilled,
		OrderStatusCanceled,
		OrderStatusRejected,
		OrderStatusExpired,
		OrderStatusError,
	},
	OrderStatusPartiallyFilled: {
		OrderStatusPartiallyFilled,
		OrderStatusFilled,
		OrderStatusCanceled,
		OrderStatusExpired,
		OrderStatusError,
	},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired, OrderStatusError:
		return true
	}
	return false
}

// IsValid reports whether s is a known status.
func (s OrderStatus) IsValid() bool {
	if s.IsTerminal() {
		return true
	}
	_, ok := orderTransitions[s]
	return ok
}

// Fill is one partial execution of an order.
type Fill struct {
	Quantity money.Decimal `json:"quantity"`
	Price    money.Decimal `json:"price"`
	Time     time.Time     `json:"time"`
}

// Order is one exchange order belonging to exactly one trade.
type Order struct {
	ID               int64         `json:"id"`
	TradeID          int64         `json:"trade_id"`
	OrderID          string        `json:"order_id"` // exchange-assigned id
	ClientOrderID    string        `json:"client_order_id"`
	Side             OrderSide     `json:"side"`
	Type             OrderType     `json:"type"`
	Symbol           string        `json:"symbol"`
	Quantity         money.Decimal `json:"quantity"`
	LimitPrice       money.Decimal `json:"limit_price"`
	StopPrice        money.Decimal `json:"stop_price"`
	Status           OrderStatus   `json:"status"`
	CreatedTime      time.Time     `json:"created_time"`
	ExecutedQuantity money.Decimal `json:"executed_quantity"`
	ExecutedPrice    money.Decimal `json:"executed_price"`
	ExecutedTime     *time.Time    `json:"executed_time,omitempty"`
	IsOpen           bool          `json:"is_open"`
	Fills            []Fill        `json:"fills"`
	Reason           string        `json:"reason,omitempty"`
}

// Transition moves the order to status to, or fails with ErrInvalidTransition.
func (o *Order) Transition(to OrderStatus) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: order %d %s -> %s", ErrInvalidTransition, o.ID, o.Status, to)
	}
	o.Status = to
	o.IsOpen = !to.IsTerminal()
	return nil
}

// RemainingQuantity is the part of the order not executed yet.
func (o *Order) RemainingQuantity() money.Decimal {
	return o.Quantity.Sub(o.ExecutedQuantity)
}

// AddFill records an execution and recomputes the volume-weighted executed price.
// Status is left to the caller.
func (o *Order) AddFill(f Fill) error {
	prevNotional := o.ExecutedQuantity.Mul(o.ExecutedPrice)
	executed := o.ExecutedQuantity.Add(f.Quantity)
	avg, err := prevNotional.Add(f.Quantity.Mul(f.Price)).Div(executed)
	if err != nil {
		return fmt.Errorf("order %d fill price: %w", o.ID, err)
	}
	o.Fills = append(o.Fills, f)
	o.ExecutedQuantity = executed
	o.ExecutedPrice = avg
	t := f.Time
	o.ExecutedTime = &t
	return nil
}

func (o *Order) IsPlaced() bool   { return o.Status == OrderStatusCreated || o.Status == OrderStatusPending }
func (o *Order) IsFilled() bool   { return o.Status == OrderStatusFilled }
func (o *Order) IsCanceled() bool { return o.Status == OrderStatusCanceled }
func (o *Order) IsRejected() bool { return o.Status == OrderStatusRejected }
func (o *Order) IsError() bool    { return o.Status == OrderStatusError }

// HasExecution reports whether any quantity was executed.
func (o *Order) HasExecution() bool { return o.ExecutedQuantity.IsPositive() }

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.ExecutedTime != nil {
		t := *o.ExecutedTime
		c.ExecutedTime = &t
	}
	c.Fills = append([]Fill(nil), o.Fills...)
	return &c
}
