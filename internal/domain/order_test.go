package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradePilot/internal/money"
)

var allStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusPending,
	OrderStatusPartiallyFilled,
	OrderStatusFilled,
	OrderStatusCanceled,
	OrderStatusRejected,
	OrderStatusExpired,
	OrderStatusError,
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderStatusCreated, OrderStatusPending, true},
		{OrderStatusCreated, OrderStatusFilled, true},
		{OrderStatusCreated, OrderStatusPartiallyFilled, false},
		{OrderStatusPending, OrderStatusPartiallyFilled, true},
		{OrderStatusPending, OrderStatusFilled, true},
		{OrderStatusPending, OrderStatusExpired, true},
		{OrderStatusPending, OrderStatusCreated, false},
		{OrderStatusPartiallyFilled, OrderStatusPartiallyFilled, true},
		{OrderStatusPartiallyFilled, OrderStatusFilled, true},
		{OrderStatusPartiallyFilled, OrderStatusCanceled, true},
		{OrderStatusPartiallyFilled, OrderStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalStatusesRejectEveryTransition(t *testing.T) {
	for _, from := range allStatuses {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range allStatuses {
			o := &Order{ID: 7, Status: from}
			err := o.Transition(to)
			require.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", from, to)
			assert.Equal(t, from, o.Status, "status must be unchanged")
		}
	}
}

func TestOrderTransitionUpdatesIsOpen(t *testing.T) {
	o := &Order{Status: OrderStatusCreated, IsOpen: true}

	require.NoError(t, o.Transition(OrderStatusPending))
	assert.True(t, o.IsOpen)
	assert.True(t, o.IsPlaced())

	require.NoError(t, o.Transition(OrderStatusPartiallyFilled))
	assert.True(t, o.IsOpen)

	require.NoError(t, o.Transition(OrderStatusFilled))
	assert.False(t, o.IsOpen)
	assert.True(t, o.IsFilled())
}

func TestOrderAddFillComputesAveragePrice(t *testing.T) {
	o := &Order{Quantity: money.NewFromInt(3), Status: OrderStatusPending}
	now := time.Now()

	require.NoError(t, o.AddFill(Fill{Quantity: money.NewFromInt(1), Price: money.NewFromInt(100), Time: now}))
	require.NoError(t, o.AddFill(Fill{Quantity: money.NewFromInt(2), Price: money.NewFromInt(103), Time: now.Add(time.Second)}))

	assert.True(t, o.ExecutedQuantity.Equal(money.NewFromInt(3)))
	assert.True(t, o.ExecutedPrice.Equal(money.NewFromInt(102)), "got %s", o.ExecutedPrice)
	assert.True(t, o.RemainingQuantity().IsZero())
	assert.Len(t, o.Fills, 2)
	require.NotNil(t, o.ExecutedTime)
	assert.Equal(t, now.Add(time.Second), *o.ExecutedTime)
}

func TestOrderCloneIsDeep(t *testing.T) {
	now := time.Now()
	o := &Order{ID: 1, Fills: []Fill{{Quantity: money.One, Price: money.One, Time: now}}, ExecutedTime: &now}
	c := o.Clone()
	c.Fills[0].Quantity = money.NewFromInt(5)
	later := now.Add(time.Hour)
	*c.ExecutedTime = later

	assert.True(t, o.Fills[0].Quantity.Equal(money.One))
	assert.Equal(t, now, *o.ExecutedTime)
}
