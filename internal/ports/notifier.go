package ports

import (
	"context"
	"time"

	"tradePilot/internal/domain"
)

// Notifier accepts messages without blocking the caller.
type Notifier interface {
	Send(msg domain.Message)
}

// NotificationSink delivers messages to one transport.
type NotificationSink interface {
	Deliver(ctx context.Context, msg domain.Message) error
}

// ProtectionPolicy decides whether a closed trade should lock a pair or all pairs.
// history holds trades closed within the policy's LookbackPeriod.
type ProtectionPolicy interface {
	Name() string
	LookbackPeriod() time.Duration
	Evaluate(ctx context.Context, closed *domain.Trade, history []*domain.Trade, now time.Time) *domain.LockDecision
}

// FiatConverter converts stake-currency amounts for display.
type FiatConverter interface {
	Convert(amount float64, from, to string) (float64, error)
}
