package ports

import (
	"context"

	"tradePilot/internal/domain"
	"tradePilot/internal/money"
)

// ProfitSnapshot is the valuation handed to strategies for exit decisions.
type ProfitSnapshot struct {
	ProfitAbs   money.Decimal
	ProfitRatio money.Decimal
}

// Strategy produces entry and exit signals. Indicator math is its own concern.
type Strategy interface {
	// Name identifies the strategy on trades it opens.
	Name() string

	// EntrySignal decides whether a trade should be opened on pair.
	EntrySignal(ctx context.Context, pair string) (domain.EntrySignal, error)

	// ExitSignal decides whether an open trade should be closed at currentRate.
	ExitSignal(ctx context.Context, trade *domain.Trade, currentRate money.Decimal, profit ProfitSnapshot) (domain.ExitSignal, error)
}
