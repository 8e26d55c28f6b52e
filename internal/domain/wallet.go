package domain

import "tradePilot/internal/money"

// Wallet is a per-currency balance snapshot reconciled from the exchange.
type Wallet struct {
	Currency string        `json:"currency"`
	Free     money.Decimal `json:"free"`
	Used     money.Decimal `json:"used"`
	Total    money.Decimal `json:"total"`
}

// PositionWallet is the exposure held on one pair, derived from open trades.
type PositionWallet struct {
	Symbol     string        `json:"symbol"`
	Position   money.Decimal `json:"position"`
	Leverage   money.Decimal `json:"leverage"`
	Collateral money.Decimal `json:"collateral"`
	Side       string        `json:"side"` // "long" or "short"
}
