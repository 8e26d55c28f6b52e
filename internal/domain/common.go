package domain

import "strings"

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType is the execution type of an order.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeStopLimit        OrderType = "STOP"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// PriceSide selects which side of the book a rate is quoted for.
type PriceSide string

const (
	PriceSideEntry PriceSide = "entry"
	PriceSideExit  PriceSide = "exit"
)

// TradingMode is the market a trade is opened on.
type TradingMode string

const (
	TradingModeSpot    TradingMode = "spot"
	TradingModeMargin  TradingMode = "margin"
	TradingModeFutures TradingMode = "futures"
)

// ParseTradingMode returns false for unknown modes.
func ParseTradingMode(s string) (TradingMode, bool) {
	switch m := TradingMode(strings.ToLower(strings.TrimSpace(s))); m {
	case TradingModeSpot, TradingModeMargin, TradingModeFutures:
		return m, true
	default:
		return "", false
	}
}

// StorageMode selects the repository a trade lives in.
type StorageMode string

const (
	// StorageInMemory keeps trades in process memory (backtests, dry runs).
	StorageInMemory StorageMode = "in_memory"
	// StoragePersisted writes trades to the database.
	StoragePersisted StorageMode = "persisted"
)

// ParseStorageMode returns false for unknown modes.
func ParseStorageMode(s string) (StorageMode, bool) {
	switch m := StorageMode(strings.ToLower(strings.TrimSpace(s))); m {
	case StorageInMemory, StoragePersisted:
		return m, true
	default:
		return "", false
	}
}

// ExitReason indicates why a trade was closed.
type ExitReason string

const (
	ExitReasonROI              ExitReason = "roi"
	ExitReasonStopLoss         ExitReason = "stop_loss"
	ExitReasonTrailingStopLoss ExitReason = "trailing_stop_loss"
	ExitReasonExitSignal       ExitReason = "exit_signal"
	ExitReasonForceExit        ExitReason = "force_exit"
	ExitReasonEmergencyExit    ExitReason = "emergency_exit"
	ExitReasonEntryCanceled    ExitReason = "entry_canceled"
	ExitReasonLiquidation      ExitReason = "liquidation"
)

// BotState is the process-wide run state of the controller.
type BotState string

const (
	StateStopped      BotState = "STOPPED"
	StateRunning      BotState = "RUNNING"
	StateReloadConfig BotState = "RELOAD_CONFIG"
)

// ParseBotState returns false for unknown states.
func ParseBotState(s string) (BotState, bool) {
	switch st := BotState(strings.ToUpper(strings.TrimSpace(s))); st {
	case StateStopped, StateRunning:
		return st, true
	default:
		return "", false
	}
}
