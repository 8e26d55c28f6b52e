package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tradePilot/internal/domain"
)

// BotState is 0 for STOPPED, 1 for RUNNING and 2 while a reload is pending.
var BotState = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradepilot",
		Subsystem: "controller",
		Name:      "state",
		Help:      "Current bot state (0=stopped, 1=running, 2=reload_config)",
	},
)

func stateValue(s domain.BotState) float64 {
	switch s {
	case domain.StateRunning:
		return 1
	case domain.StateReloadConfig:
		return 2
	default:
		return 0
	}
}

// TicksTotal counts executed control loop ticks.
var TicksTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tradepilot",
		Subsystem: "controller",
		Name:      "ticks_total",
		Help:      "Total number of control loop ticks",
	},
)

// TickDuration is the wall time of one tick.
var TickDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "tradepilot",
		Subsystem: "controller",
		Name:      "tick_duration_seconds",
		Help:      "Duration of one control loop tick in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
)

// OpenTrades is the number of open trades seen by the last tick.
var OpenTrades = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradepilot",
		Subsystem: "controller",
		Name:      "open_trades",
		Help:      "Number of open trades",
	},
)

// OrdersPlaced counts order submissions by kind (entry/exit) and result.
var OrdersPlaced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradepilot",
		Subsystem: "controller",
		Name:      "orders_placed_total",
		Help:      "Total number of orders submitted to the exchange",
	},
	[]string{"kind", "result"},
)

// TradesClosed counts closed trades by exit reason.
var TradesClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradepilot",
		Subsystem: "controller",
		Name:      "trades_closed_total",
		Help:      "Total number of closed trades",
	},
	[]string{"reason"},
)

// PricingUnavailable counts trades skipped for a tick because no rate was available.
var PricingUnavailable = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tradepilot",
		Subsystem: "controller",
		Name:      "pricing_unavailable_total",
		Help:      "Total number of rate lookups that failed during a tick",
	},
)

// ConfigReloads counts reload attempts by result.
var ConfigReloads = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradepilot",
		Subsystem: "controller",
		Name:      "config_reloads_total",
		Help:      "Total number of configuration reloads",
	},
	[]string{"result"},
)
