package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MessagesDelivered counts messages handed to every sink, by message type.
var MessagesDelivered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradepilot",
		Subsystem: "notify",
		Name:      "messages_delivered_total",
		Help:      "Total number of notifications delivered to sinks",
	},
	[]string{"type"},
)

// MessagesDropped counts messages discarded because the queue was full.
var MessagesDropped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradepilot",
		Subsystem: "notify",
		Name:      "messages_dropped_total",
		Help:      "Total number of notifications dropped on a full queue",
	},
	[]string{"type"},
)

// DeliveryErrors counts failed deliveries per sink.
var DeliveryErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradepilot",
		Subsystem: "notify",
		Name:      "delivery_errors_total",
		Help:      "Total number of failed notification deliveries",
	},
	[]string{"sink"},
)
