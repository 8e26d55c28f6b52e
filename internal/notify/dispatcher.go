// Package notify delivers controller notifications on their own goroutine so
// the control loop never waits on a transport.
package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tradePilot/internal/domain"
	"tradePilot/internal/ports"
)

// DefaultQueueSize is the number of messages buffered before Send drops.
const DefaultQueueSize = 256

// Dispatcher queues messages and fans them out to sinks from Run.
type Dispatcher struct {
	queue   chan domain.Message
	sinks   []ports.NotificationSink
	logger  ports.Logger
	now     func() time.Time
	dropped atomic.Int64
}

// NewDispatcher creates a dispatcher. queueSize <= 0 uses DefaultQueueSize.
func NewDispatcher(logger ports.Logger, queueSize int, sinks ...ports.NotificationSink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		queue:  make(chan domain.Message, queueSize),
		sinks:  sinks,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Send enqueues msg. It never blocks: when the queue is full the message is
// dropped and counted.
func (d *Dispatcher) Send(msg domain.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Time.IsZero() {
		msg.Time = d.now()
	}
	select {
	case d.queue <- msg:
	default:
		d.dropped.Add(1)
		MessagesDropped.WithLabelValues(string(msg.Type)).Inc()
		d.logger.Warn(context.Background(), "Notify: queue full, message dropped", map[string]interface{}{
			"type": msg.Type,
			"pair": msg.Pair,
		})
	}
}

// Dropped is the number of messages this dispatcher discarded.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Run delivers queued messages until ctx is done, then flushes what is left.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		case <-ctx.Done():
			d.flush()
			return
		}
	}
}

func (d *Dispatcher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg domain.Message) {
	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, msg); err != nil {
			DeliveryErrors.WithLabelValues(fmt.Sprintf("%T", sink)).Inc()
			d.logger.Error(ctx, err, "Notify: delivery failed", map[string]interface{}{
				"type": msg.Type,
				"id":   msg.ID,
			})
		}
	}
	MessagesDelivered.WithLabelValues(string(msg.Type)).Inc()
}

// LogSink writes every message to the logger.
type LogSink struct {
	Logger ports.Logger
}

func (s LogSink) Deliver(ctx context.Context, msg domain.Message) error {
	fields := map[string]interface{}{
		"id":   msg.ID,
		"type": msg.Type,
	}
	if msg.Pair != "" {
		fields["pair"] = msg.Pair
	}
	if msg.TradeID != 0 {
		fields["tradeID"] = msg.TradeID
	}
	if msg.Reason != "" {
		fields["reason"] = msg.Reason
	}
	if msg.LockEnd != nil {
		fields["lockEnd"] = msg.LockEnd.Format(time.RFC3339)
	}
	for k, v := range msg.Fields {
		fields[k] = v
	}

	text := msg.Status
	if text == "" {
		text = string(msg.Type)
	}
	switch msg.Type {
	case domain.MsgWarning, domain.MsgProtectionTrigger, domain.MsgProtectionTriggerGlobal:
		s.Logger.Warn(ctx, "Notification: "+text, fields)
	case domain.MsgException:
		s.Logger.Error(ctx, fmt.Errorf("%s", text), "Notification: exception", fields)
	default:
		s.Logger.Info(ctx, "Notification: "+text, fields)
	}
	return nil
}
