package service

import (
	"context"
	"log/slog"
	"time"

	"ecard/internal/domain"
	"ecard/internal/metrics"
	"ecard/internal/rabbitmq"
)

// EventSink receives committed ledger events.
type EventSink interface {
	Name() string
	Handle(ctx context.Context, event *domain.Event) error
}

// DefaultDeliveryTimeout bounds a single sink delivery.
const DefaultDeliveryTimeout = 5 * time.Second

// Notifier fans committed events out to its sinks. It runs after the store
// has committed, so a failing sink is logged and never undoes a transition.
type Notifier struct {
	sinks   []EventSink
	timeout time.Duration
	logger  *slog.Logger
}

// NewNotifier creates a new Notifier.
func NewNotifier(logger *slog.Logger, sinks ...EventSink) *Notifier {
	return &Notifier{sinks: sinks, timeout: DefaultDeliveryTimeout, logger: logger}
}

// WithDeliveryTimeout sets how long one sink may take with one event.
func (n *Notifier) WithDeliveryTimeout(d time.Duration) *Notifier {
	if d > 0 {
		n.timeout = d
	}
	return n
}

// Publish delivers each event to every sink in order. Each delivery gets its
// own deadline, detached from the caller's cancellation.
func (n *Notifier) Publish(ctx context.Context, events ...*domain.Event) {
	if n == nil {
		return
	}
	base := context.WithoutCancel(ctx)

	for _, event := range events {
		if event == nil {
			continue
		}
		for _, sink := range n.sinks {
			if err := n.deliver(base, sink, event); err != nil {
				metrics.RecordSinkFailure(sink.Name())
				n.logger.Warn("event sink failed",
					"sink", sink.Name(),
					"event_id", event.ID,
					"event_type", event.Type,
					"entity_id", event.EntityID,
					"error", err,
				)
			}
		}
	}
}

// deliver returns once the sink is done or its deadline passes, even if the
// sink itself ignores ctx.
func (n *Notifier) deliver(ctx context.Context, sink EventSink, event *domain.Event) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sink.Handle(ctx, event) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BrokerSink publishes events to the RabbitMQ events exchange, routed by event type.
type BrokerSink struct {
	publisher rabbitmq.Publisher
}

// NewBrokerSink creates a new BrokerSink.
func NewBrokerSink(publisher rabbitmq.Publisher) *BrokerSink {
	return &BrokerSink{publisher: publisher}
}

func (s *BrokerSink) Name() string { return "rabbitmq" }

func (s *BrokerSink) Handle(ctx context.Context, event *domain.Event) error {
	return s.publisher.Publish(ctx, rabbitmq.EventsExchange, string(event.Type), rabbitmq.NewEventMessage(event))
}

// MetricsSink counts committed transitions.
type MetricsSink struct{}

func (MetricsSink) Name() string { return "metrics" }

func (MetricsSink) Handle(ctx context.Context, event *domain.Event) error {
	metrics.RecordTransition(string(event.EntityType), string(event.Type))
	return nil
}
