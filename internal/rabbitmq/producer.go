// Package rabbitmq publishes committed ledger events to a topic exchange and
// consumes inbound collaborator messages.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ecard/internal/domain"
)

// EventsExchange receives every committed transition, routed by event type.
const EventsExchange = "ecard_events"

// EventMessage is the wire form of a committed ledger event.
type EventMessage struct {
	ID         string            `json:"id"`
	EntityID   string            `json:"entity_id"`
	EntityType string            `json:"entity_type"`
	DriverID   string            `json:"driver_id,omitempty"`
	Type       string            `json:"type"`
	FromState  string            `json:"from_state,omitempty"`
	ToState    string            `json:"to_state"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewEventMessage converts a ledger event to its wire form.
func NewEventMessage(event *domain.Event) EventMessage {
	return EventMessage{
		ID:         event.ID,
		EntityID:   event.EntityID,
		EntityType: string(event.EntityType),
		DriverID:   event.DriverID,
		Type:       string(event.Type),
		FromState:  event.FromState,
		ToState:    event.ToState,
		Data:       event.Data,
		OccurredAt: event.OccurredAt,
	}
}

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
	Close()
}

// publishChannel is the part of *amqp.Channel the producer uses.
type publishChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	open     func() (publishChannel, error)
	channel  publishChannel
	declared map[string]bool
	logger   *slog.Logger
}

// FallbackProducer is a no-op publisher used when RabbitMQ is unavailable at startup.
type FallbackProducer struct {
	logger *slog.Logger
}

// NewFallbackProducer creates a publisher that only logs skipped messages.
func NewFallbackProducer(logger *slog.Logger) *FallbackProducer {
	return &FallbackProducer{logger: logger}
}

// Publish logs and drops the message.
func (p *FallbackProducer) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	p.logger.Warn("publish skipped", "component", "rabbitmq_producer", "mode", "fallback",
		"exchange", exchange, "routing_key", routingKey)
	return nil
}

// Close is a no-op.
func (p *FallbackProducer) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer dials the broker and opens a publishing channel.
func NewEventProducer(amqpURL string, logger *slog.Logger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	p := &EventProducer{
		conn:   conn,
		open:   func() (publishChannel, error) { return conn.Channel() },
		logger: logger,
	}

	ch, err := p.open()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := p.useChannel(ch); err != nil {
		conn.Close()
		return nil, err
	}

	return p, nil
}

// useChannel switches to ch and declares the events exchange on it. Other
// exchanges are declared on first use.
func (p *EventProducer) useChannel(ch publishChannel) error {
	p.channel = ch
	p.declared = make(map[string]bool)
	return p.declare(EventsExchange)
}

func (p *EventProducer) declare(exchange string) error {
	if p.declared[exchange] {
		return nil
	}
	if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	p.declared[exchange] = true
	return nil
}

// Publish sends body as JSON to exchange with routingKey. A failed publish
// reopens the channel and retries once.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, exchange, routingKey, payload)
	if err == nil {
		return nil
	}

	p.logger.Warn("publish failed; reopening channel", "component", "rabbitmq_producer",
		"exchange", exchange, "routing_key", routingKey, "error", err)

	ch, chErr := p.open()
	if chErr != nil {
		return chErr
	}
	if err := p.useChannel(ch); err != nil {
		return err
	}
	return p.publishLocked(ctx, exchange, routingKey, payload)
}

func (p *EventProducer) publishLocked(ctx context.Context, exchange, routingKey string, payload []byte) error {
	if err := p.declare(exchange); err != nil {
		return err
	}

	return p.channel.PublishWithContext(ctx,
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         payload,
		},
	)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

var (
	_ Publisher = (*EventProducer)(nil)
	_ Publisher = (*FallbackProducer)(nil)
)
