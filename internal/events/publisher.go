// Package events publishes marketplace domain events to a RabbitMQ topic exchange.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"campusmarket/internal/metrics"
)

// Event types, also used as routing keys.
const (
	ListingCreated = "listing.created"
	ListingUpdated = "listing.updated"
	ListingDeleted = "listing.deleted"
	BidCreated     = "bid.created"
	BidAccepted    = "bid.accepted"
	BidRejected    = "bid.rejected"
	BidWithdrawn   = "bid.withdrawn"
	MessageSent    = "message.sent"
)

// Envelope is the JSON body of every published event.
type Envelope struct {
	EventType  string    `json:"eventType"`
	OccurredAt time.Time `json:"occurredAt"`
	ActorID    string    `json:"actorId,omitempty"`
	RequestID  string    `json:"requestId,omitempty"`
	Payload    any       `json:"payload"`
}

// NewEnvelope stamps an event with the current time.
func NewEnvelope(eventType, actorID, requestID string, payload any) Envelope {
	return Envelope{
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		ActorID:    actorID,
		RequestID:  requestID,
		Payload:    payload,
	}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Envelope) error
	Close() error
}

// NewPublisher dials RabbitMQ and declares a durable topic exchange. It falls
// back to a logging no-op publisher when amqpURL is empty or unreachable, so
// the marketplace keeps serving without a broker.
func NewPublisher(amqpURL, exchange string) Publisher {
	amqpURL = strings.TrimSpace(amqpURL)
	if exchange = strings.TrimSpace(exchange); exchange == "" {
		exchange = "campusmarket.events"
	}
	if amqpURL == "" {
		slog.Info("event publisher disabled, using noop", "reason", "empty amqp url")
		return noopPublisher{reason: "empty amqp url"}
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		slog.Warn("event publisher disabled, using noop", "err", err)
		return noopPublisher{reason: err.Error()}
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		slog.Warn("event publisher disabled, using noop", "err", err)
		return noopPublisher{reason: err.Error()}
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		slog.Warn("event publisher disabled, using noop", "err", err)
		return noopPublisher{reason: err.Error()}
	}
	slog.Info("event publisher connected", "exchange", exchange)
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange}
}

type amqpPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *amqpPublisher) Publish(ctx context.Context, event Envelope) error {
	body, err := json.Marshal(event)
	if err != nil {
		metrics.ObserveEvent(event.EventType, err)
		return err
	}
	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx, p.exchange, event.EventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt,
		Type:         event.EventType,
		Body:         body,
	})
	p.mu.Unlock()
	metrics.ObserveEvent(event.EventType, err)
	return err
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
}

func (noopPublisher) Publish(ctx context.Context, event Envelope) error {
	slog.Debug("noop event publish", "event_type", event.EventType, "actor_id", event.ActorID, "request_id", event.RequestID)
	metrics.ObserveEvent(event.EventType, nil)
	return nil
}

func (noopPublisher) Close() error { return nil }

// Mode names the publisher kind for startup logging.
func Mode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case *redisStreamPublisher:
		return "redis-stream"
	case noopPublisher:
		return "noop"
	default:
		return "custom"
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Envelope
}

func (r *Recorder) Publish(_ context.Context, event Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the event types in publish order.
func (r *Recorder) Types() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.EventType
	}
	return out
}
