// Package eventbus publishes and consumes domain events over a
// topic-addressed broker with at-least-once delivery.
//
// Routing keys are dot-separated words ("post.created"). Subscriptions bind
// a pattern to a consumer group; every group whose pattern matches receives
// its own copy of an event, and consumers inside one group compete for it.
// Handlers must therefore be idempotent.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/resilience"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("event bus closed")

// Event is the envelope carried on the wire.
type Event struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"publishedAt"`
}

// NewEvent wraps payload in an envelope with a fresh id.
func NewEvent(topic string, payload any) (Event, error) {
	if err := validateRoutingKey(topic); err != nil {
		return Event{}, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshaling %s payload: %w", topic, err)
	}
	return Event{
		ID:          uuid.NewString(),
		Topic:       topic,
		Payload:     body,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into T. A payload that does not decode is
// reported as permanent so the message is not redelivered forever.
func Decode[T any](ev Event) (T, error) {
	var v T
	if err := json.Unmarshal(ev.Payload, &v); err != nil {
		return v, Permanent(fmt.Errorf("decoding %s event %s: %w", ev.Topic, ev.ID, err))
	}
	return v, nil
}

// Handler processes one event. Returning nil acknowledges it; returning an
// error wrapped with Permanent acknowledges and logs it as poison; any
// other error causes redelivery.
type Handler func(ctx context.Context, ev Event) error

// Subscription binds a topic pattern to a handler within a consumer group.
// Patterns use "*" for exactly one word and "#" for zero or more words.
type Subscription struct {
	Pattern string
	Group   string
	Handler Handler
}

func (s Subscription) validate() error {
	if s.Group == "" {
		return fmt.Errorf("subscription for %q: consumer group is required", s.Pattern)
	}
	if s.Handler == nil {
		return fmt.Errorf("subscription for %q: handler is required", s.Pattern)
	}
	return validatePattern(s.Pattern)
}

// Bus is implemented by every driver.
type Bus interface {
	// Publish returns once the broker has confirmed the event.
	Publish(ctx context.Context, topic string, payload any) error
	// Subscribe declares the group's queue and binding and starts
	// consuming. Declarations are replayed after a reconnect.
	Subscribe(ctx context.Context, sub Subscription) error
	// Ping establishes the connection if needed and reports failures.
	Ping(ctx context.Context) error
	Close() error
	Healthy() bool
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as unprocessable. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Options tunes handler execution for every driver.
type Options struct {
	HandlerTimeout time.Duration
	Retry          resilience.RetryConfig
	Metrics        *metrics.Metrics
}

// New builds the driver selected by cfg.Driver. Connections are opened
// lazily on first Publish or Subscribe.
func New(cfg config.EventsConfig, opts Options) (Bus, error) {
	if opts.HandlerTimeout == 0 {
		opts.HandlerTimeout = cfg.HandlerTimeout
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry.MaxAttempts = cfg.MaxAttempts
	}
	switch strings.ToLower(cfg.Driver) {
	case "", "rabbitmq", "amqp":
		return NewRabbitMQ(cfg.RabbitMQ, opts), nil
	case "kafka":
		return NewKafka(cfg.Kafka, opts), nil
	case "memory":
		return NewMemory(opts), nil
	default:
		return nil, fmt.Errorf("unknown event bus driver %q", cfg.Driver)
	}
}

func publishFailed(topic string, err error) error {
	return fmt.Errorf("%w: %s: %v", apperrors.ErrPublishFailed, topic, err)
}
