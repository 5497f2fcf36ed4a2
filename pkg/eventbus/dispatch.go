package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/resilience"
)

type outcome int

const (
	outcomeAck outcome = iota
	outcomePoison
	outcomeRequeue
)

func (o outcome) String() string {
	switch o {
	case outcomeAck:
		return "ack"
	case outcomePoison:
		return "poison"
	default:
		return "requeue"
	}
}

// dispatcher runs handlers with a per-attempt deadline and in-process
// retries, then classifies the result for the driver.
type dispatcher struct {
	opts   Options
	logger *slog.Logger
}

func newDispatcher(opts Options, driver string) *dispatcher {
	if opts.Retry.InitialDelay == 0 {
		opts.Retry.InitialDelay = 200 * time.Millisecond
	}
	opts.Retry.Retryable = func(err error) bool { return !IsPermanent(err) }
	return &dispatcher{
		opts:   opts,
		logger: slog.Default().With("component", "eventbus", "driver", driver),
	}
}

// deliver runs every matching subscription of one group. The worst outcome
// decides what happens to the message; re-running the handlers that did
// succeed is safe because handlers are idempotent.
func (d *dispatcher) deliver(ctx context.Context, group string, subs []Subscription, ev Event) outcome {
	result := outcomeAck
	for _, sub := range subs {
		if o := d.run(ctx, sub, ev); o > result {
			result = o
		}
	}
	if d.opts.Metrics != nil {
		d.opts.Metrics.EventsConsumed.WithLabelValues(ev.Topic, group, result.String()).Inc()
	}
	return result
}

func (d *dispatcher) run(ctx context.Context, sub Subscription, ev Event) outcome {
	name := fmt.Sprintf("%s/%s", sub.Group, ev.Topic)
	err := resilience.Retry(ctx, name, d.opts.Retry, func() error {
		return resilience.WithTimeout(ctx, d.opts.HandlerTimeout, name, func(ctx context.Context) error {
			return safeCall(ctx, sub.Handler, ev)
		})
	})
	switch {
	case err == nil:
		return outcomeAck
	case IsPermanent(err):
		d.logger.Error("dropping unprocessable event",
			"group", sub.Group,
			"topic", ev.Topic,
			"event_id", ev.ID,
			"error", err,
		)
		return outcomePoison
	default:
		d.logger.Warn("event handling failed, requeueing",
			"group", sub.Group,
			"topic", ev.Topic,
			"event_id", ev.ID,
			"error", err,
		)
		return outcomeRequeue
	}
}

func safeCall(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("%w: handler panic: %v", apperrors.ErrHandlerFailed, r))
		}
	}()
	return h(ctx, ev)
}

// decodeEnvelope parses a message body. Bodies that are not an envelope
// (for example a bare JSON payload from another publisher) are wrapped
// using the transport metadata.
func decodeEnvelope(body []byte, routingKey, messageID string, ts time.Time) Event {
	var ev Event
	if err := json.Unmarshal(body, &ev); err == nil && ev.Topic != "" && len(ev.Payload) > 0 {
		return ev
	}
	return Event{
		ID:          messageID,
		Topic:       routingKey,
		Payload:     json.RawMessage(body),
		PublishedAt: ts,
	}
}
