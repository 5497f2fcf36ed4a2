package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/config"
)

// RabbitMQ publishes to a topic exchange with publisher confirms and
// consumes through one durable queue per consumer group.
type RabbitMQ struct {
	cfg    config.RabbitMQConfig
	d      *dispatcher
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	groups map[string]*amqpGroup
	closed bool

	pubMu sync.Mutex
}

type amqpGroup struct {
	name string
	mu   sync.RWMutex
	subs []Subscription
	ch   *amqp.Channel
}

func (g *amqpGroup) matching(routingKey string) []Subscription {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Subscription
	for _, s := range g.subs {
		if MatchTopic(s.Pattern, routingKey) {
			out = append(out, s)
		}
	}
	return out
}

// NewRabbitMQ returns an unconnected client. The connection is dialled on
// first use.
func NewRabbitMQ(cfg config.RabbitMQConfig, opts Options) *RabbitMQ {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 16
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RabbitMQ{
		cfg:    cfg,
		d:      newDispatcher(opts, "rabbitmq"),
		opts:   opts,
		logger: slog.Default().With("component", "eventbus", "driver", "rabbitmq", "exchange", cfg.Exchange),
		ctx:    ctx,
		cancel: cancel,
		groups: make(map[string]*amqpGroup),
	}
}

func (b *RabbitMQ) connectedLocked() bool {
	return b.conn != nil && !b.conn.IsClosed()
}

// ensureConnected dials when there is no live connection. Callers must not
// hold b.mu.
func (b *RabbitMQ) ensureConnected() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.connectedLocked() {
		return nil
	}
	return b.connectLocked()
}

func (b *RabbitMQ) connectLocked() error {
	conn, err := amqp.DialConfig(b.cfg.URL, amqp.Config{
		Dial:      amqp.DefaultDial(10 * time.Second),
		Heartbeat: 10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("connecting to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("opening publish channel: %w", err)
	}
	if err := b.declareExchange(ch); err != nil {
		conn.Close()
		return err
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("enabling publisher confirms: %w", err)
	}
	b.conn = conn
	b.pubCh = ch

	for _, g := range b.groups {
		if err := b.startGroupLocked(g); err != nil {
			conn.Close()
			b.conn, b.pubCh = nil, nil
			return fmt.Errorf("restoring group %s: %w", g.name, err)
		}
	}

	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	go b.watch(conn, notify)
	b.logger.Info("connected to rabbitmq", "groups", len(b.groups))
	return nil
}

func (b *RabbitMQ) declareExchange(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		b.cfg.Exchange,
		"topic",
		b.cfg.Durable,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declaring exchange %s: %w", b.cfg.Exchange, err)
	}
	return nil
}

// startGroupLocked declares the group's queue, binds every pattern and
// starts a consumer on a dedicated channel.
func (b *RabbitMQ) startGroupLocked(g *amqpGroup) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening consumer channel: %w", err)
	}
	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("setting qos: %w", err)
	}
	if err := b.declareExchange(ch); err != nil {
		ch.Close()
		return err
	}
	if _, err := ch.QueueDeclare(g.name, true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("declaring queue %s: %w", g.name, err)
	}
	g.mu.RLock()
	patterns := make([]string, 0, len(g.subs))
	for _, s := range g.subs {
		patterns = append(patterns, s.Pattern)
	}
	g.mu.RUnlock()
	for _, p := range patterns {
		if err := ch.QueueBind(g.name, p, b.cfg.Exchange, false, nil); err != nil {
			ch.Close()
			return fmt.Errorf("binding %s to %s: %w", g.name, p, err)
		}
	}
	deliveries, err := ch.Consume(g.name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consuming %s: %w", g.name, err)
	}
	g.ch = ch
	go b.consume(g, deliveries)
	return nil
}

func (b *RabbitMQ) consume(g *amqpGroup, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		ev := decodeEnvelope(d.Body, d.RoutingKey, d.MessageId, d.Timestamp)
		subs := g.matching(d.RoutingKey)
		var err error
		switch b.d.deliver(b.ctx, g.name, subs, ev) {
		case outcomeAck, outcomePoison:
			err = d.Ack(false)
		case outcomeRequeue:
			err = d.Nack(false, true)
		}
		if err != nil {
			b.logger.Warn("settling delivery failed", "group", g.name, "event_id", ev.ID, "error", err)
		}
	}
	b.logger.Debug("consumer stopped", "group", g.name)
}

// watch waits for the connection to drop and re-dials until it succeeds or
// the bus is closed. Reconnecting replays every group declaration.
func (b *RabbitMQ) watch(conn *amqp.Connection, notify <-chan *amqp.Error) {
	select {
	case <-b.ctx.Done():
		return
	case amqpErr, ok := <-notify:
		if !ok || amqpErr == nil {
			// Graceful close initiated by us.
			return
		}
		b.logger.Warn("rabbitmq connection lost", "code", amqpErr.Code, "reason", amqpErr.Reason)
	}

	b.mu.Lock()
	if b.conn == conn {
		b.conn, b.pubCh = nil, nil
	}
	b.mu.Unlock()

	for {
		err := b.ensureConnected()
		if err == nil || errors.Is(err, ErrClosed) {
			return
		}
		b.logger.Warn("reconnect failed", "error", err, "retry_in", b.cfg.ReconnectDelay)
		select {
		case <-b.ctx.Done():
			return
		case <-time.After(b.cfg.ReconnectDelay):
		}
	}
}

// Subscribe registers sub with its group and, when connected, binds it on
// the live consumer channel.
func (b *RabbitMQ) Subscribe(ctx context.Context, sub Subscription) error {
	if err := sub.validate(); err != nil {
		return err
	}
	if err := b.ensureConnected(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	g, exists := b.groups[sub.Group]
	if !exists {
		g = &amqpGroup{name: sub.Group}
	}
	g.mu.Lock()
	g.subs = append(g.subs, sub)
	g.mu.Unlock()

	if !b.connectedLocked() {
		// Dropped between ensureConnected and here; the reconnect replays it.
		b.groups[sub.Group] = g
		return nil
	}
	if !exists {
		if err := b.startGroupLocked(g); err != nil {
			g.subs = nil
			return err
		}
		b.groups[sub.Group] = g
	} else if err := g.ch.QueueBind(g.name, sub.Pattern, b.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("binding %s to %s: %w", g.name, sub.Pattern, err)
	}
	b.logger.Info("subscribed", "group", sub.Group, "pattern", sub.Pattern)
	return nil
}

// Publish sends an event and waits for the broker's confirm.
func (b *RabbitMQ) Publish(ctx context.Context, topic string, payload any) error {
	ev, err := NewEvent(topic, payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	err = b.publish(ctx, ev, body)
	if b.opts.Metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		b.opts.Metrics.EventsPublished.WithLabelValues(topic, status).Inc()
	}
	if err != nil {
		return publishFailed(topic, err)
	}
	b.logger.Debug("event published", "topic", topic, "event_id", ev.ID)
	return nil
}

func (b *RabbitMQ) publish(ctx context.Context, ev Event, body []byte) error {
	if err := b.ensureConnected(); err != nil {
		return err
	}
	b.mu.Lock()
	ch := b.pubCh
	b.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("publish channel unavailable")
	}

	msg := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   ev.ID,
		Timestamp:   ev.PublishedAt,
		Type:        ev.Topic,
		Body:        body,
	}
	if b.cfg.Durable {
		msg.DeliveryMode = amqp.Persistent
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, b.cfg.Exchange, ev.Topic, false, false, msg)
	if err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, b.cfg.ConfirmTimeout)
	defer cancel()
	acked, err := confirm.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("waiting for confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker nacked event %s", ev.ID)
	}
	return nil
}

// Close stops consumers and closes the connection. In-flight deliveries
// that were not acknowledged are redelivered by the broker.
func (b *RabbitMQ) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.cancel()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn, b.pubCh = nil, nil
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("closing rabbitmq connection: %w", err)
	}
	return nil
}

// Ping dials if needed, so a readiness probe also performs the lazy connect.
func (b *RabbitMQ) Ping(ctx context.Context) error {
	return b.ensureConnected()
}

// Healthy reports whether a connection is currently open.
func (b *RabbitMQ) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed && b.connectedLocked()
}
