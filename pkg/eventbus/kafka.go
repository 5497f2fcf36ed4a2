package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/config"
)

// Kafka maps each routing key to its own topic (TopicPrefix + key) and
// each consumer group to a Kafka consumer group. Kafka has no wildcard
// routing, so only literal patterns can be subscribed.
//
// A process runs one reader per group covering all of the group's topics.
// Subscribing another topic to a running group replaces its reader; the
// uncommitted message, if any, is redelivered to the new one.
type Kafka struct {
	cfg    config.KafkaConfig
	d      *dispatcher
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	writer  *kafka.Writer
	groups  map[string]*kafkaGroup
	closed  bool
	healthy atomic.Bool
}

type kafkaGroup struct {
	subs   []Subscription
	reader *kafka.Reader
	cancel context.CancelFunc
	done   chan struct{}
}

// stop ends the group's consume loop and closes its reader.
func (g *kafkaGroup) stop() error {
	if g.reader == nil {
		return nil
	}
	g.cancel()
	<-g.done
	return g.reader.Close()
}

// NewKafka returns a client; the writer and readers are created on first
// use.
func NewKafka(cfg config.KafkaConfig, opts Options) *Kafka {
	ctx, cancel := context.WithCancel(context.Background())
	return &Kafka{
		cfg:    cfg,
		d:      newDispatcher(opts, "kafka"),
		opts:   opts,
		logger: slog.Default().With("component", "eventbus", "driver", "kafka"),
		ctx:    ctx,
		cancel: cancel,
		groups: make(map[string]*kafkaGroup),
	}
}

func (k *Kafka) topicFor(routingKey string) string {
	return k.cfg.TopicPrefix + routingKey
}

func (k *Kafka) getWriter() (*kafka.Writer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, ErrClosed
	}
	if k.writer == nil {
		k.writer = &kafka.Writer{
			Addr:                   kafka.TCP(k.cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			BatchSize:              1,
			BatchTimeout:           10 * time.Millisecond,
			MaxAttempts:            3,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			Async:                  false,
		}
	}
	return k.writer, nil
}

// Publish writes synchronously with RequireAll acks. The routing key is the
// message key so one topic stays on one partition and keeps its order.
func (k *Kafka) Publish(ctx context.Context, topic string, payload any) error {
	ev, err := NewEvent(topic, payload)
	if err != nil {
		return err
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	w, err := k.getWriter()
	if err != nil {
		return publishFailed(topic, err)
	}
	err = w.WriteMessages(ctx, kafka.Message{
		Topic: k.topicFor(topic),
		Key:   []byte(topic),
		Value: value,
		Time:  ev.PublishedAt,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(ev.ID)},
		},
	})
	k.setHealthy(err == nil)
	if k.opts.Metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		k.opts.Metrics.EventsPublished.WithLabelValues(topic, status).Inc()
	}
	if err != nil {
		k.logger.Error("failed to publish message", "topic", topic, "event_id", ev.ID, "error", err)
		return publishFailed(topic, err)
	}
	k.logger.Debug("message published", "topic", topic, "event_id", ev.ID, "value_size", len(value))
	return nil
}

// Subscribe adds the literal topic to the group's reader.
func (k *Kafka) Subscribe(ctx context.Context, sub Subscription) error {
	if err := sub.validate(); err != nil {
		return err
	}
	if !IsLiteral(sub.Pattern) {
		return fmt.Errorf("kafka driver cannot subscribe to wildcard pattern %q", sub.Pattern)
	}

	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return ErrClosed
	}
	old := k.groups[sub.Group]
	subs := []Subscription{sub}
	if old != nil {
		subs = append(append([]Subscription(nil), old.subs...), sub)
	}
	cfg := k.readerConfig(sub.Group, subs)
	gctx, gcancel := context.WithCancel(k.ctx)
	g := &kafkaGroup{
		subs:   subs,
		reader: kafka.NewReader(cfg),
		cancel: gcancel,
		done:   make(chan struct{}),
	}
	k.groups[sub.Group] = g
	k.wg.Add(1)
	k.mu.Unlock()

	if old != nil {
		if err := old.stop(); err != nil {
			k.logger.Warn("closing replaced reader", "group", sub.Group, "error", err)
		}
	}
	go func() {
		defer k.wg.Done()
		defer close(g.done)
		k.consume(gctx, g.reader, sub.Group, subs)
	}()
	k.logger.Info("subscribed", "group", sub.Group, "topics", cfg.GroupTopics)
	return nil
}

// readerConfig builds one consumer-group reader over every topic subs
// listen on.
func (k *Kafka) readerConfig(group string, subs []Subscription) kafka.ReaderConfig {
	seen := make(map[string]bool, len(subs))
	var topics []string
	for _, s := range subs {
		t := k.topicFor(s.Pattern)
		if !seen[t] {
			seen[t] = true
			topics = append(topics, t)
		}
	}
	sort.Strings(topics)
	return kafka.ReaderConfig{
		Brokers:     k.cfg.Brokers,
		GroupID:     group,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	}
}

// consume fetches, dispatches and commits. A message whose handler asks
// for redelivery is retried in place so the partition never skips it.
func (k *Kafka) consume(ctx context.Context, r *kafka.Reader, group string, subs []Subscription) {
	logger := k.logger.With("group", group)
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			k.healthy.Store(false)
			logger.Error("failed to fetch message", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		k.healthy.Store(true)
		routingKey := strings.TrimPrefix(msg.Topic, k.cfg.TopicPrefix)
		ev := decodeEnvelope(msg.Value, routingKey, headerValue(msg.Headers, "event-id"), msg.Time)
		if ev.ID == "" {
			ev.ID = msg.Topic + "/" + strconv.Itoa(msg.Partition) + "/" + strconv.FormatInt(msg.Offset, 10)
		}
		for k.d.deliver(ctx, group, subscribedTo(subs, routingKey), ev) == outcomeRequeue {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Error("failed to commit message",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// subscribedTo returns the subscriptions of a group reader listening on
// routingKey.
func subscribedTo(subs []Subscription, routingKey string) []Subscription {
	var out []Subscription
	for _, s := range subs {
		if s.Pattern == routingKey {
			out = append(out, s)
		}
	}
	return out
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (k *Kafka) setHealthy(v bool) { k.healthy.Store(v) }

// Ping dials the first reachable broker.
func (k *Kafka) Ping(ctx context.Context) error {
	var lastErr error
	for _, addr := range k.cfg.Brokers {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		conn.Close()
		k.setHealthy(true)
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no brokers configured")
	}
	k.setHealthy(false)
	return lastErr
}

// Close stops readers and flushes the writer.
func (k *Kafka) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.cancel()
	groups := k.groups
	writer := k.writer
	k.mu.Unlock()

	k.wg.Wait()
	var firstErr error
	for _, g := range groups {
		if err := g.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Healthy reports the outcome of the latest broker interaction.
func (k *Kafka) Healthy() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.healthy.Load() && !k.closed
}
