package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Memory is an in-process bus with the same routing, group and
// redelivery semantics as the broker drivers. It backs tests and
// single-binary development setups.
type Memory struct {
	d      *dispatcher
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	groups map[string]*memGroup
	closed bool
	// RequeueDelay spaces out redeliveries of a failing event.
	RequeueDelay time.Duration
}

type memGroup struct {
	name  string
	subs  []Subscription
	queue []Event
	cond  *sync.Cond
}

func NewMemory(opts Options) *Memory {
	ctx, cancel := context.WithCancel(context.Background())
	return &Memory{
		d:            newDispatcher(opts, "memory"),
		opts:         opts,
		logger:       slog.Default().With("component", "eventbus", "driver", "memory"),
		ctx:          ctx,
		cancel:       cancel,
		groups:       make(map[string]*memGroup),
		RequeueDelay: 50 * time.Millisecond,
	}
}

// Publish enqueues one copy per group with a matching binding.
func (m *Memory) Publish(ctx context.Context, topic string, payload any) error {
	ev, err := NewEvent(topic, payload)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return publishFailed(topic, err)
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return publishFailed(topic, ErrClosed)
	}
	for _, g := range m.groups {
		for _, s := range g.subs {
			if MatchTopic(s.Pattern, topic) {
				g.queue = append(g.queue, ev)
				g.cond.Signal()
				break
			}
		}
	}
	m.mu.Unlock()
	if m.opts.Metrics != nil {
		m.opts.Metrics.EventsPublished.WithLabelValues(topic, "ok").Inc()
	}
	return nil
}

// Subscribe binds sub; the group's worker starts with its first binding.
func (m *Memory) Subscribe(ctx context.Context, sub Subscription) error {
	if err := sub.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	g, ok := m.groups[sub.Group]
	if !ok {
		g = &memGroup{name: sub.Group, cond: sync.NewCond(&m.mu)}
		m.groups[sub.Group] = g
		m.wg.Add(1)
		go m.work(g)
	}
	g.subs = append(g.subs, sub)
	return nil
}

func (m *Memory) work(g *memGroup) {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		for len(g.queue) == 0 && !m.closed {
			g.cond.Wait()
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		ev := g.queue[0]
		g.queue = g.queue[1:]
		var subs []Subscription
		for _, s := range g.subs {
			if MatchTopic(s.Pattern, ev.Topic) {
				subs = append(subs, s)
			}
		}
		m.mu.Unlock()

		if m.d.deliver(m.ctx, g.name, subs, ev) != outcomeRequeue {
			continue
		}
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(m.RequeueDelay):
		}
		m.mu.Lock()
		g.queue = append(g.queue, ev)
		m.mu.Unlock()
	}
}

// Pending returns the number of undelivered events across all groups.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, g := range m.groups {
		n += len(g.queue)
	}
	return n
}

func (m *Memory) Ping(ctx context.Context) error {
	if !m.Healthy() {
		return ErrClosed
	}
	return nil
}

// Close stops the workers. Queued events are discarded.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cancel()
	for _, g := range m.groups {
		g.cond.Broadcast()
	}
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}

func (m *Memory) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}
