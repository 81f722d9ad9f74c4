package bus

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

// DefaultBufferSize is the per-subscription buffer when a subscriber
// doesn't request a specific size.
const DefaultBufferSize = 1024

// DefaultHeartbeatInterval is how often the bus self-publishes on
// TopicHeartbeat.
const DefaultHeartbeatInterval = 30 * time.Second

// DefaultRPCTimeout is the mandatory timeout for RequestResponse when the
// caller doesn't override it (matches the risk_check default).
const DefaultRPCTimeout = 500 * time.Millisecond

// lagMarker describes how many envelopes a topic's subscriber lost to
// overflow. The bus does not deliver it: drops are counted in the topic's
// TopicStats.Dropped, and the subscriber itself is not told.
type lagMarker struct {
	Topic   string
	Dropped uint64
}

type subscription struct {
	id      string
	topic   string
	ch      chan Envelope
	handler Handler
	bus     *InProcessBus
	closed  atomic.Bool
}

func (s *subscription) Unsubscribe() {
	if s.closed.Swap(true) {
		return
	}
	s.bus.removeSubscription(s.topic, s.id)
	close(s.ch)
}

type pendingCall struct {
	replyCh chan Envelope
	topic   string // request topic; the request itself is not routed back as its reply
}

type counters struct {
	published       atomic.Uint64
	delivered       atomic.Uint64
	dropped         atomic.Uint64
	handlerFailures atomic.Uint64
}

// InProcessBus is the default Bus implementation: a worker pool per
// subscription, bounded channels with oldest-message-drop on overflow,
// and request/response correlation for the risk_check RPC pattern.
type InProcessBus struct {
	sourceID string
	logger   zerolog.Logger
	workers  int

	mu    sync.RWMutex
	subs  map[string][]*subscription
	stats map[string]*counters

	pendingMu sync.Mutex
	pending   map[string]*pendingCall

	cancel context.CancelFunc
	wg     sync.WaitGroup
	hbStop chan struct{}
}

// NewInProcessBus builds a bus with workers goroutines servicing each
// subscription's delivery loop (one goroutine per subscription, bounded
// by the subscription's own channel — "workers" here names the
// concurrency model, not a fixed-size shared pool, matching the
// requirement that a slow subscriber never blocks another).
func NewInProcessBus(sourceID string, logger zerolog.Logger) *InProcessBus {
	return &InProcessBus{
		sourceID: sourceID,
		logger:   logger.With().Str("component", "bus").Logger(),
		subs:     make(map[string][]*subscription),
		stats:    make(map[string]*counters),
		pending:  make(map[string]*pendingCall),
		hbStop:   make(chan struct{}),
	}
}

func (b *InProcessBus) statsFor(topic string) *counters {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.stats[topic]
	if !ok {
		c = &counters{}
		b.stats[topic] = c
	}
	return c
}

// Start brings up the heartbeat loop. Per-subscription delivery loops are
// started at Subscribe time, since they have nothing to do until a
// subscriber exists.
func (b *InProcessBus) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	b.wg.Add(1)
	go b.heartbeatLoop(ctx)

	b.logger.Info().Str("source_id", b.sourceID).Msg("event bus started")
	return nil
}

func (b *InProcessBus) heartbeatLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(DefaultHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.hbStop:
			return
		case <-ticker.C:
			pct, err := cpu.Percent(0, false)
			cpuPct := 0.0
			if err == nil && len(pct) > 0 {
				cpuPct = pct[0]
			}
			env := NewEnvelope(TopicHeartbeat, b.sourceID, map[string]interface{}{
				"source_id":  b.sourceID,
				"cpu_pct":    cpuPct,
				"goroutines": runtime.NumGoroutine(),
			})
			if err := b.Publish(ctx, env); err != nil {
				b.logger.Warn().Err(err).Msg("heartbeat publish failed")
			}
		}
	}
}

// Stop drains pending deliveries up to grace, then aborts.
func (b *InProcessBus) Stop(grace time.Duration) error {
	close(b.hbStop)
	if b.cancel != nil {
		b.cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		b.logger.Warn().Dur("grace", grace).Msg("bus stop grace period exceeded, aborting")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subs {
		for _, s := range subs {
			if !s.closed.Swap(true) {
				close(s.ch)
			}
		}
		delete(b.subs, topic)
	}
	return nil
}

// Publish is non-blocking: it writes to each subscriber's buffered
// channel without waiting for the handler to run, dropping the oldest
// queued envelope on overflow.
func (b *InProcessBus) Publish(ctx context.Context, env Envelope) error {
	if env.Version == 0 {
		env.Version = EnvelopeVersion
	}
	if env.TS.IsZero() {
		env.TS = time.Now().UTC()
	}

	c := b.statsFor(env.Topic)
	c.published.Add(1)

	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[env.Topic]...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliverOne(s, env, c)
	}

	if env.CorrelationID != "" {
		b.pendingMu.Lock()
		call, ok := b.pending[env.CorrelationID]
		b.pendingMu.Unlock()
		if ok && env.Topic != call.topic {
			select {
			case call.replyCh <- env:
			default:
			}
		}
	}

	return nil
}

// deliverOne pushes env onto s's channel, dropping the oldest queued
// envelope (counted in the topic's Dropped stat; no marker is delivered
// to the subscriber) rather than blocking the publisher.
func (b *InProcessBus) deliverOne(s *subscription, env Envelope, c *counters) {
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- env:
		c.delivered.Add(1)
	default:
		select {
		case <-s.ch:
			c.dropped.Add(1)
		default:
		}
		select {
		case s.ch <- env:
			c.delivered.Add(1)
		default:
			c.dropped.Add(1)
		}
	}
}

// Subscribe registers handler on topic and starts its delivery goroutine.
func (b *InProcessBus) Subscribe(topic string, bufSize int, handler Handler) Subscription {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	s := &subscription{
		id:      uuid.NewString(),
		topic:   topic,
		ch:      make(chan Envelope, bufSize),
		handler: handler,
		bus:     b,
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.deliveryLoop(s)

	return s
}

func (b *InProcessBus) deliveryLoop(s *subscription) {
	defer b.wg.Done()
	for env := range s.ch {
		b.invokeHandler(s, env)
	}
}

// invokeHandler runs the subscriber's handler, recovering from panics so
// one misbehaving subscriber never takes down the bus or other
// subscribers.
func (b *InProcessBus) invokeHandler(s *subscription, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.statsFor(env.Topic).handlerFailures.Add(1)
			b.logger.Error().
				Str("topic", env.Topic).
				Str("correlation_id", env.CorrelationID).
				Interface("panic", r).
				Msg("subscriber handler panicked")
		}
	}()
	s.handler(context.Background(), env)
}

func (b *InProcessBus) removeSubscription(topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// RequestResponse publishes a request envelope with a fresh correlation
// id and blocks until a reply with a matching correlation id arrives or
// timeout elapses.
func (b *InProcessBus) RequestResponse(ctx context.Context, topic string, payload interface{}, timeout time.Duration) (Envelope, error) {
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}

	correlationID := uuid.NewString()
	replyCh := make(chan Envelope, 1)

	b.pendingMu.Lock()
	b.pending[correlationID] = &pendingCall{replyCh: replyCh, topic: topic}
	b.pendingMu.Unlock()

	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, correlationID)
		b.pendingMu.Unlock()
	}()

	req := Envelope{
		Topic:         topic,
		Version:       EnvelopeVersion,
		SourceID:      b.sourceID,
		TS:            time.Now().UTC(),
		CorrelationID: correlationID,
		Payload:       payload,
	}
	if err := b.Publish(ctx, req); err != nil {
		return Envelope{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-timer.C:
		return Envelope{}, types.ErrRPCTimeout
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Reply delivers payload to whoever is awaiting correlationID via
// RequestResponse. Replier components (e.g. the risk engine) call this
// from their subscription handler for the request topic.
func (b *InProcessBus) Reply(ctx context.Context, correlationID string, payload interface{}) error {
	b.pendingMu.Lock()
	call, ok := b.pending[correlationID]
	b.pendingMu.Unlock()
	if !ok {
		return nil // caller already gave up; reply is a no-op, not an error
	}

	env := Envelope{
		Version:       EnvelopeVersion,
		SourceID:      b.sourceID,
		TS:            time.Now().UTC(),
		CorrelationID: correlationID,
		Payload:       payload,
	}
	select {
	case call.replyCh <- env:
	default:
	}
	return nil
}

// Stats returns a point-in-time snapshot of per-topic counters.
func (b *InProcessBus) Stats() map[string]TopicStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]TopicStats, len(b.stats))
	for topic, c := range b.stats {
		out[topic] = TopicStats{
			Published:       c.published.Load(),
			Delivered:       c.delivered.Load(),
			Dropped:         c.dropped.Load(),
			HandlerFailures: c.handlerFailures.Load(),
		}
	}
	return out
}
