// Package bus provides the in-process event bridge decoupling connection I/O
// from conversation processing. Publish is fire-and-forget; each topic has a
// single dispatcher goroutine delivering envelopes to subscribers in publish
// order. Delivery is at-most-once: handler errors and panics are logged and
// never surfaced to the publisher.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Topic identifies an event stream on the bridge.
type Topic string

// Topics used by the gateway core.
const (
	TopicMessageReceived Topic = "message.received"
	TopicMessageSend     Topic = "message.send"
)

const queueBuffer = 256

// InboundMessage is the envelope published on message.received.
type InboundMessage struct {
	SessionID string    `json:"session_id"`
	From      string    `json:"from"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	IsGroup   bool      `json:"is_group"`
	ChatID    string    `json:"chat_id"`
}

// OutboundMessage is the envelope published on message.send.
type OutboundMessage struct {
	SessionID string `json:"session_id"`
	To        string `json:"to"`
	Body      string `json:"body"`
}

// Handler processes one envelope. Returned errors are logged by the bridge
// and never reach the publisher.
type Handler func(ctx context.Context, envelope any) error

type topicQueue struct {
	ch       chan any
	mu       sync.RWMutex
	handlers []Handler
}

// Bridge is the process-wide publish/subscribe bridge.
type Bridge struct {
	mu     sync.Mutex
	topics map[Topic]*topicQueue
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewBridge creates a bridge. Dispatchers run until Shutdown.
func NewBridge(log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		topics: map[Topic]*topicQueue{},
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "bus")),
	}
}

// Publish enqueues an envelope for the topic and returns immediately.
// Envelopes are dropped, with a log line, when the topic queue is full or
// the bridge is shut down.
func (b *Bridge) Publish(topic Topic, envelope any) {
	q := b.queue(topic)
	select {
	case <-b.ctx.Done():
		b.logger.Warn("publish after shutdown", slog.String("topic", string(topic)))
	case q.ch <- envelope:
	default:
		b.logger.Error("topic queue full, envelope dropped", slog.String("topic", string(topic)))
	}
}

// Subscribe registers a handler invoked once per published envelope, in
// publish order, for the lifetime of the process.
func (b *Bridge) Subscribe(topic Topic, handler Handler) {
	if handler == nil {
		return
	}
	q := b.queue(topic)
	q.mu.Lock()
	q.handlers = append(q.handlers, handler)
	q.mu.Unlock()
}

// Shutdown stops all dispatchers after draining in-flight envelopes.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) queue(topic Topic) *topicQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.topics[topic]
	if !ok {
		q = &topicQueue{ch: make(chan any, queueBuffer)}
		b.topics[topic] = q
		b.wg.Add(1)
		go b.dispatch(topic, q)
	}
	return q
}

func (b *Bridge) dispatch(topic Topic, q *topicQueue) {
	defer b.wg.Done()
	for {
		select {
		case envelope := <-q.ch:
			b.deliver(topic, q, envelope)
		case <-b.ctx.Done():
			// Drain what was already published before shutdown.
			for {
				select {
				case envelope := <-q.ch:
					b.deliver(topic, q, envelope)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) deliver(topic Topic, q *topicQueue, envelope any) {
	q.mu.RLock()
	handlers := make([]Handler, len(q.handlers))
	copy(handlers, q.handlers)
	q.mu.RUnlock()

	for _, handler := range handlers {
		b.invoke(topic, handler, envelope)
	}
}

func (b *Bridge) invoke(topic Topic, handler Handler, envelope any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				slog.String("topic", string(topic)),
				slog.Any("panic", r))
		}
	}()
	if err := handler(context.WithoutCancel(b.ctx), envelope); err != nil {
		b.logger.Error("subscriber failed",
			slog.String("topic", string(topic)),
			slog.Any("error", err))
	}
}
