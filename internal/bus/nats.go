package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/regwatchd/internal/config"
)

const subscriptionBuffer = 256

// NATSBus is the NATS-backed Bus implementation.
//
// Each subscribed topic gets a ChanSubscribe subscription and a single
// reader goroutine, so one topic's messages are handled in publish order
// while topics proceed independently of one another.
type NATSBus struct {
	nc     *nats.Conn
	logger *zap.Logger

	mu      sync.Mutex
	subs    map[string]*nats.Subscription
	cancel  context.CancelFunc
	ctx     context.Context
	readers sync.WaitGroup
}

// Connect dials NATS and returns a ready bus.
func Connect(cfg config.BusConfig, logger *zap.Logger) (*NATSBus, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}
	return NewNATSBus(nc, logger), nil
}

// NewNATSBus wraps an existing NATS connection. The caller keeps ownership
// of the connection; Close drains subscriptions but does not close it.
func NewNATSBus(nc *nats.Conn, logger *zap.Logger) *NATSBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &NATSBus{
		nc:     nc,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Publish marshals the payload as JSON and publishes it. Publish is
// fire-and-forget: an error is returned for the caller to log, but no
// retry is attempted.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		publishFailures.WithLabelValues(topic).Inc()
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}
	if err := b.nc.Publish(topic, data); err != nil {
		publishFailures.WithLabelValues(topic).Inc()
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	published.WithLabelValues(topic).Inc()
	b.logger.Debug("published", zap.String("topic", topic), zap.Int("bytes", len(data)))
	return nil
}

// Subscribe registers the handler for a topic and starts its reader.
// Re-subscribing an already subscribed topic logs a warning and is a no-op.
func (b *NATSBus) Subscribe(topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[topic]; ok {
		b.logger.Warn("already subscribed, ignoring", zap.String("topic", topic))
		return nil
	}

	ch := make(chan *nats.Msg, subscriptionBuffer)
	sub, err := b.nc.ChanSubscribe(topic, ch)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	b.subs[topic] = sub

	b.readers.Add(1)
	go b.readLoop(topic, ch, handler)

	b.logger.Info("subscribed", zap.String("topic", topic))
	return nil
}

// readLoop delivers messages for one topic in order. Handler errors and
// panics are contained per message; a poisoned message never stops the loop.
func (b *NATSBus) readLoop(topic string, ch chan *nats.Msg, handler Handler) {
	defer b.readers.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.dispatch(topic, msg.Data, handler)
		}
	}
}

func (b *NATSBus) dispatch(topic string, data []byte, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			handlerFailures.WithLabelValues(topic).Inc()
			b.logger.Error("handler panic",
				zap.String("topic", topic),
				zap.Any("panic", r))
		}
	}()

	if err := handler(b.ctx, data); err != nil {
		handlerFailures.WithLabelValues(topic).Inc()
		b.logger.Error("handler failed",
			zap.String("topic", topic),
			zap.Error(err))
		return
	}
	delivered.WithLabelValues(topic).Inc()
}

// Close cancels all reader loops and drops subscriptions. In-flight handler
// invocations finish; messages still queued are discarded.
func (b *NATSBus) Close() {
	b.mu.Lock()
	for topic, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("unsubscribe failed", zap.String("topic", topic), zap.Error(err))
		}
	}
	b.subs = make(map[string]*nats.Subscription)
	b.mu.Unlock()

	b.cancel()
	b.readers.Wait()
}
