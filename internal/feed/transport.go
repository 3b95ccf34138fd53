package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/observ"
)

// Transport moves raw feed messages. Delivery is at-least-once at best and
// unordered across channels; nothing is replayed after a gap.
type Transport interface {
	Publish(ctx context.Context, channel string, data []byte) error
	// Subscribe calls handle for every message on channel until the
	// returned close func is called.
	Subscribe(ctx context.Context, channel string, handle func([]byte)) (func() error, error)
}

// RedisTransport runs the feed over Redis pub/sub.
type RedisTransport struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisTransport(client *redis.Client, log *zap.Logger) *RedisTransport {
	return &RedisTransport{client: client, log: observ.OrNop(log)}
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, data []byte) error {
	if err := t.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string, handle func([]byte)) (func() error, error) {
	ps := t.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so nothing published after
	// we return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			handle([]byte(msg.Payload))
		}
		t.log.Debug("redis subscription closed", zap.String("channel", channel))
	}()

	return func() error {
		err := ps.Close()
		<-done
		return err
	}, nil
}

// NatsTransport runs the feed over core NATS subjects.
type NatsTransport struct {
	conn *nats.Conn
}

func NewNatsTransport(conn *nats.Conn) *NatsTransport {
	return &NatsTransport{conn: conn}
}

func (t *NatsTransport) Publish(_ context.Context, channel string, data []byte) error {
	if err := t.conn.Publish(channel, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", channel, err)
	}
	return nil
}

func (t *NatsTransport) Subscribe(_ context.Context, channel string, handle func([]byte)) (func() error, error) {
	sub, err := t.conn.Subscribe(channel, func(m *nats.Msg) {
		handle(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", channel, err)
	}
	if err := t.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	return sub.Unsubscribe, nil
}

// MemoryTransport delivers in-process, synchronously, on the publisher's
// goroutine. Used with STORE_DRIVER=memory and in tests.
type MemoryTransport struct {
	mu     sync.RWMutex
	subs   map[string]map[int]func([]byte)
	nextID int
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string]map[int]func([]byte))}
}

func (t *MemoryTransport) Publish(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.RLock()
	handlers := make([]func([]byte), 0, len(t.subs[channel]))
	for _, h := range t.subs[channel] {
		handlers = append(handlers, h)
	}
	t.mu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

func (t *MemoryTransport) Subscribe(_ context.Context, channel string, handle func([]byte)) (func() error, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subs[channel] == nil {
		t.subs[channel] = make(map[int]func([]byte))
	}
	id := t.nextID
	t.nextID++
	t.subs[channel][id] = handle

	return func() error {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs[channel], id)
		if len(t.subs[channel]) == 0 {
			delete(t.subs, channel)
		}
		return nil
	}, nil
}

// Subscribers reports how many subscriptions channel has.
func (t *MemoryTransport) Subscribers(channel string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs[channel])
}
