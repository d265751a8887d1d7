// Package realtime fans status changes out to subscribed clients.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const channelPrefix = "agentdeck:"

// Notifier publishes events on topics.
type Notifier interface {
	Publish(ctx context.Context, topic string, event any) error
	// Subscribe delivers events published on topic until cancel is called
	// or ctx ends.
	Subscribe(ctx context.Context, topic string) (events <-chan []byte, cancel func(), err error)
}

// DeploymentTopic is the topic carrying a deployment's status changes.
func DeploymentTopic(id string) string {
	return "deployments:" + id
}

// New returns a Redis-backed notifier, or an in-process one when client is nil.
func New(client *redis.Client, logger zerolog.Logger) Notifier {
	if client == nil {
		return NewMemory()
	}
	return NewRedis(client, logger)
}

// RedisNotifier uses Redis pub/sub so every server instance sees every event.
type RedisNotifier struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedis creates a Redis notifier.
func NewRedis(client *redis.Client, logger zerolog.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, logger: logger.With().Str("component", "realtime").Logger()}
}

// Publish sends event as JSON.
func (n *RedisNotifier) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, channelPrefix+topic, data).Err()
}

// Subscribe listens on topic.
func (n *RedisNotifier) Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error) {
	sub := n.client.Subscribe(ctx, channelPrefix+topic)
	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, err
	}

	out := make(chan []byte, 16)
	ctx, cancelCtx := context.WithCancel(ctx)
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelCtx()
			sub.Close()
		})
	}

	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					n.logger.Warn().Str("topic", topic).Msg("dropping event for slow subscriber")
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return out, cancel, nil
}

// MemoryNotifier delivers events within one process.
type MemoryNotifier struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

// NewMemory creates an in-process notifier.
func NewMemory() *MemoryNotifier {
	return &MemoryNotifier{subs: make(map[string]map[chan []byte]struct{})}
}

// Publish sends event to current subscribers of topic. Slow subscribers
// miss events rather than block the publisher.
func (n *MemoryNotifier) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs[topic] {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// Subscribe listens on topic.
func (n *MemoryNotifier) Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 16)

	n.mu.Lock()
	if n.subs[topic] == nil {
		n.subs[topic] = make(map[chan []byte]struct{})
	}
	n.subs[topic][ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs[topic], ch)
			if len(n.subs[topic]) == 0 {
				delete(n.subs, topic)
			}
			n.mu.Unlock()
			close(ch)
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return ch, cancel, nil
}
