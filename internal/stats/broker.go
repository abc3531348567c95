// Package stats fans ledger updates out to connected clients. The write path
// publishes through Redis so every API instance sees every update, and each
// instance relays them to its own websocket subscribers.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/rootedhq/rooted/backend/internal/services/ledger"
)

const defaultChannel = "rooted:stats"

// Broker bridges the Redis stats channel and in-process subscribers.
// It implements ledger.Publisher on the producing side.
type Broker struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger

	mu   sync.Mutex
	subs map[chan ledger.Update]struct{}
}

func NewBroker(client *redis.Client, channel string, logger *slog.Logger) *Broker {
	if channel == "" {
		channel = defaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		client:  client,
		channel: channel,
		logger:  logger,
		subs:    make(map[chan ledger.Update]struct{}),
	}
}

// Publish sends one update to the shared channel.
func (b *Broker) Publish(ctx context.Context, update ledger.Update) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal stats update: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish stats update: %w", err)
	}
	return nil
}

// Run consumes the channel and relays updates to subscribers until ctx ends.
func (b *Broker) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe stats channel: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var update ledger.Update
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				b.logger.Warn("stats update dropped", slog.String("error", err.Error()))
				continue
			}
			b.broadcast(update)
		}
	}
}

// Subscribe registers a buffered listener. Slow listeners drop updates
// rather than stalling the relay; clients resync from the REST endpoint.
func (b *Broker) Subscribe() chan ledger.Update {
	ch := make(chan ledger.Update, 8)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(ch chan ledger.Update) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Broker) broadcast(update ledger.Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- update:
		default:
		}
	}
}
