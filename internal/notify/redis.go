package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus carries storage-change events over Redis pub/sub, for engine
// instances running as separate processes. This is the deliberate redesign
// of the single-machine notification mechanism: once instances stop sharing
// a process, "listen for storage events" has to become a real pub/sub
// service, and Redis already backs the mirror channel.
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisBus(client *redis.Client, channel string, logger *slog.Logger) *RedisBus {
	return &RedisBus{client: client, channel: channel, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe consumes the pub/sub channel until ctx is cancelled or the
// returned func is called. Redis delivers publishes to every subscriber
// including the publisher, so own-origin filtering happens here.
func (b *RedisBus) Subscribe(ctx context.Context, origin string) (<-chan Event, func()) {
	sub := b.client.Subscribe(ctx, b.channel)
	out := make(chan Event, memoryBusBuffer)

	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					b.logger.Warn("dropping undecodable bus event",
						slog.String("error", err.Error()),
					)
					continue
				}
				if e.Origin == origin {
					continue
				}
				select {
				case out <- e:
				default:
					// Best-effort delivery, same as the in-process bus.
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, cancel
}
