package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	v1 "inbox/contracts/realtime/v1"

	"github.com/redis/go-redis/v9"
)

// RelayChannel returns the pub/sub channel shared by every instance of a deployment.
func RelayChannel(instance string) string {
	return fmt.Sprintf("inbox:%s:events", instance)
}

// RedisRelay fans events out across instances through Redis pub/sub.
//
// Publish sends to the shared channel; every instance (the publisher included) runs
// a subscription that forwards received events to its local Hub. When the Redis
// publish fails the event is delivered to the local Hub directly and the error is
// still returned so the caller can record it.
type RedisRelay struct {
	log     *slog.Logger
	rdb     *redis.Client
	hub     *Hub
	channel string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisRelay constructs a relay. The relay does not own rdb.
func NewRedisRelay(log *slog.Logger, rdb *redis.Client, hub *Hub, instance string) (*RedisRelay, error) {
	if rdb == nil {
		return nil, errors.New("realtime: nil redis client")
	}
	if hub == nil {
		return nil, errors.New("realtime: nil hub")
	}
	if instance == "" {
		return nil, errors.New("realtime: empty relay instance name")
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisRelay{
		log:     log.With("component", "relay.redis"),
		rdb:     rdb,
		hub:     hub,
		channel: RelayChannel(instance),
	}, nil
}

// Channel returns the pub/sub channel name.
func (r *RedisRelay) Channel() string { return r.channel }

// Publish sends ev to every instance.
func (r *RedisRelay) Publish(ctx context.Context, ev v1.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode relay event: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, b).Err(); err != nil {
		_ = r.hub.Publish(ctx, ev)
		return fmt.Errorf("redis publish (delivered locally): %w", err)
	}
	return nil
}

// Start subscribes to the relay channel and forwards events to the local Hub until
// ctx is cancelled or Close is called. It returns once the subscription is confirmed,
// so events published after Start returns are not missed.
func (r *RedisRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return errors.New("realtime: relay already started")
	}

	pubsub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev v1.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.log.Warn("relay.decode.fail", "err", err)
					continue
				}
				if err := ev.Validate(); err != nil {
					r.log.Warn("relay.event.invalid", "err", err)
					continue
				}
				_ = r.hub.Publish(subCtx, ev)
			}
		}
	}(r.done)

	r.log.Info("relay.subscribed", "channel", r.channel)
	return nil
}

// Close stops the subscription and waits for the forwarding goroutine to exit.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
