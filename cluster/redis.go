package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/candleclock"
)

// DefaultRedisChannel is the pub/sub channel hints travel on.
const DefaultRedisChannel = "candleclock:hints"

// Redis broadcasts hints over a pub/sub channel and, via Listen, feeds
// received hints into the local worker. Refresh broadcasts are
// coalesced so a burst of cancellations produces one message.
type Redis struct {
	client  redis.UniversalClient
	channel string
	refresh *rate.Limiter
}

var _ candleclock.Broadcaster = (*Redis)(nil)

// NewRedis builds the transport on an existing client.
func NewRedis(client redis.UniversalClient, channel string) (*Redis, error) {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if err := validChannel(channel); err != nil {
		return nil, err
	}
	return &Redis{
		client:  client,
		channel: channel,
		refresh: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}, nil
}

func (r *Redis) NotifyExpiry(ctx context.Context, at time.Time) error {
	payload, err := encodeExpiry(at)
	if err != nil {
		return fmt.Errorf("cluster: encode hint: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("cluster: publish hint: %w", err)
	}
	return nil
}

func (r *Redis) NotifyRefresh(ctx context.Context) error {
	if !r.refresh.Allow() {
		return nil
	}
	payload, err := encodeRefresh()
	if err != nil {
		return fmt.Errorf("cluster: encode hint: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("cluster: publish hint: %w", err)
	}
	return nil
}

// Listen subscribes to the hint channel and forwards messages until ctx
// is cancelled. Run it on its own goroutine, one per node.
func (r *Redis) Listen(ctx context.Context, h Hinter) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Force the subscription before reporting readiness.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("cluster: subscribe %s: %w", r.channel, err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("cluster: subscription to %s closed", r.channel)
			}
			deliver([]byte(msg.Payload), h)
		}
	}
}
