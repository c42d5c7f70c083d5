package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisChannel = "goals:changes"

// Redis fans changes out to every service instance subscribed to the same channel.
// Messages published by this instance (same origin) are not handed back to it.
type Redis struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *slog.Logger
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(redisURL, channel, origin string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisWithClient(client, channel, origin, logger), nil
}

func NewRedisWithClient(client *redis.Client, channel, origin string, logger *slog.Logger) *Redis {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &Redis{client: client, channel: channel, origin: origin, logger: logger}
}

func (r *Redis) Publish(ctx context.Context, change Change) error {
	if change.Origin == "" {
		change.Origin = r.origin
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Listen subscribes and delivers remote changes to h until ctx is done.
func (r *Redis) Listen(ctx context.Context, h Handler) error {
	sub, err := r.Subscribe(ctx)
	if err != nil {
		return err
	}
	return sub.Run(ctx, h)
}

// Subscribe returns once the channel subscription is confirmed by the server.
func (r *Redis) Subscribe(ctx context.Context) (*RedisSubscription, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	return &RedisSubscription{pubsub: pubsub, feed: r}, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type RedisSubscription struct {
	pubsub *redis.PubSub
	feed   *Redis
}

// Run dispatches messages until ctx is done. A re-subscription after a dropped
// connection is reported to h as a resync, since messages sent meanwhile are lost.
func (s *RedisSubscription) Run(ctx context.Context, h Handler) error {
	defer s.pubsub.Close()

	ch := s.pubsub.ChannelWithSubscriptions()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			switch m := msg.(type) {
			case *redis.Subscription:
				if m.Kind == "subscribe" {
					s.feed.logger.Info("redis change feed resubscribed", "channel", m.Channel)
					h(Resync(s.feed.origin, time.Now()))
				}
			case *redis.Message:
				var change Change
				if err := json.Unmarshal([]byte(m.Payload), &change); err != nil {
					s.feed.logger.Warn("dropping malformed change", "channel", m.Channel, "error", err)
					continue
				}
				if change.Origin != "" && change.Origin == s.feed.origin {
					continue
				}
				h(change)
			}
		}
	}
}

func (s *RedisSubscription) Close() error {
	return s.pubsub.Close()
}
