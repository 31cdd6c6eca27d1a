package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"campusmarket/internal/metrics"
)

const defaultStreamMaxLen = 10000

// RedisStreamConfig configures publishing to a capped Redis stream.
type RedisStreamConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
}

type redisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamPublisher appends events to a Redis stream, for deployments
// that run Redis but no broker. Each entry carries the event type and the
// JSON envelope.
func NewRedisStreamPublisher(cfg RedisStreamConfig) (Publisher, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	return newRedisStreamPublisher(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
	}), cfg.Stream, cfg.MaxLen), nil
}

func newRedisStreamPublisher(client *redis.Client, stream string, maxLen int64) *redisStreamPublisher {
	if stream = strings.TrimSpace(stream); stream == "" {
		stream = "campusmarket:events"
	}
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &redisStreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *redisStreamPublisher) Publish(ctx context.Context, event Envelope) error {
	body, err := json.Marshal(event)
	if err != nil {
		metrics.ObserveEvent(event.EventType, err)
		return err
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_type": event.EventType,
			"body":       string(body),
		},
	}).Err()
	metrics.ObserveEvent(event.EventType, err)
	return err
}

func (p *redisStreamPublisher) Close() error {
	return p.client.Close()
}
