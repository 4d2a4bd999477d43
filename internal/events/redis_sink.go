package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisSinkConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
}

// RedisSink appends events to a Redis stream for out-of-process consumers.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisSink(cfg RedisSinkConfig) (*RedisSink, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("event stream required")
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisSink{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream: stream,
		maxLen: maxLen,
	}, nil
}

func (s *RedisSink) Deliver(ctx context.Context, e Event) error {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"kind":        string(e.Kind),
			"user_id":     e.UserID.String(),
			"title":       e.Title,
			"message":     e.Message,
			"type":        string(e.Type),
			"occurred_at": e.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
