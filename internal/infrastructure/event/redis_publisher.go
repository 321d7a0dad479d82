package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/konozy/ordersync/internal/domain/execution"
)

// DefaultStreamKey is the Redis stream execution events are published to
const DefaultStreamKey = "konozy:events"

// Ensure RedisStreamPublisher implements Publisher
var _ Publisher = (*RedisStreamPublisher)(nil)

// RedisStreamPublisher appends execution events to a Redis stream with XADD.
type RedisStreamPublisher struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// RedisStreamPublisherOption is a functional option for configuring RedisStreamPublisher
type RedisStreamPublisherOption func(*RedisStreamPublisher)

// WithStreamKey overrides the stream key
func WithStreamKey(key string) RedisStreamPublisherOption {
	return func(p *RedisStreamPublisher) {
		if key != "" {
			p.stream = key
		}
	}
}

// WithStreamMaxLen trims the stream approximately to n entries; 0 disables trimming
func WithStreamMaxLen(n int64) RedisStreamPublisherOption {
	return func(p *RedisStreamPublisher) {
		p.maxLen = n
	}
}

// NewRedisStreamPublisher creates a publisher on an existing Redis client
func NewRedisStreamPublisher(client redis.Cmdable, opts ...RedisStreamPublisherOption) *RedisStreamPublisher {
	p := &RedisStreamPublisher{
		client: client,
		stream: DefaultStreamKey,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stream returns the stream key
func (p *RedisStreamPublisher) Stream() string {
	return p.stream
}

// Publish appends ev to the stream
func (p *RedisStreamPublisher) Publish(ctx context.Context, ev execution.Event) error {
	values, err := streamValues(ev)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("event: publish to stream %s: %w", p.stream, err)
	}
	return nil
}

// streamValues flattens an event into stream entry fields
func streamValues(ev execution.Event) (map[string]any, error) {
	payload := ev.Payload
	if payload == nil {
		payload = execution.Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("event: encode payload: %w", err)
	}
	return map[string]any{
		"execution_id": ev.ExecutionID.String(),
		"sequence":     strconv.FormatInt(ev.Sequence, 10),
		"kind":         ev.Kind.String(),
		"aggregate_id": ev.AggregateID,
		"timestamp":    ev.Timestamp.UTC().Format(time.RFC3339Nano),
		"payload":      string(data),
	}, nil
}
