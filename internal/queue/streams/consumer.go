package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Consumer reads envelopes from Redis Streams using consumer groups.
type Consumer struct {
	client   *redis.Client
	registry *SchemaRegistry
	group    string
	name     string
	logger   *log.Logger
}

// ConsumerOption configures consumer behaviour on read.
type ConsumerOption func(*redis.XReadGroupArgs)

// WithBlock sets the maximum blocking duration when reading.
func WithBlock(d time.Duration) ConsumerOption {
	return func(args *redis.XReadGroupArgs) {
		if d > 0 {
			args.Block = d
		}
	}
}

// WithCount caps the number of messages returned in a single read.
func WithCount(n int64) ConsumerOption {
	return func(args *redis.XReadGroupArgs) {
		if n > 0 {
			args.Count = n
		}
	}
}

// NewConsumer builds a new consumer for the specified group and name.
func NewConsumer(client *redis.Client, registry *SchemaRegistry, group, name string, logger *log.Logger) *Consumer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Consumer{client: client, registry: registry, group: group, name: name, logger: logger}
}

// EnsureGroup creates the consumer group if it does not exist. The group
// starts at the beginning of the stream so events published before the first
// worker came up are still delivered.
func EnsureGroup(ctx context.Context, client *redis.Client, stream, group string) error {
	if stream == "" || group == "" {
		return fmt.Errorf("stream and group must be provided")
	}
	if err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err(); err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("xgroup create: %w", err)
	}
	return nil
}

// Message represents a consumed stream entry.
type Message struct {
	ID       string
	Envelope Envelope
}

// Handler processes one message. A nil error acks it; an error leaves it
// pending so AutoClaim can redeliver it.
type Handler func(ctx context.Context, msg Message) error

// Read pulls messages from the provided stream using the configured group/name.
func (c *Consumer) Read(ctx context.Context, stream string, opts ...ConsumerOption) ([]Message, error) {
	if stream == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if c.group == "" || c.name == "" {
		return nil, fmt.Errorf("consumer group and name must be configured")
	}

	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{stream, ">"},
	}
	for _, opt := range opts {
		opt(args)
	}

	streams, err := c.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var out []Message
	for _, st := range streams {
		for _, msg := range st.Messages {
			if decoded, ok := c.decodeMessage(ctx, stream, msg); ok {
				out = append(out, decoded)
			}
		}
	}
	return out, nil
}

// Ack acknowledges processing of the provided message IDs.
func (c *Consumer) Ack(ctx context.Context, stream string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// Backlog reports how far the consumer group trails stream.
func (c *Consumer) Backlog(ctx context.Context, stream string) (Backlog, error) {
	return ReadBacklog(ctx, c.client, stream, c.group)
}

// AutoClaim reclaims pending messages older than minIdle and assigns them to this consumer.
// The returned next ID should be reused to continue claiming additional entries.
func (c *Consumer) AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]Message, string, error) {
	if stream == "" {
		return nil, "", fmt.Errorf("stream name is required")
	}
	if c.group == "" || c.name == "" {
		return nil, "", fmt.Errorf("consumer group and name must be configured")
	}
	args := &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  minIdle,
		Start:    start,
	}
	if count > 0 {
		args.Count = count
	}
	msgs, next, err := c.client.XAutoClaim(ctx, args).Result()
	if err != nil {
		return nil, "", fmt.Errorf("xautoclaim: %w", err)
	}
	var out []Message
	for _, msg := range msgs {
		if decoded, ok := c.decodeMessage(ctx, stream, msg); ok {
			out = append(out, decoded)
		}
	}
	return out, next, nil
}

// Run reads the stream until ctx is done, handing each message to h. Messages
// left pending longer than reclaimAfter are claimed and retried.
func (c *Consumer) Run(ctx context.Context, stream string, reclaimAfter time.Duration, h Handler) error {
	claimFrom := "0-0"
	lastClaim := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if reclaimAfter > 0 && time.Since(lastClaim) >= reclaimAfter {
			lastClaim = time.Now()
			msgs, next, err := c.AutoClaim(ctx, stream, reclaimAfter, claimFrom, 10)
			if err != nil {
				c.logger.Printf("warn: autoclaim %s: %v", stream, err)
			} else {
				claimFrom = next
				c.handleAll(ctx, stream, msgs, h)
			}
		}
		msgs, err := c.Read(ctx, stream, WithBlock(2*time.Second), WithCount(10))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Printf("warn: read %s: %v", stream, err)
			time.Sleep(time.Second)
			continue
		}
		c.handleAll(ctx, stream, msgs, h)
	}
}

func (c *Consumer) handleAll(ctx context.Context, stream string, msgs []Message, h Handler) {
	for _, m := range msgs {
		if err := h(ctx, m); err != nil {
			c.logger.Printf("warn: handle %s %s: %v", m.Envelope.EventType, m.ID, err)
			continue
		}
		if err := c.Ack(ctx, stream, m.ID); err != nil {
			c.logger.Printf("warn: %v", err)
		}
	}
}

func (c *Consumer) reject(ctx context.Context, stream string, msg redis.XMessage, eventType, reason string) {
	c.logger.Printf("warn: dropping %s entry %s: %s", stream, msg.ID, reason)
	recordStreamEvent(ctx, &rejectedEvents, stream, eventType)
	_ = c.client.XAck(ctx, stream, c.group, msg.ID).Err()
}

func (c *Consumer) decodeMessage(ctx context.Context, stream string, msg redis.XMessage) (Message, bool) {
	raw, ok := msg.Values["envelope"]
	if !ok {
		c.reject(ctx, stream, msg, "", "no envelope field")
		return Message{}, false
	}

	var bytesData []byte
	switch v := raw.(type) {
	case string:
		bytesData = []byte(v)
	case []byte:
		bytesData = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			c.reject(ctx, stream, msg, "", err.Error())
			return Message{}, false
		}
		bytesData = data
	}

	env, err := UnmarshalEnvelope(bytesData)
	if err != nil {
		c.reject(ctx, stream, msg, "", err.Error())
		return Message{}, false
	}
	if c.registry != nil {
		if err := c.registry.Validate(env.EventType, env.PayloadVersion, env.Data); err != nil {
			c.reject(ctx, stream, msg, env.EventType, err.Error())
			return Message{}, false
		}
	}
	recordStreamEvent(ctx, &consumedEvents, stream, env.EventType)
	return Message{ID: msg.ID, Envelope: env}, true
}
