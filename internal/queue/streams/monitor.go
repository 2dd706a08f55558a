package streams

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// ErrGroupNotFound is returned when the stream has no such consumer group.
var ErrGroupNotFound = errors.New("consumer group not found")

// Backlog is how far a consumer group trails its stream.
type Backlog struct {
	// Pending entries were delivered but not acked.
	Pending int64
	// Lag counts entries never delivered to the group. It is -1 when redis
	// cannot tell, e.g. after entries were trimmed.
	Lag        int64
	Consumers  int64
	OldestIdle time.Duration
}

// ReadBacklog inspects group on stream.
func ReadBacklog(ctx context.Context, client *redis.Client, stream, group string) (Backlog, error) {
	if client == nil {
		return Backlog{}, fmt.Errorf("redis client is nil")
	}
	if stream == "" || group == "" {
		return Backlog{}, fmt.Errorf("stream and group must be provided")
	}
	groups, err := client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return Backlog{}, fmt.Errorf("xinfo groups: %w", err)
	}
	var (
		b     Backlog
		found bool
	)
	for _, info := range groups {
		if info.Name == group {
			b = Backlog{Pending: info.Pending, Lag: info.Lag, Consumers: int64(info.Consumers)}
			found = true
			break
		}
	}
	if !found {
		return Backlog{}, fmt.Errorf("%w: %s on %s", ErrGroupNotFound, group, stream)
	}
	if b.Pending > 0 {
		entries, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  group,
			Start:  "-",
			End:    "+",
			Count:  1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return Backlog{}, fmt.Errorf("xpending: %w", err)
		}
		if len(entries) > 0 {
			b.OldestIdle = entries[0].Idle
		}
	}
	return b, nil
}

// RegisterBacklogGauges observes the backlog of group on each stream whenever
// meter is collected. Streams that cannot be read are skipped for that
// collection.
func RegisterBacklogGauges(meter otelmetric.Meter, client *redis.Client, group string, streams ...string) (otelmetric.Registration, error) {
	pending, err := meter.Int64ObservableGauge("stream_group_pending",
		otelmetric.WithDescription("Thread events delivered to the worker group but not acked"))
	if err != nil {
		return nil, err
	}
	lag, err := meter.Int64ObservableGauge("stream_group_lag",
		otelmetric.WithDescription("Thread events not yet delivered to the worker group"))
	if err != nil {
		return nil, err
	}
	idle, err := meter.Float64ObservableGauge("stream_group_oldest_pending_seconds",
		otelmetric.WithDescription("Idle time of the oldest unacked thread event"), otelmetric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return meter.RegisterCallback(func(ctx context.Context, o otelmetric.Observer) error {
		for _, stream := range streams {
			b, err := ReadBacklog(ctx, client, stream, group)
			if err != nil {
				log.Printf("warn: stream backlog %s/%s: %v", stream, group, err)
				continue
			}
			attrs := otelmetric.WithAttributes(attribute.String("stream", stream), attribute.String("group", group))
			o.ObserveInt64(pending, b.Pending, attrs)
			if b.Lag >= 0 {
				o.ObserveInt64(lag, b.Lag, attrs)
			}
			o.ObserveFloat64(idle, b.OldestIdle.Seconds(), attrs)
		}
		return nil
	}, pending, lag, idle)
}
