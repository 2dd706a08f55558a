package streams

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container tests need docker")
	}
	ctx := context.Background()
	container, err := tcredis.RunContainer(ctx)
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })
	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	opts, err := redis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPublishConsumeAck(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	reg, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	const stream = "test.threads"
	if err := EnsureGroup(ctx, client, stream, "workers"); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	if err := EnsureGroup(ctx, client, stream, "workers"); err != nil {
		t.Fatalf("EnsureGroup twice: %v", err)
	}

	pub := NewPublisher(client, reg, 100)
	if _, err := pub.PublishEvent(ctx, stream, EventThreadRequested, ThreadRequested{ThreadID: "t1", Request: "EV", Trigger: "api"}); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}
	if _, err := pub.PublishEvent(ctx, stream, EventThreadRequested, ThreadRequested{ThreadID: "t2"}); err == nil {
		t.Fatalf("expected schema validation failure")
	}
	// an entry written without the publisher is dropped by the consumer
	if err := client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: map[string]interface{}{"junk": "1"}}).Err(); err != nil {
		t.Fatalf("xadd junk: %v", err)
	}

	cons := NewConsumer(client, reg, "workers", "w1", nil)
	msgs, err := cons.Read(ctx, stream, WithCount(10), WithBlock(time.Second))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Envelope.EventType != EventThreadRequested {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	var req ThreadRequested
	if err := msgs[0].Envelope.Decode(&req); err != nil || req.ThreadID != "t1" {
		t.Fatalf("decode: %v %+v", err, req)
	}
	if err := cons.Ack(ctx, stream, msgs[0].ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	backlog, err := cons.Backlog(ctx, stream)
	if err != nil {
		t.Fatalf("Backlog: %v", err)
	}
	if backlog.Pending != 0 {
		t.Fatalf("expected nothing pending, got %+v", backlog)
	}
	if _, err := ReadBacklog(ctx, client, stream, "nobody"); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound, got %v", err)
	}
}

func TestBacklogGaugesReportPendingEvents(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	reg, _ := DefaultRegistry()
	const stream = "test.backlog"
	if err := EnsureGroup(ctx, client, stream, "workers"); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	pub := NewPublisher(client, reg, 0)
	for _, id := range []string{"t1", "t2"} {
		if _, err := pub.PublishEvent(ctx, stream, EventThreadCancelled, ThreadCancelled{ThreadID: id}); err != nil {
			t.Fatalf("PublishEvent: %v", err)
		}
	}
	// one event delivered and left unacked, one never delivered
	cons := NewConsumer(client, reg, "workers", "w1", nil)
	if msgs, err := cons.Read(ctx, stream, WithCount(1)); err != nil || len(msgs) != 1 {
		t.Fatalf("Read: %v %d", err, len(msgs))
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	registration, err := RegisterBacklogGauges(mp.Meter("test"), client, "workers", stream)
	if err != nil {
		t.Fatalf("RegisterBacklogGauges: %v", err)
	}
	defer registration.Unregister()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if g, ok := m.Data.(metricdata.Gauge[int64]); ok && len(g.DataPoints) == 1 {
				got[m.Name] = g.DataPoints[0].Value
			}
		}
	}
	if got["stream_group_pending"] != 1 {
		t.Fatalf("expected 1 pending, got %v", got)
	}
	if lag, ok := got["stream_group_lag"]; ok && lag != 1 {
		t.Fatalf("expected lag 1, got %v", got)
	}
}

func TestRunRedeliversFailedMessages(t *testing.T) {
	client := startRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	reg, _ := DefaultRegistry()
	const stream = "test.retry"
	if err := EnsureGroup(ctx, client, stream, "workers"); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	pub := NewPublisher(client, reg, 0)
	if _, err := pub.PublishEvent(ctx, stream, EventThreadCancelled, ThreadCancelled{ThreadID: "t1"}); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	var (
		mu    sync.Mutex
		calls int
	)
	done := make(chan struct{})
	cons := NewConsumer(client, reg, "workers", "w1", nil)
	go func() {
		_ = cons.Run(ctx, stream, 500*time.Millisecond, func(ctx context.Context, msg Message) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return context.DeadlineExceeded
			}
			close(done)
			return nil
		})
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatalf("message was not redelivered")
	}
	cancel()
}
