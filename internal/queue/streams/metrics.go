package streams

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	streamMetricsOnce sync.Once
	publishedEvents   otelmetric.Int64Counter
	consumedEvents    otelmetric.Int64Counter
	rejectedEvents    otelmetric.Int64Counter
)

func initStreamMetrics() {
	meter := otel.Meter("reportflow/queue/streams")
	var err error
	publishedEvents, err = meter.Int64Counter(
		"stream_events_published_total",
		otelmetric.WithDescription("Envelopes appended to redis streams"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: stream_events_published_total: %v", err)
	}
	consumedEvents, err = meter.Int64Counter(
		"stream_events_consumed_total",
		otelmetric.WithDescription("Envelopes decoded by consumers"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: stream_events_consumed_total: %v", err)
	}
	rejectedEvents, err = meter.Int64Counter(
		"stream_events_rejected_total",
		otelmetric.WithDescription("Stream entries acked without processing because they failed decoding or validation"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: stream_events_rejected_total: %v", err)
	}
}

func recordStreamEvent(ctx context.Context, counter *otelmetric.Int64Counter, stream, eventType string) {
	streamMetricsOnce.Do(initStreamMetrics)
	if *counter == nil {
		return
	}
	(*counter).Add(contextOrBackground(ctx), 1, otelmetric.WithAttributes(
		attribute.String("stream", stream),
		attribute.String("event_type", eventType),
	))
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
