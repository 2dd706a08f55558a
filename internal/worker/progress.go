package worker

import (
	"context"
	"io"
	"log"

	"github.com/mohammad-safakhou/reportflow/internal/queue/streams"
	"github.com/mohammad-safakhou/reportflow/internal/workflow"
)

// EventPublisher is satisfied by *streams.Publisher.
type EventPublisher interface {
	PublishEvent(ctx context.Context, stream, eventType string, payload interface{}, opts ...streams.PublishOption) (string, error)
}

// ProgressPublisher forwards orchestrator events to the progress stream.
type ProgressPublisher struct {
	pub    EventPublisher
	stream string
	logger *log.Logger
}

func NewProgressPublisher(pub EventPublisher, stream string, logger *log.Logger) *ProgressPublisher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &ProgressPublisher{pub: pub, stream: stream, logger: logger}
}

// Observe is a workflow.Observer. Publish failures are logged and dropped so a
// broker outage never fails a thread.
func (p *ProgressPublisher) Observe(ctx context.Context, ev workflow.Event) {
	if p == nil || p.pub == nil {
		return
	}
	payload := streams.ThreadProgress{
		ThreadID: ev.ThreadID,
		Node:     string(ev.Node),
		Status:   string(ev.Status),
		Detail:   ev.Detail,
		Percent:  ev.Percent,
		At:       ev.At,
	}
	if _, err := p.pub.PublishEvent(context.WithoutCancel(ctx), p.stream, streams.EventThreadProgress, payload); err != nil {
		p.logger.Printf("warn: publish progress for %s: %v", ev.ThreadID, err)
	}
}
