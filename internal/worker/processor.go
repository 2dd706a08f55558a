package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/mohammad-safakhou/reportflow/internal/queue/streams"
	"github.com/mohammad-safakhou/reportflow/internal/workflow"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

// Orchestrator is the subset of workflow.Orchestrator the worker drives.
type Orchestrator interface {
	Start(ctx context.Context, threadID, request string, opts workflow.StartOptions) (*workflow.State, error)
	Resume(ctx context.Context, threadID, reply string) (*workflow.State, error)
	Continue(ctx context.Context, threadID string) (*workflow.State, error)
	Cancel(ctx context.Context, threadID string) (*workflow.State, error)
}

// StoreAPI captures the store methods required by the worker.
type StoreAPI interface {
	ClaimIdempotency(ctx context.Context, scope, key string) (bool, error)
	ListThreads(ctx context.Context, statuses ...workflow.Status) ([]string, error)
}

// MessageSource yields stream messages to a handler until ctx is done.
type MessageSource interface {
	Run(ctx context.Context, stream string, reclaimAfter time.Duration, h streams.Handler) error
}

// Processor consumes thread events and drives the orchestrator. Threads run
// on their own goroutines so a cancel event is seen while a report is being
// generated.
type Processor struct {
	logger       *log.Logger
	store        StoreAPI
	orch         Orchestrator
	source       MessageSource
	threadStream string
	reclaimAfter time.Duration
	group        *errgroup.Group
	tracer       trace.Tracer
	eventCounter otelmetric.Int64Counter
	resumed      otelmetric.Int64Counter
}

// Options configures a Processor.
type Options struct {
	ThreadStream  string
	MaxConcurrent int
	ReclaimAfter  time.Duration
	Meter         otelmetric.Meter
	Tracer        trace.Tracer
	Logger        *log.Logger
}

// NewProcessor constructs a Processor.
func NewProcessor(st StoreAPI, orch Orchestrator, source MessageSource, opts Options) *Processor {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("worker")
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.ReclaimAfter <= 0 {
		opts.ReclaimAfter = time.Minute
	}
	g := &errgroup.Group{}
	g.SetLimit(opts.MaxConcurrent)
	p := &Processor{
		logger:       opts.Logger,
		store:        st,
		orch:         orch,
		source:       source,
		threadStream: opts.ThreadStream,
		reclaimAfter: opts.ReclaimAfter,
		group:        g,
		tracer:       opts.Tracer,
	}
	if opts.Meter != nil {
		var err error
		p.eventCounter, err = opts.Meter.Int64Counter("worker_events_processed")
		if err != nil {
			p.logger.Printf("warn: create event counter failed: %v", err)
		}
		p.resumed, err = opts.Meter.Int64Counter("worker_threads_recovered")
		if err != nil {
			p.logger.Printf("warn: create recovery counter failed: %v", err)
		}
	}
	return p
}

// Start recovers running threads, then blocks consuming the thread stream
// until ctx is cancelled. In-flight threads are waited for before it returns.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Printf("worker processor starting; consuming stream %s", p.threadStream)
	if err := p.resumePending(ctx); err != nil {
		p.logger.Printf("warn: resume pending threads failed: %v", err)
	}
	err := p.source.Run(ctx, p.threadStream, p.reclaimAfter, p.Handle)
	p.logger.Printf("worker processor stopping; waiting for in-flight threads")
	p.Wait()
	return err
}

// Wait blocks until every thread goroutine has returned.
func (p *Processor) Wait() { _ = p.group.Wait() }

// Handle processes one thread event. Duplicate deliveries are dropped.
func (p *Processor) Handle(ctx context.Context, msg streams.Message) error {
	ctx, span := p.tracer.Start(ctx, "worker.handle_event",
		trace.WithAttributes(attribute.String("event_type", msg.Envelope.EventType)))
	defer span.End()

	act, err := p.decode(msg.Envelope)
	if err != nil {
		return fmt.Errorf("decode %s %s: %w", msg.Envelope.EventType, msg.Envelope.EventID, err)
	}
	if act == nil {
		p.logger.Printf("warn: ignoring event type %s", msg.Envelope.EventType)
		return nil
	}

	claimed, err := p.store.ClaimIdempotency(ctx, "worker:"+msg.Envelope.EventType, msg.Envelope.EventID)
	if err != nil {
		return fmt.Errorf("claim idempotency: %w", err)
	}
	if !claimed {
		p.logger.Printf("skip event %s, already processed", msg.Envelope.EventID)
		return nil
	}
	if p.eventCounter != nil {
		p.eventCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("event_type", msg.Envelope.EventType)))
	}
	return act(ctx)
}

// decode turns an envelope into the action it requests. Unknown event types
// yield a nil action.
func (p *Processor) decode(env streams.Envelope) (func(context.Context) error, error) {
	switch env.EventType {
	case streams.EventThreadRequested:
		var in streams.ThreadRequested
		if err := env.Decode(&in); err != nil {
			return nil, err
		}
		opts := workflow.StartOptions{AutoAccept: in.AutoAccept, BackgroundSearch: in.BackgroundSearch}
		return func(ctx context.Context) error {
			p.spawn(ctx, in.ThreadID, "start", func(ctx context.Context) (*workflow.State, error) {
				return p.orch.Start(ctx, in.ThreadID, in.Request, opts)
			})
			return nil
		}, nil
	case streams.EventThreadResumed:
		var in streams.ThreadResumed
		if err := env.Decode(&in); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			p.spawn(ctx, in.ThreadID, "resume", func(ctx context.Context) (*workflow.State, error) {
				return p.orch.Resume(ctx, in.ThreadID, in.Reply)
			})
			return nil
		}, nil
	case streams.EventThreadCancelled:
		var in streams.ThreadCancelled
		if err := env.Decode(&in); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			// cancellation is a flag write, so it never waits behind running threads
			st, err := p.orch.Cancel(ctx, in.ThreadID)
			if errors.Is(err, workflow.ErrThreadNotFound) {
				p.logger.Printf("warn: cancel for unknown thread %s", in.ThreadID)
				return nil
			}
			if err != nil {
				return err
			}
			p.logger.Printf("thread %s cancel requested (status=%s)", in.ThreadID, st.Status)
			return nil
		}, nil
	}
	return nil, nil
}

// spawn runs fn on the bounded group. The thread context is detached from the
// delivery so acking the message does not stop the thread.
func (p *Processor) spawn(ctx context.Context, threadID, action string, fn func(context.Context) (*workflow.State, error)) {
	runCtx := context.WithoutCancel(ctx)
	p.group.Go(func() error {
		st, err := fn(runCtx)
		switch {
		case errors.Is(err, workflow.ErrNotSuspended):
			p.logger.Printf("warn: %s thread %s: not suspended", action, threadID)
		case err != nil:
			p.logger.Printf("error: %s thread %s: %v", action, threadID, err)
		case st != nil:
			p.logger.Printf("thread %s %s -> %s at %s", threadID, action, st.Status, st.Node)
		}
		return nil
	})
}

// resumePending continues every thread a previous worker left running.
func (p *Processor) resumePending(ctx context.Context) error {
	ids, err := p.store.ListThreads(ctx, workflow.StatusRunning)
	if err != nil {
		return err
	}
	for _, id := range ids {
		id := id
		p.logger.Printf("recovering thread %s", id)
		if p.resumed != nil {
			p.resumed.Add(ctx, 1)
		}
		p.spawn(ctx, id, "continue", func(ctx context.Context) (*workflow.State, error) {
			return p.orch.Continue(ctx, id)
		})
	}
	return nil
}
