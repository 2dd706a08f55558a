package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/reportflow/internal/executor"
	"github.com/mohammad-safakhou/reportflow/internal/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var workflowTracer trace.Tracer = otel.Tracer("reportflow/internal/workflow")

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	CoordinatorModel llm.Model
	PlannerModel     llm.Model
	Researcher       StepExecutor
	Processor        StepExecutor
	Synthesizer      Synthesizer
	Batch            BatchReporter
	Search           Searcher
	Store            Store
}

// StartOptions are per-thread overrides.
type StartOptions struct {
	AutoAccept       bool
	BackgroundSearch bool
}

// Orchestrator drives threads through the node graph, checkpointing after
// every transition.
type Orchestrator struct {
	settings    Settings
	store       Store
	coordinator *Coordinator
	planner     *Planner
	gate        *Gate
	dispatcher  *Dispatcher
	researcher  StepExecutor
	processor   StepExecutor
	synthesizer Synthesizer
	batch       BatchReporter
	search      Searcher
	exec        *executor.Executor
	logger      *log.Logger
	tracer      trace.Tracer
	meter       otelmetric.Meter
	observer    Observer
	metrics     orchestratorMetrics
}

type orchestratorMetrics struct {
	transitions otelmetric.Int64Counter
	guardTrips  otelmetric.Int64Counter
	fallbacks   otelmetric.Int64Counter
	finished    otelmetric.Int64Counter
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l *log.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithExecutor sets the retry executor used for model calls.
func WithExecutor(ex *executor.Executor) Option { return func(o *Orchestrator) { o.exec = ex } }

// WithTracer overrides the package tracer.
func WithTracer(t trace.Tracer) Option { return func(o *Orchestrator) { o.tracer = t } }

// WithMeter sets the meter used for orchestrator counters.
func WithMeter(m otelmetric.Meter) Option { return func(o *Orchestrator) { o.meter = m } }

// WithObserver registers a progress observer.
func WithObserver(fn Observer) Option { return func(o *Orchestrator) { o.observer = fn } }

// New builds an orchestrator. Researcher and Processor are required.
func New(settings Settings, deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Researcher == nil || deps.Processor == nil {
		return nil, errors.New("researcher and processor executors are required")
	}
	o := &Orchestrator{
		settings:    settings.normalized(),
		store:       deps.Store,
		researcher:  deps.Researcher,
		processor:   deps.Processor,
		synthesizer: deps.Synthesizer,
		batch:       deps.Batch,
		search:      deps.Search,
		tracer:      workflowTracer,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		o.store = NewMemoryStore()
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard, "", 0)
	}
	if o.meter == nil {
		o.meter = otel.GetMeterProvider().Meter("reportflow/internal/workflow")
	}
	if o.exec == nil {
		o.exec = executor.New(executor.WithRetryPolicy(llm.IsRetryable))
	}
	m, err := newOrchestratorMetrics(o.meter)
	if err != nil {
		return nil, err
	}
	o.metrics = m
	o.coordinator = NewCoordinator(deps.CoordinatorModel, o.settings.BackgroundSearch, o.logger)
	o.planner = NewPlanner(deps.PlannerModel, o.exec, o.settings, o.logger)
	o.gate = NewGate(o.logger)
	o.dispatcher = NewDispatcher(o.settings.MaxLoopGuard, o.logger)
	return o, nil
}

func newOrchestratorMetrics(meter otelmetric.Meter) (orchestratorMetrics, error) {
	var m orchestratorMetrics
	var err error
	if m.transitions, err = meter.Int64Counter("workflow_transitions_total",
		otelmetric.WithDescription("Node transitions executed by the orchestrator")); err != nil {
		return m, err
	}
	if m.guardTrips, err = meter.Int64Counter("workflow_loop_guard_trips_total",
		otelmetric.WithDescription("Dispatcher visits terminated by the loop guard")); err != nil {
		return m, err
	}
	if m.fallbacks, err = meter.Int64Counter("workflow_fallback_results_total",
		otelmetric.WithDescription("Steps or reports that used a fallback result")); err != nil {
		return m, err
	}
	if m.finished, err = meter.Int64Counter("workflow_threads_finished_total",
		otelmetric.WithDescription("Threads reaching a terminal status")); err != nil {
		return m, err
	}
	return m, nil
}

// Start creates a thread and drives it until it suspends or finishes. Starting
// an existing thread returns its checkpoint without side effects.
func (o *Orchestrator) Start(ctx context.Context, threadID, request string, opts StartOptions) (*State, error) {
	if threadID == "" {
		threadID = uuid.NewString()
	}
	existing, ok, err := o.store.ReadCheckpoint(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if ok {
		return existing, nil
	}
	st := NewState(threadID, request)
	st.AutoAccepted = opts.AutoAccept || o.settings.AutoAccept
	st.BackgroundSearch = opts.BackgroundSearch || o.settings.BackgroundSearch
	if err := o.save(ctx, st); err != nil {
		return nil, err
	}
	o.logger.Printf("thread %s started", threadID)
	return o.drive(ctx, st)
}

// Resume feeds a human reply to a suspended thread.
func (o *Orchestrator) Resume(ctx context.Context, threadID, reply string) (*State, error) {
	st, err := o.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if st.Status != StatusSuspended {
		return st, ErrNotSuspended
	}
	if cancelled, err := o.store.IsCancelled(ctx, threadID); err != nil {
		return st, fmt.Errorf("read cancellation: %w", err)
	} else if cancelled {
		return o.finish(ctx, st, StatusCancelled)
	}
	outcome, intr := o.gate.Apply(st, reply)
	switch outcome {
	case GateApproved:
		st.Node = NodeResearchTeam
	case GateEditRequested:
		st.Node = NodePlanner
	default:
		st.Interrupt = intr
		if err := o.save(ctx, st); err != nil {
			return st, err
		}
		o.emit(ctx, Event{ThreadID: threadID, Node: NodeHumanFeedback, Status: st.Status, Detail: "reply not recognised"})
		return st, nil
	}
	st.Status = StatusRunning
	st.Interrupt = nil
	st.Transitions++
	if err := o.save(ctx, st); err != nil {
		return st, err
	}
	return o.drive(ctx, st)
}

// Continue re-enters a running thread from its last checkpoint, for example
// after a worker crash.
func (o *Orchestrator) Continue(ctx context.Context, threadID string) (*State, error) {
	st, err := o.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if st.Status != StatusRunning {
		return st, nil
	}
	o.logger.Printf("thread %s continuing at %s", threadID, st.Node)
	return o.drive(ctx, st)
}

// Cancel requests cooperative cancellation. A suspended thread is cancelled
// immediately; a running one stops before its next node.
func (o *Orchestrator) Cancel(ctx context.Context, threadID string) (*State, error) {
	if err := o.store.RequestCancel(ctx, threadID); err != nil {
		return nil, fmt.Errorf("request cancel: %w", err)
	}
	st, ok, err := o.store.ReadCheckpoint(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if !ok {
		return nil, ErrThreadNotFound
	}
	if st.Status == StatusSuspended {
		return o.finish(ctx, st, StatusCancelled)
	}
	return st, nil
}

// Get returns the latest checkpoint for a thread.
func (o *Orchestrator) Get(ctx context.Context, threadID string) (*State, error) {
	return o.load(ctx, threadID)
}

// RunInteractive starts a thread and answers every suspension through ch.
func (o *Orchestrator) RunInteractive(ctx context.Context, threadID, request string, opts StartOptions, ch InterruptChannel) (*State, error) {
	st, err := o.Start(ctx, threadID, request, opts)
	for err == nil && st.Status == StatusSuspended && st.Interrupt != nil {
		var reply string
		reply, err = ch.Raise(ctx, *st.Interrupt)
		if err != nil {
			return st, err
		}
		st, err = o.Resume(ctx, st.ThreadID, reply)
	}
	return st, err
}

func (o *Orchestrator) load(ctx context.Context, threadID string) (*State, error) {
	st, ok, err := o.store.ReadCheckpoint(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if !ok {
		return nil, ErrThreadNotFound
	}
	return st, nil
}

func (o *Orchestrator) save(ctx context.Context, st *State) error {
	st.UpdatedAt = time.Now().UTC()
	if err := o.store.WriteCheckpoint(ctx, st); err != nil {
		o.logger.Printf("checkpoint write failed for thread %s: %v", st.ThreadID, err)
		return fmt.Errorf("%w: %v", ErrCheckpoint, err)
	}
	return nil
}

type transition struct {
	next    Node
	suspend *Interrupt

	// cancelled ends the thread as cancelled after this visit.
	cancelled bool
}

// drive runs nodes until the thread suspends, finishes, or hits a fatal error.
func (o *Orchestrator) drive(ctx context.Context, st *State) (*State, error) {
	for st.Status == StatusRunning && st.Node != NodeEnd {
		cancelled, err := o.store.IsCancelled(ctx, st.ThreadID)
		if err != nil {
			return o.fail(ctx, st, fmt.Errorf("read cancellation: %w", err))
		}
		if cancelled {
			o.logger.Printf("thread %s cancelled before %s", st.ThreadID, st.Node)
			return o.finish(ctx, st, StatusCancelled)
		}
		if st.Transitions >= o.settings.MaxTransitions && st.Node != NodeReporter {
			o.logger.Printf("warn: thread %s exceeded %d transitions at %s, routing to reporter", st.ThreadID, o.settings.MaxTransitions, st.Node)
			st.Node = NodeReporter
		}

		from := st.Node
		tr, err := o.visit(ctx, st)
		if err != nil {
			return o.fail(ctx, st, err)
		}
		st.Transitions++
		o.metrics.transitions.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("node", string(from))))
		if !tr.cancelled && from == NodeReporter {
			if tr.cancelled, err = o.store.IsCancelled(ctx, st.ThreadID); err != nil {
				return o.fail(ctx, st, fmt.Errorf("read cancellation: %w", err))
			}
		}
		if tr.cancelled {
			o.logger.Printf("thread %s cancelled during %s", st.ThreadID, from)
			return o.finish(ctx, st, StatusCancelled)
		}
		if tr.suspend != nil {
			st.Status = StatusSuspended
			st.Interrupt = tr.suspend
			st.Node = NodeHumanFeedback
		} else {
			st.Node = tr.next
		}
		if err := o.save(ctx, st); err != nil {
			return st, err
		}
		o.emit(ctx, Event{ThreadID: st.ThreadID, Node: st.Node, Status: st.Status, Detail: "from " + string(from)})
	}
	if st.Status == StatusRunning && st.Node == NodeEnd {
		return o.finish(ctx, st, StatusCompleted)
	}
	if st.Status.Terminal() {
		o.metrics.finished.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("status", string(st.Status))))
	}
	return st, nil
}

func (o *Orchestrator) finish(ctx context.Context, st *State, status Status) (*State, error) {
	st.Status = status
	st.Node = NodeEnd
	st.Interrupt = nil
	if err := o.save(ctx, st); err != nil {
		return st, err
	}
	o.metrics.finished.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("status", string(status))))
	o.logger.Printf("thread %s %s", st.ThreadID, status)
	o.emit(ctx, Event{ThreadID: st.ThreadID, Node: NodeEnd, Status: status})
	return st, nil
}

// fail records a fatal error. Context cancellation leaves the thread running so
// it can be continued later.
func (o *Orchestrator) fail(ctx context.Context, st *State, cause error) (*State, error) {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return st, cause
	}
	st.Status = StatusFailed
	st.Error = cause.Error()
	o.logger.Printf("thread %s failed at %s: %v", st.ThreadID, st.Node, cause)
	if err := o.save(ctx, st); err != nil {
		return st, errors.Join(cause, err)
	}
	o.metrics.finished.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("status", string(StatusFailed))))
	o.emit(ctx, Event{ThreadID: st.ThreadID, Node: st.Node, Status: StatusFailed, Detail: cause.Error()})
	return st, cause
}

func (o *Orchestrator) emit(ctx context.Context, ev Event) {
	if o.observer == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	o.observer(ctx, ev)
}

func (o *Orchestrator) visit(ctx context.Context, st *State) (transition, error) {
	ctx, span := o.tracer.Start(ctx, "workflow."+string(st.Node),
		trace.WithAttributes(
			attribute.String("thread.id", st.ThreadID),
			attribute.Int("step.cursor", st.StepCursor),
		))
	defer span.End()

	var tr transition
	var err error
	switch st.Node {
	case NodeCoordinator:
		tr = o.coordinate(ctx, st)
	case NodeBackgroundSearch:
		tr = o.backgroundSearch(ctx, st)
	case NodePlanner:
		tr, err = o.plan(ctx, st)
	case NodeHumanFeedback:
		tr = o.review(st)
	case NodeResearchTeam:
		tr = o.dispatch(ctx, st)
	case NodeResearcher:
		tr, err = o.executeStep(ctx, st, o.researcher, ResearchFallback)
	case NodeProcessor:
		tr, err = o.executeStep(ctx, st, o.processor, ProcessingFallback)
	case NodeReporter:
		tr, err = o.report(ctx, st)
	default:
		o.logger.Printf("warn: unknown node %q, returning to planner", st.Node)
		tr = transition{next: NodePlanner}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return tr, err
	}
	span.SetStatus(codes.Ok, "completed")
	return tr, nil
}

func (o *Orchestrator) coordinate(ctx context.Context, st *State) transition {
	d := o.coordinator.Classify(ctx, st)
	st.Locale = d.Locale
	if d.Reply != "" {
		st.appendMessage(llm.RoleAssistant, d.Reply)
	}
	if d.Failed {
		st.Status = StatusFailed
		st.Error = d.Reply
	}
	return transition{next: d.Next}
}

func (o *Orchestrator) backgroundSearch(ctx context.Context, st *State) transition {
	if o.search != nil {
		st.Findings = o.search.Search(ctx, st.Request, o.settings.MaxSearchResults)
		o.logger.Printf("thread %s background search returned %d findings", st.ThreadID, len(st.Findings))
	}
	return transition{next: NodePlanner}
}

func (o *Orchestrator) plan(ctx context.Context, st *State) (transition, error) {
	out, err := o.planner.GeneratePlan(ctx, st)
	if err != nil {
		return transition{}, err
	}
	if out.Fresh {
		p := out.Plan
		st.Plan = &p
		st.StepCursor = 0
		st.LoopGuard = 0
		st.PlanIterations++
		// the transition budget is per plan generation
		st.Transitions = 0
		if out.Stage == StageFallback {
			o.metrics.fallbacks.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("node", string(NodePlanner))))
		}
	}
	if out.Route == RouteReporter {
		return transition{next: NodeReporter}, nil
	}
	return transition{next: NodeHumanFeedback}, nil
}

func (o *Orchestrator) review(st *State) transition {
	outcome, intr := o.gate.Review(st)
	if outcome == GateApproved {
		return transition{next: NodeResearchTeam}
	}
	return transition{suspend: intr}
}

func (o *Orchestrator) dispatch(ctx context.Context, st *State) transition {
	d := o.dispatcher.Visit(st)
	if d.GuardTrip {
		o.metrics.guardTrips.Add(ctx, 1)
	}
	return transition{next: d.Next}
}

func (o *Orchestrator) executeStep(ctx context.Context, st *State, ex StepExecutor, fallback string) (transition, error) {
	step, ok := st.CurrentStep()
	if !ok || step.Executed() {
		// stale cursor or result already written before a crash
		return transition{next: NodeResearchTeam}, nil
	}
	in := StepInput{
		ThreadID:     st.ThreadID,
		Request:      st.Request,
		Locale:       st.Locale,
		PlanTitle:    st.Plan.Title,
		StepIndex:    st.StepCursor,
		Step:         step,
		Observations: append([]string(nil), st.Observations...),
		Findings:     st.Findings,
	}
	task := executor.Task{
		ID:         fmt.Sprintf("step-%d", st.StepCursor),
		ThreadID:   st.ThreadID,
		Stage:      fmt.Sprintf("%s:%d:%d", st.Node, st.PlanIterations, st.StepCursor),
		Payload:    map[string]interface{}{"title": step.Title, "type": string(step.Type)},
		MaxRetries: o.settings.MaxStepRetries,
		RetryDelay: o.settings.RetryBackoff,
		Timeout:    o.settings.CallTimeout,
	}
	out, degraded, err := o.exec.RunWithFallback(ctx, task, fallback, func(ctx context.Context, attempt int) (string, error) {
		return ex.Execute(ctx, in)
	})
	if err != nil {
		return transition{}, err
	}
	if degraded {
		o.logger.Printf("warn: thread %s step %d (%s) degraded to fallback", st.ThreadID, st.StepCursor, step.Title)
		o.metrics.fallbacks.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("node", string(st.Node))))
	}
	st.Plan.Steps[st.StepCursor].Result = strPtr(out)
	if strings.TrimSpace(out) != "" {
		st.Observations = append(st.Observations, out)
	}
	return transition{next: NodeResearchTeam}, nil
}

func (o *Orchestrator) report(ctx context.Context, st *State) (transition, error) {
	in := o.reportInput(st)
	if o.useBatch(st) {
		rep, err := o.batch.GenerateReport(ctx, in)
		if err != nil {
			return transition{}, err
		}
		st.Report = &rep
		st.appendMessage(llm.RoleAssistant, fmt.Sprintf("Report %q assembled from %d sections: %s", rep.Title, rep.Sections, rep.Path))
		return transition{next: NodeEnd, cancelled: rep.Cancelled}, nil
	}

	fallback := FallbackReport(in)
	content, degraded := fallback, true
	if o.synthesizer != nil {
		task := executor.Task{
			ID:         "report",
			ThreadID:   st.ThreadID,
			Stage:      fmt.Sprintf("reporter:%d", st.PlanIterations),
			MaxRetries: o.settings.MaxStepRetries,
			RetryDelay: o.settings.RetryBackoff,
			Timeout:    o.settings.CallTimeout,
		}
		var err error
		content, degraded, err = o.exec.RunWithFallback(ctx, task, fallback, func(ctx context.Context, attempt int) (string, error) {
			out, err := o.synthesizer.Synthesize(ctx, in)
			if err == nil && strings.TrimSpace(out) == "" {
				return "", errors.New("empty report")
			}
			return out, err
		})
		if err != nil {
			return transition{}, err
		}
	}
	if degraded {
		o.metrics.fallbacks.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("node", string(NodeReporter))))
	}
	st.Report = &Report{Title: in.Title, Content: content, Sections: len(in.Observations), Degraded: degraded}
	st.appendMessage(llm.RoleAssistant, content)
	return transition{next: NodeEnd}, nil
}
