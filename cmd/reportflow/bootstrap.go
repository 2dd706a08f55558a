package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mohammad-safakhou/reportflow/config"
	"github.com/mohammad-safakhou/reportflow/internal/agent"
	"github.com/mohammad-safakhou/reportflow/internal/batch"
	"github.com/mohammad-safakhou/reportflow/internal/executor"
	"github.com/mohammad-safakhou/reportflow/internal/llm"
	"github.com/mohammad-safakhou/reportflow/internal/queue/streams"
	"github.com/mohammad-safakhou/reportflow/internal/runtime"
	"github.com/mohammad-safakhou/reportflow/internal/search"
	"github.com/mohammad-safakhou/reportflow/internal/store"
	"github.com/mohammad-safakhou/reportflow/internal/workflow"
	"github.com/mohammad-safakhou/reportflow/repository"
	"github.com/mohammad-safakhou/reportflow/repository/redis_repository"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// app holds the process-wide dependencies shared by every command.
type app struct {
	cfg       *config.Config
	logger    *log.Logger
	tel       *runtime.Telemetry
	meter     otelmetric.Meter
	tracer    trace.Tracer
	pg        *store.Store
	rdb       *redis.Client
	threads   repository.ThreadRepository
	sections  batch.Storage
	documents batch.DocumentReader
}

type appOptions struct {
	service   string
	needRedis bool
	// overrides both storage backends, used by the local run command
	memory bool
}

func loadApp(ctx context.Context, cfgPath string, opts appOptions) (*app, error) {
	if opts.memory {
		// env overrides are applied before validation, so postgres need not be configured
		_ = os.Setenv("REPORTFLOW_STORAGE_CHECKPOINT_BACKEND", string(repository.RepoTypeMemory))
		_ = os.Setenv("REPORTFLOW_STORAGE_SECTIONS_BACKEND", "file")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:    cfg,
		logger: log.New(log.Writer(), fmt.Sprintf("[%s] ", opts.service), log.LstdFlags),
	}
	a.tel, a.meter, a.tracer, err = runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{
		ServiceName:    "reportflow-" + opts.service,
		ServiceVersion: version,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	st := cfg.Storage
	if st.CheckpointBackend == string(repository.RepoTypePostgres) || st.SectionsBackend == "postgres" {
		if a.pg, err = store.New(ctx, st.Postgres); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("postgres: %w", err)
		}
	}
	if opts.needRedis {
		if err := st.Redis.Validate(); err != nil {
			a.Close(ctx)
			return nil, err
		}
		timeout := st.Redis.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		port := st.Redis.Port
		if port == "" {
			port = "6379"
		}
		if a.rdb, err = redis_repository.Conn(ctx, st.Redis.Host, port, st.Redis.Password, st.Redis.DB, timeout); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("redis: %w", err)
		}
	}

	if st.CheckpointBackend == string(repository.RepoTypeRedis) && a.rdb != nil {
		a.threads = redis_repository.NewRedisThreadStore(a.rdb)
	} else if a.threads, err = repository.NewThreadRepository(ctx, repository.RepoType(st.CheckpointBackend), st, a.pg); err != nil {
		a.Close(ctx)
		return nil, err
	}

	switch st.SectionsBackend {
	case "postgres":
		ss := a.pg.Sections()
		a.sections, a.documents = ss, ss
	case "file":
		fs, err := batch.NewFileStorage(cfg.Report.Normalize().OutputDir)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.sections, a.documents = fs, fs
	default:
		ms := batch.NewMemoryStorage()
		a.sections, a.documents = ms, ms
	}
	a.logger.Printf("checkpoints=%s sections=%s", st.CheckpointBackend, st.SectionsBackend)
	return a, nil
}

// orchestrator wires the model roles, agents and stores into a workflow.
func (a *app) orchestrator(observer workflow.Observer) (*workflow.Orchestrator, error) {
	provider, err := llm.NewProvider(a.cfg.LLM)
	if err != nil {
		return nil, err
	}
	routing := a.cfg.LLM.Routing
	searchProvider, err := search.NewFromConfig(a.cfg.Search, log.New(a.logger.Writer(), "[SEARCH] ", log.LstdFlags))
	if err != nil {
		return nil, err
	}
	report := a.cfg.Report.Normalize()
	settings := workflow.SettingsFromConfig(a.cfg)

	deps := workflow.Deps{
		CoordinatorModel: provider.Bind(routing.Model("coordinator")),
		PlannerModel:     provider.Bind(routing.Model("planner")),
		Researcher: agent.NewResearcher(provider.Bind(routing.Model("researcher")),
			agent.WithSearch(searchProvider, settings.MaxSearchResults),
			agent.WithResearcherLogger(a.logger)),
		Processor:   agent.NewProcessor(provider.Bind(routing.Model("processor"))),
		Synthesizer: agent.NewSynthesizer(provider.Bind(routing.Model("reporter"))),
		Batch: agent.NewBatchReporter(a.sections, provider.Bind(routing.Model("reporter")),
			agent.WithBatchSize(report.BatchSize),
			agent.WithPause(report.PauseBetween),
			agent.WithMaxTokens(report.MaxTokensPerItem),
			agent.WithBatchLogger(log.New(a.logger.Writer(), "[BATCH] ", log.LstdFlags))),
		Search: agent.SearchAdapter{Provider: searchProvider},
		Store:  a.threads,
	}

	opts := []workflow.Option{
		workflow.WithLogger(a.logger),
		workflow.WithExecutor(a.executor()),
		workflow.WithTracer(a.tracer),
		workflow.WithMeter(a.meter),
	}
	if observer != nil {
		opts = append(opts, workflow.WithObserver(observer))
	}
	return workflow.New(settings, deps, opts...)
}

func (a *app) executor() *executor.Executor {
	opts := []executor.Option{executor.WithRetryPolicy(llm.IsRetryable)}
	if a.pg != nil {
		opts = append(opts, executor.WithCheckpointManager(executor.NewStoreCheckpointManager(a.pg)))
	}
	retries, err := a.meter.Int64Counter("executor_retries_total",
		otelmetric.WithDescription("Model call retries by stage"))
	if err != nil {
		a.logger.Printf("warn: executor retry counter: %v", err)
		return executor.New(opts...)
	}
	duration, err := a.meter.Float64Histogram("executor_call_seconds",
		otelmetric.WithDescription("Model call latency by stage"))
	if err != nil {
		a.logger.Printf("warn: executor duration histogram: %v", err)
		return executor.New(opts...)
	}
	opts = append(opts, executor.WithMetrics(executor.Metrics{
		RetryCounter: func(ctx context.Context, t executor.Task, attempt int) {
			retries.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("stage", t.Stage)))
		},
		Duration: func(ctx context.Context, t executor.Task, d time.Duration) {
			duration.Record(ctx, d.Seconds(), otelmetric.WithAttributes(attribute.String("stage", t.Stage)))
		},
	}))
	return executor.New(opts...)
}

func (a *app) publisher() (*streams.Publisher, error) {
	if a.rdb == nil {
		return nil, fmt.Errorf("redis is required for streams")
	}
	reg, err := streams.DefaultRegistry()
	if err != nil {
		return nil, err
	}
	return streams.NewPublisher(a.rdb, reg, a.cfg.Streams.MaxLen), nil
}

func (a *app) Close(ctx context.Context) {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pg != nil {
		_ = a.pg.Close()
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Printf("warn: telemetry shutdown: %v", err)
	}
}
