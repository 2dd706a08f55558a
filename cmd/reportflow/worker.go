package main

import (
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/reportflow/internal/queue/streams"
	"github.com/mohammad-safakhou/reportflow/internal/scheduler"
	"github.com/mohammad-safakhou/reportflow/internal/worker"
	"github.com/mohammad-safakhou/reportflow/repository/redis_repository"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func workerCMD(cfgPath *string) *cobra.Command {
	var (
		concurrency  int
		noSchedules  bool
		consumerName string
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume thread events, drive threads and fire schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, *cfgPath, appOptions{service: "worker", needRedis: true})
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := shutdownContext()
				defer cancel()
				a.Close(sctx)
			}()

			pub, err := a.publisher()
			if err != nil {
				return err
			}
			sc := a.cfg.Streams
			progress := worker.NewProgressPublisher(pub, sc.Progress, log.New(log.Writer(), "[PROGRESS] ", log.LstdFlags))
			orch, err := a.orchestrator(progress.Observe)
			if err != nil {
				return err
			}

			reg, err := streams.DefaultRegistry()
			if err != nil {
				return err
			}
			if consumerName == "" {
				host, _ := os.Hostname()
				consumerName = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
			}
			consumer := streams.NewConsumer(a.rdb, reg, sc.Group, consumerName, log.New(log.Writer(), "[STREAMS] ", log.LstdFlags))
			if err := streams.EnsureGroup(ctx, a.rdb, sc.Threads, sc.Group); err != nil {
				return fmt.Errorf("ensure group: %w", err)
			}
			logger := log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
			if backlog, err := consumer.Backlog(ctx, sc.Threads); err == nil {
				logger.Printf("joining %s/%s as %s: pending=%d lag=%d consumers=%d", sc.Threads, sc.Group, consumerName, backlog.Pending, backlog.Lag, backlog.Consumers)
			}
			gauges, err := streams.RegisterBacklogGauges(a.meter, a.rdb, sc.Group, sc.Threads)
			if err != nil {
				return fmt.Errorf("backlog gauges: %w", err)
			}
			defer func() { _ = gauges.Unregister() }()

			// idempotency claims live in postgres when available, otherwise in redis
			var claims worker.StoreAPI = workerStore{claimer: redis_repository.NewRedisThreadStore(a.rdb), lister: a.threads}
			if a.pg != nil {
				claims = workerStore{claimer: a.pg, lister: a.threads}
			}
			proc := worker.NewProcessor(claims, orch, consumer, worker.Options{
				ThreadStream:  sc.Threads,
				MaxConcurrent: concurrency,
				Meter:         a.meter,
				Tracer:        a.tracer,
				Logger:        logger,
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return proc.Start(gctx) })
			if !noSchedules && len(a.cfg.Schedules) > 0 {
				sched, err := scheduler.New(a.cfg.Schedules, pub, scheduler.RedisLocker{Client: a.rdb}, sc.Threads,
					scheduler.WithLogger(log.New(log.Writer(), "[SCHED] ", log.LstdFlags)))
				if err != nil {
					return err
				}
				g.Go(func() error { return sched.Run(gctx) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "threads driven in parallel")
	cmd.Flags().BoolVar(&noSchedules, "no-schedules", false, "do not fire configured schedules")
	cmd.Flags().StringVar(&consumerName, "name", "", "consumer name (default host-random)")
	return cmd
}
