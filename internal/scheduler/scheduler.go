package scheduler

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
	"github.com/mohammad-safakhou/reportflow/config"
	"github.com/mohammad-safakhou/reportflow/internal/queue/streams"
	"github.com/redis/go-redis/v9"
)

// Publisher is satisfied by *streams.Publisher.
type Publisher interface {
	PublishEvent(ctx context.Context, stream, eventType string, payload interface{}, opts ...streams.PublishOption) (string, error)
}

// Locker grants a key to exactly one caller until ttl expires.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLocker implements Locker with SETNX.
type RedisLocker struct {
	Client *redis.Client
}

func (l RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.Client.SetNX(ctx, key, "1", ttl).Result()
}

type entry struct {
	cfg  config.ScheduleConfig
	expr *cronexpr.Expression
	last time.Time
}

// Scheduler publishes a thread request each time a cron schedule comes due.
// Every fire slot is guarded by a lock keyed on the slot time, so several
// workers running the same schedules publish it once.
type Scheduler struct {
	mu       sync.Mutex
	entries  []*entry
	pub      Publisher
	locker   Locker
	stream   string
	interval time.Duration
	lockTTL  time.Duration
	now      func() time.Time
	logger   *log.Logger
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option { return func(s *Scheduler) { s.interval = d } }

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func WithLogger(l *log.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// New parses every schedule. Schedules start counting from now, so nothing
// fires at boot for slots that passed while no worker was up.
func New(schedules []config.ScheduleConfig, pub Publisher, locker Locker, stream string, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		pub:      pub,
		locker:   locker,
		stream:   stream,
		interval: 30 * time.Second,
		lockTTL:  10 * time.Minute,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard, "", 0)
	}
	start := s.now()
	for _, sc := range schedules {
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		expr, err := cronexpr.Parse(sc.Cron)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", sc.Name, err)
		}
		s.entries = append(s.entries, &entry{cfg: sc, expr: expr, last: start})
	}
	return s, nil
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.entries) == 0 {
		s.logger.Printf("no schedules configured")
		<-ctx.Done()
		return nil
	}
	s.logger.Printf("scheduler started with %d schedules", len(s.entries))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every schedule whose next slot is due and returns the thread ids
// this process published.
func (s *Scheduler) Tick(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var fired []string
	for _, e := range s.entries {
		slot := e.expr.Next(e.last)
		if slot.IsZero() || slot.After(now) {
			continue
		}
		// several missed slots collapse into one run
		for next := e.expr.Next(slot); !next.IsZero() && !next.After(now); next = e.expr.Next(slot) {
			slot = next
		}
		e.last = slot
		id, err := s.fire(ctx, e.cfg, slot)
		if err != nil {
			s.logger.Printf("warn: schedule %s: %v", e.cfg.Name, err)
			continue
		}
		if id != "" {
			fired = append(fired, id)
		}
	}
	return fired
}

func (s *Scheduler) fire(ctx context.Context, sc config.ScheduleConfig, slot time.Time) (string, error) {
	if s.locker != nil {
		key := "reportflow:sched:" + sc.Name + ":" + strconv.FormatInt(slot.Unix(), 10)
		ok, err := s.locker.Acquire(ctx, key, s.lockTTL)
		if err != nil {
			return "", fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return "", nil
		}
	}
	threadID := uuid.NewString()
	_, err := s.pub.PublishEvent(ctx, s.stream, streams.EventThreadRequested, streams.ThreadRequested{
		ThreadID:   threadID,
		Request:    sc.Request,
		AutoAccept: sc.AutoAccept,
		Trigger:    "schedule",
		Schedule:   sc.Name,
	})
	if err != nil {
		return "", err
	}
	s.logger.Printf("schedule %s fired thread %s for slot %s", sc.Name, threadID, slot.Format(time.RFC3339))
	return threadID, nil
}
