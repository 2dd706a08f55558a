package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/reportflow/config"
	"github.com/mohammad-safakhou/reportflow/internal/queue/streams"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	events []streams.ThreadRequested
	err    error
}

func (c *capturePublisher) PublishEvent(ctx context.Context, stream, eventType string, payload interface{}, opts ...streams.PublishOption) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.events = append(c.events, payload.(streams.ThreadRequested))
	return "1-0", nil
}

// memLocker shares keys across schedulers like a redis instance would.
type memLocker struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

var daily = config.ScheduleConfig{Name: "daily-ev", Cron: "0 6 * * *", Request: "Daily EV digest", AutoAccept: true}

func TestTickFiresOnlyWhenDue(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)}
	pub := &capturePublisher{}
	s, err := New([]config.ScheduleConfig{daily}, pub, nil, "threads", WithClock(clk.now))
	require.NoError(t, err)

	assert.Empty(t, s.Tick(context.Background()))

	clk.t = clk.t.Add(90 * time.Minute)
	fired := s.Tick(context.Background())
	require.Len(t, fired, 1)
	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, fired[0], ev.ThreadID)
	assert.Equal(t, "Daily EV digest", ev.Request)
	assert.Equal(t, "schedule", ev.Trigger)
	assert.Equal(t, "daily-ev", ev.Schedule)
	assert.True(t, ev.AutoAccept)

	// same slot does not fire twice
	assert.Empty(t, s.Tick(context.Background()))
}

func TestMissedSlotsCollapse(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	pub := &capturePublisher{}
	s, err := New([]config.ScheduleConfig{daily}, pub, nil, "threads", WithClock(clk.now))
	require.NoError(t, err)

	clk.t = clk.t.Add(72 * time.Hour)
	assert.Len(t, s.Tick(context.Background()), 1)
	assert.Empty(t, s.Tick(context.Background()))
}

func TestLockPreventsDuplicateAcrossWorkers(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 5, 59, 0, 0, time.UTC)}
	locker := &memLocker{}
	pubA, pubB := &capturePublisher{}, &capturePublisher{}
	a, err := New([]config.ScheduleConfig{daily}, pubA, locker, "threads", WithClock(clk.now))
	require.NoError(t, err)
	b, err := New([]config.ScheduleConfig{daily}, pubB, locker, "threads", WithClock(clk.now))
	require.NoError(t, err)

	clk.t = clk.t.Add(2 * time.Minute)
	a.Tick(context.Background())
	b.Tick(context.Background())
	assert.Equal(t, 1, len(pubA.events)+len(pubB.events))
}

func TestNewRejectsBadSchedules(t *testing.T) {
	_, err := New([]config.ScheduleConfig{{Name: "x", Cron: "not a cron", Request: "r"}}, &capturePublisher{}, nil, "s")
	assert.Error(t, err)
	_, err = New([]config.ScheduleConfig{{Name: "x", Cron: "@hourly"}}, &capturePublisher{}, nil, "s")
	assert.Error(t, err)
}

func TestPublishFailureIsLoggedNotFatal(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)}
	s, err := New([]config.ScheduleConfig{daily}, &capturePublisher{err: errors.New("redis down")}, nil, "threads", WithClock(clk.now))
	require.NoError(t, err)
	clk.t = clk.t.Add(2 * time.Hour)
	assert.Empty(t, s.Tick(context.Background()))
}

func TestRunReturnsOnCancel(t *testing.T) {
	s, err := New(nil, &capturePublisher{}, nil, "threads")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))
}
