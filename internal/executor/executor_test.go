package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type stubCheckpoint struct {
	failOn string
	events []string
}

func (s *stubCheckpoint) record(event string) error {
	if s.failOn != "" && s.failOn == event {
		return errors.New("disk full")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *stubCheckpoint) SaveTaskStart(ctx context.Context, task Task, attempt int) error {
	return s.record(fmt.Sprintf("task_start:%s:%d", task.ID, attempt))
}

func (s *stubCheckpoint) SaveTaskSuccess(ctx context.Context, task Task, attempt int) error {
	return s.record(fmt.Sprintf("task_success:%s:%d", task.ID, attempt))
}

func (s *stubCheckpoint) SaveTaskFailure(ctx context.Context, task Task, attempt int, err error) error {
	return s.record(fmt.Sprintf("task_failure:%s:%d", task.ID, attempt))
}

var _ CheckpointManager = (*stubCheckpoint)(nil)

type stubRunner struct {
	calls   int
	outputs []string
	errors  []error
}

func (s *stubRunner) run(ctx context.Context, attempt int) (string, error) {
	i := s.calls
	s.calls++
	var out string
	var err error
	if i < len(s.outputs) {
		out = s.outputs[i]
	}
	if i < len(s.errors) {
		err = s.errors[i]
	}
	return out, err
}

func noSleep(ex *Executor) { ex.sleep = func(context.Context, time.Duration) error { return nil } }

func TestExecutorOptionSetsCheckpointManager(t *testing.T) {
	stub := &stubCheckpoint{}
	exec := New(WithCheckpointManager(stub))
	if exec.checkpoints != stub {
		t.Fatalf("expected checkpoint manager to be set")
	}
}

func TestRunSucceedsFirstAttempt(t *testing.T) {
	chk := &stubCheckpoint{}
	run := &stubRunner{outputs: []string{"done"}}
	exec := New(WithCheckpointManager(chk))

	out, err := exec.Run(context.Background(), Task{ID: "t1"}, run.run)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "done" || run.calls != 1 {
		t.Fatalf("unexpected output %q calls=%d", out, run.calls)
	}
	expected := []string{"task_start:t1:0", "task_success:t1:0"}
	if fmt.Sprint(chk.events) != fmt.Sprint(expected) {
		t.Fatalf("unexpected checkpoint events: %v", chk.events)
	}
}

func TestExecutorRetriesUntilSuccess(t *testing.T) {
	chk := &stubCheckpoint{}
	run := &stubRunner{outputs: []string{"", "ok"}, errors: []error{errors.New("boom"), nil}}
	exec := New(WithCheckpointManager(chk), noSleep)

	out, err := exec.Run(context.Background(), Task{ID: "t1", MaxRetries: 2}, run.run)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out != "ok" || run.calls != 2 {
		t.Fatalf("expected retry, out=%q calls=%d", out, run.calls)
	}
	expected := []string{"task_start:t1:0", "task_failure:t1:1", "task_start:t1:1", "task_success:t1:1"}
	if fmt.Sprint(chk.events) != fmt.Sprint(expected) {
		t.Fatalf("unexpected checkpoint events: %v", chk.events)
	}
}

func TestExecutorRetriesExhausted(t *testing.T) {
	chk := &stubCheckpoint{}
	run := &stubRunner{errors: []error{errors.New("boom"), errors.New("boom")}}
	exec := New(WithCheckpointManager(chk), noSleep)

	_, err := exec.Run(context.Background(), Task{ID: "t1", MaxRetries: 1}, run.run)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if run.calls != 2 {
		t.Fatalf("expected two attempts, got %d", run.calls)
	}
	expected := []string{"task_start:t1:0", "task_failure:t1:1", "task_start:t1:1", "task_failure:t1:2"}
	if fmt.Sprint(chk.events) != fmt.Sprint(expected) {
		t.Fatalf("unexpected checkpoint events: %v", chk.events)
	}
}

func TestBackoffDoublesPerAttempt(t *testing.T) {
	var waits []time.Duration
	run := &stubRunner{errors: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	exec := New(func(ex *Executor) {
		ex.sleep = func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}
	})

	_, _ = exec.Run(context.Background(), Task{ID: "t", MaxRetries: 2, RetryDelay: 10 * time.Millisecond}, run.run)
	expected := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if fmt.Sprint(waits) != fmt.Sprint(expected) {
		t.Fatalf("unexpected backoff: %v", waits)
	}
}

func TestPermanentErrorStopsRetries(t *testing.T) {
	run := &stubRunner{errors: []error{Permanent(errors.New("bad request")), nil}}
	exec := New(noSleep)

	_, err := exec.Run(context.Background(), Task{ID: "t", MaxRetries: 3}, run.run)
	if err == nil || !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if run.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", run.calls)
	}
}

func TestRetryPolicyConsulted(t *testing.T) {
	fatal := errors.New("config")
	run := &stubRunner{errors: []error{fatal}}
	exec := New(noSleep, WithRetryPolicy(func(err error) bool { return !errors.Is(err, fatal) }))
	if _, err := exec.Run(context.Background(), Task{ID: "t", MaxRetries: 3}, run.run); !errors.Is(err, fatal) {
		t.Fatalf("expected policy to stop retries, got %v", err)
	}
	if run.calls != 1 {
		t.Fatalf("expected one call, got %d", run.calls)
	}
}

func TestCheckpointFailureIsFatal(t *testing.T) {
	chk := &stubCheckpoint{failOn: "task_start:t:0"}
	run := &stubRunner{outputs: []string{"x"}}
	exec := New(WithCheckpointManager(chk))

	_, used, err := exec.RunWithFallback(context.Background(), Task{ID: "t"}, "fallback", run.run)
	if !errors.Is(err, ErrCheckpoint) {
		t.Fatalf("expected checkpoint error, got %v", err)
	}
	if used || run.calls != 0 {
		t.Fatalf("runner must not be invoked when the start checkpoint fails")
	}
}

func TestRunWithFallbackDegrades(t *testing.T) {
	run := &stubRunner{errors: []error{errors.New("timeout"), errors.New("timeout")}}
	exec := New(noSleep)

	out, used, err := exec.RunWithFallback(context.Background(), Task{ID: "t", MaxRetries: 1}, "analysis degraded", run.run)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !used || out != "analysis degraded" {
		t.Fatalf("expected fallback, got %q used=%v", out, used)
	}
}

func TestRunHonoursAttemptTimeout(t *testing.T) {
	exec := New(noSleep)
	fn := func(ctx context.Context, attempt int) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	start := time.Now()
	_, err := exec.Run(context.Background(), Task{ID: "t", Timeout: 20 * time.Millisecond}, fn)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected exhaustion after timeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("attempt timeout not applied")
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run := &stubRunner{outputs: []string{"x"}}
	if _, _, err := New().RunWithFallback(ctx, Task{ID: "t"}, "fb", run.run); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

type recordingAttempts struct{ attempts []Attempt }

func (r *recordingAttempts) UpsertStepAttempt(ctx context.Context, a Attempt) error {
	r.attempts = append(r.attempts, a)
	return nil
}

func TestStoreCheckpointManagerRecordsAttempts(t *testing.T) {
	rec := &recordingAttempts{}
	mgr := NewStoreCheckpointManager(rec)
	task := Task{ID: "step-0", ThreadID: "th", Stage: "researcher:0", Payload: map[string]interface{}{"title": "A"}}
	ctx := context.Background()

	if err := mgr.SaveTaskStart(ctx, task, 0); err != nil {
		t.Fatalf("SaveTaskStart: %v", err)
	}
	if err := mgr.SaveTaskFailure(ctx, task, 1, errors.New("boom")); err != nil {
		t.Fatalf("SaveTaskFailure: %v", err)
	}
	if err := mgr.SaveTaskSuccess(ctx, task, 1); err != nil {
		t.Fatalf("SaveTaskSuccess: %v", err)
	}
	if len(rec.attempts) != 3 {
		t.Fatalf("expected three attempts, got %d", len(rec.attempts))
	}
	if rec.attempts[1].Status != AttemptFailed || rec.attempts[1].Payload["error"] != "boom" {
		t.Fatalf("failure not recorded: %+v", rec.attempts[1])
	}
	if rec.attempts[2].Stage != "researcher:0" || rec.attempts[2].Status != AttemptCompleted {
		t.Fatalf("unexpected success record: %+v", rec.attempts[2])
	}
}
