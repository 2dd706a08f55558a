package executor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Task describes one retryable unit of work, usually a single plan step.
type Task struct {
	ID         string
	ThreadID   string
	Stage      string
	Payload    map[string]interface{}
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// Func performs one attempt. attempt starts at 0.
type Func func(ctx context.Context, attempt int) (string, error)

// Executor runs tasks with bounded exponential backoff and per-attempt timeouts.
type Executor struct {
	checkpoints CheckpointManager
	metrics     Metrics
	retryable   func(error) bool
	sleep       func(ctx context.Context, d time.Duration) error
}

// Metrics aggregates optional telemetry callbacks.
type Metrics struct {
	RetryCounter func(context.Context, Task, int)
	Duration     func(context.Context, Task, time.Duration)
}

// Option configures executor behaviour.
type Option func(*Executor)

// WithCheckpointManager sets the checkpoint manager implementation.
func WithCheckpointManager(mgr CheckpointManager) Option {
	return func(ex *Executor) {
		ex.checkpoints = mgr
	}
}

// WithMetrics sets executor metrics callbacks.
func WithMetrics(m Metrics) Option {
	return func(ex *Executor) {
		ex.metrics = m
	}
}

// WithRetryPolicy decides which errors are worth another attempt.
func WithRetryPolicy(fn func(error) bool) Option {
	return func(ex *Executor) {
		ex.retryable = fn
	}
}

// New creates a new Executor instance.
func New(opts ...Option) *Executor {
	ex := &Executor{sleep: sleepCtx}
	for _, opt := range opts {
		opt(ex)
	}
	if ex.checkpoints == nil {
		ex.checkpoints = NewNoopCheckpointManager()
	}
	return ex
}

// ErrRetriesExhausted wraps the last error once every attempt failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrCheckpoint marks a failure to persist attempt progress. It is never retried.
var ErrCheckpoint = errors.New("checkpoint write failed")

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Run executes fn until it succeeds, the retry budget is spent, or ctx ends.
func (e *Executor) Run(ctx context.Context, task Task, fn Func) (string, error) {
	if task.Stage == "" {
		task.Stage = task.ID
	}
	maxRetries := task.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := task.RetryDelay
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		attemptStart := time.Now()
		if err := e.checkpoints.SaveTaskStart(ctx, task, attempt); err != nil {
			return "", fmt.Errorf("%w: %v", ErrCheckpoint, err)
		}
		out, runErr := e.attempt(ctx, task, fn, attempt)
		if runErr == nil {
			if err := e.checkpoints.SaveTaskSuccess(ctx, task, attempt); err != nil {
				return "", fmt.Errorf("%w: %v", ErrCheckpoint, err)
			}
			if e.metrics.Duration != nil {
				e.metrics.Duration(ctx, task, time.Since(attemptStart))
			}
			return out, nil
		}
		nextAttempt := attempt + 1
		if err := e.checkpoints.SaveTaskFailure(ctx, task, nextAttempt, runErr); err != nil {
			return "", fmt.Errorf("%w: %v", ErrCheckpoint, err)
		}
		if e.metrics.RetryCounter != nil {
			e.metrics.RetryCounter(ctx, task, nextAttempt)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if IsPermanent(runErr) || (e.retryable != nil && !e.retryable(runErr)) {
			return "", runErr
		}
		if nextAttempt > maxRetries {
			return "", fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, nextAttempt, runErr)
		}
		if delay > 0 {
			if err := e.sleep(ctx, delay*time.Duration(1<<attempt)); err != nil {
				return "", err
			}
		}
		attempt = nextAttempt
	}
}

// RunWithFallback behaves like Run but substitutes fallback when fn keeps failing.
// The returned bool reports whether the fallback was used. Only checkpoint
// failures and context cancellation surface as errors.
func (e *Executor) RunWithFallback(ctx context.Context, task Task, fallback string, fn Func) (string, bool, error) {
	out, err := e.Run(ctx, task, fn)
	if err == nil {
		return out, false, nil
	}
	if errors.Is(err, ErrCheckpoint) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return "", false, err
	}
	return fallback, true, nil
}

func (e *Executor) attempt(ctx context.Context, task Task, fn Func, attempt int) (string, error) {
	if task.Timeout <= 0 {
		return fn(ctx, attempt)
	}
	callCtx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()
	return fn(callCtx, attempt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
