package main

import (
	"context"

	"github.com/mohammad-safakhou/reportflow/internal/workflow"
)

type idempotencyClaimer interface {
	ClaimIdempotency(ctx context.Context, scope, key string) (bool, error)
}

type threadLister interface {
	ListThreads(ctx context.Context, statuses ...workflow.Status) ([]string, error)
}

// workerStore pairs the idempotency backend with the checkpoint backend,
// which may differ.
type workerStore struct {
	claimer idempotencyClaimer
	lister  threadLister
}

func (w workerStore) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	return w.claimer.ClaimIdempotency(ctx, scope, key)
}

func (w workerStore) ListThreads(ctx context.Context, statuses ...workflow.Status) ([]string, error) {
	return w.lister.ListThreads(ctx, statuses...)
}
