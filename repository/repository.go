package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/reportflow/config"
	"github.com/mohammad-safakhou/reportflow/internal/store"
	"github.com/mohammad-safakhou/reportflow/internal/workflow"
	"github.com/mohammad-safakhou/reportflow/repository/redis_repository"
)

// ThreadRepository is the checkpoint store used by the orchestrator plus the
// listing needed for crash recovery.
type ThreadRepository interface {
	workflow.Store
	ListThreads(ctx context.Context, statuses ...workflow.Status) ([]string, error)
}

type RepoType string

const (
	RepoTypeRedis    RepoType = "redis"
	RepoTypePostgres RepoType = "postgres"
	RepoTypeMemory   RepoType = "memory"
)

// NewThreadRepository selects the checkpoint backend. pg may be nil unless
// t is postgres.
func NewThreadRepository(ctx context.Context, t RepoType, cfg config.StorageConfig, pg *store.Store) (ThreadRepository, error) {
	switch t {
	case RepoTypeRedis:
		timeout := cfg.Redis.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		port := cfg.Redis.Port
		if port == "" {
			port = "6379"
		}
		c, err := redis_repository.Conn(ctx, cfg.Redis.Host, port, cfg.Redis.Password, cfg.Redis.DB, timeout)
		if err != nil {
			return nil, err
		}
		return redis_repository.NewRedisThreadStore(c), nil
	case RepoTypePostgres:
		if pg == nil {
			return nil, fmt.Errorf("postgres checkpoint backend requires a store")
		}
		return pg, nil
	case RepoTypeMemory:
		return workflow.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("invalid repository type: %s", t)
}
