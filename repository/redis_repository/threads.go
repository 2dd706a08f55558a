package redis_repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mohammad-safakhou/reportflow/internal/workflow"
	"github.com/redis/go-redis/v9"
)

const (
	checkpointKeyPrefix = "reportflow:checkpoint:"
	cancelKeyPrefix     = "reportflow:cancel:"
	statusKeyPrefix     = "reportflow:status:"
	idempotencyPrefix   = "reportflow:idem:"

	idempotencyTTL = 7 * 24 * time.Hour
)

// RedisThreadStore keeps thread checkpoints in Redis. Each status has a set of
// thread ids so recovery can list running threads without scanning keys.
type RedisThreadStore struct {
	client *redis.Client
}

func NewRedisThreadStore(client *redis.Client) *RedisThreadStore {
	return &RedisThreadStore{client: client}
}

var allStatuses = []workflow.Status{
	workflow.StatusRunning,
	workflow.StatusSuspended,
	workflow.StatusCompleted,
	workflow.StatusFailed,
	workflow.StatusCancelled,
}

func (r *RedisThreadStore) WriteCheckpoint(ctx context.Context, st *workflow.State) error {
	if st == nil || st.ThreadID == "" {
		return fmt.Errorf("thread_id is required")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}

	// state and status index move together
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, checkpointKeyPrefix+st.ThreadID, data, 0)
		for _, s := range allStatuses {
			if s != st.Status {
				pipe.SRem(ctx, statusKeyPrefix+string(s), st.ThreadID)
			}
		}
		pipe.SAdd(ctx, statusKeyPrefix+string(st.Status), st.ThreadID)
		return nil
	})
	return err
}

func (r *RedisThreadStore) ReadCheckpoint(ctx context.Context, threadID string) (*workflow.State, bool, error) {
	val, err := r.client.Get(ctx, checkpointKeyPrefix+threadID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var st workflow.State
	if err := json.Unmarshal(val, &st); err != nil {
		return nil, false, err
	}
	return &st, true, nil
}

// ListThreads returns thread ids in any of statuses, sorted. No statuses means all.
func (r *RedisThreadStore) ListThreads(ctx context.Context, statuses ...workflow.Status) ([]string, error) {
	if len(statuses) == 0 {
		statuses = allStatuses
	}
	keys := make([]string, len(statuses))
	for i, s := range statuses {
		keys[i] = statusKeyPrefix + string(s)
	}
	ids, err := r.client.SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *RedisThreadStore) RequestCancel(ctx context.Context, threadID string) error {
	if threadID == "" {
		return fmt.Errorf("thread_id is required")
	}
	return r.client.Set(ctx, cancelKeyPrefix+threadID, "1", 0).Err()
}

func (r *RedisThreadStore) IsCancelled(ctx context.Context, threadID string) (bool, error) {
	n, err := r.client.Exists(ctx, cancelKeyPrefix+threadID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteThread removes the checkpoint, its status entries and any cancel flag.
func (r *RedisThreadStore) DeleteThread(ctx context.Context, threadID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, checkpointKeyPrefix+threadID, cancelKeyPrefix+threadID)
		for _, s := range allStatuses {
			pipe.SRem(ctx, statusKeyPrefix+string(s), threadID)
		}
		return nil
	})
	return err
}

// ClaimIdempotency returns true the first time scope/key is seen. Claims
// expire after a week, well past any stream retention.
func (r *RedisThreadStore) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	if scope == "" || key == "" {
		return false, fmt.Errorf("scope and key are required")
	}
	return r.client.SetNX(ctx, idempotencyPrefix+scope+":"+key, "1", idempotencyTTL).Result()
}

var _ workflow.Store = (*RedisThreadStore)(nil)
