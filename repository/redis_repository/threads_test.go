package redis_repository

import (
	"context"
	"testing"
	"time"

	"github.com/mohammad-safakhou/reportflow/internal/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container tests need docker")
	}
	ctx := context.Background()
	container, err := tcredis.RunContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	opts.DialTimeout = 5 * time.Second
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisThreadStoreCheckpoints(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	st := NewRedisThreadStore(client)

	_, ok, err := st.ReadCheckpoint(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	state := workflow.NewState("t1", "Report on heat pumps")
	require.NoError(t, st.WriteCheckpoint(ctx, state))
	other := workflow.NewState("t2", "Report on solar")
	require.NoError(t, st.WriteCheckpoint(ctx, other))

	running, err := st.ListThreads(ctx, workflow.StatusRunning)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, running)

	state.Status = workflow.StatusSuspended
	state.Node = workflow.NodeHumanFeedback
	require.NoError(t, st.WriteCheckpoint(ctx, state))

	running, err = st.ListThreads(ctx, workflow.StatusRunning)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, running)

	all, err := st.ListThreads(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, all)

	got, ok, err := st.ReadCheckpoint(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, workflow.StatusSuspended, got.Status)
	assert.Equal(t, "Report on heat pumps", got.Request)
}

func TestRedisThreadStoreCancellation(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	st := NewRedisThreadStore(client)

	ok, err := st.IsCancelled(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.RequestCancel(ctx, "t1"))
	ok, err = st.IsCancelled(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, st.DeleteThread(ctx, "t1"))
	ok, err = st.IsCancelled(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Error(t, st.RequestCancel(ctx, ""))
}

func TestRedisThreadStoreClaimIdempotency(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	st := NewRedisThreadStore(client)

	first, err := st.ClaimIdempotency(ctx, "worker:thread.requested", "1-0")
	require.NoError(t, err)
	assert.True(t, first)
	again, err := st.ClaimIdempotency(ctx, "worker:thread.requested", "1-0")
	require.NoError(t, err)
	assert.False(t, again)
	other, err := st.ClaimIdempotency(ctx, "worker:thread.resumed", "1-0")
	require.NoError(t, err)
	assert.True(t, other)

	_, err = st.ClaimIdempotency(ctx, "", "1-0")
	assert.Error(t, err)
}
