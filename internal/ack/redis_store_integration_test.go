//go:build integration

package ack

import (
	"context"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(addr)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisStore_Lifecycle(t *testing.T) {
	store := NewRedisStore(newRedisClient(t))
	ctx := context.Background()

	_, err := store.RecordSubmission(ctx, "CN-1", Meta{SubmissionID: "sub-1", TaxYear: 2024, EFIN: "123456"})
	require.NoError(t, err)
	_, err = store.RecordSubmission(ctx, "CN-1", Meta{})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = store.UpdateStatus(ctx, "CN-1", StatusProcessing, "queued")
	require.NoError(t, err)
	rec, err := store.UpdateStatus(ctx, "CN-1", StatusAccepted, "accepted")
	require.NoError(t, err)
	require.Len(t, rec.StatusHistory, 3)

	_, err = store.UpdateStatus(ctx, "CN-2", StatusProcessing, "")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := store.Get(ctx, "CN-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRedisStore_ConcurrentUpdatesKeepEveryEntry(t *testing.T) {
	store := NewRedisStore(newRedisClient(t))
	ctx := context.Background()
	_, err := store.RecordSubmission(ctx, "CN-1", Meta{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateStatus(ctx, "CN-1", StatusProcessing, "poll")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := store.Get(ctx, "CN-1")
	require.NoError(t, err)
	assert.Len(t, rec.StatusHistory, 6)
}

func TestRedisStore_RecordSubmissionIndexesAtomically(t *testing.T) {
	client := newRedisClient(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RecordSubmission(ctx, "CN-IDX", Meta{SubmissionID: "sub-idx"})
			if err != nil {
				assert.ErrorIs(t, err, ErrDuplicate)
				return
			}
			mu.Lock()
			created++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)

	member, err := client.SIsMember(ctx, redisIndexKey, "CN-IDX").Result()
	require.NoError(t, err)
	assert.True(t, member)
	size, err := client.SCard(ctx, redisIndexKey).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, all, "CN-IDX")
}
