package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/importd/pkg/batch/core/config"
	"github.com/tigerroll/importd/pkg/batch/engine/queue"
	"github.com/tigerroll/importd/pkg/batch/test"
)

func newClient(t *testing.T) (*queue.Client, *test.DB) {
	t.Helper()
	db := test.NewSQLiteDB(t)
	c := queue.NewClient(db.Conn, config.NewConfig())
	require.NoError(t, c.Init(context.Background()))
	return c, db
}

func TestClaimOrderAndDelay(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	_, err := c.Enqueue(ctx, "later", queue.EnqueueOptions{Delay: time.Hour})
	require.NoError(t, err)
	first, err := c.Enqueue(ctx, "first", queue.EnqueueOptions{MaxAttempts: 3})
	require.NoError(t, err)
	_, err = c.Enqueue(ctx, "second", queue.EnqueueOptions{})
	require.NoError(t, err)

	e, err := c.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, first.ID, e.ID)
	assert.Equal(t, 1, e.Attempts)
	assert.Equal(t, 3, e.MaxAttempts)
	assert.Equal(t, queue.StatusActive, e.Status)

	e2, err := c.Claim(ctx, "w2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, e2)
	assert.Equal(t, "second", e2.JobID)

	none, err := c.Claim(ctx, "w3", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none, "delayed entry is not due")
}

func TestConcurrentClaimsNeverShareAnEntry(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	const jobs = 8
	for i := 0; i < jobs; i++ {
		_, err := c.Enqueue(ctx, "job", queue.EnqueueOptions{})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := map[uint64]string{}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				e, err := c.Claim(ctx, worker, time.Minute)
				if err != nil || e == nil {
					return
				}
				mu.Lock()
				_, dup := seen[e.ID]
				seen[e.ID] = worker
				mu.Unlock()
				assert.False(t, dup, "entry %d claimed twice", e.ID)
			}
		}(string(rune('a' + w)))
	}
	wg.Wait()

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, len(seen), stats.Active)
	assert.EqualValues(t, jobs-len(seen), stats.Waiting)
}

func TestLeaseOperations(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	_, err := c.Enqueue(ctx, "job-1", queue.EnqueueOptions{MaxAttempts: 2})
	require.NoError(t, err)

	e, err := c.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.Heartbeat(ctx, e, time.Minute))

	stolen := *e
	other := "w2"
	stolen.WorkerID = &other
	assert.True(t, errors.Is(c.Heartbeat(ctx, &stolen, time.Minute), queue.ErrLeaseLost))

	require.NoError(t, c.Retry(ctx, e, 0, "attempt 1/2 failed"))
	assert.True(t, errors.Is(c.Complete(ctx, e), queue.ErrLeaseLost), "retried entry is no longer held")

	e, err = c.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 2, e.Attempts)

	require.NoError(t, c.Release(ctx, e))
	e, err = c.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Attempts, "release does not count the attempt")

	require.NoError(t, c.Complete(ctx, e))
	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{Completed: 1}, stats)
}

func TestRequeueStalled(t *testing.T) {
	c, db := newClient(t)
	ctx := context.Background()
	_, err := c.Enqueue(ctx, "job-1", queue.EnqueueOptions{})
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		e, err := c.Claim(ctx, "w1", -time.Second)
		require.NoError(t, err)
		require.NotNil(t, e)

		stalled, err := c.RequeueStalled(ctx, 2)
		require.NoError(t, err)
		require.Len(t, stalled, 1)
		assert.Equal(t, i, stalled[0].StalledCount)
		assert.False(t, stalled[0].Exhausted)
	}

	e, err := c.Claim(ctx, "w1", -time.Second)
	require.NoError(t, err)
	stalled, err := c.RequeueStalled(ctx, 2)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.True(t, stalled[0].Exhausted)
	assert.True(t, errors.Is(c.Complete(ctx, e), queue.ErrLeaseLost))

	var entry queue.Entry
	require.NoError(t, db.Gorm.First(&entry, e.ID).Error)
	assert.Equal(t, queue.StatusFailed, entry.Status)
	require.NotNil(t, entry.LastError)
	assert.Equal(t, "job stalled more than 2 times", *entry.LastError)

	live, err := c.Enqueue(ctx, "job-2", queue.EnqueueOptions{})
	require.NoError(t, err)
	_, err = c.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)
	stalled, err = c.RequeueStalled(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, stalled, "entry %d holds a live lease", live.ID)
}

func TestRemovePurgeAndPrune(t *testing.T) {
	c, db := newClient(t)
	ctx := context.Background()

	_, err := c.Enqueue(ctx, "job-1", queue.EnqueueOptions{})
	require.NoError(t, err)
	n, err := c.Remove(ctx, "job-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = c.Enqueue(ctx, "job-2", queue.EnqueueOptions{})
	require.NoError(t, err)
	e, err := c.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)
	n, err = c.Remove(ctx, "job-2")
	require.NoError(t, err)
	assert.Zero(t, n, "active entries are not removed")
	n, err = c.Purge(ctx, "job-2")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, c.Complete(ctx, e))
	n, err = c.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "recently finished entries are retained")
	n, err = c.Prune(ctx, -time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Zero(t, db.Count(t, "queue_entries"))
}

func TestClosedClient(t *testing.T) {
	c, _ := newClient(t)
	require.NoError(t, c.Close())
	_, err := c.Enqueue(context.Background(), "job", queue.EnqueueOptions{})
	assert.ErrorIs(t, err, queue.ErrClosed)
}
