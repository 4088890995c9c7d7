package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("test", func(context.Context, Job) error { return nil }, QueueConfig{})
	_, err := q.Enqueue(Job{Type: "noop"})
	require.Error(t, err)
}

func TestQueueProcessesJobs(t *testing.T) {
	var handled atomic.Int32
	q := NewQueue("test", func(context.Context, Job) error {
		handled.Add(1)
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	for i := 0; i < 5; i++ {
		id, err := q.Enqueue(Job{Type: "noop"})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}

	require.Eventually(t, func() bool { return handled.Load() == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(5), q.Stats().Enqueued)
}

func TestQueueRetriesThenExhausts(t *testing.T) {
	var attempts atomic.Int32
	exhausted := make(chan Job, 1)
	q := NewQueue("test", func(context.Context, Job) error {
		attempts.Add(1)
		return errors.New("still failing")
	}, QueueConfig{
		MaxRetries:  2,
		RetryDelay:  time.Millisecond,
		OnExhausted: func(j Job, err error) { exhausted <- j },
	})
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue(Job{Type: "flaky"})
	require.NoError(t, err)

	select {
	case job := <-exhausted:
		assert.Equal(t, 3, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job never exhausted")
	}
	assert.Equal(t, int32(3), attempts.Load())
	stats := q.Stats()
	assert.Equal(t, uint64(2), stats.Retried)
	assert.Equal(t, uint64(1), stats.Exhausted)
}
