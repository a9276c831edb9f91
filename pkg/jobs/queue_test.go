package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	done := make(chan Job, 1)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		done <- job
		return nil
	}, QueueConfig{Workers: 1})

	_, err := q.Enqueue(Job{Type: "noop"})
	require.Error(t, err, "enqueue before start must fail")

	q.Start(context.Background())
	defer q.Stop()

	id, err := q.Enqueue(Job{Type: "restore", Payload: 42})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	select {
	case job := <-done:
		require.Equal(t, id, job.ID)
		require.Equal(t, 42, job.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("job not processed")
	}
}

func TestQueueRunsFailedJobsOnce(t *testing.T) {
	var calls int32
	q := NewQueue("once", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue(Job{Type: "flaky"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func stopping(q *Queue) func() bool {
	return func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.stopped
	}
}

func TestQueueStopFinishesRunningJobAndDiscardsBuffered(t *testing.T) {
	running := make(chan struct{}, 1)
	release := make(chan struct{})
	finished := make(chan error, 1)
	var discarded []string
	q := NewQueue("drain", func(ctx context.Context, job Job) error {
		running <- struct{}{}
		<-release
		finished <- ctx.Err()
		return nil
	}, QueueConfig{
		Workers:    1,
		BufferSize: 4,
		OnDiscard:  func(job Job) { discarded = append(discarded, job.Type) },
	})
	q.Start(context.Background())

	_, err := q.Enqueue(Job{Type: "first"})
	require.NoError(t, err)
	<-running
	_, err = q.Enqueue(Job{Type: "second"})
	require.NoError(t, err)
	_, err = q.Enqueue(Job{Type: "third"})
	require.NoError(t, err)
	require.Equal(t, 2, q.Pending())

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()
	require.Eventually(t, stopping(q), 2*time.Second, 5*time.Millisecond)
	select {
	case <-stopped:
		t.Fatal("stop returned while a job was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}

	require.NoError(t, <-finished, "running job must keep a live context")
	require.Equal(t, []string{"second", "third"}, discarded)
	_, err = q.Enqueue(Job{Type: "late"})
	require.Error(t, err)
}

func TestQueueStartContextInterruptsJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	running := make(chan struct{}, 1)
	q := NewQueue("cancel", func(ctx context.Context, job Job) error {
		running <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}, QueueConfig{Workers: 1})
	q.Start(ctx)

	_, err := q.Enqueue(Job{Type: "long"})
	require.NoError(t, err)
	<-running
	cancel()

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return after cancel")
	}
}

func TestQueueRejectsWhenFull(t *testing.T) {
	running := make(chan struct{}, 1)
	release := make(chan struct{})
	q := NewQueue("full", func(ctx context.Context, job Job) error {
		running <- struct{}{}
		<-release
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer q.Stop()
	defer close(release)

	_, err := q.Enqueue(Job{Type: "busy"})
	require.NoError(t, err)
	<-running
	_, err = q.Enqueue(Job{Type: "buffered"})
	require.NoError(t, err)
	_, err = q.Enqueue(Job{Type: "overflow"})
	require.Error(t, err)
}

func TestQueueRecoversPanics(t *testing.T) {
	var calls int32
	q := NewQueue("panic", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("bad payload")
		}
		return nil
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue(Job{Type: "a"})
	require.NoError(t, err)
	_, err = q.Enqueue(Job{Type: "b"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, 2*time.Second, 5*time.Millisecond)
}
