package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReturnsResultsInInputOrder(t *testing.T) {
	p := New(3, nil)
	tasks := make([]Task, 5)
	for i := 0; i < 5; i++ {
		i := i
		tasks[i] = func(ctx context.Context) (interface{}, error) {
			time.Sleep(time.Duration(5-i) * time.Millisecond)
			return i, nil
		}
	}

	results := p.Run(context.Background(), tasks)
	require.Len(t, results, 5)
	for i, r := range results {
		assert.NoError(t, r.Err)
		assert.Equal(t, i, r.Value)
	}
}

func TestRunRespectsMaxConcurrent(t *testing.T) {
	var current, maxSeen atomic.Int32
	p := New(2, nil)

	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) (interface{}, error) {
			n := current.Add(1)
			defer current.Add(-1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			return nil, nil
		}
	}

	p.Run(context.Background(), tasks)
	assert.LessOrEqual(t, int(maxSeen.Load()), 2)
}

func TestRunZeroConcurrencySkipsEverything(t *testing.T) {
	p := New(0, nil)
	ran := false
	tasks := []Task{func(ctx context.Context) (interface{}, error) {
		ran = true
		return nil, nil
	}}

	results := p.Run(context.Background(), tasks)
	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped)
	assert.False(t, ran)
}

func TestRunStopsAdmittingAfterCancellation(t *testing.T) {
	p := New(1, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var started atomic.Int32
	tasks := []Task{
		func(ctx context.Context) (interface{}, error) {
			started.Add(1)
			cancel()
			time.Sleep(10 * time.Millisecond)
			return "first", nil
		},
		func(ctx context.Context) (interface{}, error) {
			started.Add(1)
			return "second", nil
		},
	}

	results := p.Run(ctx, tasks)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Value)
	assert.True(t, results[1].Cancelled)
	assert.Equal(t, int32(1), started.Load())
}

func TestRunEmptyTaskListReturnsEmptyResults(t *testing.T) {
	p := New(4, nil)
	results := p.Run(context.Background(), nil)
	assert.Empty(t, results)
}

func TestRunCapturesTaskError(t *testing.T) {
	p := New(1, nil)
	boom := errors.New("boom")
	tasks := []Task{func(ctx context.Context) (interface{}, error) {
		return nil, boom
	}}

	results := p.Run(context.Background(), tasks)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, boom)
	assert.False(t, results[0].Cancelled)
}

func TestRunRecoversFromPanic(t *testing.T) {
	p := New(1, nil)
	tasks := []Task{func(ctx context.Context) (interface{}, error) {
		panic("kaboom")
	}}

	results := p.Run(context.Background(), tasks)
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "kaboom")
}

func TestDoRunsSingleTaskUnderSharedSlotBudget(t *testing.T) {
	p := New(1, nil)
	result := p.Do(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	assert.NoError(t, result.Err)
	assert.Equal(t, "ok", result.Value)
}

func TestDoEnforcesSameCapAsRun(t *testing.T) {
	p := New(1, nil)
	release := make(chan struct{})
	started := make(chan struct{})

	go p.Do(context.Background(), func(ctx context.Context) (interface{}, error) {
		close(started)
		<-release
		return nil, nil
	})

	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	result := p.Do(ctx, func(ctx context.Context) (interface{}, error) {
		return "should not run concurrently", nil
	})
	assert.True(t, result.Cancelled)
	close(release)
}

func TestDoZeroConcurrencySkips(t *testing.T) {
	p := New(0, nil)
	result := p.Do(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.True(t, result.Skipped)
}

func TestRunAlreadyCancelledContextSkipsAllTasks(t *testing.T) {
	p := New(2, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	tasks := []Task{func(ctx context.Context) (interface{}, error) {
		ran = true
		return nil, nil
	}}

	results := p.Run(ctx, tasks)
	require.Len(t, results, 1)
	assert.True(t, results[0].Cancelled)
	assert.False(t, ran)
}
