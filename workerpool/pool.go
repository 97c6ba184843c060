// Package workerpool implements the Worker Pool: a bounded-parallelism
// executor for a batch of tasks. Unlike the teacher's queue-fed
// TaskWorkerPool (which runs a long-lived set of goroutines pulling from a
// core.TaskQueue), this pool runs one finite batch at a time, admitting at
// most maxConcurrent tasks concurrently via a weighted semaphore and
// returning one result per task in input order.
package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/itsneelabh/agentrt/core"
)

// Task is a unit of work submitted to the pool. It receives the context
// passed to Run or Do, unchanged, and must return a result or an error.
type Task func(ctx context.Context) (interface{}, error)

// Result is the per-task outcome, always present in input order regardless
// of whether the task ran, failed, panicked, or was skipped due to
// cancellation.
type Result struct {
	Value     interface{}
	Err       error
	Cancelled bool
	Skipped   bool
}

// Pool runs tasks with at most maxConcurrent in flight. The semaphore is
// pool-wide and long-lived (not re-created per call) so a single Pool can
// back both one-shot batches (Run) and independent single-task admissions
// from unrelated callers (Do, used by the Sub-Agent Scheduler's "start
// worker slot" step) while still enforcing one global concurrency cap
// across all of them.
type Pool struct {
	maxConcurrent int64
	sem           *semaphore.Weighted
	logger        core.Logger
}

// New builds a Pool. maxConcurrent of 0 means no task ever runs (every
// Result in every batch comes back Skipped); this mirrors spec §4.6's
// backpressure contract literally rather than silently clamping to 1.
func New(maxConcurrent int, logger core.Logger) *Pool {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("runtime/workerpool")
	}
	p := &Pool{maxConcurrent: int64(maxConcurrent), logger: logger}
	if maxConcurrent > 0 {
		p.sem = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return p
}

// Run executes tasks with at most p.maxConcurrent in flight, stopping early
// on ctx cancellation. It blocks until every task has either completed,
// failed, panicked, or been skipped, and returns one Result per task in
// input order.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))

	if len(tasks) == 0 {
		return results
	}

	if p.maxConcurrent <= 0 {
		p.logger.Warn("worker pool has zero concurrency, skipping entire batch", map[string]interface{}{
			"task_count": len(tasks),
		})
		for i := range results {
			results[i] = Result{Skipped: true}
		}
		return results
	}

	var wg sync.WaitGroup
	for i, task := range tasks {
		i, task := i, task

		// Stop admitting new tasks once cancellation is signaled, without
		// blocking on the semaphore first (Acquire would itself return
		// promptly on ctx.Done, but checking here avoids starting the
		// goroutine and its bookkeeping at all).
		select {
		case <-ctx.Done():
			results[i] = Result{Cancelled: true, Err: ctx.Err()}
			continue
		default:
		}

		if err := p.sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{Cancelled: true, Err: ctx.Err()}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.sem.Release(1)
			results[i] = p.runOne(ctx, task)
		}()
	}

	wg.Wait()
	return results
}

// Do runs a single task under the pool's shared slot budget, blocking
// (backpressure) until one is free or ctx is cancelled. Unlike Run, which
// owns an entire batch's lifetime, Do is meant for independent callers —
// such as the Sub-Agent Scheduler — that each want exactly one slot out of
// the same pool-wide cap.
func (p *Pool) Do(ctx context.Context, task Task) Result {
	if p.maxConcurrent <= 0 {
		return Result{Skipped: true}
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Result{Cancelled: true, Err: ctx.Err()}
	}
	defer p.sem.Release(1)
	return p.runOne(ctx, task)
}

func (p *Pool) runOne(ctx context.Context, task Task) (result Result) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			p.logger.Error("task panicked", map[string]interface{}{
				"panic": r,
				"stack": stack,
			})
			result = Result{Err: fmt.Errorf("task panic: %v", r)}
		}
	}()

	if ctx.Err() != nil {
		return Result{Cancelled: true, Err: ctx.Err()}
	}

	value, err := task(ctx)
	duration := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			p.logger.Warn("task cancelled", map[string]interface{}{"duration_ms": duration.Milliseconds()})
			return Result{Cancelled: true, Err: ctx.Err()}
		}
		p.logger.Error("task failed", map[string]interface{}{
			"error":       err.Error(),
			"duration_ms": duration.Milliseconds(),
		})
		return Result{Err: err}
	}

	return Result{Value: value}
}
