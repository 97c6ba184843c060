package subagent

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/agentrt/audit"
	"github.com/itsneelabh/agentrt/core"
	"github.com/itsneelabh/agentrt/ledger"
	"github.com/itsneelabh/agentrt/ownership"
	"github.com/itsneelabh/agentrt/resilience"
	"github.com/itsneelabh/agentrt/workerpool"
)

const wellFormedOutput = "SUMMARY: did the thing\nCLAIM: it worked\nEVIDENCE: saw logs\nRESULT: final answer here\nNEXT_STEP: none"

type stubInvoker struct {
	text string
	err  error
	fn   func(ctx context.Context) (string, error)
}

func (s *stubInvoker) Invoke(ctx context.Context, prompt string) (*core.InvokeResult, error) {
	if s.fn != nil {
		text, err := s.fn(ctx)
		if err != nil {
			return nil, err
		}
		return &core.InvokeResult{Text: text}, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return &core.InvokeResult{Text: s.text}, nil
}

func testLimits() core.RuntimeLimits {
	return core.RuntimeLimits{
		MaxTotalActiveLLM:      2,
		MaxTotalActiveRequests: 4,
		CapacityWaitMs:         200,
		CapacityPollMs:         5,
		QueueCap:               8,
		ReservationExpiry:      time.Minute,
	}
}

func newScheduler(t *testing.T, invoker core.LLMInvoker) (*Scheduler, *audit.Log) {
	t.Helper()
	l := ledger.NewLedger(testLimits(), nil)
	pool := workerpool.New(2, nil)
	retry := resilience.NewRetryExecutor(&resilience.RetryConfig{
		MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1,
	})
	auditLog, err := audit.New(filepath.Join(t.TempDir(), "audit.log.jsonl"), nil)
	require.NoError(t, err)
	return New(l, pool, retry, nil, auditLog, invoker, nil), auditLog
}

func TestRunSucceedsWithWellFormedOutput(t *testing.T) {
	sched, auditLog := newScheduler(t, &stubInvoker{text: wellFormedOutput})

	result := sched.Run(context.Background(), Definition{ID: "agent-1", Role: "researcher"}, "find X", Options{ToolName: "search"})

	require.Equal(t, OutcomeSuccess, result.Outcome.Status)
	assert.False(t, result.Output.Degraded)
	assert.Equal(t, "final answer here", result.Output.Sections["RESULT"])

	events, err := auditLog.Read(context.Background(), audit.Filter{Action: "subagent_completed"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRunDegradesUnstructuredOutput(t *testing.T) {
	sched, _ := newScheduler(t, &stubInvoker{text: "just a plain answer with no labels at all"})

	result := sched.Run(context.Background(), Definition{ID: "agent-1"}, "find X", Options{ToolName: "search"})

	require.Equal(t, OutcomeSuccess, result.Outcome.Status)
	assert.True(t, result.Output.Degraded)
	assert.Equal(t, 0.4, result.Output.Confidence)
	assert.Contains(t, result.Output.Sections["RESULT"], "plain answer")
}

func TestRunFailsOnTooShortOutput(t *testing.T) {
	sched, auditLog := newScheduler(t, &stubInvoker{text: "ok"})

	result := sched.Run(context.Background(), Definition{ID: "agent-1"}, "find X", Options{ToolName: "search"})

	require.Equal(t, OutcomeFailure, result.Outcome.Status)
	assert.Equal(t, core.KindEmptyOutput, result.Outcome.Kind)

	events, err := auditLog.Read(context.Background(), audit.Filter{Action: "subagent_failed"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRunReleasesReservationOnInvokerError(t *testing.T) {
	l := ledger.NewLedger(testLimits(), nil)
	pool := workerpool.New(2, nil)
	retry := resilience.NewRetryExecutor(&resilience.RetryConfig{
		MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1,
	})
	sched := New(l, pool, retry, nil, nil, &stubInvoker{err: errors.New("boom")}, nil)

	result := sched.Run(context.Background(), Definition{ID: "agent-1"}, "find X", Options{ToolName: "search"})

	require.Equal(t, OutcomeFailure, result.Outcome.Status)
	assert.Equal(t, 0, l.Snapshot().ActiveReservations)
}

func TestRunPropagatesCancellationDuringInvocation(t *testing.T) {
	l := ledger.NewLedger(testLimits(), nil)
	pool := workerpool.New(2, nil)
	retry := resilience.NewRetryExecutor(&resilience.RetryConfig{
		MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	invoker := &stubInvoker{fn: func(ctx context.Context) (string, error) {
		cancel()
		return "", errors.New("transient")
	}}
	sched := New(l, pool, retry, nil, nil, invoker, nil)

	result := sched.Run(ctx, Definition{ID: "agent-1"}, "find X", Options{ToolName: "search"})

	require.Equal(t, OutcomeCancelled, result.Outcome.Status)
	assert.Equal(t, 0, l.Snapshot().ActiveReservations)
}

func TestRunFailsWhenWorkflowOwnedByOther(t *testing.T) {
	store := core.NewInMemoryKVStore()
	liveness := &fakeLiveness{live: []string{"self", "other"}}
	mOther := ownership.New(store, liveness, "other")
	_, _, err := mOther.Claim(context.Background(), "wf-1", 1)
	require.NoError(t, err)

	mSelf := ownership.New(store, liveness, "self")

	l := ledger.NewLedger(testLimits(), nil)
	pool := workerpool.New(2, nil)
	retry := resilience.NewRetryExecutor(nil)
	sched := New(l, pool, retry, mSelf, nil, &stubInvoker{text: wellFormedOutput}, nil)

	result := sched.Run(context.Background(), Definition{ID: "agent-1"}, "find X", Options{ToolName: "search", WorkflowID: "wf-1"})

	require.Equal(t, OutcomeFailure, result.Outcome.Status)
	assert.Equal(t, core.KindWorkflowOwnedByOther, result.Outcome.Kind)
}

type fakeLiveness struct{ live []string }

func (f *fakeLiveness) LiveInstances() []string { return f.live }
