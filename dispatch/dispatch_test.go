package dispatch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/agentrt/core"
	"github.com/itsneelabh/agentrt/ownership"
	"github.com/itsneelabh/agentrt/subagent"
)

const wellFormedOutput = "SUMMARY: did the thing\nCLAIM: it worked\nEVIDENCE: saw logs\nRESULT: final answer here\nNEXT_STEP: none"

type stubInvoker struct {
	text string
	err  error
}

func (s *stubInvoker) Invoke(ctx context.Context, prompt string) (*core.InvokeResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &core.InvokeResult{Text: s.text}, nil
}

type staticTeamLoader struct {
	def *core.TeamDefinition
	err error
}

func (l *staticTeamLoader) Load(ctx context.Context, teamID string) (*core.TeamDefinition, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.def, nil
}

func testConfig(t *testing.T) core.Config {
	t.Helper()
	cfg := *core.DefaultConfig()
	cfg.WorkspaceDir = t.TempDir()
	cfg.Limits.MaxTotalActiveLLM = 4
	cfg.Limits.MaxTotalActiveRequests = 8
	cfg.Limits.CapacityWaitMs = 200
	cfg.Limits.CapacityPollMs = 5
	cfg.Limits.QueueCap = 8
	cfg.Limits.ReservationExpiry = time.Minute
	cfg.Limits.MaxConcurrentOrchestrations = 4
	cfg.Coordinator.SweepInterval = time.Hour
	return cfg
}

func newRuntime(t *testing.T, invoker core.LLMInvoker, loader core.TeamDefinitionLoader) *Runtime {
	t.Helper()
	rt, err := New(testConfig(t), invoker, loader, nil)
	require.NoError(t, err)
	return rt
}

func TestSubagentRunPersistsRecord(t *testing.T) {
	rt := newRuntime(t, &stubInvoker{text: wellFormedOutput}, nil)

	result := rt.SubagentRun(context.Background(), SubagentRunRequest{
		Definition: subagent.Definition{ID: "agent-1", Role: "researcher"},
		Task:       "find X",
		Options:    Options{ToolName: "search"},
	})

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, subagent.OutcomeSuccess, result.Result.Outcome.Status)

	status, err := rt.SubagentStatus(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", status.DefinitionID)
	assert.Equal(t, subagent.OutcomeSuccess, status.Outcome.Status)
}

func TestSubagentRunParallelRunsEveryRequest(t *testing.T) {
	rt := newRuntime(t, &stubInvoker{text: wellFormedOutput}, nil)

	requests := []SubagentRunRequest{
		{Definition: subagent.Definition{ID: "a"}, Task: "t1", Options: Options{ToolName: "search"}},
		{Definition: subagent.Definition{ID: "b"}, Task: "t2", Options: Options{ToolName: "search"}},
		{Definition: subagent.Definition{ID: "c"}, Task: "t3", Options: Options{ToolName: "search"}},
	}
	results := rt.SubagentRunParallel(context.Background(), requests)

	require.Len(t, results, 3)
	for _, r := range results {
		assert.NotEmpty(t, r.RunID)
		assert.Equal(t, subagent.OutcomeSuccess, r.Result.Outcome.Status)
	}
}

func TestAgentTeamRunResolvesTeamAndPersists(t *testing.T) {
	def := &core.TeamDefinition{
		ID: "research-team",
		Members: []core.MemberDefinition{
			{ID: "m1", Role: "researcher"},
			{ID: "m2", Role: "writer"},
		},
	}
	rt := newRuntime(t, &stubInvoker{text: wellFormedOutput}, &staticTeamLoader{def: def})

	result := rt.AgentTeamRun(context.Background(), AgentTeamRunRequest{
		TeamID:  "research-team",
		Task:    "write a report",
		Options: Options{ToolName: "report"},
	})

	require.NoError(t, result.Err)
	assert.NotEmpty(t, result.RunID)
	assert.Len(t, result.Result.Members, 2)

	status, err := rt.AgentTeamStatus(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "research-team", status.TeamID)
}

func TestAgentTeamRunReturnsValidationFailureWhenTeamLoadFails(t *testing.T) {
	rt := newRuntime(t, &stubInvoker{text: wellFormedOutput}, &staticTeamLoader{err: assert.AnError})

	result := rt.AgentTeamRun(context.Background(), AgentTeamRunRequest{TeamID: "missing"})

	require.Error(t, result.Err)
	assert.Equal(t, core.KindValidationFailure, core.Classify(result.Err))
}

func TestSubagentStatusReturnsNotFoundForUnknownRunID(t *testing.T) {
	rt := newRuntime(t, &stubInvoker{text: wellFormedOutput}, nil)

	_, err := rt.SubagentStatus(context.Background(), "does-not-exist")
	assert.True(t, core.IsNotFound(err))
}

type loopDriverFixed struct {
	tasks []string
	i     int
}

func (d *loopDriverFixed) Next(ctx context.Context, iteration int, previous subagent.Result) (subagent.Definition, string, bool) {
	if d.i >= len(d.tasks) {
		return subagent.Definition{}, "", true
	}
	task := d.tasks[d.i]
	d.i++
	return subagent.Definition{ID: "looper"}, task, false
}

func TestLoopRunStepsThroughDriverUntilDone(t *testing.T) {
	rt := newRuntime(t, &stubInvoker{text: wellFormedOutput}, nil)

	driver := &loopDriverFixed{tasks: []string{"step 1", "step 2", "step 3"}}
	result := rt.LoopRun(context.Background(), driver, LoopOptions{SubagentOptions: Options{ToolName: "loop"}})

	require.Len(t, result.Iterations, 3)
	assert.False(t, result.StoppedEarly)
	for _, iter := range result.Iterations {
		assert.Equal(t, subagent.OutcomeSuccess, iter.Outcome.Status)
	}
}

func TestLoopRunStopsEarlyOnNonRetryableFailure(t *testing.T) {
	rt := newRuntime(t, &stubInvoker{err: core.NewFrameworkError("test", core.KindValidationFailure, assert.AnError)}, nil)

	driver := &loopDriverFixed{tasks: []string{"step 1", "step 2"}}
	result := rt.LoopRun(context.Background(), driver, LoopOptions{SubagentOptions: Options{ToolName: "loop"}})

	assert.True(t, result.StoppedEarly)
	require.Len(t, result.Iterations, 1)
}

func TestLoopRunRespectsMaxIterations(t *testing.T) {
	rt := newRuntime(t, &stubInvoker{text: wellFormedOutput}, nil)

	driver := &loopDriverFixed{tasks: []string{"1", "2", "3", "4", "5"}}
	result := rt.LoopRun(context.Background(), driver, LoopOptions{
		SubagentOptions: Options{ToolName: "loop"},
		MaxIterations:   2,
	})

	assert.Len(t, result.Iterations, 2)
}

func TestPiModelLimitsReflectsRateController(t *testing.T) {
	rt := newRuntime(t, &stubInvoker{text: wellFormedOutput}, nil)

	rt.rateController.Record429("openai", "gpt-4", 10)
	limits := rt.PiModelLimits()

	require.Len(t, limits, 1)
	assert.Equal(t, "openai", limits[0].Provider)
	assert.Equal(t, "gpt-4", limits[0].Model)
}

func TestPiInstanceStatusEmptyWithoutCoordinator(t *testing.T) {
	cfg := testConfig(t)
	cfg.Coordinator.Provider = ""
	rt, err := New(cfg, &stubInvoker{text: wellFormedOutput}, nil, nil)
	require.NoError(t, err)

	assert.Empty(t, rt.PiInstanceStatus())
}

func TestWorkflowAPIReturnsValidationFailureWithoutCoordinator(t *testing.T) {
	cfg := testConfig(t)
	cfg.Coordinator.Provider = ""
	rt, err := New(cfg, &stubInvoker{text: wellFormedOutput}, nil, nil)
	require.NoError(t, err)

	_, err = rt.UlWorkflowClaim(context.Background(), "wf-1")
	require.Error(t, err)
	assert.Equal(t, core.KindValidationFailure, core.Classify(err))
}

func TestWorkflowAPIClaimReleaseWithDirectoryCoordinator(t *testing.T) {
	cfg := testConfig(t)
	cfg.Coordinator.Provider = "directory"
	cfg.Coordinator.PollInterval = time.Hour
	cfg.Coordinator.InstanceDeadAfter = time.Hour
	rt, err := New(cfg, &stubInvoker{text: wellFormedOutput}, nil, nil)
	require.NoError(t, err)

	claimed, err := rt.UlWorkflowClaim(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	status, err := rt.UlWorkflowCheck(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, ownership.StatusOwned, status)

	require.NoError(t, rt.UlWorkflowRelease(context.Background(), "wf-1"))
}

func TestExitCodeForMapsKnownKinds(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCodeFor(nil))
	assert.Equal(t, ExitCapacityTimeout, ExitCodeFor(core.NewFrameworkError("op", core.KindCapacityUnavailable, assert.AnError)))
	assert.Equal(t, ExitWorkflowOwnedByOther, ExitCodeFor(core.NewFrameworkError("op", core.KindWorkflowOwnedByOther, assert.AnError)))
	assert.Equal(t, ExitCancelled, ExitCodeFor(core.NewFrameworkError("op", core.KindCancelled, assert.AnError)))
	assert.Equal(t, ExitValidationFailure, ExitCodeFor(core.NewFrameworkError("op", core.KindValidationFailure, assert.AnError)))
}

func TestRuntimeSnapshotReflectsLedgerState(t *testing.T) {
	rt := newRuntime(t, &stubInvoker{text: wellFormedOutput}, nil)

	snap := rt.RuntimeSnapshot()
	assert.Equal(t, 0, snap.ActiveRequests)
}

func TestFileKVStoreRoundTrip(t *testing.T) {
	store, err := core.NewFileKVStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "teams/runs/run-1", []byte(`{"ok":true}`)))
	data, err := store.Get(context.Background(), "teams/runs/run-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	keys, err := store.List(context.Background(), "teams/runs")
	require.NoError(t, err)
	assert.Contains(t, keys, "teams/runs/run-1")

	require.NoError(t, store.Delete(context.Background(), "teams/runs/run-1"))
	_, err = store.Get(context.Background(), "teams/runs/run-1")
	assert.True(t, core.IsNotFound(err))
}

func TestFileKVStoreTryLockExpires(t *testing.T) {
	store, err := core.NewFileKVStore(t.TempDir())
	require.NoError(t, err)

	ok, err := store.TryLock(context.Background(), "ownership/wf-1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TryLock(context.Background(), "ownership/wf-1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(20 * time.Millisecond)
	ok, err = store.TryLock(context.Background(), "ownership/wf-1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}
