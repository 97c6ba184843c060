package team

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/agentrt/core"
	"github.com/itsneelabh/agentrt/ledger"
	"github.com/itsneelabh/agentrt/resilience"
	"github.com/itsneelabh/agentrt/subagent"
	"github.com/itsneelabh/agentrt/workerpool"
)

const wellFormedTeamOutput = "SUMMARY: did it\nCLAIM: shared claim\nEVIDENCE: logs\nRESULT: answer\nNEXT_STEP: shared next step"

type stubTeamInvoker struct {
	text string
	err  error
}

func (s *stubTeamInvoker) Invoke(ctx context.Context, prompt string) (*core.InvokeResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &core.InvokeResult{Text: s.text}, nil
}

// roleScriptedInvoker picks a canned response by matching a role marker
// embedded in the member's system prompt, since every member shares one
// Scheduler/invoker.
type roleScriptedInvoker struct {
	byRole map[string]string
}

func (s *roleScriptedInvoker) Invoke(ctx context.Context, prompt string) (*core.InvokeResult, error) {
	for role, text := range s.byRole {
		if strings.Contains(prompt, role) {
			return &core.InvokeResult{Text: text}, nil
		}
	}
	return &core.InvokeResult{Text: wellFormedTeamOutput}, nil
}

func testLimits() core.RuntimeLimits {
	return core.RuntimeLimits{
		MaxTotalActiveLLM:      8,
		MaxTotalActiveRequests: 16,
		CapacityWaitMs:         200,
		CapacityPollMs:         5,
		QueueCap:               16,
		ReservationExpiry:      time.Minute,
	}
}

func newOrchestrator(t *testing.T, invoker core.LLMInvoker) (*Orchestrator, *ledger.Ledger) {
	t.Helper()
	l := ledger.NewLedger(testLimits(), nil)
	pool := workerpool.New(4, nil)
	retry := resilience.NewRetryExecutor(&resilience.RetryConfig{
		MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1,
	})
	sched := subagent.New(l, pool, retry, nil, nil, invoker, nil)
	return New(l, pool, sched, nil, nil), l
}

func TestRunAllMembersAgreeYieldsTrustedVerdict(t *testing.T) {
	orch, l := newOrchestrator(t, &stubTeamInvoker{text: wellFormedTeamOutput})

	def := core.TeamDefinition{ID: "team-1", Members: []core.MemberDefinition{
		{ID: "m0", Role: "researcher"},
		{ID: "m1", Role: "researcher"},
	}}

	result := orch.Run(context.Background(), def, "investigate X", Options{ToolName: "team-tool"})

	require.Len(t, result.Members, 2)
	for _, m := range result.Members {
		assert.Equal(t, StateCompleted, m.State)
		assert.False(t, m.Output.Degraded)
	}
	assert.Equal(t, VerdictTrusted, result.Judgment.Verdict)
	assert.InDelta(t, 0, result.Uncertainty.USys, 0.001)
	assert.Empty(t, result.Uncertainty.Signals)
	assert.Equal(t, 0, l.Snapshot().ActiveReservations)
}

func TestRunDegradedMemberYieldsUntrustedVerdict(t *testing.T) {
	invoker := &roleScriptedInvoker{byRole: map[string]string{
		"member-a": wellFormedTeamOutput,
		"member-b": "just some unstructured text with no labels at all",
	}}
	orch, _ := newOrchestrator(t, invoker)

	def := core.TeamDefinition{ID: "team-2", Members: []core.MemberDefinition{
		{ID: "member-a", Role: "member-a", SystemPrompt: "You are member-a."},
		{ID: "member-b", Role: "member-b", SystemPrompt: "You are member-b."},
	}}

	result := orch.Run(context.Background(), def, "investigate Y", Options{ToolName: "team-tool"})

	require.Len(t, result.Members, 2)
	assert.True(t, result.Members[1].Output.Degraded)
	assert.Equal(t, VerdictUntrusted, result.Judgment.Verdict)
	assert.InDelta(t, 1.0, result.Uncertainty.USys, 0.001)
	assert.NotEmpty(t, result.Uncertainty.Signals)
}

func TestRunCommunicationRoundCitesPeers(t *testing.T) {
	invoker := &roleScriptedInvoker{byRole: map[string]string{
		"member-a": "SUMMARY: a\nCLAIM: a claims\nEVIDENCE: logs\nRESULT: final mentions member-b\nNEXT_STEP: ask member-b to verify",
		"member-b": "SUMMARY: b\nCLAIM: b claims\nEVIDENCE: logs\nRESULT: final mentions member-a\nNEXT_STEP: ask member-a to proceed",
	}}
	orch, _ := newOrchestrator(t, invoker)

	def := core.TeamDefinition{ID: "team-3", Members: []core.MemberDefinition{
		{ID: "member-a", Role: "member-a", SystemPrompt: "You are member-a."},
		{ID: "member-b", Role: "member-b", SystemPrompt: "You are member-b."},
	}}

	result := orch.Run(context.Background(), def, "collaborate", Options{ToolName: "team-tool", Mode: ModeAdaptive})

	require.Len(t, result.Members, 2)
	for _, m := range result.Members {
		assert.Equal(t, StateCompleted, m.State)
		assert.Equal(t, 3, m.Rounds)
	}
	assert.Contains(t, strings.ToLower(result.Members[0].Output.RawText()), "member-b")
	assert.Contains(t, strings.ToLower(result.Members[1].Output.RawText()), "member-a")
}

func TestRunMemberFailureDrivesUntrustedVerdictAndReleasesReservation(t *testing.T) {
	orch, l := newOrchestrator(t, &stubTeamInvoker{err: errors.New("boom")})

	def := core.TeamDefinition{ID: "team-4", Members: []core.MemberDefinition{
		{ID: "m0"}, {ID: "m1"},
	}}

	result := orch.Run(context.Background(), def, "task", Options{ToolName: "team-tool"})

	for _, m := range result.Members {
		assert.Equal(t, StateFailed, m.State)
	}
	assert.Equal(t, VerdictUntrusted, result.Judgment.Verdict)
	assert.Equal(t, 0, l.Snapshot().ActiveReservations)
}

func TestRunWithNoMembersReturnsEmptyResult(t *testing.T) {
	orch, _ := newOrchestrator(t, &stubTeamInvoker{text: wellFormedTeamOutput})

	result := orch.Run(context.Background(), core.TeamDefinition{ID: "empty"}, "task", Options{})

	assert.Empty(t, result.Members)
	assert.NotEmpty(t, result.Narrative)
}

func TestResolveParallelismCapsMemberParallelismToMemberCount(t *testing.T) {
	orch, l := newOrchestrator(t, &stubTeamInvoker{text: wellFormedTeamOutput})

	def := core.TeamDefinition{ID: "team-5", Members: []core.MemberDefinition{{ID: "only-one"}}}
	result := orch.Run(context.Background(), def, "task", Options{ToolName: "team-tool", MemberParallelism: 10})

	assert.Equal(t, 1, result.AppliedM)
	assert.Equal(t, 0, l.Snapshot().ActiveReservations)
}
