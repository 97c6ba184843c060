package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/itsneelabh/agentrt/core"
	"github.com/itsneelabh/agentrt/subagent"
	"github.com/itsneelabh/agentrt/team"
)

// SubagentRunRequest bundles a single subagent_run call's inputs.
type SubagentRunRequest struct {
	Definition subagent.Definition
	Task       string
	Options    Options
}

// SubagentRunResult is subagent_run's return value: the run's generated
// id (the persisted-record key) plus the scheduler's outcome.
type SubagentRunResult struct {
	RunID  string
	Result subagent.Result
}

// SubagentRun implements the Delegation API's subagent_run: a single
// delegated task, persisted under subagents/runs/<runId>.json.
func (r *Runtime) SubagentRun(ctx context.Context, req SubagentRunRequest) SubagentRunResult {
	runID := uuid.NewString()
	result := r.subagents.Run(ctx, req.Definition, req.Task, toSubagentOptions(req.Options))
	r.persistSubagentRun(ctx, runID, req.Definition, result)
	return SubagentRunResult{RunID: runID, Result: result}
}

// SubagentRunParallel implements subagent_run_parallel: fan-out over
// requests, each run independent (no shared reservation), returned in
// request order.
func (r *Runtime) SubagentRunParallel(ctx context.Context, requests []SubagentRunRequest) []SubagentRunResult {
	out := make([]SubagentRunResult, len(requests))
	var wg doNothingWaiter
	for i := range requests {
		i := i
		wg.Add(func() { out[i] = r.SubagentRun(ctx, requests[i]) })
	}
	wg.Wait()
	return out
}

// AgentTeamRunRequest bundles a single agent_team_run call's inputs.
type AgentTeamRunRequest struct {
	TeamID  string
	Task    string
	Options Options
}

// AgentTeamRunResult is agent_team_run's return value.
type AgentTeamRunResult struct {
	RunID  string
	Result team.Result
	Err    error
}

// AgentTeamRun implements agent_team_run: resolves teamId via the
// configured TeamDefinitionLoader, then runs the Team Orchestrator,
// persisted under teams/runs/<runId>.json.
func (r *Runtime) AgentTeamRun(ctx context.Context, req AgentTeamRunRequest) AgentTeamRunResult {
	runID := uuid.NewString()

	def, err := r.teamLoader.Load(ctx, req.TeamID)
	if err != nil {
		return AgentTeamRunResult{RunID: runID, Err: core.NewFrameworkError("dispatch.AgentTeamRun", core.KindValidationFailure, fmt.Errorf("load team %q: %w", req.TeamID, err))}
	}

	result := r.teams.Run(ctx, *def, req.Task, toTeamOptions(req.Options))
	r.persistTeamRun(ctx, runID, req.TeamID, result)
	return AgentTeamRunResult{RunID: runID, Result: result}
}

// AgentTeamRunParallel implements agent_team_run_parallel.
func (r *Runtime) AgentTeamRunParallel(ctx context.Context, requests []AgentTeamRunRequest) []AgentTeamRunResult {
	out := make([]AgentTeamRunResult, len(requests))
	var wg doNothingWaiter
	for i := range requests {
		i := i
		wg.Add(func() { out[i] = r.AgentTeamRun(ctx, requests[i]) })
	}
	wg.Wait()
	return out
}

// LoopDriver is loop_run's caller-supplied step function: given the
// previous iteration's subagent.Result (the zero value on the first
// call), it returns the next task to delegate plus whether the loop
// should stop. The spec names loop_run without defining a driver
// contract beyond "repeated task-step loop"; this interface is the
// natural generalization of the Sub-Agent Scheduler's own
// single-delegation contract to a sequence of them.
type LoopDriver interface {
	Next(ctx context.Context, iteration int, previous subagent.Result) (def subagent.Definition, task string, done bool)
}

// LoopOptions configures loop_run.
type LoopOptions struct {
	SubagentOptions Options
	// MaxIterations bounds the loop even if the driver never reports
	// done (defaults to 100 when unset, guarding against a buggy driver
	// spinning forever).
	MaxIterations int
}

// LoopResult is loop_run's return value: every iteration's result, in
// order, plus StoppedEarly, which is true when the loop ended on context
// cancellation or on a non-retryable failure. A loop that ends because
// the driver said done or because it hit MaxIterations leaves it false.
type LoopResult struct {
	Iterations   []subagent.Result
	StoppedEarly bool
}

// LoopRun implements loop_run: repeatedly calls driver.Next, delegating
// each returned task through the Sub-Agent Scheduler, until the driver
// reports done, the context is cancelled, an iteration fails with a
// non-retryable kind, or MaxIterations is reached.
func (r *Runtime) LoopRun(ctx context.Context, driver LoopDriver, opts LoopOptions) LoopResult {
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 100
	}

	var result LoopResult
	var previous subagent.Result
	subOpts := toSubagentOptions(opts.SubagentOptions)

	for i := 0; i < maxIterations; i++ {
		if ctx.Err() != nil {
			result.StoppedEarly = true
			break
		}
		def, task, done := driver.Next(ctx, i, previous)
		if done {
			break
		}
		previous = r.subagents.Run(ctx, def, task, subOpts)
		result.Iterations = append(result.Iterations, previous)
		if previous.Outcome.Status != subagent.OutcomeSuccess && previous.Outcome.Status != subagent.OutcomePartial && !previous.Outcome.Kind.Retryable() {
			result.StoppedEarly = true
			break
		}
	}
	return result
}

func toSubagentOptions(o Options) subagent.Options {
	return subagent.Options{
		WorkflowID: o.WorkflowID,
		ToolName:   o.ToolName,
		TenantKey:  o.TenantKey,
		QueueClass: o.QueueClass,
		Priority:   o.Priority,
	}
}

func toTeamOptions(o Options) team.Options {
	mode := team.ModeStable
	if o.Mode == string(team.ModeAdaptive) {
		mode = team.ModeAdaptive
	}
	return team.Options{
		WorkflowID:        o.WorkflowID,
		ToolName:          o.ToolName,
		TenantKey:         o.TenantKey,
		QueueClass:        o.QueueClass,
		Priority:          o.Priority,
		Mode:              mode,
		TeamParallelism:   o.Parallelism,
		MemberParallelism: o.MemberParallelism,
		MaxRounds:         o.CommunicationRounds,
		MaxRetryRounds:    o.MaxRetryRounds,
	}
}

// doNothingWaiter is a minimal fixed-size goroutine fan-out/fan-in,
// avoiding a workerpool.Pool dependency here since these top-level
// parallel calls have no shared reservation to admit against — each
// SubagentRun/AgentTeamRun call makes its own ledger admission decision
// independently, exactly as spec §6's "fan-out" wording implies.
type doNothingWaiter struct {
	fns []func()
}

func (w *doNothingWaiter) Add(fn func()) { w.fns = append(w.fns, fn) }

func (w *doNothingWaiter) Wait() {
	done := make(chan struct{}, len(w.fns))
	for _, fn := range w.fns {
		fn := fn
		go func() {
			defer func() { done <- struct{}{} }()
			fn()
		}()
	}
	for range w.fns {
		<-done
	}
}
