package dispatch

import (
	"context"
	"encoding/json"
	"path"

	"github.com/itsneelabh/agentrt/core"
	"github.com/itsneelabh/agentrt/subagent"
	"github.com/itsneelabh/agentrt/team"
)

// subagentRunsPrefix and teamRunsPrefix match spec §6's persistent state
// layout: subagents/runs/<runId>.json, teams/runs/<runId>.json.
const (
	subagentRunsPrefix = "subagents/runs"
	teamRunsPrefix     = "teams/runs"
)

// persistedSubagentRun is the on-disk record for one subagent_run call.
type persistedSubagentRun struct {
	RunID        string           `json:"run_id"`
	DefinitionID string           `json:"definition_id"`
	Role         string           `json:"role"`
	Outcome      subagent.Outcome `json:"outcome"`
	Output       subagent.Output  `json:"output"`
	LatencyMs    int64            `json:"latency_ms"`
}

// persistSubagentRun writes the run record; a write failure is logged but
// never fails the caller's request — the Delegation API's contract is
// about the delegated task's outcome, not about whether introspection can
// later retrieve it.
func (r *Runtime) persistSubagentRun(ctx context.Context, runID string, def subagent.Definition, result subagent.Result) {
	record := persistedSubagentRun{
		RunID:        runID,
		DefinitionID: def.ID,
		Role:         def.Role,
		Outcome:      result.Outcome,
		Output:       result.Output,
		LatencyMs:    result.LatencyMs,
	}
	r.putRunRecord(ctx, path.Join(subagentRunsPrefix, runID), record)
}

// persistedTeamRun is the on-disk record for one agent_team_run call.
type persistedTeamRun struct {
	RunID     string              `json:"run_id"`
	TeamID    string              `json:"team_id"`
	Members   []team.MemberResult `json:"members"`
	Judgment  team.FinalJudgment  `json:"judgment"`
	Narrative string              `json:"narrative"`
	AppliedT  int                 `json:"applied_t"`
	AppliedM  int                 `json:"applied_m"`
}

func (r *Runtime) persistTeamRun(ctx context.Context, runID, teamID string, result team.Result) {
	record := persistedTeamRun{
		RunID:     runID,
		TeamID:    teamID,
		Members:   result.Members,
		Judgment:  result.Judgment,
		Narrative: result.Narrative,
		AppliedT:  result.AppliedT,
		AppliedM:  result.AppliedM,
	}
	r.putRunRecord(ctx, path.Join(teamRunsPrefix, runID), record)
}

func (r *Runtime) putRunRecord(ctx context.Context, key string, record interface{}) {
	data, err := json.Marshal(record)
	if err != nil {
		r.logger.Warn("failed to marshal run record", map[string]interface{}{"key": key, "error": err.Error()})
		return
	}
	if err := r.runStore.Put(ctx, key, data); err != nil {
		r.logger.Warn("failed to persist run record", map[string]interface{}{"key": key, "error": err.Error()})
	}
}

// loadSubagentRun and loadTeamRun back the Introspection API's
// subagent_status/agent_team_status operations.
func (r *Runtime) loadSubagentRun(ctx context.Context, runID string) (persistedSubagentRun, bool, error) {
	var record persistedSubagentRun
	ok, err := r.getRunRecord(ctx, path.Join(subagentRunsPrefix, runID), &record)
	return record, ok, err
}

func (r *Runtime) loadTeamRun(ctx context.Context, runID string) (persistedTeamRun, bool, error) {
	var record persistedTeamRun
	ok, err := r.getRunRecord(ctx, path.Join(teamRunsPrefix, runID), &record)
	return record, ok, err
}

func (r *Runtime) getRunRecord(ctx context.Context, key string, out interface{}) (bool, error) {
	data, err := r.runStore.Get(ctx, key)
	if err != nil {
		if core.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}
