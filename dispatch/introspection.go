package dispatch

import (
	"context"

	"github.com/itsneelabh/agentrt/core"
	"github.com/itsneelabh/agentrt/ledger"
	"github.com/itsneelabh/agentrt/ratelimit"
)

// RuntimeSnapshot implements the Introspection API's runtime_snapshot:
// the ledger's current capacity accounting.
func (r *Runtime) RuntimeSnapshot() ledger.Snapshot {
	return r.ledger.Snapshot()
}

// SubagentStatus implements subagent_status: looks up a prior
// subagent_run's persisted record by runId.
func (r *Runtime) SubagentStatus(ctx context.Context, runID string) (persistedSubagentRun, error) {
	record, ok, err := r.loadSubagentRun(ctx, runID)
	if err != nil {
		return persistedSubagentRun{}, err
	}
	if !ok {
		return persistedSubagentRun{}, core.ErrRecordNotFound
	}
	return record, nil
}

// AgentTeamStatus implements agent_team_status: looks up a prior
// agent_team_run's persisted record by runId.
func (r *Runtime) AgentTeamStatus(ctx context.Context, runID string) (persistedTeamRun, error) {
	record, ok, err := r.loadTeamRun(ctx, runID)
	if err != nil {
		return persistedTeamRun{}, err
	}
	if !ok {
		return persistedTeamRun{}, core.ErrRecordNotFound
	}
	return record, nil
}

// PiInstanceStatus implements pi_instance_status: the set of instances
// the coordinator currently sees as live. Returns an empty slice (not an
// error) when no coordinator is configured — single-instance deployments
// are a degenerate case of "one live instance", not a failure.
func (r *Runtime) PiInstanceStatus() []string {
	if r.coordinator == nil {
		return nil
	}
	return r.coordinator.LiveInstances()
}

// PiModelLimits implements pi_model_limits: the adaptive concurrency
// controller's per-(provider,model) current cap.
func (r *Runtime) PiModelLimits() []ratelimit.ModelLimit {
	return r.rateController.Snapshot()
}
