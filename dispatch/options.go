package dispatch

import (
	"github.com/itsneelabh/agentrt/ledger"
)

// Options is the Delegation API's common options bag (spec §6): workflowId,
// priority, queueClass, capacityWaitMs, parallelism (team-level),
// memberParallelism (team-level), communicationRounds, maxRetryRounds.
// cancelSignal is modeled as the context passed to every call rather than
// a struct field, the idiomatic Go equivalent.
type Options struct {
	WorkflowID string
	ToolName   string
	TenantKey  string
	Priority   ledger.Priority
	QueueClass ledger.QueueClass

	// CapacityWaitMs is accepted but not passed on: subagent_run and
	// agent_team_run always wait with the ledger's configured
	// Limits.CapacityWaitMs, whatever this field holds.
	CapacityWaitMs int

	// Parallelism and MemberParallelism are the team-level (t,m) inputs;
	// ignored by subagent_run/subagent_run_parallel.
	Parallelism       int
	MemberParallelism int

	// CommunicationRounds and MaxRetryRounds override the team mode's
	// round-count defaults; zero means "use the mode default".
	CommunicationRounds int
	MaxRetryRounds      int

	// Mode selects the team run's stable/adaptive communication-round
	// defaults (see team.Mode). Defaults to stable.
	Mode string
}
