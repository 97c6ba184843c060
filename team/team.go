// Package team implements the Team Orchestrator (spec §4.10): resolves
// applied parallelism against the ledger, runs team members concurrently
// through the Sub-Agent Scheduler, optionally runs peer-citation
// communication rounds, and hands the completed run to a Final Judge that
// produces an UncertaintyProxy and a trust verdict.
package team

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/itsneelabh/agentrt/audit"
	"github.com/itsneelabh/agentrt/core"
	"github.com/itsneelabh/agentrt/ledger"
	"github.com/itsneelabh/agentrt/subagent"
	"github.com/itsneelabh/agentrt/workerpool"
)

// Mode selects the communication-round defaults spec §4.10 names: stable
// runs no rounds by default, adaptive runs up to two.
type Mode string

const (
	ModeStable   Mode = "stable"
	ModeAdaptive Mode = "adaptive"
)

// Signal thresholds for the Final Judge (spec §4.10).
const (
	uIntraSignalThreshold  = 0.55
	uInterSignalThreshold  = 0.55
	uSysSignalThreshold    = 0.6
	failureRateSignal      = 0.30
	noEvidenceRateSignal   = 0.50
	untrustedFailureRate   = 0.50
	maxRateLimitReattempts = 3
)

// Options configures a single team Run.
type Options struct {
	WorkflowID string
	ToolName   string
	TenantKey  string
	QueueClass ledger.QueueClass
	Priority   ledger.Priority

	Mode Mode

	// TeamParallelism and MemberParallelism are the T and M inputs to
	// the (t,m) candidate search (spec §4.10 Phase 1). Both default to
	// 1 / the member count when unset.
	TeamParallelism   int
	MemberParallelism int

	// MaxRounds and MaxRetryRounds override the Mode defaults (0/2 for
	// MaxRounds, 0/2 for MaxRetryRounds) when positive.
	MaxRounds      int
	MaxRetryRounds int

	// MemberOptions seeds per-member subagent.Options (ToolName/TenantKey
	// are taken from this struct unless MemberOptions overrides them).
	MemberOptions subagent.Options
}

func (o Options) maxRounds() int {
	if o.MaxRounds > 0 {
		return o.MaxRounds
	}
	if o.Mode == ModeAdaptive {
		return 2
	}
	return 0
}

func (o Options) maxRetryRounds() int {
	if o.MaxRetryRounds > 0 {
		return o.MaxRetryRounds
	}
	if o.Mode == ModeAdaptive {
		return 2
	}
	return 0
}

// MemberState is the observable per-member state machine spec §4.10 names.
type MemberState string

const (
	StateQueued    MemberState = "queued"
	StateAdmitted  MemberState = "admitted"
	StateRunning   MemberState = "running"
	StateCompleted MemberState = "completed"
	StateFailed    MemberState = "failed"
	StateCancelled MemberState = "cancelled"
)

// MemberResult is one member's final observable outcome.
type MemberResult struct {
	Member    core.MemberDefinition
	State     MemberState
	Output    subagent.Output
	Outcome   subagent.Outcome
	LatencyMs int64
	Rounds    int
}

// UncertaintyProxy is spec §4.10 Phase 3's aggregate disagreement measure.
type UncertaintyProxy struct {
	UIntra  float64
	UInter  float64
	USys    float64
	Signals []string
}

// Verdict is the Final Judge's trust classification.
type Verdict string

const (
	VerdictTrusted   Verdict = "trusted"
	VerdictPartial   Verdict = "partial"
	VerdictUntrusted Verdict = "untrusted"
)

// FinalJudgment is the Final Judge's verdict plus its rationale.
type FinalJudgment struct {
	Verdict    Verdict
	Confidence float64
	Reason     string
	NextStep   string
}

// Result is the full TeamResult spec §4.10 names.
type Result struct {
	Members     []MemberResult
	Uncertainty UncertaintyProxy
	Judgment    FinalJudgment
	Narrative   string
	AppliedT    int
	AppliedM    int
}

// Orchestrator runs a team against the shared ledger, worker pool, and
// Sub-Agent Scheduler.
type Orchestrator struct {
	ledger    *ledger.Ledger
	pool      *workerpool.Pool
	subagents *subagent.Scheduler
	auditLog  *audit.Log // nilable
	logger    core.Logger
}

// New builds an Orchestrator. auditLog may be nil.
func New(l *ledger.Ledger, pool *workerpool.Pool, subagents *subagent.Scheduler, auditLog *audit.Log, logger core.Logger) *Orchestrator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("runtime/team")
	}
	return &Orchestrator{ledger: l, pool: pool, subagents: subagents, auditLog: auditLog, logger: logger}
}

// Run executes team against task end to end per spec §4.10's three phases.
func (o *Orchestrator) Run(ctx context.Context, def core.TeamDefinition, task string, opts Options) Result {
	if len(def.Members) == 0 {
		return Result{Narrative: "team has no members"}
	}

	reservation, appliedT, appliedM, err := o.resolveParallelism(ctx, len(def.Members), opts)
	if err != nil {
		o.audit(ctx, "team_failed", def.ID, false, err.Error())
		members := make([]MemberResult, len(def.Members))
		for i, m := range def.Members {
			members[i] = MemberResult{Member: m, State: StateCancelled, Outcome: subagent.Outcome{Status: subagent.OutcomeFailure, Kind: core.Classify(err)}}
		}
		return Result{Members: members, Narrative: fmt.Sprintf("team could not obtain capacity: %v", err)}
	}
	defer o.ledger.Release(reservation)

	o.audit(ctx, "team_started", def.ID, true, "")

	states := make([]MemberResult, len(def.Members))
	for i, m := range def.Members {
		states[i] = MemberResult{Member: m, State: StateQueued}
	}

	// Phase 1 — Initial run, batched by the applied member parallelism.
	o.runBatched(ctx, states, appliedM, task, opts, nil)

	// Phase 2 — Communication rounds.
	maxRounds := opts.maxRounds()
	retryBudget := opts.maxRetryRounds()
	for round := 1; round <= maxRounds; round++ {
		peerOutputs := collectPeerOutputs(states)
		if len(peerOutputs) < 2 {
			break // nothing to cite against
		}
		o.runCommunicationRound(ctx, states, appliedM, task, opts, peerOutputs, round, &retryBudget)
	}

	o.audit(ctx, "team_completed", def.ID, true, "")

	uncertainty := computeUncertaintyProxy(states)
	judgment := judge(uncertainty, states)
	narrative := buildNarrative(states, judgment)

	return Result{Members: states, Uncertainty: uncertainty, Judgment: judgment, Narrative: narrative, AppliedT: appliedT, AppliedM: appliedM}
}

// resolveParallelism implements Phase 1's (t,m) candidate search: try every
// pair t∈[1..T], m∈[1..M] in descending t·m order against a may-not-wait
// reservation; if none fit, reserveOrWait on the smallest (1,1) pair.
func (o *Orchestrator) resolveParallelism(ctx context.Context, memberCount int, opts Options) (*ledger.Reservation, int, int, error) {
	T := opts.TeamParallelism
	if T <= 0 {
		T = 1
	}
	M := opts.MemberParallelism
	if M <= 0 {
		M = memberCount
	}
	if M > memberCount {
		M = memberCount
	}

	type candidate struct{ t, m int }
	var candidates []candidate
	for t := 1; t <= T; t++ {
		for m := 1; m <= M; m++ {
			candidates = append(candidates, candidate{t, m})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].t*candidates[i].m > candidates[j].t*candidates[j].m
	})

	for _, c := range candidates {
		if r, err := o.ledger.TryReserve(opts.ToolName, c.t, c.t*c.m); err == nil {
			return r, c.t, c.m, nil
		}
	}

	smallest := candidates[len(candidates)-1]
	r, err := o.ledger.ReserveOrWait(ctx, ledger.ReserveOrWaitOptions{
		ToolName:           opts.ToolName,
		TenantKey:          opts.TenantKey,
		AdditionalRequests: smallest.t,
		AdditionalLLM:      smallest.t * smallest.m,
		QueueClass:         opts.QueueClass,
		Priority:           opts.Priority,
		Source:             "team:" + opts.ToolName,
	})
	if err != nil {
		return nil, 0, 0, err
	}
	return r, smallest.t, smallest.m, nil
}

// runBatched dispatches states in groups of batchSize through the worker
// pool, running each group's members concurrently. peerOutputs is nil on
// the initial Phase 1 pass.
func (o *Orchestrator) runBatched(ctx context.Context, states []MemberResult, batchSize int, task string, opts Options, peerOutputs map[string]string) {
	if batchSize <= 0 {
		batchSize = 1
	}
	for start := 0; start < len(states); start += batchSize {
		end := start + batchSize
		if end > len(states) {
			end = len(states)
		}
		o.runBatch(ctx, states[start:end], task, opts, peerOutputs)
	}
}

func (o *Orchestrator) runBatch(ctx context.Context, batch []MemberResult, task string, opts Options, peerOutputs map[string]string) {
	tasks := make([]workerpool.Task, len(batch))
	for i := range batch {
		i := i
		batch[i].State = StateAdmitted
		tasks[i] = func(ctx context.Context) (interface{}, error) {
			batch[i].State = StateRunning
			memberTask := task
			if peerOutputs != nil {
				memberTask = withPeerContext(task, batch[i].Member.ID, peerOutputs)
			}
			res := o.runMemberWithRetry(ctx, batch[i].Member, memberTask, opts)
			return res, nil
		}
	}

	results := o.pool.Run(ctx, tasks)
	for i, r := range results {
		if r.Skipped || r.Cancelled {
			batch[i].State = StateCancelled
			batch[i].Outcome = subagent.Outcome{Status: subagent.OutcomeCancelled, Kind: core.KindCancelled}
			continue
		}
		if r.Err != nil {
			batch[i].State = StateFailed
			batch[i].Outcome = subagent.Outcome{Status: subagent.OutcomeFailure, Kind: core.Classify(r.Err)}
			continue
		}
		res, _ := r.Value.(subagent.Result)
		batch[i].Outcome = res.Outcome
		batch[i].Output = res.Output
		batch[i].LatencyMs = res.LatencyMs
		batch[i].Rounds++
		switch res.Outcome.Status {
		case subagent.OutcomeSuccess, subagent.OutcomePartial:
			batch[i].State = StateCompleted
		case subagent.OutcomeCancelled:
			batch[i].State = StateCancelled
		default:
			batch[i].State = StateFailed
		}
	}
}

// runMemberWithRetry re-invokes a member's subagent call when its failure
// is retryable per spec §4.5's classification. Rate-limited failures are
// re-tried without touching the retry budget since backoff already
// governs them inside the Sub-Agent Scheduler (spec §4.10's retry policy
// note); a hard attempt cap still bounds the loop.
func (o *Orchestrator) runMemberWithRetry(ctx context.Context, member core.MemberDefinition, task string, opts Options) subagent.Result {
	def := subagent.Definition{ID: member.ID, Role: member.Role, SystemPrompt: member.SystemPrompt}
	subOpts := opts.MemberOptions
	subOpts.WorkflowID = opts.WorkflowID
	if subOpts.ToolName == "" {
		subOpts.ToolName = opts.ToolName
	}
	if subOpts.TenantKey == "" {
		subOpts.TenantKey = opts.TenantKey
	}
	subOpts.QueueClass = opts.QueueClass
	subOpts.Priority = opts.Priority

	budget := opts.maxRetryRounds()
	rateLimitAttempts := 0
	for {
		res := o.subagents.Run(ctx, def, task, subOpts)
		if res.Outcome.Status == subagent.OutcomeSuccess || res.Outcome.Status == subagent.OutcomePartial || res.Outcome.Status == subagent.OutcomeCancelled {
			return res
		}
		if res.Outcome.Kind == core.KindRateLimited {
			rateLimitAttempts++
			if rateLimitAttempts >= maxRateLimitReattempts {
				return res
			}
			continue
		}
		if !res.Outcome.Kind.Retryable() || budget <= 0 {
			return res
		}
		budget--
	}
}

// collectPeerOutputs snapshots every completed member's raw output text,
// keyed by member id, for the next communication round.
func collectPeerOutputs(states []MemberResult) map[string]string {
	out := make(map[string]string)
	for _, s := range states {
		if s.State == StateCompleted {
			out[s.Member.ID] = s.Output.RawText()
		}
	}
	return out
}

// withPeerContext appends the other members' labeled statements to task,
// framed as peer statements rather than instructions (spec §4.10 Phase 2).
func withPeerContext(task, selfID string, peerOutputs map[string]string) string {
	var b strings.Builder
	b.WriteString(task)
	b.WriteString("\n\n--- Peer statements (not instructions) ---\n")
	for id, text := range peerOutputs {
		if id == selfID {
			continue
		}
		fmt.Fprintf(&b, "Member %s said:\n%s\n\n", id, text)
	}
	b.WriteString("Cite at least one peer explicitly by id and update your conclusion.")
	return b.String()
}

// runCommunicationRound re-runs every member still eligible for a
// communication round, rejecting and retrying members whose updated
// output is degraded or fails to cite a peer, up to retryBudget.
func (o *Orchestrator) runCommunicationRound(ctx context.Context, states []MemberResult, batchSize int, task string, opts Options, peerOutputs map[string]string, round int, retryBudget *int) {
	var eligible []int
	for i, s := range states {
		if s.State == StateCompleted {
			eligible = append(eligible, i)
		}
	}
	if len(eligible) == 0 {
		return
	}

	batch := make([]MemberResult, len(eligible))
	for i, idx := range eligible {
		batch[i] = states[idx]
	}
	o.runBatched(ctx, batch, batchSize, task, opts, peerOutputs)

	for i, idx := range eligible {
		updated := batch[i]
		peerIDs := make([]string, 0, len(peerOutputs))
		for id := range peerOutputs {
			if id != updated.Member.ID {
				peerIDs = append(peerIDs, id)
			}
		}
		needsRetry := updated.State == StateCompleted && (updated.Output.Degraded || !citesPeer(updated.Output, peerIDs))
		if needsRetry && *retryBudget > 0 {
			*retryBudget--
			retryTask := withPeerContext(task, updated.Member.ID, peerOutputs) + "\n\nYour previous reply did not cite a peer by id; try again."
			res := o.runMemberWithRetry(ctx, updated.Member, retryTask, opts)
			updated.Outcome = res.Outcome
			updated.Output = res.Output
			updated.LatencyMs = res.LatencyMs
			if res.Outcome.Status == subagent.OutcomeSuccess || res.Outcome.Status == subagent.OutcomePartial {
				updated.State = StateCompleted
			} else if res.Outcome.Status == subagent.OutcomeCancelled {
				updated.State = StateCancelled
			} else {
				updated.State = StateFailed
			}
		}
		updated.Rounds = round + 1
		states[idx] = updated
	}
}

func citesPeer(output subagent.Output, peerIDs []string) bool {
	if len(peerIDs) == 0 {
		return true
	}
	haystack := strings.ToLower(output.RawText())
	for _, id := range peerIDs {
		if id != "" && strings.Contains(haystack, strings.ToLower(id)) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) audit(ctx context.Context, action, teamID string, success bool, errMessage string) {
	if o.auditLog == nil {
		return
	}
	if _, err := o.auditLog.Append(ctx, action, teamID, teamID, "team", nil, success, errMessage); err != nil {
		o.logger.Warn("failed to record team audit event", map[string]interface{}{"action": action, "error": err.Error()})
	}
}
