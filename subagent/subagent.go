// Package subagent implements the Sub-Agent Scheduler (spec §4.9): runs a
// single delegated task end to end — ownership check, capacity
// reservation, worker slot, LLM invocation under Retry/Backoff, output
// normalization, and audit events — and returns the outcome.
package subagent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/itsneelabh/agentrt/audit"
	"github.com/itsneelabh/agentrt/core"
	"github.com/itsneelabh/agentrt/ledger"
	"github.com/itsneelabh/agentrt/ownership"
	"github.com/itsneelabh/agentrt/ratelimit"
	"github.com/itsneelabh/agentrt/resilience"
	"github.com/itsneelabh/agentrt/workerpool"
)

// defaultAdaptivePollMs/defaultAdaptiveMaxWaitMs bound how long Run waits
// for the Adaptive Rate Controller to free a (provider, model) slot before
// giving up — the same poll/wait shape as ledger.ReserveOrWait, scaled
// down since this wait only ever competes with the learned concurrency
// cap, never with the much larger request queue.
const (
	defaultAdaptivePollMs    = 100
	defaultAdaptiveMaxWaitMs = 10_000
)

// requiredSections is the labeled-section contract spec §4.9 step 5
// enforces on every normalized output.
var requiredSections = []string{"SUMMARY", "CLAIM", "EVIDENCE", "RESULT", "NEXT_STEP"}

// degradedConfidence is the fixed confidence synthesized outputs carry
// when the raw text doesn't parse into the labeled sections (spec §4.9
// step 5: "degraded=true, confidence=0.4").
const degradedConfidence = 0.4

// defaultMinOutputLength is the floor below which an otherwise well-formed
// output is still treated as empty_output. The spec names the rule
// ("empty or too-short") without naming a number; 10 characters is the
// smallest length that can hold a minimally meaningful RESULT, chosen
// over zero so a single stray token doesn't pass as a real answer.
const defaultMinOutputLength = 10

// Definition is the minimal shape a sub-agent needs (spec §1's "definition
// loading" is out of scope here; this package receives an already-resolved
// definition).
type Definition struct {
	ID           string
	Role         string
	SystemPrompt string
}

// Output is a normalized subagent result.
type Output struct {
	Sections   map[string]string
	Degraded   bool
	Confidence float64
}

// RawText reconstructs a single string from the normalized sections, for
// callers (the Team Orchestrator's peer-citation context) that want
// plain text rather than the structured form.
func (o Output) RawText() string {
	var b strings.Builder
	for _, section := range requiredSections {
		if v, ok := o.Sections[section]; ok && v != "" {
			fmt.Fprintf(&b, "%s: %s\n", section, v)
		}
	}
	return b.String()
}

// OutcomeStatus is spec §3's TaskOutcome discriminant.
type OutcomeStatus string

const (
	OutcomeSuccess   OutcomeStatus = "success"
	OutcomeFailure   OutcomeStatus = "failure"
	OutcomePartial   OutcomeStatus = "partial"
	OutcomeCancelled OutcomeStatus = "cancelled"
	OutcomeTimedOut  OutcomeStatus = "timed_out"
)

// Outcome is a TaskOutcome plus the classification kind that produced a
// failure/partial status, if any.
type Outcome struct {
	Status OutcomeStatus
	Kind   core.ErrorKind
}

// Options configures a single Run call.
type Options struct {
	WorkflowID          string
	ToolName            string
	TenantKey           string
	QueueClass          ledger.QueueClass
	Priority            ledger.Priority
	AdditionalRequests  int
	AdditionalLLM       int
	MinOutputLength     int
}

// Result is the full outcome of Run: the TaskOutcome, the normalized
// output (zero value on failure before invocation), and latency.
type Result struct {
	Outcome   Outcome
	Output    Output
	LatencyMs int64
}

// Scheduler runs sub-agent tasks against the shared ledger, worker pool,
// retry engine, and audit log.
type Scheduler struct {
	ledger       *ledger.Ledger
	pool         *workerpool.Pool
	retry        *resilience.RetryExecutor
	ownership    *ownership.Manager    // nil if workflow ownership isn't in use
	auditLog     *audit.Log            // nil disables audit events
	invoker      core.LLMInvoker
	logger       core.Logger
	rateLimiter  *ratelimit.Controller // nil disables adaptive admission
	modelCeiling int
}

// New builds a Scheduler. ownershipMgr and auditLog may be nil.
func New(l *ledger.Ledger, pool *workerpool.Pool, retry *resilience.RetryExecutor, ownershipMgr *ownership.Manager, auditLog *audit.Log, invoker core.LLMInvoker, logger core.Logger) *Scheduler {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("runtime/subagent")
	}
	return &Scheduler{
		ledger:    l,
		pool:      pool,
		retry:     retry,
		ownership: ownershipMgr,
		auditLog:  auditLog,
		invoker:   invoker,
		logger:    logger,
	}
}

// SetRateLimiter attaches the Adaptive Rate Controller (spec §4.4) this
// Scheduler consults before admitting a call and feeds real 429/success
// signals back into. ceiling is the provider-declared concurrency limit
// passed to every TryAcquire/Record429/RecordSuccess call;
// controller may be nil to disable adaptive admission entirely (the
// default before this is called).
func (s *Scheduler) SetRateLimiter(controller *ratelimit.Controller, ceiling int) {
	s.rateLimiter = controller
	s.modelCeiling = ceiling
}

// rateLimitTarget reports the (provider, model) pair this Scheduler's
// invoker will hit, if both adaptive admission is enabled and the invoker
// opts into core.RateLimitTarget. An empty provider means skip adaptive
// gating entirely.
func (s *Scheduler) rateLimitTarget() (provider, model string) {
	if s.rateLimiter == nil {
		return "", ""
	}
	target, ok := s.invoker.(core.RateLimitTarget)
	if !ok {
		return "", ""
	}
	return target.RateLimitTarget()
}

// waitForAdaptiveSlot blocks until the Adaptive Rate Controller admits a
// call against (provider, model), polling TryAcquire at
// defaultAdaptivePollMs, or returns an error once ctx is
// cancelled or defaultAdaptiveMaxWaitMs elapses — the latter classified as
// capacity_unavailable by the caller, the same kind a full ledger queue
// produces.
func (s *Scheduler) waitForAdaptiveSlot(ctx context.Context, provider, model string) error {
	deadline := time.Now().Add(defaultAdaptiveMaxWaitMs * time.Millisecond)
	ticker := time.NewTicker(defaultAdaptivePollMs * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.rateLimiter.TryAcquire(provider, model, s.modelCeiling) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("adaptive rate controller slot unavailable for %s/%s: %w", provider, model, core.ErrCapacityUnavailable)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Run executes definition against task end to end per spec §4.9's flow.
func (s *Scheduler) Run(ctx context.Context, def Definition, task string, opts Options) Result {
	start := time.Now()

	if opts.WorkflowID != "" && s.ownership != nil {
		if err := s.ownership.EnforceOwnership(ctx, opts.WorkflowID); err != nil {
			s.audit(ctx, "subagent_failed", def, false, err.Error())
			return Result{Outcome: Outcome{Status: OutcomeFailure, Kind: core.KindWorkflowOwnedByOther}, LatencyMs: elapsedMs(start)}
		}
	}

	s.audit(ctx, "subagent_started", def, true, "")

	reservation, err := s.ledger.ReserveOrWait(ctx, ledger.ReserveOrWaitOptions{
		ToolName:           opts.ToolName,
		TenantKey:          opts.TenantKey,
		AdditionalRequests: valueOr(opts.AdditionalRequests, 1),
		AdditionalLLM:      valueOr(opts.AdditionalLLM, 1),
		QueueClass:         opts.QueueClass,
		Priority:           opts.Priority,
		Source:             def.ID,
	})
	if err != nil {
		kind := core.Classify(err)
		s.audit(ctx, "subagent_failed", def, false, err.Error())
		if kind == core.KindCancelled {
			return Result{Outcome: Outcome{Status: OutcomeCancelled, Kind: kind}, LatencyMs: elapsedMs(start)}
		}
		if kind == core.KindTimeout {
			return Result{Outcome: Outcome{Status: OutcomeTimedOut, Kind: kind}, LatencyMs: elapsedMs(start)}
		}
		return Result{Outcome: Outcome{Status: OutcomeFailure, Kind: kind}, LatencyMs: elapsedMs(start)}
	}
	defer s.ledger.Release(reservation)

	s.ledger.Consume(reservation)

	prompt := assemblePrompt(def, task)

	provider, model := s.rateLimitTarget()
	if provider != "" {
		if err := s.waitForAdaptiveSlot(ctx, provider, model); err != nil {
			kind := core.Classify(err)
			s.audit(ctx, "subagent_failed", def, false, err.Error())
			if kind == core.KindCancelled {
				return Result{Outcome: Outcome{Status: OutcomeCancelled, Kind: kind}, LatencyMs: elapsedMs(start)}
			}
			return Result{Outcome: Outcome{Status: OutcomeFailure, Kind: core.KindCapacityUnavailable}, LatencyMs: elapsedMs(start)}
		}
		defer s.rateLimiter.Release(provider, model)
	}

	breakerKey := "subagent." + def.ID
	if provider != "" {
		breakerKey = provider + "/" + model
	}

	var rawText string
	slotResult := s.pool.Do(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, s.retry.ExecuteWithBreakerKey(ctx, "subagent."+def.ID, breakerKey, func() error {
			out, invokeErr := s.invoker.Invoke(ctx, prompt)
			if invokeErr != nil {
				if provider != "" && core.Classify(invokeErr) == core.KindRateLimited {
					s.rateLimiter.Record429(provider, model, s.modelCeiling)
				}
				return invokeErr
			}
			if provider != "" {
				s.rateLimiter.RecordSuccess(provider, model, s.modelCeiling)
			}
			rawText = out.Text
			return nil
		})
	})

	if slotResult.Skipped {
		s.audit(ctx, "subagent_failed", def, false, "worker pool has zero concurrency")
		return Result{Outcome: Outcome{Status: OutcomeFailure, Kind: core.KindCapacityUnavailable}, LatencyMs: elapsedMs(start)}
	}
	if slotResult.Cancelled {
		s.audit(ctx, "subagent_failed", def, false, "cancelled")
		return Result{Outcome: Outcome{Status: OutcomeCancelled, Kind: core.KindCancelled}, LatencyMs: elapsedMs(start)}
	}
	if slotResult.Err != nil {
		kind := core.Classify(slotResult.Err)
		s.audit(ctx, "subagent_failed", def, false, slotResult.Err.Error())
		if kind == core.KindCancelled {
			return Result{Outcome: Outcome{Status: OutcomeCancelled, Kind: kind}, LatencyMs: elapsedMs(start)}
		}
		if kind == core.KindTimeout {
			return Result{Outcome: Outcome{Status: OutcomeTimedOut, Kind: kind}, LatencyMs: elapsedMs(start)}
		}
		return Result{Outcome: Outcome{Status: OutcomeFailure, Kind: kind}, LatencyMs: elapsedMs(start)}
	}

	output := NormalizeOutput(rawText)

	minLen := opts.MinOutputLength
	if minLen <= 0 {
		minLen = defaultMinOutputLength
	}
	if len(strings.TrimSpace(rawText)) < minLen {
		s.audit(ctx, "subagent_failed", def, false, "empty or too-short output")
		return Result{Outcome: Outcome{Status: OutcomeFailure, Kind: core.KindEmptyOutput}, Output: output, LatencyMs: elapsedMs(start)}
	}

	s.audit(ctx, "subagent_completed", def, true, "")
	return Result{Outcome: Outcome{Status: OutcomeSuccess}, Output: output, LatencyMs: elapsedMs(start)}
}

func (s *Scheduler) audit(ctx context.Context, action string, def Definition, success bool, errMessage string) {
	if s.auditLog == nil {
		return
	}
	if _, err := s.auditLog.Append(ctx, action, def.ID, def.ID, def.Role, nil, success, errMessage); err != nil {
		s.logger.Warn("failed to record subagent audit event", map[string]interface{}{
			"action": action, "error": err.Error(),
		})
	}
}

func assemblePrompt(def Definition, task string) string {
	if def.SystemPrompt == "" {
		return task
	}
	return def.SystemPrompt + "\n\n" + task
}

func elapsedMs(start time.Time) int64 { return time.Since(start).Milliseconds() }

func valueOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
