// Package dispatch implements the Scheduler Dispatch Glue (spec §2.13,
// SPEC_FULL §2.13): the top-level facade implementing the Delegation API
// (subagent_run, subagent_run_parallel, agent_team_run,
// agent_team_run_parallel, loop_run), the Introspection API, and the
// Workflow API. It wires every other package together in the order spec
// §2's data-flow line names: ownership → coordinator → rate controller →
// ledger → worker pool.
package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/itsneelabh/agentrt/audit"
	"github.com/itsneelabh/agentrt/coordinator"
	"github.com/itsneelabh/agentrt/core"
	"github.com/itsneelabh/agentrt/ledger"
	"github.com/itsneelabh/agentrt/ownership"
	"github.com/itsneelabh/agentrt/ratelimit"
	"github.com/itsneelabh/agentrt/resilience"
	"github.com/itsneelabh/agentrt/subagent"
	"github.com/itsneelabh/agentrt/sweeper"
	"github.com/itsneelabh/agentrt/team"
	"github.com/itsneelabh/agentrt/workerpool"
)

// Runtime is the fully wired Agent Runtime Core: every Delegation,
// Introspection and Workflow API method is a method on this type.
type Runtime struct {
	cfg core.Config

	ledger         *ledger.Ledger
	pool           *workerpool.Pool
	retry          *resilience.RetryExecutor
	rateController *ratelimit.Controller
	coordinator    *coordinator.Coordinator // nil in single-instance deployments
	ownershipMgr   *ownership.Manager       // nil when no coordinator is configured
	auditLog       *audit.Log
	sweeper        *sweeper.Sweeper
	subagents      *subagent.Scheduler
	teams          *team.Orchestrator

	runStore   core.KeyValueStore
	teamLoader core.TeamDefinitionLoader
	invoker    core.LLMInvoker

	logger core.Logger
}

// New wires a Runtime from cfg. invoker is the concrete LLM backend (the
// `ai` package's client implements core.LLMInvoker); teamLoader resolves
// a team id to its member roster. runStore may be nil, in which case a
// core.FileKVStore rooted at cfg.WorkspaceDir is built automatically —
// passing one explicitly is mainly for tests that want an in-memory
// store instead.
func New(cfg core.Config, invoker core.LLMInvoker, teamLoader core.TeamDefinitionLoader, runStore core.KeyValueStore) (*Runtime, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	if runStore == nil {
		if cfg.WorkspaceDir == "" {
			runStore = core.NewInMemoryKVStore()
		} else {
			store, err := core.NewFileKVStore(cfg.WorkspaceDir)
			if err != nil {
				return nil, err
			}
			runStore = store
		}
	}

	l := ledger.NewLedger(cfg.Limits, logger)
	pool := workerpool.New(cfg.Limits.MaxConcurrentOrchestrations, logger)

	retryCfg := &resilience.RetryConfig{
		MaxAttempts:   cfg.RateLimit.MaxAttempts,
		MaxDelay:      time.Duration(cfg.RateLimit.MaxDelayMs) * time.Millisecond,
		InitialDelay:  100 * time.Millisecond,
		BackoffFactor: 2,
	}
	if retryCfg.MaxAttempts <= 0 {
		retryCfg.MaxAttempts = core.DefaultRateLimitMaxAttempt
	}
	if retryCfg.MaxDelay <= 0 {
		retryCfg.MaxDelay = core.DefaultRateLimitMaxDelay
	}
	retry := resilience.NewRetryExecutor(retryCfg)
	retry.SetLogger(logger)

	rateController := ratelimit.New(
		ratelimit.WithDecay(cfg.RateLimit.DecayWindow),
		ratelimit.WithSuccessThreshold(cfg.RateLimit.SuccessThreshold),
		ratelimit.WithLogger(logger),
	)

	var auditLog *audit.Log
	if cfg.WorkspaceDir != "" {
		var err error
		auditLog, err = audit.New(filepath.Join(cfg.WorkspaceDir, "audit", "audit.log.jsonl"), logger)
		if err != nil {
			return nil, err
		}
	}

	var coord *coordinator.Coordinator
	switch cfg.Coordinator.Provider {
	case "redis":
		registry, err := coordinator.NewRedisRegistry(cfg.Coordinator.RedisURL, "agentrt", cfg.Coordinator.InstanceDeadAfter)
		if err != nil {
			return nil, err
		}
		coord = coordinator.New(registry, cfg.Coordinator.PollInterval, cfg.Coordinator.InstanceDeadAfter, logger)
	case "directory":
		if cfg.WorkspaceDir == "" {
			return nil, core.NewFrameworkError("dispatch.New", core.KindValidationFailure, fmt.Errorf("directory coordinator requires WorkspaceDir"))
		}
		registry, err := coordinator.NewDirectoryRegistry(filepath.Join(cfg.WorkspaceDir, "coordinator", "instances"))
		if err != nil {
			return nil, err
		}
		coord = coordinator.New(registry, cfg.Coordinator.PollInterval, cfg.Coordinator.InstanceDeadAfter, logger)
	}

	var ownershipMgr *ownership.Manager
	if coord != nil {
		var auditFunc func(ctx context.Context, action, workflowID string, details map[string]interface{})
		if auditLog != nil {
			auditFunc = func(ctx context.Context, action, workflowID string, details map[string]interface{}) {
				if _, err := auditLog.Append(ctx, action, coord.InstanceID(), workflowID, "workflow", details, true, ""); err != nil {
					logger.Warn("failed to record workflow audit event", map[string]interface{}{"action": action, "error": err.Error()})
				}
			}
		}
		ownershipMgr = ownership.New(runStore, coord, coord.InstanceID(), ownership.WithLogger(logger), ownership.WithAuditFunc(auditFunc))
	}

	sweep := sweeper.New(l, auditLog, cfg.Coordinator.SweepInterval, logger)

	subagents := subagent.New(l, pool, retry, ownershipMgr, auditLog, invoker, logger)
	subagents.SetRateLimiter(rateController, cfg.RateLimit.ModelCeiling)
	teams := team.New(l, pool, subagents, auditLog, logger)

	return &Runtime{
		cfg:            cfg,
		ledger:         l,
		pool:           pool,
		retry:          retry,
		rateController: rateController,
		coordinator:    coord,
		ownershipMgr:   ownershipMgr,
		auditLog:       auditLog,
		sweeper:        sweep,
		subagents:      subagents,
		teams:          teams,
		runStore:       runStore,
		teamLoader:     teamLoader,
		invoker:        invoker,
		logger:         logger,
	}, nil
}

// Start begins every background loop (sweeper, and coordinator if
// configured). Call before serving any Delegation API traffic.
func (r *Runtime) Start(ctx context.Context) error {
	r.sweeper.Start(ctx)
	if r.coordinator != nil {
		if err := r.coordinator.RegisterInstance(ctx); err != nil {
			return err
		}
		r.coordinator.Start(ctx)
	}
	return nil
}

// Stop ends every background loop and, if a coordinator is configured,
// unregisters this instance.
func (r *Runtime) Stop(ctx context.Context) {
	r.sweeper.Stop()
	if r.coordinator != nil {
		r.coordinator.Stop()
		if err := r.coordinator.Unregister(ctx); err != nil {
			r.logger.Warn("failed to unregister instance on shutdown", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Monitor exposes the wired components a Live Monitor Source needs, so
// cmd/agentrtd can build one without reaching into Runtime internals.
func (r *Runtime) Monitor() (ledgerRef *ledger.Ledger, coordinatorRef *coordinator.Coordinator, rateControllerRef *ratelimit.Controller) {
	return r.ledger, r.coordinator, r.rateController
}
