package core

import "time"

// Environment variable names recognized by Config.LoadFromEnv, all under
// the AGENTRT_ prefix (the teacher's framework uses GOMIND_).
const (
	EnvMaxTotalActiveLLM             = "AGENTRT_MAX_ACTIVE_LLM"
	EnvMaxTotalActiveRequests        = "AGENTRT_MAX_ACTIVE_REQUESTS"
	EnvMaxParallelSubagentsPerReq    = "AGENTRT_MAX_PARALLEL_SUBAGENTS"
	EnvMaxParallelTeamsPerReq        = "AGENTRT_MAX_PARALLEL_TEAMS"
	EnvMaxParallelMembersPerTeam     = "AGENTRT_MAX_PARALLEL_MEMBERS"
	EnvMaxConcurrentOrchestrations   = "AGENTRT_MAX_ORCHESTRATIONS"
	EnvCapacityWaitMs                = "AGENTRT_CAPACITY_WAIT_MS"
	EnvCapacityPollMs                = "AGENTRT_CAPACITY_POLL_MS"
	EnvRateLimitMaxAttempts          = "AGENTRT_RATE_LIMIT_MAX_ATTEMPTS"
	EnvRateLimitMaxDelayMs           = "AGENTRT_RATE_LIMIT_MAX_DELAY_MS"
	EnvAdaptiveDecayMinutes          = "AGENTRT_ADAPTIVE_DECAY_MINUTES"
	EnvAdaptiveSuccessThreshold      = "AGENTRT_ADAPTIVE_SUCCESS_THRESHOLD"
	EnvAdaptiveCeiling               = "AGENTRT_ADAPTIVE_CEILING"
	EnvStableRuntimeProfile          = "AGENTRT_STABLE_RUNTIME_PROFILE"
	EnvWorkspaceDir                  = "AGENTRT_WORKSPACE_DIR"
	EnvInstanceDeadAfterSeconds      = "AGENTRT_INSTANCE_DEAD_AFTER_SECONDS"
	EnvSweepIntervalSeconds          = "AGENTRT_SWEEP_INTERVAL_SECONDS"
	EnvCoordinatorProvider           = "AGENTRT_COORDINATOR_PROVIDER" // "directory" | "redis"
	EnvRedisURL                      = "AGENTRT_REDIS_URL"
	EnvLogLevel                      = "AGENTRT_LOG_LEVEL"
	EnvLogFormat                     = "AGENTRT_LOG_FORMAT"
	EnvDevMode                       = "AGENTRT_DEV_MODE"
)

// Default tuning values, named in spec §4 and §6.
const (
	DefaultReservationExpiry   = 5 * time.Minute
	DefaultSweepInterval       = 30 * time.Second
	DefaultInstanceDeadAfter   = 30 * time.Second
	DefaultCoordinatorPoll     = 2 * time.Second
	DefaultRateLimitMaxAttempt = 6
	DefaultRateLimitMaxDelay   = 90 * time.Second
	DefaultAdaptiveDecay       = 8 * time.Minute
	DefaultAdaptiveCeiling     = 8
	DefaultSkipBoost           = 500 * time.Millisecond
	DefaultQueueCap            = 256
)

// Persistent state layout, workspace-relative (spec §6).
const (
	OwnershipDir   = "ownership"
	CoordinatorDir = "coordinator/instances"
	AuditLogPath   = "audit/audit.log.jsonl"
	TeamRunsDir    = "teams/runs"
	SubagentRunsDir = "subagents/runs"
)

// Exit codes (spec §6).
const (
	ExitOK                  = 0
	ExitBadCLI              = 64
	ExitValidationFailure   = 65
	ExitCapacityTimeout     = 73
	ExitWorkflowOwnedByOther = 75
	ExitCancelled           = 130
)
