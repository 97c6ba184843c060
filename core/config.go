package core

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the runtime's top-level configuration, loaded in three
// layers exactly as the teacher's core.Config: compiled-in defaults,
// then AGENTRT_-prefixed environment variables, then functional options
// applied last by the caller (so options always win).
type Config struct {
	Limits      RuntimeLimits      `json:"limits"`
	Coordinator CoordinatorConfig  `json:"coordinator"`
	RateLimit   RateLimitConfig    `json:"rate_limit"`
	Logging     LoggingConfig      `json:"logging"`
	Development DevelopmentConfig  `json:"development"`

	// StableRuntimeProfile selects the conservative preset (spec §6). The
	// preset, applied by DetectEnvironment, caps RateLimit.MaxAttempts at
	// DefaultRateLimitMaxAttempt; it does not change team communication or
	// retry rounds (see team.Mode) or the queue cap.
	StableRuntimeProfile bool `json:"stable_runtime_profile"`

	// WorkspaceDir is the root of the persistent state layout (spec §6):
	// ownership/, coordinator/instances/, audit/, teams/runs/, subagents/runs/.
	WorkspaceDir string `json:"workspace_dir"`

	Logger Logger `json:"-"`
}

// RuntimeLimits is the spec §3 RuntimeLimits entity: immutable per run.
type RuntimeLimits struct {
	MaxTotalActiveLLM             int           `json:"max_total_active_llm"`
	MaxTotalActiveRequests        int           `json:"max_total_active_requests"`
	MaxParallelSubagentsPerReq    int           `json:"max_parallel_subagents_per_request"`
	MaxParallelTeamsPerReq        int           `json:"max_parallel_teams_per_request"`
	MaxParallelMembersPerTeam     int           `json:"max_parallel_members_per_team"`
	MaxConcurrentOrchestrations   int           `json:"max_concurrent_orchestrations"`
	CapacityWaitMs                int           `json:"capacity_wait_ms"`
	CapacityPollMs                int           `json:"capacity_poll_ms"`
	LimitsVersion                 string        `json:"limits_version"`
	QueueCap                      int           `json:"queue_cap"`
	ReservationExpiry             time.Duration `json:"-"`
}

// CoordinatorConfig configures the Cross-Instance Coordinator.
type CoordinatorConfig struct {
	Provider            string        `json:"provider"` // "directory" | "redis"
	RedisURL             string        `json:"redis_url"`
	PollInterval         time.Duration `json:"-"`
	InstanceDeadAfter    time.Duration `json:"-"`
	SweepInterval        time.Duration `json:"-"`
}

// RateLimitConfig configures the Retry/Backoff Engine's rate-limit policy
// and the Adaptive Rate Controller's decay window.
type RateLimitConfig struct {
	MaxAttempts      int           `json:"max_attempts"`
	MaxDelayMs       int           `json:"max_delay_ms"`
	DecayWindow      time.Duration `json:"-"`
	SuccessThreshold int           `json:"success_threshold"`
	// ModelCeiling is the provider-declared concurrency limit the Adaptive
	// Rate Controller treats as every (provider, model) pair's ceiling
	// (spec §4.4) until told otherwise.
	ModelCeiling int `json:"model_ceiling"`
}

// LoggingConfig controls the production logger's format and level.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, console
	Output string `json:"output"` // stdout, stderr
}

// DevelopmentConfig mirrors the teacher's dev-mode switch.
type DevelopmentConfig struct {
	DevMode      bool `json:"dev_mode"`
	DebugLogging bool `json:"debug_logging"`
}

// Option mutates a Config after defaults and environment have been
// applied; this is the third and final layer of the priority chain.
type Option func(*Config) error

// DefaultConfig returns the compiled-in defaults (spec §4 and §6).
func DefaultConfig() *Config {
	return &Config{
		Limits: RuntimeLimits{
			MaxTotalActiveLLM:           8,
			MaxTotalActiveRequests:      16,
			MaxParallelSubagentsPerReq:  4,
			MaxParallelTeamsPerReq:      2,
			MaxParallelMembersPerTeam:   4,
			MaxConcurrentOrchestrations: 4,
			CapacityWaitMs:              30_000,
			CapacityPollMs:              200,
			LimitsVersion:               "v1",
			QueueCap:                    DefaultQueueCap,
			ReservationExpiry:           DefaultReservationExpiry,
		},
		Coordinator: CoordinatorConfig{
			Provider:          "directory",
			PollInterval:      DefaultCoordinatorPoll,
			InstanceDeadAfter: DefaultInstanceDeadAfter,
			SweepInterval:     DefaultSweepInterval,
		},
		RateLimit: RateLimitConfig{
			MaxAttempts:      DefaultRateLimitMaxAttempt,
			MaxDelayMs:       int(DefaultRateLimitMaxDelay.Milliseconds()),
			DecayWindow:      DefaultAdaptiveDecay,
			SuccessThreshold: 5,
			ModelCeiling:     DefaultAdaptiveCeiling,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Development: DevelopmentConfig{},
		WorkspaceDir: ".agentrt",
	}
}

// DetectEnvironment applies the stable-runtime preset when
// StableRuntimeProfile is set, tightening the rate-limit retry budget the
// way the teacher's DetectEnvironment tightens dev-mode defaults.
func (c *Config) DetectEnvironment() {
	if c.StableRuntimeProfile {
		c.RateLimit.MaxAttempts = min(c.RateLimit.MaxAttempts, DefaultRateLimitMaxAttempt)
	}
}

// LoadFromEnv overlays AGENTRT_-prefixed environment variables onto the
// current config, the second layer of the priority chain.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv(EnvMaxTotalActiveLLM); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return NewFrameworkError("config.LoadFromEnv", KindValidationFailure, fmt.Errorf("%s: %w", EnvMaxTotalActiveLLM, err))
		}
		c.Limits.MaxTotalActiveLLM = n
	}
	if v := os.Getenv(EnvMaxTotalActiveRequests); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return NewFrameworkError("config.LoadFromEnv", KindValidationFailure, fmt.Errorf("%s: %w", EnvMaxTotalActiveRequests, err))
		}
		c.Limits.MaxTotalActiveRequests = n
	}
	if v := os.Getenv(EnvMaxParallelSubagentsPerReq); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limits.MaxParallelSubagentsPerReq = n
		}
	}
	if v := os.Getenv(EnvMaxParallelTeamsPerReq); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limits.MaxParallelTeamsPerReq = n
		}
	}
	if v := os.Getenv(EnvMaxParallelMembersPerTeam); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limits.MaxParallelMembersPerTeam = n
		}
	}
	if v := os.Getenv(EnvMaxConcurrentOrchestrations); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limits.MaxConcurrentOrchestrations = n
		}
	}
	if v := os.Getenv(EnvCapacityWaitMs); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limits.CapacityWaitMs = n
		}
	}
	if v := os.Getenv(EnvCapacityPollMs); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limits.CapacityPollMs = n
		}
	}
	if v := os.Getenv(EnvRateLimitMaxAttempts); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.MaxAttempts = n
		}
	}
	if v := os.Getenv(EnvRateLimitMaxDelayMs); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.MaxDelayMs = n
		}
	}
	if v := os.Getenv(EnvAdaptiveDecayMinutes); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.DecayWindow = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv(EnvAdaptiveSuccessThreshold); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.SuccessThreshold = n
		}
	}
	if v := os.Getenv(EnvAdaptiveCeiling); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.ModelCeiling = n
		}
	}
	if v := os.Getenv(EnvCoordinatorProvider); v != "" {
		c.Coordinator.Provider = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Coordinator.RedisURL = v
	}
	if v := os.Getenv(EnvInstanceDeadAfterSeconds); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Coordinator.InstanceDeadAfter = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv(EnvSweepIntervalSeconds); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Coordinator.SweepInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv(EnvStableRuntimeProfile); v != "" {
		c.StableRuntimeProfile = parseBool(v)
	}
	if v := os.Getenv(EnvWorkspaceDir); v != "" {
		c.WorkspaceDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv(EnvDevMode); v != "" {
		c.Development.DevMode = parseBool(v)
		c.Development.DebugLogging = c.Development.DevMode
	}

	c.DetectEnvironment()
	return nil
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

// Validate checks invariants from spec §3: non-negative limits, sane
// ordering between wait and poll intervals.
func (c *Config) Validate() error {
	if c.Limits.MaxTotalActiveLLM < 0 || c.Limits.MaxTotalActiveRequests < 0 {
		return NewFrameworkError("config.Validate", KindValidationFailure, ErrInvalidConfiguration)
	}
	if c.Limits.CapacityPollMs < 0 || c.Limits.CapacityWaitMs < 0 {
		return NewFrameworkError("config.Validate", KindValidationFailure, ErrInvalidConfiguration)
	}
	if c.Limits.CapacityPollMs > 0 && c.Limits.CapacityWaitMs > 0 && c.Limits.CapacityPollMs > c.Limits.CapacityWaitMs {
		return NewFrameworkError("config.Validate", KindValidationFailure,
			fmt.Errorf("%w: capacity_poll_ms must not exceed capacity_wait_ms", ErrInvalidConfiguration))
	}
	if c.Coordinator.Provider != "directory" && c.Coordinator.Provider != "redis" {
		return NewFrameworkError("config.Validate", KindValidationFailure,
			fmt.Errorf("%w: unknown coordinator provider %q", ErrInvalidConfiguration, c.Coordinator.Provider))
	}
	if c.Coordinator.Provider == "redis" && c.Coordinator.RedisURL == "" {
		return NewFrameworkError("config.Validate", KindValidationFailure,
			fmt.Errorf("%w: redis coordinator requires AGENTRT_REDIS_URL", ErrMissingConfiguration))
	}
	return nil
}

// Functional options — the third and final configuration layer.

func WithWorkspaceDir(dir string) Option {
	return func(c *Config) error {
		c.WorkspaceDir = dir
		return nil
	}
}

func WithLimits(limits RuntimeLimits) Option {
	return func(c *Config) error {
		c.Limits = limits
		return nil
	}
}

func WithStableRuntimeProfile(enabled bool) Option {
	return func(c *Config) error {
		c.StableRuntimeProfile = enabled
		return nil
	}
}

func WithRedisCoordinator(url string) Option {
	return func(c *Config) error {
		c.Coordinator.Provider = "redis"
		c.Coordinator.RedisURL = url
		return nil
	}
}

func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

func WithDevMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.DevMode = enabled
		c.Development.DebugLogging = enabled
		return nil
	}
}

// NewConfig assembles a Config through all three layers: defaults, then
// environment, then the supplied options, then validates the result.
func NewConfig(opts ...Option) (*Config, error) {
	c := DefaultConfig()
	if err := c.LoadFromEnv(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, NewFrameworkError("config.NewConfig", KindValidationFailure, err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Logger == nil {
		c.Logger = NewProductionLogger(c.Logging, c.Development, "agentrt")
	}
	return c, nil
}

// ============================================================================
// ProductionLogger — zap-backed Logger/ComponentAwareLogger implementation
// ============================================================================

// ProductionLogger wraps a zap.Logger to satisfy core.Logger without
// forcing zap's API onto every caller, the same indirection the teacher
// uses to keep core free of a hard telemetry dependency.
type ProductionLogger struct {
	zl          *zap.Logger
	component   string
	serviceName string

	metricsEnabled bool
}

// NewProductionLogger builds a zap core from LoggingConfig/DevelopmentConfig:
// JSON encoding for production, console encoding for dev mode, level
// threshold from LoggingConfig.Level.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	level := zapcore.InfoLevel
	switch strings.ToLower(logging.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}
	if dev.DebugLogging {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(logging.Format) == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	sink := zapcore.Lock(os.Stdout)
	if logging.Output == "stderr" {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, level)
	zl := zap.New(core).With(zap.String("service", serviceName))

	pl := &ProductionLogger{zl: zl, serviceName: serviceName, component: "runtime"}
	trackLogger(pl)
	return pl
}

// EnableMetrics is invoked once a MetricsRegistry becomes available
// (mirrors the teacher's telemetry-late-binding pattern).
func (p *ProductionLogger) EnableMetrics() {
	p.metricsEnabled = true
}

// GetComponent returns the component tag this logger was scoped to via
// WithComponent, or "runtime" for the root logger.
func (p *ProductionLogger) GetComponent() string {
	return p.component
}

// WithComponent returns a derived logger tagging every line with component.
func (p *ProductionLogger) WithComponent(component string) Logger {
	return &ProductionLogger{
		zl:             p.zl.With(zap.String("component", component)),
		component:      component,
		serviceName:    p.serviceName,
		metricsEnabled: p.metricsEnabled,
	}
}

func toZapFields(fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.zl.Info(msg, toZapFields(fields)...)
	p.emitMetric("info")
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.zl.Error(msg, toZapFields(fields)...)
	p.emitMetric("error")
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.zl.Warn(msg, toZapFields(fields)...)
	p.emitMetric("warn")
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	p.zl.Debug(msg, toZapFields(fields)...)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.withBaggage(ctx, fields)
	p.Info(msg, fields)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.withBaggage(ctx, fields)
	p.Error(msg, fields)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.withBaggage(ctx, fields)
	p.Warn(msg, fields)
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.withBaggage(ctx, fields)
	p.Debug(msg, fields)
}

func (p *ProductionLogger) withBaggage(ctx context.Context, fields map[string]interface{}) {
	if ctx == nil || !p.metricsEnabled || globalMetricsRegistry == nil {
		return
	}
	for k, v := range globalMetricsRegistry.GetBaggage(ctx) {
		fields["trace."+k] = v
	}
}

func (p *ProductionLogger) emitMetric(level string) {
	if !p.metricsEnabled || globalMetricsRegistry == nil {
		return
	}
	globalMetricsRegistry.Counter("agentrt.runtime.log_events", "level", level, "component", p.component)
}
