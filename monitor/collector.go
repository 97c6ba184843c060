// Package monitor implements the Live Monitor (spec §4's "purely
// observational" component, SPEC_FULL §2.12): a push-based view model of
// runtime state, assembled from the components' snapshots, exported as
// OTel gauges (RegisterInstruments) and served over an
// otelhttp-instrumented HTTP endpoint. It never feeds back into admission
// decisions — it only reads Snapshot()/LiveInstances()/etc. from the
// components that do.
package monitor

import (
	"sort"

	"github.com/itsneelabh/agentrt/coordinator"
	"github.com/itsneelabh/agentrt/ledger"
	"github.com/itsneelabh/agentrt/ratelimit"
)

// View is one point-in-time snapshot of runtime state, assembled from the
// Capacity Ledger, the Instance Coordinator and the Adaptive Rate
// Controller. It is the unit pushed to Hub subscribers and served by the
// HTTP endpoint.
type View struct {
	GeneratedAtUnixMs int64               `json:"generated_at_unix_ms"`
	Ledger            ledger.Snapshot     `json:"ledger"`
	LiveInstances     []string            `json:"live_instances"`
	ModelLimits       []ratelimit.ModelLimit `json:"model_limits"`
	RecentRuns        []RunSummary        `json:"recent_runs"`
}

// RunSummary is a condensed record of one completed team or sub-agent run,
// kept in the Hub's bounded recent-runs ring for introspection without
// re-reading the audit log.
type RunSummary struct {
	Kind      string `json:"kind"` // "subagent" or "team"
	ID        string `json:"id"`
	Status    string `json:"status"`
	Verdict   string `json:"verdict,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	AtUnixMs  int64  `json:"at_unix_ms"`
}

// Source is the set of runtime components the Live Monitor observes.
// Coordinator and RateController are optional (nil in single-instance or
// fixed-cap deployments) — the captured View simply omits their fields.
type Source struct {
	Ledger         *ledger.Ledger
	Coordinator    *coordinator.Coordinator
	RateController *ratelimit.Controller
}

// capture assembles a View from the current state of every configured
// component. nowUnixMs is passed in rather than read from time.Now so the
// caller controls timestamping (and tests stay deterministic).
func (s Source) capture(nowUnixMs int64, recentRuns []RunSummary) View {
	v := View{
		GeneratedAtUnixMs: nowUnixMs,
		RecentRuns:        recentRuns,
	}
	if s.Ledger != nil {
		v.Ledger = s.Ledger.Snapshot()
	}
	if s.Coordinator != nil {
		instances := s.Coordinator.LiveInstances()
		sort.Strings(instances)
		v.LiveInstances = instances
	}
	if s.RateController != nil {
		limits := s.RateController.Snapshot()
		sort.Slice(limits, func(i, j int) bool {
			if limits[i].Provider != limits[j].Provider {
				return limits[i].Provider < limits[j].Provider
			}
			return limits[i].Model < limits[j].Model
		})
		v.ModelLimits = limits
	}
	return v
}
