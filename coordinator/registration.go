// Package coordinator implements the Cross-Instance Coordinator: a
// best-effort, shared-directory (or optionally Redis-backed) registry of
// peer processes sharing one workspace, used to compute per-provider fair
// share and to allow an under-loaded peer's unused slots to be stolen.
package coordinator

import (
	"encoding/json"
	"os"
	"time"

	"github.com/itsneelabh/agentrt/core"
)

// Registration is the record one host process publishes about itself.
type Registration struct {
	InstanceID      string         `json:"instance_id"`
	Hostname        string         `json:"hostname"`
	PID             int            `json:"pid"`
	StartTimeMs     int64          `json:"start_time_ms"`
	LastHeartbeatMs int64          `json:"last_heartbeat_ms"`
	ActiveByModel   map[string]int `json:"active_by_model"` // key: "provider/model"
}

// NewRegistration builds this process's own registration record, its
// InstanceID generated via core.NewInstanceID (hostname:pid:startTimeMs).
func NewRegistration() *Registration {
	now := time.Now()
	return &Registration{
		InstanceID:      core.NewInstanceID(now),
		Hostname:        hostnameOrUnknown(),
		PID:             os.Getpid(),
		StartTimeMs:     now.UnixMilli(),
		LastHeartbeatMs: now.UnixMilli(),
		ActiveByModel:   make(map[string]int),
	}
}

func hostnameOrUnknown() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown-host"
	}
	return h
}

// IsLive reports whether this registration's heartbeat is fresh as of
// asOfMs, given deadAfter (spec §4.3's T_dead, default 30s).
func (r *Registration) IsLive(asOfMs int64, deadAfter time.Duration) bool {
	return asOfMs-r.LastHeartbeatMs < deadAfter.Milliseconds()
}

func (r *Registration) marshal() ([]byte, error) { return json.Marshal(r) }

func unmarshalRegistration(data []byte) (*Registration, error) {
	var r Registration
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ModelKey builds the ActiveByModel map key other packages (the Adaptive
// Rate Controller, Scheduler Dispatch Glue) use to report per-(provider,
// model) load via UpdateHeartbeat.
func ModelKey(provider, model string) string { return provider + "/" + model }
