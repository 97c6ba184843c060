// Package audit implements the Audit Log: an append-only JSON-lines event
// log with filtered reads and date-based archival. Grounded on the
// teacher's orchestration.LLMDebugStore family (llm_debug_store.go,
// memory_llm_debug_store.go, redis_llm_debug_store.go) for its
// interface-first, safe-by-default shape, but reworked from a keyed
// request/response debug payload store into a flat append-only event
// stream, since spec §4.11 wants every event durable forever (subject to
// explicit archive), not a per-request TTL-expiring record.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/google/renameio/v2"

	"github.com/itsneelabh/agentrt/core"
)

// Event is an immutable, append-only audit record (spec §3 AuditEvent).
type Event struct {
	ID           string                 `json:"id"`
	TimestampIso string                 `json:"timestamp_iso"`
	Action       string                 `json:"action"`
	ToolID       string                 `json:"tool_id,omitempty"`
	ToolName     string                 `json:"tool_name,omitempty"`
	Actor        string                 `json:"actor"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// Filter selects a subset of events for Read. Zero-value fields are
// unconstrained; Limit of 0 means unlimited.
type Filter struct {
	ToolID  string
	Action  string
	Actor   string
	Since   time.Time
	Until   time.Time
	Limit   int
	Success *bool
}

func (f Filter) matches(e Event) bool {
	if f.ToolID != "" && e.ToolID != f.ToolID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	if !f.Since.IsZero() || !f.Until.IsZero() {
		ts, err := time.Parse(time.RFC3339Nano, e.TimestampIso)
		if err != nil {
			return false
		}
		if !f.Since.IsZero() && ts.Before(f.Since) {
			return false
		}
		if !f.Until.IsZero() && ts.After(f.Until) {
			return false
		}
	}
	return true
}

// Log is a file-backed append-only JSON-lines audit log. Concurrent
// Append calls are serialized under a single mutex; each write buffers a
// complete `\n`-terminated line before it touches the file so a
// half-written record is never observable (spec §4.11's line-atomicity
// requirement).
type Log struct {
	mu     sync.Mutex
	path   string
	logger core.Logger
}

// New opens (creating if necessary) the audit log at path.
func New(path string, logger core.Logger) (*Log, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("runtime/audit")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, core.NewFrameworkError("audit.New", core.KindInternal, fmt.Errorf("create audit dir: %w", err))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, core.NewFrameworkError("audit.New", core.KindInternal, fmt.Errorf("open audit log: %w", err))
	}
	f.Close()

	return &Log{path: path, logger: logger}, nil
}

// Append writes a new event and returns it with ID and timestamp filled in.
func (l *Log) Append(ctx context.Context, action, actor string, toolID, toolName string, details map[string]interface{}, success bool, errMessage string) (Event, error) {
	event := Event{
		ID:           uuid.New().String(),
		TimestampIso: time.Now().UTC().Format(time.RFC3339Nano),
		Action:       action,
		ToolID:       toolID,
		ToolName:     toolName,
		Actor:        actor,
		Details:      details,
		Success:      success,
		ErrorMessage: errMessage,
	}

	line, err := json.Marshal(event)
	if err != nil {
		return Event{}, core.NewFrameworkError("audit.Append", core.KindInternal, fmt.Errorf("marshal event: %w", err))
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Event{}, core.NewFrameworkError("audit.Append", core.KindInternal, fmt.Errorf("open audit log: %w", err))
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return Event{}, core.NewFrameworkError("audit.Append", core.KindInternal, fmt.Errorf("write event: %w", err))
	}

	l.logger.Debug("audit event appended", map[string]interface{}{"action": action, "id": event.ID})
	return event, nil
}

// Read scans the log and returns events matching filter, newest first,
// truncated to filter.Limit if set.
func (l *Log) Read(ctx context.Context, filter Filter) ([]Event, error) {
	l.mu.Lock()
	f, err := os.Open(l.path)
	l.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.NewFrameworkError("audit.Read", core.KindInternal, fmt.Errorf("open audit log: %w", err))
	}
	defer f.Close()

	var matched []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			l.logger.Warn("skipping malformed audit line", map[string]interface{}{"error": err.Error()})
			continue
		}
		if filter.matches(e) {
			matched = append(matched, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, core.NewFrameworkError("audit.Read", core.KindInternal, fmt.Errorf("scan audit log: %w", err))
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].TimestampIso > matched[j].TimestampIso
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Archive moves every event older than beforeIso into a dated sibling
// file (path + ".archive-<beforeIso-date>") and rewrites the live log to
// retain only events at or after the cutoff. Uses renameio so readers
// never observe a half-truncated log.
func (l *Log) Archive(ctx context.Context, beforeIso string) (archivedCount int, err error) {
	cutoff, err := time.Parse(time.RFC3339Nano, beforeIso)
	if err != nil {
		return 0, core.NewFrameworkError("audit.Archive", core.KindValidationFailure, fmt.Errorf("parse cutoff: %w", err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, core.NewFrameworkError("audit.Archive", core.KindInternal, fmt.Errorf("open audit log: %w", err))
	}

	var toArchive, toKeep [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			toKeep = append(toKeep, line)
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, e.TimestampIso)
		if err != nil || !ts.Before(cutoff) {
			toKeep = append(toKeep, line)
			continue
		}
		toArchive = append(toArchive, line)
	}
	f.Close()
	if err := scanner.Err(); err != nil {
		return 0, core.NewFrameworkError("audit.Archive", core.KindInternal, fmt.Errorf("scan audit log: %w", err))
	}

	if len(toArchive) == 0 {
		return 0, nil
	}

	archivePath := fmt.Sprintf("%s.archive-%s", l.path, cutoff.Format("2006-01-02"))
	if err := appendLines(archivePath, toArchive); err != nil {
		return 0, core.NewFrameworkError("audit.Archive", core.KindInternal, fmt.Errorf("write archive: %w", err))
	}

	if err := renameio.WriteFile(l.path, joinLines(toKeep), 0o644); err != nil {
		return 0, core.NewFrameworkError("audit.Archive", core.KindInternal, fmt.Errorf("rewrite live log: %w", err))
	}

	l.logger.Info("audit log archived", map[string]interface{}{
		"archived_count": len(toArchive),
		"archive_path":   archivePath,
		"cutoff":         beforeIso,
	})
	return len(toArchive), nil
}

func joinLines(lines [][]byte) []byte {
	var out []byte
	for _, line := range lines {
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

func appendLines(path string, lines [][]byte) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	combined := append(existing, joinLines(lines)...)
	return renameio.WriteFile(path, combined, 0o644)
}
