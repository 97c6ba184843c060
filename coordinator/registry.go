package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/itsneelabh/agentrt/core"
)

// Registry is the storage backend for peer registrations. The default is
// a shared directory of one file per instance; an optional Redis-backed
// implementation exists for multi-host deployments without a shared
// filesystem.
type Registry interface {
	Put(ctx context.Context, reg *Registration) error
	List(ctx context.Context) ([]*Registration, error)
	Delete(ctx context.Context, instanceID string) error
}

// DirectoryRegistry stores one JSON file per instance under dir, written
// with write-to-temp-then-rename durability via renameio so a reader never
// observes a partially written record — the same atomic-replace guarantee
// spec §6's persistent state layout relies on for ownership and audit
// files.
type DirectoryRegistry struct {
	dir string
}

// NewDirectoryRegistry ensures dir exists and returns a registry rooted
// there.
func NewDirectoryRegistry(dir string) (*DirectoryRegistry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, core.NewFrameworkError("coordinator.NewDirectoryRegistry", core.KindInternal, err)
	}
	return &DirectoryRegistry{dir: dir}, nil
}

func (d *DirectoryRegistry) path(instanceID string) string {
	return filepath.Join(d.dir, sanitize(instanceID)+".json")
}

// sanitize replaces path separators in an instance id (hostname:pid:ms can
// contain no separators in practice, but this keeps the file path safe
// regardless of hostname content).
func sanitize(instanceID string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "-").Replace(instanceID)
}

func (d *DirectoryRegistry) Put(ctx context.Context, reg *Registration) error {
	data, err := reg.marshal()
	if err != nil {
		return core.NewFrameworkError("coordinator.DirectoryRegistry.Put", core.KindInternal, err)
	}
	if err := renameio.WriteFile(d.path(reg.InstanceID), data, 0o644); err != nil {
		return core.NewFrameworkError("coordinator.DirectoryRegistry.Put", core.KindInternal, err)
	}
	return nil
}

func (d *DirectoryRegistry) List(ctx context.Context) ([]*Registration, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.NewFrameworkError("coordinator.DirectoryRegistry.List", core.KindInternal, err)
	}

	var out []*Registration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.dir, e.Name()))
		if err != nil {
			continue // transient read races with a concurrent writer's rename; skip, not fatal
		}
		reg, err := unmarshalRegistration(data)
		if err != nil {
			continue // malformed/partial record from a crashed writer; ignore rather than fail discovery
		}
		out = append(out, reg)
	}
	return out, nil
}

func (d *DirectoryRegistry) Delete(ctx context.Context, instanceID string) error {
	if err := os.Remove(d.path(instanceID)); err != nil && !os.IsNotExist(err) {
		return core.NewFrameworkError("coordinator.DirectoryRegistry.Delete", core.KindInternal, err)
	}
	return nil
}
