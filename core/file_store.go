package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// FileKVStore is the filesystem-backed KeyValueStore (spec §6's
// persistent state layout: ownership/<workflowId>.json,
// teams/runs/<runId>.json, subagents/runs/<runId>.json, one file per
// key under a workspace-relative root). Grounded on
// coordinator.DirectoryRegistry's write-to-temp-then-rename discipline
// via renameio, generalized from "one file per instance" to "one file
// per arbitrary hierarchical key" so ownership, audit archival, and
// dispatch run records all share one store implementation.
//
// Advisory locks (TryLock/Unlock) are themselves plain files under
// root/.locks, holding the lock's expiry as their only content; a lock
// whose expiry has passed is treated as free and silently reclaimed.
// This is single-host advisory locking only — a Redis-backed
// KeyValueStore is the multi-host alternative, same as the coordinator
// registry's Redis option.
type FileKVStore struct {
	mu   sync.Mutex
	root string
}

// NewFileKVStore ensures root exists and returns a store rooted there.
func NewFileKVStore(root string) (*FileKVStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, NewFrameworkError("core.NewFileKVStore", KindInternal, err)
	}
	if err := os.MkdirAll(filepath.Join(root, ".locks"), 0o755); err != nil {
		return nil, NewFrameworkError("core.NewFileKVStore", KindInternal, err)
	}
	return &FileKVStore{root: root}, nil
}

func (f *FileKVStore) dataPath(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key)+".json")
}

func (f *FileKVStore) lockPath(key string) string {
	return filepath.Join(f.root, ".locks", strings.ReplaceAll(key, "/", "_")+".lock")
}

func (f *FileKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.dataPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRecordNotFound
		}
		return nil, NewFrameworkError("core.FileKVStore.Get", KindInternal, err)
	}
	return data, nil
}

func (f *FileKVStore) Put(ctx context.Context, key string, value []byte) error {
	path := f.dataPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return NewFrameworkError("core.FileKVStore.Put", KindInternal, err)
	}
	if err := renameio.WriteFile(path, value, 0o644); err != nil {
		return NewFrameworkError("core.FileKVStore.Put", KindInternal, err)
	}
	return nil
}

func (f *FileKVStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(f.dataPath(key)); err != nil && !os.IsNotExist(err) {
		return NewFrameworkError("core.FileKVStore.Delete", KindInternal, err)
	}
	return nil
}

// List walks root for every *.json file whose key (path relative to
// root, sans extension) has prefix. Transient partial writes from a
// concurrent Put are never observed thanks to renameio's atomic rename,
// so a read race here can at worst miss a file that hasn't been renamed
// into place yet — not see a torn one.
func (f *FileKVStore) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := filepath.Walk(f.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip entries that vanished mid-walk (e.g. concurrent Delete)
		}
		if info.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return nil
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), ".json")
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
		return nil
	})
	if err != nil {
		return nil, NewFrameworkError("core.FileKVStore.List", KindInternal, err)
	}
	return out, nil
}

func (f *FileKVStore) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.lockPath(key)
	if data, err := os.ReadFile(path); err == nil {
		if expiry, parseErr := time.Parse(time.RFC3339Nano, string(data)); parseErr == nil && time.Now().Before(expiry) {
			return false, nil
		}
		// Expired or unparsable lock file: fall through and reclaim it.
	} else if !os.IsNotExist(err) {
		return false, NewFrameworkError("core.FileKVStore.TryLock", KindInternal, err)
	}

	expiry := time.Now().Add(ttl).Format(time.RFC3339Nano)
	if err := renameio.WriteFile(path, []byte(expiry), 0o644); err != nil {
		return false, NewFrameworkError("core.FileKVStore.TryLock", KindInternal, err)
	}
	return true, nil
}

func (f *FileKVStore) Unlock(ctx context.Context, key string) error {
	if err := os.Remove(f.lockPath(key)); err != nil && !os.IsNotExist(err) {
		return NewFrameworkError("core.FileKVStore.Unlock", KindInternal, err)
	}
	return nil
}
