package detectagent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/agenticaiops/incident-core/pkg/pipeline/types"
)

// defaultLockRetryInterval is how often TryLockContext polls for the
// file lock before the caller's context is done.
const defaultLockRetryInterval = 25 * time.Millisecond

// Persister writes a DetectResult snapshot to durable storage, keyed at
// `detect_cache/{detect_id}.json`, matching the persisted-state-layout
// table. It is optional: a DetectAgent with no Persister configured
// keeps everything in the in-process cache only.
type Persister interface {
	Persist(ctx context.Context, result *types.DetectResult) error
}

// FilePersister writes one JSON file per DetectResult under dir,
// guarding each write with an exclusive file lock so two DetectAgent instances
// sharing a directory (e.g. across a restart) never interleave writes
// to the same detect_id.
type FilePersister struct {
	dir string
}

// NewFilePersister builds a FilePersister rooted at dir, creating it if
// necessary.
func NewFilePersister(dir string) (*FilePersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create detect cache directory: %w", err)
	}
	return &FilePersister{dir: dir}, nil
}

// Persist writes result to `{dir}/{detect_id}.json`, serializing
// concurrent writers to the same path via a `.lock` sibling file.
func (p *FilePersister) Persist(ctx context.Context, result *types.DetectResult) error {
	path := filepath.Join(p.dir, result.DetectID+".json")
	lock := flock.New(path + ".lock")

	locked, err := lock.TryLockContext(ctx, defaultLockRetryInterval)
	if err != nil {
		return fmt.Errorf("failed to acquire detect cache lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("detect cache lock busy for %s", result.DetectID)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal detect result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write detect cache file: %w", err)
	}
	return nil
}

var _ Persister = (*FilePersister)(nil)
