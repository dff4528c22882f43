// Package outdir manages the per-test output directory layout:
// <descriptor.outputDir>/<outsubdir>[/cycleNNN]. Stale artifacts from a
// previous run are purged once per descriptor, serialized per directory key
// so two work items never touch the same tree concurrently.
package outdir

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
)

// Manager prepares and purges test output directories for one run.
type Manager struct {
	fs        afs.Service
	outSubdir string
	cycles    int

	mu     sync.Mutex
	purged map[string]bool
	locks  map[string]*sync.Mutex
}

// New creates a manager producing directories under outSubdir; when cycles
// is greater than one each cycle gets its own cycleNNN subdirectory.
func New(outSubdir string, cycles int) *Manager {
	return &Manager{
		fs:        afs.New(),
		outSubdir: outSubdir,
		cycles:    cycles,
		purged:    make(map[string]bool),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Dir returns the output directory for one (descriptor output root, cycle).
func (m *Manager) Dir(outputRoot string, cycle int) string {
	dir := path.Join(outputRoot, m.outSubdir)
	if m.cycles > 1 {
		dir = path.Join(dir, fmt.Sprintf("cycle%03d", cycle+1))
	}
	return dir
}

// dirLock returns the serialization lock for one descriptor output root.
func (m *Manager) dirLock(outputRoot string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[outputRoot]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[outputRoot] = lock
	}
	return lock
}

// Prepare creates the output directory for the given cycle, purging stale
// artifacts from a previous run on first use of the descriptor's root.
func (m *Manager) Prepare(ctx context.Context, outputRoot string, cycle int) (string, error) {
	lock := m.dirLock(outputRoot)
	lock.Lock()
	defer lock.Unlock()

	base := path.Join(outputRoot, m.outSubdir)

	m.mu.Lock()
	needsPurge := !m.purged[outputRoot]
	m.purged[outputRoot] = true
	m.mu.Unlock()

	if needsPurge {
		if exists, _ := m.fs.Exists(ctx, base); exists {
			if err := m.fs.Delete(ctx, base); err != nil {
				return "", fmt.Errorf("failed to purge output directory %s: %w", base, err)
			}
		}
	}

	dir := m.Dir(outputRoot, cycle)
	if err := m.fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return dir, nil
}

// PurgeOnPass removes zero-byte files left in a passed test's output
// directory; the structured run log file is kept.
func (m *Manager) PurgeOnPass(ctx context.Context, dir string) error {
	lock := m.dirLock(dir)
	lock.Lock()
	defer lock.Unlock()

	objects, err := m.fs.List(ctx, dir, option.NewRecursive(true))
	if err != nil {
		return fmt.Errorf("failed to list output directory %s: %w", dir, err)
	}
	for _, object := range objects {
		if object.IsDir() || object.Size() > 0 {
			continue
		}
		if path.Base(object.URL()) == "run.log" {
			continue
		}
		if err := m.fs.Delete(ctx, object.URL()); err != nil {
			return fmt.Errorf("failed to delete %s: %w", object.URL(), err)
		}
	}
	return nil
}
