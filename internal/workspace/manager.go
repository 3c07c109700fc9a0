// Package workspace owns the staging directory tree a job encodes in.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/failure"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/logger"
	"github.com/gofrs/flock"
)

const (
	InputDir   = "in"
	OutputDir  = "out"
	lockSuffix = ".lock"
)

type Paths struct {
	Root string
	In   string
	Out  string
}

func PathsFor(root string) Paths {
	return Paths{
		Root: root,
		In:   filepath.Join(root, InputDir),
		Out:  filepath.Join(root, OutputDir),
	}
}

// JobRoot returns the root keyed by key under base, or base itself for an
// empty key.
func JobRoot(base, key string) string {
	if key == "" {
		return base
	}
	return filepath.Join(base, key)
}

// ValidKey reports whether key names exactly one directory below a base.
func ValidKey(key string) bool {
	return key != "" && key != "." && key != ".." &&
		!strings.ContainsAny(key, `/\`) && filepath.Base(key) == key
}

type Manager struct {
	logger logger.Logger
}

func NewManager(log logger.Logger) *Manager {
	return &Manager{logger: log}
}

// Prepare makes sure root, root/in and root/out exist. Directories that are
// already there are left alone.
func (m *Manager) Prepare(root string) (Paths, error) {
	paths := PathsFor(root)
	for _, dir := range []string{paths.Root, paths.In, paths.Out} {
		info, err := os.Stat(dir)
		switch {
		case err == nil && info.IsDir():
			m.logger.Debugf("Dir %s exists", dir)
			continue
		case err == nil:
			return Paths{}, failure.Workspace("prepare", fmt.Errorf("%s exists and is not a directory", dir))
		case !errors.Is(err, fs.ErrNotExist):
			return Paths{}, failure.Workspace("prepare", err)
		}

		m.logger.Infof("Creating dir %s", dir)
		if err := os.Mkdir(dir, 0o755); err != nil {
			if errors.Is(err, fs.ErrExist) {
				if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
					continue
				}
			}
			return Paths{}, failure.Workspace("prepare", err)
		}
	}
	return paths, nil
}

// Cleanup deletes every file below root and keeps the directories for the
// next job. It is safe on a partially populated or missing tree.
func (m *Manager) Cleanup(root string) error {
	var errs []error
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			errs = append(errs, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		m.logger.Debugf("Deleting %s", path)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return failure.Workspace("cleanup", errors.Join(errs...))
	}
	return nil
}

// Retire removes the directories Prepare created under root once Cleanup has
// emptied them. Directories that still hold anything are left in place.
func (m *Manager) Retire(root string) error {
	paths := PathsFor(root)
	var errs []error
	for _, dir := range []string{paths.Out, paths.In, paths.Root} {
		if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return failure.Workspace("retire", errors.Join(errs...))
	}
	return nil
}

// Lock takes an exclusive advisory lock on root so two jobs never stage into
// the same tree. The lock file sits next to root, not inside it, so Cleanup
// never touches it. A root held by someone else is a retryable failure. The
// returned func deletes the lock file and releases the lock.
func (m *Manager) Lock(root string) (func(), error) {
	root = filepath.Clean(root)
	if err := os.MkdirAll(filepath.Dir(root), 0o755); err != nil {
		return nil, failure.Workspace("lock", err)
	}
	fl := flock.New(root + lockSuffix)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, failure.Workspace("lock", err)
	}
	if !ok {
		return nil, failure.Busy("lock", fmt.Errorf("workspace %s is in use by another job", root))
	}
	return func() {
		if err := os.Remove(fl.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warnf("failed to remove workspace lock %s: %v", fl.Path(), err)
		}
		if err := fl.Unlock(); err != nil {
			m.logger.Warnf("failed to release workspace lock %s: %v", root, err)
		}
	}, nil
}
