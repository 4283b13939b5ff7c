// Package tempfile manages scoped working directories for conversion jobs.
// Every running job acquires its own directory and releases it when it
// reaches a terminal state, so partial outputs never leak into the output
// tree.
package tempfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DirPrefix is the prefix used for job working directories.
const DirPrefix = "chunconv-job-"

// DefaultStaleAge is the default maximum age for orphaned working
// directories left behind by a crashed process.
const DefaultStaleAge = time.Hour

// Manager creates and removes per-job working directories under a base
// directory.
type Manager struct {
	baseDir string
	logger  *slog.Logger
}

// NewManager creates a manager rooted at baseDir. An empty baseDir uses the
// system temp directory.
func NewManager(baseDir string, logger *slog.Logger) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{baseDir: baseDir, logger: logger}
}

// BaseDir returns the directory working directories are created under.
func (m *Manager) BaseDir() string { return m.baseDir }

// Acquire creates a fresh working directory for one job and returns its
// path.
func (m *Manager) Acquire() (string, error) {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("creating temp base directory: %w", err)
	}
	dir := filepath.Join(m.baseDir, DirPrefix+uuid.New().String())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating job working directory: %w", err)
	}
	m.logger.Debug("acquired working directory", "path", dir)
	return dir, nil
}

// Release removes a working directory and everything in it. Releasing a
// directory that is already gone is not an error. Paths outside the managed
// base directory are refused.
func (m *Manager) Release(dir string) error {
	if !m.owns(dir) {
		return fmt.Errorf("refusing to remove %q: not a managed working directory", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing working directory: %w", err)
	}
	m.logger.Debug("released working directory", "path", dir)
	return nil
}

// owns reports whether dir is a direct child of the base directory with the
// managed prefix.
func (m *Manager) owns(dir string) bool {
	parent, name := filepath.Split(filepath.Clean(dir))
	return filepath.Clean(parent) == filepath.Clean(m.baseDir) && strings.HasPrefix(name, DirPrefix)
}

// CleanupStale removes managed directories older than maxAge. Directories
// from the current process are younger than any sensible maxAge, so this is
// safe to run at startup to reap leftovers from a crashed predecessor.
// Returns the number of directories removed.
func (m *Manager) CleanupStale(maxAge time.Duration) (int, error) {
	if _, err := os.Stat(m.baseDir); os.IsNotExist(err) {
		m.logger.Debug("temp base directory does not exist, skipping cleanup", "path", m.baseDir)
		return 0, nil
	}

	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return 0, fmt.Errorf("reading temp base directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), DirPrefix) {
			continue
		}
		path := filepath.Join(m.baseDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			m.logger.Warn("failed to stat working directory", "path", path, "error", err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("failed to remove stale working directory", "path", path, "error", err)
			continue
		}
		m.logger.Info("removed stale working directory",
			"path", path,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
	}
	return removed, nil
}
