// Package workspace manages ephemeral scratch directories for one pipeline
// invocation. A workspace holds temporary artifacts such as the source archive
// and preprocessed configuration documents and is removed on every exit path.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/buildctl/internal/logfields"
)

// Workspace is a scratch directory scoped to a single pipeline run.
type Workspace struct {
	baseDir string
	dir     string
}

// New creates a workspace manager rooted under baseDir (os.TempDir when empty).
func New(baseDir string) *Workspace {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Workspace{baseDir: baseDir}
}

// Create creates the scratch directory.
func (w *Workspace) Create() error {
	dir := filepath.Join(w.baseDir, fmt.Sprintf("buildctl-%s", uuid.NewString()[:8]))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}
	w.dir = dir
	slog.Debug("Created workspace", logfields.Path(dir))
	return nil
}

// Path returns the path to the scratch directory.
func (w *Workspace) Path() string {
	return w.dir
}

// File returns the path of a named file inside the scratch directory.
func (w *Workspace) File(name string) string {
	return filepath.Join(w.dir, name)
}

// Cleanup removes the scratch directory. Safe to call when Create failed.
func (w *Workspace) Cleanup() error {
	if w.dir == "" {
		return nil
	}
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("failed to cleanup workspace: %w", err)
	}
	slog.Debug("Cleaned up workspace", logfields.Path(w.dir))
	w.dir = ""
	return nil
}
