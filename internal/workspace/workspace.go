// Package workspace manages the Sanduku runtime directory structure.
// All runtime state (scratch directories, execution history database, logs)
// is consolidated under a single workspace root, making Sanduku portable.
//
// Default workspace: ~/.sanduku/workspace (configurable via config or
// SANDUKU_WORKSPACE env var).
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Default workspace location relative to user home directory.
const defaultRelativePath = ".sanduku/workspace"

// Workspace manages all Sanduku runtime directories and derived paths.
type Workspace struct {
	Root string

	mu      sync.Mutex
	created map[string]bool // tracks which directories have been ensured
}

// New creates a Workspace rooted at the given path.
// It resolves ~ to the user's home directory and creates the root directory
// with appropriate permissions if it does not exist.
func New(root string) (*Workspace, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}

	w := &Workspace{
		Root:    resolved,
		created: make(map[string]bool),
	}

	if err := w.ensureDir(resolved, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	return w, nil
}

// Default creates a Workspace at ~/.sanduku/workspace.
func Default() (*Workspace, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	return New(filepath.Join(home, defaultRelativePath))
}

// ScratchDir returns <root>/scratch/. Parent directory for per-session
// scratch directories created by the REPL.
func (w *Workspace) ScratchDir() string {
	return w.dir("scratch", 0750)
}

// DataDir returns <root>/data/. Holds the execution history database.
func (w *Workspace) DataDir() string {
	return w.dir("data", 0750)
}

// LogsDir returns <root>/logs/.
func (w *Workspace) LogsDir() string {
	return w.dir("logs", 0750)
}

// DatabasePath returns the default SQLite database path under the data directory.
func (w *Workspace) DatabasePath() string {
	return filepath.Join(w.DataDir(), "sanduku.db")
}

// dir ensures the named subdirectory exists and returns its path.
func (w *Workspace) dir(name string, perm os.FileMode) string {
	path := filepath.Join(w.Root, name)
	if err := w.ensureDir(path, perm); err != nil {
		// Creation failures surface on first use of the path.
		return path
	}
	return path
}

func (w *Workspace) ensureDir(path string, perm os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.created[path] {
		return nil
	}
	if err := os.MkdirAll(path, perm); err != nil {
		return err
	}
	w.created[path] = true
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
