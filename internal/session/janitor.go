package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// scratchPrefix matches the directories repl sessions create.
const scratchPrefix = "sanduku-repl-"

// Janitor periodically removes orphaned scratch directories: leftovers
// from crashed processes, or from hosts that never called TeardownAll.
// Directories belonging to live sessions are never touched, and only
// directories older than MaxAge are removed, so a scratch directory
// created by a concurrent process right before a sweep survives it.
type Janitor struct {
	registry *Registry
	root     string
	maxAge   time.Duration
	logger   *slog.Logger
	cron     *cron.Cron
}

// NewJanitor schedules a sweep of root on the given cron expression
// (standard five-field syntax).
func NewJanitor(registry *Registry, root, schedule string, maxAge time.Duration, logger *slog.Logger) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{
		registry: registry,
		root:     root,
		maxAge:   maxAge,
		logger:   logger,
		cron:     cron.New(),
	}
	if _, err := j.cron.AddFunc(schedule, j.Sweep); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins sweeping in the background.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("scratch janitor started", "root", j.root, "max_age", j.maxAge.String())
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("scratch janitor stopped")
}

// Sweep removes orphaned scratch directories once. Exported so hosts can
// run an immediate sweep at startup before the first scheduled one.
func (j *Janitor) Sweep() {
	entries, err := os.ReadDir(j.root)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Warn("janitor sweep failed", "root", j.root, "error", err)
		}
		return
	}

	live := make(map[string]bool)
	for _, dir := range j.registry.ScratchDirs() {
		live[dir] = true
	}

	cutoff := time.Now().Add(-j.maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), scratchPrefix) {
			continue
		}
		path := filepath.Join(j.root, e.Name())
		if live[path] {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("removing orphaned scratch directory", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		j.logger.Info("orphaned scratch directories removed", "count", removed)
	}
}
