// Package session tracks live sandbox sessions across concurrent analysis
// runs and owns their bulk teardown.
package session

import (
	"log/slog"
	"sync"

	"github.com/jkaninda/sanduku/internal/repl"
)

// Registry maps opaque session keys to sandbox sessions. Keys distinguish
// runs by identity, not value: callers derive them from the identity of
// their dependency bundle (typically a pointer), so two structurally equal
// bundles still get distinct sessions.
//
// The registry never expires or evicts sessions on its own; a host that
// skips TeardownAll leaks scratch directories and memory.
type Registry struct {
	mu       sync.Mutex
	sessions map[any]*repl.Session
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[any]*repl.Session),
		logger:   logger,
	}
}

// GetOrCreate returns the session for key, creating it with create on
// first use. Creation is idempotent per key: a second caller with the same
// key gets the existing session without the context being re-materialized.
// The registry lock is held across create, so concurrent first calls for
// the same key cannot race; creation for distinct keys is serialized too,
// which keeps the semantics simple at the cost of some startup parallelism.
func (r *Registry) GetOrCreate(key any, create func() (*repl.Session, error)) (*repl.Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		return s, false, nil
	}
	s, err := create()
	if err != nil {
		return nil, false, err
	}
	r.sessions[key] = s
	r.logger.Debug("sandbox session registered", "sessions", len(r.sessions))
	return s, true, nil
}

// Get returns the session for key, or nil if none exists.
func (r *Registry) Get(key any) *repl.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[key]
}

// Remove tears down the session for key, if any. The removal happens
// before the (possibly blocking) close so other callers stop observing
// the session immediately.
func (r *Registry) Remove(key any) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	if ok {
		s.Interrupt()
		s.Close()
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ScratchDirs lists the scratch directories of all live sessions.
func (r *Registry) ScratchDirs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	dirs := make([]string, 0, len(r.sessions))
	for _, s := range r.sessions {
		dirs = append(dirs, s.ScratchDir())
	}
	return dirs
}

// TeardownAll interrupts and closes every live session and empties the
// registry. Callers invoke it when a logical run (or the host process)
// ends.
func (r *Registry) TeardownAll() {
	r.mu.Lock()
	sessions := make([]*repl.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[any]*repl.Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Interrupt()
	}
	for _, s := range sessions {
		s.Close()
	}
	if len(sessions) > 0 {
		r.logger.Info("sandbox sessions torn down", "count", len(sessions))
	}
}
