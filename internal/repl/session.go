package repl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jkaninda/sanduku/internal/llm"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Session is a stateful sandboxed evaluator for one logical analysis run.
// Variables bound by one Run call are visible to the next; the restricted
// namespace is fixed at construction. Evaluations are strictly serialized:
// a concurrent Run on the same session blocks until the previous one
// finishes. Sessions are never garbage-collected implicitly; callers own
// teardown via Close.
type Session struct {
	mu       sync.Mutex
	closed   bool
	globals  starlark.StringDict
	reserved map[string]bool
	modules  map[string]starlark.Value
	scratch  string
	cfg      Config
	provider llm.Provider
	logger   *slog.Logger
	active   atomic.Pointer[activeRun]
}

// activeRun lets Interrupt reach the evaluation in flight without taking
// the session lock (which that evaluation holds).
type activeRun struct {
	thread *starlark.Thread
	cancel context.CancelFunc
}

// NewSession creates the scratch directory, builds the restricted
// namespace, and materializes the analysis context. Context loading runs
// through the same evaluation path as user code, so it obeys the identical
// namespace restrictions.
func NewSession(opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ScratchRoot != "" {
		if err := os.MkdirAll(opts.ScratchRoot, 0o755); err != nil {
			return nil, fmt.Errorf("creating scratch root: %w", err)
		}
	}
	scratch, err := os.MkdirTemp(opts.ScratchRoot, "sanduku-repl-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	s := &Session{
		scratch:  scratch,
		cfg:      opts.Config.withDefaults(),
		provider: opts.Provider,
		logger:   logger,
		modules:  moduleCatalog(),
	}
	s.globals = s.baseNamespace()
	s.reserved = make(map[string]bool, len(s.globals))
	for name := range s.globals {
		s.reserved[name] = true
	}

	if err := s.materializeContext(opts); err != nil {
		os.RemoveAll(scratch)
		return nil, err
	}

	logger.Debug("sandbox session created", "scratch", scratch, "delegate", opts.Provider != nil)
	return s, nil
}

// materializeContext serializes the context payload to the scratch
// directory and loads it back under the reserved name `context` via a
// bootstrap fragment. Everything the bootstrap binds is marked reserved,
// keeping it out of user-variable snapshots.
func (s *Session) materializeContext(opts Options) error {
	var bootstrap string
	switch {
	case opts.ContextData != nil:
		blob, err := json.Marshal(opts.ContextData)
		if err != nil {
			return fmt.Errorf("serializing context payload: %w", err)
		}
		if err := os.WriteFile(filepath.Join(s.scratch, "context.json"), blob, 0o644); err != nil {
			return fmt.Errorf("writing context payload: %w", err)
		}
		bootstrap = "import json\ncontext = json.decode(read_file(\"context.json\"))"
	case opts.ContextText != "":
		if err := os.WriteFile(filepath.Join(s.scratch, "context.txt"), []byte(opts.ContextText), 0o644); err != nil {
			return fmt.Errorf("writing context payload: %w", err)
		}
		bootstrap = "context = read_file(\"context.txt\")"
	default:
		return nil
	}

	res, err := s.Run(context.Background(), bootstrap)
	if err != nil {
		return fmt.Errorf("loading context: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("loading context: %s", res.Stderr)
	}
	for name := range s.globals {
		s.reserved[name] = true
	}
	return nil
}

// Run evaluates one code fragment. Any fault inside the evaluated code is
// captured into the result, never returned as an error; Run errors only on
// contract violations such as use after Close. An empty fragment is a
// no-op producing an empty successful result.
func (s *Session) Run(ctx context.Context, code string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	start := time.Now()
	var out strings.Builder

	fail := func(msg string) (*Result, error) {
		stdout, cutOut := truncateOutput(out.String(), s.cfg.TruncateOutputChars)
		stderr, cutErr := truncateOutput(msg, s.cfg.TruncateOutputChars)
		return &Result{
			Stdout:    stdout,
			Stderr:    stderr,
			Vars:      s.snapshotVars(),
			Duration:  time.Since(start),
			Truncated: cutOut || cutErr,
		}, nil
	}

	specs, rest, err := peelImports(code)
	if err != nil {
		return fail(err.Error())
	}
	ch, err := parseChunk(rest)
	if err != nil {
		return fail(err.Error())
	}
	if err := s.bindImports(specs); err != nil {
		return fail(err.Error())
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	thread := &starlark.Thread{
		Name: "sanduku-repl",
		Print: func(_ *starlark.Thread, msg string) {
			out.WriteString(msg)
			out.WriteByte('\n')
		},
		Load: s.load,
	}
	thread.SetLocal(ctxLocalKey, runCtx)

	s.active.Store(&activeRun{thread: thread, cancel: cancel})
	defer s.active.Store(nil)

	// Starlark only observes cancellation at step boundaries; relay the
	// context so pure-compute loops stop too.
	watch := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			thread.Cancel(runCtx.Err().Error())
		case <-watch:
		}
	}()
	defer close(watch)

	if err := starlark.ExecREPLChunk(ch.prog, thread, s.globals); err != nil {
		return fail(evalErrorText(err))
	}
	if ch.expr != nil {
		v, err := starlark.EvalExprOptions(replOpts, thread, ch.expr, s.globals)
		if err != nil {
			return fail(evalErrorText(err))
		}
		if v != starlark.None {
			out.WriteString(v.String())
			out.WriteByte('\n')
		}
	}

	stdout, cut := truncateOutput(out.String(), s.cfg.TruncateOutputChars)
	return &Result{
		Stdout:    stdout,
		Vars:      s.snapshotVars(),
		Duration:  time.Since(start),
		Success:   true,
		Truncated: cut,
	}, nil
}

// Interrupt requests best-effort cancellation of the evaluation in flight,
// if any. The interrupted Run returns a failed result; variable mutations
// and file writes made before the interrupt are kept, not rolled back.
func (s *Session) Interrupt() {
	if ar := s.active.Load(); ar != nil {
		ar.thread.Cancel("interrupted")
		ar.cancel()
	}
}

// Close tears the session down, removing the scratch directory. Removal
// failures are logged and swallowed. Close blocks until any in-flight
// evaluation releases the session lock; call Interrupt first to hurry it.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := os.RemoveAll(s.scratch); err != nil {
		s.logger.Warn("removing scratch directory", "scratch", s.scratch, "error", err)
	}
	s.logger.Debug("sandbox session closed", "scratch", s.scratch)
	return nil
}

// ScratchDir returns the session's private scratch directory.
func (s *Session) ScratchDir() string { return s.scratch }

// Config returns the evaluation configuration the session was built with.
func (s *Session) Config() Config { return s.cfg }

// snapshotVars copies the user-visible variable store: everything bound at
// top level minus reserved names, underscore-prefixed names, and modules.
func (s *Session) snapshotVars() map[string]starlark.Value {
	vars := make(map[string]starlark.Value)
	for name, v := range s.globals {
		if s.reserved[name] || strings.HasPrefix(name, "_") {
			continue
		}
		if _, isModule := v.(*starlarkstruct.Module); isModule {
			continue
		}
		vars[name] = v
	}
	return vars
}

func evalErrorText(err error) string {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return evalErr.Backtrace()
	}
	return err.Error()
}
