// Package repl implements the sandboxed, stateful script-execution core of
// Sanduku. A Session owns a restricted Starlark namespace, a persistent
// variable store, and a private scratch directory, and evaluates submitted
// code fragments one at a time, carrying state across calls the way an
// interactive shell does.
//
// The sandbox boundary is advisory: capabilities are controlled by which
// names are reachable from the evaluated code, not by OS-level isolation.
package repl

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jkaninda/sanduku/internal/llm"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// ErrSessionClosed is returned by Run after Close has been called.
// This is a programming-contract violation, not an evaluation failure.
var ErrSessionClosed = errors.New("repl: session is closed")

// Evaluation defaults, applied where Config fields are zero.
const (
	DefaultTimeout             = 60 * time.Second
	DefaultTruncateOutputChars = 50_000
	DefaultMaxVarDisplayChars  = 200
)

// Config bounds a session's evaluations. Immutable after construction.
type Config struct {
	// Timeout is the wall-clock deadline a caller should impose per
	// evaluation. The session itself honors the context passed to Run;
	// this value is carried so dispatch layers agree on the deadline.
	Timeout time.Duration

	// TruncateOutputChars caps captured output, counted in characters
	// (runes), not bytes.
	TruncateOutputChars int

	// MaxVarDisplayChars caps each variable's rendered value when a
	// result is formatted for a model to read.
	MaxVarDisplayChars int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.TruncateOutputChars <= 0 {
		c.TruncateOutputChars = DefaultTruncateOutputChars
	}
	if c.MaxVarDisplayChars <= 0 {
		c.MaxVarDisplayChars = DefaultMaxVarDisplayChars
	}
	return c
}

// Options configures a new Session.
type Options struct {
	// ContextText, when non-empty, is written verbatim to the scratch
	// directory and loaded into the namespace as the variable `context`.
	ContextText string

	// ContextData, when non-nil, is serialized as JSON to the scratch
	// directory and decoded back into `context`. Takes precedence over
	// ContextText.
	ContextData any

	// Provider, when non-nil, enables the llm_query capability inside
	// the sandbox for delegating semantic sub-analysis.
	Provider llm.Provider

	// ScratchRoot is the parent directory for the session's scratch
	// directory. Empty means the OS temp directory.
	ScratchRoot string

	Config Config
	Logger *slog.Logger
}

// Result is the immutable outcome of one Run call. Evaluation failures are
// data: they land in Stderr with Success=false, they are never returned as
// Go errors.
type Result struct {
	Stdout    string
	Stderr    string
	Vars      map[string]starlark.Value
	Duration  time.Duration
	Success   bool
	Truncated bool
}

// replOpts enables the non-core syntax an interactive workload needs:
// top-level control flow, reassignment of module-level bindings across
// chunks, while loops, sets, and recursion.
var replOpts = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

const replFilename = "<repl>"

const truncationMarker = "\n... (output truncated)"

// truncateOutput caps s at limit characters, appending a marker if cut.
func truncateOutput(s string, limit int) (string, bool) {
	if limit <= 0 {
		return s, false
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s, false
	}
	return string(runes[:limit]) + truncationMarker, true
}
