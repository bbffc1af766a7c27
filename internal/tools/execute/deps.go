package execute

import (
	"errors"

	"github.com/google/uuid"

	"github.com/jkaninda/sanduku/internal/llm"
	"github.com/jkaninda/sanduku/internal/repl"
)

// Deps is a run's dependency bundle: the analysis context, the evaluation
// configuration, and the optional delegate provider. The bundle's identity
// keys the session registry — two structurally equal bundles are still two
// distinct runs and get distinct sessions. Construct one bundle per
// logical run and reuse the pointer for every call in that run.
type Deps struct {
	// ID identifies the run in logs and execution history.
	// Assigned by NewDeps.
	ID string

	// ContextText is the analysis payload for plain-text contexts.
	ContextText string

	// ContextData is the analysis payload for structured contexts.
	// Takes precedence over ContextText.
	ContextData any

	// Config bounds evaluations in this run's session. Zero-valued
	// limits select the repl package defaults.
	Config repl.Config

	// Provider, when non-nil, enables llm_query inside the sandbox.
	Provider llm.Provider
}

// ErrNoContext is returned when a bundle carries no analysis payload.
var ErrNoContext = errors.New("execute: analysis context is required")

// NewDeps validates a bundle and assigns its run ID. Configuration errors
// are fatal here, at construction, never swallowed into tool output.
func NewDeps(d Deps) (*Deps, error) {
	if d.ContextData == nil && d.ContextText == "" {
		return nil, ErrNoContext
	}
	if d.Config.Timeout < 0 {
		return nil, errors.New("execute: timeout must not be negative")
	}
	if d.Config.TruncateOutputChars < 0 {
		return nil, errors.New("execute: output truncation limit must not be negative")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return &d, nil
}
