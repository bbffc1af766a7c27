package repl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jkaninda/sanduku/internal/llm"
	"go.starlark.net/starlark"
)

// ctxLocalKey carries the per-evaluation context through the Starlark
// thread so blocking builtins (sleep, llm_query) observe cancellation.
const ctxLocalKey = "sanduku.context"

func threadContext(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(ctxLocalKey).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

// Capabilities denied by binding the name to a placeholder that fails when
// called. The evaluation dialect has no equivalent for most of these, but
// model-generated code habitually reaches for them; a clear in-band error
// beats an "undefined name" that invites retries with workarounds.
var deniedNames = []string{
	"eval",
	"exec",
	"compile",
	"open",
	"input",
	"globals",
	"locals",
	"__import__",
	"__builtins__",
}

func deniedBuiltin(name string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		return nil, fmt.Errorf("%s is not available in the sandbox", b.Name())
	})
}

// baseNamespace builds the session's fixed restricted namespace: file I/O
// scoped to the scratch directory by convention, denied placeholders, and
// the optional delegate-query capability. The language core (print, len,
// types) is predeclared by the interpreter and needs no entry here.
func (s *Session) baseNamespace() starlark.StringDict {
	g := starlark.StringDict{
		"read_file":  starlark.NewBuiltin("read_file", s.readFile),
		"write_file": starlark.NewBuiltin("write_file", s.writeFile),
		"list_dir":   starlark.NewBuiltin("list_dir", s.listDir),
	}
	for _, name := range deniedNames {
		g[name] = deniedBuiltin(name)
	}
	if s.provider != nil {
		g["llm_query"] = starlark.NewBuiltin("llm_query", s.llmQuery)
	}
	return g
}

// resolvePath interprets relative paths against the scratch directory.
// Absolute paths pass through unchanged; confinement is advisory.
func (s *Session) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.scratch, path)
}

func (s *Session) readFile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.resolvePath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	return starlark.String(data), nil
}

func (s *Session) writeFile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path, content string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &path, &content); err != nil {
		return nil, err
	}
	if err := os.WriteFile(s.resolvePath(path), []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	return starlark.None, nil
}

func (s *Session) listDir(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	path := "."
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &path); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.resolvePath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	names := make([]starlark.Value, 0, len(entries))
	for _, e := range entries {
		names = append(names, starlark.String(e.Name()))
	}
	return starlark.NewList(names), nil
}

// llmQuery sends a prompt to the delegate model and blocks until the reply
// arrives. Failures are returned as an in-band error string, never raised:
// the evaluated code reads errors the same way it reads answers.
func (s *Session) llmQuery(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var prompt string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "prompt", &prompt); err != nil {
		return nil, err
	}
	resp, err := s.provider.SendMessage(threadContext(thread), llm.UserPrompt(prompt))
	if err != nil {
		s.logger.Warn("delegate query failed", "provider", s.provider.Name(), "error", err)
		return starlark.String(fmt.Sprintf("llm_query error: %v", err)), nil
	}
	if resp.Content == "" {
		return starlark.String("llm_query error: empty response from delegate model"), nil
	}
	return starlark.String(resp.Content), nil
}
