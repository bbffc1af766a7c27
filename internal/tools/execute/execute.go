// Package execute implements the execute_code tool: the single operation
// an agent framework invokes to run code in a sandboxed, stateful session.
// Every failure mode — evaluation errors, timeouts, session-creation
// failures — becomes a text answer, never an error across the tool
// boundary, because the consumer is a language model.
package execute

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/sanduku/internal/observability"
	"github.com/jkaninda/sanduku/internal/repl"
	"github.com/jkaninda/sanduku/internal/session"
	"github.com/jkaninda/sanduku/internal/storage"
	"github.com/jkaninda/sanduku/internal/tools"
)

// Name is the tool identifier exposed to agent frameworks.
const Name = "execute_code"

const description = `Execute code in a sandboxed, stateful REPL environment.

## Environment
- A ` + "`context`" + ` variable is pre-loaded with the data to analyze
- Variables persist between executions within the same session
- Modules available via import: json, re, math, time
- Use print() to display output; the value of a trailing bare expression is echoed automatically
- read_file(path), write_file(path, content) and list_dir() operate on a private scratch directory

## When to Use
- Analyzing or processing structured data (dicts, lists, large text)
- Performing calculations or data transformations
- Extracting specific information from large datasets

## Best Practices
1. Start by exploring the context: print(type(context)), print(len(context))
2. Break complex operations into smaller steps
3. Use print() liberally to understand intermediate results

## Available Functions
- llm_query(prompt): query a delegate model for semantic analysis of a
  chunk (if configured). Use it only after you have explored the context
  and identified specific sections that need semantic understanding.

## Example
` + "```" + `
import re
numbers = re.findall(r'\d+', context)
print(len(numbers))
` + "```"

// Tool dispatches execute_code calls: it resolves the run's session via
// the registry, runs the code under a wall-clock deadline, and formats the
// result. Safe for concurrent use by different runs; calls within one run
// are serialized by the session.
type Tool struct {
	sessions    *session.Registry
	logger      *slog.Logger
	metrics     *observability.MetricsCollector
	tracer      trace.Tracer
	history     storage.ExecutionStore
	scratchRoot string
}

// Option configures a Tool.
type Option func(*Tool)

// WithObservability attaches metrics and tracing.
func WithObservability(m *observability.MetricsCollector, ts *observability.TracerSetup) Option {
	return func(t *Tool) {
		t.metrics = m
		if ts != nil {
			t.tracer = ts.Tracer()
		}
	}
}

// WithHistory persists every completed execution.
func WithHistory(store storage.ExecutionStore) Option {
	return func(t *Tool) { t.history = store }
}

// WithScratchRoot places session scratch directories under dir instead of
// the OS temp directory.
func WithScratchRoot(dir string) Option {
	return func(t *Tool) { t.scratchRoot = dir }
}

// New creates the tool. The registry is shared state: the caller owns its
// teardown when runs complete.
func New(sessions *session.Registry, logger *slog.Logger, opts ...Option) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tool{sessions: sessions, logger: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ExecuteCode runs one code fragment in the session belonging to deps,
// creating the session (and materializing the context) on first call.
// The returned string is always readable by a model: a formatted result,
// a timeout message, or an error message.
func (t *Tool) ExecuteCode(ctx context.Context, deps *Deps, code string) string {
	if t.tracer != nil {
		var span trace.Span
		ctx, span = t.tracer.Start(ctx, "tool.execute_code",
			trace.WithAttributes(
				attribute.String("run.id", deps.ID),
				attribute.Int("code.chars", len(code)),
			))
		defer span.End()
	}

	if err := ctx.Err(); err != nil {
		return fmt.Sprintf("Error executing code: %v", err)
	}

	sess, created, err := t.sessions.GetOrCreate(deps, func() (*repl.Session, error) {
		return repl.NewSession(repl.Options{
			ContextText: deps.ContextText,
			ContextData: deps.ContextData,
			Provider:    deps.Provider,
			Config:      deps.Config,
			ScratchRoot: t.scratchRoot,
			Logger:      t.logger,
		})
	})
	if err != nil {
		t.logger.Error("creating sandbox session", "run_id", deps.ID, "error", err)
		return fmt.Sprintf("Error executing code: %v", err)
	}
	if created && t.metrics != nil {
		t.metrics.SessionsCreatedTotal.Inc()
		t.metrics.SessionsActive.Set(float64(t.sessions.Len()))
	}

	timeout := sess.Config().Timeout
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *repl.Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := sess.Run(runCtx, code)
		ch <- outcome{res, err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			t.logger.Error("sandbox run failed", "run_id", deps.ID, "error", out.err)
			return fmt.Sprintf("Error executing code: %v", out.err)
		}
		t.observe(out.res)
		t.record(deps, code, out.res)
		return Format(out.res, sess.Config().MaxVarDisplayChars)

	case <-runCtx.Done():
		// Best-effort cancellation: the evaluation may keep running in
		// the background, and state it mutates before stopping remains
		// visible to subsequent calls.
		sess.Interrupt()
		if ctx.Err() != nil {
			return fmt.Sprintf("Error executing code: %v", ctx.Err())
		}
		if t.metrics != nil {
			t.metrics.SandboxExecutionsTotal.WithLabelValues("timeout").Inc()
		}
		t.logger.Warn("sandbox run timed out", "run_id", deps.ID, "timeout", timeout.String())
		return fmt.Sprintf("Error: Code execution timed out after %g seconds.", timeout.Seconds())
	}
}

func (t *Tool) observe(res *repl.Result) {
	if t.metrics == nil {
		return
	}
	status := "success"
	if !res.Success {
		status = "error"
	}
	t.metrics.SandboxExecutionsTotal.WithLabelValues(status).Inc()
	t.metrics.SandboxExecutionDuration.Observe(res.Duration.Seconds())
	if res.Truncated {
		t.metrics.OutputTruncatedTotal.Inc()
	}
}

// record persists the execution on a detached context so a cancelled call
// still gets its history written.
func (t *Tool) record(deps *Deps, code string, res *repl.Result) {
	if t.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := t.history.Save(ctx, &storage.ExecutionRecord{
		SessionID:  deps.ID,
		Code:       code,
		Output:     res.Stdout,
		Errors:     res.Stderr,
		DurationMs: res.Duration.Milliseconds(),
		Success:    res.Success,
		Truncated:  res.Truncated,
	})
	if err != nil {
		t.logger.Warn("recording execution history", "run_id", deps.ID, "error", err)
	}
}

// Interrupt requests best-effort cancellation of the evaluation currently
// in flight for deps, if any. The interrupted call still returns a
// formatted result; residual state is kept.
func (t *Tool) Interrupt(deps *Deps) {
	if sess := t.sessions.Get(deps); sess != nil {
		sess.Interrupt()
	}
}

// Teardown closes the session belonging to deps, if one exists.
func (t *Tool) Teardown(deps *Deps) {
	t.sessions.Remove(deps)
	if t.metrics != nil {
		t.metrics.SessionsActive.Set(float64(t.sessions.Len()))
	}
}

// Bound adapts the tool to the tools.Tool interface for one run, so agent
// frameworks and the MCP server see a single callable.
type Bound struct {
	tool *Tool
	deps *Deps
}

// Bind couples the tool with a run's dependency bundle.
func (t *Tool) Bind(deps *Deps) *Bound {
	return &Bound{tool: t, deps: deps}
}

func (b *Bound) Name() string        { return Name }
func (b *Bound) Description() string { return description }

func (b *Bound) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{
				"type":        "string",
				"description": "The code to execute in the session.",
			},
		},
		"required": []string{"code"},
	}
}

func (b *Bound) Validate(params map[string]any) error {
	if _, ok := params["code"].(string); !ok {
		return fmt.Errorf("%s: parameter %q must be a string", Name, "code")
	}
	return nil
}

func (b *Bound) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	if err := b.Validate(params); err != nil {
		return nil, err
	}
	code := params["code"].(string)
	output := b.tool.ExecuteCode(ctx, b.deps, code)
	return &tools.Result{
		Output:   output,
		Success:  true,
		Metadata: map[string]any{"run_id": b.deps.ID},
	}, nil
}

var _ tools.Tool = (*Bound)(nil)
