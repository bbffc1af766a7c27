package execute

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jkaninda/sanduku/internal/repl"
	"github.com/jkaninda/sanduku/internal/session"
	"github.com/jkaninda/sanduku/internal/storage"
)

func testTool(t *testing.T, opts ...Option) *Tool {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewRegistry(logger)
	t.Cleanup(sessions.TeardownAll)
	opts = append(opts, WithScratchRoot(t.TempDir()))
	return New(sessions, logger, opts...)
}

func testDeps(t *testing.T, d Deps) *Deps {
	t.Helper()
	deps, err := NewDeps(d)
	if err != nil {
		t.Fatalf("NewDeps() error: %v", err)
	}
	return deps
}

func TestNewDepsRequiresContext(t *testing.T) {
	if _, err := NewDeps(Deps{}); err != ErrNoContext {
		t.Errorf("NewDeps(empty) error = %v, want ErrNoContext", err)
	}
}

func TestNewDepsAssignsID(t *testing.T) {
	a := testDeps(t, Deps{ContextText: "data"})
	b := testDeps(t, Deps{ContextText: "data"})
	if a.ID == "" || b.ID == "" {
		t.Fatal("NewDeps() left ID empty")
	}
	if a.ID == b.ID {
		t.Errorf("NewDeps() reused ID %q across bundles", a.ID)
	}
}

func TestNewDepsRejectsNegativeLimits(t *testing.T) {
	if _, err := NewDeps(Deps{ContextText: "x", Config: repl.Config{Timeout: -time.Second}}); err == nil {
		t.Error("NewDeps() accepted negative timeout")
	}
	if _, err := NewDeps(Deps{ContextText: "x", Config: repl.Config{TruncateOutputChars: -1}}); err == nil {
		t.Error("NewDeps() accepted negative truncation limit")
	}
	// Zero limits mean "use the defaults" and must pass validation.
	if _, err := NewDeps(Deps{ContextText: "x"}); err != nil {
		t.Errorf("NewDeps() rejected zero-valued config: %v", err)
	}
}

func TestExecuteCodeStatePersistsAcrossCalls(t *testing.T) {
	tool := testTool(t)
	deps := testDeps(t, Deps{ContextText: "irrelevant"})

	out := tool.ExecuteCode(context.Background(), deps, "x = 41 + 1")
	if strings.Contains(out, "Errors:") {
		t.Fatalf("first call failed:\n%s", out)
	}

	out = tool.ExecuteCode(context.Background(), deps, "print(x)")
	if !strings.Contains(out, "Output:\n42") {
		t.Errorf("second call output:\n%s\nwant x from first call", out)
	}
}

func TestExecuteCodeContextExtraction(t *testing.T) {
	tool := testTool(t)
	deps := testDeps(t, Deps{ContextText: "header\nMAGIC=42\nfooter"})

	code := "import re\n" +
		"m = re.search(r'MAGIC=(\\d+)', context)\n" +
		"print(m.group(1))\n"
	out := tool.ExecuteCode(context.Background(), deps, code)
	if !strings.Contains(out, "Output:\n42") {
		t.Errorf("ExecuteCode() =\n%s\nwant extracted value 42", out)
	}
}

func TestExecuteCodeTimeout(t *testing.T) {
	tool := testTool(t)
	deps := testDeps(t, Deps{
		ContextText: "data",
		Config:      repl.Config{Timeout: 10 * time.Millisecond},
	})

	start := time.Now()
	out := tool.ExecuteCode(context.Background(), deps, "import time\ntime.sleep(5)")
	elapsed := time.Since(start)

	want := "Error: Code execution timed out after 0.01 seconds."
	if out != want {
		t.Errorf("ExecuteCode() = %q, want %q", out, want)
	}
	if elapsed > time.Second {
		t.Errorf("timeout took %v, want well under the sleep duration", elapsed)
	}

	// The session survives a timeout and keeps serving calls.
	out = tool.ExecuteCode(context.Background(), deps, "print('alive')")
	if !strings.Contains(out, "alive") {
		t.Errorf("session dead after timeout:\n%s", out)
	}
}

func TestExecuteCodeCallerCancellation(t *testing.T) {
	tool := testTool(t)
	deps := testDeps(t, Deps{ContextText: "data"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := tool.ExecuteCode(ctx, deps, "x = 1")
	if !strings.HasPrefix(out, "Error executing code:") {
		t.Errorf("ExecuteCode(cancelled ctx) = %q, want execution error text", out)
	}
}

func TestExecuteCodeEvaluationErrorIsText(t *testing.T) {
	tool := testTool(t)
	deps := testDeps(t, Deps{ContextText: "data"})

	out := tool.ExecuteCode(context.Background(), deps, "undefined_name")
	if !strings.Contains(out, "Errors:") {
		t.Errorf("ExecuteCode() =\n%s\nwant Errors section for failed evaluation", out)
	}
	if !strings.Contains(out, "Execution time:") {
		t.Errorf("ExecuteCode() =\n%s\nwant timing even on failure", out)
	}
}

func TestExecuteCodeSessionsIsolatedPerDeps(t *testing.T) {
	tool := testTool(t)
	a := testDeps(t, Deps{ContextText: "data"})
	b := testDeps(t, Deps{ContextText: "data"})

	tool.ExecuteCode(context.Background(), a, "secret = 7")
	out := tool.ExecuteCode(context.Background(), b, "print(secret)")
	if !strings.Contains(out, "Errors:") {
		t.Errorf("variable leaked across runs:\n%s", out)
	}
}

func TestTeardownRemovesSession(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewRegistry(logger)
	tool := New(sessions, logger, WithScratchRoot(t.TempDir()))
	deps := testDeps(t, Deps{ContextText: "data"})

	tool.ExecuteCode(context.Background(), deps, "x = 1")
	if sessions.Len() != 1 {
		t.Fatalf("registry has %d sessions, want 1", sessions.Len())
	}
	tool.Teardown(deps)
	if sessions.Len() != 0 {
		t.Errorf("registry has %d sessions after teardown, want 0", sessions.Len())
	}
}

type memoryStore struct {
	mu      sync.Mutex
	records []*storage.ExecutionRecord
}

func (m *memoryStore) Save(_ context.Context, rec *storage.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryStore) ListBySession(_ context.Context, sessionID string, limit int) ([]storage.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ExecutionRecord
	for _, rec := range m.records {
		if rec.SessionID == sessionID {
			out = append(out, *rec)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func TestExecuteCodeRecordsHistory(t *testing.T) {
	store := &memoryStore{}
	tool := testTool(t, WithHistory(store))
	deps := testDeps(t, Deps{ContextText: "data"})

	tool.ExecuteCode(context.Background(), deps, "print('recorded')")

	recs, err := store.ListBySession(context.Background(), deps.ID, 0)
	if err != nil {
		t.Fatalf("ListBySession() error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d history records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Code != "print('recorded')" {
		t.Errorf("recorded code = %q", rec.Code)
	}
	if !rec.Success || !strings.Contains(rec.Output, "recorded") {
		t.Errorf("record = %+v, want successful output capture", rec)
	}
}

func TestBoundToolContract(t *testing.T) {
	tool := testTool(t)
	deps := testDeps(t, Deps{ContextText: "data"})
	bound := tool.Bind(deps)

	if bound.Name() != "execute_code" {
		t.Errorf("Name() = %q", bound.Name())
	}
	if bound.Description() == "" {
		t.Error("Description() is empty")
	}
	schema := bound.InputSchema()
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("InputSchema() missing properties: %v", schema)
	}
	if _, ok := props["code"]; !ok {
		t.Error("InputSchema() missing code property")
	}

	if err := bound.Validate(map[string]any{}); err == nil {
		t.Error("Validate() accepted missing code")
	}
	if err := bound.Validate(map[string]any{"code": 42}); err == nil {
		t.Error("Validate() accepted non-string code")
	}

	res, err := bound.Execute(context.Background(), map[string]any{"code": "print(1 + 1)"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !res.Success || !strings.Contains(res.Output, "2") {
		t.Errorf("Execute() result = %+v", res)
	}
}
