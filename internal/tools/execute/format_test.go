package execute

import (
	"strings"
	"testing"
	"time"

	"go.starlark.net/starlark"

	"github.com/jkaninda/sanduku/internal/repl"
)

func TestFormatSections(t *testing.T) {
	res := &repl.Result{
		Stdout: "hello\n",
		Stderr: "Traceback (most recent call last):\n  boom\n",
		Vars: map[string]starlark.Value{
			"x":     starlark.MakeInt(42),
			"greet": starlark.String("hi"),
		},
		Duration: 1500 * time.Millisecond,
		Success:  false,
	}

	got := Format(res, 200)
	want := "Output:\nhello\n" +
		"\n\n" +
		"Errors:\nTraceback (most recent call last):\n  boom\n" +
		"\n\n" +
		"Variables:\n  greet = \"hi\"\n  x = 42" +
		"\n\n" +
		"Execution time: 1.500s"
	if got != want {
		t.Errorf("Format() =\n%s\nwant:\n%s", got, want)
	}
}

func TestFormatNoOutput(t *testing.T) {
	res := &repl.Result{Duration: 2 * time.Millisecond, Success: true}
	got := Format(res, 200)
	if !strings.HasPrefix(got, "Code executed successfully (no output)") {
		t.Errorf("Format() = %q, want no-output sentinel", got)
	}
	if !strings.HasSuffix(got, "Execution time: 0.002s") {
		t.Errorf("Format() = %q, want execution time suffix", got)
	}
}

func TestFormatVariableDisplayCap(t *testing.T) {
	res := &repl.Result{
		Vars: map[string]starlark.Value{
			"big": starlark.String(strings.Repeat("a", 500)),
		},
		Success: true,
	}

	got := Format(res, 10)
	if !strings.Contains(got, `  big = "aaaaaaaaa...`) {
		t.Errorf("Format() = %q, want capped variable display", got)
	}
	if strings.Contains(got, strings.Repeat("a", 11)) {
		t.Errorf("Format() leaked uncapped value:\n%s", got)
	}
}

func TestFormatWhitespaceOnlyStreams(t *testing.T) {
	res := &repl.Result{Stdout: "  \n", Stderr: "\t", Success: true}
	got := Format(res, 200)
	if strings.Contains(got, "Output:") || strings.Contains(got, "Errors:") {
		t.Errorf("Format() = %q, whitespace-only streams must be omitted", got)
	}
	if !strings.Contains(got, "Code executed successfully (no output)") {
		t.Errorf("Format() = %q, want sentinel", got)
	}
}

func TestFormatDeterministicVariableOrder(t *testing.T) {
	res := &repl.Result{
		Vars: map[string]starlark.Value{
			"z": starlark.MakeInt(1),
			"a": starlark.MakeInt(2),
			"m": starlark.MakeInt(3),
		},
		Success: true,
	}
	first := Format(res, 200)
	for i := 0; i < 10; i++ {
		if got := Format(res, 200); got != first {
			t.Fatalf("Format() not deterministic:\n%s\nvs\n%s", first, got)
		}
	}
	if strings.Index(first, "a = 2") > strings.Index(first, "m = 3") ||
		strings.Index(first, "m = 3") > strings.Index(first, "z = 1") {
		t.Errorf("Format() variables not sorted:\n%s", first)
	}
}
