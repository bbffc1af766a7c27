package execute

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jkaninda/sanduku/internal/repl"
)

// Format renders an execution result as a bounded textual report for the
// calling model: captured output, captured errors, produced variables with
// per-value display caps, and the elapsed time, in that order. Purely
// presentational; deterministic for identical inputs.
func Format(res *repl.Result, maxVarDisplay int) string {
	if maxVarDisplay <= 0 {
		maxVarDisplay = repl.DefaultMaxVarDisplayChars
	}

	var parts []string

	if strings.TrimSpace(res.Stdout) != "" {
		parts = append(parts, "Output:\n"+res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "" {
		parts = append(parts, "Errors:\n"+res.Stderr)
	}

	if len(res.Vars) > 0 {
		names := make([]string, 0, len(res.Vars))
		for name := range res.Vars {
			names = append(names, name)
		}
		sort.Strings(names)

		lines := make([]string, 0, len(names))
		for _, name := range names {
			display := res.Vars[name].String()
			if runes := []rune(display); len(runes) > maxVarDisplay {
				display = string(runes[:maxVarDisplay]) + "..."
			}
			lines = append(lines, fmt.Sprintf("  %s = %s", name, display))
		}
		parts = append(parts, "Variables:\n"+strings.Join(lines, "\n"))
	}

	if len(parts) == 0 {
		parts = append(parts, "Code executed successfully (no output)")
	}
	parts = append(parts, fmt.Sprintf("Execution time: %.3fs", res.Duration.Seconds()))

	return strings.Join(parts, "\n\n")
}
