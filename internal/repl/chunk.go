package repl

import (
	"fmt"
	"strings"

	"go.starlark.net/syntax"
)

// importSpec is one binding requested by an import statement.
type importSpec struct {
	module string
	alias  string       // name the module is bound under; empty means module
	names  []importName // non-nil binds members instead of the module itself
}

type importName struct {
	name  string
	alias string // empty means name
}

// peelImports extracts Python-style import statements from a code fragment
// so they can be resolved against the module catalog before evaluation.
// Supported forms:
//
//	import re
//	import re, json
//	import time as t
//	from re import search as find
//
// Only unindented lines are considered. A statement following the import on
// the same line ("import re; m = ...") is kept in the remaining code. Line
// positions are preserved so error locations still point at the submitted
// fragment.
func peelImports(code string) (specs []importSpec, rest string, err error) {
	lines := strings.Split(code, "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		if !strings.HasPrefix(line, "import ") && !strings.HasPrefix(line, "from ") {
			kept = append(kept, line)
			continue
		}
		stmt, remainder := line, ""
		if i := strings.IndexByte(line, ';'); i >= 0 {
			stmt = line[:i]
			remainder = strings.TrimSpace(line[i+1:])
		}
		parsed, err := parseImportStmt(stmt)
		if err != nil {
			return nil, "", err
		}
		specs = append(specs, parsed...)
		kept = append(kept, remainder)
	}
	return specs, strings.Join(kept, "\n"), nil
}

func parseImportStmt(stmt string) ([]importSpec, error) {
	stmt = strings.TrimSpace(stmt)

	if rest, ok := strings.CutPrefix(stmt, "from "); ok {
		module, imports, ok := strings.Cut(rest, " import ")
		module = strings.TrimSpace(module)
		if !ok || module == "" {
			return nil, fmt.Errorf("invalid import statement: %q", stmt)
		}
		spec := importSpec{module: module}
		for _, part := range strings.Split(imports, ",") {
			name, alias, err := parseAsClause(part, stmt)
			if err != nil {
				return nil, err
			}
			spec.names = append(spec.names, importName{name: name, alias: alias})
		}
		return []importSpec{spec}, nil
	}

	rest, ok := strings.CutPrefix(stmt, "import ")
	if !ok {
		return nil, fmt.Errorf("invalid import statement: %q", stmt)
	}
	var specs []importSpec
	for _, part := range strings.Split(rest, ",") {
		module, alias, err := parseAsClause(part, stmt)
		if err != nil {
			return nil, err
		}
		specs = append(specs, importSpec{module: module, alias: alias})
	}
	return specs, nil
}

// parseAsClause parses "name" or "name as alias", returning (name, alias).
// The alias defaults to the name.
func parseAsClause(part, stmt string) (string, string, error) {
	fields := strings.Fields(part)
	switch len(fields) {
	case 1:
		return fields[0], fields[0], nil
	case 3:
		if fields[1] == "as" {
			return fields[0], fields[2], nil
		}
	}
	return "", "", fmt.Errorf("invalid import statement: %q", stmt)
}

// chunk is a parsed code fragment split for interactive-shell echo: prog is
// executed as statements, then expr (if any) is evaluated and its non-None
// value appended to captured output.
type chunk struct {
	prog *syntax.File
	expr syntax.Expr
}

// parseChunk parses src and, when the final top-level statement is a bare
// expression, splits it off for separate evaluation. Any ambiguity (the
// expression shares a line with another statement, or fails to re-parse on
// its own) falls back to executing the whole fragment as statements.
func parseChunk(src string) (*chunk, error) {
	f, err := replOpts.Parse(replFilename, src, 0)
	if err != nil {
		return nil, err
	}
	n := len(f.Stmts)
	if n == 0 {
		return &chunk{prog: f}, nil
	}
	es, ok := f.Stmts[n-1].(*syntax.ExprStmt)
	if !ok {
		return &chunk{prog: f}, nil
	}
	start, end := es.Span()
	if start.Col != 1 {
		return &chunk{prog: f}, nil
	}

	lines := strings.Split(src, "\n")
	if int(end.Line) > len(lines) {
		return &chunk{prog: f}, nil
	}
	exprText := strings.Join(lines[start.Line-1:end.Line], "\n")
	expr, err := replOpts.ParseExpr(replFilename, exprText, 0)
	if err != nil {
		return &chunk{prog: f}, nil
	}
	prog, err := replOpts.Parse(replFilename, strings.Join(lines[:start.Line-1], "\n"), 0)
	if err != nil {
		return &chunk{prog: f}, nil
	}
	return &chunk{prog: prog, expr: expr}, nil
}
