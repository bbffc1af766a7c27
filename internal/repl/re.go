package repl

import (
	"fmt"
	"regexp"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// newReModule builds a regular-expression module mirroring the subset of
// the Python re API that model-generated analysis code actually uses:
// search, match, fullmatch, findall, sub, split, and compile, with match
// objects exposing group/groups/start/end/span. Patterns use RE2 syntax,
// which covers the common cases (character classes, captures, named
// groups) identically.
func newReModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "re",
		Members: starlark.StringDict{
			"compile":   starlark.NewBuiltin("re.compile", reCompile),
			"search":    starlark.NewBuiltin("re.search", reModuleFn((*rePattern).search)),
			"match":     starlark.NewBuiltin("re.match", reModuleFn((*rePattern).matchFn)),
			"fullmatch": starlark.NewBuiltin("re.fullmatch", reModuleFn((*rePattern).fullmatch)),
			"findall":   starlark.NewBuiltin("re.findall", reModuleFn((*rePattern).findall)),
			"sub":       starlark.NewBuiltin("re.sub", reSub),
			"split":     starlark.NewBuiltin("re.split", reSplit),
		},
	}
}

// rePattern is a compiled pattern. The anchored variants back match and
// fullmatch, which RE2 has no call-level flags for.
type rePattern struct {
	source string
	rx     *regexp.Regexp
	rxHead *regexp.Regexp // anchored at start
	rxFull *regexp.Regexp // anchored at both ends
}

func compilePattern(source string) (*rePattern, error) {
	rx, err := regexp.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %v", err)
	}
	rxHead, err := regexp.Compile(`\A(?:` + source + `)`)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %v", err)
	}
	rxFull, err := regexp.Compile(`\A(?:` + source + `)\z`)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %v", err)
	}
	return &rePattern{source: source, rx: rx, rxHead: rxHead, rxFull: rxFull}, nil
}

// asPattern accepts either a pattern string or an already compiled pattern.
func asPattern(v starlark.Value) (*rePattern, error) {
	switch v := v.(type) {
	case starlark.String:
		return compilePattern(string(v))
	case *rePattern:
		return v, nil
	default:
		return nil, fmt.Errorf("got %s, want pattern string or compiled pattern", v.Type())
	}
}

func (p *rePattern) String() string {
	return fmt.Sprintf("re.compile(%s)", starlark.String(p.source).String())
}
func (p *rePattern) Type() string          { return "re.pattern" }
func (p *rePattern) Freeze()               {}
func (p *rePattern) Truth() starlark.Bool  { return starlark.True }
func (p *rePattern) Hash() (uint32, error) { return starlark.String(p.source).Hash() }

var rePatternMethods = map[string]func(*rePattern, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error){
	"search":    (*rePattern).search,
	"match":     (*rePattern).matchFn,
	"fullmatch": (*rePattern).fullmatch,
	"findall":   (*rePattern).findall,
	"sub":       (*rePattern).subMethod,
	"split":     (*rePattern).splitMethod,
}

func (p *rePattern) Attr(name string) (starlark.Value, error) {
	if name == "pattern" {
		return starlark.String(p.source), nil
	}
	method, ok := rePatternMethods[name]
	if !ok {
		return nil, nil
	}
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return method(p, b, args, kwargs)
	}), nil
}

func (p *rePattern) AttrNames() []string {
	names := []string{"pattern"}
	for name := range rePatternMethods {
		names = append(names, name)
	}
	return names
}

// reModuleFn adapts a pattern method into a module-level function taking
// the pattern as its first argument.
func reModuleFn(method func(*rePattern, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("%s: missing pattern argument", b.Name())
		}
		p, err := asPattern(args[0])
		if err != nil {
			return nil, fmt.Errorf("%s: %v", b.Name(), err)
		}
		return method(p, b, args[1:], kwargs)
	}
}

func reCompile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var source string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &source); err != nil {
		return nil, err
	}
	p, err := compilePattern(source)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	return p, nil
}

func (p *rePattern) search(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return p.findWith(p.rx, b, args, kwargs)
}

func (p *rePattern) matchFn(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return p.findWith(p.rxHead, b, args, kwargs)
}

func (p *rePattern) fullmatch(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return p.findWith(p.rxFull, b, args, kwargs)
}

func (p *rePattern) findWith(rx *regexp.Regexp, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	loc := rx.FindStringSubmatchIndex(s)
	if loc == nil {
		return starlark.None, nil
	}
	return &reMatch{rx: rx, input: s, loc: loc}, nil
}

func (p *rePattern) findall(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	matches := p.rx.FindAllStringSubmatch(s, -1)
	results := make([]starlark.Value, 0, len(matches))
	for _, m := range matches {
		switch p.rx.NumSubexp() {
		case 0:
			results = append(results, starlark.String(m[0]))
		case 1:
			results = append(results, starlark.String(m[1]))
		default:
			groups := make(starlark.Tuple, 0, len(m)-1)
			for _, g := range m[1:] {
				groups = append(groups, starlark.String(g))
			}
			results = append(results, groups)
		}
	}
	return starlark.NewList(results), nil
}

func reSub(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern starlark.Value
	var repl, s string
	count := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "repl", &repl, "string", &s, "count?", &count); err != nil {
		return nil, err
	}
	p, err := asPattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	return p.sub(repl, s, count)
}

func (p *rePattern) subMethod(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var repl, s string
	count := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "repl", &repl, "string", &s, "count?", &count); err != nil {
		return nil, err
	}
	return p.sub(repl, s, count)
}

func (p *rePattern) sub(repl, s string, count int) (starlark.Value, error) {
	template := convertReplTemplate(repl)
	if count <= 0 {
		return starlark.String(p.rx.ReplaceAllString(s, template)), nil
	}
	locs := p.rx.FindAllStringSubmatchIndex(s, count)
	var out []byte
	last := 0
	for _, loc := range locs {
		out = append(out, s[last:loc[0]]...)
		out = p.rx.ExpandString(out, template, s, loc)
		last = loc[1]
	}
	out = append(out, s[last:]...)
	return starlark.String(out), nil
}

// convertReplTemplate rewrites Python backreference syntax (\1, \g<name>)
// into the ${...} form the RE2 expander understands, escaping literal
// dollar signs along the way.
func convertReplTemplate(repl string) string {
	var out strings.Builder
	for i := 0; i < len(repl); i++ {
		c := repl[i]
		switch {
		case c == '\\' && i+1 < len(repl) && repl[i+1] >= '0' && repl[i+1] <= '9':
			j := i + 1
			for j < len(repl) && repl[j] >= '0' && repl[j] <= '9' {
				j++
			}
			out.WriteString("${" + repl[i+1:j] + "}")
			i = j - 1
		case c == '\\' && i+2 < len(repl) && repl[i+1] == 'g' && repl[i+2] == '<':
			end := strings.IndexByte(repl[i+3:], '>')
			if end < 0 {
				out.WriteByte(c)
				continue
			}
			out.WriteString("${" + repl[i+3:i+3+end] + "}")
			i += 3 + end
		case c == '\\' && i+1 < len(repl) && repl[i+1] == '\\':
			out.WriteByte('\\')
			i++
		case c == '$':
			out.WriteString("$$")
		default:
			out.WriteByte(c)
		}
	}
	return out.String()
}

func reSplit(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern starlark.Value
	var s string
	maxsplit := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "string", &s, "maxsplit?", &maxsplit); err != nil {
		return nil, err
	}
	p, err := asPattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	return p.split(s, maxsplit)
}

func (p *rePattern) splitMethod(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	maxsplit := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "string", &s, "maxsplit?", &maxsplit); err != nil {
		return nil, err
	}
	return p.split(s, maxsplit)
}

func (p *rePattern) split(s string, maxsplit int) (starlark.Value, error) {
	n := -1
	if maxsplit > 0 {
		n = maxsplit + 1
	}
	parts := p.rx.Split(s, n)
	results := make([]starlark.Value, len(parts))
	for i, part := range parts {
		results[i] = starlark.String(part)
	}
	return starlark.NewList(results), nil
}

// reMatch is a successful match. loc holds pair indices as produced by
// FindStringSubmatchIndex; -1 marks a group that did not participate.
type reMatch struct {
	rx    *regexp.Regexp
	input string
	loc   []int
}

func (m *reMatch) String() string {
	return fmt.Sprintf("<re.match object; span=(%d, %d), match=%s>",
		m.loc[0], m.loc[1], starlark.String(m.input[m.loc[0]:m.loc[1]]).String())
}
func (m *reMatch) Type() string          { return "re.match" }
func (m *reMatch) Freeze()               {}
func (m *reMatch) Truth() starlark.Bool  { return starlark.True }
func (m *reMatch) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: re.match") }

func (m *reMatch) AttrNames() []string {
	return []string{"end", "group", "groups", "span", "start"}
}

func (m *reMatch) Attr(name string) (starlark.Value, error) {
	switch name {
	case "group":
		return m.method(name, m.group), nil
	case "groups":
		return m.method(name, m.groupsFn), nil
	case "start":
		return m.method(name, m.boundFn(0)), nil
	case "end":
		return m.method(name, m.boundFn(1)), nil
	case "span":
		return m.method(name, m.span), nil
	}
	return nil, nil
}

func (m *reMatch) method(name string, fn func(*starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return fn(b, args, kwargs)
	})
}

// groupIndex resolves a group reference: an integer index or a named group.
func (m *reMatch) groupIndex(b *starlark.Builtin, v starlark.Value) (int, error) {
	switch v := v.(type) {
	case starlark.Int:
		i, ok := v.Int64()
		if !ok || i < 0 || int(i)*2+1 >= len(m.loc) {
			return 0, fmt.Errorf("%s: no such group: %v", b.Name(), v)
		}
		return int(i), nil
	case starlark.String:
		i := m.rx.SubexpIndex(string(v))
		if i < 0 {
			return 0, fmt.Errorf("%s: no such group: %s", b.Name(), v.String())
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%s: got %s, want int or string", b.Name(), v.Type())
	}
}

func (m *reMatch) groupValue(i int) starlark.Value {
	start, end := m.loc[2*i], m.loc[2*i+1]
	if start < 0 {
		return starlark.None
	}
	return starlark.String(m.input[start:end])
}

func (m *reMatch) group(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var ref starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &ref); err != nil {
		return nil, err
	}
	i, err := m.groupIndex(b, ref)
	if err != nil {
		return nil, err
	}
	return m.groupValue(i), nil
}

func (m *reMatch) groupsFn(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	groups := make(starlark.Tuple, 0, len(m.loc)/2-1)
	for i := 1; i < len(m.loc)/2; i++ {
		groups = append(groups, m.groupValue(i))
	}
	return groups, nil
}

func (m *reMatch) boundFn(offset int) func(*starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var ref starlark.Value = starlark.MakeInt(0)
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &ref); err != nil {
			return nil, err
		}
		i, err := m.groupIndex(b, ref)
		if err != nil {
			return nil, err
		}
		return starlark.MakeInt(m.loc[2*i+offset]), nil
	}
}

func (m *reMatch) span(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var ref starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &ref); err != nil {
		return nil, err
	}
	i, err := m.groupIndex(b, ref)
	if err != nil {
		return nil, err
	}
	return starlark.Tuple{starlark.MakeInt(m.loc[2*i]), starlark.MakeInt(m.loc[2*i+1])}, nil
}
