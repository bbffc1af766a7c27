package repl

import (
	"fmt"
	"time"

	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// moduleCatalog is the controlled dynamic-import surface: the only modules
// reachable via import statements or load() from inside the sandbox.
func moduleCatalog() map[string]starlark.Value {
	return map[string]starlark.Value{
		"re":   newReModule(),
		"json": starlarkjson.Module,
		"math": starlarkmath.Module,
		"time": newTimeModule(),
	}
}

// newTimeModule wraps the standard Starlark time module with a sleep that
// accepts plain numeric seconds and honors evaluation cancellation.
func newTimeModule() *starlarkstruct.Module {
	members := make(starlark.StringDict, len(starlarktime.Module.Members)+1)
	for name, v := range starlarktime.Module.Members {
		members[name] = v
	}
	members["sleep"] = starlark.NewBuiltin("time.sleep", timeSleep)
	return &starlarkstruct.Module{Name: "time", Members: members}
}

func timeSleep(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	secs, ok := starlark.AsFloat(v)
	if !ok || secs < 0 {
		return nil, fmt.Errorf("%s: got %s, want non-negative number of seconds", b.Name(), v.Type())
	}
	t := time.NewTimer(time.Duration(secs * float64(time.Second)))
	defer t.Stop()
	select {
	case <-t.C:
		return starlark.None, nil
	case <-threadContext(thread).Done():
		return nil, threadContext(thread).Err()
	}
}

// load resolves load("module", ...) statements against the catalog,
// exposing the module under its own name.
func (s *Session) load(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	if v, ok := s.modules[module]; ok {
		return starlark.StringDict{module: v}, nil
	}
	return nil, fmt.Errorf("no module named %q", module)
}

// bindImports resolves peeled import statements into the shared namespace,
// so subsequent calls in the same session see the imported names. Every
// bound name is reserved: imported capabilities belong to the restricted
// set, not to the user's variable state.
func (s *Session) bindImports(specs []importSpec) error {
	for _, spec := range specs {
		mod, ok := s.modules[spec.module]
		if !ok {
			return fmt.Errorf("no module named %q", spec.module)
		}
		if spec.names == nil {
			name := spec.alias
			if name == "" {
				name = spec.module
			}
			s.globals[name] = mod
			s.reserved[name] = true
			continue
		}
		attrs, ok := mod.(starlark.HasAttrs)
		if !ok {
			return fmt.Errorf("cannot import names from %q", spec.module)
		}
		for _, n := range spec.names {
			v, err := attrs.Attr(n.name)
			if err != nil || v == nil {
				return fmt.Errorf("cannot import %q from %q", n.name, spec.module)
			}
			alias := n.alias
			if alias == "" {
				alias = n.name
			}
			s.globals[alias] = v
			s.reserved[alias] = true
		}
	}
	return nil
}
