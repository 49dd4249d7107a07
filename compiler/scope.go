package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"
)

// GlobalsProvider supplies the bindings visible to every fragment that
// originates from one file. It is called at most once per scope key per
// compilation; env exposes the scopes built so far, which is how one
// file's exports become visible to another file's require.
type GlobalsProvider func(key string, env *Env) (starlark.StringDict, error)

// Env is the per-compilation table of file scopes and loaded modules.
// Access is single-threaded; construction of a scope happens at most
// once even when the scope is referenced from several containers.
type Env struct {
	provider GlobalsProvider
	scopes   map[string]*Scope
	modules  map[string]*Namespace // require()d .star files, by cleaned path
}

func newEnv(p GlobalsProvider) *Env {
	return &Env{
		provider: p,
		scopes:   make(map[string]*Scope),
		modules:  make(map[string]*Namespace),
	}
}

// Scope is one file's lazily built binding set.
type Scope struct {
	Key     string
	Exports *Namespace // nil when the provider binds no "exports"

	names    []string // sorted binding names, fixed at construction
	bindings starlark.StringDict
}

// Scope returns the binding set for key, building it on first use.
func (e *Env) Scope(key string) (*Scope, error) {
	if s, ok := e.scopes[key]; ok {
		return s, nil
	}
	dict, err := e.provider(key, e)
	if err != nil {
		return nil, fmt.Errorf("globals for %s: %w", key, err)
	}
	s := &Scope{Key: key, names: dict.Keys(), bindings: dict}
	if x, ok := dict["exports"].(*Namespace); ok {
		s.Exports = x
	}
	e.scopes[key] = s
	return s, nil
}

// Require resolves path relative to the directory of fromKey and returns
// the target's bindings: the exports of a file already part of the
// document, or the globals of a Starlark module loaded from disk
// (executed at most once per compilation).
func (e *Env) Require(fromKey, path string) (starlark.Value, error) {
	target := path
	if !filepath.IsAbs(path) {
		target = filepath.Join(filepath.Dir(fromKey), path)
	}
	target = filepath.Clean(target)

	if s, ok := e.scopes[target]; ok && s.Exports != nil {
		return s.Exports, nil
	}
	if m, ok := e.modules[target]; ok {
		return m, nil
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("require: cannot resolve %q from %s", path, fromKey)
	}
	thread := &starlark.Thread{Name: "require " + target}
	globals, err := starlark.ExecFile(thread, target, data, nil)
	if err != nil {
		return nil, fmt.Errorf("require %q: %w", path, err)
	}
	ns := NewNamespace(filepath.Base(target))
	for name, v := range globals {
		if !strings.HasPrefix(name, "_") {
			ns.Set(name, v)
		}
	}
	ns.Freeze()
	e.modules[target] = ns
	return ns, nil
}

// DefaultGlobals is the standard provider: a mutable exports namespace,
// a module namespace holding it, and a require function resolving
// relative to the scope's own file.
func DefaultGlobals(key string, env *Env) (starlark.StringDict, error) {
	exports := NewNamespace("exports")
	module := NewNamespace("module")
	module.Set("exports", exports)

	req := starlark.NewBuiltin("require", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		if err := starlark.UnpackPositionalArgs("require", args, kwargs, 1, &path); err != nil {
			return nil, err
		}
		return env.Require(key, path)
	})

	return starlark.StringDict{
		"exports": exports,
		"module":  module,
		"require": req,
	}, nil
}
