package compiler

import (
	"errors"
	"fmt"
	"os"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/starcss/starcss/ast"
)

// Run executes the synthesized program and, on success, replaces the
// document's children with the interpreted result. On failure the tree
// is left as-is (possibly partially replaced is never the case here,
// since replacement happens only after the program completes) and a
// positioned error is returned.
func (c *Compiled) Run() error {
	eng := newEngine(c)
	thread := &starlark.Thread{
		Name:  "starcss " + c.file,
		Print: func(_ *starlark.Thread, msg string) { fmt.Fprintln(os.Stderr, msg) },
	}
	if _, err := starlark.ExecFile(thread, c.chunk, c.Text, c.builtins(eng)); err != nil {
		// suppress continuations left pending by the aborted region
		eng.cancel()
		return c.mapError(err, eng)
	}
	c.root.SetChildren(eng.rootNodes())
	return nil
}

func (c *Compiled) builtins(e *Engine) starlark.StringDict {
	b := func(name string, fn func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)) *starlark.Builtin {
		return starlark.NewBuiltin(name, fn)
	}
	return starlark.StringDict{
		// emit is the public form, for guest code inside loops and
		// functions where the implicit emission of bare expressions
		// doesn't reach
		"emit":      b("emit", e.emitFn),
		"_emit":     b("_emit", e.emitFn),
		"_begin":    b("_begin", e.beginFn),
		"_end":      b("_end", e.endFn),
		"_node":     b("_node", e.nodeFn),
		"_run":      b("_run", e.runFn),
		"_rebuild":  b("_rebuild", e.rebuildFn),
		"_clonesel": b("_clonesel", e.cloneselFn),
		"_decl":     b("_decl", e.declFn),
		"_scope":    b("_scope", e.scopeFn),
		"_str":      b("_str", e.strFn),
	}
}

func (e *Engine) emitFn(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	return starlark.None, e.process(thread, v)
}

func (e *Engine) beginFn(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var idx, docOff, genOff int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 3, &idx, &docOff, &genOff); err != nil {
		return nil, err
	}
	n := e.c.nodes[idx]
	r := &region{node: n}
	if p := n.Pos(); p != nil {
		r.pos = &ast.Position{Input: p.Input, Offset: docOff}
	}
	e.regions = append(e.regions, r)
	e.lastGen = genOff
	return starlark.None, nil
}

func (e *Engine) endFn(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var ok bool
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &ok); err != nil {
		return nil, err
	}
	return starlark.None, e.endRegion(thread, ok)
}

// runFn invokes one sibling file-block function through callGuest, so a
// return that skipped the block's region closers cannot leak stale
// region positions into the next block.
func (e *Engine) runFn(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &fn); err != nil {
		return nil, err
	}
	_, err := e.callGuest(thread, fn, nil)
	return starlark.None, err
}

func (e *Engine) nodeFn(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var idx int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &idx); err != nil {
		return nil, err
	}
	return NodeValue{e.c.nodes[idx].CloneNode()}, nil
}

func (e *Engine) rebuildFn(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var idx int
	var fn starlark.Callable
	var sel string
	switch len(args) {
	case 3:
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 3, &idx, &fn, &sel); err != nil {
			return nil, err
		}
	default:
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &idx, &fn); err != nil {
			return nil, err
		}
	}

	clone := e.c.nodes[idx].CloneNode().(ast.Container)
	clone.SetChildren(nil)
	if r, isRule := clone.(*ast.Rule); isRule && len(args) == 3 {
		r.Selector = sel
	}

	e.pushSink()
	_, err := e.callGuest(thread, fn, nil)
	nodes := e.popSink()
	if err != nil {
		return nil, err
	}
	clone.SetChildren(nodes)
	mergeTrailingRaws(clone)
	return NodeValue{clone}, nil
}

func (e *Engine) cloneselFn(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var idx int
	var sel string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &idx, &sel); err != nil {
		return nil, err
	}
	clone := e.c.nodes[idx].CloneNode()
	if r, isRule := clone.(*ast.Rule); isRule {
		r.Selector = sel
	}
	return NodeValue{clone}, nil
}

func (e *Engine) declFn(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var idx int
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &idx, &v); err != nil {
		return nil, err
	}
	orig := e.c.nodes[idx].(*ast.Declaration)
	s, ok := stringifyValue(v)
	if !ok {
		p := orig.Pos()
		return nil, errAt(p, orig.ValuePos-p.Offset, "cannot use %s as the value of %q", boundedDump(v), orig.Prop)
	}
	clone := orig.CloneNode().(*ast.Declaration)
	clone.Value = s
	return NodeValue{clone}, nil
}

func (e *Engine) scopeFn(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var idx int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &idx); err != nil {
		return nil, err
	}
	s := e.c.scopeList[idx]
	vals := make(starlark.Tuple, len(s.names))
	for i, name := range s.names {
		vals[i] = s.bindings[name]
	}
	return vals, nil
}

func (e *Engine) strFn(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	s, ok := stringifyValue(v)
	if !ok {
		return nil, e.classErrf(v, "selector fragment must produce text")
	}
	return starlark.String(s), nil
}

// mergeTrailingRaws folds the finished branch's trailing formatting into
// the rebuilt container: a synthesized last declaration keeps its
// terminator, overriding the original's omission.
func mergeTrailingRaws(c ast.Container) {
	nodes := c.Children()
	if len(nodes) == 0 {
		return
	}
	last := nodes[len(nodes)-1]
	if !last.NodeRaws().Synthesized {
		return
	}
	switch t := last.(type) {
	case *ast.Declaration:
		c.NodeRaws().Semicolon = true
	case *ast.AtRule:
		if !t.HasBody {
			c.NodeRaws().Semicolon = true
		}
	}
}

// mapError reports the most specific document position available for a
// program failure: a generated-text stack frame translated through the
// source map, then an out-of-band position already on the error, then a
// "position unknown" report with a rendering of the generated program
// around the last known cursor.
func (c *Compiled) mapError(err error, eng *Engine) error {
	// positioned errors raised by our own builtins already carry the
	// exact document location; frame mapping would only re-wrap them
	var perr *Error
	if errors.As(err, &perr) && perr.Line > 0 {
		return perr
	}

	if evalErr, isEval := err.(*starlark.EvalError); isEval {
		// innermost frame that originates from our synthesized chunk
		for i := len(evalErr.CallStack) - 1; i >= 0; i-- {
			fr := evalErr.CallStack[i]
			if fr.Pos.Filename() != c.chunk {
				continue
			}
			if e := c.originError(int(fr.Pos.Line), int(fr.Pos.Col), evalErr.Msg); e != nil {
				return e
			}
		}
	}

	// generated-program compile diagnostics: guest names that don't
	// resolve, or gaps the validator let through
	var rerrs resolve.ErrorList
	if errors.As(err, &rerrs) && len(rerrs) > 0 {
		if e := c.originError(int(rerrs[0].Pos.Line), int(rerrs[0].Pos.Col), rerrs[0].Msg); e != nil {
			return e
		}
	}
	var serr syntax.Error
	if errors.As(err, &serr) {
		if e := c.originError(int(serr.Pos.Line), int(serr.Pos.Col), serr.Msg); e != nil {
			return e
		}
	}

	if perr != nil {
		if perr.Dump == "" {
			perr.Dump = renderProgram(c.Text, eng.lastGen)
		}
		return perr
	}

	return &Error{
		File: c.file,
		Msg:  err.Error(),
		Dump: renderProgram(c.Text, eng.lastGen),
	}
}

// originError translates a generated-text line/column through the source
// map into a positioned document error, or nil when the offset has no
// recorded origin.
func (c *Compiled) originError(genLine, genCol int, msg string) *Error {
	if c.genLines == nil {
		c.genLines = []int{0}
		for i := 0; i < len(c.Text); i++ {
			if c.Text[i] == '\n' {
				c.genLines = append(c.genLines, i+1)
			}
		}
	}
	if genLine < 1 || genLine > len(c.genLines) {
		return nil
	}
	off := c.genLines[genLine-1] + genCol - 1
	org, ok := c.flat.OriginAt(off)
	if !ok {
		return nil
	}
	return errAt(&ast.Position{Input: org.Input, Offset: org.Offset}, 0, "%s", msg)
}
