package compiler

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"

	"github.com/starcss/starcss/ast"
)

// Engine interprets the stream of values the compiled program produces,
// reconstructing the new document tree. The program feeds it through
// predeclared builtins; execution is single-threaded and pull-based, so
// values are observed in strict source order.
type Engine struct {
	c       *Compiled
	sinks   []*sink
	regions []*region
	lastGen int // generated-text offset of the most recent region, the cursor
}

// sink is one open output container: the nodes collected so far plus the
// single-slot pending continuation for this block.
type sink struct {
	nodes   []ast.Node
	pending starlark.Callable
}

// region is an active guest-code area; nodes created inside it that lack
// a span of their own inherit its position.
type region struct {
	node ast.Node
	pos  *ast.Position
}

func newEngine(c *Compiled) *Engine {
	return &Engine{c: c, sinks: []*sink{{}}}
}

func (e *Engine) sink() *sink { return e.sinks[len(e.sinks)-1] }

func (e *Engine) pushSink() { e.sinks = append(e.sinks, &sink{}) }

func (e *Engine) popSink() []ast.Node {
	s := e.sink()
	e.sinks = e.sinks[:len(e.sinks)-1]
	return s.nodes
}

// rootNodes returns the finished root children.
func (e *Engine) rootNodes() []ast.Node { return e.sinks[0].nodes }

// cancel suppresses every pending continuation; the evaluator calls it
// when the program terminates with an error, so an abandoned region does
// not fire its continuation.
func (e *Engine) cancel() {
	for _, s := range e.sinks {
		s.pending = nil
	}
}

// append attaches a node to the current output, attributing the active
// region's position when the node has none.
func (e *Engine) append(n ast.Node) {
	if n.Pos() == nil && len(e.regions) > 0 {
		r := e.regions[len(e.regions)-1]
		if r.pos != nil {
			p := *r.pos
			n.SetPos(&p)
		}
	}
	s := e.sink()
	s.nodes = append(s.nodes, n)
}

// process classifies one value. Nested iterables are flattened
// depth-first with an explicit stack, never native recursion, so guest
// code cannot overflow the call stack with deep nesting. A callable
// becomes the pending continuation; the next value is passed to it and
// its result re-enters classification. None is dropped silently.
func (e *Engine) process(thread *starlark.Thread, v starlark.Value) error {
	var stack []starlark.Iterator
	defer func() {
		for _, it := range stack {
			it.Done()
		}
	}()

	cur := v
	for {
		if cur == nil {
			return e.classErrf(nil, "internal error: nil value in interpretation stream")
		}

		if s := e.sink(); s.pending != nil {
			fn := s.pending
			s.pending = nil
			res, err := e.callGuest(thread, fn, starlark.Tuple{cur})
			if err != nil {
				return err
			}
			cur = res
			continue
		}

		switch t := cur.(type) {
		case starlark.NoneType:
			// accidental omission stays silent
		case NodeValue:
			e.append(t.Node)
		case starlark.IterableMapping:
			if err := e.interpretMapping(thread, t); err != nil {
				return err
			}
		case starlark.Callable:
			e.sink().pending = t
		case starlark.Iterable:
			stack = append(stack, t.Iterate())
		default:
			return e.classErrf(cur, "cannot interpret value")
		}

		cur = nil
		for len(stack) > 0 {
			it := stack[len(stack)-1]
			var next starlark.Value
			if it.Next(&next) {
				cur = next
				break
			}
			it.Done()
			stack = stack[:len(stack)-1]
		}
		if cur == nil {
			return nil
		}
	}
}

// interpretMapping applies the object interpretation rule: "@"-prefixed
// keys become at-rules, keys with interpretable values become rules,
// keys with stringifiable values become declarations. Anything else is a
// classification error; an explicit None value under a plain key is an
// error rather than a no-op.
func (e *Engine) interpretMapping(thread *starlark.Thread, m starlark.IterableMapping) error {
	for _, item := range m.Items() {
		key, ok := starlark.AsString(item[0])
		if !ok {
			return e.classErrf(item[0], "mapping keys must be strings")
		}
		v := item[1]

		if strings.HasPrefix(key, "@") {
			name, params := splitAtKey(key[1:])
			at := &ast.AtRule{Name: name, Params: params}
			at.NodeRaws().Synthesized = true
			switch {
			case v == starlark.None:
				// bodyless at-rule
			case interpretable(v):
				at.HasBody = true
				nodes, err := e.collect(thread, v)
				if err != nil {
					return err
				}
				at.Nodes = nodes
			default:
				return e.classErrf(v, "value of %q must be absent or interpretable", key)
			}
			e.append(at)
			continue
		}

		switch {
		case interpretable(v):
			r := &ast.Rule{Selector: key}
			r.NodeRaws().Synthesized = true
			nodes, err := e.collect(thread, v)
			if err != nil {
				return err
			}
			r.Nodes = nodes
			e.append(r)
		default:
			s, ok := stringifyValue(v)
			if !ok {
				return e.classErrf(v, "cannot interpret value of %q", key)
			}
			d := &ast.Declaration{Prop: key, Value: s}
			d.NodeRaws().Synthesized = true
			e.append(d)
		}
	}
	return nil
}

// collect interprets a value into a fresh child list. A callable is
// invoked with no arguments; whatever it emits and whatever it returns
// both land in the list.
func (e *Engine) collect(thread *starlark.Thread, v starlark.Value) ([]ast.Node, error) {
	e.pushSink()
	var err error
	if fn, ok := v.(starlark.Callable); ok {
		err = e.drain(thread, fn)
	} else {
		err = e.process(thread, v)
	}
	nodes := e.popSink()
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// callGuest invokes a guest function, discarding any regions it left
// open by returning early past their closers.
func (e *Engine) callGuest(thread *starlark.Thread, fn starlark.Callable, args starlark.Tuple) (starlark.Value, error) {
	depth := len(e.regions)
	res, err := starlark.Call(thread, fn, args, nil)
	if len(e.regions) > depth {
		e.regions = e.regions[:depth]
	}
	return res, err
}

// drain calls fn with no arguments, repeatedly while the result is
// itself callable, then interprets the first non-callable result.
func (e *Engine) drain(thread *starlark.Thread, fn starlark.Callable) error {
	for {
		res, err := e.callGuest(thread, fn, nil)
		if err != nil {
			return err
		}
		if c, again := res.(starlark.Callable); again {
			fn = c
			continue
		}
		return e.process(thread, res)
	}
}

// interpretable reports whether a value can form document nodes on its
// own: sequences, mappings, callables and nodes can; strings and other
// scalars cannot.
func interpretable(v starlark.Value) bool {
	switch v.(type) {
	case NodeValue, starlark.IterableMapping, starlark.Callable:
		return true
	case starlark.Iterable:
		// strings are not Iterable in Starlark, so no ambiguity here
		return true
	}
	return false
}

// splitAtKey splits an at-rule key into name and params at the first
// whitespace or CSS-meta character. A "(" begins the params; whitespace
// is consumed.
func splitAtKey(s string) (name, params string) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n', '\f':
			return s[:i], strings.TrimLeft(s[i:], wsChars)
		case '(', ':', ';', '{':
			return s[:i], s[i:]
		}
	}
	return s, ""
}

// endRegion finishes a guest-code area. With ok, a still-pending
// continuation is invoked with no argument, repeatedly while the result
// is itself callable; the first non-callable result is treated as if it
// had been emitted directly. Without ok the pending call is suppressed.
func (e *Engine) endRegion(thread *starlark.Thread, ok bool) error {
	s := e.sink()
	if fn := s.pending; fn != nil {
		s.pending = nil
		if ok {
			if err := e.drain(thread, fn); err != nil {
				return err
			}
		}
	}
	if len(e.regions) > 0 {
		e.regions = e.regions[:len(e.regions)-1]
	}
	return nil
}

// classErrf reports a value classification error, positioned at the
// active region, with a bounded dump of the offending value.
func (e *Engine) classErrf(v starlark.Value, format string, args ...any) error {
	msg := "interpretation: " + fmt.Sprintf(format, args...)
	if v != nil {
		msg += ": " + boundedDump(v)
	}
	if len(e.regions) > 0 {
		if r := e.regions[len(e.regions)-1]; r.pos != nil {
			return errAt(r.pos, 0, "%s", msg)
		}
	}
	return &Error{File: e.c.file, Msg: msg}
}

// boundedDump renders a value for an error message, truncated so huge
// structures don't flood the report.
func boundedDump(v starlark.Value) string {
	s := v.String()
	const limit = 160
	if len(s) > limit {
		s = s[:limit] + "…"
	}
	return s + " (" + v.Type() + ")"
}
