package compiler

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/starcss/starcss/ast"
)

// NodeValue carries a document node through guest code. The interpretation
// engine appends it to the current output verbatim.
type NodeValue struct {
	Node ast.Node
}

var _ starlark.Value = NodeValue{}

func (v NodeValue) String() string {
	switch t := v.Node.(type) {
	case *ast.Rule:
		return fmt.Sprintf("<rule %s>", t.Selector)
	case *ast.AtRule:
		return fmt.Sprintf("<at-rule @%s>", t.Name)
	case *ast.Declaration:
		return fmt.Sprintf("<decl %s>", t.Prop)
	case *ast.Comment:
		return "<comment>"
	default:
		return "<root>"
	}
}

func (v NodeValue) Type() string          { return "cssnode" }
func (v NodeValue) Freeze()               {}
func (v NodeValue) Truth() starlark.Bool  { return starlark.True }
func (v NodeValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: cssnode") }

// Namespace is a mutable attribute bag with dotted access from guest
// code. It backs "exports" and "module" and is what "require" returns.
type Namespace struct {
	name   string
	attrs  starlark.StringDict
	frozen bool
}

var (
	_ starlark.Value       = (*Namespace)(nil)
	_ starlark.HasAttrs    = (*Namespace)(nil)
	_ starlark.HasSetField = (*Namespace)(nil)
)

// NewNamespace returns an empty namespace; name is used only in its
// string form.
func NewNamespace(name string) *Namespace {
	return &Namespace{name: name, attrs: make(starlark.StringDict)}
}

// Set binds an attribute from the host side, ignoring the frozen flag.
func (ns *Namespace) Set(name string, v starlark.Value) { ns.attrs[name] = v }

// Get returns an attribute and whether it is bound.
func (ns *Namespace) Get(name string) (starlark.Value, bool) {
	v, ok := ns.attrs[name]
	return v, ok
}

func (ns *Namespace) Attr(name string) (starlark.Value, error) {
	return ns.attrs[name], nil // nil, nil means "no such attribute"
}

func (ns *Namespace) AttrNames() []string { return ns.attrs.Keys() }

func (ns *Namespace) SetField(name string, v starlark.Value) error {
	if ns.frozen {
		return fmt.Errorf("cannot set .%s on frozen %s", name, ns.name)
	}
	ns.attrs[name] = v
	return nil
}

func (ns *Namespace) String() string { return fmt.Sprintf("<namespace %s>", ns.name) }
func (ns *Namespace) Type() string   { return "namespace" }

func (ns *Namespace) Freeze() {
	if !ns.frozen {
		ns.frozen = true
		ns.attrs.Freeze()
	}
}

func (ns *Namespace) Truth() starlark.Bool { return starlark.Bool(len(ns.attrs) > 0) }

func (ns *Namespace) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: namespace")
}

// stringifyValue renders a guest value as declaration-value text.
// Strings contribute their contents without quotes; numbers and booleans
// use their Starlark form. Values with no meaningful textual
// representation (None, functions, collections, nodes) report false.
func stringifyValue(v starlark.Value) (string, bool) {
	switch t := v.(type) {
	case starlark.String:
		return string(t), true
	case starlark.Bytes:
		return string(t), true
	case starlark.Int:
		return t.String(), true
	case starlark.Float:
		return t.String(), true
	case starlark.Bool:
		return t.String(), true
	default:
		return "", false
	}
}
