// Package compiler turns a stylesheet tree with embedded Starlark
// fragments into one synthesized Starlark program, executes it, and
// rebuilds the tree from the values the program produces. Positions in
// the generated program map back to exact document locations, so guest
// errors are reported against the original source.
package compiler

import (
	"strconv"
	"strings"

	"go.starlark.net/syntax"

	"github.com/starcss/starcss/ast"
	"github.com/starcss/starcss/parser"
)

// Marker is the guest-code marker token.
const Marker = "@star"

// markerName is the marker's at-rule name form.
const markerName = "star"

// Compiler compiles and runs starcss documents. The zero value uses
// DefaultGlobals.
type Compiler struct {
	Globals GlobalsProvider
}

// Compiled is a ready-to-run compiled document.
type Compiled struct {
	// Text is the synthesized Starlark program.
	Text string

	root      *ast.Root
	flat      *Flat
	env       *Env
	nodes     []ast.Node
	scopeList []*Scope
	chunk     string // generated chunk filename, recognizable in stack frames
	file      string
	genLines  []int // line index of Text, for frame→offset translation
}

// Compile walks the document, validates every fragment and synthesizes
// the program. Guest code does not run yet; call Run on the result.
func (c *Compiler) Compile(root *ast.Root) (*Compiled, error) {
	prov := c.Globals
	if prov == nil {
		prov = DefaultGlobals
	}
	input := rootInput(root)
	cc := &compilation{
		env:      newEnv(prov),
		scopeIdx: make(map[string]int),
		input:    input,
	}

	body, _, err := cc.compileChildren(root, input.File, 1)
	if err != nil {
		return nil, err
	}
	rootName := newName("root")
	if body == nil {
		body = line(1, Text("pass"))
	}
	program := Group(
		Text("def "), Ident(rootName), Text("():"),
		body,
		Text("\n"), Ident(rootName), Text("()\n"),
	).At(Origin{Input: input, Offset: 0, Invariant: true})

	flat := Flatten(program)
	return &Compiled{
		Text:      flat.Text,
		root:      root,
		flat:      flat,
		env:       cc.env,
		nodes:     cc.nodes,
		scopeList: cc.scopes,
		chunk:     "starcss:" + input.File,
		file:      input.File,
	}, nil
}

// CompileSource parses source text and compiles it.
func (c *Compiler) CompileSource(css, file string) (*Compiled, error) {
	root, err := parser.Parse(css, file)
	if err != nil {
		return nil, err
	}
	return c.Compile(root)
}

// Process compiles and runs source text, returning the rewritten
// stylesheet.
func (c *Compiler) Process(css, file string) (string, error) {
	compiled, err := c.CompileSource(css, file)
	if err != nil {
		return "", err
	}
	if err := compiled.Run(); err != nil {
		return "", err
	}
	return parser.Stringify(compiled.root), nil
}

func rootInput(root *ast.Root) *ast.Input {
	if p := root.Pos(); p != nil && p.Input != nil {
		return p.Input
	}
	return &ast.Input{File: "<input>"}
}

type compilation struct {
	env      *Env
	input    *ast.Input
	nodes    []ast.Node
	scopes   []*Scope
	scopeIdx map[string]int
}

func (cc *compilation) addNode(n ast.Node) int {
	cc.nodes = append(cc.nodes, n)
	return len(cc.nodes) - 1
}

// scope builds (once) the GlobalEnv entry for key and returns its table
// index for the generated prologue.
func (cc *compilation) scope(key string) (*Scope, int, error) {
	if i, ok := cc.scopeIdx[key]; ok {
		return cc.scopes[i], i, nil
	}
	s, err := cc.env.Scope(key)
	if err != nil {
		return nil, 0, err
	}
	cc.scopes = append(cc.scopes, s)
	i := len(cc.scopes) - 1
	cc.scopeIdx[key] = i
	return s, i, nil
}

// line emits a newline plus indentation, then the given pieces.
// Indentation is four spaces per level, matching the rest of the
// synthesized program.
func line(indent int, parts ...*Code) *Code {
	return Group(append([]*Code{Text("\n" + strings.Repeat("    ", indent))}, parts...)...)
}

// scopeKeyOf returns the file a child originates from; children without
// a position inherit the enclosing key.
func scopeKeyOf(n ast.Node, inherit string) string {
	if p := n.Pos(); p != nil && p.Input != nil {
		return p.Input.File
	}
	return inherit
}

// compileChildren compiles a container's children into program code.
// Children are grouped into blocks: a new block starts whenever the
// originating file of the current child differs from the previous
// child's, so guest code from two files never shares a lexical scope.
// Each block of a multi-block container becomes its own function; a
// lone block is spliced inline so an early return aborts exactly the
// enclosing container's children.
func (cc *compilation) compileChildren(c ast.Container, parentKey string, indent int) (*Code, bool, error) {
	children := c.Children()
	if len(children) == 0 {
		return nil, false, nil
	}

	type block struct {
		key   string
		nodes []ast.Node
	}
	var blocks []block
	key := ""
	for _, n := range children {
		k := scopeKeyOf(n, parentKey)
		if len(blocks) == 0 || k != key {
			blocks = append(blocks, block{key: k})
			key = k
		}
		blocks[len(blocks)-1].nodes = append(blocks[len(blocks)-1].nodes, n)
	}

	var out []*Code
	anyGuest := false
	for _, b := range blocks {
		inner := indent
		if len(blocks) > 1 {
			inner++
		}
		var body []*Code
		if hasGuestCode(b.nodes) {
			prologue, err := cc.scopePrologue(b.key, b.nodes[0], inner)
			if err != nil {
				return nil, false, err
			}
			body = append(body, prologue)
		}
		for _, n := range b.nodes {
			code, guest, err := cc.compileChild(n, b.key, inner)
			if err != nil {
				return nil, false, err
			}
			anyGuest = anyGuest || guest
			body = append(body, code)
		}
		if len(blocks) > 1 {
			name := newName("blk")
			first := b.nodes[0].Pos()
			blk := Group(
				line(indent, Text("def "), Ident(name), Text("():")),
				Group(body...),
				line(indent, Text("_run("), Ident(name), Text(")")),
			)
			if first != nil {
				blk = blk.At(Origin{Input: first.Input, Offset: first.Offset, Invariant: true})
			}
			out = append(out, blk)
		} else {
			out = append(out, Group(body...))
		}
	}
	return Group(out...), anyGuest, nil
}

// scopePrologue binds the block's GlobalEnv entry to local names. The
// binding names are fixed when the scope is first built, so the same
// scope appearing later in the document, non-contiguously, reuses both
// the bindings and the name list.
func (cc *compilation) scopePrologue(key string, first ast.Node, indent int) (*Code, error) {
	s, idx, err := cc.scope(key)
	if err != nil {
		return nil, err
	}
	if len(s.names) == 0 {
		return nil, nil
	}
	lhs := strings.Join(s.names, ", ")
	if len(s.names) == 1 {
		lhs += ","
	}
	code := line(indent, Textf("%s = _scope(%d)", lhs, idx))
	if p := first.Pos(); p != nil {
		code = code.At(Origin{Input: p.Input, Offset: p.Offset, Invariant: true})
	}
	return code, nil
}

// hasGuestCode reports whether any direct child is a guest-code
// injection point (marker at-rule, marker expression in a selector, or
// marker-led declaration value).
func hasGuestCode(nodes []ast.Node) bool {
	for _, n := range nodes {
		switch t := n.(type) {
		case *ast.AtRule:
			if t.Name == markerName {
				return true
			}
		case *ast.Rule:
			if strings.Contains(t.Selector, Marker) {
				return true
			}
		case *ast.Declaration:
			if valueFragment(t.Value) >= 0 {
				return true
			}
		}
	}
	return false
}

// valueFragment returns the offset of the fragment text within a
// declaration value that begins with the marker, or -1.
func valueFragment(value string) int {
	if !strings.HasPrefix(value, Marker) {
		return -1
	}
	if len(value) == len(Marker) {
		return len(Marker)
	}
	switch value[len(Marker)] {
	case ' ', '\t', '\r', '\n', '\f', '(':
		return len(Marker)
	}
	return -1
}

func (cc *compilation) compileChild(n ast.Node, key string, indent int) (*Code, bool, error) {
	switch t := n.(type) {
	case *ast.AtRule:
		if t.Name == markerName {
			return cc.compileGuestAtRule(t, key, indent)
		}
		if i := strings.Index(t.Params, Marker); i >= 0 {
			return nil, false, errAt(n.Pos(), t.ParamsPos-n.Pos().Offset+i, "invalid use of %s", Marker)
		}
		if t.HasBody {
			return cc.compileContainer(t, key, nil, indent)
		}
		return cc.passthrough(t, indent), false, nil

	case *ast.Rule:
		sel, err := cc.compileSelector(t)
		if err != nil {
			return nil, false, err
		}
		return cc.compileContainer(t, key, sel, indent)

	case *ast.Declaration:
		if i := strings.Index(t.Prop, Marker); i >= 0 {
			return nil, false, errAt(n.Pos(), i, "invalid use of %s", Marker)
		}
		if off := valueFragment(t.Value); off >= 0 {
			return cc.compileGuestDecl(t, off, indent)
		}
		if i := strings.Index(t.Value, Marker); i >= 0 {
			return nil, false, errAt(n.Pos(), t.ValuePos-n.Pos().Offset+i, "invalid use of %s", Marker)
		}
		return cc.passthrough(t, indent), false, nil

	default:
		return cc.passthrough(n, indent), false, nil
	}
}

// passthrough re-emits an unchanged child as a cloned copy.
func (cc *compilation) passthrough(n ast.Node, indent int) *Code {
	idx := cc.addNode(n)
	code := line(indent, Text("_emit(_node("), Ref(idx), Text("))"))
	if p := n.Pos(); p != nil {
		code = code.At(Origin{Input: p.Input, Offset: p.Offset, Invariant: true})
	}
	return code
}

// compileContainer rebuilds a rule or at-rule child. When its subtree
// produced program text the container is reconstructed from the
// recursively compiled child program; otherwise it passes through
// structurally unchanged, still cloned, with the selector substituted
// when it computes.
func (cc *compilation) compileContainer(t ast.Container, key string, sel *Code, indent int) (*Code, bool, error) {
	inner, hasGuest, err := cc.compileChildren(t, scopeKeyOf(t, key), indent+1)
	if err != nil {
		return nil, false, err
	}
	idx := cc.addNode(t)
	p := t.Pos()

	var code *Code
	switch {
	case hasGuest:
		name := newName("c")
		if inner == nil {
			inner = line(indent+1, Text("pass"))
		}
		call := Group(Text("_emit(_rebuild("), Ref(idx), Text(", "), Ident(name))
		if sel != nil {
			call = Group(call, Text(", "), sel)
		}
		code = Group(
			line(indent, Text("def "), Ident(name), Text("():")),
			inner,
			line(indent, call, Text("))")),
		)
	case sel != nil:
		code = line(indent, Text("_emit(_clonesel("), Ref(idx), Text(", "), sel, Text("))"))
	default:
		return cc.passthrough(t, indent), false, nil
	}
	if p != nil {
		code = code.At(Origin{Input: p.Input, Offset: p.Offset, Invariant: true})
	}
	return code, hasGuest, nil
}

// compileGuestAtRule translates a block-level fragment into a guarded
// region: an opening position marker, the validated code, a closer. A
// trailing nested block compiles to its own function: expression
// fragments receive it as a call argument; statement fragments get it
// emitted after them, so the engine's continuation rules run it.
func (cc *compilation) compileGuestAtRule(t *ast.AtRule, key string, indent int) (*Code, bool, error) {
	p := t.Pos()
	frag := newFragment(p.Input, t.ParamsPos, t.Params)
	stub := ""
	if t.HasBody {
		stub = exprStub
	}
	uc, err := validate(frag, stub)
	if err != nil {
		return nil, false, err
	}

	idx := cc.addNode(t)
	var blockName *Name
	var blockDef *Code
	if t.HasBody {
		blockName = newName("a")
		inner, _, err := cc.compileChildren(t, scopeKeyOf(t, key), indent+1)
		if err != nil {
			return nil, false, err
		}
		if inner == nil {
			inner = line(indent+1, Text("pass"))
		}
		blockDef = Group(
			line(indent, Text("def "), Ident(blockName), Text("():")),
			inner,
		)
	}

	region := Group(
		blockDef,
		line(indent, Text("_begin("), Ref(idx), Textf(", %d, ", frag.Offset), OutputOffset(), Text(")")),
		cc.spliceUser(uc, indent, blockName),
		line(indent, Text("_end(True)")).Rel(),
	).At(Origin{Input: frag.Input, Offset: frag.Offset, Invariant: true})
	return region, true, nil
}

// spliceUser splices validated guest code into the program at the given
// indentation, preserving provenance for every original byte.
func (cc *compilation) spliceUser(uc *UserCode, indent int, blockName *Name) *Code {
	frag := uc.Frag
	if uc.IsExpression {
		parts := []*Code{Text("_emit(("), cc.spliceText(frag, 0, len(frag.Text), indent), Text(")")}
		if blockName != nil {
			parts = append(parts, Text("("), Ident(blockName), Text(")"))
		}
		parts = append(parts, Text(")"))
		return line(indent, Group(parts...))
	}

	var out []*Code
	for _, st := range uc.Stmts {
		start, end := frag.stmtSlice(st)
		body := cc.spliceText(frag, start, end, indent)
		if _, bare := st.(*syntax.ExprStmt); bare {
			// implicit yield of bare expression statements
			body = Group(Text("_emit(("), body, Text("))"))
		}
		out = append(out, line(indent, body))
	}
	if blockName != nil {
		out = append(out, line(indent, Text("_emit("), Ident(blockName), Text(")")))
	}
	return Group(out...)
}

// spliceText emits frag.Text[start:end] with per-line provenance tags.
// Continuation lines are re-indented under the current level; relative
// indentation within the fragment is preserved, which is all Starlark's
// grammar requires.
func (cc *compilation) spliceText(frag *Fragment, start, end, indent int) *Code {
	slice := frag.Text[start:end]
	pad := "\n" + strings.Repeat("    ", indent) + "    "
	var parts []*Code
	off := start
	for i, ln := range strings.Split(slice, "\n") {
		if i > 0 {
			parts = append(parts, Text(pad).Rel())
		}
		if ln != "" {
			parts = append(parts, Text(ln).At(Origin{Input: frag.Input, Offset: frag.abs(off)}))
		}
		off += len(ln) + 1
	}
	return Group(parts...)
}

// compileGuestDecl rewrites a declaration whose value begins with the
// marker: the value becomes the string form of the fragment's result. A
// statement fragment runs as its own function, so a return statement
// yields the substituted value; a bare trailing expression is returned
// implicitly.
func (cc *compilation) compileGuestDecl(t *ast.Declaration, off int, indent int) (*Code, bool, error) {
	p := t.Pos()
	frag := newFragment(p.Input, t.ValuePos+off, t.Value[off:])
	uc, err := validate(frag, "")
	if err != nil {
		return nil, false, err
	}
	idx := cc.addNode(t)

	var code *Code
	if uc.IsExpression {
		code = line(indent, Text("_emit(_decl("), Ref(idx), Text(", ("), cc.spliceText(frag, 0, len(frag.Text), indent), Text(")))"))
	} else {
		name := newName("v")
		var body []*Code
		for i, st := range uc.Stmts {
			s, e := frag.stmtSlice(st)
			stmt := cc.spliceText(frag, s, e, indent+1)
			if _, bare := st.(*syntax.ExprStmt); bare && i == len(uc.Stmts)-1 {
				stmt = Group(Text("return ("), stmt, Text(")"))
			}
			body = append(body, line(indent+1, stmt))
		}
		code = Group(
			line(indent, Text("def "), Ident(name), Text("():")),
			Group(body...),
			line(indent, Text("_emit(_decl("), Ref(idx), Text(", "), Ident(name), Text("()))")),
		)
	}
	code = code.At(Origin{Input: frag.Input, Offset: frag.Offset, Invariant: true})
	return code, true, nil
}

// compileSelector rewrites a selector containing marker expressions into
// a join of literal slices and computed parts. It returns nil when the
// selector is plain. A marker not of the exact form "@star(expr)" is a
// hard compile error.
func (cc *compilation) compileSelector(t *ast.Rule) (*Code, error) {
	selOff := t.Pos().Offset
	sel := t.Selector
	i := strings.Index(sel, Marker)
	if i < 0 {
		return nil, nil
	}

	var parts []*Code
	lit := func(s string) {
		if s != "" {
			parts = append(parts, Text(strconv.Quote(s)))
		}
	}
	rest := 0
	for i >= 0 {
		at := rest + i
		if at+len(Marker) >= len(sel) || sel[at+len(Marker)] != '(' {
			return nil, errAt(t.Pos(), at, "invalid use of %s", Marker)
		}
		cp := matchParen(sel, at+len(Marker))
		if cp < 0 {
			return nil, errAt(t.Pos(), at, "unbalanced parentheses in %s(...)", Marker)
		}
		lit(sel[rest:at])
		exprStart := at + len(Marker) + 1
		frag := newFragment(t.Pos().Input, selOff+exprStart, sel[exprStart:cp])
		uc, err := validate(frag, "")
		if err != nil {
			return nil, err
		}
		if !uc.IsExpression {
			return nil, errAt(t.Pos(), at, "selector fragment must be an expression")
		}
		parts = append(parts, Group(Text("_str(("), cc.spliceText(frag, 0, len(frag.Text), 0), Text("))")))
		rest = cp + 1
		i = strings.Index(sel[rest:], Marker)
	}
	lit(sel[rest:])

	code := parts[0]
	for _, p := range parts[1:] {
		code = Group(code, Text(" + "), p)
	}
	return code, nil
}

// matchParen returns the offset of the parenthesis closing the one at
// open, respecting strings, or -1.
func matchParen(s string, open int) int {
	depth := 0
	inStr := byte(0)
	for i := open; i < len(s); i++ {
		ch := s[i]
		if inStr != 0 {
			if ch == '\\' {
				i++
			} else if ch == inStr {
				inStr = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			inStr = ch
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
