// Package ast defines the stylesheet document tree produced by the parser
// and rewritten by the compiler: a Root containing rules, at-rules,
// declarations and comments, each carrying formatting metadata ("raws")
// and a source position. The compiler never mutates a parsed node in
// place; rewritten documents are built from clones.
package ast

import "sort"

// Input holds one original source text. All nodes parsed from the same
// text share a single Input, so positions stay comparable after trees
// from several files are merged into one document.
type Input struct {
	File string // display path, e.g. "style.stcss"
	CSS  string // complete original text

	lines []int // byte offset of each line start, built on first use
}

// LineCol converts a byte offset into a 1-based line and column.
// Offsets past the end of the text report the final position.
func (in *Input) LineCol(offset int) (line, col int) {
	if in.lines == nil {
		in.lines = []int{0}
		for i := 0; i < len(in.CSS); i++ {
			if in.CSS[i] == '\n' {
				in.lines = append(in.lines, i+1)
			}
		}
	}
	if offset < 0 {
		offset = 0
	}
	if offset > len(in.CSS) {
		offset = len(in.CSS)
	}
	// First line starting after offset; the line containing offset is the
	// one before it.
	i := sort.SearchInts(in.lines, offset+1)
	return i, offset - in.lines[i-1] + 1
}

// Position is an absolute location in an original source.
type Position struct {
	Input  *Input
	Offset int // byte offset into Input.CSS
}

// LineCol returns the 1-based line and column of the position.
func (p *Position) LineCol() (line, col int) {
	return p.Input.LineCol(p.Offset)
}

// Raws holds formatting metadata that is not part of a node's semantic
// content. Zero values mean "use the stringifier's default".
type Raws struct {
	Before    string // whitespace preceding the node
	Between   string // selector↔"{", prop↔value or name↔params separator
	After     string // containers: whitespace before the closing "}"
	Semicolon bool   // containers: the last child had a trailing ";"

	// Synthesized marks nodes created by the interpreter rather than the
	// parser. For such nodes an empty raw means "use the stringifier's
	// default formatting"; for parsed nodes empty raws are literal.
	Synthesized bool
}

// Node is the interface implemented by every tree node.
type Node interface {
	node()
	// Pos returns the node's source position, or nil for synthesized
	// nodes that have not yet been attributed one.
	Pos() *Position
	// SetPos attributes a source position to the node.
	SetPos(*Position)
	// CloneNode returns a deep copy sharing no structure with the
	// receiver except the Input.
	CloneNode() Node
	// NodeRaws returns the node's formatting metadata for mutation.
	NodeRaws() *Raws
}

// Container is implemented by nodes that hold children: Root, Rule and
// AtRule (when it has a body).
type Container interface {
	Node
	Children() []Node
	SetChildren([]Node)
}

type base struct {
	Source *Position
	Raws   Raws
}

func (b *base) node()              {}
func (b *base) Pos() *Position     { return b.Source }
func (b *base) SetPos(p *Position) { b.Source = p }
func (b *base) NodeRaws() *Raws    { return &b.Raws }

func (b *base) cloneBase() base {
	c := *b
	if b.Source != nil {
		src := *b.Source
		c.Source = &src
	}
	return c
}

// Root is the top of a document tree.
type Root struct {
	base
	Nodes []Node
}

// Rule is a selector with a block of children.
type Rule struct {
	base
	Selector string
	Nodes    []Node
}

// AtRule is an at-rule such as "@media print { ... }" or "@import url;".
// HasBody distinguishes "@x {}" (empty body) from "@x;" (no body).
type AtRule struct {
	base
	Name    string
	Params  string
	HasBody bool
	Nodes   []Node

	// ParamsPos is the absolute byte offset of Params within the input,
	// used to locate embedded code fragments exactly.
	ParamsPos int
	// AfterName is the raw separator between the name and the params.
	AfterName string
}

// Declaration is a "prop: value" leaf.
type Declaration struct {
	base
	Prop      string
	Value     string
	Important bool

	// ValuePos is the absolute byte offset of Value within the input.
	ValuePos int
}

// Comment is a "/* ... */" node. Text excludes the delimiters and the
// surrounding padding, which is kept in Left and Right.
type Comment struct {
	base
	Text string

	Left  string // padding between "/*" and the text
	Right string // padding between the text and "*/"
}

func cloneNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.CloneNode()
	}
	return out
}

// CloneNode implements Node.
func (r *Root) CloneNode() Node {
	return &Root{base: r.cloneBase(), Nodes: cloneNodes(r.Nodes)}
}

// CloneNode implements Node.
func (r *Rule) CloneNode() Node {
	return &Rule{base: r.cloneBase(), Selector: r.Selector, Nodes: cloneNodes(r.Nodes)}
}

// CloneNode implements Node.
func (a *AtRule) CloneNode() Node {
	c := *a
	c.base = a.cloneBase()
	c.Nodes = cloneNodes(a.Nodes)
	return &c
}

// CloneNode implements Node.
func (d *Declaration) CloneNode() Node {
	c := *d
	c.base = d.cloneBase()
	return &c
}

// CloneNode implements Node.
func (c *Comment) CloneNode() Node {
	cc := *c
	cc.base = c.cloneBase()
	return &cc
}

// Children implements Container.
func (r *Root) Children() []Node { return r.Nodes }

// SetChildren implements Container.
func (r *Root) SetChildren(nodes []Node) { r.Nodes = nodes }

// Children implements Container.
func (r *Rule) Children() []Node { return r.Nodes }

// SetChildren implements Container.
func (r *Rule) SetChildren(nodes []Node) { r.Nodes = nodes }

// Children implements Container.
func (a *AtRule) Children() []Node { return a.Nodes }

// SetChildren implements Container.
func (a *AtRule) SetChildren(nodes []Node) { a.Nodes = nodes }
