package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/starcss/starcss/ast"
)

// Origin ties a region of generated text back to a place in an original
// source. An Origin with a nil Input is relative: its Offset adds to the
// position inherited from the nearest tagged ancestor.
type Origin struct {
	Input  *ast.Input
	Offset int
	// Invariant pins every byte under the tag to exactly Offset, for
	// synthesized boilerplate with no byte-for-byte source analog.
	Invariant bool
}

// Name is an opaque handle for a synthesized local. Flattening assigns
// each distinct handle a unique identifier, so generated names can never
// collide with one another.
type Name struct {
	hint string
}

func newName(hint string) *Name { return &Name{hint: hint} }

type codeKind uint8

const (
	codeGroup  codeKind = iota
	codeText            // literal text
	codeRef             // node-table reference, flattened as a decimal index
	codeName            // synthesized local name placeholder
	codeOffset          // current output offset, resolved at flatten time
)

// Code is an immutable, arbitrarily nested tree of generated-text
// fragments. Leaves are literal text, node-table references or
// placeholders; every node may carry an origin tag. A Relative node
// inherits the position of whatever code precedes it in the final
// assembly, resolved once at flatten time.
type Code struct {
	kind     codeKind
	text     string
	ref      int
	name     *Name
	children []*Code
	origin   *Origin
	relative bool
}

// Text returns a literal text leaf.
func Text(s string) *Code { return &Code{kind: codeText, text: s} }

// Textf returns a formatted literal text leaf.
func Textf(format string, args ...any) *Code {
	return Text(fmt.Sprintf(format, args...))
}

// Ref returns a node-table reference leaf.
func Ref(i int) *Code { return &Code{kind: codeRef, ref: i} }

// Ident returns a placeholder for a synthesized local name.
func Ident(n *Name) *Code { return &Code{kind: codeName, name: n} }

// OutputOffset returns a placeholder that flattens to the decimal byte
// offset of its own position in the final text.
func OutputOffset() *Code { return &Code{kind: codeOffset} }

// Group concatenates code nodes. Nil children are skipped, so optional
// pieces can be assembled without special cases.
func Group(children ...*Code) *Code {
	kept := make([]*Code, 0, len(children))
	for _, c := range children {
		if c != nil {
			kept = append(kept, c)
		}
	}
	return &Code{kind: codeGroup, children: kept}
}

// At returns a copy of c tagged with an origin. The receiver is not
// modified; Code trees are immutable once built.
func (c *Code) At(o Origin) *Code {
	cc := *c
	cc.origin = &o
	return &cc
}

// Rel returns a copy of c marked relative: it maps to the position
// immediately after whatever text precedes it in the final assembly.
func (c *Code) Rel() *Code {
	cc := *c
	cc.relative = true
	return &cc
}

// Flat is the flattened form of a Code tree: the final text plus a
// lazily built position map.
type Flat struct {
	Text string

	spans   []span
	once    sync.Once
	origins []Origin // one entry per byte of Text, built on first use
}

// span covers Text[start:end); org is the resolved origin of the first
// byte, advancing per byte unless pinned.
type span struct {
	start, end int
	org        Origin
}

// Flatten assembles the final text and records provenance spans.
// Placeholder names are assigned here; flattening the same tree twice
// yields identical text.
func Flatten(c *Code) *Flat {
	fl := &flattener{names: make(map[*Name]string)}
	fl.walk(c, tagState{})
	return &Flat{Text: fl.sb.String(), spans: fl.spans}
}

// tagState is the provenance context accumulated from ancestor tags.
type tagState struct {
	input     *ast.Input
	base      int // source offset at the point the innermost tag began
	tagStart  int // output offset where the innermost tag began
	invariant bool
}

func (st tagState) posAt(out int) int {
	if st.invariant {
		return st.base
	}
	return st.base + (out - st.tagStart)
}

type flattener struct {
	sb    strings.Builder
	spans []span
	names map[*Name]string
}

func (f *flattener) walk(c *Code, st tagState) {
	out := f.sb.Len()
	if c.relative {
		// Adopt the source position just past the preceding text.
		if n := len(f.spans); n > 0 {
			prev := f.spans[n-1]
			st = tagState{
				input:     prev.org.Input,
				base:      prev.org.Offset + prev.spanWidth(),
				tagStart:  out,
				invariant: true,
			}
		}
	}
	if c.origin != nil {
		next := tagState{tagStart: out, invariant: c.origin.Invariant}
		if c.origin.Input != nil {
			next.input = c.origin.Input
			next.base = c.origin.Offset
		} else {
			// additive tags shift within the ancestor's range and stay
			// pinned if the ancestor was
			next.input = st.input
			next.base = st.posAt(out) + c.origin.Offset
			next.invariant = st.invariant || c.origin.Invariant
		}
		st = next
	}

	switch c.kind {
	case codeGroup:
		for _, ch := range c.children {
			f.walk(ch, st)
		}
	case codeText:
		f.emit(c.text, st)
	case codeRef:
		f.emit(strconv.Itoa(c.ref), st)
	case codeName:
		f.emit(f.nameFor(c.name), st)
	case codeOffset:
		f.emit(strconv.Itoa(out), st)
	}
}

func (f *flattener) emit(s string, st tagState) {
	if s == "" {
		return
	}
	out := f.sb.Len()
	if st.input != nil {
		f.spans = append(f.spans, span{
			start: out,
			end:   out + len(s),
			org:   Origin{Input: st.input, Offset: st.posAt(out), Invariant: st.invariant},
		})
	}
	f.sb.WriteString(s)
}

func (f *flattener) nameFor(n *Name) string {
	if s, ok := f.names[n]; ok {
		return s
	}
	s := fmt.Sprintf("_%s%d", n.hint, len(f.names))
	f.names[n] = s
	return s
}

func (s span) spanWidth() int {
	if s.org.Invariant {
		return 0
	}
	return s.end - s.start
}

// buildMap derives the byte-indexed position map in one linear traversal.
func (fl *Flat) buildMap() {
	fl.origins = make([]Origin, len(fl.Text))
	for _, sp := range fl.spans {
		for i := sp.start; i < sp.end && i < len(fl.origins); i++ {
			org := sp.org
			if !org.Invariant {
				org.Offset += i - sp.start
			}
			fl.origins[i] = org
		}
	}
}

// OriginAt maps a byte offset of the final text back to its source
// position. The map is computed once, on first use.
func (fl *Flat) OriginAt(off int) (Origin, bool) {
	fl.once.Do(fl.buildMap)
	if off < 0 || off >= len(fl.origins) || fl.origins[off].Input == nil {
		return Origin{}, false
	}
	return fl.origins[off], true
}
