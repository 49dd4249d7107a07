package compiler

import (
	"sort"
	"strings"

	"go.starlark.net/syntax"

	"github.com/starcss/starcss/ast"
)

// Fragment is one unit of embedded guest code with its exact location.
// Text is the normalized form: the first significant byte sits at column
// one and every later line is dedented by the first byte's document
// column, so the indentation-sensitive guest grammar sees the same shape
// the author wrote. lineAbs maps each normalized line back to its
// absolute document offset.
type Fragment struct {
	Input  *ast.Input
	Offset int // absolute offset of the first significant byte
	Text   string

	lines   []int // start of each line within Text
	lineAbs []int // absolute document offset of each line start
}

// newFragment trims surrounding whitespace and dedents continuation
// lines, keeping the per-line offset map exact.
func newFragment(in *ast.Input, offset int, text string) *Fragment {
	trimmed := strings.TrimLeft(text, wsChars)
	offset += len(text) - len(trimmed)
	trimmed = strings.TrimRight(trimmed, wsChars)

	f := &Fragment{Input: in, Offset: offset}
	if trimmed == "" {
		f.lines = []int{0}
		f.lineAbs = []int{offset}
		return f
	}

	_, col := in.LineCol(offset)
	base := col - 1

	raw := strings.Split(trimmed, "\n")
	norm := make([]string, len(raw))
	cursor := offset
	for i, ln := range raw {
		d := 0
		if i > 0 {
			for d < base && d < len(ln) && (ln[d] == ' ' || ln[d] == '\t') {
				d++
			}
		}
		norm[i] = ln[d:]
		f.lineAbs = append(f.lineAbs, cursor+d)
		cursor += len(ln) + 1
	}
	f.Text = strings.Join(norm, "\n")
	start := 0
	for _, ln := range norm {
		f.lines = append(f.lines, start)
		start += len(ln) + 1
	}
	return f
}

const wsChars = " \t\r\n\f"

// pos converts a 1-based line/column within the normalized text into an
// absolute document position, clamped to the fragment.
func (f *Fragment) pos(line, col int) int {
	if line < 1 {
		line = 1
	}
	if line > len(f.lines) {
		line = len(f.lines)
	}
	off := col - 1
	if off < 0 {
		off = 0
	}
	if max := f.lineLen(line - 1); off > max {
		off = max
	}
	return f.lineAbs[line-1] + off
}

// abs maps an offset within the normalized text to its absolute document
// offset.
func (f *Fragment) abs(off int) int {
	if off < 0 {
		off = 0
	}
	if off > len(f.Text) {
		off = len(f.Text)
	}
	i := sort.SearchInts(f.lines, off+1) - 1
	return f.lineAbs[i] + (off - f.lines[i])
}

func (f *Fragment) lineLen(i int) int {
	if i+1 < len(f.lines) {
		return f.lines[i+1] - f.lines[i] - 1
	}
	return len(f.Text) - f.lines[i]
}

// normOff converts a 1-based line/column into an offset within the
// normalized text.
func (f *Fragment) normOff(line, col int) int {
	if line < 1 {
		line = 1
	}
	if line > len(f.lines) {
		line = len(f.lines)
	}
	off := f.lines[line-1] + col - 1
	if off < 0 {
		off = 0
	}
	if off > len(f.Text) {
		off = len(f.Text)
	}
	return off
}

// stmtSlice returns the byte range of a parsed statement within the
// normalized text.
func (f *Fragment) stmtSlice(st syntax.Stmt) (start, end int) {
	a, b := st.Span()
	return f.normOff(int(a.Line), int(a.Col)), f.normOff(int(b.Line), int(b.Col))
}

// UserCode is the validated form of a fragment: either a single
// expression or a statement sequence.
type UserCode struct {
	IsExpression bool
	Stmts        []syntax.Stmt // nil for expressions
	Frag         *Fragment
}

// exprStub forces the expression interpretation to accept a
// call-with-block shape when the fragment has a trailing nested block.
const exprStub = "(_)"

// validate determines whether a fragment parses as an expression or as a
// statement sequence. The expression interpretation is preferred, unless
// the text also parses as two or more statements: then the parenthesized
// attempt only succeeded by fusing newline-separated expressions into an
// unintended juxtaposition, and the statement reading wins. blockStub is
// exprStub when the fragment is followed by a nested block, "" otherwise.
// When both attempts fail, the statement attempt's error position is
// reported, translated into the document.
func validate(frag *Fragment, blockStub string) (*UserCode, error) {
	if frag.Text == "" {
		return nil, errAt(&ast.Position{Input: frag.Input, Offset: frag.Offset}, 0, "empty %s fragment", Marker)
	}

	exprText := "(" + frag.Text + ")" + blockStub
	_, exprErr := syntax.ParseExpr(frag.Input.File, exprText, 0)

	file, err := syntax.Parse(frag.Input.File, frag.Text+"\n", 0)
	if exprErr == nil && (err != nil || len(file.Stmts) < 2) {
		return &UserCode{IsExpression: true, Frag: frag}, nil
	}
	if err != nil {
		return nil, fragSyntaxError(frag, err)
	}
	if err := checkStmts(frag, file.Stmts); err != nil {
		return nil, err
	}
	return &UserCode{Stmts: file.Stmts, Frag: frag}, nil
}

// fragSyntaxError translates a guest parse error into a positioned
// document error with the offending slice as context.
func fragSyntaxError(frag *Fragment, err error) error {
	off := frag.Offset
	msg := err.Error()
	if serr, ok := err.(syntax.Error); ok {
		off = frag.pos(int(serr.Pos.Line), int(serr.Pos.Col))
		msg = serr.Msg
	}
	e := errAt(&ast.Position{Input: frag.Input, Offset: off}, 0, "syntax error: %s", msg)
	rel := off - frag.Offset
	from := rel - 20
	if from < 0 {
		from = 0
	}
	to := rel + 20
	if to > len(frag.Text) {
		to = len(frag.Text)
	}
	e.Context = frag.Text[from:to]
	return e
}

// checkStmts rejects constructs that make no sense inside a fragment.
// load() binds at file scope in Starlark and cannot be spliced into the
// synthesized program; guests use require instead.
func checkStmts(frag *Fragment, stmts []syntax.Stmt) error {
	var werr error
	for _, st := range stmts {
		syntax.Walk(st, func(n syntax.Node) bool {
			if werr != nil {
				return false
			}
			if n == nil {
				return true
			}
			if _, ok := n.(*syntax.LoadStmt); ok {
				a, _ := n.Span()
				werr = errAt(&ast.Position{Input: frag.Input, Offset: frag.pos(int(a.Line), int(a.Col))}, 0,
					"load is not allowed in embedded code; use require")
				return false
			}
			return true
		})
		if werr != nil {
			return werr
		}
	}
	return nil
}
