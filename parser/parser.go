// Package parser parses stylesheet text into an ast tree and serializes
// trees back to text. Parsing is tolerant of unknown syntax: anything
// shaped like "selector { ... }", "@name params;", "@name params { ... }",
// "prop: value" or "/* ... */" is accepted; formatting is captured in
// raws so an untouched tree round-trips byte for byte.
package parser

import (
	"fmt"
	"strings"

	"github.com/starcss/starcss/ast"
	"github.com/starcss/starcss/scanner"
)

const wsChars = " \t\r\n\f"

// Parse parses css into a document tree. The file argument is a display
// path recorded on every node's position.
func Parse(css, file string) (*ast.Root, error) {
	in := &ast.Input{File: file, CSS: css}
	p := &parser{input: in, src: css}
	return p.parse()
}

type parser struct {
	input *ast.Input
	src   string
}

func (p *parser) parse() (*ast.Root, error) {
	root := &ast.Root{}
	root.SetPos(&ast.Position{Input: p.input, Offset: 0})
	stack := []ast.Container{ast.Container(root)}
	opened := []int{0} // offset of each open container, for unclosed-block errors

	i := 0
	for {
		start := p.skipWS(i)
		before := p.src[i:start]
		top := stack[len(stack)-1]

		if start >= len(p.src) {
			if len(stack) > 1 {
				return nil, p.errAt(opened[len(opened)-1], "unclosed block")
			}
			root.NodeRaws().After = before
			return root, nil
		}

		switch {
		case p.src[start] == '}':
			if len(stack) == 1 {
				return nil, p.errAt(start, "unexpected }")
			}
			top.NodeRaws().After = before
			stack = stack[:len(stack)-1]
			opened = opened[:len(opened)-1]
			i = start + 1

		case strings.HasPrefix(p.src[start:], "/*"):
			rel := strings.Index(p.src[start+2:], "*/")
			if rel < 0 {
				return nil, p.errAt(start, "unclosed comment")
			}
			raw := p.src[start+2 : start+2+rel]
			text := strings.Trim(raw, wsChars)
			lead := strings.Index(raw, text)
			if text == "" {
				lead = len(raw)
			}
			c := &ast.Comment{Text: text, Left: raw[:lead], Right: raw[lead+len(text):]}
			c.SetPos(&ast.Position{Input: p.input, Offset: start})
			c.NodeRaws().Before = before
			appendChild(top, c, false)
			i = start + 2 + rel + 2

		case p.src[start] == '@':
			at, next, semi, err := p.parseAtRule(start, before)
			if err != nil {
				return nil, err
			}
			appendChild(top, at, semi)
			if at.HasBody {
				stack = append(stack, at)
				opened = append(opened, start)
			}
			i = next

		default:
			end, stop := p.readUntil(start, ";{}")
			if stop == '{' {
				text := p.src[start:end]
				sel := strings.TrimRight(text, wsChars)
				r := &ast.Rule{Selector: sel}
				r.SetPos(&ast.Position{Input: p.input, Offset: start})
				r.NodeRaws().Before = before
				r.NodeRaws().Between = text[len(sel):]
				appendChild(top, r, false)
				stack = append(stack, r)
				opened = append(opened, start)
				i = end + 1
				break
			}
			d, err := p.parseDecl(start, end, before)
			if err != nil {
				return nil, err
			}
			if stop == ';' {
				appendChild(top, d, true)
				i = end + 1
			} else {
				// unterminated declaration: resume at the value's true
				// end so the trailing whitespace lands in the enclosing
				// container's After
				appendChild(top, d, false)
				i = start + len(strings.TrimRight(p.src[start:end], wsChars))
			}
		}
	}
}

func (p *parser) parseAtRule(start int, before string) (at *ast.AtRule, next int, semi bool, err error) {
	j := start + 1
	for j < len(p.src) && isIdentByte(p.src[j]) {
		j++
	}
	name := p.src[start+1 : j]
	if name == "" {
		return nil, 0, false, p.errAt(start, "at-rule missing name")
	}

	end, stop := p.readUntil(j, ";{}")
	raw := p.src[j:end]
	lead := len(raw) - len(strings.TrimLeft(raw, wsChars))
	params := strings.TrimRight(raw[lead:], wsChars)

	at = &ast.AtRule{
		Name:      name,
		Params:    params,
		ParamsPos: j + lead,
		AfterName: raw[:lead],
	}
	at.SetPos(&ast.Position{Input: p.input, Offset: start})
	at.NodeRaws().Before = before

	switch stop {
	case '{':
		at.HasBody = true
		at.NodeRaws().Between = raw[lead+len(params):]
		return at, end + 1, false, nil
	case ';':
		return at, end + 1, true, nil
	default:
		// terminated by the parent's '}' or end of input: resume after
		// the trimmed params so the trailing whitespace is re-scanned
		return at, j + lead + len(params), false, nil
	}
}

func (p *parser) parseDecl(start, end int, before string) (*ast.Declaration, error) {
	text := p.src[start:end]
	colon := plainIndexByte(text, ':')
	if colon < 0 {
		return nil, p.errAt(start, "unknown word %q", strings.TrimRight(text, wsChars))
	}
	prop := strings.TrimRight(text[:colon], wsChars)
	if prop == "" {
		return nil, p.errAt(start, "declaration missing property")
	}
	valStart := colon + 1
	for valStart < len(text) && strings.IndexByte(wsChars, text[valStart]) >= 0 {
		valStart++
	}
	value := strings.TrimRight(text[valStart:], wsChars)

	d := &ast.Declaration{Prop: prop, Value: value, ValuePos: start + valStart}
	if lower := strings.ToLower(value); strings.HasSuffix(lower, "!important") {
		d.Value = strings.TrimRight(value[:len(value)-len("!important")], wsChars)
		d.Important = true
	}
	d.SetPos(&ast.Position{Input: p.input, Offset: start})
	d.NodeRaws().Before = before
	d.NodeRaws().Between = text[len(prop):valStart]
	return d, nil
}

// readUntil scans from start for the first of the stop bytes outside
// strings, comments and brackets. Returns the stop offset and byte, or
// (len(src), 0) at end of input.
//
// A fresh scanner per call is sound because node boundaries never fall
// inside a string or comment.
func (p *parser) readUntil(start int, stops string) (int, byte) {
	sc := scanner.New(p.src[start:])
	for {
		ch, ok := sc.Next()
		if !ok {
			return len(p.src), 0
		}
		if sc.Plain() && strings.IndexByte(stops, ch) >= 0 {
			if (ch == '(' || ch == ')') || sc.BracketDepth() == 0 {
				return start + sc.Pos(), ch
			}
		}
	}
}

func (p *parser) skipWS(i int) int {
	for i < len(p.src) && strings.IndexByte(wsChars, p.src[i]) >= 0 {
		i++
	}
	return i
}

func (p *parser) errAt(offset int, format string, args ...any) error {
	line, col := p.input.LineCol(offset)
	return fmt.Errorf("%s:%d:%d: %s", p.input.File, line, col, fmt.Sprintf(format, args...))
}

// appendChild adds n to c and records whether n was terminated by a
// semicolon; the flag only matters for a container's last child.
func appendChild(c ast.Container, n ast.Node, semi bool) {
	c.SetChildren(append(c.Children(), n))
	c.NodeRaws().Semicolon = semi
}

// plainIndexByte returns the offset of the first b outside strings,
// comments and brackets, or -1.
func plainIndexByte(s string, b byte) int {
	sc := scanner.New(s)
	for {
		ch, ok := sc.Next()
		if !ok {
			return -1
		}
		if ch == b && sc.Plain() && sc.BracketDepth() == 0 {
			return sc.Pos()
		}
	}
}

func isIdentByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '-' || b == '_'
}
