package parser

import (
	"strings"

	"github.com/starcss/starcss/ast"
)

// Stringify serializes a document tree back to stylesheet text. Nodes
// carrying raws reproduce their original formatting exactly; synthesized
// nodes fall back to conventional defaults (four-space indentation, one
// node per line).
func Stringify(root *ast.Root) string {
	var sb strings.Builder
	stringifyChildren(&sb, root, 0)
	sb.WriteString(root.NodeRaws().After)
	return sb.String()
}

func stringifyChildren(sb *strings.Builder, c ast.Container, depth int) {
	children := c.Children()
	raws := c.NodeRaws()
	for i, n := range children {
		last := i == len(children)-1
		stringifyNode(sb, n, depth, i == 0 && depth == 0)
		if needsSemicolon(n) && (!last || raws.Semicolon || raws.Synthesized) {
			sb.WriteByte(';')
		}
	}
}

func stringifyNode(sb *strings.Builder, n ast.Node, depth int, first bool) {
	sb.WriteString(before(n, depth, first))
	switch t := n.(type) {
	case *ast.Comment:
		sb.WriteString("/*")
		sb.WriteString(t.Left)
		sb.WriteString(t.Text)
		sb.WriteString(t.Right)
		sb.WriteString("*/")
	case *ast.Declaration:
		sb.WriteString(t.Prop)
		sb.WriteString(defaulted(t.NodeRaws(), t.Raws.Between, ": "))
		sb.WriteString(t.Value)
		if t.Important {
			sb.WriteString(" !important")
		}
	case *ast.Rule:
		sb.WriteString(t.Selector)
		sb.WriteString(defaulted(t.NodeRaws(), t.Raws.Between, " "))
		sb.WriteByte('{')
		stringifyChildren(sb, t, depth+1)
		sb.WriteString(closeRaw(t, depth))
		sb.WriteByte('}')
	case *ast.AtRule:
		sb.WriteByte('@')
		sb.WriteString(t.Name)
		if t.Params != "" {
			sb.WriteString(defaulted(t.NodeRaws(), t.AfterName, " "))
			sb.WriteString(t.Params)
		} else {
			sb.WriteString(t.AfterName)
		}
		if t.HasBody {
			sb.WriteString(defaulted(t.NodeRaws(), t.Raws.Between, " "))
			sb.WriteByte('{')
			stringifyChildren(sb, t, depth+1)
			sb.WriteString(closeRaw(t, depth))
			sb.WriteByte('}')
		}
	}
}

func before(n ast.Node, depth int, first bool) string {
	raws := n.NodeRaws()
	if raws.Before != "" || !raws.Synthesized {
		return raws.Before
	}
	if first {
		return ""
	}
	return "\n" + strings.Repeat("    ", depth)
}

func closeRaw(c ast.Container, depth int) string {
	raws := c.NodeRaws()
	if raws.After != "" || !raws.Synthesized {
		return raws.After
	}
	if len(c.Children()) == 0 {
		return ""
	}
	return "\n" + strings.Repeat("    ", depth)
}

func defaulted(raws *ast.Raws, val, def string) string {
	if val != "" || !raws.Synthesized {
		return val
	}
	return def
}

func needsSemicolon(n ast.Node) bool {
	switch t := n.(type) {
	case *ast.Declaration:
		return true
	case *ast.AtRule:
		return !t.HasBody
	}
	return false
}
