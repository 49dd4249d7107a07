package compiler

import (
	"fmt"

	"github.com/starcss/starcss/ast"
)

// Error is a positioned starcss error. Line and Col are 1-based; a zero
// Line means the position could not be recovered.
type Error struct {
	File string
	Line int
	Col  int
	Msg  string

	// Context is the offending source slice, set for syntax errors.
	Context string
	// Dump is a rendering of the generated program around the failure,
	// attached when no document position could be recovered.
	Dump string
}

func (e *Error) Error() string {
	switch {
	case e.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Col, e.Msg)
	case e.File != "":
		return fmt.Sprintf("%s: %s (position unknown)", e.File, e.Msg)
	default:
		return e.Msg + " (position unknown)"
	}
}

// errAt builds an Error positioned extra bytes past pos.
func errAt(pos *ast.Position, extra int, format string, args ...any) *Error {
	e := &Error{Msg: fmt.Sprintf(format, args...)}
	if pos != nil && pos.Input != nil {
		e.File = pos.Input.File
		e.Line, e.Col = pos.Input.LineCol(pos.Offset + extra)
	}
	return e
}
