package compiler

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/starcss/starcss/parser"
)

func process(t *testing.T, src string) string {
	t.Helper()
	c := &Compiler{}
	out, err := c.Process(src, "t.stcss")
	require.NoError(t, err)
	return out
}

func processErr(t *testing.T, src string) *Error {
	t.Helper()
	c := &Compiler{}
	_, err := c.Process(src, "t.stcss")
	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr), "unexpected error type: %v", err)
	return perr
}

// A document without embedded code is reproduced byte for byte.
func TestProcessPlainIsIdentity(t *testing.T) {
	src := "/* base */\na {\n    color: red;\n}\n@media print {\n    a {\n        color: black;\n    }\n}\n"
	require.Equal(t, src, process(t, src))
}

func TestDeclValueExpression(t *testing.T) {
	src := "@star x = 'red';\nh1 {\n    color: @star x;\n}\n"
	require.Equal(t, "\nh1 {\n    color: red;\n}\n", process(t, src))
}

func TestDeclValueStatements(t *testing.T) {
	src := "h1 {\n    color: @star\n        c = 'dark'\n        c + 'red';\n}\n"
	require.Equal(t, "h1 {\n    color: darkred;\n}\n", process(t, src))
}

func TestDeclValueReturn(t *testing.T) {
	src := "h1 {\n    width: @star\n        if True:\n            return '10px'\n        return '20px';\n}\n"
	require.Equal(t, "h1 {\n    width: 10px;\n}\n", process(t, src))
}

func TestDeclValueNumber(t *testing.T) {
	src := "h1 {\n    z-index: @star 5 + 5;\n}\n"
	require.Equal(t, "h1 {\n    z-index: 10;\n}\n", process(t, src))
}

func TestBlockEmitsMapping(t *testing.T) {
	src := "@star ({'a': {'color': 'red'}})"
	require.Equal(t, "a {\n    color: red;\n}", process(t, src))
}

func TestMappingDeclarationAndAtRule(t *testing.T) {
	src := "@star ({'@import': None, '@media print': {'a': {'x': '1'}}})"
	require.Equal(t, "@import;\n@media print {\n    a {\n        x: 1;\n    }\n}", process(t, src))
}

// Emitted values interleave with untouched document nodes in source order.
func TestOrderingWithPassthrough(t *testing.T) {
	src := "@star ({'a': {'x': '1'}});\nb {\n    y: 2;\n}\n@star ({'c': {'z': '3'}})"
	want := "a {\n    x: 1;\n}\nb {\n    y: 2;\n}\nc {\n    z: 3;\n}"
	require.Equal(t, want, process(t, src))
}

// An early return inside a block region abandons the remaining siblings,
// embedded or not.
func TestBlockReturnDiscardsLaterSiblings(t *testing.T) {
	src := "@star x = 'one';\na {\n    color: @star x;\n}\n@star return;\nb {\n    color: green;\n}\n"
	require.Equal(t, "\na {\n    color: one;\n}\n", process(t, src))
}

// Bare expression statements are emitted implicitly, in order.
func TestImplicitEmission(t *testing.T) {
	src := "@star\n    ({'a': {'x': '1'}})\n    ({'b': {'x': '2'}})"
	want := "a {\n    x: 1;\n}\nb {\n    x: 2;\n}"
	require.Equal(t, want, process(t, src))
}

func TestLoopEmission(t *testing.T) {
	// inside a loop body the implicit emission of bare expressions does
	// not apply; guest code calls emit explicitly
	src := "@star\n    for n in ['a', 'b', 'c']:\n        emit({n: {'order': n}})"
	want := "a {\n    order: a;\n}\nb {\n    order: b;\n}\nc {\n    order: c;\n}"
	require.Equal(t, want, process(t, src))
}

// Lists flatten; None disappears silently.
func TestListFlatteningAndNone(t *testing.T) {
	src := "@star [None, {'a': {'x': '1'}}, [{'b': {'x': '2'}}]]"
	want := "a {\n    x: 1;\n}\nb {\n    x: 2;\n}"
	require.Equal(t, want, process(t, src))
}

func TestSelectorInjection(t *testing.T) {
	src := "@star x = 'wide';\n.col-@star(x) {\n    margin: 0;\n}\n"
	require.Equal(t, "\n.col-wide {\n    margin: 0;\n}\n", process(t, src))
}

func TestSelectorInjectionTwoParts(t *testing.T) {
	src := "@star a = 'one';\n@star b = 'two';\n.@star(a), .@star(b) {\n    margin: 0;\n}\n"
	require.Equal(t, "\n.one, .two {\n    margin: 0;\n}\n", process(t, src))
}

// A selector fragment that is the only guest code in its scope still
// sees the scope's globals.
func TestSelectorOnlyFragmentSeesGlobals(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib.star"), []byte("cls = 'wide'\n"), 0o644))

	src := ".@star(require('lib.star').cls) {\n    margin: 0;\n}\n"
	c := &Compiler{}
	out, err := c.Process(src, filepath.Join(dir, "main.stcss"))
	require.NoError(t, err)
	require.Equal(t, ".wide {\n    margin: 0;\n}\n", out)
}

// A rule whose selector computes and whose body holds embedded code is
// rebuilt with both applied.
func TestSelectorAndBody(t *testing.T) {
	src := "@star x = 'nav';\n.@star(x) {\n    width: @star '%d%%' % 50;\n}\n"
	require.Equal(t, "\n.nav {\n    width: 50%;\n}\n", process(t, src))
}

// An expression fragment with a trailing block receives the block as a
// callable; a mapping value that is callable is invoked for its children.
func TestMixinBlock(t *testing.T) {
	src := "@star\n    def wrap(block):\n        return ({'@media print': block})\n;\n@star wrap {\n    a {\n        color: red;\n    }\n}\n"
	want := "@media print {\n    a {\n        color: red;\n    }\n}\n"
	require.Equal(t, want, process(t, src))
}

// A statement fragment with a trailing block emits the block function,
// which becomes the pending continuation and runs at region end.
func TestStatementBlockContinuation(t *testing.T) {
	src := "@star times = 2 {\n    a {\n        color: red;\n    }\n}\n"
	// the hoisted rule keeps its original formatting
	want := "\n    a {\n        color: red;\n    }\n"
	require.Equal(t, want, process(t, src))
}

// Exports written by one fragment are visible to later fragments through
// the shared scope.
func TestExportsWithinFile(t *testing.T) {
	src := "@star exports.accent = 'teal';\nem {\n    color: @star exports.accent;\n}\n"
	require.Equal(t, "\nem {\n    color: teal;\n}\n", process(t, src))
}

func TestRequireAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib.star"), []byte("ratio = '80%'\n"), 0o644))

	src := "@star lib = require('lib.star');\nd {\n    width: @star lib.ratio;\n}\n"
	c := &Compiler{}
	out, err := c.Process(src, filepath.Join(dir, "main.stcss"))
	require.NoError(t, err)
	require.Equal(t, "\nd {\n    width: 80%;\n}\n", out)
}

// Children from another file form their own sibling block; an early
// return in the first file's block aborts only that block.
func TestEarlyReturnKeepsSiblingFileBlocks(t *testing.T) {
	rootA, err := parser.Parse("@star return;\na {\n    x: 1;\n}\n", "a.stcss")
	require.NoError(t, err)
	rootB, err := parser.Parse("@star ({'b': {'y': '2'}});\n", "b.stcss")
	require.NoError(t, err)
	rootA.Nodes = append(rootA.Nodes, rootB.Nodes...)

	c := &Compiler{}
	compiled, err := c.Compile(rootA)
	require.NoError(t, err)
	require.Contains(t, compiled.Text, "_run(")
	require.NoError(t, compiled.Run())

	// the rule after the return is discarded, the other file's is not
	require.Equal(t, "b {\n    y: 2;\n}\n", parser.Stringify(rootA))
}

// Processing output that contains no markers is a fixed point.
func TestOutputIsStable(t *testing.T) {
	src := "@star ({'a': {'color': 'red'}});\nb {\n    color: blue;\n}\n"
	out1 := process(t, src)
	require.NotContains(t, out1, Marker)
	require.Equal(t, out1, process(t, out1))
}

func TestGlobalsProviderCalledOncePerFile(t *testing.T) {
	calls := 0
	c := &Compiler{Globals: func(key string, env *Env) (starlark.StringDict, error) {
		calls++
		return DefaultGlobals(key, env)
	}}
	src := "@star x = 1;\na {\n    y: @star x;\n    z: @star x + 1;\n}\n"
	_, err := c.Process(src, "t.stcss")
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"marker in at-rule params", "@media @star x {\n    a {\n        y: 1;\n    }\n}", "invalid use of @star"},
		{"marker in property", "a {\n    x-@star: 1;\n}", "invalid use of @star"},
		{"selector marker without parens", "a@star b {\n    color: red;\n}", "invalid use of @star"},
		{"marker mid-value", "a {\n    color: red @star x;\n}", "invalid use of @star"},
		{"selector statement fragment", "h1, .@star(x = 1) {\n    color: red;\n}", "must be an expression"},
		{"empty fragment", "@star ;", "empty @star fragment"},
		{"load", "@star load('x.star', 'y');", "load is not allowed"},
		{"syntax error", "@star (((;", "syntax error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Compiler{}
			_, err := c.Process(tt.src, "t.stcss")
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

// A name the program cannot resolve maps back to the fragment that
// mentions it.
func TestUndefinedNamePosition(t *testing.T) {
	e := processErr(t, "@star wrap {\n    a {\n        color: red;\n    }\n}")
	require.Equal(t, "t.stcss", e.File)
	require.Equal(t, 1, e.Line)
	require.Equal(t, 7, e.Col)
	require.Contains(t, e.Msg, "undefined: wrap")
}

// A runtime failure maps through the stack frame into the document.
func TestRuntimeErrorPosition(t *testing.T) {
	e := processErr(t, "@star fail('boom')")
	require.Equal(t, "t.stcss", e.File)
	require.Equal(t, 1, e.Line)
	require.Contains(t, e.Msg, "boom")
}

func TestRuntimeErrorOnLaterLine(t *testing.T) {
	e := processErr(t, "@star\n    x = 1\n    fail('later')")
	require.Equal(t, 3, e.Line)
}

func TestClassificationError(t *testing.T) {
	e := processErr(t, "@star [1]")
	require.Contains(t, e.Msg, "cannot interpret value")
	require.Contains(t, e.Msg, "int")
	require.Equal(t, 1, e.Line)
}

func TestDeclValueBadType(t *testing.T) {
	e := processErr(t, "a {\n    color: @star [1, 2];\n}")
	require.Contains(t, e.Msg, "cannot use")
	require.Contains(t, e.Msg, `"color"`)
	require.Equal(t, 2, e.Line)
}

// An error aborts the whole run: nothing is substituted and pending
// blocks are cancelled.
func TestErrorLeavesDocumentUntouched(t *testing.T) {
	src := "a {\n    x: @star 'ok';\n}\n@star fail('late')"
	c := &Compiler{}
	compiled, err := c.CompileSource(src, "t.stcss")
	require.NoError(t, err)
	require.Error(t, compiled.Run())

	// the parsed tree still carries the original marker value
	require.Contains(t, parser.Stringify(compiled.root), "@star 'ok'")
}

func TestEmitContainsProgram(t *testing.T) {
	c := &Compiler{}
	compiled, err := c.CompileSource("@star x = 1;\na {\n    y: @star x;\n}\n", "t.stcss")
	require.NoError(t, err)
	require.Contains(t, compiled.Text, "x = 1")
	require.Contains(t, compiled.Text, "_begin(")
	require.Contains(t, compiled.Text, "_end(True)")
	require.Contains(t, compiled.Text, "_scope(0)")
	require.Contains(t, compiled.Text, "_rebuild(")
}
