package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/starcss/starcss/ast"
)

func testEngine() (*Engine, *starlark.Thread) {
	return newEngine(&Compiled{file: "test.stcss"}), &starlark.Thread{Name: "test"}
}

func declNode(prop, value string) NodeValue {
	return NodeValue{Node: &ast.Declaration{Prop: prop, Value: value}}
}

func TestProcessFlattensNestedIterables(t *testing.T) {
	e, th := testEngine()

	inner := starlark.NewList([]starlark.Value{declNode("b", "2"), starlark.None})
	outer := starlark.NewList([]starlark.Value{
		declNode("a", "1"),
		inner,
		starlark.NewList([]starlark.Value{starlark.NewList([]starlark.Value{declNode("c", "3")})}),
	})

	require.NoError(t, e.process(th, outer))

	nodes := e.rootNodes()
	require.Len(t, nodes, 3)
	for i, want := range []string{"a", "b", "c"} {
		require.Equal(t, want, nodes[i].(*ast.Declaration).Prop)
	}
}

func TestProcessRejectsScalar(t *testing.T) {
	e, th := testEngine()
	err := e.process(th, starlark.MakeInt(42))
	require.ErrorContains(t, err, "cannot interpret value")
	require.ErrorContains(t, err, "42 (int)")
}

func TestPendingContinuationReceivesNextValue(t *testing.T) {
	e, th := testEngine()

	var got starlark.Value
	fn := starlark.NewBuiltin("f", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		got = args[0]
		return declNode("from-fn", "1"), nil
	})

	require.NoError(t, e.process(th, fn))
	require.Empty(t, e.rootNodes())

	require.NoError(t, e.process(th, starlark.String("payload")))
	require.Equal(t, starlark.String("payload"), got)

	nodes := e.rootNodes()
	require.Len(t, nodes, 1)
	require.Equal(t, "from-fn", nodes[0].(*ast.Declaration).Prop)
}

func TestEndRegionInvokesPendingWithoutArguments(t *testing.T) {
	e, th := testEngine()

	second := starlark.NewBuiltin("second", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		if len(args) != 0 {
			t.Fatalf("second called with %d args", len(args))
		}
		return declNode("done", "1"), nil
	})
	first := starlark.NewBuiltin("first", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		if len(args) != 0 {
			t.Fatalf("first called with %d args", len(args))
		}
		return second, nil
	})

	require.NoError(t, e.process(th, first))
	require.NoError(t, e.endRegion(th, true))

	nodes := e.rootNodes()
	require.Len(t, nodes, 1)
	require.Equal(t, "done", nodes[0].(*ast.Declaration).Prop)
}

func TestEndRegionSuppressesPending(t *testing.T) {
	e, th := testEngine()

	called := false
	fn := starlark.NewBuiltin("f", func(_ *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		called = true
		return starlark.None, nil
	})

	require.NoError(t, e.process(th, fn))
	require.NoError(t, e.endRegion(th, false))
	require.False(t, called)
	require.Empty(t, e.rootNodes())
}

func TestCancelClearsAllPending(t *testing.T) {
	e, th := testEngine()

	fn := starlark.NewBuiltin("f", func(_ *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		t.Fatal("continuation ran after cancel")
		return starlark.None, nil
	})
	require.NoError(t, e.process(th, fn))

	e.cancel()

	// a later value classifies normally instead of feeding the continuation
	require.NoError(t, e.process(th, declNode("x", "1")))
	require.Len(t, e.rootNodes(), 1)
}

// A guest call that returns without closing a region it opened must not
// leave that region attributing positions to later emissions.
func TestCallGuestDiscardsAbandonedRegions(t *testing.T) {
	e, th := testEngine()
	in := &ast.Input{File: "test.stcss", CSS: "abcdef"}

	fn := starlark.NewBuiltin("f", func(_ *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		e.regions = append(e.regions, &region{pos: &ast.Position{Input: in, Offset: 5}})
		return starlark.None, nil
	})

	_, err := e.callGuest(th, fn, nil)
	require.NoError(t, err)
	require.Empty(t, e.regions)

	d := starlark.NewDict(1)
	require.NoError(t, d.SetKey(starlark.String("color"), starlark.String("red")))
	require.NoError(t, e.process(th, d))
	require.Nil(t, e.rootNodes()[0].Pos())
}

func TestRegionPositionAttribution(t *testing.T) {
	e, th := testEngine()
	in := &ast.Input{File: "test.stcss", CSS: "abc def"}
	e.regions = append(e.regions, &region{pos: &ast.Position{Input: in, Offset: 4}})

	d := starlark.NewDict(1)
	require.NoError(t, d.SetKey(starlark.String("color"), starlark.String("red")))
	require.NoError(t, e.process(th, d))

	nodes := e.rootNodes()
	require.Len(t, nodes, 1)
	decl := nodes[0].(*ast.Declaration)
	require.NotNil(t, decl.Pos())
	require.Equal(t, 4, decl.Pos().Offset)
	require.True(t, decl.NodeRaws().Synthesized)

	// the node holds a copy, not the region's own position
	require.NotSame(t, e.regions[0].pos, decl.Pos())
}

func TestClassificationErrorCarriesRegionPosition(t *testing.T) {
	e, th := testEngine()
	in := &ast.Input{File: "test.stcss", CSS: "a\nbcd"}
	e.regions = append(e.regions, &region{pos: &ast.Position{Input: in, Offset: 2}})

	err := e.process(th, starlark.Float(1.5))

	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "test.stcss", perr.File)
	require.Equal(t, 2, perr.Line)
	require.Equal(t, 1, perr.Col)
	require.Contains(t, perr.Msg, "cannot interpret value")
}
