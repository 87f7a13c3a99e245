package parser_test

import (
	"testing"

	"github.com/kristofer/lisb/pkg/gc"
	"github.com/kristofer/lisb/pkg/parser"
	"github.com/kristofer/lisb/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseOne(t *testing.T, src string) value.Value {
	t.Helper()
	p := parser.New(src, gc.NewHeap())
	form, ok, err := p.ParseForm()
	require.NoError(t, err)
	require.True(t, ok)
	return form
}

func TestParsesSelfEvaluatingAtoms(t *testing.T) {
	assert.Equal(t, float64(42), parseOne(t, "42").Num)
	assert.True(t, parseOne(t, "#t").Bool)
	assert.False(t, parseOne(t, "#f").Bool)
}

func TestParsesDefine(t *testing.T) {
	form := parseOne(t, "(define x 10)")
	require.True(t, form.IsObjType(value.ObjCons))
	head := form.Obj.(*value.Cons).Car
	assert.Equal(t, "define", head.Obj.(*value.Symbol).Chars)
}

func TestParsesNestedApplication(t *testing.T) {
	form := parseOne(t, "(+ 1 (* 2 3))")
	require.True(t, form.IsObjType(value.ObjCons))
	assert.Equal(t, "(+ 1 (* 2 3))", form.String())
}

func TestParsesQuoteAsDatum(t *testing.T) {
	form := parseOne(t, "(quote (a b))")
	cons := form.Obj.(*value.Cons)
	assert.Equal(t, "quote", cons.Car.Obj.(*value.Symbol).Chars)
}

func TestEveryFormProducesAValue(t *testing.T) {
	p := parser.New("1 2 3", gc.NewHeap())
	var count int
	for {
		_, ok, err := p.ParseForm()
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, 3, count)
}

func TestSetRequiresAnOrdinarySymbolName(t *testing.T) {
	p := parser.New("(set! #t 1)", gc.NewHeap())
	_, _, err := p.ParseForm()
	require.Error(t, err)
	perr, ok := err.(*parser.Error)
	require.True(t, ok)
	assert.Equal(t, 1, perr.Line)
}

func TestLambdaFormalsMustBeSymbols(t *testing.T) {
	p := parser.New("(lambda (1) x)", gc.NewHeap())
	_, _, err := p.ParseForm()
	require.Error(t, err)
	_, ok := err.(*parser.Error)
	assert.True(t, ok)
}

func TestCallCcTakesExactlyOneArgument(t *testing.T) {
	p := parser.New("(call/cc x y)", gc.NewHeap())
	_, _, err := p.ParseForm()
	require.Error(t, err)
	_, ok := err.(*parser.Error)
	assert.True(t, ok)
}
