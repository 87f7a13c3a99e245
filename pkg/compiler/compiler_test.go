package compiler_test

import (
	"testing"

	"github.com/kristofer/lisb/pkg/bytecode"
	"github.com/kristofer/lisb/pkg/compiler"
	"github.com/kristofer/lisb/pkg/gc"
	"github.com/kristofer/lisb/pkg/parser"
	"github.com/kristofer/lisb/pkg/symtab"
	"github.com/kristofer/lisb/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileSource(t *testing.T, src string) *bytecodeProgram {
	t.Helper()
	heap := gc.NewHeap()
	globals := symtab.New()
	p := parser.New(src, heap)
	form, ok, err := p.ParseForm()
	require.NoError(t, err)
	require.True(t, ok)

	c := compiler.New(heap, globals)
	fn, err := c.Compile(form)
	require.NoError(t, err)
	return &bytecodeProgram{code: fn.Chunk.Code}
}

type bytecodeProgram struct{ code []byte }

func (p *bytecodeProgram) contains(op bytecode.Op) bool {
	for _, b := range p.code {
		if bytecode.Op(b) == op {
			return true
		}
	}
	return false
}

func TestNumberLiteralCompilesToConstant(t *testing.T) {
	prog := compileSource(t, "42")
	assert.True(t, prog.contains(bytecode.OpConstant))
}

func TestBooleanLiteralsUseDedicatedOpcodes(t *testing.T) {
	assert.True(t, compileSource(t, "#t").contains(bytecode.OpTrue))
	assert.True(t, compileSource(t, "#f").contains(bytecode.OpFalse))
	assert.False(t, compileSource(t, "#t").contains(bytecode.OpConstant))
}

func TestTopLevelDefineEmitsSetGlobal(t *testing.T) {
	prog := compileSource(t, "(define x 1)")
	assert.True(t, prog.contains(bytecode.OpSetGlobal))
}

func TestIfCompilesToConditionalJumps(t *testing.T) {
	prog := compileSource(t, "(if #t 1 2)")
	assert.True(t, prog.contains(bytecode.OpJumpIfFalse))
	assert.True(t, prog.contains(bytecode.OpJump))
}

func TestLambdaInTailPositionEmitsTailCall(t *testing.T) {
	heap := gc.NewHeap()
	globals := symtab.New()
	globals.Declare("f")
	p := parser.New("(lambda (n) (f n))", heap)
	form, _, err := p.ParseForm()
	require.NoError(t, err)
	c := compiler.New(heap, globals)
	fn, err := c.Compile(form)
	require.NoError(t, err)

	// The lambda's own chunk lives in the constant pool of the script
	// chunk that wraps it; find it and check its body ends with a tail
	// call rather than a plain call.
	require.Len(t, fn.Chunk.Constants, 1)
	inner, ok := fn.Chunk.Constants[0].Obj.(*value.Function)
	require.True(t, ok)
	assert.True(t, (&bytecodeProgram{code: inner.Chunk.Code}).contains(bytecode.OpTailCall))
}

func TestBareSymbolFormalsIsTreatedAsArityOne(t *testing.T) {
	heap := gc.NewHeap()
	globals := symtab.New()
	p := parser.New("(lambda args args)", heap)
	form, _, err := p.ParseForm()
	require.NoError(t, err)
	c := compiler.New(heap, globals)
	fn, err := c.Compile(form)
	require.NoError(t, err)

	require.Len(t, fn.Chunk.Constants, 1)
	inner, ok := fn.Chunk.Constants[0].Obj.(*value.Function)
	require.True(t, ok)
	assert.Equal(t, 1, inner.Arity)
}

func TestUndefinedVariableIsACompileError(t *testing.T) {
	heap := gc.NewHeap()
	globals := symtab.New()
	p := parser.New("unbound", heap)
	form, _, err := p.ParseForm()
	require.NoError(t, err)
	c := compiler.New(heap, globals)
	_, err = c.Compile(form)
	require.Error(t, err)
	_, ok := err.(*compiler.Error)
	assert.True(t, ok)
}
