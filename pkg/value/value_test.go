package value_test

import (
	"testing"

	"github.com/kristofer/lisb/pkg/gc"
	"github.com/kristofer/lisb/pkg/value"
	"github.com/stretchr/testify/assert"
)

func testHeap() *gc.Heap { return gc.NewHeap() }

func TestIsFalsey(t *testing.T) {
	assert.True(t, value.BoolVal(false).IsFalsey())
	assert.False(t, value.BoolVal(true).IsFalsey())
	assert.False(t, value.NullVal().IsFalsey())
	assert.False(t, value.NumberVal(0).IsFalsey())
	assert.False(t, value.VoidVal().IsFalsey())
}

func TestEqual(t *testing.T) {
	assert.True(t, value.NumberVal(3).Equal(value.NumberVal(3)))
	assert.False(t, value.NumberVal(3).Equal(value.NumberVal(4)))
	assert.True(t, value.BoolVal(true).Equal(value.BoolVal(true)))
	assert.True(t, value.NullVal().Equal(value.NullVal()))
	assert.False(t, value.NullVal().Equal(value.VoidVal()))
}

func TestNumberFormatting(t *testing.T) {
	assert.Equal(t, "3", value.NumberVal(3).String())
	assert.Equal(t, "3.5", value.NumberVal(3.5).String())
	assert.Equal(t, "-2", value.NumberVal(-2).String())
}

func TestBoolAndNullDisplay(t *testing.T) {
	assert.Equal(t, "#t", value.BoolVal(true).String())
	assert.Equal(t, "#f", value.BoolVal(false).String())
	assert.Equal(t, "()", value.NullVal().String())
	assert.Equal(t, "", value.VoidVal().String())
}

func TestConsDisplaysAsList(t *testing.T) {
	h := testHeap()
	cons := h.NewCons(value.NumberVal(1), value.ObjVal(h.NewCons(value.NumberVal(2), value.NullVal())))
	assert.Equal(t, "(1 2)", cons.String())
}

func TestConsDisplaysDottedPair(t *testing.T) {
	h := testHeap()
	cons := h.NewCons(value.NumberVal(1), value.NumberVal(2))
	assert.Equal(t, "(1 . 2)", cons.String())
}
