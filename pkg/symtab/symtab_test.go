package symtab_test

import (
	"testing"

	"github.com/kristofer/lisb/pkg/symtab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeclareAssignsSequentialSlots(t *testing.T) {
	tab := symtab.New()
	a, err := tab.Declare("a")
	require.NoError(t, err)
	b, err := tab.Declare("b")
	require.NoError(t, err)
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
	assert.Equal(t, 2, tab.Len())
}

func TestRedeclaringAnExistingNameReusesItsSlot(t *testing.T) {
	tab := symtab.New()
	first, err := tab.Declare("x")
	require.NoError(t, err)
	second, err := tab.Declare("x")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, tab.Len())
}

func TestResolveReportsUndeclaredNames(t *testing.T) {
	tab := symtab.New()
	_, ok := tab.Resolve("missing")
	assert.False(t, ok)

	slot, err := tab.Declare("present")
	require.NoError(t, err)
	resolved, ok := tab.Resolve("present")
	assert.True(t, ok)
	assert.Equal(t, slot, resolved)
}

func TestNameRoundTripsWithDeclare(t *testing.T) {
	tab := symtab.New()
	slot, err := tab.Declare("greeting")
	require.NoError(t, err)
	assert.Equal(t, "greeting", tab.Name(slot))
	assert.Equal(t, "", tab.Name(slot+1))
}
