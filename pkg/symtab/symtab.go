// Package symtab implements the fixed-capacity global symbol table: a
// name-to-slot mapping shared by the compiler (which assigns slots) and
// the VM (which stores values in a parallel side array indexed by slot).
package symtab

import "fmt"

// MaxGlobals bounds the number of distinct top-level bindings a single
// run may define, matching the u16 operand width of OP_GET_GLOBAL and
// OP_SET_GLOBAL.
const MaxGlobals = 1 << 16

// Table maps interned global names to slot indices. Slot assignment is
// append-only within a run: once a symbol is given a slot, that slot
// never changes or moves, even across redefinition.
type Table struct {
	slots map[string]int
	names []string
}

// New returns an empty global table.
func New() *Table {
	return &Table{slots: make(map[string]int)}
}

// Resolve returns the slot for name and true if it has already been
// declared, or (0, false) otherwise.
func (t *Table) Resolve(name string) (int, bool) {
	slot, ok := t.slots[name]
	return slot, ok
}

// Declare returns the slot for name, allocating a fresh one if name has
// not been declared before. Declaring an already-declared name is a
// no-op that returns the existing slot, so that repeated top-level
// `define`s reuse one global cell.
func (t *Table) Declare(name string) (int, error) {
	if slot, ok := t.slots[name]; ok {
		return slot, nil
	}
	if len(t.names) >= MaxGlobals {
		return 0, fmt.Errorf("too many globals (max %d)", MaxGlobals)
	}
	slot := len(t.names)
	t.slots[name] = slot
	t.names = append(t.names, name)
	return slot, nil
}

// Len reports how many slots have been allocated.
func (t *Table) Len() int { return len(t.names) }

// Name returns the name bound to slot, for diagnostics.
func (t *Table) Name(slot int) string {
	if slot < 0 || slot >= len(t.names) {
		return ""
	}
	return t.names[slot]
}
