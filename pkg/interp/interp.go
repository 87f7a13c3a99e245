// Package interp wires the lexer, parser, compiler, and VM into the
// single Interpret entry point described by spec.md §6. It mirrors
// original_source/src/vm/vm.c's vm_interpret: read one top-level form at
// a time, compile it into a fresh script function, and run it, so that
// an error in form N does not prevent forms 1..N-1's side effects (top-
// level defines, display calls) from having already taken place.
package interp

import (
	"fmt"

	"github.com/kristofer/lisb/pkg/compiler"
	"github.com/kristofer/lisb/pkg/gc"
	"github.com/kristofer/lisb/pkg/parser"
	"github.com/kristofer/lisb/pkg/symtab"
	"github.com/kristofer/lisb/pkg/value"
	"github.com/kristofer/lisb/pkg/vm"
)

// Result classifies how a run ended, for the CLI to choose an exit code.
type Result int

const (
	Ok Result = iota
	CompileError
	RuntimeError
)

// Interpreter bundles one shared heap, global symbol table, and VM
// across a REPL session or a single file run, so top-level defines and
// interned strings persist across calls to Interpret.
type Interpreter struct {
	Heap     *gc.Heap
	Globals  *symtab.Table
	VM       *vm.VM
	compiler *compiler.Compiler
}

// New returns a ready-to-use Interpreter with every primitive installed.
func New() *Interpreter {
	heap := gc.NewHeap()
	globals := symtab.New()
	machine := vm.New(heap, globals)
	vm.RegisterPrimitives(machine, heap)
	comp := compiler.New(heap, globals)
	heap.RegisterRootSource(comp)
	return &Interpreter{Heap: heap, Globals: globals, VM: machine, compiler: comp}
}

// Interpret parses and runs every top-level form in source in order,
// stopping at the first error. It returns the last value produced (for
// a REPL to print) along with a Result classifying how the run ended.
func (in *Interpreter) Interpret(source string) (value.Value, Result, error) {
	p := parser.New(source, in.Heap)
	last := value.VoidVal()
	for {
		form, ok, err := p.ParseForm()
		if err != nil {
			return value.Value{}, CompileError, err
		}
		if !ok {
			return last, Ok, nil
		}

		fn, err := in.compiler.Compile(form)
		if err != nil {
			return value.Value{}, CompileError, err
		}

		closure := in.Heap.NewClosure(fn, nil)
		result, err := in.VM.Call(closure, nil)
		if err != nil {
			return value.Value{}, RuntimeError, err
		}
		last = result
	}
}

// FormatError renders err (a parser/compiler *Error, compiler
// *compiler.Error, or *vm.RuntimeError) the way the CLI prints it to
// stderr, per spec.md §7.
func FormatError(err error) string {
	return fmt.Sprintf("%s", err)
}
