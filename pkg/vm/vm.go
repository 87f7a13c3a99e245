// Package vm implements the bytecode virtual machine for lisb: fetch-
// decode-execute over call frames and a value stack, closure/upvalue
// capture, continuation capture and restore, and primitive dispatch.
// Grounded in structure on the teacher's pkg/vm/vm.go (an instance type
// holding all interpreter state, no process-global) and in semantics on
// spec.md §4.5 and original_source/src/vm/vm.c.
package vm

import (
	"io"
	"os"

	"github.com/kristofer/lisb/pkg/bytecode"
	"github.com/kristofer/lisb/pkg/gc"
	"github.com/kristofer/lisb/pkg/symtab"
	"github.com/kristofer/lisb/pkg/value"
)

// FramesMax bounds call-frame depth; StackMax bounds value-stack depth.
const (
	FramesMax = 64
	StackMax  = FramesMax * 256
)

// CallFrame is one activation record: the executing closure, its
// instruction pointer, and the base slot of its local variables.
type CallFrame struct {
	Closure *value.Closure
	IP      int
	BaseSP  int
}

type openUpvalue struct {
	idx int
	uv  *value.Upvalue
}

// VM owns every piece of live interpreter state: the value stack, the
// call-frame array, the open-upvalue list, the global table, and the
// heap it traces. A single instance may be reused across many Interpret
// calls; globals and interned strings accumulate across calls.
type VM struct {
	heap    *gc.Heap
	globals *symtab.Table

	globalValues []value.Value

	stack    [StackMax]value.Value
	stackTop int

	frames     [FramesMax]CallFrame
	frameCount int

	openUpvalues []*openUpvalue

	Out io.Writer
}

// New returns a VM sharing heap and globals with the rest of a run.
func New(heap *gc.Heap, globals *symtab.Table) *VM {
	vm := &VM{heap: heap, globals: globals, Out: os.Stdout}
	heap.RegisterRootSource(vm)
	return vm
}

// CollectRoots implements gc.RootSource.
func (vm *VM) CollectRoots() []value.Value {
	roots := make([]value.Value, 0, vm.stackTop+vm.frameCount+len(vm.openUpvalues)+len(vm.globalValues))
	for i := 0; i < vm.stackTop; i++ {
		roots = append(roots, vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		roots = append(roots, value.ObjVal(vm.frames[i].Closure))
	}
	for _, e := range vm.openUpvalues {
		roots = append(roots, value.ObjVal(e.uv))
	}
	roots = append(roots, vm.globalValues...)
	return roots
}

// Define installs a primitive or other top-level value directly into a
// fresh global slot, bypassing the compiler. Used during bootstrap to
// register primitives (see primitives.go).
func (vm *VM) Define(name string, v value.Value) {
	slot, _ := vm.globals.Declare(name)
	vm.setGlobal(slot, v)
}

func (vm *VM) setGlobal(slot int, v value.Value) {
	for len(vm.globalValues) <= slot {
		vm.globalValues = append(vm.globalValues, value.VoidVal())
	}
	vm.globalValues[slot] = v
}

func (vm *VM) getGlobal(slot int) value.Value {
	if slot < 0 || slot >= len(vm.globalValues) {
		return value.VoidVal()
	}
	return vm.globalValues[slot]
}

func (vm *VM) push(v value.Value) { vm.stack[vm.stackTop] = v; vm.stackTop++ }

func (vm *VM) pop() value.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.stackTop-1-distance]
}

// resetStack clears the value stack and call frames after a runtime
// error, per spec §4.5 "Runtime errors unwind the stack".
func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

// Call pushes closure and then args onto the stack, invokes closure with
// them, runs it to completion, and returns its result. Used by the
// top-level driver (package interp) to run a freshly compiled script;
// primitives never re-enter run.
func (vm *VM) Call(closure *value.Closure, args []value.Value) (value.Value, error) {
	vm.push(value.ObjVal(closure))
	for _, a := range args {
		vm.push(a)
	}
	if err := vm.callValue(value.ObjVal(closure), len(args)); err != nil {
		return value.Value{}, err
	}
	return vm.run()
}

func (vm *VM) captureUpvalue(idx int) *value.Upvalue {
	pos := 0
	for pos < len(vm.openUpvalues) && vm.openUpvalues[pos].idx > idx {
		pos++
	}
	if pos < len(vm.openUpvalues) && vm.openUpvalues[pos].idx == idx {
		return vm.openUpvalues[pos].uv
	}
	uv := vm.heap.NewUpvalue(&vm.stack[idx], idx)
	entry := &openUpvalue{idx: idx, uv: uv}
	vm.openUpvalues = append(vm.openUpvalues, nil)
	copy(vm.openUpvalues[pos+1:], vm.openUpvalues[pos:])
	vm.openUpvalues[pos] = entry
	return uv
}

func (vm *VM) closeUpvalues(fromIdx int) {
	i := 0
	for i < len(vm.openUpvalues) && vm.openUpvalues[i].idx >= fromIdx {
		vm.openUpvalues[i].uv.Close()
		i++
	}
	vm.openUpvalues = vm.openUpvalues[i:]
}

func (vm *VM) callValue(callee value.Value, argc int) error {
	if !callee.IsObj() || callee.Obj == nil {
		return vm.runtimeError("Application not a procedure.")
	}
	switch o := callee.Obj.(type) {
	case *value.Closure:
		return vm.callClosure(o, argc)
	case *value.Primitive:
		args := vm.stack[vm.stackTop-argc : vm.stackTop]
		result, err := o.Fn(args)
		if err != nil {
			return vm.runtimeError("%s", err.Error())
		}
		vm.stackTop -= argc + 1
		vm.push(result)
		return nil
	case *value.Continuation:
		return vm.callContinuation(o, argc)
	default:
		return vm.runtimeError("Application not a procedure.")
	}
}

func (vm *VM) callClosure(cl *value.Closure, argc int) error {
	if argc != cl.Function.Arity {
		return vm.runtimeError("Expected %d arguments but got %d.", cl.Function.Arity, argc)
	}
	if vm.frameCount == FramesMax {
		return vm.runtimeError("Stack overflow.")
	}
	vm.frames[vm.frameCount] = CallFrame{Closure: cl, IP: 0, BaseSP: vm.stackTop - argc - 1}
	vm.frameCount++
	return nil
}

func (vm *VM) callContinuation(cont *value.Continuation, argc int) error {
	if argc != 1 {
		return vm.runtimeError("A continuation takes exactly 1 argument.")
	}
	result := vm.pop()

	copy(vm.stack[:len(cont.Stack)], cont.Stack)
	vm.stackTop = cont.StackTop

	vm.frameCount = len(cont.Frames)
	for i, fr := range cont.Frames {
		vm.frames[i] = CallFrame{Closure: fr.Closure, IP: fr.IP, BaseSP: fr.BaseSP}
	}

	vm.openUpvalues = vm.openUpvalues[:0]
	for _, uv := range cont.OpenUpvalues {
		// Re-open uv over its original slot in this VM's single shared
		// stack array, even if real execution had since closed it.
		uv.Location = &vm.stack[uv.Index]
		vm.openUpvalues = append(vm.openUpvalues, &openUpvalue{idx: uv.Index, uv: uv})
	}

	// Resume just past the OP_CALL that was in flight at capture time. The
	// snapshot was taken before the continuation argument itself was
	// pushed (see captureContinuation's call site), so cont.Stack already
	// excludes that slot; only the callee slot remains to discard before
	// the supplied result takes its place.
	top := &vm.frames[vm.frameCount-1]
	top.IP += 2
	vm.stackTop -= 1
	vm.push(result)
	return nil
}

// runtimeError formats msg, synthesizes a stack trace from the current
// frames, and resets the stack.
func (vm *VM) runtimeError(format string, args ...any) error {
	err := newRuntimeError(format, args, vm.frames[:vm.frameCount])
	vm.resetStack()
	return err
}

// run executes frames until the outermost frame returns, then yields its
// result.
func (vm *VM) run() (value.Value, error) {
	for {
		frame := &vm.frames[vm.frameCount-1]
		chunk := &frame.Closure.Function.Chunk
		op := bytecode.Op(chunk.Code[frame.IP])
		frame.IP++

		switch op {
		case bytecode.OpConstant:
			idx := chunk.Code[frame.IP]
			frame.IP++
			vm.push(chunk.Constants[idx])

		case bytecode.OpNull:
			vm.push(value.NullVal())
		case bytecode.OpTrue:
			vm.push(value.BoolVal(true))
		case bytecode.OpFalse:
			vm.push(value.BoolVal(false))
		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpGetLocal:
			slot := chunk.Code[frame.IP]
			frame.IP++
			vm.push(vm.stack[frame.BaseSP+int(slot)])
		case bytecode.OpSetLocal:
			slot := chunk.Code[frame.IP]
			frame.IP++
			vm.stack[frame.BaseSP+int(slot)] = vm.peek(0)

		case bytecode.OpGetGlobal:
			slot := vm.readU16(chunk, frame)
			vm.push(vm.getGlobal(int(slot)))
		case bytecode.OpSetGlobal:
			slot := vm.readU16(chunk, frame)
			vm.setGlobal(int(slot), vm.peek(0))

		case bytecode.OpGetUpvalue:
			idx := chunk.Code[frame.IP]
			frame.IP++
			vm.push(*frame.Closure.Upvalues[idx].Location)
		case bytecode.OpSetUpvalue:
			idx := chunk.Code[frame.IP]
			frame.IP++
			*frame.Closure.Upvalues[idx].Location = vm.peek(0)

		case bytecode.OpJump:
			offset := vm.readU16(chunk, frame)
			frame.IP += int(offset)
		case bytecode.OpJumpIfFalse:
			offset := vm.readU16(chunk, frame)
			if vm.peek(0).IsFalsey() {
				frame.IP += int(offset)
			}

		case bytecode.OpCall:
			argc := int(chunk.Code[frame.IP])
			frame.IP++
			callee := vm.peek(argc)
			if err := vm.callValue(callee, argc); err != nil {
				return value.Value{}, err
			}

		case bytecode.OpTailCall:
			argc := int(chunk.Code[frame.IP])
			frame.IP++
			if err := vm.tailCall(frame, argc); err != nil {
				return value.Value{}, err
			}

		case bytecode.OpClosure:
			idx := chunk.Code[frame.IP]
			frame.IP++
			fn := chunk.Constants[idx].Obj.(*value.Function)
			upvals := make([]*value.Upvalue, fn.UpvalueCount)
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := chunk.Code[frame.IP]
				index := chunk.Code[frame.IP+1]
				frame.IP += 2
				if isLocal != 0 {
					upvals[i] = vm.captureUpvalue(frame.BaseSP + int(index))
				} else {
					upvals[i] = frame.Closure.Upvalues[index]
				}
			}
			vm.push(value.ObjVal(vm.heap.NewClosure(fn, upvals)))

		case bytecode.OpContinuation:
			vm.push(value.ObjVal(vm.captureContinuation()))

		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case bytecode.OpEndScope:
			n := int(chunk.Code[frame.IP])
			frame.IP++
			result := vm.pop()
			base := vm.stackTop - n
			vm.closeUpvalues(base)
			vm.stackTop = base
			vm.push(result)

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.BaseSP)
			vm.stackTop = frame.BaseSP
			vm.frameCount--
			if vm.frameCount == 0 {
				return result, nil
			}
			vm.push(result)

		default:
			return value.Value{}, vm.runtimeError("Unknown opcode %d.", op)
		}
	}
}

func (vm *VM) readU16(chunk *value.Chunk, frame *CallFrame) uint16 {
	hi := uint16(chunk.Code[frame.IP])
	lo := uint16(chunk.Code[frame.IP+1])
	frame.IP += 2
	return hi<<8 | lo
}

// tailCall reuses the current frame's stack region for the new call so
// that a tail-recursive loop does not grow the call-frame count.
func (vm *VM) tailCall(frame *CallFrame, argc int) error {
	vm.closeUpvalues(frame.BaseSP)
	base := frame.BaseSP
	src := vm.stackTop - argc - 1
	copy(vm.stack[base:base+argc+1], vm.stack[src:src+argc+1])
	vm.stackTop = base + argc + 1
	vm.frameCount--
	return vm.callValue(vm.stack[base], argc)
}

func (vm *VM) captureContinuation() *value.Continuation {
	frameSnapshots := make([]value.CallFrameSnapshot, vm.frameCount)
	for i := 0; i < vm.frameCount; i++ {
		frameSnapshots[i] = value.CallFrameSnapshot{
			Closure: vm.frames[i].Closure,
			IP:      vm.frames[i].IP,
			BaseSP:  vm.frames[i].BaseSP,
		}
	}
	openUvs := make([]*value.Upvalue, len(vm.openUpvalues))
	for i, e := range vm.openUpvalues {
		openUvs[i] = e.uv
	}
	return vm.heap.NewContinuation(vm.stack[:vm.stackTop], frameSnapshots, openUvs, vm.stackTop)
}
