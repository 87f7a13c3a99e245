// Package compiler translates one parsed form at a time into a bytecode
// Function: it resolves lexical scoping, synthesizes closure upvalues,
// and classifies tail positions. Grounded in structure on the teacher's
// pkg/compiler/compiler.go (a single `current` environment threaded
// through compile methods) and in semantics on spec.md §4.3 and
// original_source/src/compiler/compiler.c.
package compiler

import (
	"fmt"

	"github.com/kristofer/lisb/pkg/bytecode"
	"github.com/kristofer/lisb/pkg/gc"
	"github.com/kristofer/lisb/pkg/lexer"
	"github.com/kristofer/lisb/pkg/symtab"
	"github.com/kristofer/lisb/pkg/value"
)

// maxLocals bounds locals and upvalues per function to the byte operand
// width of GET/SET_LOCAL and GET/SET_UPVALUE.
const maxLocals = 256

// Error is a compile failure: it carries the offending symbol's source
// location and terminates compilation of the current top-level form.
type Error struct {
	Line, Col int
	Message   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%d:%d] compile error: %s", e.Line, e.Col, e.Message)
}

type local struct {
	name     string
	depth    int
	captured bool
}

type upvalueSlot struct {
	index   uint8
	isLocal bool
}

// environment is one function's compile-time scope: its locals, its
// upvalue table, and a link to the environment compiling the enclosing
// function (nil at the top level).
type environment struct {
	enclosing  *environment
	function   *value.Function
	locals     []local
	scopeDepth int
	upvalues   []upvalueSlot
}

// Compiler compiles one form at a time, reusing the global table across
// calls within a run and allocating heap objects (functions, closures'
// constant strings) via heap.
type Compiler struct {
	heap    *gc.Heap
	globals *symtab.Table
	current *environment
}

// New returns a compiler sharing heap and globals with the rest of a run.
func New(heap *gc.Heap, globals *symtab.Table) *Compiler {
	return &Compiler{heap: heap, globals: globals}
}

// CollectRoots implements gc.RootSource: while a compilation is in
// progress, every environment on the stack keeps its in-progress function
// reachable so a collection mid-compile cannot reclaim it.
func (c *Compiler) CollectRoots() []value.Value {
	var roots []value.Value
	for env := c.current; env != nil; env = env.enclosing {
		if env.function != nil {
			roots = append(roots, value.ObjVal(env.function))
		}
	}
	return roots
}

// Compile compiles one top-level form into a script Function of arity 0.
func (c *Compiler) Compile(form value.Value) (fn *value.Function, err error) {
	script := c.heap.NewFunction(true)
	c.current = &environment{function: script}
	// Slot 0 of every call frame holds the callee itself (see
	// compileLambda); the top-level script frame is no exception, so its
	// local-slot numbering must start from 1 as well.
	c.current.locals = append(c.current.locals, local{name: "", depth: 0, captured: false})
	defer func() { c.current = nil }()

	if err := c.compileTopLevel(form); err != nil {
		return nil, err
	}
	c.emitByte(byte(bytecode.OpReturn), 0)
	return script, nil
}

func (c *Compiler) compileTopLevel(form value.Value) error {
	if isDefinitionForm(form) {
		return c.compileDefinition(form)
	}
	return c.compileExpr(form, false)
}

// --- form recognition ---

func formHead(form value.Value) (*value.Symbol, value.Value, bool) {
	if !form.IsObjType(value.ObjCons) {
		return nil, value.Value{}, false
	}
	cons := form.Obj.(*value.Cons)
	if !cons.Car.IsObjType(value.ObjSymbol) {
		return nil, cons.Cdr, false
	}
	return cons.Car.Obj.(*value.Symbol), cons.Cdr, true
}

func isDefinitionForm(form value.Value) bool {
	sym, _, ok := formHead(form)
	return ok && sym.TokenKind == lexer.Define
}

// listItems walks a proper list value into a Go slice.
func listItems(v value.Value) []value.Value {
	var items []value.Value
	for v.IsObjType(value.ObjCons) {
		cons := v.Obj.(*value.Cons)
		items = append(items, cons.Car)
		v = cons.Cdr
	}
	return items
}

// --- compiling forms ---

func (c *Compiler) compileDefinition(form value.Value) error {
	_, rest, _ := formHead(form)
	parts := listItems(rest)
	if len(parts) != 2 {
		return &Error{Message: "malformed define"}
	}
	nameSym := parts[0].Obj.(*value.Symbol)
	valueForm := parts[1]

	if c.current.scopeDepth == 0 {
		slot, err := c.globals.Declare(nameSym.Chars)
		if err != nil {
			return &Error{Line: nameSym.Line, Col: nameSym.Col, Message: err.Error()}
		}
		if err := c.compileExpr(valueForm, false); err != nil {
			return err
		}
		c.emitU16(byte(bytecode.OpSetGlobal), uint16(slot), nameSym.Line)
		c.emitByte(byte(bytecode.OpPop), nameSym.Line)
		// Top-level define yields Void for REPL hygiene (spec.md §9).
		c.emitConstantValue(value.VoidVal(), nameSym.Line)
		return nil
	}

	if err := c.declareLocal(nameSym); err != nil {
		return err
	}
	if err := c.compileExpr(valueForm, false); err != nil {
		return err
	}
	c.markInitialized()
	return nil
}

func (c *Compiler) compileExpr(form value.Value, tail bool) error {
	switch {
	case form.IsNumber():
		return c.emitConstantValue(form, 0)
	case form.IsBool():
		if form.Bool {
			c.emitByte(byte(bytecode.OpTrue), 0)
		} else {
			c.emitByte(byte(bytecode.OpFalse), 0)
		}
		return nil
	case form.IsNull():
		c.emitByte(byte(bytecode.OpNull), 0)
		return nil
	case form.IsObjType(value.ObjString):
		return c.emitConstantValue(form, 0)
	case form.IsObjType(value.ObjSymbol):
		sym := form.Obj.(*value.Symbol)
		return c.compileVariableRead(sym)
	case form.IsObjType(value.ObjCons):
		return c.compileList(form, tail)
	default:
		return &Error{Message: "cannot compile expression"}
	}
}

func (c *Compiler) compileList(form value.Value, tail bool) error {
	sym, rest, isSym := formHead(form)
	if isSym {
		switch sym.TokenKind {
		case lexer.Quote:
			return c.compileQuote(rest)
		case lexer.Lambda:
			return c.compileLambda(rest, sym)
		case lexer.Let:
			return c.compileLet(rest, sym)
		case lexer.Begin:
			return c.compileBegin(rest, tail)
		case lexer.If:
			return c.compileIf(rest, tail)
		case lexer.Set:
			return c.compileSet(rest, sym)
		case lexer.CallCc:
			return c.compileCallCc(rest, sym)
		}
	}
	return c.compileApplication(form, tail)
}

func (c *Compiler) compileQuote(rest value.Value) error {
	parts := listItems(rest)
	if len(parts) != 1 {
		return &Error{Message: "malformed quote"}
	}
	return c.emitConstantValue(parts[0], 0)
}

func (c *Compiler) compileLambda(rest value.Value, at *value.Symbol) error {
	cons, ok := rest.Obj.(*value.Cons)
	if !ok {
		return &Error{Line: at.Line, Col: at.Col, Message: "malformed lambda"}
	}
	formals := cons.Car
	body := cons.Cdr

	fn := c.heap.NewFunction(false)
	enclosing := c.current
	c.current = &environment{enclosing: enclosing, function: fn, scopeDepth: enclosing.scopeDepth + 1}
	// Slot 0 is reserved for the closure's own value.
	c.current.locals = append(c.current.locals, local{name: "", depth: 0, captured: false})

	var formalSyms []*value.Symbol
	if formals.IsObjType(value.ObjSymbol) {
		formalSyms = append(formalSyms, formals.Obj.(*value.Symbol))
	} else {
		for _, f := range listItems(formals) {
			formalSyms = append(formalSyms, f.Obj.(*value.Symbol))
		}
	}
	if len(formalSyms) > 255 {
		return &Error{Line: at.Line, Col: at.Col, Message: "too many formal parameters (max 255)"}
	}
	for _, f := range formalSyms {
		if err := c.declareLocal(f); err != nil {
			return err
		}
		c.markInitialized()
	}
	fn.Arity = len(formalSyms)

	if err := c.compileBody(listItems(body), true); err != nil {
		return err
	}
	c.emitByte(byte(bytecode.OpReturn), at.Line)
	fn.UpvalueCount = len(c.current.upvalues)
	upvals := c.current.upvalues
	c.current = enclosing

	idx, err := c.makeConstant(value.ObjVal(fn))
	if err != nil {
		return &Error{Line: at.Line, Col: at.Col, Message: err.Error()}
	}
	c.emitByte(byte(bytecode.OpClosure), at.Line)
	c.emitByte(idx, at.Line)
	for _, uv := range upvals {
		if uv.isLocal {
			c.emitByte(1, at.Line)
		} else {
			c.emitByte(0, at.Line)
		}
		c.emitByte(uv.index, at.Line)
	}
	return nil
}

// compileBody compiles `definition* expression+`: non-final forms are
// compiled tail=false and popped (definitions instead occupy a fresh
// local slot and are never popped); the final expression inherits tail.
func (c *Compiler) compileBody(forms []value.Value, tail bool) error {
	if len(forms) == 0 {
		return &Error{Message: "empty body"}
	}
	for i, f := range forms {
		last := i == len(forms)-1
		if isDefinitionForm(f) {
			if err := c.compileDefinition(f); err != nil {
				return err
			}
			continue
		}
		if err := c.compileExpr(f, tail && last); err != nil {
			return err
		}
		if !last {
			c.emitByte(byte(bytecode.OpPop), 0)
		}
	}
	return nil
}

func (c *Compiler) compileLet(rest value.Value, at *value.Symbol) error {
	cons, ok := rest.Obj.(*value.Cons)
	if !ok {
		return &Error{Line: at.Line, Col: at.Col, Message: "malformed let"}
	}
	bindingForms := listItems(cons.Car)
	body := cons.Cdr

	type binding struct {
		name *value.Symbol
	}
	var bindings []binding

	// Evaluate every initializer before any binding's name becomes
	// visible, so a reference to a sibling binding resolves outside this
	// let (plain `let`, not `let*`).
	for _, bf := range bindingForms {
		parts := listItems(bf)
		if len(parts) != 2 {
			return &Error{Line: at.Line, Col: at.Col, Message: "malformed binding"}
		}
		nameSym := parts[0].Obj.(*value.Symbol)
		if err := c.compileExpr(parts[1], false); err != nil {
			return err
		}
		bindings = append(bindings, binding{name: nameSym})
	}

	c.beginScope()
	baseSlot := len(c.current.locals)
	for _, b := range bindings {
		if err := c.declareLocal(b.name); err != nil {
			return err
		}
		c.markInitialized()
	}

	// Tail does NOT propagate through let's result.
	if err := c.compileBody(listItems(body), false); err != nil {
		return err
	}

	c.endScopeKeepingResult(baseSlot)
	return nil
}

func (c *Compiler) compileBegin(rest value.Value, tail bool) error {
	forms := listItems(rest)
	if len(forms) == 0 {
		return &Error{Message: "empty begin"}
	}
	for i, f := range forms {
		last := i == len(forms)-1
		if err := c.compileExpr(f, tail && last); err != nil {
			return err
		}
		if !last {
			c.emitByte(byte(bytecode.OpPop), 0)
		}
	}
	return nil
}

func (c *Compiler) compileIf(rest value.Value, tail bool) error {
	parts := listItems(rest)
	if len(parts) != 3 {
		return &Error{Message: "malformed if"}
	}
	if err := c.compileExpr(parts[0], false); err != nil {
		return err
	}
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitByte(byte(bytecode.OpPop), 0)
	if err := c.compileExpr(parts[1], tail); err != nil {
		return err
	}
	endJump := c.emitJump(bytecode.OpJump)
	c.patchJump(elseJump)
	c.emitByte(byte(bytecode.OpPop), 0)
	if err := c.compileExpr(parts[2], tail); err != nil {
		return err
	}
	c.patchJump(endJump)
	return nil
}

func (c *Compiler) compileSet(rest value.Value, at *value.Symbol) error {
	parts := listItems(rest)
	if len(parts) != 2 {
		return &Error{Line: at.Line, Col: at.Col, Message: "malformed set!"}
	}
	nameSym, ok := parts[0].Obj.(*value.Symbol)
	if !ok || nameSym.TokenKind != lexer.Symbol {
		return &Error{Line: at.Line, Col: at.Col, Message: "set! requires a variable name"}
	}
	if err := c.compileExpr(parts[1], false); err != nil {
		return err
	}
	return c.compileVariableAssign(nameSym)
}

func (c *Compiler) compileCallCc(rest value.Value, at *value.Symbol) error {
	parts := listItems(rest)
	if len(parts) != 1 {
		return &Error{Line: at.Line, Col: at.Col, Message: "malformed call/cc"}
	}
	if err := c.compileExpr(parts[0], false); err != nil {
		return err
	}
	c.emitByte(byte(bytecode.OpContinuation), at.Line)
	c.emitByte(byte(bytecode.OpCall), at.Line)
	c.emitByte(1, at.Line)
	return nil
}

func (c *Compiler) compileApplication(form value.Value, tail bool) error {
	cons := form.Obj.(*value.Cons)
	if err := c.compileExpr(cons.Car, false); err != nil {
		return err
	}
	args := listItems(cons.Cdr)
	if len(args) > 255 {
		return &Error{Message: "too many arguments (max 255)"}
	}
	for _, a := range args {
		if err := c.compileExpr(a, false); err != nil {
			return err
		}
	}
	op := bytecode.OpCall
	if tail {
		op = bytecode.OpTailCall
	}
	c.emitByte(byte(op), 0)
	c.emitByte(byte(len(args)), 0)
	return nil
}

// --- variable resolution ---

func (c *Compiler) compileVariableRead(sym *value.Symbol) error {
	if idx, ok, err := c.resolveLocal(c.current, sym); err != nil {
		return err
	} else if ok {
		c.emitByte(byte(bytecode.OpGetLocal), sym.Line)
		c.emitByte(idx, sym.Line)
		return nil
	}
	if idx, ok, err := c.resolveUpvalue(c.current, sym); err != nil {
		return err
	} else if ok {
		c.emitByte(byte(bytecode.OpGetUpvalue), sym.Line)
		c.emitByte(idx, sym.Line)
		return nil
	}
	if slot, ok := c.globals.Resolve(sym.Chars); ok {
		c.emitU16(byte(bytecode.OpGetGlobal), uint16(slot), sym.Line)
		return nil
	}
	return &Error{Line: sym.Line, Col: sym.Col, Message: fmt.Sprintf("undefined variable '%s'", sym.Chars)}
}

func (c *Compiler) compileVariableAssign(sym *value.Symbol) error {
	if idx, ok, err := c.resolveLocal(c.current, sym); err != nil {
		return err
	} else if ok {
		c.emitByte(byte(bytecode.OpSetLocal), sym.Line)
		c.emitByte(idx, sym.Line)
		return nil
	}
	if idx, ok, err := c.resolveUpvalue(c.current, sym); err != nil {
		return err
	} else if ok {
		c.emitByte(byte(bytecode.OpSetUpvalue), sym.Line)
		c.emitByte(idx, sym.Line)
		return nil
	}
	if slot, ok := c.globals.Resolve(sym.Chars); ok {
		c.emitU16(byte(bytecode.OpSetGlobal), uint16(slot), sym.Line)
		return nil
	}
	return &Error{Line: sym.Line, Col: sym.Col, Message: fmt.Sprintf("undefined variable '%s'", sym.Chars)}
}

func (c *Compiler) resolveLocal(env *environment, sym *value.Symbol) (byte, bool, error) {
	for i := len(env.locals) - 1; i >= 0; i-- {
		if env.locals[i].name == sym.Chars {
			if env.locals[i].depth == -1 {
				return 0, false, &Error{Line: sym.Line, Col: sym.Col, Message: "can't read local variable in its own initializer"}
			}
			return byte(i), true, nil
		}
	}
	return 0, false, nil
}

func (c *Compiler) resolveUpvalue(env *environment, sym *value.Symbol) (byte, bool, error) {
	if env.enclosing == nil {
		return 0, false, nil
	}
	if idx, ok, err := c.resolveLocal(env.enclosing, sym); err != nil {
		return 0, false, err
	} else if ok {
		env.enclosing.locals[idx].captured = true
		return c.addUpvalue(env, idx, true)
	}
	if idx, ok, err := c.resolveUpvalue(env.enclosing, sym); err != nil {
		return 0, false, err
	} else if ok {
		return c.addUpvalue(env, idx, false)
	}
	return 0, false, nil
}

func (c *Compiler) addUpvalue(env *environment, index byte, isLocal bool) (byte, bool, error) {
	for i, uv := range env.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return byte(i), true, nil
		}
	}
	if len(env.upvalues) >= maxLocals {
		return 0, false, &Error{Message: "too many closed-over variables in one function"}
	}
	env.upvalues = append(env.upvalues, upvalueSlot{index: index, isLocal: isLocal})
	return byte(len(env.upvalues) - 1), true, nil
}

// --- scopes & locals ---

func (c *Compiler) beginScope() { c.current.scopeDepth++ }

// endScopeKeepingResult ends the current scope whose body left exactly
// one result value on top of the stack, discarding every local declared
// in the scope while preserving that result. OP_END_SCOPE performs this
// atomically in the VM: it lifts the result off the top, closes any open
// upvalue among the n slots being discarded (in particular the scope's
// very first binding, which OP_CLOSE_UPVALUE alone could not reach since
// it only ever acts on the current stack top), shrinks the stack, and
// pushes the result back.
func (c *Compiler) endScopeKeepingResult(baseSlot int) {
	env := c.current
	n := len(env.locals) - baseSlot
	if n > 0 {
		c.emitByte(byte(bytecode.OpEndScope), 0)
		c.emitByte(byte(n), 0)
		env.locals = env.locals[:baseSlot]
	}
	env.scopeDepth--
}

func (c *Compiler) declareLocal(sym *value.Symbol) error {
	env := c.current
	if env.scopeDepth > 0 {
		for i := len(env.locals) - 1; i >= 0; i-- {
			if env.locals[i].depth != -1 && env.locals[i].depth < env.scopeDepth {
				break
			}
			if env.locals[i].name == sym.Chars {
				return &Error{Line: sym.Line, Col: sym.Col, Message: fmt.Sprintf("'%s' already declared in this scope", sym.Chars)}
			}
		}
	}
	if len(env.locals) >= maxLocals {
		return &Error{Line: sym.Line, Col: sym.Col, Message: "too many local variables in one function (max 256)"}
	}
	env.locals = append(env.locals, local{name: sym.Chars, depth: -1})
	return nil
}

func (c *Compiler) markInitialized() {
	env := c.current
	env.locals[len(env.locals)-1].depth = env.scopeDepth
}

// --- emission ---

func (c *Compiler) chunk() *value.Chunk { return &c.current.function.Chunk }

func (c *Compiler) emitByte(b byte, line int) { c.chunk().Write(b, line) }

func (c *Compiler) emitU16(op byte, operand uint16, line int) {
	c.emitByte(op, line)
	c.emitByte(byte(operand>>8), line)
	c.emitByte(byte(operand), line)
}

func (c *Compiler) emitJump(op bytecode.Op) int {
	c.emitByte(byte(op), 0)
	return bytecode.EmitU16(c.chunk(), 0)
}

func (c *Compiler) patchJump(offset int) {
	_ = bytecode.PatchU16(c.chunk(), offset)
}

func (c *Compiler) makeConstant(v value.Value) (byte, error) {
	if len(c.chunk().Constants) >= 256 {
		return 0, fmt.Errorf("too many constants in one chunk (max 256)")
	}
	return byte(c.chunk().AddConstant(v)), nil
}

func (c *Compiler) emitConstantValue(v value.Value, line int) error {
	idx, err := c.makeConstant(v)
	if err != nil {
		return &Error{Message: err.Error()}
	}
	c.emitByte(byte(bytecode.OpConstant), line)
	c.emitByte(idx, line)
	return nil
}
