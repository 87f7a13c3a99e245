package value

import (
	"fmt"
	"strings"
)

// ObjType tags the concrete kind of a heap object.
type ObjType uint8

const (
	ObjString ObjType = iota
	ObjSymbol
	ObjCons
	ObjFunction
	ObjClosure
	ObjUpvalue
	ObjPrimitive
	ObjContinuation
)

func (t ObjType) String() string {
	switch t {
	case ObjString:
		return "string"
	case ObjSymbol:
		return "symbol"
	case ObjCons:
		return "cons"
	case ObjFunction:
		return "function"
	case ObjClosure:
		return "closure"
	case ObjUpvalue:
		return "upvalue"
	case ObjPrimitive:
		return "primitive"
	case ObjContinuation:
		return "continuation"
	default:
		return "unknown"
	}
}

// Obj is implemented by every heap-allocated object kind. Header provides
// the common fields (mark bit, alloc-list link) that the allocator and
// collector rely on regardless of concrete kind; the type tag comes from
// each kind's Type method.
type Obj interface {
	Type() ObjType
	String() string

	marked() bool
	setMarked(bool)
	next() Obj
	setNext(Obj)
}

// Header is embedded as the first field of every concrete object type. It
// carries the intrusive alloc-list pointer and mark bit the GC needs
// without requiring virtual dispatch for bookkeeping.
type Header struct {
	Marked   bool
	NextObj  Obj
}

func (h *Header) marked() bool    { return h.Marked }
func (h *Header) setMarked(b bool) { h.Marked = b }
func (h *Header) next() Obj        { return h.NextObj }
func (h *Header) setNext(o Obj)    { h.NextObj = o }

// ObjNext and ObjSetMarked/ObjMarked/ObjSetNext expose Header's
// unexported bookkeeping to packages outside value (the GC heap) without
// opening the fields themselves to mutation by arbitrary code.
func ObjMarked(o Obj) bool      { return o.marked() }
func ObjSetMarked(o Obj, b bool) { o.setMarked(b) }
func ObjNext(o Obj) Obj         { return o.next() }
func ObjSetNext(o Obj, n Obj)   { o.setNext(n) }

// String is an interned, immutable byte sequence.
type String struct {
	Header
	Chars string
}

func (s *String) Type() ObjType   { return ObjString }
func (s *String) String() string  { return s.Chars }

// TokenKind records, for a Symbol, whether it names a reserved special
// form or an ordinary identifier. The concrete values are defined by
// package lexer; Symbol only stores the tag.
type TokenKind uint8

// Symbol names an identifier or a reserved form keyword. Symbols are not
// interned: each occurrence in the source allocates its own object, and
// source position is carried for error reporting.
type Symbol struct {
	Header
	Chars     string
	TokenKind TokenKind
	Line, Col int
}

func (s *Symbol) Type() ObjType  { return ObjSymbol }
func (s *Symbol) String() string { return s.Chars }

// Cons is a mutable pair cell, the sole structural type of the s-expression
// value tree and of quoted list data at runtime.
type Cons struct {
	Header
	Car, Cdr Value
}

func (c *Cons) Type() ObjType { return ObjCons }

func (c *Cons) String() string {
	var b strings.Builder
	b.WriteByte('(')
	cur := Value{Kind: KindObj, Obj: c}
	first := true
	for {
		if cur.IsObjType(ObjCons) {
			cons := cur.Obj.(*Cons)
			if !first {
				b.WriteByte(' ')
			}
			first = false
			b.WriteString(cons.Car.String())
			cur = cons.Cdr
			continue
		}
		if cur.IsNull() {
			break
		}
		b.WriteString(" . ")
		b.WriteString(cur.String())
		break
	}
	b.WriteByte(')')
	return b.String()
}

// Chunk is the bytecode, line table, and constant pool belonging to one
// compiled Function. Opcode semantics live in package bytecode; Chunk
// itself is a plain data record so that Function (a value-model object)
// does not need to import the opcode package.
type Chunk struct {
	Code      []byte
	Lines     []int
	Constants []Value
}

// Write appends one bytecode byte tagged with its source line.
func (c *Chunk) Write(b byte, line int) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
}

// AddConstant appends v to the constant pool and returns its index.
func (c *Chunk) AddConstant(v Value) int {
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// Function is produced by the compiler and is immutable once compiled. The
// top-level form of a run compiles into a script Function of arity 0.
type Function struct {
	Header
	Arity        int
	UpvalueCount int
	Chunk        Chunk
	ID           int
	Name         string // empty for anonymous lambdas and the top-level script
}

func (f *Function) Type() ObjType { return ObjFunction }

func (f *Function) String() string {
	if f.Name == "" {
		if f.ID == 0 {
			return "#<script>"
		}
		return fmt.Sprintf("#<lambda %d>", f.ID)
	}
	return fmt.Sprintf("#<procedure %s>", f.Name)
}

// Upvalue is a reference to a variable that outlives the stack frame that
// declared it. While Open, Location points into a live VM stack; Closing
// copies the value into Closed and rebinds Location to point at it.
type Upvalue struct {
	Header
	Location *Value
	Closed   Value
	Index    int // the stack slot this upvalue was opened over; stable across Close
}

func (u *Upvalue) Type() ObjType  { return ObjUpvalue }
func (u *Upvalue) String() string { return "#<upvalue>" }

// Close copies the current referent into the object's own storage and
// rebinds Location to it, severing the reference into the stack.
func (u *Upvalue) Close() {
	u.Closed = *u.Location
	u.Location = &u.Closed
}

// UpvalueRef records, in a Closure's upvalue table, where one upvalue
// came from at closure-creation time: either the enclosing frame's local
// slot (IsLocal) or the enclosing closure's own upvalue array.
type UpvalueRef struct {
	Index   uint8
	IsLocal bool
}

// Closure pairs a compiled Function with the upvalues it closed over.
type Closure struct {
	Header
	Function *Function
	Upvalues []*Upvalue
}

func (c *Closure) Type() ObjType  { return ObjClosure }
func (c *Closure) String() string { return c.Function.String() }

// PrimitiveFn is a host function invoked synchronously by OP_CALL. It
// receives the argument slice (read-only) and returns a result Value, or
// an error to be raised as a runtime error by the caller.
type PrimitiveFn func(args []Value) (Value, error)

// Primitive wraps a host function as a callable Value.
type Primitive struct {
	Header
	Name string
	Fn   PrimitiveFn
}

func (p *Primitive) Type() ObjType  { return ObjPrimitive }
func (p *Primitive) String() string { return fmt.Sprintf("#<primitive %s>", p.Name) }

// CallFrameSnapshot is one activation record as captured by a
// Continuation: enough to reconstruct a VM CallFrame on restore without
// this package depending on package vm.
type CallFrameSnapshot struct {
	Closure *Closure
	IP      int
	BaseSP  int // offset into the snapshotted stack where this frame's slots begin
}

// Continuation is a first-class snapshot of the VM's entire execution
// state at the point of capture: the value stack, the call-frame array,
// and the open-upvalue list. Restoring a continuation replaces the VM's
// live state with deep copies of these fields.
type Continuation struct {
	Header
	Stack        []Value
	Frames       []CallFrameSnapshot
	OpenUpvalues []*Upvalue
	StackTop     int
}

func (c *Continuation) Type() ObjType  { return ObjContinuation }
func (c *Continuation) String() string { return "#<continuation>" }
