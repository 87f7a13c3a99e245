package vm

import (
	"time"

	"github.com/kristofer/lisb/pkg/gc"
	"github.com/kristofer/lisb/pkg/value"
)

// RegisterPrimitives installs every built-in procedure into vm's globals.
// Grounded in arithmetic/comparison semantics on
// original_source/src/primitive/primitive.c; list operations follow
// spec.md §4.6 prose since the available C snapshot does not implement
// them. Each primitive is pushed onto the stack immediately after
// allocation and defined before being popped, mirroring vm_init_vm's
// push/define/pop dance so the primitive object is always rooted between
// allocation and installation.
func RegisterPrimitives(vm *VM, heap *gc.Heap) {
	define := func(name string, fn value.PrimitiveFn) {
		prim := heap.NewPrimitive(name, fn)
		vm.push(value.ObjVal(prim))
		vm.Define(name, vm.peek(0))
		vm.pop()
	}

	define("clock", primClock)
	define("display", makeDisplay(vm, false))
	define("displayln", makeDisplay(vm, true))

	define("+", primAdd)
	define("-", primSub)
	define("*", primMul)
	define("/", primDiv)
	define("=", primNumEq)
	define("<", primLess)
	define(">", primGreater)
	define("<=", primLessEq)
	define(">=", primGreaterEq)

	define("cons", makeCons(heap))
	define("car", primCar)
	define("cdr", primCdr)
	define("list", makeList(vm, heap))
	define("append", makeAppend(heap))
}

func asNumber(v value.Value, who string) (float64, error) {
	if !v.IsNumber() {
		return 0, newTypeError(who)
	}
	return v.Num, nil
}

func newTypeError(who string) error {
	return &primitiveTypeError{who: who}
}

type primitiveTypeError struct{ who string }

func (e *primitiveTypeError) Error() string {
	return e.who + ": operand must be a number."
}

func primClock(args []value.Value) (value.Value, error) {
	return value.NumberVal(float64(time.Now().UnixNano()) / 1e9), nil
}

func makeDisplay(vm *VM, newline bool) value.PrimitiveFn {
	return func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, newArityError("display", 1, len(args))
		}
		vm.Out.Write([]byte(args[0].String()))
		if newline {
			vm.Out.Write([]byte("\n"))
		}
		return value.VoidVal(), nil
	}
}

type arityError struct {
	name     string
	expected int
	got      int
}

func (e *arityError) Error() string {
	return e.name + ": wrong number of arguments."
}

func newArityError(name string, expected, got int) error {
	return &arityError{name: name, expected: expected, got: got}
}

func primAdd(args []value.Value) (value.Value, error) {
	sum := 0.0
	for _, a := range args {
		n, err := asNumber(a, "+")
		if err != nil {
			return value.Value{}, err
		}
		sum += n
	}
	return value.NumberVal(sum), nil
}

// primSub follows the clox-style fold: a single argument negates it,
// otherwise the first argument is reduced by every subsequent one.
func primSub(args []value.Value) (value.Value, error) {
	if len(args) == 0 {
		return value.Value{}, newArityError("-", 1, 0)
	}
	first, err := asNumber(args[0], "-")
	if err != nil {
		return value.Value{}, err
	}
	if len(args) == 1 {
		return value.NumberVal(-first), nil
	}
	result := first
	for _, a := range args[1:] {
		n, err := asNumber(a, "-")
		if err != nil {
			return value.Value{}, err
		}
		result -= n
	}
	return value.NumberVal(result), nil
}

func primMul(args []value.Value) (value.Value, error) {
	product := 1.0
	for _, a := range args {
		n, err := asNumber(a, "*")
		if err != nil {
			return value.Value{}, err
		}
		product *= n
	}
	return value.NumberVal(product), nil
}

// primDiv mirrors primitive.c's primitive_div: with a single argument it
// yields the reciprocal; with more than one, every argument multiplies
// into one denominator, so (/ a b c) computes 1/(a*b*c) rather than the
// left-associative a/b/c. Left-associative division was an available
// alternative (spec §9 leaves n-ary "/" open); the original's actual
// fold is followed here.
func primDiv(args []value.Value) (value.Value, error) {
	if len(args) == 0 {
		return value.Value{}, newArityError("/", 1, 0)
	}
	product := 1.0
	for _, a := range args {
		n, err := asNumber(a, "/")
		if err != nil {
			return value.Value{}, err
		}
		if n == 0 {
			return value.Value{}, &divideByZeroError{}
		}
		product *= n
	}
	return value.NumberVal(1 / product), nil
}

type divideByZeroError struct{}

func (e *divideByZeroError) Error() string { return "/: division by zero." }

func primNumEq(args []value.Value) (value.Value, error) {
	return chainCompare(args, "=", func(a, b float64) bool { return a == b })
}
func primLess(args []value.Value) (value.Value, error) {
	return chainCompare(args, "<", func(a, b float64) bool { return a < b })
}
func primGreater(args []value.Value) (value.Value, error) {
	return chainCompare(args, ">", func(a, b float64) bool { return a > b })
}
func primLessEq(args []value.Value) (value.Value, error) {
	return chainCompare(args, "<=", func(a, b float64) bool { return a <= b })
}
func primGreaterEq(args []value.Value) (value.Value, error) {
	return chainCompare(args, ">=", func(a, b float64) bool { return a >= b })
}

// chainCompare requires every adjacent pair in args to satisfy ok, the
// usual Scheme generalization of a binary comparison to n arguments.
func chainCompare(args []value.Value, who string, ok func(a, b float64) bool) (value.Value, error) {
	if len(args) < 2 {
		return value.Value{}, newArityError(who, 2, len(args))
	}
	prev, err := asNumber(args[0], who)
	if err != nil {
		return value.Value{}, err
	}
	for _, a := range args[1:] {
		n, err := asNumber(a, who)
		if err != nil {
			return value.Value{}, err
		}
		if !ok(prev, n) {
			return value.BoolVal(false), nil
		}
		prev = n
	}
	return value.BoolVal(true), nil
}

func makeCons(heap *gc.Heap) value.PrimitiveFn {
	return func(args []value.Value) (value.Value, error) {
		if len(args) != 2 {
			return value.Value{}, newArityError("cons", 2, len(args))
		}
		return value.ObjVal(heap.NewCons(args[0], args[1])), nil
	}
}

func primCar(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Value{}, newArityError("car", 1, len(args))
	}
	cons, ok := args[0].Obj.(*value.Cons)
	if !args[0].IsObj() || !ok {
		return value.Value{}, newNotAPairError("car")
	}
	return cons.Car, nil
}

func primCdr(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Value{}, newArityError("cdr", 1, len(args))
	}
	cons, ok := args[0].Obj.(*value.Cons)
	if !args[0].IsObj() || !ok {
		return value.Value{}, newNotAPairError("cdr")
	}
	return cons.Cdr, nil
}

type notAPairError struct{ who string }

func (e *notAPairError) Error() string  { return e.who + ": argument must be a pair." }
func newNotAPairError(who string) error { return &notAPairError{who: who} }

// makeList builds its result right-to-left, keeping the partial list in a
// VM stack slot so that every intermediate Cons is a GC root while the
// next one is allocated, per spec.md §4.6.
func makeList(vm *VM, heap *gc.Heap) value.PrimitiveFn {
	return func(args []value.Value) (value.Value, error) {
		vm.push(value.NullVal())
		for i := len(args) - 1; i >= 0; i-- {
			vm.stack[vm.stackTop-1] = value.ObjVal(heap.NewCons(args[i], vm.peek(0)))
		}
		return vm.pop(), nil
	}
}

// makeAppend concatenates its list arguments. Every list but the last is
// shallow-copied cell by cell; the final argument is shared by reference
// as the tail of the result, per spec.md §4.6.
func makeAppend(heap *gc.Heap) value.PrimitiveFn {
	return func(args []value.Value) (value.Value, error) {
		if len(args) == 0 {
			return value.NullVal(), nil
		}
		result := args[len(args)-1]
		for i := len(args) - 2; i >= 0; i-- {
			elems, err := listElements(args[i])
			if err != nil {
				return value.Value{}, err
			}
			for j := len(elems) - 1; j >= 0; j-- {
				result = value.ObjVal(heap.NewCons(elems[j], result))
			}
		}
		return result, nil
	}
}

func listElements(v value.Value) ([]value.Value, error) {
	var elems []value.Value
	cur := v
	for {
		if cur.IsNull() {
			return elems, nil
		}
		cons, ok := cur.Obj.(*value.Cons)
		if !cur.IsObj() || !ok {
			return nil, newNotAPairError("append")
		}
		elems = append(elems, cons.Car)
		cur = cons.Cdr
	}
}
