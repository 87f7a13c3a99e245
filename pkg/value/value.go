// Package value defines the tagged-union Value representation and the
// heap object model shared by the lexer, parser, compiler, and VM.
//
// A Value is either one of a small set of immediate kinds (bool, number,
// null, void) or a reference to a heap-allocated Obj. Equality is
// structural on immediates and identity on objects, except for String,
// which is interned so identity and content equality coincide. Symbol is
// not interned (see DESIGN.md); code that needs symbol equality compares
// Chars, not object identity.
package value

import "fmt"

// Kind tags a Value's representation.
type Kind uint8

const (
	KindBool Kind = iota
	KindNumber
	KindNull
	KindVoid
	KindObj
)

// Value is the tagged union every stack slot, constant, and global table
// entry holds. Only one of Bool/Num/Obj is meaningful, selected by Kind.
type Value struct {
	Kind Kind
	Bool bool
	Num  float64
	Obj  Obj
}

// BoolVal, NumberVal, NullVal, VoidVal, and ObjVal are the constructors for
// each Value kind.
func BoolVal(b bool) Value   { return Value{Kind: KindBool, Bool: b} }
func NumberVal(f float64) Value { return Value{Kind: KindNumber, Num: f} }
func NullVal() Value         { return Value{Kind: KindNull} }
func VoidVal() Value         { return Value{Kind: KindVoid} }
func ObjVal(o Obj) Value     { return Value{Kind: KindObj, Obj: o} }

func (v Value) IsBool() bool   { return v.Kind == KindBool }
func (v Value) IsNumber() bool { return v.Kind == KindNumber }
func (v Value) IsNull() bool   { return v.Kind == KindNull }
func (v Value) IsVoid() bool   { return v.Kind == KindVoid }
func (v Value) IsObj() bool    { return v.Kind == KindObj }

// IsObjType reports whether v holds an object of the given ObjType.
func (v Value) IsObjType(t ObjType) bool {
	return v.Kind == KindObj && v.Obj != nil && v.Obj.Type() == t
}

// IsFalsey implements the language's truthiness rule: only Bool(false) is
// falsey. Null, 0, "", Void, and every object are truthy.
func (v Value) IsFalsey() bool {
	return v.Kind == KindBool && !v.Bool
}

// Equal implements value-level equality. The `=` family of numeric
// primitives does not use it (they compare numbers directly), and the
// dialect exposes no `eq?` primitive. Numbers and
// bools compare structurally; objects compare by identity, which for
// String is equivalent to content equality because strings are interned.
// Two distinct Symbol objects with the same Chars compare unequal here,
// since symbols are not interned.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == o.Bool
	case KindNumber:
		return v.Num == o.Num
	case KindNull, KindVoid:
		return true
	case KindObj:
		return v.Obj == o.Obj
	default:
		return false
	}
}

// String renders v the way `display` does, with no trailing newline.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return "#t"
		}
		return "#f"
	case KindNumber:
		return formatNumber(v.Num)
	case KindNull:
		return "()"
	case KindVoid:
		return ""
	case KindObj:
		if v.Obj == nil {
			return "<nil>"
		}
		return v.Obj.String()
	default:
		return "<invalid value>"
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
