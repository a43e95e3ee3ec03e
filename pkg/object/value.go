// Package object defines the runtime value representation shared by the
// compiler and the VM: a small tagged union plus the heap-allocated object
// variants (strings, functions, closures, upvalues, natives) that a Value
// can reference.
//
// Values are passed by... value. Objects are always referenced through the
// Object interface, so reference equality (used for interned strings) is
// just pointer equality under the hood.
package object

import (
	"fmt"
	"math"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindObject
)

// Value is the tagged union every stack slot, constant, local, global and
// upvalue cell holds.
type Value struct {
	kind    Kind
	number  float64
	boolean bool
	obj     Object
}

// Nil is the singular nil value.
var Nil = Value{kind: KindNil}

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// Number wraps a float64.
func Number(n float64) Value { return Value{kind: KindNumber, number: n} }

// Obj wraps a heap object reference.
func Obj(o Object) Value { return Value{kind: KindObject, obj: o} }

func (v Value) IsNil() bool    { return v.kind == KindNil }
func (v Value) IsBool() bool   { return v.kind == KindBool }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsObject() bool { return v.kind == KindObject }

func (v Value) AsBool() bool      { return v.boolean }
func (v Value) AsNumber() float64 { return v.number }
func (v Value) AsObject() Object  { return v.obj }

func (v Value) IsString() bool   { return v.IsObject() && v.obj.ObjKind() == ObjKindString }
func (v Value) IsFunction() bool { return v.IsObject() && v.obj.ObjKind() == ObjKindFunction }
func (v Value) IsClosure() bool  { return v.IsObject() && v.obj.ObjKind() == ObjKindClosure }
func (v Value) IsNative() bool   { return v.IsObject() && v.obj.ObjKind() == ObjKindNative }

// AsString, AsFunction, AsClosure and AsNative assume the caller already
// checked the matching Is* predicate (or compiled a GET_* instruction that
// guarantees it) and panic via a failed type assertion otherwise, mirroring
// the original's unchecked AS_OBJ_STRING-style casts.
func (v Value) AsString() *ObjString     { return v.obj.(*ObjString) }
func (v Value) AsFunction() *ObjFunction { return v.obj.(*ObjFunction) }
func (v Value) AsClosure() *ObjClosure   { return v.obj.(*ObjClosure) }
func (v Value) AsNative() *ObjNative     { return v.obj.(*ObjNative) }

// IsFalsey implements the language's truthiness rule: nil and false are
// falsey, everything else (including 0) is truthy.
func (v Value) IsFalsey() bool {
	return v.IsNil() || (v.IsBool() && !v.AsBool())
}

// Equal implements value equality: same tag, then per-tag comparison.
// Numbers compare by IEEE equality, booleans and nil trivially, objects
// (including interned strings) by reference identity.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool:
		return a.boolean == b.boolean
	case KindNumber:
		return a.number == b.number
	case KindObject:
		return a.obj == b.obj
	default:
		return false
	}
}

// String renders a value the way the VM's print statement does.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.boolean {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.number)
	case KindObject:
		return v.obj.String()
	default:
		return "<invalid value>"
	}
}

func formatNumber(n float64) string {
	// Integral values print without a decimal point. The magnitude guard
	// keeps the int64 conversion in range; anything bigger falls back to %g
	// notation anyway.
	if math.Abs(n) < 1e15 && n == float64(int64(n)) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}
