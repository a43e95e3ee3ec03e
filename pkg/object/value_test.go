package object

import "testing"

// TestEqualCrossType verifies that values of different kinds never compare
// equal and never error — == is total over the value domain.
func TestEqualCrossType(t *testing.T) {
	cases := []struct {
		a, b Value
	}{
		{Number(1), Obj(NewString("1"))},
		{Number(0), Bool(false)},
		{Nil, Bool(false)},
		{Nil, Number(0)},
		{Bool(true), Obj(NewString("true"))},
	}
	for _, c := range cases {
		if Equal(c.a, c.b) {
			t.Errorf("Equal(%s, %s) = true, want false", c.a, c.b)
		}
	}
}

// TestEqualSameKind checks the per-tag comparison rules: IEEE equality for
// numbers, identity for booleans and nil, reference identity for objects.
func TestEqualSameKind(t *testing.T) {
	if !Equal(Number(1.5), Number(1.5)) {
		t.Error("equal numbers should compare equal")
	}
	if Equal(Number(1), Number(2)) {
		t.Error("distinct numbers should not compare equal")
	}
	if !Equal(Nil, Nil) {
		t.Error("nil should equal nil")
	}
	if !Equal(Bool(true), Bool(true)) || Equal(Bool(true), Bool(false)) {
		t.Error("boolean equality is identity")
	}

	s := NewString("abc")
	if !Equal(Obj(s), Obj(s)) {
		t.Error("same object should compare equal")
	}
	// Two un-interned strings with the same bytes are distinct objects, so
	// they are unequal — interning is what makes string == work by pointer.
	if Equal(Obj(NewString("abc")), Obj(NewString("abc"))) {
		t.Error("distinct string objects should not compare equal by reference")
	}
}

// TestIsFalsey verifies the truthiness rule: only nil and false are falsey.
func TestIsFalsey(t *testing.T) {
	falsey := []Value{Nil, Bool(false)}
	for _, v := range falsey {
		if !v.IsFalsey() {
			t.Errorf("%s should be falsey", v)
		}
	}
	truthy := []Value{Bool(true), Number(0), Number(1), Obj(NewString("")), Obj(NewFunction())}
	for _, v := range truthy {
		if v.IsFalsey() {
			t.Errorf("%s should be truthy", v)
		}
	}
}

// TestValueString checks the printed form of each value kind, which is what
// the print statement emits.
func TestValueString(t *testing.T) {
	fn := NewFunction()
	fn.Name = NewString("add")

	cases := []struct {
		v    Value
		want string
	}{
		{Nil, "nil"},
		{Bool(true), "true"},
		{Bool(false), "false"},
		{Number(7), "7"},
		{Number(2.5), "2.5"},
		{Number(-0.5), "-0.5"},
		{Obj(NewString("hello")), "hello"},
		{Obj(NewFunction()), "<script>"},
		{Obj(fn), "<fn add>"},
		{Obj(NewNative("clock", nil)), "<native fn clock>"},
	}
	for _, c := range cases {
		if got := c.v.String(); got != c.want {
			t.Errorf("String() = %q, want %q", got, c.want)
		}
	}
}

// TestHashStringFNV1a checks the hash of the empty string against the
// FNV-1a offset basis, and that the hash is deterministic and separates two
// distinct inputs.
func TestHashStringFNV1a(t *testing.T) {
	if got := HashString(""); got != 2166136261 {
		t.Errorf("HashString(\"\") = %d, want offset basis 2166136261", got)
	}
	if HashString("hello") == HashString("world") {
		t.Error("distinct strings should hash differently here")
	}
	if HashString("hello") != HashString("hello") {
		t.Error("hash must be deterministic")
	}
}

// TestUpvalueOpenClose exercises the two-state life cycle of an upvalue
// cell: open (pointing at a stack slot) then closed (owning the value).
func TestUpvalueOpenClose(t *testing.T) {
	stack := make([]Value, 4)
	stack[2] = Number(42)

	uv := NewUpvalue(&stack[2], 2)
	if !uv.IsOpen() {
		t.Fatal("freshly captured upvalue should be open")
	}
	if got := *uv.Location; !Equal(got, Number(42)) {
		t.Fatalf("open upvalue reads %s, want 42", got)
	}

	// Writing through the open upvalue hits the stack slot.
	*uv.Location = Number(7)
	if !Equal(stack[2], Number(7)) {
		t.Fatal("write through open upvalue should mutate the stack slot")
	}

	uv.CloseOver()
	if uv.IsOpen() {
		t.Fatal("upvalue should be closed after CloseOver")
	}
	// The stack slot is now dead; the cell keeps the captured value.
	stack[2] = Nil
	if got := *uv.Location; !Equal(got, Number(7)) {
		t.Fatalf("closed upvalue reads %s, want 7", got)
	}
}
