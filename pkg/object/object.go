package object

import "fmt"

// ObjKind tags the payload a heap Object carries, mirroring the original's
// object_type enum.
type ObjKind int

const (
	ObjKindString ObjKind = iota
	ObjKindFunction
	ObjKindClosure
	ObjKindUpvalue
	ObjKindNative
)

// Object is satisfied by every heap-allocated variant (string, function,
// closure, upvalue, native). Next/SetNext thread the VM's intrusive
// objects list — the sweep-on-exit anchor described in spec.md §3. Go's
// own garbage collector owns the actual memory. The VM threads the
// closures, upvalues and natives it allocates onto this list; interned
// strings and compiled functions are not on it.
type Object interface {
	ObjKind() ObjKind
	Next() Object
	SetNext(Object)
	fmt.Stringer
}

// Header is embedded by every concrete object type to provide the common
// {kind, next} fields without repeating the bookkeeping methods.
type Header struct {
	kind ObjKind
	next Object
}

func (h *Header) ObjKind() ObjKind { return h.kind }
func (h *Header) Next() Object     { return h.next }
func (h *Header) SetNext(o Object) { h.next = o }

const (
	fnvOffsetBasis uint32 = 2166136261
	fnvPrime       uint32 = 16777619
)

// HashString computes the FNV-1a hash used both for string interning and
// for globals lookups (a global's key is an interned *ObjString).
func HashString(s string) uint32 {
	h := fnvOffsetBasis
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}

// ObjString is an interned string: two reachable ObjStrings with equal
// bytes are always the same pointer (see pkg/table.Table.Intern).
type ObjString struct {
	Header
	Chars string
	Hash  uint32
}

// NewString allocates an (uninterned) string object. Callers almost always
// want pkg/table.Table.Intern instead, which deduplicates first.
func NewString(s string) *ObjString {
	return &ObjString{Header: Header{kind: ObjKindString}, Chars: s, Hash: HashString(s)}
}

func (s *ObjString) String() string { return s.Chars }

// ObjFunction is a compiled function: its arity, how many upvalues its
// closures must allocate, and the chunk of bytecode for its body. The
// top-level script is a function with Name == nil.
type ObjFunction struct {
	Header
	Arity        int
	UpvalueCount int
	Chunk        *Chunk
	Name         *ObjString
}

// NewFunction allocates a function object with a fresh, empty chunk.
func NewFunction() *ObjFunction {
	return &ObjFunction{Header: Header{kind: ObjKindFunction}, Chunk: NewChunk()}
}

func (f *ObjFunction) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name.Chars)
}

// ObjUpvalue is a runtime cell that lets a closure reach a local variable
// of an enclosing, possibly-returned-from function. While Location points
// into a live stack slot the upvalue is open; CloseOver copies the value into
// the upvalue's own Closed field and repoints Location at it.
type ObjUpvalue struct {
	Header
	Location *Value
	Closed   Value

	// StackSlot is the VM stack index Location refers to while the upvalue
	// is open. Go gives no portable way to recover an index from a pointer
	// into an array, so the VM hands it to us at capture time instead of
	// the list-management code doing pointer arithmetic.
	StackSlot int

	// OpenNext threads the VM's open-upvalues index (sorted by descending
	// stack address); it is not an ownership link.
	OpenNext *ObjUpvalue
}

// NewUpvalue allocates an open upvalue pointing at the given stack slot.
func NewUpvalue(slot *Value, stackSlot int) *ObjUpvalue {
	return &ObjUpvalue{Header: Header{kind: ObjKindUpvalue}, Location: slot, StackSlot: stackSlot}
}

func (u *ObjUpvalue) String() string { return "upvalue" }

// IsOpen reports whether the upvalue still points into a live stack slot.
func (u *ObjUpvalue) IsOpen() bool { return u.Location != &u.Closed }

// CloseOver captures the current value of the referenced slot and makes
// the upvalue own it from now on.
func (u *ObjUpvalue) CloseOver() {
	u.Closed = *u.Location
	u.Location = &u.Closed
}

// ObjClosure pairs a function with the upvalue cells its body captured.
type ObjClosure struct {
	Header
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}

// NewClosure allocates a closure with a fresh upvalue slice sized to the
// function's declared upvalue count.
func NewClosure(fn *ObjFunction) *ObjClosure {
	return &ObjClosure{
		Header:   Header{kind: ObjKindClosure},
		Function: fn,
		Upvalues: make([]*ObjUpvalue, fn.UpvalueCount),
	}
}

func (c *ObjClosure) String() string { return c.Function.String() }

// NativeFn is a host function exposed to wisp programs, e.g. clock.
type NativeFn func(args []Value) (Value, error)

// ObjNative wraps a NativeFn so it can flow through the value stack like
// any other callable.
type ObjNative struct {
	Header
	Name string
	Fn   NativeFn
}

func NewNative(name string, fn NativeFn) *ObjNative {
	return &ObjNative{Header: Header{kind: ObjKindNative}, Name: name, Fn: fn}
}

func (n *ObjNative) String() string { return fmt.Sprintf("<native fn %s>", n.Name) }
