// Package vm executes compiled wisp bytecode: a fetch-decode-dispatch loop
// over call frames, a fixed-size value stack, a globals table, and an
// intrusive list of heap objects the VM allocates (closures, upvalues and
// natives — interned strings live in the shared strings table instead, see
// pkg/table).
package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/wisplang/wisp/pkg/compiler"
	"github.com/wisplang/wisp/pkg/object"
	"github.com/wisplang/wisp/pkg/table"
)

const (
	framesMax = 64
	stackMax  = framesMax * 256
)

type frame struct {
	closure *object.ObjClosure
	ip      int
	slots   int // index into vm.stack of this frame's local slot 0
}

// VM runs one script at a time via Interpret. Create a fresh VM per
// top-level program; it is not meant to be shared across unrelated
// Interpret calls the way the REPL's persistent strings/globals are, though
// the REPL happens to reuse one VM across lines deliberately (see cmd/wisp).
type VM struct {
	stack    [stackMax]object.Value
	stackTop int

	frames     [framesMax]frame
	frameCount int

	globals *table.Table
	strings *table.Table

	objects      object.Object
	openUpvalues *object.ObjUpvalue

	// Out is where OP_PRINT writes; defaults to os.Stdout.
	Out io.Writer

	TraceExecution bool
}

// New returns a VM with its natives registered. strings is the intern
// table; pass the same table to a compiler.Compiler compiling source this
// VM will run, so that global-variable names compare equal by pointer.
func New(strings *table.Table) *VM {
	vm := &VM{
		globals: table.New(),
		strings: strings,
		Out:     os.Stdout,
	}
	vm.defineNative("clock", clockNative)
	return vm
}

func (vm *VM) track(o object.Object) {
	o.SetNext(vm.objects)
	vm.objects = o
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

func (vm *VM) push(v object.Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() object.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) object.Value {
	return vm.stack[vm.stackTop-1-distance]
}

func (vm *VM) defineNative(name string, fn object.NativeFn) {
	nameStr := vm.strings.Intern(name)
	native := object.NewNative(name, fn)
	vm.track(native)
	vm.globals.Set(nameStr, object.Obj(native))
}

// Interpret compiles and runs source as a top-level script.
func (vm *VM) Interpret(source string) error {
	c := compiler.New(vm.strings)
	fn, err := c.Compile(source)
	if err != nil {
		return err
	}
	return vm.RunFunction(fn)
}

// RunFunction executes an already-compiled top-level function — either one
// Interpret just produced or one loaded back from a bytecode image
// (pkg/bytecode.Decode, which must have interned its strings into this VM's
// table for global-name lookups to hold).
func (vm *VM) RunFunction(fn *object.ObjFunction) error {
	closure := object.NewClosure(fn)
	vm.track(closure)
	vm.push(object.Obj(closure))
	if err := vm.call(closure, 0); err != nil {
		return err
	}
	return vm.run()
}

func (vm *VM) currentFrame() *frame { return &vm.frames[vm.frameCount-1] }

func (vm *VM) readByte(f *frame) byte {
	b := f.closure.Function.Chunk.Code[f.ip]
	f.ip++
	return b
}

func (vm *VM) readShort(f *frame) int {
	hi := vm.readByte(f)
	lo := vm.readByte(f)
	return int(hi)<<8 | int(lo)
}

func (vm *VM) readIndex24(f *frame) int {
	a := vm.readByte(f)
	b := vm.readByte(f)
	c := vm.readByte(f)
	return int(a)<<16 | int(b)<<8 | int(c)
}

func (vm *VM) readConstant(f *frame, idx int) object.Value {
	return f.closure.Function.Chunk.Constants[idx]
}

func (vm *VM) run() error {
	f := vm.currentFrame()

	for {
		if vm.TraceExecution {
			vm.traceInstruction(f)
		}

		op := object.OpCode(vm.readByte(f))
		switch op {
		case object.OpConstant:
			vm.push(vm.readConstant(f, int(vm.readByte(f))))
		case object.OpConstantLong:
			vm.push(vm.readConstant(f, vm.readIndex24(f)))
		case object.OpNil:
			vm.push(object.Nil)
		case object.OpTrue:
			vm.push(object.Bool(true))
		case object.OpFalse:
			vm.push(object.Bool(false))
		case object.OpPop:
			vm.pop()
		case object.OpPopN:
			n := int(vm.readByte(f))
			vm.stackTop -= n
		case object.OpGetLocal:
			slot := int(vm.readByte(f))
			vm.push(vm.stack[f.slots+slot])
		case object.OpSetLocal:
			slot := int(vm.readByte(f))
			vm.stack[f.slots+slot] = vm.peek(0)
		case object.OpGetUpvalue:
			slot := int(vm.readByte(f))
			vm.push(*f.closure.Upvalues[slot].Location)
		case object.OpSetUpvalue:
			slot := int(vm.readByte(f))
			*f.closure.Upvalues[slot].Location = vm.peek(0)
		case object.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()
		case object.OpDefineGlobal:
			name := vm.readConstant(f, int(vm.readByte(f))).AsString()
			vm.globals.Set(name, vm.peek(0))
			vm.pop()
		case object.OpDefineGlobalLong:
			name := vm.readConstant(f, vm.readIndex24(f)).AsString()
			vm.globals.Set(name, vm.peek(0))
			vm.pop()
		case object.OpGetGlobal:
			name := vm.readConstant(f, int(vm.readByte(f))).AsString()
			if err := vm.getGlobal(name); err != nil {
				return err
			}
		case object.OpGetGlobalLong:
			name := vm.readConstant(f, vm.readIndex24(f)).AsString()
			if err := vm.getGlobal(name); err != nil {
				return err
			}
		case object.OpSetGlobal:
			name := vm.readConstant(f, int(vm.readByte(f))).AsString()
			if err := vm.setGlobal(name); err != nil {
				return err
			}
		case object.OpSetGlobalLong:
			name := vm.readConstant(f, vm.readIndex24(f)).AsString()
			if err := vm.setGlobal(name); err != nil {
				return err
			}
		case object.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(object.Bool(object.Equal(a, b)))
		case object.OpGreater:
			if err := vm.binaryCompare(func(a, b float64) bool { return a > b }); err != nil {
				return err
			}
		case object.OpLess:
			if err := vm.binaryCompare(func(a, b float64) bool { return a < b }); err != nil {
				return err
			}
		case object.OpAdd:
			if err := vm.add(); err != nil {
				return err
			}
		case object.OpSub:
			if err := vm.binaryArith(func(a, b float64) float64 { return a - b }); err != nil {
				return err
			}
		case object.OpMul:
			if err := vm.binaryArith(func(a, b float64) float64 { return a * b }); err != nil {
				return err
			}
		case object.OpDiv:
			if err := vm.binaryArith(func(a, b float64) float64 { return a / b }); err != nil {
				return err
			}
		case object.OpNot:
			vm.push(object.Bool(vm.pop().IsFalsey()))
		case object.OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeError("Operand must be a number.")
			}
			vm.push(object.Number(-vm.pop().AsNumber()))
		case object.OpPrint:
			fmt.Fprintln(vm.Out, vm.pop().String())
		case object.OpJump:
			offset := vm.readShort(f)
			f.ip += offset
		case object.OpJumpIfFalse:
			offset := vm.readShort(f)
			if vm.peek(0).IsFalsey() {
				f.ip += offset
			}
		case object.OpLoop:
			offset := vm.readShort(f)
			f.ip -= offset
		case object.OpCall:
			argc := int(vm.readByte(f))
			if err := vm.callValue(vm.peek(argc), argc); err != nil {
				return err
			}
			f = vm.currentFrame()
		case object.OpClosure, object.OpClosureLong:
			var idx int
			if op == object.OpClosure {
				idx = int(vm.readByte(f))
			} else {
				idx = vm.readIndex24(f)
			}
			fn := vm.readConstant(f, idx).AsFunction()
			closure := object.NewClosure(fn)
			vm.track(closure)
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := vm.readByte(f) == 1
				index := int(vm.readByte(f))
				if isLocal {
					closure.Upvalues[i] = vm.captureUpvalue(f.slots + index)
				} else {
					closure.Upvalues[i] = f.closure.Upvalues[index]
				}
			}
			vm.push(object.Obj(closure))
		case object.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(f.slots)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return nil
			}
			vm.stackTop = f.slots
			vm.push(result)
			f = vm.currentFrame()
		default:
			return vm.runtimeError("Unknown opcode %d.", byte(op))
		}
	}
}

func (vm *VM) getGlobal(name *object.ObjString) error {
	v, ok := vm.globals.Get(name)
	if !ok {
		return vm.runtimeError("Undefined variable '%s'.", name.Chars)
	}
	vm.push(v)
	return nil
}

func (vm *VM) setGlobal(name *object.ObjString) error {
	if vm.globals.Set(name, vm.peek(0)) {
		vm.globals.Delete(name)
		return vm.runtimeError("Undefined variable '%s'.", name.Chars)
	}
	return nil
}

func (vm *VM) binaryArith(op func(a, b float64) float64) error {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		return vm.runtimeError("Operands must be numbers.")
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()
	vm.push(object.Number(op(a, b)))
	return nil
}

func (vm *VM) binaryCompare(op func(a, b float64) bool) error {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		return vm.runtimeError("Operands must be numbers.")
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()
	vm.push(object.Bool(op(a, b)))
	return nil
}

// add overloads OP_ADD for number+number and string+string, exactly as the
// original's run() switch does; any other combination is a runtime error.
func (vm *VM) add() error {
	switch {
	case vm.peek(0).IsNumber() && vm.peek(1).IsNumber():
		b := vm.pop().AsNumber()
		a := vm.pop().AsNumber()
		vm.push(object.Number(a + b))
	case vm.peek(0).IsString() && vm.peek(1).IsString():
		b := vm.pop().AsString()
		a := vm.pop().AsString()
		vm.push(object.Obj(vm.strings.Intern(a.Chars + b.Chars)))
	default:
		return vm.runtimeError("Operands must be two numbers or two strings.")
	}
	return nil
}

func (vm *VM) callValue(callee object.Value, argc int) error {
	if callee.IsObject() {
		switch callee.AsObject().ObjKind() {
		case object.ObjKindClosure:
			return vm.call(callee.AsClosure(), argc)
		case object.ObjKindNative:
			native := callee.AsNative()
			args := vm.stack[vm.stackTop-argc : vm.stackTop]
			result, err := native.Fn(args)
			if err != nil {
				return vm.runtimeError("%s", err.Error())
			}
			vm.stackTop -= argc + 1
			vm.push(result)
			return nil
		}
	}
	return vm.runtimeError("Can only call functions and classes.")
}

func (vm *VM) call(closure *object.ObjClosure, argc int) error {
	if argc != closure.Function.Arity {
		return vm.runtimeError("Expected %d arguments but got %d.", closure.Function.Arity, argc)
	}
	if vm.frameCount == framesMax {
		return vm.runtimeError("Stack overflow.")
	}
	vm.frames[vm.frameCount] = frame{closure: closure, ip: 0, slots: vm.stackTop - argc - 1}
	vm.frameCount++
	return nil
}

// captureUpvalue finds or creates the single open upvalue for a given
// stack slot, keeping vm.openUpvalues sorted by descending slot so that
// closeUpvalues can stop early.
func (vm *VM) captureUpvalue(slot int) *object.ObjUpvalue {
	var prev *object.ObjUpvalue
	cur := vm.openUpvalues
	for cur != nil && cur.StackSlot > slot {
		prev = cur
		cur = cur.OpenNext
	}
	if cur != nil && cur.StackSlot == slot {
		return cur
	}

	created := object.NewUpvalue(&vm.stack[slot], slot)
	vm.track(created)
	created.OpenNext = cur
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.OpenNext = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above stack index last,
// popping them off the open list as it goes.
func (vm *VM) closeUpvalues(last int) {
	for vm.openUpvalues != nil && vm.openUpvalues.StackSlot >= last {
		uv := vm.openUpvalues
		uv.CloseOver()
		vm.openUpvalues = uv.OpenNext
	}
}
