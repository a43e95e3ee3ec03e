package object

import "fmt"

// OpCode is a single bytecode instruction tag. Every opcode is one byte;
// operands (when present) are read from the bytes that follow it.
type OpCode byte

const (
	OpConstant     OpCode = iota // 1B index, push constants[index]
	OpConstantLong               // 3B big-endian index, push constants[index]
	OpNil                        // push nil
	OpTrue                       // push true
	OpFalse                      // push false
	OpNot                        // pop, push logical-not
	OpNegate                     // pop number, push its negation
	OpAdd                        // binary + (numbers or strings)
	OpSub                        // binary -
	OpMul                        // binary *
	OpDiv                        // binary /
	OpEqual                      // binary ==, never errors
	OpLess                       // binary <
	OpGreater                    // binary >
	OpPrint                      // pop, print, newline
	OpPop                        // pop 1
	OpPopN                       // 1B n, pop n
	OpDefineGlobal               // 1B constant index (name), bind
	OpDefineGlobalLong           // 3B constant index (name), bind
	OpGetGlobal                  // 1B constant index (name), push
	OpGetGlobalLong              // 3B constant index (name), push
	OpSetGlobal                  // 1B constant index (name), leave value
	OpSetGlobalLong              // 3B constant index (name), leave value
	OpGetLocal                   // 1B slot, push
	OpSetLocal                   // 1B slot, leave value
	OpGetUpvalue                 // 1B index, push
	OpSetUpvalue                 // 1B index, leave value
	OpCloseUpvalue               // close the upvalue for the top slot, pop 1
	OpJump                       // 2B offset BE, ip += offset
	OpJumpIfFalse                // 2B offset BE, ip += offset iff peek(0) falsey
	OpLoop                       // 2B offset BE, ip -= offset
	OpCall                       // 1B argc, call peek(argc)
	OpClosure                    // 1B fn constant index + 2B per upvalue, push closure
	OpClosureLong                // 3B fn constant index + 2B per upvalue, push closure
	OpReturn                     // pop return value, pop frame
)

var opcodeNames = [...]string{
	OpConstant:         "OP_CONSTANT",
	OpConstantLong:     "OP_CONSTANT_LONG",
	OpNil:              "OP_NIL",
	OpTrue:             "OP_TRUE",
	OpFalse:            "OP_FALSE",
	OpNot:              "OP_NOT",
	OpNegate:           "OP_NEGATE",
	OpAdd:              "OP_ADD",
	OpSub:              "OP_SUB",
	OpMul:              "OP_MUL",
	OpDiv:              "OP_DIV",
	OpEqual:            "OP_EQUAL",
	OpLess:             "OP_LESS",
	OpGreater:          "OP_GREATER",
	OpPrint:            "OP_PRINT",
	OpPop:              "OP_POP",
	OpPopN:             "OP_POPN",
	OpDefineGlobal:     "OP_DEFINE_GLOBAL",
	OpDefineGlobalLong: "OP_DEFINE_GLOBAL_LONG",
	OpGetGlobal:        "OP_GET_GLOBAL",
	OpGetGlobalLong:    "OP_GET_GLOBAL_LONG",
	OpSetGlobal:        "OP_SET_GLOBAL",
	OpSetGlobalLong:    "OP_SET_GLOBAL_LONG",
	OpGetLocal:         "OP_GET_LOCAL",
	OpSetLocal:         "OP_SET_LOCAL",
	OpGetUpvalue:       "OP_GET_UPVALUE",
	OpSetUpvalue:       "OP_SET_UPVALUE",
	OpCloseUpvalue:     "OP_CLOSE_UPVALUE",
	OpJump:             "OP_JUMP",
	OpJumpIfFalse:      "OP_JUMP_IF_FALSE",
	OpLoop:             "OP_LOOP",
	OpCall:             "OP_CALL",
	OpClosure:          "OP_CLOSURE",
	OpClosureLong:      "OP_CLOSURE_LONG",
	OpReturn:           "OP_RETURN",
}

func (op OpCode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return fmt.Sprintf("OP_UNKNOWN(%d)", byte(op))
}

// MaxConstants is the largest constant-pool size a chunk can address with
// the 24-bit long-form operand (spec.md §3's "2^24 entries" invariant).
const MaxConstants = 1 << 24

// lineRun is one entry of the run-length-encoded line table: `Run`
// consecutive instructions all originate from source line `Line`.
type lineRun struct {
	Line int
	Run  int
}

// Chunk is a compiled unit of bytecode: the instruction stream, its
// constant pool, and a line table for mapping instruction offsets back to
// source lines on error paths. Append-only while a function is being
// compiled; read-only once compilation of that function ends.
type Chunk struct {
	Code      []byte
	Constants []Value
	lines     []lineRun
}

// NewChunk returns an empty chunk.
func NewChunk() *Chunk {
	return &Chunk{}
}

// WriteByte appends a raw byte to the instruction stream, recording which
// source line produced it.
func (c *Chunk) WriteByte(b byte, line int) {
	c.Code = append(c.Code, b)
	c.writeLine(line)
}

func (c *Chunk) writeLine(line int) {
	if n := len(c.lines); n > 0 && c.lines[n-1].Line == line {
		c.lines[n-1].Run++
		return
	}
	c.lines = append(c.lines, lineRun{Line: line, Run: 1})
}

// AddConstant appends a value to the constant pool and returns its index.
// Returns an error once the pool would exceed MaxConstants entries (the
// original aborts the process here; spec.md's redesign flag makes this a
// recoverable compile error instead).
func (c *Chunk) AddConstant(v Value) (int, error) {
	if len(c.Constants) >= MaxConstants {
		return 0, fmt.Errorf("too many constants in one chunk")
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1, nil
}

// WriteConstant adds v to the constant pool and emits the short or long
// form of shortOp/longOp depending on whether the resulting index fits in
// one byte, exactly as the original's write_constant does (big-endian
// 3-byte operand for the long form).
func (c *Chunk) WriteConstant(shortOp, longOp OpCode, v Value, line int) error {
	idx, err := c.AddConstant(v)
	if err != nil {
		return err
	}
	if idx < 1<<8 {
		c.WriteByte(byte(shortOp), line)
		c.WriteByte(byte(idx), line)
	} else {
		c.WriteByte(byte(longOp), line)
		c.WriteByte(byte(idx>>16), line)
		c.WriteByte(byte(idx>>8), line)
		c.WriteByte(byte(idx), line)
	}
	return nil
}

// ReadLine returns the source line that produced the instruction at the
// given code offset. Used only on error paths and by the disassembler
// (including --trace-execution), so the linear scan over runs is
// acceptable (spec.md §4.1).
func (c *Chunk) ReadLine(offset int) int {
	counter := 0
	for _, run := range c.lines {
		counter += run.Run
		if offset < counter {
			return run.Line
		}
	}
	return -1
}

// LineRun is the exported shape of one run-length entry, for serializing a
// chunk to a bytecode image (pkg/bytecode) without exposing the internal
// slice directly.
type LineRun struct {
	Line int
	Run  int
}

// LineRuns returns a copy of the chunk's run-length line table.
func (c *Chunk) LineRuns() []LineRun {
	out := make([]LineRun, len(c.lines))
	for i, r := range c.lines {
		out[i] = LineRun(r)
	}
	return out
}

// AppendLineRun appends a raw run-length entry. Used only by the bytecode
// image decoder to reconstruct a chunk's line table verbatim; ordinary
// compilation always goes through WriteByte instead.
func (c *Chunk) AppendLineRun(line, run int) {
	c.lines = append(c.lines, lineRun{Line: line, Run: run})
}
