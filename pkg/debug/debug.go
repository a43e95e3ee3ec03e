// Package debug disassembles compiled chunks for the `--dump-code` and
// `--trace-execution` CLI flags and the `wisp disassemble` subcommand. It
// never affects compilation or execution — only what gets printed.
package debug

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"

	"github.com/wisplang/wisp/pkg/object"
)

var (
	opColor  = color.New(color.FgCyan, color.Bold)
	argColor = color.New(color.FgYellow)
)

// isTTY reports whether w is a terminal worth colorizing for. Non-file
// writers (buffers, pipes in tests) are always treated as non-TTY so golden
// output stays plain.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Colorable wraps stdout/stderr so ANSI sequences render on Windows
// consoles too; on other platforms it is the file unchanged.
func Colorable(f *os.File) io.Writer {
	return colorable.NewColorable(f)
}

// DisassembleChunk prints every instruction in chunk under a header naming
// it, using a tablewriter grid of offset/line/opcode/operand/constant.
func DisassembleChunk(w io.Writer, chunk *object.Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"OFFSET", "LINE", "OPCODE", "OPERAND", "CONSTANT"})
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)

	offset := 0
	prevLine := -1
	for offset < len(chunk.Code) {
		var row [5]string
		offset, row = disassembleRow(chunk, offset, &prevLine, isTTY(w))
		table.Append(row[:])
	}
	table.Render()
}

func disassembleRow(chunk *object.Chunk, offset int, prevLine *int, colorize bool) (int, [5]string) {
	line := chunk.ReadLine(offset)
	lineCol := fmt.Sprintf("%d", line)
	if line == *prevLine {
		lineCol = "   |"
	}
	*prevLine = line

	op := object.OpCode(chunk.Code[offset])
	opName := op.String()
	if colorize {
		opName = opColor.Sprint(opName)
	}

	switch op {
	case object.OpConstant, object.OpDefineGlobal, object.OpGetGlobal, object.OpSetGlobal:
		idx := int(chunk.Code[offset+1])
		return offset + 2, constantRow(offset, lineCol, opName, idx, chunk, colorize)
	case object.OpConstantLong, object.OpDefineGlobalLong, object.OpGetGlobalLong, object.OpSetGlobalLong,
		object.OpClosureLong:
		idx := int(chunk.Code[offset+1])<<16 | int(chunk.Code[offset+2])<<8 | int(chunk.Code[offset+3])
		next := offset + 4
		if op == object.OpClosureLong {
			next += upvalueBytes(chunk, idx)
		}
		return next, constantRow(offset, lineCol, opName, idx, chunk, colorize)
	case object.OpClosure:
		idx := int(chunk.Code[offset+1])
		next := offset + 2 + upvalueBytes(chunk, idx)
		return next, constantRow(offset, lineCol, opName, idx, chunk, colorize)
	case object.OpGetLocal, object.OpSetLocal, object.OpGetUpvalue, object.OpSetUpvalue,
		object.OpPopN, object.OpCall:
		operand := int(chunk.Code[offset+1])
		return offset + 2, byteOperandRow(offset, lineCol, opName, operand, colorize)
	case object.OpJump, object.OpJumpIfFalse, object.OpLoop:
		jump := int(chunk.Code[offset+1])<<8 | int(chunk.Code[offset+2])
		return offset + 3, byteOperandRow(offset, lineCol, opName, jump, colorize)
	default:
		return offset + 1, [5]string{fmt.Sprintf("%04d", offset), lineCol, opName, "", ""}
	}
}

func upvalueBytes(chunk *object.Chunk, fnConstIdx int) int {
	if fnConstIdx >= len(chunk.Constants) || !chunk.Constants[fnConstIdx].IsFunction() {
		return 0
	}
	return chunk.Constants[fnConstIdx].AsFunction().UpvalueCount * 2
}

func constantRow(offset int, lineCol, opName string, idx int, chunk *object.Chunk, colorize bool) [5]string {
	operand := fmt.Sprintf("%d", idx)
	constant := ""
	if idx < len(chunk.Constants) {
		constant = chunk.Constants[idx].String()
	}
	if colorize {
		operand = argColor.Sprint(operand)
	}
	return [5]string{fmt.Sprintf("%04d", offset), lineCol, opName, operand, constant}
}

func byteOperandRow(offset int, lineCol, opName string, operand int, colorize bool) [5]string {
	s := fmt.Sprintf("%d", operand)
	if colorize {
		s = argColor.Sprint(s)
	}
	return [5]string{fmt.Sprintf("%04d", offset), lineCol, opName, s, ""}
}

// DisassembleFunction dumps fn's chunk followed by every function nested in
// its constant pool, depth-first — the whole compiled program when called on
// the top-level script.
func DisassembleFunction(w io.Writer, fn *object.ObjFunction) {
	DisassembleChunk(w, fn.Chunk, fn.String())
	for _, c := range fn.Chunk.Constants {
		if c.IsFunction() {
			fmt.Fprintln(w)
			DisassembleFunction(w, c.AsFunction())
		}
	}
}

// DisassembleInstruction prints exactly one instruction at offset and
// returns the offset of the next one, for the VM's --trace-execution mode.
func DisassembleInstruction(w io.Writer, chunk *object.Chunk, offset int) int {
	prevLine := -1
	if offset > 0 {
		prevLine = chunk.ReadLine(offset - 1)
	}
	next, row := disassembleRow(chunk, offset, &prevLine, isTTY(w))
	fmt.Fprintf(w, "%-6s %-6s %-24s %-8s %s\n", row[0], row[1], row[2], row[3], row[4])
	return next
}
