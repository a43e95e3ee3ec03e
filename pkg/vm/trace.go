package vm

import (
	"fmt"
	"os"

	"github.com/wisplang/wisp/pkg/debug"
)

// traceInstruction prints the current stack contents followed by the
// disassembly of the instruction about to execute, mirroring the original
// DEBUG_TRACE_EXECUTION build's per-instruction output.
func (vm *VM) traceInstruction(f *frame) {
	fmt.Fprint(os.Stdout, "          ")
	for i := 0; i < vm.stackTop; i++ {
		fmt.Fprintf(os.Stdout, "[ %s ]", vm.stack[i].String())
	}
	fmt.Fprintln(os.Stdout)
	debug.DisassembleInstruction(os.Stdout, f.closure.Function.Chunk, f.ip)
}
