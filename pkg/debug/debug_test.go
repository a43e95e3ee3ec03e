package debug

import (
	"bytes"
	"strings"
	"testing"

	"github.com/wisplang/wisp/pkg/compiler"
	"github.com/wisplang/wisp/pkg/object"
	"github.com/wisplang/wisp/pkg/table"
)

func compileForDump(t *testing.T, src string) *object.ObjFunction {
	t.Helper()
	fn, err := compiler.New(table.New()).Compile(src)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	return fn
}

// TestDisassembleChunkListsInstructions dumps a tiny program and checks
// the opcode names and resolved constants appear in the listing.
func TestDisassembleChunkListsInstructions(t *testing.T) {
	fn := compileForDump(t, "print 1 + 2;")

	var buf bytes.Buffer
	DisassembleChunk(&buf, fn.Chunk, "test chunk")
	out := buf.String()

	if !strings.Contains(out, "== test chunk ==") {
		t.Errorf("missing header in:\n%s", out)
	}
	for _, want := range []string{"OP_CONSTANT", "OP_ADD", "OP_PRINT", "OP_NIL", "OP_RETURN", "1", "2"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	// Output to a buffer is never colorized, so no ANSI escapes leak into
	// golden comparisons.
	if strings.Contains(out, "\x1b[") {
		t.Error("ANSI escapes in non-TTY output")
	}
}

// TestDisassembleWalksWholeChunk is the round-trip property: stepping
// DisassembleInstruction from offset 0 visits every instruction boundary
// and lands exactly at the end of the code.
func TestDisassembleWalksWholeChunk(t *testing.T) {
	fn := compileForDump(t, `
var g = 1;
{
  var a = 2;
  var b = 3;
  fun f(x) { return x + a; }
  if (a < b and g > 0) print f(a); else print b;
  while (false) g = g + 1;
}
for (var i = 0; i < 2; i = i + 1) print i ? "odd" : "even";
`)

	var visit func(*object.ObjFunction)
	visit = func(fn *object.ObjFunction) {
		var buf bytes.Buffer
		offset := 0
		steps := 0
		for offset < len(fn.Chunk.Code) {
			next := DisassembleInstruction(&buf, fn.Chunk, offset)
			if next <= offset {
				t.Fatalf("disassembly did not advance at offset %d", offset)
			}
			offset = next
			steps++
		}
		if offset != len(fn.Chunk.Code) {
			t.Fatalf("disassembly overran: ended at %d of %d", offset, len(fn.Chunk.Code))
		}
		if steps == 0 {
			t.Fatal("no instructions disassembled")
		}
		for _, c := range fn.Chunk.Constants {
			if c.IsFunction() {
				visit(c.AsFunction())
			}
		}
	}
	visit(fn)
}

// TestDisassembleFunctionRecurses: dumping the script also dumps every
// function nested in its constant pool under its own header.
func TestDisassembleFunctionRecurses(t *testing.T) {
	fn := compileForDump(t, "fun outer() { fun inner() {} }")

	var buf bytes.Buffer
	DisassembleFunction(&buf, fn)
	out := buf.String()

	for _, want := range []string{"== <script> ==", "== <fn outer> ==", "== <fn inner> =="} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

// TestRepeatedLineCollapses: instructions sharing a source line show the
// continuation marker instead of repeating the line number.
func TestRepeatedLineCollapses(t *testing.T) {
	fn := compileForDump(t, "print 1 + 2;")

	var buf bytes.Buffer
	DisassembleChunk(&buf, fn.Chunk, "lines")
	if !strings.Contains(buf.String(), "|") {
		t.Errorf("expected line-continuation marker in:\n%s", buf.String())
	}
}
