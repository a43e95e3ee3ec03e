// Package test provides end-to-end tests for wisp: whole programs through
// the scanner, compiler and VM, plus the compile-to-image-and-reload path.
package test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisplang/wisp/pkg/bytecode"
	"github.com/wisplang/wisp/pkg/compiler"
	"github.com/wisplang/wisp/pkg/table"
	"github.com/wisplang/wisp/pkg/vm"
)

func run(t *testing.T, src string) string {
	t.Helper()
	machine := vm.New(table.New())
	var out bytes.Buffer
	machine.Out = &out
	require.NoError(t, machine.Interpret(src))
	return out.String()
}

func TestFibonacci(t *testing.T) {
	got := run(t, `
fun fib(n) {
  if (n < 2) return n;
  return fib(n - 2) + fib(n - 1);
}
for (var i = 0; i < 10; i = i + 1) {
  print fib(i);
}`)
	assert.Equal(t, "0\n1\n1\n2\n3\n5\n8\n13\n21\n34\n", got)
}

func TestStringBuilding(t *testing.T) {
	got := run(t, `
var line = "";
for (var i = 0; i < 5; i = i + 1) {
  line = line + "*";
}
print line;`)
	assert.Equal(t, "*****\n", got)
}

func TestHigherOrderFunctions(t *testing.T) {
	got := run(t, `
fun twice(f, x) {
  return f(f(x));
}
fun addThree(n) { return n + 3; }
print twice(addThree, 10);`)
	assert.Equal(t, "16\n", got)
}

func TestAdderFactory(t *testing.T) {
	got := run(t, `
fun makeAdder(n) {
  fun add(x) { return x + n; }
  return add;
}
var add5 = makeAdder(5);
var add10 = makeAdder(10);
print add5(1);
print add10(1);
print add5(add10(0));`)
	assert.Equal(t, "6\n11\n15\n", got)
}

func TestNestedScopesAndConditionals(t *testing.T) {
	got := run(t, `
var total = 0;
for (var i = 1; i <= 15; i = i + 1) {
  var label = "";
  if (i / 3 == 1 or i / 3 == 2 or i / 3 == 3 or i / 3 == 4 or i / 3 == 5) {
    label = "fizz";
  }
  if (label == "fizz") total = total + 1;
}
print total;`)
	assert.Equal(t, "5\n", got)
}

// TestCompileRunViaImage drives the ahead-of-time path the CLI's compile
// subcommand uses: compile, encode, decode into a fresh intern table, run.
func TestCompileRunViaImage(t *testing.T) {
	src := `
fun greet(name) {
  return "hello, " + name;
}
print greet("world");
var count = 0;
fun bump() { count = count + 1; return count; }
bump();
bump();
print bump();`

	fn, err := compiler.New(table.New()).Compile(src)
	require.NoError(t, err)

	var image bytes.Buffer
	require.NoError(t, bytecode.Encode(fn, &image))

	interns := table.New()
	decoded, err := bytecode.Decode(&image, interns)
	require.NoError(t, err)

	machine := vm.New(interns)
	var out bytes.Buffer
	machine.Out = &out
	require.NoError(t, machine.RunFunction(decoded))
	assert.Equal(t, "hello, world\n3\n", out.String())
}
