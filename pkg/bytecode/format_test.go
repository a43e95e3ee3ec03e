package bytecode

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisplang/wisp/pkg/compiler"
	"github.com/wisplang/wisp/pkg/object"
	"github.com/wisplang/wisp/pkg/table"
	"github.com/wisplang/wisp/pkg/vm"
)

const roundTripProgram = `
var greeting = "hello";
fun shout(word) {
  fun bang() { return word + "!"; }
  return bang;
}
print shout(greeting)();
print 1.5 + 2;
print true ? nil : false;
`

func compileProgram(t *testing.T, src string) *object.ObjFunction {
	t.Helper()
	fn, err := compiler.New(table.New()).Compile(src)
	require.NoError(t, err)
	return fn
}

// TestEncodeDecodeRoundTrip serializes a compiled program with nested
// functions and every constant kind, reloads it, and compares the whole
// function tree structurally.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := compileProgram(t, roundTripProgram)

	var buf bytes.Buffer
	require.NoError(t, Encode(original, &buf))
	require.NotZero(t, buf.Len(), "no data was encoded")

	decoded, err := Decode(&buf, table.New())
	require.NoError(t, err)

	assertFunctionsEqual(t, original, decoded)
}

func assertFunctionsEqual(t *testing.T, want, got *object.ObjFunction) {
	t.Helper()
	assert.Equal(t, want.Arity, got.Arity)
	assert.Equal(t, want.UpvalueCount, got.UpvalueCount)
	if want.Name == nil {
		assert.Nil(t, got.Name)
	} else {
		require.NotNil(t, got.Name)
		assert.Equal(t, want.Name.Chars, got.Name.Chars)
	}

	assert.Equal(t, want.Chunk.Code, got.Chunk.Code)
	assert.Equal(t, want.Chunk.LineRuns(), got.Chunk.LineRuns())

	require.Equal(t, len(want.Chunk.Constants), len(got.Chunk.Constants))
	for i := range want.Chunk.Constants {
		w, g := want.Chunk.Constants[i], got.Chunk.Constants[i]
		switch {
		case w.IsFunction():
			require.True(t, g.IsFunction(), "constant %d", i)
			assertFunctionsEqual(t, w.AsFunction(), g.AsFunction())
		case w.IsString():
			require.True(t, g.IsString(), "constant %d", i)
			assert.Equal(t, w.AsString().Chars, g.AsString().Chars)
		default:
			assert.True(t, object.Equal(w, g), "constant %d: want %s, got %s", i, w, g)
		}
	}
}

// TestDecodedImageRuns executes a decoded image and checks it behaves
// exactly like the freshly compiled program, closures and all.
func TestDecodedImageRuns(t *testing.T) {
	fn := compileProgram(t, roundTripProgram)

	var buf bytes.Buffer
	require.NoError(t, Encode(fn, &buf))

	interns := table.New()
	decoded, err := Decode(&buf, interns)
	require.NoError(t, err)

	machine := vm.New(interns)
	var out bytes.Buffer
	machine.Out = &out
	require.NoError(t, machine.RunFunction(decoded))
	assert.Equal(t, "hello!\n3.5\nnil\n", out.String())
}

// TestDecodeInternsStrings: the decoder must route string constants through
// the intern table so pointer equality (and thus globals lookups) hold.
func TestDecodeInternsStrings(t *testing.T) {
	fn := compileProgram(t, `var x = "shared"; print "shared";`)

	var buf bytes.Buffer
	require.NoError(t, Encode(fn, &buf))

	interns := table.New()
	decoded, err := Decode(&buf, interns)
	require.NoError(t, err)

	var seen *object.ObjString
	for _, c := range decoded.Chunk.Constants {
		if !c.IsString() {
			continue
		}
		s := c.AsString()
		if s.Chars != "shared" {
			continue
		}
		if seen == nil {
			seen = s
		} else {
			assert.Same(t, seen, s, "equal string constants must decode to one object")
		}
	}
	require.NotNil(t, seen)
	assert.Same(t, seen, interns.Intern("shared"))
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(0xDEADBEEF)))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, FormatVersion))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(0)))

	_, err := Decode(&buf, table.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid magic number")
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, MagicNumber))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(99)))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(0)))

	_, err := Decode(&buf, table.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported bytecode version")
}

// TestDecodeTruncated: cutting the stream anywhere must produce an error,
// never a panic or a silently short function.
func TestDecodeTruncated(t *testing.T) {
	fn := compileProgram(t, `print "truncate me";`)
	var buf bytes.Buffer
	require.NoError(t, Encode(fn, &buf))
	full := buf.Bytes()

	for cut := 0; cut < len(full); cut += 7 {
		_, err := Decode(bytes.NewReader(full[:cut]), table.New())
		assert.Error(t, err, "truncation at %d bytes should fail", cut)
	}
}

func TestDecodeEmptyInput(t *testing.T) {
	_, err := Decode(bytes.NewReader(nil), table.New())
	require.Error(t, err)
}
