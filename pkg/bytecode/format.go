// Package bytecode provides serialization and deserialization for .wbc
// bytecode image files.
//
// The .wbc format is a binary container for a compiled top-level function,
// letting a program be compiled once with `wisp compile` and later run
// without re-scanning or re-compiling.
//
// Binary format layout (all multi-byte integers big-endian, matching the
// byte order the compiler already uses for long constant operands):
//
//	[Header]
//	  Magic (4 bytes): "WISP" (0x57495350)
//	  Version (4 bytes): format version, currently 1
//	  Flags (4 bytes): reserved, 0
//
//	[Function]
//	  Arity (1 byte)
//	  Upvalue count (1 byte)
//	  Name presence (1 byte): 0 = unnamed (the script), 1 = named
//	  Name (if present): 4-byte length + UTF-8 bytes
//	  Chunk (see below)
//
//	[Chunk]
//	  Code length (4 bytes) + raw instruction bytes
//	  Line-run count (4 bytes), then per run: line (4 bytes) + length (4 bytes)
//	  Constant count (4 bytes), then per constant: tag byte + payload
//
// Constant tags:
//
//	0x01 = Number (float64, 8 bytes IEEE 754)
//	0x02 = Boolean (1 byte: 0 or 1)
//	0x03 = Nil (no payload)
//	0x04 = String (4-byte length + UTF-8 bytes)
//	0x05 = Function (recursive [Function] structure)
//
// Functions nest recursively because a function's constant pool holds the
// functions declared inside it; the whole compiled program is one tree
// rooted at the unnamed script function.
//
// Strings are re-interned at decode time into the table the caller passes
// in, so that the pointer-equality invariant interning guarantees (and that
// the VM's globals table depends on) holds for loaded images exactly as it
// does for freshly compiled ones.
package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/wisplang/wisp/pkg/object"
	"github.com/wisplang/wisp/pkg/table"
)

const (
	// MagicNumber is the file signature for .wbc files: "WISP".
	MagicNumber uint32 = 0x57495350

	// FormatVersion is the current bytecode image format version.
	FormatVersion uint32 = 1

	formatFlags uint32 = 0
)

// Constant type identifiers for serialization.
const (
	constTypeNumber   byte = 0x01
	constTypeBoolean  byte = 0x02
	constTypeNil      byte = 0x03
	constTypeString   byte = 0x04
	constTypeFunction byte = 0x05
)

// maxStringLen bounds decoded string and code lengths so a corrupt or
// hostile image can't make us allocate gigabytes before validation fails.
const maxStringLen = 1 << 30

// Encode serializes a compiled top-level function to w in .wbc format.
// The output can later be loaded with Decode and executed without
// re-compiling.
func Encode(fn *object.ObjFunction, w io.Writer) error {
	if err := writeHeader(w); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := writeFunction(w, fn); err != nil {
		return fmt.Errorf("failed to write function: %w", err)
	}
	return nil
}

// Decode deserializes a .wbc image from r and reconstructs the compiled
// function tree. String constants are interned into strings — pass the same
// table the executing VM uses, or global-name lookups will miss.
func Decode(r io.Reader, strings *table.Table) (*object.ObjFunction, error) {
	version, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("unsupported bytecode version: %d (expected %d)", version, FormatVersion)
	}
	fn, err := readFunction(r, strings)
	if err != nil {
		return nil, fmt.Errorf("failed to read function: %w", err)
	}
	return fn, nil
}

func writeHeader(w io.Writer) error {
	if err := binary.Write(w, binary.BigEndian, MagicNumber); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, FormatVersion); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, formatFlags)
}

func readHeader(r io.Reader) (uint32, error) {
	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return 0, err
	}
	if magic != MagicNumber {
		return 0, fmt.Errorf("invalid magic number: 0x%08X (expected 0x%08X)", magic, MagicNumber)
	}
	var version uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return 0, err
	}
	var flags uint32
	if err := binary.Read(r, binary.BigEndian, &flags); err != nil {
		return 0, err
	}
	return version, nil
}

func writeFunction(w io.Writer, fn *object.ObjFunction) error {
	if _, err := w.Write([]byte{byte(fn.Arity), byte(fn.UpvalueCount)}); err != nil {
		return err
	}
	if fn.Name == nil {
		if _, err := w.Write([]byte{0}); err != nil {
			return err
		}
	} else {
		if _, err := w.Write([]byte{1}); err != nil {
			return err
		}
		if err := writeString(w, fn.Name.Chars); err != nil {
			return err
		}
	}
	return writeChunk(w, fn.Chunk)
}

func readFunction(r io.Reader, strings *table.Table) (*object.ObjFunction, error) {
	var head [3]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	fn := object.NewFunction()
	fn.Arity = int(head[0])
	fn.UpvalueCount = int(head[1])
	switch head[2] {
	case 0:
		// unnamed: the top-level script
	case 1:
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		fn.Name = strings.Intern(name)
	default:
		return nil, fmt.Errorf("invalid name-presence byte: %d", head[2])
	}
	if err := readChunk(r, fn.Chunk, strings); err != nil {
		return nil, err
	}
	return fn, nil
}

func writeChunk(w io.Writer, chunk *object.Chunk) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(chunk.Code))); err != nil {
		return err
	}
	if _, err := w.Write(chunk.Code); err != nil {
		return err
	}

	runs := chunk.LineRuns()
	if err := binary.Write(w, binary.BigEndian, uint32(len(runs))); err != nil {
		return err
	}
	for _, run := range runs {
		if err := binary.Write(w, binary.BigEndian, uint32(run.Line)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, uint32(run.Run)); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(chunk.Constants))); err != nil {
		return err
	}
	for i, c := range chunk.Constants {
		if err := writeConstant(w, c); err != nil {
			return fmt.Errorf("failed to write constant %d: %w", i, err)
		}
	}
	return nil
}

func readChunk(r io.Reader, chunk *object.Chunk, strings *table.Table) error {
	var codeLen uint32
	if err := binary.Read(r, binary.BigEndian, &codeLen); err != nil {
		return err
	}
	if codeLen > maxStringLen {
		return fmt.Errorf("implausible code length: %d", codeLen)
	}
	code := make([]byte, codeLen)
	if _, err := io.ReadFull(r, code); err != nil {
		return err
	}
	chunk.Code = code

	var runCount uint32
	if err := binary.Read(r, binary.BigEndian, &runCount); err != nil {
		return err
	}
	if runCount > codeLen {
		return fmt.Errorf("line table longer than code: %d runs", runCount)
	}
	for i := uint32(0); i < runCount; i++ {
		var line, run uint32
		if err := binary.Read(r, binary.BigEndian, &line); err != nil {
			return err
		}
		if err := binary.Read(r, binary.BigEndian, &run); err != nil {
			return err
		}
		chunk.AppendLineRun(int(line), int(run))
	}

	var constCount uint32
	if err := binary.Read(r, binary.BigEndian, &constCount); err != nil {
		return err
	}
	if constCount > object.MaxConstants {
		return fmt.Errorf("too many constants: %d", constCount)
	}
	for i := uint32(0); i < constCount; i++ {
		c, err := readConstant(r, strings)
		if err != nil {
			return fmt.Errorf("failed to read constant %d: %w", i, err)
		}
		chunk.Constants = append(chunk.Constants, c)
	}
	return nil
}

func writeConstant(w io.Writer, v object.Value) error {
	switch {
	case v.IsNumber():
		if _, err := w.Write([]byte{constTypeNumber}); err != nil {
			return err
		}
		return binary.Write(w, binary.BigEndian, v.AsNumber())

	case v.IsBool():
		b := byte(0)
		if v.AsBool() {
			b = 1
		}
		_, err := w.Write([]byte{constTypeBoolean, b})
		return err

	case v.IsNil():
		_, err := w.Write([]byte{constTypeNil})
		return err

	case v.IsString():
		if _, err := w.Write([]byte{constTypeString}); err != nil {
			return err
		}
		return writeString(w, v.AsString().Chars)

	case v.IsFunction():
		if _, err := w.Write([]byte{constTypeFunction}); err != nil {
			return err
		}
		return writeFunction(w, v.AsFunction())

	default:
		return fmt.Errorf("unsupported constant type: %s", v)
	}
}

func readConstant(r io.Reader, strings *table.Table) (object.Value, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return object.Nil, err
	}
	switch tag[0] {
	case constTypeNumber:
		var n float64
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return object.Nil, err
		}
		return object.Number(n), nil

	case constTypeBoolean:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return object.Nil, err
		}
		return object.Bool(b[0] != 0), nil

	case constTypeNil:
		return object.Nil, nil

	case constTypeString:
		s, err := readString(r)
		if err != nil {
			return object.Nil, err
		}
		return object.Obj(strings.Intern(s)), nil

	case constTypeFunction:
		fn, err := readFunction(r, strings)
		if err != nil {
			return object.Nil, err
		}
		return object.Obj(fn), nil

	default:
		return object.Nil, fmt.Errorf("unknown constant tag: 0x%02X", tag[0])
	}
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", err
	}
	if length > maxStringLen {
		return "", fmt.Errorf("implausible string length: %d", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
