package vm

import (
	"encoding/binary"
	"fmt"
	"slices"
	"unsafe"
)

// ---------------------------------------------------------------------------
// Program: immutable compiled bytecode
// ---------------------------------------------------------------------------

// Program is a flat instruction stream plus the import table of primitive
// names referenced by PUSH_PROTO. It is never mutated after construction,
// so any number of interpreters may read it concurrently.
type Program struct {
	code       []byte
	primitives []string
}

// NewProgram creates a Program from raw bytecode and its primitive table.
// Both slices are copied.
func NewProgram(code []byte, primitives []string) *Program {
	return &Program{
		code:       slices.Clone(code),
		primitives: slices.Clone(primitives),
	}
}

// Len returns the size of the bytecode in bytes.
func (p *Program) Len() int {
	return len(p.code)
}

// Code returns a copy of the bytecode.
func (p *Program) Code() []byte {
	return slices.Clone(p.code)
}

// Primitives returns a copy of the primitive import table.
func (p *Program) Primitives() []string {
	return slices.Clone(p.primitives)
}

// Primitive returns the name at index idx of the import table.
func (p *Program) Primitive(idx uint32) (string, bool) {
	if int(idx) >= len(p.primitives) {
		return "", false
	}
	return p.primitives[idx], true
}

// Equal reports whether two programs have identical bytecode and imports.
func (p *Program) Equal(other *Program) bool {
	return slices.Equal(p.code, other.code) && slices.Equal(p.primitives, other.primitives)
}

// ---------------------------------------------------------------------------
// Typed reads
// ---------------------------------------------------------------------------

// Operand is the set of fixed-width values that can be read from a Program.
type Operand interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~uint64 | ~int64
}

// Read decodes a little-endian value of type T at *pc and advances *pc by
// its width. A read that would run past the end of the bytecode returns a
// TraceTrap and leaves *pc unchanged.
func Read[T Operand](p *Program, pc *int) (T, error) {
	var v T
	width := int(unsafe.Sizeof(v))
	start := *pc
	if start < 0 || start+width > len(p.code) {
		return v, &TraceTrap{
			PC:     start,
			Reason: "read past end of bytecode",
			Detail: fmt.Sprintf("width %d, bytecode length %d", width, len(p.code)),
		}
	}

	var bits uint64
	switch width {
	case 1:
		bits = uint64(p.code[start])
	case 2:
		bits = uint64(binary.LittleEndian.Uint16(p.code[start:]))
	case 4:
		bits = uint64(binary.LittleEndian.Uint32(p.code[start:]))
	default:
		bits = binary.LittleEndian.Uint64(p.code[start:])
	}
	*pc = start + width
	return T(bits), nil
}
