package vm

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a single bytecode instruction. Each opcode is one byte followed
// by a fixed-width immediate (possibly empty), little-endian.
type Opcode byte

const (
	OpPushFunc  Opcode = 0x00 // push function reference (u32 entry address)
	OpPushProto Opcode = 0x01 // push primitive reference (u32 primitive index)
	OpPushInt   Opcode = 0x02 // push integer (i64)
	OpPeek      Opcode = 0x03 // push copy of frame slot (u32 slot)
	OpPop       Opcode = 0x04 // discard top of stack
	OpCall      Opcode = 0x05 // pop callee, call with argc arguments (u32 argc)
	OpAdd       Opcode = 0x06
	OpSub       Opcode = 0x07
	OpMul       Opcode = 0x08
	OpEquals    Opcode = 0x09
	OpRet       Opcode = 0x0A // return top of stack to the caller
	OpJumpFalse Opcode = 0x0B // pop, jump if zero (u32 absolute target)
	OpJump      Opcode = 0x0C // unconditional jump (u32 absolute target)
	OpStop      Opcode = 0x0D // halt
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of operand bytes
	StackEffect  int    // net effect on stack; CALL pops argc more than listed
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpPushFunc:  {"PUSH_FUNC", 4, 1},
	OpPushProto: {"PUSH_PROTO", 4, 1},
	OpPushInt:   {"PUSH_INT", 8, 1},
	OpPeek:      {"PEEK", 4, 1},
	OpPop:       {"POP", 0, -1},
	OpCall:      {"CALL", 4, 0}, // pops callee + argc args, pushes 1
	OpAdd:       {"ADD", 0, -1},
	OpSub:       {"SUB", 0, -1},
	OpMul:       {"MUL", 0, -1},
	OpEquals:    {"EQUALS", 0, -1},
	OpRet:       {"RET", 0, -1},
	OpJumpFalse: {"JUMP_FALSE", 4, -1},
	OpJump:      {"JUMP", 4, 0},
	OpStop:      {"STOP", 0, 0},
}

// opcodesByName is the inverse of opcodeTable, used by the assembler.
var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		m[info.Name] = op
	}
	return m
}()

// Valid reports whether op is a member of the opcode set.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Builder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// Builder accumulates instructions and the primitive import table of a
// Program under construction.
type Builder struct {
	bytes      []byte
	primitives []string
	primIndex  map[string]uint32
	labels     []*Label
}

// NewBuilder creates a new bytecode builder.
func NewBuilder() *Builder {
	return &Builder{
		bytes:     make([]byte, 0, 64),
		primIndex: make(map[string]uint32),
	}
}

// Len returns the current length, i.e. the address of the next instruction.
func (b *Builder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *Builder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitUint32 appends an opcode with a 32-bit operand.
func (b *Builder) EmitUint32(op Opcode, operand uint32) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, operand)
}

// EmitInt64 appends an opcode with a 64-bit operand.
func (b *Builder) EmitInt64(op Opcode, operand int64) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint64(b.bytes, uint64(operand))
}

// Primitive returns the import-table index for a primitive name, adding it
// on first use.
func (b *Builder) Primitive(name string) uint32 {
	if idx, ok := b.primIndex[name]; ok {
		return idx
	}
	idx := uint32(len(b.primitives))
	b.primitives = append(b.primitives, name)
	b.primIndex[name] = idx
	return idx
}

// Build returns the finished Program. The builder must not be used
// afterwards. Unresolved labels are an error.
func (b *Builder) Build() (*Program, error) {
	for _, l := range b.labels {
		if !l.resolved && len(l.refs) > 0 {
			return nil, fmt.Errorf("vm: unresolved label referenced at offset %d", l.refs[0]-1)
		}
	}
	return NewProgram(b.bytes, b.primitives), nil
}

// ---------------------------------------------------------------------------
// Label management for jumps and function references
// ---------------------------------------------------------------------------

// Label is an address that may not be known yet. Instructions referencing
// an unresolved label are back-patched when the label is marked.
type Label struct {
	resolved bool
	position int   // target address once resolved
	refs     []int // operand positions waiting for the address
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	l := &Label{refs: make([]int, 0, 2)}
	b.labels = append(b.labels, l)
	return l
}

// Resolved reports whether the label has been marked.
func (l *Label) Resolved() bool {
	return l.resolved
}

// Mark resolves a label to the current position and patches every pending
// reference.
func (b *Builder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	for _, ref := range label.refs {
		binary.LittleEndian.PutUint32(b.bytes[ref:], uint32(label.position))
	}
	label.refs = nil
}

// EmitLabel emits an instruction whose u32 operand is the label's address
// (JUMP, JUMP_FALSE, PUSH_FUNC).
func (b *Builder) EmitLabel(op Opcode, label *Label) {
	if label.resolved {
		b.EmitUint32(op, uint32(label.position))
		return
	}
	b.bytes = append(b.bytes, byte(op))
	label.refs = append(label.refs, len(b.bytes))
	b.bytes = append(b.bytes, 0, 0, 0, 0) // placeholder
}
