package vm

import "fmt"

// ValueKind distinguishes integers from callable references on the
// operand stack.
type ValueKind uint8

const (
	KindInt   ValueKind = iota // 64-bit two's-complement integer
	KindFunc                   // compiled function, Bits is the entry address
	KindProto                  // host primitive, Bits is the import index
)

// Value is one operand stack slot.
type Value struct {
	Kind ValueKind
	Bits int64
}

// IntValue returns an integer value.
func IntValue(n int64) Value {
	return Value{Kind: KindInt, Bits: n}
}

// FuncValue returns a reference to the compiled function at entry.
func FuncValue(entry uint32) Value {
	return Value{Kind: KindFunc, Bits: int64(entry)}
}

// ProtoValue returns a reference to primitive import idx.
func ProtoValue(idx uint32) Value {
	return Value{Kind: KindProto, Bits: int64(idx)}
}

// IsInt reports whether v is an integer.
func (v Value) IsInt() bool {
	return v.Kind == KindInt
}

// Int returns the integer payload. Callers check IsInt first.
func (v Value) Int() int64 {
	return v.Bits
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return fmt.Sprintf("%d", v.Bits)
	case KindFunc:
		return fmt.Sprintf("<func @%04d>", v.Bits)
	case KindProto:
		return fmt.Sprintf("<primitive #%d>", v.Bits)
	}
	return fmt.Sprintf("<kind %d: %d>", v.Kind, v.Bits)
}
