package vm

import (
	"errors"
	"fmt"
)

// ErrStepLimit is returned when a run exceeds its instruction budget.
var ErrStepLimit = errors.New("vm: step limit exceeded")

// TraceTrap is a runtime bounds or invariant violation: reading past the
// bytecode, popping an empty stack, returning with no frame, calling a
// non-callable value. It indicates a compiler or interpreter bug (or a
// hand-written program that breaks the calling convention) and always
// aborts the run.
type TraceTrap struct {
	PC     int    // address of the faulting instruction
	Op     Opcode // faulting opcode, if one was decoded
	HasOp  bool
	Reason string
	Detail string
	SP     int // operand stack depth at the fault
	Depth  int // call frame depth at the fault
}

func (t *TraceTrap) Error() string {
	msg := fmt.Sprintf("trace trap at %04d", t.PC)
	if t.HasOp {
		msg += " (" + t.Op.Name() + ")"
	}
	msg += ": " + t.Reason
	if t.Detail != "" {
		msg += " [" + t.Detail + "]"
	}
	if t.SP > 0 || t.Depth > 0 {
		msg += fmt.Sprintf(" sp=%d frames=%d", t.SP, t.Depth)
	}
	return msg
}

// LinkError reports a primitive binding whose host function is missing. It
// is raised before any instruction executes.
type LinkError struct {
	Name  string
	Index int
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link error: primitive %q (import %d) is not provided by the host", e.Name, e.Index)
}

// HostError wraps a failure reported by a host primitive.
type HostError struct {
	Name string
	Err  error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("primitive %s: %v", e.Name, e.Err)
}

func (e *HostError) Unwrap() error {
	return e.Err
}
