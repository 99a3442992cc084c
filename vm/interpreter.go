package vm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("imp.vm")

// ---------------------------------------------------------------------------
// Frame: Execution state for a function invocation
// ---------------------------------------------------------------------------

// Frame records one active call: where to resume the caller and where the
// callee's slots (arguments, then locals) begin on the value stack.
type Frame struct {
	ReturnPC int
	BP       int
}

// ---------------------------------------------------------------------------
// Interpreter: Bytecode execution engine
// ---------------------------------------------------------------------------

const (
	// DefaultMaxFrames bounds call depth unless overridden.
	DefaultMaxFrames = 1 << 16

	// cancelCheckInterval is how many instructions run between context checks.
	cancelCheckInterval = 1024
)

// Interpreter executes one Program. It is not safe for concurrent use; give
// each concurrent run its own Interpreter. The Program may be shared.
type Interpreter struct {
	prog  *Program
	hosts []HostFunc // indexed like prog.primitives

	stack  []Value
	frames []Frame
	pc     int
	steps  uint64

	stdout    io.Writer
	stdin     *bufio.Reader
	trace     io.Writer
	maxSteps  uint64
	maxFrames int
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithStdout sets the writer primitives print to.
func WithStdout(w io.Writer) Option {
	return func(i *Interpreter) { i.stdout = w }
}

// WithStdin sets the reader primitives read from.
func WithStdin(r io.Reader) Option {
	return func(i *Interpreter) { i.stdin = bufio.NewReader(r) }
}

// WithMaxSteps bounds the number of executed instructions. Zero means no
// limit.
func WithMaxSteps(n uint64) Option {
	return func(i *Interpreter) { i.maxSteps = n }
}

// WithMaxFrames bounds the call depth.
func WithMaxFrames(n int) Option {
	return func(i *Interpreter) { i.maxFrames = n }
}

// WithTrace writes each instruction to w before it executes.
func WithTrace(w io.Writer) Option {
	return func(i *Interpreter) { i.trace = w }
}

// NewInterpreter links prog against hosts and returns an interpreter ready
// to run it. Every primitive named by the program must be present in hosts;
// otherwise a *LinkError is returned and nothing executes.
func NewInterpreter(prog *Program, hosts HostTable, opts ...Option) (*Interpreter, error) {
	i := &Interpreter{
		prog:      prog,
		stdout:    os.Stdout,
		maxFrames: DefaultMaxFrames,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.stdin == nil {
		i.stdin = bufio.NewReader(os.Stdin)
	}

	i.hosts = make([]HostFunc, len(prog.primitives))
	for idx, name := range prog.primitives {
		fn, ok := hosts[name]
		if !ok || fn == nil {
			return nil, &LinkError{Name: name, Index: idx}
		}
		i.hosts[idx] = fn
	}
	log.Debugf("linked %d primitives", len(i.hosts))
	return i, nil
}

// Steps returns the number of instructions executed by the last run.
func (i *Interpreter) Steps() uint64 {
	return i.steps
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (i *Interpreter) push(v Value) {
	i.stack = append(i.stack, v)
}

func (i *Interpreter) pop() (Value, bool) {
	if len(i.stack) == 0 {
		return Value{}, false
	}
	v := i.stack[len(i.stack)-1]
	i.stack = i.stack[:len(i.stack)-1]
	return v, true
}

func (i *Interpreter) frame() *Frame {
	return &i.frames[len(i.frames)-1]
}

// trap builds a TraceTrap for the instruction at pc.
func (i *Interpreter) trap(pc int, op Opcode, reason string, args ...any) *TraceTrap {
	return &TraceTrap{
		PC:     pc,
		Op:     op,
		HasOp:  true,
		Reason: fmt.Sprintf(reason, args...),
		SP:     len(i.stack),
		Depth:  len(i.frames),
	}
}

// ---------------------------------------------------------------------------
// Main interpreter loop
// ---------------------------------------------------------------------------

// Run executes the program from address 0 in a fresh entry frame. It ends
// at STOP (result 0), at a RET out of the entry frame (the returned value),
// or with an error. ctx is polled between instructions.
func (i *Interpreter) Run(ctx context.Context) (result Value, err error) {
	i.stack = i.stack[:0]
	i.frames = append(i.frames[:0], Frame{ReturnPC: -1, BP: 0})
	i.pc = 0
	i.steps = 0

	defer func() {
		log.Debugf("run finished after %d instructions", i.steps)
	}()

	for {
		if i.maxSteps > 0 && i.steps >= i.maxSteps {
			return Value{}, fmt.Errorf("%w (%d instructions, pc=%04d)", ErrStepLimit, i.steps, i.pc)
		}
		i.steps++
		if i.steps%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return Value{}, fmt.Errorf("vm: run interrupted at %04d: %w", i.pc, err)
			}
		}

		start := i.pc
		if i.trace != nil {
			fmt.Fprintln(i.trace, disassembleAt(i.prog, start))
		}
		op, err := Read[Opcode](i.prog, &i.pc)
		if err != nil {
			return Value{}, err
		}

		done, err := i.step(start, op)
		if err != nil {
			return Value{}, err
		}
		if done {
			if len(i.stack) == 0 {
				return IntValue(0), nil
			}
			return i.stack[len(i.stack)-1], nil
		}
	}
}

// step executes one decoded instruction. It reports done when the program
// has terminated; the result is then the top of the stack (or 0 if empty).
func (i *Interpreter) step(start int, op Opcode) (done bool, err error) {
	switch op {
	case OpPushInt:
		n, err := Read[int64](i.prog, &i.pc)
		if err != nil {
			return false, err
		}
		i.push(IntValue(n))

	case OpPushFunc:
		entry, err := Read[uint32](i.prog, &i.pc)
		if err != nil {
			return false, err
		}
		if int(entry) >= i.prog.Len() {
			return false, i.trap(start, op, "function entry %04d outside bytecode", entry)
		}
		i.push(FuncValue(entry))

	case OpPushProto:
		idx, err := Read[uint32](i.prog, &i.pc)
		if err != nil {
			return false, err
		}
		if int(idx) >= len(i.hosts) {
			return false, i.trap(start, op, "primitive index %d outside import table of %d", idx, len(i.hosts))
		}
		i.push(ProtoValue(idx))

	case OpPeek:
		slot, err := Read[uint32](i.prog, &i.pc)
		if err != nil {
			return false, err
		}
		at := i.frame().BP + int(slot)
		if at >= len(i.stack) {
			return false, i.trap(start, op, "slot %d beyond stack top", slot)
		}
		i.push(i.stack[at])

	case OpPop:
		if len(i.stack) <= i.frame().BP {
			return false, i.trap(start, op, "stack underflow below frame base %d", i.frame().BP)
		}
		i.pop()

	case OpAdd, OpSub, OpMul:
		a, b, err := i.popInts(start, op)
		if err != nil {
			return false, err
		}
		switch op {
		case OpAdd:
			i.push(IntValue(a + b))
		case OpSub:
			i.push(IntValue(a - b))
		default:
			i.push(IntValue(a * b))
		}

	case OpEquals:
		b, okB := i.pop()
		a, okA := i.pop()
		if !okA || !okB {
			return false, i.trap(start, op, "stack underflow")
		}
		if a == b {
			i.push(IntValue(1))
		} else {
			i.push(IntValue(0))
		}

	case OpCall:
		argc, err := Read[uint32](i.prog, &i.pc)
		if err != nil {
			return false, err
		}
		return false, i.call(start, int(argc))

	case OpRet:
		if len(i.frames) == 0 {
			return false, i.trap(start, op, "return with no active frame")
		}
		f := i.frames[len(i.frames)-1]
		if len(i.stack) <= f.BP {
			return false, i.trap(start, op, "stack underflow below frame base %d", f.BP)
		}
		v, _ := i.pop()
		i.frames = i.frames[:len(i.frames)-1]
		if len(i.frames) == 0 {
			// Returning from the entry frame ends the run.
			i.stack = append(i.stack[:0], v)
			return true, nil
		}
		i.stack = i.stack[:f.BP]
		i.pc = f.ReturnPC
		i.push(v)

	case OpJumpFalse:
		target, err := Read[uint32](i.prog, &i.pc)
		if err != nil {
			return false, err
		}
		v, ok := i.pop()
		if !ok {
			return false, i.trap(start, op, "stack underflow")
		}
		if !v.IsInt() {
			return false, i.trap(start, op, "condition %s is not an integer", v)
		}
		if v.Int() == 0 {
			if err := i.jump(start, op, target); err != nil {
				return false, err
			}
		}

	case OpJump:
		target, err := Read[uint32](i.prog, &i.pc)
		if err != nil {
			return false, err
		}
		if err := i.jump(start, op, target); err != nil {
			return false, err
		}

	case OpStop:
		i.stack = i.stack[:0]
		return true, nil

	default:
		return false, i.trap(start, op, "invalid opcode 0x%02x", byte(op))
	}
	return false, nil
}

func (i *Interpreter) popInts(start int, op Opcode) (a, b int64, err error) {
	vb, okB := i.pop()
	va, okA := i.pop()
	if !okA || !okB {
		return 0, 0, i.trap(start, op, "stack underflow")
	}
	if !va.IsInt() || !vb.IsInt() {
		return 0, 0, i.trap(start, op, "operands %s and %s are not both integers", va, vb)
	}
	return va.Int(), vb.Int(), nil
}

func (i *Interpreter) jump(start int, op Opcode, target uint32) error {
	if int(target) >= i.prog.Len() {
		return i.trap(start, op, "jump target %04d outside bytecode", target)
	}
	i.pc = int(target)
	return nil
}

// call pops the callee and dispatches it with the argc values beneath it as
// arguments.
func (i *Interpreter) call(start int, argc int) error {
	callee, ok := i.pop()
	if !ok {
		return i.trap(start, OpCall, "stack underflow")
	}
	base := len(i.stack) - argc
	if base < i.frame().BP {
		return i.trap(start, OpCall, "%d arguments requested, %d available", argc, len(i.stack)-i.frame().BP)
	}

	switch callee.Kind {
	case KindFunc:
		if len(i.frames) >= i.maxFrames {
			return i.trap(start, OpCall, "call stack overflow (%d frames)", len(i.frames))
		}
		i.frames = append(i.frames, Frame{ReturnPC: i.pc, BP: base})
		i.pc = int(callee.Bits)
		return nil

	case KindProto:
		name := i.prog.primitives[callee.Bits]
		c := &Context{interp: i, name: name, base: base, argc: argc}
		before := len(i.stack)
		if err := i.hosts[callee.Bits](c); err != nil {
			return &HostError{Name: name, Err: err}
		}
		if len(i.stack) != before+1 {
			return i.trap(start, OpCall, "primitive %s left %d values, want exactly 1", name, len(i.stack)-before)
		}
		result := i.stack[len(i.stack)-1]
		i.stack = append(i.stack[:base], result)
		return nil

	default:
		return i.trap(start, OpCall, "call of non-callable value %s", callee)
	}
}
