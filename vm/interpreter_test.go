package vm

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"
)

func mustBuild(t *testing.T, b *Builder) *Program {
	t.Helper()
	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return p
}

func runProgram(t *testing.T, p *Program, opts ...Option) (Value, error) {
	t.Helper()
	interp, err := NewInterpreter(p, DefaultHosts(), opts...)
	if err != nil {
		t.Fatalf("NewInterpreter: %v", err)
	}
	return interp.Run(context.Background())
}

func expectTrap(t *testing.T, err error, reason string) {
	t.Helper()
	var trap *TraceTrap
	if !errors.As(err, &trap) {
		t.Fatalf("err = %v, want *TraceTrap", err)
	}
	if !strings.Contains(trap.Reason, reason) {
		t.Errorf("trap reason = %q, want it to contain %q", trap.Reason, reason)
	}
}

// ---------------------------------------------------------------------------
// Basic execution
// ---------------------------------------------------------------------------

func TestInterpreterArithmetic(t *testing.T) {
	tests := []struct {
		name string
		a, b int64
		op   Opcode
		want int64
	}{
		{"add", 2, 3, OpAdd, 5},
		{"sub", 2, 3, OpSub, -1},
		{"mul", 6, 7, OpMul, 42},
		{"equal", 4, 4, OpEquals, 1},
		{"not equal", 4, 5, OpEquals, 0},
		{"add wraps", math.MaxInt64, 1, OpAdd, math.MinInt64},
		{"mul wraps", math.MinInt64, -1, OpMul, math.MinInt64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			b.EmitInt64(OpPushInt, tt.a)
			b.EmitInt64(OpPushInt, tt.b)
			b.Emit(tt.op)
			b.Emit(OpRet)
			got, err := runProgram(t, mustBuild(t, b))
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !got.IsInt() || got.Int() != tt.want {
				t.Errorf("got %v, want %d", got, tt.want)
			}
		})
	}
}

func TestInterpreterStopYieldsZero(t *testing.T) {
	b := NewBuilder()
	b.EmitInt64(OpPushInt, 9)
	b.Emit(OpStop)
	got, err := runProgram(t, mustBuild(t, b))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != IntValue(0) {
		t.Errorf("got %v, want 0", got)
	}
}

func TestInterpreterFunctionCall(t *testing.T) {
	b := NewBuilder()
	square := b.NewLabel()

	// main: return square(4) - 1
	b.EmitInt64(OpPushInt, 4)
	b.EmitLabel(OpPushFunc, square)
	b.EmitUint32(OpCall, 1)
	b.EmitInt64(OpPushInt, 1)
	b.Emit(OpSub)
	b.Emit(OpRet)

	b.Mark(square)
	b.EmitUint32(OpPeek, 0)
	b.EmitUint32(OpPeek, 0)
	b.Emit(OpMul)
	b.Emit(OpRet)

	got, err := runProgram(t, mustBuild(t, b))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Int() != 15 {
		t.Errorf("got %v, want 15", got)
	}
}

func TestInterpreterJumpFalse(t *testing.T) {
	for _, cond := range []int64{0, 1} {
		b := NewBuilder()
		elseL := b.NewLabel()
		b.EmitInt64(OpPushInt, cond)
		b.EmitLabel(OpJumpFalse, elseL)
		b.EmitInt64(OpPushInt, 10)
		b.Emit(OpRet)
		b.Mark(elseL)
		b.EmitInt64(OpPushInt, 20)
		b.Emit(OpRet)

		got, err := runProgram(t, mustBuild(t, b))
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		want := int64(20)
		if cond != 0 {
			want = 10
		}
		if got.Int() != want {
			t.Errorf("cond %d: got %v, want %d", cond, got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Primitives
// ---------------------------------------------------------------------------

func TestInterpreterPrimitives(t *testing.T) {
	b := NewBuilder()
	b.EmitUint32(OpPushProto, b.Primitive("read_int"))
	b.EmitUint32(OpCall, 0)
	b.EmitUint32(OpPushProto, b.Primitive("print_int"))
	b.EmitUint32(OpCall, 1)
	b.EmitUint32(OpPushProto, b.Primitive("print_newline"))
	b.EmitUint32(OpCall, 0)
	b.Emit(OpPop)
	b.Emit(OpRet)

	var out bytes.Buffer
	got, err := runProgram(t, mustBuild(t, b), WithStdout(&out), WithStdin(strings.NewReader("  17\n")))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Int() != 17 {
		t.Errorf("got %v, want 17 (print_int returns its argument)", got)
	}
	if out.String() != "17\n" {
		t.Errorf("stdout = %q, want %q", out.String(), "17\n")
	}
}

func TestInterpreterLinkError(t *testing.T) {
	b := NewBuilder()
	b.EmitUint32(OpPushProto, b.Primitive("launch_missiles"))
	b.Emit(OpStop)

	_, err := NewInterpreter(mustBuild(t, b), DefaultHosts())
	var linkErr *LinkError
	if !errors.As(err, &linkErr) {
		t.Fatalf("err = %v, want *LinkError", err)
	}
	if linkErr.Name != "launch_missiles" {
		t.Errorf("Name = %q, want launch_missiles", linkErr.Name)
	}
}

func TestInterpreterHostError(t *testing.T) {
	boom := errors.New("boom")
	hosts := HostTable{"fail": func(*Context) error { return boom }}

	b := NewBuilder()
	b.EmitUint32(OpPushProto, b.Primitive("fail"))
	b.EmitUint32(OpCall, 0)
	b.Emit(OpRet)

	interp, err := NewInterpreter(mustBuild(t, b), hosts)
	if err != nil {
		t.Fatalf("NewInterpreter: %v", err)
	}
	_, err = interp.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}

func TestInterpreterPrimitiveImbalance(t *testing.T) {
	hosts := HostTable{"silent": func(*Context) error { return nil }}

	b := NewBuilder()
	b.EmitUint32(OpPushProto, b.Primitive("silent"))
	b.EmitUint32(OpCall, 0)
	b.Emit(OpRet)

	interp, err := NewInterpreter(mustBuild(t, b), hosts)
	if err != nil {
		t.Fatalf("NewInterpreter: %v", err)
	}
	_, err = interp.Run(context.Background())
	expectTrap(t, err, "want exactly 1")
}

// ---------------------------------------------------------------------------
// Trace traps and limits
// ---------------------------------------------------------------------------

func TestInterpreterTraps(t *testing.T) {
	tests := []struct {
		name   string
		build  func(b *Builder)
		reason string
	}{
		{"pop empty", func(b *Builder) {
			b.Emit(OpPop)
		}, "underflow"},
		{"add function", func(b *Builder) {
			b.EmitInt64(OpPushInt, 1)
			b.EmitUint32(OpPushFunc, 0)
			b.Emit(OpAdd)
		}, "not both integers"},
		{"call integer", func(b *Builder) {
			b.EmitInt64(OpPushInt, 1)
			b.EmitUint32(OpCall, 0)
		}, "non-callable"},
		{"too few arguments", func(b *Builder) {
			b.EmitUint32(OpPushFunc, 0)
			b.EmitUint32(OpCall, 3)
		}, "arguments requested"},
		{"jump out of range", func(b *Builder) {
			b.EmitUint32(OpJump, 1000)
		}, "outside bytecode"},
		{"peek beyond top", func(b *Builder) {
			b.EmitUint32(OpPeek, 0)
		}, "beyond stack top"},
		{"invalid opcode", func(b *Builder) {
			b.Emit(Opcode(0xEE))
		}, "invalid opcode"},
		{"truncated immediate", func(b *Builder) {
			b.Emit(OpPushInt)
		}, "read past end"},
		{"run off the end", func(b *Builder) {
			b.EmitInt64(OpPushInt, 1)
		}, "read past end"},
		{"pop into caller", func(b *Builder) {
			fn := b.NewLabel()
			b.EmitInt64(OpPushInt, 1)
			b.EmitLabel(OpPushFunc, fn)
			b.EmitUint32(OpCall, 0)
			b.Emit(OpStop)
			b.Mark(fn)
			b.Emit(OpPop)
		}, "below frame base"},
		{"return from emptied frame", func(b *Builder) {
			fn := b.NewLabel()
			b.EmitInt64(OpPushInt, 1)
			b.EmitLabel(OpPushFunc, fn)
			b.EmitUint32(OpCall, 0)
			b.Emit(OpStop)
			b.Mark(fn)
			b.Emit(OpRet)
		}, "below frame base"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			tt.build(b)
			_, err := runProgram(t, mustBuild(t, b))
			expectTrap(t, err, tt.reason)
		})
	}
}

func TestInterpreterMaxFrames(t *testing.T) {
	b := NewBuilder()
	loop := b.NewLabel()
	b.EmitLabel(OpPushFunc, loop)
	b.EmitUint32(OpCall, 0)
	b.Emit(OpRet)
	b.Mark(loop)
	b.EmitLabel(OpPushFunc, loop)
	b.EmitUint32(OpCall, 0)
	b.Emit(OpRet)

	_, err := runProgram(t, mustBuild(t, b), WithMaxFrames(10))
	expectTrap(t, err, "call stack overflow")
}

func TestInterpreterStepLimit(t *testing.T) {
	b := NewBuilder()
	b.EmitUint32(OpJump, 0)

	interp, err := NewInterpreter(mustBuild(t, b), nil, WithMaxSteps(100))
	if err != nil {
		t.Fatalf("NewInterpreter: %v", err)
	}
	_, err = interp.Run(context.Background())
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("err = %v, want ErrStepLimit", err)
	}
	if interp.Steps() != 100 {
		t.Errorf("Steps() = %d, want 100", interp.Steps())
	}
}

func TestInterpreterCancellation(t *testing.T) {
	b := NewBuilder()
	b.EmitUint32(OpJump, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	interp, err := NewInterpreter(mustBuild(t, b), nil)
	if err != nil {
		t.Fatalf("NewInterpreter: %v", err)
	}
	_, err = interp.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestInterpreterRerun(t *testing.T) {
	b := NewBuilder()
	b.EmitInt64(OpPushInt, 3)
	b.Emit(OpRet)

	interp, err := NewInterpreter(mustBuild(t, b), nil)
	if err != nil {
		t.Fatalf("NewInterpreter: %v", err)
	}
	for range 2 {
		got, err := interp.Run(context.Background())
		if err != nil || got.Int() != 3 {
			t.Errorf("Run = %v, %v; want 3", got, err)
		}
	}
}

func TestTraceOption(t *testing.T) {
	b := NewBuilder()
	b.EmitInt64(OpPushInt, 3)
	b.Emit(OpRet)

	var trace bytes.Buffer
	if _, err := runProgram(t, mustBuild(t, b), WithTrace(&trace)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "0000  PUSH_INT 3\n0009  RET\n"
	if trace.String() != want {
		t.Errorf("trace = %q, want %q", trace.String(), want)
	}
}

func TestTraceRunOffTheEnd(t *testing.T) {
	b := NewBuilder()
	b.EmitInt64(OpPushInt, 1)

	var trace bytes.Buffer
	_, err := runProgram(t, mustBuild(t, b), WithTrace(&trace))
	expectTrap(t, err, "read past end")
	want := "0000  PUSH_INT 1\n0009  <end of code>\n"
	if trace.String() != want {
		t.Errorf("trace = %q, want %q", trace.String(), want)
	}
}
