package compiler

import (
	"context"
	"errors"
	"testing"

	"github.com/chazu/imp/vm"
)

var fuzzSeeds = []string{
	// Tokens
	`( ) { } : , ; = == + - *`,
	`0`, `42`, `18446744073709551615`, `18446744073709551616`,
	`"print_int"`, `"a\"b"`, `"open`, `"\q"`,
	`func let return while if else x _y z9`,
	"// comment\nx",
	// Declarations
	`func print_int(x: int): int = "print_int"`,
	`func f(a: int, b: int,): int { return a + b; }`,
	`func f(`,
	`func f(): int`,
	// Statements
	`return 2 + 3 * 4;`,
	`if (1 == 1) { return 1; } else { return 0; }`,
	`while (0) { let x: int = 1; }`,
	`f(x)(y);`,
	`{ { { } } }`,
	`let x: int = 1; { let x: int = x; }`,
}

// ---------------------------------------------------------------------------
// FuzzLexer: ensure the lexer never panics and always terminates.
// ---------------------------------------------------------------------------

func FuzzLexer(f *testing.F) {
	for _, seed := range fuzzSeeds {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, input string) {
		tokens := Tokenize("fuzz", input)
		if len(tokens) == 0 {
			t.Fatal("Tokenize returned no tokens")
		}
		last := tokens[len(tokens)-1]
		if last.Kind != TokenEOF && last.Kind != TokenError {
			t.Fatalf("last token = %s, want EOF or ERROR", last)
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzCompile: parsing and compiling either succeed or return a diagnostic;
// successfully compiled programs never crash the interpreter.
// ---------------------------------------------------------------------------

func FuzzCompile(f *testing.F) {
	for _, seed := range fuzzSeeds {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, input string) {
		p, err := Compile("fuzz", input)
		if err != nil {
			var syntaxErr *SyntaxError
			var compileErr *CompileError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &compileErr) {
				t.Fatalf("unexpected error type %T: %v", err, err)
			}
			return
		}

		// Programs may call primitives; link every import to a no-op.
		hosts := vm.HostTable{}
		for _, name := range p.Primitives() {
			hosts[name] = func(c *vm.Context) error {
				c.Push(vm.IntValue(0))
				return nil
			}
		}
		interp, err := vm.NewInterpreter(p, hosts, vm.WithMaxSteps(10_000), vm.WithMaxFrames(256))
		if err != nil {
			t.Fatalf("NewInterpreter: %v", err)
		}
		_, _ = interp.Run(context.Background())
	})
}
