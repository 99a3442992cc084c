package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/imp/manifest"
	"github.com/chazu/imp/server"
	"github.com/chazu/imp/vm"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const ioProgram = `
func print_int(x: int): int = "print_int"
func print_newline(): int = "print_newline"
func read_int(): int = "read_int"
let a: int = read_int();
let b: int = read_int();
print_int(a * b);
print_newline();
return a + b;
`

// newTestApp returns an app rooted at a fresh directory with default
// configuration, and its stdout buffer.
func newTestApp(t *testing.T, stdin string) (*app, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	return &app{
		manifest: manifest.Default(t.TempDir()),
		stdin:    strings.NewReader(stdin),
		stdout:   &stdout,
		stderr:   &stderr,
	}, &stdout
}

// writeFile writes a file into the app's project directory and returns its
// path.
func writeFile(t *testing.T, a *app, name, content string) string {
	t.Helper()
	p := filepath.Join(a.manifest.Dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", p, err)
	}
	return p
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func TestRunCommand(t *testing.T) {
	a, stdout := newTestApp(t, "6 7\n")
	path := writeFile(t, a, "io.imp", ioProgram)

	code, err := a.dispatch(context.Background(), []string{"run", path})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != 13 {
		t.Errorf("exit code = %d, want 13", code)
	}
	if stdout.String() != "42\n" {
		t.Errorf("stdout = %q, want %q", stdout.String(), "42\n")
	}
}

func TestRunCommandUsesEntry(t *testing.T) {
	a, _ := newTestApp(t, "")
	writeFile(t, a, "main.imp", "return 2 + 3 * 4;")

	code, err := a.dispatch(context.Background(), []string{"run"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != 14 {
		t.Errorf("exit code = %d, want 14", code)
	}
}

func TestRunCommandErrors(t *testing.T) {
	a, _ := newTestApp(t, "")
	syntax := writeFile(t, a, "syntax.imp", "func f(")
	if _, err := a.dispatch(context.Background(), []string{"run", syntax}); err == nil ||
		!strings.Contains(err.Error(), "syntax.imp:1:8] unexpected EOF, expecting IDENT") {
		t.Errorf("err = %v, want a located syntax error", err)
	}

	loop := writeFile(t, a, "loop.imp", "while (1) { }")
	a.opts.maxSteps = 500
	if _, err := a.dispatch(context.Background(), []string{"run", loop}); !errors.Is(err, vm.ErrStepLimit) {
		t.Errorf("err = %v, want step limit", err)
	}

	if _, err := a.dispatch(context.Background(), []string{"run", "a.imp", "b.imp"}); err == nil {
		t.Error("run with two files should fail")
	}
	if _, err := a.dispatch(context.Background(), []string{"frobnicate"}); err == nil {
		t.Error("unknown command should fail")
	}
}

func TestRunCommandTrace(t *testing.T) {
	a, _ := newTestApp(t, "")
	path := writeFile(t, a, "one.imp", "return 1;")
	a.opts.trace = true

	if _, err := a.dispatch(context.Background(), []string{"run", path}); err != nil {
		t.Fatalf("run: %v", err)
	}
	trace := a.stderr.(*bytes.Buffer).String()
	if !strings.Contains(trace, "0000  PUSH_INT 1") || !strings.Contains(trace, "0009  RET") {
		t.Errorf("trace = %q", trace)
	}
}

func TestRunRemote(t *testing.T) {
	srv := httptest.NewServer(server.New(server.Config{}).Handler())
	defer srv.Close()

	a, stdout := newTestApp(t, "6 7")
	a.opts.remote = srv.URL
	a.opts.codec = "cbor"
	path := writeFile(t, a, "io.imp", ioProgram)

	code, err := a.dispatch(context.Background(), []string{"run", path})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != 13 || stdout.String() != "42\n" {
		t.Errorf("exit code = %d, stdout = %q", code, stdout.String())
	}

	a.opts.codec = "xml"
	if _, err := a.dispatch(context.Background(), []string{"run", path}); err == nil {
		t.Error("unknown codec should fail")
	}
}

// ---------------------------------------------------------------------------
// build / asm / disasm / parse
// ---------------------------------------------------------------------------

func TestBuildAndRunImage(t *testing.T) {
	a, _ := newTestApp(t, "")
	src := writeFile(t, a, "calc.imp", "func sq(x: int): int { return x * x; } return sq(9);")
	out := filepath.Join(a.manifest.Dir, "calc.out")

	if _, err := a.dispatch(context.Background(), []string{"build", "-o", out, src}); err != nil {
		t.Fatalf("build: %v", err)
	}
	img, err := vm.ReadImageFile(out)
	if err != nil {
		t.Fatalf("ReadImageFile: %v", err)
	}
	if img.SourceName != src || len(img.SourceHash) == 0 {
		t.Errorf("image source = %q, hash %x", img.SourceName, img.SourceHash)
	}

	code, err := a.dispatch(context.Background(), []string{"run", out})
	if err != nil {
		t.Fatalf("run image: %v", err)
	}
	if code != 81 {
		t.Errorf("exit code = %d, want 81", code)
	}

	if _, err := a.dispatch(context.Background(), []string{"build", out}); err == nil {
		t.Error("building an image should fail")
	}
}

func TestImagePath(t *testing.T) {
	tests := []struct {
		input, output, want string
	}{
		{"prog.imp", "", "prog.impc"},
		{"dir/prog.asm", "", "dir/prog.impc"},
		{"noext", "", "noext.impc"},
		{"prog.imp", "custom.bin", "custom.bin"},
	}
	for _, tt := range tests {
		if got := imagePath(tt.input, tt.output); got != tt.want {
			t.Errorf("imagePath(%q, %q) = %q, want %q", tt.input, tt.output, got, tt.want)
		}
	}
}

func TestDisasmAsmRoundTrip(t *testing.T) {
	a, stdout := newTestApp(t, "")
	src := writeFile(t, a, "fact.imp", `
		func fact(n: int): int {
			if (n == 0) return 1;
			return n * fact(n - 1);
		}
		return fact(5);
	`)

	if _, err := a.dispatch(context.Background(), []string{"disasm", src}); err != nil {
		t.Fatalf("disasm: %v", err)
	}
	listing := stdout.String()
	asm := writeFile(t, a, "fact.asm", listing)

	if _, err := a.dispatch(context.Background(), []string{"asm", asm}); err != nil {
		t.Fatalf("asm: %v", err)
	}
	image := filepath.Join(a.manifest.Dir, "fact.impc")

	stdout.Reset()
	if _, err := a.dispatch(context.Background(), []string{"disasm", image}); err != nil {
		t.Fatalf("disasm image: %v", err)
	}
	if stdout.String() != listing {
		t.Errorf("listing changed after assembling\ngot:\n%s\nwant:\n%s", stdout.String(), listing)
	}

	code, err := a.dispatch(context.Background(), []string{"run", image})
	if err != nil || code != 120 {
		t.Errorf("run = %d, %v; want 120", code, err)
	}
}

func TestParseCommand(t *testing.T) {
	a, stdout := newTestApp(t, "")
	src := writeFile(t, a, "p.imp", "return 1;")
	if _, err := a.dispatch(context.Background(), []string{"parse", src}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if stdout.String() != "ReturnStmt(1)\n" {
		t.Errorf("dump = %q", stdout.String())
	}
}

// ---------------------------------------------------------------------------
// cache
// ---------------------------------------------------------------------------

func TestCachedRunAndPurge(t *testing.T) {
	a, stdout := newTestApp(t, "")
	a.manifest.Cache.Enabled = true
	src := writeFile(t, a, "main.imp", "return 7;")

	for range 2 {
		code, err := a.dispatch(context.Background(), []string{"run", src})
		if err != nil || code != 7 {
			t.Fatalf("run = %d, %v; want 7", code, err)
		}
	}
	if _, err := os.Stat(a.manifest.CachePath()); err != nil {
		t.Fatalf("cache database: %v", err)
	}

	if _, err := a.dispatch(context.Background(), []string{"cache", "purge"}); err != nil {
		t.Fatalf("cache purge: %v", err)
	}
	if stdout.String() != "Purged 1 cached programs\n" {
		t.Errorf("stdout = %q", stdout.String())
	}
	if _, err := a.dispatch(context.Background(), []string{"cache", "clear"}); err == nil {
		t.Error("unknown cache subcommand should fail")
	}
}

// ---------------------------------------------------------------------------
// flags and configuration
// ---------------------------------------------------------------------------

func TestCountFlag(t *testing.T) {
	tests := []struct {
		args []string
		want countFlag
	}{
		{nil, 0},
		{[]string{"-v"}, 1},
		{[]string{"-v", "-v", "-v"}, 3},
		{[]string{"-v=4"}, 4},
	}
	for _, tt := range tests {
		var c countFlag
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		fs.Var(&c, "v", "")
		if err := fs.Parse(tt.args); err != nil {
			t.Fatalf("Parse(%v): %v", tt.args, err)
		}
		if c != tt.want {
			t.Errorf("Parse(%v) = %d, want %d", tt.args, c, tt.want)
		}
	}
}

func TestLoadManifestFromConfigDir(t *testing.T) {
	dir := t.TempDir()
	content := "[source]\nentry = \"app.imp\"\n[run]\nmax_steps = 42\n"
	if err := os.WriteFile(filepath.Join(dir, manifest.FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := loadManifest(dir)
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	a := &app{manifest: m}
	if a.stepBudget() != 42 {
		t.Errorf("step budget = %d, want 42", a.stepBudget())
	}
	a.opts.maxSteps = 7
	if a.stepBudget() != 7 {
		t.Errorf("step budget with flag = %d, want 7", a.stepBudget())
	}
	if filepath.Base(m.EntryPath()) != "app.imp" {
		t.Errorf("entry = %q", m.EntryPath())
	}
}
