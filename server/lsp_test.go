package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// ---------------------------------------------------------------------------
// LSP text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"simple word", "return fact", protocol.Position{Line: 0, Character: 11}, "fact"},
		{"at start", "fac", protocol.Position{Line: 0, Character: 3}, "fac"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"multi line", "first line\nsecond\nprint_", protocol.Position{Line: 2, Character: 6}, "print_"},
		{"after paren", "f(arg", protocol.Position{Line: 0, Character: 5}, "arg"},
		{"mid word", "print_int", protocol.Position{Line: 0, Character: 5}, "print"},
		{"cursor at beginning", "hello", protocol.Position{Line: 0, Character: 0}, ""},
		{"line beyond document", "single line", protocol.Position{Line: 5, Character: 0}, ""},
		{"column beyond line", "abc", protocol.Position{Line: 0, Character: 40}, "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractPrefix(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractPrefix = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"middle", "return fact(5);", protocol.Position{Line: 0, Character: 9}, "fact"},
		{"start", "return fact(5);", protocol.Position{Line: 0, Character: 7}, "fact"},
		{"end", "return fact(5);", protocol.Position{Line: 0, Character: 11}, "fact"},
		{"on punctuation", "a + b", protocol.Position{Line: 0, Character: 2}, ""},
		{"underscore", "x print_int(x)", protocol.Position{Line: 0, Character: 8}, "print_int"},
		{"second line", "let x: int = 1;\nreturn x;", protocol.Position{Line: 1, Character: 7}, "x"},
		{"line beyond document", "x", protocol.Position{Line: 3, Character: 0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractWord(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractWord = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func TestDiagnose(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		parsed   bool
		severity protocol.DiagnosticSeverity
		message  string
		rng      protocol.Range
	}{
		{
			name:     "syntax error at EOF",
			text:     "func f(",
			severity: protocol.DiagnosticSeverityError,
			message:  "unexpected EOF, expecting IDENT",
			rng:      protocol.Range{Start: protocol.Position{Line: 0, Character: 7}, End: protocol.Position{Line: 0, Character: 7}},
		},
		{
			name:     "syntax error on token",
			text:     "let x: int = 1;\nwhile x { }",
			severity: protocol.DiagnosticSeverityError,
			message:  "unexpected IDENT(x), expecting LPAREN",
			rng:      protocol.Range{Start: protocol.Position{Line: 1, Character: 6}, End: protocol.Position{Line: 1, Character: 7}},
		},
		{
			name:     "undefined name",
			text:     "let x: int = 1;\nreturn yy + x;",
			parsed:   true,
			severity: protocol.DiagnosticSeverityError,
			message:  `undefined name "yy"`,
			rng:      protocol.Range{Start: protocol.Position{Line: 1, Character: 7}, End: protocol.Position{Line: 1, Character: 9}},
		},
		{
			name:     "unreachable code",
			text:     "return 1;\nreturn 2;",
			parsed:   true,
			severity: protocol.DiagnosticSeverityWarning,
			message:  "unreachable code after return",
			rng:      protocol.Range{Start: protocol.Position{Line: 1, Character: 0}, End: protocol.Position{Line: 1, Character: 6}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, diagnostics := diagnose("test.imp", tt.text)
			if (m != nil) != tt.parsed {
				t.Errorf("module = %v, want parsed=%v", m, tt.parsed)
			}
			if len(diagnostics) != 1 {
				t.Fatalf("got %d diagnostics, want 1: %+v", len(diagnostics), diagnostics)
			}
			d := diagnostics[0]
			if d.Message != tt.message {
				t.Errorf("message = %q, want %q", d.Message, tt.message)
			}
			if d.Severity == nil || *d.Severity != tt.severity {
				t.Errorf("severity = %v, want %v", d.Severity, tt.severity)
			}
			if d.Range != tt.rng {
				t.Errorf("range = %+v, want %+v", d.Range, tt.rng)
			}
		})
	}
}

func TestDiagnoseClean(t *testing.T) {
	m, diagnostics := diagnose("test.imp", "func f(x: int): int { return x; }\nreturn f(2);")
	if m == nil {
		t.Fatal("module should parse")
	}
	if len(diagnostics) != 0 {
		t.Errorf("diagnostics = %+v, want none", diagnostics)
	}
}

// ---------------------------------------------------------------------------
// Language features
// ---------------------------------------------------------------------------

const lspSource = `func print_int(x: int): int = "print_int"
func fact(n: int): int {
	if (n == 0) return 1;
	return n * fact(n - 1);
}
let fa: int = fact(5);
print_int(fa);
`

const lspURI = protocol.DocumentUri("file:///work/main.imp")

func newTestLSP(t *testing.T, text string) *LspServer {
	t.Helper()
	s := &LspServer{docs: make(map[string]*document)}
	s.update(lspURI, text)
	return s
}

func TestComplete(t *testing.T) {
	s := newTestLSP(t, lspSource)
	s.update(lspURI, lspSource+"f")

	items := s.complete(lspURI, protocol.Position{Line: 7, Character: 1})
	var labels []string
	for _, item := range items {
		labels = append(labels, item.Label)
	}
	// The trailing "f" is a syntax error; completion uses the last good parse.
	if got, want := strings.Join(labels, ","), "func,fact"; got != want {
		t.Errorf("labels = %s, want %s", got, want)
	}
	if len(items) == 2 && (items[1].Detail == nil || *items[1].Detail != "func fact(n: int): int") {
		t.Errorf("detail = %v", items[1].Detail)
	}
}

func TestCompleteUnknownDocument(t *testing.T) {
	s := newTestLSP(t, lspSource)
	if items := s.complete("file:///other.imp", protocol.Position{}); items != nil {
		t.Errorf("items = %+v, want nil", items)
	}
}

func TestHover(t *testing.T) {
	s := newTestLSP(t, lspSource)

	tests := []struct {
		name string
		pos  protocol.Position
		want string
	}{
		{"function", protocol.Position{Line: 5, Character: 15}, "func fact(n: int): int"},
		{"primitive", protocol.Position{Line: 6, Character: 3}, "Host primitive `print_int`"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := s.hover(lspURI, tt.pos)
			if h == nil {
				t.Fatal("hover returned nil")
			}
			content, ok := h.Contents.(protocol.MarkupContent)
			if !ok {
				t.Fatalf("contents = %T, want MarkupContent", h.Contents)
			}
			if !strings.Contains(content.Value, tt.want) {
				t.Errorf("hover = %q, want it to contain %q", content.Value, tt.want)
			}
		})
	}

	if h := s.hover(lspURI, protocol.Position{Line: 6, Character: 11}); h != nil {
		t.Errorf("hover on a local = %+v, want nil", h)
	}
}

func TestDefinition(t *testing.T) {
	s := newTestLSP(t, lspSource)

	loc := s.definition(lspURI, protocol.Position{Line: 3, Character: 13})
	if loc == nil {
		t.Fatal("definition returned nil")
	}
	want := protocol.Range{Start: protocol.Position{Line: 1, Character: 5}, End: protocol.Position{Line: 1, Character: 9}}
	if loc.URI != lspURI || loc.Range != want {
		t.Errorf("definition = %+v, want %s %+v", loc, lspURI, want)
	}
}

func TestReferences(t *testing.T) {
	s := newTestLSP(t, lspSource)

	refs := s.references(lspURI, protocol.Position{Line: 1, Character: 6}, true)
	wantLines := []uint32{1, 3, 5}
	if len(refs) != len(wantLines) {
		t.Fatalf("got %d references, want %d: %+v", len(refs), len(wantLines), refs)
	}
	for i, ref := range refs {
		if ref.Range.Start.Line != wantLines[i] {
			t.Errorf("reference %d on line %d, want %d", i, ref.Range.Start.Line, wantLines[i])
		}
	}

	if refs := s.references(lspURI, protocol.Position{Line: 1, Character: 6}, false); len(refs) != 2 {
		t.Errorf("got %d references without the declaration, want 2", len(refs))
	}
}

func TestDocumentLifecycle(t *testing.T) {
	s := newTestLSP(t, lspSource)
	if diagnostics := s.update(lspURI, "return undefined_name;"); len(diagnostics) != 1 {
		t.Errorf("got %d diagnostics, want 1", len(diagnostics))
	}
	if text, _, ok := s.snapshot(lspURI); !ok || text != "return undefined_name;" {
		t.Errorf("snapshot = %q, %v", text, ok)
	}
}
