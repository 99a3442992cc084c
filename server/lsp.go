package server

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/imp/compiler"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "imp-lsp"

// document is an open editor buffer and the last module parsed from it.
// module survives syntax errors so completion keeps working while typing.
type document struct {
	text   string
	module *compiler.Module
}

// LspServer provides diagnostics, completion, hover, definition and
// references for IMP sources.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]*document // URI → document

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]*document),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "IMP LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	diagnostics := s.update(uri, params.TextDocument.Text)
	publishDiagnostics(ctx, uri, diagnostics)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			diagnostics := s.update(uri, whole.Text)
			publishDiagnostics(ctx, uri, diagnostics)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	publishDiagnostics(ctx, uri, []protocol.Diagnostic{})
	return nil
}

// update stores the new text of uri, reparses it and returns its
// diagnostics.
func (s *LspServer) update(uri protocol.DocumentUri, text string) []protocol.Diagnostic {
	m, diagnostics := diagnose(string(uri), text)

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[string(uri)]
	if !ok {
		doc = &document{}
		s.docs[string(uri)] = doc
	}
	doc.text = text
	if m != nil {
		doc.module = m
	}
	return diagnostics
}

// snapshot returns the text and module of uri.
func (s *LspServer) snapshot(uri protocol.DocumentUri) (string, *compiler.Module, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[string(uri)]
	if !ok {
		return "", nil, false
	}
	return doc.text, doc.module, true
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	return s.complete(params.TextDocument.URI, params.Position), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	return s.hover(params.TextDocument.URI, params.Position), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	loc := s.definition(params.TextDocument.URI, params.Position)
	if loc == nil {
		return nil, nil
	}
	return loc, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	return s.references(params.TextDocument.URI, params.Position, params.Context.IncludeDeclaration), nil
}

func (s *LspServer) complete(uri protocol.DocumentUri, pos protocol.Position) []protocol.CompletionItem {
	text, m, ok := s.snapshot(uri)
	if !ok {
		return nil
	}
	prefix := extractPrefix(text, pos)
	if prefix == "" {
		return nil
	}

	var items []protocol.CompletionItem
	for _, kw := range compiler.Keywords() {
		if strings.HasPrefix(kw, prefix) {
			kind := protocol.CompletionItemKindKeyword
			items = append(items, protocol.CompletionItem{
				Label: kw,
				Kind:  &kind,
			})
		}
	}

	if m == nil {
		return items
	}
	decls := compiler.Declarations(m)
	names := make([]string, 0, len(decls))
	for name := range decls {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		kind := protocol.CompletionItemKindFunction
		detail := signatureOf(decls[name])
		items = append(items, protocol.CompletionItem{
			Label:  name,
			Kind:   &kind,
			Detail: &detail,
		})
	}
	return items
}

func (s *LspServer) hover(uri protocol.DocumentUri, pos protocol.Position) *protocol.Hover {
	decl, _ := s.declarationAt(uri, pos)
	if decl == nil {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "```imp\n%s\n```\n", signatureOf(decl))
	if proto, ok := decl.(*compiler.ProtoDecl); ok {
		fmt.Fprintf(&b, "\nHost primitive `%s`\n", proto.Primitive)
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

func (s *LspServer) definition(uri protocol.DocumentUri, pos protocol.Position) *protocol.Location {
	decl, text := s.declarationAt(uri, pos)
	if decl == nil {
		return nil
	}
	return &protocol.Location{
		URI:   uri,
		Range: rangeAt(text, nameLocation(text, decl)),
	}
}

// references returns every use of the declared name under the cursor.
// Locals that shadow the name are not distinguished.
func (s *LspServer) references(uri protocol.DocumentUri, pos protocol.Position, includeDecl bool) []protocol.Location {
	text, m, ok := s.snapshot(uri)
	if !ok || m == nil {
		return nil
	}
	word := extractWord(text, pos)
	decl, ok := compiler.Declarations(m)[word]
	if !ok {
		return nil
	}

	var locations []protocol.Location
	if includeDecl {
		locations = append(locations, protocol.Location{URI: uri, Range: rangeAt(text, nameLocation(text, decl))})
	}
	compiler.InspectModule(m, func(n compiler.Node) bool {
		if ref, ok := n.(*compiler.RefExpr); ok && ref.Name == word {
			locations = append(locations, protocol.Location{URI: uri, Range: rangeAt(text, ref.Loc)})
		}
		return true
	})
	return locations
}

// declarationAt resolves the identifier under the cursor to a top-level
// declaration.
func (s *LspServer) declarationAt(uri protocol.DocumentUri, pos protocol.Position) (compiler.TopLevel, string) {
	text, m, ok := s.snapshot(uri)
	if !ok || m == nil {
		return nil, text
	}
	word := extractWord(text, pos)
	if word == "" {
		return nil, text
	}
	return compiler.Declarations(m)[word], text
}

func signatureOf(decl compiler.TopLevel) string {
	switch d := decl.(type) {
	case *compiler.FuncDecl:
		return compiler.Signature(d.Name, d.Params, d.ReturnType)
	case *compiler.ProtoDecl:
		return fmt.Sprintf("%s = %q", compiler.Signature(d.Name, d.Params, d.ReturnType), d.Primitive)
	}
	return ""
}

// nameLocation returns the location of a declaration's name: the identifier
// following the func keyword.
func nameLocation(text string, decl compiler.TopLevel) compiler.Location {
	loc := decl.Pos()
	lines := strings.Split(text, "\n")
	if loc.Line < 1 || loc.Line > len(lines) {
		return loc
	}
	line := []rune(lines[loc.Line-1])
	col := loc.Column - 1
	if col < 0 || col+len("func") > len(line) || string(line[col:col+len("func")]) != "func" {
		return loc
	}
	col += len("func")
	for col < len(line) && (line[col] == ' ' || line[col] == '\t') {
		col++
	}
	loc.Column = col + 1
	return loc
}

// --- Diagnostics ---

// diagnose parses and analyzes text. The module is nil when parsing failed.
func diagnose(name, text string) (*compiler.Module, []protocol.Diagnostic) {
	diagnostics := []protocol.Diagnostic{}

	m, err := compiler.ParseSource(name, text)
	if err != nil {
		var syntaxErr *compiler.SyntaxError
		if errors.As(err, &syntaxErr) {
			diagnostics = append(diagnostics, newDiagnostic(text, syntaxErr.Loc, syntaxErr.Msg, protocol.DiagnosticSeverityError))
		}
		return nil, diagnostics
	}

	warnings, err := compiler.Analyze(m)
	var errs compiler.CompileErrors
	if errors.As(err, &errs) {
		for _, e := range errs {
			diagnostics = append(diagnostics, newDiagnostic(text, e.Loc, e.Msg, protocol.DiagnosticSeverityError))
		}
	}
	for _, w := range warnings {
		diagnostics = append(diagnostics, newDiagnostic(text, w.Loc, w.Msg, protocol.DiagnosticSeverityWarning))
	}
	return m, diagnostics
}

func newDiagnostic(text string, loc compiler.Location, msg string, severity protocol.DiagnosticSeverity) protocol.Diagnostic {
	source := lspName
	return protocol.Diagnostic{
		Range:    rangeAt(text, loc),
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	}
}

func publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, diagnostics []protocol.Diagnostic) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// --- Text extraction helpers ---

// rangeAt converts a 1-based source location into an LSP range covering the
// identifier or single character found there. Past the end of a line the
// range is empty.
func rangeAt(text string, loc compiler.Location) protocol.Range {
	start := protocol.Position{Line: uint32(max(loc.Line-1, 0)), Character: uint32(max(loc.Column-1, 0))}
	end := start

	lines := strings.Split(text, "\n")
	if int(start.Line) < len(lines) {
		line := []rune(lines[start.Line])
		col := int(start.Character)
		if col < len(line) {
			e := col
			for e < len(line) && isIdentRune(line[e]) {
				e++
			}
			if e == col {
				e++
			}
			end.Character = uint32(e)
		}
	}
	return protocol.Range{Start: start, End: end}
}

// lineAt returns line pos.Line as runes and the cursor column clamped to it.
func lineAt(text string, pos protocol.Position) ([]rune, int, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return nil, 0, false
	}
	line := []rune(lines[pos.Line])
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}
	return line, col, true
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isIdentRune(line[start-1]) {
		start--
	}
	return string(line[start:col])
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}

	start := col
	for start > 0 && isIdentRune(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isIdentRune(line[end]) {
		end++
	}
	return string(line[start:end])
}

func isIdentRune(r rune) bool {
	return r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}

func boolPtr(b bool) *bool {
	return &b
}
