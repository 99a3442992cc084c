package server

// Request and response messages of the imp.v1.ImpService procedures. They
// are plain structs carried by the JSON and CBOR codecs.

// CompileRequest compiles Source. Name is used in diagnostics.
type CompileRequest struct {
	Name   string `json:"name,omitempty" cbor:"name,omitempty"`
	Source string `json:"source" cbor:"source"`
}

// CompileResponse carries the compiled program as an image.
type CompileResponse struct {
	Image      []byte   `json:"image" cbor:"image"`
	Primitives []string `json:"primitives" cbor:"primitives"`
	CodeSize   int      `json:"code_size" cbor:"code_size"`
}

// RunRequest runs either Source or a previously compiled Image. Stdin is
// what read_int sees. MaxSteps may lower the server's step budget but never
// raise it.
type RunRequest struct {
	Name     string `json:"name,omitempty" cbor:"name,omitempty"`
	Source   string `json:"source,omitempty" cbor:"source,omitempty"`
	Image    []byte `json:"image,omitempty" cbor:"image,omitempty"`
	Stdin    string `json:"stdin,omitempty" cbor:"stdin,omitempty"`
	MaxSteps uint64 `json:"max_steps,omitempty" cbor:"max_steps,omitempty"`
}

// RunResponse reports a finished run.
type RunResponse struct {
	RunID  string `json:"run_id" cbor:"run_id"`
	Result int64  `json:"result" cbor:"result"`
	Stdout string `json:"stdout" cbor:"stdout"`
	Steps  uint64 `json:"steps" cbor:"steps"`
}

// DisassembleRequest disassembles either Source or Image.
type DisassembleRequest struct {
	Name   string `json:"name,omitempty" cbor:"name,omitempty"`
	Source string `json:"source,omitempty" cbor:"source,omitempty"`
	Image  []byte `json:"image,omitempty" cbor:"image,omitempty"`
}

// DisassembleResponse carries the listing in assembler syntax.
type DisassembleResponse struct {
	Listing string `json:"listing" cbor:"listing"`
}
