package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/imp/cache"
	"github.com/chazu/imp/compiler"
	"github.com/chazu/imp/vm"
)

const defaultSourceName = "input"

// ImpService implements the imp.v1.ImpService procedures.
type ImpService struct {
	runner *Runner
	cache  *cache.Cache
}

// NewImpService creates an ImpService. c may be nil to compile without a
// cache.
func NewImpService(runner *Runner, c *cache.Cache) *ImpService {
	return &ImpService{runner: runner, cache: c}
}

// Compile compiles a source text and returns its image.
func (s *ImpService) Compile(
	ctx context.Context,
	req *connect.Request[CompileRequest],
) (*connect.Response[CompileResponse], error) {
	if req.Msg.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	name := sourceName(req.Msg.Name)
	prog, err := cache.CompileCached(ctx, s.cache, name, []byte(req.Msg.Source))
	if err != nil {
		return nil, connectError(err)
	}

	data, err := vm.MarshalImage(vm.NewImage(prog, name, []byte(req.Msg.Source)))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&CompileResponse{
		Image:      data,
		Primitives: prog.Primitives(),
		CodeSize:   prog.Len(),
	}), nil
}

// Run compiles (or decodes) a program and executes it.
func (s *ImpService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	prog, err := s.program(ctx, req.Msg.Name, req.Msg.Source, req.Msg.Image)
	if err != nil {
		return nil, err
	}

	run, err := s.runner.Run(ctx, prog, req.Msg.Stdin, req.Msg.MaxSteps)
	if err != nil {
		cerr := connectError(err)
		if run != nil {
			cerr.Meta().Set("Imp-Run-Id", run.ID)
		}
		return nil, cerr
	}

	if !run.Result.IsInt() {
		return nil, connect.NewError(connect.CodeFailedPrecondition,
			fmt.Errorf("program returned %s, not an integer", run.Result))
	}
	res := &RunResponse{
		RunID:  run.ID,
		Result: run.Result.Int(),
		Stdout: run.Stdout,
		Steps:  run.Steps,
	}
	return connect.NewResponse(res), nil
}

// Disassemble returns the listing of a source text or image.
func (s *ImpService) Disassemble(
	ctx context.Context,
	req *connect.Request[DisassembleRequest],
) (*connect.Response[DisassembleResponse], error) {
	prog, err := s.program(ctx, req.Msg.Name, req.Msg.Source, req.Msg.Image)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&DisassembleResponse{Listing: vm.Disassemble(prog)}), nil
}

// program resolves a request's program from its image or its source.
func (s *ImpService) program(ctx context.Context, name, source string, image []byte) (*vm.Program, error) {
	switch {
	case len(image) > 0:
		img, err := vm.UnmarshalImage(image)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return img.Program(), nil
	case source != "":
		prog, err := cache.CompileCached(ctx, s.cache, sourceName(name), []byte(source))
		if err != nil {
			return nil, connectError(err)
		}
		return prog, nil
	}
	return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source or image is required"))
}

func sourceName(name string) string {
	if name == "" {
		return defaultSourceName
	}
	return name
}

// connectError maps compiler and interpreter errors to Connect codes.
func connectError(err error) *connect.Error {
	var (
		syntaxErr  *compiler.SyntaxError
		compileErr *compiler.CompileError
		linkErr    *vm.LinkError
		hostErr    *vm.HostError
		trap       *vm.TraceTrap
	)
	code := connect.CodeUnknown
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &compileErr):
		code = connect.CodeInvalidArgument
	case errors.As(err, &linkErr):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, vm.ErrStepLimit):
		code = connect.CodeResourceExhausted
	case errors.As(err, &trap):
		code = connect.CodeInternal
	case errors.As(err, &hostErr):
		code = connect.CodeAborted
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	}
	return connect.NewError(code, err)
}
