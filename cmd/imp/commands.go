package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/imp/cache"
	"github.com/chazu/imp/compiler"
	"github.com/chazu/imp/server"
	"github.com/chazu/imp/vm"
)

// openCache opens the program cache when imp.toml enables it. The returned
// cache is nil otherwise.
func (a *app) openCache() (*cache.Cache, error) {
	if !a.manifest.Cache.Enabled {
		return nil, nil
	}
	return cache.Open(a.manifest.CachePath())
}

// loadProgram reads an image file or compiles a source file.
func (a *app) loadProgram(ctx context.Context, path string) (*vm.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if vm.IsImage(data) {
		img, err := vm.UnmarshalImage(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return img.Program(), nil
	}

	c, err := a.openCache()
	if err != nil {
		return nil, err
	}
	if c != nil {
		defer c.Close()
	}
	return cache.CompileCached(ctx, c, path, data)
}

// stepBudget is -max-steps when given, else the manifest limit.
func (a *app) stepBudget() uint64 {
	if a.opts.maxSteps > 0 {
		return a.opts.maxSteps
	}
	return a.manifest.Run.MaxSteps
}

// oneFile returns the single positional argument, or fallback when there is
// none and fallback is not empty.
func oneFile(cmd string, args []string, fallback string) (string, error) {
	switch {
	case len(args) == 1:
		return args[0], nil
	case len(args) == 0 && fallback != "":
		return fallback, nil
	}
	return "", fmt.Errorf("usage: imp %s <file>", cmd)
}

// --- run ---

// runCommand executes a program; its integer result is the exit status.
func (a *app) runCommand(ctx context.Context, args []string) (int, error) {
	path, err := oneFile("run", args, a.manifest.EntryPath())
	if err != nil {
		return 0, err
	}
	if a.opts.remote != "" {
		return a.runRemote(ctx, path)
	}

	prog, err := a.loadProgram(ctx, path)
	if err != nil {
		return 0, err
	}

	opts := []vm.Option{
		vm.WithStdin(a.stdin),
		vm.WithStdout(a.stdout),
		vm.WithMaxSteps(a.stepBudget()),
	}
	if a.manifest.Run.MaxFrames > 0 {
		opts = append(opts, vm.WithMaxFrames(a.manifest.Run.MaxFrames))
	}
	if a.opts.trace {
		opts = append(opts, vm.WithTrace(a.stderr))
	}
	interp, err := vm.NewInterpreter(prog, vm.DefaultHosts(), opts...)
	if err != nil {
		return 0, err
	}
	result, err := interp.Run(ctx)
	if err != nil {
		return 0, err
	}
	if !result.IsInt() {
		return 0, fmt.Errorf("program returned %s, not an integer", result)
	}
	return int(result.Int()), nil
}

// runRemote sends the program to an imp server. Standard input is
// forwarded only when it is not a terminal.
func (a *app) runRemote(ctx context.Context, path string) (int, error) {
	codec := server.CodecByName(a.opts.codec)
	if codec == nil {
		return 0, fmt.Errorf("unknown codec %q", a.opts.codec)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	req := &server.RunRequest{Name: path, MaxSteps: a.opts.maxSteps}
	if vm.IsImage(data) {
		req.Image = data
	} else {
		req.Source = string(data)
	}
	req.Stdin, err = readPipedInput(a.stdin)
	if err != nil {
		return 0, err
	}

	res, err := server.NewClient(a.opts.remote, codec).Run(ctx, req)
	if err != nil {
		return 0, err
	}
	if _, err := io.WriteString(a.stdout, res.Stdout); err != nil {
		return 0, err
	}
	return int(res.Result), nil
}

func readPipedInput(r io.Reader) (string, error) {
	if f, ok := r.(*os.File); ok {
		info, err := f.Stat()
		if err != nil || info.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	data, err := io.ReadAll(r)
	return string(data), err
}

// --- build / asm ---

// outputFlag parses the -o flag shared by build and asm.
func outputFlag(cmd string, args []string) (string, []string, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	out := fs.String("o", "", "Output image path (default: input with .impc extension)")
	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}
	return *out, fs.Args(), nil
}

func imagePath(input, output string) string {
	if output != "" {
		return output
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".impc"
}

// buildCommand compiles a source file into an image file.
func (a *app) buildCommand(ctx context.Context, args []string) error {
	out, rest, err := outputFlag("build", args)
	if err != nil {
		return err
	}
	path, err := oneFile("build", rest, a.manifest.EntryPath())
	if err != nil {
		return err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if vm.IsImage(src) {
		return fmt.Errorf("%s is already an image", path)
	}

	prog, err := a.loadProgram(ctx, path)
	if err != nil {
		return err
	}
	out = imagePath(path, out)
	if err := vm.WriteImageFile(out, vm.NewImage(prog, path, src)); err != nil {
		return err
	}
	if a.opts.verbosity > 0 {
		fmt.Fprintf(a.stderr, "Wrote %s (%d bytes of code)\n", out, prog.Len())
	}
	return nil
}

// asmCommand assembles a disassembly listing into an image file.
func (a *app) asmCommand(args []string) error {
	out, rest, err := outputFlag("asm", args)
	if err != nil {
		return err
	}
	path, err := oneFile("asm", rest, "")
	if err != nil {
		return err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	prog, err := vm.Assemble(string(src))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return vm.WriteImageFile(imagePath(path, out), vm.NewImage(prog, path, nil))
}

// --- disasm / parse ---

func (a *app) disasmCommand(ctx context.Context, args []string) error {
	path, err := oneFile("disasm", args, "")
	if err != nil {
		return err
	}
	prog, err := a.loadProgram(ctx, path)
	if err != nil {
		return err
	}
	_, err = io.WriteString(a.stdout, vm.Disassemble(prog))
	return err
}

func (a *app) parseCommand(args []string) error {
	path, err := oneFile("parse", args, "")
	if err != nil {
		return err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m, err := compiler.ParseSource(path, string(src))
	if err != nil {
		return err
	}
	_, err = io.WriteString(a.stdout, compiler.Dump(m))
	return err
}

// --- serve / lsp ---

func (a *app) serveCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", a.manifest.Server.Addr, "Listen address (host:port)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := server.ConfigFromManifest(a.manifest)
	if a.opts.maxSteps > 0 {
		cfg.MaxSteps = a.opts.maxSteps
	}
	var opts []server.ServerOption
	c, err := a.openCache()
	if err != nil {
		return err
	}
	if c != nil {
		defer c.Close()
		opts = append(opts, server.WithCache(c))
	}
	return server.New(cfg, opts...).ListenAndServe(*addr)
}

func (a *app) lspCommand() error {
	return server.NewLSP().Run()
}

// --- cache ---

func (a *app) cacheCommand(ctx context.Context, args []string) error {
	if len(args) != 1 || args[0] != "purge" {
		return errors.New("usage: imp cache purge")
	}
	c, err := cache.Open(a.manifest.CachePath())
	if err != nil {
		return err
	}
	defer c.Close()
	n, err := c.Purge(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Purged %d cached programs\n", n)
	return nil
}
