// imp CLI - compiles, runs, and serves IMP programs
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/tliron/commonlog"

	"github.com/chazu/imp/manifest"

	_ "github.com/tliron/commonlog/simple"
)

// countFlag is a boolean flag that counts its repetitions: -v -v is 2.
type countFlag int

func (c *countFlag) String() string { return strconv.Itoa(int(*c)) }

func (c *countFlag) Set(s string) error {
	if s == "true" {
		*c++
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*c = countFlag(n)
	return nil
}

func (c *countFlag) IsBoolFlag() bool { return true }

// options holds the global flags.
type options struct {
	verbosity countFlag
	configDir string
	maxSteps  uint64
	trace     bool
	remote    string
	codec     string
}

// app carries the loaded configuration and the streams commands use.
type app struct {
	opts     options
	manifest *manifest.Manifest
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
}

func main() {
	var opts options
	flag.Var(&opts.verbosity, "v", "Verbose output (repeat for more)")
	flag.StringVar(&opts.configDir, "config", "", "Directory containing imp.toml (default: search upward from .)")
	flag.Uint64Var(&opts.maxSteps, "max-steps", 0, "Instruction budget for run (0: from imp.toml, else unlimited)")
	flag.BoolVar(&opts.trace, "trace", false, "Trace every executed instruction to stderr")
	flag.StringVar(&opts.remote, "remote", "", "Run on an imp server at this URL instead of locally")
	flag.StringVar(&opts.codec, "codec", "json", "Codec for -remote: json or cbor")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: imp [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run [file.imp|file.impc]        Compile and run (default: entry from imp.toml)\n")
		fmt.Fprintf(os.Stderr, "  build [-o out.impc] file.imp    Compile to an image file\n")
		fmt.Fprintf(os.Stderr, "  disasm file.imp|file.impc       Print the bytecode listing\n")
		fmt.Fprintf(os.Stderr, "  asm [-o out.impc] file.asm      Assemble a listing into an image file\n")
		fmt.Fprintf(os.Stderr, "  parse file.imp                  Print the syntax tree\n")
		fmt.Fprintf(os.Stderr, "  serve [-addr host:port]         Start the Connect/gRPC server\n")
		fmt.Fprintf(os.Stderr, "  lsp                             Start the language server on stdio\n")
		fmt.Fprintf(os.Stderr, "  cache purge                     Empty the compiled-program cache\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := loadManifest(opts.configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	configureLogging(int(opts.verbosity), m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{
		opts:     opts,
		manifest: m,
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	code, err := a.dispatch(ctx, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	stop()
	os.Exit(code)
}

// loadManifest loads imp.toml from dir, or searches upward from the working
// directory when dir is empty. Without a manifest the defaults apply.
func loadManifest(dir string) (*manifest.Manifest, error) {
	if dir != "" {
		return manifest.Load(dir)
	}
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if m == nil {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		m = manifest.Default(wd)
	}
	return m, nil
}

// configureLogging sets up the commonlog backend. The -v count wins over the
// manifest verbosity when it is higher.
func configureLogging(verbosity int, m *manifest.Manifest) {
	verbosity = max(verbosity, m.Log.Verbosity)
	var path *string
	if p := m.LogPath(); p != "" {
		path = &p
	}
	commonlog.Configure(verbosity, path)
}

// dispatch runs one command and returns the process exit status.
func (a *app) dispatch(ctx context.Context, args []string) (int, error) {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		return a.runCommand(ctx, rest)
	case "build":
		return 0, a.buildCommand(ctx, rest)
	case "disasm":
		return 0, a.disasmCommand(ctx, rest)
	case "asm":
		return 0, a.asmCommand(rest)
	case "parse":
		return 0, a.parseCommand(rest)
	case "serve":
		return 0, a.serveCommand(rest)
	case "lsp":
		return 0, a.lspCommand()
	case "cache":
		return 0, a.cacheCommand(ctx, rest)
	}
	return 0, fmt.Errorf("unknown command %q (see imp -h)", cmd)
}
