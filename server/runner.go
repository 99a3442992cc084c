package server

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/chazu/imp/vm"
)

// Run is the outcome of one program execution.
type Run struct {
	ID      string
	Result  vm.Value
	Stdout  string
	Steps   uint64
	Elapsed time.Duration
}

// Runner executes programs with bounded concurrency. Every run gets its own
// Interpreter; programs are shared read-only.
type Runner struct {
	sem       *semaphore.Weighted
	hosts     vm.HostTable
	maxSteps  uint64
	maxFrames int
}

// NewRunner creates a Runner allowing cfg.MaxConcurrentRuns simultaneous
// runs. A nil hosts table means vm.DefaultHosts.
func NewRunner(cfg Config, hosts vm.HostTable) *Runner {
	n := cfg.MaxConcurrentRuns
	if n <= 0 {
		n = DefaultMaxConcurrentRuns
	}
	if hosts == nil {
		hosts = vm.DefaultHosts()
	}
	return &Runner{
		sem:       semaphore.NewWeighted(int64(n)),
		hosts:     hosts,
		maxSteps:  cfg.MaxSteps,
		maxFrames: cfg.MaxFrames,
	}
}

// stepBudget returns the tighter of the runner limit and the requested one.
func (r *Runner) stepBudget(requested uint64) uint64 {
	switch {
	case requested == 0:
		return r.maxSteps
	case r.maxSteps == 0 || requested < r.maxSteps:
		return requested
	}
	return r.maxSteps
}

// Run waits for a free slot, then executes prog with stdin as its input.
// maxSteps of zero means the runner's own budget. The returned Run is
// non-nil whenever the program was linked, even if execution failed.
func (r *Runner) Run(ctx context.Context, prog *vm.Program, stdin string, maxSteps uint64) (*Run, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	var out bytes.Buffer
	opts := []vm.Option{
		vm.WithStdout(&out),
		vm.WithStdin(strings.NewReader(stdin)),
		vm.WithMaxSteps(r.stepBudget(maxSteps)),
	}
	if r.maxFrames > 0 {
		opts = append(opts, vm.WithMaxFrames(r.maxFrames))
	}
	interp, err := vm.NewInterpreter(prog, r.hosts, opts...)
	if err != nil {
		return nil, err
	}

	run := &Run{ID: uuid.NewString()}
	start := time.Now()
	run.Result, err = r.execute(ctx, interp)
	run.Elapsed = time.Since(start)
	run.Stdout = out.String()
	run.Steps = interp.Steps()

	if err != nil {
		log.Warningf("run %s failed after %d steps: %v", run.ID, run.Steps, err)
	} else {
		log.Infof("run %s finished: result %s, %d steps in %s", run.ID, run.Result, run.Steps, run.Elapsed)
	}
	return run, err
}

// execute runs the interpreter, recovering from panics in host functions.
func (r *Runner) execute(ctx context.Context, interp *vm.Interpreter) (result vm.Value, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("run panicked: %v", p)
		}
	}()
	return interp.Run(ctx)
}
