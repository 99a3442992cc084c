package vm

import (
	"bufio"
	"fmt"
	"io"
	"maps"
)

// ---------------------------------------------------------------------------
// Host functions
// ---------------------------------------------------------------------------

// HostFunc implements a primitive. It reads its arguments through the
// Context and must push exactly one result.
type HostFunc func(*Context) error

// HostTable maps primitive names to their implementations. Programs are
// linked against a HostTable by NewInterpreter.
type HostTable map[string]HostFunc

// Clone returns a copy of the table that can be extended independently.
func (t HostTable) Clone() HostTable {
	return maps.Clone(t)
}

// Context is the view of the interpreter a HostFunc sees during one call.
type Context struct {
	interp *Interpreter
	name   string
	base   int
	argc   int
}

// Name returns the primitive name the call was linked under.
func (c *Context) Name() string {
	return c.name
}

// NumArgs returns the number of arguments passed to the primitive.
func (c *Context) NumArgs() int {
	return c.argc
}

// Arg returns argument i, counting from the first (leftmost) argument.
func (c *Context) Arg(i int) (Value, error) {
	if i < 0 || i >= c.argc {
		return Value{}, fmt.Errorf("argument %d out of range (%d passed)", i, c.argc)
	}
	return c.interp.stack[c.base+i], nil
}

// IntArg returns argument i, which must be an integer.
func (c *Context) IntArg(i int) (int64, error) {
	v, err := c.Arg(i)
	if err != nil {
		return 0, err
	}
	if !v.IsInt() {
		return 0, fmt.Errorf("argument %d is %s, not an integer", i, v)
	}
	return v.Int(), nil
}

// Push pushes the primitive's result.
func (c *Context) Push(v Value) {
	c.interp.push(v)
}

// Stdout returns the interpreter's output writer.
func (c *Context) Stdout() io.Writer {
	return c.interp.stdout
}

// Stdin returns the interpreter's input reader.
func (c *Context) Stdin() *bufio.Reader {
	return c.interp.stdin
}

// ---------------------------------------------------------------------------
// Default primitives
// ---------------------------------------------------------------------------

// DefaultHosts returns a fresh table with print_int, print_newline and
// read_int.
func DefaultHosts() HostTable {
	return HostTable{
		"print_int":     printInt,
		"print_newline": printNewline,
		"read_int":      readInt,
	}
}

// printInt writes its argument in decimal and returns it.
func printInt(c *Context) error {
	n, err := c.IntArg(0)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Stdout(), "%d", n); err != nil {
		return err
	}
	c.Push(IntValue(n))
	return nil
}

func printNewline(c *Context) error {
	if _, err := io.WriteString(c.Stdout(), "\n"); err != nil {
		return err
	}
	c.Push(IntValue(0))
	return nil
}

// readInt reads one whitespace-separated decimal integer.
func readInt(c *Context) error {
	var n int64
	if _, err := fmt.Fscan(c.Stdin(), &n); err != nil {
		return fmt.Errorf("reading integer: %w", err)
	}
	c.Push(IntValue(n))
	return nil
}
