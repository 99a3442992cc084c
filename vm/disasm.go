package vm

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// Disassemble renders a Program as a listing: one ".primitive" directive per
// import, then one line per instruction prefixed with its address. Bytes
// that do not decode as an instruction are rendered as ".byte" lines so the
// listing always assembles back to the same bytes.
func Disassemble(p *Program) string {
	var sb strings.Builder
	for i, name := range p.primitives {
		fmt.Fprintf(&sb, ".primitive %d %s\n", i, strconv.Quote(name))
	}
	pc := 0
	for pc < len(p.code) {
		line, next := decodeAt(p, pc)
		sb.WriteString(line)
		sb.WriteByte('\n')
		pc = next
	}
	return sb.String()
}

// disassembleAt renders the single instruction at pc.
func disassembleAt(p *Program, pc int) string {
	line, _ := decodeAt(p, pc)
	return line
}

func decodeAt(p *Program, pc int) (string, int) {
	if pc < 0 || pc >= len(p.code) {
		return fmt.Sprintf("%04d  <end of code>", pc), pc + 1
	}
	op := Opcode(p.code[pc])
	info, ok := opcodeTable[op]
	if !ok || pc+1+info.OperandBytes > len(p.code) {
		return fmt.Sprintf("%04d  .byte 0x%02x", pc, byte(op)), pc + 1
	}

	next := pc + 1
	switch info.OperandBytes {
	case 0:
		return fmt.Sprintf("%04d  %s", pc, info.Name), next
	case 8:
		n, _ := Read[int64](p, &next)
		return fmt.Sprintf("%04d  %s %d", pc, info.Name, n), next
	default:
		n, _ := Read[uint32](p, &next)
		comment := ""
		if op == OpPushProto {
			if name, ok := p.Primitive(n); ok {
				comment = " ; " + name
			}
		}
		return fmt.Sprintf("%04d  %s %d%s", pc, info.Name, n, comment), next
	}
}

// ---------------------------------------------------------------------------
// Assembler
// ---------------------------------------------------------------------------

// Assemble parses a listing in the format produced by Disassemble. Leading
// addresses are optional but, when present, must match the position of the
// instruction. Text after ';' is a comment.
func Assemble(src string) (*Program, error) {
	b := NewBuilder()
	sc := bufio.NewScanner(strings.NewReader(src))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, ';'); i >= 0 && !strings.HasPrefix(strings.TrimSpace(line), ".primitive") {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := assembleLine(b, line); err != nil {
			return nil, fmt.Errorf("asm: line %d: %w", lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("asm: %w", err)
	}
	return b.Build()
}

func assembleLine(b *Builder, line string) error {
	if rest, ok := strings.CutPrefix(line, ".primitive"); ok {
		return assemblePrimitive(b, strings.TrimSpace(rest))
	}

	fields := strings.Fields(line)
	if addr, err := strconv.ParseUint(fields[0], 10, 32); err == nil {
		if int(addr) != b.Len() {
			return fmt.Errorf("address %04d does not match position %04d", addr, b.Len())
		}
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return fmt.Errorf("missing instruction")
	}

	if fields[0] == ".byte" {
		if len(fields) != 2 {
			return fmt.Errorf(".byte takes one operand")
		}
		v, err := strconv.ParseUint(fields[1], 0, 8)
		if err != nil {
			return fmt.Errorf("bad .byte operand %q", fields[1])
		}
		b.Emit(Opcode(v))
		return nil
	}

	op, ok := opcodesByName[fields[0]]
	if !ok {
		return fmt.Errorf("unknown instruction %q", fields[0])
	}
	info := op.Info()
	if len(fields) != 1+min(info.OperandBytes, 1) {
		return fmt.Errorf("%s takes %d operand(s)", info.Name, min(info.OperandBytes, 1))
	}

	switch info.OperandBytes {
	case 0:
		b.Emit(op)
	case 8:
		n, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("bad %s operand %q", info.Name, fields[1])
		}
		b.EmitInt64(op, n)
	default:
		n, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return fmt.Errorf("bad %s operand %q", info.Name, fields[1])
		}
		b.EmitUint32(op, uint32(n))
	}
	return nil
}

func assemblePrimitive(b *Builder, rest string) error {
	idxText, quoted, ok := strings.Cut(rest, " ")
	if !ok {
		return fmt.Errorf(".primitive takes an index and a quoted name")
	}
	idx, err := strconv.ParseUint(idxText, 10, 32)
	if err != nil {
		return fmt.Errorf("bad primitive index %q", idxText)
	}
	name, err := strconv.Unquote(strings.TrimSpace(quoted))
	if err != nil {
		return fmt.Errorf("bad primitive name %s", quoted)
	}
	if got := b.Primitive(name); uint64(got) != idx {
		return fmt.Errorf("primitive %q declared as %d but assigned %d", name, idx, got)
	}
	return nil
}
