// Package dasm renders a loaded Program as human-readable text: one line
// per constant and one line per instruction, grouped by function. It is a
// read-only view used by the dasm command.
package dasm

import (
	"bytes"
	"fmt"

	"github.com/mna/lotus/lang/bytecode"
	"github.com/mna/lotus/lang/image"
)

// Dasm renders prog as assembly-like text.
func Dasm(prog *image.Program) ([]byte, error) {
	d := &dasm{prog: prog, buf: new(bytes.Buffer)}
	d.header()
	for i := range prog.Functions {
		d.function(int16(i))
	}
	return d.buf.Bytes(), d.err
}

type dasm struct {
	prog *image.Program
	buf  *bytes.Buffer
	err  error
}

func (d *dasm) writef(format string, args ...any) {
	if d.err != nil {
		return
	}
	if _, err := fmt.Fprintf(d.buf, format, args...); err != nil {
		d.err = err
	}
}

func (d *dasm) header() {
	d.writef("program:\n")
	d.writef("\tmain: %d\n", d.prog.MainIndex)
	if len(d.prog.Constants) == 0 {
		return
	}
	d.writef("\tconstants:\n")
	for i, c := range d.prog.Constants {
		d.writef("\t\t%-4s %s\t# %03d\n", c.Type(), c.String(), i)
	}
}

func (d *dasm) function(idx int16) {
	fn, err := d.prog.Function(idx)
	if err != nil {
		d.err = err
		return
	}
	d.writef("\nfunction: %03d returns=%s params=%d locals=%d\n", fn.Index, fn.ReturnType, fn.ParameterCount, len(fn.LocalTypes))
	if len(fn.LocalTypes) > 0 {
		d.writef("\tlocals:\n")
		for i, t := range fn.LocalTypes {
			d.writef("\t\t%-4s\t# %03d\n", t, i)
		}
	}
	d.writef("\tcode:\n")
	for i, instr := range fn.Code {
		d.writef("\t\t%03d %-12s %d%s\n", i, instr.Op, instr.Param, d.crossRef(instr))
	}
}

// crossRef returns a trailing "  # ..." comment resolving an instruction's
// parameter to the constant or function it names, or an empty string when
// the opcode has no such reference.
func (d *dasm) crossRef(instr bytecode.BytecodeOp) string {
	switch instr.Op {
	case bytecode.PushConst:
		if c, err := d.prog.Constant(instr.Param); err == nil {
			return fmt.Sprintf("  # %s %s", c.Type(), c.String())
		}
	case bytecode.Call:
		if fn, err := d.prog.Function(instr.Param); err == nil {
			return fmt.Sprintf("  # function %03d", fn.Index)
		}
	default:
		if nargs, ok := instr.Op.IsCallInternal(); ok {
			return fmt.Sprintf("  # %s (%d arg(s))", bytecode.InternalFunction(instr.Param), nargs)
		}
	}
	return ""
}
