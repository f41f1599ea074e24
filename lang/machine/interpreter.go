// Package machine implements the virtual machine that executes a loaded
// Program: the call/return stack, the per-frame operand stack and locals,
// opcode dispatch (including tail-call elision) and built-in (internal
// function) dispatch.
package machine

import (
	"fmt"
	"io"
	"os"

	"github.com/mna/lotus/lang/bytecode"
	"github.com/mna/lotus/lang/image"
	"github.com/mna/lotus/lang/value"
)

// Interpreter executes a single Program to completion. It is single-threaded
// and synchronous: Execute blocks until the program halts or an error is
// raised. An Interpreter is not safe for concurrent use, and its state
// (call stack, argument scratch stack, opcode counters) belongs to it alone.
type Interpreter struct {
	// Program is the module being executed. It is read-only from the
	// Interpreter's point of view.
	Program *image.Program

	// Stdout is the sink for Print/FailFast output, trace lines and the
	// main function's returned value. If nil, os.Stdout is used. Stderr is
	// not written by the Interpreter.
	Stdout io.Writer
	Stderr io.Writer

	// Trace, when true, makes Execute emit one line per executed instruction.
	Trace bool

	// MaxSteps bounds the number of instructions Execute will dispatch before
	// aborting with an InterpreterError. Zero means unlimited.
	MaxSteps uint64

	frames   []*Frame
	argStack []value.Value // scratch stack for CallIx dispatch, empty between dispatches
	opCounts [bytecode.NumOpcodes]uint64
	steps    uint64
	halted   bool
}

func (interp *Interpreter) stdout() io.Writer {
	if interp.Stdout != nil {
		return interp.Stdout
	}
	return os.Stdout
}

// Execute runs the Program from its main function to completion: either a
// Return from the outermost frame, or a FailFast call, or an error.
func (interp *Interpreter) Execute() error {
	main, err := interp.Program.MainFunction()
	if err != nil {
		return wrapInterpreterError("resolving main function", err)
	}
	interp.frames = []*Frame{newFrame(main)}
	interp.halted = false

	for !interp.halted {
		if len(interp.frames) == 0 {
			return newInterpreterError("call stack is empty")
		}
		frame := interp.frames[len(interp.frames)-1]

		if frame.pc >= len(frame.fn.Code) {
			return newInterpreterError("program counter out of bytecode bounds")
		}
		op := frame.fn.Code[frame.pc]
		instrPC := frame.pc
		frame.pc++

		interp.steps++
		if interp.MaxSteps > 0 && interp.steps > interp.MaxSteps {
			return newInterpreterError("exceeded maximum instruction count")
		}

		if !op.Op.Valid() {
			return newInterpreterError(fmt.Sprintf("unknown opcode %d", int16(op.Op)))
		}
		interp.opCounts[op.Op]++

		if interp.Trace {
			fmt.Fprintf(interp.stdout(), "* %3d:%-3d %-12s %d\n", frame.fn.Index, instrPC, op.Op, op.Param)
		}

		if err := interp.dispatch(frame, op); err != nil {
			return err
		}
	}
	return nil
}

func (interp *Interpreter) dispatch(frame *Frame, op bytecode.BytecodeOp) error {
	if nargs, ok := op.Op.IsCallInternal(); ok {
		return interp.dispatchInternal(frame, bytecode.InternalFunction(op.Param), nargs)
	}

	switch op.Op {
	case bytecode.PushConst:
		c, err := interp.Program.Constant(op.Param)
		if err != nil {
			return wrapInterpreterError("PushConst", err)
		}
		frame.push(c)

	case bytecode.PushLocal:
		lv, err := frame.local(op.Param)
		if err != nil {
			return wrapInterpreterError("PushLocal", err)
		}
		frame.push(*lv)

	case bytecode.PopLocal:
		v, err := frame.pop()
		if err != nil {
			return wrapInterpreterError("PopLocal", err)
		}
		lv, err := frame.local(op.Param)
		if err != nil {
			return wrapInterpreterError("PopLocal", err)
		}
		if err := lv.Assign(v); err != nil {
			return wrapInterpreterError("PopLocal", err)
		}

	case bytecode.PopDiscard:
		if _, err := frame.pop(); err != nil {
			return wrapInterpreterError("PopDiscard", err)
		}

	case bytecode.Jump:
		frame.pc += int(op.Param) - 1

	case bytecode.JumpFalse:
		v, err := frame.pop()
		if err != nil {
			return wrapInterpreterError("JumpFalse", err)
		}
		b, err := v.Bool()
		if err != nil {
			return wrapInterpreterError("JumpFalse operand must be Bool", err)
		}
		if !b {
			frame.pc += int(op.Param) - 1
		}

	case bytecode.Call:
		return interp.dispatchCall(frame, op.Param)

	case bytecode.Return:
		return interp.dispatchReturn(frame)

	default:
		return newInterpreterError(fmt.Sprintf("unhandled opcode %s", op.Op))
	}
	return nil
}

func (interp *Interpreter) dispatchCall(frame *Frame, funcIdx int16) error {
	callee, err := interp.Program.Function(funcIdx)
	if err != nil {
		return wrapInterpreterError("Call", err)
	}

	callFrame := newFrame(callee)
	// Parameters are evaluated left to right, so they sit on the caller's
	// stack with the last argument on top; popping parameterCount values off
	// it therefore yields them in reverse, which this loop undoes by filling
	// locals from the highest index down to 0.
	for i := int(callee.ParameterCount); i > 0; i-- {
		v, err := frame.pop()
		if err != nil {
			return wrapInterpreterError("Call: binding parameters", err)
		}
		callFrame.locals[i-1] = v
	}

	// Tail-call elision: a direct self-call immediately followed by Return
	// (the very next instruction, not yet executed) reuses the current frame
	// instead of growing the call stack, bounding stack depth for
	// tail-recursive programs. This never changes observable output.
	if funcIdx == frame.fn.Index && frame.pc < len(frame.fn.Code) && frame.fn.Code[frame.pc].Op == bytecode.Return {
		interp.frames = interp.frames[:len(interp.frames)-1]
	}
	interp.frames = append(interp.frames, callFrame)
	return nil
}

func (interp *Interpreter) dispatchReturn(frame *Frame) error {
	if len(interp.frames) == 1 {
		if frame.fn.ReturnType != value.Void {
			v, err := frame.pop()
			if err != nil {
				return wrapInterpreterError("Return", err)
			}
			if _, err := fmt.Fprintf(interp.stdout(), "%s\n", v.String()); err != nil {
				return wrapInterpreterError("Return: writing result", err)
			}
		}
		interp.halted = true
		return nil
	}

	var retval value.Value
	var hasRetval bool
	if frame.fn.ReturnType != value.Void {
		v, err := frame.pop()
		if err != nil {
			return wrapInterpreterError("Return", err)
		}
		retval, hasRetval = v, true
	}
	interp.frames = interp.frames[:len(interp.frames)-1]
	if hasRetval {
		caller := interp.frames[len(interp.frames)-1]
		caller.push(retval)
	}
	return nil
}
