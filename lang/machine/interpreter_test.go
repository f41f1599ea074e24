package machine_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mna/lotus/lang/bytecode"
	"github.com/mna/lotus/lang/image"
	"github.com/mna/lotus/lang/machine"
	"github.com/mna/lotus/lang/value"
)

func op(o bytecode.Opcode, param int16) bytecode.BytecodeOp {
	return bytecode.BytecodeOp{Op: o, Param: param}
}

func internalCall(nargs int, fn bytecode.InternalFunction) bytecode.BytecodeOp {
	return bytecode.BytecodeOp{Op: bytecode.CallI0 + bytecode.Opcode(nargs), Param: int16(fn)}
}

func run(t *testing.T, prog *image.Program) (string, error) {
	t.Helper()
	var out bytes.Buffer
	interp := &machine.Interpreter{Program: prog, Stdout: &out}
	err := interp.Execute()
	return out.String(), err
}

func TestConstantReturn(t *testing.T) {
	prog := &image.Program{
		MainIndex: 0,
		Constants: []value.Value{value.MakeInt(41)},
		Functions: []image.Function{{
			Index:      0,
			ReturnType: value.Int,
			Code: []bytecode.BytecodeOp{
				op(bytecode.PushConst, 0),
				op(bytecode.Return, 0),
			},
		}},
	}
	out, err := run(t, prog)
	require.NoError(t, err)
	assert.Equal(t, "41\n", out)
}

func TestIntegerArithmetic(t *testing.T) {
	prog := &image.Program{
		MainIndex: 0,
		Constants: []value.Value{value.MakeInt(2), value.MakeInt(3)},
		Functions: []image.Function{{
			Index:      0,
			ReturnType: value.Int,
			Code: []bytecode.BytecodeOp{
				op(bytecode.PushConst, 0),
				op(bytecode.PushConst, 1),
				internalCall(2, bytecode.FPlus),
				op(bytecode.Return, 0),
			},
		}},
	}
	out, err := run(t, prog)
	require.NoError(t, err)
	assert.Equal(t, "5\n", out)
}

func TestNumericWidening(t *testing.T) {
	prog := &image.Program{
		MainIndex: 0,
		Constants: []value.Value{value.MakeInt(2), value.MakeReal(3.5)},
		Functions: []image.Function{{
			Index:      0,
			ReturnType: value.Real,
			Code: []bytecode.BytecodeOp{
				op(bytecode.PushConst, 0),
				op(bytecode.PushConst, 1),
				internalCall(2, bytecode.FPlus),
				op(bytecode.Return, 0),
			},
		}},
	}
	out, err := run(t, prog)
	require.NoError(t, err)
	assert.Equal(t, "5.5\n", out)
}

func TestFloorModNonNegativity(t *testing.T) {
	prog := &image.Program{
		MainIndex: 0,
		Constants: []value.Value{value.MakeInt(-7), value.MakeInt(3)},
		Functions: []image.Function{{
			Index:      0,
			ReturnType: value.Int,
			Code: []bytecode.BytecodeOp{
				op(bytecode.PushConst, 0),
				op(bytecode.PushConst, 1),
				internalCall(2, bytecode.FMod),
				op(bytecode.Return, 0),
			},
		}},
	}
	out, err := run(t, prog)
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)
}

// conditionalProgram builds a program whose main function body is
// equivalent to:
//
//	if cond { return trueVal } else { return falseVal }
//
// where cond is a pushed Bool constant at index 0.
func conditionalProgram(cond bool, trueVal, falseVal int64) *image.Program {
	return &image.Program{
		MainIndex: 0,
		Constants: []value.Value{value.MakeBool(cond), value.MakeInt(trueVal), value.MakeInt(falseVal)},
		Functions: []image.Function{{
			Index:      0,
			ReturnType: value.Int,
			Code: []bytecode.BytecodeOp{
				op(bytecode.PushConst, 0),  // 0: push cond
				op(bytecode.JumpFalse, 3),  // 1: -> pc 4 if false
				op(bytecode.PushConst, 1),  // 2: push trueVal
				op(bytecode.Return, 0),     // 3: return
				op(bytecode.PushConst, 2),  // 4: push falseVal
				op(bytecode.Return, 0),     // 5: return
			},
		}},
	}
}

func TestConditionalTrue(t *testing.T) {
	out, err := run(t, conditionalProgram(true, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)
}

func TestConditionalFalse(t *testing.T) {
	out, err := run(t, conditionalProgram(false, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)
}

// tailCountdownProgram builds:
//
//	function countdown(n):
//	  if n == 0 { return 0 }
//	  return countdown(n - 1)   # tail position: Call immediately followed by Return
//
// called from main with an initial n, to exercise tail-call elision across
// many recursive calls without growing the interpreter's frame stack.
func tailCountdownProgram(n int64) *image.Program {
	const (
		mainIdx      = 0
		countdownIdx = 1
	)
	return &image.Program{
		MainIndex: mainIdx,
		Constants: []value.Value{value.MakeInt(0), value.MakeInt(1), value.MakeInt(n)},
		Functions: []image.Function{
			{
				Index:      mainIdx,
				ReturnType: value.Int,
				Code: []bytecode.BytecodeOp{
					op(bytecode.PushConst, 2),      // 0: push n
					op(bytecode.Call, countdownIdx), // 1
					op(bytecode.Return, 0),          // 2
				},
			},
			{
				Index:          countdownIdx,
				ReturnType:     value.Int,
				ParameterCount: 1,
				LocalTypes:     []value.PrimitiveType{value.Int},
				Code: []bytecode.BytecodeOp{
					op(bytecode.PushLocal, 0),             // 0: n
					op(bytecode.PushConst, 0),             // 1: 0
					internalCall(2, bytecode.FEqual),      // 2: n == 0
					op(bytecode.JumpFalse, 3),             // 3: -> pc 6 if false
					op(bytecode.PushConst, 0),             // 4: push 0
					op(bytecode.Return, 0),                // 5: return
					op(bytecode.PushLocal, 0),             // 6: n
					op(bytecode.PushConst, 1),             // 7: 1
					internalCall(2, bytecode.FMinus),      // 8: n - 1
					op(bytecode.Call, countdownIdx),       // 9: tail call
					op(bytecode.Return, 0),                // 10: return
				},
			},
		},
	}
}

func TestTailRecursiveCountdown(t *testing.T) {
	out, err := run(t, tailCountdownProgram(50000))
	require.NoError(t, err)
	assert.Equal(t, "0\n", out)
}

func TestMaxStepsAborts(t *testing.T) {
	prog := tailCountdownProgram(1000)
	var out bytes.Buffer
	interp := &machine.Interpreter{Program: prog, Stdout: &out, MaxSteps: 10}
	err := interp.Execute()
	require.Error(t, err)
	assert.IsType(t, &machine.InterpreterError{}, err)
}

func TestTraceEmitsOneLinePerInstruction(t *testing.T) {
	prog := &image.Program{
		MainIndex: 0,
		Constants: []value.Value{value.MakeInt(1)},
		Functions: []image.Function{{
			Index:      0,
			ReturnType: value.Int,
			Code: []bytecode.BytecodeOp{
				op(bytecode.PushConst, 0),
				op(bytecode.Return, 0),
			},
		}},
	}
	var out bytes.Buffer
	interp := &machine.Interpreter{Program: prog, Stdout: &out, Trace: true}
	require.NoError(t, interp.Execute())
	assert.Contains(t, out.String(), "PushConst")
	assert.Contains(t, out.String(), "Return")
}

func TestOpcodeReport(t *testing.T) {
	prog := &image.Program{
		MainIndex: 0,
		Constants: []value.Value{value.MakeInt(1), value.MakeInt(2)},
		Functions: []image.Function{{
			Index:      0,
			ReturnType: value.Int,
			Code: []bytecode.BytecodeOp{
				op(bytecode.PushConst, 0),
				op(bytecode.PushConst, 1),
				internalCall(2, bytecode.FPlus),
				op(bytecode.Return, 0),
			},
		}},
	}
	var out bytes.Buffer
	interp := &machine.Interpreter{Program: prog, Stdout: &out}
	require.NoError(t, interp.Execute())

	var report bytes.Buffer
	require.NoError(t, interp.WriteOpcodeReport(&report))
	assert.Contains(t, report.String(), "-- Executed opcode count: 4")
	assert.Contains(t, report.String(), "PushConst")
}

func TestFailFastHalts(t *testing.T) {
	prog := &image.Program{
		MainIndex: 0,
		Functions: []image.Function{{
			Index:      0,
			ReturnType: value.Void,
			Code: []bytecode.BytecodeOp{
				internalCall(0, bytecode.FFailFast),
				op(bytecode.Return, 0),
			},
		}},
	}
	out, err := run(t, prog)
	require.NoError(t, err)
	assert.Contains(t, out, "FailFast")
	assert.Contains(t, out, "Function 0, instruction 0")
}
