package machine

import (
	"fmt"
	"math"

	"github.com/mna/lotus/lang/bytecode"
	"github.com/mna/lotus/lang/value"
)

// dispatchInternal moves nargs values from frame's operand stack onto the
// interpreter's argument scratch stack (in the same order the original
// CallIx fallthrough chain would), invokes fn, pushes its result back onto
// frame, and resets the scratch stack for the next dispatch.
func (interp *Interpreter) dispatchInternal(frame *Frame, fn bytecode.InternalFunction, nargs int) error {
	if !fn.Valid() {
		return newInterpreterError(fmt.Sprintf("unknown internal function %d", int16(fn)))
	}

	interp.argStack = interp.argStack[:0]
	for i := 0; i < nargs; i++ {
		v, err := frame.pop()
		if err != nil {
			return wrapInterpreterError(fn.String(), err)
		}
		interp.argStack = append(interp.argStack, v)
	}

	result, err := interp.callBuiltin(fn)
	interp.argStack = interp.argStack[:0]
	if err != nil {
		return err
	}
	frame.push(result)
	return nil
}

// arg1 returns the interpreter's sole pending argument, or an
// InterpreterError if the caller supplied a different count: arity
// mismatches come from a bad CallIx parameter, never from the running
// program, which the compiler that emitted the opcode already committed to.
func (interp *Interpreter) arg1() (value.Value, error) {
	if len(interp.argStack) != 1 {
		return value.Value{}, newInterpreterError("expected 1 argument")
	}
	return interp.argStack[0], nil
}

// arg2 returns the interpreter's two pending arguments in source (left,
// right) order. The scratch stack holds the last-evaluated argument first
// (it was on top of the operand stack), so left is the final element and
// right is the first.
func (interp *Interpreter) arg2() (left, right value.Value, err error) {
	if len(interp.argStack) != 2 {
		return value.Value{}, value.Value{}, newInterpreterError("expected 2 arguments")
	}
	return interp.argStack[1], interp.argStack[0], nil
}

func (interp *Interpreter) callBuiltin(fn bytecode.InternalFunction) (value.Value, error) {
	switch fn {
	case bytecode.FPlus:
		return interp.builtinPlus()
	case bytecode.FMinus:
		return interp.builtinMinus()
	case bytecode.FMultiply:
		return interp.builtinMultiply()
	case bytecode.FDivide:
		return interp.builtinDivide()
	case bytecode.FFloorDivide:
		return interp.builtinFloorDivide()
	case bytecode.FMod:
		return interp.builtinMod()
	case bytecode.FEqual:
		return interp.builtinEqual(false)
	case bytecode.FNotEqual:
		return interp.builtinEqual(true)
	case bytecode.FLess:
		return interp.builtinCompare(fn)
	case bytecode.FLessEqual:
		return interp.builtinCompare(fn)
	case bytecode.FGreater:
		return interp.builtinCompare(fn)
	case bytecode.FGreaterEqual:
		return interp.builtinCompare(fn)
	case bytecode.FAnd:
		return interp.builtinBitwise(fn)
	case bytecode.FOr:
		return interp.builtinBitwise(fn)
	case bytecode.FXor:
		return interp.builtinBitwise(fn)
	case bytecode.FNot:
		return interp.builtinNot()
	case bytecode.FPrint:
		return interp.builtinPrint()
	case bytecode.FFailFast:
		return interp.builtinFailFast()
	case bytecode.FMathAbs:
		return interp.builtinMathAbs()
	case bytecode.FMathAcos:
		return interp.builtinMathUnary(fn)
	case bytecode.FMathAsin:
		return interp.builtinMathUnary(fn)
	case bytecode.FMathAtan:
		return interp.builtinMathUnary(fn)
	case bytecode.FMathCeil:
		return interp.builtinMathUnary(fn)
	case bytecode.FMathCos:
		return interp.builtinMathUnary(fn)
	case bytecode.FMathExp:
		return interp.builtinMathUnary(fn)
	case bytecode.FMathFloor:
		return interp.builtinMathUnary(fn)
	case bytecode.FMathLog:
		return interp.builtinMathUnary(fn)
	case bytecode.FMathPow:
		return interp.builtinMathPow()
	case bytecode.FMathRound:
		return interp.builtinMathUnary(fn)
	case bytecode.FMathSin:
		return interp.builtinMathUnary(fn)
	case bytecode.FMathSqrt:
		return interp.builtinMathUnary(fn)
	case bytecode.FMathTan:
		return interp.builtinMathUnary(fn)
	default:
		return value.Value{}, newInterpreterError(fmt.Sprintf("unimplemented internal function %s", fn))
	}
}

// builtinPlus sums every pending argument. It stays exact as long as every
// argument is an Int; the presence of any Real widens the whole sum.
func (interp *Interpreter) builtinPlus() (value.Value, error) {
	var intSum int64
	var realSum float64
	var widened bool

	for _, v := range interp.argStack {
		switch v.Type() {
		case value.Int:
			n, _ := v.Int()
			intSum += n
			realSum += float64(n)
		case value.Real:
			r, _ := v.Real()
			realSum += r
			widened = true
		default:
			return value.Value{}, newApplicationError("+ arguments must be Int or Real.")
		}
	}
	if widened {
		return value.MakeReal(realSum), nil
	}
	return value.MakeInt(intSum), nil
}

func (interp *Interpreter) builtinMinus() (value.Value, error) {
	switch len(interp.argStack) {
	case 1:
		v, err := interp.arg1()
		if err != nil {
			return value.Value{}, err
		}
		switch v.Type() {
		case value.Int:
			n, _ := v.Int()
			return value.MakeInt(-n), nil
		case value.Real:
			r, _ := v.Real()
			return value.MakeReal(-r), nil
		default:
			return value.Value{}, newApplicationError("- arguments must be Int or Real.")
		}
	case 2:
		left, right, err := interp.arg2()
		if err != nil {
			return value.Value{}, err
		}
		if left.Type() == value.Int && right.Type() == value.Int {
			l, _ := left.Int()
			r, _ := right.Int()
			return value.MakeInt(l - r), nil
		}
		l, r, err := numericPair(left, right)
		if err != nil {
			return value.Value{}, wrapInterpreterError("-", err)
		}
		return value.MakeReal(l - r), nil
	default:
		return value.Value{}, newInterpreterError("- expects 1 or 2 parameters")
	}
}

func (interp *Interpreter) builtinMultiply() (value.Value, error) {
	left, right, err := interp.arg2()
	if err != nil {
		return value.Value{}, err
	}
	if left.Type() == value.Int && right.Type() == value.Int {
		l, _ := left.Int()
		r, _ := right.Int()
		return value.MakeInt(l * r), nil
	}
	l, r, err := numericPair(left, right)
	if err != nil {
		return value.Value{}, wrapInterpreterError("*", err)
	}
	return value.MakeReal(l * r), nil
}

func (interp *Interpreter) builtinDivide() (value.Value, error) {
	left, right, err := interp.arg2()
	if err != nil {
		return value.Value{}, err
	}
	l, r, err := numericPair(left, right)
	if err != nil {
		return value.Value{}, wrapInterpreterError("/", err)
	}
	if r == 0 {
		return value.Value{}, newApplicationError("Division by zero.")
	}
	return value.MakeReal(l / r), nil
}

func (interp *Interpreter) builtinFloorDivide() (value.Value, error) {
	left, right, err := interp.arg2()
	if err != nil {
		return value.Value{}, err
	}
	l, r, err := numericPair(left, right)
	if err != nil {
		return value.Value{}, wrapInterpreterError("\\", err)
	}
	if r == 0 {
		return value.Value{}, newApplicationError("Division by zero.")
	}
	if left.Type() == value.Int && right.Type() == value.Int {
		li, _ := left.Int()
		ri, _ := right.Int()
		return value.MakeInt(li / ri), nil
	}
	return value.MakeInt(int64(l / r)), nil
}

// builtinMod implements a non-negative modulus: the result always lies in
// [0, |divisor|), regardless of the operands' signs.
func (interp *Interpreter) builtinMod() (value.Value, error) {
	left, right, err := interp.arg2()
	if err != nil {
		return value.Value{}, err
	}
	v, err := left.Int()
	if err != nil {
		return value.Value{}, wrapInterpreterError("Mod", err)
	}
	m, err := right.Int()
	if err != nil {
		return value.Value{}, wrapInterpreterError("Mod", err)
	}
	if m == 0 {
		return value.Value{}, newApplicationError("Division by zero in %.")
	}
	result := v % m
	if result < 0 {
		abs := m
		if abs < 0 {
			abs = -abs
		}
		result = abs + result
	}
	return value.MakeInt(result), nil
}

func (interp *Interpreter) builtinEqual(negate bool) (value.Value, error) {
	left, right, err := interp.arg2()
	if err != nil {
		return value.Value{}, err
	}
	var eq bool
	switch {
	case left.Type() == value.Bool && right.Type() == value.Bool:
		l, _ := left.Bool()
		r, _ := right.Bool()
		eq = l == r
	case left.Type() == value.Int && right.Type() == value.Int:
		l, _ := left.Int()
		r, _ := right.Int()
		eq = l == r
	default:
		l, r, nerr := numericPair(left, right)
		if nerr != nil {
			return value.Value{}, wrapInterpreterError("Equal/NotEqual require comparable operands", nerr)
		}
		eq = l == r
	}
	if negate {
		eq = !eq
	}
	return value.MakeBool(eq), nil
}

func (interp *Interpreter) builtinCompare(fn bytecode.InternalFunction) (value.Value, error) {
	left, right, err := interp.arg2()
	if err != nil {
		return value.Value{}, err
	}
	if left.Type() == value.Int && right.Type() == value.Int {
		l, _ := left.Int()
		r, _ := right.Int()
		return value.MakeBool(intCompare(fn, l, r)), nil
	}
	l, r, err := numericPair(left, right)
	if err != nil {
		return value.Value{}, wrapInterpreterError(fn.String()+" requires numeric operands", err)
	}
	return value.MakeBool(realCompare(fn, l, r)), nil
}

func intCompare(fn bytecode.InternalFunction, l, r int64) bool {
	switch fn {
	case bytecode.FLess:
		return l < r
	case bytecode.FLessEqual:
		return l <= r
	case bytecode.FGreater:
		return l > r
	case bytecode.FGreaterEqual:
		return l >= r
	default:
		return false
	}
}

func realCompare(fn bytecode.InternalFunction, l, r float64) bool {
	switch fn {
	case bytecode.FLess:
		return l < r
	case bytecode.FLessEqual:
		return l <= r
	case bytecode.FGreater:
		return l > r
	case bytecode.FGreaterEqual:
		return l >= r
	default:
		return false
	}
}

func (interp *Interpreter) builtinBitwise(fn bytecode.InternalFunction) (value.Value, error) {
	left, right, err := interp.arg2()
	if err != nil {
		return value.Value{}, err
	}
	if left.Type() == value.Bool && right.Type() == value.Bool {
		l, _ := left.Bool()
		r, _ := right.Bool()
		switch fn {
		case bytecode.FAnd:
			return value.MakeBool(l && r), nil
		case bytecode.FOr:
			return value.MakeBool(l || r), nil
		case bytecode.FXor:
			return value.MakeBool(l != r), nil
		}
	}
	l, err := left.Int()
	if err != nil {
		return value.Value{}, wrapInterpreterError(fn.String(), err)
	}
	r, err := right.Int()
	if err != nil {
		return value.Value{}, wrapInterpreterError(fn.String(), err)
	}
	switch fn {
	case bytecode.FAnd:
		return value.MakeInt(l & r), nil
	case bytecode.FOr:
		return value.MakeInt(l | r), nil
	case bytecode.FXor:
		return value.MakeInt(l ^ r), nil
	default:
		return value.Value{}, newInterpreterError("unreachable bitwise op")
	}
}

func (interp *Interpreter) builtinNot() (value.Value, error) {
	v, err := interp.arg1()
	if err != nil {
		return value.Value{}, err
	}
	if v.Type() == value.Bool {
		b, _ := v.Bool()
		return value.MakeBool(!b), nil
	}
	n, err := v.Int()
	if err != nil {
		return value.Value{}, wrapInterpreterError("Not", err)
	}
	return value.MakeInt(^n), nil
}

// builtinPrint writes every pending argument, space-separated, in source
// (left to right) order followed by a newline, and returns Void.
func (interp *Interpreter) builtinPrint() (value.Value, error) {
	w := interp.stdout()
	for i := len(interp.argStack) - 1; i >= 0; i-- {
		arg := interp.argStack[i]
		if arg.Type() == value.Void {
			return value.Value{}, newInterpreterError("Print cannot be called with a Void argument")
		}
		if _, err := fmt.Fprint(w, arg.String()); err != nil {
			return value.Value{}, wrapInterpreterError("Print", err)
		}
		if i > 0 {
			if _, err := fmt.Fprint(w, " "); err != nil {
				return value.Value{}, wrapInterpreterError("Print", err)
			}
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return value.Value{}, wrapInterpreterError("Print", err)
	}
	return value.VoidValue, nil
}

// builtinFailFast prints a stack trace of every active frame (innermost
// first) and halts execution. It is the program's own request to stop, not
// an interpreter failure, so it never returns an error.
func (interp *Interpreter) builtinFailFast() (value.Value, error) {
	w := interp.stdout()
	fmt.Fprintln(w, "The program requested termination by calling FailFast. Stack trace:")
	for i := len(interp.frames) - 1; i >= 0; i-- {
		fr := interp.frames[i]
		fmt.Fprintf(w, "Function %d, instruction %d\n", fr.fn.Index, fr.pc-1)
	}
	interp.halted = true
	return value.VoidValue, nil
}

func (interp *Interpreter) builtinMathAbs() (value.Value, error) {
	v, err := interp.arg1()
	if err != nil {
		return value.Value{}, err
	}
	if v.Type() == value.Int {
		n, _ := v.Int()
		if n < 0 {
			n = -n
		}
		return value.MakeInt(n), nil
	}
	r, err := v.Numeric()
	if err != nil {
		return value.Value{}, wrapInterpreterError("Math.Abs", err)
	}
	return value.MakeReal(math.Abs(r)), nil
}

func (interp *Interpreter) builtinMathUnary(fn bytecode.InternalFunction) (value.Value, error) {
	v, err := interp.arg1()
	if err != nil {
		return value.Value{}, err
	}
	r, err := v.Numeric()
	if err != nil {
		return value.Value{}, wrapInterpreterError(fn.String(), err)
	}

	switch fn {
	case bytecode.FMathAcos:
		if r < -1 || r > 1 {
			return value.Value{}, newApplicationError("Math.Acos called with argument outside [-1, 1].")
		}
		return value.MakeReal(math.Acos(r)), nil
	case bytecode.FMathAsin:
		if r < -1 || r > 1 {
			return value.Value{}, newApplicationError("Math.Asin called with argument outside [-1, 1].")
		}
		return value.MakeReal(math.Asin(r)), nil
	case bytecode.FMathAtan:
		return value.MakeReal(math.Atan(r)), nil
	case bytecode.FMathCeil:
		return value.MakeInt(int64(math.Ceil(r))), nil
	case bytecode.FMathCos:
		return value.MakeReal(math.Cos(r)), nil
	case bytecode.FMathExp:
		return value.MakeReal(math.Exp(r)), nil
	case bytecode.FMathFloor:
		return value.MakeInt(int64(math.Floor(r))), nil
	case bytecode.FMathLog:
		if r < 0 {
			return value.Value{}, newApplicationError("Called Math.Log with negative argument.")
		}
		return value.MakeReal(math.Log(r)), nil
	case bytecode.FMathRound:
		// Uses round-half-to-even (banker's rounding) rather than
		// round-half-away-from-zero.
		return value.MakeInt(int64(math.RoundToEven(r))), nil
	case bytecode.FMathSin:
		return value.MakeReal(math.Sin(r)), nil
	case bytecode.FMathSqrt:
		if r < 0 {
			return value.Value{}, newApplicationError("Called Math.Sqrt with negative argument.")
		}
		return value.MakeReal(math.Sqrt(r)), nil
	case bytecode.FMathTan:
		return value.MakeReal(math.Tan(r)), nil
	default:
		return value.Value{}, newInterpreterError("unreachable math unary op")
	}
}

func (interp *Interpreter) builtinMathPow() (value.Value, error) {
	left, right, err := interp.arg2()
	if err != nil {
		return value.Value{}, err
	}
	l, r, err := numericPair(left, right)
	if err != nil {
		return value.Value{}, wrapInterpreterError("Math.Pow", err)
	}
	if l < 0 && right.Type() == value.Real {
		return value.Value{}, newApplicationError("Called Math.Pow with negative argument and non-integer exponent.")
	}
	return value.MakeReal(math.Pow(l, r)), nil
}

func numericPair(left, right value.Value) (float64, float64, error) {
	l, err := left.Numeric()
	if err != nil {
		return 0, 0, err
	}
	r, err := right.Numeric()
	if err != nil {
		return 0, 0, err
	}
	return l, r, nil
}
