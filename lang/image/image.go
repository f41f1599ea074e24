// Package image defines the in-memory representation of a loaded module: the
// constant pool, function table and entry point that make up a Program. A
// Program is built once by package loader and is immutable thereafter.
package image

import (
	"fmt"

	"github.com/mna/lotus/lang/bytecode"
	"github.com/mna/lotus/lang/value"
)

// Constant is a Value stored in a Program's constant pool.
type Constant = value.Value

// Function is a single compiled function: its signature (return type,
// parameter count, local types) and its bytecode body. Index is assigned at
// load time and equals the function's position in the owning Program's
// function table.
type Function struct {
	Index          int16
	ReturnType     value.PrimitiveType
	ParameterCount int16
	LocalTypes     []value.PrimitiveType // parameters first, then other locals
	Code           []bytecode.BytecodeOp
}

// Program is a fully loaded, immutable module image: a constant pool, a
// function table (function at position i has Index i) and the entry point.
type Program struct {
	MainIndex int16
	Constants []Constant
	Functions []Function
}

// Constant returns the constant at idx, or an error if idx is out of range.
func (p *Program) Constant(idx int16) (Constant, error) {
	if idx < 0 || int(idx) >= len(p.Constants) {
		return value.Value{}, fmt.Errorf("constant index %d out of range [0, %d)", idx, len(p.Constants))
	}
	return p.Constants[idx], nil
}

// Function returns the function at idx, or an error if idx is out of range.
func (p *Program) Function(idx int16) (*Function, error) {
	if idx < 0 || int(idx) >= len(p.Functions) {
		return nil, fmt.Errorf("function index %d out of range [0, %d)", idx, len(p.Functions))
	}
	return &p.Functions[idx], nil
}

// MainFunction returns the program's entry point function.
func (p *Program) MainFunction() (*Function, error) {
	return p.Function(p.MainIndex)
}
