// Package loader deserializes the binary module format into a Program image.
// It validates magic, version, counts and type tags; it does not validate
// opcodes, jump targets or stack-effect consistency, which are enforced
// dynamically by package machine.
package loader

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/mna/lotus/lang/bytecode"
	"github.com/mna/lotus/lang/image"
	"github.com/mna/lotus/lang/value"
)

const (
	magic           uint32 = 0x53494550 // "PEIS", little-endian
	bytecodeVersion uint32 = 6
	maxFunctions           = 32768
)

// Load reads a binary module from r and returns the resulting Program. On
// any structural problem it returns an error describing the violated rule.
// These are plain errors, not values of package machine's
// InterpreterError or ApplicationError types.
func Load(r io.Reader) (*image.Program, error) {
	ld := &loader{r: bufio.NewReader(r)}
	return ld.load()
}

type loader struct {
	r io.Reader
}

func (ld *loader) read(v any) error {
	return binary.Read(ld.r, binary.LittleEndian, v)
}

func (ld *loader) load() (*image.Program, error) {
	var hdrMagic uint32
	if err := ld.read(&hdrMagic); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if hdrMagic != magic {
		return nil, errors.New("Not a compiled lotus file.")
	}

	var version uint32
	if err := ld.read(&version); err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	if version != bytecodeVersion {
		return nil, errors.New("Wrong bytecode version.")
	}

	var mainIdx uint32
	if err := ld.read(&mainIdx); err != nil {
		return nil, fmt.Errorf("reading main function index: %w", err)
	}

	constants, err := ld.loadConstants()
	if err != nil {
		return nil, err
	}

	functions, err := ld.loadFunctions()
	if err != nil {
		return nil, err
	}

	prog := &image.Program{
		MainIndex: int16(mainIdx),
		Constants: constants,
		Functions: functions,
	}
	if prog.MainIndex < 0 || int(prog.MainIndex) >= len(prog.Functions) {
		return nil, fmt.Errorf("main function index %d out of range [0, %d)", prog.MainIndex, len(prog.Functions))
	}
	return prog, nil
}

func (ld *loader) loadConstants() ([]value.Value, error) {
	var count int32
	if err := ld.read(&count); err != nil {
		return nil, fmt.Errorf("reading constant count: %w", err)
	}
	if count < 0 {
		return nil, errors.New("Constant count less than 0.")
	}

	consts := make([]value.Value, count)
	for i := int32(0); i < count; i++ {
		var typ int16
		if err := ld.read(&typ); err != nil {
			return nil, fmt.Errorf("reading constant %d type: %w", i, err)
		}
		if !value.PrimitiveType(typ).Valid() {
			return nil, errors.New("Invalid constant type.")
		}

		// 6 bytes of UTF-8 name, discarded.
		var name [6]byte
		if err := ld.read(&name); err != nil {
			return nil, fmt.Errorf("reading constant %d name: %w", i, err)
		}

		var raw int64
		if err := ld.read(&raw); err != nil {
			return nil, fmt.Errorf("reading constant %d value: %w", i, err)
		}

		pt := value.PrimitiveType(typ)
		if pt == value.Real {
			// The 8-byte payload is the IEEE-754 bit pattern of the float64, not
			// an integer to convert: the binary format stores it exactly as the
			// union of int64/double in the original implementation would.
			consts[i] = value.MakeReal(math.Float64frombits(uint64(raw)))
		} else {
			consts[i] = value.Make(pt, raw)
		}
	}
	return consts, nil
}

func (ld *loader) loadFunctions() ([]image.Function, error) {
	var count int32
	if err := ld.read(&count); err != nil {
		return nil, fmt.Errorf("reading function count: %w", err)
	}
	if count < 0 {
		return nil, errors.New("Function count less than 0.")
	}
	if count > maxFunctions {
		return nil, errors.New("Too many functions.")
	}

	funcs := make([]image.Function, count)
	for i := int32(0); i < count; i++ {
		fn, err := ld.loadFunction(int16(i))
		if err != nil {
			return nil, err
		}
		funcs[i] = fn
	}
	return funcs, nil
}

func (ld *loader) loadFunction(index int16) (image.Function, error) {
	var returnType int16
	if err := ld.read(&returnType); err != nil {
		return image.Function{}, fmt.Errorf("reading function %d return type: %w", index, err)
	}
	if !value.PrimitiveType(returnType).Valid() {
		return image.Function{}, errors.New("Invalid return type.")
	}

	var paramCount int16
	if err := ld.read(&paramCount); err != nil {
		return image.Function{}, fmt.Errorf("reading function %d parameter count: %w", index, err)
	}
	if paramCount < 0 {
		return image.Function{}, errors.New("Parameter count less than 0.")
	}

	var localCount int16
	if err := ld.read(&localCount); err != nil {
		return image.Function{}, fmt.Errorf("reading function %d local count: %w", index, err)
	}
	if localCount < 0 {
		return image.Function{}, errors.New("Local count less than 0.")
	}
	if paramCount > localCount {
		return image.Function{}, errors.New("Parameter count greater than local count.")
	}

	localTypes := make([]value.PrimitiveType, localCount)
	for i := int16(0); i < localCount; i++ {
		var typ int16
		if err := ld.read(&typ); err != nil {
			return image.Function{}, fmt.Errorf("reading function %d local %d type: %w", index, i, err)
		}
		if !value.PrimitiveType(typ).Valid() {
			return image.Function{}, errors.New("Invalid local type.")
		}
		localTypes[i] = value.PrimitiveType(typ)
	}

	if localCount%2 == 1 {
		var pad int16
		if err := ld.read(&pad); err != nil {
			return image.Function{}, fmt.Errorf("reading function %d alignment pad: %w", index, err)
		}
	}

	var codeSize int32
	if err := ld.read(&codeSize); err != nil {
		return image.Function{}, fmt.Errorf("reading function %d code size: %w", index, err)
	}
	if codeSize < 0 {
		return image.Function{}, errors.New("Code size less than 0.")
	}

	code := make([]bytecode.BytecodeOp, codeSize)
	for i := int32(0); i < codeSize; i++ {
		var op int16
		if err := ld.read(&op); err != nil {
			return image.Function{}, fmt.Errorf("reading function %d instruction %d opcode: %w", index, i, err)
		}
		var param int16
		if err := ld.read(&param); err != nil {
			return image.Function{}, fmt.Errorf("reading function %d instruction %d parameter: %w", index, i, err)
		}
		code[i] = bytecode.BytecodeOp{Op: bytecode.Opcode(op), Param: param}
	}

	return image.Function{
		Index:          index,
		ReturnType:     value.PrimitiveType(returnType),
		ParameterCount: paramCount,
		LocalTypes:     localTypes,
		Code:           code,
	}, nil
}
