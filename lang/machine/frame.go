package machine

import (
	"github.com/mna/lotus/lang/image"
	"github.com/mna/lotus/lang/value"
)

// Frame is a single activation record: the function being executed, its
// local slots, its operand stack and its program counter. Frames are
// per-call; their state is never shared or visible across frames.
type Frame struct {
	fn      *image.Function
	locals  []value.Value
	operand []value.Value // used as a LIFO stack via append/truncate
	pc      int
}

// newFrame allocates a frame for fn with locals zero-initialized per their
// declared type, an empty operand stack and pc = 0.
func newFrame(fn *image.Function) *Frame {
	locals := make([]value.Value, len(fn.LocalTypes))
	for i, t := range fn.LocalTypes {
		locals[i] = value.Zero(t)
	}
	return &Frame{
		fn:     fn,
		locals: locals,
	}
}

func (fr *Frame) push(v value.Value) {
	fr.operand = append(fr.operand, v)
}

func (fr *Frame) pop() (value.Value, error) {
	n := len(fr.operand)
	if n == 0 {
		return value.Value{}, newInterpreterError("operand stack underflow")
	}
	v := fr.operand[n-1]
	fr.operand = fr.operand[:n-1]
	return v, nil
}

func (fr *Frame) local(idx int16) (*value.Value, error) {
	if idx < 0 || int(idx) >= len(fr.locals) {
		return nil, newInterpreterError("local index out of range")
	}
	return &fr.locals[idx], nil
}
