// Package value implements the tagged-primitive value system of the
// language: the closed PrimitiveType enumeration and the Value type that
// carries exactly one payload of the tagged kind.
package value

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// PrimitiveType is a closed enumeration of the kinds of value the machine
// can hold. NoType is a sentinel used only by the binary module format to
// signal "this field was never set"; a loaded module must never produce a
// Value tagged NoType.
type PrimitiveType int16

const (
	NoType PrimitiveType = iota
	Void
	Int
	Real
	Bool
)

var typeNames = [...]string{
	NoType: "NoType",
	Void:   "Void",
	Int:    "Int",
	Real:   "Real",
	Bool:   "Bool",
}

func (t PrimitiveType) String() string {
	if int(t) < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("PrimitiveType(%d)", int(t))
	}
	return typeNames[t]
}

// Valid reports whether t is one of the four runtime types a Value may
// carry. NoType and anything outside the enumeration are not valid.
func (t PrimitiveType) Valid() bool {
	return t >= Void && t <= Bool
}

// ErrTypeMismatch is returned by the typed accessors and Assign when the
// requested operation does not match the Value's tag. Callers in package
// machine wrap this in an InterpreterError: a mismatch here always indicates
// a malformed program, never a problem a running program can recover from.
var ErrTypeMismatch = errors.New("value type mismatch")

// Value is a tagged primitive holding exactly one of a bool, an int64 or a
// float64, discriminated by typ. Void carries no payload. Values are plain
// data and are freely copied.
type Value struct {
	typ  PrimitiveType
	bits uint64 // int64 bits, math.Float64bits(f), or 0/1 for bool; unused for Void
}

// VoidValue is the zero value for the unit type.
var VoidValue = Value{typ: Void}

// Make constructs a Value of the given tag from a raw 64-bit payload,
// interpreted as an int64 for Int, as the low bit for Bool, or ignored for
// Void. It must not be used to construct a Real value: use MakeReal, since a
// Real's bit pattern is not simply its raw integer payload reinterpreted.
func Make(t PrimitiveType, raw int64) Value {
	switch t {
	case Void:
		return Value{typ: Void}
	case Int:
		return Value{typ: Int, bits: uint64(raw)}
	case Bool:
		b := uint64(0)
		if raw&1 != 0 {
			b = 1
		}
		return Value{typ: Bool, bits: b}
	default:
		// Real (and any invalid tag) falls through; callers must use MakeReal
		// for Real. Returning a tagged-but-meaningless Value here would hide a
		// loader bug, so the loader calls MakeReal explicitly instead of this
		// constructor for Real constants.
		return Value{typ: t}
	}
}

// MakeInt constructs an Int value.
func MakeInt(i int64) Value { return Value{typ: Int, bits: uint64(i)} }

// MakeReal constructs a Real value.
func MakeReal(f float64) Value { return Value{typ: Real, bits: math.Float64bits(f)} }

// MakeBool constructs a Bool value.
func MakeBool(b bool) Value {
	if b {
		return Value{typ: Bool, bits: 1}
	}
	return Value{typ: Bool, bits: 0}
}

// Zero returns the zero-valued Value of the declared type: unit for Void, 0
// for Int, 0.0 for Real, false for Bool. Used when allocating a frame's
// local slots.
func Zero(t PrimitiveType) Value {
	switch t {
	case Void:
		return Value{typ: Void}
	case Int:
		return MakeInt(0)
	case Real:
		return MakeReal(0)
	case Bool:
		return MakeBool(false)
	default:
		return Value{typ: t}
	}
}

// Type returns the value's tag.
func (v Value) Type() PrimitiveType { return v.typ }

// IsVoid reports whether v is the unit value.
func (v Value) IsVoid() bool { return v.typ == Void }

// Bool returns the payload if v is tagged Bool, else ErrTypeMismatch.
func (v Value) Bool() (bool, error) {
	if v.typ != Bool {
		return false, fmt.Errorf("%w: want Bool, have %s", ErrTypeMismatch, v.typ)
	}
	return v.bits != 0, nil
}

// Int returns the payload if v is tagged Int, else ErrTypeMismatch.
func (v Value) Int() (int64, error) {
	if v.typ != Int {
		return 0, fmt.Errorf("%w: want Int, have %s", ErrTypeMismatch, v.typ)
	}
	return int64(v.bits), nil
}

// Real returns the payload if v is tagged Real, else ErrTypeMismatch.
func (v Value) Real() (float64, error) {
	if v.typ != Real {
		return 0, fmt.Errorf("%w: want Real, have %s", ErrTypeMismatch, v.typ)
	}
	return math.Float64frombits(v.bits), nil
}

// Numeric returns v widened to float64 if v is Int or Real, else
// ErrTypeMismatch. Int is widened with a value-preserving conversion.
func (v Value) Numeric() (float64, error) {
	switch v.typ {
	case Int:
		return float64(int64(v.bits)), nil
	case Real:
		return math.Float64frombits(v.bits), nil
	default:
		return 0, fmt.Errorf("%w: want numeric, have %s", ErrTypeMismatch, v.typ)
	}
}

// Assign overwrites the receiver's payload with other's, failing if their
// tags differ. The receiver's tag never changes.
func (v *Value) Assign(other Value) error {
	if v.typ != other.typ {
		return fmt.Errorf("%w: cannot assign %s into %s", ErrTypeMismatch, other.typ, v.typ)
	}
	v.bits = other.bits
	return nil
}

// SetBool overwrites the payload of a Bool value.
func (v *Value) SetBool(b bool) error {
	if v.typ != Bool {
		return fmt.Errorf("%w: want Bool, have %s", ErrTypeMismatch, v.typ)
	}
	*v = MakeBool(b)
	return nil
}

// SetInt overwrites the payload of an Int value.
func (v *Value) SetInt(i int64) error {
	if v.typ != Int {
		return fmt.Errorf("%w: want Int, have %s", ErrTypeMismatch, v.typ)
	}
	*v = MakeInt(i)
	return nil
}

// SetReal overwrites the payload of a Real value.
func (v *Value) SetReal(f float64) error {
	if v.typ != Real {
		return fmt.Errorf("%w: want Real, have %s", ErrTypeMismatch, v.typ)
	}
	*v = MakeReal(f)
	return nil
}

// FormatFloat pins the textual representation of a Real value to the
// shortest decimal that round-trips exactly, so output is stable across
// platforms (the original interpreter relied on the C++ standard library's
// platform-dependent default formatter).
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// String renders v the same way the Print builtin does, except that Void
// renders as "void" instead of being rejected: this is for debugging and
// trace output, not for the Print builtin itself, which must reject Void
// explicitly (see machine.Interpreter).
func (v Value) String() string {
	switch v.typ {
	case Void:
		return "void"
	case Bool:
		b, _ := v.Bool()
		if b {
			return "true"
		}
		return "false"
	case Int:
		i, _ := v.Int()
		return strconv.FormatInt(i, 10)
	case Real:
		f, _ := v.Real()
		return FormatFloat(f)
	default:
		return v.typ.String()
	}
}
