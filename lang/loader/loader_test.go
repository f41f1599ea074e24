package loader_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mna/lotus/lang/bytecode"
	"github.com/mna/lotus/lang/loader"
	"github.com/mna/lotus/lang/value"
)

// moduleBuilder assembles a binary module byte by byte, mirroring the wire
// format loader.Load expects, so tests don't depend on a real compiler.
type moduleBuilder struct {
	buf bytes.Buffer
}

func newModuleBuilder(mainIdx uint32) *moduleBuilder {
	b := &moduleBuilder{}
	b.u32(0x53494550)
	b.u32(6)
	b.u32(mainIdx)
	return b
}

func (b *moduleBuilder) u32(v uint32)  { binary.Write(&b.buf, binary.LittleEndian, v) }
func (b *moduleBuilder) i32(v int32)   { binary.Write(&b.buf, binary.LittleEndian, v) }
func (b *moduleBuilder) i16(v int16)   { binary.Write(&b.buf, binary.LittleEndian, v) }
func (b *moduleBuilder) i64(v int64)   { binary.Write(&b.buf, binary.LittleEndian, v) }
func (b *moduleBuilder) raw(p []byte)  { b.buf.Write(p) }

func (b *moduleBuilder) constants(consts []value.Value) {
	b.i32(int32(len(consts)))
	for _, c := range consts {
		b.i16(int16(c.Type()))
		b.raw(make([]byte, 6)) // name, unused
		switch c.Type() {
		case value.Real:
			f, _ := c.Real()
			b.i64(int64(math.Float64bits(f)))
		case value.Int:
			i, _ := c.Int()
			b.i64(i)
		case value.Bool:
			bv, _ := c.Bool()
			n := int64(0)
			if bv {
				n = 1
			}
			b.i64(n)
		default:
			b.i64(0)
		}
	}
}

type fnSpec struct {
	returnType value.PrimitiveType
	params     int16
	locals     []value.PrimitiveType
	code       []bytecode.BytecodeOp
}

func (b *moduleBuilder) functions(fns []fnSpec) {
	b.i32(int32(len(fns)))
	for _, fn := range fns {
		b.i16(int16(fn.returnType))
		b.i16(fn.params)
		b.i16(int16(len(fn.locals)))
		for _, t := range fn.locals {
			b.i16(int16(t))
		}
		if len(fn.locals)%2 == 1 {
			b.i16(0)
		}
		b.i32(int32(len(fn.code)))
		for _, op := range fn.code {
			b.i16(int16(op.Op))
			b.i16(op.Param)
		}
	}
}

func TestLoadValidModule(t *testing.T) {
	b := newModuleBuilder(0)
	b.constants([]value.Value{value.MakeInt(41)})
	b.functions([]fnSpec{{
		returnType: value.Int,
		params:     0,
		locals:     nil,
		code: []bytecode.BytecodeOp{
			{Op: bytecode.PushConst, Param: 0},
			{Op: bytecode.Return},
		},
	}})

	prog, err := loader.Load(bytes.NewReader(b.buf.Bytes()))
	require.NoError(t, err)
	assert.EqualValues(t, 0, prog.MainIndex)
	require.Len(t, prog.Constants, 1)
	i, _ := prog.Constants[0].Int()
	assert.EqualValues(t, 41, i)
	require.Len(t, prog.Functions, 1)
	assert.Len(t, prog.Functions[0].Code, 2)
}

func TestLoadOddLocalCountPadding(t *testing.T) {
	b := newModuleBuilder(0)
	b.constants(nil)
	b.functions([]fnSpec{{
		returnType: value.Void,
		params:     0,
		locals:     []value.PrimitiveType{value.Int},
		code: []bytecode.BytecodeOp{
			{Op: bytecode.Return},
		},
	}})

	prog, err := loader.Load(bytes.NewReader(b.buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, prog.Functions, 1)
	assert.Equal(t, []value.PrimitiveType{value.Int}, prog.Functions[0].LocalTypes)
}

func TestLoadWrongMagic(t *testing.T) {
	b := &moduleBuilder{}
	b.u32(0xdeadbeef)
	b.u32(6)
	b.u32(0)
	_, err := loader.Load(bytes.NewReader(b.buf.Bytes()))
	assert.Error(t, err)
}

func TestLoadWrongVersion(t *testing.T) {
	b := &moduleBuilder{}
	b.u32(0x53494550)
	b.u32(1)
	b.u32(0)
	_, err := loader.Load(bytes.NewReader(b.buf.Bytes()))
	assert.Error(t, err)
}

func TestLoadNegativeConstantCount(t *testing.T) {
	b := &moduleBuilder{}
	b.u32(0x53494550)
	b.u32(6)
	b.u32(0)
	b.i32(-1)
	_, err := loader.Load(bytes.NewReader(b.buf.Bytes()))
	assert.Error(t, err)
}

func TestLoadMainIndexOutOfRange(t *testing.T) {
	b := newModuleBuilder(5)
	b.constants(nil)
	b.functions([]fnSpec{{
		returnType: value.Void,
		code:       []bytecode.BytecodeOp{{Op: bytecode.Return}},
	}})
	_, err := loader.Load(bytes.NewReader(b.buf.Bytes()))
	assert.Error(t, err)
}

func TestLoadTruncatedInput(t *testing.T) {
	_, err := loader.Load(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)
}
