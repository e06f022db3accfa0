// Package spirvtest assembles small SPIR-V compute modules. The modules
// carry the declarations reflection reads and an empty entry function,
// which is enough for the software backend and the reflection tests.
package spirvtest

import (
	"github.com/spaghettifunk/radix/engine/compute/spirv"
)

const (
	Version1_0 uint32 = 0x00010000
	Version1_3 uint32 = 0x00010300
	Version1_5 uint32 = 0x00010500
)

type Builder struct {
	version uint32
	nextID  uint32

	capabilities []uint32
	entryPoints  []uint32
	modes        []uint32
	debug        []uint32
	annotations  []uint32
	globals      []uint32
	functions    []uint32
}

func NewBuilder(version uint32) *Builder {
	b := &Builder{version: version, nextID: 1}
	b.capabilities = emit(b.capabilities, spirv.OpCapability, 1) // Shader
	return b
}

// ID reserves a fresh result id.
func (b *Builder) ID() uint32 {
	id := b.nextID
	b.nextID++
	return id
}

func (b *Builder) Name(id uint32, name string) {
	b.debug = emit(b.debug, spirv.OpName, append([]uint32{id}, encodeString(name)...)...)
}

func (b *Builder) MemberName(id, member uint32, name string) {
	b.debug = emit(b.debug, spirv.OpMemberName, append([]uint32{id, member}, encodeString(name)...)...)
}

func (b *Builder) Decorate(id uint32, dec spirv.Decoration, operands ...uint32) {
	b.annotations = emit(b.annotations, spirv.OpDecorate, append([]uint32{id, uint32(dec)}, operands...)...)
}

func (b *Builder) MemberDecorate(id, member uint32, dec spirv.Decoration, operands ...uint32) {
	b.annotations = emit(b.annotations, spirv.OpMemberDecorate, append([]uint32{id, member, uint32(dec)}, operands...)...)
}

func (b *Builder) typeOp(op spirv.OpCode, operands ...uint32) uint32 {
	id := b.ID()
	b.globals = emit(b.globals, op, append([]uint32{id}, operands...)...)
	return id
}

// Raw appends an instruction to the globals section as given, so tests
// can build declarations the typed helpers would never emit.
func (b *Builder) Raw(op spirv.OpCode, operands ...uint32) {
	b.globals = emit(b.globals, op, operands...)
}

func (b *Builder) TypeVoid() uint32 { return b.typeOp(spirv.OpTypeVoid) }

func (b *Builder) TypeInt(width uint32, signed bool) uint32 {
	s := uint32(0)
	if signed {
		s = 1
	}
	return b.typeOp(spirv.OpTypeInt, width, s)
}

func (b *Builder) TypeFloat(width uint32) uint32 { return b.typeOp(spirv.OpTypeFloat, width) }

func (b *Builder) TypeVector(component, count uint32) uint32 {
	return b.typeOp(spirv.OpTypeVector, component, count)
}

func (b *Builder) TypeMatrix(column, count uint32) uint32 {
	return b.typeOp(spirv.OpTypeMatrix, column, count)
}

func (b *Builder) TypeImage(sampled uint32) uint32 {
	// 2D, not depth, not arrayed, single sampled, unknown format.
	return b.typeOp(spirv.OpTypeImage, sampled, 1, 0, 0, 0, 2, 0)
}

func (b *Builder) TypeArray(element, lengthConst uint32) uint32 {
	return b.typeOp(spirv.OpTypeArray, element, lengthConst)
}

func (b *Builder) TypeRuntimeArray(element uint32) uint32 {
	return b.typeOp(spirv.OpTypeRuntimeArray, element)
}

func (b *Builder) TypeStruct(members ...uint32) uint32 {
	return b.typeOp(spirv.OpTypeStruct, members...)
}

func (b *Builder) TypePointer(storage spirv.StorageClass, pointee uint32) uint32 {
	return b.typeOp(spirv.OpTypePointer, uint32(storage), pointee)
}

func (b *Builder) TypeFunction(ret uint32) uint32 {
	return b.typeOp(spirv.OpTypeFunction, ret)
}

func (b *Builder) Constant(typeID, value uint32) uint32 {
	id := b.ID()
	b.globals = emit(b.globals, spirv.OpConstant, typeID, id, value)
	return id
}

func (b *Builder) Variable(pointerType uint32, storage spirv.StorageClass) uint32 {
	id := b.ID()
	b.globals = emit(b.globals, spirv.OpVariable, pointerType, id, uint32(storage))
	return id
}

// EntryPoint declares a GLCompute entry with an empty body and returns
// the function id.
func (b *Builder) EntryPoint(name string) uint32 {
	void := b.TypeVoid()
	fnType := b.TypeFunction(void)
	fn := b.ID()
	label := b.ID()

	b.entryPoints = emit(b.entryPoints, spirv.OpEntryPoint,
		append([]uint32{spirv.ExecutionModelGLCompute, fn}, encodeString(name)...)...)

	b.functions = emit(b.functions, spirv.OpFunction, void, fn, 0, fnType)
	b.functions = emit(b.functions, spirv.OpLabel, label)
	b.functions = emit(b.functions, spirv.OpReturn)
	b.functions = emit(b.functions, spirv.OpFunctionEnd)
	return fn
}

func (b *Builder) LocalSize(fn, x, y, z uint32) {
	b.modes = emit(b.modes, spirv.OpExecutionMode, fn, spirv.ExecutionModeLocalSize, x, y, z)
}

func (b *Builder) LocalSizeID(fn, x, y, z uint32) {
	b.modes = emit(b.modes, spirv.OpExecutionMode, fn, spirv.ExecutionModeLocalSizeID, x, y, z)
}

// Words returns the finished module.
func (b *Builder) Words() []uint32 {
	out := []uint32{spirv.MagicNumber, b.version, 0, b.nextID, 0}
	out = append(out, b.capabilities...)
	out = emit(out, spirv.OpMemoryModel, 0, 1) // Logical GLSL450
	out = append(out, b.entryPoints...)
	out = append(out, b.modes...)
	out = append(out, b.debug...)
	out = append(out, b.annotations...)
	out = append(out, b.globals...)
	out = append(out, b.functions...)
	return out
}

func emit(dst []uint32, op spirv.OpCode, operands ...uint32) []uint32 {
	dst = append(dst, uint32(len(operands)+1)<<16|uint32(op))
	return append(dst, operands...)
}

func encodeString(s string) []uint32 {
	words := make([]uint32, len(s)/4+1)
	for i := 0; i < len(s); i++ {
		words[i/4] |= uint32(s[i]) << (8 * (i % 4))
	}
	return words
}
