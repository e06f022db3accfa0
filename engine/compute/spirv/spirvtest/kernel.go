package spirvtest

import (
	"github.com/spaghettifunk/radix/engine/compute/spirv"
	"github.com/spaghettifunk/radix/engine/math"
)

type MemberType uint8

const (
	Uint32 MemberType = iota
	Int32
	Float32
	Uint64
	Vec2Uint32
	Vec4Float32
)

// size and alignment under std140/std430 for the supported scalar and
// vector types.
func (t MemberType) layout() (size, align uint32) {
	switch t {
	case Uint64:
		return 8, 8
	case Vec2Uint32:
		return 8, 8
	case Vec4Float32:
		return 16, 16
	default:
		return 4, 4
	}
}

type Member struct {
	Name string
	Type MemberType
}

type BindingKind uint8

const (
	Storage BindingKind = iota
	Uniform
	Image
)

type Binding struct {
	Set     uint32
	Binding uint32
	Name    string
	Kind    BindingKind
	// Members of a uniform block.
	Members []Member
	// ElementBits is the element width of a storage buffer's runtime
	// array, 32 when zero.
	ElementBits uint32
	// ArrayLength makes the binding an array of descriptors.
	ArrayLength uint32
}

// Kernel declares the resource interface of a compute kernel.
type Kernel struct {
	EntryPoint    string
	Version       uint32
	LocalSize     [3]uint32
	Bindings      []Binding
	PushConstants []Member
}

type assembler struct {
	b      *Builder
	ints   map[uint32]uint32
	floats map[uint32]uint32
	consts map[uint32]uint32
}

// Assemble produces the SPIR-V words for k.
func Assemble(k Kernel) []uint32 {
	version := k.Version
	if version == 0 {
		version = Version1_3
	}
	entry := k.EntryPoint
	if entry == "" {
		entry = "main"
	}

	a := &assembler{
		b:      NewBuilder(version),
		ints:   make(map[uint32]uint32),
		floats: make(map[uint32]uint32),
		consts: make(map[uint32]uint32),
	}
	b := a.b
	fn := b.EntryPoint(entry)
	if k.LocalSize != [3]uint32{} {
		b.LocalSize(fn, k.LocalSize[0], k.LocalSize[1], k.LocalSize[2])
	}

	for _, binding := range k.Bindings {
		var pointee uint32
		var storage spirv.StorageClass
		switch binding.Kind {
		case Uniform:
			pointee = a.block(binding.Name+"_block", binding.Members, spirv.DecorationBlock)
			storage = spirv.StorageClassUniform
		case Image:
			pointee = b.TypeImage(2)
			storage = spirv.StorageClassUniformConstant
		default:
			pointee, storage = a.storageBlock(binding, version)
		}
		if binding.ArrayLength > 0 {
			pointee = b.TypeArray(pointee, a.constant(binding.ArrayLength))
		}
		v := b.Variable(b.TypePointer(storage, pointee), storage)
		b.Name(v, binding.Name)
		b.Decorate(v, spirv.DecorationDescriptorSet, binding.Set)
		b.Decorate(v, spirv.DecorationBinding, binding.Binding)
	}

	if len(k.PushConstants) > 0 {
		block := a.block("PushConstants", k.PushConstants, spirv.DecorationBlock)
		v := b.Variable(b.TypePointer(spirv.StorageClassPushConstant, block), spirv.StorageClassPushConstant)
		b.Name(v, "push")
	}
	return b.Words()
}

func (a *assembler) uint(width uint32) uint32 {
	if id, ok := a.ints[width]; ok {
		return id
	}
	id := a.b.TypeInt(width, false)
	a.ints[width] = id
	return id
}

func (a *assembler) float(width uint32) uint32 {
	if id, ok := a.floats[width]; ok {
		return id
	}
	id := a.b.TypeFloat(width)
	a.floats[width] = id
	return id
}

func (a *assembler) constant(v uint32) uint32 {
	if id, ok := a.consts[v]; ok {
		return id
	}
	id := a.b.Constant(a.uint(32), v)
	a.consts[v] = id
	return id
}

func (a *assembler) memberType(t MemberType) uint32 {
	switch t {
	case Int32:
		if id, ok := a.ints[0]; ok {
			return id
		}
		id := a.b.TypeInt(32, true)
		a.ints[0] = id
		return id
	case Float32:
		return a.float(32)
	case Uint64:
		return a.uint(64)
	case Vec2Uint32:
		return a.b.TypeVector(a.uint(32), 2)
	case Vec4Float32:
		return a.b.TypeVector(a.float(32), 4)
	default:
		return a.uint(32)
	}
}

func (a *assembler) block(name string, members []Member, dec spirv.Decoration) uint32 {
	ids := make([]uint32, len(members))
	for i, m := range members {
		ids[i] = a.memberType(m.Type)
	}
	s := a.b.TypeStruct(ids...)
	a.b.Name(s, name)
	a.b.Decorate(s, dec)

	var offset uint32
	for i, m := range members {
		size, align := m.Type.layout()
		offset = math.AlignUp(offset, align)
		a.b.MemberName(s, uint32(i), m.Name)
		a.b.MemberDecorate(s, uint32(i), spirv.DecorationOffset, offset)
		offset += size
	}
	return s
}

func (a *assembler) storageBlock(binding Binding, version uint32) (uint32, spirv.StorageClass) {
	bits := binding.ElementBits
	if bits == 0 {
		bits = 32
	}
	elem := a.uint(bits)
	arr := a.b.TypeRuntimeArray(elem)
	a.b.Decorate(arr, spirv.DecorationArrayStride, bits/8)

	s := a.b.TypeStruct(arr)
	a.b.Name(s, binding.Name+"_block")
	a.b.MemberName(s, 0, "data")
	a.b.MemberDecorate(s, 0, spirv.DecorationOffset, 0)

	if version < Version1_3 {
		a.b.Decorate(s, spirv.DecorationBufferBlock)
		return s, spirv.StorageClassUniform
	}
	a.b.Decorate(s, spirv.DecorationBlock)
	return s, spirv.StorageClassStorageBuffer
}
