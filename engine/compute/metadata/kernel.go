package metadata

import "fmt"

type DescriptorKind uint8

const (
	/** @brief A uniform block, read-only and small. */
	DescriptorKindUniformBlock DescriptorKind = iota
	/** @brief A read-write storage buffer. */
	DescriptorKindStorageBuffer
	/** @brief A storage or sampled image. */
	DescriptorKindImage
)

func (k DescriptorKind) String() string {
	switch k {
	case DescriptorKindUniformBlock:
		return "uniform-block"
	case DescriptorKindStorageBuffer:
		return "storage-buffer"
	case DescriptorKindImage:
		return "image"
	default:
		return fmt.Sprintf("descriptor-kind(%d)", uint8(k))
	}
}

/**
 * @brief A single resource slot declared by a kernel.
 */
type DescriptorBinding struct {
	/** @brief The descriptor set index. */
	Set uint32
	/** @brief The binding index within the set. */
	Binding uint32
	/** @brief The kind of resource bound here. */
	Kind DescriptorKind
	/** @brief Number of array elements, 1 for non-arrays. */
	Count uint32
	/** @brief The variable name, when debug names are present. */
	Name string
}

/**
 * @brief One member of a uniform or push-constant block.
 */
type BlockField struct {
	Name string
	/** @brief Byte offset as declared by the kernel. */
	Offset uint32
	/** @brief Byte size of the value itself. */
	Size uint32
	/** @brief Size plus trailing padding up to the next member or the block end. */
	PaddedSize uint32
}

/**
 * @brief Member layout of a block. Total size runs to the end of the last padded member.
 */
type BlockLayout struct {
	Set     uint32
	Binding uint32
	/** @brief The block type name. */
	Name   string
	Fields []BlockField
}

// Size is the end of the last padded field. When the first field sits at
// offset 0 it equals the sum of the padded field sizes.
func (l *BlockLayout) Size() uint32 {
	if len(l.Fields) == 0 {
		return 0
	}
	last := l.Fields[len(l.Fields)-1]
	return last.Offset + last.PaddedSize
}

// Field finds a member by name.
func (l *BlockLayout) Field(name string) (BlockField, int, bool) {
	for i, f := range l.Fields {
		if f.Name == name {
			return f, i, true
		}
	}
	return BlockField{}, -1, false
}

/**
 * @brief Everything reflected from one compiled compute kernel.
 */
type KernelReflection struct {
	/** @brief The compute entry point name. */
	EntryPoint string
	/** @brief Declared work-group size. Valid only when HasLocalSize is set. */
	LocalSize    [3]uint32
	HasLocalSize bool
	/** @brief Descriptor bindings, ordered by (set, binding). */
	Bindings []DescriptorBinding
	/** @brief Layouts of every uniform-block binding. */
	UniformBlocks []BlockLayout
	/** @brief The push-constant block, nil when the kernel declares none. */
	PushConstants *BlockLayout
}

// UniformBlock returns the layout for a uniform binding.
func (r *KernelReflection) UniformBlock(set, binding uint32) (*BlockLayout, bool) {
	for i := range r.UniformBlocks {
		if r.UniformBlocks[i].Set == set && r.UniformBlocks[i].Binding == binding {
			return &r.UniformBlocks[i], true
		}
	}
	return nil, false
}
