package metadata

type BufferUsage uint32

const (
	BufferUsageStorage BufferUsage = 1 << iota
	BufferUsageUniform
	BufferUsageTransferSrc
	BufferUsageTransferDst
)

type MemoryClass uint8

const (
	/** @brief Device local, reached from the host through staging copies. */
	MemoryDeviceLocal MemoryClass = iota
	/** @brief Host visible and coherent, can be mapped directly. */
	MemoryHostVisible
)

/**
 * @brief Creation parameters for a device buffer.
 */
type BufferConfig struct {
	/** @brief A debug name, used in logs. */
	Name   string
	Size   uint64
	Usage  BufferUsage
	Memory MemoryClass
}

/**
 * @brief One entry of a binding layout.
 */
type LayoutBinding struct {
	Binding uint32
	Kind    DescriptorKind
	Count   uint32
}

/**
 * @brief Number of descriptors of one kind a pool must hold.
 */
type PoolSize struct {
	Kind  DescriptorKind
	Count uint32
}
