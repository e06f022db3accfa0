package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/radix/engine/compute/metadata"
	"github.com/spaghettifunk/radix/engine/core"
)

/**
 * @brief A device buffer and the memory bound to it.
 */
type VulkanBuffer struct {
	backend *VulkanBackend
	name    string
	size    uint64
	memory  metadata.MemoryClass

	Handle vk.Buffer
	Memory vk.DeviceMemory

	mapped unsafe.Pointer
}

func bufferUsage(usage metadata.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if usage&metadata.BufferUsageStorage != 0 {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if usage&metadata.BufferUsageUniform != 0 {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if usage&metadata.BufferUsageTransferSrc != 0 {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if usage&metadata.BufferUsageTransferDst != 0 {
		flags |= vk.BufferUsageTransferDstBit
	}
	return vk.BufferUsageFlags(flags)
}

func memoryProperties(class metadata.MemoryClass) vk.MemoryPropertyFlagBits {
	if class == metadata.MemoryHostVisible {
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	return vk.MemoryPropertyDeviceLocalBit
}

func NewBuffer(backend *VulkanBackend, config metadata.BufferConfig) (*VulkanBuffer, error) {
	if config.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %s has zero size", core.ErrInvalidConfig, config.Name)
	}
	context := backend.context
	// Staging copies and Fill need both transfer directions.
	usage := config.Usage | metadata.BufferUsageTransferSrc | metadata.BufferUsageTransferDst

	buf := &VulkanBuffer{
		backend: backend,
		name:    config.Name,
		size:    config.Size,
		memory:  config.Memory,
	}
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(config.Size),
		Usage:       bufferUsage(usage),
		SharingMode: vk.SharingModeExclusive,
	}

	err := context.Locks.SafeCall(BufferManagement, func() error {
		return context.check(vk.CreateBuffer(context.Device.LogicalDevice, &createInfo, context.Allocator, &buf.Handle), "vkCreateBuffer")
	})
	if err != nil {
		core.LogError("buffer %s: %s", config.Name, err)
		return nil, err
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, buf.Handle, &requirements)
	requirements.Deref()

	index := context.FindMemoryIndex(requirements.MemoryTypeBits, uint32(memoryProperties(config.Memory)))
	if index < 0 {
		buf.Destroy()
		return nil, fmt.Errorf("%w: buffer %s: no memory type for class %d", core.ErrDevice, config.Name, config.Memory)
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(index),
	}
	err = context.Locks.SafeCall(MemoryManagement, func() error {
		if err := context.check(vk.AllocateMemory(context.Device.LogicalDevice, &allocInfo, context.Allocator, &buf.Memory), "vkAllocateMemory"); err != nil {
			return err
		}
		return context.check(vk.BindBufferMemory(context.Device.LogicalDevice, buf.Handle, buf.Memory, 0), "vkBindBufferMemory")
	})
	if err != nil {
		core.LogError("buffer %s: %s", config.Name, err)
		buf.Destroy()
		return nil, err
	}
	core.LogDebug("buffer %s created: %d bytes", config.Name, config.Size)
	return buf, nil
}

func (b *VulkanBuffer) Name() string { return b.name }
func (b *VulkanBuffer) Size() uint64 { return b.size }

func (b *VulkanBuffer) checkRange(n int) error {
	if uint64(n) > b.size {
		return fmt.Errorf("%w: %d bytes into %s of %d", core.ErrBufferRange, n, b.name, b.size)
	}
	return nil
}

func (b *VulkanBuffer) Upload(data []byte) error {
	if err := b.checkRange(len(data)); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if b.memory == metadata.MemoryHostVisible {
		mapped, err := b.Map()
		if err != nil {
			return err
		}
		copy(mapped, data)
		b.Unmap()
		return nil
	}

	staging, err := b.staging(uint64(len(data)))
	if err != nil {
		return err
	}
	defer staging.Destroy()
	if err := staging.Upload(data); err != nil {
		return err
	}
	return b.backend.runSingleUse(func(cb *VulkanCommandBuffer) {
		region := vk.BufferCopy{SrcOffset: 0, DstOffset: 0, Size: vk.DeviceSize(len(data))}
		vk.CmdCopyBuffer(cb.Handle, staging.Handle, b.Handle, 1, []vk.BufferCopy{region})
	})
}

func (b *VulkanBuffer) Download(dst []byte) error {
	if err := b.checkRange(len(dst)); err != nil {
		return err
	}
	if len(dst) == 0 {
		return nil
	}
	if b.memory == metadata.MemoryHostVisible {
		mapped, err := b.Map()
		if err != nil {
			return err
		}
		copy(dst, mapped)
		b.Unmap()
		return nil
	}

	staging, err := b.staging(uint64(len(dst)))
	if err != nil {
		return err
	}
	defer staging.Destroy()
	err = b.backend.runSingleUse(func(cb *VulkanCommandBuffer) {
		region := vk.BufferCopy{SrcOffset: 0, DstOffset: 0, Size: vk.DeviceSize(len(dst))}
		vk.CmdCopyBuffer(cb.Handle, b.Handle, staging.Handle, 1, []vk.BufferCopy{region})
	})
	if err != nil {
		return err
	}
	return staging.Download(dst)
}

// Fill sets every 32-bit word of the buffer to value.
func (b *VulkanBuffer) Fill(value uint32) error {
	return b.backend.runSingleUse(func(cb *VulkanCommandBuffer) {
		vk.CmdFillBuffer(cb.Handle, b.Handle, 0, vk.DeviceSize(vk.WholeSize), value)
	})
}

func (b *VulkanBuffer) staging(size uint64) (*VulkanBuffer, error) {
	return NewBuffer(b.backend, metadata.BufferConfig{
		Name:   b.name + ".staging",
		Size:   size,
		Usage:  metadata.BufferUsageTransferSrc | metadata.BufferUsageTransferDst,
		Memory: metadata.MemoryHostVisible,
	})
}

func (b *VulkanBuffer) Map() ([]byte, error) {
	if b.memory != metadata.MemoryHostVisible {
		return nil, fmt.Errorf("%w: %s", core.ErrNotMappable, b.name)
	}
	context := b.backend.context
	if b.mapped == nil {
		var ptr unsafe.Pointer
		err := context.Locks.SafeCall(MemoryManagement, func() error {
			return context.check(vk.MapMemory(context.Device.LogicalDevice, b.Memory, 0, vk.DeviceSize(vk.WholeSize), 0, &ptr), "vkMapMemory")
		})
		if err != nil {
			return nil, err
		}
		b.mapped = ptr
	}
	return unsafe.Slice((*byte)(b.mapped), b.size), nil
}

func (b *VulkanBuffer) Unmap() {
	if b.mapped == nil {
		return
	}
	context := b.backend.context
	_ = context.Locks.SafeCall(MemoryManagement, func() error {
		vk.UnmapMemory(context.Device.LogicalDevice, b.Memory)
		return nil
	})
	b.mapped = nil
}

func (b *VulkanBuffer) Destroy() {
	context := b.backend.context
	b.Unmap()
	if b.Handle != vk.NullBuffer {
		_ = context.Locks.SafeCall(BufferManagement, func() error {
			vk.DestroyBuffer(context.Device.LogicalDevice, b.Handle, context.Allocator)
			return nil
		})
		b.Handle = vk.NullBuffer
	}
	if b.Memory != vk.NullDeviceMemory {
		_ = context.Locks.SafeCall(MemoryManagement, func() error {
			vk.FreeMemory(context.Device.LogicalDevice, b.Memory, context.Allocator)
			return nil
		})
		b.Memory = vk.NullDeviceMemory
	}
}
