package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/radix/engine/compute"
	"github.com/spaghettifunk/radix/engine/compute/metadata"
	"github.com/spaghettifunk/radix/engine/core"
)

func descriptorType(kind metadata.DescriptorKind) (vk.DescriptorType, error) {
	switch kind {
	case metadata.DescriptorKindUniformBlock:
		return vk.DescriptorTypeUniformBuffer, nil
	case metadata.DescriptorKindStorageBuffer:
		return vk.DescriptorTypeStorageBuffer, nil
	case metadata.DescriptorKindImage:
		return vk.DescriptorTypeStorageImage, nil
	default:
		return 0, fmt.Errorf("%w: unknown descriptor kind %s", core.ErrInvalidConfig, kind)
	}
}

/**
 * @brief A descriptor set layout for one set number. Set numbers
 * without bindings get an empty layout.
 */
type VulkanDescriptorLayout struct {
	context  *VulkanContext
	set      uint32
	bindings map[uint32]metadata.LayoutBinding
	Handle   vk.DescriptorSetLayout
}

func NewDescriptorLayout(context *VulkanContext, set uint32, bindings []metadata.LayoutBinding) (*VulkanDescriptorLayout, error) {
	layout := &VulkanDescriptorLayout{
		context:  context,
		set:      set,
		bindings: make(map[uint32]metadata.LayoutBinding, len(bindings)),
	}
	vkBindings := make([]vk.DescriptorSetLayoutBinding, 0, len(bindings))
	for _, b := range bindings {
		t, err := descriptorType(b.Kind)
		if err != nil {
			return nil, err
		}
		layout.bindings[b.Binding] = b
		vkBindings = append(vkBindings, vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  t,
			DescriptorCount: b.Count,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		})
	}

	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}
	if err := context.Locks.SafeCall(DescriptorManagement, func() error {
		return context.check(vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &createInfo, context.Allocator, &layout.Handle), "vkCreateDescriptorSetLayout")
	}); err != nil {
		core.LogError("set %d layout: %s", set, err)
		return nil, err
	}
	return layout, nil
}

func (l *VulkanDescriptorLayout) Set() uint32 { return l.set }

func (l *VulkanDescriptorLayout) Destroy() {
	if l.Handle == vk.NullDescriptorSetLayout {
		return
	}
	_ = l.context.Locks.SafeCall(DescriptorManagement, func() error {
		vk.DestroyDescriptorSetLayout(l.context.Device.LogicalDevice, l.Handle, l.context.Allocator)
		return nil
	})
	l.Handle = vk.NullDescriptorSetLayout
}

/**
 * @brief A descriptor pool sized for every table of a pass.
 */
type VulkanDescriptorPool struct {
	context *VulkanContext
	Handle  vk.DescriptorPool
}

func NewDescriptorPool(context *VulkanContext, maxTables uint32, sizes []metadata.PoolSize) (*VulkanDescriptorPool, error) {
	poolSizes := make([]vk.DescriptorPoolSize, 0, len(sizes))
	for _, s := range sizes {
		t, err := descriptorType(s.Kind)
		if err != nil {
			return nil, err
		}
		poolSizes = append(poolSizes, vk.DescriptorPoolSize{Type: t, DescriptorCount: s.Count})
	}
	createInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxTables,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	pool := &VulkanDescriptorPool{context: context}
	if err := context.Locks.SafeCall(DescriptorManagement, func() error {
		return context.check(vk.CreateDescriptorPool(context.Device.LogicalDevice, &createInfo, context.Allocator, &pool.Handle), "vkCreateDescriptorPool")
	}); err != nil {
		core.LogError("%s", err)
		return nil, err
	}
	return pool, nil
}

// Allocate returns one table per layout, in order.
func (p *VulkanDescriptorPool) Allocate(layouts []compute.BindingLayout) ([]compute.BindingTable, error) {
	tables := make([]compute.BindingTable, 0, len(layouts))
	for _, l := range layouts {
		layout, ok := l.(*VulkanDescriptorLayout)
		if !ok {
			return nil, fmt.Errorf("%w: foreign binding layout %T", core.ErrInvalidConfig, l)
		}
		allocInfo := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     p.Handle,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{layout.Handle},
		}
		var set vk.DescriptorSet
		var result vk.Result
		_ = p.context.Locks.SafeCall(DescriptorManagement, func() error {
			result = vk.AllocateDescriptorSets(p.context.Device.LogicalDevice, &allocInfo, &set)
			return nil
		})
		switch result {
		case vk.Success:
		case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
			return nil, fmt.Errorf("%w: %s", core.ErrPoolExhausted, VulkanResultString(result, true))
		default:
			return nil, p.context.check(result, "vkAllocateDescriptorSets")
		}
		tables = append(tables, &VulkanDescriptorTable{context: p.context, layout: layout, Handle: set})
	}
	return tables, nil
}

func (p *VulkanDescriptorPool) Destroy() {
	if p.Handle == vk.NullDescriptorPool {
		return
	}
	// Frees every set allocated from the pool.
	_ = p.context.Locks.SafeCall(DescriptorManagement, func() error {
		vk.DestroyDescriptorPool(p.context.Device.LogicalDevice, p.Handle, p.context.Allocator)
		return nil
	})
	p.Handle = vk.NullDescriptorPool
}

/**
 * @brief One descriptor set. Writes must not happen while a submission
 * using it is pending; the pass guarantees that with the slot fence.
 */
type VulkanDescriptorTable struct {
	context *VulkanContext
	layout  *VulkanDescriptorLayout
	Handle  vk.DescriptorSet
}

func (t *VulkanDescriptorTable) WriteBuffer(binding uint32, kind metadata.DescriptorKind, buffer compute.Buffer) error {
	declared, ok := t.layout.bindings[binding]
	if !ok {
		return fmt.Errorf("%w: set %d has no binding %d", core.ErrUnboundBinding, t.layout.set, binding)
	}
	if declared.Kind != kind {
		return fmt.Errorf("%w: set %d binding %d is %s, not %s", core.ErrBindingKindMismatch, t.layout.set, binding, declared.Kind, kind)
	}
	if kind == metadata.DescriptorKindImage {
		return fmt.Errorf("%w: image bindings take no buffer", core.ErrInvalidConfig)
	}
	buf, ok := buffer.(*VulkanBuffer)
	if !ok {
		return fmt.Errorf("%w: foreign buffer %T", core.ErrInvalidConfig, buffer)
	}
	t.write(binding, kind, buf)
	return nil
}

func (t *VulkanDescriptorTable) write(binding uint32, kind metadata.DescriptorKind, buf *VulkanBuffer) {
	dt, _ := descriptorType(kind)
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          t.Handle,
		DstBinding:      binding,
		DstArrayElement: 0,
		DescriptorType:  dt,
		DescriptorCount: 1,
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: buf.Handle,
			Offset: 0,
			Range:  vk.DeviceSize(vk.WholeSize),
		}},
	}
	_ = t.context.Locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(t.context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
		return nil
	})
}
