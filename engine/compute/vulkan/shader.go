package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/radix/engine/core"
)

/**
 * @brief A compiled compute kernel loaded into the device.
 */
type VulkanShaderModule struct {
	context *VulkanContext
	name    string
	/** @brief The internal shader module handle. */
	Handle vk.ShaderModule
}

func NewShaderModule(context *VulkanContext, name string, code []uint32) (*VulkanShaderModule, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: shader module %s has no code", core.ErrInvalidConfig, name)
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType: vk.StructureTypeShaderModuleCreateInfo,
		// Size in bytes.
		CodeSize: uint64(len(code) * 4),
		PCode:    code,
	}

	var handle vk.ShaderModule
	if err := context.Locks.SafeCall(ShaderManagement, func() error {
		return context.check(vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle), "vkCreateShaderModule")
	}); err != nil {
		core.LogError("shader module %s: %s", name, err)
		return nil, err
	}
	return &VulkanShaderModule{context: context, name: name, Handle: handle}, nil
}

func (m *VulkanShaderModule) Name() string { return m.name }

func (m *VulkanShaderModule) Destroy() {
	if m.Handle == vk.NullShaderModule {
		return
	}
	_ = m.context.Locks.SafeCall(ShaderManagement, func() error {
		vk.DestroyShaderModule(m.context.Device.LogicalDevice, m.Handle, m.context.Allocator)
		return nil
	})
	m.Handle = vk.NullShaderModule
}
