package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/radix/engine/core"
)

// VulkanSemaphore is a binary semaphore ordering one submission after
// another on the queue.
type VulkanSemaphore struct {
	context *VulkanContext
	Handle  vk.Semaphore
}

func NewSemaphore(context *VulkanContext) (*VulkanSemaphore, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var handle vk.Semaphore
	err := context.Locks.SafeCall(SynchronizationManagement, func() error {
		return context.check(vk.CreateSemaphore(context.Device.LogicalDevice, &semaphoreCreateInfo, context.Allocator, &handle), "vkCreateSemaphore")
	})
	if err != nil {
		core.LogError("%s", err)
		return nil, err
	}
	return &VulkanSemaphore{context: context, Handle: handle}, nil
}

func (s *VulkanSemaphore) Destroy() {
	if s.Handle == vk.NullSemaphore {
		return
	}
	_ = s.context.Locks.SafeCall(SynchronizationManagement, func() error {
		vk.DestroySemaphore(s.context.Device.LogicalDevice, s.Handle, s.context.Allocator)
		return nil
	})
	s.Handle = vk.NullSemaphore
}
