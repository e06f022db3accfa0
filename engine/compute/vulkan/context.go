package vulkan

import (
	"sync/atomic"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/radix/engine/core"
)

type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks

	// only set when validation is on
	debugMessenger vk.DebugReportCallback

	Device *VulkanDevice

	// Pool for pass command lists and one-shot transfers.
	CommandPool vk.CommandPool

	Locks *VulkanLockPool

	// lost latches the first VK_ERROR_DEVICE_LOST seen on any call.
	lost atomic.Bool
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(vc.Device.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

// check turns a failed result into an error wrapping core.ErrDevice, or
// core.ErrDeviceLost once the device is gone.
func (vc *VulkanContext) check(result vk.Result, what string) error {
	if VulkanResultIsSuccess(result) {
		return nil
	}
	if result == vk.ErrorDeviceLost {
		vc.lost.Store(true)
		return newResultError(core.ErrDeviceLost, what, result)
	}
	return newResultError(core.ErrDevice, what, result)
}

func (vc *VulkanContext) lostErr() error {
	if vc.lost.Load() {
		return core.ErrDeviceLost
	}
	return nil
}
