package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/radix/engine/core"
)

type VulkanFence struct {
	context    *VulkanContext
	Handle     vk.Fence
	IsSignaled bool
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{
		context: context,
		// Make sure to signal the fence if required.
		IsSignaled: createSignaled,
	}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	err := context.Locks.SafeCall(SynchronizationManagement, func() error {
		return context.check(vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &pFence), "vkCreateFence")
	})
	if err != nil {
		core.LogError("%s", err)
		return nil, err
	}
	fence.Handle = pFence
	return fence, nil
}

func (vf *VulkanFence) Destroy() {
	if vf.Handle != vk.NullFence {
		_ = vf.context.Locks.SafeCall(SynchronizationManagement, func() error {
			vk.DestroyFence(vf.context.Device.LogicalDevice, vf.Handle, vf.context.Allocator)
			return nil
		})
		vf.Handle = vk.NullFence
	}
	vf.IsSignaled = false
}

// Wait returns nil once the fence is signaled, core.ErrTimeout when
// timeoutNs elapses first.
func (vf *VulkanFence) Wait(timeoutNs uint64) error {
	if err := vf.context.lostErr(); err != nil {
		return err
	}
	if vf.IsSignaled {
		// If already signaled, do not wait.
		return nil
	}
	result := vk.WaitForFences(vf.context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, timeoutNs)
	switch result {
	case vk.Success:
		vf.IsSignaled = true
		return nil
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
		return fmt.Errorf("%w: fence after %d ns", core.ErrTimeout, timeoutNs)
	default:
		err := vf.context.check(result, "vkWaitForFences")
		core.LogError("%s", err)
		return err
	}
}

func (vf *VulkanFence) Reset() error {
	if !vf.IsSignaled {
		return nil
	}
	err := vf.context.Locks.SafeCall(SynchronizationManagement, func() error {
		return vf.context.check(vk.ResetFences(vf.context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}), "vkResetFences")
	})
	if err != nil {
		core.LogError("%s", err)
		return err
	}
	vf.IsSignaled = false
	return nil
}
