package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/radix/engine/compute"
	"github.com/spaghettifunk/radix/engine/core"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandBuffer struct {
	context *VulkanContext
	pool    vk.CommandPool
	Handle  vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState

	// recordErr keeps the first invalid record call until End.
	recordErr error
}

func NewVulkanCommandBuffer(context *VulkanContext, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	vCommandBuffer := &VulkanCommandBuffer{
		context: context,
		pool:    pool,
		State:   COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}

	handles := make([]vk.CommandBuffer, 1)
	err := context.Locks.SafeCall(CommandPoolManagement, func() error {
		return context.check(vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles), "vkAllocateCommandBuffers")
	})
	if err != nil {
		core.LogError("%s", err)
		return nil, err
	}
	vCommandBuffer.Handle = handles[0]
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY

	return vCommandBuffer, nil
}

func (v *VulkanCommandBuffer) Destroy() {
	if v.State == COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		return
	}
	_ = v.context.Locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(v.context.Device.LogicalDevice, v.pool, 1, []vk.CommandBuffer{v.Handle})
		return nil
	})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin() error {
	return v.begin(false)
}

func (v *VulkanCommandBuffer) begin(isSingleUse bool) error {
	if v.State != COMMAND_BUFFER_STATE_READY {
		return fmt.Errorf("%w: command buffer begin in state %d", core.ErrDevice, v.State)
	}
	vBeginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: 0,
	}
	if isSingleUse {
		vBeginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}

	if err := v.context.check(vk.BeginCommandBuffer(v.Handle, vBeginInfo), "vkBeginCommandBuffer"); err != nil {
		core.LogError("%s", err)
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	v.recordErr = nil
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if v.State != COMMAND_BUFFER_STATE_RECORDING {
		return fmt.Errorf("%w: command buffer end in state %d", core.ErrDevice, v.State)
	}
	if err := v.context.check(vk.EndCommandBuffer(v.Handle), "vkEndCommandBuffer"); err != nil {
		core.LogError("%s", err)
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return v.recordErr
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

// Reset returns a submitted buffer to the ready state. The caller must
// have waited on the fence of its last submission.
func (v *VulkanCommandBuffer) Reset() error {
	if v.State == COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		return fmt.Errorf("%w: command buffer not allocated", core.ErrDevice)
	}
	if err := v.context.check(vk.ResetCommandBuffer(v.Handle, 0), "vkResetCommandBuffer"); err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_READY
	return nil
}

func (v *VulkanCommandBuffer) fail(err error) {
	if v.recordErr == nil {
		v.recordErr = err
	}
}

func (v *VulkanCommandBuffer) BindPipeline(pipeline compute.Pipeline) {
	p, ok := pipeline.(*VulkanPipeline)
	if !ok {
		v.fail(fmt.Errorf("%w: foreign pipeline %T", core.ErrInvalidConfig, pipeline))
		return
	}
	vk.CmdBindPipeline(v.Handle, vk.PipelineBindPointCompute, p.Handle)
}

func (v *VulkanCommandBuffer) BindTable(pipeline compute.Pipeline, set uint32, table compute.BindingTable) {
	p, ok := pipeline.(*VulkanPipeline)
	if !ok {
		v.fail(fmt.Errorf("%w: foreign pipeline %T", core.ErrInvalidConfig, pipeline))
		return
	}
	t, ok := table.(*VulkanDescriptorTable)
	if !ok {
		v.fail(fmt.Errorf("%w: foreign binding table %T", core.ErrInvalidConfig, table))
		return
	}
	vk.CmdBindDescriptorSets(v.Handle, vk.PipelineBindPointCompute, p.PipelineLayout, set, 1, []vk.DescriptorSet{t.Handle}, 0, nil)
}

func (v *VulkanCommandBuffer) PushConstants(pipeline compute.Pipeline, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	p, ok := pipeline.(*VulkanPipeline)
	if !ok {
		v.fail(fmt.Errorf("%w: foreign pipeline %T", core.ErrInvalidConfig, pipeline))
		return
	}
	vk.CmdPushConstants(v.Handle, p.PipelineLayout, vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (v *VulkanCommandBuffer) Dispatch(x, y, z uint32) {
	limit := v.context.Device.MaxWorkGroupCount
	if x > limit[0] || y > limit[1] || z > limit[2] {
		v.fail(fmt.Errorf("%w: dispatch (%d, %d, %d) exceeds device limit %v", core.ErrInvalidConfig, x, y, z, limit))
		return
	}
	vk.CmdDispatch(v.Handle, x, y, z)
}

// ComputeBarrier makes every shader write before it visible to shader
// reads and writes after it.
func (v *VulkanCommandBuffer) ComputeBarrier() {
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
	}
	stage := vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
	vk.CmdPipelineBarrier(v.Handle, stage, stage, 0, 1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
}

// AllocateAndBeginSingleUse allocates and begins recording a one-shot
// command buffer.
func AllocateAndBeginSingleUse(context *VulkanContext, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	cb, err := NewVulkanCommandBuffer(context, pool)
	if err != nil {
		return nil, err
	}
	if err := cb.begin(true); err != nil {
		cb.Destroy()
		return nil, err
	}
	return cb, nil
}

// EndSingleUse ends recording, submits to and waits for the queue, and
// frees the command buffer.
func (v *VulkanCommandBuffer) EndSingleUse(queueFamily uint32, queue vk.Queue) error {
	defer v.Destroy()
	if err := v.End(); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{v.Handle},
	}

	return v.context.Locks.SafeQueueCall(queueFamily, func() error {
		if err := v.context.check(vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence), "vkQueueSubmit"); err != nil {
			core.LogError("%s", err)
			return err
		}
		// Wait for it to finish
		if err := v.context.check(vk.QueueWaitIdle(queue), "vkQueueWaitIdle"); err != nil {
			core.LogError("%s", err)
			return err
		}
		return nil
	})
}
