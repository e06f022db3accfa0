package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/radix/engine/compute"
	"github.com/spaghettifunk/radix/engine/core"
)

/**
 * @brief Holds a Vulkan compute pipeline and its layout.
 */
type VulkanPipeline struct {
	context *VulkanContext
	name    string
	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The pipeline layout. */
	PipelineLayout vk.PipelineLayout
}

/**
 * @brief Creates a compute pipeline from a shader module, one descriptor
 * set layout per set number and an optional push constant range.
 */
func NewComputePipeline(context *VulkanContext, config compute.PipelineConfig) (*VulkanPipeline, error) {
	module, ok := config.Module.(*VulkanShaderModule)
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %s: foreign shader module %T", core.ErrInvalidConfig, config.Name, config.Module)
	}
	setLayouts := make([]vk.DescriptorSetLayout, len(config.Layouts))
	for i, l := range config.Layouts {
		layout, ok := l.(*VulkanDescriptorLayout)
		if !ok {
			return nil, fmt.Errorf("%w: pipeline %s: foreign binding layout %T", core.ErrInvalidConfig, config.Name, l)
		}
		setLayouts[i] = layout.Handle
	}

	outPipeline := &VulkanPipeline{context: context, name: config.Name}

	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}
	// Push constants
	if config.PushConstantSize > 0 {
		// NOTE: only 128 bytes are guaranteed.
		if limit := context.Device.Properties.Limits.MaxPushConstantsSize; config.PushConstantSize > limit {
			return nil, fmt.Errorf("%w: pipeline %s: %d bytes of push constants, device allows %d",
				core.ErrInvalidConfig, config.Name, config.PushConstantSize, limit)
		}
		pipelineLayoutCreateInfo.PushConstantRangeCount = 1
		pipelineLayoutCreateInfo.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit),
			Offset:     0,
			Size:       config.PushConstantSize,
		}}
	}

	if err := context.Locks.SafeCall(PipelineManagement, func() error {
		var pPipelineLayout vk.PipelineLayout
		result := vk.CreatePipelineLayout(context.Device.LogicalDevice, &pipelineLayoutCreateInfo, context.Allocator, &pPipelineLayout)
		if err := context.check(result, "vkCreatePipelineLayout"); err != nil {
			return err
		}
		outPipeline.PipelineLayout = pPipelineLayout
		return nil
	}); err != nil {
		return nil, err
	}

	pipelineCreateInfo := vk.ComputePipelineCreateInfo{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: module.Handle,
			PName:  VulkanSafeString(config.EntryPoint),
		},
		Layout:             outPipeline.PipelineLayout,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}

	pPipelines := make([]vk.Pipeline, 1)
	if err := context.Locks.SafeCall(PipelineManagement, func() error {
		result := vk.CreateComputePipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.ComputePipelineCreateInfo{pipelineCreateInfo},
			context.Allocator,
			pPipelines)
		return context.check(result, "vkCreateComputePipelines")
	}); err != nil {
		outPipeline.Destroy()
		return nil, err
	}
	outPipeline.Handle = pPipelines[0]

	core.LogDebug("Compute pipeline %s created.", config.Name)
	return outPipeline, nil
}

func (pipeline *VulkanPipeline) Name() string { return pipeline.name }

func (pipeline *VulkanPipeline) Destroy() {
	context := pipeline.context
	if pipeline.Handle != vk.NullPipeline {
		_ = context.Locks.SafeCall(PipelineManagement, func() error {
			vk.DestroyPipeline(context.Device.LogicalDevice, pipeline.Handle, context.Allocator)
			return nil
		})
		pipeline.Handle = vk.NullPipeline
	}
	if pipeline.PipelineLayout != vk.NullPipelineLayout {
		_ = context.Locks.SafeCall(PipelineManagement, func() error {
			vk.DestroyPipelineLayout(context.Device.LogicalDevice, pipeline.PipelineLayout, context.Allocator)
			return nil
		})
		pipeline.PipelineLayout = vk.NullPipelineLayout
	}
}
