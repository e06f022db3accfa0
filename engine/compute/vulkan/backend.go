// Package vulkan is the headless compute backend on top of goki/vulkan.
package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/radix/engine/compute"
	"github.com/spaghettifunk/radix/engine/compute/metadata"
	"github.com/spaghettifunk/radix/engine/core"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

var _ compute.ComputeBackend = (*VulkanBackend)(nil)

type VulkanBackend struct {
	context *VulkanContext
	appName string

	frames uint32
	active uint32

	// validation enables the Khronos layer and the debug report callback.
	validation bool
	// shaderInt64 rejects devices that cannot run the 64-bit key kernels.
	shaderInt64 bool
	initialized bool
}

func New(appName string, frames uint32, validation, shaderInt64 bool) *VulkanBackend {
	return &VulkanBackend{
		appName: appName,
		frames:  frames,
		context: &VulkanContext{
			Allocator: nil,
			Device:    &VulkanDevice{ComputeQueueIndex: -1},
			Locks:     NewVulkanLockPool(),
		},
		validation:  validation,
		shaderInt64: shaderInt64,
	}
}

func (vb *VulkanBackend) Name() string { return "vulkan" }

func (vb *VulkanBackend) Initialize() error {
	if vb.frames == 0 {
		return fmt.Errorf("%w: zero frames in flight", core.ErrInvalidConfig)
	}
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return fmt.Errorf("%w: failed to set Vulkan loader: %v", core.ErrDevice, err)
	}
	if err := vk.Init(); err != nil {
		return fmt.Errorf("%w: failed to initialize vk: %v", core.ErrDevice, err)
	}

	if err := vb.createInstance(); err != nil {
		return err
	}

	if vb.validation {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(vb.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogWarn("vk.CreateDebugReportCallback failed with %s", err)
		} else {
			vb.context.debugMessenger = dbg
			core.LogDebug("Vulkan debugger created.")
		}
	}

	if err := DeviceCreate(vb.context, vb.shaderInt64); err != nil {
		core.LogError("Failed to create device!")
		DeviceDestroy(vb.context)
		vb.destroyInstance()
		return err
	}
	vb.initialized = true
	core.LogInfo("Vulkan compute backend initialized: %d frames in flight.", vb.frames)
	return nil
}

func (vb *VulkanBackend) createInstance() error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(minAPIVersion),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(vb.appName),
		PEngineName:        VulkanSafeString("Radix Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := []string{}
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	layers := []string{}
	if vb.validation {
		if hasInstanceLayer(validationLayer) {
			core.LogInfo("Validation layers enabled.")
			layers = append(layers, validationLayer)
			requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
		} else {
			core.LogWarn("Validation layer %s is missing, continuing without it.", validationLayer)
			vb.validation = false
		}
	}
	for _, e := range requiredExtensions {
		core.LogDebug("Required extension: %s", e)
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, vb.context.Allocator, &instance); res != vk.Success {
		err := fmt.Errorf("%w: failed in creating the Vulkan Instance with error `%s`", core.ErrDevice, VulkanResultString(res, true))
		core.LogError("%s", err)
		return err
	}
	vb.context.Instance = instance
	if err := vk.InitInstance(instance); err != nil {
		core.LogError("%s", err)
		vb.destroyInstance()
		return fmt.Errorf("%w: %v", core.ErrDevice, err)
	}
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func hasInstanceLayer(name string) bool {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return false
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

func (vb *VulkanBackend) destroyInstance() {
	if vb.context.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(vb.context.Instance, vb.context.debugMessenger, vb.context.Allocator)
		vb.context.debugMessenger = vk.NullDebugReportCallback
	}
	if vb.context.Instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(vb.context.Instance, vb.context.Allocator)
		vb.context.Instance = nil
	}
}

func (vb *VulkanBackend) Shutdown() error {
	if !vb.initialized {
		return nil
	}
	vb.initialized = false
	var err error
	if vb.context.Device.LogicalDevice != nil {
		err = vb.context.check(vk.DeviceWaitIdle(vb.context.Device.LogicalDevice), "vkDeviceWaitIdle")
	}
	DeviceDestroy(vb.context)
	vb.destroyInstance()
	core.LogInfo("Vulkan compute backend shut down.")
	return err
}

func (vb *VulkanBackend) usable() error {
	if !vb.initialized {
		return core.ErrBackendClosed
	}
	return vb.context.lostErr()
}

func (vb *VulkanBackend) FramesInFlight() uint32 { return vb.frames }
func (vb *VulkanBackend) ActiveFrame() uint32    { return vb.active }
func (vb *VulkanBackend) AdvanceFrame()          { vb.active = (vb.active + 1) % vb.frames }

func (vb *VulkanBackend) BufferCreate(config metadata.BufferConfig) (compute.Buffer, error) {
	if err := vb.usable(); err != nil {
		return nil, err
	}
	obj, err := NewBuffer(vb, config)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (vb *VulkanBackend) ShaderModuleCreate(name string, code []uint32) (compute.ShaderModule, error) {
	if err := vb.usable(); err != nil {
		return nil, err
	}
	obj, err := NewShaderModule(vb.context, name, code)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (vb *VulkanBackend) BindingLayoutCreate(set uint32, bindings []metadata.LayoutBinding) (compute.BindingLayout, error) {
	if err := vb.usable(); err != nil {
		return nil, err
	}
	obj, err := NewDescriptorLayout(vb.context, set, bindings)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (vb *VulkanBackend) BindingPoolCreate(maxTables uint32, sizes []metadata.PoolSize) (compute.BindingPool, error) {
	if err := vb.usable(); err != nil {
		return nil, err
	}
	obj, err := NewDescriptorPool(vb.context, maxTables, sizes)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (vb *VulkanBackend) PipelineCreate(config compute.PipelineConfig) (compute.Pipeline, error) {
	if err := vb.usable(); err != nil {
		return nil, err
	}
	obj, err := NewComputePipeline(vb.context, config)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (vb *VulkanBackend) FenceCreate(signaled bool) (compute.Fence, error) {
	if err := vb.usable(); err != nil {
		return nil, err
	}
	obj, err := NewFence(vb.context, signaled)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (vb *VulkanBackend) SemaphoreCreate() (compute.Semaphore, error) {
	if err := vb.usable(); err != nil {
		return nil, err
	}
	obj, err := NewSemaphore(vb.context)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (vb *VulkanBackend) CommandListCreate() (compute.CommandList, error) {
	if err := vb.usable(); err != nil {
		return nil, err
	}
	obj, err := NewVulkanCommandBuffer(vb.context, vb.context.CommandPool)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// Submit queues one recorded command buffer. The wait semaphores block
// the compute stage only.
func (vb *VulkanBackend) Submit(info compute.SubmitInfo) error {
	if err := vb.usable(); err != nil {
		return err
	}
	cb, ok := info.Commands.(*VulkanCommandBuffer)
	if !ok {
		return fmt.Errorf("%w: foreign command list %T", core.ErrInvalidConfig, info.Commands)
	}
	if cb.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
		return fmt.Errorf("%w: submit of command buffer in state %d", core.ErrDevice, cb.State)
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
	}
	for _, w := range info.Waits {
		wait, ok := w.(*VulkanSemaphore)
		if !ok {
			return fmt.Errorf("%w: foreign semaphore %T", core.ErrInvalidConfig, w)
		}
		submitInfo.PWaitSemaphores = append(submitInfo.PWaitSemaphores, wait.Handle)
		submitInfo.PWaitDstStageMask = append(submitInfo.PWaitDstStageMask, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit))
	}
	submitInfo.WaitSemaphoreCount = uint32(len(submitInfo.PWaitSemaphores))
	if info.Signal != nil {
		signal, ok := info.Signal.(*VulkanSemaphore)
		if !ok {
			return fmt.Errorf("%w: foreign semaphore %T", core.ErrInvalidConfig, info.Signal)
		}
		submitInfo.SignalSemaphoreCount = 1
		submitInfo.PSignalSemaphores = []vk.Semaphore{signal.Handle}
	}
	fence := vk.NullFence
	var vf *VulkanFence
	if info.Fence != nil {
		if vf, ok = info.Fence.(*VulkanFence); !ok {
			return fmt.Errorf("%w: foreign fence %T", core.ErrInvalidConfig, info.Fence)
		}
		fence = vf.Handle
	}

	family := uint32(vb.context.Device.ComputeQueueIndex)
	if err := vb.context.Locks.SafeQueueCall(family, func() error {
		return vb.context.check(vk.QueueSubmit(vb.context.Device.ComputeQueue, 1, []vk.SubmitInfo{submitInfo}, fence), "vkQueueSubmit")
	}); err != nil {
		core.LogError("%s", err)
		return err
	}
	cb.UpdateSubmitted()
	if vf != nil {
		vf.IsSignaled = false
	}
	return nil
}

func (vb *VulkanBackend) WaitIdle() error {
	if err := vb.usable(); err != nil {
		return err
	}
	family := uint32(vb.context.Device.ComputeQueueIndex)
	return vb.context.Locks.SafeQueueCall(family, func() error {
		return vb.context.check(vk.QueueWaitIdle(vb.context.Device.ComputeQueue), "vkQueueWaitIdle")
	})
}

// runSingleUse records the commands into a one-shot command buffer, runs
// it and waits for the queue to drain.
func (vb *VulkanBackend) runSingleUse(record func(cb *VulkanCommandBuffer)) error {
	if err := vb.usable(); err != nil {
		return err
	}
	cb, err := AllocateAndBeginSingleUse(vb.context, vb.context.CommandPool)
	if err != nil {
		return err
	}
	record(cb)
	return cb.EndSingleUse(uint32(vb.context.Device.ComputeQueueIndex), vb.context.Device.ComputeQueue)
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
