package vulkan

import (
	"fmt"
	"runtime"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/radix/engine/core"
)

const portabilitySubsetExtension = "VK_KHR_portability_subset"

// minAPIVersion is the first version that accepts SPIR-V 1.5 modules.
var minAPIVersion = vk.MakeVersion(1, 2, 0)

type VulkanDevice struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device

	ComputeQueueIndex int32
	ComputeQueue      vk.Queue

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	// MaxComputeWorkGroupCount per dimension.
	MaxWorkGroupCount [3]uint32
}

type VulkanPhysicalDeviceRequirements struct {
	Compute              bool
	DeviceExtensionNames []string
	DiscreteGPU          bool
	// ShaderInt64 is needed by the 64-bit key kernels.
	ShaderInt64 bool
}

// DeviceCreate selects a device and creates the logical device with its
// compute queue. shaderInt64 makes 64-bit integer support mandatory.
func DeviceCreate(context *VulkanContext, shaderInt64 bool) error {
	if err := SelectPhysicalDevice(context, shaderInt64); err != nil {
		return err
	}

	core.LogInfo("Creating logical device...")

	var queuePriority float32 = 1.0
	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: uint32(context.Device.ComputeQueueIndex),
		QueueCount:       1,
		PQueuePriorities: []float32{queuePriority},
	}}

	extensionNames := []string{}
	if hasDeviceExtension(context.Device.PhysicalDevice, portabilitySubsetExtension) {
		core.LogInfo("Adding required extension '%s'.", portabilitySubsetExtension)
		extensionNames = append(extensionNames, portabilitySubsetExtension)
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
		PEnabledFeatures:        enabledFeatures(&context.Device.Features),
		// Deprecated and ignored, so pass nothing.
		EnabledLayerCount:   0,
		PpEnabledLayerNames: nil,
	}

	var device vk.Device
	if res := vk.CreateDevice(context.Device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &device); res != vk.Success {
		err := context.check(res, "vkCreateDevice")
		core.LogError("%s", err)
		return err
	}
	context.Device.LogicalDevice = device
	core.LogInfo("Logical device created.")

	var queue vk.Queue
	vk.GetDeviceQueue(device, uint32(context.Device.ComputeQueueIndex), 0, &queue)
	context.Device.ComputeQueue = queue
	context.Locks.SetQueueFamily(uint32(context.Device.ComputeQueueIndex))
	core.LogInfo("Compute queue obtained.")

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(context.Device.ComputeQueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(device, &poolCreateInfo, context.Allocator, &pool); res != vk.Success {
		err := context.check(res, "vkCreateCommandPool")
		core.LogError("%s", err)
		return err
	}
	context.CommandPool = pool
	core.LogInfo("Command pool created.")
	return nil
}

func DeviceDestroy(context *VulkanContext) {
	if context.Device == nil {
		return
	}
	context.Device.ComputeQueue = nil

	if context.CommandPool != vk.CommandPool(vk.NullHandle) {
		core.LogInfo("Destroying command pools...")
		vk.DestroyCommandPool(context.Device.LogicalDevice, context.CommandPool, context.Allocator)
		context.CommandPool = vk.CommandPool(vk.NullHandle)
	}

	if context.Device.LogicalDevice != nil {
		core.LogInfo("Destroying logical device...")
		vk.DestroyDevice(context.Device.LogicalDevice, context.Allocator)
		context.Device.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	context.Device.PhysicalDevice = nil
	context.Device.ComputeQueueIndex = -1
}

func SelectPhysicalDevice(context *VulkanContext, shaderInt64 bool) error {
	var physicalDeviceCount uint32
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil); res != vk.Success {
		return context.check(res, "vkEnumeratePhysicalDevices")
	}
	if physicalDeviceCount == 0 {
		return fmt.Errorf("%w: no devices which support Vulkan were found", core.ErrDevice)
	}

	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices); res != vk.Success {
		return context.check(res, "vkEnumeratePhysicalDevices")
	}

	requirements := VulkanPhysicalDeviceRequirements{
		Compute:     true,
		DiscreteGPU: true,
		ShaderInt64: shaderInt64,
	}
	if runtime.GOOS == "darwin" {
		requirements.DiscreteGPU = false
	}

	// Prefer a discrete GPU, then take anything with a compute queue.
	for _, discrete := range []bool{requirements.DiscreteGPU, false} {
		req := requirements
		req.DiscreteGPU = discrete
		for _, physical := range physicalDevices {
			properties := vk.PhysicalDeviceProperties{}
			vk.GetPhysicalDeviceProperties(physical, &properties)
			properties.Deref()
			properties.Limits.Deref()

			features := vk.PhysicalDeviceFeatures{}
			vk.GetPhysicalDeviceFeatures(physical, &features)
			features.Deref()

			memory := vk.PhysicalDeviceMemoryProperties{}
			vk.GetPhysicalDeviceMemoryProperties(physical, &memory)
			memory.Deref()

			if reason, ok := featuresMeetRequirements(&properties, &features, &req); !ok {
				core.LogInfo("Device '%s' %s, skipping.", cString(properties.DeviceName[:]), reason)
				continue
			}
			queueIndex, ok := PhysicalDeviceMeetsRequirements(physical, &properties, &req)
			if !ok {
				continue
			}
			context.Device.PhysicalDevice = physical
			context.Device.ComputeQueueIndex = int32(queueIndex)
			context.Device.Properties = properties
			context.Device.Features = features
			context.Device.Memory = memory
			context.Device.MaxWorkGroupCount = properties.Limits.MaxComputeWorkGroupCount
			logDevice(&properties, &memory)
			return nil
		}
	}
	return fmt.Errorf("%w: no physical device has a compute queue, Vulkan 1.2 and the required features", core.ErrDevice)
}

// featuresMeetRequirements checks the API version and the optional
// features. The string names what is missing.
func featuresMeetRequirements(properties *vk.PhysicalDeviceProperties, features *vk.PhysicalDeviceFeatures, requirements *VulkanPhysicalDeviceRequirements) (string, bool) {
	if properties.ApiVersion < minAPIVersion {
		return fmt.Sprintf("supports Vulkan %d.%d only",
			vk.Version.Major(vk.Version(properties.ApiVersion)),
			vk.Version.Minor(vk.Version(properties.ApiVersion))), false
	}
	if requirements.ShaderInt64 && features.ShaderInt64 != vk.True {
		return "has no shaderInt64", false
	}
	return "", true
}

// enabledFeatures turns on the queried features the kernels use.
func enabledFeatures(supported *vk.PhysicalDeviceFeatures) []vk.PhysicalDeviceFeatures {
	enabled := vk.PhysicalDeviceFeatures{}
	if supported.ShaderInt64 == vk.True {
		enabled.ShaderInt64 = vk.True
	}
	return []vk.PhysicalDeviceFeatures{enabled}
}

func logDevice(properties *vk.PhysicalDeviceProperties, memory *vk.PhysicalDeviceMemoryProperties) {
	core.LogInfo("Selected device: '%s'.", cString(properties.DeviceName[:]))
	switch properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}

	core.LogInfo(
		"GPU Driver version: %d.%d.%d",
		vk.Version.Major(vk.Version(properties.DriverVersion)),
		vk.Version.Minor(vk.Version(properties.DriverVersion)),
		vk.Version.Patch(vk.Version(properties.DriverVersion)),
	)
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version.Major(vk.Version(properties.ApiVersion)),
		vk.Version.Minor(vk.Version(properties.ApiVersion)),
		vk.Version.Patch(vk.Version(properties.ApiVersion)),
	)

	for j := uint32(0); j < memory.MemoryHeapCount; j++ {
		memory.MemoryHeaps[j].Deref()
		memorySizeGib := float64(memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", memorySizeGib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", memorySizeGib)
		}
	}
}

// PhysicalDeviceMeetsRequirements returns the compute queue family to use.
// A family without graphics support is preferred, since it is more likely
// to be a dedicated compute queue.
func PhysicalDeviceMeetsRequirements(device vk.PhysicalDevice, properties *vk.PhysicalDeviceProperties, requirements *VulkanPhysicalDeviceRequirements) (uint32, bool) {
	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogDebug("Device is not a discrete GPU, and one is required. Skipping.")
		return 0, false
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	computeIndex := int32(-1)
	bestScore := 255
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		flags := queueFamilies[i].QueueFlags
		if flags&vk.QueueFlags(vk.QueueComputeBit) == 0 {
			continue
		}
		score := 0
		if flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			score++
		}
		if score < bestScore {
			bestScore = score
			computeIndex = int32(i)
		}
	}
	if requirements.Compute && computeIndex < 0 {
		core.LogDebug("Device '%s' has no compute queue, skipping.", cString(properties.DeviceName[:]))
		return 0, false
	}
	core.LogDebug("Compute Family Index: %d", computeIndex)

	for _, name := range requirements.DeviceExtensionNames {
		if !hasDeviceExtension(device, name) {
			core.LogInfo("Required extension not found: '%s', skipping device.", name)
			return 0, false
		}
	}
	return uint32(computeIndex), true
}

func hasDeviceExtension(device vk.PhysicalDevice, name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success || count == 0 {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}
