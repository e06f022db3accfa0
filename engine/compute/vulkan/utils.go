package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

type resultInfo struct {
	name     string
	extended string
}

// From: https://www.khronos.org/registry/vulkan/specs/1.3-extensions/man/html/VkResult.html
var resultStrings = map[vk.Result]resultInfo{
	// Success codes
	vk.Success:    {"VK_SUCCESS", "Command successfully completed"},
	vk.NotReady:   {"VK_NOT_READY", "A fence or query has not yet completed"},
	vk.Timeout:    {"VK_TIMEOUT", "A wait operation has not completed in the specified time"},
	vk.EventSet:   {"VK_EVENT_SET", "An event is signaled"},
	vk.EventReset: {"VK_EVENT_RESET", "An event is unsignaled"},
	vk.Incomplete: {"VK_INCOMPLETE", "A return array was too small for the result"},
	vk.PipelineCompileRequired: {"VK_PIPELINE_COMPILE_REQUIRED_EXT",
		"A requested pipeline creation would have required compilation, but the application requested compilation to not be performed."},

	// Error codes
	vk.ErrorOutOfHostMemory:   {"VK_ERROR_OUT_OF_HOST_MEMORY", "A host memory allocation has failed."},
	vk.ErrorOutOfDeviceMemory: {"VK_ERROR_OUT_OF_DEVICE_MEMORY", "A device memory allocation has failed."},
	vk.ErrorInitializationFailed: {"VK_ERROR_INITIALIZATION_FAILED",
		"Initialization of an object could not be completed for implementation-specific reasons."},
	vk.ErrorDeviceLost:          {"VK_ERROR_DEVICE_LOST", "The logical or physical device has been lost."},
	vk.ErrorMemoryMapFailed:     {"VK_ERROR_MEMORY_MAP_FAILED", "Mapping of a memory object has failed."},
	vk.ErrorLayerNotPresent:     {"VK_ERROR_LAYER_NOT_PRESENT", "A requested layer is not present or could not be loaded."},
	vk.ErrorExtensionNotPresent: {"VK_ERROR_EXTENSION_NOT_PRESENT", "A requested extension is not supported."},
	vk.ErrorFeatureNotPresent:   {"VK_ERROR_FEATURE_NOT_PRESENT", "A requested feature is not supported."},
	vk.ErrorIncompatibleDriver: {"VK_ERROR_INCOMPATIBLE_DRIVER",
		"The requested version of Vulkan is not supported by the driver or is otherwise incompatible."},
	vk.ErrorTooManyObjects:  {"VK_ERROR_TOO_MANY_OBJECTS", "Too many objects of the type have already been created."},
	vk.ErrorFragmentedPool:  {"VK_ERROR_FRAGMENTED_POOL", "A pool allocation has failed due to fragmentation of the pool's memory."},
	vk.ErrorOutOfPoolMemory: {"VK_ERROR_OUT_OF_POOL_MEMORY", "A pool memory allocation has failed."},
	vk.ErrorInvalidShaderNv: {"VK_ERROR_INVALID_SHADER_NV", "One or more shaders failed to compile or link."},
	vk.ErrorFragmentation:   {"VK_ERROR_FRAGMENTATION", "A descriptor pool creation has failed due to fragmentation."},
	vk.ErrorInvalidDeviceAddress: {"VK_ERROR_INVALID_DEVICE_ADDRESS_EXT",
		"A buffer creation failed because the requested address is not available."},
	vk.ErrorUnknown: {"VK_ERROR_UNKNOWN", "An unknown error has occurred."},
}

func VulkanResultString(result vk.Result, getExtended bool) string {
	info, ok := resultStrings[result]
	if !ok {
		return fmt.Sprintf("VkResult(%d)", int32(result))
	}
	if getExtended {
		return info.name + " " + info.extended
	}
	return info.name
}

// VulkanResultIsSuccess reports whether result is one of the non-error
// codes. Every error code is negative.
func VulkanResultIsSuccess(result vk.Result) bool {
	return result >= 0
}

type resultError struct {
	kind   error
	what   string
	result vk.Result
}

func newResultError(kind error, what string, result vk.Result) error {
	return &resultError{kind: kind, what: what, result: result}
}

func (e *resultError) Error() string {
	return fmt.Sprintf("%s: %s failed with %s", e.kind, e.what, VulkanResultString(e.result, false))
}

func (e *resultError) Unwrap() error { return e.kind }

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

// cString reads a fixed-size, NUL-terminated name out of a driver struct.
func cString(arr []byte) string {
	for i, b := range arr {
		if b == 0 {
			return string(arr[:i])
		}
	}
	return string(arr)
}
