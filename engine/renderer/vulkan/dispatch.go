package vulkan

import (
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

// AccelerationStructureHandle is a VkAccelerationStructureKHR.
type AccelerationStructureHandle uint64

/**
 * @brief Entry points of VK_KHR_acceleration_structure and
 * VK_KHR_buffer_device_address. The core bindings only load Vulkan 1.0, so
 * the application supplies these, usually from a thin cgo loader resolving
 * them through vkGetDeviceProcAddr.
 */
type RayTracingDispatch interface {
	// Load resolves the device level entry points once the logical device
	// exists.
	Load(dev vk.Device) error
	// DeviceCreateNext returns the feature chain enabling buffer device
	// addresses and acceleration structures, for VkDeviceCreateInfo.pNext.
	DeviceCreateNext() unsafe.Pointer
	// DeviceAddressAllocateNext returns a VkMemoryAllocateFlagsInfo with the
	// device address bit, for VkMemoryAllocateInfo.pNext.
	DeviceAddressAllocateNext() unsafe.Pointer
	// MinScratchOffsetAlignment reads
	// minAccelerationStructureScratchOffsetAlignment of the physical device.
	MinScratchOffsetAlignment(physical vk.PhysicalDevice) uint32

	GetBufferDeviceAddress(dev vk.Device, buffer vk.Buffer) device.DeviceAddress
	GetAccelerationStructureBuildSizes(dev vk.Device, info *device.BuildGeometryInfo, maxPrimitiveCounts []uint32) device.BuildSizes
	CreateAccelerationStructure(dev vk.Device, buffer vk.Buffer, size device.DeviceSize, t device.AccelerationStructureType) (AccelerationStructureHandle, vk.Result)
	DestroyAccelerationStructure(dev vk.Device, handle AccelerationStructureHandle)
	GetAccelerationStructureDeviceAddress(dev vk.Device, handle AccelerationStructureHandle) device.DeviceAddress

	CmdBuildAccelerationStructure(cmd vk.CommandBuffer, info *device.BuildGeometryInfo, src, dst AccelerationStructureHandle, ranges []device.BuildRangeInfo)
	CmdWriteCompactedSize(cmd vk.CommandBuffer, handle AccelerationStructureHandle, pool vk.QueryPool, query uint32)
	CmdCopyAccelerationStructure(cmd vk.CommandBuffer, src, dst AccelerationStructureHandle, mode device.CopyMode)
}

var (
	dispatchMu      sync.Mutex
	dispatchFactory func() RayTracingDispatch
)

// RegisterDispatch installs the loader returned by DefaultDispatch. Loaders
// register themselves from init; the last registration wins.
func RegisterDispatch(factory func() RayTracingDispatch) {
	dispatchMu.Lock()
	defer dispatchMu.Unlock()
	dispatchFactory = factory
}

// DefaultDispatch returns a fresh dispatch from the registered loader, or
// nil when the binary was built without one.
func DefaultDispatch() RayTracingDispatch {
	dispatchMu.Lock()
	factory := dispatchFactory
	dispatchMu.Unlock()
	if factory == nil {
		return nil
	}
	return factory()
}
