package vulkan

import (
	"fmt"
	"runtime"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

type VulkanDevice struct {
	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	GraphicsQueueIndex int32
	ComputeQueueIndex  int32
	TransferQueueIndex int32

	GraphicsQueue vk.Queue
	ComputeQueue  vk.Queue
	TransferQueue vk.Queue

	// one pool per distinct queue family, keyed by family index
	CommandPools map[uint32]vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	MinScratchOffsetAlignment uint32
}

type VulkanPhysicalDeviceRequirements struct {
	Graphics             bool
	Compute              bool
	Transfer             bool
	DeviceExtensionNames []string
	DiscreteGPU          bool
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	ComputeFamilyIndex  int32
	TransferFamilyIndex int32
}

func DeviceCreate(context *VulkanContext, discreteGPU bool) error {
	if err := SelectPhysicalDevice(context, discreteGPU); err != nil {
		return err
	}

	core.LogInfo("Creating logical device...")

	// NOTE: Do not create additional queues for shared indices.
	d := context.Device
	families := []uint32{uint32(d.GraphicsQueueIndex)}
	for _, idx := range []int32{d.ComputeQueueIndex, d.TransferQueueIndex} {
		shared := false
		for _, f := range families {
			if f == uint32(idx) {
				shared = true
				break
			}
		}
		if !shared {
			families = append(families, uint32(idx))
		}
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(families))
	for i, family := range families {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	extensionNames := append([]string{}, RayTracingDeviceExtensions...)
	if hasExtension(d.PhysicalDevice, "VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		PNext:                   context.Dispatch.DeviceCreateNext(),
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	if res := vk.CreateDevice(d.PhysicalDevice, &deviceCreateInfo, context.Allocator, &d.LogicalDevice); res != vk.Success {
		err := fmt.Errorf("failed to create logical device: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(d.LogicalDevice, uint32(d.GraphicsQueueIndex), 0, &d.GraphicsQueue)
	vk.GetDeviceQueue(d.LogicalDevice, uint32(d.ComputeQueueIndex), 0, &d.ComputeQueue)
	vk.GetDeviceQueue(d.LogicalDevice, uint32(d.TransferQueueIndex), 0, &d.TransferQueue)
	core.LogInfo("Queues obtained.")

	d.CommandPools = make(map[uint32]vk.CommandPool, len(families))
	for _, family := range families {
		poolCreateInfo := vk.CommandPoolCreateInfo{
			SType:            vk.StructureTypeCommandPoolCreateInfo,
			QueueFamilyIndex: family,
			Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		}
		var pool vk.CommandPool
		if res := vk.CreateCommandPool(d.LogicalDevice, &poolCreateInfo, context.Allocator, &pool); res != vk.Success {
			err := fmt.Errorf("failed to create command pool for family %d: %s", family, VulkanResultString(res, false))
			core.LogError(err.Error())
			return err
		}
		d.CommandPools[family] = pool
		context.Locks.SetQueueFamily(family)
	}
	core.LogInfo("Command pools created.")

	d.MinScratchOffsetAlignment = context.Dispatch.MinScratchOffsetAlignment(d.PhysicalDevice)
	return nil
}

func DeviceDestroy(context *VulkanContext) {
	d := context.Device
	d.GraphicsQueue = nil
	d.ComputeQueue = nil
	d.TransferQueue = nil

	core.LogInfo("Destroying command pools...")
	for family, pool := range d.CommandPools {
		vk.DestroyCommandPool(d.LogicalDevice, pool, context.Allocator)
		delete(d.CommandPools, family)
	}

	core.LogInfo("Destroying logical device...")
	if d.LogicalDevice != nil {
		vk.DestroyDevice(d.LogicalDevice, context.Allocator)
		d.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	d.PhysicalDevice = nil
	d.GraphicsQueueIndex = -1
	d.ComputeQueueIndex = -1
	d.TransferQueueIndex = -1
}

func SelectPhysicalDevice(context *VulkanContext, discreteGPU bool) error {
	var physicalDeviceCount uint32 = 0
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil); res != vk.Success {
		err := fmt.Errorf("failed to enumerate physical devices: %s", VulkanResultString(res, false))
		core.LogError(err.Error())
		return err
	}
	if physicalDeviceCount == 0 {
		err := fmt.Errorf("no devices which support Vulkan were found")
		core.LogError(err.Error())
		return err
	}

	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices); res != vk.Success {
		err := fmt.Errorf("failed to enumerate physical devices: %s", VulkanResultString(res, false))
		core.LogError(err.Error())
		return err
	}

	requirements := VulkanPhysicalDeviceRequirements{
		Graphics:             true,
		Compute:              true,
		Transfer:             true,
		DiscreteGPU:          discreteGPU && runtime.GOOS != "darwin",
		DeviceExtensionNames: RayTracingDeviceExtensions,
	}

	for _, physical := range physicalDevices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(physical, &properties)
		properties.Deref()

		var features vk.PhysicalDeviceFeatures
		vk.GetPhysicalDeviceFeatures(physical, &features)
		features.Deref()

		var memory vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(physical, &memory)
		memory.Deref()

		queueInfo, ok := PhysicalDeviceMeetsRequirements(physical, &properties, &requirements)
		if !ok {
			continue
		}

		end := FindFirstZeroInByteArray(properties.DeviceName[:])
		core.LogInfo("Selected device: '%s'.", vk.ToString(properties.DeviceName[:end+1]))
		core.LogInfo(
			"Vulkan API version: %d.%d.%d",
			vk.Version.Major(vk.Version(properties.ApiVersion)),
			vk.Version.Minor(vk.Version(properties.ApiVersion)),
			vk.Version.Patch(vk.Version(properties.ApiVersion)),
		)
		for j := 0; j < int(memory.MemoryHeapCount); j++ {
			memory.MemoryHeaps[j].Deref()
			sizeGib := memory.MemoryHeaps[j].Size / 1024 / 1024 / 1024
			if vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit > 0 {
				core.LogInfo("Local GPU memory: %d GiB", sizeGib)
			} else {
				core.LogInfo("Shared System memory: %d GiB", sizeGib)
			}
		}

		d := context.Device
		d.PhysicalDevice = physical
		d.GraphicsQueueIndex = queueInfo.GraphicsFamilyIndex
		d.ComputeQueueIndex = queueInfo.ComputeFamilyIndex
		d.TransferQueueIndex = queueInfo.TransferFamilyIndex
		d.Properties = properties
		d.Features = features
		d.Memory = memory
		core.LogInfo("Physical device selected.")
		return nil
	}

	err := fmt.Errorf("no physical devices were found which support ray tracing")
	core.LogError(err.Error())
	return err
}

func PhysicalDeviceMeetsRequirements(device vk.PhysicalDevice, properties *vk.PhysicalDeviceProperties, requirements *VulkanPhysicalDeviceRequirements) (VulkanPhysicalDeviceQueueFamilyInfo, bool) {
	info := VulkanPhysicalDeviceQueueFamilyInfo{
		GraphicsFamilyIndex: -1,
		ComputeFamilyIndex:  -1,
		TransferFamilyIndex: -1,
	}

	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogInfo("Device is not a discrete GPU, and one is required. Skipping.")
		return info, false
	}

	var queueFamilyCount uint32 = 0
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	minTransferScore := 255
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		flags := vk.QueueFlagBits(queueFamilies[i].QueueFlags)
		currentTransferScore := 0

		if flags&vk.QueueGraphicsBit > 0 {
			if info.GraphicsFamilyIndex < 0 {
				info.GraphicsFamilyIndex = int32(i)
			}
			currentTransferScore++
		}
		if flags&vk.QueueComputeBit > 0 {
			if info.ComputeFamilyIndex < 0 {
				info.ComputeFamilyIndex = int32(i)
			}
			currentTransferScore++
		}
		// Take the index if it is the current lowest. This increases the
		// likelihood that it is a dedicated transfer queue.
		if flags&vk.QueueTransferBit > 0 && currentTransferScore <= minTransferScore {
			minTransferScore = currentTransferScore
			info.TransferFamilyIndex = int32(i)
		}
	}

	core.LogDebug("Graphics Family Index: %d", info.GraphicsFamilyIndex)
	core.LogDebug("Compute Family Index:  %d", info.ComputeFamilyIndex)
	core.LogDebug("Transfer Family Index: %d", info.TransferFamilyIndex)

	if (requirements.Graphics && info.GraphicsFamilyIndex < 0) ||
		(requirements.Compute && info.ComputeFamilyIndex < 0) ||
		(requirements.Transfer && info.TransferFamilyIndex < 0) {
		core.LogInfo("Device does not meet queue requirements, skipping.")
		return info, false
	}

	for _, name := range requirements.DeviceExtensionNames {
		if !hasExtension(device, name) {
			core.LogInfo("Required extension not found: '%s', skipping device.", name)
			return info, false
		}
	}
	return info, true
}

func hasExtension(device vk.PhysicalDevice, name string) bool {
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
		end := FindFirstZeroInByteArray(available[i].ExtensionName[:])
		if vk.ToString(available[i].ExtensionName[:end+1]) == name {
			return true
		}
	}
	return false
}

func (vc *VulkanContext) queueFor(kind device.QueueType) (uint32, vk.Queue) {
	d := vc.Device
	switch kind {
	case device.QueueCompute:
		return uint32(d.ComputeQueueIndex), d.ComputeQueue
	case device.QueueTransfer:
		return uint32(d.TransferQueueIndex), d.TransferQueue
	}
	return uint32(d.GraphicsQueueIndex), d.GraphicsQueue
}
