package vulkan

import (
	vk "github.com/goki/vulkan"
)

// Ray tracing enums are not part of the core 1.0 bindings; their values are
// fixed by the registry.
const (
	accessAccelerationStructureReadBit  vk.AccessFlagBits = 0x00200000
	accessAccelerationStructureWriteBit vk.AccessFlagBits = 0x00400000

	pipelineStageAccelerationStructureBuildBit vk.PipelineStageFlagBits = 0x02000000
	pipelineStageRayTracingShaderBit           vk.PipelineStageFlagBits = 0x00200000

	bufferUsageShaderDeviceAddressBit             vk.BufferUsageFlagBits = 0x00020000
	bufferUsageAccelerationStructureBuildInputBit vk.BufferUsageFlagBits = 0x00080000
	bufferUsageAccelerationStructureStorageBit    vk.BufferUsageFlagBits = 0x00100000
	queryTypeAccelerationStructureCompactedSize   vk.QueryType           = 1000150000
)

// VkBuildAccelerationStructureFlagBitsKHR
const (
	buildAllowUpdateBit     uint32 = 0x00000001
	buildAllowCompactionBit uint32 = 0x00000002
	buildPreferFastTraceBit uint32 = 0x00000004
	buildPreferFastBuildBit uint32 = 0x00000008
)

// Device extensions required by the acceleration structure path.
var RayTracingDeviceExtensions = []string{
	"VK_KHR_acceleration_structure",
	"VK_KHR_ray_tracing_pipeline",
	"VK_KHR_deferred_host_operations",
	"VK_KHR_buffer_device_address",
	"VK_EXT_descriptor_indexing",
	"VK_KHR_spirv_1_4",
	"VK_KHR_shader_float_controls",
}

// FrameFenceTimeout bounds how long a single-use submission may take, in
// nanoseconds.
const FrameFenceTimeout uint64 = 10_000_000_000
