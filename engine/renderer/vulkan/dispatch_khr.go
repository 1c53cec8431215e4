//go:build vulture_khr && cgo

package vulkan

/*
#cgo linux LDFLAGS: -lvulkan
#cgo windows LDFLAGS: -lvulkan-1
#cgo darwin LDFLAGS: -lvulkan

#include <stdint.h>
#include <stdlib.h>
#include <string.h>
#include <vulkan/vulkan.h>

#define VULTURE_AS(h) ((VkAccelerationStructureKHR)(uintptr_t)(h))

typedef struct {
	PFN_vkGetBufferDeviceAddressKHR getBufferDeviceAddress;
	PFN_vkGetAccelerationStructureBuildSizesKHR getBuildSizes;
	PFN_vkCreateAccelerationStructureKHR createStructure;
	PFN_vkDestroyAccelerationStructureKHR destroyStructure;
	PFN_vkGetAccelerationStructureDeviceAddressKHR getStructureAddress;
	PFN_vkCmdBuildAccelerationStructuresKHR cmdBuild;
	PFN_vkCmdWriteAccelerationStructuresPropertiesKHR cmdWriteProperties;
	PFN_vkCmdCopyAccelerationStructureKHR cmdCopy;
} vultureProcs;

typedef struct {
	int topLevel;
	int update;
	uint32_t flags;
	uint64_t src;
	uint64_t dst;
	uint64_t scratch;

	uint64_t vertexAddress;
	uint64_t vertexStride;
	uint32_t maxVertex;
	uint64_t indexAddress;
	int index16;
	int opaque;

	uint64_t instanceAddress;
} vultureBuildDesc;

static int vultureLoadProcs(void* device, vultureProcs* p) {
	VkDevice d = (VkDevice)device;
	p->getBufferDeviceAddress = (PFN_vkGetBufferDeviceAddressKHR)vkGetDeviceProcAddr(d, "vkGetBufferDeviceAddressKHR");
	p->getBuildSizes = (PFN_vkGetAccelerationStructureBuildSizesKHR)vkGetDeviceProcAddr(d, "vkGetAccelerationStructureBuildSizesKHR");
	p->createStructure = (PFN_vkCreateAccelerationStructureKHR)vkGetDeviceProcAddr(d, "vkCreateAccelerationStructureKHR");
	p->destroyStructure = (PFN_vkDestroyAccelerationStructureKHR)vkGetDeviceProcAddr(d, "vkDestroyAccelerationStructureKHR");
	p->getStructureAddress = (PFN_vkGetAccelerationStructureDeviceAddressKHR)vkGetDeviceProcAddr(d, "vkGetAccelerationStructureDeviceAddressKHR");
	p->cmdBuild = (PFN_vkCmdBuildAccelerationStructuresKHR)vkGetDeviceProcAddr(d, "vkCmdBuildAccelerationStructuresKHR");
	p->cmdWriteProperties = (PFN_vkCmdWriteAccelerationStructuresPropertiesKHR)vkGetDeviceProcAddr(d, "vkCmdWriteAccelerationStructuresPropertiesKHR");
	p->cmdCopy = (PFN_vkCmdCopyAccelerationStructureKHR)vkGetDeviceProcAddr(d, "vkCmdCopyAccelerationStructureKHR");
	return p->getBufferDeviceAddress && p->getBuildSizes && p->createStructure && p->destroyStructure &&
		p->getStructureAddress && p->cmdBuild && p->cmdWriteProperties && p->cmdCopy;
}

static void* vultureNewFeatureChain(void) {
	VkPhysicalDeviceBufferDeviceAddressFeatures* address = calloc(1, sizeof(*address));
	VkPhysicalDeviceAccelerationStructureFeaturesKHR* structure = calloc(1, sizeof(*structure));
	VkPhysicalDeviceRayTracingPipelineFeaturesKHR* pipeline = calloc(1, sizeof(*pipeline));

	address->sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_BUFFER_DEVICE_ADDRESS_FEATURES;
	address->bufferDeviceAddress = VK_TRUE;
	address->pNext = structure;
	structure->sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_FEATURES_KHR;
	structure->accelerationStructure = VK_TRUE;
	structure->pNext = pipeline;
	pipeline->sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_TRACING_PIPELINE_FEATURES_KHR;
	pipeline->rayTracingPipeline = VK_TRUE;
	return address;
}

static void vultureFreeChain(void* chain) {
	VkBaseOutStructure* next = (VkBaseOutStructure*)chain;
	while (next) {
		VkBaseOutStructure* current = next;
		next = current->pNext;
		free(current);
	}
}

static void* vultureNewAllocateFlags(void) {
	VkMemoryAllocateFlagsInfo* info = calloc(1, sizeof(*info));
	info->sType = VK_STRUCTURE_TYPE_MEMORY_ALLOCATE_FLAGS_INFO;
	info->flags = VK_MEMORY_ALLOCATE_DEVICE_ADDRESS_BIT;
	return info;
}

static uint32_t vultureScratchAlignment(void* physical) {
	VkPhysicalDeviceAccelerationStructurePropertiesKHR structure;
	VkPhysicalDeviceProperties2 properties;
	memset(&structure, 0, sizeof(structure));
	memset(&properties, 0, sizeof(properties));
	structure.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_PROPERTIES_KHR;
	properties.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_PROPERTIES_2;
	properties.pNext = &structure;
	vkGetPhysicalDeviceProperties2((VkPhysicalDevice)physical, &properties);
	return structure.minAccelerationStructureScratchOffsetAlignment;
}

static uint64_t vultureBufferAddress(vultureProcs* p, void* device, void* buffer) {
	VkBufferDeviceAddressInfo info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_BUFFER_DEVICE_ADDRESS_INFO;
	info.buffer = (VkBuffer)buffer;
	return p->getBufferDeviceAddress((VkDevice)device, &info);
}

static void vultureFill(const vultureBuildDesc* d, VkAccelerationStructureGeometryKHR* g,
		VkAccelerationStructureBuildGeometryInfoKHR* info) {
	memset(g, 0, sizeof(*g));
	g->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_KHR;
	if (d->topLevel) {
		g->geometryType = VK_GEOMETRY_TYPE_INSTANCES_KHR;
		g->flags = VK_GEOMETRY_OPAQUE_BIT_KHR;
		g->geometry.instances.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_INSTANCES_DATA_KHR;
		g->geometry.instances.arrayOfPointers = VK_FALSE;
		g->geometry.instances.data.deviceAddress = d->instanceAddress;
	} else {
		g->geometryType = VK_GEOMETRY_TYPE_TRIANGLES_KHR;
		g->flags = d->opaque ? VK_GEOMETRY_OPAQUE_BIT_KHR : 0;
		g->geometry.triangles.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_TRIANGLES_DATA_KHR;
		g->geometry.triangles.vertexFormat = VK_FORMAT_R32G32B32_SFLOAT;
		g->geometry.triangles.vertexData.deviceAddress = d->vertexAddress;
		g->geometry.triangles.vertexStride = d->vertexStride;
		g->geometry.triangles.maxVertex = d->maxVertex;
		g->geometry.triangles.indexType = d->index16 ? VK_INDEX_TYPE_UINT16 : VK_INDEX_TYPE_UINT32;
		g->geometry.triangles.indexData.deviceAddress = d->indexAddress;
	}

	memset(info, 0, sizeof(*info));
	info->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_GEOMETRY_INFO_KHR;
	info->type = d->topLevel ? VK_ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL_KHR : VK_ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL_KHR;
	info->flags = d->flags;
	info->mode = d->update ? VK_BUILD_ACCELERATION_STRUCTURE_MODE_UPDATE_KHR : VK_BUILD_ACCELERATION_STRUCTURE_MODE_BUILD_KHR;
	info->srcAccelerationStructure = VULTURE_AS(d->src);
	info->dstAccelerationStructure = VULTURE_AS(d->dst);
	info->geometryCount = 1;
	info->pGeometries = g;
	info->scratchData.deviceAddress = d->scratch;
}

static void vultureBuildSizes(vultureProcs* p, void* device, const vultureBuildDesc* d, uint32_t maxPrimitives, uint64_t* out) {
	VkAccelerationStructureGeometryKHR g;
	VkAccelerationStructureBuildGeometryInfoKHR info;
	VkAccelerationStructureBuildSizesInfoKHR sizes;
	vultureFill(d, &g, &info);
	memset(&sizes, 0, sizeof(sizes));
	sizes.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_SIZES_INFO_KHR;
	p->getBuildSizes((VkDevice)device, VK_ACCELERATION_STRUCTURE_BUILD_TYPE_DEVICE_KHR, &info, &maxPrimitives, &sizes);
	out[0] = sizes.accelerationStructureSize;
	out[1] = sizes.updateScratchSize;
	out[2] = sizes.buildScratchSize;
}

static VkResult vultureCreateStructure(vultureProcs* p, void* device, void* buffer, uint64_t size, int topLevel, uint64_t* out) {
	VkAccelerationStructureCreateInfoKHR info;
	VkAccelerationStructureKHR handle = VK_NULL_HANDLE;
	VkResult res;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_CREATE_INFO_KHR;
	info.buffer = (VkBuffer)buffer;
	info.size = size;
	info.type = topLevel ? VK_ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL_KHR : VK_ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL_KHR;
	res = p->createStructure((VkDevice)device, &info, NULL, &handle);
	*out = (uint64_t)(uintptr_t)handle;
	return res;
}

static void vultureDestroyStructure(vultureProcs* p, void* device, uint64_t handle) {
	p->destroyStructure((VkDevice)device, VULTURE_AS(handle), NULL);
}

static uint64_t vultureStructureAddress(vultureProcs* p, void* device, uint64_t handle) {
	VkAccelerationStructureDeviceAddressInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_DEVICE_ADDRESS_INFO_KHR;
	info.accelerationStructure = VULTURE_AS(handle);
	return p->getStructureAddress((VkDevice)device, &info);
}

static void vultureCmdBuild(vultureProcs* p, void* cmd, const vultureBuildDesc* d,
		uint32_t primitiveCount, uint32_t primitiveOffset, uint32_t firstVertex, uint32_t transformOffset) {
	VkAccelerationStructureGeometryKHR g;
	VkAccelerationStructureBuildGeometryInfoKHR info;
	VkAccelerationStructureBuildRangeInfoKHR range;
	const VkAccelerationStructureBuildRangeInfoKHR* ranges = &range;
	vultureFill(d, &g, &info);
	range.primitiveCount = primitiveCount;
	range.primitiveOffset = primitiveOffset;
	range.firstVertex = firstVertex;
	range.transformOffset = transformOffset;
	p->cmdBuild((VkCommandBuffer)cmd, 1, &info, &ranges);
}

static void vultureCmdWriteCompactedSize(vultureProcs* p, void* cmd, uint64_t handle, void* pool, uint32_t query) {
	VkAccelerationStructureKHR structure = VULTURE_AS(handle);
	p->cmdWriteProperties((VkCommandBuffer)cmd, 1, &structure,
		VK_QUERY_TYPE_ACCELERATION_STRUCTURE_COMPACTED_SIZE_KHR, (VkQueryPool)pool, query);
}

static void vultureCmdCopy(vultureProcs* p, void* cmd, uint64_t src, uint64_t dst, int compact) {
	VkCopyAccelerationStructureInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_COPY_ACCELERATION_STRUCTURE_INFO_KHR;
	info.src = VULTURE_AS(src);
	info.dst = VULTURE_AS(dst);
	info.mode = compact ? VK_COPY_ACCELERATION_STRUCTURE_MODE_COMPACT_KHR : VK_COPY_ACCELERATION_STRUCTURE_MODE_CLONE_KHR;
	p->cmdCopy((VkCommandBuffer)cmd, &info);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

func init() {
	RegisterDispatch(func() RayTracingDispatch { return &khrDispatch{} })
}

// khrDispatch resolves the KHR entry points with vkGetDeviceProcAddr from
// the system loader.
type khrDispatch struct {
	procs C.vultureProcs

	features      unsafe.Pointer
	allocateFlags unsafe.Pointer
}

var _ RayTracingDispatch = (*khrDispatch)(nil)

func (d *khrDispatch) Load(dev vk.Device) error {
	if d.features != nil {
		// only read by vkCreateDevice
		C.vultureFreeChain(d.features)
		d.features = nil
	}
	if C.vultureLoadProcs(unsafe.Pointer(dev), &d.procs) == 0 {
		err := fmt.Errorf("device does not expose the acceleration structure entry points: %w", core.ErrNotInitialized)
		core.LogError(err.Error())
		return err
	}
	return nil
}

// Close frees the structures handed out as pNext chains.
func (d *khrDispatch) Close() error {
	if d.features != nil {
		C.vultureFreeChain(d.features)
		d.features = nil
	}
	if d.allocateFlags != nil {
		C.free(d.allocateFlags)
		d.allocateFlags = nil
	}
	return nil
}

func (d *khrDispatch) DeviceCreateNext() unsafe.Pointer {
	if d.features == nil {
		d.features = C.vultureNewFeatureChain()
	}
	return d.features
}

func (d *khrDispatch) DeviceAddressAllocateNext() unsafe.Pointer {
	if d.allocateFlags == nil {
		d.allocateFlags = C.vultureNewAllocateFlags()
	}
	return d.allocateFlags
}

func (d *khrDispatch) MinScratchOffsetAlignment(physical vk.PhysicalDevice) uint32 {
	return uint32(C.vultureScratchAlignment(unsafe.Pointer(physical)))
}

func (d *khrDispatch) GetBufferDeviceAddress(dev vk.Device, buffer vk.Buffer) device.DeviceAddress {
	return device.DeviceAddress(C.vultureBufferAddress(&d.procs, unsafe.Pointer(dev), unsafe.Pointer(buffer)))
}

func (d *khrDispatch) GetAccelerationStructureBuildSizes(dev vk.Device, info *device.BuildGeometryInfo, maxPrimitiveCounts []uint32) device.BuildSizes {
	desc := buildDesc(info, 0, 0)
	var out [3]C.uint64_t
	C.vultureBuildSizes(&d.procs, unsafe.Pointer(dev), &desc, C.uint32_t(firstCount(maxPrimitiveCounts)), &out[0])
	return device.BuildSizes{
		AccelerationStructureSize: device.DeviceSize(out[0]),
		UpdateScratchSize:         device.DeviceSize(out[1]),
		BuildScratchSize:          device.DeviceSize(out[2]),
	}
}

func (d *khrDispatch) CreateAccelerationStructure(dev vk.Device, buffer vk.Buffer, size device.DeviceSize, t device.AccelerationStructureType) (AccelerationStructureHandle, vk.Result) {
	var handle C.uint64_t
	res := C.vultureCreateStructure(&d.procs, unsafe.Pointer(dev), unsafe.Pointer(buffer), C.uint64_t(size),
		cBool(t == device.AccelerationStructureTypeTopLevel), &handle)
	return AccelerationStructureHandle(handle), vk.Result(int32(res))
}

func (d *khrDispatch) DestroyAccelerationStructure(dev vk.Device, handle AccelerationStructureHandle) {
	C.vultureDestroyStructure(&d.procs, unsafe.Pointer(dev), C.uint64_t(handle))
}

func (d *khrDispatch) GetAccelerationStructureDeviceAddress(dev vk.Device, handle AccelerationStructureHandle) device.DeviceAddress {
	return device.DeviceAddress(C.vultureStructureAddress(&d.procs, unsafe.Pointer(dev), C.uint64_t(handle)))
}

func (d *khrDispatch) CmdBuildAccelerationStructure(cmd vk.CommandBuffer, info *device.BuildGeometryInfo, src, dst AccelerationStructureHandle, ranges []device.BuildRangeInfo) {
	desc := buildDesc(info, src, dst)
	var r device.BuildRangeInfo
	if len(ranges) > 0 {
		r = ranges[0]
	}
	C.vultureCmdBuild(&d.procs, unsafe.Pointer(cmd), &desc,
		C.uint32_t(r.PrimitiveCount), C.uint32_t(r.PrimitiveOffset), C.uint32_t(r.FirstVertex), C.uint32_t(r.TransformOffset))
}

func (d *khrDispatch) CmdWriteCompactedSize(cmd vk.CommandBuffer, handle AccelerationStructureHandle, pool vk.QueryPool, query uint32) {
	C.vultureCmdWriteCompactedSize(&d.procs, unsafe.Pointer(cmd), C.uint64_t(handle), unsafe.Pointer(pool), C.uint32_t(query))
}

func (d *khrDispatch) CmdCopyAccelerationStructure(cmd vk.CommandBuffer, src, dst AccelerationStructureHandle, mode device.CopyMode) {
	C.vultureCmdCopy(&d.procs, unsafe.Pointer(cmd), C.uint64_t(src), C.uint64_t(dst), cBool(mode == device.CopyModeCompact))
}

func buildDesc(info *device.BuildGeometryInfo, src, dst AccelerationStructureHandle) C.vultureBuildDesc {
	desc := C.vultureBuildDesc{
		topLevel: cBool(info.Type == device.AccelerationStructureTypeTopLevel),
		update:   cBool(info.Mode == device.BuildModeUpdate),
		flags:    C.uint32_t(buildFlagsKHR(info.Flags)),
		src:      C.uint64_t(src),
		dst:      C.uint64_t(dst),
		scratch:  C.uint64_t(info.ScratchAddress),
	}
	if t := info.Triangles; t != nil {
		desc.vertexAddress = C.uint64_t(t.VertexAddress)
		desc.vertexStride = C.uint64_t(t.VertexStride)
		desc.maxVertex = C.uint32_t(t.MaxVertex)
		desc.indexAddress = C.uint64_t(t.IndexAddress)
		desc.index16 = cBool(t.IndexType == device.IndexTypeUint16)
		desc.opaque = cBool(t.Opaque)
	}
	if i := info.Instances; i != nil {
		desc.instanceAddress = C.uint64_t(i.Address)
	}
	return desc
}

func firstCount(counts []uint32) uint32 {
	if len(counts) == 0 {
		return 0
	}
	return counts[0]
}

func cBool(b bool) C.int {
	if b {
		return 1
	}
	return 0
}
