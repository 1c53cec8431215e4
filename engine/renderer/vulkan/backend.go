package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

// VulkanBackend implements device.Device on top of a VulkanContext.
type VulkanBackend struct {
	context *VulkanContext
}

var _ device.Device = (*VulkanBackend)(nil)

// New creates a backend. A config without a dispatch uses the registered
// loader; the vulture_khr build tag compiles one in.
func New(config ContextConfig) (*VulkanBackend, error) {
	if config.Dispatch == nil {
		config.Dispatch = DefaultDispatch()
	}
	context, err := NewContext(config)
	if err != nil {
		return nil, err
	}
	return &VulkanBackend{context: context}, nil
}

func (vb *VulkanBackend) Context() *VulkanContext { return vb.context }

// Shutdown waits for the GPU and tears the context down. Every resource
// must have been released before.
func (vb *VulkanBackend) Shutdown() {
	if vb.context != nil {
		vb.context.Destroy()
		vb.context = nil
	}
}

// WaitIdle blocks until every queue of the device drained.
func (vb *VulkanBackend) WaitIdle() error {
	return vb.context.Locks.SafeAllQueuesCall(func() error {
		if res := vk.DeviceWaitIdle(vb.logical()); res != vk.Success {
			return resultError("failed to wait for the device to go idle", res)
		}
		return nil
	})
}

func (vb *VulkanBackend) logical() vk.Device { return vb.context.Device.LogicalDevice }

func (vb *VulkanBackend) Properties() device.Properties {
	return device.Properties{
		MinScratchOffsetAlignment: device.DeviceSize(vb.context.Device.MinScratchOffsetAlignment),
	}
}

func (vb *VulkanBackend) allocate(label string, requirements vk.MemoryRequirements, location device.MemoryLocation, deviceAddress bool) (vk.DeviceMemory, error) {
	index := vb.context.FindMemoryIndex(requirements.MemoryTypeBits, memoryPropertyFlags(location))
	if index < 0 {
		err := fmt.Errorf("no memory type for %q: %w", label, core.ErrOutOfDeviceMemory)
		core.LogError(err.Error())
		return nil, err
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(index),
	}
	if deviceAddress {
		allocateInfo.PNext = vb.context.Dispatch.DeviceAddressAllocateNext()
	}

	var memory vk.DeviceMemory
	err := vb.context.Locks.SafeCall(MemoryManagement, func() error {
		if res := vk.AllocateMemory(vb.logical(), &allocateInfo, vb.context.Allocator, &memory); res != vk.Success {
			return resultError(fmt.Sprintf("failed to allocate memory for %q", label), res)
		}
		return nil
	})
	return memory, err
}

func (vb *VulkanBackend) newBuffer(desc *device.BufferDescriptor) (*VulkanBuffer, vk.MemoryRequirements, error) {
	var requirements vk.MemoryRequirements
	if desc.Size == 0 {
		err := fmt.Errorf("buffer %q has zero size", desc.Label)
		core.LogError(err.Error())
		return nil, requirements, err
	}

	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       bufferUsageFlags(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}

	var handle vk.Buffer
	if res := vk.CreateBuffer(vb.logical(), &createInfo, vb.context.Allocator, &handle); res != vk.Success {
		return nil, requirements, resultError(fmt.Sprintf("failed to create buffer %q", desc.Label), res)
	}

	vk.GetBufferMemoryRequirements(vb.logical(), handle, &requirements)
	requirements.Deref()

	return &VulkanBuffer{
		Handle:   handle,
		label:    desc.Label,
		size:     desc.Size,
		usage:    desc.Usage,
		location: desc.Memory,
	}, requirements, nil
}

func (vb *VulkanBackend) bind(buffer *VulkanBuffer, memory vk.DeviceMemory, offset vk.DeviceSize) error {
	if res := vk.BindBufferMemory(vb.logical(), buffer.Handle, memory, offset); res != vk.Success {
		return resultError(fmt.Sprintf("failed to bind memory of buffer %q", buffer.label), res)
	}
	if buffer.usage&device.BufferUsageShaderDeviceAddress != 0 {
		buffer.address = vb.context.Dispatch.GetBufferDeviceAddress(vb.logical(), buffer.Handle)
	}
	return nil
}

func (vb *VulkanBackend) CreateBuffer(desc *device.BufferDescriptor) (device.Buffer, error) {
	buffer, requirements, err := vb.newBuffer(desc)
	if err != nil {
		return nil, err
	}

	memory, err := vb.allocate(desc.Label, requirements, desc.Memory, desc.Usage&device.BufferUsageShaderDeviceAddress != 0)
	if err != nil {
		vk.DestroyBuffer(vb.logical(), buffer.Handle, vb.context.Allocator)
		return nil, err
	}
	buffer.Memory = memory

	if err := vb.bind(buffer, memory, 0); err != nil {
		vk.DestroyBuffer(vb.logical(), buffer.Handle, vb.context.Allocator)
		vk.FreeMemory(vb.logical(), memory, vb.context.Allocator)
		return nil, err
	}

	// Dedicated allocations start on a page boundary; anything else means
	// the driver cannot honor the requested address alignment.
	if desc.Alignment > 0 && buffer.address != 0 && uint64(buffer.address)%uint64(desc.Alignment) != 0 {
		vb.DestroyBuffer(buffer)
		err := fmt.Errorf("buffer %q address is not aligned to %d", desc.Label, desc.Alignment)
		core.LogError(err.Error())
		return nil, err
	}
	return buffer, nil
}

// CreatePooledBuffer creates a buffer carved from a dedicated memory block.
// The block is destroyed by DestroyMemoryPool after the buffer.
func (vb *VulkanBackend) CreatePooledBuffer(desc *device.BufferDescriptor) (device.Buffer, error) {
	buffer, requirements, err := vb.newBuffer(desc)
	if err != nil {
		return nil, err
	}

	memory, err := vb.allocate(desc.Label, requirements, desc.Memory, desc.Usage&device.BufferUsageShaderDeviceAddress != 0)
	if err != nil {
		vk.DestroyBuffer(vb.logical(), buffer.Handle, vb.context.Allocator)
		return nil, err
	}
	buffer.pool = &VulkanMemoryPool{
		Memory: memory,
		Size:   device.DeviceSize(requirements.Size),
		label:  desc.Label + "/pool",
	}
	if err := vb.bind(buffer, memory, 0); err != nil {
		vk.DestroyBuffer(vb.logical(), buffer.Handle, vb.context.Allocator)
		vk.FreeMemory(vb.logical(), memory, vb.context.Allocator)
		return nil, err
	}
	return buffer, nil
}

func (vb *VulkanBackend) WriteBuffer(b device.Buffer, offset device.DeviceSize, data []byte) error {
	buffer := asBuffer(b)
	if buffer.location != device.MemoryHostVisible {
		err := fmt.Errorf("buffer %q is not host visible", buffer.label)
		core.LogError(err.Error())
		return err
	}
	if offset+device.DeviceSize(len(data)) > buffer.size {
		err := fmt.Errorf("write of %d bytes at %d overflows buffer %q of %d bytes", len(data), offset, buffer.label, buffer.size)
		core.LogError(err.Error())
		return err
	}
	if len(data) == 0 {
		return nil
	}

	memory := buffer.Memory
	if buffer.pool != nil {
		memory = buffer.pool.Memory
	}
	return vb.context.Locks.SafeCall(MemoryManagement, func() error {
		var mapped unsafe.Pointer
		if res := vk.MapMemory(vb.logical(), memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &mapped); res != vk.Success {
			return resultError(fmt.Sprintf("failed to map buffer %q", buffer.label), res)
		}
		vk.Memcopy(mapped, data)
		vk.UnmapMemory(vb.logical(), memory)
		return nil
	})
}

func (vb *VulkanBackend) DestroyBuffer(b device.Buffer) {
	buffer := asBuffer(b)
	_ = vb.context.Locks.SafeCall(ResourceManagement, func() error {
		if buffer.Handle != nil {
			vk.DestroyBuffer(vb.logical(), buffer.Handle, vb.context.Allocator)
			buffer.Handle = nil
		}
		// Pooled memory belongs to the pool.
		if buffer.pool == nil && buffer.Memory != nil {
			vk.FreeMemory(vb.logical(), buffer.Memory, vb.context.Allocator)
		}
		buffer.Memory = nil
		buffer.address = 0
		return nil
	})
}

func (vb *VulkanBackend) DestroyMemoryPool(p device.MemoryPool) {
	pool, ok := p.(*VulkanMemoryPool)
	if !ok {
		panic("memory pool was not created by the vulkan backend")
	}
	_ = vb.context.Locks.SafeCall(MemoryManagement, func() error {
		if pool.Memory != nil {
			vk.FreeMemory(vb.logical(), pool.Memory, vb.context.Allocator)
			pool.Memory = nil
		}
		return nil
	})
}

// CreateStorageImage creates a 2D image with a single view, suitable as a
// ray tracing output target.
func (vb *VulkanBackend) CreateStorageImage(label string, width, height uint32, format vk.Format) (*VulkanImage, error) {
	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageStorageBit | vk.ImageUsageTransferSrcBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	image := &VulkanImage{Width: width, Height: height, label: label}
	if res := vk.CreateImage(vb.logical(), &createInfo, vb.context.Allocator, &image.Handle); res != vk.Success {
		return nil, resultError(fmt.Sprintf("failed to create image %q", label), res)
	}

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(vb.logical(), image.Handle, &requirements)
	requirements.Deref()

	memory, err := vb.allocate(label, requirements, device.MemoryDeviceLocal, false)
	if err != nil {
		vk.DestroyImage(vb.logical(), image.Handle, vb.context.Allocator)
		return nil, err
	}
	image.Memory = memory
	if res := vk.BindImageMemory(vb.logical(), image.Handle, memory, 0); res != vk.Success {
		vb.DestroyImage(image)
		return nil, resultError(fmt.Sprintf("failed to bind memory of image %q", label), res)
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image.Handle,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(vb.logical(), &viewInfo, vb.context.Allocator, &view); res != vk.Success {
		vb.DestroyImage(image)
		return nil, resultError(fmt.Sprintf("failed to create view of image %q", label), res)
	}
	image.Views = append(image.Views, view)
	return image, nil
}

func (vb *VulkanBackend) DestroyImage(img device.Image) {
	image, ok := img.(*VulkanImage)
	if !ok {
		panic("image was not created by the vulkan backend")
	}
	_ = vb.context.Locks.SafeCall(ResourceManagement, func() error {
		for _, view := range image.Views {
			vk.DestroyImageView(vb.logical(), view, vb.context.Allocator)
		}
		image.Views = nil
		if image.Handle != nil {
			vk.DestroyImage(vb.logical(), image.Handle, vb.context.Allocator)
			image.Handle = nil
		}
		if image.Memory != nil {
			vk.FreeMemory(vb.logical(), image.Memory, vb.context.Allocator)
			image.Memory = nil
		}
		return nil
	})
}

func (vb *VulkanBackend) DestroyPipeline(p device.Pipeline) {
	pipeline, ok := p.(*VulkanPipeline)
	if !ok {
		panic("pipeline was not created by the vulkan backend")
	}
	_ = vb.context.Locks.SafeCall(ResourceManagement, func() error {
		if pipeline.Handle != nil {
			vk.DestroyPipeline(vb.logical(), pipeline.Handle, vb.context.Allocator)
			pipeline.Handle = nil
		}
		if pipeline.PipelineLayout != nil {
			vk.DestroyPipelineLayout(vb.logical(), pipeline.PipelineLayout, vb.context.Allocator)
			pipeline.PipelineLayout = nil
		}
		return nil
	})
}

// AllocateDescriptorSet allocates one set of layout from pool. The pool must
// allow freeing individual sets.
func (vb *VulkanBackend) AllocateDescriptorSet(label string, pool vk.DescriptorPool, layout vk.DescriptorSetLayout, set uint32) (*VulkanDescriptorSet, error) {
	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}
	sets := make([]vk.DescriptorSet, 1)
	if res := vk.AllocateDescriptorSets(vb.logical(), &allocateInfo, &sets[0]); res != vk.Success {
		return nil, resultError(fmt.Sprintf("failed to allocate descriptor set %q", label), res)
	}
	return &VulkanDescriptorSet{Handle: sets[0], Pool: pool, Set: set, label: label}, nil
}

func (vb *VulkanBackend) FreeDescriptorSet(s device.DescriptorSet) {
	set, ok := s.(*VulkanDescriptorSet)
	if !ok {
		panic("descriptor set was not allocated by the vulkan backend")
	}
	_ = vb.context.Locks.SafeCall(ResourceManagement, func() error {
		if set.Handle != nil {
			vk.FreeDescriptorSets(vb.logical(), set.Pool, 1, &set.Handle)
			set.Handle = nil
		}
		return nil
	})
}

func (vb *VulkanBackend) GetAccelerationStructureBuildSizes(info *device.BuildGeometryInfo, maxPrimitiveCounts []uint32) device.BuildSizes {
	return vb.context.Dispatch.GetAccelerationStructureBuildSizes(vb.logical(), info, maxPrimitiveCounts)
}

func (vb *VulkanBackend) CreateAccelerationStructure(desc *device.AccelerationStructureDescriptor) (device.AccelerationStructure, error) {
	buffer := asBuffer(desc.Buffer)
	if desc.Size > buffer.size {
		err := fmt.Errorf("acceleration structure %q needs %d bytes, buffer holds %d", desc.Label, desc.Size, buffer.size)
		core.LogError(err.Error())
		return nil, err
	}

	handle, res := vb.context.Dispatch.CreateAccelerationStructure(vb.logical(), buffer.Handle, desc.Size, desc.Type)
	if res != vk.Success {
		return nil, resultError(fmt.Sprintf("failed to create acceleration structure %q", desc.Label), res)
	}
	return &VulkanAccelerationStructure{
		Handle: handle,
		label:  desc.Label,
		kind:   desc.Type,
		buffer: desc.Buffer,
	}, nil
}

func (vb *VulkanBackend) AccelerationStructureAddress(as device.AccelerationStructure) device.DeviceAddress {
	return vb.context.Dispatch.GetAccelerationStructureDeviceAddress(vb.logical(), structureHandle(as))
}

// DestroyAccelerationStructure releases the handle only; the backing buffer
// is destroyed separately by its owner.
func (vb *VulkanBackend) DestroyAccelerationStructure(as device.AccelerationStructure) {
	structure := asStructure(as)
	_ = vb.context.Locks.SafeCall(ResourceManagement, func() error {
		if structure.Handle != 0 {
			vb.context.Dispatch.DestroyAccelerationStructure(vb.logical(), structure.Handle)
			structure.Handle = 0
		}
		return nil
	})
}

func (vb *VulkanBackend) CreateQueryPool(queryType device.QueryType, count uint32) (device.QueryPool, error) {
	if queryType != device.QueryTypeCompactedSize {
		err := fmt.Errorf("unsupported query type %d", queryType)
		core.LogError(err.Error())
		return nil, err
	}
	createInfo := vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  queryTypeAccelerationStructureCompactedSize,
		QueryCount: count,
	}
	pool := &VulkanQueryPool{count: count}
	err := vb.context.Locks.SafeCall(QueryManagement, func() error {
		if res := vk.CreateQueryPool(vb.logical(), &createInfo, vb.context.Allocator, &pool.Handle); res != vk.Success {
			return resultError("failed to create query pool", res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func (vb *VulkanBackend) DestroyQueryPool(qp device.QueryPool) {
	pool := asQueryPool(qp)
	_ = vb.context.Locks.SafeCall(QueryManagement, func() error {
		if pool.Handle != nil {
			vk.DestroyQueryPool(vb.logical(), pool.Handle, vb.context.Allocator)
			pool.Handle = nil
		}
		return nil
	})
}

func (vb *VulkanBackend) GetQueryPoolResults(qp device.QueryPool, first, count uint32) ([]uint64, error) {
	pool := asQueryPool(qp)
	if first+count > pool.count {
		err := fmt.Errorf("queries %d..%d out of range of pool with %d queries", first, first+count, pool.count)
		core.LogError(err.Error())
		return nil, err
	}
	results := make([]uint64, count)
	if count == 0 {
		return results, nil
	}

	flags := vk.QueryResultFlags(vk.QueryResult64Bit | vk.QueryResultWaitBit)
	err := vb.context.Locks.SafeCall(QueryManagement, func() error {
		res := vk.GetQueryPoolResults(
			vb.logical(), pool.Handle, first, count,
			uint64(count)*8, unsafe.Pointer(&results[0]), 8, flags,
		)
		if res != vk.Success {
			return resultError("failed to read query pool results", res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (vb *VulkanBackend) BeginSingleUse(queue device.QueueType) (device.CommandBuffer, error) {
	return AllocateAndBeginSingleUse(vb.context, queue)
}

func (vb *VulkanBackend) EndSingleUse(cmd device.CommandBuffer) error {
	cb, ok := cmd.(*VulkanCommandBuffer)
	if !ok {
		panic("command buffer was not allocated by the vulkan backend")
	}
	return cb.EndSingleUse()
}
