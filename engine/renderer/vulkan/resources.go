package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

/**
 * @brief A buffer and the memory it is bound to. Pooled buffers share the
 * memory of their pool and do not own it.
 */
type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory

	label    string
	size     device.DeviceSize
	usage    device.BufferUsage
	location device.MemoryLocation
	address  device.DeviceAddress
	pool     *VulkanMemoryPool
}

func (b *VulkanBuffer) Label() string                       { return b.label }
func (b *VulkanBuffer) Size() device.DeviceSize             { return b.size }
func (b *VulkanBuffer) DeviceAddress() device.DeviceAddress { return b.address }

func (b *VulkanBuffer) Pool() device.MemoryPool {
	if b.pool == nil {
		return nil
	}
	return b.pool
}

/**
 * @brief A dedicated device memory block backing exactly one buffer.
 */
type VulkanMemoryPool struct {
	Memory vk.DeviceMemory
	Size   device.DeviceSize
	label  string
}

func (p *VulkanMemoryPool) Label() string { return p.label }

type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	Views  []vk.ImageView
	Width  uint32
	Height uint32
	label  string
}

func (i *VulkanImage) Label() string  { return i.label }
func (i *VulkanImage) ViewCount() int { return len(i.Views) }

/**
 * @brief Holds a Vulkan pipeline and its layout.
 */
type VulkanPipeline struct {
	Handle         vk.Pipeline
	PipelineLayout vk.PipelineLayout
	bindPoint      device.PipelineBindPoint
	label          string
}

// WrapPipeline adopts a pipeline created elsewhere so its lifetime can be
// handed to the reclamation queue.
func WrapPipeline(label string, handle vk.Pipeline, layout vk.PipelineLayout, bindPoint device.PipelineBindPoint) *VulkanPipeline {
	return &VulkanPipeline{Handle: handle, PipelineLayout: layout, bindPoint: bindPoint, label: label}
}

func (p *VulkanPipeline) Label() string                       { return p.label }
func (p *VulkanPipeline) BindPoint() device.PipelineBindPoint { return p.bindPoint }

type VulkanDescriptorSet struct {
	Handle vk.DescriptorSet
	// Pool must be created with the free descriptor set bit.
	Pool  vk.DescriptorPool
	Set   uint32
	label string
}

func (s *VulkanDescriptorSet) Label() string    { return s.label }
func (s *VulkanDescriptorSet) SetIndex() uint32 { return s.Set }

type VulkanAccelerationStructure struct {
	Handle AccelerationStructureHandle
	label  string
	kind   device.AccelerationStructureType
	buffer device.Buffer
}

func (a *VulkanAccelerationStructure) Label() string                          { return a.label }
func (a *VulkanAccelerationStructure) Type() device.AccelerationStructureType { return a.kind }
func (a *VulkanAccelerationStructure) Buffer() device.Buffer                  { return a.buffer }

type VulkanQueryPool struct {
	Handle vk.QueryPool
	count  uint32
}

func (q *VulkanQueryPool) Count() uint32 { return q.count }

func asBuffer(b device.Buffer) *VulkanBuffer {
	vb, ok := b.(*VulkanBuffer)
	if !ok {
		panic("buffer was not created by the vulkan backend")
	}
	return vb
}

func asStructure(as device.AccelerationStructure) *VulkanAccelerationStructure {
	if as == nil {
		return nil
	}
	vs, ok := as.(*VulkanAccelerationStructure)
	if !ok {
		panic("acceleration structure was not created by the vulkan backend")
	}
	return vs
}

func structureHandle(as device.AccelerationStructure) AccelerationStructureHandle {
	if vs := asStructure(as); vs != nil {
		return vs.Handle
	}
	return 0
}

func asQueryPool(qp device.QueryPool) *VulkanQueryPool {
	vq, ok := qp.(*VulkanQueryPool)
	if !ok {
		panic("query pool was not created by the vulkan backend")
	}
	return vq
}
