package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState

	context *VulkanContext
	pool    vk.CommandPool
	family  uint32
	queue   vk.Queue
	kind    device.QueueType
}

func NewVulkanCommandBuffer(context *VulkanContext, kind device.QueueType) (*VulkanCommandBuffer, error) {
	family, queue := context.queueFor(kind)
	pool, ok := context.Device.CommandPools[family]
	if !ok {
		err := fmt.Errorf("no command pool for %s queue family %d", kind, family)
		core.LogError(err.Error())
		return nil, err
	}

	cb := &VulkanCommandBuffer{
		State:   COMMAND_BUFFER_STATE_NOT_ALLOCATED,
		context: context,
		pool:    pool,
		family:  family,
		queue:   queue,
		kind:    kind,
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}

	handles := make([]vk.CommandBuffer, 1)
	err := context.Locks.SafeCall(CommandBufferManagement, func() error {
		if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles); res != vk.Success {
			return resultError("failed to allocate command buffer", res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	cb.Handle = handles[0]
	cb.State = COMMAND_BUFFER_STATE_READY
	return cb, nil
}

func (v *VulkanCommandBuffer) Free() {
	_ = v.context.Locks.SafeCall(CommandBufferManagement, func() error {
		vk.FreeCommandBuffers(v.context.Device.LogicalDevice, v.pool, 1, []vk.CommandBuffer{v.Handle})
		return nil
	})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin(isSingleUse bool) error {
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if isSingleUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}

	if res := vk.BeginCommandBuffer(v.Handle, beginInfo); res != vk.Success {
		return resultError("failed to begin command buffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		return resultError("failed to end command buffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

/**
 * Allocates a primary command buffer on the queue and begins recording.
 */
func AllocateAndBeginSingleUse(context *VulkanContext, kind device.QueueType) (*VulkanCommandBuffer, error) {
	cb, err := NewVulkanCommandBuffer(context, kind)
	if err != nil {
		return nil, err
	}
	if err := cb.Begin(true); err != nil {
		cb.Free()
		return nil, err
	}
	return cb, nil
}

/**
 * Ends recording, submits to and waits for queue operation and frees the
 * command buffer. The buffer is freed even when submission fails.
 */
func (v *VulkanCommandBuffer) EndSingleUse() error {
	defer v.Free()

	if err := v.End(); err != nil {
		return err
	}

	fence, err := NewFence(v.context, false)
	if err != nil {
		return err
	}
	defer fence.Destroy(v.context)

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{v.Handle},
	}
	err = v.context.Locks.SafeQueueCall(v.family, func() error {
		if res := vk.QueueSubmit(v.queue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle); res != vk.Success {
			return resultError("failed to submit single-use command buffer", res)
		}
		return nil
	})
	if err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_SUBMITTED

	// Wait for it to finish
	return fence.Wait(v.context, FrameFenceTimeout)
}

func (v *VulkanCommandBuffer) Queue() device.QueueType { return v.kind }

func (v *VulkanCommandBuffer) PipelineBarrier(barrier device.MemoryBarrier) {
	memoryBarrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: accessFlags(barrier.SrcAccess),
		DstAccessMask: accessFlags(barrier.DstAccess),
	}
	vk.CmdPipelineBarrier(
		v.Handle,
		pipelineStageFlags(barrier.SrcStage),
		pipelineStageFlags(barrier.DstStage),
		0,
		1, []vk.MemoryBarrier{memoryBarrier},
		0, nil,
		0, nil,
	)
}

func (v *VulkanCommandBuffer) CopyBuffer(src, dst device.Buffer, size device.DeviceSize) {
	region := vk.BufferCopy{
		SrcOffset: 0,
		DstOffset: 0,
		Size:      vk.DeviceSize(size),
	}
	vk.CmdCopyBuffer(v.Handle, asBuffer(src).Handle, asBuffer(dst).Handle, 1, []vk.BufferCopy{region})
}

func (v *VulkanCommandBuffer) BuildAccelerationStructure(info *device.BuildGeometryInfo, ranges []device.BuildRangeInfo) {
	v.context.Dispatch.CmdBuildAccelerationStructure(v.Handle, info, structureHandle(info.Src), structureHandle(info.Dst), ranges)
}

func (v *VulkanCommandBuffer) ResetQueryPool(qp device.QueryPool, first, count uint32) {
	vk.CmdResetQueryPool(v.Handle, asQueryPool(qp).Handle, first, count)
}

func (v *VulkanCommandBuffer) WriteAccelerationStructureCompactedSize(as device.AccelerationStructure, qp device.QueryPool, query uint32) {
	v.context.Dispatch.CmdWriteCompactedSize(v.Handle, structureHandle(as), asQueryPool(qp).Handle, query)
}

func (v *VulkanCommandBuffer) CopyAccelerationStructure(src, dst device.AccelerationStructure, mode device.CopyMode) {
	v.context.Dispatch.CmdCopyAccelerationStructure(v.Handle, structureHandle(src), structureHandle(dst), mode)
}
