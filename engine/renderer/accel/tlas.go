package accel

import (
	"fmt"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

var instanceUploadBarrier = device.MemoryBarrier{
	SrcStage:  device.PipelineStageTransfer,
	DstStage:  device.PipelineStageAccelerationStructureBuild,
	SrcAccess: device.AccessTransferWrite,
	DstAccess: device.AccessAccelerationStructureWrite,
}

type topLevel struct {
	accel     *AccelKHR
	instances device.Buffer
	flags     device.BuildFlags
}

// instanceCapacity keeps at least one record so that an empty scene still
// gets valid allocations.
func instanceCapacity(n int) device.DeviceSize {
	return device.DeviceSize(max(n, 1) * InstanceRecordSize)
}

func (b *Builder) buildTopLevel(id string, instances []Instance, blasAddresses []device.DeviceAddress, cfg Config) (_ *topLevel, err error) {
	flags := device.BuildFlagPreferFastTrace
	if cfg.AllowUpdate {
		flags |= device.BuildFlagAllowUpdate
	}
	top := &topLevel{flags: flags}
	label := fmt.Sprintf("tlas-%s", shortID(id))

	defer func() {
		if err != nil {
			top.accel.Release(b.dev)
			if top.instances != nil {
				b.dev.DestroyBuffer(top.instances)
			}
		}
	}()

	top.instances, err = b.dev.CreateBuffer(&device.BufferDescriptor{
		Label: label + "-instances",
		Size:  instanceCapacity(len(instances)),
		Usage: device.BufferUsageTransferDst | device.BufferUsageShaderDeviceAddress |
			device.BufferUsageAccelerationStructureBuildInput,
		Memory:    device.MemoryDeviceLocal,
		Alignment: 16,
	})
	if err != nil {
		top.instances = nil
		return nil, err
	}

	info := &device.BuildGeometryInfo{
		Type:      device.AccelerationStructureTypeTopLevel,
		Mode:      device.BuildModeBuild,
		Flags:     flags,
		Instances: &device.InstancesGeometry{Address: top.instances.DeviceAddress()},
	}
	count := uint32(len(instances))
	sizes := b.dev.GetAccelerationStructureBuildSizes(info, []uint32{count})

	top.accel, err = createAccel(b.dev, label, device.AccelerationStructureTypeTopLevel, sizes.AccelerationStructureSize)
	if err != nil {
		return nil, err
	}
	info.Dst = top.accel.Handle

	if err = b.recordTopLevel(label, info, instances, blasAddresses, top.instances, sizes.BuildScratchSize); err != nil {
		return nil, err
	}
	top.accel.Address = b.dev.AccelerationStructureAddress(top.accel.Handle)
	core.LogDebug("acceleration build %s: top-level structure %s over %d instances, %d bytes",
		id, label, count, sizes.AccelerationStructureSize)
	return top, nil
}

func (b *Builder) updateTopLevel(instances []Instance, blasAddresses []device.DeviceAddress) error {
	info := &device.BuildGeometryInfo{
		Type:      device.AccelerationStructureTypeTopLevel,
		Mode:      device.BuildModeUpdate,
		Flags:     b.tlasFlags,
		Instances: &device.InstancesGeometry{Address: b.instanceBuffer.DeviceAddress()},
		Src:       b.tlas.Handle,
		Dst:       b.tlas.Handle,
	}
	sizes := b.dev.GetAccelerationStructureBuildSizes(info, []uint32{uint32(len(instances))})
	return b.recordTopLevel(b.tlas.Label(), info, instances, blasAddresses, b.instanceBuffer, sizes.UpdateScratchSize)
}

// recordTopLevel uploads the instance records and builds the top-level
// structure in one submission, then waits for it. Staging and scratch
// buffers are destroyed once the work completed.
func (b *Builder) recordTopLevel(label string, info *device.BuildGeometryInfo, instances []Instance,
	blasAddresses []device.DeviceAddress, instanceBuffer device.Buffer, scratchSize device.DeviceSize) error {
	records := encodeInstances(instances, blasAddresses)

	staging, err := b.dev.CreateBuffer(&device.BufferDescriptor{
		Label:  label + "-staging",
		Size:   instanceCapacity(len(instances)),
		Usage:  device.BufferUsageTransferSrc,
		Memory: device.MemoryHostVisible,
	})
	if err != nil {
		return err
	}
	defer b.dev.DestroyBuffer(staging)

	if err := b.dev.WriteBuffer(staging, 0, records); err != nil {
		return err
	}

	scratch, err := b.createScratch(label+"-scratch", scratchSize)
	if err != nil {
		return err
	}
	defer b.dev.DestroyBuffer(scratch)
	info.ScratchAddress = scratch.DeviceAddress()

	cmd, err := b.dev.BeginSingleUse(buildQueue)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		cmd.CopyBuffer(staging, instanceBuffer, device.DeviceSize(len(records)))
	}
	// the build must observe the uploaded records
	cmd.PipelineBarrier(instanceUploadBarrier)
	cmd.BuildAccelerationStructure(info, []device.BuildRangeInfo{{PrimitiveCount: uint32(len(instances))}})
	return b.dev.EndSingleUse(cmd)
}
