package accel

import (
	"fmt"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

// blasEntry tracks one bottom-level structure through a build.
type blasEntry struct {
	index int
	label string
	input BlasInput
	sizes device.BuildSizes
	state State

	accel *AccelKHR
	// compacted replaces accel once the compacting copy completed
	compacted *AccelKHR
}

func (e *blasEntry) release(dev device.Destroyer) {
	e.accel.Release(dev)
	e.compacted.Release(dev)
}

// Builds, compaction copies and instance uploads are all recorded on the
// compute queue.
const buildQueue = device.QueueCompute

var blasBuildBarrier = device.MemoryBarrier{
	SrcStage:  device.PipelineStageAccelerationStructureBuild,
	DstStage:  device.PipelineStageAccelerationStructureBuild,
	SrcAccess: device.AccessAccelerationStructureWrite,
	DstAccess: device.AccessAccelerationStructureRead,
}

// buildBottomLevel builds one structure per instance. On error every
// structure created by this call is released.
func (b *Builder) buildBottomLevel(id string, instances []Instance, cfg Config, stats *BuildStats) (out []*AccelKHR, err error) {
	if len(instances) == 0 {
		return nil, nil
	}

	flags := device.BuildFlagPreferFastTrace
	if cfg.Compaction {
		flags |= device.BuildFlagAllowCompaction
	}

	entries := make([]*blasEntry, len(instances))
	sizes := make([]device.DeviceSize, len(instances))
	for i := range instances {
		e := &blasEntry{
			index: i,
			label: fmt.Sprintf("blas-%s-%d", shortID(id), i),
			input: NewBlasInput(instances[i].Mesh),
		}
		e.sizes = b.dev.GetAccelerationStructureBuildSizes(e.input.buildInfo(flags), []uint32{e.input.Range.PrimitiveCount})
		entries[i] = e
		sizes[i] = e.sizes.AccelerationStructureSize
	}

	defer func() {
		if err != nil {
			for _, e := range entries {
				e.release(b.dev)
			}
		}
	}()

	batches := PlanBatches(sizes, cfg.BatchLimit)
	largest := 0
	for _, batch := range batches {
		largest = max(largest, len(batch))
	}

	var queries device.QueryPool
	if cfg.Compaction {
		queries, err = b.dev.CreateQueryPool(device.QueryTypeCompactedSize, uint32(largest))
		if err != nil {
			return nil, err
		}
		defer b.dev.DestroyQueryPool(queries)
	}

	for n, batch := range batches {
		total := batchSize(batch, sizes)
		core.LogDebug("acceleration build %s: batch %d/%d, %d structures, %d bytes",
			id, n+1, len(batches), len(batch), total)
		stats.LargestBatch = max(stats.LargestBatch, total)

		if err := b.buildBatchWithScratch(id, n, entries, batch, flags, queries); err != nil {
			return nil, fmt.Errorf("batch %d: %w", n, err)
		}
		if cfg.Compaction {
			if err := b.compactBatch(entries, batch, queries); err != nil {
				return nil, fmt.Errorf("batch %d: compaction: %w", n, err)
			}
		}
	}
	stats.Batches = len(batches)

	out = make([]*AccelKHR, len(entries))
	for i, e := range entries {
		core.Assert(e.state == StateReady, "blas %d finished in state %s", i, e.state)
		e.accel.Address = b.dev.AccelerationStructureAddress(e.accel.Handle)
		out[i] = e.accel
		stats.UncompactedBytes += e.sizes.AccelerationStructureSize
		stats.CompactedBytes += e.accel.Size
	}
	return out, nil
}

// buildBatchWithScratch sizes a scratch buffer to the largest build of the
// batch and releases it once the batch completed.
func (b *Builder) buildBatchWithScratch(id string, n int, entries []*blasEntry, batch []int, flags device.BuildFlags, queries device.QueryPool) error {
	var scratchSize device.DeviceSize
	for _, idx := range batch {
		scratchSize = max(scratchSize, entries[idx].sizes.BuildScratchSize)
	}
	scratch, err := b.createScratch(fmt.Sprintf("blas-scratch-%s-%d", shortID(id), n), scratchSize)
	if err != nil {
		return err
	}
	defer b.dev.DestroyBuffer(scratch)
	return b.buildBatch(entries, batch, flags, scratch, queries)
}

// buildBatch records and submits the builds of one batch. Structures are
// allocated before recording starts so an allocation failure never leaves a
// half recorded command buffer behind.
func (b *Builder) buildBatch(entries []*blasEntry, batch []int, flags device.BuildFlags, scratch device.Buffer, queries device.QueryPool) error {
	for _, idx := range batch {
		e := entries[idx]
		as, err := createAccel(b.dev, e.label, device.AccelerationStructureTypeBottomLevel, e.sizes.AccelerationStructureSize)
		if err != nil {
			return fmt.Errorf("creating %s of %d bytes: %w", e.label, e.sizes.AccelerationStructureSize, err)
		}
		e.accel = as
		e.advance(StateBuilding)
	}

	cmd, err := b.dev.BeginSingleUse(buildQueue)
	if err != nil {
		return err
	}
	if queries != nil {
		cmd.ResetQueryPool(queries, 0, uint32(len(batch)))
	}
	for slot, idx := range batch {
		e := entries[idx]
		info := e.input.buildInfo(flags)
		info.Dst = e.accel.Handle
		info.ScratchAddress = scratch.DeviceAddress()
		cmd.BuildAccelerationStructure(info, []device.BuildRangeInfo{e.input.Range})

		// the next build reuses the scratch buffer
		cmd.PipelineBarrier(blasBuildBarrier)

		if queries != nil {
			cmd.WriteAccelerationStructureCompactedSize(e.accel.Handle, queries, uint32(slot))
		}
	}
	if err := b.dev.EndSingleUse(cmd); err != nil {
		return err
	}

	for _, idx := range batch {
		if queries != nil {
			entries[idx].advance(StateAwaitingCompactionQuery)
		} else {
			entries[idx].advance(StateReady)
		}
	}
	return nil
}

// compactBatch reads the compacted sizes of a built batch, copies every
// structure into one of that size and destroys the originals.
func (b *Builder) compactBatch(entries []*blasEntry, batch []int, queries device.QueryPool) error {
	results, err := b.dev.GetQueryPoolResults(queries, 0, uint32(len(batch)))
	if err != nil {
		return err
	}

	for slot, idx := range batch {
		e := entries[idx]
		size := device.DeviceSize(results[slot])
		if size == 0 || size > e.sizes.AccelerationStructureSize {
			return fmt.Errorf("%s: compacted size %d, built size %d: %w",
				e.label, size, e.sizes.AccelerationStructureSize, core.ErrInvalidCompactedSize)
		}
		compacted, err := createAccel(b.dev, e.label+"-compact", device.AccelerationStructureTypeBottomLevel, size)
		if err != nil {
			return fmt.Errorf("creating compacted %s of %d bytes: %w", e.label, size, err)
		}
		e.compacted = compacted
		e.advance(StateCompacting)
	}

	cmd, err := b.dev.BeginSingleUse(buildQueue)
	if err != nil {
		return err
	}
	for _, idx := range batch {
		e := entries[idx]
		cmd.CopyAccelerationStructure(e.accel.Handle, e.compacted.Handle, device.CopyModeCompact)
	}
	if err := b.dev.EndSingleUse(cmd); err != nil {
		return err
	}

	for _, idx := range batch {
		e := entries[idx]
		e.accel.Release(b.dev)
		e.accel, e.compacted = e.compacted, nil
		e.advance(StateReady)
	}
	return nil
}
