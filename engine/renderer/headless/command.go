package headless

import (
	"fmt"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

type CommandKind uint8

const (
	CommandBarrier CommandKind = iota
	CommandCopyBuffer
	CommandBuild
	CommandResetQueries
	CommandWriteCompactedSize
	CommandCopyStructure
)

func (k CommandKind) String() string {
	switch k {
	case CommandBarrier:
		return "barrier"
	case CommandCopyBuffer:
		return "copy-buffer"
	case CommandBuild:
		return "build"
	case CommandResetQueries:
		return "reset-queries"
	case CommandWriteCompactedSize:
		return "write-compacted-size"
	case CommandCopyStructure:
		return "copy-structure"
	}
	return "unknown"
}

// Command is one recorded command as seen by the device log. Only the fields
// relevant to Kind are set.
type Command struct {
	Kind  CommandKind
	Queue device.QueueType
	// Submission numbers the EndSingleUse call that executed the command,
	// starting at 1.
	Submission int

	Barrier device.MemoryBarrier

	// Src and Dst are labels of buffers or structures.
	Src  string
	Dst  string
	Size device.DeviceSize

	BuildType      device.AccelerationStructureType
	BuildMode      device.BuildMode
	BuildFlags     device.BuildFlags
	ScratchAddress device.DeviceAddress
	PrimitiveCount uint32

	CopyMode device.CopyMode

	First uint32
	Count uint32

	buildInfo device.BuildGeometryInfo
	srcObj    any
	dstObj    any
	pool      *queryPool
}

type commandBuffer struct {
	dev       *Device
	queue     device.QueueType
	commands  []Command
	submitted bool
}

func (cb *commandBuffer) record(c Command) {
	core.Assert(!cb.submitted, "headless: recording into a submitted command buffer")
	c.Queue = cb.queue
	cb.commands = append(cb.commands, c)
}

func (cb *commandBuffer) Queue() device.QueueType {
	return cb.queue
}

func (cb *commandBuffer) PipelineBarrier(barrier device.MemoryBarrier) {
	cb.record(Command{Kind: CommandBarrier, Barrier: barrier})
}

func (cb *commandBuffer) CopyBuffer(src, dst device.Buffer, size device.DeviceSize) {
	cb.record(Command{
		Kind:   CommandCopyBuffer,
		Src:    src.Label(),
		Dst:    dst.Label(),
		Size:   size,
		srcObj: src.(*buffer),
		dstObj: dst.(*buffer),
	})
}

func (cb *commandBuffer) BuildAccelerationStructure(info *device.BuildGeometryInfo, ranges []device.BuildRangeInfo) {
	c := Command{
		Kind:           CommandBuild,
		BuildType:      info.Type,
		BuildMode:      info.Mode,
		BuildFlags:     info.Flags,
		ScratchAddress: info.ScratchAddress,
		buildInfo:      *info,
	}
	if info.Dst != nil {
		c.Dst = info.Dst.Label()
	}
	if info.Src != nil {
		c.Src = info.Src.Label()
	}
	for _, r := range ranges {
		c.PrimitiveCount += r.PrimitiveCount
	}
	cb.record(c)
}

func (cb *commandBuffer) ResetQueryPool(qp device.QueryPool, first, count uint32) {
	cb.record(Command{Kind: CommandResetQueries, First: first, Count: count, pool: qp.(*queryPool)})
}

func (cb *commandBuffer) WriteAccelerationStructureCompactedSize(as device.AccelerationStructure, qp device.QueryPool, query uint32) {
	cb.record(Command{
		Kind:   CommandWriteCompactedSize,
		Src:    as.Label(),
		First:  query,
		Count:  1,
		srcObj: as.(*structure),
		pool:   qp.(*queryPool),
	})
}

func (cb *commandBuffer) CopyAccelerationStructure(src, dst device.AccelerationStructure, mode device.CopyMode) {
	cb.record(Command{
		Kind:     CommandCopyStructure,
		Src:      src.Label(),
		Dst:      dst.Label(),
		CopyMode: mode,
		srcObj:   src.(*structure),
		dstObj:   dst.(*structure),
	})
}

func (d *Device) alive(id uint64) bool {
	_, ok := d.live[id]
	return ok
}

// execute applies c to the device state. Called with d.mu held.
func (d *Device) execute(c *Command) error {
	switch c.Kind {
	case CommandBarrier:
		return nil

	case CommandCopyBuffer:
		src, dst := c.srcObj.(*buffer), c.dstObj.(*buffer)
		if !d.alive(src.id) || !d.alive(dst.id) {
			return fmt.Errorf("copy %s -> %s references a destroyed buffer", src.label, dst.label)
		}
		if c.Size > src.size || c.Size > dst.size {
			return fmt.Errorf("copy of %d bytes overflows %s (%d) or %s (%d)", c.Size, src.label, src.size, dst.label, dst.size)
		}
		copy(dst.bytes()[:c.Size], src.bytes()[:c.Size])
		return nil

	case CommandBuild:
		return d.executeBuild(c)

	case CommandResetQueries:
		if c.First+c.Count > c.pool.Count() {
			return fmt.Errorf("reset of queries [%d, %d) out of range", c.First, c.First+c.Count)
		}
		for i := c.First; i < c.First+c.Count; i++ {
			c.pool.available[i] = false
			c.pool.results[i] = 0
		}
		return nil

	case CommandWriteCompactedSize:
		as := c.srcObj.(*structure)
		if c.First >= c.pool.Count() {
			return fmt.Errorf("query %d out of range", c.First)
		}
		if !as.built {
			return fmt.Errorf("compacted size of %s queried before it was built", as.label)
		}
		if as.flags&device.BuildFlagAllowCompaction == 0 {
			return fmt.Errorf("compacted size of %s queried without allow-compaction", as.label)
		}
		c.pool.results[c.First] = uint64(as.compactedSize)
		c.pool.available[c.First] = true
		return nil

	case CommandCopyStructure:
		src, dst := c.srcObj.(*structure), c.dstObj.(*structure)
		if !d.alive(src.id) || !d.alive(dst.id) {
			return fmt.Errorf("copy %s -> %s references a destroyed structure", src.label, dst.label)
		}
		if !src.built {
			return fmt.Errorf("copy from unbuilt structure %s", src.label)
		}
		if c.CopyMode == device.CopyModeCompact && dst.size < src.compactedSize {
			return fmt.Errorf("compacting %s into %s: %d bytes needed, %d available", src.label, dst.label, src.compactedSize, dst.size)
		}
		dst.built = true
		dst.flags = src.flags
		dst.primitiveCount = src.primitiveCount
		dst.compactedSize = dst.size
		return nil
	}
	return fmt.Errorf("unknown command %d", c.Kind)
}

func (d *Device) executeBuild(c *Command) error {
	info := &c.buildInfo
	dst, ok := info.Dst.(*structure)
	if !ok || dst == nil || !d.alive(dst.id) {
		return fmt.Errorf("build of %q without a live destination", c.Dst)
	}
	if dst.kind != info.Type {
		return fmt.Errorf("build of %s %s as %s", dst.kind, dst.label, info.Type)
	}
	if info.ScratchAddress == 0 {
		return fmt.Errorf("build of %s without scratch memory", dst.label)
	}
	if uint64(info.ScratchAddress)%uint64(max(d.opts.scratchAlign, 1)) != 0 {
		return fmt.Errorf("build of %s with misaligned scratch %#x", dst.label, info.ScratchAddress)
	}

	switch info.Type {
	case device.AccelerationStructureTypeBottomLevel:
		if info.Triangles == nil {
			return fmt.Errorf("bottom-level build of %s without triangles", dst.label)
		}
	case device.AccelerationStructureTypeTopLevel:
		if info.Instances == nil {
			return fmt.Errorf("top-level build of %s without instances", dst.label)
		}
		if c.PrimitiveCount > 0 {
			if _, ok := d.addresses[info.Instances.Address]; !ok {
				return fmt.Errorf("instance address %#x of %s does not resolve to a buffer", info.Instances.Address, dst.label)
			}
		}
	}

	if info.Mode == device.BuildModeUpdate {
		src, ok := info.Src.(*structure)
		if !ok || src == nil || !src.built {
			return fmt.Errorf("update of %s from an unbuilt source", dst.label)
		}
		if src.flags&device.BuildFlagAllowUpdate == 0 {
			return fmt.Errorf("update of %s built without allow-update", src.label)
		}
		if src.primitiveCount != c.PrimitiveCount {
			return fmt.Errorf("update of %s changes primitive count %d -> %d", src.label, src.primitiveCount, c.PrimitiveCount)
		}
	}

	dst.built = true
	dst.flags = info.Flags
	dst.primitiveCount = c.PrimitiveCount
	dst.compactedSize = d.opts.compactedFunc(dst.label, dst.size)
	return nil
}
