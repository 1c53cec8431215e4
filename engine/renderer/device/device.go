// Package device is the device context shared by the resource lifetime and
// acceleration structure code. A Device is created once by a backend and
// passed explicitly to every component that records or destroys GPU work.
package device

// Buffer is a device buffer together with its memory allocation.
type Buffer interface {
	Label() string
	Size() DeviceSize
	// DeviceAddress is zero unless the buffer was created with
	// BufferUsageShaderDeviceAddress.
	DeviceAddress() DeviceAddress
	// Pool returns the dedicated memory pool the buffer was carved from, if
	// any. The pool is destroyed together with the buffer.
	Pool() MemoryPool
}

// MemoryPool is a custom allocation pool owned by a single buffer.
type MemoryPool interface {
	Label() string
}

// Image is an image with all of its views and its memory allocation.
type Image interface {
	Label() string
	ViewCount() int
}

// Pipeline is a pipeline together with its layout.
type Pipeline interface {
	Label() string
	BindPoint() PipelineBindPoint
}

type DescriptorSet interface {
	Label() string
	// SetIndex is the set number the layout was declared with.
	SetIndex() uint32
}

type AccelerationStructure interface {
	Label() string
	Type() AccelerationStructureType
	Buffer() Buffer
}

type QueryPool interface {
	Count() uint32
}

// Destroyer releases native resources. Destroy calls never fail from the
// caller's point of view.
type Destroyer interface {
	// WaitIdle blocks until every command submitted to the device finished.
	WaitIdle() error

	DestroyBuffer(b Buffer)
	DestroyMemoryPool(p MemoryPool)
	DestroyImage(img Image)
	DestroyPipeline(p Pipeline)
	FreeDescriptorSet(s DescriptorSet)
	DestroyAccelerationStructure(as AccelerationStructure)
}

// Device is the device context: allocation, structure entry points and
// single-use command submission.
type Device interface {
	Destroyer

	Properties() Properties

	CreateBuffer(desc *BufferDescriptor) (Buffer, error)
	// WriteBuffer copies data into a host-visible buffer at offset.
	WriteBuffer(b Buffer, offset DeviceSize, data []byte) error

	GetAccelerationStructureBuildSizes(info *BuildGeometryInfo, maxPrimitiveCounts []uint32) BuildSizes
	CreateAccelerationStructure(desc *AccelerationStructureDescriptor) (AccelerationStructure, error)
	AccelerationStructureAddress(as AccelerationStructure) DeviceAddress

	CreateQueryPool(queryType QueryType, count uint32) (QueryPool, error)
	DestroyQueryPool(qp QueryPool)
	// GetQueryPoolResults blocks until the requested queries are available.
	GetQueryPoolResults(qp QueryPool, first, count uint32) ([]uint64, error)

	// BeginSingleUse allocates a command buffer on queue and starts
	// recording.
	BeginSingleUse(queue QueueType) (CommandBuffer, error)
	// EndSingleUse ends recording, submits, waits for the queue to go idle
	// and frees the command buffer.
	EndSingleUse(cmd CommandBuffer) error
}

// CommandBuffer records GPU work. Recorded commands execute in order,
// subject to the barriers recorded between them.
type CommandBuffer interface {
	Queue() QueueType
	PipelineBarrier(barrier MemoryBarrier)
	CopyBuffer(src, dst Buffer, size DeviceSize)
	BuildAccelerationStructure(info *BuildGeometryInfo, ranges []BuildRangeInfo)
	ResetQueryPool(qp QueryPool, first, count uint32)
	WriteAccelerationStructureCompactedSize(as AccelerationStructure, qp QueryPool, query uint32)
	CopyAccelerationStructure(src, dst AccelerationStructure, mode CopyMode)
}
