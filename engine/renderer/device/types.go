package device

// DeviceAddress is a GPU virtual address as returned by buffer and
// acceleration structure address queries.
type DeviceAddress uint64

// DeviceSize is a size or offset in device memory, in bytes.
type DeviceSize uint64

type QueueType uint8

const (
	QueueGraphics QueueType = iota
	QueueCompute
	QueueTransfer
)

func (q QueueType) String() string {
	switch q {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	case QueueTransfer:
		return "transfer"
	}
	return "unknown"
}

type PipelineBindPoint uint8

const (
	PipelineBindPointGraphics PipelineBindPoint = iota
	PipelineBindPointCompute
	PipelineBindPointRayTracing
)

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageStorage
	BufferUsageShaderDeviceAddress
	BufferUsageAccelerationStructureStorage
	BufferUsageAccelerationStructureBuildInput
)

type MemoryLocation uint8

const (
	// MemoryDeviceLocal is fast device memory not visible to the host.
	MemoryDeviceLocal MemoryLocation = iota
	// MemoryHostVisible is mappable, coherent memory used for uploads.
	MemoryHostVisible
)

type AccelerationStructureType uint8

const (
	AccelerationStructureTypeBottomLevel AccelerationStructureType = iota
	AccelerationStructureTypeTopLevel
)

func (t AccelerationStructureType) String() string {
	if t == AccelerationStructureTypeTopLevel {
		return "top-level"
	}
	return "bottom-level"
}

type BuildFlags uint32

const (
	BuildFlagAllowUpdate BuildFlags = 1 << iota
	BuildFlagAllowCompaction
	BuildFlagPreferFastTrace
	BuildFlagPreferFastBuild
)

type BuildMode uint8

const (
	// BuildModeBuild constructs the structure from scratch.
	BuildModeBuild BuildMode = iota
	// BuildModeUpdate refits an existing structure built with
	// BuildFlagAllowUpdate. Topology must not change.
	BuildModeUpdate
)

type CopyMode uint8

const (
	CopyModeClone CopyMode = iota
	CopyModeCompact
)

type QueryType uint8

const (
	QueryTypeCompactedSize QueryType = iota
)

type VertexFormat uint8

const (
	VertexFormatR32G32B32Sfloat VertexFormat = iota
)

type IndexType uint8

const (
	IndexTypeUint32 IndexType = iota
	IndexTypeUint16
)

type PipelineStage uint32

const (
	PipelineStageTransfer PipelineStage = 1 << iota
	PipelineStageAccelerationStructureBuild
	PipelineStageRayTracingShader
)

type Access uint32

const (
	AccessTransferWrite Access = 1 << iota
	AccessAccelerationStructureRead
	AccessAccelerationStructureWrite
)

// MemoryBarrier orders every memory access of SrcAccess in SrcStage before
// every access of DstAccess in DstStage.
type MemoryBarrier struct {
	SrcStage  PipelineStage
	DstStage  PipelineStage
	SrcAccess Access
	DstAccess Access
}

type BufferDescriptor struct {
	Label     string
	Size      DeviceSize
	Usage     BufferUsage
	Memory    MemoryLocation
	Alignment DeviceSize
}

type AccelerationStructureDescriptor struct {
	Label  string
	Type   AccelerationStructureType
	Buffer Buffer
	Size   DeviceSize
}

// TrianglesGeometry describes an indexed triangle list living in device
// memory.
type TrianglesGeometry struct {
	VertexFormat  VertexFormat
	VertexAddress DeviceAddress
	VertexStride  DeviceSize
	// Highest vertex index referenced by the index buffer.
	MaxVertex    uint32
	IndexType    IndexType
	IndexAddress DeviceAddress
	Opaque       bool
}

// InstancesGeometry points at an array of instance records.
type InstancesGeometry struct {
	Address DeviceAddress
}

// BuildGeometryInfo describes one acceleration structure build. Exactly one
// of Triangles or Instances is set, matching Type.
type BuildGeometryInfo struct {
	Type      AccelerationStructureType
	Mode      BuildMode
	Flags     BuildFlags
	Triangles *TrianglesGeometry
	Instances *InstancesGeometry
	// Src is only read in update mode.
	Src            AccelerationStructure
	Dst            AccelerationStructure
	ScratchAddress DeviceAddress
}

type BuildRangeInfo struct {
	// Triangle count for bottom-level builds, instance count for top-level.
	PrimitiveCount  uint32
	PrimitiveOffset uint32
	FirstVertex     uint32
	TransformOffset uint32
}

type BuildSizes struct {
	AccelerationStructureSize DeviceSize
	UpdateScratchSize         DeviceSize
	BuildScratchSize          DeviceSize
}

type Properties struct {
	// Alignment every scratch buffer address must respect.
	MinScratchOffsetAlignment DeviceSize
}
