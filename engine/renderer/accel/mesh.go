package accel

import (
	"github.com/spaghettifunk/vulture/engine/math"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

// Mesh is the geometry source of a bottom-level structure: an indexed
// triangle list of R32G32B32 float positions and uint32 indices.
type Mesh interface {
	VertexAddress() device.DeviceAddress
	IndexAddress() device.DeviceAddress
	VertexStride() device.DeviceSize
	VertexCount() uint32
	IndexCount() uint32
}

// Instance places a mesh in the scene.
type Instance struct {
	Mesh      Mesh
	Transform math.Mat4
}

// BlasInput is the geometry and range of one bottom-level build.
type BlasInput struct {
	Triangles device.TrianglesGeometry
	Range     device.BuildRangeInfo
}

// NewBlasInput describes the whole of mesh as a single opaque geometry.
func NewBlasInput(mesh Mesh) BlasInput {
	maxVertex := mesh.VertexCount()
	if maxVertex > 0 {
		maxVertex--
	}
	return BlasInput{
		Triangles: device.TrianglesGeometry{
			VertexFormat:  device.VertexFormatR32G32B32Sfloat,
			VertexAddress: mesh.VertexAddress(),
			VertexStride:  mesh.VertexStride(),
			MaxVertex:     maxVertex,
			IndexType:     device.IndexTypeUint32,
			IndexAddress:  mesh.IndexAddress(),
			Opaque:        true,
		},
		Range: device.BuildRangeInfo{
			PrimitiveCount: mesh.IndexCount() / 3,
		},
	}
}

func (in *BlasInput) buildInfo(flags device.BuildFlags) *device.BuildGeometryInfo {
	triangles := in.Triangles
	return &device.BuildGeometryInfo{
		Type:      device.AccelerationStructureTypeBottomLevel,
		Mode:      device.BuildModeBuild,
		Flags:     flags,
		Triangles: &triangles,
	}
}
