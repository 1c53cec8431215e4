package metadata

import (
	"encoding/binary"
	"fmt"
	stdmath "math"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/math"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

/** @brief The name of the default geometry. */
const DefaultGeometryName string = "default"

/**
 * @brief Represents the configuration for a geometry.
 */
type GeometryConfig struct {
	/** @brief An array of Vertices. */
	Vertices []math.Vertex3D
	/** @brief An array of Indices. Every three form a triangle. */
	Indices []uint32

	/** @brief The Name of the geometry. */
	Name string
}

/**
 * @brief Represents actual geometry uploaded to the device. The vertex and
 * index buffers are readable by acceleration structure builds through their
 * device addresses.
 */
type Geometry struct {
	/** @brief The geometry identifier. */
	ID uint32
	/** @brief The geometry generation. Incremented every time the geometry changes. */
	Generation uint16
	/** @brief The geometry name. */
	Name string
	/** @brief The center of the geometry in local coordinates. */
	Center     math.Vec3
	MinExtents math.Vec3
	MaxExtents math.Vec3

	vertexBuffer device.Buffer
	indexBuffer  device.Buffer
	vertexCount  uint32
	indexCount   uint32
}

func (g *Geometry) VertexAddress() device.DeviceAddress { return g.vertexBuffer.DeviceAddress() }
func (g *Geometry) IndexAddress() device.DeviceAddress  { return g.indexBuffer.DeviceAddress() }
func (g *Geometry) VertexStride() device.DeviceSize     { return device.DeviceSize(math.Vertex3DSize) }
func (g *Geometry) VertexCount() uint32                 { return g.vertexCount }
func (g *Geometry) IndexCount() uint32                  { return g.indexCount }
func (g *Geometry) Label() string                       { return g.Name }

// Buffers returns the vertex and index buffers so the owner can trash them.
func (g *Geometry) Buffers() (vertices, indices device.Buffer) {
	return g.vertexBuffer, g.indexBuffer
}

const geometryBufferUsage = device.BufferUsageShaderDeviceAddress |
	device.BufferUsageAccelerationStructureBuildInput |
	device.BufferUsageStorage

// UploadGeometry copies the vertices and indices of config into new
// host-visible buffers.
func UploadGeometry(dev device.Device, id uint32, config *GeometryConfig) (*Geometry, error) {
	if len(config.Vertices) == 0 || len(config.Indices) == 0 || len(config.Indices)%3 != 0 {
		err := fmt.Errorf("geometry %q needs vertices and a multiple of three indices, got %d/%d",
			config.Name, len(config.Vertices), len(config.Indices))
		core.LogError(err.Error())
		return nil, err
	}
	for _, idx := range config.Indices {
		if int(idx) >= len(config.Vertices) {
			err := fmt.Errorf("geometry %q references vertex %d of %d", config.Name, idx, len(config.Vertices))
			core.LogError(err.Error())
			return nil, err
		}
	}

	name := config.Name
	if name == "" {
		name = DefaultGeometryName
	}

	vertexData := encodeVertices(config.Vertices)
	vb, err := dev.CreateBuffer(&device.BufferDescriptor{
		Label:  name + "-vertices",
		Size:   device.DeviceSize(len(vertexData)),
		Usage:  geometryBufferUsage,
		Memory: device.MemoryHostVisible,
	})
	if err != nil {
		return nil, err
	}
	if err := dev.WriteBuffer(vb, 0, vertexData); err != nil {
		dev.DestroyBuffer(vb)
		return nil, err
	}

	indexData := make([]byte, 0, len(config.Indices)*4)
	for _, idx := range config.Indices {
		indexData = binary.LittleEndian.AppendUint32(indexData, idx)
	}
	ib, err := dev.CreateBuffer(&device.BufferDescriptor{
		Label:  name + "-indices",
		Size:   device.DeviceSize(len(indexData)),
		Usage:  geometryBufferUsage,
		Memory: device.MemoryHostVisible,
	})
	if err != nil {
		dev.DestroyBuffer(vb)
		return nil, err
	}
	if err := dev.WriteBuffer(ib, 0, indexData); err != nil {
		dev.DestroyBuffer(ib)
		dev.DestroyBuffer(vb)
		return nil, err
	}

	g := &Geometry{
		ID:           id,
		Name:         name,
		vertexBuffer: vb,
		indexBuffer:  ib,
		vertexCount:  uint32(len(config.Vertices)),
		indexCount:   uint32(len(config.Indices)),
	}
	g.MinExtents, g.MaxExtents = extents(config.Vertices)
	g.Center = math.NewVec3(
		(g.MinExtents.X+g.MaxExtents.X)*0.5,
		(g.MinExtents.Y+g.MaxExtents.Y)*0.5,
		(g.MinExtents.Z+g.MaxExtents.Z)*0.5,
	)
	core.LogDebug("geometry %s uploaded: %d vertices, %d triangles", name, g.vertexCount, g.indexCount/3)
	return g, nil
}

// encodeVertices packs vertices tightly, little endian, in Vertex3D field
// order.
func encodeVertices(vertices []math.Vertex3D) []byte {
	out := make([]byte, 0, len(vertices)*int(math.Vertex3DSize))
	put := func(fs ...float32) {
		for _, f := range fs {
			out = binary.LittleEndian.AppendUint32(out, stdmath.Float32bits(f))
		}
	}
	for _, v := range vertices {
		put(v.Position.X, v.Position.Y, v.Position.Z)
		put(v.Normal.X, v.Normal.Y, v.Normal.Z)
		put(v.Texcoord.X, v.Texcoord.Y)
		put(v.Colour.X, v.Colour.Y, v.Colour.Z, v.Colour.W)
		put(v.Tangent.X, v.Tangent.Y, v.Tangent.Z)
	}
	return out
}

func extents(vertices []math.Vertex3D) (lo, hi math.Vec3) {
	lo, hi = vertices[0].Position, vertices[0].Position
	for _, v := range vertices[1:] {
		p := v.Position
		lo = math.NewVec3(min(lo.X, p.X), min(lo.Y, p.Y), min(lo.Z, p.Z))
		hi = math.NewVec3(max(hi.X, p.X), max(hi.Y, p.Y), max(hi.Z, p.Z))
	}
	return lo, hi
}
