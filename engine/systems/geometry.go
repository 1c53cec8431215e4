package systems

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/math"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
	"github.com/spaghettifunk/vulture/engine/renderer/metadata"
)

type GeometrySystemConfig struct {
	/**
	 * @brief Max number of geometries that can be loaded at once.
	 * NOTE: Should be significantly greater than the number of static meshes because
	 * the there can and will be more than one of these per mesh.
	 * Take other systems into account as well.
	 */
	MaxGeometryCount uint32
}

// BufferTrasher defers the destruction of buffers still referenced by
// in-flight frames.
type BufferTrasher interface {
	TrashBuffer(b device.Buffer)
}

type geometryReference struct {
	ReferenceCount uint64
	Geometry       *metadata.Geometry
	AutoRelease    bool
}

type GeometrySystem struct {
	config *GeometrySystemConfig
	dev    device.Device
	trash  BufferTrasher

	mu              sync.Mutex
	registered      []geometryReference
	generation      uint16
	defaultGeometry *metadata.Geometry
}

/**
 * @brief Initializes the geometry system and uploads the default geometry.
 *
 * @param config The configuration for this system.
 * @param dev The device geometries are uploaded to.
 * @param trash Receives released vertex and index buffers.
 */
func NewGeometrySystem(config *GeometrySystemConfig, dev device.Device, trash BufferTrasher) (*GeometrySystem, error) {
	if config.MaxGeometryCount == 0 {
		err := fmt.Errorf("func NewGeometrySystem - config.MaxGeometryCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}

	gs := &GeometrySystem{
		config:     config,
		dev:        dev,
		trash:      trash,
		registered: make([]geometryReference, config.MaxGeometryCount),
	}

	g, err := gs.AcquireFromConfig(GeneratePlaneConfig(10, 10, 1, 1, metadata.DefaultGeometryName), false)
	if err != nil {
		err = fmt.Errorf("failed to create default geometry: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	gs.defaultGeometry = g
	return gs, nil
}

func (gs *GeometrySystem) GetDefault() *metadata.Geometry {
	return gs.defaultGeometry
}

/**
 * @brief Acquires an existing geometry by id.
 */
func (gs *GeometrySystem) AcquireByID(id uint32) (*metadata.Geometry, error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if id < gs.config.MaxGeometryCount && gs.registered[id].Geometry != nil {
		gs.registered[id].ReferenceCount++
		return gs.registered[id].Geometry, nil
	}

	err := fmt.Errorf("cannot acquire invalid geometry id %d", id)
	core.LogError(err.Error())
	return nil, err
}

/**
 * @brief Registers and acquires a new geometry using the given config.
 *
 * @param config The geometry configuration.
 * @param autoRelease Indicates if the acquired geometry should be unloaded when its reference count reaches 0.
 */
func (gs *GeometrySystem) AcquireFromConfig(config *metadata.GeometryConfig, autoRelease bool) (*metadata.Geometry, error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	slot := metadata.InvalidID
	for i := range gs.registered {
		if gs.registered[i].Geometry == nil {
			slot = uint32(i)
			break
		}
	}
	if slot == metadata.InvalidID {
		err := fmt.Errorf("unable to obtain free slot for geometry %q, adjust MaxGeometryCount", config.Name)
		core.LogError(err.Error())
		return nil, err
	}

	g, err := metadata.UploadGeometry(gs.dev, slot, config)
	if err != nil {
		return nil, err
	}
	gs.generation++
	if gs.generation == metadata.InvalidGeneration {
		gs.generation = 0
	}
	g.Generation = gs.generation

	gs.registered[slot] = geometryReference{
		ReferenceCount: 1,
		Geometry:       g,
		AutoRelease:    autoRelease,
	}
	return g, nil
}

/**
 * @brief Releases a reference to the provided geometry. Auto-release
 * geometries hand their buffers to the trasher once unreferenced.
 */
func (gs *GeometrySystem) Release(geometry *metadata.Geometry) {
	if geometry == nil || geometry.ID == metadata.InvalidID {
		return
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()

	if geometry.ID >= gs.config.MaxGeometryCount {
		core.LogWarn("geometry id %d out of range, nothing was released", geometry.ID)
		return
	}
	ref := &gs.registered[geometry.ID]
	if ref.Geometry != geometry {
		core.LogWarn("geometry %q is not registered, nothing was released", geometry.Name)
		return
	}
	if ref.ReferenceCount > 0 {
		ref.ReferenceCount--
	}
	if ref.ReferenceCount == 0 && ref.AutoRelease {
		gs.destroyGeometry(ref)
	}
}

// Count returns the number of registered geometries, default included.
func (gs *GeometrySystem) Count() int {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	n := 0
	for i := range gs.registered {
		if gs.registered[i].Geometry != nil {
			n++
		}
	}
	return n
}

// Shutdown trashes the buffers of every registered geometry.
func (gs *GeometrySystem) Shutdown() error {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	for i := range gs.registered {
		if gs.registered[i].Geometry != nil {
			gs.destroyGeometry(&gs.registered[i])
		}
	}
	gs.defaultGeometry = nil
	return nil
}

func (gs *GeometrySystem) destroyGeometry(ref *geometryReference) {
	g := ref.Geometry
	vertices, indices := g.Buffers()
	gs.trash.TrashBuffer(vertices)
	gs.trash.TrashBuffer(indices)
	core.LogDebug("geometry %s released", g.Name)

	g.ID = metadata.InvalidID
	g.Generation = metadata.InvalidGeneration
	*ref = geometryReference{}
}

/**
 * @brief Generates configuration for plane geometries given the provided
 * parameters. The plane lies in the XY plane, facing +Z.
 *
 * @param width The overall width of the plane. Defaults to one when zero.
 * @param height The overall height of the plane. Defaults to one when zero.
 * @param xSegmentCount The number of segments along the x-axis in the plane.
 * @param ySegmentCount The number of segments along the y-axis in the plane.
 * @param name The name of the generated geometry.
 */
func GeneratePlaneConfig(width, height float32, xSegmentCount, ySegmentCount uint32, name string) *metadata.GeometryConfig {
	if width == 0 {
		core.LogWarn("Width must be nonzero. Defaulting to one.")
		width = 1.0
	}
	if height == 0 {
		core.LogWarn("Height must be nonzero. Defaulting to one.")
		height = 1.0
	}
	if xSegmentCount < 1 {
		core.LogWarn("xSegmentCount must be a positive number. Defaulting to one.")
		xSegmentCount = 1
	}
	if ySegmentCount < 1 {
		core.LogWarn("ySegmentCount must be a positive number. Defaulting to one.")
		ySegmentCount = 1
	}

	segments := xSegmentCount * ySegmentCount
	config := &metadata.GeometryConfig{
		Vertices: make([]math.Vertex3D, segments*4), // 4 verts per segment
		Indices:  make([]uint32, segments*6),        // 6 indices per segment
		Name:     name,
	}

	// TODO: This generates extra vertices, but we can always deduplicate them later.
	segWidth := width / float32(xSegmentCount)
	segHeight := height / float32(ySegmentCount)
	halfWidth := width * 0.5
	halfHeight := height * 0.5
	normal := math.NewVec3(0, 0, 1)
	for y := uint32(0); y < ySegmentCount; y++ {
		for x := uint32(0); x < xSegmentCount; x++ {
			minX := (float32(x) * segWidth) - halfWidth
			minY := (float32(y) * segHeight) - halfHeight
			maxX := minX + segWidth
			maxY := minY + segHeight
			minU := float32(x) / float32(xSegmentCount)
			minV := float32(y) / float32(ySegmentCount)
			maxU := float32(x+1) / float32(xSegmentCount)
			maxV := float32(y+1) / float32(ySegmentCount)

			vOffset := ((y * xSegmentCount) + x) * 4
			quad(config, vOffset, ((y*xSegmentCount)+x)*6, [4]math.Vec3{
				math.NewVec3(minX, minY, 0),
				math.NewVec3(maxX, maxY, 0),
				math.NewVec3(minX, maxY, 0),
				math.NewVec3(maxX, minY, 0),
			}, [4]math.Vec2{{X: minU, Y: minV}, {X: maxU, Y: maxV}, {X: minU, Y: maxV}, {X: maxU, Y: minV}}, normal)
		}
	}
	return config
}

/**
 * @brief Generates configuration for an axis aligned box centered on the
 * origin.
 */
func GenerateCubeConfig(width, height, depth float32, name string) *metadata.GeometryConfig {
	if width == 0 {
		core.LogWarn("Width must be nonzero. Defaulting to one.")
		width = 1.0
	}
	if height == 0 {
		core.LogWarn("Height must be nonzero. Defaulting to one.")
		height = 1.0
	}
	if depth == 0 {
		core.LogWarn("Depth must be nonzero. Defaulting to one.")
		depth = 1
	}

	config := &metadata.GeometryConfig{
		Vertices: make([]math.Vertex3D, 4*6), // 4 verts per side, 6 side
		Indices:  make([]uint32, 6*6),        // 6 indices per side, 6 side
		Name:     name,
	}

	minX, maxX := -width*0.5, width*0.5
	minY, maxY := -height*0.5, height*0.5
	minZ, maxZ := -depth*0.5, depth*0.5
	uvs := [4]math.Vec2{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}, {X: 1, Y: 0}}

	faces := []struct {
		corners [4]math.Vec3
		normal  math.Vec3
	}{
		// Front
		{[4]math.Vec3{math.NewVec3(minX, minY, maxZ), math.NewVec3(maxX, maxY, maxZ), math.NewVec3(minX, maxY, maxZ), math.NewVec3(maxX, minY, maxZ)}, math.NewVec3(0, 0, 1)},
		// Back
		{[4]math.Vec3{math.NewVec3(maxX, minY, minZ), math.NewVec3(minX, maxY, minZ), math.NewVec3(maxX, maxY, minZ), math.NewVec3(minX, minY, minZ)}, math.NewVec3(0, 0, -1)},
		// Left
		{[4]math.Vec3{math.NewVec3(minX, minY, minZ), math.NewVec3(minX, maxY, maxZ), math.NewVec3(minX, maxY, minZ), math.NewVec3(minX, minY, maxZ)}, math.NewVec3(-1, 0, 0)},
		// Right
		{[4]math.Vec3{math.NewVec3(maxX, minY, maxZ), math.NewVec3(maxX, maxY, minZ), math.NewVec3(maxX, maxY, maxZ), math.NewVec3(maxX, minY, minZ)}, math.NewVec3(1, 0, 0)},
		// Bottom
		{[4]math.Vec3{math.NewVec3(maxX, minY, maxZ), math.NewVec3(minX, minY, minZ), math.NewVec3(maxX, minY, minZ), math.NewVec3(minX, minY, maxZ)}, math.NewVec3(0, -1, 0)},
		// Top
		{[4]math.Vec3{math.NewVec3(minX, maxY, maxZ), math.NewVec3(maxX, maxY, minZ), math.NewVec3(minX, maxY, minZ), math.NewVec3(maxX, maxY, maxZ)}, math.NewVec3(0, 1, 0)},
	}
	for i, f := range faces {
		quad(config, uint32(i*4), uint32(i*6), f.corners, uvs, f.normal)
	}
	return config
}

// quad writes four vertices at vOffset and the two triangles joining them
// at iOffset.
func quad(config *metadata.GeometryConfig, vOffset, iOffset uint32, corners [4]math.Vec3, uvs [4]math.Vec2, normal math.Vec3) {
	for i := uint32(0); i < 4; i++ {
		v := &config.Vertices[vOffset+i]
		v.Position = corners[i]
		v.Texcoord = uvs[i]
		v.Normal = normal
		v.Colour = math.Vec4{X: 1, Y: 1, Z: 1, W: 1}
	}
	copy(config.Indices[iOffset:iOffset+6], []uint32{
		vOffset + 0, vOffset + 1, vOffset + 2,
		vOffset + 0, vOffset + 3, vOffset + 1,
	})
}
