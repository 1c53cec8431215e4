package systems

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/math"
	"github.com/spaghettifunk/vulture/engine/renderer/accel"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
	"github.com/spaghettifunk/vulture/engine/renderer/metadata"
	"github.com/spaghettifunk/vulture/engine/renderer/reclaim"
)

/**
 * @brief Owns the reclamation queue and the acceleration structure builder
 * of a device, and advances them once per frame.
 */
type RayTracingSystem struct {
	dev     device.Device
	queue   *reclaim.Queue
	builder *accel.Builder
	config  core.RendererConfig

	initialized bool
	frameNumber uint64
}

func NewRayTracingSystem(dev device.Device, config core.RendererConfig) *RayTracingSystem {
	return &RayTracingSystem{
		dev:     dev,
		queue:   reclaim.New(dev),
		builder: accel.NewBuilder(dev, builderConfig(config)),
		config:  config,
	}
}

func builderConfig(config core.RendererConfig) accel.Config {
	return accel.Config{
		BatchLimit:  device.DeviceSize(config.BatchLimitBytes()),
		Compaction:  config.Compaction,
		AllowUpdate: config.AllowUpdate,
	}
}

func (rt *RayTracingSystem) Initialize() error {
	if rt.config.FramesInFlight == 0 {
		err := fmt.Errorf("ray tracing system needs at least one frame in flight: %w", core.ErrInvalidConfig)
		core.LogError(err.Error())
		return err
	}
	rt.queue.Init(rt.config.FramesInFlight)
	rt.builder.SetRetirer(rt.queue)
	rt.initialized = true
	core.LogInfo("Ray tracing system initialized with %d frames in flight.", rt.config.FramesInFlight)
	return nil
}

func (rt *RayTracingSystem) Queue() *reclaim.Queue       { return rt.queue }
func (rt *RayTracingSystem) Builder() *accel.Builder     { return rt.builder }
func (rt *RayTracingSystem) Config() core.RendererConfig { return rt.config }
func (rt *RayTracingSystem) FrameNumber() uint64         { return rt.frameNumber }

// Trash hands r to the reclamation queue.
func (rt *RayTracingSystem) Trash(r reclaim.Resource) {
	rt.queue.Trash(r)
}

func (rt *RayTracingSystem) TrashBuffer(b device.Buffer) {
	rt.queue.TrashBuffer(b)
}

// OnFrameBoundary must be called once per frame, after the fence of the
// oldest in-flight frame was waited on.
func (rt *RayTracingSystem) OnFrameBoundary() {
	rt.queue.Tick()
	rt.frameNumber++
}

// Instances flattens meshes into one instance per geometry, placed with the
// world matrix of its mesh.
func Instances(meshes []*metadata.Mesh) []accel.Instance {
	instances := []accel.Instance{}
	for _, m := range meshes {
		if m == nil {
			continue
		}
		world := math.NewMat4Identity()
		if m.Transform != nil {
			world = m.Transform.GetWorld()
		}
		for _, g := range m.Geometries {
			if g == nil || g.Generation == metadata.InvalidGeneration {
				continue
			}
			instances = append(instances, accel.Instance{Mesh: g, Transform: world})
		}
	}
	return instances
}

// RebuildScene builds new structures for meshes. The structures of the
// previous scene are retired through the reclamation queue.
func (rt *RayTracingSystem) RebuildScene(meshes []*metadata.Mesh) error {
	rt.mustBeInitialized()
	return rt.builder.Build(Instances(meshes))
}

// UpdateScene refits the top-level structure to the current transforms of
// meshes, falling back to a rebuild when the geometry set changed.
func (rt *RayTracingSystem) UpdateScene(meshes []*metadata.Mesh) error {
	rt.mustBeInitialized()
	instances := Instances(meshes)
	err := rt.builder.UpdateTlas(instances)
	if errors.Is(err, core.ErrTopologyChanged) || errors.Is(err, core.ErrNoAccelerationStructure) {
		core.LogDebug("scene topology changed, rebuilding %d instances", len(instances))
		return rt.builder.Build(instances)
	}
	return err
}

func (rt *RayTracingSystem) TlasAddress() device.DeviceAddress {
	return rt.builder.TlasDeviceAddress()
}

func (rt *RayTracingSystem) BlasAddress(i int) device.DeviceAddress {
	return rt.builder.BlasDeviceAddress(i)
}

func (rt *RayTracingSystem) InstanceCount() int {
	return rt.builder.InstanceCount()
}

// ApplyConfig adopts a reloaded configuration. A new frames-in-flight value
// waits for the device to go idle and drains the queue before it is
// re-initialised.
func (rt *RayTracingSystem) ApplyConfig(config core.RendererConfig) error {
	if config.FramesInFlight == 0 {
		err := fmt.Errorf("ignoring configuration with zero frames in flight: %w", core.ErrInvalidConfig)
		core.LogError(err.Error())
		return err
	}
	if rt.initialized && config.FramesInFlight != rt.config.FramesInFlight {
		core.LogInfo("frames in flight %d -> %d, draining reclamation queue", rt.config.FramesInFlight, config.FramesInFlight)
		if err := rt.queue.Reconfigure(config.FramesInFlight); err != nil {
			return err
		}
	}
	rt.builder.SetConfig(builderConfig(config))
	rt.config = config
	return nil
}

// Shutdown retires the scene and flushes every pending destruction.
func (rt *RayTracingSystem) Shutdown() error {
	if !rt.initialized {
		rt.builder.Destroy()
		return nil
	}
	rt.builder.Retire()
	if err := rt.queue.Shutdown(); err != nil {
		return err
	}
	rt.initialized = false
	core.LogInfo("Ray tracing system shut down after %d frames.", rt.frameNumber)
	return nil
}

func (rt *RayTracingSystem) mustBeInitialized() {
	core.Assert(rt.initialized, "ray tracing system used before Initialize")
}
