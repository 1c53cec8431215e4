package accel

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/math"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

// BuildStats describes the last successful Build.
type BuildStats struct {
	ID           string
	Instances    int
	Batches      int
	LargestBatch device.DeviceSize
	// UncompactedBytes and CompactedBytes sum the bottom-level structure
	// sizes before and after compaction.
	UncompactedBytes device.DeviceSize
	CompactedBytes   device.DeviceSize
}

/**
 * @brief Builds and owns the acceleration structures of one scene. Handles
 * returned by the accessors are valid until the next Build or Destroy.
 * A Builder is driven from a single goroutine.
 */
type Builder struct {
	dev     device.Device
	cfg     Config
	retirer Retirer

	blas           []*AccelKHR
	tlas           *AccelKHR
	instanceBuffer device.Buffer
	// meshes of the last build, used to reject topology changes on update
	meshes    []Mesh
	tlasFlags device.BuildFlags

	stats BuildStats
}

func NewBuilder(dev device.Device, cfg Config) *Builder {
	return &Builder{
		dev: dev,
		cfg: cfg.with(),
	}
}

// SetRetirer routes structures replaced by a rebuild through r instead of
// destroying them immediately.
func (b *Builder) SetRetirer(r Retirer) {
	b.retirer = r
}

func (b *Builder) SetConfig(cfg Config) {
	b.cfg = cfg.with()
}

func (b *Builder) Config() Config {
	return b.cfg
}

// Build replaces the scene with instances: one bottom-level structure per
// instance and a top-level structure over all of them. It blocks until the
// device finished building. On failure the previous structures are kept.
func (b *Builder) Build(instances []Instance, opts ...Option) error {
	cfg := b.cfg.with(opts...)
	id := uuid.NewString()

	core.LogInfo("acceleration build %s: %d instances, batch limit %d bytes, compaction %t",
		id, len(instances), cfg.BatchLimit, cfg.Compaction)

	stats := BuildStats{ID: id, Instances: len(instances)}
	blas, err := b.buildBottomLevel(id, instances, cfg, &stats)
	if err != nil {
		err = fmt.Errorf("acceleration build %s: bottom level: %w", id, err)
		core.LogError(err.Error())
		return err
	}

	addresses := make([]device.DeviceAddress, len(blas))
	for i, as := range blas {
		addresses[i] = as.Address
	}
	top, err := b.buildTopLevel(id, instances, addresses, cfg)
	if err != nil {
		for _, as := range blas {
			as.Release(b.dev)
		}
		err = fmt.Errorf("acceleration build %s: top level: %w", id, err)
		core.LogError(err.Error())
		return err
	}

	b.Retire()
	b.blas = blas
	b.tlas = top.accel
	b.instanceBuffer = top.instances
	b.tlasFlags = top.flags
	b.meshes = make([]Mesh, len(instances))
	for i := range instances {
		b.meshes[i] = instances[i].Mesh
	}
	b.stats = stats

	core.LogInfo("acceleration build %s done: %d batches, %d -> %d bytes of bottom-level structures",
		id, stats.Batches, stats.UncompactedBytes, stats.CompactedBytes)
	return nil
}

// UpdateTlas refits the top-level structure to new transforms. The instances
// must reference the same meshes, in the same order, as the last Build.
func (b *Builder) UpdateTlas(instances []Instance) error {
	if b.tlas == nil {
		err := fmt.Errorf("update of top-level structure: %w", core.ErrNoAccelerationStructure)
		core.LogError(err.Error())
		return err
	}
	if b.tlasFlags&device.BuildFlagAllowUpdate == 0 {
		err := fmt.Errorf("top-level structure %s was built without allow-update: %w", b.tlas.Label(), core.ErrTopologyChanged)
		core.LogError(err.Error())
		return err
	}
	if len(instances) != len(b.meshes) {
		err := fmt.Errorf("update with %d instances, structure holds %d: %w", len(instances), len(b.meshes), core.ErrTopologyChanged)
		core.LogError(err.Error())
		return err
	}
	for i := range instances {
		if instances[i].Mesh != b.meshes[i] {
			err := fmt.Errorf("instance %d references a different mesh: %w", i, core.ErrTopologyChanged)
			core.LogError(err.Error())
			return err
		}
	}

	addresses := make([]device.DeviceAddress, len(b.blas))
	for i, as := range b.blas {
		addresses[i] = as.Address
	}
	if err := b.updateTopLevel(instances, addresses); err != nil {
		err = fmt.Errorf("update of top-level structure %s: %w", b.tlas.Label(), err)
		core.LogError(err.Error())
		return err
	}
	return nil
}

// BlasDeviceAddress returns the address of the bottom-level structure built
// for instance i.
func (b *Builder) BlasDeviceAddress(i int) device.DeviceAddress {
	core.Assert(i >= 0 && i < len(b.blas), "blas index %d out of range [0, %d)", i, len(b.blas))
	return b.blas[i].Address
}

func (b *Builder) Blas(i int) *AccelKHR {
	core.Assert(i >= 0 && i < len(b.blas), "blas index %d out of range [0, %d)", i, len(b.blas))
	return b.blas[i]
}

func (b *Builder) BlasCount() int {
	return len(b.blas)
}

// TlasDeviceAddress returns zero until the first successful Build.
func (b *Builder) TlasDeviceAddress() device.DeviceAddress {
	if b.tlas == nil {
		return 0
	}
	return b.tlas.Address
}

func (b *Builder) Tlas() *AccelKHR {
	return b.tlas
}

// InstanceBuffer holds the records the top-level structure was built from.
func (b *Builder) InstanceBuffer() device.Buffer {
	return b.instanceBuffer
}

func (b *Builder) InstanceCount() int {
	return len(b.meshes)
}

func (b *Builder) Stats() BuildStats {
	return b.stats
}

// Destroy releases every structure and the instance buffer immediately. The
// caller must make sure the device no longer uses them.
func (b *Builder) Destroy() {
	for _, as := range b.blas {
		as.Release(b.dev)
	}
	b.tlas.Release(b.dev)
	if b.instanceBuffer != nil {
		b.dev.DestroyBuffer(b.instanceBuffer)
	}
	b.reset()
}

// Retire hands the current structures to the retirer, or destroys them
// when there is none. The builder is empty afterwards.
func (b *Builder) Retire() {
	if b.retirer == nil {
		b.Destroy()
		return
	}
	for _, as := range b.blas {
		as.Retire(b.retirer)
	}
	b.tlas.Retire(b.retirer)
	if b.instanceBuffer != nil {
		b.retirer.TrashBuffer(b.instanceBuffer)
	}
	b.reset()
}

func (b *Builder) reset() {
	b.blas = nil
	b.tlas = nil
	b.instanceBuffer = nil
	b.meshes = nil
	b.tlasFlags = 0
}

func (b *Builder) createScratch(label string, size device.DeviceSize) (device.Buffer, error) {
	align := b.dev.Properties().MinScratchOffsetAlignment
	return b.dev.CreateBuffer(&device.BufferDescriptor{
		Label:     label,
		Size:      math.AlignUp(max(size, 1), align),
		Usage:     device.BufferUsageStorage | device.BufferUsageShaderDeviceAddress,
		Memory:    device.MemoryDeviceLocal,
		Alignment: align,
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
