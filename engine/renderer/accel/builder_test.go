package accel

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/math"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
	"github.com/spaghettifunk/vulture/engine/renderer/headless"
	"github.com/spaghettifunk/vulture/engine/renderer/reclaim"
)

type testMesh struct {
	base      device.DeviceAddress
	vertices  uint32
	triangles uint32
}

func (m *testMesh) VertexAddress() device.DeviceAddress { return m.base }
func (m *testMesh) IndexAddress() device.DeviceAddress  { return m.base + 0x8000 }
func (m *testMesh) VertexStride() device.DeviceSize     { return 12 }
func (m *testMesh) VertexCount() uint32                 { return m.vertices }
func (m *testMesh) IndexCount() uint32                  { return m.triangles * 3 }

func newInstances(n int) []Instance {
	out := make([]Instance, n)
	for i := range out {
		out[i] = Instance{
			Mesh:      &testMesh{base: device.DeviceAddress(0x100000 * (i + 1)), vertices: 24, triangles: 12},
			Transform: math.NewMat4Translation(math.NewVec3(float32(i), 0, 0)),
		}
	}
	return out
}

// bottomLevelSize reports size for every bottom-level structure.
func bottomLevelSize(size device.DeviceSize) headless.SizeFunc {
	return func(info *device.BuildGeometryInfo, counts []uint32) device.BuildSizes {
		if info.Type == device.AccelerationStructureTypeBottomLevel {
			return device.BuildSizes{
				AccelerationStructureSize: size,
				BuildScratchSize:          4 * mb,
				UpdateScratchSize:         2 * mb,
			}
		}
		return headless.DefaultSizes(info, counts)
	}
}

// eventDevice logs submissions and structure destruction in call order.
type eventDevice struct {
	*headless.Device
	events []string
}

func (d *eventDevice) EndSingleUse(cmd device.CommandBuffer) error {
	d.events = append(d.events, "submit")
	return d.Device.EndSingleUse(cmd)
}

func (d *eventDevice) DestroyAccelerationStructure(as device.AccelerationStructure) {
	d.events = append(d.events, "destroy "+as.Label())
	d.Device.DestroyAccelerationStructure(as)
}

func commandsOf(cmds []headless.Command, kind headless.CommandKind) []headless.Command {
	var out []headless.Command
	for _, c := range cmds {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func TestBuildSplitsBatchesAtCeiling(t *testing.T) {
	dev := headless.New(headless.WithSizeFunc(bottomLevelSize(100 * mb)))
	b := NewBuilder(dev, DefaultConfig())

	if err := b.Build(newInstances(3), WithCompaction(false)); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := b.Stats().Batches; got != 2 {
		t.Fatalf("Stats().Batches = %d, want 2", got)
	}
	if got := b.Stats().LargestBatch; got != 200*mb {
		t.Fatalf("Stats().LargestBatch = %d, want %d", got, 200*mb)
	}

	var perSubmission []int
	for _, c := range commandsOf(dev.Commands(), headless.CommandBuild) {
		if c.BuildType != device.AccelerationStructureTypeBottomLevel {
			continue
		}
		for len(perSubmission) < c.Submission {
			perSubmission = append(perSubmission, 0)
		}
		perSubmission[c.Submission-1]++
	}
	if !slices.Equal(perSubmission, []int{2, 1}) {
		t.Fatalf("bottom-level builds per submission = %v, want [2 1]", perSubmission)
	}
	if b.BlasCount() != 3 {
		t.Fatalf("BlasCount() = %d, want 3", b.BlasCount())
	}
}

func TestScratchSizedPerBatch(t *testing.T) {
	var scratch []device.DeviceSize
	dev := headless.New(
		headless.WithSizeFunc(func(info *device.BuildGeometryInfo, counts []uint32) device.BuildSizes {
			if info.Type != device.AccelerationStructureTypeBottomLevel {
				return headless.DefaultSizes(info, counts)
			}
			return device.BuildSizes{
				AccelerationStructureSize: 100 * mb,
				BuildScratchSize:          device.DeviceSize(counts[0]) * 1024,
			}
		}),
		headless.WithAllocationHook(func(desc *device.BufferDescriptor) error {
			if strings.HasPrefix(desc.Label, "blas-scratch") {
				scratch = append(scratch, desc.Size)
			}
			return nil
		}),
	)
	instances := newInstances(3)
	for i, triangles := range []uint32{12, 48, 6} {
		instances[i].Mesh.(*testMesh).triangles = triangles
	}

	b := NewBuilder(dev, DefaultConfig())
	if err := b.Build(instances, WithCompaction(false)); err != nil {
		t.Fatalf("Build: %v", err)
	}
	// batches [0 1] and [2]
	want := []device.DeviceSize{48 * 1024, 6 * 1024}
	if !slices.Equal(scratch, want) {
		t.Fatalf("scratch allocations = %v, want %v", scratch, want)
	}
	for _, l := range dev.LiveObjects() {
		if strings.Contains(l, "scratch") {
			t.Errorf("scratch %s still alive", l)
		}
	}
}

func TestBuildCompactsStructures(t *testing.T) {
	hd := headless.New(
		headless.WithSizeFunc(bottomLevelSize(100*mb)),
		headless.WithCompactedSizeFunc(func(label string, size device.DeviceSize) device.DeviceSize {
			if size == 100*mb {
				return 40 * mb
			}
			return size
		}),
	)
	dev := &eventDevice{Device: hd}
	b := NewBuilder(dev, DefaultConfig())

	if err := b.Build(newInstances(1)); err != nil {
		t.Fatalf("Build: %v", err)
	}

	blas := b.Blas(0)
	if blas.Size != 40*mb || blas.Buffer.Size() != 40*mb {
		t.Fatalf("compacted structure is %d bytes with a %d byte buffer, want 40MB", blas.Size, blas.Buffer.Size())
	}
	if b.BlasDeviceAddress(0) != hd.AccelerationStructureAddress(blas.Handle) {
		t.Fatalf("BLAS address does not point at the compacted structure")
	}

	copies := commandsOf(hd.Commands(), headless.CommandCopyStructure)
	if len(copies) != 1 || copies[0].CopyMode != device.CopyModeCompact {
		t.Fatalf("compacting copies = %+v", copies)
	}
	original := copies[0].Src
	if slices.Contains(hd.LiveObjects(), original) {
		t.Fatalf("original structure %s still alive", original)
	}

	copyAt := slices.Index(dev.events, "submit")
	copyAt += 1 + slices.Index(dev.events[copyAt+1:], "submit")
	destroyAt := slices.Index(dev.events, "destroy "+original)
	if destroyAt < copyAt {
		t.Fatalf("original destroyed before the compacting copy was submitted: %v", dev.events)
	}

	stats := b.Stats()
	if stats.UncompactedBytes != 100*mb || stats.CompactedBytes != 40*mb {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestBuildRejectsGrowingCompactedSize(t *testing.T) {
	dev := headless.New(
		headless.WithCompactedSizeFunc(func(label string, size device.DeviceSize) device.DeviceSize { return size + 1 }),
	)
	b := NewBuilder(dev, DefaultConfig())

	err := b.Build(newInstances(2))
	if !errors.Is(err, core.ErrInvalidCompactedSize) {
		t.Fatalf("err = %v, want ErrInvalidCompactedSize", err)
	}
	if live := dev.LiveObjects(); len(live) != 0 {
		t.Fatalf("failed build leaked %v", live)
	}
	if b.Tlas() != nil || b.BlasCount() != 0 {
		t.Fatalf("failed build exposed structures")
	}
}

func TestTlasInstanceCount(t *testing.T) {
	for _, m := range []int{0, 1, 5} {
		dev := headless.New()
		b := NewBuilder(dev, DefaultConfig())
		if err := b.Build(newInstances(m)); err != nil {
			t.Fatalf("Build(%d): %v", m, err)
		}

		var top []headless.Command
		for _, c := range commandsOf(dev.Commands(), headless.CommandBuild) {
			if c.BuildType == device.AccelerationStructureTypeTopLevel {
				top = append(top, c)
			}
		}
		if len(top) != 1 || top[0].PrimitiveCount != uint32(m) {
			t.Fatalf("M=%d: top-level builds = %+v", m, top)
		}
		if b.InstanceCount() != m || b.BlasCount() != m {
			t.Fatalf("M=%d: InstanceCount=%d BlasCount=%d", m, b.InstanceCount(), b.BlasCount())
		}
		if b.TlasDeviceAddress() == 0 || !dev.IsBuilt(b.Tlas().Handle) {
			t.Fatalf("M=%d: top-level structure not built", m)
		}
		if b.InstanceBuffer().Size() < InstanceRecordSize {
			t.Fatalf("M=%d: instance buffer of %d bytes", m, b.InstanceBuffer().Size())
		}
	}
}

func TestTlasInstanceRecordsReferenceBlas(t *testing.T) {
	dev := headless.New()
	b := NewBuilder(dev, DefaultConfig())
	instances := newInstances(4)
	if err := b.Build(instances); err != nil {
		t.Fatalf("Build: %v", err)
	}

	data := dev.BufferData(b.InstanceBuffer())
	for i := range instances {
		rec := DecodeInstanceRecord(data[i*InstanceRecordSize:])
		if rec.Reference != b.BlasDeviceAddress(i) {
			t.Errorf("record %d references %#x, want %#x", i, rec.Reference, b.BlasDeviceAddress(i))
		}
		if rec.CustomIndex != uint32(i) || rec.Mask != 0xFF {
			t.Errorf("record %d index %d mask %#x", i, rec.CustomIndex, rec.Mask)
		}
		if rec.Transform[3] != float32(i) {
			t.Errorf("record %d x translation %f", i, rec.Transform[3])
		}
	}
}

func TestBuildRecordsOnComputeQueue(t *testing.T) {
	dev := headless.New()
	b := NewBuilder(dev, DefaultConfig())
	instances := newInstances(3)
	if err := b.Build(instances); err != nil {
		t.Fatalf("Build: %v", err)
	}
	instances[0].Transform = math.NewMat4Translation(math.NewVec3(0, 5, 0))
	if err := b.UpdateTlas(instances); err != nil {
		t.Fatalf("UpdateTlas: %v", err)
	}

	cmds := dev.Commands()
	if len(commandsOf(cmds, headless.CommandCopyStructure)) != 3 {
		t.Fatal("expected the compaction copies to be recorded")
	}
	for _, c := range cmds {
		if c.Queue != device.QueueCompute {
			t.Fatalf("%v command of submission %d recorded on the %s queue", c.Kind, c.Submission, c.Queue)
		}
	}
}

func TestBuildBarrierOrdering(t *testing.T) {
	dev := headless.New()
	b := NewBuilder(dev, DefaultConfig())
	if err := b.Build(newInstances(3), WithCompaction(false)); err != nil {
		t.Fatalf("Build: %v", err)
	}

	cmds := dev.Commands()
	for i, c := range cmds {
		if c.Kind != headless.CommandBuild || c.BuildType != device.AccelerationStructureTypeBottomLevel {
			continue
		}
		if i+1 >= len(cmds) || cmds[i+1].Kind != headless.CommandBarrier || cmds[i+1].Barrier != blasBuildBarrier {
			t.Fatalf("bottom-level build %d not followed by a structure write -> read barrier", i)
		}
	}

	var tlas []headless.CommandKind
	last := cmds[len(cmds)-1].Submission
	for _, c := range cmds {
		if c.Submission == last {
			tlas = append(tlas, c.Kind)
		}
	}
	want := []headless.CommandKind{headless.CommandCopyBuffer, headless.CommandBarrier, headless.CommandBuild}
	if !slices.Equal(tlas, want) {
		t.Fatalf("top-level submission = %v, want %v", tlas, want)
	}
	for _, c := range cmds {
		if c.Submission == last && c.Kind == headless.CommandBarrier && c.Barrier != instanceUploadBarrier {
			t.Fatalf("instance upload barrier = %+v", c.Barrier)
		}
	}
}

func TestScratchAndStagingAreReleased(t *testing.T) {
	dev := headless.New()
	b := NewBuilder(dev, DefaultConfig())
	if err := b.Build(newInstances(2)); err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, l := range dev.LiveObjects() {
		if strings.Contains(l, "scratch") || strings.Contains(l, "staging") || strings.HasPrefix(l, "query-pool") {
			t.Errorf("transient object %s still alive", l)
		}
	}

	b.Destroy()
	if live := dev.LiveObjects(); len(live) != 0 {
		t.Fatalf("Destroy left %v alive", live)
	}
}

func TestUpdateTlas(t *testing.T) {
	dev := headless.New()
	b := NewBuilder(dev, DefaultConfig())
	instances := newInstances(2)
	if err := b.Build(instances); err != nil {
		t.Fatalf("Build: %v", err)
	}
	tlas := b.TlasDeviceAddress()

	moved := slices.Clone(instances)
	moved[1].Transform = math.NewMat4Translation(math.NewVec3(0, 5, 0))
	if err := b.UpdateTlas(moved); err != nil {
		t.Fatalf("UpdateTlas: %v", err)
	}
	if b.TlasDeviceAddress() != tlas {
		t.Fatalf("update moved the top-level structure")
	}
	cmds := dev.Commands()
	if last := cmds[len(cmds)-1]; last.Kind != headless.CommandBuild || last.BuildMode != device.BuildModeUpdate {
		t.Fatalf("last command = %+v, want an update build", last)
	}
	rec := DecodeInstanceRecord(dev.BufferData(b.InstanceBuffer())[InstanceRecordSize:])
	if rec.Transform[7] != 5 {
		t.Fatalf("updated record y translation = %f", rec.Transform[7])
	}

	if err := b.UpdateTlas(newInstances(3)); !errors.Is(err, core.ErrTopologyChanged) {
		t.Fatalf("update with a new instance count: err = %v", err)
	}
	swapped := slices.Clone(instances)
	swapped[0].Mesh, swapped[1].Mesh = swapped[1].Mesh, swapped[0].Mesh
	if err := b.UpdateTlas(swapped); !errors.Is(err, core.ErrTopologyChanged) {
		t.Fatalf("update with swapped meshes: err = %v", err)
	}
}

func TestUpdateTlasRequirements(t *testing.T) {
	dev := headless.New()
	b := NewBuilder(dev, DefaultConfig())
	if err := b.UpdateTlas(nil); !errors.Is(err, core.ErrNoAccelerationStructure) {
		t.Fatalf("update before build: err = %v", err)
	}

	if err := b.Build(newInstances(1), WithAllowUpdate(false)); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := b.UpdateTlas(newInstances(1)); err == nil {
		t.Fatal("expected update of a structure built without allow-update to fail")
	}
}

func TestBlasIndexOutOfRangePanics(t *testing.T) {
	b := NewBuilder(headless.New(), DefaultConfig())
	if err := b.Build(newInstances(1)); err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for BLAS index 1 of 1")
		}
	}()
	b.BlasDeviceAddress(1)
}

func TestFailedBuildKeepsPreviousScene(t *testing.T) {
	failTopLevel := false
	dev := headless.New(headless.WithAllocationHook(func(desc *device.BufferDescriptor) error {
		if failTopLevel && strings.HasPrefix(desc.Label, "tlas") {
			return core.ErrOutOfDeviceMemory
		}
		return nil
	}))
	b := NewBuilder(dev, DefaultConfig())
	if err := b.Build(newInstances(2)); err != nil {
		t.Fatalf("Build: %v", err)
	}
	before := dev.LiveObjects()
	tlas := b.TlasDeviceAddress()

	failTopLevel = true
	err := b.Build(newInstances(3))
	if !errors.Is(err, core.ErrOutOfDeviceMemory) {
		t.Fatalf("err = %v, want ErrOutOfDeviceMemory", err)
	}
	if !slices.Equal(dev.LiveObjects(), before) {
		t.Fatalf("failed build changed live objects:\n got %v\nwant %v", dev.LiveObjects(), before)
	}
	if b.TlasDeviceAddress() != tlas || b.BlasCount() != 2 {
		t.Fatalf("failed build replaced the previous scene")
	}
}

func TestRebuildRetiresThroughQueue(t *testing.T) {
	dev := headless.New()
	q := reclaim.New(dev)
	q.Init(2)
	b := NewBuilder(dev, DefaultConfig())
	b.SetRetirer(q)

	if err := b.Build(newInstances(2)); err != nil {
		t.Fatalf("Build: %v", err)
	}
	old := b.Tlas().Label()
	liveAfterFirst := dev.LiveCount()

	if err := b.Build(newInstances(2)); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if got := q.Pending(reclaim.KindAccelerationStructure); got != 3 {
		t.Fatalf("pending structures = %d, want 3", got)
	}
	if got := q.Pending(reclaim.KindBuffer); got != 1 {
		t.Fatalf("pending buffers = %d, want 1", got)
	}
	if !slices.Contains(dev.LiveObjects(), old) {
		t.Fatalf("retired structure %s destroyed immediately", old)
	}

	for i := 0; i < 3; i++ {
		q.Tick()
	}
	if slices.Contains(dev.LiveObjects(), old) {
		t.Fatalf("retired structure %s still alive after three ticks", old)
	}
	if dev.LiveCount() != liveAfterFirst {
		t.Fatalf("live objects = %d, want %d", dev.LiveCount(), liveAfterFirst)
	}
}

func TestAccelReleaseIsIdempotent(t *testing.T) {
	dev := headless.New()
	as, err := createAccel(dev, "once", device.AccelerationStructureTypeBottomLevel, 1024)
	if err != nil {
		t.Fatal(err)
	}
	as.Release(dev)
	as.Release(dev)
	as.Retire(reclaim.New(dev))
	if dev.LiveCount() != 0 || !as.Released() {
		t.Fatalf("release left %v alive", dev.LiveObjects())
	}
}

func TestNewBlasInput(t *testing.T) {
	in := NewBlasInput(&testMesh{base: 0x1000, vertices: 24, triangles: 12})
	if in.Triangles.MaxVertex != 23 || in.Range.PrimitiveCount != 12 {
		t.Fatalf("max vertex %d primitives %d", in.Triangles.MaxVertex, in.Range.PrimitiveCount)
	}
	if in.Triangles.VertexFormat != device.VertexFormatR32G32B32Sfloat ||
		in.Triangles.IndexType != device.IndexTypeUint32 || !in.Triangles.Opaque {
		t.Fatalf("triangles = %+v", in.Triangles)
	}
	if in.Triangles.IndexAddress != 0x9000 || in.Triangles.VertexStride != 12 {
		t.Fatalf("addresses = %+v", in.Triangles)
	}
}
