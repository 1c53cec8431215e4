package headless

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

func newStructure(t *testing.T, d *Device, label string, size device.DeviceSize) device.AccelerationStructure {
	t.Helper()
	buf, err := d.CreateBuffer(&device.BufferDescriptor{
		Label: label + "-buffer",
		Size:  size,
		Usage: device.BufferUsageAccelerationStructureStorage | device.BufferUsageShaderDeviceAddress,
	})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	as, err := d.CreateAccelerationStructure(&device.AccelerationStructureDescriptor{
		Label:  label,
		Type:   device.AccelerationStructureTypeBottomLevel,
		Buffer: buf,
		Size:   size,
	})
	if err != nil {
		t.Fatalf("CreateAccelerationStructure: %v", err)
	}
	return as
}

func TestDoubleDestroyPanics(t *testing.T) {
	d := New()
	img := d.CreateImage("albedo", 1)
	d.DestroyImage(img)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double destroy")
		}
	}()
	d.DestroyImage(img)
}

func TestMemoryBudget(t *testing.T) {
	d := New(WithMemoryBudget(1024))

	a, err := d.CreateBuffer(&device.BufferDescriptor{Label: "a", Size: 1000})
	if err != nil {
		t.Fatalf("first allocation failed: %v", err)
	}
	_, err = d.CreateBuffer(&device.BufferDescriptor{Label: "b", Size: 100})
	if !errors.Is(err, core.ErrOutOfDeviceMemory) {
		t.Fatalf("err = %v, want ErrOutOfDeviceMemory", err)
	}

	d.DestroyBuffer(a)
	if d.Allocated() != 0 {
		t.Fatalf("Allocated() = %d after destroy", d.Allocated())
	}
	if d.PeakAllocated() != 1000 {
		t.Fatalf("PeakAllocated() = %d, want 1000", d.PeakAllocated())
	}
}

func TestScratchAddressesAreAligned(t *testing.T) {
	d := New(WithScratchAlignment(512))
	for i := 0; i < 4; i++ {
		b, err := d.CreateBuffer(&device.BufferDescriptor{
			Size:      100,
			Usage:     device.BufferUsageStorage | device.BufferUsageShaderDeviceAddress,
			Alignment: 512,
		})
		if err != nil {
			t.Fatal(err)
		}
		if b.DeviceAddress()%512 != 0 {
			t.Fatalf("address %#x not aligned to 512", b.DeviceAddress())
		}
	}
}

func TestCompactedSizeQuery(t *testing.T) {
	d := New(
		WithCompactedSizeFunc(func(label string, size device.DeviceSize) device.DeviceSize { return size / 4 }),
	)
	as := newStructure(t, d, "blas", 4096)
	scratch, _ := d.CreateBuffer(&device.BufferDescriptor{
		Label: "scratch", Size: 1024, Usage: device.BufferUsageShaderDeviceAddress,
	})
	qp, _ := d.CreateQueryPool(device.QueryTypeCompactedSize, 1)

	cmd, _ := d.BeginSingleUse(device.QueueGraphics)
	cmd.ResetQueryPool(qp, 0, 1)
	cmd.BuildAccelerationStructure(&device.BuildGeometryInfo{
		Type:           device.AccelerationStructureTypeBottomLevel,
		Flags:          device.BuildFlagAllowCompaction,
		Triangles:      &device.TrianglesGeometry{},
		Dst:            as,
		ScratchAddress: scratch.DeviceAddress(),
	}, []device.BuildRangeInfo{{PrimitiveCount: 12}})
	cmd.WriteAccelerationStructureCompactedSize(as, qp, 0)
	if err := d.EndSingleUse(cmd); err != nil {
		t.Fatalf("EndSingleUse: %v", err)
	}

	sizes, err := d.GetQueryPoolResults(qp, 0, 1)
	if err != nil {
		t.Fatalf("GetQueryPoolResults: %v", err)
	}
	if sizes[0] != 1024 {
		t.Fatalf("compacted size = %d, want 1024", sizes[0])
	}
	if d.StructurePrimitiveCount(as) != 12 {
		t.Fatalf("primitive count = %d, want 12", d.StructurePrimitiveCount(as))
	}
}

func TestUnwrittenQueryFails(t *testing.T) {
	d := New()
	qp, _ := d.CreateQueryPool(device.QueryTypeCompactedSize, 2)
	if _, err := d.GetQueryPoolResults(qp, 0, 2); err == nil {
		t.Fatal("expected error reading queries that were never written")
	}
}

func TestUpdateRequiresAllowUpdate(t *testing.T) {
	d := New()
	as := newStructure(t, d, "blas", 4096)
	scratch, _ := d.CreateBuffer(&device.BufferDescriptor{Size: 1024, Usage: device.BufferUsageShaderDeviceAddress})

	build := &device.BuildGeometryInfo{
		Type:           device.AccelerationStructureTypeBottomLevel,
		Triangles:      &device.TrianglesGeometry{},
		Dst:            as,
		ScratchAddress: scratch.DeviceAddress(),
	}
	cmd, _ := d.BeginSingleUse(device.QueueGraphics)
	cmd.BuildAccelerationStructure(build, []device.BuildRangeInfo{{PrimitiveCount: 1}})
	if err := d.EndSingleUse(cmd); err != nil {
		t.Fatal(err)
	}

	update := *build
	update.Mode = device.BuildModeUpdate
	update.Src = as
	cmd, _ = d.BeginSingleUse(device.QueueGraphics)
	cmd.BuildAccelerationStructure(&update, []device.BuildRangeInfo{{PrimitiveCount: 1}})
	if err := d.EndSingleUse(cmd); err == nil {
		t.Fatal("expected update of a structure built without allow-update to fail")
	}
}

func TestStructureMustBeDestroyedBeforeItsBuffer(t *testing.T) {
	d := New()
	as := newStructure(t, d, "blas", 256)
	d.DestroyBuffer(as.Buffer())

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic destroying a structure after its buffer")
		}
	}()
	d.DestroyAccelerationStructure(as)
}

func TestBufferCopyMovesData(t *testing.T) {
	d := New()
	staging, _ := d.CreateBuffer(&device.BufferDescriptor{Label: "staging", Size: 4, Memory: device.MemoryHostVisible})
	target, _ := d.CreateBuffer(&device.BufferDescriptor{Label: "target", Size: 4})

	if err := d.WriteBuffer(target, 0, []byte{1}); err == nil {
		t.Fatal("expected write into device-local buffer to fail")
	}
	if err := d.WriteBuffer(staging, 0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	cmd, _ := d.BeginSingleUse(device.QueueTransfer)
	cmd.CopyBuffer(staging, target, 4)
	if err := d.EndSingleUse(cmd); err != nil {
		t.Fatal(err)
	}
	got := d.BufferData(target)
	if len(got) != 4 || got[3] != 4 {
		t.Fatalf("target data = %v", got)
	}
	cmds := d.Commands()
	if len(cmds) != 1 || cmds[0].Kind != CommandCopyBuffer || cmds[0].Queue != device.QueueTransfer {
		t.Fatalf("command log = %+v", cmds)
	}
}
