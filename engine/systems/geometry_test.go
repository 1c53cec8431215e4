package systems

import (
	"testing"

	"github.com/spaghettifunk/vulture/engine/renderer/device"
	"github.com/spaghettifunk/vulture/engine/renderer/headless"
	"github.com/spaghettifunk/vulture/engine/renderer/metadata"
)

type recordingTrasher struct {
	dev     *headless.Device
	trashed []device.Buffer
}

func (r *recordingTrasher) TrashBuffer(b device.Buffer) {
	r.trashed = append(r.trashed, b)
	r.dev.DestroyBuffer(b)
}

func TestGenerateCubeConfig(t *testing.T) {
	config := GenerateCubeConfig(2, 4, 6, "box")
	if len(config.Vertices) != 24 || len(config.Indices) != 36 {
		t.Fatalf("cube has %d vertices and %d indices", len(config.Vertices), len(config.Indices))
	}
	for _, idx := range config.Indices {
		if int(idx) >= len(config.Vertices) {
			t.Fatalf("index %d out of range", idx)
		}
	}
	for _, v := range config.Vertices {
		p := v.Position
		if abs(p.X) != 1 || abs(p.Y) != 2 || abs(p.Z) != 3 {
			t.Fatalf("vertex %+v is not a corner of the box", p)
		}
	}
}

func TestGeneratePlaneConfigSegments(t *testing.T) {
	config := GeneratePlaneConfig(4, 2, 4, 2, "floor")
	if len(config.Vertices) != 4*2*4 || len(config.Indices) != 4*2*6 {
		t.Fatalf("plane has %d vertices and %d indices", len(config.Vertices), len(config.Indices))
	}
	for _, idx := range config.Indices {
		if int(idx) >= len(config.Vertices) {
			t.Fatalf("index %d out of range", idx)
		}
	}

	zero := GeneratePlaneConfig(0, 0, 0, 0, "")
	if len(zero.Vertices) != 4 || len(zero.Indices) != 6 {
		t.Fatalf("degenerate arguments should default to one segment, got %d vertices", len(zero.Vertices))
	}
}

func TestGeometrySystemAcquireRelease(t *testing.T) {
	dev := headless.New()
	trash := &recordingTrasher{dev: dev}
	gs, err := NewGeometrySystem(&GeometrySystemConfig{MaxGeometryCount: 3}, dev, trash)
	if err != nil {
		t.Fatal(err)
	}
	if gs.GetDefault() == nil || gs.GetDefault().Name != metadata.DefaultGeometryName {
		t.Fatalf("default geometry missing: %+v", gs.GetDefault())
	}

	g, err := gs.AcquireFromConfig(GenerateCubeConfig(1, 1, 1, "cube"), true)
	if err != nil {
		t.Fatal(err)
	}
	if g.VertexAddress() == 0 || g.IndexAddress() == 0 {
		t.Fatal("geometry buffers have no device address")
	}
	if g.IndexCount() != 36 || g.VertexCount() != 24 {
		t.Fatalf("unexpected counts %d/%d", g.VertexCount(), g.IndexCount())
	}

	same, err := gs.AcquireByID(g.ID)
	if err != nil || same != g {
		t.Fatalf("AcquireByID(%d) = %v, %v", g.ID, same, err)
	}

	gs.Release(g)
	if len(trash.trashed) != 0 {
		t.Fatal("geometry released while still referenced")
	}
	gs.Release(g)
	if len(trash.trashed) != 2 {
		t.Fatalf("expected vertex and index buffers trashed, got %d", len(trash.trashed))
	}
	if g.ID != metadata.InvalidID || g.Generation != metadata.InvalidGeneration {
		t.Fatalf("released geometry not invalidated: id %d generation %d", g.ID, g.Generation)
	}
	if gs.Count() != 1 {
		t.Fatalf("expected only the default geometry, got %d", gs.Count())
	}

	if err := gs.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if dev.LiveCount() != 0 {
		t.Fatalf("live objects after shutdown: %v", dev.LiveObjects())
	}
}

func TestGeometrySystemFull(t *testing.T) {
	dev := headless.New()
	gs, err := NewGeometrySystem(&GeometrySystemConfig{MaxGeometryCount: 2}, dev, &recordingTrasher{dev: dev})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gs.AcquireFromConfig(GenerateCubeConfig(1, 1, 1, "a"), false); err != nil {
		t.Fatal(err)
	}
	if _, err := gs.AcquireFromConfig(GenerateCubeConfig(1, 1, 1, "b"), false); err == nil {
		t.Fatal("expected an error once every slot is taken")
	}
	if _, err := gs.AcquireByID(7); err == nil {
		t.Fatal("expected an error for an unknown id")
	}
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
