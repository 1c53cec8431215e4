package systems

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/math"
	"github.com/spaghettifunk/vulture/engine/renderer/headless"
	"github.com/spaghettifunk/vulture/engine/renderer/metadata"
)

type scene struct {
	dev      *headless.Device
	rt       *RayTracingSystem
	geometry *GeometrySystem
	meshes   []*metadata.Mesh
}

func newScene(t *testing.T, meshCount int) *scene {
	t.Helper()
	dev := headless.New()
	rt := NewRayTracingSystem(dev, core.DefaultConfig().Renderer)
	if err := rt.Initialize(); err != nil {
		t.Fatal(err)
	}
	gs, err := NewGeometrySystem(&GeometrySystemConfig{MaxGeometryCount: 64}, dev, rt)
	if err != nil {
		t.Fatal(err)
	}

	s := &scene{dev: dev, rt: rt, geometry: gs}
	for i := 0; i < meshCount; i++ {
		s.addMesh(t, float32(i)*3)
	}
	return s
}

func (s *scene) addMesh(t *testing.T, x float32) {
	t.Helper()
	g, err := s.geometry.AcquireFromConfig(GenerateCubeConfig(1, 1, 1, "cube"), true)
	if err != nil {
		t.Fatal(err)
	}
	s.meshes = append(s.meshes, &metadata.Mesh{
		UniqueID:   uint32(len(s.meshes)),
		Geometries: []*metadata.Geometry{g},
		Transform:  math.TransformFromPosition(math.NewVec3(x, 0, 0)),
	})
}

func (s *scene) frames(n int) {
	for i := 0; i < n; i++ {
		s.rt.OnFrameBoundary()
	}
}

func TestInstancesFlattenGeometries(t *testing.T) {
	s := newScene(t, 0)
	a, _ := s.geometry.AcquireFromConfig(GenerateCubeConfig(1, 1, 1, "a"), true)
	b, _ := s.geometry.AcquireFromConfig(GeneratePlaneConfig(1, 1, 2, 2, "b"), true)
	meshes := []*metadata.Mesh{
		{Geometries: []*metadata.Geometry{a, b}, Transform: math.TransformFromPosition(math.NewVec3(1, 2, 3))},
		nil,
		{Geometries: []*metadata.Geometry{a}},
	}

	instances := Instances(meshes)
	if len(instances) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(instances))
	}
	if instances[0].Mesh != a || instances[1].Mesh != b || instances[2].Mesh != a {
		t.Fatal("instances do not follow mesh and geometry order")
	}
	if instances[0].Transform != meshes[0].Transform.GetWorld() {
		t.Fatal("instance does not carry the world matrix of its mesh")
	}
	if instances[2].Transform != math.NewMat4Identity() {
		t.Fatal("mesh without transform should be placed with the identity")
	}
}

func TestRebuildSceneRetiresPreviousStructures(t *testing.T) {
	s := newScene(t, 3)
	if err := s.rt.RebuildScene(s.meshes); err != nil {
		t.Fatal(err)
	}
	if s.rt.InstanceCount() != 3 || s.rt.TlasAddress() == 0 {
		t.Fatalf("instances %d, tlas address %#x", s.rt.InstanceCount(), s.rt.TlasAddress())
	}
	for i := 0; i < 3; i++ {
		if s.rt.BlasAddress(i) == 0 {
			t.Fatalf("blas %d has no address", i)
		}
	}
	live := s.dev.LiveCount()
	oldTlas := s.rt.TlasAddress()

	if err := s.rt.RebuildScene(s.meshes); err != nil {
		t.Fatal(err)
	}
	if s.rt.TlasAddress() == oldTlas {
		t.Fatal("rebuild reused the old top-level structure")
	}
	if s.rt.Queue().Len() == 0 {
		t.Fatal("old structures were not handed to the reclamation queue")
	}
	if s.dev.LiveCount() <= live {
		t.Fatal("old structures destroyed while frames may still use them")
	}

	frames := int(core.DefaultFramesInFlight)
	s.frames(frames)
	if s.rt.Queue().Len() == 0 {
		t.Fatalf("old structures destroyed after only %d frames", frames)
	}
	s.frames(1)
	if s.rt.Queue().Len() != 0 {
		t.Fatalf("%d resources still pending", s.rt.Queue().Len())
	}
	if s.dev.LiveCount() != live {
		t.Fatalf("live objects %d, expected %d", s.dev.LiveCount(), live)
	}
}

func TestUpdateSceneRefitsOrRebuilds(t *testing.T) {
	s := newScene(t, 2)
	if err := s.rt.RebuildScene(s.meshes); err != nil {
		t.Fatal(err)
	}
	blas := s.rt.BlasAddress(0)
	tlas := s.rt.TlasAddress()

	s.meshes[0].Transform.Translate(math.NewVec3(0, 1, 0))
	if err := s.rt.UpdateScene(s.meshes); err != nil {
		t.Fatal(err)
	}
	if s.rt.TlasAddress() != tlas || s.rt.BlasAddress(0) != blas {
		t.Fatal("refit must keep the existing structures")
	}
	if s.rt.Queue().Len() != 0 {
		t.Fatal("refit must not retire anything")
	}

	s.addMesh(t, 9)
	if err := s.rt.UpdateScene(s.meshes); err != nil {
		t.Fatal(err)
	}
	if s.rt.InstanceCount() != 3 {
		t.Fatalf("topology change should rebuild, instance count %d", s.rt.InstanceCount())
	}
	if s.rt.TlasAddress() == tlas {
		t.Fatal("rebuild kept the old top-level structure")
	}
}

func TestUpdateSceneBeforeBuildRebuilds(t *testing.T) {
	s := newScene(t, 1)
	if err := s.rt.UpdateScene(s.meshes); err != nil {
		t.Fatal(err)
	}
	if s.rt.InstanceCount() != 1 {
		t.Fatalf("expected a fresh build, got %d instances", s.rt.InstanceCount())
	}
}

func TestApplyConfig(t *testing.T) {
	s := newScene(t, 1)
	if err := s.rt.RebuildScene(s.meshes); err != nil {
		t.Fatal(err)
	}
	if err := s.rt.RebuildScene(s.meshes); err != nil {
		t.Fatal(err)
	}
	if s.rt.Queue().Len() == 0 {
		t.Fatal("expected retired structures")
	}

	cfg := core.DefaultConfig().Renderer
	cfg.FramesInFlight = 3
	cfg.BatchLimitMB = 64
	cfg.Compaction = false
	if err := s.rt.ApplyConfig(cfg); err != nil {
		t.Fatal(err)
	}
	if s.rt.Queue().FramesInFlight() != 3 || s.rt.Queue().Len() != 0 {
		t.Fatalf("queue frames %d, pending %d", s.rt.Queue().FramesInFlight(), s.rt.Queue().Len())
	}
	if s.dev.WaitIdleCount() != 1 {
		t.Fatalf("drain waited for the device %d times, want 1", s.dev.WaitIdleCount())
	}
	if got := s.rt.Builder().Config(); got.BatchLimit != 64_000_000 || got.Compaction {
		t.Fatalf("builder config not applied: %+v", got)
	}

	cfg.FramesInFlight = 0
	if err := s.rt.ApplyConfig(cfg); !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if s.rt.Config().FramesInFlight != 3 {
		t.Fatal("rejected configuration must not be adopted")
	}
}

func TestShutdownReleasesEverything(t *testing.T) {
	s := newScene(t, 4)
	if err := s.rt.RebuildScene(s.meshes); err != nil {
		t.Fatal(err)
	}
	if err := s.rt.RebuildScene(s.meshes[:2]); err != nil {
		t.Fatal(err)
	}
	if err := s.geometry.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := s.rt.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if s.dev.WaitIdleCount() != 1 {
		t.Fatalf("shutdown waited for the device %d times, want 1", s.dev.WaitIdleCount())
	}
	if s.dev.LiveCount() != 0 {
		t.Fatalf("live objects after shutdown: %v", s.dev.LiveObjects())
	}
}

func TestUseBeforeInitializePanics(t *testing.T) {
	rt := NewRayTracingSystem(headless.New(), core.DefaultConfig().Renderer)
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic")
		}
	}()
	_ = rt.RebuildScene(nil)
}

func TestInitializeRejectsZeroFrames(t *testing.T) {
	cfg := core.DefaultConfig().Renderer
	cfg.FramesInFlight = 0
	rt := NewRayTracingSystem(headless.New(), cfg)
	if err := rt.Initialize(); !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
