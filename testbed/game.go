package testbed

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/vulture/engine"
	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/math"
	"github.com/spaghettifunk/vulture/engine/renderer/metadata"
	"github.com/spaghettifunk/vulture/engine/systems"
)

// TestGame spins a grid of boxes above a floor. Transforms change every
// frame and are refit into the top-level structure; the whole scene is
// rebuilt every RebuildEvery frames.
type TestGame struct {
	*engine.Game
}

type SceneConfig struct {
	// Number of boxes placed on the grid.
	Boxes int
	// Full rebuild period, in frames. Zero only refits.
	RebuildEvery uint64
}

type gameState struct {
	scene         SceneConfig
	systemManager *systems.SystemManager

	meshes []*metadata.Mesh
	frame  uint64

	rebuilds uint64
	refits   uint64
}

func NewTestGame(app *engine.ApplicationConfig, scene SceneConfig) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: app,
			State:             &gameState{scene: scene},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(sm *systems.SystemManager) error {
	core.LogDebug("TestGame Initialize fn....")
	if sm == nil {
		return fmt.Errorf("the engine is not yet initialized with all the system managers")
	}

	state := g.state()
	state.systemManager = sm

	configs, err := generateBoxConfigs(sm.JobSystem, state.scene.Boxes)
	if err != nil {
		return err
	}

	side := 1
	for side*side < len(configs) {
		side++
	}
	for i, config := range configs {
		geometry, err := sm.GeometrySystem.AcquireFromConfig(config, true)
		if err != nil {
			return err
		}
		x := float32(i%side)*3 - float32(side)
		z := float32(i/side)*3 - float32(side)
		state.meshes = append(state.meshes, &metadata.Mesh{
			UniqueID:   uint32(i),
			Geometries: []*metadata.Geometry{geometry},
			Transform:  math.TransformFromPosition(math.NewVec3(x, 1, z)),
		})
	}

	// The floor reuses the default plane, rotated to lie in XZ.
	floor := math.TransformFromPosition(math.NewVec3(0, 0, 0))
	floor.SetRotation(math.NewQuatFromAxisAngle(math.NewVec3(1, 0, 0), -1.5707964, true))
	state.meshes = append(state.meshes, &metadata.Mesh{
		UniqueID:   uint32(len(configs)),
		Geometries: []*metadata.Geometry{sm.GeometrySystem.GetDefault()},
		Transform:  floor,
	})

	if err := sm.RayTracingSystem.RebuildScene(state.meshes); err != nil {
		return err
	}
	state.rebuilds++
	return nil
}

// generateBoxConfigs builds the vertex data of count boxes of growing size
// on the job system.
func generateBoxConfigs(js *systems.JobSystem, count int) ([]*metadata.GeometryConfig, error) {
	configs := make([]*metadata.GeometryConfig, count)
	var mu sync.Mutex
	var firstErr error
	for i := 0; i < count; i++ {
		js.Submit(systems.JobTask{
			Name: fmt.Sprintf("box-%d", i),
			Run: func() error {
				size := 0.5 + float32(i%4)*0.25
				configs[i] = systems.GenerateCubeConfig(size, size*2, size, fmt.Sprintf("box-%d", i))
				return nil
			},
			OnFailure: func(err error) {
				mu.Lock()
				defer mu.Unlock()
				if firstErr == nil {
					firstErr = err
				}
			},
		})
	}
	js.Wait()
	return configs, firstErr
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.state()
	rotation := math.NewQuatFromAxisAngle(math.NewVec3(0, 1, 0), float32(0.5*deltaTime), false)
	// Everything but the floor spins.
	for _, m := range state.meshes[:len(state.meshes)-1] {
		m.Transform.Rotate(rotation)
	}
	return nil
}

func (g *TestGame) Render(deltaTime float64) error {
	state := g.state()
	state.frame++
	rt := state.systemManager.RayTracingSystem

	if state.scene.RebuildEvery > 0 && state.frame%state.scene.RebuildEvery == 0 {
		if err := rt.RebuildScene(state.meshes); err != nil {
			return err
		}
		state.rebuilds++
		stats := rt.Builder().Stats()
		core.LogInfo("frame %d: rebuilt %d instances in %d batches, tlas at %#x",
			state.frame, stats.Instances, stats.Batches, rt.TlasAddress())
		return nil
	}

	if err := rt.UpdateScene(state.meshes); err != nil {
		return err
	}
	state.refits++
	return nil
}

func (g *TestGame) Shutdown() error {
	state := g.state()
	for _, m := range state.meshes {
		for _, geometry := range m.Geometries {
			state.systemManager.GeometrySystem.Release(geometry)
		}
	}
	core.LogInfo("testbed: %d rebuilds, %d refits over %d frames", state.rebuilds, state.refits, state.frame)
	state.meshes = nil
	return nil
}

// Rebuilds and Refits report how the scene was kept up to date.
func (g *TestGame) Rebuilds() uint64 { return g.state().rebuilds }
func (g *TestGame) Refits() uint64   { return g.state().refits }
