package systems

import (
	"runtime"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

type SystemManager struct {
	JobSystem        *JobSystem
	GeometrySystem   *GeometrySystem
	RayTracingSystem *RayTracingSystem
}

func NewSystemManager(dev device.Device, config *core.Config) (*SystemManager, error) {
	js, err := NewJobSystem(runtime.NumCPU(), 64)
	if err != nil {
		return nil, err
	}

	rts := NewRayTracingSystem(dev, config.Renderer)
	if err := rts.Initialize(); err != nil {
		_ = js.Shutdown()
		return nil, err
	}

	gs, err := NewGeometrySystem(&GeometrySystemConfig{
		MaxGeometryCount: 4096,
	}, dev, rts)
	if err != nil {
		_ = rts.Shutdown()
		_ = js.Shutdown()
		return nil, err
	}

	return &SystemManager{
		JobSystem:        js,
		GeometrySystem:   gs,
		RayTracingSystem: rts,
	}, nil
}

// ApplyConfig forwards a reloaded configuration to the systems that react
// to it.
func (sm *SystemManager) ApplyConfig(config *core.Config) error {
	core.SetLogLevel(config.Log.Level)
	return sm.RayTracingSystem.ApplyConfig(config.Renderer)
}

// Shutdown stops the systems in reverse dependency order. Geometry buffers
// are trashed before the ray tracing system flushes its queue.
func (sm *SystemManager) Shutdown() error {
	if err := sm.JobSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.GeometrySystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.RayTracingSystem.Shutdown(); err != nil {
		return err
	}
	return nil
}
