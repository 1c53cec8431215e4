package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
	"github.com/spaghettifunk/vulture/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released every system
	EngineStageShutdown
)

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	config        *core.Config
	dev           device.Device
	systemManager *systems.SystemManager
	watcher       *core.ConfigWatcher
	clock         *core.Clock
	metrics       *core.FrameMetrics

	isRunning  atomic.Bool
	frameCount uint64
}

func New(g *Game, dev device.Device, config *core.Config) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		err := fmt.Errorf("engine needs a game with an application configuration")
		core.LogError(err.Error())
		return nil, err
	}
	if config == nil {
		config = core.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       config,
		dev:          dev,
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing
	core.SetLogLevel(e.config.Log.Level)

	sm, err := systems.NewSystemManager(e.dev, e.config)
	if err != nil {
		return err
	}
	e.systemManager = sm

	if path := e.gameInstance.ApplicationConfig.ConfigPath; path != "" {
		w, err := core.NewConfigWatcher(path)
		if err != nil {
			// hot reload is a convenience, the engine runs without it
			core.LogWarn("not watching %s: %s", path, err)
		} else {
			e.watcher = w
		}
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(sm); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	core.LogInfo("%s initialized.", e.gameInstance.ApplicationConfig.Name)
	return nil
}

func (e *Engine) SystemManager() *systems.SystemManager { return e.systemManager }
func (e *Engine) Stage() Stage                          { return e.currentStage }
func (e *Engine) FrameCount() uint64                    { return e.frameCount }
func (e *Engine) Metrics() *core.FrameMetrics           { return e.metrics }

// Stop asks the main loop to return after the current frame.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		err := fmt.Errorf("engine run: %w", core.ErrNotInitialized)
		core.LogError(err.Error())
		return err
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	app := e.gameInstance.ApplicationConfig
	var targetFrameTime time.Duration
	if app.TargetFrameRate > 0 {
		targetFrameTime = time.Duration(float64(time.Second) / app.TargetFrameRate)
	}

	e.clock.Start()
	lastTime := e.clock.Elapsed()
	for e.isRunning.Load() {
		select {
		case <-ctx.Done():
			e.isRunning.Store(false)
			continue
		default:
		}

		e.applyConfigUpdates()

		e.clock.Update()
		frameStart := e.clock.Elapsed()
		delta := (frameStart - lastTime).Seconds()

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("Game update failed, shutting down: %s", err)
				e.isRunning.Store(false)
				return err
			}
		}
		if e.gameInstance.FnRender != nil {
			if err := e.gameInstance.FnRender(delta); err != nil {
				core.LogError("Game render failed, shutting down: %s", err)
				e.isRunning.Store(false)
				return err
			}
		}

		// Every single-use submission of the frame has been waited on, so
		// the frame boundary can advance the reclamation queue.
		e.systemManager.RayTracingSystem.OnFrameBoundary()
		e.frameCount++
		lastTime = frameStart

		e.clock.Update()
		frameTime := e.clock.Elapsed() - frameStart
		e.metrics.Update(frameTime)

		if app.MaxFrames > 0 && e.frameCount >= app.MaxFrames {
			e.isRunning.Store(false)
		}

		if remaining := targetFrameTime - frameTime; remaining > 0 {
			time.Sleep(remaining)
		}
	}
	e.clock.Stop()
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) applyConfigUpdates() {
	if e.watcher == nil {
		return
	}
	for {
		select {
		case cfg, ok := <-e.watcher.Updates():
			if !ok {
				e.closeWatcher()
				return
			}
			if err := e.systemManager.ApplyConfig(cfg); err != nil {
				continue
			}
			e.config = cfg
		case err, ok := <-e.watcher.Errors():
			if !ok {
				e.closeWatcher()
				return
			}
			core.LogWarn("configuration reload failed, keeping the previous one: %s", err)
		default:
			return
		}
	}
}

func (e *Engine) closeWatcher() {
	if e.watcher == nil {
		return
	}
	if err := e.watcher.Close(); err != nil {
		core.LogWarn("closing configuration watcher: %s", err)
	}
	e.watcher = nil
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.Stop()

	e.closeWatcher()
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			return err
		}
	}
	if e.systemManager != nil {
		if err := e.systemManager.Shutdown(); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageShutdown
	core.LogInfo("%s shut down after %d frames, average frame time %s.",
		e.gameInstance.ApplicationConfig.Name, e.frameCount, e.metrics.FrameTime())
	return nil
}
