package engine

import (
	"github.com/spaghettifunk/vulture/engine/systems"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnShutdown        Shutdown
}

type Initialize func(sm *systems.SystemManager) error
type Update func(deltaTime float64) error

// Render records the GPU work of a frame, such as rebuilding or refitting
// the acceleration structures.
type Render func(deltaTime float64) error
type Shutdown func() error
