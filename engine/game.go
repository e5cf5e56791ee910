package engine

import "time"

// Game holds the callbacks the engine drives. FnUpdate runs once per frame
// before the frame is drawn and may change the scene.
type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnOnResize        OnResize
	FnShutdown        Shutdown
}

type Initialize func(e *Engine) error
type Update func(e *Engine, deltaTime time.Duration) error
type OnResize func(e *Engine, width uint32, height uint32) error
type Shutdown func(e *Engine) error
