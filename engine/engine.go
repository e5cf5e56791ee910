package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/vkguide/engine/assets"
	"github.com/spaghettifunk/vkguide/engine/assets/loaders"
	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/platform"
	"github.com/spaghettifunk/vkguide/engine/renderer"
	"github.com/spaghettifunk/vkguide/engine/renderer/frame"
	"github.com/spaghettifunk/vkguide/engine/renderer/vulkan"
	"github.com/spaghettifunk/vkguide/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// metricsInterval is how often frame metrics are logged.
const metricsInterval = 5 * time.Second

type shaderPair struct {
	vertex   string
	fragment string
}

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *ApplicationConfig
	isRunning    bool
	isSuspended  bool

	events        *core.EventSystem
	platform      *platform.Platform
	backend       *vulkan.Backend
	renderer      *renderer.Renderer
	assetManager  *assets.AssetManager
	systemManager *systems.SystemManager
	scene         *systems.Scene
	// main deletion queue, flushed in reverse on shutdown
	deletion *frame.DeletionQueue

	// pipelines created through LoadPipeline, for hot reload
	pipelineShaders map[string]shaderPair

	width         uint32
	height        uint32
	resizePending bool

	clock    *core.Clock
	metrics  *core.Metrics
	lastTime time.Duration
}

func New(g *Game) (*Engine, error) {
	if g.ApplicationConfig == nil {
		g.ApplicationConfig = DefaultApplicationConfig()
	}
	if err := g.ApplicationConfig.Validate(); err != nil {
		return nil, err
	}
	events := core.NewEventSystem()
	return &Engine{
		currentStage:    EngineStageBooting,
		gameInstance:    g,
		config:          g.ApplicationConfig,
		events:          events,
		platform:        platform.New(events),
		deletion:        frame.NewDeletionQueue(),
		pipelineShaders: make(map[string]shaderPair),
		width:           g.ApplicationConfig.StartWidth,
		height:          g.ApplicationConfig.StartHeight,
		clock:           core.NewClock(),
		metrics:         core.NewMetrics(),
	}, nil
}

// Initialize brings up the window, the Vulkan backend, the renderer and the
// systems, then lets the game build its scene. Everything created is queued
// for deletion, so a failed Initialize still needs Shutdown.
func (e *Engine) Initialize() error {
	e.currentStage = EngineStageBootComplete
	if err := core.SetLogLevel(e.config.LogLevel); err != nil {
		return err
	}

	e.currentStage = EngineStageInitializing
	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	e.events.Register(core.EVENT_CODE_KEY_RELEASED, e, e.onKey)
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)

	if err := e.platform.Startup(e.config.Name, e.config.StartPosX, e.config.StartPosY, e.config.StartWidth, e.config.StartHeight); err != nil {
		return errors.Wrap(err, "platform startup")
	}
	e.deletion.PushFunc("platform", func() {
		if err := e.platform.Shutdown(); err != nil {
			core.LogError("platform shutdown: %s", err)
		}
	})
	e.width, e.height = e.platform.FramebufferSize()

	backend, err := vulkan.New(e.platform, e.config.backendConfig())
	if err != nil {
		return err
	}
	e.backend = backend
	e.deletion.Push("vulkan backend", backend)

	r, err := renderer.New(backend, e.config.rendererConfig())
	if err != nil {
		return err
	}
	e.renderer = r
	e.deletion.PushFunc("renderer", func() {
		if err := r.Shutdown(); err != nil {
			core.LogError("renderer shutdown: %s", err)
		}
	})

	am, err := assets.NewAssetManager()
	if err != nil {
		return err
	}
	e.assetManager = am
	e.deletion.PushFunc("assets", func() {
		if err := am.Shutdown(); err != nil {
			core.LogError("asset manager shutdown: %s", err)
		}
	})
	if err := am.Initialize(e.config.AssetsDir); err != nil {
		return err
	}

	sm, err := systems.NewSystemManager(e.config.systemsConfig(), r, am)
	if err != nil {
		return err
	}
	e.systemManager = sm
	e.deletion.PushFunc("systems", func() {
		if err := sm.Shutdown(); err != nil {
			core.LogError("system manager shutdown: %s", err)
		}
	})
	e.scene = systems.NewScene()

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e); err != nil {
			return errors.Wrap(err, "game initialize")
		}
	}

	e.currentStage = EngineStageInitialized
	return nil
}

// Run drives the frame loop until the window closes, ctx is cancelled, a quit
// event arrives or maxFrames frames were drawn. maxFrames 0 means no limit.
func (e *Engine) Run(ctx context.Context, maxFrames uint64) error {
	if e.currentStage != EngineStageInitialized {
		return errors.New("engine is not initialized")
	}
	e.currentStage = EngineStageRunning
	e.isRunning = true

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()
	lastReport := e.lastTime

	var frames uint64
	for e.isRunning {
		select {
		case <-ctx.Done():
			core.LogInfo("run cancelled: %s", ctx.Err())
			e.isRunning = false
			continue
		default:
		}

		e.platform.PumpMessages()
		if e.platform.ShouldClose() {
			e.isRunning = false
			break
		}
		if e.isSuspended {
			e.platform.WaitWhileMinimized()
			if w, h := e.platform.FramebufferSize(); w != 0 && h != 0 {
				e.isSuspended = false
				e.resizePending = true
			}
			continue
		}

		e.processAssetChanges()
		if _, err := e.systemManager.Textures().Update(); err != nil {
			core.LogWarn("texture upload: %s", err)
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		e.lastTime = currentTime
		frameStart := time.Now()

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(e, delta); err != nil {
				e.isRunning = false
				return errors.Wrap(err, "game update")
			}
		}

		if e.resizePending {
			if err := e.recreateSwapchain(); err != nil {
				e.isRunning = false
				return err
			}
			if e.isSuspended {
				continue
			}
		}

		if err := e.drawFrame(); err != nil {
			if core.IsRecoverable(err) {
				core.LogDebug("swapchain out of date at frame %d", e.renderer.FrameNumber())
				e.resizePending = true
				continue
			}
			if core.IsFatal(err) {
				e.isRunning = false
				core.LogError("frame %d failed: %s", e.renderer.FrameNumber(), err)
				return err
			}
			core.LogWarn("frame %d skipped: %s", e.renderer.FrameNumber(), err)
		}

		e.metrics.Update(time.Since(frameStart))
		frames++

		if currentTime-lastReport >= metricsInterval {
			fps, frameTime := e.metrics.Frame()
			core.LogInfo("%.1f fps, %s per frame, %d frames", fps, frameTime, e.renderer.FrameNumber())
			lastReport = currentTime
		}

		if maxFrames > 0 && frames >= maxFrames {
			core.LogInfo("reached %d frames, stopping", maxFrames)
			e.isRunning = false
		}
	}
	return nil
}

func (e *Engine) drawFrame() error {
	camera := e.systemManager.Cameras().GetDefault()
	aspect := float32(e.width) / float32(e.height)
	data, err := e.scene.FrameData(camera, aspect, e.systemManager.Meshes(), e.systemManager.Materials())
	if err != nil {
		return err
	}
	return e.renderer.DrawFrame(data)
}

func (e *Engine) recreateSwapchain() error {
	width, height := e.platform.FramebufferSize()
	if width == 0 || height == 0 {
		e.isSuspended = true
		return nil
	}
	if err := e.renderer.Resize(width, height); err != nil {
		return errors.Wrap(err, "recreating swapchain")
	}
	e.width, e.height = width, height
	e.resizePending = false
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e, width, height); err != nil {
			core.LogError("game resize: %s", err)
		}
	}
	return nil
}

// processAssetChanges drains pending asset events without blocking.
func (e *Engine) processAssetChanges() {
	for {
		select {
		case ev, ok := <-e.assetManager.Changes():
			if !ok {
				return
			}
			e.onAssetChanged(ev)
		default:
			return
		}
	}
}

func (e *Engine) onAssetChanged(ev assets.AssetEvent) {
	if ev.Op == assets.AssetRemoved {
		core.LogWarn("asset %s was removed, keeping the loaded copy", ev.Path)
		return
	}
	switch ev.Type {
	case loaders.ResourceTypeShader:
		for name, shaders := range e.pipelineShaders {
			if shaders.vertex != ev.Path && shaders.fragment != ev.Path {
				continue
			}
			vertex, fragment, err := e.loadShaderPair(shaders)
			if err != nil {
				core.LogWarn("reloading pipeline %s: %s", name, err)
				continue
			}
			if err := e.renderer.ReloadPipeline(name, vertex, fragment); err != nil {
				core.LogWarn("reloading pipeline %s: %s", name, err)
			}
		}
	case loaders.ResourceTypeImage:
		if n := e.systemManager.Textures().Reload(ev.Path); n > 0 {
			core.LogDebug("reloading %d texture(s) from %s", n, ev.Path)
		}
	}
}

func (e *Engine) loadShaderPair(shaders shaderPair) ([]uint32, []uint32, error) {
	vertex, err := e.assetManager.LoadShader(shaders.vertex)
	if err != nil {
		return nil, nil, err
	}
	fragment, err := e.assetManager.LoadShader(shaders.fragment)
	if err != nil {
		return nil, nil, err
	}
	return vertex, fragment, nil
}

// LoadPipeline creates a pipeline from two compiled shader assets and reloads
// it whenever one of them changes on disk.
func (e *Engine) LoadPipeline(name, vertexPath, fragmentPath string, textured bool) error {
	shaders := shaderPair{vertex: vertexPath, fragment: fragmentPath}
	vertex, fragment, err := e.loadShaderPair(shaders)
	if err != nil {
		return errors.Wrapf(err, "pipeline %s", name)
	}
	if _, err := e.renderer.CreatePipeline(name, vertex, fragment, textured); err != nil {
		return err
	}
	e.pipelineShaders[name] = shaders
	return nil
}

// Shutdown waits for in-flight frames and releases everything Initialize
// created, newest first. It is safe to call more than once.
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShuttingDown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning = false

	if e.gameInstance.FnShutdown != nil && e.renderer != nil {
		if err := e.gameInstance.FnShutdown(e); err != nil {
			core.LogError("game shutdown: %s", err)
		}
	}

	core.LogInfo("releasing %d engine resources", e.deletion.Len())
	e.deletion.Flush()
	e.events.Shutdown()
	return nil
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Config() *ApplicationConfig {
	return e.config
}

func (e *Engine) Renderer() *renderer.Renderer {
	return e.renderer
}

func (e *Engine) Systems() *systems.SystemManager {
	return e.systemManager
}

func (e *Engine) Assets() *assets.AssetManager {
	return e.assetManager
}

func (e *Engine) Scene() *systems.Scene {
	return e.scene
}

func (e *Engine) Events() *core.EventSystem {
	return e.events
}

// GetFramebufferSize returns the width and height (in this order) of the
// current framebuffer.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

// Metrics returns the rolling fps and average frame time.
func (e *Engine) Metrics() (float64, time.Duration) {
	return e.metrics.Frame()
}

func (e *Engine) onEvent(sender interface{}, context core.EventContext) bool {
	if context.Code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning = false
		return true
	}
	return false
}

func (e *Engine) onKey(sender interface{}, context core.EventContext) bool {
	switch context.Code {
	case core.EVENT_CODE_KEY_PRESSED:
		core.LogDebug("key %d pressed", context.KeyCode)
	case core.EVENT_CODE_KEY_RELEASED:
		core.LogDebug("key %d released", context.KeyCode)
	}
	// other listeners may still want the key
	return false
}

func (e *Engine) onResized(sender interface{}, context core.EventContext) bool {
	width, height := context.Width, context.Height
	if width == e.width && height == e.height && !e.isSuspended {
		return false
	}
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return true
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	e.resizePending = true
	return true
}
