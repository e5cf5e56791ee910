package platform

import (
	"runtime"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkguide/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Platform owns the window and forwards its input to the event system.
type Platform struct {
	Window    *glfw.Window
	events    *core.EventSystem
	startTime float64
}

func New(events *core.EventSystem) *Platform {
	return &Platform{events: events}
}

func (p *Platform) Startup(applicationName string, x, y int, width, height uint32) error {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return err
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		core.LogError("glfw reports Vulkan is not supported")
		return errors.Wrap(core.ErrInitialization, "vulkan loader not found")
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		core.LogError("failed to create window: %s", err)
		glfw.Terminate()
		return err
	}
	p.Window = window

	p.Window.SetKeyCallback(p.keyCallback)
	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetCloseCallback(p.closeCallback)
	p.Window.SetPos(x, y)
	p.Window.Show()

	p.startTime = glfw.GetTime()
	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

// PumpMessages processes pending window events. Callbacks fire from here.
func (p *Platform) PumpMessages() {
	glfw.PollEvents()
}

func (p *Platform) ShouldClose() bool {
	return p.Window == nil || p.Window.ShouldClose()
}

// FramebufferSize is the drawable size in pixels, zero while minimized.
func (p *Platform) FramebufferSize() (uint32, uint32) {
	w, h := p.Window.GetFramebufferSize()
	return uint32(w), uint32(h)
}

// WaitWhileMinimized blocks on window events until the framebuffer has a size again.
func (p *Platform) WaitWhileMinimized() {
	for {
		w, h := p.FramebufferSize()
		if (w != 0 && h != 0) || p.ShouldClose() {
			return
		}
		glfw.WaitEvents()
	}
}

func (p *Platform) Uptime() time.Duration {
	return time.Duration((glfw.GetTime() - p.startTime) * float64(time.Second))
}

func (p *Platform) GetRequiredExtensionNames() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

// CreateSurface creates a VkSurfaceKHR for the window. instance is a vk.Instance.
func (p *Platform) CreateSurface(instance interface{}) (uintptr, error) {
	return p.Window.CreateWindowSurface(instance, nil)
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	switch action {
	case glfw.Press:
		if key == glfw.KeyEscape {
			p.events.Fire(p, core.EventContext{Code: core.EVENT_CODE_APPLICATION_QUIT})
			return
		}
		p.events.Fire(p, core.EventContext{Code: core.EVENT_CODE_KEY_PRESSED, KeyCode: int(key)})
	case glfw.Release:
		p.events.Fire(p, core.EventContext{Code: core.EVENT_CODE_KEY_RELEASED, KeyCode: int(key)})
	}
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	p.events.Fire(p, core.EventContext{
		Code:   core.EVENT_CODE_RESIZED,
		Width:  uint32(width),
		Height: uint32(height),
	})
}

func (p *Platform) closeCallback(w *glfw.Window) {
	p.events.Fire(p, core.EventContext{Code: core.EVENT_CODE_APPLICATION_QUIT})
}
