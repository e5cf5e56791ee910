package systems

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer"
)

/** @brief The name of the default camera. */
const DefaultCameraName string = "default"

/**
 * @brief A perspective camera. The view matrix is rebuilt lazily after
 * the position or rotation changes.
 */
type Camera struct {
	position mgl32.Vec3
	// pitch, yaw, roll in radians
	rotation mgl32.Vec3
	isDirty  bool
	view     mgl32.Mat4

	FOV  float32
	Near float32
	Far  float32
}

func NewCamera() *Camera {
	c := &Camera{}
	c.Reset()
	return c
}

func (c *Camera) Reset() {
	c.position = mgl32.Vec3{}
	c.rotation = mgl32.Vec3{}
	c.view = mgl32.Ident4()
	c.isDirty = false
	c.FOV = mgl32.DegToRad(70)
	c.Near = 0.1
	c.Far = 200
}

func (c *Camera) Position() mgl32.Vec3 {
	return c.position
}

func (c *Camera) SetPosition(p mgl32.Vec3) {
	c.position = p
	c.isDirty = true
}

func (c *Camera) Rotation() mgl32.Vec3 {
	return c.rotation
}

func (c *Camera) SetRotation(r mgl32.Vec3) {
	c.rotation = r
	c.isDirty = true
}

func (c *Camera) View() mgl32.Mat4 {
	if c.isDirty {
		rotation := mgl32.AnglesToQuat(c.rotation[0], c.rotation[1], c.rotation[2], mgl32.XYZ).Mat4()
		translation := mgl32.Translate3D(c.position[0], c.position[1], c.position[2])
		// the view matrix is the inverse of the camera transform
		c.view = translation.Mul4(rotation).Inv()
		c.isDirty = false
	}
	return c.view
}

func (c *Camera) Projection(aspect float32) mgl32.Mat4 {
	return mgl32.Perspective(c.FOV, aspect, c.Near, c.Far)
}

func (c *Camera) Data(aspect float32) renderer.CameraData {
	return renderer.CameraData{View: c.View(), Proj: c.Projection(aspect)}
}

type cameraLookup struct {
	camera         *Camera
	referenceCount uint16
}

type CameraSystemConfig struct {
	MaxCameraCount uint16
}

type CameraSystem struct {
	config  CameraSystemConfig
	cameras map[string]*cameraLookup
	// Always exists and is never registered.
	defaultCamera *Camera
}

func NewCameraSystem(config CameraSystemConfig) (*CameraSystem, error) {
	if config.MaxCameraCount == 0 {
		err := errors.New("camera system: MaxCameraCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	return &CameraSystem{
		config:        config,
		cameras:       make(map[string]*cameraLookup, config.MaxCameraCount),
		defaultCamera: NewCamera(),
	}, nil
}

func (cs *CameraSystem) Shutdown() error {
	cs.cameras = make(map[string]*cameraLookup)
	return nil
}

/**
 * @brief Acquires a camera by name, creating it on first use.
 * The reference count is incremented.
 */
func (cs *CameraSystem) Acquire(name string) (*Camera, error) {
	if name == DefaultCameraName {
		return cs.defaultCamera, nil
	}
	lookup, ok := cs.cameras[name]
	if !ok {
		if len(cs.cameras) >= int(cs.config.MaxCameraCount) {
			err := errors.Errorf("camera system: no room for camera %s, adjust MaxCameraCount", name)
			core.LogError(err.Error())
			return nil, err
		}
		core.LogDebug("creating new camera named '%s'", name)
		lookup = &cameraLookup{camera: NewCamera()}
		cs.cameras[name] = lookup
	}
	lookup.referenceCount++
	return lookup.camera, nil
}

/**
 * @brief Releases a camera. When the reference count reaches 0 the camera
 * is dropped and the name can be reused.
 */
func (cs *CameraSystem) Release(name string) {
	if name == DefaultCameraName {
		core.LogDebug("cannot release default camera, nothing was done")
		return
	}
	lookup, ok := cs.cameras[name]
	if !ok {
		core.LogWarn("camera system release: unknown camera %s", name)
		return
	}
	lookup.referenceCount--
	if lookup.referenceCount == 0 {
		delete(cs.cameras, name)
	}
}

func (cs *CameraSystem) GetDefault() *Camera {
	return cs.defaultCamera
}
