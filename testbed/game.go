package testbed

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/vkguide/engine"
	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/systems"
)

const (
	gridHalfExtent = 20
	empireTexture  = "textures/lost_empire-RGBA.png"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	cube     int
	rotation float32
	elapsed  time.Duration
}

func NewTestGame(config *engine.ApplicationConfig) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: config,
			State:             &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

// Initialize builds the scene: a spinning cube, a grid of triangles and a
// textured quad.
func (g *TestGame) Initialize(e *engine.Engine) error {
	core.LogInfo("initializing testbed...")

	if err := e.LoadPipeline("mesh", "shaders/tri_mesh.vert.spv", "shaders/default_lit.frag.spv", false); err != nil {
		return err
	}
	if err := e.LoadPipeline("textured", "shaders/tri_mesh.vert.spv", "shaders/textured_lit.frag.spv", true); err != nil {
		return err
	}

	sm := e.Systems()
	defaultMaterial, err := sm.Materials().Create("defaultmesh", "mesh")
	if err != nil {
		return err
	}
	texturedMaterial, err := sm.Materials().Create("texturedmesh", "textured")
	if err != nil {
		return err
	}

	if _, err := sm.Textures().Register(systems.DefaultTextureName, systems.Checkerboard(8, 1)); err != nil {
		return err
	}
	// shows the checkerboard until the file is decoded
	empire, err := sm.Textures().Load("empire_diffuse", empireTexture)
	if err != nil {
		return err
	}
	tex, err := sm.Textures().At(empire)
	if err != nil {
		return err
	}
	if err := sm.Materials().SetTexture("texturedmesh", tex); err != nil {
		return err
	}

	cube, err := sm.Meshes().Register(systems.CubeMesh("cube"))
	if err != nil {
		return err
	}
	triangle, err := sm.Meshes().Register(systems.TriangleMesh("triangle"))
	if err != nil {
		return err
	}
	quad, err := sm.Meshes().Register(systems.QuadMesh("quad"))
	if err != nil {
		return err
	}

	scene := e.Scene()
	g.state().cube = scene.Add(systems.RenderObject{
		Mesh:      cube,
		Material:  defaultMaterial,
		Transform: mgl32.Translate3D(0, 2, 0),
	})
	for x := -gridHalfExtent; x <= gridHalfExtent; x++ {
		for z := -gridHalfExtent; z <= gridHalfExtent; z++ {
			translation := mgl32.Translate3D(float32(x), 0, float32(z))
			scale := mgl32.Scale3D(0.2, 0.2, 0.2)
			scene.Add(systems.RenderObject{
				Mesh:      triangle,
				Material:  defaultMaterial,
				Transform: translation.Mul4(scale),
			})
		}
	}
	scene.Add(systems.RenderObject{
		Mesh:      quad,
		Material:  texturedMaterial,
		Transform: mgl32.Translate3D(5, 2, 0).Mul4(mgl32.Scale3D(2, 2, 2)),
	})

	camera := sm.Cameras().GetDefault()
	camera.SetPosition(mgl32.Vec3{0, 6, 10})
	camera.SetRotation(mgl32.Vec3{mgl32.DegToRad(-25), 0, 0})

	core.LogInfo("testbed scene has %d objects", scene.Len())
	return nil
}

func (g *TestGame) Update(e *engine.Engine, deltaTime time.Duration) error {
	state := g.state()
	state.elapsed += deltaTime
	state.rotation += float32(deltaTime.Seconds()) * 0.5

	scene := e.Scene()
	objects := scene.Objects()
	if state.cube < len(objects) {
		objects[state.cube].Transform = mgl32.Translate3D(0, 2, 0).Mul4(mgl32.HomogRotate3DY(state.rotation))
	}

	// slow sweep of the sun around the scene
	angle := state.elapsed.Seconds() * 0.2
	scene.Params.SunlightDirection = mgl32.Vec4{float32(math.Cos(angle)), -1, float32(math.Sin(angle)), 1}
	return nil
}

func (g *TestGame) OnResize(e *engine.Engine, width uint32, height uint32) error {
	core.LogDebug("testbed resized to %dx%d", width, height)
	return nil
}

func (g *TestGame) Shutdown(e *engine.Engine) error {
	core.LogInfo("testbed shutting down after %s", g.state().elapsed.Round(time.Millisecond))
	if sm := e.Systems(); sm != nil {
		sm.Textures().Wait()
	}
	return nil
}
