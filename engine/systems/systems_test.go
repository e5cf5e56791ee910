package systems

import (
	"image"
	"sync/atomic"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkguide/engine/assets/loaders"
	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu/gputest"
)

var spirv = []uint32{0x07230203, 0x00010000, 0, 1, 0}

func newRenderer(t *testing.T) *renderer.Renderer {
	t.Helper()
	r, err := renderer.New(gputest.NewDevice(), renderer.Config{MaxObjects: 64})
	require.NoError(t, err)
	_, err = r.CreatePipeline("mesh", spirv, spirv, false)
	require.NoError(t, err)
	_, err = r.CreatePipeline("textured", spirv, spirv, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Shutdown() })
	return r
}

type imageSource map[string]*image.RGBA

func (s imageSource) LoadImage(path string, params *loaders.TextureParams) (*image.RGBA, error) {
	img, ok := s[path]
	if !ok {
		return nil, errors.Wrapf(core.ErrNotFound, "asset %s", path)
	}
	return img, nil
}

func TestMaterialSystemLookup(t *testing.T) {
	ms, err := NewMaterialSystem(MaterialSystemConfig{MaxMaterialCount: 4}, newRenderer(t))
	require.NoError(t, err)

	_, _, err = ms.Get("nonexistent")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.False(t, core.IsFatal(err))

	h, err := ms.Create(DefaultMaterialName, "mesh")
	require.NoError(t, err)
	m, got, err := ms.Get(DefaultMaterialName)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, "mesh", m.Pipeline.Name)

	at, err := ms.At(h)
	require.NoError(t, err)
	assert.Same(t, m, at)

	_, err = ms.Create(DefaultMaterialName, "mesh")
	assert.Error(t, err)
	_, err = ms.Create("broken", "no-such-pipeline")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = ms.At(InvalidMaterialHandle)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMeshSystem(t *testing.T) {
	ms, err := NewMeshSystem(MeshSystemConfig{MaxMeshCount: 2}, newRenderer(t))
	require.NoError(t, err)

	h, err := ms.Register(TriangleMesh("triangle"))
	require.NoError(t, err)
	mesh, got, err := ms.Get("triangle")
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.NotNil(t, mesh.VertexBuffer)

	id, err := ms.ID(h)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, mesh.ID, id, "the registry reports the id the vertex buffer is tagged with")
	_, err = ms.ID(InvalidMeshHandle)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = ms.Register(TriangleMesh("triangle"))
	assert.Error(t, err)
	_, err = ms.Register(CubeMesh("cube"))
	require.NoError(t, err)
	_, err = ms.Register(QuadMesh("quad"))
	assert.Error(t, err, "system is full")

	_, _, err = ms.Get("monkey")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestProceduralMeshes(t *testing.T) {
	assert.Len(t, TriangleMesh("t").Vertices, 3)
	assert.Len(t, QuadMesh("q").Vertices, 6)
	cube := CubeMesh("c")
	require.Len(t, cube.Vertices, 36)
	for _, v := range cube.Vertices {
		for i := 0; i < 3; i++ {
			assert.InDelta(t, 1, mgl32.Abs(v.Position[i]), 1e-6)
		}
	}
}

func TestSceneSortedByMaterialIsStable(t *testing.T) {
	s := NewScene()
	s.Add(RenderObject{Material: 1, Mesh: 0, Transform: mgl32.Translate3D(0, 0, 0)})
	s.Add(RenderObject{Material: 0, Mesh: 1, Transform: mgl32.Translate3D(1, 0, 0)})
	s.Add(RenderObject{Material: 1, Mesh: 0, Transform: mgl32.Translate3D(2, 0, 0)})
	s.Add(RenderObject{Material: 0, Mesh: 0, Transform: mgl32.Translate3D(3, 0, 0)})

	sorted := s.SortedByMaterial()
	xs := make([]float32, len(sorted))
	for i, o := range sorted {
		xs[i] = o.Transform.Col(3)[0]
	}
	assert.Equal(t, []float32{3, 1, 0, 2}, xs)
	assert.Equal(t, float32(0), s.Objects()[0].Transform.Col(3)[0], "scene order is untouched")
}

func TestSceneFrameData(t *testing.T) {
	r := newRenderer(t)
	meshes, _ := NewMeshSystem(MeshSystemConfig{MaxMeshCount: 4}, r)
	materials, _ := NewMaterialSystem(MaterialSystemConfig{MaxMaterialCount: 4}, r)
	tri, err := meshes.Register(TriangleMesh("triangle"))
	require.NoError(t, err)
	mat, err := materials.Create(DefaultMaterialName, "mesh")
	require.NoError(t, err)

	s := NewScene()
	for x := 0; x < 3; x++ {
		s.Add(RenderObject{Mesh: tri, Material: mat, Transform: mgl32.Translate3D(float32(x), 0, 0)})
	}
	data, err := s.FrameData(NewCamera(), 16.0/9.0, meshes, materials)
	require.NoError(t, err)
	assert.Len(t, data.Objects, 3)
	require.NoError(t, r.DrawFrame(data))
	assert.Equal(t, uint64(1), r.FrameNumber())

	s.Add(RenderObject{Mesh: 7, Material: mat})
	_, err = s.FrameData(NewCamera(), 1, meshes, materials)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestTextureSystemAsyncLoad(t *testing.T) {
	r := newRenderer(t)
	js, err := NewJobSystem(2, 4)
	require.NoError(t, err)
	defer js.Shutdown()

	src := imageSource{"textures/lost_empire.png": image.NewRGBA(image.Rect(0, 0, 32, 32))}
	ts, err := NewTextureSystem(TextureSystemConfig{MaxTextureCount: 4}, r, src, js)
	require.NoError(t, err)

	h, err := ts.Load("empire", "textures/lost_empire.png")
	require.NoError(t, err)
	missing, err := ts.Load("missing", "textures/missing.png")
	require.NoError(t, err)

	tex, err := ts.At(h)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), tex.Image.Width(), "checkerboard until the decode lands")
	id, err := ts.ID(h)
	require.NoError(t, err)
	assert.Equal(t, tex.ID, id)
	otherID, err := ts.ID(missing)
	require.NoError(t, err)
	assert.NotEqual(t, id, otherID)

	ts.Wait()
	n, err := ts.Update()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint32(32), tex.Image.Width())
	assert.Equal(t, uint32(1), tex.Generation())

	fallback, err := ts.At(missing)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), fallback.Image.Width())

	assert.Equal(t, 1, ts.Reload("textures/lost_empire.png"))
	ts.Wait()
	n, err = ts.Update()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint32(2), tex.Generation())

	// reloads arriving after the workers stopped keep the current image
	require.NoError(t, js.Shutdown())
	assert.Equal(t, 1, ts.Reload("textures/lost_empire.png"))
	ts.Wait()
	n, err = ts.Update()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, uint32(2), tex.Generation())

	_, _, err = ts.Get("nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCheckerboard(t *testing.T) {
	img := Checkerboard(4, 2)
	assert.Equal(t, img.RGBAAt(0, 0), img.RGBAAt(1, 1))
	assert.NotEqual(t, img.RGBAAt(0, 0), img.RGBAAt(2, 0))
}

func TestJobSystem(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)

	js, err := NewJobSystem(3, 8)
	require.NoError(t, err)
	var completed, failed atomic.Int32
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, js.Submit(JobTask{
			Name: "work",
			Run: func() (interface{}, error) {
				if i%5 == 0 {
					return nil, errors.New("odd job")
				}
				return i, nil
			},
			OnComplete: func(interface{}) { completed.Add(1) },
			OnFailure:  func(error) { failed.Add(1) },
		}))
	}
	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown())
	assert.Equal(t, int32(8), completed.Load())
	assert.Equal(t, int32(2), failed.Load())
}

func TestJobSystemRejectsWorkAfterShutdown(t *testing.T) {
	js, err := NewJobSystem(2, 0)
	require.NoError(t, err)
	require.NoError(t, js.Shutdown())

	ran := false
	err = js.Submit(JobTask{Name: "late", Run: func() (interface{}, error) {
		ran = true
		return nil, nil
	}})
	assert.ErrorIs(t, err, ErrJobSystemClosed)
	assert.False(t, ran)
}

func TestCamera(t *testing.T) {
	c := NewCamera()
	c.SetPosition(mgl32.Vec3{0, 0, 5})
	origin := c.View().Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, -5, origin[2], 1e-5)

	cs, err := NewCameraSystem(CameraSystemConfig{MaxCameraCount: 1})
	require.NoError(t, err)
	world, err := cs.Acquire("world")
	require.NoError(t, err)
	again, err := cs.Acquire("world")
	require.NoError(t, err)
	assert.Same(t, world, again)
	_, err = cs.Acquire("other")
	assert.Error(t, err)

	def, err := cs.Acquire(DefaultCameraName)
	require.NoError(t, err)
	assert.Same(t, cs.GetDefault(), def)

	cs.Release("world")
	cs.Release("world")
	_, err = cs.Acquire("other")
	assert.NoError(t, err)
}
