package renderer

import (
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu/gputest"
)

var spirv = []uint32{0x07230203, 0x00010000, 0, 1, 0}

func newRenderer(t *testing.T) (*Renderer, *gputest.Device) {
	t.Helper()
	dev := gputest.NewDevice()
	r, err := New(dev, Config{FrameOverlap: 2, MaxObjects: 16, FlashClear: true})
	require.NoError(t, err)
	return r, dev
}

func triangle(name string) *Mesh {
	return &Mesh{Name: name, Vertices: []Vertex{
		{Position: mgl32.Vec3{1, 1, 0}, Color: mgl32.Vec3{0, 1, 0}},
		{Position: mgl32.Vec3{-1, 1, 0}, Color: mgl32.Vec3{0, 1, 0}},
		{Position: mgl32.Vec3{0, -1, 0}, Color: mgl32.Vec3{0, 1, 0}},
	}}
}

func camera() CameraData {
	return CameraData{
		View: mgl32.Translate3D(0, 0, -2),
		Proj: mgl32.Perspective(mgl32.DegToRad(70), 1700.0/900.0, 0.1, 200),
	}
}

func commandsOf(r *Renderer, slot int) []string {
	return r.ring.Slot(slot).Commands.(*gputest.CommandBuffer).Commands
}

func count(commands []string, prefix string) int {
	n := 0
	for _, c := range commands {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func TestVertexLayout(t *testing.T) {
	l := VertexLayout()
	assert.Equal(t, uint32(44), l.Stride)
	require.Len(t, l.Attributes, 4)
	assert.Equal(t, uint32(36), l.Attributes[3].Offset)
}

func TestUploadMesh(t *testing.T) {
	r, dev := newRenderer(t)
	mesh := triangle("triangle")
	require.NoError(t, r.UploadMesh(mesh))

	vb := mesh.VertexBuffer.(*gputest.Buffer)
	assert.Equal(t, sliceBytes(mesh.Vertices), vb.Bytes())
	assert.False(t, vb.Memory.HostVisible())
	assert.Zero(t, dev.Pending())

	require.Error(t, r.UploadMesh(&Mesh{Name: "empty"}))
}

func TestDeletionTagsNameTheOwner(t *testing.T) {
	r, _ := newRenderer(t)
	first, second := triangle("triangle"), triangle("triangle")
	require.NoError(t, r.UploadMesh(first))
	require.NoError(t, r.UploadMesh(second))
	require.NotEqual(t, uuid.Nil, first.ID)
	require.NotEqual(t, first.ID, second.ID)

	preset := triangle("preset")
	preset.ID = uuid.New()
	id := preset.ID
	require.NoError(t, r.UploadMesh(preset))
	assert.Equal(t, id, preset.ID)

	tex, err := r.UploadTexture("checker", checker(4))
	require.NoError(t, err)

	pending := r.deletion.Pending()
	assert.Contains(t, pending, "mesh.triangle."+first.ID.String())
	assert.Contains(t, pending, "mesh.triangle."+second.ID.String())
	assert.Contains(t, pending, "mesh.preset."+id.String())
	assert.Contains(t, pending, "texture.checker."+tex.ID.String())

	_, err = r.CreatePipeline("mesh", spirv, spirv, false)
	require.NoError(t, err)
	mat, err := r.CreateMaterial("defaultmesh", "mesh")
	require.NoError(t, err)
	data := &FrameData{Camera: camera(), Objects: []RenderObject{{Mesh: first, Material: mat, Transform: mgl32.Ident4()}}}
	require.NoError(t, r.DrawFrame(data))

	require.NoError(t, r.ReplaceTexture(tex, checker(8)))
	retired := r.ring.Slot(r.loop.LastSlot()).Deletions.Pending()
	assert.Equal(t, []string{"texture.checker." + tex.ID.String()}, retired)
}

func TestMaterialNeedsKnownPipeline(t *testing.T) {
	r, _ := newRenderer(t)
	_, err := r.CreateMaterial("mesh", "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = r.CreatePipeline("mesh", spirv, spirv, false)
	require.NoError(t, err)
	_, err = r.CreatePipeline("mesh", spirv, spirv, false)
	assert.Error(t, err)

	m, err := r.CreateMaterial("defaultmesh", "mesh")
	require.NoError(t, err)
	assert.Equal(t, "mesh", m.Pipeline.Name)
}

func TestDrawFrameRecordsSortedDraws(t *testing.T) {
	r, dev := newRenderer(t)
	_, err := r.CreatePipeline("mesh", spirv, spirv, false)
	require.NoError(t, err)
	mat, err := r.CreateMaterial("defaultmesh", "mesh")
	require.NoError(t, err)
	mesh := triangle("triangle")
	require.NoError(t, r.UploadMesh(mesh))

	objects := make([]RenderObject, 3)
	for i := range objects {
		objects[i] = RenderObject{Mesh: mesh, Material: mat, Transform: mgl32.Translate3D(float32(i), 0, 0)}
	}
	data := &FrameData{Camera: camera(), Objects: objects}
	for i := 0; i < 5; i++ {
		require.NoError(t, r.DrawFrame(data))
	}
	assert.Equal(t, uint64(5), r.FrameNumber())
	assert.Equal(t, 0, r.LastSlot())

	cmds := commandsOf(r, 0)
	assert.Equal(t, 1, count(cmds, "bind-pipeline"), "pipeline is bound once per material run")
	assert.Equal(t, 1, count(cmds, "bind-vertex-buffer"))
	assert.Equal(t, 3, count(cmds, "push-constants"))
	assert.Contains(t, cmds, "draw 3 1 0 2")
	assert.Contains(t, cmds, "bind-set 0 set#0 [0]")

	cmds = commandsOf(r, 1)
	assert.Contains(t, cmds, "bind-set 0 set#2 [256]", "slot 1 uses the second padded scene region")
	assert.Equal(t, 5, len(dev.FakeSwapchain().Presented))
}

func TestDrawFrameWritesObjectTransforms(t *testing.T) {
	r, _ := newRenderer(t)
	_, err := r.CreatePipeline("mesh", spirv, spirv, false)
	require.NoError(t, err)
	mat, _ := r.CreateMaterial("defaultmesh", "mesh")
	mesh := triangle("triangle")
	require.NoError(t, r.UploadMesh(mesh))

	model := mgl32.Translate3D(4, 5, 6)
	require.NoError(t, r.DrawFrame(&FrameData{
		Camera:  camera(),
		Objects: []RenderObject{{Mesh: mesh, Material: mat, Transform: model}},
	}))

	objects := r.ring.Slot(0).ObjectBuffer.(*gputest.Buffer).Bytes()
	assert.Equal(t, bytesOf(&model), objects[:64])
}

func TestReloadPipeline(t *testing.T) {
	r, dev := newRenderer(t)
	p, err := r.CreatePipeline("mesh", spirv, spirv, false)
	require.NoError(t, err)
	old := p.Handle().(*gputest.Pipeline)

	require.NoError(t, r.ReloadPipeline("mesh", spirv, spirv))
	assert.NotSame(t, old, p.Handle())
	assert.True(t, dev.IsDestroyed(old.Label))

	assert.ErrorIs(t, r.ReloadPipeline("missing", spirv, spirv), core.ErrNotFound)
	assert.Error(t, r.ReloadPipeline("mesh", nil, spirv))
	assert.False(t, dev.IsDestroyed(p.Handle().(*gputest.Pipeline).Label), "failed reload keeps the current pipeline")
}

func checker(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.White)
			}
		}
	}
	return img
}

func TestTextureUploadAndReplace(t *testing.T) {
	r, dev := newRenderer(t)
	_, err := r.CreatePipeline("textured", spirv, spirv, true)
	require.NoError(t, err)
	mat, err := r.CreateMaterial("texturedmesh", "textured")
	require.NoError(t, err)

	tex, err := r.UploadTexture("checker", checker(8))
	require.NoError(t, err)
	require.NoError(t, r.BindTexture(mat, tex))
	firstSet := mat.TextureSet

	mesh := triangle("quad")
	require.NoError(t, r.UploadMesh(mesh))
	data := &FrameData{Camera: camera(), Objects: []RenderObject{{Mesh: mesh, Material: mat, Transform: mgl32.Ident4()}}}
	require.NoError(t, r.DrawFrame(data))

	old := tex.Image.(*gputest.Image)
	require.NoError(t, r.ReplaceTexture(tex, checker(16)))
	assert.False(t, dev.IsDestroyed(old.Label), "image may still be sampled by frame 0")

	require.NoError(t, r.DrawFrame(data))
	assert.NotSame(t, firstSet, mat.TextureSet, "material is rebound to the new image")
	require.NoError(t, r.DrawFrame(data))
	assert.True(t, dev.IsDestroyed(old.Label))
	assert.True(t, dev.IsDestroyed(firstSet.(*gputest.DescriptorSet).Label), "replaced texture set is freed too")

	untextured, err := r.CreatePipeline("plain", spirv, spirv, false)
	require.NoError(t, err)
	assert.Error(t, r.BindTexture(&Material{Name: "plain", Pipeline: untextured}, tex))
}

func TestRepeatedTextureReloadFreesOldSets(t *testing.T) {
	r, dev := newRenderer(t)
	_, err := r.CreatePipeline("textured", spirv, spirv, true)
	require.NoError(t, err)
	mat, err := r.CreateMaterial("texturedmesh", "textured")
	require.NoError(t, err)
	tex, err := r.UploadTexture("checker", checker(8))
	require.NoError(t, err)
	require.NoError(t, r.BindTexture(mat, tex))

	mesh := triangle("quad")
	require.NoError(t, r.UploadMesh(mesh))
	data := &FrameData{Camera: camera(), Objects: []RenderObject{{Mesh: mesh, Material: mat, Transform: mgl32.Ident4()}}}
	require.NoError(t, r.DrawFrame(data))
	baseline := dev.LiveDescriptorSets()

	for i := 0; i < 20; i++ {
		require.NoError(t, r.ReplaceTexture(tex, checker(8+i%2*8)))
		require.NoError(t, r.DrawFrame(data))
		// only the sets of frames still in flight may be outstanding
		assert.LessOrEqual(t, dev.LiveDescriptorSets(), baseline+r.ring.Len(), "reload %d", i)
	}

	for i := 0; i < r.ring.Len(); i++ {
		require.NoError(t, r.DrawFrame(data))
	}
	assert.Equal(t, baseline, dev.LiveDescriptorSets())
	assert.Zero(t, dev.DoubleDestroys)
}

func TestShutdownReleasesEverything(t *testing.T) {
	r, dev := newRenderer(t)
	_, err := r.CreatePipeline("mesh", spirv, spirv, false)
	require.NoError(t, err)
	mat, _ := r.CreateMaterial("defaultmesh", "mesh")
	mesh := triangle("triangle")
	require.NoError(t, r.UploadMesh(mesh))
	data := &FrameData{Camera: camera(), Objects: []RenderObject{{Mesh: mesh, Material: mat, Transform: mgl32.Ident4()}}}
	for i := 0; i < 3; i++ {
		require.NoError(t, r.DrawFrame(data))
	}

	require.NoError(t, r.Shutdown())
	require.NoError(t, r.Shutdown())
	assert.Zero(t, dev.Pending())
	assert.Zero(t, dev.DoubleDestroys)
	assert.True(t, dev.IsDestroyed(mesh.VertexBuffer.(*gputest.Buffer).Label))
	assert.Zero(t, r.deletion.Len())
}

func TestResize(t *testing.T) {
	r, dev := newRenderer(t)
	require.NoError(t, r.Resize(0, 0))
	assert.Zero(t, dev.FakeSwapchain().Recreated)
	require.NoError(t, r.Resize(800, 600))
	w, h := dev.Swapchain().Extent()
	assert.Equal(t, uint32(800), w)
	assert.Equal(t, uint32(600), h)
}
