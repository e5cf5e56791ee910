package renderer

import (
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/spaghettifunk/vkguide/engine/renderer/gpu"
)

type Vertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	Color    mgl32.Vec3
	UV       mgl32.Vec2
}

// VertexLayout describes Vertex for the input assembly stage.
func VertexLayout() gpu.VertexLayout {
	var v Vertex
	return gpu.VertexLayout{
		Stride: uint32(unsafe.Sizeof(v)),
		Attributes: []gpu.VertexAttribute{
			{Location: 0, Format: gpu.FormatRGB32Float, Offset: uint32(unsafe.Offsetof(v.Position))},
			{Location: 1, Format: gpu.FormatRGB32Float, Offset: uint32(unsafe.Offsetof(v.Normal))},
			{Location: 2, Format: gpu.FormatRGB32Float, Offset: uint32(unsafe.Offsetof(v.Color))},
			{Location: 3, Format: gpu.FormatRG32Float, Offset: uint32(unsafe.Offsetof(v.UV))},
		},
	}
}

// Mesh is vertex data plus the device buffer it was uploaded to.
type Mesh struct {
	// ID tags the mesh's device resources. UploadMesh assigns one when unset.
	ID           uuid.UUID
	Name         string
	Vertices     []Vertex
	VertexBuffer gpu.Buffer
}

// Pipeline is a named graphics pipeline. The handle is swapped in place on reload
// so materials keep pointing at the current one.
type Pipeline struct {
	Name     string
	Textured bool
	handle   gpu.Pipeline
}

func (p *Pipeline) Handle() gpu.Pipeline {
	return p.handle
}

type Texture struct {
	ID         uuid.UUID
	Name       string
	Image      gpu.Image
	generation uint32
}

func (t *Texture) Generation() uint32 {
	return t.generation
}

type Material struct {
	ID         uuid.UUID
	Name       string
	Pipeline   *Pipeline
	Texture    *Texture
	TextureSet gpu.DescriptorSet
	// generation of Texture that TextureSet points at
	boundGeneration uint32
}

// RenderObject is one draw: a mesh with a material at a transform.
type RenderObject struct {
	Mesh      *Mesh
	Material  *Material
	Transform mgl32.Mat4
}

type CameraData struct {
	View mgl32.Mat4
	Proj mgl32.Mat4
}

// SceneParams matches the scene uniform block of the shaders.
type SceneParams struct {
	FogColor          mgl32.Vec4
	FogDistances      mgl32.Vec4
	AmbientColor      mgl32.Vec4
	SunlightDirection mgl32.Vec4
	SunlightColor     mgl32.Vec4
}

// FrameData is everything DrawFrame needs. Objects are drawn in order.
type FrameData struct {
	Camera  CameraData
	Scene   SceneParams
	Objects []RenderObject
}

type gpuCameraData struct {
	View     mgl32.Mat4
	Proj     mgl32.Mat4
	ViewProj mgl32.Mat4
}

type gpuObjectData struct {
	Model mgl32.Mat4
}

type meshPushConstants struct {
	Data         mgl32.Vec4
	RenderMatrix mgl32.Mat4
}

func bytesOf[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

func sliceBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(zero)))
}
