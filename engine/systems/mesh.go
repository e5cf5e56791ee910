package systems

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer"
)

// MeshHandle refers to a mesh registered with a MeshSystem.
type MeshHandle uint32

const InvalidMeshHandle MeshHandle = ^MeshHandle(0)

type MeshUploader interface {
	UploadMesh(mesh *renderer.Mesh) error
}

type MeshSystemConfig struct {
	MaxMeshCount uint32
}

// MeshSystem owns every uploaded mesh. Lookups by name or handle.
type MeshSystem struct {
	config   MeshSystemConfig
	uploader MeshUploader
	meshes   []*renderer.Mesh
	lookup   map[string]MeshHandle
}

func NewMeshSystem(config MeshSystemConfig, uploader MeshUploader) (*MeshSystem, error) {
	if config.MaxMeshCount == 0 {
		err := errors.New("mesh system: MaxMeshCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	return &MeshSystem{
		config:   config,
		uploader: uploader,
		lookup:   make(map[string]MeshHandle),
	}, nil
}

// Register uploads mesh and returns its handle. Names are unique.
func (ms *MeshSystem) Register(mesh *renderer.Mesh) (MeshHandle, error) {
	if _, ok := ms.lookup[mesh.Name]; ok {
		return InvalidMeshHandle, errors.Errorf("mesh %s already registered", mesh.Name)
	}
	if uint32(len(ms.meshes)) >= ms.config.MaxMeshCount {
		return InvalidMeshHandle, errors.Errorf("mesh system full (%d), cannot register %s", ms.config.MaxMeshCount, mesh.Name)
	}
	if err := ms.uploader.UploadMesh(mesh); err != nil {
		return InvalidMeshHandle, err
	}
	h := MeshHandle(len(ms.meshes))
	ms.meshes = append(ms.meshes, mesh)
	ms.lookup[mesh.Name] = h
	core.LogDebug("mesh %s (%s) registered with %d vertices", mesh.Name, mesh.ID, len(mesh.Vertices))
	return h, nil
}

func (ms *MeshSystem) Get(name string) (*renderer.Mesh, MeshHandle, error) {
	h, ok := ms.lookup[name]
	if !ok {
		return nil, InvalidMeshHandle, errors.Wrapf(core.ErrNotFound, "mesh %s", name)
	}
	return ms.meshes[h], h, nil
}

func (ms *MeshSystem) At(h MeshHandle) (*renderer.Mesh, error) {
	if int(h) >= len(ms.meshes) {
		return nil, errors.Wrapf(core.ErrNotFound, "mesh handle %d", h)
	}
	return ms.meshes[h], nil
}

// ID returns the identifier the mesh's device resources are tagged with.
func (ms *MeshSystem) ID(h MeshHandle) (uuid.UUID, error) {
	if int(h) >= len(ms.meshes) {
		return uuid.Nil, errors.Wrapf(core.ErrNotFound, "mesh handle %d", h)
	}
	return ms.meshes[h].ID, nil
}

func (ms *MeshSystem) Shutdown() error {
	// buffers belong to the renderer's deletion queue
	ms.meshes = nil
	ms.lookup = make(map[string]MeshHandle)
	return nil
}

func TriangleMesh(name string) *renderer.Mesh {
	green := mgl32.Vec3{0, 1, 0}
	normal := mgl32.Vec3{0, 0, 1}
	return &renderer.Mesh{Name: name, Vertices: []renderer.Vertex{
		{Position: mgl32.Vec3{1, 1, 0}, Normal: normal, Color: green, UV: mgl32.Vec2{1, 1}},
		{Position: mgl32.Vec3{-1, 1, 0}, Normal: normal, Color: green, UV: mgl32.Vec2{0, 1}},
		{Position: mgl32.Vec3{0, -1, 0}, Normal: normal, Color: green, UV: mgl32.Vec2{0.5, 0}},
	}}
}

// QuadMesh is a unit quad in the XY plane made of two triangles.
func QuadMesh(name string) *renderer.Mesh {
	white := mgl32.Vec3{1, 1, 1}
	normal := mgl32.Vec3{0, 0, 1}
	corner := func(x, y, u, v float32) renderer.Vertex {
		return renderer.Vertex{Position: mgl32.Vec3{x, y, 0}, Normal: normal, Color: white, UV: mgl32.Vec2{u, v}}
	}
	return &renderer.Mesh{Name: name, Vertices: []renderer.Vertex{
		corner(-1, -1, 0, 0), corner(1, -1, 1, 0), corner(1, 1, 1, 1),
		corner(-1, -1, 0, 0), corner(1, 1, 1, 1), corner(-1, 1, 0, 1),
	}}
}

// CubeMesh is a unit cube with per face normals and colors.
func CubeMesh(name string) *renderer.Mesh {
	faces := []struct {
		normal, u, v mgl32.Vec3
	}{
		{normal: mgl32.Vec3{0, 0, 1}, u: mgl32.Vec3{1, 0, 0}, v: mgl32.Vec3{0, 1, 0}},
		{normal: mgl32.Vec3{0, 0, -1}, u: mgl32.Vec3{-1, 0, 0}, v: mgl32.Vec3{0, 1, 0}},
		{normal: mgl32.Vec3{1, 0, 0}, u: mgl32.Vec3{0, 0, -1}, v: mgl32.Vec3{0, 1, 0}},
		{normal: mgl32.Vec3{-1, 0, 0}, u: mgl32.Vec3{0, 0, 1}, v: mgl32.Vec3{0, 1, 0}},
		{normal: mgl32.Vec3{0, 1, 0}, u: mgl32.Vec3{1, 0, 0}, v: mgl32.Vec3{0, 0, -1}},
		{normal: mgl32.Vec3{0, -1, 0}, u: mgl32.Vec3{1, 0, 0}, v: mgl32.Vec3{0, 0, 1}},
	}
	mesh := &renderer.Mesh{Name: name, Vertices: make([]renderer.Vertex, 0, 36)}
	for _, f := range faces {
		color := f.normal.Mul(0.5).Add(mgl32.Vec3{0.5, 0.5, 0.5})
		corner := func(su, sv float32) renderer.Vertex {
			p := f.normal.Add(f.u.Mul(su)).Add(f.v.Mul(sv))
			return renderer.Vertex{Position: p, Normal: f.normal, Color: color, UV: mgl32.Vec2{(su + 1) / 2, (sv + 1) / 2}}
		}
		mesh.Vertices = append(mesh.Vertices,
			corner(-1, -1), corner(1, -1), corner(1, 1),
			corner(-1, -1), corner(1, 1), corner(-1, 1),
		)
	}
	return mesh
}
