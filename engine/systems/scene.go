package systems

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/vkguide/engine/renderer"
)

// RenderObject places a registered mesh with a registered material.
type RenderObject struct {
	Mesh      MeshHandle
	Material  MaterialHandle
	Transform mgl32.Mat4
}

type Scene struct {
	Params  renderer.SceneParams
	objects []RenderObject
}

func NewScene() *Scene {
	return &Scene{
		Params: renderer.SceneParams{
			AmbientColor:      mgl32.Vec4{0.1, 0.1, 0.1, 1},
			SunlightDirection: mgl32.Vec4{0, -1, 0, 1},
			SunlightColor:     mgl32.Vec4{1, 1, 1, 1},
		},
	}
}

func (s *Scene) Add(obj RenderObject) int {
	s.objects = append(s.objects, obj)
	return len(s.objects) - 1
}

func (s *Scene) Objects() []RenderObject {
	return s.objects
}

func (s *Scene) Len() int {
	return len(s.objects)
}

func (s *Scene) Clear() {
	s.objects = s.objects[:0]
}

// SortedByMaterial returns the objects grouped by material, then mesh, so the
// renderer rebinds pipelines and vertex buffers as rarely as possible. Insertion
// order is kept inside a group.
func (s *Scene) SortedByMaterial() []RenderObject {
	sorted := slices.Clone(s.objects)
	slices.SortStableFunc(sorted, func(a, b RenderObject) int {
		if a.Material != b.Material {
			return compareHandles(uint32(a.Material), uint32(b.Material))
		}
		return compareHandles(uint32(a.Mesh), uint32(b.Mesh))
	})
	return sorted
}

func compareHandles(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Resolve turns the sorted objects into renderer draws.
func (s *Scene) Resolve(meshes *MeshSystem, materials *MaterialSystem) ([]renderer.RenderObject, error) {
	sorted := s.SortedByMaterial()
	out := make([]renderer.RenderObject, len(sorted))
	for i, obj := range sorted {
		mesh, err := meshes.At(obj.Mesh)
		if err != nil {
			return nil, errors.Wrapf(err, "scene object %d", i)
		}
		material, err := materials.At(obj.Material)
		if err != nil {
			return nil, errors.Wrapf(err, "scene object %d", i)
		}
		out[i] = renderer.RenderObject{Mesh: mesh, Material: material, Transform: obj.Transform}
	}
	return out, nil
}

func (s *Scene) FrameData(camera *Camera, aspect float32, meshes *MeshSystem, materials *MaterialSystem) (*renderer.FrameData, error) {
	objects, err := s.Resolve(meshes, materials)
	if err != nil {
		return nil, err
	}
	return &renderer.FrameData{
		Camera:  camera.Data(aspect),
		Scene:   s.Params,
		Objects: objects,
	}, nil
}
