package systems

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer"
)

const (
	/** @brief The name of the default untextured material. */
	DefaultMaterialName string = "defaultmesh"
	/** @brief The name of the default textured material. */
	TexturedMaterialName string = "texturedmesh"
)

type MaterialHandle uint32

const InvalidMaterialHandle MaterialHandle = ^MaterialHandle(0)

type MaterialFactory interface {
	CreateMaterial(name, pipeline string) (*renderer.Material, error)
	BindTexture(material *renderer.Material, tex *renderer.Texture) error
}

type MaterialSystemConfig struct {
	MaxMaterialCount uint32
}

type MaterialSystem struct {
	config    MaterialSystemConfig
	factory   MaterialFactory
	materials []*renderer.Material
	lookup    map[string]MaterialHandle
}

func NewMaterialSystem(config MaterialSystemConfig, factory MaterialFactory) (*MaterialSystem, error) {
	if config.MaxMaterialCount == 0 {
		err := errors.New("material system: MaxMaterialCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	return &MaterialSystem{
		config:  config,
		factory: factory,
		lookup:  make(map[string]MaterialHandle),
	}, nil
}

/**
 * @brief Creates a material that draws with the named pipeline.
 * Creating a material with an existing name is an error.
 */
func (ms *MaterialSystem) Create(name, pipeline string) (MaterialHandle, error) {
	if _, ok := ms.lookup[name]; ok {
		return InvalidMaterialHandle, errors.Errorf("material %s already exists", name)
	}
	if uint32(len(ms.materials)) >= ms.config.MaxMaterialCount {
		return InvalidMaterialHandle, errors.Errorf("material system full (%d), cannot create %s", ms.config.MaxMaterialCount, name)
	}
	m, err := ms.factory.CreateMaterial(name, pipeline)
	if err != nil {
		return InvalidMaterialHandle, err
	}
	h := MaterialHandle(len(ms.materials))
	ms.materials = append(ms.materials, m)
	ms.lookup[name] = h
	core.LogDebug("material %s (%s) created with pipeline %s", name, m.ID, pipeline)
	return h, nil
}

// Get looks a material up by name. Unknown names return core.ErrNotFound.
func (ms *MaterialSystem) Get(name string) (*renderer.Material, MaterialHandle, error) {
	h, ok := ms.lookup[name]
	if !ok {
		return nil, InvalidMaterialHandle, errors.Wrapf(core.ErrNotFound, "material %s", name)
	}
	return ms.materials[h], h, nil
}

func (ms *MaterialSystem) At(h MaterialHandle) (*renderer.Material, error) {
	if int(h) >= len(ms.materials) {
		return nil, errors.Wrapf(core.ErrNotFound, "material handle %d", h)
	}
	return ms.materials[h], nil
}

func (ms *MaterialSystem) ID(h MaterialHandle) (uuid.UUID, error) {
	if int(h) >= len(ms.materials) {
		return uuid.Nil, errors.Wrapf(core.ErrNotFound, "material handle %d", h)
	}
	return ms.materials[h].ID, nil
}

// SetTexture binds tex to the named material's texture set.
func (ms *MaterialSystem) SetTexture(name string, tex *renderer.Texture) error {
	m, _, err := ms.Get(name)
	if err != nil {
		return err
	}
	return ms.factory.BindTexture(m, tex)
}

func (ms *MaterialSystem) Shutdown() error {
	ms.materials = nil
	ms.lookup = make(map[string]MaterialHandle)
	return nil
}
