package systems

import (
	"runtime"

	"github.com/spaghettifunk/vkguide/engine/assets"
	"github.com/spaghettifunk/vkguide/engine/renderer"
)

type SystemManagerConfig struct {
	MaxMeshCount     uint32
	MaxMaterialCount uint32
	MaxTextureCount  uint32
	MaxCameraCount   uint16
	MaxTextureSize   int
	// JobWorkers defaults to the number of CPUs.
	JobWorkers int
}

type SystemManager struct {
	cameraSystem   *CameraSystem
	jobSystem      *JobSystem
	meshSystem     *MeshSystem
	materialSystem *MaterialSystem
	textureSystem  *TextureSystem
}

func NewSystemManager(config SystemManagerConfig, r *renderer.Renderer, am *assets.AssetManager) (*SystemManager, error) {
	if config.JobWorkers <= 0 {
		config.JobWorkers = runtime.NumCPU()
	}
	js, err := NewJobSystem(config.JobWorkers, 64)
	if err != nil {
		return nil, err
	}
	cs, err := NewCameraSystem(CameraSystemConfig{MaxCameraCount: config.MaxCameraCount})
	if err != nil {
		return nil, err
	}
	ms, err := NewMeshSystem(MeshSystemConfig{MaxMeshCount: config.MaxMeshCount}, r)
	if err != nil {
		return nil, err
	}
	mats, err := NewMaterialSystem(MaterialSystemConfig{MaxMaterialCount: config.MaxMaterialCount}, r)
	if err != nil {
		return nil, err
	}
	ts, err := NewTextureSystem(TextureSystemConfig{
		MaxTextureCount: config.MaxTextureCount,
		MaxSize:         config.MaxTextureSize,
	}, r, am, js)
	if err != nil {
		return nil, err
	}
	return &SystemManager{
		cameraSystem:   cs,
		jobSystem:      js,
		meshSystem:     ms,
		materialSystem: mats,
		textureSystem:  ts,
	}, nil
}

func (sm *SystemManager) Cameras() *CameraSystem     { return sm.cameraSystem }
func (sm *SystemManager) Jobs() *JobSystem           { return sm.jobSystem }
func (sm *SystemManager) Meshes() *MeshSystem        { return sm.meshSystem }
func (sm *SystemManager) Materials() *MaterialSystem { return sm.materialSystem }
func (sm *SystemManager) Textures() *TextureSystem   { return sm.textureSystem }

// Shutdown stops the systems in reverse order of creation.
func (sm *SystemManager) Shutdown() error {
	if err := sm.textureSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.materialSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.meshSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.cameraSystem.Shutdown(); err != nil {
		return err
	}
	return sm.jobSystem.Shutdown()
}
