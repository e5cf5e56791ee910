package engine

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"gopkg.in/yaml.v3"

	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu"
	"github.com/spaghettifunk/vkguide/engine/renderer/vulkan"
	"github.com/spaghettifunk/vkguide/engine/systems"
)

const (
	DefaultWindowWidth  uint32 = 1700
	DefaultWindowHeight uint32 = 900
	DefaultFrameOverlap int    = 2
	DefaultMaxObjects   int    = 10000
	MaxFrameOverlap     int    = 4
)

// Duration reads values such as "1s" or "250ms" from config files.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", string(text))
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type RendererConfig struct {
	// Number of frames the CPU may record ahead of the GPU.
	FrameOverlap int        `toml:"frame_overlap" yaml:"frame_overlap"`
	FenceTimeout Duration   `toml:"fence_timeout" yaml:"fence_timeout"`
	MaxObjects   int        `toml:"max_objects" yaml:"max_objects"`
	Validation   bool       `toml:"validation" yaml:"validation"`
	VSync        bool       `toml:"vsync" yaml:"vsync"`
	ClearColor   [3]float32 `toml:"clear_color" yaml:"clear_color"`
	FlashClear   bool       `toml:"flash_clear" yaml:"flash_clear"`
	// "linear" or "nearest"
	TextureFilter string `toml:"texture_filter" yaml:"texture_filter"`
}

type SystemsConfig struct {
	MaxMeshCount     uint32 `toml:"max_mesh_count" yaml:"max_mesh_count"`
	MaxMaterialCount uint32 `toml:"max_material_count" yaml:"max_material_count"`
	MaxTextureCount  uint32 `toml:"max_texture_count" yaml:"max_texture_count"`
	MaxCameraCount   uint16 `toml:"max_camera_count" yaml:"max_camera_count"`
	MaxTextureSize   int    `toml:"max_texture_size" yaml:"max_texture_size"`
	JobWorkers       int    `toml:"job_workers" yaml:"job_workers"`
}

type ApplicationConfig struct {
	// The application name used in windowing.
	Name string `toml:"name" yaml:"name"`
	// Window starting position x axis.
	StartPosX int `toml:"start_pos_x" yaml:"start_pos_x"`
	// Window starting position y axis.
	StartPosY int `toml:"start_pos_y" yaml:"start_pos_y"`
	// Window starting width.
	StartWidth uint32 `toml:"start_width" yaml:"start_width"`
	// Window starting height.
	StartHeight uint32        `toml:"start_height" yaml:"start_height"`
	LogLevel    core.LogLevel `toml:"log_level" yaml:"log_level"`
	// Relative paths are resolved against the working directory.
	AssetsDir string         `toml:"assets_dir" yaml:"assets_dir"`
	Renderer  RendererConfig `toml:"renderer" yaml:"renderer"`
	Systems   SystemsConfig  `toml:"systems" yaml:"systems"`
}

func DefaultApplicationConfig() *ApplicationConfig {
	return &ApplicationConfig{
		Name:        "vkguide",
		StartPosX:   100,
		StartPosY:   100,
		StartWidth:  DefaultWindowWidth,
		StartHeight: DefaultWindowHeight,
		LogLevel:    core.InfoLevel,
		AssetsDir:   "assets",
		Renderer: RendererConfig{
			FrameOverlap:  DefaultFrameOverlap,
			FenceTimeout:  Duration{time.Second},
			MaxObjects:    DefaultMaxObjects,
			Validation:    true,
			VSync:         true,
			ClearColor:    [3]float32{0, 0, 0},
			FlashClear:    true,
			TextureFilter: "nearest",
		},
		Systems: SystemsConfig{
			MaxMeshCount:     256,
			MaxMaterialCount: 256,
			MaxTextureCount:  256,
			MaxCameraCount:   16,
			MaxTextureSize:   2048,
		},
	}
}

// LoadApplicationConfig reads a TOML or YAML file on top of the defaults and
// validates the result.
func LoadApplicationConfig(path string) (*ApplicationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}

	config := DefaultApplicationConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, config)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		return nil, errors.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects values that cannot be fixed and clamps the rest into range.
func (c *ApplicationConfig) Validate() error {
	switch c.LogLevel {
	case core.DebugLevel, core.InfoLevel, core.WarnLevel, core.ErrorLevel, core.FatalLevel:
	case "":
		c.LogLevel = core.InfoLevel
	default:
		return errors.Errorf("unknown log level %q", c.LogLevel)
	}
	switch c.Renderer.TextureFilter {
	case "linear", "nearest":
	case "":
		c.Renderer.TextureFilter = "nearest"
	default:
		return errors.Errorf("unknown texture filter %q", c.Renderer.TextureFilter)
	}

	if c.Name == "" {
		c.Name = "vkguide"
	}
	if c.StartWidth == 0 {
		c.StartWidth = DefaultWindowWidth
	}
	if c.StartHeight == 0 {
		c.StartHeight = DefaultWindowHeight
	}
	c.Renderer.FrameOverlap = Clamp(c.Renderer.FrameOverlap, 1, MaxFrameOverlap)
	if c.Renderer.FenceTimeout.Duration <= 0 {
		c.Renderer.FenceTimeout = Duration{time.Second}
	}
	c.Renderer.MaxObjects = Clamp(c.Renderer.MaxObjects, 1, 10*DefaultMaxObjects)
	for i := range c.Renderer.ClearColor {
		c.Renderer.ClearColor[i] = Clamp(c.Renderer.ClearColor[i], 0, 1)
	}

	c.Systems.MaxMeshCount = Clamp(c.Systems.MaxMeshCount, 1, 4096)
	c.Systems.MaxMaterialCount = Clamp(c.Systems.MaxMaterialCount, 1, 4096)
	c.Systems.MaxTextureCount = Clamp(c.Systems.MaxTextureCount, 1, 4096)
	c.Systems.MaxCameraCount = Clamp(c.Systems.MaxCameraCount, 1, 64)
	c.Systems.MaxTextureSize = Clamp(c.Systems.MaxTextureSize, 0, 16384)
	c.Systems.JobWorkers = Clamp(c.Systems.JobWorkers, 0, 64)
	return nil
}

func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (c *ApplicationConfig) backendConfig() vulkan.BackendConfig {
	return vulkan.BackendConfig{
		ApplicationName: c.Name,
		Width:           c.StartWidth,
		Height:          c.StartHeight,
		VSync:           c.Renderer.VSync,
		Validation:      c.Renderer.Validation,
	}
}

func (c *ApplicationConfig) rendererConfig() renderer.Config {
	filter := gpu.FilterNearest
	if c.Renderer.TextureFilter == "linear" {
		filter = gpu.FilterLinear
	}
	return renderer.Config{
		FrameOverlap: c.Renderer.FrameOverlap,
		FenceTimeout: c.Renderer.FenceTimeout.Duration,
		MaxObjects:   c.Renderer.MaxObjects,
		ClearColor:   c.Renderer.ClearColor,
		FlashClear:   c.Renderer.FlashClear,
		Filter:       filter,
	}
}

func (c *ApplicationConfig) systemsConfig() systems.SystemManagerConfig {
	return systems.SystemManagerConfig{
		MaxMeshCount:     c.Systems.MaxMeshCount,
		MaxMaterialCount: c.Systems.MaxMaterialCount,
		MaxTextureCount:  c.Systems.MaxTextureCount,
		MaxCameraCount:   c.Systems.MaxCameraCount,
		MaxTextureSize:   c.Systems.MaxTextureSize,
		JobWorkers:       c.Systems.JobWorkers,
	}
}
