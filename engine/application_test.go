package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultApplicationConfig(t *testing.T) {
	config := DefaultApplicationConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, uint32(1700), config.StartWidth)
	assert.Equal(t, uint32(900), config.StartHeight)
	assert.Equal(t, 2, config.Renderer.FrameOverlap)
	assert.Equal(t, time.Second, config.Renderer.FenceTimeout.Duration)
	assert.Equal(t, 10000, config.Renderer.MaxObjects)
}

func TestLoadApplicationConfigTOML(t *testing.T) {
	path := writeConfig(t, "engine.toml", `
name = "toml test"
start_width = 800
log_level = "debug"

[renderer]
frame_overlap = 3
fence_timeout = "250ms"
vsync = false
clear_color = [0.5, 2.0, -1.0]
texture_filter = "linear"

[systems]
max_mesh_count = 12
`)

	config, err := LoadApplicationConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "toml test", config.Name)
	assert.Equal(t, uint32(800), config.StartWidth)
	// missing keys keep their defaults
	assert.Equal(t, DefaultWindowHeight, config.StartHeight)
	assert.Equal(t, core.DebugLevel, config.LogLevel)
	assert.Equal(t, 3, config.Renderer.FrameOverlap)
	assert.Equal(t, 250*time.Millisecond, config.Renderer.FenceTimeout.Duration)
	assert.False(t, config.Renderer.VSync)
	assert.Equal(t, [3]float32{0.5, 1, 0}, config.Renderer.ClearColor)
	assert.Equal(t, uint32(12), config.Systems.MaxMeshCount)
	assert.Equal(t, uint32(256), config.Systems.MaxTextureCount)

	rc := config.rendererConfig()
	assert.Equal(t, gpu.FilterLinear, rc.Filter)
	assert.Equal(t, 250*time.Millisecond, rc.FenceTimeout)
}

func TestLoadApplicationConfigYAML(t *testing.T) {
	path := writeConfig(t, "engine.yaml", `
name: yaml test
start_height: 600
renderer:
  frame_overlap: 9
  fence_timeout: 2s
  max_objects: 0
systems:
  job_workers: 4
`)

	config, err := LoadApplicationConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "yaml test", config.Name)
	assert.Equal(t, uint32(600), config.StartHeight)
	assert.Equal(t, MaxFrameOverlap, config.Renderer.FrameOverlap)
	assert.Equal(t, 2*time.Second, config.Renderer.FenceTimeout.Duration)
	assert.Equal(t, 1, config.Renderer.MaxObjects)
	assert.Equal(t, 4, config.systemsConfig().JobWorkers)

	bc := config.backendConfig()
	assert.Equal(t, "yaml test", bc.ApplicationName)
	assert.Equal(t, uint32(600), bc.Height)
}

func TestLoadApplicationConfigErrors(t *testing.T) {
	_, err := LoadApplicationConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadApplicationConfig(writeConfig(t, "engine.json", `{}`))
	assert.ErrorContains(t, err, "unsupported config format")

	_, err = LoadApplicationConfig(writeConfig(t, "engine.toml", `log_level = "loud"`))
	assert.ErrorContains(t, err, "unknown log level")

	_, err = LoadApplicationConfig(writeConfig(t, "engine.yml", "renderer:\n  fence_timeout: soon\n"))
	assert.ErrorContains(t, err, "invalid duration")

	_, err = LoadApplicationConfig(writeConfig(t, "engine.toml", "[renderer]\ntexture_filter = \"cubic\"\n"))
	assert.ErrorContains(t, err, "unknown texture filter")
}

func TestValidateFillsZeroValues(t *testing.T) {
	config := &ApplicationConfig{}
	require.NoError(t, config.Validate())

	assert.Equal(t, "vkguide", config.Name)
	assert.Equal(t, DefaultWindowWidth, config.StartWidth)
	assert.Equal(t, core.InfoLevel, config.LogLevel)
	assert.Equal(t, 1, config.Renderer.FrameOverlap)
	assert.Equal(t, time.Second, config.Renderer.FenceTimeout.Duration)
	assert.Equal(t, "nearest", config.Renderer.TextureFilter)
	assert.Equal(t, uint16(1), config.Systems.MaxCameraCount)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, Clamp(-3, 1, 4))
	assert.Equal(t, 4, Clamp(7, 1, 4))
	assert.Equal(t, 2, Clamp(2, 1, 4))
	assert.Equal(t, float32(0.25), Clamp(float32(0.25), 0, 1))
	assert.Equal(t, uint32(0), Clamp(uint32(0), 0, 10))
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))
}
