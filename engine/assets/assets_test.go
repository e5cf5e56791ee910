package assets

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkguide/engine/assets/loaders"
	"github.com/spaghettifunk/vkguide/engine/core"
)

func writeShader(t *testing.T, path string, extra uint32) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []uint32{0x07230203, 0x00010000, 0, 8, extra}))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func newManager(t *testing.T) (*AssetManager, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "shaders"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "textures"), 0o755))
	writeShader(t, filepath.Join(dir, "shaders", "mesh.vert.spv"), 0)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shaders", "mesh.vert"), []byte("#version 450"), 0o644))

	f, err := os.Create(filepath.Join(dir, "textures", "white.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	require.NoError(t, f.Close())

	am, err := NewAssetManager()
	require.NoError(t, err)
	require.NoError(t, am.Initialize(dir))
	t.Cleanup(func() { _ = am.Shutdown() })
	return am, dir
}

func TestDetermineAssetType(t *testing.T) {
	assert.Equal(t, loaders.ResourceTypeShader, determineAssetType("shaders/mesh.frag.spv"))
	assert.Equal(t, loaders.ResourceTypeImage, determineAssetType("textures/lost_empire-RGBA.png"))
	assert.Equal(t, loaders.ResourceTypeImage, determineAssetType("a.webp"))
	assert.Equal(t, loaders.ResourceTypeNone, determineAssetType("shaders/mesh.frag"))
}

func TestIndexAndLoad(t *testing.T) {
	am, _ := newManager(t)
	assert.Equal(t, 2, am.Len(), "GLSL sources are not indexed")

	code, err := am.LoadShader("shaders/mesh.vert.spv")
	require.NoError(t, err)
	assert.Len(t, code, 5)

	img, err := am.LoadImage("textures/white.png", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())

	info, ok := am.Info("shaders/mesh.vert.spv")
	require.True(t, ok)
	assert.False(t, info.LastLoaded.IsZero())

	_, err = am.LoadShader("shaders/missing.spv")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = am.LoadShader("textures/white.png")
	assert.Error(t, err)
}

func TestWatchReportsChanges(t *testing.T) {
	am, dir := newManager(t)

	writeShader(t, filepath.Join(dir, "shaders", "mesh.frag.spv"), 1)
	select {
	case e := <-am.Changes():
		assert.Equal(t, "shaders/mesh.frag.spv", e.Path)
		assert.Equal(t, loaders.ResourceTypeShader, e.Type)
		assert.Equal(t, AssetModified, e.Op)
	case <-time.After(5 * time.Second):
		t.Fatal("no change event for new shader")
	}
	_, ok := am.Info("shaders/mesh.frag.spv")
	assert.True(t, ok)
}

func TestShutdownIsIdempotent(t *testing.T) {
	am, err := NewAssetManager()
	require.NoError(t, err)
	require.NoError(t, am.Shutdown())
	require.NoError(t, am.Shutdown())
}
