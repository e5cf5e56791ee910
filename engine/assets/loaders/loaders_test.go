package loaders

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spirvBytes(words ...uint32) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, words)
	return buf.Bytes()
}

func TestDecodeSPIRV(t *testing.T) {
	code, err := DecodeSPIRV(spirvBytes(spirvMagic, 0x00010000, 0, 8, 0))
	require.NoError(t, err)
	assert.Equal(t, []uint32{spirvMagic, 0x00010000, 0, 8, 0}, code)

	_, err = DecodeSPIRV(spirvBytes(0xdeadbeef, 0, 0, 0, 0))
	assert.ErrorIs(t, err, ErrInvalidSPIRV)

	_, err = DecodeSPIRV([]byte{3, 2, 35, 7, 1})
	assert.ErrorIs(t, err, ErrInvalidSPIRV)
}

func TestShaderLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mesh.vert.spv")
	require.NoError(t, os.WriteFile(path, spirvBytes(spirvMagic, 0x00010000, 0, 8, 0), 0o644))

	res, err := (&ShaderLoader{}).Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, ResourceTypeShader, res.Type)
	assert.Len(t, res.Data.([]uint32), 5)

	_, err = (&ShaderLoader{}).Load(filepath.Join(dir, "missing.spv"), nil)
	assert.Error(t, err)
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 10), A: 255})
		}
	}
	return img
}

func TestTextureLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gradient.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, gradient(4, 3)))
	require.NoError(t, f.Close())

	res, err := (&TextureLoader{}).Load(path, nil)
	require.NoError(t, err)
	img := res.Data.(*image.RGBA)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
	assert.Equal(t, color.RGBA{R: 30, G: 20, A: 255}, img.RGBAAt(3, 2))

	res, err = (&TextureLoader{}).Load(path, &TextureParams{FlipY: true})
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 30, G: 0, A: 255}, res.Data.(*image.RGBA).RGBAAt(3, 2))
}

func TestToRGBAScalesDown(t *testing.T) {
	img := ToRGBA(gradient(64, 32), TextureParams{MaxSize: 16})
	assert.Equal(t, image.Rect(0, 0, 16, 8), img.Bounds())

	img = ToRGBA(gradient(8, 8), TextureParams{MaxSize: 16})
	assert.Equal(t, image.Rect(0, 0, 8, 8), img.Bounds())
}
