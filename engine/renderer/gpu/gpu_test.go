package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPadUniformBufferSize(t *testing.T) {
	cases := []struct {
		size, alignment, want uint64
	}{
		{size: 80, alignment: 256, want: 256},
		{size: 256, alignment: 256, want: 256},
		{size: 257, alignment: 256, want: 512},
		{size: 80, alignment: 64, want: 128},
		{size: 80, alignment: 0, want: 80},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, PadUniformBufferSize(c.size, c.alignment), "size %d alignment %d", c.size, c.alignment)
	}
}

func TestMemoryUsageHostVisible(t *testing.T) {
	assert.False(t, MemoryGPUOnly.HostVisible())
	assert.True(t, MemoryCPUOnly.HostVisible())
	assert.True(t, MemoryCPUToGPU.HostVisible())
	assert.True(t, MemoryGPUToCPU.HostVisible())
	assert.Equal(t, "cpu-to-gpu", MemoryCPUToGPU.String())
}

func TestFormatBytesPerPixel(t *testing.T) {
	assert.Equal(t, 4, FormatRGBA8Srgb.BytesPerPixel())
	assert.Equal(t, 0, FormatD32Float.BytesPerPixel())
}
