package vulkan

import (
	"math"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultErrorMapsToSentinels(t *testing.T) {
	assert.NoError(t, resultError(vk.Success, "call"))
	assert.ErrorIs(t, resultError(vk.Timeout, "vkWaitForFences"), core.ErrFenceTimeout)
	assert.ErrorIs(t, resultError(vk.ErrorDeviceLost, "vkQueueSubmit"), core.ErrDeviceLost)
	assert.ErrorIs(t, resultError(vk.ErrorOutOfDate, "vkQueuePresentKHR"), core.ErrSwapchainOutOfDate)
	assert.ErrorIs(t, resultError(vk.Suboptimal, "vkQueuePresentKHR"), core.ErrSwapchainOutOfDate)

	err := resultError(vk.ErrorOutOfDeviceMemory, "vkAllocateMemory")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUnknown)
	assert.Contains(t, err.Error(), "VK_ERROR_OUT_OF_DEVICE_MEMORY")
	assert.True(t, core.IsRecoverable(resultError(vk.ErrorOutOfDate, "acquire")))
}

func TestPerFrameCallsKeepResultSentinels(t *testing.T) {
	for _, call := range []string{"vkResetFences", "vkResetCommandPool", "vkBeginCommandBuffer", "vkEndCommandBuffer", "vkResetCommandBuffer", "vkMapMemory", "vkAllocateDescriptorSets", "vkFreeDescriptorSets"} {
		err := resultError(vk.ErrorDeviceLost, call)
		assert.ErrorIs(t, err, core.ErrDeviceLost, call)
		assert.True(t, core.IsFatal(err), call)
		assert.Contains(t, err.Error(), call)
	}
}

func TestBufferWriteChecksBeforeMapping(t *testing.T) {
	deviceLocal := &VulkanBuffer{size: 16, memory: gpu.MemoryGPUOnly}
	assert.ErrorContains(t, deviceLocal.Write(0, []byte{1}), "not host visible")

	mapped := &VulkanBuffer{size: 4, memory: gpu.MemoryCPUToGPU}
	assert.ErrorContains(t, mapped.Write(2, []byte{1, 2, 3, 4}), "overflows")
	assert.NoError(t, mapped.Write(4, nil))
}

func TestVulkanResultString(t *testing.T) {
	assert.Equal(t, "VK_SUBOPTIMAL_KHR", VulkanResultString(vk.Suboptimal))
	assert.Equal(t, "VkResult(12345)", VulkanResultString(vk.Result(12345)))
}

func TestMemoryProperties(t *testing.T) {
	hostVisible := vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)
	deviceLocal := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)

	required, preferred := memoryProperties(gpu.MemoryGPUOnly)
	assert.Equal(t, deviceLocal, required)
	assert.Equal(t, required, preferred)

	for _, usage := range []gpu.MemoryUsage{gpu.MemoryCPUOnly, gpu.MemoryCPUToGPU, gpu.MemoryGPUToCPU} {
		required, preferred := memoryProperties(usage)
		assert.Equal(t, hostVisible, required&hostVisible, usage.String())
		assert.Equal(t, required, preferred&required, "preferred flags extend required for %s", usage)
	}

	_, preferred = memoryProperties(gpu.MemoryCPUToGPU)
	assert.NotZero(t, preferred&deviceLocal)
}

func TestChoosePresentMode(t *testing.T) {
	modes := []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeImmediate, vk.PresentModeMailbox}
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode(modes, true))
	assert.Equal(t, vk.PresentModeMailbox, choosePresentMode(modes, false))
	assert.Equal(t, vk.PresentModeImmediate, choosePresentMode([]vk.PresentMode{vk.PresentModeFifo, vk.PresentModeImmediate}, false))
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode([]vk.PresentMode{vk.PresentModeFifo}, false))
}

func TestChooseExtent(t *testing.T) {
	caps := vk.SurfaceCapabilities{
		CurrentExtent:  vk.Extent2D{Width: 800, Height: 600},
		MinImageExtent: vk.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: vk.Extent2D{Width: 4096, Height: 4096},
	}
	assert.Equal(t, vk.Extent2D{Width: 800, Height: 600}, chooseExtent(caps, 1700, 900))

	caps.CurrentExtent = vk.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32}
	assert.Equal(t, vk.Extent2D{Width: 1700, Height: 900}, chooseExtent(caps, 1700, 900))
	assert.Equal(t, vk.Extent2D{Width: 4096, Height: 1}, chooseExtent(caps, 9000, 0))
}

func TestChooseSurfaceFormat(t *testing.T) {
	preferred := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	other := vk.SurfaceFormat{Format: vk.FormatR8g8b8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear}

	assert.Equal(t, preferred.Format, chooseSurfaceFormat([]vk.SurfaceFormat{other, preferred}).Format)
	assert.Equal(t, other.Format, chooseSurfaceFormat([]vk.SurfaceFormat{other}).Format)
}

func TestPickQueueFamilies(t *testing.T) {
	t.Run("single family", func(t *testing.T) {
		info := pickQueueFamilies([]queueFamilyCaps{{Graphics: true, Compute: true, Transfer: true, Present: true}})
		assert.Equal(t, int32(0), info.GraphicsFamilyIndex)
		assert.Equal(t, int32(0), info.PresentFamilyIndex)
		assert.Equal(t, int32(0), info.TransferFamilyIndex)
		assert.True(t, info.meets(&VulkanPhysicalDeviceRequirements{Graphics: true, Present: true, Transfer: true}))
	})

	t.Run("dedicated transfer and shared present", func(t *testing.T) {
		info := pickQueueFamilies([]queueFamilyCaps{
			{Present: true},
			{Graphics: true, Compute: true, Transfer: true, Present: true},
			{Transfer: true},
		})
		assert.Equal(t, int32(1), info.GraphicsFamilyIndex)
		assert.Equal(t, int32(1), info.PresentFamilyIndex)
		assert.Equal(t, int32(1), info.ComputeFamilyIndex)
		assert.Equal(t, int32(2), info.TransferFamilyIndex)
	})

	t.Run("missing graphics", func(t *testing.T) {
		info := pickQueueFamilies([]queueFamilyCaps{{Transfer: true}})
		assert.Equal(t, int32(-1), info.GraphicsFamilyIndex)
		assert.False(t, info.meets(&VulkanPhysicalDeviceRequirements{Graphics: true}))
	})
}

func TestConversions(t *testing.T) {
	assert.Equal(t, vk.FormatR8g8b8a8Srgb, toVkFormat(gpu.FormatRGBA8Srgb))
	assert.Equal(t, vk.FormatR32g32b32Sfloat, toVkFormat(gpu.FormatRGB32Float))

	usage := toVkBufferUsage(gpu.BufferUsageVertex | gpu.BufferUsageTransferDst)
	assert.Equal(t, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit|vk.BufferUsageTransferDstBit), usage)

	stages := toVkShaderStages(gpu.ShaderStageVertex | gpu.ShaderStageFragment)
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageVertexBit|vk.ShaderStageFragmentBit), stages)

	assert.Equal(t, vk.DescriptorTypeUniformBufferDynamic, toVkDescriptorType(gpu.DescriptorUniformBufferDynamic))
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, toVkImageLayout(gpu.ImageLayoutShaderReadOnly))
}

func TestSafeStrings(t *testing.T) {
	assert.Equal(t, "\x00", VulkanSafeString(""))
	assert.Equal(t, "main\x00", VulkanSafeString("main"))
	assert.Equal(t, "main\x00", VulkanSafeString("main\x00"))

	in := []string{"a", "b\x00"}
	out := VulkanSafeStrings(in)
	assert.Equal(t, []string{"a\x00", "b\x00"}, out)
	assert.Equal(t, "a", in[0])

	assert.Equal(t, 3, FindFirstZeroInByteArray([]byte{'a', 'b', 'c', 0, 'd'}))
	assert.Equal(t, 2, FindFirstZeroInByteArray([]byte{'a', 'b'}))
}

func TestLockPoolQueueCall(t *testing.T) {
	pool := NewVulkanLockPool()
	calls := 0
	require.NoError(t, pool.SafeQueueCall(3, func() error {
		calls++
		return nil
	}))
	pool.SetQueueFamily(0)
	require.NoError(t, pool.SafeCall(BufferManagement, func() error {
		calls++
		return pool.SafeQueueCall(0, func() error {
			calls++
			return nil
		})
	}))
	assert.Equal(t, 3, calls)
}
