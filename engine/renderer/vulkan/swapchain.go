package vulkan

import (
	"fmt"
	"math"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu"
	"golang.org/x/exp/constraints"
)

type VulkanSwapchain struct {
	context *VulkanContext
	vsync   bool

	ImageFormat vk.SurfaceFormat
	ImageExtent vk.Extent2D
	Handle      vk.Swapchain
	Images      []vk.Image
	Views       []vk.ImageView

	DepthAttachment *VulkanImage

	// framebuffers used for on-screen rendering, one per image.
	Framebuffers []*VulkanFramebuffer
}

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

func SwapchainCreate(context *VulkanContext, width, height uint32, vsync bool) (*VulkanSwapchain, error) {
	swapchain := &VulkanSwapchain{context: context, vsync: vsync}
	if err := swapchain.create(width, height); err != nil {
		return nil, err
	}
	return swapchain, nil
}

// AcquireNextImage returns the index of the next presentable image. A
// suboptimal swapchain still signals the semaphore so the image is used.
func (vs *VulkanSwapchain) AcquireNextImage(timeout time.Duration, signal gpu.Semaphore) (uint32, error) {
	var imageIndex uint32
	result := vk.AcquireNextImage(
		vs.context.Device.LogicalDevice,
		vs.Handle,
		uint64(timeout.Nanoseconds()),
		signal.(*VulkanSemaphore).Handle,
		vk.NullFence,
		&imageIndex)
	switch result {
	case vk.Success, vk.Suboptimal:
		return imageIndex, nil
	case vk.ErrorOutOfDate:
		core.LogDebug("swapchain out of date on acquire")
		return 0, resultError(result, "vkAcquireNextImageKHR")
	default:
		err := resultError(result, "vkAcquireNextImageKHR")
		core.LogError(err.Error())
		return 0, err
	}
}

// Present returns the image to the swapchain once wait is signaled.
func (vs *VulkanSwapchain) Present(imageIndex uint32, wait gpu.Semaphore) error {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{wait.(*VulkanSemaphore).Handle},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{vs.Handle},
		PImageIndices:      []uint32{imageIndex},
	}

	device := vs.context.Device
	return vs.context.locks.SafeQueueCall(uint32(device.PresentQueueIndex), func() error {
		result := vk.QueuePresent(device.PresentQueue, &presentInfo)
		switch result {
		case vk.Success:
			return nil
		case vk.ErrorOutOfDate, vk.Suboptimal:
			core.LogDebug("swapchain out of date on present")
			return resultError(result, "vkQueuePresentKHR")
		default:
			err := resultError(result, "vkQueuePresentKHR")
			core.LogError(err.Error())
			return err
		}
	})
}

// Recreate rebuilds the swapchain, its depth image and framebuffers for the
// new size. The caller must make sure no frame is in flight.
func (vs *VulkanSwapchain) Recreate(width, height uint32) error {
	return vs.context.locks.SafeCall(SwapchainManagement, func() error {
		if res := vk.DeviceWaitIdle(vs.context.Device.LogicalDevice); res != vk.Success {
			return resultError(res, "vkDeviceWaitIdle")
		}
		if err := DeviceQuerySwapchainSupport(vs.context.Device.PhysicalDevice, vs.context.Surface, &vs.context.Device.SwapchainSupport); err != nil {
			return err
		}
		vs.destroy()
		if err := vs.create(width, height); err != nil {
			return err
		}
		return vs.regenerateFramebuffers(vs.context.MainRenderpass)
	})
}

func (vs *VulkanSwapchain) Extent() (uint32, uint32) {
	return vs.ImageExtent.Width, vs.ImageExtent.Height
}

func (vs *VulkanSwapchain) ImageCount() int {
	return len(vs.Images)
}

// Destroy releases framebuffers, views, depth image and the swapchain. The
// images themselves are owned by the swapchain.
func (vs *VulkanSwapchain) Destroy() {
	vk.DeviceWaitIdle(vs.context.Device.LogicalDevice)
	vs.destroy()
}

func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, format := range formats {
		format.Deref()
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format
		}
	}
	if len(formats) == 0 {
		return vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	}
	format := formats[0]
	format.Deref()
	return format
}

// choosePresentMode picks FIFO when vsync is requested, otherwise mailbox,
// then immediate. FIFO is always supported.
func choosePresentMode(modes []vk.PresentMode, vsync bool) vk.PresentMode {
	if vsync {
		return vk.PresentModeFifo
	}
	for _, preferred := range []vk.PresentMode{vk.PresentModeMailbox, vk.PresentModeImmediate} {
		for _, mode := range modes {
			if mode == preferred {
				return mode
			}
		}
	}
	return vk.PresentModeFifo
}

func chooseExtent(capabilities vk.SurfaceCapabilities, width, height uint32) vk.Extent2D {
	if capabilities.CurrentExtent.Width != math.MaxUint32 {
		return capabilities.CurrentExtent
	}
	return vk.Extent2D{
		Width:  clamp(width, capabilities.MinImageExtent.Width, capabilities.MaxImageExtent.Width),
		Height: clamp(height, capabilities.MinImageExtent.Height, capabilities.MaxImageExtent.Height),
	}
}

func clamp[T constraints.Ordered](value, min, max T) T {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func (vs *VulkanSwapchain) create(width, height uint32) error {
	context := vs.context
	support := &context.Device.SwapchainSupport
	capabilities := support.Capabilities
	capabilities.Deref()
	capabilities.CurrentExtent.Deref()
	capabilities.MinImageExtent.Deref()
	capabilities.MaxImageExtent.Deref()

	vs.ImageFormat = chooseSurfaceFormat(support.Formats)
	presentMode := choosePresentMode(support.PresentModes, vs.vsync)
	vs.ImageExtent = chooseExtent(capabilities, width, height)

	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && imageCount > capabilities.MaxImageCount {
		imageCount = capabilities.MaxImageCount
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      vs.ImageFormat.Format,
		ImageColorSpace:  vs.ImageFormat.ColorSpace,
		ImageExtent:      vs.ImageExtent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     vk.NullSwapchain,
	}

	if context.Device.GraphicsQueueIndex != context.Device.PresentQueueIndex {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{
			uint32(context.Device.GraphicsQueueIndex),
			uint32(context.Device.PresentQueueIndex),
		}
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	if res := vk.CreateSwapchain(context.Device.LogicalDevice, &swapchainCreateInfo, context.Allocator, &vs.Handle); res != vk.Success {
		err := fmt.Errorf("failed to create swapchain: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}

	var count uint32
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, vs.Handle, &count, nil); res != vk.Success {
		err := fmt.Errorf("failed to get swapchain images: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	vs.Images = make([]vk.Image, count)
	vs.Views = make([]vk.ImageView, count)
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, vs.Handle, &count, vs.Images); res != vk.Success {
		err := fmt.Errorf("failed to get swapchain images: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}

	for i := range vs.Images {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    vs.Images[i],
			ViewType: vk.ImageViewType2d,
			Format:   vs.ImageFormat.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		}
		if res := vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &vs.Views[i]); res != vk.Success {
			err := fmt.Errorf("failed to create swapchain image view: %s", VulkanResultString(res))
			core.LogError(err.Error())
			return err
		}
	}

	if !DeviceDetectDepthFormat(context.Device) {
		err := fmt.Errorf("failed to find a supported depth format")
		core.LogError(err.Error())
		return err
	}

	depthAttachment, err := ImageCreate(
		context,
		vs.ImageExtent.Width,
		vs.ImageExtent.Height,
		context.Device.DepthFormat,
		vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		true,
		vk.ImageAspectFlags(vk.ImageAspectDepthBit))
	if err != nil {
		return err
	}
	vs.DepthAttachment = depthAttachment

	core.LogInfo("Swapchain created: %dx%d, %d images.", vs.ImageExtent.Width, vs.ImageExtent.Height, count)
	return nil
}

func (vs *VulkanSwapchain) regenerateFramebuffers(renderpass *VulkanRenderpass) error {
	vs.Framebuffers = make([]*VulkanFramebuffer, len(vs.Views))
	for i := range vs.Views {
		attachments := []vk.ImageView{
			vs.Views[i],
			vs.DepthAttachment.View,
		}
		fb, err := FramebufferCreate(vs.context, renderpass, vs.ImageExtent.Width, vs.ImageExtent.Height, attachments)
		if err != nil {
			return err
		}
		vs.Framebuffers[i] = fb
	}
	return nil
}

func (vs *VulkanSwapchain) destroy() {
	device := vs.context.Device.LogicalDevice
	for _, fb := range vs.Framebuffers {
		if fb != nil {
			fb.Destroy()
		}
	}
	vs.Framebuffers = nil

	if vs.DepthAttachment != nil {
		vs.DepthAttachment.Destroy()
		vs.DepthAttachment = nil
	}

	for i := range vs.Views {
		if vs.Views[i] != vk.NullImageView {
			vk.DestroyImageView(device, vs.Views[i], vs.context.Allocator)
		}
	}
	vs.Views = nil
	vs.Images = nil

	if vs.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(device, vs.Handle, vs.context.Allocator)
		vs.Handle = vk.NullSwapchain
	}
}
