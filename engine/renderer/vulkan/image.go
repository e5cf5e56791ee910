package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu"
)

type VulkanImage struct {
	context *VulkanContext
	Handle  vk.Image
	Memory  vk.DeviceMemory
	View    vk.ImageView

	width  uint32
	height uint32
	format gpu.Format
	aspect vk.ImageAspectFlags
	layout gpu.ImageLayout
}

// ImageCreate allocates a 2D optimal tiling image and, if createView is set,
// a view over its single mip level.
func ImageCreate(
	context *VulkanContext,
	width, height uint32,
	format vk.Format,
	usage vk.ImageUsageFlags,
	memoryFlags vk.MemoryPropertyFlags,
	createView bool,
	viewAspectFlags vk.ImageAspectFlags,
) (*VulkanImage, error) {
	outImage := &VulkanImage{
		context: context,
		width:   width,
		height:  height,
		aspect:  viewAspectFlags,
	}

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        format,
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         usage,
		Samples:       vk.SampleCount1Bit,
		SharingMode:   vk.SharingModeExclusive,
	}

	err := context.locks.SafeCall(ImageManagement, func() error {
		if res := vk.CreateImage(context.Device.LogicalDevice, &imageCreateInfo, context.Allocator, &outImage.Handle); res != vk.Success {
			return fmt.Errorf("failed to create image: %s", VulkanResultString(res))
		}

		var memoryRequirements vk.MemoryRequirements
		vk.GetImageMemoryRequirements(context.Device.LogicalDevice, outImage.Handle, &memoryRequirements)
		memoryRequirements.Deref()

		memoryType := context.FindMemoryIndex(memoryRequirements.MemoryTypeBits, memoryFlags)
		if memoryType == -1 {
			vk.DestroyImage(context.Device.LogicalDevice, outImage.Handle, context.Allocator)
			return fmt.Errorf("required memory type not found, image not valid")
		}

		memoryAllocateInfo := vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  memoryRequirements.Size,
			MemoryTypeIndex: uint32(memoryType),
		}
		if res := vk.AllocateMemory(context.Device.LogicalDevice, &memoryAllocateInfo, context.Allocator, &outImage.Memory); res != vk.Success {
			vk.DestroyImage(context.Device.LogicalDevice, outImage.Handle, context.Allocator)
			return fmt.Errorf("failed to allocate image memory: %s", VulkanResultString(res))
		}
		if res := vk.BindImageMemory(context.Device.LogicalDevice, outImage.Handle, outImage.Memory, 0); res != vk.Success {
			return fmt.Errorf("failed to bind image memory: %s", VulkanResultString(res))
		}
		return nil
	})
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	if createView {
		if err := outImage.createView(format, viewAspectFlags); err != nil {
			outImage.Destroy()
			return nil, err
		}
	}
	return outImage, nil
}

func (vi *VulkanImage) createView(format vk.Format, aspectFlags vk.ImageAspectFlags) error {
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    vi.Handle,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspectFlags,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	if res := vk.CreateImageView(vi.context.Device.LogicalDevice, &viewCreateInfo, vi.context.Allocator, &vi.View); res != vk.Success {
		err := fmt.Errorf("failed to create image view: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (vi *VulkanImage) Width() uint32 {
	return vi.width
}

func (vi *VulkanImage) Height() uint32 {
	return vi.height
}

func (vi *VulkanImage) Format() gpu.Format {
	return vi.format
}

func (vi *VulkanImage) Destroy() {
	_ = vi.context.locks.SafeCall(ImageManagement, func() error {
		if vi.View != vk.NullImageView {
			vk.DestroyImageView(vi.context.Device.LogicalDevice, vi.View, vi.context.Allocator)
			vi.View = vk.NullImageView
		}
		if vi.Memory != vk.NullDeviceMemory {
			vk.FreeMemory(vi.context.Device.LogicalDevice, vi.Memory, vi.context.Allocator)
			vi.Memory = vk.NullDeviceMemory
		}
		if vi.Handle != vk.NullImage {
			vk.DestroyImage(vi.context.Device.LogicalDevice, vi.Handle, vi.context.Allocator)
			vi.Handle = vk.NullImage
		}
		return nil
	})
}

type VulkanSampler struct {
	context *VulkanContext
	Handle  vk.Sampler
}

func NewSampler(context *VulkanContext, filter gpu.Filter) (*VulkanSampler, error) {
	vkFilter := toVkFilter(filter)
	samplerCreateInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vkFilter,
		MinFilter:               vkFilter,
		AddressModeU:            vk.SamplerAddressModeRepeat,
		AddressModeV:            vk.SamplerAddressModeRepeat,
		AddressModeW:            vk.SamplerAddressModeRepeat,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
	}

	sampler := &VulkanSampler{context: context}
	if err := context.locks.SafeCall(SamplerManagement, func() error {
		if res := vk.CreateSampler(context.Device.LogicalDevice, &samplerCreateInfo, context.Allocator, &sampler.Handle); res != vk.Success {
			return fmt.Errorf("failed to create sampler: %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return sampler, nil
}

func (vs *VulkanSampler) Destroy() {
	if vs.Handle == nil {
		return
	}
	_ = vs.context.locks.SafeCall(SamplerManagement, func() error {
		vk.DestroySampler(vs.context.Device.LogicalDevice, vs.Handle, vs.context.Allocator)
		return nil
	})
	vs.Handle = nil
}
