package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkguide/engine/core"
)

// VulkanContext is the state shared by every object the backend hands out.
type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugMessenger vk.DebugReportCallback

	Device *VulkanDevice

	Swapchain      *VulkanSwapchain
	MainRenderpass *VulkanRenderpass
	DescriptorPool vk.DescriptorPool

	locks *VulkanLockPool
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that has
// every bit of propertyFlags, or -1.
func (vc *VulkanContext) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) int32 {
	memoryProperties := vc.Device.Memory
	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		memoryType := memoryProperties.MemoryTypes[i]
		memoryType.Deref()
		if (typeFilter&(1<<i)) != 0 && memoryType.PropertyFlags&propertyFlags == propertyFlags {
			return int32(i)
		}
	}
	return -1
}

// findMemoryIndex tries the preferred flags before falling back to the
// required ones.
func (vc *VulkanContext) findMemoryIndex(typeFilter uint32, required, preferred vk.MemoryPropertyFlags) int32 {
	if index := vc.FindMemoryIndex(typeFilter, preferred); index >= 0 {
		return index
	}
	index := vc.FindMemoryIndex(typeFilter, required)
	if index < 0 {
		core.LogWarn("Unable to find suitable memory type!")
	}
	return index
}
