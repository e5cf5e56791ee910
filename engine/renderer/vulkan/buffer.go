package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu"
)

type VulkanBuffer struct {
	context *VulkanContext
	Handle  vk.Buffer
	Memory  vk.DeviceMemory
	size    uint64
	usage   gpu.BufferUsage
	memory  gpu.MemoryUsage
}

func NewBuffer(context *VulkanContext, size uint64, usage gpu.BufferUsage, memory gpu.MemoryUsage) (*VulkanBuffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("cannot create a buffer of size 0")
	}
	buffer := &VulkanBuffer{
		context: context,
		size:    size,
		usage:   usage,
		memory:  memory,
	}

	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       toVkBufferUsage(usage),
		SharingMode: vk.SharingModeExclusive,
	}

	if err := context.locks.SafeCall(BufferManagement, func() error {
		if res := vk.CreateBuffer(context.Device.LogicalDevice, &bufferInfo, context.Allocator, &buffer.Handle); res != vk.Success {
			return fmt.Errorf("failed to create buffer: %s", VulkanResultString(res))
		}

		var requirements vk.MemoryRequirements
		vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, buffer.Handle, &requirements)
		requirements.Deref()

		required, preferred := memoryProperties(memory)
		memoryIndex := context.findMemoryIndex(requirements.MemoryTypeBits, required, preferred)
		if memoryIndex < 0 {
			vk.DestroyBuffer(context.Device.LogicalDevice, buffer.Handle, context.Allocator)
			return fmt.Errorf("no memory type for %s buffer", memory)
		}

		allocateInfo := vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  requirements.Size,
			MemoryTypeIndex: uint32(memoryIndex),
		}
		if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocateInfo, context.Allocator, &buffer.Memory); res != vk.Success {
			vk.DestroyBuffer(context.Device.LogicalDevice, buffer.Handle, context.Allocator)
			return fmt.Errorf("failed to allocate buffer memory: %s", VulkanResultString(res))
		}
		if res := vk.BindBufferMemory(context.Device.LogicalDevice, buffer.Handle, buffer.Memory, 0); res != vk.Success {
			vk.FreeMemory(context.Device.LogicalDevice, buffer.Memory, context.Allocator)
			vk.DestroyBuffer(context.Device.LogicalDevice, buffer.Handle, context.Allocator)
			return fmt.Errorf("failed to bind buffer memory: %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return buffer, nil
}

func (b *VulkanBuffer) Size() uint64 {
	return b.size
}

func (b *VulkanBuffer) Usage() gpu.BufferUsage {
	return b.usage
}

// Write maps the range, copies data and unmaps. Memory is host coherent so no
// flush is needed.
func (b *VulkanBuffer) Write(offset uint64, data []byte) error {
	if !b.memory.HostVisible() {
		return errors.Errorf("buffer memory %s is not host visible", b.memory)
	}
	if offset+uint64(len(data)) > b.size {
		return errors.Errorf("write of %d bytes at %d overflows buffer of %d bytes", len(data), offset, b.size)
	}
	if len(data) == 0 {
		return nil
	}

	var mapped unsafe.Pointer
	if res := vk.MapMemory(b.context.Device.LogicalDevice, b.Memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &mapped); res != vk.Success {
		err := resultError(res, "vkMapMemory")
		core.LogError("failed to map buffer memory: %s", err)
		return err
	}
	vk.Memcopy(mapped, data)
	vk.UnmapMemory(b.context.Device.LogicalDevice, b.Memory)
	return nil
}

func (b *VulkanBuffer) Destroy() {
	if b.Handle == vk.NullBuffer {
		return
	}
	_ = b.context.locks.SafeCall(BufferManagement, func() error {
		vk.DestroyBuffer(b.context.Device.LogicalDevice, b.Handle, b.context.Allocator)
		vk.FreeMemory(b.context.Device.LogicalDevice, b.Memory, b.context.Allocator)
		return nil
	})
	b.Handle = vk.NullBuffer
	b.Memory = vk.NullDeviceMemory
}
