package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// VulkanCommandPool owns the command buffers allocated from it. Buffers can be
// reset one by one.
type VulkanCommandPool struct {
	context *VulkanContext
	Handle  vk.CommandPool
}

func NewCommandPool(context *VulkanContext, queueFamilyIndex uint32) (*VulkanCommandPool, error) {
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queueFamilyIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var handle vk.CommandPool
	if err := context.locks.SafeCall(CommandPoolManagement, func() error {
		if res := vk.CreateCommandPool(context.Device.LogicalDevice, &poolCreateInfo, context.Allocator, &handle); res != vk.Success {
			return fmt.Errorf("failed to create command pool: %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return &VulkanCommandPool{context: context, Handle: handle}, nil
}

func (p *VulkanCommandPool) Allocate() (gpu.CommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.Handle,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if err := p.context.locks.SafeCall(CommandPoolManagement, func() error {
		if res := vk.AllocateCommandBuffers(p.context.Device.LogicalDevice, &allocateInfo, buffers); res != vk.Success {
			return fmt.Errorf("failed to allocate command buffer: %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return &VulkanCommandBuffer{
		context: p.context,
		Handle:  buffers[0],
		State:   COMMAND_BUFFER_STATE_READY,
	}, nil
}

func (p *VulkanCommandPool) Reset() error {
	if res := vk.ResetCommandPool(p.context.Device.LogicalDevice, p.Handle, 0); res != vk.Success {
		err := resultError(res, "vkResetCommandPool")
		core.LogError("failed to reset command pool: %s", err)
		return err
	}
	return nil
}

// Destroy releases the pool and every command buffer allocated from it.
func (p *VulkanCommandPool) Destroy() {
	if p.Handle == nil {
		return
	}
	_ = p.context.locks.SafeCall(CommandPoolManagement, func() error {
		vk.DestroyCommandPool(p.context.Device.LogicalDevice, p.Handle, p.context.Allocator)
		return nil
	})
	p.Handle = nil
}

type VulkanCommandBuffer struct {
	context *VulkanContext
	Handle  vk.CommandBuffer
	State   VulkanCommandBufferState
}

func (v *VulkanCommandBuffer) Begin(usage gpu.CommandBufferUsage) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if usage&gpu.CommandBufferUsageOneTimeSubmit != 0 {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}

	if res := vk.BeginCommandBuffer(v.Handle, &beginInfo); res != vk.Success {
		err := resultError(res, "vkBeginCommandBuffer")
		core.LogError("failed to begin command buffer: %s", err)
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		err := resultError(res, "vkEndCommandBuffer")
		core.LogError("failed to end command buffer: %s", err)
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) Reset() error {
	if res := vk.ResetCommandBuffer(v.Handle, 0); res != vk.Success {
		err := resultError(res, "vkResetCommandBuffer")
		core.LogError("failed to reset command buffer: %s", err)
		return err
	}
	v.State = COMMAND_BUFFER_STATE_READY
	return nil
}

func (v *VulkanCommandBuffer) BeginRenderPass(imageIndex uint32, clear gpu.ClearValue) {
	swapchain := v.context.Swapchain
	v.context.MainRenderpass.Begin(v, swapchain.Framebuffers[imageIndex].Handle, swapchain.ImageExtent, clear)
}

func (v *VulkanCommandBuffer) EndRenderPass() {
	v.context.MainRenderpass.End(v)
}

// SetViewport sets the dynamic viewport and a scissor covering it.
func (v *VulkanCommandBuffer) SetViewport(width, height uint32) {
	viewport := vk.Viewport{
		X:        0.0,
		Y:        0.0,
		Width:    float32(width),
		Height:   float32(height),
		MinDepth: 0.0,
		MaxDepth: 1.0,
	}
	scissor := vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: vk.Extent2D{Width: width, Height: height},
	}
	vk.CmdSetViewport(v.Handle, 0, 1, []vk.Viewport{viewport})
	vk.CmdSetScissor(v.Handle, 0, 1, []vk.Rect2D{scissor})
}

func (v *VulkanCommandBuffer) BindPipeline(p gpu.Pipeline) {
	vk.CmdBindPipeline(v.Handle, vk.PipelineBindPointGraphics, p.(*VulkanPipeline).Handle)
}

func (v *VulkanCommandBuffer) BindDescriptorSet(p gpu.Pipeline, index uint32, set gpu.DescriptorSet, dynamicOffsets ...uint32) {
	vk.CmdBindDescriptorSets(
		v.Handle,
		vk.PipelineBindPointGraphics,
		p.(*VulkanPipeline).PipelineLayout,
		index,
		1,
		[]vk.DescriptorSet{set.(*VulkanDescriptorSet).Handle},
		uint32(len(dynamicOffsets)),
		dynamicOffsets)
}

func (v *VulkanCommandBuffer) PushConstants(p gpu.Pipeline, stages gpu.ShaderStage, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(
		v.Handle,
		p.(*VulkanPipeline).PipelineLayout,
		toVkShaderStages(stages),
		0,
		uint32(len(data)),
		unsafe.Pointer(&data[0]))
}

func (v *VulkanCommandBuffer) BindVertexBuffer(b gpu.Buffer, offset uint64) {
	vk.CmdBindVertexBuffers(v.Handle, 0, 1, []vk.Buffer{b.(*VulkanBuffer).Handle}, []vk.DeviceSize{vk.DeviceSize(offset)})
}

func (v *VulkanCommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(v.Handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (v *VulkanCommandBuffer) CopyBuffer(src, dst gpu.Buffer, size uint64) {
	region := vk.BufferCopy{
		SrcOffset: 0,
		DstOffset: 0,
		Size:      vk.DeviceSize(size),
	}
	vk.CmdCopyBuffer(v.Handle, src.(*VulkanBuffer).Handle, dst.(*VulkanBuffer).Handle, 1, []vk.BufferCopy{region})
}

func (v *VulkanCommandBuffer) CopyBufferToImage(src gpu.Buffer, dst gpu.Image) {
	image := dst.(*VulkanImage)
	region := vk.BufferImageCopy{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageExtent: vk.Extent3D{Width: image.width, Height: image.height, Depth: 1},
	}
	vk.CmdCopyBufferToImage(v.Handle, src.(*VulkanBuffer).Handle, image.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
}

// TransitionImage records a layout barrier for the two transitions an upload
// needs. Other pairs use a full pipeline barrier.
func (v *VulkanCommandBuffer) TransitionImage(img gpu.Image, from, to gpu.ImageLayout) {
	image := img.(*VulkanImage)
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           toVkImageLayout(from),
		NewLayout:           toVkImageLayout(to),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image.Handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     image.aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	srcStage := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	dstStage := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	switch {
	case from == gpu.ImageLayoutUndefined && to == gpu.ImageLayoutTransferDst:
		barrier.SrcAccessMask = 0
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case from == gpu.ImageLayoutTransferDst && to == gpu.ImageLayoutShaderReadOnly:
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	default:
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessMemoryWriteBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit)
	}
	image.layout = to

	vk.CmdPipelineBarrier(v.Handle, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

// VulkanQueue submits to one queue family. Submissions are serialized per family.
type VulkanQueue struct {
	context *VulkanContext
	Handle  vk.Queue
	Family  uint32
}

func (q *VulkanQueue) Submit(s gpu.Submission) error {
	cmd := s.Commands.(*VulkanCommandBuffer)
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cmd.Handle},
	}
	if s.Wait != nil {
		submitInfo.WaitSemaphoreCount = 1
		submitInfo.PWaitSemaphores = []vk.Semaphore{s.Wait.(*VulkanSemaphore).Handle}
		submitInfo.PWaitDstStageMask = []vk.PipelineStageFlags{toVkPipelineStages(s.WaitStage)}
	}
	if s.Signal != nil {
		submitInfo.SignalSemaphoreCount = 1
		submitInfo.PSignalSemaphores = []vk.Semaphore{s.Signal.(*VulkanSemaphore).Handle}
	}

	fence := vk.NullFence
	var vf *VulkanFence
	if s.Fence != nil {
		vf = s.Fence.(*VulkanFence)
		fence = vf.Handle
	}

	if err := q.context.locks.SafeQueueCall(q.Family, func() error {
		if result := vk.QueueSubmit(q.Handle, 1, []vk.SubmitInfo{submitInfo}, fence); result != vk.Success {
			return resultError(result, "vkQueueSubmit")
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return err
	}
	if vf != nil {
		vf.IsSignaled = false
	}
	cmd.State = COMMAND_BUFFER_STATE_SUBMITTED
	return nil
}
