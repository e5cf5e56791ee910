// Package gpu is the set of GPU capabilities the frame core and the renderer
// are written against. The Vulkan backend implements it for real hardware and
// gputest implements it in memory for tests.
package gpu

import "time"

type Device interface {
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	CreateCommandPool() (CommandPool, error)

	// CreateBuffer allocates a buffer whose memory is chosen from the usage pair.
	CreateBuffer(size uint64, usage BufferUsage, memory MemoryUsage) (Buffer, error)
	CreateImage(desc ImageDesc) (Image, error)
	CreateSampler(filter Filter) (Sampler, error)

	CreateDescriptorLayout(bindings ...Binding) (DescriptorLayout, error)
	AllocateDescriptorSet(layout DescriptorLayout) (DescriptorSet, error)
	UpdateDescriptorSet(set DescriptorSet, writes ...DescriptorWrite)

	CreateShaderModule(code []uint32) (ShaderModule, error)
	CreatePipeline(desc PipelineDesc) (Pipeline, error)

	GraphicsQueue() Queue
	Swapchain() Swapchain
	Limits() Limits

	// WaitIdle blocks until every queue of the device is idle.
	WaitIdle() error
}

// Fence is a GPU to CPU completion signal.
type Fence interface {
	// Wait blocks until the fence is signaled. It returns core.ErrFenceTimeout
	// when timeout elapses first and core.ErrDeviceLost when the device is gone.
	Wait(timeout time.Duration) error
	Reset() error
	Signaled() bool
	Destroy()
}

// Semaphore orders queue operations on the GPU.
type Semaphore interface {
	Destroy()
}

type CommandPool interface {
	Allocate() (CommandBuffer, error)
	Reset() error
	Destroy()
}

type CommandBuffer interface {
	Recorder
	Begin(usage CommandBufferUsage) error
	End() error
	Reset() error
}

// Recorder is the command recording surface handed to draw and upload callbacks.
type Recorder interface {
	BeginRenderPass(imageIndex uint32, clear ClearValue)
	EndRenderPass()
	SetViewport(width, height uint32)
	BindPipeline(p Pipeline)
	BindDescriptorSet(p Pipeline, index uint32, set DescriptorSet, dynamicOffsets ...uint32)
	PushConstants(p Pipeline, stages ShaderStage, data []byte)
	BindVertexBuffer(b Buffer, offset uint64)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	CopyBuffer(src, dst Buffer, size uint64)
	CopyBufferToImage(src Buffer, dst Image)
	TransitionImage(img Image, from, to ImageLayout)
}

type Queue interface {
	Submit(s Submission) error
}

type Swapchain interface {
	// AcquireNextImage returns core.ErrSwapchainOutOfDate when the swapchain must be recreated.
	AcquireNextImage(timeout time.Duration, signal Semaphore) (uint32, error)
	// Present returns core.ErrSwapchainOutOfDate for out of date or suboptimal swapchains.
	Present(imageIndex uint32, wait Semaphore) error
	Recreate(width, height uint32) error
	Extent() (uint32, uint32)
	ImageCount() int
}

type Buffer interface {
	Size() uint64
	Usage() BufferUsage
	// Write copies data at offset. Only host visible buffers can be written.
	Write(offset uint64, data []byte) error
	Destroy()
}

type Image interface {
	Width() uint32
	Height() uint32
	Format() Format
	Destroy()
}

type Sampler interface {
	Destroy()
}

type DescriptorLayout interface {
	Bindings() []Binding
	Destroy()
}

// DescriptorSet returns to its pool on Destroy. Sets that are never destroyed
// are released together with the pool.
type DescriptorSet interface {
	Layout() DescriptorLayout
	Destroy()
}

type ShaderModule interface {
	Destroy()
}

type Pipeline interface {
	Name() string
	Destroy()
}
