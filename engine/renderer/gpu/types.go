package gpu

// BufferUsage describes how a buffer is bound by the pipeline. Values can be combined.
type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageVertex
	BufferUsageIndex
)

// MemoryUsage is the abstract residency of an allocation. The backend maps it
// to concrete memory properties.
type MemoryUsage int

const (
	// Device local, not host visible. Filled through staging copies.
	MemoryGPUOnly MemoryUsage = iota
	// Host visible and coherent, used for staging.
	MemoryCPUOnly
	// Host visible, preferably device local. Written every frame by the CPU.
	MemoryCPUToGPU
	// Host visible and cached, read back by the CPU.
	MemoryGPUToCPU
)

func (m MemoryUsage) HostVisible() bool {
	return m != MemoryGPUOnly
}

func (m MemoryUsage) String() string {
	switch m {
	case MemoryGPUOnly:
		return "gpu-only"
	case MemoryCPUOnly:
		return "cpu-only"
	case MemoryCPUToGPU:
		return "cpu-to-gpu"
	case MemoryGPUToCPU:
		return "gpu-to-cpu"
	default:
		return "unknown"
	}
}

type Format int

const (
	FormatUndefined Format = iota
	FormatRGBA8Srgb
	FormatRGBA8Unorm
	FormatD32Float
	FormatRG32Float
	FormatRGB32Float
)

// BytesPerPixel returns the texel size of color formats, 0 otherwise.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGBA8Srgb, FormatRGBA8Unorm:
		return 4
	default:
		return 0
	}
}

type ImageUsage uint32

const (
	ImageUsageSampled ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageDepthAttachment
)

type ImageLayout int

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutTransferDst
	ImageLayoutShaderReadOnly
)

type Filter int

const (
	FilterNearest Filter = iota
	FilterLinear
)

type DescriptorType int

const (
	DescriptorUniformBuffer DescriptorType = iota
	DescriptorUniformBufferDynamic
	DescriptorStorageBuffer
	DescriptorCombinedImageSampler
)

type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
)

type PipelineStage uint32

const (
	PipelineStageColorAttachmentOutput PipelineStage = 1 << iota
	PipelineStageTransfer
	PipelineStageFragmentShader
)

type CommandBufferUsage uint32

const (
	CommandBufferUsageOneTimeSubmit CommandBufferUsage = 1 << iota
)

type CullMode int

const (
	CullModeNone CullMode = iota
	CullModeBack
	CullModeFront
)

type VertexAttribute struct {
	Location uint32
	Format   Format
	Offset   uint32
}

type VertexLayout struct {
	Stride     uint32
	Attributes []VertexAttribute
}

type ImageDesc struct {
	Width  uint32
	Height uint32
	Format Format
	Usage  ImageUsage
	Memory MemoryUsage
}

type Binding struct {
	Binding uint32
	Type    DescriptorType
	Stages  ShaderStage
}

// DescriptorWrite points one binding of a set at a buffer range or an image.
type DescriptorWrite struct {
	Binding uint32
	Type    DescriptorType
	Buffer  Buffer
	Offset  uint64
	Range   uint64
	Image   Image
	Sampler Sampler
}

type PipelineDesc struct {
	Name               string
	Vertex             ShaderModule
	Fragment           ShaderModule
	Layout             VertexLayout
	SetLayouts         []DescriptorLayout
	PushConstantSize   uint32
	PushConstantStages ShaderStage
	DepthTest          bool
	CullMode           CullMode
	Wireframe          bool
}

type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

type Limits struct {
	MinUniformBufferOffsetAlignment uint64
	MaxPushConstantsSize            uint32
}

// Submission is one batch for Queue.Submit. Wait, Signal and Fence are optional.
type Submission struct {
	Commands  CommandBuffer
	Wait      Semaphore
	WaitStage PipelineStage
	Signal    Semaphore
	Fence     Fence
}

// PadUniformBufferSize rounds size up to the device's dynamic uniform offset alignment.
func PadUniformBufferSize(size, alignment uint64) uint64 {
	if alignment == 0 {
		return size
	}
	return (size + alignment - 1) &^ (alignment - 1)
}
