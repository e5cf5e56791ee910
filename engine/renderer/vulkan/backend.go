// Package vulkan implements gpu.Device on top of goki/vulkan.
package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu"
)

// Window is the platform side the backend needs: instance extensions and a
// surface for the window.
type Window interface {
	GetRequiredExtensionNames() []string
	CreateSurface(instance interface{}) (uintptr, error)
}

type BackendConfig struct {
	ApplicationName string
	Width           uint32
	Height          uint32
	VSync           bool
	Validation      bool
}

type Backend struct {
	config  BackendConfig
	context *VulkanContext
	queue   *VulkanQueue
}

var _ gpu.Device = (*Backend)(nil)

// New creates the instance, surface, device, swapchain and render pass. On
// failure everything created so far is destroyed.
func New(window Window, config BackendConfig) (*Backend, error) {
	b := &Backend{
		config: config,
		context: &VulkanContext{
			Allocator: nil,
			Device: &VulkanDevice{
				GraphicsQueueIndex: -1,
				PresentQueueIndex:  -1,
				TransferQueueIndex: -1,
			},
			locks: NewVulkanLockPool(),
		},
	}
	if err := b.initialize(window); err != nil {
		b.Destroy()
		return nil, errors.Wrap(core.ErrInitialization, err.Error())
	}
	return b, nil
}

func (b *Backend) initialize(window Window) error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return fmt.Errorf("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return err
	}

	if err := b.createInstance(window); err != nil {
		return err
	}

	if b.config.Validation {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(b.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogError("vk.CreateDebugReportCallback failed with %s", err)
			return err
		}
		b.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := window.CreateSurface(b.context.Instance)
	if err != nil {
		core.LogError("Vulkan surface creation failed: %s", err)
		return err
	}
	b.context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	if err := DeviceCreate(b.context); err != nil {
		return err
	}
	b.queue = &VulkanQueue{
		context: b.context,
		Handle:  b.context.Device.GraphicsQueue,
		Family:  uint32(b.context.Device.GraphicsQueueIndex),
	}

	sc, err := SwapchainCreate(b.context, b.config.Width, b.config.Height, b.config.VSync)
	if err != nil {
		return err
	}
	b.context.Swapchain = sc

	rp, err := RenderpassCreate(b.context, sc.ImageFormat.Format, b.context.Device.DepthFormat)
	if err != nil {
		return err
	}
	b.context.MainRenderpass = rp

	if err := sc.regenerateFramebuffers(rp); err != nil {
		return err
	}

	if err := createDescriptorPool(b.context); err != nil {
		return err
	}

	core.LogInfo("Vulkan backend initialized successfully.")
	return nil
}

func (b *Backend) createInstance(window Window) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(b.config.ApplicationName),
		PEngineName:        VulkanSafeString("vkguide"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := append([]string{}, window.GetRequiredExtensionNames()...)
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	requiredLayers := []string{}
	if b.config.Validation {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
		requiredLayers = append(requiredLayers, "VK_LAYER_KHRONOS_validation")
		if err := checkValidationLayers(requiredLayers); err != nil {
			return err
		}
	}
	for _, name := range requiredExtensions {
		core.LogDebug("Required extension: %s", name)
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)
	createInfo.EnabledLayerCount = uint32(len(requiredLayers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(requiredLayers)

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, b.context.Allocator, &instance); res != vk.Success {
		err := fmt.Errorf("failed in creating the Vulkan Instance with error `%s`", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	b.context.Instance = instance
	if err := vk.InitInstance(instance); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func checkValidationLayers(required []string) error {
	core.LogInfo("Validation layers enabled. Enumerating...")
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return fmt.Errorf("failed to enumerate instance layers: %s", VulkanResultString(res))
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return fmt.Errorf("failed to enumerate instance layers: %s", VulkanResultString(res))
	}

	for _, name := range required {
		found := false
		for j := range available {
			available[j].Deref()
			layerName := available[j].LayerName[:]
			if name == vk.ToString(layerName[:FindFirstZeroInByteArray(layerName)]) {
				found = true
				break
			}
		}
		if !found {
			err := fmt.Errorf("required validation layer is missing: %s", name)
			core.LogError(err.Error())
			return err
		}
	}
	core.LogInfo("All required validation layers are present.")
	return nil
}

func (b *Backend) CreateFence(signaled bool) (gpu.Fence, error) {
	return NewFence(b.context, signaled)
}

func (b *Backend) CreateSemaphore() (gpu.Semaphore, error) {
	return NewSemaphore(b.context)
}

func (b *Backend) CreateCommandPool() (gpu.CommandPool, error) {
	return NewCommandPool(b.context, uint32(b.context.Device.GraphicsQueueIndex))
}

func (b *Backend) CreateBuffer(size uint64, usage gpu.BufferUsage, memory gpu.MemoryUsage) (gpu.Buffer, error) {
	return NewBuffer(b.context, size, usage, memory)
}

func (b *Backend) CreateImage(desc gpu.ImageDesc) (gpu.Image, error) {
	format := toVkFormat(desc.Format)
	aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	if desc.Usage&gpu.ImageUsageDepthAttachment != 0 {
		aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	required, _ := memoryProperties(desc.Memory)
	image, err := ImageCreate(b.context, desc.Width, desc.Height, format, toVkImageUsage(desc.Usage), required, true, aspect)
	if err != nil {
		return nil, err
	}
	image.format = desc.Format
	return image, nil
}

func (b *Backend) CreateSampler(filter gpu.Filter) (gpu.Sampler, error) {
	return NewSampler(b.context, filter)
}

func (b *Backend) CreateDescriptorLayout(bindings ...gpu.Binding) (gpu.DescriptorLayout, error) {
	return NewDescriptorLayout(b.context, bindings)
}

func (b *Backend) AllocateDescriptorSet(layout gpu.DescriptorLayout) (gpu.DescriptorSet, error) {
	return allocateDescriptorSet(b.context, layout.(*VulkanDescriptorLayout))
}

func (b *Backend) UpdateDescriptorSet(set gpu.DescriptorSet, writes ...gpu.DescriptorWrite) {
	updateDescriptorSet(b.context, set.(*VulkanDescriptorSet), writes)
}

func (b *Backend) CreateShaderModule(code []uint32) (gpu.ShaderModule, error) {
	return NewShaderModule(b.context, code)
}

func (b *Backend) CreatePipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	return NewGraphicsPipeline(b.context, desc)
}

func (b *Backend) GraphicsQueue() gpu.Queue {
	return b.queue
}

func (b *Backend) Swapchain() gpu.Swapchain {
	return b.context.Swapchain
}

func (b *Backend) Limits() gpu.Limits {
	limits := b.context.Device.Properties.Limits
	return gpu.Limits{
		MinUniformBufferOffsetAlignment: uint64(limits.MinUniformBufferOffsetAlignment),
		MaxPushConstantsSize:            limits.MaxPushConstantsSize,
	}
}

func (b *Backend) WaitIdle() error {
	if b.context.Device.LogicalDevice == nil {
		return nil
	}
	if res := vk.DeviceWaitIdle(b.context.Device.LogicalDevice); res != vk.Success {
		return resultError(res, "vkDeviceWaitIdle")
	}
	return nil
}

// Destroy releases everything New created, in reverse order. Objects handed
// out through gpu.Device must already be destroyed.
func (b *Backend) Destroy() {
	context := b.context
	if context.Device.LogicalDevice != nil {
		vk.DeviceWaitIdle(context.Device.LogicalDevice)

		destroyDescriptorPool(context)

		if context.Swapchain != nil {
			context.Swapchain.Destroy()
			context.Swapchain = nil
		}
		if context.MainRenderpass != nil {
			context.MainRenderpass.Destroy()
			context.MainRenderpass = nil
		}

		core.LogDebug("Destroying Vulkan device...")
		DeviceDestroy(context)
	}

	if context.Surface != vk.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		vk.DestroySurface(context.Instance, context.Surface, context.Allocator)
		context.Surface = vk.NullSurface
	}

	if context.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(context.Instance, context.debugMessenger, context.Allocator)
		context.debugMessenger = vk.NullDebugReportCallback
	}

	if context.Instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(context.Instance, context.Allocator)
		context.Instance = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
