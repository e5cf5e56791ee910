package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkguide/engine/core"
)

type VulkanShaderModule struct {
	context *VulkanContext
	Handle  vk.ShaderModule
}

// NewShaderModule wraps SPIR-V words. CodeSize is in bytes.
func NewShaderModule(context *VulkanContext, code []uint32) (*VulkanShaderModule, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("empty shader code")
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}

	module := &VulkanShaderModule{context: context}
	if err := context.locks.SafeCall(ShaderManagement, func() error {
		if res := vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &module.Handle); res != vk.Success {
			return fmt.Errorf("failed to create shader module: %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return module, nil
}

func (m *VulkanShaderModule) stage(flag vk.ShaderStageFlagBits) vk.PipelineShaderStageCreateInfo {
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  flag,
		Module: m.Handle,
		PName:  VulkanSafeString("main"),
	}
}

func (m *VulkanShaderModule) Destroy() {
	if m.Handle == vk.NullShaderModule {
		return
	}
	_ = m.context.locks.SafeCall(ShaderManagement, func() error {
		vk.DestroyShaderModule(m.context.Device.LogicalDevice, m.Handle, m.context.Allocator)
		return nil
	})
	m.Handle = vk.NullShaderModule
}
