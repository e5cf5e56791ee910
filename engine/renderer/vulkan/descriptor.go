package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu"
)

// Descriptor budget of the shared pool. Per-frame sets live as long as the
// pool; texture sets are freed one by one when a material is rebound.
const (
	descriptorPoolMaxSets        uint32 = 1024
	descriptorPoolPerTypeCount   uint32 = 1024
	descriptorPoolPerTypeSamples uint32 = 512
)

func createDescriptorPool(context *VulkanContext) error {
	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: descriptorPoolPerTypeCount},
		{Type: vk.DescriptorTypeUniformBufferDynamic, DescriptorCount: descriptorPoolPerTypeCount},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: descriptorPoolPerTypeCount},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: descriptorPoolPerTypeSamples},
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       descriptorPoolMaxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if res := vk.CreateDescriptorPool(context.Device.LogicalDevice, &poolInfo, context.Allocator, &context.DescriptorPool); res != vk.Success {
		err := fmt.Errorf("failed to create descriptor pool: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	return nil
}

func destroyDescriptorPool(context *VulkanContext) {
	if context.DescriptorPool != nil {
		vk.DestroyDescriptorPool(context.Device.LogicalDevice, context.DescriptorPool, context.Allocator)
		context.DescriptorPool = nil
	}
}

type VulkanDescriptorLayout struct {
	context  *VulkanContext
	Handle   vk.DescriptorSetLayout
	bindings []gpu.Binding
}

func NewDescriptorLayout(context *VulkanContext, bindings []gpu.Binding) (*VulkanDescriptorLayout, error) {
	layoutBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		layoutBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  toVkDescriptorType(b.Type),
			DescriptorCount: 1,
			StageFlags:      toVkShaderStages(b.Stages),
		}
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(layoutBindings)),
		PBindings:    layoutBindings,
	}

	layout := &VulkanDescriptorLayout{
		context:  context,
		bindings: append([]gpu.Binding(nil), bindings...),
	}
	if err := context.locks.SafeCall(DescriptorManagement, func() error {
		if res := vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &layoutInfo, context.Allocator, &layout.Handle); res != vk.Success {
			return fmt.Errorf("failed to create descriptor set layout: %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return layout, nil
}

func (l *VulkanDescriptorLayout) Bindings() []gpu.Binding {
	return l.bindings
}

func (l *VulkanDescriptorLayout) Destroy() {
	if l.Handle == nil {
		return
	}
	_ = l.context.locks.SafeCall(DescriptorManagement, func() error {
		vk.DestroyDescriptorSetLayout(l.context.Device.LogicalDevice, l.Handle, l.context.Allocator)
		return nil
	})
	l.Handle = nil
}

type VulkanDescriptorSet struct {
	context *VulkanContext
	Handle  vk.DescriptorSet
	layout  *VulkanDescriptorLayout
}

func (s *VulkanDescriptorSet) Layout() gpu.DescriptorLayout {
	return s.layout
}

// Destroy returns the set to the shared pool. The pool must still exist.
func (s *VulkanDescriptorSet) Destroy() {
	if s.Handle == nil || s.context.DescriptorPool == nil {
		return
	}
	if err := s.context.locks.SafeCall(DescriptorManagement, func() error {
		return resultError(vk.FreeDescriptorSets(s.context.Device.LogicalDevice, s.context.DescriptorPool, 1, []vk.DescriptorSet{s.Handle}), "vkFreeDescriptorSets")
	}); err != nil {
		core.LogError("failed to free descriptor set: %s", err)
	}
	s.Handle = nil
}

func allocateDescriptorSet(context *VulkanContext, layout *VulkanDescriptorLayout) (*VulkanDescriptorSet, error) {
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     context.DescriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout.Handle},
	}
	set := &VulkanDescriptorSet{context: context, layout: layout}
	if err := context.locks.SafeCall(DescriptorManagement, func() error {
		if res := vk.AllocateDescriptorSets(context.Device.LogicalDevice, &allocInfo, &set.Handle); res != vk.Success {
			return resultError(res, "vkAllocateDescriptorSets")
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return set, nil
}

func updateDescriptorSet(context *VulkanContext, set *VulkanDescriptorSet, writes []gpu.DescriptorWrite) {
	descriptorWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set.Handle,
			DstBinding:      w.Binding,
			DescriptorCount: 1,
			DescriptorType:  toVkDescriptorType(w.Type),
		}
		if w.Type == gpu.DescriptorCombinedImageSampler {
			write.PImageInfo = []vk.DescriptorImageInfo{{
				Sampler:     w.Sampler.(*VulkanSampler).Handle,
				ImageView:   w.Image.(*VulkanImage).View,
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}}
		} else {
			rng := vk.DeviceSize(w.Range)
			if w.Range == 0 {
				rng = vk.DeviceSize(vk.WholeSize)
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: w.Buffer.(*VulkanBuffer).Handle,
				Offset: vk.DeviceSize(w.Offset),
				Range:  rng,
			}}
		}
		descriptorWrites = append(descriptorWrites, write)
	}
	if len(descriptorWrites) == 0 {
		return
	}
	_ = context.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(context.Device.LogicalDevice, uint32(len(descriptorWrites)), descriptorWrites, 0, nil)
		return nil
	})
}
