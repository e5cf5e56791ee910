package renderer

import (
	"fmt"
	"image"
	"math"
	"time"
	"unsafe"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer/frame"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu"
)

type Config struct {
	// FrameOverlap is the number of frame slots.
	FrameOverlap int
	FenceTimeout time.Duration
	MaxObjects   int
	ClearColor   [3]float32
	// FlashClear pulses the blue channel of the clear color with the frame number.
	FlashClear bool
	Filter     gpu.Filter
}

type Renderer struct {
	config   Config
	device   gpu.Device
	deletion *frame.DeletionQueue

	ring      *frame.Ring
	loop      *frame.Loop
	immediate *frame.Immediate

	globalLayout  gpu.DescriptorLayout
	objectLayout  gpu.DescriptorLayout
	textureLayout gpu.DescriptorLayout

	// one padded SceneParams region per frame slot, bound with a dynamic offset
	sceneBuffer     gpu.Buffer
	sceneStride     uint64
	sampler         gpu.Sampler
	pipelines       map[string]*Pipeline
	shutdownStarted bool
}

func New(device gpu.Device, config Config) (*Renderer, error) {
	if config.FrameOverlap <= 0 {
		config.FrameOverlap = frame.DefaultOverlap
	}
	if config.FenceTimeout <= 0 {
		config.FenceTimeout = frame.DefaultFenceTimeout
	}
	if config.MaxObjects <= 0 {
		config.MaxObjects = 10000
	}

	r := &Renderer{
		config:    config,
		device:    device,
		deletion:  frame.NewDeletionQueue(),
		pipelines: make(map[string]*Pipeline),
	}
	if err := r.initialize(); err != nil {
		// release whatever was created before the failure
		r.deletion.Flush()
		return nil, err
	}
	core.LogInfo("renderer initialized with %d frame slots", r.ring.Len())
	return r, nil
}

func (r *Renderer) initialize() error {
	var err error
	r.globalLayout, err = r.device.CreateDescriptorLayout(
		gpu.Binding{Binding: 0, Type: gpu.DescriptorUniformBuffer, Stages: gpu.ShaderStageVertex},
		gpu.Binding{Binding: 1, Type: gpu.DescriptorUniformBufferDynamic, Stages: gpu.ShaderStageVertex | gpu.ShaderStageFragment},
	)
	if err != nil {
		return initError("global descriptor layout", err)
	}
	r.deletion.Push("layout.global", r.globalLayout)

	r.objectLayout, err = r.device.CreateDescriptorLayout(
		gpu.Binding{Binding: 0, Type: gpu.DescriptorStorageBuffer, Stages: gpu.ShaderStageVertex},
	)
	if err != nil {
		return initError("object descriptor layout", err)
	}
	r.deletion.Push("layout.object", r.objectLayout)

	r.textureLayout, err = r.device.CreateDescriptorLayout(
		gpu.Binding{Binding: 0, Type: gpu.DescriptorCombinedImageSampler, Stages: gpu.ShaderStageFragment},
	)
	if err != nil {
		return initError("texture descriptor layout", err)
	}
	r.deletion.Push("layout.texture", r.textureLayout)

	var scene SceneParams
	r.sceneStride = gpu.PadUniformBufferSize(uint64(unsafe.Sizeof(scene)), r.device.Limits().MinUniformBufferOffsetAlignment)
	r.sceneBuffer, err = r.device.CreateBuffer(r.sceneStride*uint64(r.config.FrameOverlap), gpu.BufferUsageUniform, gpu.MemoryCPUToGPU)
	if err != nil {
		return initError("scene buffer", err)
	}
	r.deletion.Push("buffer.scene", r.sceneBuffer)

	r.ring, err = frame.NewRing(r.device, r.deletion, frame.RingConfig{
		Overlap:      r.config.FrameOverlap,
		FenceTimeout: r.config.FenceTimeout,
		SlotInit:     r.initSlot,
	})
	if err != nil {
		return err
	}

	r.immediate, err = frame.NewImmediate(r.device, r.deletion, r.config.FenceTimeout)
	if err != nil {
		return err
	}

	r.sampler, err = r.device.CreateSampler(r.config.Filter)
	if err != nil {
		return initError("sampler", err)
	}
	r.deletion.Push("sampler.default", r.sampler)

	r.loop = frame.NewLoop(r.device, r.ring, frame.LoopConfig{AcquireTimeout: r.config.FenceTimeout})
	r.deletion.PushFunc("pipelines", r.destroyPipelines)
	return nil
}

func initError(what string, err error) error {
	err = errors.Wrapf(core.ErrInitialization, "%s: %v", what, err)
	core.LogError(err.Error())
	return err
}

// initSlot gives a frame slot its camera and object buffers and the descriptor
// sets pointing at them.
func (r *Renderer) initSlot(slot *frame.Slot) error {
	var (
		camera gpuCameraData
		object gpuObjectData
		scene  SceneParams
		err    error
	)
	slot.CameraBuffer, err = r.device.CreateBuffer(uint64(unsafe.Sizeof(camera)), gpu.BufferUsageUniform, gpu.MemoryCPUToGPU)
	if err != nil {
		return err
	}
	r.deletion.Push(fmt.Sprintf("slot%d.camera", slot.Index), slot.CameraBuffer)

	slot.ObjectBuffer, err = r.device.CreateBuffer(uint64(unsafe.Sizeof(object))*uint64(r.config.MaxObjects), gpu.BufferUsageStorage, gpu.MemoryCPUToGPU)
	if err != nil {
		return err
	}
	r.deletion.Push(fmt.Sprintf("slot%d.objects", slot.Index), slot.ObjectBuffer)

	if slot.GlobalSet, err = r.device.AllocateDescriptorSet(r.globalLayout); err != nil {
		return err
	}
	r.device.UpdateDescriptorSet(slot.GlobalSet,
		gpu.DescriptorWrite{Binding: 0, Type: gpu.DescriptorUniformBuffer, Buffer: slot.CameraBuffer, Range: uint64(unsafe.Sizeof(camera))},
		gpu.DescriptorWrite{Binding: 1, Type: gpu.DescriptorUniformBufferDynamic, Buffer: r.sceneBuffer, Range: uint64(unsafe.Sizeof(scene))},
	)

	if slot.ObjectSet, err = r.device.AllocateDescriptorSet(r.objectLayout); err != nil {
		return err
	}
	r.device.UpdateDescriptorSet(slot.ObjectSet,
		gpu.DescriptorWrite{Binding: 0, Type: gpu.DescriptorStorageBuffer, Buffer: slot.ObjectBuffer, Range: slot.ObjectBuffer.Size()},
	)
	return nil
}

// CreatePipeline builds a pipeline for the mesh vertex layout from SPIR-V code.
// Textured pipelines take the texture set at index 2.
func (r *Renderer) CreatePipeline(name string, vertex, fragment []uint32, textured bool) (*Pipeline, error) {
	if _, ok := r.pipelines[name]; ok {
		return nil, errors.Errorf("pipeline %s already exists", name)
	}
	handle, err := r.buildPipeline(name, vertex, fragment, textured)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{Name: name, Textured: textured, handle: handle}
	r.pipelines[name] = p
	core.LogDebug("pipeline %s created", name)
	return p, nil
}

func (r *Renderer) buildPipeline(name string, vertex, fragment []uint32, textured bool) (gpu.Pipeline, error) {
	vert, err := r.device.CreateShaderModule(vertex)
	if err != nil {
		return nil, errors.Wrapf(err, "pipeline %s vertex shader", name)
	}
	defer vert.Destroy()
	frag, err := r.device.CreateShaderModule(fragment)
	if err != nil {
		return nil, errors.Wrapf(err, "pipeline %s fragment shader", name)
	}
	defer frag.Destroy()

	layouts := []gpu.DescriptorLayout{r.globalLayout, r.objectLayout}
	if textured {
		layouts = append(layouts, r.textureLayout)
	}
	var push meshPushConstants
	handle, err := r.device.CreatePipeline(gpu.PipelineDesc{
		Name:               name,
		Vertex:             vert,
		Fragment:           frag,
		Layout:             VertexLayout(),
		SetLayouts:         layouts,
		PushConstantSize:   uint32(unsafe.Sizeof(push)),
		PushConstantStages: gpu.ShaderStageVertex,
		DepthTest:          true,
		CullMode:           gpu.CullModeNone,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "pipeline %s", name)
	}
	return handle, nil
}

// ReloadPipeline rebuilds a pipeline from new shader code. In-flight frames are
// waited on before the old pipeline is destroyed. On failure the old pipeline stays.
func (r *Renderer) ReloadPipeline(name string, vertex, fragment []uint32) error {
	p, ok := r.pipelines[name]
	if !ok {
		return errors.Wrapf(core.ErrNotFound, "pipeline %s", name)
	}
	handle, err := r.buildPipeline(name, vertex, fragment, p.Textured)
	if err != nil {
		core.LogWarn("keeping previous pipeline %s: %s", name, err)
		return err
	}
	if err := r.ring.WaitAll(); err != nil {
		handle.Destroy()
		return err
	}
	p.handle.Destroy()
	p.handle = handle
	core.LogInfo("pipeline %s reloaded", name)
	return nil
}

func (r *Renderer) Pipeline(name string) (*Pipeline, error) {
	p, ok := r.pipelines[name]
	if !ok {
		return nil, errors.Wrapf(core.ErrNotFound, "pipeline %s", name)
	}
	return p, nil
}

func (r *Renderer) destroyPipelines() {
	for name, p := range r.pipelines {
		p.handle.Destroy()
		delete(r.pipelines, name)
	}
}

func (r *Renderer) CreateMaterial(name, pipeline string) (*Material, error) {
	p, err := r.Pipeline(pipeline)
	if err != nil {
		return nil, errors.Wrapf(err, "material %s", name)
	}
	return &Material{ID: uuid.New(), Name: name, Pipeline: p}, nil
}

// ownerTag names a deletion entry after the object that owns the resource, so
// two objects sharing a name never share a tag.
func ownerTag(kind, name string, id uuid.UUID) string {
	return kind + "." + name + "." + id.String()
}

// UploadMesh copies the mesh vertices into a device local vertex buffer through a staging buffer.
func (r *Renderer) UploadMesh(mesh *Mesh) error {
	if len(mesh.Vertices) == 0 {
		return errors.Errorf("mesh %s has no vertices", mesh.Name)
	}
	if mesh.ID == uuid.Nil {
		mesh.ID = uuid.New()
	}
	data := sliceBytes(mesh.Vertices)
	size := uint64(len(data))

	staging, err := r.device.CreateBuffer(size, gpu.BufferUsageTransferSrc, gpu.MemoryCPUOnly)
	if err != nil {
		return errors.Wrapf(err, "mesh %s staging buffer", mesh.Name)
	}
	defer staging.Destroy()
	if err := staging.Write(0, data); err != nil {
		return errors.Wrapf(err, "mesh %s staging write", mesh.Name)
	}

	vb, err := r.device.CreateBuffer(size, gpu.BufferUsageVertex|gpu.BufferUsageTransferDst, gpu.MemoryGPUOnly)
	if err != nil {
		return errors.Wrapf(err, "mesh %s vertex buffer", mesh.Name)
	}
	err = r.immediate.Submit(func(cmd gpu.Recorder) error {
		cmd.CopyBuffer(staging, vb, size)
		return nil
	})
	if err != nil {
		vb.Destroy()
		return errors.Wrapf(err, "mesh %s upload", mesh.Name)
	}
	mesh.VertexBuffer = vb
	r.deletion.Push(ownerTag("mesh", mesh.Name, mesh.ID), vb)
	core.LogDebug("mesh %s (%s) uploaded, %d bytes", mesh.Name, mesh.ID, size)
	return nil
}

// UploadTexture creates a sampled image from img.
func (r *Renderer) UploadTexture(name string, img *image.RGBA) (*Texture, error) {
	gi, err := r.uploadImage(name, img)
	if err != nil {
		return nil, err
	}
	tex := &Texture{ID: uuid.New(), Name: name, Image: gi}
	r.deletion.PushFunc(ownerTag("texture", name, tex.ID), func() { tex.Image.Destroy() })
	return tex, nil
}

// ReplaceTexture uploads new pixels for tex. The previous image is released once
// the frames that may still sample it have completed, and materials using tex
// are rebound on their next draw.
func (r *Renderer) ReplaceTexture(tex *Texture, img *image.RGBA) error {
	gi, err := r.uploadImage(tex.Name, img)
	if err != nil {
		return err
	}
	r.Retire(ownerTag("texture", tex.Name, tex.ID), tex.Image)
	tex.Image = gi
	tex.generation++
	return nil
}

func (r *Renderer) uploadImage(name string, img *image.RGBA) (gpu.Image, error) {
	bounds := img.Bounds()
	width, height := uint32(bounds.Dx()), uint32(bounds.Dy())
	if width == 0 || height == 0 {
		return nil, errors.Errorf("texture %s is empty", name)
	}
	pixels := img.Pix
	if img.Stride != bounds.Dx()*4 {
		pixels = make([]byte, 0, bounds.Dx()*bounds.Dy()*4)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			start := img.PixOffset(bounds.Min.X, y)
			pixels = append(pixels, img.Pix[start:start+bounds.Dx()*4]...)
		}
	}

	staging, err := r.device.CreateBuffer(uint64(len(pixels)), gpu.BufferUsageTransferSrc, gpu.MemoryCPUOnly)
	if err != nil {
		return nil, errors.Wrapf(err, "texture %s staging buffer", name)
	}
	defer staging.Destroy()
	if err := staging.Write(0, pixels); err != nil {
		return nil, errors.Wrapf(err, "texture %s staging write", name)
	}

	gi, err := r.device.CreateImage(gpu.ImageDesc{
		Width:  width,
		Height: height,
		Format: gpu.FormatRGBA8Srgb,
		Usage:  gpu.ImageUsageSampled | gpu.ImageUsageTransferDst,
		Memory: gpu.MemoryGPUOnly,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "texture %s image", name)
	}
	err = r.immediate.Submit(func(cmd gpu.Recorder) error {
		cmd.TransitionImage(gi, gpu.ImageLayoutUndefined, gpu.ImageLayoutTransferDst)
		cmd.CopyBufferToImage(staging, gi)
		cmd.TransitionImage(gi, gpu.ImageLayoutTransferDst, gpu.ImageLayoutShaderReadOnly)
		return nil
	})
	if err != nil {
		gi.Destroy()
		return nil, errors.Wrapf(err, "texture %s upload", name)
	}
	core.LogDebug("texture %s uploaded (%dx%d)", name, width, height)
	return gi, nil
}

// BindTexture points the material's texture set at tex.
func (r *Renderer) BindTexture(material *Material, tex *Texture) error {
	if !material.Pipeline.Textured {
		return errors.Errorf("material %s uses untextured pipeline %s", material.Name, material.Pipeline.Name)
	}
	set, err := r.device.AllocateDescriptorSet(r.textureLayout)
	if err != nil {
		return errors.Wrapf(err, "material %s texture set", material.Name)
	}
	r.device.UpdateDescriptorSet(set, gpu.DescriptorWrite{
		Binding: 0,
		Type:    gpu.DescriptorCombinedImageSampler,
		Image:   tex.Image,
		Sampler: r.sampler,
	})
	if material.TextureSet != nil {
		// frames in flight may still sample through the old set
		r.Retire(ownerTag("material", material.Name, material.ID)+".set", material.TextureSet)
	}
	material.Texture = tex
	material.TextureSet = set
	material.boundGeneration = tex.generation
	return nil
}

// Retire destroys res once every frame submitted so far has completed.
func (r *Renderer) Retire(tag string, res frame.Destroyer) {
	last := r.loop.LastSlot()
	if last < 0 {
		res.Destroy()
		return
	}
	r.ring.Slot(last).Deletions.Push(tag, res)
}

// DrawFrame records and submits one frame. An out of date swapchain is returned
// as a recoverable error; call Resize and carry on.
func (r *Renderer) DrawFrame(data *FrameData) error {
	return r.loop.RunFrame(func(cmd gpu.Recorder, slot *frame.Slot, imageIndex uint32) error {
		return r.record(cmd, slot, imageIndex, data)
	})
}

func (r *Renderer) record(cmd gpu.Recorder, slot *frame.Slot, imageIndex uint32, data *FrameData) error {
	proj := data.Camera.Proj
	// flip Y for Vulkan clip space
	proj[5] *= -1
	camera := gpuCameraData{
		View:     data.Camera.View,
		Proj:     proj,
		ViewProj: proj.Mul4(data.Camera.View),
	}
	if err := slot.CameraBuffer.Write(0, bytesOf(&camera)); err != nil {
		return errors.Wrap(err, "camera data")
	}

	sceneOffset := r.sceneStride * uint64(slot.Index)
	scene := data.Scene
	if err := r.sceneBuffer.Write(sceneOffset, bytesOf(&scene)); err != nil {
		return errors.Wrap(err, "scene data")
	}

	objects := data.Objects
	if len(objects) > r.config.MaxObjects {
		core.LogWarn("frame has %d objects, drawing the first %d", len(objects), r.config.MaxObjects)
		objects = objects[:r.config.MaxObjects]
	}
	models := make([]gpuObjectData, len(objects))
	for i, obj := range objects {
		models[i].Model = obj.Transform
	}
	if len(models) > 0 {
		if err := slot.ObjectBuffer.Write(0, sliceBytes(models)); err != nil {
			return errors.Wrap(err, "object data")
		}
	}

	width, height := r.device.Swapchain().Extent()
	cmd.BeginRenderPass(imageIndex, r.clearValue())
	cmd.SetViewport(width, height)

	var (
		lastMaterial *Material
		lastMesh     *Mesh
	)
	for i, obj := range objects {
		if obj.Mesh == nil || obj.Material == nil {
			continue
		}
		p := obj.Material.Pipeline
		if obj.Material != lastMaterial {
			if err := r.refreshTexture(obj.Material); err != nil {
				cmd.EndRenderPass()
				return err
			}
			cmd.BindPipeline(p.handle)
			cmd.BindDescriptorSet(p.handle, 0, slot.GlobalSet, uint32(sceneOffset))
			cmd.BindDescriptorSet(p.handle, 1, slot.ObjectSet)
			if obj.Material.TextureSet != nil {
				cmd.BindDescriptorSet(p.handle, 2, obj.Material.TextureSet)
			}
			lastMaterial = obj.Material
		}

		push := meshPushConstants{RenderMatrix: camera.ViewProj.Mul4(obj.Transform)}
		cmd.PushConstants(p.handle, gpu.ShaderStageVertex, bytesOf(&push))

		if obj.Mesh != lastMesh {
			cmd.BindVertexBuffer(obj.Mesh.VertexBuffer, 0)
			lastMesh = obj.Mesh
		}
		cmd.Draw(uint32(len(obj.Mesh.Vertices)), 1, 0, uint32(i))
	}
	cmd.EndRenderPass()
	return nil
}

func (r *Renderer) refreshTexture(m *Material) error {
	if m.Texture == nil || m.boundGeneration == m.Texture.generation {
		return nil
	}
	return r.BindTexture(m, m.Texture)
}

func (r *Renderer) clearValue() gpu.ClearValue {
	c := r.config.ClearColor
	clear := gpu.ClearValue{Color: [4]float32{c[0], c[1], c[2], 1}, Depth: 1}
	if r.config.FlashClear {
		clear.Color[2] = float32(math.Abs(math.Sin(float64(r.loop.FrameNumber()) / 120)))
	}
	return clear
}

// Resize recreates the swapchain for the new framebuffer size.
func (r *Renderer) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return nil
	}
	return r.loop.RecreateSwapchain(width, height)
}

func (r *Renderer) FrameNumber() uint64 {
	return r.loop.FrameNumber()
}

func (r *Renderer) LastSlot() int {
	return r.loop.LastSlot()
}

// Shutdown waits for the GPU to finish every frame and then releases every
// renderer owned resource. It is safe to call more than once.
func (r *Renderer) Shutdown() error {
	if r.shutdownStarted {
		return nil
	}
	r.shutdownStarted = true
	idleErr := r.device.WaitIdle()
	if idleErr != nil {
		core.LogError("waiting for device idle: %s", idleErr)
	}
	if err := frame.Teardown(r.ring, r.deletion); err != nil {
		return err
	}
	return idleErr
}
