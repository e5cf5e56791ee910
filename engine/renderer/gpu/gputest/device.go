// Package gputest provides an in-memory gpu.Device. Submitted work completes
// the moment someone waits on its fence, and every interaction is appended to
// an ordered event log so tests can assert on synchronization order.
package gputest

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu"
)

type Device struct {
	mu        sync.Mutex
	events    []string
	counters  map[string]int
	destroyed map[string]bool
	fences    []*Fence
	liveSets  int

	queue     *Queue
	swapchain *Swapchain
	limits    gpu.Limits

	// Hang keeps submitted work from ever completing, so fence waits time out.
	Hang bool
	// DoubleDestroys counts objects destroyed more than once.
	DoubleDestroys int
}

func NewDevice() *Device {
	d := &Device{
		counters:  make(map[string]int),
		destroyed: make(map[string]bool),
		limits: gpu.Limits{
			MinUniformBufferOffsetAlignment: 256,
			MaxPushConstantsSize:            128,
		},
	}
	d.queue = &Queue{d: d}
	d.swapchain = &Swapchain{d: d, images: 3, width: 1700, height: 900}
	return d
}

func (d *Device) record(format string, args ...interface{}) {
	d.events = append(d.events, fmt.Sprintf(format, args...))
}

func (d *Device) label(kind string) string {
	n := d.counters[kind]
	d.counters[kind] = n + 1
	return fmt.Sprintf("%s#%d", kind, n)
}

func (d *Device) destroy(label string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed[label] {
		d.DoubleDestroys++
		d.record("double-destroy %s", label)
		return
	}
	d.destroyed[label] = true
	d.record("destroy %s", label)
}

// Events returns a copy of the event log.
func (d *Device) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

func (d *Device) ClearEvents() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = nil
}

// Pending returns the number of fences whose submitted work has not completed.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, f := range d.fences {
		if f.pending {
			n++
		}
	}
	return n
}

func (d *Device) IsDestroyed(label string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed[label]
}

func (d *Device) Queue() *Queue {
	return d.queue
}

func (d *Device) FakeSwapchain() *Swapchain {
	return d.swapchain
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := &Fence{d: d, Label: d.label("fence"), signaled: signaled}
	d.fences = append(d.fences, f)
	d.record("create %s", f.Label)
	return f, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &Semaphore{d: d, Label: d.label("semaphore")}
	d.record("create %s", s.Label)
	return s, nil
}

func (d *Device) CreateCommandPool() (gpu.CommandPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &CommandPool{d: d, Label: d.label("pool")}
	d.record("create %s", p.Label)
	return p, nil
}

func (d *Device) CreateBuffer(size uint64, usage gpu.BufferUsage, memory gpu.MemoryUsage) (gpu.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if size == 0 {
		return nil, errors.Wrap(core.ErrInitialization, "zero sized buffer")
	}
	b := &Buffer{d: d, Label: d.label("buffer"), data: make([]byte, size), usage: usage, Memory: memory}
	d.record("create %s size=%d memory=%s", b.Label, size, memory)
	return b, nil
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img := &Image{d: d, Label: d.label("image"), Desc: desc}
	d.record("create %s %dx%d", img.Label, desc.Width, desc.Height)
	return img, nil
}

func (d *Device) CreateSampler(filter gpu.Filter) (gpu.Sampler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &Sampler{d: d, Label: d.label("sampler"), Filter: filter}
	d.record("create %s", s.Label)
	return s, nil
}

func (d *Device) CreateDescriptorLayout(bindings ...gpu.Binding) (gpu.DescriptorLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := &DescriptorLayout{d: d, Label: d.label("layout"), bindings: bindings}
	d.record("create %s", l.Label)
	return l, nil
}

func (d *Device) AllocateDescriptorSet(layout gpu.DescriptorLayout) (gpu.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &DescriptorSet{d: d, Label: d.label("set"), layout: layout}
	d.liveSets++
	d.record("allocate %s", s.Label)
	return s, nil
}

// LiveDescriptorSets reports how many allocated sets have not been destroyed.
func (d *Device) LiveDescriptorSets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveSets
}

func (d *Device) UpdateDescriptorSet(set gpu.DescriptorSet, writes ...gpu.DescriptorWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := set.(*DescriptorSet)
	s.Writes = append(s.Writes, writes...)
	d.record("update %s writes=%d", s.Label, len(writes))
}

func (d *Device) CreateShaderModule(code []uint32) (gpu.ShaderModule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(code) == 0 {
		return nil, errors.Wrap(core.ErrInitialization, "empty shader code")
	}
	m := &ShaderModule{d: d, Label: d.label("shader"), Code: code}
	d.record("create %s", m.Label)
	return m, nil
}

func (d *Device) CreatePipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if desc.Vertex == nil || desc.Fragment == nil {
		return nil, errors.Wrapf(core.ErrInitialization, "pipeline %s is missing a shader stage", desc.Name)
	}
	p := &Pipeline{d: d, Label: d.label("pipeline"), Desc: desc}
	d.record("create %s %s", p.Label, desc.Name)
	return p, nil
}

func (d *Device) GraphicsQueue() gpu.Queue {
	return d.queue
}

func (d *Device) Swapchain() gpu.Swapchain {
	return d.swapchain
}

func (d *Device) Limits() gpu.Limits {
	return d.limits
}

// WaitIdle completes every pending submission.
func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Hang {
		return errors.Wrap(core.ErrDeviceLost, "device hung")
	}
	for _, f := range d.fences {
		if f.pending {
			f.pending = false
			f.signaled = true
		}
	}
	d.record("wait-idle")
	return nil
}

type Fence struct {
	d        *Device
	Label    string
	signaled bool
	pending  bool
	Waits    int
	Resets   int
}

func (f *Fence) Wait(timeout time.Duration) error {
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	f.Waits++
	if f.pending && !f.d.Hang {
		f.pending = false
		f.signaled = true
	}
	if !f.signaled {
		f.d.record("timeout %s", f.Label)
		return errors.Wrapf(core.ErrFenceTimeout, "%s after %s", f.Label, timeout)
	}
	f.d.record("wait %s", f.Label)
	return nil
}

func (f *Fence) Reset() error {
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	if f.pending {
		return errors.Errorf("%s reset while its submission is in flight", f.Label)
	}
	f.Resets++
	f.signaled = false
	f.d.record("reset %s", f.Label)
	return nil
}

func (f *Fence) Signaled() bool {
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	return f.signaled
}

func (f *Fence) Destroy() {
	f.d.destroy(f.Label)
}

type Semaphore struct {
	d     *Device
	Label string
}

func (s *Semaphore) Destroy() {
	s.d.destroy(s.Label)
}

type CommandPool struct {
	d       *Device
	Label   string
	buffers []*CommandBuffer
}

func (p *CommandPool) Allocate() (gpu.CommandBuffer, error) {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	cb := &CommandBuffer{d: p.d, Label: p.d.label("cmd")}
	p.buffers = append(p.buffers, cb)
	p.d.record("allocate %s from %s", cb.Label, p.Label)
	return cb, nil
}

func (p *CommandPool) Reset() error {
	for _, cb := range p.buffers {
		if err := cb.Reset(); err != nil {
			return err
		}
	}
	return nil
}

func (p *CommandPool) Destroy() {
	p.d.destroy(p.Label)
}

type commandBufferState int

const (
	stateInitial commandBufferState = iota
	stateRecording
	stateExecutable
)

type CommandBuffer struct {
	d        *Device
	Label    string
	state    commandBufferState
	Commands []string
}

func (cb *CommandBuffer) Begin(usage gpu.CommandBufferUsage) error {
	if cb.state == stateRecording {
		return errors.Errorf("%s is already recording", cb.Label)
	}
	cb.state = stateRecording
	cb.Commands = nil
	return nil
}

func (cb *CommandBuffer) End() error {
	if cb.state != stateRecording {
		return errors.Errorf("%s is not recording", cb.Label)
	}
	cb.state = stateExecutable
	return nil
}

func (cb *CommandBuffer) Reset() error {
	cb.state = stateInitial
	cb.Commands = nil
	cb.d.mu.Lock()
	cb.d.record("reset %s", cb.Label)
	cb.d.mu.Unlock()
	return nil
}

func (cb *CommandBuffer) add(format string, args ...interface{}) {
	cb.Commands = append(cb.Commands, fmt.Sprintf(format, args...))
}

func (cb *CommandBuffer) BeginRenderPass(imageIndex uint32, clear gpu.ClearValue) {
	cb.add("begin-render-pass %d", imageIndex)
}

func (cb *CommandBuffer) EndRenderPass() {
	cb.add("end-render-pass")
}

func (cb *CommandBuffer) SetViewport(width, height uint32) {
	cb.add("viewport %dx%d", width, height)
}

func (cb *CommandBuffer) BindPipeline(p gpu.Pipeline) {
	cb.add("bind-pipeline %s", p.Name())
}

func (cb *CommandBuffer) BindDescriptorSet(p gpu.Pipeline, index uint32, set gpu.DescriptorSet, dynamicOffsets ...uint32) {
	cb.add("bind-set %d %s %v", index, set.(*DescriptorSet).Label, dynamicOffsets)
}

func (cb *CommandBuffer) PushConstants(p gpu.Pipeline, stages gpu.ShaderStage, data []byte) {
	cb.add("push-constants %d", len(data))
}

func (cb *CommandBuffer) BindVertexBuffer(b gpu.Buffer, offset uint64) {
	cb.add("bind-vertex-buffer %s", b.(*Buffer).Label)
}

func (cb *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	cb.add("draw %d %d %d %d", vertexCount, instanceCount, firstVertex, firstInstance)
}

func (cb *CommandBuffer) CopyBuffer(src, dst gpu.Buffer, size uint64) {
	s, t := src.(*Buffer), dst.(*Buffer)
	copy(t.data, s.data[:size])
	cb.add("copy-buffer %s %s %d", s.Label, t.Label, size)
}

func (cb *CommandBuffer) CopyBufferToImage(src gpu.Buffer, dst gpu.Image) {
	cb.add("copy-buffer-to-image %s %s", src.(*Buffer).Label, dst.(*Image).Label)
}

func (cb *CommandBuffer) TransitionImage(img gpu.Image, from, to gpu.ImageLayout) {
	i := img.(*Image)
	i.Layout = to
	cb.add("transition %s %d->%d", i.Label, from, to)
}

type Queue struct {
	d           *Device
	Submissions []gpu.Submission
	// FailSubmit, when set, is returned by the next Submit.
	FailSubmit error
}

func (q *Queue) Submit(s gpu.Submission) error {
	q.d.mu.Lock()
	defer q.d.mu.Unlock()
	if q.FailSubmit != nil {
		err := q.FailSubmit
		q.FailSubmit = nil
		return err
	}
	desc := "submit"
	if s.Commands != nil {
		cb := s.Commands.(*CommandBuffer)
		if cb.state != stateExecutable {
			return errors.Errorf("%s submitted without being recorded", cb.Label)
		}
		desc += " " + cb.Label
	}
	if s.Wait != nil {
		desc += " wait=" + s.Wait.(*Semaphore).Label
	}
	if s.Signal != nil {
		desc += " signal=" + s.Signal.(*Semaphore).Label
	}
	if s.Fence != nil {
		f := s.Fence.(*Fence)
		if f.signaled || f.pending {
			return errors.Errorf("%s submitted while not reset", f.Label)
		}
		f.pending = true
		desc += " fence=" + f.Label
	}
	q.Submissions = append(q.Submissions, s)
	q.d.record(desc)
	return nil
}

type Swapchain struct {
	d      *Device
	images int
	next   uint32
	width  uint32
	height uint32

	// OutOfDateOnAcquire and OutOfDateOnPresent make the next n calls report an out of date swapchain.
	OutOfDateOnAcquire int
	OutOfDateOnPresent int
	Recreated          int
	Presented          []uint32
}

func (s *Swapchain) AcquireNextImage(timeout time.Duration, signal gpu.Semaphore) (uint32, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if s.OutOfDateOnAcquire > 0 {
		s.OutOfDateOnAcquire--
		s.d.record("acquire out-of-date")
		return 0, errors.Wrap(core.ErrSwapchainOutOfDate, "acquire")
	}
	idx := s.next % uint32(s.images)
	s.next++
	s.d.record("acquire %d signal=%s", idx, signal.(*Semaphore).Label)
	return idx, nil
}

func (s *Swapchain) Present(imageIndex uint32, wait gpu.Semaphore) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.Presented = append(s.Presented, imageIndex)
	s.d.record("present %d wait=%s", imageIndex, wait.(*Semaphore).Label)
	if s.OutOfDateOnPresent > 0 {
		s.OutOfDateOnPresent--
		return errors.Wrap(core.ErrSwapchainOutOfDate, "present")
	}
	return nil
}

func (s *Swapchain) Recreate(width, height uint32) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.width, s.height = width, height
	s.Recreated++
	s.d.record("recreate-swapchain %dx%d", width, height)
	return nil
}

func (s *Swapchain) Extent() (uint32, uint32) {
	return s.width, s.height
}

func (s *Swapchain) ImageCount() int {
	return s.images
}

type Buffer struct {
	d      *Device
	Label  string
	data   []byte
	usage  gpu.BufferUsage
	Memory gpu.MemoryUsage
}

func (b *Buffer) Size() uint64 {
	return uint64(len(b.data))
}

func (b *Buffer) Usage() gpu.BufferUsage {
	return b.usage
}

func (b *Buffer) Write(offset uint64, data []byte) error {
	if !b.Memory.HostVisible() {
		return errors.Errorf("%s is not host visible", b.Label)
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return errors.Errorf("write of %d bytes at %d overflows %s (%d bytes)", len(data), offset, b.Label, len(b.data))
	}
	copy(b.data[offset:], data)
	return nil
}

// Bytes exposes the buffer contents.
func (b *Buffer) Bytes() []byte {
	return b.data
}

func (b *Buffer) Destroy() {
	b.d.destroy(b.Label)
}

type Image struct {
	d      *Device
	Label  string
	Desc   gpu.ImageDesc
	Layout gpu.ImageLayout
}

func (i *Image) Width() uint32      { return i.Desc.Width }
func (i *Image) Height() uint32     { return i.Desc.Height }
func (i *Image) Format() gpu.Format { return i.Desc.Format }
func (i *Image) Destroy()           { i.d.destroy(i.Label) }

type Sampler struct {
	d      *Device
	Label  string
	Filter gpu.Filter
}

func (s *Sampler) Destroy() { s.d.destroy(s.Label) }

type DescriptorLayout struct {
	d        *Device
	Label    string
	bindings []gpu.Binding
}

func (l *DescriptorLayout) Bindings() []gpu.Binding { return l.bindings }
func (l *DescriptorLayout) Destroy()                { l.d.destroy(l.Label) }

type DescriptorSet struct {
	d      *Device
	Label  string
	layout gpu.DescriptorLayout
	Writes []gpu.DescriptorWrite
}

func (s *DescriptorSet) Layout() gpu.DescriptorLayout { return s.layout }

func (s *DescriptorSet) Destroy() {
	s.d.mu.Lock()
	if !s.d.destroyed[s.Label] {
		s.d.liveSets--
	}
	s.d.mu.Unlock()
	s.d.destroy(s.Label)
}

type ShaderModule struct {
	d     *Device
	Label string
	Code  []uint32
}

func (m *ShaderModule) Destroy() { m.d.destroy(m.Label) }

type Pipeline struct {
	d     *Device
	Label string
	Desc  gpu.PipelineDesc
}

func (p *Pipeline) Name() string { return p.Desc.Name }
func (p *Pipeline) Destroy()     { p.d.destroy(p.Label) }
