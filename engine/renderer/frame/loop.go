package frame

import (
	"time"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu"
)

// DrawFunc records the frame's commands into cmd. The render pass targeting
// imageIndex is begun and ended by the callee.
type DrawFunc func(cmd gpu.Recorder, slot *Slot, imageIndex uint32) error

type LoopConfig struct {
	// AcquireTimeout bounds the wait for the next swapchain image.
	AcquireTimeout time.Duration
}

// Loop drives one frame at a time through its slot: wait, record, submit, present.
type Loop struct {
	device   gpu.Device
	ring     *Ring
	config   LoopConfig
	frame    uint64
	lastSlot int
}

func NewLoop(device gpu.Device, ring *Ring, config LoopConfig) *Loop {
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = ring.Timeout()
	}
	return &Loop{
		device:   device,
		ring:     ring,
		config:   config,
		lastSlot: -1,
	}
}

// RunFrame renders one frame. An out of date swapchain is returned as
// core.ErrSwapchainOutOfDate; when it comes from present the frame was still
// submitted and counted.
func (l *Loop) RunFrame(draw DrawFunc) error {
	slot, err := l.ring.Acquire(l.frame)
	if err != nil {
		return errors.Wrapf(err, "frame %d", l.frame)
	}

	swapchain := l.device.Swapchain()
	imageIndex, err := swapchain.AcquireNextImage(l.config.AcquireTimeout, slot.ImageAvailable)
	if err != nil {
		return errors.Wrapf(err, "frame %d acquire image", l.frame)
	}

	if err := slot.begin(); err != nil {
		return err
	}
	if err := draw(slot.Commands, slot, imageIndex); err != nil {
		slot.abort()
		return errors.Wrapf(err, "frame %d draw", l.frame)
	}
	if err := slot.Commands.End(); err != nil {
		slot.abort()
		return errors.Wrapf(err, "frame %d end", l.frame)
	}

	err = l.device.GraphicsQueue().Submit(gpu.Submission{
		Commands:  slot.Commands,
		Wait:      slot.ImageAvailable,
		WaitStage: gpu.PipelineStageColorAttachmentOutput,
		Signal:    slot.RenderComplete,
		Fence:     slot.Fence,
	})
	if err != nil {
		slot.state = SlotIdle
		return errors.Wrapf(core.ErrSubmitFailed, "frame %d: %v", l.frame, err)
	}
	slot.submitted(l.frame)

	frame := l.frame
	l.lastSlot = slot.Index
	l.frame++

	if err := swapchain.Present(imageIndex, slot.RenderComplete); err != nil {
		return errors.Wrapf(err, "frame %d present", frame)
	}
	return nil
}

// FrameNumber is the number of frames submitted so far.
func (l *Loop) FrameNumber() uint64 {
	return l.frame
}

// LastSlot is the index of the slot used by the last submitted frame, -1 before the first.
func (l *Loop) LastSlot() int {
	return l.lastSlot
}

// RecreateSwapchain waits for every slot and rebuilds the swapchain. Frame slots are kept.
func (l *Loop) RecreateSwapchain(width, height uint32) error {
	if err := l.ring.WaitAll(); err != nil {
		return err
	}
	if err := l.device.Swapchain().Recreate(width, height); err != nil {
		return errors.Wrapf(err, "recreate swapchain %dx%d", width, height)
	}
	core.LogInfo("swapchain recreated %dx%d", width, height)
	return nil
}

// Teardown waits on every slot fence and then flushes deletion. The flush runs
// even when a wait fails so host side resources are still released.
func Teardown(ring *Ring, deletion *DeletionQueue) error {
	err := ring.WaitAll()
	if err != nil {
		core.LogError("waiting for frames before teardown: %s", err)
	}
	deletion.Flush()
	return err
}
