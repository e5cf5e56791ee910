package frame

import (
	"time"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu"
)

// Immediate runs one-off command buffers (uploads, layout transitions) and
// blocks until the GPU is done with them. It must not be used from more than
// one goroutine at a time.
type Immediate struct {
	queue   gpu.Queue
	fence   gpu.Fence
	pool    gpu.CommandPool
	cmd     gpu.CommandBuffer
	timeout time.Duration
}

func NewImmediate(device gpu.Device, deletion *DeletionQueue, timeout time.Duration) (*Immediate, error) {
	if timeout <= 0 {
		timeout = DefaultFenceTimeout
	}
	im := &Immediate{queue: device.GraphicsQueue(), timeout: timeout}

	var err error
	if im.fence, err = device.CreateFence(false); err != nil {
		return nil, errors.Wrapf(core.ErrInitialization, "immediate fence: %v", err)
	}
	deletion.Push("immediate.fence", im.fence)

	if im.pool, err = device.CreateCommandPool(); err != nil {
		return nil, errors.Wrapf(core.ErrInitialization, "immediate command pool: %v", err)
	}
	deletion.Push("immediate.command-pool", im.pool)

	if im.cmd, err = im.pool.Allocate(); err != nil {
		return nil, errors.Wrapf(core.ErrInitialization, "immediate command buffer: %v", err)
	}
	return im, nil
}

// Submit records commands through record, submits them and waits for completion.
// The fence is reset before returning so the next call starts clean.
func (im *Immediate) Submit(record func(cmd gpu.Recorder) error) error {
	if err := im.cmd.Reset(); err != nil {
		return errors.Wrap(err, "immediate reset")
	}
	if err := im.cmd.Begin(gpu.CommandBufferUsageOneTimeSubmit); err != nil {
		return errors.Wrap(err, "immediate begin")
	}
	if err := record(im.cmd); err != nil {
		_ = im.cmd.End()
		return errors.Wrap(err, "immediate record")
	}
	if err := im.cmd.End(); err != nil {
		return errors.Wrap(err, "immediate end")
	}

	if err := im.queue.Submit(gpu.Submission{Commands: im.cmd, Fence: im.fence}); err != nil {
		return errors.Wrapf(core.ErrSubmitFailed, "immediate: %v", err)
	}
	if err := im.fence.Wait(im.timeout); err != nil {
		if errors.Is(err, core.ErrFenceTimeout) {
			return errors.Wrapf(core.ErrDeviceLost, "immediate: %v", err)
		}
		return errors.Wrap(err, "immediate wait")
	}
	return im.fence.Reset()
}
