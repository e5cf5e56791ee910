package frame

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu"
)

const (
	DefaultOverlap      = 2
	DefaultFenceTimeout = time.Second
)

type RingConfig struct {
	// Overlap is the number of frames the CPU may record ahead of the GPU.
	Overlap      int
	FenceTimeout time.Duration
	// SlotInit attaches renderer owned resources to a freshly created slot.
	SlotInit func(slot *Slot) error
}

// Ring cycles through a fixed set of slots by frame number.
type Ring struct {
	slots   []*Slot
	timeout time.Duration
}

func NewRing(device gpu.Device, deletion *DeletionQueue, config RingConfig) (*Ring, error) {
	if config.Overlap <= 0 {
		config.Overlap = DefaultOverlap
	}
	if config.FenceTimeout <= 0 {
		config.FenceTimeout = DefaultFenceTimeout
	}

	r := &Ring{
		slots:   make([]*Slot, config.Overlap),
		timeout: config.FenceTimeout,
	}
	for i := range r.slots {
		slot, err := newSlot(device, deletion, i)
		if err != nil {
			return nil, errors.Wrapf(core.ErrInitialization, "frame slot %d: %v", i, err)
		}
		if config.SlotInit != nil {
			if err := config.SlotInit(slot); err != nil {
				return nil, errors.Wrapf(core.ErrInitialization, "frame slot %d init: %v", i, err)
			}
		}
		deletion.PushFunc(fmt.Sprintf("slot%d.deletions", i), slot.Deletions.Flush)
		r.slots[i] = slot
	}
	core.LogDebug("frame ring created with %d slots", len(r.slots))
	return r, nil
}

func newSlot(device gpu.Device, deletion *DeletionQueue, index int) (*Slot, error) {
	s := &Slot{Index: index, Deletions: NewDeletionQueue()}
	tag := func(name string) string { return fmt.Sprintf("slot%d.%s", index, name) }

	var err error
	// signaled so the first wait on this slot does not block
	if s.Fence, err = device.CreateFence(true); err != nil {
		return nil, err
	}
	deletion.Push(tag("fence"), s.Fence)

	if s.ImageAvailable, err = device.CreateSemaphore(); err != nil {
		return nil, err
	}
	deletion.Push(tag("image-available"), s.ImageAvailable)

	if s.RenderComplete, err = device.CreateSemaphore(); err != nil {
		return nil, err
	}
	deletion.Push(tag("render-complete"), s.RenderComplete)

	if s.CommandPool, err = device.CreateCommandPool(); err != nil {
		return nil, err
	}
	deletion.Push(tag("command-pool"), s.CommandPool)

	// buffers are freed with their pool
	if s.Commands, err = s.CommandPool.Allocate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Acquire returns the slot for frame, waiting for its previous submission and
// preparing it for recording. A fence that does not signal within the ring's
// timeout is reported as a lost device.
func (r *Ring) Acquire(frame uint64) (*Slot, error) {
	s := r.slots[frame%uint64(len(r.slots))]
	if err := s.wait(r.timeout); err != nil {
		return nil, err
	}
	s.Deletions.Flush()

	// an earlier acquire may have reset the fence without submitting
	if s.Fence.Signaled() {
		if err := s.Fence.Reset(); err != nil {
			return nil, errors.Wrapf(err, "slot %d fence reset", s.Index)
		}
	}
	if err := s.Commands.Reset(); err != nil {
		return nil, errors.Wrapf(err, "slot %d command buffer reset", s.Index)
	}
	s.state = SlotIdle
	return s, nil
}

// WaitAll blocks until no slot has work in flight. Every slot is waited on even
// if one fails; the first error is returned.
func (r *Ring) WaitAll() error {
	var first error
	for _, s := range r.slots {
		if err := s.wait(r.timeout); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (r *Ring) Len() int {
	return len(r.slots)
}

func (r *Ring) Slot(i int) *Slot {
	return r.slots[i]
}

func (r *Ring) Timeout() time.Duration {
	return r.timeout
}
