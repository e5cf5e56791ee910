package frame

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu"
)

type SlotState int

const (
	SlotIdle SlotState = iota
	SlotRecording
	SlotSubmitted
	SlotComplete
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotRecording:
		return "recording"
	case SlotSubmitted:
		return "submitted"
	case SlotComplete:
		return "complete"
	default:
		return fmt.Sprintf("SlotState(%d)", int(s))
	}
}

// Slot is one set of per-frame resources. A slot has at most one submission in flight.
type Slot struct {
	Index int

	Fence          gpu.Fence
	ImageAvailable gpu.Semaphore
	RenderComplete gpu.Semaphore

	CommandPool gpu.CommandPool
	Commands    gpu.CommandBuffer

	// Filled in by RingConfig.SlotInit.
	CameraBuffer gpu.Buffer
	ObjectBuffer gpu.Buffer
	GlobalSet    gpu.DescriptorSet
	ObjectSet    gpu.DescriptorSet

	// Deletions is flushed every time the slot's previous submission is known complete.
	Deletions *DeletionQueue

	state SlotState
	frame uint64
}

func (s *Slot) State() SlotState {
	return s.state
}

// Frame returns the frame number of the last submission made from this slot.
func (s *Slot) Frame() uint64 {
	return s.frame
}

func (s *Slot) begin() error {
	if s.state != SlotIdle {
		return errors.Errorf("slot %d cannot begin recording in state %s", s.Index, s.state)
	}
	if err := s.Commands.Begin(gpu.CommandBufferUsageOneTimeSubmit); err != nil {
		return errors.Wrapf(err, "slot %d begin", s.Index)
	}
	s.state = SlotRecording
	return nil
}

// abort drops a recording that will never be submitted.
func (s *Slot) abort() {
	if s.state == SlotRecording {
		_ = s.Commands.End()
	}
	s.state = SlotIdle
}

func (s *Slot) submitted(frame uint64) {
	s.state = SlotSubmitted
	s.frame = frame
}

// wait blocks until the in-flight submission completes. A slot with nothing in
// flight returns immediately.
func (s *Slot) wait(timeout time.Duration) error {
	if s.state != SlotSubmitted {
		return nil
	}
	if err := s.Fence.Wait(timeout); err != nil {
		if errors.Is(err, core.ErrFenceTimeout) {
			return errors.Wrapf(core.ErrDeviceLost, "slot %d frame %d: %v", s.Index, s.frame, err)
		}
		return errors.Wrapf(err, "slot %d frame %d", s.Index, s.frame)
	}
	s.state = SlotComplete
	return nil
}
