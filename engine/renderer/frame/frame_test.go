package frame

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu"
	"github.com/spaghettifunk/vkguide/engine/renderer/gpu/gputest"
)

func indexOf(events []string, event string) int {
	for i, e := range events {
		if e == event {
			return i
		}
	}
	return -1
}

func lastIndexOf(events []string, prefix string) int {
	for i := len(events) - 1; i >= 0; i-- {
		if len(events[i]) >= len(prefix) && events[i][:len(prefix)] == prefix {
			return i
		}
	}
	return -1
}

func fenceLabel(s *Slot) string {
	return s.Fence.(*gputest.Fence).Label
}

func newRing(t *testing.T, dev *gputest.Device, deletion *DeletionQueue) *Ring {
	t.Helper()
	ring, err := NewRing(dev, deletion, RingConfig{Overlap: 2})
	require.NoError(t, err)
	return ring
}

func submit(t *testing.T, dev *gputest.Device, slot *Slot, frame uint64) {
	t.Helper()
	require.NoError(t, slot.begin())
	require.NoError(t, slot.Commands.End())
	require.NoError(t, dev.GraphicsQueue().Submit(gpu.Submission{Commands: slot.Commands, Fence: slot.Fence}))
	slot.submitted(frame)
}

func TestDeletionQueueFlushIsLIFO(t *testing.T) {
	q := NewDeletionQueue()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		q.PushFunc(fmt.Sprintf("entry%d", i), func() { order = append(order, i) })
	}
	assert.Equal(t, 5, q.Len())
	assert.Equal(t, []string{"entry0", "entry1", "entry2", "entry3", "entry4"}, q.Pending())

	q.Flush()
	assert.Equal(t, []int{4, 3, 2, 1, 0}, order)
	assert.Zero(t, q.Len())

	q.Flush()
	assert.Len(t, order, 5, "flushing an empty queue runs nothing")
}

func TestDeletionQueueIgnoresNil(t *testing.T) {
	q := NewDeletionQueue()
	q.Push("nil", nil)
	q.PushFunc("nil-func", nil)
	assert.Zero(t, q.Len())
}

func TestDeletionQueueReusableAfterFlush(t *testing.T) {
	q := NewDeletionQueue()
	var ran []string
	q.PushFunc("a", func() { ran = append(ran, "a") })
	q.Flush()
	q.PushFunc("b", func() { ran = append(ran, "b") })
	q.PushFunc("c", func() { ran = append(ran, "c") })
	q.Flush()
	assert.Equal(t, []string{"a", "c", "b"}, ran)
}

func TestDeletionQueueRunsEntriesPushedDuringFlush(t *testing.T) {
	q := NewDeletionQueue()
	var ran []string
	q.PushFunc("first", func() { ran = append(ran, "first") })
	q.PushFunc("owner", func() {
		ran = append(ran, "owner")
		q.PushFunc("child", func() { ran = append(ran, "child") })
	})

	q.Flush()
	assert.Equal(t, []string{"owner", "child", "first"}, ran)
	assert.Zero(t, q.Len())
	assert.Empty(t, q.Pending())
}

func TestRingWaitsForPreviousUseOfSlot(t *testing.T) {
	dev := gputest.NewDevice()
	deletion := NewDeletionQueue()
	ring := newRing(t, dev, deletion)
	require.Equal(t, 2, ring.Len())

	submittedAt := map[uint64]int{}
	for f := uint64(0); f < 4; f++ {
		before := len(dev.Events())
		slot, err := ring.Acquire(f)
		require.NoError(t, err)
		assert.Equal(t, int(f%2), slot.Index)

		events := dev.Events()
		fence := fenceLabel(slot)
		wait := indexOf(events[before:], "wait "+fence)
		if f < 2 {
			assert.Equal(t, -1, wait, "first use of slot %d must not block", slot.Index)
		} else {
			require.NotEqual(t, -1, wait, "frame %d did not wait on %s", f, fence)
			assert.Greater(t, before+wait, submittedAt[f-2])
			assert.Less(t, wait, indexOf(events[before:], "reset "+fence), "fence reset before its wait")
		}
		assert.False(t, slot.Fence.Signaled())
		assert.Equal(t, SlotIdle, slot.State())

		submit(t, dev, slot, f)
		submittedAt[f] = len(dev.Events()) - 1
		assert.Equal(t, f, slot.Frame())
	}
	assert.Equal(t, 2, dev.Pending())
}

func TestRingFlushesSlotDeletionsAfterWait(t *testing.T) {
	dev := gputest.NewDevice()
	ring := newRing(t, dev, NewDeletionQueue())

	slot, err := ring.Acquire(0)
	require.NoError(t, err)
	released := false
	slot.Deletions.PushFunc("transient", func() { released = true })
	submit(t, dev, slot, 0)

	_, err = ring.Acquire(1)
	require.NoError(t, err)
	assert.False(t, released, "another slot's acquire must not release slot 0 resources")

	_, err = ring.Acquire(2)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestRingFenceTimeoutIsDeviceLost(t *testing.T) {
	dev := gputest.NewDevice()
	ring := newRing(t, dev, NewDeletionQueue())

	slot, err := ring.Acquire(0)
	require.NoError(t, err)
	submit(t, dev, slot, 0)

	dev.Hang = true
	_, err = ring.Acquire(2)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	assert.True(t, core.IsFatal(err))
}

func TestRingSlotInit(t *testing.T) {
	dev := gputest.NewDevice()
	deletion := NewDeletionQueue()
	ring, err := NewRing(dev, deletion, RingConfig{
		Overlap: 3,
		SlotInit: func(slot *Slot) error {
			buf, err := dev.CreateBuffer(64, gpu.BufferUsageUniform, gpu.MemoryCPUToGPU)
			if err != nil {
				return err
			}
			slot.CameraBuffer = buf
			deletion.Push(fmt.Sprintf("slot%d.camera", slot.Index), buf)
			return nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, 3, ring.Len())
	for i := 0; i < ring.Len(); i++ {
		assert.NotNil(t, ring.Slot(i).CameraBuffer)
		assert.True(t, ring.Slot(i).Fence.Signaled(), "slot fences start signaled")
	}
	assert.Contains(t, deletion.Pending(), "slot2.camera")
}

func TestImmediateSubmit(t *testing.T) {
	dev := gputest.NewDevice()
	deletion := NewDeletionQueue()
	im, err := NewImmediate(dev, deletion, 0)
	require.NoError(t, err)
	fence := im.fence.(*gputest.Fence)

	for i := 0; i < 2; i++ {
		recorded := false
		err := im.Submit(func(cmd gpu.Recorder) error {
			recorded = true
			cmd.Draw(3, 1, 0, 0)
			return nil
		})
		require.NoError(t, err)
		assert.True(t, recorded)

		events := dev.Events()
		waited := lastIndexOf(events, "wait "+fence.Label)
		require.NotEqual(t, -1, waited)
		assert.Greater(t, waited, lastIndexOf(events, "submit"))
		assert.Greater(t, lastIndexOf(events, "reset "+fence.Label), waited)
		assert.False(t, fence.Signaled(), "fence must be left reset")
		assert.Zero(t, dev.Pending())
	}
	assert.Equal(t, 2, fence.Waits)
	assert.Equal(t, 2, fence.Resets)
	assert.Len(t, dev.Queue().Submissions, 2)
}

func TestImmediateRecordFailureSubmitsNothing(t *testing.T) {
	dev := gputest.NewDevice()
	im, err := NewImmediate(dev, NewDeletionQueue(), 0)
	require.NoError(t, err)

	err = im.Submit(func(cmd gpu.Recorder) error { return fmt.Errorf("boom") })
	require.Error(t, err)
	assert.Empty(t, dev.Queue().Submissions)

	require.NoError(t, im.Submit(func(cmd gpu.Recorder) error { return nil }))
}

func TestImmediateHangIsDeviceLost(t *testing.T) {
	dev := gputest.NewDevice()
	im, err := NewImmediate(dev, NewDeletionQueue(), 0)
	require.NoError(t, err)
	dev.Hang = true
	err = im.Submit(func(cmd gpu.Recorder) error { return nil })
	assert.ErrorIs(t, err, core.ErrDeviceLost)
}

func TestLoopFiveFrames(t *testing.T) {
	dev := gputest.NewDevice()
	deletion := NewDeletionQueue()
	loop := NewLoop(dev, newRing(t, dev, deletion), LoopConfig{})
	assert.Equal(t, -1, loop.LastSlot())

	var slots []int
	var images []uint32
	for i := 0; i < 5; i++ {
		err := loop.RunFrame(func(cmd gpu.Recorder, slot *Slot, imageIndex uint32) error {
			slots = append(slots, slot.Index)
			images = append(images, imageIndex)
			assert.Equal(t, SlotRecording, slot.State())
			cmd.BeginRenderPass(imageIndex, gpu.ClearValue{})
			cmd.EndRenderPass()
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(5), loop.FrameNumber())
	assert.Equal(t, []int{0, 1, 0, 1, 0}, slots)
	assert.Equal(t, 0, loop.LastSlot())
	assert.Equal(t, images, dev.FakeSwapchain().Presented)

	for _, s := range dev.Queue().Submissions {
		assert.NotNil(t, s.Wait)
		assert.NotNil(t, s.Signal)
		assert.Equal(t, gpu.PipelineStageColorAttachmentOutput, s.WaitStage)
	}
}

func TestLoopOutOfDateAcquireDoesNotDeadlock(t *testing.T) {
	dev := gputest.NewDevice()
	loop := NewLoop(dev, newRing(t, dev, NewDeletionQueue()), LoopConfig{})
	noop := func(gpu.Recorder, *Slot, uint32) error { return nil }

	dev.FakeSwapchain().OutOfDateOnAcquire = 1
	err := loop.RunFrame(noop)
	require.Error(t, err)
	assert.True(t, core.IsRecoverable(err))
	assert.Zero(t, loop.FrameNumber())

	require.NoError(t, loop.RecreateSwapchain(800, 600))
	assert.Equal(t, 1, dev.FakeSwapchain().Recreated)

	require.NoError(t, loop.RunFrame(noop))
	require.NoError(t, loop.RunFrame(noop))
	require.NoError(t, loop.RunFrame(noop))
	assert.Equal(t, uint64(3), loop.FrameNumber())
}

func TestLoopOutOfDatePresentCountsFrame(t *testing.T) {
	dev := gputest.NewDevice()
	loop := NewLoop(dev, newRing(t, dev, NewDeletionQueue()), LoopConfig{})

	dev.FakeSwapchain().OutOfDateOnPresent = 1
	err := loop.RunFrame(func(gpu.Recorder, *Slot, uint32) error { return nil })
	require.Error(t, err)
	assert.True(t, core.IsRecoverable(err))
	assert.Equal(t, uint64(1), loop.FrameNumber())
	assert.Equal(t, 0, loop.LastSlot())
}

func TestLoopDrawErrorLeavesSlotReusable(t *testing.T) {
	dev := gputest.NewDevice()
	ring := newRing(t, dev, NewDeletionQueue())
	loop := NewLoop(dev, ring, LoopConfig{})

	err := loop.RunFrame(func(gpu.Recorder, *Slot, uint32) error { return fmt.Errorf("bad scene") })
	require.Error(t, err)
	assert.Equal(t, SlotIdle, ring.Slot(0).State())
	assert.Empty(t, dev.Queue().Submissions)

	require.NoError(t, loop.RunFrame(func(gpu.Recorder, *Slot, uint32) error { return nil }))
	assert.Equal(t, uint64(1), loop.FrameNumber())
}

func TestLoopSubmitFailure(t *testing.T) {
	dev := gputest.NewDevice()
	loop := NewLoop(dev, newRing(t, dev, NewDeletionQueue()), LoopConfig{})
	dev.Queue().FailSubmit = fmt.Errorf("queue gone")

	err := loop.RunFrame(func(gpu.Recorder, *Slot, uint32) error { return nil })
	assert.ErrorIs(t, err, core.ErrSubmitFailed)
	assert.Zero(t, loop.FrameNumber())
}

func TestTeardownWaitsBeforeDeletion(t *testing.T) {
	dev := gputest.NewDevice()
	deletion := NewDeletionQueue()
	ring := newRing(t, dev, deletion)
	loop := NewLoop(dev, ring, LoopConfig{})

	for i := 0; i < 3; i++ {
		require.NoError(t, loop.RunFrame(func(gpu.Recorder, *Slot, uint32) error { return nil }))
	}
	require.Equal(t, 2, dev.Pending())

	pendingAtDeletion := -1
	deletion.PushFunc("probe", func() { pendingAtDeletion = dev.Pending() })

	require.NoError(t, Teardown(ring, deletion))
	assert.Zero(t, pendingAtDeletion, "deletion ran while GPU work was in flight")
	assert.Zero(t, deletion.Len())
	assert.Zero(t, dev.DoubleDestroys)

	events := dev.Events()
	firstDestroy := -1
	for i, e := range events {
		if len(e) > 8 && e[:8] == "destroy " {
			firstDestroy = i
			break
		}
	}
	require.NotEqual(t, -1, firstDestroy)
	assert.Less(t, lastIndexOf(events, "wait fence"), firstDestroy)
	for i := 0; i < ring.Len(); i++ {
		assert.True(t, dev.IsDestroyed(fenceLabel(ring.Slot(i))))
	}
}
