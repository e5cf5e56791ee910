package core

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClasses(t *testing.T) {
	outOfDate := errors.Wrap(ErrSwapchainOutOfDate, "present")
	assert.True(t, IsRecoverable(outOfDate))
	assert.False(t, IsFatal(outOfDate))

	lost := errors.Wrapf(ErrDeviceLost, "slot %d", 1)
	assert.False(t, IsRecoverable(lost))
	assert.True(t, IsFatal(lost))

	assert.False(t, IsFatal(errors.Wrap(ErrNotFound, "material")))
	assert.False(t, IsFatal(nil))
}

func TestClock(t *testing.T) {
	now := time.Unix(100, 0)
	c := &Clock{now: func() time.Time { return now }}

	c.Update()
	assert.Zero(t, c.Elapsed(), "a stopped clock does not advance")

	c.Start()
	now = now.Add(250 * time.Millisecond)
	c.Update()
	assert.Equal(t, 250*time.Millisecond, c.Elapsed())

	c.Stop()
	now = now.Add(time.Second)
	c.Update()
	assert.Equal(t, 250*time.Millisecond, c.Elapsed())
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < AVG_COUNT+10; i++ {
		m.Update(10 * time.Millisecond)
	}
	assert.Equal(t, 10*time.Millisecond, m.FrameTime())

	m = NewMetrics()
	for i := 0; i < 100; i++ {
		m.Update(10 * time.Millisecond)
	}
	assert.InDelta(t, 100.0, m.FPS(), 0.001)
}

func TestEventSystem(t *testing.T) {
	es := NewEventSystem()
	listener := &struct{ name string }{"engine"}

	var got []EventContext
	require.True(t, es.Register(EVENT_CODE_RESIZED, listener, func(sender interface{}, ctx EventContext) bool {
		got = append(got, ctx)
		return true
	}))
	assert.False(t, es.Register(EVENT_CODE_RESIZED, listener, func(interface{}, EventContext) bool { return false }))

	handled := es.Fire(nil, EventContext{Code: EVENT_CODE_RESIZED, Width: 800, Height: 600})
	assert.True(t, handled)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(800), got[0].Width)

	assert.False(t, es.Fire(nil, EventContext{Code: EVENT_CODE_APPLICATION_QUIT}))

	assert.True(t, es.Unregister(EVENT_CODE_RESIZED, listener))
	assert.False(t, es.Fire(nil, EventContext{Code: EVENT_CODE_RESIZED}))
}

func TestLogLevel(t *testing.T) {
	var buf bytes.Buffer
	SetLogOutput(&buf)
	require.NoError(t, SetLogLevel(WarnLevel))
	t.Cleanup(func() {
		_ = SetLogLevel(DebugLevel)
		SetLogOutput(os.Stderr)
	})

	LogInfo("hidden %d", 1)
	assert.Empty(t, buf.String())
	LogWarn("visible %d", 2)
	assert.Contains(t, buf.String(), "visible 2")

	assert.Error(t, SetLogLevel("loud"))
}
