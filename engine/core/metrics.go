package core

import (
	"time"

	"github.com/spaghettifunk/vkguide/engine/containers"
)

const AVG_COUNT int = 30

// Metrics keeps a rolling frame time average and a frames-per-second counter.
type Metrics struct {
	samples     *containers.RingQueue[time.Duration]
	average     time.Duration
	frames      int
	accumulated time.Duration
	fps         float64
}

func NewMetrics() *Metrics {
	return &Metrics{
		samples: containers.NewRingQueue[time.Duration](AVG_COUNT),
	}
}

func (m *Metrics) Update(frameTime time.Duration) {
	if m.samples.IsFull() {
		_, _ = m.samples.Dequeue()
	}
	_ = m.samples.Enqueue(frameTime)

	var total time.Duration
	m.samples.Each(func(d time.Duration) { total += d })
	m.average = total / time.Duration(m.samples.Len())

	// Calculate frames per second.
	m.accumulated += frameTime
	m.frames++
	if m.accumulated >= time.Second {
		m.fps = float64(m.frames) / m.accumulated.Seconds()
		m.accumulated = 0
		m.frames = 0
	}
}

func (m *Metrics) FPS() float64 {
	return m.fps
}

func (m *Metrics) FrameTime() time.Duration {
	return m.average
}

func (m *Metrics) Frame() (float64, time.Duration) {
	return m.fps, m.average
}
