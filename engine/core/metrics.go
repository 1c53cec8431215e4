package core

import "time"

const FrameAverageCount = 30

// FrameMetrics keeps a rolling frame time average and the number of frames
// completed during the last full second.
type FrameMetrics struct {
	samples [FrameAverageCount]time.Duration
	next    int
	filled  bool

	frames      int
	accumulated time.Duration
	fps         float64
	total       uint64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{}
}

// Update records the duration of one frame.
func (m *FrameMetrics) Update(frameTime time.Duration) {
	m.samples[m.next] = frameTime
	m.next = (m.next + 1) % FrameAverageCount
	if m.next == 0 {
		m.filled = true
	}

	m.frames++
	m.total++
	m.accumulated += frameTime
	if m.accumulated >= time.Second {
		m.fps = float64(m.frames)
		m.accumulated -= time.Second
		m.frames = 0
	}
}

func (m *FrameMetrics) FPS() float64 {
	return m.fps
}

// FrameTime returns the average of the recorded samples.
func (m *FrameMetrics) FrameTime() time.Duration {
	n := m.next
	if m.filled {
		n = FrameAverageCount
	}
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range m.samples[:n] {
		sum += s
	}
	return sum / time.Duration(n)
}

func (m *FrameMetrics) Frames() uint64 {
	return m.total
}
