package core

import (
	"testing"
	"time"
)

func TestFrameMetricsAverage(t *testing.T) {
	m := NewFrameMetrics()
	if got := m.FrameTime(); got != 0 {
		t.Fatalf("empty average = %s, want 0", got)
	}
	m.Update(10 * time.Millisecond)
	m.Update(20 * time.Millisecond)
	if got := m.FrameTime(); got != 15*time.Millisecond {
		t.Fatalf("average = %s, want 15ms", got)
	}

	// once the window is full only the newest samples count
	for i := 0; i < FrameAverageCount; i++ {
		m.Update(4 * time.Millisecond)
	}
	if got := m.FrameTime(); got != 4*time.Millisecond {
		t.Fatalf("average = %s, want 4ms", got)
	}
	if got := m.Frames(); got != FrameAverageCount+2 {
		t.Fatalf("frames = %d, want %d", got, FrameAverageCount+2)
	}
}

func TestFrameMetricsFPS(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < 59; i++ {
		m.Update(16 * time.Millisecond)
	}
	if m.FPS() != 0 {
		t.Fatalf("fps before a full second = %f, want 0", m.FPS())
	}
	// 63 * 16ms crosses one second
	for i := 0; i < 4; i++ {
		m.Update(16 * time.Millisecond)
	}
	if m.FPS() != 63 {
		t.Fatalf("fps = %f, want 63", m.FPS())
	}
}

func TestClock(t *testing.T) {
	now := time.Unix(100, 0)
	c := &Clock{now: func() time.Time { return now }}

	c.Update()
	if c.Elapsed() != 0 || c.Running() {
		t.Fatalf("unstarted clock: elapsed %s running %v", c.Elapsed(), c.Running())
	}

	c.Start()
	now = now.Add(250 * time.Millisecond)
	c.Update()
	if c.Elapsed() != 250*time.Millisecond {
		t.Fatalf("elapsed = %s, want 250ms", c.Elapsed())
	}

	c.Stop()
	now = now.Add(time.Second)
	c.Update()
	if c.Elapsed() != 250*time.Millisecond {
		t.Fatalf("stopped clock moved to %s", c.Elapsed())
	}
}
