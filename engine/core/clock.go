package core

import "time"

// Clock measures the time since its last Start. A stopped clock keeps its
// last elapsed value.
type Clock struct {
	start   time.Time
	elapsed time.Duration
	now     func() time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Update refreshes the elapsed time. Has no effect on stopped clocks.
func (c *Clock) Update() {
	if !c.start.IsZero() {
		c.elapsed = c.now().Sub(c.start)
	}
}

// Start resets the elapsed time.
func (c *Clock) Start() {
	c.start = c.now()
	c.elapsed = 0
}

func (c *Clock) Stop() {
	c.start = time.Time{}
}

func (c *Clock) Running() bool {
	return !c.start.IsZero()
}

func (c *Clock) Elapsed() time.Duration {
	return c.elapsed
}
