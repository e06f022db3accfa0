package core

import "time"

// Clock measures wall time spans such as one GPU sort or one CPU
// reference sort.
type Clock struct {
	startTime time.Time
	elapsed   time.Duration
	running   bool
}

func NewClock() *Clock {
	return &Clock{}
}

// Updates the provided clock. Should be called just before checking elapsed time.
// Has no effect on non-started clocks.
func (c *Clock) Update() {
	if c.running {
		c.elapsed = time.Since(c.startTime)
	}
}

// Starts the provided clock. Resets elapsed time.
func (c *Clock) Start() {
	c.startTime = time.Now()
	c.elapsed = 0
	c.running = true
}

// Stops the provided clock. Does not reset elapsed time.
func (c *Clock) Stop() {
	c.Update()
	c.running = false
}

func (c *Clock) Elapsed() time.Duration {
	return c.elapsed
}

// ElapsedMS is the elapsed time in fractional milliseconds.
func (c *Clock) ElapsedMS() float64 {
	return float64(c.elapsed) / float64(time.Millisecond)
}
