package meen

import "time"

// CpuClock paces instruction execution against wall-clock time so that a
// Machine runs its guest program at the speed its ROM expects, rather than
// as fast as the host CPU can interpret it. It generalizes the teacher's
// per-region frame timer (emu/region.go's RegionTiming, consumed by
// ui/gameplay.go's emulationLoop as frameTime := time.Second/FPS) from a
// fixed NTSC/PAL frame rate to an arbitrary CPU clock frequency.
type CpuClock struct {
	// nsPerTick is how much wall-clock time one T-state is worth at the
	// configured clockResolution (nanoseconds per T-state). A non-positive value disables
	// pacing entirely: Sample never sleeps.
	nsPerTick float64

	// samplePeriod is how many ticks accumulate between pacing checks,
	// derived from clockResolution and the configured sampling frequency.
	samplePeriod uint64

	start        time.Time
	tickAtLast   uint64
	sleeper      func(time.Duration)
}

// NewCpuClock builds a clock targeting nsPerTick nanoseconds of wall-clock
// time per T-state, checking its pacing every 1/sampleHz seconds of
// simulated time. A non-positive nsPerTick disables pacing (the Machine
// then runs unthrottled, useful for test harnesses driving the CPU
// directly against a known tick budget).
func NewCpuClock(nsPerTick float64, sampleHz float64) *CpuClock {
	c := &CpuClock{sleeper: time.Sleep}
	if nsPerTick <= 0 || sampleHz <= 0 {
		c.nsPerTick = 0
		return c
	}
	c.nsPerTick = nsPerTick
	clockHz := 1e9 / nsPerTick
	ticksPerSample := clockHz / sampleHz
	if ticksPerSample < 1 {
		ticksPerSample = 1
	}
	c.samplePeriod = uint64(ticksPerSample)
	return c
}

// Hz reports the clock's configured T-state frequency, or 0 if pacing is
// disabled. The Machine uses this to size isrFreq granularity.
func (c *CpuClock) Hz() float64 {
	if c.nsPerTick <= 0 {
		return 0
	}
	return 1e9 / c.nsPerTick
}

// Reset establishes the clock's wall-clock origin. Call it immediately
// before the first Step of a run.
func (c *CpuClock) Reset() {
	c.start = time.Now()
	c.tickAtLast = 0
}

// Sample is called by the Machine's main loop after every Step. It sleeps
// just long enough to keep elapsed wall-clock time in step with the target
// nsPerTick rate, sampled every samplePeriod ticks rather than every tick
// (sleeping on every single T-state would be dominated by scheduler
// overhead). It is a no-op when pacing is disabled or ticks has not
// advanced a full sample period since the last check.
func (c *CpuClock) Sample(ticks uint64) {
	if c.nsPerTick <= 0 {
		return
	}
	if ticks-c.tickAtLast < c.samplePeriod {
		return
	}
	c.tickAtLast = ticks
	target := time.Duration(float64(ticks) * c.nsPerTick)
	elapsed := time.Since(c.start)
	if d := target - elapsed; d > 0 {
		c.sleeper(d)
	}
}

// Elapsed returns wall-clock nanoseconds since Reset.
func (c *CpuClock) Elapsed() int64 {
	return int64(time.Since(c.start))
}
