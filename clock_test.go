package meen

import (
	"testing"
	"time"
)

func TestCpuClock_PacingDisabledNeverSleeps(t *testing.T) {
	c := NewCpuClock(-1, 60)
	slept := false
	c.sleeper = func(d time.Duration) { slept = true }
	c.Reset()
	c.Sample(1_000_000)
	if slept {
		t.Fatal("expected no sleep when pacing is disabled")
	}
}

func TestCpuClock_HzReflectsConfiguration(t *testing.T) {
	c := NewCpuClock(500, 60) // 2 MHz
	if got := c.Hz(); got < 1_999_999 || got > 2_000_001 {
		t.Fatalf("Hz() = %v, want ~2000000", got)
	}
	disabled := NewCpuClock(0, 60)
	if got := disabled.Hz(); got != 0 {
		t.Fatalf("Hz() with disabled pacing = %v, want 0", got)
	}
}

func TestCpuClock_SamplesAtConfiguredGranularity(t *testing.T) {
	c := NewCpuClock(500, 60) // 2MHz clock, 60Hz sampling -> ~33333 ticks/sample
	sleeps := 0
	c.sleeper = func(d time.Duration) { sleeps++ }
	c.Reset()
	for i := uint64(1); i <= 10; i++ {
		c.Sample(i)
	}
	if sleeps != 0 {
		t.Fatalf("expected no sleeps before a full sample period elapses, got %d", sleeps)
	}
}
