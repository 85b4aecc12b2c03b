package common

import (
	"testing"
	"time"
)

func TestRateLimiterTracksHeaderWeight(t *testing.T) {
	rl := NewRateLimiter(1200, time.Minute)

	rl.UpdateFromHeader("100")
	used, limit, pct := rl.GetUsage()
	if used != 100 || limit != 1200 {
		t.Errorf("usage = %d/%d, want 100/1200", used, limit)
	}
	if pct < 8 || pct > 9 {
		t.Errorf("percentage = %v, want about 8.3", pct)
	}
	if rl.ShouldDelay() {
		t.Error("delay signalled at 100/1200")
	}

	rl.UpdateFromHeader("1100")
	if !rl.ShouldDelay() {
		t.Error("no delay signalled at 1100/1200")
	}

	// Garbage and empty headers leave the tracker untouched.
	rl.UpdateFromHeader("")
	rl.UpdateFromHeader("nope")
	if used, _, _ := rl.GetUsage(); used != 1100 {
		t.Errorf("usage after bad headers = %d, want 1100", used)
	}
}

func TestRateLimiterResetsAfterWindow(t *testing.T) {
	rl := NewRateLimiter(1200, 10*time.Millisecond)
	rl.UpdateFromHeader("1150")
	if !rl.ShouldDelay() {
		t.Fatal("no delay signalled at 1150/1200")
	}

	time.Sleep(20 * time.Millisecond)
	if used, _, _ := rl.GetUsage(); used != 0 {
		t.Errorf("usage after window = %d, want 0", used)
	}
	if rl.ShouldDelay() {
		t.Error("delay signalled after the window reset")
	}
}
