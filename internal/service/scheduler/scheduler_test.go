package scheduler_test

import (
	"testing"
	"time"

	"crash-service/internal/service/scheduler"
)

func TestMultiplierStartsAtOne(t *testing.T) {
	if m := scheduler.Multiplier(0, 0.06); m != 100 {
		t.Fatalf("expected 1.00x at takeoff, got %d", m)
	}
	if m := scheduler.Multiplier(-time.Second, 0.06); m != 100 {
		t.Fatalf("expected clamp for negative elapsed, got %d", m)
	}
}

func TestMultiplierGrowth(t *testing.T) {
	rate := 0.06
	prev := int64(0)
	for _, elapsed := range []time.Duration{
		0, time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second, time.Minute,
	} {
		m := scheduler.Multiplier(elapsed, rate)
		if m < prev {
			t.Fatalf("multiplier decreased at %v: %d < %d", elapsed, m, prev)
		}
		prev = m
	}

	// e^(0.06*10) ~= 1.8221, floored to hundredths.
	if m := scheduler.Multiplier(10*time.Second, rate); m != 182 {
		t.Fatalf("expected 182 at 10s, got %d", m)
	}
}

func TestMultiplierRateScales(t *testing.T) {
	slow := scheduler.Multiplier(20*time.Second, 0.03)
	fast := scheduler.Multiplier(20*time.Second, 0.09)
	if fast <= slow {
		t.Fatalf("expected faster growth at higher rate: %d <= %d", fast, slow)
	}
}
