package backoff_test

import (
	"testing"
	"time"

	"github.com/coodoo-workhorse/workhorse-sub001/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.Constant(4 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 4*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 4*time.Second)
		}
	}
}

func TestLinear(t *testing.T) {
	l := backoff.Linear(time.Second, 5*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{5, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := l.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential(t *testing.T) {
	e := backoff.Exponential(time.Second, 10*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{200, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.ExponentialWithJitter(time.Second, 10*time.Second)

	seen := make(map[time.Duration]bool)
	for attempt := 1; attempt <= 5; attempt++ {
		for range 100 {
			got := e.Delay(attempt)
			if got < 0 || got > 10*time.Second {
				t.Fatalf("Delay(%d) = %v, out of [0, 10s]", attempt, got)
			}
			seen[got] = true
		}
	}
	if len(seen) < 2 {
		t.Errorf("expected variance in jitter, got %d distinct values", len(seen))
	}
}

func TestPlannedFor(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	got := backoff.PlannedFor(backoff.Constant(4*time.Second), 1, now)
	if got == nil || !got.Equal(now.Add(4*time.Second)) {
		t.Fatalf("PlannedFor = %v, want %v", got, now.Add(4*time.Second))
	}
	if backoff.PlannedFor(backoff.Constant(0), 1, now) != nil {
		t.Fatal("zero delay must plan for immediately (nil)")
	}
}
