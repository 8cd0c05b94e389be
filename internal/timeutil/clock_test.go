package timeutil

import (
	"context"
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	d := clock.Since(past)

	if d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_Until(t *testing.T) {
	clock := RealClock{}
	future := time.Now().Add(time.Hour)
	d := clock.Until(future)

	if d < 59*time.Minute {
		t.Errorf("Until() returned %v, expected >= 59m", d)
	}
}

func TestRealClock_After(t *testing.T) {
	clock := RealClock{}
	select {
	case <-clock.After(10 * time.Millisecond):
	case <-time.After(time.Second):
		t.Error("After did not fire")
	}
}

func TestMockClock_Now(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	if !clock.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", clock.Now(), start)
	}
}

func TestMockClock_SetAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Advance(5 * time.Second)
	if got := clock.Since(start); got != 5*time.Second {
		t.Errorf("Since() = %v, want 5s", got)
	}

	later := start.Add(time.Hour)
	clock.Set(later)
	if got := clock.Until(later.Add(time.Minute)); got != time.Minute {
		t.Errorf("Until() = %v, want 1m", got)
	}
}

func TestMockClock_After(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	got := <-clock.After(250 * time.Millisecond)
	if want := start.Add(250 * time.Millisecond); !got.Equal(want) {
		t.Errorf("After delivered %v, want %v", got, want)
	}
	if !clock.Now().Equal(start.Add(250 * time.Millisecond)) {
		t.Errorf("After should advance the clock, now %v", clock.Now())
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 250*time.Millisecond {
		t.Errorf("Sleeps() = %v, want [250ms]", sleeps)
	}
}

func TestPacer_FixedCadence(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	pacer := NewPacer(clock, 100*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := pacer.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		// Simulated work.
		clock.Advance(30 * time.Millisecond)
	}

	sleeps := clock.Sleeps()
	if len(sleeps) != 4 {
		t.Fatalf("expected 4 waits after the first tick, got %v", sleeps)
	}
	for _, d := range sleeps {
		if d != 70*time.Millisecond {
			t.Errorf("wait = %v, want 70ms", d)
		}
	}
}

func TestPacer_NoCatchUpBurst(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	pacer := NewPacer(clock, 100*time.Millisecond)
	ctx := context.Background()

	_ = pacer.Wait(ctx)
	clock.Advance(time.Second) // fell far behind
	_ = pacer.Wait(ctx)
	_ = pacer.Wait(ctx)

	sleeps := clock.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 100*time.Millisecond {
		t.Errorf("Sleeps() = %v, want [100ms]", sleeps)
	}
}

func TestPacer_ZeroIntervalAndCancel(t *testing.T) {
	clock := NewMockClock(time.Now())
	pacer := NewPacer(clock, 0)
	if err := pacer.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	if len(clock.Sleeps()) != 0 {
		t.Error("zero interval must not wait")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewPacer(clock, time.Second).Wait(ctx); err != context.Canceled {
		t.Errorf("Wait() on cancelled context = %v, want context.Canceled", err)
	}
}
