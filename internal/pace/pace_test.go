// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

package pace

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/visitforge/internal/logging"
)

// fakeClock advances only when Sleep is called, so the 24h window slides
// without real waiting.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// highRate keeps the token bucket from ever blocking in cap tests.
const highRate = 86400 * 1000

func TestAcquireWithoutCap(t *testing.T) {
	c := New(Config{TargetVisitsPerDay: highRate}, newFakeClock())

	for i := 0; i < 10; i++ {
		if err := c.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
	if got := c.Launched(); got != 10 {
		t.Errorf("Launched() = %d, want 10", got)
	}
}

func TestRollingCapPausesAndResumes(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{TargetVisitsPerDay: highRate, MaxTotalVisits: 3, Rolling: true}, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := c.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
	if s := c.Snapshot(); s.InWindow != 3 {
		t.Fatalf("InWindow = %d, want 3", s.InWindow)
	}

	// The 4th acquire must wait out the window. The fake clock advances one
	// capped sleep at a time, so this returns once simulated time passes 24h.
	if err := c.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after window: %v", err)
	}

	s := c.Snapshot()
	if s.InWindow != 1 {
		t.Errorf("InWindow after slide = %d, want 1 (counter reset plus new launch)", s.InWindow)
	}
	if s.Launched != 4 {
		t.Errorf("Launched = %d, want 4", s.Launched)
	}
	if elapsed := clock.Now().Sub(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)); elapsed < 24*time.Hour {
		t.Errorf("window slid after only %v", elapsed)
	}
}

func TestConcurrentAcquiresNeverOvershootWindow(t *testing.T) {
	prev := logging.Logger()
	logging.SetLogger(logging.NewTestLogger(io.Discard))
	defer logging.SetLogger(prev)

	clock := newFakeClock()
	c := New(Config{TargetVisitsPerDay: highRate, MaxTotalVisits: 2, Rolling: true}, clock)
	start := clock.Now()

	// All workers hit the controller at once; the window slot must be
	// reserved after the bucket token, not before, or a burst of waiters
	// blows past the cap together.
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := c.Launched(); got != n {
		t.Fatalf("Launched() = %d, want %d", got, n)
	}
	// 20 grants at 2 per window need at least 10 distinct windows, i.e. at
	// least 9 full window slides of simulated time.
	if elapsed := clock.Now().Sub(start); elapsed < 9*24*time.Hour {
		t.Errorf("%d launches granted after only %v of window time; a window overshot the cap", n, elapsed)
	}
	if s := c.Snapshot(); s.InWindow > 2 {
		t.Errorf("InWindow = %d, above the cap of 2", s.InWindow)
	}
}

func TestSnapshotReportsResumeEtaAndBucketFill(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{TargetVisitsPerDay: highRate, MaxTotalVisits: 2, Rolling: true}, clock)

	for i := 0; i < 2; i++ {
		if err := c.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	s := c.Snapshot()
	if s.ResumeAt.IsZero() {
		t.Fatal("ResumeAt unset while the window is full")
	}
	if want := s.WindowStart.Add(24 * time.Hour); !s.ResumeAt.Equal(want) {
		t.Errorf("ResumeAt = %v, want %v", s.ResumeAt, want)
	}
	if s.TokenFill <= 0 {
		t.Errorf("TokenFill = %v, want a positive bucket level", s.TokenFill)
	}
}

func TestRollingCapRespectsCancellation(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{TargetVisitsPerDay: highRate, MaxTotalVisits: 1, Rolling: true}, clock)

	if err := c.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire with canceled ctx = %v, want context.Canceled", err)
	}
}

func TestNonRollingCapIgnoredHere(t *testing.T) {
	// Lifetime semantics live in the engine; the controller must not block.
	c := New(Config{TargetVisitsPerDay: highRate, MaxTotalVisits: 1, Rolling: false}, newFakeClock())

	for i := 0; i < 5; i++ {
		if err := c.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
}

func TestBucketRateMatchesTarget(t *testing.T) {
	// 86400 visits/day is exactly 1 token/s with burst 1.
	c := New(Config{TargetVisitsPerDay: 86400}, nil)

	if r := float64(c.limiter.Limit()); r < 0.99 || r > 1.01 {
		t.Errorf("limiter rate = %v, want 1/s", r)
	}
	if b := c.limiter.Burst(); b != 1 {
		t.Errorf("burst = %d, want 1", b)
	}

	// Fractional rates round the burst up to 1.
	slow := New(Config{TargetVisitsPerDay: 1000}, nil)
	if b := slow.limiter.Burst(); b != 1 {
		t.Errorf("burst for fractional rate = %d, want 1", b)
	}
}
