// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

// Package pace converts a target daily visit count into a launch cadence.
// A token bucket smooths the rate; an optional rolling 24-hour cap pauses
// launches once the window fills and resumes when it slides forward.
package pace

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/visitforge/internal/logging"
)

// window is the rolling-cap span.
const window = 24 * time.Hour

// capLogInterval floors the cadence of remaining-wait logs while paused.
const capLogInterval = time.Minute

// Clock abstracts wall time so the rolling window is testable without real
// 24-hour waits. Sleep must honor ctx cancellation.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config holds the pacing inputs.
type Config struct {
	// TargetVisitsPerDay sets the token-bucket rate r = target/86400.
	TargetVisitsPerDay int

	// MaxTotalVisits caps launches per rolling window when Rolling is true.
	// Zero disables the cap.
	MaxTotalVisits int

	// Rolling enables the 24h window semantics for MaxTotalVisits.
	Rolling bool
}

// Controller hands out launch tokens. Safe for concurrent Acquire calls.
type Controller struct {
	limiter *rate.Limiter
	capN    int
	rolling bool
	clock   Clock

	mu          sync.Mutex
	windowStart time.Time
	inWindow    int

	launched atomic.Int64
	paused   atomic.Bool
}

// New builds a Controller. A nil clock uses wall time.
func New(cfg Config, clock Clock) *Controller {
	if clock == nil {
		clock = realClock{}
	}
	r := rate.Limit(float64(cfg.TargetVisitsPerDay) / 86400.0)
	burst := int(math.Ceil(float64(r)))
	if burst < 1 {
		burst = 1
	}
	return &Controller{
		limiter: rate.NewLimiter(r, burst),
		capN:    cfg.MaxTotalVisits,
		rolling: cfg.Rolling,
		clock:   clock,
	}
}

// Acquire blocks until one visit may launch: first past the rolling cap,
// then for a bucket token. The window slot is reserved only after the token
// is granted; if the window filled while this caller sat in the limiter
// queue, it loops back and waits for the window to slide. Returns the
// context's error on cancellation.
func (c *Controller) Acquire(ctx context.Context) error {
	for {
		if err := c.waitCap(ctx); err != nil {
			return err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		if c.tryReserve() {
			c.launched.Add(1)
			return nil
		}
	}
}

// tryReserve claims one rolling-window slot, sliding the window first when
// it has expired. False means the window filled while the caller waited for
// a bucket token.
func (c *Controller) tryReserve() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.rolling || c.capN <= 0 {
		return true
	}

	now := c.clock.Now()
	if !c.windowStart.IsZero() && now.Sub(c.windowStart) >= window {
		c.windowStart = time.Time{}
		c.inWindow = 0
	}
	if c.inWindow >= c.capN {
		return false
	}
	if c.inWindow == 0 {
		c.windowStart = now
	}
	c.inWindow++
	return true
}

// waitCap blocks while the rolling window is full. The pause is announced
// once with a structured event; remaining wait is logged at most once per
// minute until the window slides.
func (c *Controller) waitCap(ctx context.Context) error {
	pauseLogged := false
	for {
		c.mu.Lock()
		if !c.rolling || c.capN <= 0 {
			c.mu.Unlock()
			return nil
		}

		now := c.clock.Now()
		if !c.windowStart.IsZero() && now.Sub(c.windowStart) >= window {
			c.windowStart = time.Time{}
			c.inWindow = 0
		}
		if c.inWindow < c.capN {
			c.mu.Unlock()
			if pauseLogged {
				c.paused.Store(false)
				logging.Info().
					Str("event", "pace_resumed").
					Msg("rolling 24h window slid forward; launches resumed")
			}
			return nil
		}

		resumeAt := c.windowStart.Add(window)
		remaining := resumeAt.Sub(now)
		c.mu.Unlock()

		if !pauseLogged {
			pauseLogged = true
			c.paused.Store(true)
			logging.Warn().
				Str("event", "pace_paused").
				Int("cap", c.capN).
				Time("resume_at", resumeAt).
				Dur("remaining", remaining).
				Msg("rolling 24h visit cap reached; pausing launches")
		} else {
			logging.Info().
				Str("event", "pace_waiting").
				Dur("remaining", remaining).
				Msg("waiting for rolling window to slide")
		}

		wait := remaining
		if wait > capLogInterval {
			wait = capLogInterval
		}
		if wait <= 0 {
			wait = time.Millisecond
		}
		if err := c.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Launched returns the lifetime launch count.
func (c *Controller) Launched() int64 { return c.launched.Load() }

// Paused reports whether launches are currently suspended by the cap.
func (c *Controller) Paused() bool { return c.paused.Load() }

// Stats is a point-in-time snapshot for the status endpoint and the
// periodic status line.
type Stats struct {
	Launched    int64     `json:"launched"`
	InWindow    int       `json:"in_window"`
	WindowStart time.Time `json:"window_start,omitempty"`
	Paused      bool      `json:"paused"`

	// ResumeAt is set while the rolling window is full: the instant it
	// slides and launches resume.
	ResumeAt time.Time `json:"resume_at,omitempty"`

	// TokenFill is the current token-bucket level.
	TokenFill float64 `json:"token_fill"`
}

// Snapshot returns current pacing counters.
func (c *Controller) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Launched:    c.launched.Load(),
		InWindow:    c.inWindow,
		WindowStart: c.windowStart,
		Paused:      c.paused.Load(),
		TokenFill:   c.limiter.Tokens(),
	}
	if c.rolling && c.capN > 0 && c.inWindow >= c.capN && !c.windowStart.IsZero() {
		s.ResumeAt = c.windowStart.Add(window)
	}
	return s
}
