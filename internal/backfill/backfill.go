// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

// Package backfill replays synthetic visits over a past date window. Time
// inside a visit is simulated, never slept, so a full day of traffic emits
// as fast as the rps throttle allows while every cdt stays inside its day.
//
// With a seed set, each day's RNG derives from HMAC-SHA256(seed, day), so
// individual days are reproducible independently of each other.
package backfill

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/visitforge/internal/dispatch"
	"github.com/tomtom215/visitforge/internal/engine"
	"github.com/tomtom215/visitforge/internal/logging"
	"github.com/tomtom215/visitforge/internal/metrics"
	"github.com/tomtom215/visitforge/internal/tracker"
)

// maxWindowDays bounds the replay window.
const maxWindowDays = 180

// ErrAborted marks a failed backfill run; the process exits with code 4.
var ErrAborted = errors.New("backfill aborted")

// Config holds the resolved backfill inputs.
type Config struct {
	// Absolute window: inclusive ISO dates in Zone. Empty selects the
	// relative mode.
	StartDate string
	EndDate   string

	// Relative window: end = today, start = today - DurationDays + 1.
	DaysBack     int
	DurationDays int

	MaxVisitsPerDay int
	MaxVisitsTotal  int // 0 disables the total budget
	RPSLimit        float64
	Seed            int64
	HourlyWeights   []float64 // empty = uniform; otherwise 24 values
	Zone            *time.Location
}

// Engine runs one backfill pass.
type Engine struct {
	cfg  Config
	deps engine.VisitDeps

	// broken reports the dispatch breaker state; an open breaker after a
	// visit aborts the run.
	broken func() bool

	// now is injected in tests to pin "today".
	now func() time.Time
}

// New builds a backfill Engine. broken may be nil when no breaker is wired.
func New(cfg Config, deps engine.VisitDeps, broken func() bool) *Engine {
	if cfg.Zone == nil {
		cfg.Zone = time.UTC
	}
	if cfg.RPSLimit > 0 {
		deps.Dispatcher = &throttledDispatcher{
			limiter: rate.NewLimiter(rate.Limit(cfg.RPSLimit), 1),
			inner:   deps.Dispatcher,
		}
	}
	return &Engine{cfg: cfg, deps: deps, broken: broken, now: time.Now}
}

// DaySummary is the per-day result record.
type DaySummary struct {
	Day       string `json:"day"`
	Planned   int    `json:"planned"`
	Emitted   int    `json:"emitted"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// Run executes the backfill. A clean budget exhaustion before the window
// ends is a normal termination; breaker trips and window violations wrap
// ErrAborted.
func (b *Engine) Run(ctx context.Context) error {
	start, end, err := b.resolveWindow()
	if err != nil {
		return err
	}

	days := int(end.Sub(start).Hours()/24) + 1
	logging.Info().
		Str("start", start.Format(time.DateOnly)).
		Str("end", end.Format(time.DateOnly)).
		Int("days", days).
		Int("max_visits_per_day", b.cfg.MaxVisitsPerDay).
		Int("max_visits_total", b.cfg.MaxVisitsTotal).
		Msg("backfill starting")

	totalEmitted := 0
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return err
		}

		planned := b.cfg.MaxVisitsPerDay
		if b.cfg.MaxVisitsTotal > 0 {
			if remaining := b.cfg.MaxVisitsTotal - totalEmitted; remaining < planned {
				planned = remaining
			}
		}
		if planned <= 0 {
			logging.Info().Int("emitted", totalEmitted).Msg("backfill budget exhausted; stopping early")
			return nil
		}

		sum, err := b.runDay(ctx, day, planned)
		totalEmitted += sum.Emitted
		metrics.BackfillVisitsTotal.WithLabelValues(sum.Day).Add(float64(sum.Emitted))

		logging.Info().
			Str("day", sum.Day).
			Int("planned", sum.Planned).
			Int("emitted", sum.Emitted).
			Int("succeeded", sum.Succeeded).
			Int("failed", sum.Failed).
			Msg("backfill day complete")

		if err != nil {
			return err
		}
	}

	logging.Info().Int("emitted", totalEmitted).Msg("backfill complete")
	return nil
}

// runDay replays one day: seed the day RNG, draw and sort the start
// instants, then run each visit on a simulated clock.
func (b *Engine) runDay(ctx context.Context, day time.Time, planned int) (DaySummary, error) {
	iso := day.Format(time.DateOnly)
	sum := DaySummary{Day: iso, Planned: planned}

	rng := b.dayRNG(iso)
	starts := b.startTimes(rng, day, planned)

	// Visits near midnight saturate at 23:59:59 so every cdt stays inside
	// the replayed day.
	dayEnd := day.AddDate(0, 0, 1).Add(-time.Second)

	for _, st := range starts {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		clock := engine.NewBoundedSimClock(st, dayEnd)
		res, err := engine.RunVisit(ctx, b.deps, rng, clock, nil)
		sum.Emitted++
		sum.Succeeded += res.Requests - res.Failed
		sum.Failed += res.Failed
		if err != nil {
			return sum, fmt.Errorf("%w: visit on %s: %v", ErrAborted, iso, err)
		}

		if b.broken != nil && b.broken() {
			return sum, fmt.Errorf("%w: tracking endpoint failing persistently on %s", ErrAborted, iso)
		}
	}
	return sum, nil
}

// resolveWindow validates and materializes the date window. Exactly one of
// the absolute and relative modes is set; config validation enforced that.
func (b *Engine) resolveWindow() (start, end time.Time, err error) {
	today := midnight(b.now().In(b.cfg.Zone))

	if b.cfg.StartDate != "" {
		start, err = time.ParseInLocation(time.DateOnly, b.cfg.StartDate, b.cfg.Zone)
		if err != nil {
			return start, end, fmt.Errorf("%w: start_date: %v", ErrAborted, err)
		}
		end, err = time.ParseInLocation(time.DateOnly, b.cfg.EndDate, b.cfg.Zone)
		if err != nil {
			return start, end, fmt.Errorf("%w: end_date: %v", ErrAborted, err)
		}
	} else {
		end = today.AddDate(0, 0, -b.cfg.DaysBack)
		start = end.AddDate(0, 0, -(b.cfg.DurationDays - 1))
	}

	switch {
	case end.Before(start):
		return start, end, fmt.Errorf("%w: window end %s before start %s", ErrAborted,
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	case end.After(today):
		return start, end, fmt.Errorf("%w: window end %s is in the future", ErrAborted,
			end.Format(time.DateOnly))
	case int(end.Sub(start).Hours()/24)+1 > maxWindowDays:
		return start, end, fmt.Errorf("%w: window exceeds %d days", ErrAborted, maxWindowDays)
	}
	return start, end, nil
}

// dayRNG derives the per-day RNG: HMAC-SHA256(seed, day) feeds ChaCha8.
func (b *Engine) dayRNG(dayISO string) *rand.Rand {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(b.cfg.Seed))

	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte(dayISO))

	var seed [32]byte
	copy(seed[:], mac.Sum(nil))
	return rand.New(rand.NewChaCha8(seed))
}

// startTimes draws the session start instants for one day, chronologically
// sorted. Uniform over 24h, or hour-biased when a weight curve is set.
func (b *Engine) startTimes(rng *rand.Rand, day time.Time, n int) []time.Time {
	starts := make([]time.Time, n)
	for i := range starts {
		var offset time.Duration
		if len(b.cfg.HourlyWeights) == 24 {
			hour := weightedHour(rng, b.cfg.HourlyWeights)
			offset = time.Duration(hour)*time.Hour + time.Duration(rng.Int64N(3600))*time.Second
		} else {
			offset = time.Duration(rng.Int64N(86400)) * time.Second
		}
		starts[i] = day.Add(offset)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	return starts
}

func weightedHour(rng *rand.Rand, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return rng.IntN(24)
	}
	r := rng.Float64() * total
	for h, w := range weights {
		r -= w
		if r <= 0 {
			return h
		}
	}
	return 23
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// throttledDispatcher paces dispatches at the configured global rps.
type throttledDispatcher struct {
	limiter *rate.Limiter
	inner   engine.Dispatcher
}

func (t *throttledDispatcher) Do(ctx context.Context, req tracker.Request) (*dispatch.Result, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.Do(ctx, req)
}
