// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

// Package engine runs the live traffic generator: a fixed pool of workers,
// each executing one complete visit at a time, paced by the launch
// controller. Visits are sequential within a worker; parallelism only
// exists across workers.
package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/visitforge/internal/logging"
	"github.com/tomtom215/visitforge/internal/metrics"
	"github.com/tomtom215/visitforge/internal/pace"
)

// Config holds the engine tunables.
type Config struct {
	Concurrency int

	// AutoStopAfter shuts the process down after this much wall time.
	// Zero disables.
	AutoStopAfter time.Duration

	// MaxTotalVisits with LifetimeCap=true stops the engine after that many
	// launches. The rolling variant lives in the pace controller instead.
	MaxTotalVisits int
	LifetimeCap    bool

	// ShutdownGrace bounds how long in-flight visits may keep running after
	// a stop is requested. Default 10s.
	ShutdownGrace time.Duration

	// StatusInterval paces the periodic status log line. Default 30s.
	StatusInterval time.Duration

	// RequestShutdown asks the process to stop; auto-stop and the lifetime
	// cap call it. Nil means only the serve context stops the engine.
	RequestShutdown func()
}

// Engine supervises the worker pool.
type Engine struct {
	cfg   Config
	deps  VisitDeps
	pace  *pace.Controller
	start time.Time

	claimed    atomic.Int64
	completed  atomic.Int64
	active     atomic.Int64
	failedReqs atomic.Int64

	shutdownOnce sync.Once
}

// New builds an Engine.
func New(cfg Config, deps VisitDeps, pc *pace.Controller) *Engine {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 30 * time.Second
	}
	return &Engine{cfg: cfg, deps: deps, pace: pc}
}

// Serve runs the engine until ctx is cancelled. Implements the supervision
// tree's service contract.
func (e *Engine) Serve(ctx context.Context) error {
	e.start = time.Now()

	// soft stops new launches; hard cuts in-flight visits after the grace
	// interval. hard is deliberately not a child of ctx.
	soft, stopSoft := context.WithCancel(ctx)
	defer stopSoft()
	hard, stopHard := context.WithCancel(context.Background())
	defer stopHard()

	go func() {
		<-soft.Done()
		t := time.NewTimer(e.cfg.ShutdownGrace)
		defer t.Stop()
		select {
		case <-t.C:
			logging.Warn().Dur("grace", e.cfg.ShutdownGrace).Msg("shutdown grace elapsed; cutting in-flight visits")
			stopHard()
		case <-hard.Done():
		}
	}()

	if e.cfg.AutoStopAfter > 0 {
		stopTimer := time.AfterFunc(e.cfg.AutoStopAfter, func() {
			logging.Info().Dur("after", e.cfg.AutoStopAfter).Msg("auto-stop timer fired")
			e.requestShutdown(stopSoft)
		})
		defer stopTimer.Stop()
	}

	logging.Info().
		Int("concurrency", e.cfg.Concurrency).
		Bool("lifetime_cap", e.cfg.LifetimeCap).
		Msg("visit engine starting")

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			e.worker(soft, hard, stopSoft, id)
		}(i)
	}

	statusDone := make(chan struct{})
	go e.statusLoop(soft, statusDone)

	wg.Wait()
	stopHard()
	<-statusDone
	e.logSummary()

	return ctx.Err()
}

// worker loops: claim a launch slot, wait for a pace token, run one visit.
func (e *Engine) worker(soft, hard context.Context, stopSoft context.CancelFunc, id int) {
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	for {
		if soft.Err() != nil {
			return
		}

		n := e.claimed.Add(1)
		if e.cfg.LifetimeCap && e.cfg.MaxTotalVisits > 0 && n > int64(e.cfg.MaxTotalVisits) {
			logging.Info().Int("max_total_visits", e.cfg.MaxTotalVisits).Msg("lifetime visit cap reached")
			e.requestShutdown(stopSoft)
			return
		}

		if err := e.pace.Acquire(soft); err != nil {
			return
		}
		metrics.LaunchesTotal.Inc()

		e.active.Add(1)
		metrics.VisitsActive.Inc()
		res, err := RunVisit(hard, e.deps, rng, WallClock{}, func() bool { return soft.Err() != nil })
		e.active.Add(-1)
		metrics.VisitsActive.Dec()

		e.completed.Add(1)
		e.failedReqs.Add(int64(res.Failed))
		metrics.VisitsTotal.WithLabelValues(res.Mode).Inc()

		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Int("worker", id).Msg("visit ended with error")
			continue
		}

		logging.Debug().
			Int("worker", id).
			Str("visitor", res.VisitorID).
			Str("mode", res.Mode).
			Str("funnel", res.FunnelID).
			Int("requests", res.Requests).
			Int("failed", res.Failed).
			Msg("visit complete")
	}
}

func (e *Engine) requestShutdown(fallback context.CancelFunc) {
	e.shutdownOnce.Do(func() {
		if e.cfg.RequestShutdown != nil {
			e.cfg.RequestShutdown()
			return
		}
		fallback()
	})
}

// classReporter is the optional dispatcher facet exposing per-class
// response counts; the HTTP dispatcher implements it.
type classReporter interface {
	ResponseClasses() map[string]int64
}

// statusLoop logs a heartbeat line and mirrors the pause state into the
// gauge until ctx ends.
func (e *Engine) statusLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	t := time.NewTicker(e.cfg.StatusInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ps := e.pace.Snapshot()
			if ps.Paused {
				metrics.PacePaused.Set(1)
			} else {
				metrics.PacePaused.Set(0)
			}
			ev := logging.Info().
				Int64("launched", ps.Launched).
				Int64("completed", e.completed.Load()).
				Int64("active", e.active.Load()).
				Int64("failed_requests", e.failedReqs.Load()).
				Bool("paused", ps.Paused).
				Float64("bucket_fill", ps.TokenFill)
			if ps.Paused && !ps.ResumeAt.IsZero() {
				ev = ev.Time("resume_at", ps.ResumeAt)
			}
			if rc, ok := e.deps.Dispatcher.(classReporter); ok {
				ev = ev.Interface("responses", rc.ResponseClasses())
			}
			ev.Msg("status")
		}
	}
}

func (e *Engine) logSummary() {
	logging.Info().
		Int64("visits", e.completed.Load()).
		Int64("launched", e.pace.Launched()).
		Int64("failed_requests", e.failedReqs.Load()).
		Dur("uptime", time.Since(e.start)).
		Msg("visit engine stopped")
}

// Stats is a point-in-time snapshot for the status endpoint.
type Stats struct {
	Launched       int64            `json:"launched"`
	Completed      int64            `json:"completed"`
	Active         int64            `json:"active"`
	FailedRequests int64            `json:"failed_requests"`
	Responses      map[string]int64 `json:"responses,omitempty"`
	Pace           pace.Stats       `json:"pace"`
	StartedAt      time.Time        `json:"started_at"`
}

// Snapshot returns current engine counters.
func (e *Engine) Snapshot() Stats {
	s := Stats{
		Launched:       e.pace.Launched(),
		Completed:      e.completed.Load(),
		Active:         e.active.Load(),
		FailedRequests: e.failedReqs.Load(),
		Pace:           e.pace.Snapshot(),
		StartedAt:      e.start,
	}
	if rc, ok := e.deps.Dispatcher.(classReporter); ok {
		s.Responses = rc.ResponseClasses()
	}
	return s
}
