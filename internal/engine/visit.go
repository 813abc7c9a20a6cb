// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

package engine

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/tomtom215/visitforge/internal/dispatch"
	"github.com/tomtom215/visitforge/internal/funnel"
	"github.com/tomtom215/visitforge/internal/identity"
	"github.com/tomtom215/visitforge/internal/logging"
	"github.com/tomtom215/visitforge/internal/planner"
	"github.com/tomtom215/visitforge/internal/tracker"
)

// VisitClock paces a visit's think-time and stamps its actions. The live
// engine sleeps real time; backfill advances a simulated clock instead so a
// day of visits replays in seconds.
type VisitClock interface {
	Now() time.Time
	Pause(ctx context.Context, d time.Duration) error
}

// WallClock is the live-mode VisitClock.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

func (WallClock) Pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SimClock advances instantly on Pause. Backfill owns one per visit, seeded
// with the visit's historical start instant and bounded so think-time never
// pushes an action past the replayed day.
type SimClock struct {
	now time.Time
	max time.Time // zero means unbounded
}

// NewSimClock starts a simulated clock at the given instant.
func NewSimClock(start time.Time) *SimClock { return &SimClock{now: start} }

// NewBoundedSimClock starts at start and saturates at max: a pause that
// would cross the bound lands exactly on it.
func NewBoundedSimClock(start, max time.Time) *SimClock {
	return &SimClock{now: start, max: max}
}

func (c *SimClock) Now() time.Time { return c.now }

func (c *SimClock) Pause(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	if !c.max.IsZero() && c.now.After(c.max) {
		c.now = c.max
	}
	return nil
}

// Dispatcher is the slice of the HTTP dispatcher a visit needs. The backfill
// engine wraps the real one with its rps throttle.
type Dispatcher interface {
	Do(ctx context.Context, req tracker.Request) (*dispatch.Result, error)
}

// VisitDeps bundles the collaborators one visit needs.
type VisitDeps struct {
	Identity   *identity.Generator
	Planner    *planner.Planner
	Funnels    *funnel.Executor
	Builder    *tracker.Builder
	Dispatcher Dispatcher
}

// VisitResult summarizes one finished visit.
type VisitResult struct {
	Mode      string // "random" or "funnel"
	FunnelID  string
	VisitorID string
	Requests  int
	Pageviews int
	Failed    int
}

// RunVisit executes one complete visit: identity, funnel-or-random plan,
// sequential actions with think-time. stopping, when non-nil, is polled
// between actions so a shutting-down engine can end visits at the next
// action boundary; ctx is the hard cutoff.
func RunVisit(ctx context.Context, deps VisitDeps, rng *rand.Rand, clock VisitClock, stopping func() bool) (VisitResult, error) {
	visitor := deps.Identity.New(rng)
	sess := &tracker.Session{Visitor: visitor}
	res := VisitResult{Mode: "random", VisitorID: visitor.ID}

	def := deps.Funnels.Select(rng)
	if def != nil {
		res.Mode = "funnel"
		res.FunnelID = def.ID

		steps, err := deps.Funnels.Plan(rng, def)
		if err != nil {
			return res, err
		}
		for _, st := range steps {
			if done(ctx, stopping) {
				return res, nil
			}
			if st.Delay > 0 {
				if err := clock.Pause(ctx, st.Delay); err != nil {
					return res, err
				}
			}
			emit(ctx, deps, clock, sess, st.Action, &res)
		}

		if def.ExitAfterCompletion {
			return res, nil
		}
	}

	var plan *planner.Plan
	if def != nil {
		plan = deps.Planner.NewContinuation(rng, res.Pageviews)
	} else {
		plan = deps.Planner.NewPlan(rng)
	}

	for {
		step, ok := plan.Next()
		if !ok {
			return res, nil
		}
		if done(ctx, stopping) {
			return res, nil
		}
		if step.Pause > 0 {
			if err := clock.Pause(ctx, step.Pause); err != nil {
				return res, err
			}
		}

		action, err := deps.Planner.Materialize(rng, step.Kind, sess.CurrentURL)
		if err != nil {
			return res, err
		}
		emit(ctx, deps, clock, sess, action, &res)
	}
}

// emit builds, stamps and dispatches one action, then rolls the session
// state forward. Dispatch failures are recorded and the visit continues.
func emit(ctx context.Context, deps VisitDeps, clock VisitClock, sess *tracker.Session, action tracker.Action, res *VisitResult) {
	action.Timestamp = clock.Now()

	req, err := deps.Builder.Build(&action, sess)
	if err != nil {
		logging.Error().Err(err).
			Str("visitor", sess.Visitor.ID).
			Str("kind", action.Kind.String()).
			Msg("building tracking request")
		res.Failed++
		return
	}

	res.Requests++
	if _, err := deps.Dispatcher.Do(ctx, req); err != nil {
		logging.Warn().Err(err).
			Str("visitor", sess.Visitor.ID).
			Str("kind", action.Kind.String()).
			Msg("tracking request failed")
		res.Failed++
	}

	sess.ActionsEmitted++
	if action.Kind == tracker.KindPageview {
		sess.CurrentURL = action.Page.Href
		sess.LastPageviewURL = action.Page.Href
		res.Pageviews++
	}
}

func done(ctx context.Context, stopping func() bool) bool {
	if ctx.Err() != nil {
		return true
	}
	return stopping != nil && stopping()
}
