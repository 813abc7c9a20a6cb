// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

package funnel

import (
	"math/rand/v2"
	"time"

	"github.com/tomtom215/visitforge/internal/catalog"
	"github.com/tomtom215/visitforge/internal/planner"
	"github.com/tomtom215/visitforge/internal/tracker"
)

// ExecStep is one materialized funnel action with its pre-delay. The engine
// sleeps the delay, stamps the timestamp, then dispatches.
type ExecStep struct {
	Delay  time.Duration
	Action tracker.Action
}

// Executor selects and plans funnel runs. It is stateless across visits and
// safe for concurrent use as long as each call gets its own rng.
type Executor struct {
	defs []Def // enabled, selection-ordered
	pl   *planner.Planner
}

// NewExecutor filters and orders the definitions once; selection walks the
// precomputed list.
func NewExecutor(defs []Def, pl *planner.Planner) *Executor {
	return &Executor{defs: Sorted(defs), pl: pl}
}

// Enabled reports how many funnels participate in selection.
func (e *Executor) Enabled() int { return len(e.defs) }

// Select walks the ordered funnels and returns the first whose independent
// Bernoulli draw succeeds, or nil for random browsing. With a seeded rng the
// outcome is deterministic.
func (e *Executor) Select(rng *rand.Rand) *Def {
	for i := range e.defs {
		if e.defs[i].Probability <= 0 {
			continue
		}
		if rng.Float64() < e.defs[i].Probability {
			return &e.defs[i]
		}
	}
	return nil
}

// Plan materializes a funnel into executable steps. When the scripted first
// step is not a pageview, an opening pageview for that step's URL is
// injected with zero delay so the visit still opens correctly.
func (e *Executor) Plan(rng *rand.Rand, def *Def) ([]ExecStep, error) {
	steps := make([]ExecStep, 0, len(def.Steps)+1)

	firstKind, err := def.Steps[0].Kind()
	if err != nil {
		return nil, err
	}
	if firstKind != tracker.KindPageview {
		steps = append(steps, ExecStep{
			Action: tracker.Action{
				Kind: tracker.KindPageview,
				Page: e.openingPage(rng, &def.Steps[0]),
			},
		})
	}

	for i := range def.Steps {
		s := &def.Steps[i]
		a, err := e.materialize(rng, s)
		if err != nil {
			return nil, err
		}
		steps = append(steps, ExecStep{Delay: stepDelay(rng, s), Action: a})
	}
	return steps, nil
}

// openingPage picks the injected pageview target: the first step's URL when
// it names one, otherwise a random catalog page.
func (e *Executor) openingPage(rng *rand.Rand, first *Step) catalog.URL {
	if first.URL != "" {
		return e.pl.PageByHref(first.URL)
	}
	return e.pl.PickPage(rng, "")
}

func (e *Executor) materialize(rng *rand.Rand, s *Step) (tracker.Action, error) {
	kind, err := s.Kind()
	if err != nil {
		return tracker.Action{}, err
	}

	switch kind {
	case tracker.KindPageview:
		page := e.pl.PageByHref(s.URL)
		if s.ActionName != "" {
			page.Title = s.ActionName
		}
		return tracker.Action{Kind: kind, Page: page}, nil

	case tracker.KindSiteSearch:
		search := e.pl.NewSearch(rng)
		if s.SearchQuery != "" {
			search = &tracker.Search{
				Query:    s.SearchQuery,
				Category: s.SearchCategory,
				Count:    s.SearchCount,
			}
		}
		return tracker.Action{Kind: kind, Search: search}, nil

	case tracker.KindOutlink:
		return tracker.Action{Kind: kind, Link: s.URL}, nil

	case tracker.KindDownload:
		return tracker.Action{Kind: kind, Download: s.URL}, nil

	case tracker.KindClickEvent, tracker.KindRandomEvent:
		ev := &catalog.EventDef{
			Category: s.EventCategory,
			Action:   s.EventAction,
			Name:     s.EventName,
			Value:    s.EventValue,
		}
		return tracker.Action{Kind: kind, Event: ev}, nil

	case tracker.KindEcommerce:
		return tracker.Action{Kind: kind, Order: e.pl.NewOrder(rng, s.Revenue)}, nil
	}

	return tracker.Action{}, nil
}

// stepDelay draws the uniform pre-step think-time.
func stepDelay(rng *rand.Rand, s *Step) time.Duration {
	min := time.Duration(s.DelayMinS * float64(time.Second))
	max := time.Duration(s.DelayMaxS * float64(time.Second))
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int64N(int64(max-min)))
}
