// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

// Package planner decides what a random-browsing visit does: how many
// pageviews, which special actions fire, where they land in the sequence,
// and the think-time between steps.
//
// Planning happens once at session start. Each special kind flips an
// independent coin and, on heads, is inserted at a uniformly random
// non-first slot. This satisfies the ordering rules by construction, with
// no per-step rejection sampling:
//
//  1. the first action is always a pageview
//  2. specials never open a visit
//  3. each special fires at most once per visit
package planner

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/visitforge/internal/catalog"
	"github.com/tomtom215/visitforge/internal/tracker"
)

// Config holds the visit-shape knobs.
type Config struct {
	PageviewsMin int
	PageviewsMax int

	PauseMin time.Duration
	PauseMax time.Duration

	// DurationMin pads the final think-time when the planned visit would
	// undershoot it. Pauses always take precedence over DurationMax.
	DurationMin time.Duration

	// Per-visit special-action probabilities.
	SiteSearch   float64
	Outlinks     float64
	Downloads    float64
	ClickEvents  float64
	RandomEvents float64
	Ecommerce    float64

	// Ecommerce order value bounds; 0/0 keeps raw catalog prices.
	OrderValueMin float64
	OrderValueMax float64
	Currency      string
}

// Planner builds visit plans and materializes their steps from the catalog.
type Planner struct {
	cat *catalog.Catalog
	cfg Config
}

// New creates a Planner. Special probabilities whose catalog table is empty
// are forced to zero so plans never contain unfillable steps.
func New(cat *catalog.Catalog, cfg Config) *Planner {
	if len(cat.Events.ClickEvents) == 0 {
		cfg.ClickEvents = 0
	}
	if len(cat.Events.RandomEvents) == 0 {
		cfg.RandomEvents = 0
	}
	if len(cat.Products) == 0 {
		cfg.Ecommerce = 0
	}
	if len(cat.Outlinks) == 0 {
		cfg.Outlinks = 0
	}
	if len(cat.Downloads) == 0 {
		cfg.Downloads = 0
	}
	if len(cat.SearchTerms) == 0 {
		cfg.SiteSearch = 0
	}
	return &Planner{cat: cat, cfg: cfg}
}

// Step is one planned slot: the pause to take before it, then the action.
type Step struct {
	Kind  tracker.Kind
	Pause time.Duration
}

// Plan is the fixed action schedule of one visit.
type Plan struct {
	steps []Step
	idx   int
}

// Next returns the next planned step, or false when the plan is exhausted.
func (p *Plan) Next() (Step, bool) {
	if p.idx >= len(p.steps) {
		return Step{}, false
	}
	s := p.steps[p.idx]
	p.idx++
	return s, true
}

// Len returns the total number of planned steps.
func (p *Plan) Len() int { return len(p.steps) }

// Steps exposes the schedule for tests.
func (p *Plan) Steps() []Step { return p.steps }

// NewPlan pre-plans one visit.
func (pl *Planner) NewPlan(rng *rand.Rand) *Plan {
	pv := pl.drawPageviews(rng)

	kinds := make([]tracker.Kind, pv)
	for i := range kinds {
		kinds[i] = tracker.KindPageview
	}

	// A single-pageview visit has no legal slot for specials: every special
	// is forbidden first, and the visit ends after its only pageview.
	if pv >= 2 {
		kinds = pl.insertSpecials(rng, kinds, 1)
	}

	steps := pl.buildSteps(rng, kinds, false)

	return &Plan{steps: steps}
}

// NewContinuation plans the random-browsing tail of a visit that already
// emitted some pageviews, after a funnel handed control back. The visit is
// already open, so every slot (including the first) is fair game for
// specials, and every step gets a leading pause.
func (pl *Planner) NewContinuation(rng *rand.Rand, emittedPageviews int) *Plan {
	remaining := pl.drawPageviews(rng) - emittedPageviews
	if remaining <= 0 {
		return &Plan{}
	}

	kinds := make([]tracker.Kind, remaining)
	for i := range kinds {
		kinds[i] = tracker.KindPageview
	}
	kinds = pl.insertSpecials(rng, kinds, 0)

	return &Plan{steps: pl.buildSteps(rng, kinds, true)}
}

func (pl *Planner) drawPageviews(rng *rand.Rand) int {
	pv := pl.cfg.PageviewsMin
	if span := pl.cfg.PageviewsMax - pl.cfg.PageviewsMin; span > 0 {
		pv += rng.IntN(span + 1)
	}
	return pv
}

// buildSteps attaches think-times and pads the last pause up to the visit
// duration floor.
func (pl *Planner) buildSteps(rng *rand.Rand, kinds []tracker.Kind, pauseFirst bool) []Step {
	steps := make([]Step, len(kinds))
	var total time.Duration
	for i, k := range kinds {
		steps[i] = Step{Kind: k}
		if i > 0 || pauseFirst {
			steps[i].Pause = pl.pause(rng)
			total += steps[i].Pause
		}
	}

	if n := len(steps); n > 1 && pl.cfg.DurationMin > 0 && total < pl.cfg.DurationMin {
		steps[n-1].Pause += pl.cfg.DurationMin - total
	}
	return steps
}

// insertSpecials flips the per-kind coins and splices winners into uniform
// slots at or after minPos.
func (pl *Planner) insertSpecials(rng *rand.Rand, kinds []tracker.Kind, minPos int) []tracker.Kind {
	coins := []struct {
		p    float64
		kind tracker.Kind
	}{
		{pl.cfg.SiteSearch, tracker.KindSiteSearch},
		{pl.cfg.Outlinks, tracker.KindOutlink},
		{pl.cfg.Downloads, tracker.KindDownload},
		{pl.cfg.ClickEvents, tracker.KindClickEvent},
		{pl.cfg.RandomEvents, tracker.KindRandomEvent},
		{pl.cfg.Ecommerce, tracker.KindEcommerce},
	}

	for _, c := range coins {
		if c.p <= 0 || rng.Float64() >= c.p {
			continue
		}
		pos := minPos + rng.IntN(len(kinds)-minPos+1) // insertion slot in [minPos, len]
		kinds = append(kinds, tracker.KindPageview)
		copy(kinds[pos+1:], kinds[pos:])
		kinds[pos] = c.kind
	}
	return kinds
}

// pause draws one think-time.
func (pl *Planner) pause(rng *rand.Rand) time.Duration {
	if pl.cfg.PauseMax <= pl.cfg.PauseMin {
		return pl.cfg.PauseMin
	}
	return pl.cfg.PauseMin + time.Duration(rng.Int64N(int64(pl.cfg.PauseMax-pl.cfg.PauseMin)))
}

// Materialize fills one planned step with concrete targets drawn from the
// catalog. The caller stamps the timestamp.
func (pl *Planner) Materialize(rng *rand.Rand, kind tracker.Kind, currentURL string) (tracker.Action, error) {
	switch kind {
	case tracker.KindPageview:
		return tracker.Action{Kind: kind, Page: pl.PickPage(rng, currentURL)}, nil
	case tracker.KindSiteSearch:
		return tracker.Action{Kind: kind, Search: pl.NewSearch(rng)}, nil
	case tracker.KindOutlink:
		return tracker.Action{Kind: kind, Link: pick(rng, pl.cat.Outlinks)}, nil
	case tracker.KindDownload:
		return tracker.Action{Kind: kind, Download: pick(rng, pl.cat.Downloads)}, nil
	case tracker.KindClickEvent:
		return tracker.Action{Kind: kind, Event: pickEvent(rng, pl.cat.Events.ClickEvents)}, nil
	case tracker.KindRandomEvent:
		return tracker.Action{Kind: kind, Event: pickEvent(rng, pl.cat.Events.RandomEvents)}, nil
	case tracker.KindEcommerce:
		return tracker.Action{Kind: kind, Order: pl.NewOrder(rng, 0)}, nil
	default:
		return tracker.Action{}, fmt.Errorf("cannot materialize action kind %d", kind)
	}
}

// PickPage draws a catalog page, avoiding the current one when possible.
func (pl *Planner) PickPage(rng *rand.Rand, currentURL string) catalog.URL {
	urls := pl.cat.URLs
	u := urls[rng.IntN(len(urls))]
	if u.Href == currentURL && len(urls) > 1 {
		u = urls[rng.IntN(len(urls))]
	}
	return u
}

// PageByHref resolves a funnel-step URL against the catalog, synthesizing an
// entry for off-catalog pages.
func (pl *Planner) PageByHref(href string) catalog.URL {
	for _, u := range pl.cat.URLs {
		if u.Href == href {
			return u
		}
	}
	return catalog.URL{Href: href}
}

// NewSearch draws a site-search payload.
func (pl *Planner) NewSearch(rng *rand.Rand) *tracker.Search {
	s := &tracker.Search{
		Query: pick(rng, pl.cat.SearchTerms),
		Count: rng.IntN(30),
	}
	// Half the searches are scoped to a category.
	if cats := pl.cat.Summary.CategoryNames(); len(cats) > 0 && rng.IntN(2) == 0 {
		s.Category = cats[rng.IntN(len(cats))]
	}
	return s
}

// NewOrder assembles a synthetic ecommerce order. revenueOverride > 0 pins
// the total (funnel steps use it); otherwise the configured order-value
// range rescales the drawn prices when set.
func (pl *Planner) NewOrder(rng *rand.Rand, revenueOverride float64) *tracker.Order {
	products := pl.cat.Products
	n := 1 + rng.IntN(minInt(3, len(products)))

	items := make([]tracker.OrderItem, 0, n)
	seen := make(map[string]bool, n)
	subtotal := 0.0
	for len(items) < n {
		prod := products[rng.IntN(len(products))]
		if seen[prod.SKU] {
			continue
		}
		seen[prod.SKU] = true

		price := prod.PriceMin
		if prod.PriceMax > prod.PriceMin {
			price += rng.Float64() * (prod.PriceMax - prod.PriceMin)
		}
		price = round2(price)
		qty := 1 + rng.IntN(3)

		items = append(items, tracker.OrderItem{
			SKU:      prod.SKU,
			Name:     prod.Name,
			Category: prod.Category,
			Price:    price,
			Quantity: qty,
		})
		subtotal += price * float64(qty)
	}
	subtotal = round2(subtotal)

	target := revenueOverride
	if target <= 0 && pl.cfg.OrderValueMax > 0 {
		target = pl.cfg.OrderValueMin
		if pl.cfg.OrderValueMax > pl.cfg.OrderValueMin {
			target += rng.Float64() * (pl.cfg.OrderValueMax - pl.cfg.OrderValueMin)
		}
	}
	if target > 0 && subtotal > 0 {
		scale := target / subtotal
		subtotal = 0
		for i := range items {
			items[i].Price = round2(items[i].Price * scale)
			subtotal += items[i].Price * float64(items[i].Quantity)
		}
		subtotal = round2(subtotal)
	}

	shipping := round2(subtotal * 0.05)

	return &tracker.Order{
		ID:       NewOrderID(rng),
		Items:    items,
		Revenue:  round2(subtotal + shipping),
		Subtotal: subtotal,
		Shipping: shipping,
		Currency: pl.cfg.Currency,
	}
}

// NewOrderID derives a UUID from the visit RNG so backfill runs stay
// reproducible.
func NewOrderID(rng *rand.Rand) string {
	id, err := uuid.NewRandomFromReader(randReader{rng})
	if err != nil {
		// randReader never fails; keep the compiler honest.
		return uuid.Nil.String()
	}
	return id.String()
}

// randReader adapts the visit RNG to io.Reader for uuid generation.
type randReader struct{ rng *rand.Rand }

func (r randReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r.rng.Uint64())
	}
	return len(p), nil
}

func pick(rng *rand.Rand, list []string) string {
	return list[rng.IntN(len(list))]
}

func pickEvent(rng *rand.Rand, defs []catalog.EventDef) *catalog.EventDef {
	d := defs[rng.IntN(len(defs))]
	return &d
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
