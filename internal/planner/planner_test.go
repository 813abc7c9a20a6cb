// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

package planner

import (
	"math/rand/v2"
	"regexp"
	"testing"
	"time"

	"github.com/tomtom215/visitforge/internal/catalog"
	"github.com/tomtom215/visitforge/internal/tracker"
)

func testCatalog() *catalog.Catalog {
	urls := []catalog.URL{
		{Href: "https://x/widgets/large/w1", Title: "W1", Category: "widgets", Subcategory: "large"},
		{Href: "https://x/widgets/small/w2", Title: "W2", Category: "widgets", Subcategory: "small"},
		{Href: "https://x/gadgets/pro/g1", Title: "G1", Category: "gadgets", Subcategory: "pro"},
	}
	return &catalog.Catalog{
		URLs:    urls,
		Summary: catalog.Summarize(urls),
		Events: catalog.EventSet{
			ClickEvents:  []catalog.EventDef{{Category: "nav", Action: "click"}},
			RandomEvents: []catalog.EventDef{{Category: "bg", Action: "ping"}},
		},
		Products: []catalog.Product{
			{SKU: "A", Name: "A", Category: "widgets", PriceMin: 100, PriceMax: 200},
			{SKU: "B", Name: "B", Category: "widgets", PriceMin: 50, PriceMax: 60},
		},
		Outlinks:    []string{"https://partner.example/"},
		Downloads:   []string{"https://x/files/manual.pdf"},
		SearchTerms: []string{"widget", "gadget"},
	}
}

func TestSinglePageviewVisitSuppressesSpecials(t *testing.T) {
	pl := New(testCatalog(), Config{
		PageviewsMin: 1,
		PageviewsMax: 1,
		SiteSearch:   1, Outlinks: 1, Downloads: 1,
		ClickEvents: 1, RandomEvents: 1, Ecommerce: 1,
	})
	rng := rand.New(rand.NewPCG(1, 1))

	for i := 0; i < 50; i++ {
		plan := pl.NewPlan(rng)
		if plan.Len() != 1 {
			t.Fatalf("plan %d has %d steps, want exactly 1", i, plan.Len())
		}
		if plan.Steps()[0].Kind != tracker.KindPageview {
			t.Fatalf("plan %d: single step is %s", i, plan.Steps()[0].Kind)
		}
	}
}

func TestPlanFirstStepIsAlwaysPageview(t *testing.T) {
	pl := New(testCatalog(), Config{
		PageviewsMin: 2,
		PageviewsMax: 6,
		SiteSearch:   1, Outlinks: 1, Downloads: 1,
		ClickEvents: 1, RandomEvents: 1, Ecommerce: 1,
	})
	rng := rand.New(rand.NewPCG(2, 2))

	for i := 0; i < 200; i++ {
		plan := pl.NewPlan(rng)
		if plan.Steps()[0].Kind != tracker.KindPageview {
			t.Fatalf("plan %d opens with %s", i, plan.Steps()[0].Kind)
		}
	}
}

func TestPlanCertainSpecialsFireExactlyOnce(t *testing.T) {
	pl := New(testCatalog(), Config{
		PageviewsMin: 3,
		PageviewsMax: 3,
		Outlinks:     1,
	})
	rng := rand.New(rand.NewPCG(3, 3))

	for i := 0; i < 100; i++ {
		plan := pl.NewPlan(rng)
		if plan.Len() != 4 {
			t.Fatalf("plan %d has %d steps, want 4 (3 pageviews + 1 outlink)", i, plan.Len())
		}
		outlinks := 0
		for j, st := range plan.Steps() {
			if st.Kind == tracker.KindOutlink {
				outlinks++
				if j == 0 {
					t.Fatalf("plan %d: outlink at slot 0", i)
				}
			}
		}
		if outlinks != 1 {
			t.Fatalf("plan %d has %d outlinks, want exactly 1", i, outlinks)
		}
	}
}

func TestPlanPausesWithinBounds(t *testing.T) {
	min, max := 2*time.Second, 5*time.Second
	pl := New(testCatalog(), Config{
		PageviewsMin: 4,
		PageviewsMax: 4,
		PauseMin:     min,
		PauseMax:     max,
	})
	rng := rand.New(rand.NewPCG(4, 4))

	plan := pl.NewPlan(rng)
	steps := plan.Steps()
	if steps[0].Pause != 0 {
		t.Errorf("first step pause = %v, want 0", steps[0].Pause)
	}
	for i, st := range steps[1:] {
		if st.Pause < min || st.Pause >= max {
			t.Errorf("step %d pause %v outside [%v, %v)", i+1, st.Pause, min, max)
		}
	}
}

func TestPlanDurationPadding(t *testing.T) {
	pl := New(testCatalog(), Config{
		PageviewsMin: 3,
		PageviewsMax: 3,
		PauseMin:     time.Second,
		PauseMax:     2 * time.Second,
		DurationMin:  time.Minute,
	})
	rng := rand.New(rand.NewPCG(5, 5))

	plan := pl.NewPlan(rng)
	var total time.Duration
	for _, st := range plan.Steps() {
		total += st.Pause
	}
	if total < time.Minute {
		t.Errorf("total think-time %v below duration floor", total)
	}
}

func TestNewContinuation(t *testing.T) {
	pl := New(testCatalog(), Config{PageviewsMin: 4, PageviewsMax: 4, PauseMin: time.Second, PauseMax: 2 * time.Second})
	rng := rand.New(rand.NewPCG(6, 6))

	t.Run("remaining pageviews", func(t *testing.T) {
		plan := pl.NewContinuation(rng, 1)
		if plan.Len() != 3 {
			t.Fatalf("continuation has %d steps, want 3", plan.Len())
		}
		// The visit is already open, so even the first continuation step
		// carries a pause.
		if plan.Steps()[0].Pause == 0 {
			t.Error("first continuation step has no pause")
		}
	})

	t.Run("already exhausted", func(t *testing.T) {
		plan := pl.NewContinuation(rng, 4)
		if plan.Len() != 0 {
			t.Fatalf("continuation has %d steps, want 0", plan.Len())
		}
	})
}

func TestMaterializeKinds(t *testing.T) {
	pl := New(testCatalog(), Config{PageviewsMin: 2, PageviewsMax: 2, Currency: "SEK"})
	rng := rand.New(rand.NewPCG(7, 7))

	kinds := []tracker.Kind{
		tracker.KindPageview, tracker.KindSiteSearch, tracker.KindOutlink,
		tracker.KindDownload, tracker.KindClickEvent, tracker.KindRandomEvent,
		tracker.KindEcommerce,
	}
	for _, k := range kinds {
		a, err := pl.Materialize(rng, k, "")
		if err != nil {
			t.Fatalf("Materialize(%s): %v", k, err)
		}
		if a.Kind != k {
			t.Errorf("Materialize(%s) produced kind %s", k, a.Kind)
		}
	}
}

func TestPickPageAvoidsCurrent(t *testing.T) {
	pl := New(testCatalog(), Config{})
	rng := rand.New(rand.NewPCG(8, 8))
	current := "https://x/widgets/large/w1"

	same := 0
	for i := 0; i < 100; i++ {
		if pl.PickPage(rng, current).Href == current {
			same++
		}
	}
	// One redraw cuts repeats to at most ~1/9 in expectation; anything close
	// to half means the redraw is broken.
	if same > 30 {
		t.Errorf("picked the current page %d/100 times", same)
	}
}

func TestNewOrder(t *testing.T) {
	pl := New(testCatalog(), Config{OrderValueMin: 500, OrderValueMax: 600, Currency: "SEK"})
	rng := rand.New(rand.NewPCG(9, 9))

	uuidRe := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

	for i := 0; i < 50; i++ {
		o := pl.NewOrder(rng, 0)
		if !uuidRe.MatchString(o.ID) {
			t.Fatalf("order id %q is not a v4 UUID", o.ID)
		}
		if len(o.Items) == 0 {
			t.Fatal("order has no items")
		}
		if o.Currency != "SEK" {
			t.Errorf("currency = %q", o.Currency)
		}
		if o.Revenue < o.Subtotal {
			t.Errorf("revenue %.2f below subtotal %.2f", o.Revenue, o.Subtotal)
		}
	}

	t.Run("revenue override", func(t *testing.T) {
		o := pl.NewOrder(rng, 1234)
		if o.Subtotal < 1200 || o.Subtotal > 1270 {
			t.Errorf("override subtotal = %.2f, want ~1234", o.Subtotal)
		}
	})
}

func TestNewOrderIDDeterminism(t *testing.T) {
	a := NewOrderID(rand.New(rand.NewPCG(10, 10)))
	b := NewOrderID(rand.New(rand.NewPCG(10, 10)))
	if a != b {
		t.Errorf("same seed gave different order ids: %s vs %s", a, b)
	}
}
