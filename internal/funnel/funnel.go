// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

// Package funnel loads scripted-journey definitions and turns them into
// executable visit plans. A funnel, when selected for a visit, replaces
// random browsing with its ordered step list.
package funnel

import (
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-json"

	"github.com/tomtom215/visitforge/internal/catalog"
	"github.com/tomtom215/visitforge/internal/tracker"
	"github.com/tomtom215/visitforge/internal/validation"
)

// Step types accepted in funnels.json.
const (
	StepPageview    = "pageview"
	StepSiteSearch  = "sitesearch"
	StepOutlink     = "outlink"
	StepDownload    = "download"
	StepClickEvent  = "click_event"
	StepRandomEvent = "random_event"
	StepEcommerce   = "ecommerce"
)

// Step is one scripted action. DelayMinS/DelayMaxS bound the think-time
// taken before the step, not after the previous one.
type Step struct {
	Type       string  `json:"type" validate:"required,oneof=pageview sitesearch outlink download click_event random_event ecommerce"`
	URL        string  `json:"url,omitempty"`
	ActionName string  `json:"action_name,omitempty"`
	DelayMinS  float64 `json:"delay_min_s" validate:"gte=0"`
	DelayMaxS  float64 `json:"delay_max_s" validate:"gte=0"`

	// Type-specific overrides; zero values fall back to catalog draws.
	SearchQuery    string  `json:"search_query,omitempty"`
	SearchCategory string  `json:"search_category,omitempty"`
	SearchCount    int     `json:"search_count,omitempty"`
	EventCategory  string  `json:"event_category,omitempty"`
	EventAction    string  `json:"event_action,omitempty"`
	EventName      string  `json:"event_name,omitempty"`
	EventValue     float64 `json:"event_value,omitempty"`
	Revenue        float64 `json:"revenue,omitempty" validate:"gte=0"`
}

// Kind maps the step type string onto the tracker action kind.
func (s *Step) Kind() (tracker.Kind, error) {
	switch s.Type {
	case StepPageview:
		return tracker.KindPageview, nil
	case StepSiteSearch:
		return tracker.KindSiteSearch, nil
	case StepOutlink:
		return tracker.KindOutlink, nil
	case StepDownload:
		return tracker.KindDownload, nil
	case StepClickEvent:
		return tracker.KindClickEvent, nil
	case StepRandomEvent:
		return tracker.KindRandomEvent, nil
	case StepEcommerce:
		return tracker.KindEcommerce, nil
	default:
		return 0, fmt.Errorf("unknown funnel step type %q", s.Type)
	}
}

// Def is one scripted journey. Probability is an independent Bernoulli draw,
// not a share of a distribution.
type Def struct {
	ID                  string  `json:"id" validate:"required"`
	Name                string  `json:"name"`
	Probability         float64 `json:"probability" validate:"gte=0,lte=1"`
	Priority            int     `json:"priority" validate:"gte=0"`
	Enabled             bool    `json:"enabled"`
	ExitAfterCompletion bool    `json:"exit_after_completion"`
	Steps               []Step  `json:"steps" validate:"required,min=1,dive"`
}

type fileSchema struct {
	Funnels []Def `json:"funnels" validate:"dive"`
}

// Load reads funnels.json. An empty path yields an empty set; a named file
// that is missing or malformed is a hard error so a typo never silently
// degrades to random-only traffic.
func Load(path string) ([]Def, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: funnels: %v", catalog.ErrCatalog, err)
	}

	var f fileSchema
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: funnels: parsing %s: %v", catalog.ErrCatalog, path, err)
	}
	if err := Validate(f.Funnels); err != nil {
		return nil, fmt.Errorf("%w: funnels: %s: %v", catalog.ErrCatalog, path, err)
	}
	return f.Funnels, nil
}

// Validate checks structural and cross-field rules the struct tags cannot
// express.
func Validate(defs []Def) error {
	seen := make(map[string]bool, len(defs))
	for i := range defs {
		d := &defs[i]
		if err := validation.ValidateStruct(d); err != nil {
			return fmt.Errorf("funnel %q: %w", d.ID, err)
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate funnel id %q", d.ID)
		}
		seen[d.ID] = true

		for j := range d.Steps {
			if err := validateStep(&d.Steps[j]); err != nil {
				return fmt.Errorf("funnel %q step %d: %w", d.ID, j, err)
			}
		}
	}
	return nil
}

func validateStep(s *Step) error {
	if _, err := s.Kind(); err != nil {
		return err
	}
	if s.DelayMaxS < s.DelayMinS {
		return fmt.Errorf("delay_max_s %.1f < delay_min_s %.1f", s.DelayMaxS, s.DelayMinS)
	}
	switch s.Type {
	case StepOutlink, StepDownload:
		if s.URL == "" {
			return fmt.Errorf("%s step requires a url", s.Type)
		}
	case StepPageview:
		if s.URL == "" {
			return fmt.Errorf("pageview step requires a url")
		}
	}
	return nil
}

// Sorted returns the enabled funnels in selection order: priority ascending,
// definition order on ties. The input slice is not modified.
func Sorted(defs []Def) []Def {
	out := make([]Def, 0, len(defs))
	for _, d := range defs {
		if d.Enabled {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}
