// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

// Package catalog loads the read-only data tables every visit draws from:
// the site URL hierarchy, user agents, referrers, country/IP ranges, event
// definitions and the product catalog.
//
// Each input resolves from the first available source: an explicit file path,
// the writable data directory, the mount directory, then the embedded
// default. The catalog is loaded once at startup and shared immutable.
package catalog

import (
	"errors"
	"fmt"
	"net/netip"
)

// ErrCatalog marks catalog load errors. The process exits with code 3 when
// loading fails with an error wrapping it.
var ErrCatalog = errors.New("catalog error")

// URL is one page of the simulated site. Category and subcategory derive
// from the first two path segments.
type URL struct {
	Href        string `json:"href"`
	Title       string `json:"title,omitempty"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
}

// ReferrerKind classifies the traffic source of a visit.
type ReferrerKind string

// Referrer kinds.
const (
	ReferrerSearch   ReferrerKind = "search"
	ReferrerSocial   ReferrerKind = "social"
	ReferrerReferral ReferrerKind = "referral"
	ReferrerDirect   ReferrerKind = "direct"
)

// Referrer is one weighted entry of the traffic-source mix.
type Referrer struct {
	Kind        ReferrerKind `json:"kind"`
	URL         string       `json:"url,omitempty"`
	SearchTerms string       `json:"search_terms,omitempty"`
	Weight      float64      `json:"weight"`
}

// Country is one weighted entry of the country/IP table.
type Country struct {
	Code     string   `json:"country_code"`
	Weight   float64  `json:"weight"`
	CIDRs    []string `json:"cidrs"`
	Timezone string   `json:"timezone_hint,omitempty"`
	Language string   `json:"language,omitempty"`

	// prefixes holds the parsed CIDRs; populated at load time.
	prefixes []netip.Prefix
}

// Prefixes returns the parsed CIDR ranges.
func (c *Country) Prefixes() []netip.Prefix { return c.prefixes }

// NewCountry builds a Country with its CIDRs parsed. Entries arriving via
// countries.json are parsed at load time instead.
func NewCountry(code string, weight float64, cidrs ...string) (Country, error) {
	if code == "" {
		return Country{}, catalogErrorf("country_code is required")
	}
	if len(cidrs) == 0 {
		return Country{}, catalogErrorf("%s: at least one CIDR is required", code)
	}

	c := Country{Code: code, Weight: weight, CIDRs: cidrs}
	c.prefixes = make([]netip.Prefix, 0, len(cidrs))
	for _, raw := range cidrs {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return Country{}, catalogErrorf("CIDR %q: %v", raw, err)
		}
		c.prefixes = append(c.prefixes, p.Masked())
	}
	return c, nil
}

// UserAgent is one weighted browser identity.
type UserAgent struct {
	Value  string  `json:"value"`
	Weight float64 `json:"weight"`
}

// EventKind distinguishes click events from random (background) events.
type EventKind string

// Event kinds.
const (
	EventClick  EventKind = "click"
	EventRandom EventKind = "random"
)

// EventDef is one custom-event template.
type EventDef struct {
	Kind     EventKind `json:"kind"`
	Category string    `json:"category"`
	Action   string    `json:"action"`
	Name     string    `json:"name,omitempty"`
	Value    float64   `json:"value,omitempty"`
}

// Product is one entry of the synthetic product catalog.
type Product struct {
	SKU             string  `json:"sku"`
	Name            string  `json:"name"`
	Category        string  `json:"category"`
	PriceMin        float64 `json:"price_min"`
	PriceMax        float64 `json:"price_max"`
	CurrencyDefault string  `json:"currency_default,omitempty"`
}

// Catalog is the immutable bundle of all loaded tables.
type Catalog struct {
	URLs       []URL
	Summary    StructureSummary
	UserAgents []UserAgent
	Referrers  []Referrer
	Countries  []Country
	Events     EventSet
	Products   []Product

	// Static tables for actions whose targets live outside the URL catalog.
	Outlinks    []string
	Downloads   []string
	SearchTerms []string
}

// EventSet groups the loaded event definitions plus the optional probability
// overrides carried by events.json.
type EventSet struct {
	ClickEvents  []EventDef `json:"click_events"`
	RandomEvents []EventDef `json:"random_events"`

	// Optional per-file probability overrides; nil means "use config".
	ClickEventsProbability  *float64 `json:"click_events_probability,omitempty"`
	RandomEventsProbability *float64 `json:"random_events_probability,omitempty"`
}

// catalogErrorf builds an error wrapping ErrCatalog.
func catalogErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrCatalog}, args...)...)
}
