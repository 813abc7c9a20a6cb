// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

// Package tracker maps typed visit actions onto Matomo tracking requests.
// Build is deterministic: the same action, session and pinned rand source
// always produce the same query.
package tracker

import (
	"time"

	"github.com/tomtom215/visitforge/internal/catalog"
	"github.com/tomtom215/visitforge/internal/identity"
)

// Kind enumerates the trackable action variants.
type Kind int

// Action kinds. Pageview is the only kind permitted at index 0 of a visit.
const (
	KindPageview Kind = iota
	KindSiteSearch
	KindOutlink
	KindDownload
	KindClickEvent
	KindRandomEvent
	KindEcommerce
)

// String returns the lowercase kind name used in logs and metrics labels.
func (k Kind) String() string {
	switch k {
	case KindPageview:
		return "pageview"
	case KindSiteSearch:
		return "sitesearch"
	case KindOutlink:
		return "outlink"
	case KindDownload:
		return "download"
	case KindClickEvent:
		return "click_event"
	case KindRandomEvent:
		return "random_event"
	case KindEcommerce:
		return "ecommerce"
	default:
		return "unknown"
	}
}

// Search carries the site-search payload.
type Search struct {
	Query    string
	Category string
	Count    int // result count; negative means "omit"
}

// OrderItem is one ec_items row.
type OrderItem struct {
	SKU      string
	Name     string
	Category string
	Price    float64
	Quantity int
}

// Order carries the ecommerce-order payload.
type Order struct {
	ID       string // ec_id, a UUID
	Items    []OrderItem
	Revenue  float64
	Subtotal float64
	Tax      float64
	Shipping float64
	Currency string
}

// Action is the tagged union of everything a visit can emit. Kind selects
// the variant; exactly the matching payload field is read.
type Action struct {
	Kind Kind

	// Timestamp becomes cdt. Retries reuse it unchanged.
	Timestamp time.Time

	Page     catalog.URL // KindPageview
	Search   *Search     // KindSiteSearch
	Link     string      // KindOutlink: absolute external target
	Download string      // KindDownload: absolute or relative target
	Event    *catalog.EventDef
	Order    *Order // KindEcommerce
}

// Session is the per-visit context the builder reads. The engine owns and
// mutates it between actions; the builder never writes it.
type Session struct {
	Visitor identity.Visitor

	// CurrentURL is the last pageview URL, the value of the url param for
	// non-navigation actions.
	CurrentURL string

	// LastPageviewURL backs urlref for outlinks and downloads.
	LastPageviewURL string

	// ActionsEmitted counts emitted actions; 0 means the next action opens
	// the visit and must be a pageview.
	ActionsEmitted int
}
