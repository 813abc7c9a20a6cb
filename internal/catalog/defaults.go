// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

package catalog

// DefaultReferrers returns the built-in traffic-source mix. The direct share
// is overridden by DIRECT_TRAFFIC_PROBABILITY at identity-generator
// construction; the remaining weights renormalize around it.
func DefaultReferrers() []Referrer {
	return []Referrer{
		{Kind: ReferrerSearch, URL: "https://www.google.com/search", SearchTerms: "product review", Weight: 0.20},
		{Kind: ReferrerSearch, URL: "https://www.bing.com/search", SearchTerms: "buying guide", Weight: 0.10},
		{Kind: ReferrerSearch, URL: "https://duckduckgo.com/", SearchTerms: "how to choose", Weight: 0.05},
		{Kind: ReferrerSocial, URL: "https://www.facebook.com/", Weight: 0.06},
		{Kind: ReferrerSocial, URL: "https://www.linkedin.com/feed/", Weight: 0.05},
		{Kind: ReferrerSocial, URL: "https://t.co/", Weight: 0.04},
		{Kind: ReferrerReferral, URL: "https://news.ycombinator.com/", Weight: 0.08},
		{Kind: ReferrerReferral, URL: "https://www.reddit.com/r/webdev/", Weight: 0.07},
		{Kind: ReferrerReferral, URL: "https://partner.example.net/recommended", Weight: 0.05},
		{Kind: ReferrerDirect, Weight: 0.30},
	}
}

// defaultOutlinks are external targets for outlink actions.
func defaultOutlinks() []string {
	return []string{
		"https://github.com/example/widgets",
		"https://docs.partner.example.net/integration",
		"https://www.youtube.com/watch?v=demo-widget",
		"https://stats.example.org/industry-report",
		"https://blog.supplier.example.com/materials",
	}
}

// defaultDownloads are download targets; relative paths exercise the
// absolutization against the containing page.
func defaultDownloads() []string {
	return []string{
		"/files/catalog-2026.pdf",
		"/files/datasheet-widget-a.pdf",
		"/files/installation-guide.pdf",
		"files/warranty-terms.pdf",
		"https://cdn.example.com/brochures/company-overview.pdf",
	}
}

// defaultSearchTerms feed the site-search action.
func defaultSearchTerms() []string {
	return []string{
		"widget",
		"gadget pro",
		"replacement parts",
		"shipping cost",
		"installation guide",
		"warranty",
		"discount code",
		"blue widget xl",
	}
}
