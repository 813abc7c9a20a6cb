// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

package catalog

import (
	"bytes"
	"embed"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/tomtom215/visitforge/internal/config"
	"github.com/tomtom215/visitforge/internal/logging"
)

//go:embed defaults/urls.txt defaults/events.json defaults/countries.json defaults/user_agents.json defaults/products.json
var defaultsFS embed.FS

// Load builds the catalog from the configured sources. Per file the first
// available source wins: explicit path, data dir, mount dir, embedded
// default. Any unreadable or malformed input aborts the load with an error
// wrapping ErrCatalog.
func Load(cfg config.CatalogConfig) (*Catalog, error) {
	cat := &Catalog{
		Referrers:   DefaultReferrers(),
		Outlinks:    defaultOutlinks(),
		Downloads:   defaultDownloads(),
		SearchTerms: defaultSearchTerms(),
	}

	raw, src, err := resolve(cfg, cfg.URLsFile, "urls.txt")
	if err != nil {
		return nil, err
	}
	cat.URLs, err = ParseURLs(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if len(cat.URLs) < cfg.MinURLs {
		return nil, catalogErrorf("urls.txt (%s) has %d URLs, need at least %d", src, len(cat.URLs), cfg.MinURLs)
	}
	if len(cat.URLs) < 2 {
		logging.Warn().
			Str("source", src).
			Int("urls", len(cat.URLs)).
			Msg("URL catalog is very small; reports will look flat")
	}
	cat.Summary = Summarize(cat.URLs)

	if err := loadJSONTable(cfg, cfg.EventsFile, "events.json", &cat.Events); err != nil {
		return nil, err
	}
	if err := validateEvents(&cat.Events); err != nil {
		return nil, err
	}

	var countriesDoc struct {
		Countries []Country `json:"countries"`
	}
	if err := loadJSONTable(cfg, cfg.CountriesFile, "countries.json", &countriesDoc); err != nil {
		return nil, err
	}
	cat.Countries = countriesDoc.Countries
	if err := parseCIDRs(cat.Countries); err != nil {
		return nil, err
	}

	var uaDoc struct {
		UserAgents []UserAgent `json:"user_agents"`
	}
	if err := loadJSONTable(cfg, cfg.UserAgentsFile, "user_agents.json", &uaDoc); err != nil {
		return nil, err
	}
	cat.UserAgents = uaDoc.UserAgents
	if len(cat.UserAgents) == 0 {
		return nil, catalogErrorf("user agent list is empty")
	}

	var productsDoc struct {
		Products []Product `json:"products"`
	}
	if err := loadJSONTable(cfg, "", "products.json", &productsDoc); err != nil {
		return nil, err
	}
	cat.Products = productsDoc.Products

	logging.Info().
		Int("urls", len(cat.URLs)).
		Int("categories", len(cat.Summary.Categories)).
		Int("user_agents", len(cat.UserAgents)).
		Int("countries", len(cat.Countries)).
		Int("click_events", len(cat.Events.ClickEvents)).
		Int("random_events", len(cat.Events.RandomEvents)).
		Int("products", len(cat.Products)).
		Msg("catalog loaded")

	return cat, nil
}

// resolve returns the raw bytes of one input plus a source label for logs.
func resolve(cfg config.CatalogConfig, explicit, name string) ([]byte, string, error) {
	candidates := make([]string, 0, 3)
	if explicit != "" {
		candidates = append(candidates, explicit)
	}
	if cfg.DataDir != "" {
		candidates = append(candidates, filepath.Join(cfg.DataDir, name))
	}
	if cfg.MountDir != "" {
		candidates = append(candidates, filepath.Join(cfg.MountDir, name))
	}

	for i, path := range candidates {
		raw, err := os.ReadFile(path)
		if err == nil {
			return raw, path, nil
		}
		if !os.IsNotExist(err) {
			return nil, "", catalogErrorf("reading %s: %v", path, err)
		}
		// An explicit path that does not exist is an operator mistake, not a
		// fall-through.
		if i == 0 && explicit != "" {
			return nil, "", catalogErrorf("configured file %s does not exist", path)
		}
	}

	raw, err := defaultsFS.ReadFile("defaults/" + name)
	if err != nil {
		return nil, "", catalogErrorf("embedded default %s: %v", name, err)
	}
	return raw, "embedded:" + name, nil
}

// FindOptional locates an input file with no embedded fallback, e.g.
// funnels.json. An explicit path is returned as-is so a typo surfaces as a
// read error instead of silently disabling the feature; otherwise the data
// and mount dirs are probed and ok is false when nothing exists.
func FindOptional(cfg config.CatalogConfig, explicit, name string) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	for _, dir := range []string{cfg.DataDir, cfg.MountDir} {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// loadJSONTable resolves and unmarshals one JSON input into out.
func loadJSONTable(cfg config.CatalogConfig, explicit, name string, out interface{}) error {
	raw, src, err := resolve(cfg, explicit, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return catalogErrorf("%s (%s): %v", name, src, err)
	}
	return nil
}

// validateEvents checks the events.json schema constraints.
func validateEvents(es *EventSet) error {
	check := func(defs []EventDef, kind EventKind, key string) error {
		for i, d := range defs {
			if d.Category == "" || d.Action == "" {
				return catalogErrorf("events.json %s[%d]: category and action are required", key, i)
			}
			if d.Kind == "" {
				defs[i].Kind = kind
			}
		}
		return nil
	}
	if err := check(es.ClickEvents, EventClick, "click_events"); err != nil {
		return err
	}
	if err := check(es.RandomEvents, EventRandom, "random_events"); err != nil {
		return err
	}
	for _, p := range []*float64{es.ClickEventsProbability, es.RandomEventsProbability} {
		if p != nil && (*p < 0 || *p > 1) {
			return catalogErrorf("events.json probability %g outside [0,1]", *p)
		}
	}
	return nil
}

// parseCIDRs parses every country's CIDR list once at load time.
func parseCIDRs(countries []Country) error {
	for i := range countries {
		c := &countries[i]
		if c.Code == "" {
			return catalogErrorf("countries.json entry %d: country_code is required", i)
		}
		if len(c.CIDRs) == 0 {
			return catalogErrorf("countries.json %s: at least one CIDR is required", c.Code)
		}
		c.prefixes = make([]netip.Prefix, 0, len(c.CIDRs))
		for _, raw := range c.CIDRs {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return catalogErrorf("countries.json %s: CIDR %q: %v", c.Code, raw, err)
			}
			c.prefixes = append(c.prefixes, p.Masked())
		}
	}
	return nil
}
