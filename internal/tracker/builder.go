// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

package tracker

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/visitforge/internal/logging"
)

// ErrFirstAction is returned when a non-pageview action would open a visit.
var ErrFirstAction = errors.New("first action of a visit must be a pageview")

// cdtLayout is Matomo's accepted custom-datetime format.
const cdtLayout = "2006-01-02 15:04:05"

// Request is one ready-to-dispatch tracking call. The dispatcher picks GET
// or POST from the encoded parameter size.
type Request struct {
	Endpoint string
	Params   url.Values

	// Kind is carried for per-kind bookkeeping; not part of the wire format.
	Kind Kind
}

// Config holds the static inputs of the builder.
type Config struct {
	// Endpoint is the full Matomo tracking URL.
	Endpoint string

	SiteID    int
	TokenAuth string

	// RandomizeCountries enables the cip/country override. Without TokenAuth
	// the override is silently skipped after a one-shot warning.
	RandomizeCountries bool

	// Zone renders cdt timestamps.
	Zone *time.Location

	// Resolution is emitted as res when non-empty.
	Resolution string

	// Rand supplies the per-request cache buster. Tests pin it.
	Rand func() int64
}

// Builder maps actions to tracking requests.
type Builder struct {
	cfg Config

	// geoWarnOnce guards the missing-token warning, at most once per process.
	geoWarnOnce sync.Once
}

// NewBuilder creates a Builder. A nil Rand defaults to a nanosecond clock
// source.
func NewBuilder(cfg Config) *Builder {
	if cfg.Rand == nil {
		cfg.Rand = func() int64 { return time.Now().UnixNano() }
	}
	if cfg.Zone == nil {
		cfg.Zone = time.UTC
	}
	return &Builder{cfg: cfg}
}

// Build maps one action in its session context to a tracking request.
func (b *Builder) Build(a *Action, s *Session) (Request, error) {
	if s.ActionsEmitted == 0 && a.Kind != KindPageview {
		return Request{}, fmt.Errorf("%w: got %s", ErrFirstAction, a.Kind)
	}

	p := url.Values{}
	p.Set("idsite", strconv.Itoa(b.cfg.SiteID))
	p.Set("rec", "1")
	p.Set("apiv", "1")
	p.Set("rand", strconv.FormatInt(b.cfg.Rand(), 10))
	p.Set("_id", s.Visitor.ID)
	if s.Visitor.UserAgent != "" {
		p.Set("ua", s.Visitor.UserAgent)
	}
	p.Set("cdt", a.Timestamp.In(b.cfg.Zone).Format(cdtLayout))
	if s.Visitor.Language != "" {
		p.Set("lang", s.Visitor.Language)
	}
	if b.cfg.Resolution != "" {
		p.Set("res", b.cfg.Resolution)
	}

	b.applyGeo(p, s)

	var err error
	switch a.Kind {
	case KindPageview:
		err = b.buildPageview(p, a, s)
	case KindSiteSearch:
		err = b.buildSiteSearch(p, a, s)
	case KindOutlink:
		err = b.buildOutlink(p, a, s)
	case KindDownload:
		err = b.buildDownload(p, a, s)
	case KindClickEvent, KindRandomEvent:
		err = b.buildEvent(p, a, s)
	case KindEcommerce:
		err = b.buildOrder(p, a, s)
	default:
		err = fmt.Errorf("unknown action kind %d", a.Kind)
	}
	if err != nil {
		return Request{}, err
	}

	return Request{Endpoint: b.cfg.Endpoint, Params: p, Kind: a.Kind}, nil
}

// applyGeo adds the geolocation override when enabled and authorized.
func (b *Builder) applyGeo(p url.Values, s *Session) {
	if !b.cfg.RandomizeCountries {
		return
	}
	if b.cfg.TokenAuth == "" {
		b.geoWarnOnce.Do(func() {
			logging.Warn().Msg("RANDOMIZE_VISITOR_COUNTRIES is set but MATOMO_TOKEN_AUTH is empty; geolocation overrides disabled")
		})
		return
	}
	if s.Visitor.IP == "" || s.Visitor.CountryCode == "" {
		return
	}
	p.Set("cip", s.Visitor.IP)
	p.Set("country", s.Visitor.CountryCode)
	p.Set("token_auth", b.cfg.TokenAuth)
}

func (b *Builder) buildPageview(p url.Values, a *Action, s *Session) error {
	if a.Page.Href == "" {
		return errors.New("pageview without a page")
	}
	p.Set("url", a.Page.Href)
	if a.Page.Title != "" {
		p.Set("action_name", a.Page.Title)
	} else {
		p.Set("action_name", a.Page.Href)
	}

	// External referrer opens the visit; afterwards the previous pageview
	// is the referrer.
	if s.ActionsEmitted == 0 {
		if ref := s.Visitor.Referrer.URL; ref != "" {
			p.Set("urlref", ref)
		}
	} else if s.LastPageviewURL != "" {
		p.Set("urlref", s.LastPageviewURL)
	}
	return nil
}

func (b *Builder) buildSiteSearch(p url.Values, a *Action, s *Session) error {
	if a.Search == nil || a.Search.Query == "" {
		return errors.New("sitesearch without a query")
	}
	p.Set("url", s.CurrentURL)
	p.Set("urlref", s.LastPageviewURL)
	p.Set("search", a.Search.Query)
	if a.Search.Category != "" {
		p.Set("search_cat", a.Search.Category)
	}
	if a.Search.Count >= 0 {
		p.Set("search_count", strconv.Itoa(a.Search.Count))
	}
	return nil
}

func (b *Builder) buildOutlink(p url.Values, a *Action, s *Session) error {
	if a.Link == "" {
		return errors.New("outlink without a target")
	}
	// url stays the page containing the link.
	p.Set("url", s.CurrentURL)
	p.Set("link", a.Link)
	p.Set("urlref", s.LastPageviewURL)
	return nil
}

func (b *Builder) buildDownload(p url.Values, a *Action, s *Session) error {
	abs, err := AbsolutizeDownload(a.Download, s.LastPageviewURL)
	if err != nil {
		return err
	}
	p.Set("url", s.CurrentURL)
	p.Set("download", abs)
	p.Set("urlref", s.LastPageviewURL)
	return nil
}

func (b *Builder) buildEvent(p url.Values, a *Action, s *Session) error {
	if a.Event == nil || a.Event.Category == "" || a.Event.Action == "" {
		return errors.New("event without category/action")
	}
	p.Set("url", s.CurrentURL)
	p.Set("urlref", s.LastPageviewURL)
	p.Set("e_c", a.Event.Category)
	p.Set("e_a", a.Event.Action)
	if a.Event.Name != "" {
		p.Set("e_n", a.Event.Name)
	}
	if a.Event.Value != 0 {
		p.Set("e_v", strconv.FormatFloat(a.Event.Value, 'f', -1, 64))
	}
	return nil
}

func (b *Builder) buildOrder(p url.Values, a *Action, s *Session) error {
	o := a.Order
	if o == nil || o.ID == "" {
		return errors.New("ecommerce order without an id")
	}
	p.Set("url", s.CurrentURL)
	p.Set("urlref", s.LastPageviewURL)
	p.Set("idgoal", "0")
	p.Set("ec_id", o.ID)
	p.Set("revenue", formatAmount(o.Revenue))
	if o.Subtotal > 0 {
		p.Set("ec_st", formatAmount(o.Subtotal))
	}
	if o.Tax > 0 {
		p.Set("ec_tx", formatAmount(o.Tax))
	}
	if o.Shipping > 0 {
		p.Set("ec_sh", formatAmount(o.Shipping))
	}
	if o.Currency != "" {
		p.Set("currency", o.Currency)
	}

	items, err := encodeItems(o.Items)
	if err != nil {
		return err
	}
	p.Set("ec_items", items)
	return nil
}

// encodeItems renders ec_items as Matomo's positional JSON array:
// [["sku","name","category",price,qty], ...].
func encodeItems(items []OrderItem) (string, error) {
	rows := make([][]interface{}, 0, len(items))
	for _, it := range items {
		rows = append(rows, []interface{}{it.SKU, it.Name, it.Category, it.Price, it.Quantity})
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("encoding ec_items: %w", err)
	}
	return string(raw), nil
}

// AbsolutizeDownload resolves a possibly relative download target against
// the page that linked it. The result is always absolute http(s).
func AbsolutizeDownload(target, base string) (string, error) {
	if target == "" {
		return "", errors.New("download without a target")
	}

	t, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("download target %q: %w", target, err)
	}
	if t.IsAbs() {
		if t.Scheme != "http" && t.Scheme != "https" {
			return "", fmt.Errorf("download target %q: not http(s)", target)
		}
		return t.String(), nil
	}

	if base == "" {
		return "", fmt.Errorf("relative download %q with no pageview to resolve against", target)
	}
	bu, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("download base %q: %w", base, err)
	}
	return bu.ResolveReference(t).String(), nil
}

// formatAmount renders money with two decimals, Matomo style.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
