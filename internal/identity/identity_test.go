// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

package identity

import (
	"math/rand/v2"
	"net/netip"
	"regexp"
	"testing"

	"github.com/tomtom215/visitforge/internal/catalog"
)

var visitorIDRe = regexp.MustCompile(`^[0-9a-f]{16}$`)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	se, err := catalog.NewCountry("se", 0.7, "193.10.0.0/16")
	if err != nil {
		t.Fatal(err)
	}
	de, err := catalog.NewCountry("de", 0.3, "81.169.0.0/16", "2a01:238::/32")
	if err != nil {
		t.Fatal(err)
	}
	return &catalog.Catalog{
		UserAgents: []catalog.UserAgent{
			{Value: "Mozilla/5.0 (X11; Linux x86_64) Firefox/133.0", Weight: 1},
		},
		Referrers: []catalog.Referrer{
			{Kind: catalog.ReferrerSearch, URL: "https://www.google.com/", Weight: 0.5},
			{Kind: catalog.ReferrerSocial, URL: "https://www.facebook.com/", Weight: 0.5},
			{Kind: catalog.ReferrerDirect, Weight: 0.3},
		},
		Countries: []catalog.Country{se, de},
	}
}

func TestFormatVisitorID(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0000000000000000"},
		{0xdeadbeef, "00000000deadbeef"},
		{^uint64(0), "ffffffffffffffff"},
	}
	for _, tt := range tests {
		if got := FormatVisitorID(tt.in); got != tt.want {
			t.Errorf("FormatVisitorID(%#x) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewVisitorShape(t *testing.T) {
	gen := NewGenerator(testCatalog(t), 0.3, "en-US")
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 200; i++ {
		v := gen.New(rng)

		if !visitorIDRe.MatchString(v.ID) {
			t.Fatalf("visitor id %q does not match 16 lowercase hex", v.ID)
		}
		if v.UserAgent == "" {
			t.Fatal("empty user agent")
		}
		if v.CountryCode != "se" && v.CountryCode != "de" {
			t.Fatalf("unexpected country %q", v.CountryCode)
		}
		if v.Language == "" {
			t.Fatal("empty language")
		}

		addr, err := netip.ParseAddr(v.IP)
		if err != nil {
			t.Fatalf("visitor IP %q: %v", v.IP, err)
		}
		if !ipInCatalog(t, addr) {
			t.Fatalf("IP %s outside all configured CIDRs", addr)
		}
	}
}

func ipInCatalog(t *testing.T, addr netip.Addr) bool {
	t.Helper()
	for _, c := range testCatalog(t).Countries {
		for _, p := range c.Prefixes() {
			if p.Contains(addr) {
				return true
			}
		}
	}
	return false
}

func TestReferrerDirectProbability(t *testing.T) {
	cat := testCatalog(t)

	t.Run("always direct", func(t *testing.T) {
		gen := NewGenerator(cat, 1.0, "en-US")
		rng := rand.New(rand.NewPCG(3, 4))
		for i := 0; i < 100; i++ {
			if ref := gen.New(rng).Referrer; ref.Kind != catalog.ReferrerDirect {
				t.Fatalf("draw %d: got %s, want direct", i, ref.Kind)
			}
		}
	})

	t.Run("never direct", func(t *testing.T) {
		gen := NewGenerator(cat, 0.0, "en-US")
		rng := rand.New(rand.NewPCG(5, 6))
		for i := 0; i < 100; i++ {
			ref := gen.New(rng).Referrer
			if ref.Kind == catalog.ReferrerDirect {
				t.Fatalf("draw %d: got direct with probability 0", i)
			}
			if ref.URL == "" {
				t.Fatalf("draw %d: non-direct referrer without URL", i)
			}
		}
	})
}
