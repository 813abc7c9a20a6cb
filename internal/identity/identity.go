// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

// Package identity allocates per-session visitor identities: visitor id,
// user agent, country and IP, referrer and locale. Identities live for one
// visit and are never persisted.
package identity

import (
	"fmt"
	"math/rand/v2"
	"net/netip"

	"github.com/tomtom215/visitforge/internal/catalog"
)

// Visitor is one simulated browser identity, stable for a single visit.
type Visitor struct {
	// ID is 16 lowercase hex chars, Matomo's _id format.
	ID          string
	UserAgent   string
	CountryCode string
	IP          string
	Timezone    string
	Language    string

	// Referrer is the external traffic source; zero-value Kind "direct"
	// means no urlref on the first pageview.
	Referrer catalog.Referrer
}

// Generator draws visitor identities from the catalog tables.
type Generator struct {
	cat *catalog.Catalog

	// directProb is the effective direct-traffic share; non-direct referrer
	// weights renormalize around it.
	directProb float64

	// fallbackLanguage is used when the drawn country has no language hint.
	fallbackLanguage string
}

// NewGenerator builds a Generator. directProb overrides the catalog's
// built-in direct share; fallbackLanguage fills in for countries without a
// language hint.
func NewGenerator(cat *catalog.Catalog, directProb float64, fallbackLanguage string) *Generator {
	return &Generator{
		cat:              cat,
		directProb:       directProb,
		fallbackLanguage: fallbackLanguage,
	}
}

// New draws a fresh visitor identity. The rng is owned by the calling worker
// and must not be shared across goroutines.
func (g *Generator) New(rng *rand.Rand) Visitor {
	v := Visitor{
		ID:        FormatVisitorID(rng.Uint64()),
		UserAgent: g.pickUserAgent(rng),
		Referrer:  g.pickReferrer(rng),
		Language:  g.fallbackLanguage,
	}

	if country := g.pickCountry(rng); country != nil {
		v.CountryCode = country.Code
		v.IP = sampleIP(rng, country.Prefixes())
		v.Timezone = country.Timezone
		if country.Language != "" {
			v.Language = country.Language
		}
	}

	return v
}

// FormatVisitorID renders a 64-bit value as Matomo's 16-hex-char _id.
func FormatVisitorID(id uint64) string {
	return fmt.Sprintf("%016x", id)
}

func (g *Generator) pickUserAgent(rng *rand.Rand) string {
	if len(g.cat.UserAgents) == 0 {
		return ""
	}
	total := 0.0
	for _, ua := range g.cat.UserAgents {
		total += ua.Weight
	}
	r := rng.Float64() * total
	for _, ua := range g.cat.UserAgents {
		r -= ua.Weight
		if r <= 0 {
			return ua.Value
		}
	}
	return g.cat.UserAgents[len(g.cat.UserAgents)-1].Value
}

// pickReferrer draws direct with directProb, otherwise a weighted non-direct
// entry.
func (g *Generator) pickReferrer(rng *rand.Rand) catalog.Referrer {
	if rng.Float64() < g.directProb {
		return catalog.Referrer{Kind: catalog.ReferrerDirect}
	}

	total := 0.0
	for _, ref := range g.cat.Referrers {
		if ref.Kind != catalog.ReferrerDirect {
			total += ref.Weight
		}
	}
	if total == 0 {
		return catalog.Referrer{Kind: catalog.ReferrerDirect}
	}

	r := rng.Float64() * total
	for _, ref := range g.cat.Referrers {
		if ref.Kind == catalog.ReferrerDirect {
			continue
		}
		r -= ref.Weight
		if r <= 0 {
			return ref
		}
	}
	return catalog.Referrer{Kind: catalog.ReferrerDirect}
}

func (g *Generator) pickCountry(rng *rand.Rand) *catalog.Country {
	if len(g.cat.Countries) == 0 {
		return nil
	}

	total := 0.0
	for i := range g.cat.Countries {
		total += g.cat.Countries[i].Weight
	}
	r := rng.Float64() * total
	for i := range g.cat.Countries {
		r -= g.cat.Countries[i].Weight
		if r <= 0 {
			return &g.cat.Countries[i]
		}
	}
	return &g.cat.Countries[len(g.cat.Countries)-1]
}

// sampleIP draws a uniform address from the union of the prefixes, weighting
// each prefix by its size so small ranges are not over-represented.
func sampleIP(rng *rand.Rand, prefixes []netip.Prefix) string {
	if len(prefixes) == 0 {
		return ""
	}

	sizes := make([]uint64, len(prefixes))
	var total uint64
	for i, p := range prefixes {
		sizes[i] = prefixSize(p)
		total += sizes[i]
	}

	r := rng.Uint64N(total)
	idx := 0
	for i, s := range sizes {
		if r < s {
			idx = i
			break
		}
		r -= s
	}

	return addrAt(prefixes[idx], rng.Uint64N(sizes[idx])).String()
}

// prefixSize returns the number of addresses covered by p.
func prefixSize(p netip.Prefix) uint64 {
	hostBits := p.Addr().BitLen() - p.Bits()
	if hostBits >= 64 {
		hostBits = 63 // cap huge v6 ranges; uniformity within the cap is fine
	}
	return uint64(1) << hostBits
}

// addrAt returns the offset-th address inside the prefix.
func addrAt(p netip.Prefix, offset uint64) netip.Addr {
	addr := p.Masked().Addr()
	if addr.Is4() {
		a4 := addr.As4()
		base := uint64(a4[0])<<24 | uint64(a4[1])<<16 | uint64(a4[2])<<8 | uint64(a4[3])
		base += offset
		return netip.AddrFrom4([4]byte{
			byte(base >> 24), byte(base >> 16), byte(base >> 8), byte(base),
		})
	}

	a16 := addr.As16()
	// Apply the offset to the low 64 bits; sufficient for any prefix we cap.
	low := uint64(0)
	for i := 8; i < 16; i++ {
		low = low<<8 | uint64(a16[i])
	}
	low += offset
	for i := 15; i >= 8; i-- {
		a16[i] = byte(low)
		low >>= 8
	}
	return netip.AddrFrom16(a16)
}
