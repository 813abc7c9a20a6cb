// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

package catalog

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
)

// StructureSummary aggregates per-category and per-subcategory page counts.
// The UI preview and the round-trip tests both consume it.
type StructureSummary struct {
	Total         int
	Categories    map[string]int
	Subcategories map[string]map[string]int
}

// ParseURLs reads a urls.txt stream: one URL per line, optional tab-separated
// title, '#' comments and blank lines ignored, LF or CRLF endings. Every URL
// must be absolute http(s); anything else fails the whole load.
func ParseURLs(r io.Reader) ([]URL, error) {
	var urls []URL

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		href, title := line, ""
		if i := strings.IndexByte(line, '\t'); i >= 0 {
			href = strings.TrimSpace(line[:i])
			title = strings.TrimSpace(line[i+1:])
		}

		u, err := parsePageURL(href)
		if err != nil {
			return nil, catalogErrorf("urls.txt line %d: %v", lineNo, err)
		}
		u.Title = title
		urls = append(urls, u)
	}
	if err := scanner.Err(); err != nil {
		return nil, catalogErrorf("reading urls.txt: %v", err)
	}

	return urls, nil
}

// parsePageURL validates one catalog URL and derives its hierarchy.
func parsePageURL(href string) (URL, error) {
	u, err := url.Parse(href)
	if err != nil {
		return URL{}, fmt.Errorf("malformed URL %q: %v", href, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return URL{}, fmt.Errorf("URL %q is not absolute http(s)", href)
	}

	category, subcategory := splitHierarchy(u.Path)
	return URL{
		Href:        href,
		Category:    category,
		Subcategory: subcategory,
	}, nil
}

// splitHierarchy maps /{category}/{subcategory}/{page} path shapes onto the
// two hierarchy levels. Shorter paths collapse into "root".
func splitHierarchy(path string) (category, subcategory string) {
	segments := make([]string, 0, 4)
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}

	switch len(segments) {
	case 0:
		return "root", ""
	case 1:
		return "root", ""
	case 2:
		return segments[0], ""
	default:
		return segments[0], segments[1]
	}
}

// Summarize builds the structure summary for a URL set.
func Summarize(urls []URL) StructureSummary {
	s := StructureSummary{
		Total:         len(urls),
		Categories:    make(map[string]int),
		Subcategories: make(map[string]map[string]int),
	}
	for _, u := range urls {
		s.Categories[u.Category]++
		if u.Subcategory != "" {
			if s.Subcategories[u.Category] == nil {
				s.Subcategories[u.Category] = make(map[string]int)
			}
			s.Subcategories[u.Category][u.Subcategory]++
		}
	}
	return s
}

// Canonical re-emits the URL set as canonical urls.txt text: one URL per
// line, tab-separated title when present, LF endings. Parsing the output
// yields an identical set.
func Canonical(urls []URL) string {
	var b strings.Builder
	for _, u := range urls {
		b.WriteString(u.Href)
		if u.Title != "" {
			b.WriteByte('\t')
			b.WriteString(u.Title)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// CategoryNames returns the category names sorted for deterministic output.
func (s *StructureSummary) CategoryNames() []string {
	names := make([]string, 0, len(s.Categories))
	for name := range s.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
