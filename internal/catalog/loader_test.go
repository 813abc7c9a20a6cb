// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tomtom215/visitforge/internal/config"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	cat, err := Load(config.CatalogConfig{MinURLs: 1})
	if err != nil {
		t.Fatalf("Load() with embedded defaults: %v", err)
	}

	if len(cat.URLs) < 2 {
		t.Errorf("embedded urls.txt has %d URLs, want several", len(cat.URLs))
	}
	if len(cat.UserAgents) == 0 {
		t.Error("embedded user agent list is empty")
	}
	if len(cat.Countries) == 0 {
		t.Error("embedded country table is empty")
	}
	for _, c := range cat.Countries {
		if len(c.Prefixes()) == 0 {
			t.Errorf("country %s has no parsed prefixes", c.Code)
		}
	}
	if len(cat.Events.ClickEvents) == 0 {
		t.Error("embedded click events are empty")
	}
	if len(cat.Products) == 0 {
		t.Error("embedded product catalog is empty")
	}
}

func TestLoadDataDirOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "urls.txt", "https://override.example/a/b/c\tOverride\n")

	cat, err := Load(config.CatalogConfig{DataDir: dir, MinURLs: 1})
	if err != nil {
		t.Fatalf("Load() with data dir: %v", err)
	}
	if len(cat.URLs) != 1 || cat.URLs[0].Href != "https://override.example/a/b/c" {
		t.Errorf("data dir urls.txt not used: %+v", cat.URLs)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(config.CatalogConfig{URLsFile: "/nonexistent/urls.txt", MinURLs: 1})
	if !errors.Is(err, ErrCatalog) {
		t.Fatalf("Load() = %v, want ErrCatalog for explicit missing file", err)
	}
}

func TestLoadMinURLs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "urls.txt", "https://x.example/a/b/c\n")

	_, err := Load(config.CatalogConfig{DataDir: dir, MinURLs: 5})
	if !errors.Is(err, ErrCatalog) {
		t.Fatalf("Load() = %v, want ErrCatalog when below min_urls", err)
	}
}

func TestFindOptional(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "funnels.json", `{"funnels":[]}`)

	cfg := config.CatalogConfig{DataDir: dir}

	if path, ok := FindOptional(cfg, "", "funnels.json"); !ok || path != filepath.Join(dir, "funnels.json") {
		t.Errorf("FindOptional() = %q, %v", path, ok)
	}
	if _, ok := FindOptional(cfg, "", "missing.json"); ok {
		t.Error("FindOptional() found a file that does not exist")
	}
	// Explicit paths pass through untouched, even when missing.
	if path, ok := FindOptional(cfg, "/etc/funnels.json", "funnels.json"); !ok || path != "/etc/funnels.json" {
		t.Errorf("FindOptional(explicit) = %q, %v", path, ok)
	}
}

func TestNewCountry(t *testing.T) {
	c, err := NewCountry("SE", 1.0, "193.10.0.0/16")
	if err != nil {
		t.Fatalf("NewCountry(): %v", err)
	}
	if len(c.Prefixes()) != 1 {
		t.Errorf("prefixes = %v", c.Prefixes())
	}

	if _, err := NewCountry("", 1.0, "10.0.0.0/8"); err == nil {
		t.Error("NewCountry() accepted empty code")
	}
	if _, err := NewCountry("SE", 1.0); err == nil {
		t.Error("NewCountry() accepted empty CIDR list")
	}
	if _, err := NewCountry("SE", 1.0, "not-a-cidr"); err == nil {
		t.Error("NewCountry() accepted malformed CIDR")
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}
