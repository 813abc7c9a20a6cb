// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

// Package config loads and validates the immutable VisitForge configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in sensible defaults for all optional settings
//  2. Config File: optional YAML config file (config.yaml)
//  3. Environment Variables: override any setting (MATOMO_URL, CONCURRENCY, ...)
//
// The resulting Config is immutable after Load and safe for concurrent reads.
// Validation failures wrap ErrInvalid, which the entry point maps to exit
// code 2.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalid marks configuration errors. The process exits with code 2 when
// Load returns an error wrapping it.
var ErrInvalid = errors.New("invalid configuration")

// CapMode selects the interpretation of MAX_TOTAL_VISITS.
type CapMode string

// Cap modes. MAX_TOTAL_VISITS>0 together with CapModeOff is rejected as
// ambiguous; the operator must pick a semantic explicitly.
const (
	CapModeOff       CapMode = "off"        // no visit cap
	CapModeLifetime  CapMode = "lifetime"   // cap on visits since engine start, then auto-stop
	CapModeRolling24 CapMode = "rolling24h" // cap per rolling 24h window, pause and resume
)

// Config holds all VisitForge configuration.
type Config struct {
	Matomo    MatomoConfig    `koanf:"matomo"`
	Rate      RateConfig      `koanf:"rate"`
	Visit     VisitConfig     `koanf:"visit"`
	Behavior  BehaviorConfig  `koanf:"behavior"`
	Ecommerce EcommerceConfig `koanf:"ecommerce"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Backfill  BackfillConfig  `koanf:"backfill"`
	Ops       OpsConfig       `koanf:"ops"`
	Logging   LoggingConfig   `koanf:"logging"`

	// Timezone is the IANA zone used for visit clocks and cdt timestamps.
	Timezone string `koanf:"timezone" validate:"required,iana_tz"`
}

// MatomoConfig holds the tracking endpoint settings.
type MatomoConfig struct {
	// URL is the full tracking endpoint, e.g. https://matomo.example.com/matomo.php.
	URL string `koanf:"url" validate:"required,url"`

	// SiteID is the Matomo site id every request is attributed to.
	SiteID int `koanf:"site_id" validate:"min=1"`

	// TokenAuth is required only for the geolocation override (cip/country).
	TokenAuth string `koanf:"token_auth"`
}

// RateConfig controls launch pacing and visit caps.
type RateConfig struct {
	// TargetVisitsPerDay is smoothed into a continuous launch rate of
	// target/86400 sessions per second.
	TargetVisitsPerDay int `koanf:"target_visits_per_day" validate:"min=1"`

	// MaxTotalVisits is interpreted per CapMode. 0 disables.
	MaxTotalVisits int `koanf:"max_total_visits" validate:"min=0"`

	// CapMode: off, lifetime or rolling24h.
	CapMode CapMode `koanf:"cap_mode" validate:"cap_mode"`

	// AutoStopAfterHours stops the engine after this much wall time. 0 disables.
	AutoStopAfterHours float64 `koanf:"auto_stop_after_hours" validate:"min=0"`
}

// VisitConfig shapes individual visits.
type VisitConfig struct {
	PageviewsMin int `koanf:"pageviews_min" validate:"min=1,max=50"`
	PageviewsMax int `koanf:"pageviews_max" validate:"min=1,max=50"`

	// Concurrency is the number of worker slots running visits in parallel.
	Concurrency int `koanf:"concurrency" validate:"min=1,max=1000"`

	// Think-time between pageviews, seconds.
	PauseMinSeconds float64 `koanf:"pause_min_seconds" validate:"min=0"`
	PauseMaxSeconds float64 `koanf:"pause_max_seconds" validate:"min=0"`

	// Soft visit duration bounds, minutes. Pauses take precedence; the final
	// think-time is padded when a planned visit would undershoot the minimum.
	DurationMinMinutes float64 `koanf:"duration_min_minutes" validate:"min=0"`
	DurationMaxMinutes float64 `koanf:"duration_max_minutes" validate:"min=0"`

	// ShutdownGrace bounds how long in-flight visits may run after a
	// shutdown signal before being canceled.
	ShutdownGrace time.Duration `koanf:"shutdown_grace"`

	// Language and Resolution are emitted as lang/res when non-empty.
	Language   string `koanf:"language"`
	Resolution string `koanf:"resolution"`
}

// BehaviorConfig holds the per-visit special-action probabilities.
// Each probability is an independent per-visit coin.
type BehaviorConfig struct {
	SiteSearch    float64 `koanf:"sitesearch" validate:"min=0,max=1"`
	Outlinks      float64 `koanf:"outlinks" validate:"min=0,max=1"`
	Downloads     float64 `koanf:"downloads" validate:"min=0,max=1"`
	ClickEvents   float64 `koanf:"click_events" validate:"min=0,max=1"`
	RandomEvents  float64 `koanf:"random_events" validate:"min=0,max=1"`
	DirectTraffic float64 `koanf:"direct_traffic" validate:"min=0,max=1"`
	Ecommerce     float64 `koanf:"ecommerce" validate:"min=0,max=1"`

	// RandomizeCountries enables the cip/country geolocation override.
	// Requires Matomo.TokenAuth; without it the override is skipped with a
	// one-shot warning (not a config error).
	RandomizeCountries bool `koanf:"randomize_countries"`
}

// EcommerceConfig bounds synthetic order values.
type EcommerceConfig struct {
	OrderValueMin float64 `koanf:"order_value_min" validate:"min=0"`
	OrderValueMax float64 `koanf:"order_value_max" validate:"min=0"`
	Currency      string  `koanf:"currency" validate:"currency3"`
}

// CatalogConfig locates the catalog input files. Resolution order per file:
// explicit path, DataDir, MountDir, embedded default.
type CatalogConfig struct {
	DataDir  string `koanf:"data_dir"`
	MountDir string `koanf:"mount_dir"`

	URLsFile       string `koanf:"urls_file"`
	EventsFile     string `koanf:"events_file"`
	FunnelsFile    string `koanf:"funnels_file"`
	CountriesFile  string `koanf:"countries_file"`
	UserAgentsFile string `koanf:"user_agents_file"`

	// MinURLs is the minimum accepted URL catalog size. Fewer than 2 logs a
	// warning even when the minimum is met.
	MinURLs int `koanf:"min_urls" validate:"min=1"`
}

// BackfillConfig drives the historical replay run.
type BackfillConfig struct {
	Enabled bool `koanf:"enabled"`

	// Absolute window (inclusive, YYYY-MM-DD in the configured zone)...
	StartDate string `koanf:"start_date" validate:"omitempty,isodate"`
	EndDate   string `koanf:"end_date" validate:"omitempty,isodate"`

	// ...or relative window. Exactly one of the two modes must be set.
	DaysBack     int `koanf:"days_back" validate:"min=0"`
	DurationDays int `koanf:"duration_days" validate:"min=0"`

	MaxVisitsPerDay int `koanf:"max_visits_per_day" validate:"min=0,max=10000"`
	MaxVisitsTotal  int `koanf:"max_visits_total" validate:"min=0"`

	// RPSLimit throttles dispatch globally. 0 disables.
	RPSLimit float64 `koanf:"rps_limit" validate:"min=0"`

	// Seed makes per-day RNGs reproducible: HMAC(seed, day) seeds each day.
	Seed int64 `koanf:"seed"`

	// RunOnce exits the process after the backfill completes.
	RunOnce bool `koanf:"run_once"`

	// HourlyWeights optionally biases the 24h start-time distribution.
	// Empty means uniform; when set it must contain 24 non-negative values.
	HourlyWeights []float64 `koanf:"hourly_weights"`
}

// OpsConfig configures the operational HTTP listener (health, metrics,
// status). This is not the out-of-scope control UI.
type OpsConfig struct {
	// Port 0 disables the listener.
	Port int `koanf:"port" validate:"min=0,max=65535"`
	Host string `koanf:"host"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Location resolves the configured timezone. Validation guarantees this
// succeeds after Load.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: TIMEZONE %q: %v", ErrInvalid, c.Timezone, err)
	}
	return loc, nil
}

// PauseMin returns the minimum think-time as a duration.
func (c *VisitConfig) PauseMin() time.Duration {
	return time.Duration(c.PauseMinSeconds * float64(time.Second))
}

// PauseMax returns the maximum think-time as a duration.
func (c *VisitConfig) PauseMax() time.Duration {
	return time.Duration(c.PauseMaxSeconds * float64(time.Second))
}

// DurationMin returns the soft minimum visit duration.
func (c *VisitConfig) DurationMin() time.Duration {
	return time.Duration(c.DurationMinMinutes * float64(time.Minute))
}

// DurationMax returns the soft maximum visit duration.
func (c *VisitConfig) DurationMax() time.Duration {
	return time.Duration(c.DurationMaxMinutes * float64(time.Minute))
}

// AutoStop returns the auto-stop interval, 0 when disabled.
func (c *RateConfig) AutoStop() time.Duration {
	return time.Duration(c.AutoStopAfterHours * float64(time.Hour))
}
