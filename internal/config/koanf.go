// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/visitforge/config.yaml",
	"/etc/visitforge/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Matomo: MatomoConfig{
			URL:       "",
			SiteID:    1,
			TokenAuth: "",
		},
		Rate: RateConfig{
			TargetVisitsPerDay: 1000,
			MaxTotalVisits:     0,
			CapMode:            CapModeOff,
			AutoStopAfterHours: 0,
		},
		Visit: VisitConfig{
			PageviewsMin:       2,
			PageviewsMax:       8,
			Concurrency:        50,
			PauseMinSeconds:    2,
			PauseMaxSeconds:    20,
			DurationMinMinutes: 0,
			DurationMaxMinutes: 0,
			ShutdownGrace:      10 * time.Second,
			Language:           "en-US",
			Resolution:         "1920x1080",
		},
		Behavior: BehaviorConfig{
			SiteSearch:         0.15,
			Outlinks:           0.10,
			Downloads:          0.08,
			ClickEvents:        0.20,
			RandomEvents:       0.10,
			DirectTraffic:      0.30,
			Ecommerce:          0.05,
			RandomizeCountries: false,
		},
		Ecommerce: EcommerceConfig{
			OrderValueMin: 49,
			OrderValueMax: 4900,
			Currency:      "SEK",
		},
		Catalog: CatalogConfig{
			DataDir:  "./data",
			MountDir: "/data",
			MinURLs:  1,
		},
		Backfill: BackfillConfig{
			Enabled:         false,
			MaxVisitsPerDay: 0,
			MaxVisitsTotal:  0,
			RPSLimit:        0,
			Seed:            0,
			RunOnce:         true,
		},
		Ops: OpsConfig{
			Port: 9753,
			Host: "0.0.0.0",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Timezone: "CET",
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values from defaultConfig
//  2. Config File: optional YAML file (if present)
//  3. Environment Variables: highest priority
//
// The loaded configuration is validated before being returned; any failure
// wraps ErrInvalid.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional config file
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: config file %s: %v", ErrInvalid, configPath, err)
		}
	}

	// Layer 3: environment variables through the explicit name map
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processHourlyWeights(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile searches for a config file, env override first.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// processHourlyWeights converts the comma-separated BACKFILL_HOURLY_WEIGHTS
// string into a float slice. YAML sources already provide a slice and are
// left alone.
func processHourlyWeights(k *koanf.Koanf) error {
	const path = "backfill.hourly_weights"

	val := k.Get(path)
	strVal, ok := val.(string)
	if !ok || strVal == "" {
		return nil
	}

	parts := strings.Split(strVal, ",")
	weights := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("%w: BACKFILL_HOURLY_WEIGHTS entry %q: %v", ErrInvalid, p, err)
		}
		weights = append(weights, f)
	}
	if err := k.Set(path, weights); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables return "" and are skipped, so unrelated environment
// noise never pollutes the config tree.
//
// Examples:
//   - MATOMO_URL -> matomo.url
//   - TARGET_VISITS_PER_DAY -> rate.target_visits_per_day
//   - PAUSE_BETWEEN_PVS_MIN -> visit.pause_min_seconds
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Matomo endpoint
		"matomo_url":        "matomo.url",
		"matomo_site_id":    "matomo.site_id",
		"matomo_token_auth": "matomo.token_auth",

		// Rate and caps
		"target_visits_per_day": "rate.target_visits_per_day",
		"max_total_visits":      "rate.max_total_visits",
		"cap_mode":              "rate.cap_mode",
		"auto_stop_after_hours": "rate.auto_stop_after_hours",

		// Visit shape
		"pageviews_min":         "visit.pageviews_min",
		"pageviews_max":         "visit.pageviews_max",
		"concurrency":           "visit.concurrency",
		"pause_between_pvs_min": "visit.pause_min_seconds",
		"pause_between_pvs_max": "visit.pause_max_seconds",
		"visit_duration_min":    "visit.duration_min_minutes",
		"visit_duration_max":    "visit.duration_max_minutes",
		"shutdown_grace":        "visit.shutdown_grace",
		"visitor_language":      "visit.language",
		"visitor_resolution":    "visit.resolution",

		// Behavior probabilities
		"sitesearch_probability":      "behavior.sitesearch",
		"outlinks_probability":        "behavior.outlinks",
		"downloads_probability":       "behavior.downloads",
		"click_events_probability":    "behavior.click_events",
		"random_events_probability":   "behavior.random_events",
		"direct_traffic_probability":  "behavior.direct_traffic",
		"ecommerce_probability":       "behavior.ecommerce",
		"randomize_visitor_countries": "behavior.randomize_countries",

		// Ecommerce
		"ecommerce_order_value_min": "ecommerce.order_value_min",
		"ecommerce_order_value_max": "ecommerce.order_value_max",
		"ecommerce_currency":        "ecommerce.currency",

		// Catalog inputs
		"data_dir":         "catalog.data_dir",
		"mount_dir":        "catalog.mount_dir",
		"urls_file":        "catalog.urls_file",
		"events_file":      "catalog.events_file",
		"funnels_file":     "catalog.funnels_file",
		"countries_file":   "catalog.countries_file",
		"user_agents_file": "catalog.user_agents_file",
		"min_urls":         "catalog.min_urls",

		// Backfill
		"backfill_enabled":            "backfill.enabled",
		"backfill_start_date":         "backfill.start_date",
		"backfill_end_date":           "backfill.end_date",
		"backfill_days_back":          "backfill.days_back",
		"backfill_duration_days":      "backfill.duration_days",
		"backfill_max_visits_per_day": "backfill.max_visits_per_day",
		"backfill_max_visits_total":   "backfill.max_visits_total",
		"backfill_rps_limit":          "backfill.rps_limit",
		"backfill_seed":               "backfill.seed",
		"backfill_run_once":           "backfill.run_once",
		"backfill_hourly_weights":     "backfill.hourly_weights",

		// Ops listener
		"ops_port": "ops.port",
		"ops_host": "ops.host",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Timezone
		"timezone": "timezone",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
