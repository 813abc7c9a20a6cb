// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

// Package main is the entry point for the VisitForge traffic generator.
//
// VisitForge manufactures synthetic web traffic against a Matomo analytics
// backend: many independent simulated visitors with varied geolocation,
// referrers, user agents and behavior, browsing a configurable URL catalog
// with think-time, site-search, outlinks, downloads, custom events,
// ecommerce orders and scripted funnels. A backfill mode replays traffic
// over a past date window with explicit timestamps.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (MATOMO_URL, TARGET_VISITS_PER_DAY, ...)
//   - Config file (config.yaml)
//   - Built-in defaults
//
// # Modes
//
// Live mode (default) runs the visit engine under a supervision tree along
// with the ops listener (health, metrics, status). Backfill mode
// (BACKFILL_ENABLED=true) replays the configured window once and exits.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: new launches stop,
// in-flight visits finish their current action within the grace interval.
//
// # Exit codes
//
//	0  clean shutdown (signal or auto-stop)
//	2  configuration error
//	3  catalog load error
//	4  backfill aborted
//	1  unexpected fatal
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/visitforge/internal/api"
	"github.com/tomtom215/visitforge/internal/backfill"
	"github.com/tomtom215/visitforge/internal/catalog"
	"github.com/tomtom215/visitforge/internal/config"
	"github.com/tomtom215/visitforge/internal/dispatch"
	"github.com/tomtom215/visitforge/internal/engine"
	"github.com/tomtom215/visitforge/internal/funnel"
	"github.com/tomtom215/visitforge/internal/identity"
	"github.com/tomtom215/visitforge/internal/logging"
	"github.com/tomtom215/visitforge/internal/pace"
	"github.com/tomtom215/visitforge/internal/planner"
	"github.com/tomtom215/visitforge/internal/supervisor"
	"github.com/tomtom215/visitforge/internal/tracker"
)

const (
	exitOK       = 0
	exitFatal    = 1
	exitConfig   = 2
	exitCatalog  = 3
	exitBackfill = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		// Config errors use the default logger; logging config is unreadable.
		logging.Error().Err(err).Msg("failed to load configuration")
		return exitConfig
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	zone, err := cfg.Location()
	if err != nil {
		logging.Error().Err(err).Msg("resolving timezone")
		return exitConfig
	}

	cat, err := catalog.Load(cfg.Catalog)
	if err != nil {
		logging.Error().Err(err).Msg("loading catalog")
		return exitCatalog
	}

	var funnels []funnel.Def
	if path, ok := catalog.FindOptional(cfg.Catalog, cfg.Catalog.FunnelsFile, "funnels.json"); ok {
		funnels, err = funnel.Load(path)
		if err != nil {
			logging.Error().Err(err).Msg("loading funnels")
			return exitCatalog
		}
		logging.Info().Str("path", path).Int("funnels", len(funnels)).Msg("funnels loaded")
	}

	deps := buildDeps(cfg, cat, funnels, zone)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Backfill.Enabled {
		code := runBackfill(ctx, cfg, deps, zone)
		if code != exitOK || cfg.Backfill.RunOnce || ctx.Err() != nil {
			return code
		}
		// RunOnce=false: seed history first, then keep generating live.
		logging.Info().Msg("backfill done; switching to live generation")
	}
	return runLive(ctx, stop, cfg, deps)
}

// buildDeps assembles the per-visit collaborators shared by both modes.
func buildDeps(cfg *config.Config, cat *catalog.Catalog, funnels []funnel.Def, zone *time.Location) engine.VisitDeps {
	pl := planner.New(cat, plannerConfig(cfg, cat))

	builder := tracker.NewBuilder(tracker.Config{
		Endpoint:           cfg.Matomo.URL,
		SiteID:             cfg.Matomo.SiteID,
		TokenAuth:          cfg.Matomo.TokenAuth,
		RandomizeCountries: cfg.Behavior.RandomizeCountries,
		Zone:               zone,
		Resolution:         cfg.Visit.Resolution,
	})

	return engine.VisitDeps{
		Identity:   identity.NewGenerator(cat, cfg.Behavior.DirectTraffic, cfg.Visit.Language),
		Planner:    pl,
		Funnels:    funnel.NewExecutor(funnels, pl),
		Builder:    builder,
		Dispatcher: dispatch.New(dispatch.Config{}),
	}
}

// plannerConfig maps config onto the planner, letting events.json
// probability overrides win over the environment values.
func plannerConfig(cfg *config.Config, cat *catalog.Catalog) planner.Config {
	clickP := cfg.Behavior.ClickEvents
	if cat.Events.ClickEventsProbability != nil {
		clickP = *cat.Events.ClickEventsProbability
	}
	randomP := cfg.Behavior.RandomEvents
	if cat.Events.RandomEventsProbability != nil {
		randomP = *cat.Events.RandomEventsProbability
	}

	return planner.Config{
		PageviewsMin:  cfg.Visit.PageviewsMin,
		PageviewsMax:  cfg.Visit.PageviewsMax,
		PauseMin:      cfg.Visit.PauseMin(),
		PauseMax:      cfg.Visit.PauseMax(),
		DurationMin:   cfg.Visit.DurationMin(),
		SiteSearch:    cfg.Behavior.SiteSearch,
		Outlinks:      cfg.Behavior.Outlinks,
		Downloads:     cfg.Behavior.Downloads,
		ClickEvents:   clickP,
		RandomEvents:  randomP,
		Ecommerce:     cfg.Behavior.Ecommerce,
		OrderValueMin: cfg.Ecommerce.OrderValueMin,
		OrderValueMax: cfg.Ecommerce.OrderValueMax,
		Currency:      cfg.Ecommerce.Currency,
	}
}

// runLive runs the visit engine and ops listener under the supervision
// tree until a signal or auto-stop.
func runLive(ctx context.Context, stop context.CancelFunc, cfg *config.Config, deps engine.VisitDeps) int {
	pc := pace.New(pace.Config{
		TargetVisitsPerDay: cfg.Rate.TargetVisitsPerDay,
		MaxTotalVisits:     cfg.Rate.MaxTotalVisits,
		Rolling:            cfg.Rate.CapMode == config.CapModeRolling24,
	}, nil)

	eng := engine.New(engine.Config{
		Concurrency:     cfg.Visit.Concurrency,
		AutoStopAfter:   cfg.Rate.AutoStop(),
		MaxTotalVisits:  cfg.Rate.MaxTotalVisits,
		LifetimeCap:     cfg.Rate.CapMode == config.CapModeLifetime,
		ShutdownGrace:   cfg.Visit.ShutdownGrace,
		RequestShutdown: stop,
	}, deps, pc)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Visit.ShutdownGrace + 5*time.Second,
	})
	tree.AddGeneratorService(eng)
	if cfg.Ops.Port > 0 {
		tree.AddOpsService(&api.Server{
			Host:   cfg.Ops.Host,
			Port:   cfg.Ops.Port,
			Status: func() any { return eng.Snapshot() },
		})
	}

	err := tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervision tree failed")
		return exitFatal
	}

	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		logging.Warn().Int("services", len(report)).Msg("services did not stop within the shutdown timeout")
	}

	logging.Info().Msg("shutdown complete")
	return exitOK
}

// runBackfill replays the configured window once. The ops listener is
// served alongside so metrics are scrapeable during long replays.
func runBackfill(ctx context.Context, cfg *config.Config, deps engine.VisitDeps, zone *time.Location) int {
	disp, _ := deps.Dispatcher.(*dispatch.Dispatcher)
	var broken func() bool
	if disp != nil {
		broken = disp.Broken
	}

	bf := backfill.New(backfill.Config{
		StartDate:       cfg.Backfill.StartDate,
		EndDate:         cfg.Backfill.EndDate,
		DaysBack:        cfg.Backfill.DaysBack,
		DurationDays:    cfg.Backfill.DurationDays,
		MaxVisitsPerDay: cfg.Backfill.MaxVisitsPerDay,
		MaxVisitsTotal:  cfg.Backfill.MaxVisitsTotal,
		RPSLimit:        cfg.Backfill.RPSLimit,
		Seed:            cfg.Backfill.Seed,
		HourlyWeights:   cfg.Backfill.HourlyWeights,
		Zone:            zone,
	}, deps, broken)

	opsCtx, opsStop := context.WithCancel(ctx)
	defer opsStop()
	if cfg.Ops.Port > 0 {
		srv := &api.Server{Host: cfg.Ops.Host, Port: cfg.Ops.Port}
		go func() {
			if err := srv.Serve(opsCtx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Warn().Err(err).Msg("ops listener stopped")
			}
		}()
	}

	err := bf.Run(ctx)
	switch {
	case err == nil:
		logging.Info().Msg("backfill finished")
		return exitOK
	case errors.Is(err, context.Canceled):
		logging.Info().Msg("backfill interrupted by signal")
		return exitOK
	case errors.Is(err, backfill.ErrAborted):
		logging.Error().Err(err).Msg("backfill aborted")
		return exitBackfill
	default:
		logging.Error().Err(err).Msg("backfill failed")
		return exitFatal
	}
}
