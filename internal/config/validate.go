// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/tomtom215/visitforge/internal/validation"
)

// Validate checks that the configuration is complete and consistent.
// All failures wrap ErrInvalid.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if err := c.validateMatomo(); err != nil {
		return err
	}
	if err := c.validateVisit(); err != nil {
		return err
	}
	if err := c.validateCaps(); err != nil {
		return err
	}
	if err := c.validateEcommerce(); err != nil {
		return err
	}
	return c.validateBackfill()
}

// validateMatomo checks the tracking endpoint scheme beyond the url tag.
func (c *Config) validateMatomo() error {
	u, err := url.Parse(c.Matomo.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: MATOMO_URL must be an absolute http(s) URL, got %q", ErrInvalid, c.Matomo.URL)
	}
	return nil
}

func (c *Config) validateVisit() error {
	if c.Visit.PageviewsMin > c.Visit.PageviewsMax {
		return fmt.Errorf("%w: PAGEVIEWS_MIN (%d) > PAGEVIEWS_MAX (%d)",
			ErrInvalid, c.Visit.PageviewsMin, c.Visit.PageviewsMax)
	}
	if c.Visit.PauseMinSeconds > c.Visit.PauseMaxSeconds {
		return fmt.Errorf("%w: PAUSE_BETWEEN_PVS_MIN (%g) > PAUSE_BETWEEN_PVS_MAX (%g)",
			ErrInvalid, c.Visit.PauseMinSeconds, c.Visit.PauseMaxSeconds)
	}
	if c.Visit.DurationMinMinutes > c.Visit.DurationMaxMinutes {
		return fmt.Errorf("%w: VISIT_DURATION_MIN (%g) > VISIT_DURATION_MAX (%g)",
			ErrInvalid, c.Visit.DurationMinMinutes, c.Visit.DurationMaxMinutes)
	}
	if c.Visit.ShutdownGrace < 0 {
		return fmt.Errorf("%w: SHUTDOWN_GRACE must not be negative", ErrInvalid)
	}
	return nil
}

// validateCaps rejects the ambiguous MAX_TOTAL_VISITS configurations: a cap
// without a mode, or a mode without a cap.
func (c *Config) validateCaps() error {
	switch c.Rate.CapMode {
	case CapModeOff:
		if c.Rate.MaxTotalVisits > 0 {
			return fmt.Errorf("%w: MAX_TOTAL_VISITS=%d requires CAP_MODE=lifetime or CAP_MODE=rolling24h",
				ErrInvalid, c.Rate.MaxTotalVisits)
		}
	case CapModeLifetime, CapModeRolling24:
		if c.Rate.MaxTotalVisits <= 0 {
			return fmt.Errorf("%w: CAP_MODE=%s requires MAX_TOTAL_VISITS > 0", ErrInvalid, c.Rate.CapMode)
		}
	}
	return nil
}

func (c *Config) validateEcommerce() error {
	if c.Ecommerce.OrderValueMin > c.Ecommerce.OrderValueMax {
		return fmt.Errorf("%w: ECOMMERCE_ORDER_VALUE_MIN (%g) > ECOMMERCE_ORDER_VALUE_MAX (%g)",
			ErrInvalid, c.Ecommerce.OrderValueMin, c.Ecommerce.OrderValueMax)
	}
	return nil
}

// validateBackfill checks the window-mode exclusivity and cap coherence.
// Date arithmetic against "today" happens at backfill start, where the clock
// lives; here only static shape is enforced.
func (c *Config) validateBackfill() error {
	b := &c.Backfill
	if !b.Enabled {
		return nil
	}

	absolute := b.StartDate != "" || b.EndDate != ""
	relative := b.DurationDays > 0 || b.DaysBack > 0

	switch {
	case absolute && relative:
		return fmt.Errorf("%w: backfill window is ambiguous: set either BACKFILL_START_DATE/BACKFILL_END_DATE or BACKFILL_DAYS_BACK/BACKFILL_DURATION_DAYS", ErrInvalid)
	case absolute:
		if b.StartDate == "" || b.EndDate == "" {
			return fmt.Errorf("%w: absolute backfill window needs both BACKFILL_START_DATE and BACKFILL_END_DATE", ErrInvalid)
		}
		start, err := time.Parse("2006-01-02", b.StartDate)
		if err != nil {
			return fmt.Errorf("%w: BACKFILL_START_DATE: %v", ErrInvalid, err)
		}
		end, err := time.Parse("2006-01-02", b.EndDate)
		if err != nil {
			return fmt.Errorf("%w: BACKFILL_END_DATE: %v", ErrInvalid, err)
		}
		if start.After(end) {
			return fmt.Errorf("%w: BACKFILL_START_DATE %s is after BACKFILL_END_DATE %s", ErrInvalid, b.StartDate, b.EndDate)
		}
	case relative:
		if b.DurationDays <= 0 {
			return fmt.Errorf("%w: relative backfill window needs BACKFILL_DURATION_DAYS > 0", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: backfill enabled but no window configured", ErrInvalid)
	}

	if b.MaxVisitsPerDay <= 0 {
		return fmt.Errorf("%w: BACKFILL_MAX_VISITS_PER_DAY is required and must be in 1..10000", ErrInvalid)
	}
	if b.MaxVisitsTotal > 0 && b.MaxVisitsTotal < b.MaxVisitsPerDay {
		return fmt.Errorf("%w: BACKFILL_MAX_VISITS_TOTAL (%d) < BACKFILL_MAX_VISITS_PER_DAY (%d)",
			ErrInvalid, b.MaxVisitsTotal, b.MaxVisitsPerDay)
	}
	if n := len(b.HourlyWeights); n != 0 && n != 24 {
		return fmt.Errorf("%w: BACKFILL_HOURLY_WEIGHTS needs exactly 24 values, got %d", ErrInvalid, n)
	}
	for i, w := range b.HourlyWeights {
		if w < 0 {
			return fmt.Errorf("%w: BACKFILL_HOURLY_WEIGHTS[%d] is negative", ErrInvalid, i)
		}
	}
	return nil
}
