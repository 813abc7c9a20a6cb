// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

// Package dispatch issues the actual HTTP calls to the Matomo tracking
// endpoint. One shared client reuses connections across all workers; the
// retry policy and response bookkeeping live here so callers only see a
// final outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/visitforge/internal/logging"
	"github.com/tomtom215/visitforge/internal/metrics"
	"github.com/tomtom215/visitforge/internal/tracker"
)

// maxGetQueryBytes is the encoded-query threshold above which the request
// switches to a POST form body.
const maxGetQueryBytes = 2048

// maxRetryAfter caps how long a 429 Retry-After hint is honored.
const maxRetryAfter = 10 * time.Second

// retryBackoffs are the waits before the two retries on network errors and
// 5xx responses.
var retryBackoffs = [...]time.Duration{500 * time.Millisecond, time.Second}

// ErrRejected marks a request the tracking endpoint refused with a
// non-retryable 4xx.
var ErrRejected = errors.New("tracking request rejected")

// Result summarizes one dispatched request after all retries.
type Result struct {
	StatusCode int
	Attempts   int
}

// Config holds dispatcher tunables; zero values take the defaults the
// tracking endpoint expects (3s connect, 10s total).
type Config struct {
	ConnectTimeout time.Duration
	Timeout        time.Duration

	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit. Backfill treats an open circuit as an abort signal.
	BreakerThreshold uint32
}

// Dispatcher sends tracking requests. Safe for concurrent use.
type Dispatcher struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*Result]

	// classMu guards classes, the per-response-class attempt counts the
	// status line and endpoint report alongside the Prometheus counter.
	classMu sync.Mutex
	classes map[string]int64

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Dispatcher with a keep-alive pooled transport.
func New(cfg Config) *Dispatcher {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 3 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	d := &Dispatcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		classes: make(map[string]int64),
		sleep:   sleepCtx,
	}

	d.breaker = gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        "matomo",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.BreakerState.Set(1)
			} else {
				metrics.BreakerState.Set(0)
			}
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("dispatch circuit breaker state change")
		},
	})

	return d
}

// Broken reports whether the circuit is currently open.
func (d *Dispatcher) Broken() bool {
	return d.breaker.State() == gobreaker.StateOpen
}

// Do sends one tracking request through the breaker and retry policy. The
// request's params, including cdt, are reused verbatim on retries.
func (d *Dispatcher) Do(ctx context.Context, req tracker.Request) (*Result, error) {
	res, err := d.breaker.Execute(func() (*Result, error) {
		return d.send(ctx, req)
	})
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(req.Kind.String(), "failed").Inc()
		return res, err
	}

	outcome := "ok"
	if res.Attempts > 1 {
		outcome = "retried_ok"
	}
	metrics.RequestsTotal.WithLabelValues(req.Kind.String(), outcome).Inc()
	return res, nil
}

// send applies the retry policy: network errors and 5xx retry twice with
// fixed backoff; 429 retries once honoring a capped Retry-After; other 4xx
// fail immediately.
func (d *Dispatcher) send(ctx context.Context, req tracker.Request) (*Result, error) {
	attempts := 0
	retried429 := false

	for {
		attempts++
		status, retryAfter, err := d.attempt(ctx, req)

		switch {
		case err == nil && status < 400:
			return &Result{StatusCode: status, Attempts: attempts}, nil

		case err != nil || status >= 500:
			if n := attempts - 1; n < len(retryBackoffs) {
				metrics.RetriesTotal.Inc()
				if serr := d.sleep(ctx, retryBackoffs[n]); serr != nil {
					return nil, serr
				}
				continue
			}
			if err != nil {
				return &Result{Attempts: attempts}, fmt.Errorf("dispatch after %d attempts: %w", attempts, err)
			}
			return &Result{StatusCode: status, Attempts: attempts},
				fmt.Errorf("dispatch after %d attempts: status %d", attempts, status)

		case status == http.StatusTooManyRequests:
			if !retried429 {
				retried429 = true
				metrics.RetriesTotal.Inc()
				if serr := d.sleep(ctx, retryAfter); serr != nil {
					return nil, serr
				}
				continue
			}
			return &Result{StatusCode: status, Attempts: attempts},
				fmt.Errorf("dispatch: still throttled after retry: %w", ErrRejected)

		default: // non-retryable 4xx
			return &Result{StatusCode: status, Attempts: attempts},
				fmt.Errorf("dispatch: status %d: %w", status, ErrRejected)
		}
	}
}

// attempt performs exactly one HTTP exchange and records its class.
func (d *Dispatcher) attempt(ctx context.Context, req tracker.Request) (status int, retryAfter time.Duration, err error) {
	encoded := req.Params.Encode()

	var httpReq *http.Request
	if len(encoded) <= maxGetQueryBytes {
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, req.Endpoint+"?"+encoded, nil)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, strings.NewReader(encoded))
		if httpReq != nil {
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return 0, 0, fmt.Errorf("building request: %w", err)
	}

	start := time.Now()
	resp, err := d.client.Do(httpReq)
	metrics.RequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ResponseClassTotal.WithLabelValues("network").Inc()
		d.countClass("network")
		return 0, 0, err
	}
	defer resp.Body.Close()

	// Drain so the connection goes back to the pool.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	class := classOf(resp.StatusCode)
	metrics.ResponseClassTotal.WithLabelValues(class).Inc()
	d.countClass(class)
	return resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After")), nil
}

func (d *Dispatcher) countClass(class string) {
	d.classMu.Lock()
	d.classes[class]++
	d.classMu.Unlock()
}

// ResponseClasses returns a copy of the per-class attempt counts.
func (d *Dispatcher) ResponseClasses() map[string]int64 {
	d.classMu.Lock()
	defer d.classMu.Unlock()
	out := make(map[string]int64, len(d.classes))
	for k, v := range d.classes {
		out[k] = v
	}
	return out
}

// classOf buckets a status code for the response-class counter. 429 gets
// its own bucket because its retry handling differs from other 4xx.
func classOf(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "429"
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// parseRetryAfter reads a delay-seconds Retry-After, capped and with a 1s
// floor when absent or unparsable.
func parseRetryAfter(v string) time.Duration {
	d := time.Second
	if v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			d = time.Duration(secs) * time.Second
		}
	}
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
