// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/visitforge/internal/tracker"
)

// noSleep removes real backoff waits from tests.
func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testRequest(endpoint string) tracker.Request {
	p := url.Values{}
	p.Set("idsite", "1")
	p.Set("rec", "1")
	p.Set("_id", "00000000deadbeef")
	return tracker.Request{Endpoint: endpoint, Params: p, Kind: tracker.KindPageview}
}

func newTestDispatcher() *Dispatcher {
	d := New(Config{})
	d.sleep = noSleep
	return d
}

func TestDoSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET for small query", r.Method)
		}
		if got := r.URL.Query().Get("_id"); got != "00000000deadbeef" {
			t.Errorf("_id = %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res, err := newTestDispatcher().Do(context.Background(), testRequest(srv.URL))
	if err != nil {
		t.Fatalf("Do(): %v", err)
	}
	if res.Attempts != 1 || res.StatusCode != http.StatusOK {
		t.Errorf("result = %+v", res)
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times", hits.Load())
	}
}

func TestDoRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res, err := newTestDispatcher().Do(context.Background(), testRequest(srv.URL))
	if err != nil {
		t.Fatalf("Do(): %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3 (two retries)", res.Attempts)
	}
}

func TestDoGivesUpAfterTwoRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestDispatcher().Do(context.Background(), testRequest(srv.URL))
	if err == nil {
		t.Fatal("Do() succeeded against a permanently failing server")
	}
	if hits.Load() != 3 {
		t.Errorf("server hit %d times, want 3 (initial + 2 retries)", hits.Load())
	}
}

func TestDoNoRetryOn4xx(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestDispatcher().Do(context.Background(), testRequest(srv.URL))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Do() = %v, want ErrRejected", err)
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1 (no retry on 4xx)", hits.Load())
	}
}

func TestDoRetries429Once(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res, err := newTestDispatcher().Do(context.Background(), testRequest(srv.URL))
	if err != nil {
		t.Fatalf("Do(): %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", res.Attempts)
	}
}

func TestDoPostForLargeQueries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST above the GET size threshold", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parsing form: %v", err)
		}
		if got := r.PostForm.Get("_id"); got != "00000000deadbeef" {
			t.Errorf("form _id = %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req := testRequest(srv.URL)
	req.Params.Set("padding", strings.Repeat("x", maxGetQueryBytes))

	if _, err := newTestDispatcher().Do(context.Background(), req); err != nil {
		t.Fatalf("Do(): %v", err)
	}
}

func TestResponseClassesCounted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher()
	if _, err := d.Do(context.Background(), testRequest(srv.URL)); err != nil {
		t.Fatalf("Do(): %v", err)
	}

	got := d.ResponseClasses()
	if got["5xx"] != 2 || got["2xx"] != 1 {
		t.Errorf("ResponseClasses() = %v, want 2 5xx and 1 2xx", got)
	}
	// The report is a copy, not a live reference.
	got["2xx"] = 99
	if d.ResponseClasses()["2xx"] != 1 {
		t.Error("mutating the returned map changed internal counts")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", time.Second},
		{"3", 3 * time.Second},
		{"60", maxRetryAfter},
		{"garbage", time.Second},
		{"-5", time.Second},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBreakerOpensOnConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := New(Config{BreakerThreshold: 2})
	d.sleep = noSleep

	for i := 0; i < 3; i++ {
		_, _ = d.Do(context.Background(), testRequest(srv.URL))
	}
	if !d.Broken() {
		t.Error("breaker still closed after repeated failures")
	}
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{302, "3xx"},
		{400, "4xx"},
		{429, "429"},
		{500, "5xx"},
		{502, "5xx"},
	}
	for _, tt := range tests {
		if got := classOf(tt.status); got != tt.want {
			t.Errorf("classOf(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
