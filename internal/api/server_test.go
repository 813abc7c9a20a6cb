// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	h := (&Server{}).router()

	tests := []struct {
		path string
		body string
	}{
		{"/healthz", "ok"},
		{"/readyz", "ready"},
	}
	for _, tt := range tests {
		rec := get(t, h, tt.path)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", tt.path, rec.Code)
		}
		if got := rec.Body.String(); got != tt.body {
			t.Errorf("GET %s body = %q, want %q", tt.path, got, tt.body)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, (&Server{}).router(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("metrics output missing default collectors")
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := (&Server{Status: func() any {
		return map[string]int{"launched": 42}
	}}).router()

	rec := get(t, h, "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if got["launched"] != 42 {
		t.Errorf("status = %v", got)
	}
}

func TestStatusEndpointDisabledWithoutSnapshot(t *testing.T) {
	rec := get(t, (&Server{}).router(), "/api/v1/status")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /api/v1/status without snapshot = %d, want 404", rec.Code)
	}
}
