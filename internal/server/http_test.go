package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trvslhlt/live-audio-translator/internal/config"
	"github.com/trvslhlt/live-audio-translator/internal/metrics"
	"github.com/trvslhlt/live-audio-translator/internal/pipeline"
	"github.com/trvslhlt/live-audio-translator/internal/session"
)

type staticStatus pipeline.Status

func (s staticStatus) Status() pipeline.Status {
	return pipeline.Status(s)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T, withLibrary bool) (*httptest.Server, *session.Manager, *prometheus.Registry) {
	t.Helper()

	var lib *session.Library
	if withLibrary {
		var err error
		lib, err = session.OpenLibrary(filepath.Join(t.TempDir(), "library.db"))
		if err != nil {
			t.Fatalf("Failed to open library: %v", err)
		}
		t.Cleanup(func() { lib.Close() })
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	sessions := session.NewManager(t.TempDir(), lib, testLogger(), m)

	cfg := config.Default()
	cfg.Transcription.APIKey = "secret-whisper-key"
	cfg.Translation.APIKey = "secret-translate-key"

	h := NewHTTPServer(cfg.HTTP, testLogger(), cfg, Deps{
		Status:   staticStatus{Running: true, Mode: "fr_to_en", Entries: 3, QueueDepth: 1},
		Sessions: sessions,
		Library:  lib,
		Gatherer: reg,
	}, m)

	ts := httptest.NewServer(h.Handler())
	t.Cleanup(ts.Close)
	return ts, sessions, reg
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status %d for %s, got %d: %s", wantStatus, url, resp.StatusCode, body)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode %s: %v", url, err)
	}
	return out
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t, false)

	body := getJSON(t, ts.URL+"/health", http.StatusOK)
	if body["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", body["status"])
	}
}

func TestStatus(t *testing.T) {
	ts, _, _ := newTestServer(t, false)

	body := getJSON(t, ts.URL+"/status", http.StatusOK)
	if body["mode"] != "fr_to_en" {
		t.Errorf("Expected mode fr_to_en, got %v", body["mode"])
	}
	if body["entries"] != float64(3) {
		t.Errorf("Expected 3 entries, got %v", body["entries"])
	}
}

func TestSessionsWithoutLibrary(t *testing.T) {
	ts, _, _ := newTestServer(t, false)
	getJSON(t, ts.URL+"/sessions", http.StatusServiceUnavailable)
}

func TestSessionsListAndDetail(t *testing.T) {
	ts, sessions, _ := newTestServer(t, true)

	body := getJSON(t, ts.URL+"/sessions", http.StatusOK)
	if body["total_sessions"] != float64(0) {
		t.Fatalf("Expected empty library, got %v", body["total_sessions"])
	}

	s := sessions.NewSession(session.ModeFrenchToEnglish, "Réunion")
	sessions.AddEntry("10:00:00", "fr", "bonjour", "hello")
	if _, err := sessions.Materialize(sessions.Current(), "", "", nil); err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}

	body = getJSON(t, ts.URL+"/sessions", http.StatusOK)
	if body["total_sessions"] != float64(1) {
		t.Fatalf("Expected 1 session, got %v", body["total_sessions"])
	}

	detail := getJSON(t, ts.URL+"/sessions/"+s.ID, http.StatusOK)
	loaded, ok := detail["session"].(map[string]any)
	if !ok {
		t.Fatalf("Expected session object, got %T", detail["session"])
	}
	if loaded["title"] != "Réunion" {
		t.Errorf("Expected title Réunion, got %v", loaded["title"])
	}
	if detail["has_audio"] != false {
		t.Errorf("Expected has_audio false, got %v", detail["has_audio"])
	}

	getJSON(t, ts.URL+"/sessions/19990101_000000", http.StatusNotFound)
}

func TestConfigOmitsAPIKeys(t *testing.T) {
	ts, _, _ := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/config")
	if err != nil {
		t.Fatalf("GET /config failed: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if strings.Contains(string(raw), "secret") {
		t.Errorf("Expected API keys to be omitted, got %s", raw)
	}
}

func TestMetricsEndpointAndMiddleware(t *testing.T) {
	ts, _, reg := newTestServer(t, false)

	getJSON(t, ts.URL+"/status", http.StatusOK)
	getJSON(t, ts.URL+"/sessions", http.StatusServiceUnavailable)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "translator_http_requests_total") {
		t.Errorf("Expected HTTP request counter in metrics output")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var errorsSeen bool
	for _, f := range families {
		if f.GetName() == "translator_http_errors_total" && len(f.GetMetric()) > 0 {
			errorsSeen = true
		}
	}
	if !errorsSeen {
		t.Errorf("Expected the 503 from /sessions to be counted as an error")
	}
}

func TestUnknownPath(t *testing.T) {
	ts, _, _ := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestStartAndStop(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Address = "127.0.0.1"
	cfg.HTTP.Port = 0

	h := NewHTTPServer(cfg.HTTP, testLogger(), cfg, Deps{Status: staticStatus{}}, nil)
	if err := h.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

type thresholdTuner struct {
	value float64
}

func (tt *thresholdTuner) SetSilenceThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}
	tt.value = threshold
	return nil
}

func putThreshold(t *testing.T, url, body string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url+"/vad/threshold", strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /vad/threshold failed: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestAdjustSilenceThreshold(t *testing.T) {
	tuner := &thresholdTuner{value: 0.01}
	h := NewHTTPServer(config.Default().HTTP, testLogger(), config.Default(), Deps{
		Status: staticStatus{Running: true},
		VAD:    tuner,
	}, nil)
	ts := httptest.NewServer(h.Handler())
	defer ts.Close()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantValue  float64
	}{
		{name: "valid", body: `{"threshold": 0.05}`, wantStatus: http.StatusOK, wantValue: 0.05},
		{name: "out of range", body: `{"threshold": 2}`, wantStatus: http.StatusBadRequest, wantValue: 0.05},
		{name: "missing field", body: `{}`, wantStatus: http.StatusBadRequest, wantValue: 0.05},
		{name: "not json", body: `loud`, wantStatus: http.StatusBadRequest, wantValue: 0.05},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := putThreshold(t, ts.URL, tt.body); got != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, got)
			}
			if tuner.value != tt.wantValue {
				t.Errorf("Expected threshold %v, got %v", tt.wantValue, tuner.value)
			}
		})
	}
}

func TestAdjustSilenceThresholdUnavailable(t *testing.T) {
	ts, _, _ := newTestServer(t, false)
	if got := putThreshold(t, ts.URL, `{"threshold": 0.05}`); got != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", got)
	}
}
