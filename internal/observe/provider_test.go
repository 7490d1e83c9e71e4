package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTelemetryDisabledUsesGlobalProvider(t *testing.T) {
	t.Parallel()

	tel, err := NewTelemetry(TelemetryConfig{}, nil)
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}
	if tel.Metrics == nil {
		t.Fatalf("expected metrics even when export is disabled")
	}
	if tel.Addr() != "" {
		t.Fatalf("nothing must be served when disabled")
	}

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestTelemetryExportsRecordedCounters(t *testing.T) {
	t.Parallel()

	tel, err := NewTelemetry(TelemetryConfig{Enabled: true}, nil)
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}
	defer tel.Shutdown(context.Background())

	tel.Metrics.RecordRequest(context.Background())
	tel.Metrics.RecordRequest(context.Background())

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "cookvoice_recognition_requests") {
		t.Fatalf("expected request counter in exposition:\n%s", body)
	}
}

func TestTelemetryServesScrapeEndpoint(t *testing.T) {
	t.Parallel()

	tel, err := NewTelemetry(TelemetryConfig{Enabled: true, Addr: "127.0.0.1:0"}, nil)
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}
	tel.Metrics.SessionStarted(context.Background())

	resp, err := http.Get("http://" + tel.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "cookvoice_sessions_active") {
		t.Fatalf("unexpected scrape: %d\n%s", resp.StatusCode, body)
	}

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
