package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/karigari/api/internal/domain"
	"github.com/karigari/api/internal/services"
)

type stubSystemService struct {
	reportFn func(context.Context) (services.SystemHealthReport, error)
}

func (s *stubSystemService) HealthReport(ctx context.Context) (services.SystemHealthReport, error) {
	if s.reportFn != nil {
		return s.reportFn(ctx)
	}
	return services.SystemHealthReport{}, errors.New("not implemented")
}

func TestHealthHandlersHealthz(t *testing.T) {
	handler := NewHealthHandlers(nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", resp["status"])
	}
	if resp["timestamp"] == "" {
		t.Fatalf("expected timestamp in response")
	}
}

func TestHealthHandlersReadyzWithoutSystemService(t *testing.T) {
	handler := NewHealthHandlers(nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestHealthHandlersReadyzReportsChecks(t *testing.T) {
	now := time.Date(2025, 6, 10, 8, 15, 0, 0, time.UTC)

	system := &stubSystemService{
		reportFn: func(ctx context.Context) (services.SystemHealthReport, error) {
			return services.SystemHealthReport{
				Status:      domain.HealthStatusDegraded,
				Version:     "1.4.0",
				CommitSHA:   "abc123",
				Environment: "staging",
				Uptime:      90 * time.Second,
				GeneratedAt: now,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
					"pubsub":    {Status: domain.HealthStatusDegraded, Error: "slow publish", Latency: 800 * time.Millisecond},
				},
			}, nil
		},
	}

	handler := NewHealthHandlers(system)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for degraded report, got %d", rr.Code)
	}

	var resp struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Checks  map[string]struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Status != domain.HealthStatusDegraded || resp.Version != "1.4.0" {
		t.Fatalf("unexpected report: %#v", resp)
	}
	if resp.Checks["pubsub"].Error != "slow publish" {
		t.Fatalf("expected pubsub error detail, got %#v", resp.Checks["pubsub"])
	}
}

func TestHealthHandlersReadyzErrorStatus(t *testing.T) {
	system := &stubSystemService{
		reportFn: func(ctx context.Context) (services.SystemHealthReport, error) {
			return services.SystemHealthReport{Status: domain.HealthStatusError}, nil
		},
	}

	handler := NewHealthHandlers(system)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestHealthHandlersReadyzReportFailure(t *testing.T) {
	system := &stubSystemService{
		reportFn: func(ctx context.Context) (services.SystemHealthReport, error) {
			return services.SystemHealthReport{}, errors.New("probe failed")
		},
	}

	handler := NewHealthHandlers(system)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
