package monitoring

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHealthCheckHealthy(t *testing.T) {
	healthChecker := NewHealthChecker("1.0.0", openTestDB(t))

	healthCheck := healthChecker.Check(EngineStats{MainQueue: 20, BackgroundQueue: 2, Transferring: true})

	if healthCheck.Status != HealthStatusHealthy {
		t.Errorf("Expected status healthy, got %s", healthCheck.Status)
	}
	if healthCheck.MainQueue != 20 {
		t.Errorf("Expected main queue 20, got %d", healthCheck.MainQueue)
	}
	if !healthCheck.Transferring {
		t.Error("Expected transferring to be reported")
	}
	if healthCheck.DatabaseStatus != "connected" {
		t.Errorf("Expected database status connected, got %s", healthCheck.DatabaseStatus)
	}
}

func TestHealthCheckDegraded(t *testing.T) {
	healthChecker := NewHealthChecker("1.0.0", openTestDB(t))

	tests := []struct {
		name  string
		stats EngineStats
		check string
	}{
		{"large queue", EngineStats{MainQueue: 6000}, "queue"},
		{"failed tracks", EngineStats{MainQueue: 3, FailedTracks: 2}, "transfers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			healthCheck := healthChecker.Check(tt.stats)
			if healthCheck.Status != HealthStatusDegraded {
				t.Errorf("Expected status degraded, got %s", healthCheck.Status)
			}
			if c := healthCheck.Checks[tt.check]; c.Status != "degraded" {
				t.Errorf("Expected %s check degraded, got %s", tt.check, c.Status)
			}
		})
	}
}

func TestHealthCheckUnhealthy(t *testing.T) {
	healthChecker := NewHealthChecker("1.0.0", nil)

	healthCheck := healthChecker.Check(EngineStats{})

	if healthCheck.Status != HealthStatusUnhealthy {
		t.Errorf("Expected status unhealthy, got %s", healthCheck.Status)
	}
	if healthCheck.DatabaseStatus != "disconnected" {
		t.Errorf("Expected database status disconnected, got %s", healthCheck.DatabaseStatus)
	}
}

func TestHealthHandler(t *testing.T) {
	healthChecker := NewHealthChecker("1.0.0", nil)
	rec := httptest.NewRecorder()

	healthChecker.Handler(func() EngineStats { return EngineStats{} }).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var body HealthCheck
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != HealthStatusUnhealthy {
		t.Errorf("body status = %s, want unhealthy", body.Status)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m 30s"},
		{3661 * time.Second, "1h 1m 1s"},
		{90061 * time.Second, "1d 1h 1m 1s"},
	}

	for _, tt := range tests {
		if result := formatDuration(tt.duration); result != tt.expected {
			t.Errorf("formatDuration(%v) = %s, expected %s", tt.duration, result, tt.expected)
		}
	}
}
