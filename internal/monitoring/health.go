package monitoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// EngineStats is the queue state the health check reports on.
type EngineStats struct {
	MainQueue       int
	BackgroundQueue int
	Transferring    bool
	FailedTracks    int
	JukeboxEnabled  bool
}

// HealthCheck represents a health check response
type HealthCheck struct {
	Status          HealthStatus     `json:"status"`
	Version         string           `json:"version"`
	Uptime          int64            `json:"uptime"`
	UptimeHuman     string           `json:"uptime_human"`
	MainQueue       int              `json:"main_queue"`
	BackgroundQueue int              `json:"background_queue"`
	Transferring    bool             `json:"transferring"`
	JukeboxEnabled  bool             `json:"jukebox_enabled"`
	MemoryUsageMB   uint64           `json:"memory_usage_mb"`
	DatabaseStatus  string           `json:"database_status"`
	Checks          map[string]Check `json:"checks"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Check represents an individual health check
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthChecker performs health checks
type HealthChecker struct {
	version   string
	startTime time.Time
	db        *sql.DB
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string, db *sql.DB) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		db:        db,
	}
}

// Check performs all health checks and returns the result
func (h *HealthChecker) Check(stats EngineStats) *HealthCheck {
	checks := make(map[string]Check)
	overallStatus := HealthStatusHealthy

	degrade := func(c Check) {
		if c.Status == "unhealthy" {
			overallStatus = HealthStatusUnhealthy
		} else if c.Status == "degraded" && overallStatus == HealthStatusHealthy {
			overallStatus = HealthStatusDegraded
		}
	}

	dbCheck := h.checkDatabase()
	checks["database"] = dbCheck
	degrade(dbCheck)

	memCheck := h.checkMemory()
	checks["memory"] = memCheck
	degrade(memCheck)

	queueCheck := h.checkQueue(stats.MainQueue + stats.BackgroundQueue)
	checks["queue"] = queueCheck
	degrade(queueCheck)

	transferCheck := h.checkTransfers(stats.FailedTracks)
	checks["transfers"] = transferCheck
	degrade(transferCheck)

	uptime := time.Since(h.startTime)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	dbStatus := "connected"
	if dbCheck.Status != "healthy" {
		dbStatus = "disconnected"
	}

	return &HealthCheck{
		Status:          overallStatus,
		Version:         h.version,
		Uptime:          int64(uptime.Seconds()),
		UptimeHuman:     formatDuration(uptime),
		MainQueue:       stats.MainQueue,
		BackgroundQueue: stats.BackgroundQueue,
		Transferring:    stats.Transferring,
		JukeboxEnabled:  stats.JukeboxEnabled,
		MemoryUsageMB:   m.Alloc / 1024 / 1024,
		DatabaseStatus:  dbStatus,
		Checks:          checks,
		Timestamp:       time.Now(),
	}
}

// Handler serves the health check as JSON. Unhealthy responses use 503.
func (h *HealthChecker) Handler(stats func() EngineStats) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := h.Check(stats())
		w.Header().Set("Content-Type", "application/json")
		if result.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(result)
	})
}

// checkDatabase checks database connectivity
func (h *HealthChecker) checkDatabase() Check {
	if h.db == nil {
		return Check{
			Status:  "unhealthy",
			Message: "Database connection not initialized",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return Check{
			Status:  "unhealthy",
			Message: "Database ping failed: " + err.Error(),
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Database connection is healthy",
	}
}

// checkMemory checks memory usage
func (h *HealthChecker) checkMemory() Check {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	memoryMB := m.Alloc / 1024 / 1024

	const (
		warningThresholdMB  = 200
		criticalThresholdMB = 500
	)

	if memoryMB > criticalThresholdMB {
		return Check{
			Status:  "unhealthy",
			Message: "Memory usage is critically high",
		}
	}

	if memoryMB > warningThresholdMB {
		return Check{
			Status:  "degraded",
			Message: "Memory usage is elevated",
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Memory usage is normal",
	}
}

// checkQueue checks queue size
func (h *HealthChecker) checkQueue(queueSize int) Check {
	const warningThreshold = 5000

	if queueSize > warningThreshold {
		return Check{
			Status:  "degraded",
			Message: "Queue size is very large",
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Queue size is normal",
	}
}

func (h *HealthChecker) checkTransfers(failed int) Check {
	if failed > 0 {
		return Check{
			Status:  "degraded",
			Message: fmt.Sprintf("%d track(s) failed to download", failed),
		}
	}
	return Check{
		Status:  "healthy",
		Message: "No failed transfers",
	}
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
