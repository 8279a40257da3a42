package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	MQTT          MQTTMetrics      `json:"mqtt"`
	Devices       DeviceMetrics    `json:"devices"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected     bool `json:"connected"`
	Subscriptions int  `json:"subscriptions"`
}

// DeviceMetrics sums the counters of every virtual dimmer.
type DeviceMetrics struct {
	Total         int    `json:"total"`
	Emitted       uint64 `json:"emitted"`
	Dropped       uint64 `json:"dropped"`
	PublishErrors uint64 `json:"publish_errors"`

	// WatchedSwitches counts switch entities with a live state subscription.
	// Normally twice Total.
	WatchedSwitches int `json:"watched_switches"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns runtime, bus, device and database counters.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	if s.bus != nil {
		metrics.MQTT = MQTTMetrics{
			Connected:     s.bus.IsConnected(),
			Subscriptions: s.bus.SubscriptionCount(),
		}
	}

	devices := s.devices.Devices()
	metrics.Devices.Total = len(devices)
	for _, d := range devices {
		metrics.Devices.Emitted += d.Emitted
		metrics.Devices.Dropped += d.Dropped
		metrics.Devices.PublishErrors += d.PublishErrors
	}
	if s.watches != nil {
		metrics.Devices.WatchedSwitches = len(s.watches.Watched())
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
