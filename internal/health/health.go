// Package health defines the health snapshot shared by control-plane
// components and surfaced through the admin API.
package health

import "time"

// ComponentHealth is a point-in-time health snapshot for a component.
type ComponentHealth struct {
	IsHealthy        bool      `json:"is_healthy"`
	LastCheck        time.Time `json:"last_check"`
	ErrorCount       uint64    `json:"error_count"`
	UptimeSeconds    uint64    `json:"uptime_seconds"`
	PerformanceScore float64   `json:"performance_score"`
}
