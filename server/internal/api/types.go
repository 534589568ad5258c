package api

import (
	"time"

	"github.com/relicwatch/relicwatch/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	// State is "idle" with no live sensors, "alerting" while any alert is
	// ACTIVE and "ok" otherwise.
	State            string `json:"state"`
	SensorCount      int    `json:"sensor_count"`
	NormalCount      int    `json:"normal_count"`
	WarningCount     int    `json:"warning_count"`
	UnsetCount       int    `json:"unset_count"`
	ActiveAlertCount int    `json:"active_alert_count"`
	ThresholdCount   int    `json:"threshold_count"`
}

// SensorResponse is one entry in GET /api/v1/sensors or GET /api/v1/sensors/{id}.
type SensorResponse struct {
	Reading     types.Reading        `json:"reading"`
	Threshold   *types.ThresholdRule `json:"threshold,omitempty"`
	Warnings    int                  `json:"warnings"`
	Total       int                  `json:"total"`
	Diagnostics []DiagnosticHint     `json:"diagnostics,omitempty"`
	LastSeen    string               `json:"last_seen"` // RFC3339
}

// StatusRequest is the body of PATCH /api/v1/alerts/{id}.
type StatusRequest struct {
	Status types.AlertStatus `json:"status"`
}

// StatusResponse acknowledges a lifecycle transition.
type StatusResponse struct {
	ID     string            `json:"id"`
	Status types.AlertStatus `json:"status"`
}

// ThresholdRequest is the body of PUT /api/v1/thresholds/{sensorType}.
// Both bounds are required.
type ThresholdRequest struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// IngestResponse is the payload for POST /api/v1/readings.
type IngestResponse struct {
	Status string `json:"status"`
	// Error carries observer failures. The readings were still parsed and
	// dispatched.
	Error string `json:"error,omitempty"`
}

// StatsResponse is the payload for GET /api/v1/stats.
type StatsResponse struct {
	Metrics     map[string]float64 `json:"metrics"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
