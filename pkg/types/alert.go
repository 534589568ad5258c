package types

import (
	"strings"
	"time"
)

// AlertStatus is the lifecycle state of an Alert.
type AlertStatus string

const (
	AlertActive   AlertStatus = "ACTIVE"
	AlertResolved AlertStatus = "RESOLVED"
)

// Valid reports whether s is a known lifecycle state.
func (s AlertStatus) Valid() bool {
	return s == AlertActive || s == AlertResolved
}

// SeverityWarning is the severity assigned to every threshold breach.
const SeverityWarning = "warning"

// Alert is the persisted record of a threshold breach.
//
// CurrentReading and Threshold are snapshots taken when the alert is created
// and are never updated by later readings. ResolvedAt is nil until the first
// transition to AlertResolved and is never overwritten afterwards.
type Alert struct {
	ID             string        `json:"id"`
	SensorID       string        `json:"sensor_id"`
	SensorType     string        `json:"sensor_type"`
	LocationID     string        `json:"location_id,omitempty"`
	RelicsID       string        `json:"relics_id,omitempty"`
	AlertType      string        `json:"alert_type"`
	Severity       string        `json:"severity"`
	Message        string        `json:"message"`
	CurrentReading float64       `json:"current_reading"`
	Threshold      ThresholdRule `json:"threshold"`
	Status         AlertStatus   `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
}

// AlertTypeFor maps a sensor type to the alert type recorded on its alerts.
func AlertTypeFor(sensorType string) string {
	switch sensorType {
	case SensorGas:
		return "GAS"
	case SensorTemperature:
		return "TEMPERATURE"
	case SensorHumidity:
		return "HUMIDITY"
	default:
		return strings.ToUpper(sensorType)
	}
}

// AlertQuery selects alerts from a store. Zero-valued fields do not filter.
// Start and End bound CreatedAt inclusively. Limit <= 0 means no limit at the
// store level; callers apply their own default.
type AlertQuery struct {
	SensorID  string
	AlertType string
	Status    AlertStatus
	Start     time.Time
	End       time.Time
	Limit     int
}

// Matches reports whether a satisfies every filter in q (Limit is ignored).
func (q AlertQuery) Matches(a Alert) bool {
	if q.SensorID != "" && a.SensorID != q.SensorID {
		return false
	}
	if q.AlertType != "" && a.AlertType != q.AlertType {
		return false
	}
	if q.Status != "" && a.Status != q.Status {
		return false
	}
	if !q.Start.IsZero() && a.CreatedAt.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && a.CreatedAt.After(q.End) {
		return false
	}
	return true
}
