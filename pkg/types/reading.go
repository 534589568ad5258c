package types

import "time"

// Well-known sensor types. Any other non-empty string is a valid sensor type;
// it only produces a status once a threshold rule is registered for it.
const (
	SensorGas         = "gas"
	SensorTemperature = "temp"
	SensorHumidity    = "hum"
)

// Status is the threshold evaluation outcome attached to a Reading.
type Status string

const (
	StatusUnset   Status = "UNSET"
	StatusNormal  Status = "NORMAL"
	StatusWarning Status = "WARNING"
)

// Reading is one timestamped sensor measurement.
//
// A Reading is a value type and is never mutated after parsing. Status is
// derived by the parser's validation stages; downstream code must treat it as
// read-only.
type Reading struct {
	SensorID   string    `json:"sensor_id"`
	SensorType string    `json:"sensor_type"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	LocationID string    `json:"location_id,omitempty"`
	RelicsID   string    `json:"relics_id,omitempty"`
	Status     Status    `json:"status"`
}

// WithStatus returns a copy of r with Status replaced.
func (r Reading) WithStatus(s Status) Reading {
	r.Status = s
	return r
}

// ThresholdRule is the valid operating range for one sensor type.
type ThresholdRule struct {
	SensorType string  `json:"sensor_type"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
}
