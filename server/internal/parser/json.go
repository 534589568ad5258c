package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/relicwatch/relicwatch/pkg/types"
)

// wireReading is the JSON shape of one reading on the wire.
// Metrics, when present, fans out into one reading per entry.
type wireReading struct {
	SensorID   string             `json:"sensorId"`
	SensorType string             `json:"sensorType"`
	Value      *float64           `json:"value"`
	Unit       string             `json:"unit"`
	Timestamp  json.RawMessage    `json:"timestamp"`
	LocationID string             `json:"locationId"`
	RelicsID   string             `json:"relicsId"`
	Metrics    map[string]float64 `json:"metrics"`
}

// JSONDecoder returns the default Decoder. now supplies the timestamp for
// readings that carry none.
func JSONDecoder(now func() time.Time) Decoder {
	return func(topic string, payload []byte) ([]types.Reading, error) {
		trimmed := bytes.TrimSpace(payload)
		if len(trimmed) == 0 {
			return nil, parseErr(topic, "empty payload", nil)
		}

		var wires []wireReading
		if trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &wires); err != nil {
				return nil, parseErr(topic, "invalid json array", err)
			}
		} else {
			var w wireReading
			if err := json.Unmarshal(trimmed, &w); err != nil {
				return nil, parseErr(topic, "invalid json", err)
			}
			wires = []wireReading{w}
		}

		fallbackType, fallbackLocation := topicHints(topic)
		out := make([]types.Reading, 0, len(wires))
		for i, w := range wires {
			rs, err := w.toReadings(fallbackType, fallbackLocation, now)
			if err != nil {
				return nil, parseErr(topic, fmt.Sprintf("reading %d", i), err)
			}
			out = append(out, rs...)
		}
		return out, nil
	}
}

func (w wireReading) toReadings(fallbackType, fallbackLocation string, now func() time.Time) ([]types.Reading, error) {
	if w.SensorID == "" {
		return nil, errors.New("sensorId is required")
	}
	ts, err := parseTimestamp(w.Timestamp, now)
	if err != nil {
		return nil, err
	}
	location := w.LocationID
	if location == "" {
		location = fallbackLocation
	}

	base := types.Reading{
		SensorID:   w.SensorID,
		Unit:       w.Unit,
		Timestamp:  ts,
		LocationID: location,
		RelicsID:   w.RelicsID,
		Status:     types.StatusUnset,
	}

	if len(w.Metrics) > 0 {
		keys := make([]string, 0, len(w.Metrics))
		for k := range w.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]types.Reading, 0, len(keys))
		for _, k := range keys {
			r := base
			r.SensorType = k
			r.Value = w.Metrics[k]
			r.Unit = defaultUnit(k)
			out = append(out, r)
		}
		return out, nil
	}

	if w.Value == nil {
		return nil, errors.New("value is required")
	}
	st := w.SensorType
	if st == "" {
		st = fallbackType
	}
	if st == "" {
		return nil, errors.New("sensorType is required")
	}
	base.SensorType = st
	base.Value = *w.Value
	if base.Unit == "" {
		base.Unit = defaultUnit(st)
	}
	return []types.Reading{base}, nil
}

// parseTimestamp accepts RFC 3339 text or epoch milliseconds.
func parseTimestamp(raw json.RawMessage, now func() time.Time) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return now().UTC(), nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("timestamp: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp: %w", err)
		}
		return t.UTC(), nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, fmt.Errorf("timestamp: want RFC 3339 or epoch millis: %w", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// topicHints derives a sensor type and location from a topic shaped
// <prefix>/<locationId>/<sensorType>. Missing segments yield "".
func topicHints(topic string) (sensorType, location string) {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) >= 2 {
		sensorType = parts[len(parts)-1]
	}
	if len(parts) >= 3 {
		location = parts[len(parts)-2]
	}
	return sensorType, location
}

func defaultUnit(sensorType string) string {
	switch sensorType {
	case types.SensorGas:
		return "ppm"
	case types.SensorTemperature:
		return "°C"
	case types.SensorHumidity:
		return "%"
	default:
		return ""
	}
}
