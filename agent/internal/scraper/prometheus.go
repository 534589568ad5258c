package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/relicwatch/relicwatch/agent/internal/config"
)

// Labels read from a gateway's exposition.
const (
	labelSensorID   = "sensor_id"
	labelSensorType = "sensor_type"
	labelUnit       = "unit"
	labelLocationID = "location_id"
	labelRelicsID   = "relics_id"
)

// wireReading is the JSON shape relicwatch-server ingests.
type wireReading struct {
	SensorID   string  `json:"sensorId"`
	SensorType string  `json:"sensorType,omitempty"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit,omitempty"`
	Timestamp  int64   `json:"timestamp"`
	LocationID string  `json:"locationId,omitempty"`
	RelicsID   string  `json:"relicsId,omitempty"`
}

// promScraper polls a gateway that exposes sensor values as Prometheus
// gauges. Every gauge or untyped sample carrying a sensor_id label becomes
// one reading; the sensor type comes from the sensor_type label, or the
// metric name when that label is absent.
type promScraper struct {
	src    config.Source
	client *http.Client
	now    func() time.Time
}

func (s *promScraper) Scrape(ctx context.Context) (*Batch, error) {
	body, err := fetch(ctx, s.client, s.src.Endpoint, string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err != nil {
		return nil, fmt.Errorf("prometheus scrape %q: %w", s.src.ID, err)
	}
	mfs, err := parseMetrics(body)
	if err != nil {
		return nil, fmt.Errorf("prometheus scrape %q: %w", s.src.ID, err)
	}

	readings := toReadings(mfs, s.now().UnixMilli())
	if len(readings) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(readings)
	if err != nil {
		return nil, fmt.Errorf("prometheus scrape %q: encode: %w", s.src.ID, err)
	}
	return newBatch(s.src, payload, len(readings)), nil
}

// parseMetrics decodes a Prometheus text exposition into metric families.
// A partial result with a non-fatal parse warning is still returned.
func parseMetrics(body []byte) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(bytes.NewReader(body))
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// toReadings converts sensor samples to wire readings ordered by family name
// and then exposition order. Samples without a timestamp get nowMillis.
func toReadings(mfs map[string]*dto.MetricFamily, nowMillis int64) []wireReading {
	names := make([]string, 0, len(mfs))
	for name := range mfs {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []wireReading
	for _, name := range names {
		mf := mfs[name]
		for _, m := range mf.GetMetric() {
			v, ok := sampleValue(m)
			if !ok {
				continue
			}
			labels := labelMap(m)
			id := labels[labelSensorID]
			if id == "" {
				continue
			}
			r := wireReading{
				SensorID:   id,
				SensorType: labels[labelSensorType],
				Value:      v,
				Unit:       labels[labelUnit],
				Timestamp:  nowMillis,
				LocationID: labels[labelLocationID],
				RelicsID:   labels[labelRelicsID],
			}
			if r.SensorType == "" {
				r.SensorType = name
			}
			if ts := m.GetTimestampMs(); ts > 0 {
				r.Timestamp = ts
			}
			out = append(out, r)
		}
	}
	return out
}

// sampleValue returns the value of a gauge or untyped sample. Counters and
// histograms are not sensor readings.
func sampleValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue(), true
	case m.Untyped != nil:
		return m.Untyped.GetValue(), true
	}
	return 0, false
}

func labelMap(m *dto.Metric) map[string]string {
	out := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}
