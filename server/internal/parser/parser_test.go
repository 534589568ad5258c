package parser_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relicwatch/relicwatch/pkg/types"
	"github.com/relicwatch/relicwatch/server/internal/parser"
	"github.com/relicwatch/relicwatch/server/internal/threshold"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func newPipeline(t *testing.T) *parser.Pipeline {
	t.Helper()
	reg, err := threshold.NewWithDefaults(nil)
	require.NoError(t, err)
	return parser.New(parser.JSONDecoder(clock), parser.ValidationStage(reg))
}

func TestParse_SingleObject(t *testing.T) {
	p := newPipeline(t)
	rs, err := p.Parse("relics/hall-a/temp", []byte(`{
		"sensorId": "t-1",
		"sensorType": "temp",
		"value": 35,
		"timestamp": "2024-05-01T10:00:00Z",
		"locationId": "hall-a",
		"relicsId": "bronze-ding"
	}`))
	require.NoError(t, err)
	require.Len(t, rs, 1)

	r := rs[0]
	assert.Equal(t, "t-1", r.SensorID)
	assert.Equal(t, "temp", r.SensorType)
	assert.Equal(t, 35.0, r.Value)
	assert.Equal(t, "°C", r.Unit)
	assert.Equal(t, "bronze-ding", r.RelicsID)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), r.Timestamp)
	assert.Equal(t, types.StatusWarning, r.Status)
}

func TestParse_ArrayKeepsMessageOrder(t *testing.T) {
	p := newPipeline(t)
	rs, err := p.Parse("readings", []byte(`[
		{"sensorId":"g-1","sensorType":"gas","value":500},
		{"sensorId":"h-1","sensorType":"hum","value":5},
		{"sensorId":"v-1","sensorType":"vibration","value":9}
	]`))
	require.NoError(t, err)
	require.Len(t, rs, 3)

	assert.Equal(t, "g-1", rs[0].SensorID)
	assert.Equal(t, types.StatusNormal, rs[0].Status)
	assert.Equal(t, "h-1", rs[1].SensorID)
	assert.Equal(t, types.StatusWarning, rs[1].Status)
	assert.Equal(t, "v-1", rs[2].SensorID)
	assert.Equal(t, types.StatusUnset, rs[2].Status)
}

func TestParse_MetricsMapFansOut(t *testing.T) {
	p := newPipeline(t)
	rs, err := p.Parse("relics/vault-2/env", []byte(`{
		"sensorId": "env-7",
		"relicsId": "scroll-3",
		"timestamp": 1714557600000,
		"metrics": {"temp": 22.5, "hum": 45, "gas": 1200}
	}`))
	require.NoError(t, err)
	require.Len(t, rs, 3)

	// sorted by metric name
	assert.Equal(t, "gas", rs[0].SensorType)
	assert.Equal(t, types.StatusWarning, rs[0].Status)
	assert.Equal(t, "ppm", rs[0].Unit)
	assert.Equal(t, "hum", rs[1].SensorType)
	assert.Equal(t, "temp", rs[2].SensorType)
	for _, r := range rs {
		assert.Equal(t, "env-7", r.SensorID)
		assert.Equal(t, "vault-2", r.LocationID)
		assert.Equal(t, time.UnixMilli(1714557600000).UTC(), r.Timestamp)
	}
}

func TestParse_TopicFallbacks(t *testing.T) {
	p := newPipeline(t)
	rs, err := p.Parse("relics/hall-b/hum", []byte(`{"sensorId":"h-9","value":50}`))
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "hum", rs[0].SensorType)
	assert.Equal(t, "hall-b", rs[0].LocationID)
	assert.Equal(t, fixedNow, rs[0].Timestamp)
	assert.Equal(t, types.StatusNormal, rs[0].Status)
}

func TestParse_Malformed(t *testing.T) {
	p := newPipeline(t)
	cases := map[string]string{
		"empty":          ``,
		"not json":       `temp=35`,
		"missing id":     `{"sensorType":"temp","value":1}`,
		"missing value":  `{"sensorId":"t","sensorType":"temp"}`,
		"string value":   `{"sensorId":"t","sensorType":"temp","value":"hot"}`,
		"bad timestamp":  `{"sensorId":"t","sensorType":"temp","value":1,"timestamp":"yesterday"}`,
		"no type":        `{"sensorId":"t","value":1}`,
		"one bad in arr": `[{"sensorId":"a","sensorType":"temp","value":1},{"sensorType":"temp","value":2}]`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			rs, err := p.Parse("readings", []byte(payload))
			require.Error(t, err)
			assert.Nil(t, rs, "no partial result")

			var pe *parser.ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, "readings", pe.Topic)
		})
	}
}

func TestParse_EmptyArrayYieldsNoReadings(t *testing.T) {
	p := newPipeline(t)
	rs, err := p.Parse("readings", []byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestValidationStage_OnlyTouchesStatus(t *testing.T) {
	reg, err := threshold.NewWithDefaults(nil)
	require.NoError(t, err)

	in := []types.Reading{{
		SensorID: "t-1", SensorType: "temp", Value: 5, Unit: "K",
		Timestamp: fixedNow, LocationID: "l", RelicsID: "r", Status: types.StatusUnset,
	}}
	out := parser.ValidationStage(reg)(in)

	require.Len(t, out, 1)
	assert.Equal(t, types.StatusUnset, in[0].Status, "input must not be mutated")
	want := in[0]
	want.Status = types.StatusWarning
	assert.Equal(t, want, out[0])
}

func TestPipeline_StagesRunInOrder(t *testing.T) {
	var order []string
	stage := func(name string) parser.Stage {
		return func(in []types.Reading) []types.Reading {
			order = append(order, name)
			return in
		}
	}
	p := parser.New(parser.JSONDecoder(clock), stage("first"), stage("second"))

	_, err := p.Parse("readings", []byte(`{"sensorId":"a","sensorType":"temp","value":1}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestPipeline_LaterStageOverwritesStatus(t *testing.T) {
	reg, err := threshold.NewWithDefaults(nil)
	require.NoError(t, err)
	forceNormal := func(in []types.Reading) []types.Reading {
		out := make([]types.Reading, len(in))
		for i, r := range in {
			out[i] = r.WithStatus(types.StatusNormal)
		}
		return out
	}
	p := parser.New(parser.JSONDecoder(clock), parser.ValidationStage(reg), forceNormal)

	rs, err := p.Parse("readings", []byte(`{"sensorId":"a","sensorType":"temp","value":99}`))
	require.NoError(t, err)
	assert.Equal(t, types.StatusNormal, rs[0].Status)
}
