package parser

import (
	"github.com/relicwatch/relicwatch/pkg/types"
	"github.com/relicwatch/relicwatch/server/internal/threshold"
)

// Decoder is the base stage: it decodes one transport message into zero or
// more readings with status UNSET.
type Decoder func(topic string, payload []byte) ([]types.Reading, error)

// Stage transforms the readings produced by the previous stage.
// A stage must not retain or mutate its input slice.
type Stage func([]types.Reading) []types.Reading

// Pipeline chains a Decoder and its Stages.
type Pipeline struct {
	decode Decoder
	stages []Stage
}

// New returns a Pipeline that runs decode and then stages in order.
func New(decode Decoder, stages ...Stage) *Pipeline {
	return &Pipeline{decode: decode, stages: stages}
}

// Parse decodes one message and runs every stage over the result.
func (p *Pipeline) Parse(topic string, payload []byte) ([]types.Reading, error) {
	readings, err := p.decode(topic, payload)
	if err != nil {
		return nil, err
	}
	for _, stage := range p.stages {
		if len(readings) == 0 {
			break
		}
		readings = stage(readings)
	}
	return readings, nil
}

// ValidationStage stamps each reading with the status reg derives for its
// sensor type and value.
func ValidationStage(reg *threshold.Registry) Stage {
	return func(in []types.Reading) []types.Reading {
		out := make([]types.Reading, len(in))
		for i, r := range in {
			out[i] = r.WithStatus(reg.Evaluate(r.SensorType, r.Value))
		}
		return out
	}
}
