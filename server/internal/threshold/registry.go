package threshold

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/relicwatch/relicwatch/pkg/types"
)

// Default operating ranges for the built-in sensor types.
const (
	DefaultGasMax  = 1000.0
	DefaultTempMin = 10.0
	DefaultTempMax = 30.0
	DefaultHumMin  = 10.0
	DefaultHumMax  = 100.0
)

var (
	// ErrRuleExists is returned when registering a sensor type that already has a rule.
	ErrRuleExists = errors.New("threshold: rule already registered")

	// ErrInvalidRule is returned for empty sensor types, non-finite bounds or min > max.
	ErrInvalidRule = errors.New("threshold: invalid rule")
)

// Defaults returns the built-in rules for gas, temp and hum.
func Defaults() []types.ThresholdRule {
	return []types.ThresholdRule{
		{SensorType: types.SensorGas, Min: 0, Max: DefaultGasMax},
		{SensorType: types.SensorTemperature, Min: DefaultTempMin, Max: DefaultTempMax},
		{SensorType: types.SensorHumidity, Min: DefaultHumMin, Max: DefaultHumMax},
	}
}

// Registry maps sensor types to threshold rules.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]types.ThresholdRule
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{rules: make(map[string]types.ThresholdRule)}
}

// NewWithDefaults returns a Registry seeded with Defaults, overridden by any
// entry in overrides for the same sensor type. Extra override entries are
// registered as additional types.
func NewWithDefaults(overrides map[string]types.ThresholdRule) (*Registry, error) {
	r := New()
	for _, d := range Defaults() {
		if o, ok := overrides[d.SensorType]; ok {
			d.Min, d.Max = o.Min, o.Max
		}
		if err := r.Register(d.SensorType, d.Min, d.Max); err != nil {
			return nil, err
		}
	}

	// Deterministic order keeps error messages stable.
	extra := make([]string, 0, len(overrides))
	for st := range overrides {
		if _, ok := r.Lookup(st); !ok {
			extra = append(extra, st)
		}
	}
	sort.Strings(extra)
	for _, st := range extra {
		o := overrides[st]
		if err := r.Register(st, o.Min, o.Max); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds the rule for sensorType. It fails with ErrRuleExists if the
// type is already registered and with ErrInvalidRule if the rule is malformed.
func (r *Registry) Register(sensorType string, min, max float64) error {
	if sensorType == "" {
		return fmt.Errorf("%w: sensor type is required", ErrInvalidRule)
	}
	if math.IsNaN(min) || math.IsNaN(max) || math.IsInf(min, 0) || math.IsInf(max, 0) {
		return fmt.Errorf("%w: %q bounds must be finite", ErrInvalidRule, sensorType)
	}
	if min > max {
		return fmt.Errorf("%w: %q min %.2f > max %.2f", ErrInvalidRule, sensorType, min, max)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[sensorType]; ok {
		return fmt.Errorf("%w: %q", ErrRuleExists, sensorType)
	}
	r.rules[sensorType] = types.ThresholdRule{SensorType: sensorType, Min: min, Max: max}
	return nil
}

// Lookup returns the rule for sensorType, if registered.
func (r *Registry) Lookup(sensorType string) (types.ThresholdRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[sensorType]
	return rule, ok
}

// Rules returns every registered rule sorted by sensor type.
func (r *Registry) Rules() []types.ThresholdRule {
	r.mu.RLock()
	out := make([]types.ThresholdRule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SensorType < out[j].SensorType })
	return out
}

// Evaluate returns the status of value for sensorType under the registered
// rule, or StatusUnset if no rule is registered.
func (r *Registry) Evaluate(sensorType string, value float64) types.Status {
	rule, ok := r.Lookup(sensorType)
	if !ok {
		return types.StatusUnset
	}
	if Breached(rule, value) {
		return types.StatusWarning
	}
	return types.StatusNormal
}

// Breached reports whether value falls outside rule's operating range.
func Breached(rule types.ThresholdRule, value float64) bool {
	switch rule.SensorType {
	case types.SensorGas:
		return value > rule.Max
	case types.SensorTemperature, types.SensorHumidity:
		return value > rule.Max || value < rule.Min
	default:
		return value < rule.Min || value > rule.Max
	}
}
