package api

import (
	"fmt"
	"sort"
	"time"

	"github.com/relicwatch/relicwatch/pkg/types"
	"github.com/relicwatch/relicwatch/server/internal/store"
)

const (
	// nearLimitFraction is the share of a rule's span, measured inward from
	// either bound, that counts as "near the limit".
	nearLimitFraction = 0.1

	// criticalOvershoot is the share of a rule's span beyond a bound at which
	// a breach is reported as critical rather than warning.
	criticalOvershoot = 0.25

	// minRatioSamples is the number of readings required before the
	// breach ratio is considered meaningful.
	minRatioSamples = 5

	// quietAfter is how long a sensor may go without reporting before it is
	// flagged as quiet.
	quietAfter = 5 * time.Minute
)

// DiagnosticHint is one human-readable insight about a sensor.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level  string `json:"level"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	// Value is an optional number associated with the hint.
	Value *float64 `json:"value,omitempty"`
}

// computeDiagnostics derives hints for one sensor entry. Hints are ordered
// critical first, then warning, info and ok.
func computeDiagnostics(e store.Entry, rule types.ThresholdRule, hasRule bool, now time.Time) []DiagnosticHint {
	r := e.Reading
	var hints []DiagnosticHint

	if !hasRule {
		hints = append(hints, DiagnosticHint{
			Key:   "no_threshold",
			Level: "info",
			Title: "No threshold",
			Detail: fmt.Sprintf(
				"Sensor type %q has no registered operating range, so its readings are "+
					"stored and forwarded but never raise alerts. Register one with "+
					"PUT /api/v1/thresholds/%s or add it to the thresholds section of the config.",
				r.SensorType, r.SensorType,
			),
		})
		return append(hints, quietHint(e, now)...)
	}

	hints = append(hints, rangeHints(r, rule)...)
	hints = append(hints, ratioHints(e)...)
	hints = append(hints, quietHint(e, now)...)

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "ok",
			Level: "ok",
			Title: "Within range",
			Detail: fmt.Sprintf("The latest reading %.2f%s is inside %.2f..%.2f.",
				r.Value, r.Unit, rule.Min, rule.Max),
		})
	}

	sortHints(hints)
	return hints
}

func rangeHints(r types.Reading, rule types.ThresholdRule) []DiagnosticHint {
	span := rule.Max - rule.Min
	v := r.Value

	switch {
	case v > rule.Max:
		over := v - rule.Max
		return []DiagnosticHint{{
			Key:   "above_max",
			Level: breachLevel(over, span),
			Title: "Above maximum",
			Detail: fmt.Sprintf(
				"The latest reading %.2f%s is %.2f above the maximum of %.2f. "+
					"An alert is raised for this sensor unless one is already active.",
				v, r.Unit, over, rule.Max,
			),
			Value: &v,
		}}
	case v < rule.Min:
		under := rule.Min - v
		return []DiagnosticHint{{
			Key:   "below_min",
			Level: breachLevel(under, span),
			Title: "Below minimum",
			Detail: fmt.Sprintf(
				"The latest reading %.2f%s is %.2f below the minimum of %.2f. "+
					"An alert is raised for this sensor unless one is already active.",
				v, r.Unit, under, rule.Min,
			),
			Value: &v,
		}}
	}

	if span <= 0 {
		return nil
	}
	margin := span * nearLimitFraction
	switch {
	case rule.Max-v < margin:
		return []DiagnosticHint{{
			Key:    "near_max",
			Level:  "info",
			Title:  "Close to maximum",
			Detail: fmt.Sprintf("The latest reading %.2f%s is within %.0f%% of the maximum of %.2f.", v, r.Unit, nearLimitFraction*100, rule.Max),
			Value:  &v,
		}}
	case v-rule.Min < margin:
		return []DiagnosticHint{{
			Key:    "near_min",
			Level:  "info",
			Title:  "Close to minimum",
			Detail: fmt.Sprintf("The latest reading %.2f%s is within %.0f%% of the minimum of %.2f.", v, r.Unit, nearLimitFraction*100, rule.Min),
			Value:  &v,
		}}
	}
	return nil
}

func breachLevel(overshoot, span float64) string {
	if span > 0 && overshoot >= span*criticalOvershoot {
		return "critical"
	}
	return "warning"
}

func ratioHints(e store.Entry) []DiagnosticHint {
	if e.Total < minRatioSamples {
		return nil
	}
	pct := float64(e.Warnings) * 100 / float64(e.Total)
	switch {
	case pct >= 50:
		return []DiagnosticHint{{
			Key:   "frequent_breaches",
			Level: "warning",
			Title: fmt.Sprintf("%.0f%% out of range", pct),
			Detail: fmt.Sprintf(
				"%d of the last %d readings were out of range. Either the environment "+
					"around this sensor has drifted or its threshold no longer matches "+
					"what it measures.",
				e.Warnings, e.Total,
			),
			Value: &pct,
		}}
	case pct >= 20:
		return []DiagnosticHint{{
			Key:    "occasional_breaches",
			Level:  "info",
			Title:  fmt.Sprintf("%.0f%% out of range", pct),
			Detail: fmt.Sprintf("%d of the last %d readings were out of range.", e.Warnings, e.Total),
			Value:  &pct,
		}}
	}
	return nil
}

func quietHint(e store.Entry, now time.Time) []DiagnosticHint {
	idle := now.Sub(e.UpdatedAt)
	if idle < quietAfter {
		return nil
	}
	mins := idle.Minutes()
	return []DiagnosticHint{{
		Key:   "quiet",
		Level: "info",
		Title: "No recent readings",
		Detail: fmt.Sprintf(
			"This sensor last reported %.0f minutes ago. Check its power and network "+
				"link; it will drop off the sensor list once the readings TTL passes.",
			mins,
		),
		Value: &mins,
	}}
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

func sortHints(hints []DiagnosticHint) {
	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
}
