// Package detector is the first pipeline stage: it inspects raw
// observations and emits at most one disaster detection per observation.
package detector

import (
	"context"

	"lifeline/internal/event"
)

// Analyzer inspects one observation and returns at most one detection.
// A nil detection with a nil error means nothing crossed a threshold,
// which is the common case and not a failure.
type Analyzer interface {
	Analyze(ctx context.Context, obs *event.Observation) (*event.Detection, error)
}

// SeverityHint is the reserved signal key carrying an explicit severity
// estimate from the capture device. Hardware bridges report it alongside
// the per-type confidences; when present it replaces the derived severity.
const SeverityHint = "severity"

// detectionThresholds are the per-type minimum confidences. A signal
// must be strictly greater than its threshold to count.
var detectionThresholds = map[event.DisasterType]float64{
	event.DisasterFire:       0.6,
	event.DisasterFlood:      0.5,
	event.DisasterStructural: 0.7,
	event.DisasterCasualty:   0.8,
}

// severityMultipliers skew severity by how dangerous each type is at
// equal confidence.
var severityMultipliers = map[event.DisasterType]float64{
	event.DisasterFire:       1.2,
	event.DisasterFlood:      1.0,
	event.DisasterStructural: 1.1,
	event.DisasterCasualty:   1.5,
}

// HeuristicAnalyzer scores the source device's signal estimates against
// fixed per-type thresholds. It is deterministic: the same observation
// always yields the same detection.
type HeuristicAnalyzer struct{}

// NewHeuristicAnalyzer returns the default analyzer.
func NewHeuristicAnalyzer() *HeuristicAnalyzer {
	return &HeuristicAnalyzer{}
}

// Analyze picks the strongest signal strictly above its threshold and
// derives severity from confidence and the type multiplier, capped at 1.
// An explicit severity hint from the device wins over the derivation.
func (a *HeuristicAnalyzer) Analyze(_ context.Context, obs *event.Observation) (*event.Detection, error) {
	var (
		best     event.DisasterType
		bestConf float64
	)
	for _, dt := range event.DisasterTypes() {
		conf, ok := obs.Signals[string(dt)]
		if !ok {
			continue
		}
		if conf > detectionThresholds[dt] && conf > bestConf {
			best = dt
			bestConf = conf
		}
	}
	if best == "" {
		return nil, nil
	}

	severity := bestConf * severityMultipliers[best]
	if hint, ok := obs.Signals[SeverityHint]; ok {
		severity = hint
	}
	if severity > 1 {
		severity = 1
	}
	if severity < 0 {
		severity = 0
	}

	return &event.Detection{
		Type:       best,
		Severity:   severity,
		Confidence: bestConf,
		Latitude:   obs.Latitude,
		Longitude:  obs.Longitude,
		Source:     obs.Source,
	}, nil
}
