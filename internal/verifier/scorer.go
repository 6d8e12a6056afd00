// Package verifier is the audit stage: it scores detections, applies the
// pass threshold, and turns passing detections into funding instructions.
package verifier

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"lifeline/internal/event"
)

// Scorer rates a detection between 0 (certainly bogus) and 100
// (certainly real).
type Scorer interface {
	Score(ctx context.Context, det *event.Detection) (int, error)
}

// modelWeights hold the per-type confidence and severity weights the
// confidence model applies before normalizing to the 0-100 scale.
type modelWeights struct {
	confidence float64
	severity   float64
}

var confidenceWeights = map[event.DisasterType]modelWeights{
	event.DisasterFire:       {confidence: 0.8, severity: 0.9},
	event.DisasterFlood:      {confidence: 0.7, severity: 0.8},
	event.DisasterStructural: {confidence: 0.9, severity: 0.8},
	event.DisasterCasualty:   {confidence: 0.95, severity: 1.0},
}

const (
	// neutralScore is what a model reports when it has nothing to say
	// about the event, neither for nor against.
	neutralScore = 70.0
	// unfamiliarScore is what the history model reports when the area is
	// known but has never produced this disaster type.
	unfamiliarScore = 60.0
	// crossValidationWindow bounds how far back the cross-validation
	// model looks for similar events.
	crossValidationWindow = 30 * 24 * time.Hour
	// historyPerLocation caps stored events per location cell.
	historyPerLocation = 100
)

// pastEvent is one remembered scoring, kept per location cell.
type pastEvent struct {
	dtype      event.DisasterType
	confidence float64
	at         time.Time
}

// EnsembleScorer is the default scorer: the average of four deterministic
// models (weighted confidence, historical consistency for the location,
// regional risk, cross-validation against recent similar events). It
// keeps a bounded in-memory history so repeated observations of the same
// area inform later scores.
type EnsembleScorer struct {
	mu      sync.Mutex
	history map[string][]pastEvent
	now     func() time.Time
}

// NewEnsembleScorer returns an empty-history ensemble scorer.
func NewEnsembleScorer() *EnsembleScorer {
	return &EnsembleScorer{
		history: make(map[string][]pastEvent),
		now:     time.Now,
	}
}

// Score runs the four models and averages them. The result is recorded
// into the history so later events at the same location are judged
// against it.
func (s *EnsembleScorer) Score(_ context.Context, det *event.Detection) (int, error) {
	if err := det.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	models := []float64{
		confidenceModel(det),
		s.historyModel(det),
		regionalRiskModel(det),
		s.crossValidationModel(det),
	}
	var sum float64
	for _, m := range models {
		sum += m
	}
	score := int(sum / float64(len(models)))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	s.remember(det)
	return score, nil
}

// confidenceModel is the weighted blend of the detector's confidence and
// severity, normalized by the weight sum so a perfect detection scores 100.
func confidenceModel(det *event.Detection) float64 {
	weights, ok := confidenceWeights[det.Type]
	if !ok {
		weights = confidenceWeights[event.DisasterFire]
	}
	blended := det.Confidence*weights.confidence + det.Severity*weights.severity
	score := blended / (weights.confidence + weights.severity) * 100
	return math.Min(100, score)
}

// historyModel compares the event against what this location cell has
// produced before. Agreement with past confidence scores high; a brand
// new disaster type for a known area scores below neutral.
func (s *EnsembleScorer) historyModel(det *event.Detection) float64 {
	past, ok := s.history[locationKey(det.Latitude, det.Longitude)]
	if !ok {
		return neutralScore
	}
	var sum float64
	var n int
	for _, e := range past {
		if e.dtype == det.Type {
			sum += e.confidence
			n++
		}
	}
	if n == 0 {
		return unfamiliarScore
	}
	consistency := 1 - math.Abs(det.Confidence-sum/float64(n))
	return math.Min(100, consistency*100)
}

// regionalRiskModel rates how plausible this disaster type is for the
// coordinates, using coarse latitude/longitude bands.
func regionalRiskModel(det *event.Detection) float64 {
	lat := math.Abs(det.Latitude)
	lon := math.Abs(det.Longitude)

	var risk float64
	switch det.Type {
	case event.DisasterFire:
		switch {
		case lat >= 30 && lat <= 45: // dry mid-latitude climates
			risk = 0.8
		case lat < 30:
			risk = 0.6
		default:
			risk = 0.4
		}
	case event.DisasterFlood:
		switch {
		case lat < 10:
			risk = 0.9
		case lat < 30:
			risk = 0.7
		default:
			risk = 0.5
		}
	case event.DisasterStructural:
		if lat > 35 || lon > 120 { // seismic belts
			risk = 0.8
		} else {
			risk = 0.6
		}
	case event.DisasterCasualty:
		if lat < 40 && lon < 100 { // dense population bands
			risk = 0.9
		} else {
			risk = 0.5
		}
	default:
		risk = 0.5
	}
	return math.Min(100, risk*100)
}

// crossValidationModel checks consistency with recent same-type events
// anywhere, not just this cell.
func (s *EnsembleScorer) crossValidationModel(det *event.Detection) float64 {
	cutoff := s.now().UTC().Add(-crossValidationWindow)
	var sum float64
	var n int
	for _, events := range s.history {
		for _, e := range events {
			if e.dtype == det.Type && e.at.After(cutoff) {
				sum += e.confidence
				n++
			}
		}
	}
	if n == 0 {
		return neutralScore
	}
	consistency := 1 - math.Abs(det.Confidence-sum/float64(n))
	return math.Min(100, consistency*100)
}

func (s *EnsembleScorer) remember(det *event.Detection) {
	key := locationKey(det.Latitude, det.Longitude)
	events := append(s.history[key], pastEvent{
		dtype:      det.Type,
		confidence: det.Confidence,
		at:         s.now().UTC(),
	})
	if len(events) > historyPerLocation {
		events = events[len(events)-historyPerLocation:]
	}
	s.history[key] = events
}

// locationKey buckets coordinates into roughly kilometer-scale cells.
func locationKey(lat, lon float64) string {
	return fmt.Sprintf("%.2f,%.2f", lat, lon)
}
