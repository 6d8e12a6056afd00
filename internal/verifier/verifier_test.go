package verifier_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"lifeline/internal/event"
	"lifeline/internal/services"
	"lifeline/internal/stage"
	"lifeline/internal/testsupport"
	"lifeline/internal/verifier"
)

// fireDetection mirrors a strong, credible fire sighting on the west
// coast: high longitude puts it outside the dense-population band.
func fireDetection() *event.Detection {
	return &event.Detection{
		Type:       event.DisasterFire,
		Severity:   0.8,
		Confidence: 0.9,
		Latitude:   37.77,
		Longitude:  -122.42,
		Source:     "test-device",
	}
}

type stubScorer struct {
	score int
	err   error
}

func (s *stubScorer) Score(context.Context, *event.Detection) (int, error) {
	return s.score, s.err
}

func TestEnsembleScorerFirstSightingIsDeterministic(t *testing.T) {
	det := fireDetection()

	first, err := verifier.NewEnsembleScorer().Score(context.Background(), det)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	second, err := verifier.NewEnsembleScorer().Score(context.Background(), det)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if first != second {
		t.Fatalf("fresh scorers disagree: %d vs %d", first, second)
	}
	// confidence 84.7, no history 70, fire-prone latitude 80, no recent
	// events 70: averages to 76.
	if first != 76 {
		t.Fatalf("score = %d, want 76", first)
	}
}

func TestEnsembleScorerConsistentHistoryBoostsScore(t *testing.T) {
	scorer := verifier.NewEnsembleScorer()
	det := fireDetection()

	first, err := scorer.Score(context.Background(), det)
	if err != nil {
		t.Fatalf("first score: %v", err)
	}
	second, err := scorer.Score(context.Background(), det)
	if err != nil {
		t.Fatalf("second score: %v", err)
	}
	if second <= first {
		t.Fatalf("repeat sighting scored %d, want above first %d", second, first)
	}
	if second != 91 {
		t.Fatalf("repeat score = %d, want 91", second)
	}
}

func TestEnsembleScorerPenalizesUnfamiliarType(t *testing.T) {
	scorer := verifier.NewEnsembleScorer()
	if _, err := scorer.Score(context.Background(), fireDetection()); err != nil {
		t.Fatalf("seed score: %v", err)
	}

	structural := &event.Detection{
		Type:       event.DisasterStructural,
		Severity:   0.8,
		Confidence: 0.8,
		Latitude:   37.77,
		Longitude:  -122.42,
	}
	score, err := scorer.Score(context.Background(), structural)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	// confidence 80, known area but new type 60, seismic latitude 80,
	// no structural history 70: averages to 72.
	if score != 72 {
		t.Fatalf("score = %d, want 72", score)
	}
}

func TestEnsembleScorerRegionalRisk(t *testing.T) {
	flood := func(lat float64) *event.Detection {
		return &event.Detection{
			Type:       event.DisasterFlood,
			Severity:   0.7,
			Confidence: 0.8,
			Latitude:   lat,
			Longitude:  20,
		}
	}

	equatorial, err := verifier.NewEnsembleScorer().Score(context.Background(), flood(5))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	northern, err := verifier.NewEnsembleScorer().Score(context.Background(), flood(55))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if equatorial-northern != 10 {
		t.Fatalf("equatorial %d vs northern %d, want a 10 point regional gap", equatorial, northern)
	}
}

func TestEnsembleScorerRejectsInvalidDetection(t *testing.T) {
	det := fireDetection()
	det.Severity = 1.5
	if _, err := verifier.NewEnsembleScorer().Score(context.Background(), det); !services.IsValidation(err) {
		t.Fatalf("err = %v, want validation failure", err)
	}
}

func TestHumanImpact(t *testing.T) {
	// Outside the dense band: 100 x 0.8 x 0.9 x 1.0.
	if got := verifier.HumanImpact(fireDetection()); got != 72 {
		t.Fatalf("impact = %d, want 72", got)
	}

	urban := &event.Detection{Type: event.DisasterCasualty, Severity: 1, Confidence: 1, Latitude: 35, Longitude: 90}
	if got := verifier.HumanImpact(urban); got != 1125 {
		t.Fatalf("urban casualty impact = %d, want 500 x 2.25", got)
	}

	faint := &event.Detection{Type: event.DisasterFire, Severity: 0.01, Confidence: 0.01, Latitude: 55, Longitude: 120}
	if got := verifier.HumanImpact(faint); got != 1 {
		t.Fatalf("faint impact = %d, want clamp to 1", got)
	}
}

func TestRecommendedTotalClamps(t *testing.T) {
	det := fireDetection()

	// 0.1 x 0.76 x 0.8 x 0.072 is far below the floor.
	if got := verifier.RecommendedTotal(det, 76, 72, 0.01, 2.0); got != 0.01 {
		t.Fatalf("total = %v, want floor 0.01", got)
	}

	casualty := &event.Detection{Type: event.DisasterCasualty, Severity: 1, Confidence: 1, Latitude: 35, Longitude: 90}
	got := verifier.RecommendedTotal(casualty, 90, 1125, 0.01, 2.0)
	want := 0.5 * 0.9 * 1 * 1.125
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("total = %v, want %v", got, want)
	}

	if got := verifier.RecommendedTotal(casualty, 90, 1125, 0.01, 0.3); got != 0.3 {
		t.Fatalf("total = %v, want ceiling 0.3", got)
	}
}

func TestSplitRecipients(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cases := []struct {
		dtype  event.DisasterType
		shares [3]float64
	}{
		{event.DisasterFire, [3]float64{0.4, 0.3, 0.3}},
		{event.DisasterFlood, [3]float64{0.4, 0.3, 0.3}},
		{event.DisasterCasualty, [3]float64{0.6, 0.3, 0.1}},
		{event.DisasterStructural, [3]float64{0.2, 0.6, 0.2}},
	}
	for _, tc := range cases {
		recipients, err := verifier.SplitRecipients(tc.dtype, 1.0, cfg)
		if err != nil {
			t.Fatalf("%s: %v", tc.dtype, err)
		}
		if len(recipients) != 3 {
			t.Fatalf("%s: %d recipients, want 3", tc.dtype, len(recipients))
		}
		var total float64
		for i, r := range recipients {
			if math.Abs(r.Amount-tc.shares[i]) > 1e-9 {
				t.Fatalf("%s recipient %s amount = %v, want %v", tc.dtype, r.Role, r.Amount, tc.shares[i])
			}
			if r.Address == "" {
				t.Fatalf("%s recipient %s missing address", tc.dtype, r.Role)
			}
			total += r.Amount
		}
		if math.Abs(total-1.0) > 1e-9 {
			t.Fatalf("%s shares sum to %v, want the full total", tc.dtype, total)
		}
	}
}

func TestSplitRecipientsMissingAddress(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Funding.ReliefAddress = ""
	if _, err := verifier.SplitRecipients(event.DisasterFire, 1.0, cfg); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration failure", err)
	}
}

func TestHandlerPassesHighScoreDetection(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	handler := verifier.NewHandler(cfg, &stubScorer{score: 82}, nil)
	det := testsupport.Detection(t, nil, *fireDetection())

	outcome := handler.Handle(context.Background(), det)
	if outcome.Kind != stage.KindForward {
		t.Fatalf("outcome = %s, want forward", outcome.Kind)
	}
	if outcome.Event.ID != det.ID {
		t.Fatal("disbursement lost the event id")
	}
	if outcome.Event.Kind != event.KindDisbursement || outcome.Event.Disbursement == nil {
		t.Fatalf("forwarded kind = %s, want disbursement payload", outcome.Event.Kind)
	}

	disb := outcome.Event.Disbursement
	if disb.Verification.Score != 82 || disb.Verification.Threshold != cfg.Verification.Threshold {
		t.Fatalf("verification = %+v, want score 82 over threshold %d", disb.Verification, cfg.Verification.Threshold)
	}
	if disb.Verification.HumanImpact != 72 {
		t.Fatalf("impact = %d, want 72", disb.Verification.HumanImpact)
	}
	if len(disb.Recipients) != 3 {
		t.Fatalf("recipients = %d, want 3", len(disb.Recipients))
	}
	for _, r := range disb.Recipients {
		if r.Amount <= 0 {
			t.Fatalf("recipient %s amount = %v, want positive", r.Role, r.Amount)
		}
	}
	if math.Abs(disb.Total()-disb.Verification.RecommendedTotal) > 1e-9 {
		t.Fatalf("split total %v differs from recommendation %v", disb.Total(), disb.Verification.RecommendedTotal)
	}
}

func TestHandlerDropsLowScoreDetection(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	handler := verifier.NewHandler(cfg, &stubScorer{score: 40}, nil)
	det := testsupport.Detection(t, nil, event.Detection{
		Type: event.DisasterFire, Severity: 0.5, Confidence: 0.3, Latitude: 37.77, Longitude: -122.42,
	})

	outcome := handler.Handle(context.Background(), det)
	if outcome.Kind != stage.KindDrop {
		t.Fatalf("outcome = %s, want drop", outcome.Kind)
	}
	if !strings.Contains(outcome.Reason, "40") {
		t.Fatalf("reason = %q, want the score on record", outcome.Reason)
	}
}

func TestHandlerThresholdIsStrictlyGreater(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	det := testsupport.Detection(t, nil, *fireDetection())

	at := verifier.NewHandler(cfg, &stubScorer{score: cfg.Verification.Threshold}, nil)
	if outcome := at.Handle(context.Background(), det); outcome.Kind != stage.KindDrop {
		t.Fatalf("score equal to threshold: outcome = %s, want drop", outcome.Kind)
	}

	above := verifier.NewHandler(cfg, &stubScorer{score: cfg.Verification.Threshold + 1}, nil)
	if outcome := above.Handle(context.Background(), det); outcome.Kind != stage.KindForward {
		t.Fatalf("score above threshold: outcome = %s, want forward", outcome.Kind)
	}
}

func TestHandlerDefaultEnsemblePassesStrongFire(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	handler := verifier.NewHandler(cfg, nil, nil)
	det := testsupport.Detection(t, nil, *fireDetection())

	outcome := handler.Handle(context.Background(), det)
	if outcome.Kind != stage.KindForward {
		t.Fatalf("outcome = %s (%s), want a strong first sighting to pass with defaults", outcome.Kind, outcome.Reason)
	}
}

func TestHandlerDropsWrongKind(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	handler := verifier.NewHandler(cfg, &stubScorer{score: 90}, nil)
	obs := testsupport.Observation(t, map[string]float64{"fire": 0.9})

	if outcome := handler.Handle(context.Background(), obs); outcome.Kind != stage.KindDrop {
		t.Fatalf("outcome = %s, want drop for non-detection input", outcome.Kind)
	}
}

func TestHandlerMapsScorerErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	det := testsupport.Detection(t, nil, *fireDetection())
	cases := []struct {
		name string
		err  error
		want stage.Kind
	}{
		{"transient retries", services.Wrap(services.ErrTransient, "verifier", "score", "model busy", nil), stage.KindRetryLater},
		{"unavailable is fatal", services.Wrap(services.ErrUnavailable, "verifier", "score", "model gone", nil), stage.KindFatal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := verifier.NewHandler(cfg, &stubScorer{err: tc.err}, nil)
			if outcome := handler.Handle(context.Background(), det); outcome.Kind != tc.want {
				t.Fatalf("outcome = %s, want %s", outcome.Kind, tc.want)
			}
		})
	}
}
