package testsupport

import (
	"testing"
	"time"

	"lifeline/internal/config"
	"lifeline/internal/event"
	"lifeline/internal/queue"
)

// MustOpenQueue opens a SQLite queue.Store for tests and registers cleanup.
func MustOpenQueue(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Observation builds a valid observation event for tests.
func Observation(t testing.TB, signals map[string]float64) *event.Event {
	t.Helper()

	ev := event.NewObservation(event.Observation{
		Source:     "test-device",
		CapturedAt: time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC),
		Latitude:   37.77,
		Longitude:  -122.42,
		MediaType:  "image/jpeg",
		SizeBytes:  2048,
		Signals:    signals,
	})
	if err := ev.Validate(); err != nil {
		t.Fatalf("build observation: %v", err)
	}
	return ev
}

// Detection builds a valid detection event for tests, preserving the
// identity of the supplied observation when one is given.
func Detection(t testing.TB, base *event.Event, det event.Detection) *event.Event {
	t.Helper()

	if base == nil {
		base = Observation(t, map[string]float64{string(det.Type): det.Confidence})
	}
	ev := base.WithDetection(det)
	if err := ev.Validate(); err != nil {
		t.Fatalf("build detection: %v", err)
	}
	return ev
}

// Disbursement builds a valid disbursement event for tests: a verified
// fire detection split across the simulator addresses.
func Disbursement(t testing.TB, base *event.Event) *event.Event {
	t.Helper()

	if base == nil {
		base = Detection(t, nil, event.Detection{
			Type:       event.DisasterFire,
			Severity:   0.8,
			Confidence: 0.9,
			Latitude:   37.77,
			Longitude:  -122.42,
			Source:     "test-device",
		})
	}
	ev := base.WithDisbursement(event.Disbursement{
		Recipients: []event.Recipient{
			{Address: "sim:emergency-ngo", Role: "emergency_ngo", Amount: 0.004},
			{Address: "sim:local-government", Role: "local_government", Amount: 0.003},
			{Address: "sim:disaster-relief", Role: "disaster_relief", Amount: 0.003},
		},
		Verification: event.Verification{
			Score:            82,
			Threshold:        75,
			HumanImpact:      72,
			RecommendedTotal: 0.01,
		},
	})
	if err := ev.Validate(); err != nil {
		t.Fatalf("build disbursement: %v", err)
	}
	return ev
}
