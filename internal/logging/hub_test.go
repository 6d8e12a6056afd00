package logging_test

import (
	"log/slog"
	"testing"

	"lifeline/internal/logging"
)

func TestHubRetainsMostRecentRecords(t *testing.T) {
	hub := logging.NewHub(3)
	logger := slog.New(hub.Handler())

	logger.Info("one")
	logger.Info("two")
	logger.Info("three")
	logger.Info("four")

	records := hub.Records(0)
	if len(records) != 3 {
		t.Fatalf("expected 3 retained records, got %d", len(records))
	}
	if records[0].Message != "two" || records[2].Message != "four" {
		t.Fatalf("expected oldest-first ordering [two..four], got %q..%q", records[0].Message, records[2].Message)
	}

	limited := hub.Records(1)
	if len(limited) != 1 || limited[0].Message != "four" {
		t.Fatalf("expected limit to keep the newest record, got %+v", limited)
	}
}

func TestHubCapturesComponentAndAttrs(t *testing.T) {
	hub := logging.NewHub(8)
	logger := logging.NewComponentLogger(slog.New(hub.Handler()), "orchestrator")

	logger.Warn("worker stale",
		logging.String(logging.FieldWorker, "verifier"),
		logging.Int("restarts", 2))

	records := hub.Records(0)
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	rec := records[0]
	if rec.Component != "orchestrator" {
		t.Fatalf("expected component orchestrator, got %q", rec.Component)
	}
	if rec.Level != "WARN" {
		t.Fatalf("expected WARN level, got %q", rec.Level)
	}
	if rec.Attrs[logging.FieldWorker] != "verifier" || rec.Attrs["restarts"] != "2" {
		t.Fatalf("expected flattened attrs, got %+v", rec.Attrs)
	}
}

func TestHubIgnoresDebugBelowLevel(t *testing.T) {
	hub := logging.NewHub(8)
	logger := slog.New(hub.Handler())

	logger.Debug("hidden")
	logger.Info("visible")

	records := hub.Records(0)
	if len(records) != 1 || records[0].Message != "visible" {
		t.Fatalf("expected only info record, got %+v", records)
	}
}
