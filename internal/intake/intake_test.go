package intake

import (
	"context"
	"testing"

	"lifeline/internal/detector"
	"lifeline/internal/event"
	"lifeline/internal/queue"
	"lifeline/internal/services"
	"lifeline/internal/testsupport"
)

func TestParseLineReading(t *testing.T) {
	line := `boot[0042] {"type":"disaster_event","sensor_type":"fire","confidence":85,"severity":0.7,"location":"37.77,-122.42"} crc=ok`
	ev, err := ParseLine(line, "esp32-cam-1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev == nil {
		t.Fatal("expected an observation")
	}
	if ev.Kind != event.KindObservation {
		t.Fatalf("kind = %s, want observation", ev.Kind)
	}

	obs := ev.Observation
	if obs.Source != "esp32-cam-1" {
		t.Fatalf("source = %q", obs.Source)
	}
	if obs.Latitude != 37.77 || obs.Longitude != -122.42 {
		t.Fatalf("coordinates = %v,%v", obs.Latitude, obs.Longitude)
	}
	if got := obs.Signals["fire"]; got != 0.85 {
		t.Fatalf("fire signal = %v, want confidence scaled to 0.85", got)
	}
	if got := obs.Signals[detector.SeverityHint]; got != 0.7 {
		t.Fatalf("severity hint = %v, want 0.7", got)
	}
}

func TestParseLineDefaultsAndClamps(t *testing.T) {
	ev, err := ParseLine(`{"type":"disaster_event","sensor_type":"flood","confidence":140}`, "dev")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	obs := ev.Observation
	if got := obs.Signals["flood"]; got != 1 {
		t.Fatalf("flood signal = %v, want clamp to 1", got)
	}
	if got := obs.Signals[detector.SeverityHint]; got != 0.5 {
		t.Fatalf("severity hint = %v, want default 0.5", got)
	}
	if obs.Latitude != 0 || obs.Longitude != 0 {
		t.Fatalf("coordinates = %v,%v, want origin for missing location", obs.Latitude, obs.Longitude)
	}
}

func TestParseLineSkipsChatter(t *testing.T) {
	for _, line := range []string{
		"ESP32 boot v2.1",
		"",
		`{"type":"heartbeat","uptime":120}`,
		"no braces here",
	} {
		ev, err := ParseLine(line, "dev")
		if err != nil {
			t.Fatalf("%q: unexpected error %v", line, err)
		}
		if ev != nil {
			t.Fatalf("%q: expected skip, got %+v", line, ev)
		}
	}
}

func TestParseLineMalformedJSON(t *testing.T) {
	_, err := ParseLine(`{"type":"disaster_event","confidence":}`, "dev")
	if !services.IsValidation(err) {
		t.Fatalf("err = %v, want validation failure", err)
	}
}

func TestParseLineBadLocationFallsBack(t *testing.T) {
	ev, err := ParseLine(`{"type":"disaster_event","sensor_type":"fire","confidence":90,"location":"somewhere"}`, "dev")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Observation.Latitude != 0 || ev.Observation.Longitude != 0 {
		t.Fatal("unparseable location should pin to origin")
	}
}

func TestNewBridgeDisabled(t *testing.T) {
	if b := NewBridge(nil, nil, nil); b != nil {
		t.Fatal("expected nil bridge for nil config")
	}

	cfg := testsupport.NewConfig(t)
	if b := NewBridge(cfg, nil, nil); b != nil {
		t.Fatal("expected nil bridge when disabled")
	}

	cfg.Intake.BridgeEnabled = true
	cfg.Intake.BridgeDevice = "  "
	if b := NewBridge(cfg, nil, nil); b != nil {
		t.Fatal("expected nil bridge without a device")
	}
}

func TestNilBridgeIsSafe(t *testing.T) {
	var b *Bridge
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("nil start: %v", err)
	}
	b.Stop()
	if b.Running() {
		t.Fatal("nil bridge reports running")
	}
	if b.Ingested() != 0 {
		t.Fatal("nil bridge reports ingestion")
	}
}

func TestBridgePublishesReadings(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Intake.BridgeEnabled = true
	broker := testsupport.MustOpenQueue(t, cfg)
	bridge := NewBridge(cfg, broker, nil)
	if bridge == nil {
		t.Fatal("expected a bridge")
	}
	ctx := context.Background()

	bridge.handleLine(ctx, `{"type":"disaster_event","sensor_type":"fire","confidence":85,"severity":0.7,"location":"37.77,-122.42"}`)
	bridge.handleLine(ctx, "ESP32 boot v2.1")
	bridge.handleLine(ctx, `{"type":"heartbeat"}`)
	bridge.handleLine(ctx, `{"type":"disaster_event","confidence":}`)

	depth, err := broker.Depth(ctx, queue.ChannelObservations)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("observations depth = %d, want only the valid reading", depth)
	}
	if bridge.Ingested() != 1 {
		t.Fatalf("ingested = %d, want 1", bridge.Ingested())
	}

	envs, err := broker.List(ctx, queue.ChannelObservations, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	ev, err := envs[0].Event()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Observation.Signals["fire"] != 0.85 {
		t.Fatalf("published signal = %v, want 0.85", ev.Observation.Signals["fire"])
	}
}

func TestBridgeStopWithoutStart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Intake.BridgeEnabled = true
	bridge := NewBridge(cfg, nil, nil)
	bridge.Stop()
	if bridge.Running() {
		t.Fatal("unstarted bridge reports running")
	}
}
