package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"lifeline/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "disburser", "submit", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"disburser", "submit", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "verifier", "score", "no marker", nil)
	if !services.IsTransient(err) {
		t.Fatalf("expected nil marker to default to transient, got %v", err)
	}
}

func TestClassificationHelpers(t *testing.T) {
	validation := services.Wrap(services.ErrValidation, "detector", "decode", "bad payload", nil)
	if !services.IsValidation(validation) {
		t.Fatalf("expected validation classification for %v", validation)
	}
	if services.IsTransient(validation) {
		t.Fatalf("validation error must not classify as transient: %v", validation)
	}

	permanent := services.Wrap(services.ErrPermanent, "ledger", "submit", "insufficient balance", nil)
	if !services.IsPermanent(permanent) {
		t.Fatalf("expected permanent classification for %v", permanent)
	}

	unavailable := services.Wrap(services.ErrUnavailable, "queue", "publish", "storage down", errors.New("disk"))
	if !services.IsUnavailable(unavailable) {
		t.Fatalf("expected unavailable classification for %v", unavailable)
	}
	if !services.IsTransient(unavailable) {
		t.Fatalf("unavailable should also classify as transient for retry purposes: %v", unavailable)
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := services.WithEventID(context.Background(), "evt-1")
	ctx = services.WithWorker(ctx, "verifier")
	ctx = services.WithChannel(ctx, "detections")

	if id, ok := services.EventIDFromContext(ctx); !ok || id != "evt-1" {
		t.Fatalf("expected event id evt-1, got %q ok=%v", id, ok)
	}
	if worker, ok := services.WorkerFromContext(ctx); !ok || worker != "verifier" {
		t.Fatalf("expected worker verifier, got %q ok=%v", worker, ok)
	}
	if channel, ok := services.ChannelFromContext(ctx); !ok || channel != "detections" {
		t.Fatalf("expected channel detections, got %q ok=%v", channel, ok)
	}
}
