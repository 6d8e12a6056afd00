package settlement_test

import (
	"context"
	"testing"

	"lifeline/internal/services"
	"lifeline/internal/settlement"
)

func TestSimulatorSubmitAndConfirm(t *testing.T) {
	sim := settlement.NewSimulator()
	ctx := context.Background()

	ref, err := sim.Submit(ctx, submitRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ref == "" {
		t.Fatal("expected a reference")
	}

	status, err := sim.Check(ctx, ref)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status != settlement.StatusConfirmed {
		t.Fatalf("expected confirmed, got %q", status)
	}
}

func TestSimulatorScriptedFailureThenSuccess(t *testing.T) {
	sim := settlement.NewSimulator()
	sim.FailNext(services.Wrap(services.ErrTransient, "settlement", "submit", "scripted congestion", nil))
	ctx := context.Background()

	_, err := sim.Submit(ctx, submitRequest())
	if !services.IsTransient(err) {
		t.Fatalf("expected scripted transient failure, got %v", err)
	}

	ref, err := sim.Submit(ctx, submitRequest())
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if ref == "" {
		t.Fatal("expected a reference after the scripted failure cleared")
	}
	if calls := sim.SubmitCalls(); calls != 2 {
		t.Fatalf("expected 2 submit calls, got %d", calls)
	}
}

func TestSimulatorDedupesByKey(t *testing.T) {
	sim := settlement.NewSimulator()
	ctx := context.Background()

	first, err := sim.Submit(ctx, submitRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := sim.Submit(ctx, submitRequest())
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if first != second {
		t.Fatalf("same key produced different references: %q vs %q", first, second)
	}
}

func TestSimulatorFeeFloor(t *testing.T) {
	sim := settlement.NewSimulator()
	sim.SetFeeFloor(24)
	ctx := context.Background()

	req := submitRequest()
	req.Fee = 20
	_, err := sim.Submit(ctx, req)
	if !services.IsTransient(err) {
		t.Fatalf("expected transient pricing error, got %v", err)
	}

	req.Fee = 24
	if _, err := sim.Submit(ctx, req); err != nil {
		t.Fatalf("submit at floor: %v", err)
	}
}

func TestSimulatorPendingCountdown(t *testing.T) {
	sim := settlement.NewSimulator()
	sim.ConfirmAfter(2)
	ctx := context.Background()

	ref, err := sim.Submit(ctx, submitRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	for i := range 2 {
		status, err := sim.Check(ctx, ref)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if status != settlement.StatusPending {
			t.Fatalf("check %d: expected pending, got %q", i, status)
		}
	}
	status, err := sim.Check(ctx, ref)
	if err != nil {
		t.Fatalf("final check: %v", err)
	}
	if status != settlement.StatusConfirmed {
		t.Fatalf("expected confirmed after countdown, got %q", status)
	}
}

func TestSimulatorUnknownReference(t *testing.T) {
	sim := settlement.NewSimulator()
	status, err := sim.Check(context.Background(), "0xmissing")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status != settlement.StatusNotFound {
		t.Fatalf("expected not_found, got %q", status)
	}
}

func TestSimulatorRejectsMalformedSubmissions(t *testing.T) {
	sim := settlement.NewSimulator()
	ctx := context.Background()

	req := submitRequest()
	req.Key = ""
	if _, err := sim.Submit(ctx, req); !services.IsValidation(err) {
		t.Fatalf("expected validation error for missing key, got %v", err)
	}

	req = submitRequest()
	req.Recipients = nil
	if _, err := sim.Submit(ctx, req); !services.IsValidation(err) {
		t.Fatalf("expected validation error for no recipients, got %v", err)
	}
}
