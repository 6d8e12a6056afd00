package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"lifeline/internal/config"
	"lifeline/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventPipelineStarted, notifications.Payload{"queue_backend": "sqlite"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "pipeline started",
			event: notifications.EventPipelineStarted,
			payload: notifications.Payload{
				"queue_backend": "sqlite",
			},
			expectTitle:   "Lifeline - Pipeline Started",
			expectMessage: "Pipeline running (queue backend: sqlite)",
			expectTags:    "lifeline,pipeline,started",
		},
		{
			name:  "worker crashed",
			event: notifications.EventWorkerCrashed,
			payload: notifications.Payload{
				"worker": "detector",
				"detail": "loop error: queue storage unavailable",
			},
			expectTitle:    "Lifeline - Worker Crashed",
			expectMessage:  "Worker detector crashed: loop error: queue storage unavailable",
			expectTags:     "lifeline,worker,crashed",
			expectPriority: "high",
		},
		{
			name:  "worker restarted",
			event: notifications.EventWorkerRestarted,
			payload: notifications.Payload{
				"worker":   "verifier",
				"restarts": "2",
				"backoff":  "4s",
			},
			expectTitle:   "Lifeline - Worker Restarted",
			expectMessage: "Worker verifier restarted (restart #2, backoff 4s)",
			expectTags:    "lifeline,worker,restarted",
		},
		{
			name:  "worker halted",
			event: notifications.EventWorkerHalted,
			payload: notifications.Payload{
				"worker": "disburser",
				"detail": "loop error: handler panic",
			},
			expectTitle:    "Lifeline - Worker Halted",
			expectMessage:  "Worker disburser exceeded its restart budget and was halted\nManual restart required",
			expectTags:     "lifeline,worker,halted",
			expectPriority: "urgent",
		},
		{
			name:  "dead letter",
			event: notifications.EventDeadLetter,
			payload: notifications.Payload{
				"worker":  "verifier",
				"channel": "detections.dead",
				"event":   "evt-42",
				"detail":  "verification scoring failed",
			},
			expectTitle:    "Lifeline - Dead Letter",
			expectMessage:  "Event evt-42 exhausted retries on detections.dead: verification scoring failed",
			expectTags:     "lifeline,dead-letter,review",
			expectPriority: "high",
		},
		{
			name:  "transaction submitted",
			event: notifications.EventTransactionSubmitted,
			payload: notifications.Payload{
				"key":       "evt-42",
				"reference": "0xfeed",
				"total":     "0.0700",
			},
			expectTitle:   "Lifeline - Disbursement Submitted",
			expectMessage: "Disbursement evt-42 submitted (total 0.0700, ref 0xfeed)",
			expectTags:    "lifeline,transaction,submitted",
		},
		{
			name:  "transaction confirmed",
			event: notifications.EventTransactionConfirmed,
			payload: notifications.Payload{
				"key":       "evt-42",
				"reference": "0xfeed",
				"total":     "0.0700",
			},
			expectTitle:   "Lifeline - Disbursement Confirmed",
			expectMessage: "Disbursement evt-42 confirmed (total 0.0700, ref 0xfeed)",
			expectTags:    "lifeline,transaction,confirmed",
		},
		{
			name:  "transaction failed",
			event: notifications.EventTransactionFailed,
			payload: notifications.Payload{
				"key":    "evt-42",
				"detail": "network rejected transaction",
			},
			expectTitle:    "Lifeline - Disbursement Failed",
			expectMessage:  "Disbursement evt-42 failed: network rejected transaction",
			expectTags:     "lifeline,transaction,failed",
			expectPriority: "high",
		},
		{
			name:  "needs attention",
			event: notifications.EventNeedsAttention,
			payload: notifications.Payload{
				"key":       "evt-42",
				"reference": "0xfeed",
			},
			expectTitle:    "Lifeline - Needs Attention",
			expectMessage:  "Transaction evt-42 unconfirmed past deadline (ref 0xfeed)\nManual review required",
			expectTags:     "lifeline,transaction,review",
			expectPriority: "high",
		},
		{
			name:  "storage failure",
			event: notifications.EventStorageFailure,
			payload: notifications.Payload{
				"worker": "detector",
				"detail": "database is locked",
			},
			expectTitle:    "Lifeline - Storage Failure",
			expectMessage:  "Queue storage unavailable: database is locked\nPipeline halted",
			expectTags:     "lifeline,storage,alert",
			expectPriority: "urgent",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			payload:        notifications.Payload{"message": "lifeline notification test"},
			expectTitle:    "Lifeline - Test",
			expectMessage:  "lifeline notification test",
			expectTags:     "lifeline,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceHonorsCategoryGates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for gated event: %s", r.Header.Get("Title"))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Crashes = false
	cfg.Notifications.DeadLetters = false
	cfg.Notifications.Transactions = false
	cfg.Notifications.Pipeline = false

	svc := notifications.NewService(&cfg)
	gated := []notifications.Event{
		notifications.EventPipelineStarted,
		notifications.EventPipelineStopped,
		notifications.EventWorkerCrashed,
		notifications.EventWorkerRestarted,
		notifications.EventWorkerHalted,
		notifications.EventDeadLetter,
		notifications.EventTransactionSubmitted,
		notifications.EventTransactionConfirmed,
		notifications.EventTransactionFailed,
		notifications.EventNeedsAttention,
	}

	for _, event := range gated {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"worker": "detector"}); err != nil {
			t.Fatalf("expected no error for gated event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceAlwaysSendsStorageFailures(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Crashes = false
	cfg.Notifications.Pipeline = false

	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventStorageFailure, notifications.Payload{"detail": "disk gone"}); err != nil {
		t.Fatalf("storage failure publish: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 ntfy call, got %d", calls)
	}
}

func TestNtfyServiceSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("topic requires auth"))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	svc := notifications.NewService(&cfg)
	err := svc.Publish(context.Background(), notifications.EventTest, nil)
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestPublishRejectsUnknownEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for unknown event")
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.Event("not-a-thing"), nil); err == nil {
		t.Fatal("expected error for unknown event")
	}
}
