package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lifeline/internal/config"
)

const userAgent = "Lifeline-Go/0.1.0"

// Event identifies a pipeline milestone or alert worth pushing.
type Event string

const (
	EventPipelineStarted      Event = "pipeline-started"
	EventPipelineStopped      Event = "pipeline-stopped"
	EventWorkerCrashed        Event = "worker-crashed"
	EventWorkerRestarted      Event = "worker-restarted"
	EventWorkerHalted         Event = "worker-halted"
	EventStorageFailure       Event = "storage-failure"
	EventDeadLetter           Event = "dead-letter"
	EventTransactionSubmitted Event = "transaction-submitted"
	EventTransactionConfirmed Event = "transaction-confirmed"
	EventTransactionFailed    Event = "transaction-failed"
	EventNeedsAttention       Event = "needs-attention"
	EventTest                 Event = "test"
)

// Payload carries event-specific fields used to render the message.
type Payload map[string]string

// Service is the notification surface pipeline components depend on.
// Publish is best-effort: callers log failures but never block on them.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		gates:    cfg.Notifications,
	}
}

// NewNoop returns a service that drops every notification. Components
// take it when the caller has nothing configured.
func NewNoop() Service {
	return noopService{}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	gates    config.Notifications
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled(event) {
		return nil
	}
	msg, ok := render(event, payload)
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

// enabled applies the per-category config gates. Storage failures and test
// notifications always go through.
func (n *ntfyService) enabled(event Event) bool {
	switch event {
	case EventPipelineStarted, EventPipelineStopped:
		return n.gates.Pipeline
	case EventWorkerCrashed, EventWorkerRestarted, EventWorkerHalted:
		return n.gates.Crashes
	case EventDeadLetter:
		return n.gates.DeadLetters
	case EventTransactionSubmitted, EventTransactionConfirmed, EventTransactionFailed, EventNeedsAttention:
		return n.gates.Transactions
	default:
		return true
	}
}

func render(event Event, payload Payload) (message, bool) {
	get := func(key string) string { return strings.TrimSpace(payload[key]) }

	switch event {
	case EventPipelineStarted:
		return message{
			title: "Lifeline - Pipeline Started",
			body:  fmt.Sprintf("Pipeline running (queue backend: %s)", orUnknown(get("queue_backend"))),
			tags:  []string{"lifeline", "pipeline", "started"},
		}, true
	case EventPipelineStopped:
		return message{
			title: "Lifeline - Pipeline Stopped",
			body:  "Pipeline stopped",
			tags:  []string{"lifeline", "pipeline", "stopped"},
		}, true
	case EventWorkerCrashed:
		return message{
			title:    "Lifeline - Worker Crashed",
			body:     fmt.Sprintf("Worker %s crashed: %s", orUnknown(get("worker")), orUnknown(get("detail"))),
			tags:     []string{"lifeline", "worker", "crashed"},
			priority: "high",
		}, true
	case EventWorkerRestarted:
		return message{
			title: "Lifeline - Worker Restarted",
			body: fmt.Sprintf("Worker %s restarted (restart #%s, backoff %s)",
				orUnknown(get("worker")), orUnknown(get("restarts")), orUnknown(get("backoff"))),
			tags: []string{"lifeline", "worker", "restarted"},
		}, true
	case EventWorkerHalted:
		return message{
			title:    "Lifeline - Worker Halted",
			body:     fmt.Sprintf("Worker %s exceeded its restart budget and was halted\nManual restart required", orUnknown(get("worker"))),
			tags:     []string{"lifeline", "worker", "halted"},
			priority: "urgent",
		}, true
	case EventStorageFailure:
		return message{
			title:    "Lifeline - Storage Failure",
			body:     fmt.Sprintf("Queue storage unavailable: %s\nPipeline halted", orUnknown(get("detail"))),
			tags:     []string{"lifeline", "storage", "alert"},
			priority: "urgent",
		}, true
	case EventDeadLetter:
		return message{
			title: "Lifeline - Dead Letter",
			body: fmt.Sprintf("Event %s exhausted retries on %s: %s",
				orUnknown(get("event")), orUnknown(get("channel")), orUnknown(get("detail"))),
			tags:     []string{"lifeline", "dead-letter", "review"},
			priority: "high",
		}, true
	case EventTransactionSubmitted:
		return message{
			title: "Lifeline - Disbursement Submitted",
			body: fmt.Sprintf("Disbursement %s submitted (total %s, ref %s)",
				orUnknown(get("key")), orUnknown(get("total")), orUnknown(get("reference"))),
			tags: []string{"lifeline", "transaction", "submitted"},
		}, true
	case EventTransactionConfirmed:
		return message{
			title: "Lifeline - Disbursement Confirmed",
			body: fmt.Sprintf("Disbursement %s confirmed (total %s, ref %s)",
				orUnknown(get("key")), orUnknown(get("total")), orUnknown(get("reference"))),
			tags: []string{"lifeline", "transaction", "confirmed"},
		}, true
	case EventTransactionFailed:
		return message{
			title:    "Lifeline - Disbursement Failed",
			body:     fmt.Sprintf("Disbursement %s failed: %s", orUnknown(get("key")), orUnknown(get("detail"))),
			tags:     []string{"lifeline", "transaction", "failed"},
			priority: "high",
		}, true
	case EventNeedsAttention:
		return message{
			title: "Lifeline - Needs Attention",
			body: fmt.Sprintf("Transaction %s unconfirmed past deadline (ref %s)\nManual review required",
				orUnknown(get("key")), orUnknown(get("reference"))),
			tags:     []string{"lifeline", "transaction", "review"},
			priority: "high",
		}, true
	case EventTest:
		body := get("message")
		if body == "" {
			body = "Notification system test"
		}
		return message{
			title:    "Lifeline - Test",
			body:     body,
			tags:     []string{"lifeline", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
