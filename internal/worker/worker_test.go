package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lifeline/internal/event"
	"lifeline/internal/notifications"
	"lifeline/internal/queue"
	"lifeline/internal/services"
	"lifeline/internal/stage"
	"lifeline/internal/testsupport"
	"lifeline/internal/worker"
)

type stubHandler struct {
	name   string
	calls  atomic.Int32
	handle func(ctx context.Context, ev *event.Event) stage.Outcome
}

func (h *stubHandler) Name() string {
	if h.name == "" {
		return "stub"
	}
	return h.name
}

func (h *stubHandler) Handle(ctx context.Context, ev *event.Event) stage.Outcome {
	h.calls.Add(1)
	return h.handle(ctx, ev)
}

func (h *stubHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(h.Name())
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (c *captureNotifier) Publish(_ context.Context, evt notifications.Event, _ notifications.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *captureNotifier) count(evt notifications.Event) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == evt {
			n++
		}
	}
	return n
}

func testConfig() worker.Config {
	return worker.Config{
		Name:           "detector",
		Input:          "observations",
		Output:         "detections",
		Visibility:     time.Minute,
		PollInterval:   5 * time.Millisecond,
		ErrorRetryWait: 5 * time.Millisecond,
		MaxRetries:     2,
	}
}

func startWorker(t *testing.T, w *worker.Worker, beat func()) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, beat) }()
	return cancel, done
}

func waitForDepth(t *testing.T, broker queue.Broker, channel string, want int) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s depth %d", channel, want)
		default:
		}
		depth, err := broker.Depth(context.Background(), channel)
		if err != nil {
			t.Fatalf("depth: %v", err)
		}
		if depth == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// orderedBroker records publish and ack calls so tests can assert the
// worker publishes downstream before settling the input envelope.
type orderedBroker struct {
	queue.Broker
	mu  sync.Mutex
	ops []string
}

func (b *orderedBroker) record(op string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = append(b.ops, op)
}

func (b *orderedBroker) operations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.ops...)
}

func (b *orderedBroker) Publish(ctx context.Context, channel string, ev *event.Event) (string, error) {
	b.record("publish:" + channel)
	return b.Broker.Publish(ctx, channel, ev)
}

func (b *orderedBroker) Ack(ctx context.Context, messageID string) error {
	b.record("ack")
	return b.Broker.Ack(ctx, messageID)
}

func TestWorkerPublishesBeforeAck(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	seed := testsupport.Observation(t, map[string]float64{"fire": 0.9})
	if _, err := store.Publish(ctx, "observations", seed); err != nil {
		t.Fatalf("seed publish: %v", err)
	}

	broker := &orderedBroker{Broker: store}
	handler := &stubHandler{handle: func(_ context.Context, ev *event.Event) stage.Outcome {
		return stage.Forward(ev.WithDetection(event.Detection{Type: event.DisasterFire, Severity: 0.8, Confidence: 0.9}))
	}}
	w := worker.New(testConfig(), broker, handler, nil, nil)

	cancel, done := startWorker(t, w, nil)
	defer cancel()

	waitForDepth(t, store, "detections", 1)
	waitForDepth(t, store, "observations", 0)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("worker exit: %v", err)
	}

	var publishAt, ackAt = -1, -1
	for i, op := range broker.operations() {
		if op == "publish:detections" && publishAt == -1 {
			publishAt = i
		}
		if op == "ack" && ackAt == -1 {
			ackAt = i
		}
	}
	if publishAt == -1 || ackAt == -1 {
		t.Fatalf("missing operations: %v", broker.operations())
	}
	if publishAt > ackAt {
		t.Fatalf("ack ran before downstream publish: %v", broker.operations())
	}

	forwarded, err := store.Consume(ctx, "detections", time.Minute)
	if err != nil {
		t.Fatalf("consume forwarded: %v", err)
	}
	ev, err := forwarded.Event()
	if err != nil {
		t.Fatalf("decode forwarded: %v", err)
	}
	if ev.ID != seed.ID {
		t.Fatalf("forwarded event lost its identity: %q != %q", ev.ID, seed.ID)
	}
	if ev.Kind != event.KindDetection {
		t.Fatalf("expected detection kind, got %q", ev.Kind)
	}

	processed, failures := w.Counts()
	if processed != 1 || failures != 0 {
		t.Fatalf("unexpected counts: processed=%d failures=%d", processed, failures)
	}
}

func TestWorkerForwardHonorsChannelOverride(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	if _, err := store.Publish(ctx, "observations", testsupport.Observation(t, nil)); err != nil {
		t.Fatalf("seed publish: %v", err)
	}

	handler := &stubHandler{handle: func(_ context.Context, ev *event.Event) stage.Outcome {
		return stage.ForwardTo("alerts", ev)
	}}
	w := worker.New(testConfig(), store, handler, nil, nil)

	cancel, done := startWorker(t, w, nil)
	defer cancel()

	waitForDepth(t, store, "alerts", 1)
	waitForDepth(t, store, "detections", 0)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("worker exit: %v", err)
	}
}

func TestWorkerDropAcknowledges(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	if _, err := store.Publish(ctx, "observations", testsupport.Observation(t, nil)); err != nil {
		t.Fatalf("seed publish: %v", err)
	}

	handler := &stubHandler{handle: func(context.Context, *event.Event) stage.Outcome {
		return stage.Drop("below detection thresholds")
	}}
	w := worker.New(testConfig(), store, handler, nil, nil)

	cancel, done := startWorker(t, w, nil)
	defer cancel()

	waitForDepth(t, store, "observations", 0)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("worker exit: %v", err)
	}

	if depth, _ := store.Depth(ctx, "detections"); depth != 0 {
		t.Fatalf("drop must not forward, got depth %d", depth)
	}
	if depth, _ := store.Depth(ctx, "observations.dead"); depth != 0 {
		t.Fatalf("drop must not dead-letter, got depth %d", depth)
	}
	processed, _ := w.Counts()
	if processed != 1 {
		t.Fatalf("expected processed 1, got %d", processed)
	}
}

func TestWorkerRetriesThenDeadLetters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	seed := testsupport.Observation(t, nil)
	if _, err := store.Publish(ctx, "observations", seed); err != nil {
		t.Fatalf("seed publish: %v", err)
	}

	handler := &stubHandler{handle: func(context.Context, *event.Event) stage.Outcome {
		return stage.RetryLater(services.Wrap(services.ErrTransient, "detector", "analyze", "model briefly offline", nil))
	}}
	notifier := &captureNotifier{}
	w := worker.New(testConfig(), store, handler, nil, notifier)

	cancel, done := startWorker(t, w, nil)
	defer cancel()

	waitForDepth(t, store, "observations.dead", 1)
	waitForDepth(t, store, "observations", 0)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("worker exit: %v", err)
	}

	// MaxRetries 2 means the handler sees the envelope exactly 3 times.
	if calls := handler.calls.Load(); calls != 3 {
		t.Fatalf("expected 3 handler invocations, got %d", calls)
	}
	if got := notifier.count(notifications.EventDeadLetter); got != 1 {
		t.Fatalf("expected one dead-letter notification, got %d", got)
	}

	parked, err := store.List(ctx, "observations.dead", 10)
	if err != nil {
		t.Fatalf("list dead channel: %v", err)
	}
	if len(parked) != 1 {
		t.Fatalf("expected one parked envelope, got %d", len(parked))
	}
	ev, err := parked[0].Event()
	if err != nil {
		t.Fatalf("decode parked: %v", err)
	}
	if ev.ID != seed.ID {
		t.Fatal("dead-lettered envelope must keep the original event")
	}
}

func TestWorkerRetryCountReachesHandler(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	if _, err := store.Publish(ctx, "observations", testsupport.Observation(t, nil)); err != nil {
		t.Fatalf("seed publish: %v", err)
	}

	var seen []int
	var mu sync.Mutex
	handler := &stubHandler{handle: func(_ context.Context, ev *event.Event) stage.Outcome {
		mu.Lock()
		seen = append(seen, ev.RetryCount)
		count := len(seen)
		mu.Unlock()
		if count < 3 {
			return stage.RetryLater(services.Wrap(services.ErrTransient, "detector", "analyze", "still warming up", nil))
		}
		return stage.Drop("gave up politely")
	}}
	w := worker.New(testConfig(), store, handler, nil, nil)

	cancel, done := startWorker(t, w, nil)
	defer cancel()

	waitForDepth(t, store, "observations", 0)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("worker exit: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(seen))
	}
	for i, rc := range seen {
		if rc != i {
			t.Fatalf("delivery %d carried retry count %d", i+1, rc)
		}
	}
}

func TestWorkerFatalLeavesEnvelopeLeased(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	if _, err := store.Publish(ctx, "observations", testsupport.Observation(t, nil)); err != nil {
		t.Fatalf("seed publish: %v", err)
	}

	handler := &stubHandler{handle: func(context.Context, *event.Event) stage.Outcome {
		return stage.Fatal(services.Wrap(services.ErrUnavailable, "disburser", "disburse", "ledger storage unavailable", nil))
	}}
	w := worker.New(testConfig(), store, handler, nil, nil)

	err := w.Run(context.Background(), nil)
	if !services.IsUnavailable(err) {
		t.Fatalf("expected unavailable error from fatal outcome, got %v", err)
	}

	// The envelope was neither acked nor rejected: still held under lease.
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	obs := stats["observations"]
	if obs.Leased != 1 || obs.Ready != 0 || obs.DeadLetters != 0 {
		t.Fatalf("expected one leased envelope, got %+v", obs)
	}
}

// corruptingBroker hands the worker undecodable payloads while keeping the
// underlying store authoritative for settlement.
type corruptingBroker struct {
	queue.Broker
}

func (b corruptingBroker) Consume(ctx context.Context, channel string, visibility time.Duration) (*queue.Envelope, error) {
	env, err := b.Broker.Consume(ctx, channel, visibility)
	if env != nil {
		env.Payload = []byte("not an event")
	}
	return env, err
}

func TestWorkerDeadLettersUndecodablePayload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	if _, err := store.Publish(ctx, "observations", testsupport.Observation(t, nil)); err != nil {
		t.Fatalf("seed publish: %v", err)
	}

	handler := &stubHandler{handle: func(context.Context, *event.Event) stage.Outcome {
		t.Error("handler must not run for undecodable payloads")
		return stage.Drop("unreachable")
	}}
	w := worker.New(testConfig(), corruptingBroker{Broker: store}, handler, nil, nil)

	cancel, done := startWorker(t, w, nil)
	defer cancel()

	waitForDepth(t, store, "observations.dead", 1)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("worker exit: %v", err)
	}
	if calls := handler.calls.Load(); calls != 0 {
		t.Fatalf("handler ran %d times on garbage", calls)
	}
}

type unavailableBroker struct {
	queue.Broker
}

func (b unavailableBroker) Consume(context.Context, string, time.Duration) (*queue.Envelope, error) {
	return nil, fmt.Errorf("claim message: %w", queue.ErrStorageUnavailable)
}

func TestWorkerStopsOnStorageFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)

	handler := &stubHandler{handle: func(context.Context, *event.Event) stage.Outcome {
		return stage.Drop("unreachable")
	}}
	w := worker.New(testConfig(), unavailableBroker{Broker: store}, handler, nil, nil)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background(), nil) }()

	select {
	case err := <-done:
		if !errors.Is(err, queue.ErrStorageUnavailable) {
			t.Fatalf("expected storage unavailable, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop on storage failure")
	}
}

func TestWorkerBeatsEveryCycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)

	handler := &stubHandler{handle: func(context.Context, *event.Event) stage.Outcome {
		return stage.Drop("idle test")
	}}
	w := worker.New(testConfig(), store, handler, nil, nil)

	var beats atomic.Int32
	cancel, done := startWorker(t, w, func() { beats.Add(1) })
	defer cancel()

	deadline := time.After(10 * time.Second)
	for beats.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected idle worker to keep beating, got %d", beats.Load())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("worker exit: %v", err)
	}
}

func TestWorkerBeatsWhileHandlerRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)

	var beats atomic.Int32
	handler := &stubHandler{handle: func(context.Context, *event.Event) stage.Outcome {
		entry := beats.Load()
		deadline := time.After(10 * time.Second)
		for beats.Load() < entry+3 {
			select {
			case <-deadline:
				return stage.Fatal(errors.New("no heartbeat while handler was running"))
			default:
				time.Sleep(2 * time.Millisecond)
			}
		}
		return stage.Drop("saw heartbeats mid-handle")
	}}

	wcfg := testConfig()
	wcfg.HeartbeatInterval = 10 * time.Millisecond
	w := worker.New(wcfg, store, handler, nil, nil)

	if _, err := store.Publish(context.Background(), wcfg.Input, testsupport.Observation(t, nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	cancel, done := startWorker(t, w, func() { beats.Add(1) })
	defer cancel()

	waitForDepth(t, store, wcfg.Input, 0)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("worker exit: %v", err)
	}
	if got := handler.calls.Load(); got != 1 {
		t.Fatalf("expected a single handler invocation, got %d", got)
	}
}
