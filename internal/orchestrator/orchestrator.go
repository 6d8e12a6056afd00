// Package orchestrator supervises the pipeline loops. Every loop reports
// liveness through a heartbeat; the orchestrator restarts crashed or
// silent loops with exponential backoff, halts loops that crash in a
// tight streak, and takes the whole pipeline down when queue storage is
// gone. It never touches envelopes itself; recovery of in-flight work is
// the queue's visibility timeout doing its job.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"lifeline/internal/config"
	"lifeline/internal/ledger"
	"lifeline/internal/logging"
	"lifeline/internal/metrics"
	"lifeline/internal/notifications"
	"lifeline/internal/queue"
)

// Runnable is one supervised pipeline loop: the stage workers and the
// ledger's confirmation poller all satisfy it.
type Runnable interface {
	// Name identifies the loop in logs and status output.
	Name() string
	// Run executes the loop until ctx ends, calling beat at least once
	// per cycle. A nil return is a clean stop; an error is a crash.
	Run(ctx context.Context, beat func()) error
	// Counts reports work settled and failures observed since start.
	Counts() (processed, failures uint64)
}

// State is the supervision state of one loop.
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateCrashed State = "crashed"
	// StateHalted means the crash streak hit the restart budget and the
	// supervisor gave up on this loop until the daemon restarts.
	StateHalted State = "halted"
)

// Policy holds the supervision knobs.
type Policy struct {
	HeartbeatTimeout  time.Duration
	RestartBackoff    time.Duration
	RestartBackoffCap time.Duration
	HealthyWindow     time.Duration
	// MaxRestarts bounds restarts per crash streak; 0 means unlimited.
	MaxRestarts int
}

// PolicyFromConfig derives the supervision policy from the orchestrator
// config section.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		HeartbeatTimeout:  time.Duration(cfg.Orchestrator.HeartbeatTimeout) * time.Second,
		RestartBackoff:    time.Duration(cfg.Orchestrator.RestartBackoff) * time.Second,
		RestartBackoffCap: time.Duration(cfg.Orchestrator.RestartBackoffCap) * time.Second,
		HealthyWindow:     time.Duration(cfg.Orchestrator.HealthyWindow) * time.Second,
		MaxRestarts:       cfg.Orchestrator.MaxRestarts,
	}
}

// RestartDelay returns the pause before restart number n of a crash
// streak: the base backoff doubled per prior restart, capped. Delays
// never shrink within a streak.
func (p Policy) RestartDelay(n int) time.Duration {
	delay := p.RestartBackoff
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= p.RestartBackoffCap {
			return p.RestartBackoffCap
		}
	}
	if p.RestartBackoffCap > 0 && delay > p.RestartBackoffCap {
		return p.RestartBackoffCap
	}
	return delay
}

// Orchestrator owns the lifecycle of every registered loop.
type Orchestrator struct {
	policy   Policy
	broker   queue.Broker
	manager  *ledger.Manager
	logger   *slog.Logger
	notifier notifications.Service

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	fatalErr  error
	order     []string
	loops     map[string]*supervised
	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
}

// New builds an orchestrator over the given loops. The ledger manager may
// be nil when the caller has no transaction surface to report.
func New(policy Policy, broker queue.Broker, manager *ledger.Manager, logger *slog.Logger, notifier notifications.Service, runnables ...Runnable) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	o := &Orchestrator{
		policy:   policy,
		broker:   broker,
		manager:  manager,
		logger:   logging.NewComponentLogger(logger, "orchestrator"),
		notifier: notifier,
		loops:    make(map[string]*supervised),
	}
	for _, r := range runnables {
		o.register(r)
	}
	return o
}

func (o *Orchestrator) register(r Runnable) {
	name := r.Name()
	o.order = append(o.order, name)
	o.loops[name] = &supervised{runnable: r, state: StateStopped}
}

// Start launches every loop plus the heartbeat monitor. It returns
// immediately; Stop blocks until everything has wound down.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errors.New("orchestrator already running")
	}
	if len(o.order) == 0 {
		o.mu.Unlock()
		return errors.New("no pipeline loops registered")
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	o.startedAt = time.Now()
	o.fatalErr = nil
	o.done = make(chan struct{})
	loops := make([]*supervised, 0, len(o.order))
	for _, name := range o.order {
		loops = append(loops, o.loops[name])
	}
	o.mu.Unlock()

	o.wg.Add(len(loops) + 1)
	for _, s := range loops {
		go o.supervise(runCtx, s)
	}
	go o.monitor(runCtx)

	o.logger.Info("pipeline supervision started",
		logging.Int("loops", len(loops)),
		logging.Duration("heartbeat_timeout", o.policy.HeartbeatTimeout),
	)
	return nil
}

// Stop winds the pipeline down and waits for every loop to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	o.running = false
	o.cancel = nil
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
	o.logger.Info("pipeline supervision stopped")
}

// Done is closed when the orchestrator abandons the pipeline because
// queue storage failed. Err carries the cause.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Err returns the fatal pipeline error, if any.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fatalErr
}

// supervise runs one loop until clean shutdown, a halt, or pipeline
// failure, restarting after crashes with the policy's backoff.
func (o *Orchestrator) supervise(ctx context.Context, s *supervised) {
	defer o.wg.Done()
	name := s.runnable.Name()
	logger := o.logger.With(logging.String(logging.FieldWorker, name))

	for {
		runCtx, cancel := context.WithCancel(ctx)
		s.beginRun(cancel)
		metrics.WorkerUp.WithLabelValues(name).Set(1)
		startedAt := time.Now()

		err := s.runnable.Run(runCtx, s.beat)
		cancel()
		metrics.WorkerUp.WithLabelValues(name).Set(0)

		if ctx.Err() != nil {
			s.setState(StateStopped, "")
			return
		}

		// A long healthy stretch forgives the previous streak.
		if o.policy.HealthyWindow > 0 && time.Since(startedAt) >= o.policy.HealthyWindow {
			s.resetStreak()
		}

		reason := "loop returned without shutdown"
		if err != nil {
			reason = err.Error()
		}
		if s.takeStaleKill() {
			reason = "heartbeat stale beyond " + o.policy.HeartbeatTimeout.String()
		}
		streak := s.noteCrash(reason)
		logging.ErrorWithContext(logger, "pipeline loop crashed", "worker_crashed",
			logging.String("reason", reason),
			logging.Int("streak", streak),
			logging.Error(err),
		)
		o.notify(ctx, notifications.EventWorkerCrashed, notifications.Payload{
			"worker": name,
			"detail": reason,
		})

		if err != nil && errors.Is(err, queue.ErrStorageUnavailable) {
			o.failPipeline(ctx, name, err)
			return
		}

		if o.policy.MaxRestarts > 0 && streak > o.policy.MaxRestarts {
			s.setState(StateHalted, reason)
			logging.ErrorWithContext(logger, "restart budget exhausted, loop halted", "worker_halted",
				logging.Int("max_restarts", o.policy.MaxRestarts),
				logging.String(logging.FieldErrorHint, "fix the underlying failure and restart the daemon"),
			)
			o.notify(ctx, notifications.EventWorkerHalted, notifications.Payload{
				"worker": name,
				"detail": reason,
			})
			return
		}

		delay := o.policy.RestartDelay(streak)
		select {
		case <-ctx.Done():
			s.setState(StateStopped, "")
			return
		case <-time.After(delay):
		}

		s.markRestart()
		metrics.WorkerRestarts.WithLabelValues(name).Inc()
		logger.Warn("restarting pipeline loop",
			logging.Duration("backoff", delay),
			logging.Int("restarts", s.restartCount()),
		)
		o.notify(ctx, notifications.EventWorkerRestarted, notifications.Payload{
			"worker":   name,
			"restarts": strconv.Itoa(s.restartCount()),
			"backoff":  delay.String(),
		})
	}
}

// monitor watches heartbeats and refreshes status gauges. A loop that
// stops beating past the timeout is cancelled; its supervisor restarts
// it like any other crash.
func (o *Orchestrator) monitor(ctx context.Context) {
	defer o.wg.Done()
	interval := o.policy.HeartbeatTimeout / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	if interval > 5*time.Second {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		o.mu.Lock()
		loops := make([]*supervised, 0, len(o.order))
		for _, name := range o.order {
			loops = append(loops, o.loops[name])
		}
		o.mu.Unlock()

		for _, s := range loops {
			name, stale := s.checkStale(o.policy.HeartbeatTimeout)
			if !stale {
				continue
			}
			o.logger.Warn("heartbeat stale, cancelling loop",
				logging.String(logging.FieldWorker, name),
				logging.Duration("timeout", o.policy.HeartbeatTimeout),
			)
		}

		o.refreshGauges(ctx)
	}
}

// failPipeline abandons every loop. Losing queue storage means no stage
// can settle work; keeping them up would spin on the same failure.
func (o *Orchestrator) failPipeline(ctx context.Context, origin string, cause error) {
	o.mu.Lock()
	if o.fatalErr != nil {
		o.mu.Unlock()
		return
	}
	o.fatalErr = cause
	cancel := o.cancel
	done := o.done
	o.mu.Unlock()

	logging.ErrorWithContext(o.logger, "queue storage lost, stopping the pipeline", "pipeline_failed",
		logging.String(logging.FieldWorker, origin),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "restore queue storage, then restart the daemon"),
	)
	o.notify(ctx, notifications.EventStorageFailure, notifications.Payload{
		"worker": origin,
		"detail": cause.Error(),
	})
	if cancel != nil {
		cancel()
	}
	if done != nil {
		close(done)
	}
}

// refreshGauges republishes queue depth and ledger status gauges.
func (o *Orchestrator) refreshGauges(ctx context.Context) {
	if o.broker != nil {
		if stats, err := o.broker.Stats(ctx); err == nil {
			for channel, stat := range stats {
				metrics.QueueDepth.WithLabelValues(channel).Set(float64(stat.Depth()))
				metrics.QueueDeadLetterDepth.WithLabelValues(channel).Set(float64(stat.DeadLetters))
			}
		}
	}
	if o.manager != nil {
		o.manager.RefreshStatusGauges(ctx)
	}
}

func (o *Orchestrator) notify(ctx context.Context, evt notifications.Event, payload notifications.Payload) {
	if err := o.notifier.Publish(ctx, evt, payload); err != nil {
		o.logger.Debug("notification publish failed",
			logging.String("event", string(evt)),
			logging.Error(err),
		)
	}
}

// supervised is the orchestrator's bookkeeping for one loop.
type supervised struct {
	runnable Runnable

	mu        sync.Mutex
	state     State
	lastBeat  time.Time
	lastError string
	restarts  int
	streak    int
	staleKill bool
	cancelRun context.CancelFunc
}

func (s *supervised) beginRun(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateRunning
	s.lastBeat = time.Now()
	s.cancelRun = cancel
}

func (s *supervised) beat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBeat = time.Now()
}

func (s *supervised) setState(state State, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	if detail != "" {
		s.lastError = detail
	}
	s.cancelRun = nil
}

func (s *supervised) noteCrash(reason string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateCrashed
	s.lastError = reason
	s.streak++
	s.cancelRun = nil
	return s.streak
}

func (s *supervised) markRestart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
}

func (s *supervised) restartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

func (s *supervised) resetStreak() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streak = 0
}

// checkStale cancels the loop's run when the heartbeat has gone quiet
// past the timeout. The supervisor observes the cancelled run and walks
// the ordinary crash path.
func (s *supervised) checkStale(timeout time.Duration) (string, bool) {
	if timeout <= 0 {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.cancelRun == nil {
		return "", false
	}
	if time.Since(s.lastBeat) <= timeout {
		return "", false
	}
	s.staleKill = true
	cancel := s.cancelRun
	s.cancelRun = nil
	cancel()
	return s.runnable.Name(), true
}

func (s *supervised) takeStaleKill() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	stale := s.staleKill
	s.staleKill = false
	return stale
}
