package orchestrator

import (
	"context"
	"sort"
	"time"

	"lifeline/internal/ledger"
	"lifeline/internal/logging"
	"lifeline/internal/queue"
	"lifeline/internal/stage"
)

// WorkerStatus is the supervision view of one loop.
type WorkerStatus struct {
	Name          string
	State         State
	LastHeartbeat time.Time
	Restarts      int
	Processed     uint64
	Failures      uint64
	SuccessRate   float64
	LastError     string
}

// Status is the read-only pipeline summary served to operators. It is
// assembled on demand and never blocks the loops it describes.
type Status struct {
	Running    bool
	StartedAt  time.Time
	FatalError string
	Workers    []WorkerStatus
	Channels   []queue.ChannelStats
	Ledger     ledger.Stats
	Health     map[string]stage.Health
}

// Degraded reports whether any loop is crashed or halted, or the
// pipeline failed outright.
func (s Status) Degraded() bool {
	if s.FatalError != "" {
		return true
	}
	for _, w := range s.Workers {
		if w.State == StateCrashed || w.State == StateHalted {
			return true
		}
	}
	return false
}

// healthChecker is the optional surface a Runnable exposes when it wraps
// a stage handler with collaborator health.
type healthChecker interface {
	Health(ctx context.Context) stage.Health
}

// Status assembles the pipeline summary: per-loop supervision state and
// counters, per-channel queue depths, and the ledger rollup.
func (o *Orchestrator) Status(ctx context.Context) Status {
	o.mu.Lock()
	status := Status{
		Running:   o.running,
		StartedAt: o.startedAt,
	}
	if o.fatalErr != nil {
		status.FatalError = o.fatalErr.Error()
	}
	loops := make([]*supervised, 0, len(o.order))
	for _, name := range o.order {
		loops = append(loops, o.loops[name])
	}
	o.mu.Unlock()

	status.Workers = make([]WorkerStatus, 0, len(loops))
	status.Health = make(map[string]stage.Health, len(loops))
	for _, s := range loops {
		status.Workers = append(status.Workers, s.snapshot())
		if hc, ok := s.runnable.(healthChecker); ok {
			h := hc.Health(ctx)
			status.Health[h.Name] = h
		}
	}

	if o.broker != nil {
		if stats, err := o.broker.Stats(ctx); err == nil {
			status.Channels = make([]queue.ChannelStats, 0, len(stats))
			for _, stat := range stats {
				status.Channels = append(status.Channels, stat)
			}
			sort.Slice(status.Channels, func(i, j int) bool {
				return status.Channels[i].Channel < status.Channels[j].Channel
			})
		} else {
			o.logger.Warn("queue stats unavailable for status", logging.Error(err))
		}
	}

	if o.manager != nil {
		if stats, err := o.manager.Stats(ctx); err == nil {
			status.Ledger = stats
		} else {
			o.logger.Warn("ledger stats unavailable for status", logging.Error(err))
		}
	}

	return status
}

func (s *supervised) snapshot() WorkerStatus {
	s.mu.Lock()
	snap := WorkerStatus{
		Name:          s.runnable.Name(),
		State:         s.state,
		LastHeartbeat: s.lastBeat,
		Restarts:      s.restarts,
		LastError:     s.lastError,
	}
	s.mu.Unlock()

	snap.Processed, snap.Failures = s.runnable.Counts()
	snap.SuccessRate = 1
	if total := snap.Processed + snap.Failures; total > 0 {
		snap.SuccessRate = float64(snap.Processed) / float64(total)
	}
	return snap
}
