package detector

import (
	"context"
	"fmt"
	"log/slog"

	"lifeline/internal/event"
	"lifeline/internal/logging"
	"lifeline/internal/stage"
)

// Handler is the detection stage: observations in, detections out.
type Handler struct {
	analyzer Analyzer
	logger   *slog.Logger
}

// NewHandler builds the detection stage. A nil analyzer selects the
// built-in heuristics.
func NewHandler(analyzer Analyzer, logger *slog.Logger) *Handler {
	if analyzer == nil {
		analyzer = NewHeuristicAnalyzer()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		analyzer: analyzer,
		logger:   logging.NewComponentLogger(logger, "detector"),
	}
}

// Name identifies the stage in logs and status output.
func (h *Handler) Name() string { return "detector" }

// Handle analyzes one observation. Quiet observations end here with a
// drop; only signals above threshold travel further.
func (h *Handler) Handle(ctx context.Context, ev *event.Event) stage.Outcome {
	logger := logging.WithContext(ctx, h.logger)

	if ev.Kind != event.KindObservation || ev.Observation == nil {
		return stage.Drop(fmt.Sprintf("detector expects observations, got %s", ev.Kind))
	}
	obs := ev.Observation
	if err := obs.Validate(); err != nil {
		return stage.FromError(err)
	}

	det, err := h.analyzer.Analyze(ctx, obs)
	if err != nil {
		logger.Warn("analysis failed",
			logging.String("source", obs.Source),
			logging.Error(err),
		)
		return stage.FromError(err)
	}
	if det == nil {
		logger.Debug("no disaster signal above threshold",
			logging.String("source", obs.Source),
		)
		return stage.Drop(fmt.Sprintf("no disaster signal above threshold from %s", obs.Source))
	}
	if err := det.Validate(); err != nil {
		return stage.FromError(err)
	}

	logger.Info("disaster detected",
		logging.String(logging.FieldDisasterType, string(det.Type)),
		logging.Float64("severity", det.Severity),
		logging.Float64("confidence", det.Confidence),
		logging.Float64("latitude", det.Latitude),
		logging.Float64("longitude", det.Longitude),
		logging.String("source", det.Source),
	)
	return stage.Forward(ev.WithDetection(*det))
}

// HealthCheck defers to the analyzer when it reports its own health.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if hc, ok := h.analyzer.(interface {
		HealthCheck(context.Context) stage.Health
	}); ok {
		return hc.HealthCheck(ctx)
	}
	return stage.Healthy(h.Name())
}
