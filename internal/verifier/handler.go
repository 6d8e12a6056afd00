package verifier

import (
	"context"
	"fmt"
	"log/slog"

	"lifeline/internal/config"
	"lifeline/internal/event"
	"lifeline/internal/logging"
	"lifeline/internal/stage"
)

// Handler is the verification stage: detections in, disbursement
// instructions out. The pass decision lives here and nowhere else.
type Handler struct {
	cfg    *config.Config
	scorer Scorer
	logger *slog.Logger
}

// NewHandler builds the verification stage. A nil scorer selects the
// built-in ensemble.
func NewHandler(cfg *config.Config, scorer Scorer, logger *slog.Logger) *Handler {
	if scorer == nil {
		scorer = NewEnsembleScorer()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		cfg:    cfg,
		scorer: scorer,
		logger: logging.NewComponentLogger(logger, "verifier"),
	}
}

// Name identifies the stage in logs and status output.
func (h *Handler) Name() string { return "verifier" }

// Handle scores one detection and either forwards a funding instruction
// or drops the event with the score on record. Scores equal to the
// threshold do not pass.
func (h *Handler) Handle(ctx context.Context, ev *event.Event) stage.Outcome {
	logger := logging.WithContext(ctx, h.logger)

	if ev.Kind != event.KindDetection || ev.Detection == nil {
		return stage.Drop(fmt.Sprintf("verifier expects detections, got %s", ev.Kind))
	}
	det := ev.Detection
	if err := det.Validate(); err != nil {
		return stage.FromError(err)
	}

	score, err := h.scorer.Score(ctx, det)
	if err != nil {
		logger.Warn("scoring failed",
			logging.String(logging.FieldDisasterType, string(det.Type)),
			logging.Error(err),
		)
		return stage.FromError(err)
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	threshold := h.cfg.Verification.Threshold
	if score <= threshold {
		logger.Info("verification rejected",
			logging.String(logging.FieldDisasterType, string(det.Type)),
			logging.Int("score", score),
			logging.Int("threshold", threshold),
		)
		return stage.Drop(fmt.Sprintf("verification score %d at or below threshold %d", score, threshold))
	}

	impact := HumanImpact(det)
	total := RecommendedTotal(det, score, impact, h.cfg.Funding.MinAmount, h.cfg.Funding.MaxAmount)
	recipients, err := SplitRecipients(det.Type, total, h.cfg)
	if err != nil {
		return stage.FromError(err)
	}

	disb := event.Disbursement{
		Recipients: recipients,
		Verification: event.Verification{
			Score:            score,
			Threshold:        threshold,
			HumanImpact:      impact,
			RecommendedTotal: total,
		},
	}
	if err := disb.Validate(); err != nil {
		return stage.FromError(err)
	}

	logger.Info("verification passed",
		logging.String(logging.FieldDisasterType, string(det.Type)),
		logging.Int("score", score),
		logging.Int("threshold", threshold),
		logging.Int(logging.FieldImpact, impact),
		logging.Float64("recommended_total", total),
	)
	return stage.Forward(ev.WithDisbursement(disb))
}

// HealthCheck defers to the scorer when it reports its own health.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if hc, ok := h.scorer.(interface {
		HealthCheck(context.Context) stage.Health
	}); ok {
		return hc.HealthCheck(ctx)
	}
	return stage.Healthy(h.Name())
}
