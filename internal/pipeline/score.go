package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/regwatchd/internal/bus"
	"github.com/fyrsmithlabs/regwatchd/internal/model"
	"github.com/fyrsmithlabs/regwatchd/internal/notify"
	"github.com/fyrsmithlabs/regwatchd/internal/store"
)

// Score formula constants. The baseline applies when no snapshot exists
// yet; the alert threshold is the absolute delta that raises an alert.
const (
	baselineScore  = 82.0
	alertThreshold = 2.0

	criticalPenalty = 8.0
	highPenalty     = 4.0
	mediumPenalty   = 2.0
	lowPenalty      = 0.5

	breakdownFloor = 70.0
)

// Scorer recomputes the compliance score whenever an analysis completes or
// the daily recalculation fires. Recomputation is serialized so concurrent
// triggers cannot interleave their read-count-then-snapshot sequences.
type Scorer struct {
	store    store.Store
	bus      bus.Bus
	notifier notify.Notifier
	logger   *zap.Logger

	mu sync.Mutex
}

// NewScorer wires the scoring stage.
func NewScorer(st store.Store, b bus.Bus, n notify.Notifier, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{store: st, bus: b, notifier: n, logger: logger.Named("score")}
}

// Start subscribes the stage to analysis.complete events.
func (s *Scorer) Start() error {
	return s.bus.Subscribe(bus.TopicAnalysisComplete, func(ctx context.Context, data []byte) error {
		var ev bus.AnalysisEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decoding analysis event: %w", err)
		}
		return s.Recalculate(ctx, fmt.Sprintf("document %s analyzed", ev.DocumentID))
	})
}

// Recalculate performs a full recount and appends a new snapshot. The
// score.updated event is published on every successful recalculation, with
// or without an alert.
func (s *Scorer) Recalculate(ctx context.Context, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return auditRun(ctx, s.store, s.logger, "score", "calculate_score", "",
		map[string]any{"reason": reason},
		func(ctx context.Context) (map[string]any, error) {
			oldScore := baselineScore
			if prev, err := s.store.LatestSnapshot(ctx); err == nil {
				oldScore = prev.Score
			} else if !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("loading previous snapshot: %w", err)
			}

			counts, err := s.store.CountBySeverity(ctx)
			if err != nil {
				return nil, fmt.Errorf("counting diffs: %w", err)
			}
			pending, err := s.store.CountPendingReviews(ctx)
			if err != nil {
				return nil, fmt.Errorf("counting pending reviews: %w", err)
			}

			score := computeScore(counts)
			snapshot := &model.ScoreSnapshot{
				Score:          score,
				TotalIssues:    counts.Total(),
				PendingReviews: pending,
				CriticalIssues: counts.Critical,
				HighIssues:     counts.High,
				Breakdown:      computeBreakdown(score, counts),
				Notes:          reason,
			}
			if err := s.store.CreateSnapshot(ctx, snapshot); err != nil {
				return nil, fmt.Errorf("persisting snapshot: %w", err)
			}

			delta := score - oldScore
			s.logger.Info("compliance score updated",
				zap.Float64("score", score), zap.Float64("delta", delta))

			if delta <= -alertThreshold || delta >= alertThreshold {
				s.raiseScoreAlert(ctx, oldScore, score, delta, reason)
			}

			if err := s.bus.Publish(ctx, bus.TopicScoreUpdated, bus.ScoreEvent{
				SnapshotID: snapshot.ID,
				Score:      score,
				Delta:      delta,
			}); err != nil {
				s.logger.Error("publishing score event", zap.Error(err))
			}

			return map[string]any{"new_score": score, "delta": delta}, nil
		})
}

func (s *Scorer) raiseScoreAlert(ctx context.Context, oldScore, newScore, delta float64, reason string) {
	severity := model.SeverityInfo
	direction := "Increased"
	if delta < 0 {
		severity = model.SeverityMedium
		direction = "Decreased"
	}

	alert := &model.Alert{
		Type:     "score_change",
		Severity: severity,
		Title:    fmt.Sprintf("Compliance Score %s", direction),
		Message: fmt.Sprintf("Score changed from %.1f%% to %.1f%% (%+.1f%%)",
			oldScore, newScore, delta),
	}
	if err := s.store.CreateAlert(ctx, alert); err != nil {
		s.logger.Error("persisting score alert", zap.Error(err))
		return
	}

	if err := s.bus.Publish(ctx, bus.TopicAlertCreated, bus.AlertEvent{
		AlertID:  alert.ID,
		Type:     alert.Type,
		Severity: string(alert.Severity),
		Title:    alert.Title,
		Message:  alert.Message,
	}); err != nil {
		s.logger.Error("publishing alert event", zap.Error(err))
	}

	if notify.ScoreChanged(ctx, s.notifier, oldScore, newScore, reason) {
		if err := s.store.MarkAlertDelivered(ctx, alert.ID, time.Now()); err != nil {
			s.logger.Error("marking alert delivered", zap.String("alert_id", alert.ID), zap.Error(err))
		}
	}
}

// computeScore deducts per-severity penalties from 100, floored at 0.
func computeScore(c model.SeverityCounts) float64 {
	score := 100.0
	score -= float64(c.Critical) * criticalPenalty
	score -= float64(c.High) * highPenalty
	score -= float64(c.Medium) * mediumPenalty
	score -= float64(c.Low) * lowPenalty
	if score < 0 {
		return 0
	}
	return score
}

// computeBreakdown derives per-category scores from the overall score.
// Categories never report below the floor.
func computeBreakdown(score float64, c model.SeverityCounts) map[string]float64 {
	floor := func(v float64) float64 {
		if v < breakdownFloor {
			return breakdownFloor
		}
		return v
	}
	return map[string]float64{
		"kyc_aml":         floor(score - 5 - float64(c.Critical)*3),
		"digital_lending": floor(score + 2),
		"payments":        floor(score - 1),
		"cyber_security":  floor(score + 1),
		"data_privacy":    floor(score),
	}
}
