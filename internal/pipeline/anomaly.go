package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/regwatchd/internal/bus"
	"github.com/fyrsmithlabs/regwatchd/internal/config"
	"github.com/fyrsmithlabs/regwatchd/internal/model"
	"github.com/fyrsmithlabs/regwatchd/internal/notify"
	"github.com/fyrsmithlabs/regwatchd/internal/store"
)

// anomalyPattern is one canned suspicious-transaction scenario.
type anomalyPattern struct {
	Type        string
	Description string
	Details     func(r *rand.Rand) map[string]string
}

func customerID(r *rand.Rand) string {
	return fmt.Sprintf("CUST%d", 10000+r.Intn(90000))
}

var anomalyPatterns = []anomalyPattern{
	{
		Type:        "High-Value Transaction",
		Description: "Transaction of 2,500,000 EUR detected from new customer account",
		Details: func(r *rand.Rand) map[string]string {
			return map[string]string{
				"Amount":      "2,500,000 EUR",
				"Account Age": "3 days",
				"Customer ID": customerID(r),
			}
		},
	},
	{
		Type:        "Structuring Pattern",
		Description: "Multiple transactions just below the reporting threshold detected",
		Details: func(r *rand.Rand) map[string]string {
			return map[string]string{
				"Transactions": "7 in 24 hours",
				"Total Amount": "685,000 EUR",
				"Customer ID":  customerID(r),
			}
		},
	},
	{
		Type:        "International Wire Transfer",
		Description: "Large international transfer to high-risk jurisdiction",
		Details: func(r *rand.Rand) map[string]string {
			return map[string]string{
				"Amount":      "45,000 USD",
				"Destination": "High-risk jurisdiction",
				"Customer ID": customerID(r),
			}
		},
	},
}

// AnomalyMonitor periodically synthesizes transaction anomalies. Real
// transaction feeds are out of scope; the monitor exercises the alerting
// path end to end.
type AnomalyMonitor struct {
	store    store.Store
	bus      bus.Bus
	notifier notify.Notifier
	cfg      config.AnomalyConfig
	rand     *rand.Rand
	logger   *zap.Logger
}

// NewAnomalyMonitor wires the monitor. A nil rand source seeds from the
// current time.
func NewAnomalyMonitor(st store.Store, b bus.Bus, n notify.Notifier, cfg config.AnomalyConfig, r *rand.Rand, logger *zap.Logger) *AnomalyMonitor {
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnomalyMonitor{
		store:    st,
		bus:      b,
		notifier: n,
		cfg:      cfg,
		rand:     r,
		logger:   logger.Named("anomaly"),
	}
}

// Run rolls the dice on the configured interval until ctx is done.
func (m *AnomalyMonitor) Run(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.logger.Info("anomaly monitor disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	m.logger.Info("anomaly monitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Float64("probability", m.cfg.Probability))

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("anomaly monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			if m.rand.Float64() < m.cfg.Probability {
				if err := m.Generate(ctx); err != nil {
					m.logger.Error("generating anomaly", zap.Error(err))
				}
			}
		}
	}
}

// Generate creates one anomaly alert, notifies, and publishes both the
// anomaly.detected and alert.created events.
func (m *AnomalyMonitor) Generate(ctx context.Context) error {
	pattern := anomalyPatterns[m.rand.Intn(len(anomalyPatterns))]

	alert := &model.Alert{
		Type:     "anomaly",
		Severity: model.SeverityHigh,
		Title:    pattern.Type,
		Message:  pattern.Description,
	}
	if err := m.store.CreateAlert(ctx, alert); err != nil {
		return fmt.Errorf("persisting anomaly alert: %w", err)
	}

	m.logger.Warn("anomaly detected", zap.String("type", pattern.Type))
	if notify.Anomaly(ctx, m.notifier, pattern.Type, pattern.Description, pattern.Details(m.rand)) {
		if err := m.store.MarkAlertDelivered(ctx, alert.ID, time.Now()); err != nil {
			m.logger.Error("marking alert delivered", zap.String("alert_id", alert.ID), zap.Error(err))
		}
	}

	if err := m.bus.Publish(ctx, bus.TopicAnomalyDetected, bus.AnomalyEvent{
		AlertID:     alert.ID,
		AnomalyType: pattern.Type,
	}); err != nil {
		m.logger.Error("publishing anomaly event", zap.Error(err))
	}
	if err := m.bus.Publish(ctx, bus.TopicAlertCreated, bus.AlertEvent{
		AlertID:  alert.ID,
		Type:     alert.Type,
		Severity: string(alert.Severity),
		Title:    alert.Title,
		Message:  alert.Message,
	}); err != nil {
		m.logger.Error("publishing alert event", zap.Error(err))
	}
	return nil
}
