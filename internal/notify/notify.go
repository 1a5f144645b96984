// Package notify delivers alert messages to a Slack-compatible incoming
// webhook. An empty webhook URL disables delivery; senders treat delivery
// as best effort and never fail the pipeline on a webhook error.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/regwatchd/internal/config"
	"github.com/fyrsmithlabs/regwatchd/internal/model"
)

// Notifier sends formatted notifications. Returns true when a message was
// actually delivered.
type Notifier interface {
	Send(ctx context.Context, n Notification) bool
}

// Notification is one outbound message.
type Notification struct {
	Title    string
	Message  string
	Severity model.Severity
	Fields   map[string]string
}

var severityColors = map[model.Severity]string{
	model.SeverityCritical: "#FF0000",
	model.SeverityHigh:     "#FF6B35",
	model.SeverityMedium:   "#FFD23F",
	model.SeverityLow:      "#4ECDC4",
	model.SeverityInfo:     "#3DDC97",
}

var severityIcons = map[model.Severity]string{
	model.SeverityCritical: "🚨",
	model.SeverityHigh:     "⚠️",
	model.SeverityMedium:   "⚡",
	model.SeverityLow:      "📋",
	model.SeverityInfo:     "ℹ️",
}

// Webhook posts to a Slack-compatible incoming webhook.
type Webhook struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

// NewWebhook builds a Webhook notifier. With an empty URL the notifier is
// disabled and Send always returns false.
func NewWebhook(cfg config.WebhookConfig, logger *zap.Logger) *Webhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.URL == "" {
		logger.Warn("webhook not configured, notifications disabled")
	}
	return &Webhook{
		url:    cfg.URL,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Enabled reports whether a webhook URL is configured.
func (w *Webhook) Enabled() bool { return w.url != "" }

type field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type attachment struct {
	Color  string  `json:"color"`
	Text   string  `json:"text"`
	Footer string  `json:"footer"`
	TS     int64   `json:"ts"`
	Fields []field `json:"fields,omitempty"`
}

type payload struct {
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments"`
}

// Send delivers one notification. Failures are logged, not returned.
func (w *Webhook) Send(ctx context.Context, n Notification) bool {
	if !w.Enabled() {
		w.logger.Debug("webhook disabled, dropping notification", zap.String("title", n.Title))
		return false
	}

	icon, ok := severityIcons[n.Severity]
	if !ok {
		icon = "📢"
	}
	color, ok := severityColors[n.Severity]
	if !ok {
		color = severityColors[model.SeverityInfo]
	}

	att := attachment{
		Color:  color,
		Text:   n.Message,
		Footer: "regwatchd",
		TS:     time.Now().Unix(),
	}
	for k, v := range n.Fields {
		att.Fields = append(att.Fields, field{Title: k, Value: v, Short: true})
	}

	body, err := json.Marshal(payload{
		Text:        fmt.Sprintf("%s *%s*", icon, n.Title),
		Attachments: []attachment{att},
	})
	if err != nil {
		w.logger.Error("marshaling webhook payload", zap.Error(err))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Error("building webhook request", zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		w.logger.Error("sending webhook notification", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		w.logger.Error("webhook rejected notification",
			zap.Int("status", resp.StatusCode), zap.String("title", n.Title))
		return false
	}

	w.logger.Info("notification sent", zap.String("title", n.Title))
	return true
}
