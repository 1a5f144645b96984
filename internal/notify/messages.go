package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/regwatchd/internal/model"
)

// DocumentDetected announces a newly discovered circular. Each helper
// returns whether the notification was delivered.
func DocumentDetected(ctx context.Context, n Notifier, externalID, title, url string, published time.Time) bool {
	return n.Send(ctx, Notification{
		Title:    "🆕 New Regulatory Circular Detected",
		Message:  fmt.Sprintf("*%s*\n\nCircular ID: %s\nPublished: %s", title, externalID, published.Format("2006-01-02")),
		Severity: model.SeverityInfo,
		Fields: map[string]string{
			"URL":    url,
			"Status": "Processing...",
		},
	})
}

// DiffFound announces a detected policy impact.
func DiffFound(ctx context.Context, n Notifier, circularTitle string, d *model.Diff) bool {
	return n.Send(ctx, Notification{
		Title:    "📊 Policy Impact Detected",
		Message:  fmt.Sprintf("*%s*\n\n%s", circularTitle, d.Description),
		Severity: d.Severity,
		Fields: map[string]string{
			"Type":             titleCase(string(d.Type)),
			"Affected Section": d.AffectedSection,
			"Action Required":  "Review & Update Policy",
		},
	})
}

// ScoreChanged announces a compliance score movement.
func ScoreChanged(ctx context.Context, n Notifier, oldScore, newScore float64, reason string) bool {
	change := newScore - oldScore
	direction := "Increased"
	severity := model.SeverityInfo
	if change < 0 {
		direction = "Decreased"
		severity = model.SeverityMedium
	}
	return n.Send(ctx, Notification{
		Title: fmt.Sprintf("📈 Compliance Score %s", direction),
		Message: fmt.Sprintf("Score moved from **%.1f%%** to **%.1f%%**\n\nReason: %s",
			oldScore, newScore, reason),
		Severity: severity,
		Fields: map[string]string{
			"Change":    fmt.Sprintf("%+.1f%%", change),
			"New Score": fmt.Sprintf("%.1f%%", newScore),
		},
	})
}

// Anomaly announces a transaction anomaly.
func Anomaly(ctx context.Context, n Notifier, anomalyType, description string, details map[string]string) bool {
	return n.Send(ctx, Notification{
		Title:    "🔍 Transaction Anomaly Detected",
		Message:  fmt.Sprintf("*%s*\n\n%s", anomalyType, description),
		Severity: model.SeverityHigh,
		Fields:   details,
	})
}

// titleCase renders an enum value like "new_requirement" as "New Requirement".
func titleCase(s string) string {
	words := strings.Split(s, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
