// Package bus provides the topic-based publish/subscribe fabric that
// connects the pipeline stages.
//
// Delivery is at-least-once per currently subscribed listener. Listeners
// that subscribe after a publish, or that are transiently disconnected,
// do not receive the message. There is no persistence after delivery.
package bus

import "context"

// Topics published on the bus.
const (
	TopicDocumentNew      = "document.new"
	TopicAnalysisComplete = "analysis.complete"
	TopicScoreUpdated     = "score.updated"
	TopicAlertCreated     = "alert.created"
	TopicAnomalyDetected  = "anomaly.detected"
)

// Handler processes one message on a topic. A returned error is logged and
// does not stop delivery of subsequent messages.
type Handler func(ctx context.Context, data []byte) error

// Bus is the messaging contract between pipeline stages.
//
// Publish is fire-and-forget. Subscribe registers exactly one handler per
// topic per process; re-subscribing the same topic is a logged no-op. Each
// subscription runs on its own reader so a slow handler on one topic never
// blocks delivery on another.
type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(topic string, handler Handler) error
	Close()
}
