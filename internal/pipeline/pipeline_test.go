package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/regwatchd/internal/bus"
	"github.com/fyrsmithlabs/regwatchd/internal/model"
	"github.com/fyrsmithlabs/regwatchd/internal/notify"
	"github.com/fyrsmithlabs/regwatchd/internal/store"
)

// recordingBus captures publishes and allows handler registration without a
// broker.
type recordingBus struct {
	mu        sync.Mutex
	published []publishedMessage
	handlers  map[string]bus.Handler
}

type publishedMessage struct {
	topic   string
	payload any
}

func newRecordingBus() *recordingBus {
	return &recordingBus{handlers: make(map[string]bus.Handler)}
}

func (b *recordingBus) Publish(ctx context.Context, topic string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedMessage{topic: topic, payload: payload})
	return nil
}

func (b *recordingBus) Subscribe(topic string, h bus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = h
	return nil
}

func (b *recordingBus) Close() {}

// deliver feeds one payload through a registered handler, JSON-encoded the
// way the real bus would.
func (b *recordingBus) deliver(t *testing.T, ctx context.Context, topic string, payload any) error {
	t.Helper()
	b.mu.Lock()
	h, ok := b.handlers[topic]
	b.mu.Unlock()
	require.True(t, ok, "no handler for topic %s", topic)

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return h(ctx, data)
}

func (b *recordingBus) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.published))
	for i, m := range b.published {
		out[i] = m.topic
	}
	return out
}

func (b *recordingBus) countTopic(topic string) int {
	n := 0
	for _, got := range b.topics() {
		if got == topic {
			n++
		}
	}
	return n
}

// recordingNotifier captures notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *recordingNotifier) Send(ctx context.Context, msg notify.Notification) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return true
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// mockSource returns canned discoveries.
type mockSource struct {
	fetchFunc func(ctx context.Context) ([]Discovery, error)
	calls     int
}

func (m *mockSource) Fetch(ctx context.Context) ([]Discovery, error) {
	m.calls++
	return m.fetchFunc(ctx)
}

func requireAuditOutcome(t *testing.T, s store.Store, stage string, want model.AuditStatus) model.AuditEntry {
	t.Helper()
	entries, err := s.ListAuditEntries(context.Background(), stage, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries, "no audit entries for stage %s", stage)
	entry := entries[0]
	require.Equal(t, want, entry.Status)
	require.NotNil(t, entry.CompletedAt)
	return entry
}

func discoveryFixture(extID string) Discovery {
	return Discovery{
		ExternalID: extID,
		Title:      "Circular " + extID,
		Published:  time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		SourceURL:  "https://regulator.example/list",
		PDFURL:     "https://regulator.example/" + extID + ".pdf",
	}
}
