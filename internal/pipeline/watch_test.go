package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/regwatchd/internal/bus"
	"github.com/fyrsmithlabs/regwatchd/internal/config"
	"github.com/fyrsmithlabs/regwatchd/internal/model"
	"github.com/fyrsmithlabs/regwatchd/internal/store"
)

func watchConfig() config.WatchConfig {
	return config.WatchConfig{
		MaxPerCheck:    5,
		RequestsPerMin: 600,
	}
}

func TestWatcher_CheckOnce_IngestsNewDocuments(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := newRecordingBus()
	n := &recordingNotifier{}

	primary := &mockSource{fetchFunc: func(ctx context.Context) ([]Discovery, error) {
		return []Discovery{discoveryFixture("A"), discoveryFixture("B")}, nil
	}}
	fallback := &mockSource{fetchFunc: func(ctx context.Context) ([]Discovery, error) {
		t.Fatal("fallback must not be queried when the feed succeeds")
		return nil, nil
	}}

	w := NewWatcher(primary, fallback, st, b, n, watchConfig(), nil)
	require.NoError(t, w.CheckOnce(ctx))

	docs, err := st.ListDocuments(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Equal(t, 2, b.countTopic(bus.TopicDocumentNew))
	assert.Equal(t, 2, n.count())
	assert.Equal(t, 0, fallback.calls)

	entry := requireAuditOutcome(t, st, "watch", model.AuditSuccess)
	assert.Equal(t, 2, entry.Output["new"])
}

func TestWatcher_CheckOnce_DuplicatesAreSilent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := newRecordingBus()
	n := &recordingNotifier{}

	primary := &mockSource{fetchFunc: func(ctx context.Context) ([]Discovery, error) {
		return []Discovery{discoveryFixture("A")}, nil
	}}
	w := NewWatcher(primary, &mockSource{fetchFunc: func(ctx context.Context) ([]Discovery, error) {
		return nil, nil
	}}, st, b, n, watchConfig(), nil)

	require.NoError(t, w.CheckOnce(ctx))
	require.NoError(t, w.CheckOnce(ctx))

	docs, err := st.ListDocuments(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	// Second check publishes and notifies nothing.
	assert.Equal(t, 1, b.countTopic(bus.TopicDocumentNew))
	assert.Equal(t, 1, n.count())
}

func TestWatcher_CheckOnce_FallsBackWhenFeedErrors(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := newRecordingBus()

	primary := &mockSource{fetchFunc: func(ctx context.Context) ([]Discovery, error) {
		return nil, errors.New("feed unreachable")
	}}
	fallback := &mockSource{fetchFunc: func(ctx context.Context) ([]Discovery, error) {
		return []Discovery{discoveryFixture("S")}, nil
	}}

	w := NewWatcher(primary, fallback, st, b, &recordingNotifier{}, watchConfig(), nil)
	require.NoError(t, w.CheckOnce(ctx))

	assert.Equal(t, 1, fallback.calls)
	docs, err := st.ListDocuments(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestWatcher_CheckOnce_FallsBackWhenFeedEmpty(t *testing.T) {
	st := store.NewMemoryStore()

	primary := &mockSource{fetchFunc: func(ctx context.Context) ([]Discovery, error) {
		return nil, nil
	}}
	fallback := &mockSource{fetchFunc: func(ctx context.Context) ([]Discovery, error) {
		return []Discovery{discoveryFixture("S")}, nil
	}}

	w := NewWatcher(primary, fallback, st, newRecordingBus(), &recordingNotifier{}, watchConfig(), nil)
	require.NoError(t, w.CheckOnce(context.Background()))
	assert.Equal(t, 1, fallback.calls)
}

func TestWatcher_CheckOnce_BothSourcesFail(t *testing.T) {
	st := store.NewMemoryStore()
	failing := func(ctx context.Context) ([]Discovery, error) {
		return nil, errors.New("unreachable")
	}
	w := NewWatcher(&mockSource{fetchFunc: failing}, &mockSource{fetchFunc: failing},
		st, newRecordingBus(), &recordingNotifier{}, watchConfig(), nil)

	err := w.CheckOnce(context.Background())
	require.Error(t, err)
	requireAuditOutcome(t, st, "watch", model.AuditFailed)
}

func TestWatcher_CheckOnce_RespectsMaxPerCheck(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	primary := &mockSource{fetchFunc: func(ctx context.Context) ([]Discovery, error) {
		var out []Discovery
		for _, id := range []string{"A", "B", "C", "D"} {
			out = append(out, discoveryFixture(id))
		}
		return out, nil
	}}

	cfg := watchConfig()
	cfg.MaxPerCheck = 2
	w := NewWatcher(primary, &mockSource{fetchFunc: func(ctx context.Context) ([]Discovery, error) {
		return nil, nil
	}}, st, newRecordingBus(), &recordingNotifier{}, cfg, nil)

	require.NoError(t, w.CheckOnce(ctx))
	docs, err := st.ListDocuments(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestWatcher_Ingest_Manual(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := newRecordingBus()

	w := NewWatcher(nil, nil, st, b, &recordingNotifier{}, watchConfig(), nil)

	doc, err := w.Ingest(ctx, discoveryFixture("M"))
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, 1, b.countTopic(bus.TopicDocumentNew))

	_, err = w.Ingest(ctx, discoveryFixture("M"))
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.Equal(t, 1, b.countTopic(bus.TopicDocumentNew))
}
