package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/chronos-os/chronos/internal/domain/history"
	"github.com/chronos-os/chronos/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ringAt = time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	store.now = func() time.Time { return ringAt.Add(time.Second) }
	return store
}

func TestHistoryStore_RecordAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.HandleEvent(shared.NewAlarmRingEvent("a1", "Deep Horn", "builtin/deep_horn", "gym", ringAt)))
	require.NoError(t, store.HandleEvent(shared.NewAlarmDismissedEvent("a1", ringAt.Add(time.Minute))))
	require.NoError(t, store.HandleEvent(shared.NewTaskReminderEvent("t1", "Standup", ringAt.Add(-time.Minute))))

	firings, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, firings, 3)

	assert.Equal(t, shared.EventAlarmDismissed, firings[0].Kind)
	assert.Equal(t, shared.EventAlarmRing, firings[1].Kind)
	assert.Equal(t, "builtin/deep_horn", firings[1].SoundRef)
	assert.Equal(t, "gym", firings[1].Label)
	assert.Empty(t, firings[1].TaskID)
	assert.Equal(t, ringAt, firings[1].At)
	assert.Equal(t, ringAt.Add(time.Second), firings[1].RecordedAt)
	assert.Equal(t, "Standup", firings[2].Title)

	limited, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestHistoryStore_ZeroEventTimeUsesNow(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Record(context.Background(), shared.Event{Type: shared.EventTaskReminder, TaskID: "t"}))

	firings, err := store.Recent(context.Background(), history.MaxLimit+10)
	require.NoError(t, err)
	require.Len(t, firings, 1)
	assert.Equal(t, ringAt.Add(time.Second), firings[0].At)
}

func TestHistoryStore_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Record(context.Background(), shared.NewAlarmRingEvent("a", "", "", "", ringAt)))
	require.NoError(t, store.Close())

	store, err = Open(path, nil)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Ping(context.Background()))

	firings, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, firings, 1)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ", nil)
	assert.Error(t, err)
}
