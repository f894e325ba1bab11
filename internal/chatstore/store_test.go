package chatstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "data", "chat-history.json"))
}

func TestRoundTrip(t *testing.T) {
	store := testStore(t)

	meta, err := store.CreateSession("t")
	require.NoError(t, err)
	require.NotEmpty(t, meta.ID)

	msg := Message{Role: "user", Content: "hello", Timestamp: "2025-01-02T03:04:05.000Z"}
	require.NoError(t, store.Append(meta.ID, []Message{msg}))

	messages, err := store.SessionMessages(meta.ID)
	require.NoError(t, err)
	assert.Equal(t, []Message{msg}, messages)

	require.NoError(t, store.Rename(meta.ID, "t2"))

	sessions, err := store.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "t2", sessions[0].Title)
	assert.GreaterOrEqual(t, sessions[0].UpdatedAt, meta.UpdatedAt)
}

func TestAppendUnknownSessionLeavesStoreUnchanged(t *testing.T) {
	store := testStore(t)

	meta, err := store.CreateSession("keep")
	require.NoError(t, err)

	err = store.Append("799eec7a-47e4-42e0-b51c-b68d271c6923", []Message{{Role: "user", Content: "x"}})
	require.ErrorIs(t, err, ErrSessionNotFound)

	sessions, err := store.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, meta.ID, sessions[0].ID)

	messages, err := store.SessionMessages(meta.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestRenameUnknownSession(t *testing.T) {
	store := testStore(t)
	err := store.Rename("missing", "title")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeleteThenFetch(t *testing.T) {
	store := testStore(t)

	meta, err := store.CreateSession("gone")
	require.NoError(t, err)
	require.NoError(t, store.Append(meta.ID, []Message{{Role: "user", Content: "x"}}))

	require.NoError(t, store.Delete(meta.ID))

	messages, err := store.SessionMessages(meta.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)

	// A second delete of the same id is a no-op.
	require.NoError(t, store.Delete(meta.ID))
}

func TestListSessionsSortedByUpdatedAt(t *testing.T) {
	store := testStore(t)

	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	first, err := store.CreateSession("first")
	require.NoError(t, err)
	second, err := store.CreateSession("second")
	require.NoError(t, err)

	// Touching the older session moves it back to the front.
	require.NoError(t, store.Append(first.ID, []Message{{Role: "user", Content: "hi"}}))

	sessions, err := store.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, first.ID, sessions[0].ID)
	assert.Equal(t, second.ID, sessions[1].ID)
}

func TestMissingFileIsEmptyStore(t *testing.T) {
	store := testStore(t)

	sessions, err := store.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)

	history, err := store.History()
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestLegacyMigrationIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat-history.json")

	legacy := []Message{
		{Role: "user", Content: "old question", Timestamp: "2024-06-01T10:00:00.000Z"},
		{Role: "model", Content: "old answer", Timestamp: "2024-06-01T10:00:01.000Z"},
	}
	raw, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0644))

	store := New(path)

	sessions, err := store.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Legacy Chat", sessions[0].Title)

	// The upgrade was written back, so a second read sees the same id.
	again, err := store.ListSessions()
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, sessions[0].ID, again[0].ID)

	messages, err := store.SessionMessages(sessions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, legacy, messages)

	var upgraded storeFile
	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &upgraded))
	assert.Equal(t, 1, upgraded.Version)
}

func TestConcurrentAppendsLoseNothing(t *testing.T) {
	store := testStore(t)

	meta, err := store.CreateSession("busy")
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := Message{Role: "user", Content: fmt.Sprintf("message-%d", i)}
			assert.NoError(t, store.Append(meta.ID, []Message{msg}))
		}(i)
	}
	wg.Wait()

	messages, err := store.SessionMessages(meta.ID)
	require.NoError(t, err)
	require.Len(t, messages, writers)

	seen := make(map[string]bool, writers)
	for _, msg := range messages {
		assert.False(t, seen[msg.Content], "duplicate message %s", msg.Content)
		seen[msg.Content] = true
	}
}

func TestSequentialAppendsKeepOrder(t *testing.T) {
	store := testStore(t)

	meta, err := store.CreateSession("ordered")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		msg := Message{Role: "user", Content: fmt.Sprintf("turn-%d", i)}
		require.NoError(t, store.Append(meta.ID, []Message{msg}))
	}

	messages, err := store.SessionMessages(meta.ID)
	require.NoError(t, err)
	require.Len(t, messages, 10)
	for i, msg := range messages {
		assert.Equal(t, fmt.Sprintf("turn-%d", i), msg.Content)
	}
}

func TestHistorySurface(t *testing.T) {
	store := testStore(t)

	// Appending to an empty store creates a session first.
	require.NoError(t, store.AppendHistory([]Message{{Role: "user", Content: "q"}}))
	require.NoError(t, store.AppendHistory([]Message{{Role: "model", Content: "a"}}))

	history, err := store.History()
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "q", history[0].Content)
	assert.Equal(t, "a", history[1].Content)

	sessions, err := store.ListSessions()
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	require.NoError(t, store.Clear())

	history, err = store.History()
	require.NoError(t, err)
	assert.Empty(t, history)
	sessions, err = store.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
