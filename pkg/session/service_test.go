package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/runway/pkg/event"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name      string
		appName   string
		userID    string
		sessionID string
		shouldErr bool
	}{
		{"valid key", "app", "user-1", "sess-1", false},
		{"empty app", "", "user-1", "sess-1", true},
		{"empty user", "app", "", "sess-1", true},
		{"empty session", "app", "user-1", "", true},
		{"path traversal", "app", "user-1", "../etc/passwd", true},
		{"backslash", "app", "user\\1", "sess-1", true},
		{"null byte", "app", "user-1", "sess\x001", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateKey(tt.appName, tt.userID, tt.sessionID)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInMemoryServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService()

	t.Run("should return not found for missing session", func(t *testing.T) {
		_, err := svc.Get(ctx, "app", "user", "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("should create and fetch a session", func(t *testing.T) {
		created, err := svc.Create(ctx, "app", "user", "s1")
		require.NoError(t, err)
		assert.Equal(t, "s1", created.ID)
		assert.Empty(t, created.Events)

		fetched, err := svc.Get(ctx, "app", "user", "s1")
		require.NoError(t, err)
		assert.Equal(t, "s1", fetched.ID)
	})

	t.Run("should persist appended events", func(t *testing.T) {
		sess, err := svc.Get(ctx, "app", "user", "s1")
		require.NoError(t, err)

		ev := event.New("inv-1", event.UserAuthor)
		ev.Content = &event.Content{Text: "hello"}
		require.NoError(t, svc.AppendEvent(ctx, sess, ev))

		reloaded, err := svc.Get(ctx, "app", "user", "s1")
		require.NoError(t, err)
		require.Len(t, reloaded.Events, 1)
		assert.Equal(t, "hello", reloaded.Events[0].Text())
	})

	t.Run("should list and delete sessions", func(t *testing.T) {
		ids, err := svc.List(ctx, "app", "user")
		require.NoError(t, err)
		assert.Contains(t, ids, "s1")

		require.NoError(t, svc.Delete(ctx, "app", "user", "s1"))
		_, err = svc.Get(ctx, "app", "user", "s1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestInMemoryServiceReturnsWorkingCopies(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService()

	_, err := svc.Create(ctx, "app", "user", "s1")
	require.NoError(t, err)

	first, err := svc.Get(ctx, "app", "user", "s1")
	require.NoError(t, err)
	first.State["scratch"] = "local-only"

	second, err := svc.Get(ctx, "app", "user", "s1")
	require.NoError(t, err)
	assert.NotContains(t, second.State, "scratch", "working-copy mutations must not leak into the store")
}

func TestSessionApplyStateDeltaOrder(t *testing.T) {
	sess := &Session{State: map[string]interface{}{}}

	e1 := event.New("inv-1", "agent")
	e1.Actions.StateDelta = map[string]interface{}{"k": "v1"}
	e2 := event.New("inv-1", "agent")
	e2.Actions.StateDelta = map[string]interface{}{"k": "v2"}

	sess.Apply(e1)
	assert.Equal(t, "v1", sess.State["k"], "delta must be visible before the next step")
	sess.Apply(e2)

	assert.Equal(t, "v2", sess.State["k"], "last write wins in strict order")
	assert.Len(t, sess.Events, 2)
}

func TestSessionLastCompaction(t *testing.T) {
	sess := &Session{}
	assert.Nil(t, sess.LastCompaction())

	plain := event.New("inv-1", "agent")
	compacted := event.New("inv-2", "compaction")
	compacted.Actions.Compaction = &event.Compaction{EndIndex: 1, Summary: &event.Content{Text: "summary"}}

	sess.Apply(plain)
	sess.Apply(compacted)
	sess.Apply(event.New("inv-3", event.UserAuthor))

	got := sess.LastCompaction()
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Actions.Compaction.EndIndex)
}
