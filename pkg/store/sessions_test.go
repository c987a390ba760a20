package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/brief/internal/models"
)

func snapshot(id string) models.SessionSnapshot {
	return models.SessionSnapshot{
		ID:    id,
		State: "conversing",
		Summary: &models.Summary{
			ID:   "sum-1",
			Text: "Acme sells storage.",
		},
		History: []models.ConversationTurn{
			{Role: models.RoleUser, Content: "Who buys?"},
			{Role: models.RoleAssistant, Content: "Small businesses."},
		},
	}
}

func TestMemorySessionStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemorySessionStore(time.Minute)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	snap := snapshot("s1")
	require.NoError(t, m.Save(ctx, snap))

	// Mutating the caller's copy must not leak into the store.
	snap.History[0].Content = "changed"

	got, err := m.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Who buys?", got.History[0].Content)
	assert.Equal(t, "Acme sells storage.", got.Summary.Text)

	now = now.Add(2 * time.Minute)
	_, err = m.Load(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, m.Save(ctx, snapshot("s2")))
	require.NoError(t, m.Delete(ctx, "s2"))
	_, err = m.Load(ctx, "s2")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.Error(t, m.Save(ctx, models.SessionSnapshot{}))
}

func TestRedisSessionStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	r, err := NewRedisSessionStore(ctx, RedisConfig{Addr: addr, TTL: time.Minute})
	require.NoError(t, err)
	defer r.Close()

	id := uuid.NewString()
	require.NoError(t, r.Save(ctx, snapshot(id)))

	got, err := r.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Len(t, got.History, 2)

	ttl, err := r.client.TTL(ctx, sessionKey(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, r.Delete(ctx, id))
	_, err = r.Load(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
