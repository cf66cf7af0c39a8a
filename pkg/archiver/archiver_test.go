package archiver

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notabene-ai/notabene/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(store.Options{
		DatabasePath:     filepath.Join(dir, "engine.db"),
		KeywordIndexPath: filepath.Join(dir, "keyword.bleve"),
		Root:             filepath.Join(dir, "vault"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const dayMs = int64(24 * time.Hour / time.Millisecond)

func seedConversation(t *testing.T, s *store.Store, id string, updatedAt int64) {
	t.Helper()
	require.NoError(t, s.CreateConversation(context.Background(), store.ChatConversation{
		ID:          id,
		Title:       "chat " + id,
		CreatedAt:   updatedAt,
		UpdatedAt:   updatedAt,
		FileRelPath: id + ".md",
	}))
}

func TestOldConversationsArchived(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := 400 * dayMs

	seedConversation(t, s, "old1", now-100*dayMs)
	seedConversation(t, s, "fresh", now-dayMs)

	a := New(s)
	a.SetClock(func() int64 { return now })

	moved, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	old, err := s.GetConversation(ctx, "old1")
	require.NoError(t, err)
	assert.True(t, old.Archived)
	assert.Contains(t, old.FileRelPath, "Archive/")

	fresh, err := s.GetConversation(ctx, "fresh")
	require.NoError(t, err)
	assert.False(t, fresh.Archived)

	// Archived conversations disappear from listings.
	listed, err := s.ListConversations(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "fresh", listed[0].ID)
}

func TestSurplusConversationsForcedEligible(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := 400 * dayMs

	// All fresh, but over the cap: oldest surplus archived anyway.
	for i := range MaxRootConversations + 5 {
		seedConversation(t, s, conversationID(i), now-int64(i)*dayMs/24)
	}

	a := New(s)
	a.SetClock(func() int64 { return now })

	moved, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, moved)
}

func conversationID(i int) string {
	return fmt.Sprintf("%032x", i)
}

func TestThrottleIdempotence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := 400 * dayMs

	seedConversation(t, s, "old1", now-100*dayMs)

	a := New(s)
	a.SetClock(func() int64 { return now })

	moved, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	// Second run inside the throttle window is a no-op.
	moved, err = a.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)

	// The persisted throttle survives a fresh archiver instance.
	b := New(s)
	b.SetClock(func() int64 { return now + time.Minute.Milliseconds() })
	moved, err = b.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)
}

func TestProjectArchiveCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := 400 * dayMs

	require.NoError(t, s.CreateProject(ctx, store.ChatProject{
		ID:            "proj1",
		Name:          "Old project",
		FolderRelPath: "Projects/old-project",
		CreatedAt:     now - 200*dayMs,
		UpdatedAt:     now - 200*dayMs,
	}))
	require.NoError(t, s.CreateConversation(ctx, store.ChatConversation{
		ID:          "conv1",
		Title:       "inside",
		ProjectID:   "proj1",
		CreatedAt:   now - 200*dayMs,
		UpdatedAt:   now - 200*dayMs,
		FileRelPath: "Projects/old-project/conv1.md",
	}))

	a := New(s)
	a.SetClock(func() int64 { return now })

	moved, err := a.Run(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, moved, 1)

	p, err := s.GetProject(ctx, "proj1")
	require.NoError(t, err)
	assert.Contains(t, p.FolderRelPath, "Archive/")

	conv, err := s.GetConversation(ctx, "conv1")
	require.NoError(t, err)
	assert.Contains(t, conv.FileRelPath, "Archive/")
	assert.True(t, conv.Archived)
}
