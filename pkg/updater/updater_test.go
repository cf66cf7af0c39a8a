package updater

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notabene-ai/notabene/pkg/assembler"
	"github.com/notabene-ai/notabene/pkg/bus"
	"github.com/notabene-ai/notabene/pkg/config"
	"github.com/notabene-ai/notabene/pkg/conversation"
	"github.com/notabene-ai/notabene/pkg/dispatch"
	"github.com/notabene-ai/notabene/pkg/llm"
	"github.com/notabene-ai/notabene/pkg/llm/llmtest"
	"github.com/notabene-ai/notabene/pkg/prompts"
	"github.com/notabene-ai/notabene/pkg/resource"
	"github.com/notabene-ai/notabene/pkg/store"
)

type fixture struct {
	updater  *Updater
	store    *store.Store
	bus      *bus.Bus
	provider *llmtest.Provider
}

func newFixture(t *testing.T, responses ...llmtest.Response) *fixture {
	t.Helper()
	dir := t.TempDir()

	s, err := store.Open(store.Options{
		DatabasePath:     filepath.Join(dir, "engine.db"),
		KeywordIndexPath: filepath.Join(dir, "keyword.bleve"),
		Root:             filepath.Join(dir, "vault"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	provider := &llmtest.Provider{Responses: responses}
	registry := llm.NewRegistry(provider)
	b := bus.New()
	t.Cleanup(b.Close)

	cfg := &config.Config{
		DefaultModel:              config.ModelRef{Provider: "fake", ModelID: "fake-model"},
		AttachmentHandlingDefault: config.AttachmentDegradeToText,
	}
	resources := resource.NewManager(filepath.Join(dir, "Resources"), provider, "fake-model")
	builder := assembler.New(resources, nil, "", cfg.AttachmentHandlingDefault)
	svc := conversation.New(s, b, builder, dispatch.New(registry), resources, registry, cfg)

	u := New(s, svc, nil, provider, "fake-model", b)
	u.SetDebounce(50 * time.Millisecond)
	return &fixture{updater: u, store: s, bus: b, provider: provider}
}

func seedConversation(t *testing.T, s *store.Store, id string, messageCount int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, store.ChatConversation{
		ID: id, Title: "New chat", CreatedAt: 1000, UpdatedAt: 1000, FileRelPath: id + ".md",
	}))
	for i := range messageCount {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		require.NoError(t, s.SaveNewMessage(ctx, id, store.ChatMessage{
			ID:        id + "-m" + string(rune('a'+i)),
			Role:      role,
			Content:   "message body",
			CreatedAt: int64(2000 + i),
			IsVisible: true,
		}))
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

func TestDebounceCoalescing(t *testing.T) {
	f := newFixture(t,
		llmtest.TextResponse("a summary of the chat"),
		llmtest.TextResponse("full summary\nTOPIC: gardening"),
		llmtest.TextResponse("Garden chat"),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seedConversation(t, f.store, "conv1", 12)
	f.updater.Start(ctx)

	// A burst of events inside the debounce window coalesces to one run.
	for range 6 {
		f.bus.Publish(bus.MessageSent{ConversationID: "conv1"})
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, 2*time.Second, func() bool {
		conv, err := f.store.GetConversation(ctx, "conv1")
		return err == nil && conv.ContextLastMessageIndex == 12
	})

	// Exactly one short-summary call fired (plus full summary and title).
	calls := f.provider.Calls()
	shortCalls := 0
	for _, c := range calls {
		for _, m := range c.Messages {
			if m.Role == llm.RoleUser && len(m.Parts) > 0 &&
				containsPrefix(m.Parts[0].Text, "Summarize the following conversation in one or two") {
				shortCalls++
			}
		}
	}
	assert.Equal(t, 1, shortCalls)

	conv, err := f.store.GetConversation(ctx, "conv1")
	require.NoError(t, err)
	require.NotNil(t, conv.Context)
	assert.Equal(t, "a summary of the chat", conv.Context.ShortSummary)
	assert.Equal(t, []string{"gardening"}, conv.Context.Topics)
}

func containsPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func TestThresholdGating(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Below the threshold, no summary is persisted.
	seedConversation(t, f.store, "conv1", 3)
	f.updater.Start(ctx)

	f.bus.Publish(bus.MessageSent{ConversationID: "conv1"})
	time.Sleep(300 * time.Millisecond)

	conv, err := f.store.GetConversation(ctx, "conv1")
	require.NoError(t, err)
	assert.Zero(t, conv.ContextLastMessageIndex)
	assert.Nil(t, conv.Context)
	assert.Empty(t, f.provider.Calls())
}

func TestAutoTitleRunsOnce(t *testing.T) {
	f := newFixture(t,
		llmtest.TextResponse("summary of tomatoes"),
		llmtest.TextResponse("full\nTOPIC: tomatoes"),
		llmtest.TextResponse("Tomato planting"),
		// Responses for a hypothetical second round.
		llmtest.TextResponse("summary again"),
		llmtest.TextResponse("full again"),
		llmtest.TextResponse("A different title"),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seedConversation(t, f.store, "conv1", 6)
	f.updater.Start(ctx)

	f.bus.Publish(bus.MessageSent{ConversationID: "conv1"})
	waitFor(t, 2*time.Second, func() bool {
		conv, err := f.store.GetConversation(ctx, "conv1")
		return err == nil && conv.TitleAutoUpdated
	})

	conv, err := f.store.GetConversation(ctx, "conv1")
	require.NoError(t, err)
	assert.Equal(t, "Tomato planting", conv.Title)
	assert.False(t, conv.TitleManuallyEdited)

	// A later tick does not retitle an auto-updated conversation.
	f.bus.Publish(bus.MessageSent{ConversationID: "conv1"})
	time.Sleep(300 * time.Millisecond)

	conv, err = f.store.GetConversation(ctx, "conv1")
	require.NoError(t, err)
	assert.Equal(t, "Tomato planting", conv.Title)
}

func TestBuildContextWindowEmptyMessages(t *testing.T) {
	f := newFixture(t)

	window := f.updater.BuildContextWindow(context.Background(), nil)
	assert.Equal(t, prompts.DefaultSummary, window.ShortSummary)
	assert.Empty(t, window.RecentWindowStartID)
	assert.Empty(t, window.RecentWindowEndID)
}

func TestBuildContextWindowLLMFailure(t *testing.T) {
	f := newFixture(t, llmtest.Response{Err: assert.AnError})

	messages := []store.ChatMessage{
		{ID: "m1", Role: store.RoleUser, Content: "hi", IsVisible: true},
		{ID: "m2", Role: store.RoleAssistant, Content: "hello", IsVisible: true},
	}
	window := f.updater.BuildContextWindow(context.Background(), messages)
	assert.Equal(t, prompts.DefaultSummary, window.ShortSummary)
	assert.Equal(t, "m1", window.RecentWindowStartID)
	assert.Equal(t, "m2", window.RecentWindowEndID)
}
