package conversation

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notabene-ai/notabene/pkg/assembler"
	"github.com/notabene-ai/notabene/pkg/bus"
	"github.com/notabene-ai/notabene/pkg/config"
	"github.com/notabene-ai/notabene/pkg/dispatch"
	"github.com/notabene-ai/notabene/pkg/llm"
	"github.com/notabene-ai/notabene/pkg/llm/llmtest"
	"github.com/notabene-ai/notabene/pkg/resource"
	"github.com/notabene-ai/notabene/pkg/store"
)

type fixture struct {
	svc      *Service
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
	builder := assembler.New(resources, nil, "You are helpful.", cfg.AttachmentHandlingDefault)
	dispatcher := dispatch.New(registry)

	return &fixture{
		svc:      New(s, b, builder, dispatcher, resources, registry, cfg),
		store:    s,
		bus:      b,
		provider: provider,
	}
}

func TestCreateConversation(t *testing.T) {
	f := newFixture(t)
	sub := f.bus.Subscribe(bus.TopicConversationCreated)
	defer sub.Close()

	conv, err := f.svc.CreateConversation(context.Background(), "Garden plans", nil, "", "")
	require.NoError(t, err)

	assert.Len(t, conv.ID, 32)
	assert.Equal(t, "fake-model", conv.ActiveModel)
	assert.Contains(t, conv.FileRelPath, "Garden-plans")

	select {
	case ev := <-sub.Events():
		assert.Equal(t, conv.ID, ev.(bus.ConversationCreated).ConversationID)
	case <-time.After(time.Second):
		t.Fatal("no ConversationCreated event")
	}
}

func TestStreamChatPersistsBothMessages(t *testing.T) {
	f := newFixture(t, llmtest.TextResponse("Plant tomatoes in May."))
	ctx := context.Background()

	conv, err := f.svc.CreateConversation(ctx, "Garden", nil, "", "")
	require.NoError(t, err)

	sub := f.bus.Subscribe(bus.TopicMessageSent)
	defer sub.Close()

	events, err := f.svc.StreamChat(ctx, conv.ID, "When should I plant tomatoes?", nil)
	require.NoError(t, err)

	var sawText, sawDone bool
	for ev := range events {
		switch ev.Type {
		case dispatch.EventTextDelta:
			sawText = true
		case dispatch.EventDone:
			sawDone = true
			assert.Equal(t, "Plant tomatoes in May.", ev.Result.Content)
		}
	}
	assert.True(t, sawText)
	assert.True(t, sawDone)

	messages, err := f.store.LoadMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, store.RoleUser, messages[0].Role)
	assert.Equal(t, "When should I plant tomatoes?", messages[0].Content)
	assert.Equal(t, store.RoleAssistant, messages[1].Role)
	assert.Equal(t, "Plant tomatoes in May.", messages[1].Content)

	// Token usage accumulated on the conversation.
	updated, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Positive(t, updated.TokenUsageTotal)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, conv.ID, ev.(bus.MessageSent).ConversationID)
	case <-time.After(time.Second):
		t.Fatal("no MessageSent event")
	}
}

func TestStreamChatCancelledPersistsNoAssistantMessage(t *testing.T) {
	f := newFixture(t, llmtest.Response{Events: []llm.StreamEvent{
		{Type: llm.StreamEventTextDelta, Text: "part"},
		{Type: llm.StreamEventTextDelta, Text: "ial"},
		{Type: llm.StreamEventTextDelta, Text: " answer"},
	}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conv, err := f.svc.CreateConversation(context.Background(), "Garden", nil, "", "")
	require.NoError(t, err)

	events, err := f.svc.StreamChat(ctx, conv.ID, "hello?", nil)
	require.NoError(t, err)

	// Cancel mid-stream, after the first text delta arrives.
	for ev := range events {
		if ev.Type == dispatch.EventTextDelta {
			cancel()
		}
		if ev.Type == dispatch.EventDone {
			assert.True(t, ev.Result.Cancelled)
		}
	}

	messages, err := f.store.LoadMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1, "only the user message persists after cancellation")
	assert.Equal(t, store.RoleUser, messages[0].Role)
}

func TestToggleStarPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.svc.CreateConversation(ctx, "Garden", nil, "", "")
	require.NoError(t, err)

	long := strings.Repeat("word  with   spaces ", 30)
	require.NoError(t, f.store.SaveNewMessage(ctx, conv.ID, store.ChatMessage{
		ID: "m1", Role: store.RoleUser, Content: long, CreatedAt: 1, IsVisible: true,
	}))

	require.NoError(t, f.svc.ToggleStar(ctx, conv.ID, "m1", true))

	starred, err := f.store.ListStarredMessages(ctx, "")
	require.NoError(t, err)
	require.Len(t, starred, 1)
	assert.LessOrEqual(t, len(starred[0].ContentPreview), 200)
	assert.NotContains(t, starred[0].ContentPreview, "  ", "whitespace is normalized")

	require.NoError(t, f.svc.ToggleStar(ctx, conv.ID, "m1", false))
	starred, err = f.store.ListStarredMessages(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, starred)
}

func TestDeleteConversationPublishesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.svc.CreateConversation(ctx, "Garden", nil, "", "")
	require.NoError(t, err)

	sub := f.bus.Subscribe(bus.TopicConversationDeleted)
	defer sub.Close()

	require.NoError(t, f.svc.DeleteConversation(ctx, conv.ID))
	// Deleting again is a no-op and publishes nothing.
	require.NoError(t, f.svc.DeleteConversation(ctx, conv.ID))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, conv.ID, ev.(bus.ConversationDeleted).ConversationID)
	case <-time.After(time.Second):
		t.Fatal("no ConversationDeleted event")
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected second event %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSanitizeTitle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Garden planning", SanitizeTitle("\"Garden planning\"\n"))
	assert.Equal(t, "Garden planning", SanitizeTitle("'Garden planning'"))
	assert.Equal(t, "", SanitizeTitle("   \n\n"))

	long := strings.Repeat("t", 80)
	assert.Len(t, SanitizeTitle(long), 50)
}

func TestGenerateTitle(t *testing.T) {
	t.Parallel()

	provider := &llmtest.Provider{Responses: []llmtest.Response{
		llmtest.TextResponse("\"Tomato planting schedule\""),
	}}
	messages := []store.ChatMessage{
		{Role: store.RoleUser, Content: "when to plant tomatoes?"},
		{Role: store.RoleAssistant, Content: "In May."},
	}

	title, err := GenerateTitle(context.Background(), provider, "fake-model", messages, "tomato talk")
	require.NoError(t, err)
	assert.Equal(t, "Tomato planting schedule", title)
}
