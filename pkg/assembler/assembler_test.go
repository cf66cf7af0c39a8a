package assembler

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notabene-ai/notabene/pkg/config"
	"github.com/notabene-ai/notabene/pkg/llm"
	"github.com/notabene-ai/notabene/pkg/resource"
	"github.com/notabene-ai/notabene/pkg/store"
)

type fakeResources struct {
	metas map[string]*resource.Meta
}

func (f *fakeResources) ReadResourceSummary(id string) (*resource.Meta, error) {
	return f.metas[id], nil
}

type fakeProfile struct {
	msg string
}

func (f *fakeProfile) SystemMessage() (string, bool) {
	return f.msg, f.msg != ""
}

func userMsg(id, content string, resources ...string) store.ChatMessage {
	return store.ChatMessage{ID: id, Role: store.RoleUser, Content: content, IsVisible: true, Resources: resources}
}

func TestBuildOrdering(t *testing.T) {
	t.Parallel()

	b := New(&fakeResources{}, &fakeProfile{msg: "knows Go"}, "You are a vault assistant.", config.AttachmentDegradeToText)

	in := Input{
		Conversation: &store.ChatConversation{
			ID:      "c1",
			Context: &store.ConversationContext{ShortSummary: "about gardening", Topics: []string{"soil"}},
		},
		Messages: []store.ChatMessage{userMsg("m1", "hello")},
		Model:    "gpt-4o",
	}

	out, err := b.Build(context.Background(), in, nil)
	require.NoError(t, err)
	require.Len(t, out, 4)

	assert.Equal(t, llm.RoleSystem, out[0].Role)
	assert.Contains(t, out[0].Text(), "vault assistant")
	assert.Contains(t, out[1].Text(), "knows Go")
	assert.Contains(t, out[2].Text(), "gardening")
	assert.Equal(t, llm.RoleUser, out[3].Role)
	assert.Equal(t, "hello", out[3].Text())
}

func TestBuildProgressEventOrder(t *testing.T) {
	t.Parallel()

	b := New(&fakeResources{}, nil, "sys", config.AttachmentDegradeToText)

	var got []string
	_, err := b.Build(context.Background(), Input{
		Messages: []store.ChatMessage{userMsg("m1", "hi")},
		Model:    "gpt-4o",
	}, func(e ProgressEvent) {
		got = append(got, e.String())
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"BUILD_CONTEXT_MESSAGES(start)",
		"LOAD_SYSTEM_PROMPT(start)",
		"LOAD_SYSTEM_PROMPT(result)",
		"LOAD_USER_PROFILE(start)",
		"LOAD_USER_PROFILE(result)",
		"BUILD_CONTEXT_MEMORY(start)",
		"BUILD_CONTEXT_MEMORY(result)",
		"COLLECT_RECENT_MESSAGES(start)",
		"COLLECT_RECENT_MESSAGES(result)",
		"BUILD_CONTEXT_MESSAGES(result)",
	}, got)
}

func TestBuildOmitsEmptyMessages(t *testing.T) {
	t.Parallel()

	b := New(&fakeResources{}, nil, "", config.AttachmentDegradeToText)
	out, err := b.Build(context.Background(), Input{
		Messages: []store.ChatMessage{
			userMsg("m1", ""),
			{ID: "m2", Role: store.RoleUser, Content: "hidden", IsVisible: false},
			userMsg("m3", "visible"),
		},
		Model: "gpt-4o",
	}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "visible", out[0].Text())
}

func TestBuildRecentWindowDefaultTen(t *testing.T) {
	t.Parallel()

	b := New(&fakeResources{}, nil, "", config.AttachmentDegradeToText)

	var messages []store.ChatMessage
	for i := range 15 {
		messages = append(messages, userMsg(string(rune('a'+i)), strings.Repeat("x", 5)))
	}
	out, err := b.Build(context.Background(), Input{Messages: messages, Model: "gpt-4o"}, nil)
	require.NoError(t, err)
	assert.Len(t, out, 10)
}

func TestBuildDegradesAttachmentsToReferences(t *testing.T) {
	t.Parallel()

	resources := &fakeResources{metas: map[string]*resource.Meta{
		"res00001": {ID: "res00001", Source: "img/a.png", Kind: resource.KindImage},
	}}
	b := New(resources, nil, "", config.AttachmentDegradeToText)

	out, err := b.Build(context.Background(), Input{
		Messages: []store.ChatMessage{userMsg("m1", "look at this", "res00001")},
		Model:    "gpt-4o",
	}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Parts, 2)
	assert.Contains(t, out[0].Parts[1].Text, "res00001")
}

func TestBuildDegradesWhenModelLacksVision(t *testing.T) {
	t.Parallel()

	resources := &fakeResources{metas: map[string]*resource.Meta{
		"res00001": {ID: "res00001", Source: "img/a.png", Kind: resource.KindImage},
	}}
	b := New(resources, nil, "", config.AttachmentDirect)

	out, err := b.Build(context.Background(), Input{
		Messages: []store.ChatMessage{userMsg("m1", "look", "res00001")},
		Model:    "text-embedding-3-small", // no vision
	}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	// Image degraded to a summary reference.
	assert.Equal(t, llm.PartTypeText, out[0].Parts[1].Type)
}

func TestTruncateNeverDropsFixedBlocks(t *testing.T) {
	t.Parallel()

	fixed := []llm.Message{
		llm.TextMessage(llm.RoleSystem, "system"),
		llm.TextMessage(llm.RoleSystem, "profile"),
	}
	recent := []llm.Message{
		llm.TextMessage(llm.RoleUser, strings.Repeat("a", 4000)),
		llm.TextMessage(llm.RoleUser, strings.Repeat("b", 4000)),
		llm.TextMessage(llm.RoleUser, strings.Repeat("c", 4000)),
	}
	all := append(append([]llm.Message{}, fixed...), recent...)

	// Window fits roughly one recent message plus the fixed blocks.
	out := truncateToWindow(all, len(fixed), 1100)
	require.GreaterOrEqual(t, len(out), 3)
	assert.Equal(t, "system", out[0].Text())
	assert.Equal(t, "profile", out[1].Text())
	// The newest recent message is the survivor.
	assert.Equal(t, strings.Repeat("c", 4000), out[len(out)-1].Text())
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	msgs := []llm.Message{llm.TextMessage(llm.RoleUser, strings.Repeat("x", 400))}
	assert.Equal(t, 100, EstimateTokens(msgs))
}
