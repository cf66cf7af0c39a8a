package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notabene-ai/notabene/pkg/assembler"
	"github.com/notabene-ai/notabene/pkg/llm"
	"github.com/notabene-ai/notabene/pkg/llm/llmtest"
)

func collect(events <-chan Event) []Event {
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func simpleBuild(emit func(assembler.ProgressEvent)) ([]llm.Message, error) {
	emit(assembler.ProgressEvent{Stage: assembler.StageBuildContextMessages, Phase: assembler.PhaseStart})
	emit(assembler.ProgressEvent{Stage: assembler.StageBuildContextMessages, Phase: assembler.PhaseResult})
	return []llm.Message{llm.TextMessage(llm.RoleUser, "hi")}, nil
}

func TestStreamForwardsProgressBeforeLLMEvents(t *testing.T) {
	t.Parallel()

	provider := &llmtest.Provider{Responses: []llmtest.Response{
		{
			Events: []llm.StreamEvent{
				{Type: llm.StreamEventReasoningDelta, Text: "thinking"},
				{Type: llm.StreamEventTextDelta, Text: "hel"},
				{Type: llm.StreamEventTextDelta, Text: "lo"},
			},
			Usage: llm.Usage{InputTokens: 5, OutputTokens: 2},
		},
	}}
	d := New(llm.NewRegistry(provider))

	events := collect(d.Stream(context.Background(), "fake", "m", nil, simpleBuild))
	require.GreaterOrEqual(t, len(events), 6)

	assert.Equal(t, EventProgress, events[0].Type)
	assert.Equal(t, EventProgress, events[1].Type)
	assert.Equal(t, EventReasoningDelta, events[2].Type)
	assert.Equal(t, EventTextDelta, events[3].Type)
	assert.Equal(t, EventTextDelta, events[4].Type)

	done := events[len(events)-1]
	require.Equal(t, EventDone, done.Type)
	assert.Equal(t, "hello", done.Result.Content)
	assert.Equal(t, "thinking", done.Result.Reasoning)
	assert.Equal(t, int64(5), done.Result.Usage.InputTokens)
	assert.False(t, done.Result.Cancelled)
}

func TestStreamBuildErrorYieldsErrorEvent(t *testing.T) {
	t.Parallel()

	d := New(llm.NewRegistry(&llmtest.Provider{}))
	events := collect(d.Stream(context.Background(), "fake", "m", nil,
		func(func(assembler.ProgressEvent)) ([]llm.Message, error) {
			return nil, errors.New("assembly broke")
		}))

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.ErrorContains(t, events[0].Err, "assembly broke")
}

func TestStreamUnknownProvider(t *testing.T) {
	t.Parallel()

	d := New(llm.NewRegistry())
	events := collect(d.Stream(context.Background(), "nope", "m", nil, simpleBuild))

	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.ErrorIs(t, last.Err, llm.ErrProviderUnavailable)
}

func TestStreamProviderErrorEvent(t *testing.T) {
	t.Parallel()

	provider := &llmtest.Provider{Responses: []llmtest.Response{
		{Events: []llm.StreamEvent{
			{Type: llm.StreamEventTextDelta, Text: "par"},
			{Type: llm.StreamEventError, Err: errors.New("provider exploded")},
		}},
	}}
	d := New(llm.NewRegistry(provider))

	events := collect(d.Stream(context.Background(), "fake", "m", nil, simpleBuild))
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.ErrorContains(t, last.Err, "provider exploded")
}

func TestStreamCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &llmtest.Provider{Responses: []llmtest.Response{
		llmtest.TextResponse("never delivered"),
	}}
	d := New(llm.NewRegistry(provider))

	events := collect(d.Stream(ctx, "fake", "m", nil,
		func(func(assembler.ProgressEvent)) ([]llm.Message, error) {
			return []llm.Message{llm.TextMessage(llm.RoleUser, "hi")}, nil
		}))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type)
	assert.True(t, last.Result.Cancelled)
}
