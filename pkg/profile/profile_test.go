package profile

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notabene-ai/notabene/pkg/llm/llmtest"
)

func ptr(v float64) *float64 { return &v }

func TestFactValidation(t *testing.T) {
	t.Parallel()

	assert.True(t, Fact{Category: "skills", Text: "writes Go"}.Valid())
	assert.True(t, Fact{Category: "goals", Text: "ship v1", Confidence: ptr(0.9)}.Valid())
	assert.False(t, Fact{Category: "skills", Text: "  "}.Valid())
	assert.False(t, Fact{Category: "moods", Text: "happy"}.Valid(), "category must be in the closed set")
	assert.False(t, Fact{Category: "skills", Text: "x", Confidence: ptr(1.5)}.Valid())
	assert.False(t, Fact{Category: "skills", Text: "x", Confidence: ptr(-0.1)}.Valid())
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewStore(filepath.Join(t.TempDir(), "User-Profile.md"))

	facts := []Fact{
		{Category: "identity", Text: "goes by Sam"},
		{Category: "skills", Text: "writes Go", Confidence: ptr(0.9)},
	}
	require.NoError(t, s.Save(facts))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, facts, got)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	s := NewStore(filepath.Join(t.TempDir(), "nope.md"))
	got, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParseExtractionFiltersInvalid(t *testing.T) {
	t.Parallel()

	out := "```json\n" + `[
		{"category": "skills", "text": "writes Go", "confidence": 0.9},
		{"category": "skills", "text": "low confidence", "confidence": 0.5},
		{"category": "astrology", "text": "is a leo", "confidence": 0.95},
		{"category": "goals", "text": "", "confidence": 0.9},
		{"category": "habits", "text": "works mornings", "confidence": 0.71}
	]` + "\n```"

	facts, err := ParseExtraction(out)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "writes Go", facts[0].Text)
	assert.Equal(t, "works mornings", facts[1].Text)
}

func TestParseBullets(t *testing.T) {
	t.Parallel()

	out := "- [skills] writes Go\n- [bogus] nope\nnot a bullet\n- [habits] works mornings"
	facts := ParseBullets(out)
	require.Len(t, facts, 2)
	assert.Equal(t, "skills", facts[0].Category)
	assert.Equal(t, "habits", facts[1].Category)
}

func TestExtractorRun(t *testing.T) {
	t.Parallel()

	provider := &llmtest.Provider{Responses: []llmtest.Response{
		llmtest.TextResponse(`[{"category": "skills", "text": "writes Go", "confidence": 0.9}]`),
		llmtest.TextResponse("- [skills] writes Go"),
	}}
	store := NewStore(filepath.Join(t.TempDir(), "User-Profile.md"))
	e := NewExtractor(store, provider, "gpt-4o-mini", true)

	require.NoError(t, e.Run(context.Background(), "I mostly code in Go", "Nice!", ""))

	facts, err := store.Load()
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "writes Go", facts[0].Text)

	msg, ok := e.SystemMessage()
	assert.True(t, ok)
	assert.Contains(t, msg, "writes Go")
}

func TestExtractorDisabled(t *testing.T) {
	t.Parallel()

	provider := &llmtest.Provider{}
	store := NewStore(filepath.Join(t.TempDir(), "User-Profile.md"))
	e := NewExtractor(store, provider, "gpt-4o-mini", false)

	require.NoError(t, e.Run(context.Background(), "hi", "hello", ""))
	assert.Empty(t, provider.Calls())

	_, ok := e.SystemMessage()
	assert.False(t, ok)
}
