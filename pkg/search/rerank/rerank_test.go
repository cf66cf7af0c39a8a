package rerank

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notabene-ai/notabene/pkg/llm"
	"github.com/notabene-ai/notabene/pkg/search"
	"github.com/notabene-ai/notabene/pkg/store"
)

type fakeStats struct {
	stats   map[string]store.DocStatistics
	related map[string]bool
}

func (f *fakeStats) GetDocStatistics(_ context.Context, paths []string) (map[string]store.DocStatistics, error) {
	out := make(map[string]store.DocStatistics)
	for _, p := range paths {
		if st, ok := f.stats[p]; ok {
			out[p] = st
		}
	}
	return out, nil
}

func (f *fakeStats) PathsWithinHops(context.Context, string, int) (map[string]bool, error) {
	return f.related, nil
}

type fakeRerankLLM struct {
	scores []llm.RerankScore
	err    error
	called bool
}

func (f *fakeRerankLLM) Rerank(context.Context, string, string, []string, int) ([]llm.RerankScore, error) {
	f.called = true
	return f.scores, f.err
}

const dayMs = int64(24 * time.Hour / time.Millisecond)

func baseItems() []search.Result {
	return []search.Result{
		{DocID: "a", Path: "a.md", BaseScore: 0.5},
		{DocID: "b", Path: "b.md", BaseScore: 0.5},
		{DocID: "c", Path: "c.md", BaseScore: 0.5},
	}
}

func TestBoostOrdering(t *testing.T) {
	t.Parallel()

	now := int64(100 * dayMs)
	stats := &fakeStats{
		stats: map[string]store.DocStatistics{
			"a.md": {Path: "a.md", OpenCount: 10, LastOpenTs: now - dayMs},
		},
		related: map[string]bool{"b.md": true},
	}

	r := New(stats, nil, "")
	r.SetClock(func() int64 { return now })

	items, err := r.Rerank(context.Background(), baseItems(), "query", Options{AnchorPath: "anchor.md"})
	require.NoError(t, err)
	require.Len(t, items, 3)

	// A: 0.5 + ln(11)*0.15 + (0.3 - 1*0.01) ~= 1.15
	assert.Equal(t, "a", items[0].DocID)
	assert.InDelta(t, 0.5+math.Log(11)*FreqBoostFactor+0.29, items[0].FinalScore, 1e-9)

	// B: 0.5 + graph boost = 0.70
	assert.Equal(t, "b", items[1].DocID)
	assert.InDelta(t, 0.70, items[1].FinalScore, 1e-9)

	// C: untouched.
	assert.Equal(t, "c", items[2].DocID)
	assert.InDelta(t, 0.50, items[2].FinalScore, 1e-9)
}

func TestNeverOpenedGetsNoRecencyBoost(t *testing.T) {
	t.Parallel()

	r := New(&fakeStats{}, nil, "")
	items, err := r.Rerank(context.Background(), baseItems(), "query", Options{})
	require.NoError(t, err)
	for _, it := range items {
		assert.InDelta(t, 0.5, it.FinalScore, 1e-9)
	}
}

func TestLLMRerankBlending(t *testing.T) {
	t.Parallel()

	fake := &fakeRerankLLM{scores: []llm.RerankScore{
		{Index: 0, Score: 0.0},
		{Index: 1, Score: 1.0},
		{Index: 2, Score: 0.5},
	}}
	r := New(&fakeStats{}, fake, "rerank-model")

	items, err := r.Rerank(context.Background(), baseItems(), "query", Options{EnableLLM: true})
	require.NoError(t, err)
	assert.True(t, fake.called)

	// All boosted scores are 0.5; blending is 0.7*0.5 + 0.3*score.
	byDoc := make(map[string]float64)
	for _, it := range items {
		byDoc[it.DocID] = it.FinalScore
	}
	assert.InDelta(t, 0.35, byDoc["a"], 1e-9)
	assert.InDelta(t, 0.65, byDoc["b"], 1e-9)
	assert.InDelta(t, 0.50, byDoc["c"], 1e-9)
	assert.Equal(t, "b", items[0].DocID)
}

func TestLLMRerankRankStyleScoresNormalized(t *testing.T) {
	t.Parallel()

	// Rank-style scores (> 1) are divided by the document count.
	fake := &fakeRerankLLM{scores: []llm.RerankScore{
		{Index: 0, Score: 3},
		{Index: 1, Score: 2},
		{Index: 2, Score: 1},
	}}
	r := New(&fakeStats{}, fake, "rerank-model")

	items, err := r.Rerank(context.Background(), baseItems(), "query", Options{EnableLLM: true})
	require.NoError(t, err)

	byDoc := make(map[string]float64)
	for _, it := range items {
		byDoc[it.DocID] = it.FinalScore
	}
	assert.InDelta(t, 0.7*0.5+0.3*1.0, byDoc["a"], 1e-9)
	assert.InDelta(t, 0.7*0.5+0.3*(2.0/3.0), byDoc["b"], 1e-9)
}

func TestLLMRerankFailurePreservesOrdering(t *testing.T) {
	t.Parallel()

	now := int64(100 * dayMs)
	stats := &fakeStats{
		stats: map[string]store.DocStatistics{
			"a.md": {Path: "a.md", OpenCount: 5, LastOpenTs: now},
		},
	}
	fake := &fakeRerankLLM{err: errors.New("rerank backend down")}
	r := New(stats, fake, "rerank-model")
	r.SetClock(func() int64 { return now })

	items, err := r.Rerank(context.Background(), baseItems(), "query", Options{EnableLLM: true})
	require.NoError(t, err)
	assert.True(t, fake.called)
	assert.Equal(t, "a", items[0].DocID, "boosted ordering survives rerank failure")
}

func TestLLMRerankDisabledByDefault(t *testing.T) {
	t.Parallel()

	fake := &fakeRerankLLM{}
	r := New(&fakeStats{}, fake, "rerank-model")
	_, err := r.Rerank(context.Background(), baseItems(), "query", Options{})
	require.NoError(t, err)
	assert.False(t, fake.called)
}
