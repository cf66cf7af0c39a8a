package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeDeduplicatesByDoc(t *testing.T) {
	t.Parallel()

	keyword := []Result{
		{DocID: "d1", Path: "a.md", KeywordScore: 1.0, Source: SourceKeyword},
		{DocID: "d2", Path: "b.md", KeywordScore: 0.5, Source: SourceKeyword},
	}
	vector := []Result{
		{DocID: "d1", Path: "a.md", EmbeddingID: "e1", VectorScore: 1.0, Source: SourceVector},
		{DocID: "d3", Path: "c.md", EmbeddingID: "e3", VectorScore: 0.4, Source: SourceVector},
	}

	merged := merge(keyword, vector)
	require.Len(t, merged, 3)

	byDoc := make(map[string]Result)
	for _, r := range merged {
		byDoc[r.DocID] = r
	}

	assert.Equal(t, SourceBoth, byDoc["d1"].Source)
	assert.Equal(t, "e1", byDoc["d1"].EmbeddingID)
	assert.Equal(t, SourceKeyword, byDoc["d2"].Source)
	assert.Equal(t, SourceVector, byDoc["d3"].Source)

	// d1 ranked first on both sides, so its RRF score dominates.
	assert.Equal(t, "d1", merged[0].DocID)
	assert.InDelta(t, 2.0/61.0, merged[0].BaseScore, 1e-9)
}

func TestMergeEmptySides(t *testing.T) {
	t.Parallel()

	assert.Empty(t, merge(nil, nil))

	only := merge([]Result{{DocID: "d1", Source: SourceKeyword}}, nil)
	require.Len(t, only, 1)
	assert.Equal(t, SourceKeyword, only[0].Source)
}

func TestNormalizeScores(t *testing.T) {
	t.Parallel()

	results := []Result{
		{DocID: "d1", KeywordScore: 2},
		{DocID: "d2", KeywordScore: 6},
		{DocID: "d3", KeywordScore: 4},
	}
	normalizeKeyword(results)
	assert.Equal(t, 0.0, results[0].KeywordScore)
	assert.Equal(t, 1.0, results[1].KeywordScore)
	assert.Equal(t, 0.5, results[2].KeywordScore)

	// All-equal scores normalize to 1.
	equal := []Result{{VectorScore: 3}, {VectorScore: 3}}
	normalizeVector(equal)
	assert.Equal(t, 1.0, equal[0].VectorScore)
	assert.Equal(t, 1.0, equal[1].VectorScore)
}
