// Package search implements hybrid retrieval: a keyword branch over the
// store's full-text index and a vector branch over the KNN sidecar, merged
// per document with reciprocal rank fusion.
package search

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/notabene-ai/notabene/pkg/search/scope"
	"github.com/notabene-ai/notabene/pkg/store"
)

// rrfK is the RRF smoothing constant.
//
// Reference: "Reciprocal Rank Fusion outperforms Condorcet and individual
// Rank Learning Methods" by Cormack, Clarke, and Buettcher (SIGIR 2009).
const rrfK = 60

// defaultLimit bounds each branch when the caller sets none.
const defaultLimit = 20

// Source tags which branch produced a result.
type Source string

const (
	SourceKeyword Source = "keyword"
	SourceVector  Source = "vector"
	SourceBoth    Source = "both"
)

// Result is one retrieved document. BaseScore is the fused RRF score;
// FinalScore is filled by the reranker (and starts equal to BaseScore).
type Result struct {
	DocID        string
	Path         string
	EmbeddingID  string
	ChunkIndex   int
	KeywordScore float64
	VectorScore  float64
	Source       Source
	BaseScore    float64
	FinalScore   float64
}

// Embedder generates the query embedding. The external LLM collaborator
// satisfies this.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, model, text string) ([]float32, error)
}

// Engine runs hybrid searches against one store.
type Engine struct {
	store          *store.Store
	embedder       Embedder
	embeddingModel string
}

// NewEngine creates a search engine.
func NewEngine(s *store.Store, embedder Embedder, embeddingModel string) *Engine {
	return &Engine{store: s, embedder: embedder, embeddingModel: embeddingModel}
}

// Options tunes a single search.
type Options struct {
	// Limit bounds each branch and the merged result. Defaults to 20.
	Limit int
}

// Search runs both branches under the scope, deduplicates by document, and
// orders by RRF.
func (e *Engine) Search(ctx context.Context, query string, sc scope.Scope, opts Options) ([]Result, error) {
	sc = sc.Normalize()
	limit := cmp.Or(opts.Limit, defaultLimit)
	start := time.Now()

	// The two branches are independent until the merge; run them
	// concurrently (the vector branch blocks on the embedding call).
	var keywordHits, vectorHits []Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		keywordHits, err = e.keywordBranch(gctx, query, sc, limit)
		return err
	})
	g.Go(func() error {
		var err error
		vectorHits, err = e.vectorBranch(gctx, query, sc, limit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := merge(keywordHits, vectorHits)
	if len(merged) > limit {
		merged = merged[:limit]
	}

	slog.Debug("Hybrid search complete",
		"scope", sc.Kind,
		"keyword_hits", len(keywordHits),
		"vector_hits", len(vectorHits),
		"merged", len(merged),
		"duration_ms", time.Since(start).Milliseconds())

	return merged, nil
}

// keywordBranch queries the full-text index and filters hits to the scope.
// limitIdsSet scopes cannot be expressed over paths, so that branch
// contributes nothing there.
func (e *Engine) keywordBranch(ctx context.Context, query string, sc scope.Scope, limit int) ([]Result, error) {
	if sc.Kind == scope.KindLimitIDsSet {
		return nil, nil
	}

	hits, err := e.store.Keyword().Search(ctx, query, limit*2)
	if err != nil {
		return nil, fmt.Errorf("keyword branch: %w", err)
	}

	var results []Result
	for _, hit := range hits {
		if !sc.MatchesPath(hit.Path) {
			continue
		}
		results = append(results, Result{
			DocID:        hit.DocID,
			Path:         hit.Path,
			KeywordScore: hit.Score,
			Source:       SourceKeyword,
		})
		if len(results) == limit {
			break
		}
	}

	normalizeKeyword(results)
	return results, nil
}

// vectorBranch embeds the query and runs the scoped KNN.
func (e *Engine) vectorBranch(ctx context.Context, query string, sc scope.Scope, limit int) ([]Result, error) {
	vector, err := e.embedder.GenerateEmbedding(ctx, e.embeddingModel, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	fragment, args, err := sc.Predicate()
	if err != nil {
		return nil, err
	}

	matches, err := e.store.VectorIndex().KNN(ctx, vector, limit, fragment, args...)
	if err != nil {
		return nil, fmt.Errorf("vector branch: %w", err)
	}

	var results []Result
	for _, m := range matches {
		emb, err := e.store.GetEmbeddingByRowid(ctx, m.Rowid)
		if err != nil {
			return nil, err
		}
		if emb == nil {
			continue
		}
		doc, err := e.store.GetDocument(ctx, emb.DocID)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		results = append(results, Result{
			DocID:       doc.ID,
			Path:        doc.Path,
			EmbeddingID: emb.ID,
			ChunkIndex:  emb.ChunkIndex,
			VectorScore: 1.0 / (1.0 + m.Distance),
			Source:      SourceVector,
		})
	}

	normalizeVector(results)
	return results, nil
}

// merge deduplicates by doc id, keeping the best per-side score, and fuses
// ranks with RRF.
func merge(keyword, vector []Result) []Result {
	byDoc := make(map[string]*Result)
	order := make([]string, 0, len(keyword)+len(vector))

	upsert := func(r Result) *Result {
		if existing, ok := byDoc[r.DocID]; ok {
			return existing
		}
		copied := r
		byDoc[r.DocID] = &copied
		order = append(order, r.DocID)
		return &copied
	}

	for rank, r := range keyword {
		entry := upsert(r)
		entry.KeywordScore = max(entry.KeywordScore, r.KeywordScore)
		entry.BaseScore += 1.0 / float64(rrfK+rank+1)
	}
	for rank, r := range vector {
		entry := upsert(r)
		if entry.Source == SourceKeyword {
			entry.Source = SourceBoth
		}
		entry.VectorScore = max(entry.VectorScore, r.VectorScore)
		if entry.EmbeddingID == "" {
			entry.EmbeddingID = r.EmbeddingID
			entry.ChunkIndex = r.ChunkIndex
		}
		entry.BaseScore += 1.0 / float64(rrfK+rank+1)
	}

	merged := make([]Result, 0, len(order))
	for _, docID := range order {
		r := *byDoc[docID]
		r.FinalScore = r.BaseScore
		merged = append(merged, r)
	}

	slices.SortStableFunc(merged, func(a, b Result) int {
		return cmp.Compare(b.BaseScore, a.BaseScore)
	})
	return merged
}

// normalizeKeyword rescales keyword scores to [0, 1].
func normalizeKeyword(results []Result) {
	normalize(results, func(r *Result) *float64 { return &r.KeywordScore })
}

// normalizeVector rescales vector scores to [0, 1].
func normalizeVector(results []Result) {
	normalize(results, func(r *Result) *float64 { return &r.VectorScore })
}

func normalize(results []Result, field func(*Result) *float64) {
	if len(results) == 0 {
		return
	}
	lo, hi := *field(&results[0]), *field(&results[0])
	for i := range results {
		v := *field(&results[i])
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if hi == lo {
		for i := range results {
			*field(&results[i]) = 1.0
		}
		return
	}
	for i := range results {
		v := field(&results[i])
		*v = (*v - lo) / (hi - lo)
	}
}
