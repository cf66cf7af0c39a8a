// Package rerank re-scores hybrid search results with behavioral and graph
// boosts, optionally blending in scores from an LLM reranking model.
package rerank

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/notabene-ai/notabene/pkg/llm"
	"github.com/notabene-ai/notabene/pkg/search"
	"github.com/notabene-ai/notabene/pkg/store"
)

// Boost and blending constants.
const (
	// FreqBoostFactor scales ln(1 + open_count).
	FreqBoostFactor = 0.15
	// RecencyBoostMax is the boost for a document opened just now.
	RecencyBoostMax = 0.3
	// RecencyDecayPerDay is subtracted per day since last open.
	RecencyDecayPerDay = 0.01
	// GraphBoost applies to documents within GraphMaxHops of the anchor.
	GraphBoost   = 0.2
	GraphMaxHops = 2

	// Blend weights when the LLM rerank succeeds.
	BlendBase   = 0.7
	BlendRerank = 0.3
)

// Stats is the slice of the store the reranker reads.
type Stats interface {
	GetDocStatistics(ctx context.Context, paths []string) (map[string]store.DocStatistics, error)
	PathsWithinHops(ctx context.Context, anchor string, maxHops int) (map[string]bool, error)
}

// Reranker applies boosts and optional LLM reranking.
type Reranker struct {
	stats       Stats
	llm         llm.RerankingProvider
	rerankModel string
	now         func() int64
}

// New creates a reranker. provider and rerankModel may be zero when LLM
// reranking is not configured.
func New(stats Stats, provider llm.RerankingProvider, rerankModel string) *Reranker {
	return &Reranker{
		stats:       stats,
		llm:         provider,
		rerankModel: rerankModel,
		now:         func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock overrides the reranker's clock for tests.
func (r *Reranker) SetClock(now func() int64) { r.now = now }

// Options tunes one rerank call.
type Options struct {
	// AnchorPath enables the graph boost relative to this document.
	AnchorPath string
	// EnableLLM requests the LLM rerank pass. It runs only when a rerank
	// model is configured.
	EnableLLM bool
}

// Rerank returns items with FinalScore updated and re-sorted descending.
// The boosts always apply; the LLM pass is strictly opt-in because it is
// slow and remote, and its failure preserves the boosted ordering.
func (r *Reranker) Rerank(ctx context.Context, items []search.Result, query string, opts Options) ([]search.Result, error) {
	if len(items) == 0 {
		return items, nil
	}

	paths := make([]string, len(items))
	for i := range items {
		paths[i] = items[i].Path
	}

	stats, err := r.stats.GetDocStatistics(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("loading doc statistics: %w", err)
	}

	var related map[string]bool
	if opts.AnchorPath != "" {
		related, err = r.stats.PathsWithinHops(ctx, opts.AnchorPath, GraphMaxHops)
		if err != nil {
			return nil, fmt.Errorf("expanding anchor graph: %w", err)
		}
	}

	nowMs := r.now()
	boostInfos := make([]boostInfo, len(items))
	for i := range items {
		info := computeBoosts(stats[items[i].Path], related[items[i].Path], nowMs)
		boostInfos[i] = info
		items[i].FinalScore = items[i].BaseScore + info.freq + info.recency + info.graph
	}

	slices.SortStableFunc(items, func(a, b search.Result) int {
		return cmp.Compare(b.FinalScore, a.FinalScore)
	})

	if opts.EnableLLM && r.llm != nil && r.rerankModel != "" {
		if err := r.llmRerank(ctx, items, query, stats, related); err != nil {
			// A failed rerank call keeps the boosted ordering.
			slog.Warn("LLM rerank failed, keeping boosted ordering", "error", err)
		}
	}

	return items, nil
}

type boostInfo struct {
	freq      float64
	recency   float64
	graph     float64
	openCount int
	daysAgo   int
	related   bool
	opened    bool
}

func computeBoosts(st store.DocStatistics, related bool, nowMs int64) boostInfo {
	var info boostInfo
	info.related = related

	if st.OpenCount > 0 {
		info.opened = true
		info.openCount = st.OpenCount
		info.freq = math.Log(1+float64(st.OpenCount)) * FreqBoostFactor

		days := float64(nowMs-st.LastOpenTs) / float64(24*time.Hour/time.Millisecond)
		info.daysAgo = int(days)
		info.recency = max(0, RecencyBoostMax-days*RecencyDecayPerDay)
	}

	if related {
		info.graph = GraphBoost
	}
	return info
}

// annotation renders the "boost info" line sent with each document to the
// reranking model.
func (b boostInfo) annotation() string {
	opened := "never opened"
	if b.opened {
		opened = fmt.Sprintf("opened %d times, last opened %d days ago", b.openCount, b.daysAgo)
	}
	if b.related {
		return opened + ", related to current file"
	}
	return opened
}

func (r *Reranker) llmRerank(ctx context.Context, items []search.Result, query string, stats map[string]store.DocStatistics, related map[string]bool) error {
	start := time.Now()

	documents := make([]string, len(items))
	nowMs := r.now()
	for i := range items {
		info := computeBoosts(stats[items[i].Path], related[items[i].Path], nowMs)
		documents[i] = fmt.Sprintf("%s (%s)", items[i].Path, info.annotation())
	}

	scores, err := r.llm.Rerank(ctx, r.rerankModel, query, documents, 0)
	if err != nil {
		return err
	}

	normalized := make(map[int]float64, len(scores))
	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(items) {
			continue
		}
		v := s.Score
		// Rank-style scores come back larger than 1; rescale by count.
		if v > 1 {
			v /= float64(len(documents))
		}
		normalized[s.Index] = v
	}

	for i := range items {
		if v, ok := normalized[i]; ok {
			items[i].FinalScore = BlendBase*items[i].FinalScore + BlendRerank*v
		}
	}

	slices.SortStableFunc(items, func(a, b search.Result) int {
		return cmp.Compare(b.FinalScore, a.FinalScore)
	})

	slog.Debug("LLM rerank complete",
		"num_documents", len(documents),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}
