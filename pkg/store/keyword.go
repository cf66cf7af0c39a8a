package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blevesearch/bleve/v2"
)

// KeywordIndex is the store's full-text index over document contents,
// backed by bleve with its default index mapping (TF-IDF scoring). It is maintained alongside doc_meta by the
// ingestion write path.
type KeywordIndex struct {
	idx bleve.Index
}

// keywordDoc is the document shape indexed per corpus document.
type keywordDoc struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// OpenKeywordIndex opens the index directory, creating it on first use.
func OpenKeywordIndex(path string) (*KeywordIndex, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		mapping := bleve.NewIndexMapping()
		idx, err = bleve.New(path, mapping)
	}
	if err != nil {
		return nil, fmt.Errorf("opening keyword index at %q: %w", path, err)
	}
	return &KeywordIndex{idx: idx}, nil
}

// Index adds or replaces the full text for a document.
func (k *KeywordIndex) Index(docID, path, text string) error {
	if err := k.idx.Index(docID, keywordDoc{Path: path, Text: text}); err != nil {
		return fmt.Errorf("indexing document %s: %w", docID, err)
	}
	return nil
}

// Delete removes a document from the index. Unknown IDs are a no-op.
func (k *KeywordIndex) Delete(docID string) error {
	if err := k.idx.Delete(docID); err != nil {
		return fmt.Errorf("deleting document %s from keyword index: %w", docID, err)
	}
	return nil
}

// KeywordHit is one full-text match.
type KeywordHit struct {
	DocID string
	Path  string
	Score float64
}

// Search runs a match query over document text and returns up to limit hits
// ordered by descending score.
func (k *KeywordIndex) Search(ctx context.Context, query string, limit int) ([]KeywordHit, error) {
	q := bleve.NewMatchQuery(query)
	q.SetField("text")

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"path"}

	res, err := k.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	hits := make([]KeywordHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		h := KeywordHit{DocID: hit.ID, Score: hit.Score}
		if p, ok := hit.Fields["path"].(string); ok {
			h.Path = p
		}
		hits = append(hits, h)
	}

	slog.Debug("Keyword search complete", "query_length", len(query), "hits", len(hits))
	return hits, nil
}

// Close releases the index.
func (k *KeywordIndex) Close() error {
	return k.idx.Close()
}
