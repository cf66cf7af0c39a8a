package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/notabene-ai/notabene/pkg/store/vecindex"
)

// ErrEmptyEmbedding rejects upserts with a zero-length vector.
var ErrEmptyEmbedding = errors.New("embedding vector must not be empty")

// UpsertEmbedding inserts the embedding if its id is new, otherwise updates
// the row in place preserving its rowid, then synchronizes the vector index
// row under the same rowid. Dimension changes are absorbed by the index
// (recreate + retry), never by this table.
func (s *Store) UpsertEmbedding(ctx context.Context, e Embedding) error {
	if len(e.Vector) == 0 {
		return ErrEmptyEmbedding
	}
	if e.ID == "" || e.DocID == "" {
		return errors.New("embedding requires id and doc_id")
	}

	blob := vecindex.Serialize(e.Vector)

	var rowid int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO embedding (id, doc_id, chunk_id, chunk_index, content_hash, ctime, mtime, embedding, embedding_model, embedding_len)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				doc_id = excluded.doc_id,
				chunk_id = excluded.chunk_id,
				chunk_index = excluded.chunk_index,
				content_hash = excluded.content_hash,
				mtime = excluded.mtime,
				embedding = excluded.embedding,
				embedding_model = excluded.embedding_model,
				embedding_len = excluded.embedding_len`,
			e.ID, e.DocID, nullIfEmpty(e.ChunkID), e.ChunkIndex, e.ContentHash,
			e.Ctime, e.Mtime, blob, e.Model, len(e.Vector))
		if err != nil {
			return fmt.Errorf("upserting embedding %s: %w", e.ID, err)
		}

		if err := tx.QueryRowContext(ctx, "SELECT rowid FROM embedding WHERE id = ?", e.ID).Scan(&rowid); err != nil {
			return fmt.Errorf("resolving rowid for embedding %s: %w", e.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.vec.Sync(ctx, rowid, e.Vector)
}

// GetEmbedding returns the embedding with the given id, or nil when absent.
func (s *Store) GetEmbedding(ctx context.Context, id string) (*Embedding, error) {
	return s.scanEmbedding(s.db.QueryRowContext(ctx, `
		SELECT rowid, id, doc_id, chunk_id, chunk_index, content_hash, ctime, mtime, embedding, embedding_model
		FROM embedding WHERE id = ?`, id))
}

// GetEmbeddingByRowid resolves a KNN match back to its embedding.
func (s *Store) GetEmbeddingByRowid(ctx context.Context, rowid int64) (*Embedding, error) {
	return s.scanEmbedding(s.db.QueryRowContext(ctx, `
		SELECT rowid, id, doc_id, chunk_id, chunk_index, content_hash, ctime, mtime, embedding, embedding_model
		FROM embedding WHERE rowid = ?`, rowid))
}

func (s *Store) scanEmbedding(row *sql.Row) (*Embedding, error) {
	var e Embedding
	var chunkID sql.NullString
	var chunkIndex sql.NullInt64
	var blob []byte
	err := row.Scan(&e.Rowid, &e.ID, &e.DocID, &chunkID, &chunkIndex,
		&e.ContentHash, &e.Ctime, &e.Mtime, &blob, &e.Model)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning embedding: %w", err)
	}
	e.ChunkID = chunkID.String
	e.ChunkIndex = int(chunkIndex.Int64)
	e.Vector = vecindex.Deserialize(blob)
	return &e, nil
}

// CountEmbeddings returns the number of rows in the primary embedding table.
func (s *Store) CountEmbeddings(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embedding").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting embeddings: %w", err)
	}
	return n, nil
}

// DeleteEmbeddingsByDocID removes all embeddings for a document together
// with their vector rows.
func (s *Store) DeleteEmbeddingsByDocID(ctx context.Context, docID string) error {
	rows, err := s.db.QueryContext(ctx, "SELECT rowid FROM embedding WHERE doc_id = ?", docID)
	if err != nil {
		return fmt.Errorf("listing embeddings for doc %s: %w", docID, err)
	}
	var rowids []int64
	for rows.Next() {
		var r int64
		if err := rows.Scan(&r); err != nil {
			rows.Close()
			return fmt.Errorf("scanning embedding rowid: %w", err)
		}
		rowids = append(rowids, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if len(rowids) == 0 {
		return nil
	}

	if err := s.vec.DeleteRowids(ctx, rowids); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM embedding WHERE doc_id = ?", docID); err != nil {
		return fmt.Errorf("deleting embeddings for doc %s: %w", docID, err)
	}
	return nil
}

// DeleteEmbedding removes one embedding and its vector row. Unknown ids are
// a no-op.
func (s *Store) DeleteEmbedding(ctx context.Context, id string) error {
	var rowid int64
	err := s.db.QueryRowContext(ctx, "SELECT rowid FROM embedding WHERE id = ?", id).Scan(&rowid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving embedding %s: %w", id, err)
	}

	if err := s.vec.Delete(ctx, rowid); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM embedding WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting embedding %s: %w", id, err)
	}
	return nil
}

// ReplayEmbeddingsIntoVectorIndex re-inserts every primary-table embedding
// whose length matches the index dimension. Used after a dimension change to
// rebuild the sidecar from the surviving rows.
func (s *Store) ReplayEmbeddingsIntoVectorIndex(ctx context.Context) (replayed int, err error) {
	dim, present, err := s.vec.Dimension(ctx)
	if err != nil {
		return 0, err
	}
	if !present {
		return 0, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT rowid, embedding FROM embedding WHERE embedding_len = ?", dim)
	if err != nil {
		return 0, fmt.Errorf("listing embeddings for replay: %w", err)
	}
	defer rows.Close()

	type pending struct {
		rowid int64
		vec   []float32
	}
	var batch []pending
	for rows.Next() {
		var p pending
		var blob []byte
		if err := rows.Scan(&p.rowid, &blob); err != nil {
			return 0, fmt.Errorf("scanning embedding for replay: %w", err)
		}
		p.vec = vecindex.Deserialize(blob)
		batch = append(batch, p)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, p := range batch {
		if err := s.vec.Sync(ctx, p.rowid, p.vec); err != nil {
			return replayed, err
		}
		replayed++
	}
	return replayed, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
