package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// UpsertDocument writes document metadata and refreshes the keyword index
// with the document's text. Ingestion calls this whenever a corpus file is
// created or changes.
func (s *Store) UpsertDocument(ctx context.Context, meta DocMeta, text string) error {
	if meta.ID == "" || meta.Path == "" {
		return errors.New("document requires id and path")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO doc_meta (id, path, mtime, ctime, content_hash, word_count, link_count, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			mtime = excluded.mtime,
			content_hash = excluded.content_hash,
			word_count = excluded.word_count,
			link_count = excluded.link_count,
			tags = excluded.tags`,
		meta.ID, meta.Path, meta.Mtime, meta.Ctime, meta.ContentHash,
		meta.WordCount, meta.LinkCount, strings.Join(meta.Tags, ","))
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", meta.ID, err)
	}

	return s.keyword.Index(meta.ID, meta.Path, text)
}

// GetDocument returns the document with the given id, or nil when absent.
func (s *Store) GetDocument(ctx context.Context, id string) (*DocMeta, error) {
	return s.scanDoc(s.db.QueryRowContext(ctx,
		"SELECT id, path, mtime, ctime, content_hash, word_count, link_count, tags FROM doc_meta WHERE id = ?", id))
}

// GetDocumentByPath returns the document at path, or nil when absent.
func (s *Store) GetDocumentByPath(ctx context.Context, path string) (*DocMeta, error) {
	return s.scanDoc(s.db.QueryRowContext(ctx,
		"SELECT id, path, mtime, ctime, content_hash, word_count, link_count, tags FROM doc_meta WHERE path = ?", path))
}

func (s *Store) scanDoc(row *sql.Row) (*DocMeta, error) {
	var meta DocMeta
	var tags string
	err := row.Scan(&meta.ID, &meta.Path, &meta.Mtime, &meta.Ctime,
		&meta.ContentHash, &meta.WordCount, &meta.LinkCount, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	if tags != "" {
		meta.Tags = strings.Split(tags, ",")
	}
	return &meta, nil
}

// DeleteDocument removes the document, its embeddings, their vector rows,
// its keyword entry, and its statistics. Called when the underlying file is
// removed from the corpus.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	if err := s.DeleteEmbeddingsByDocID(ctx, id); err != nil {
		return err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM doc_meta WHERE id = ?", id); err != nil {
			return fmt.Errorf("deleting document %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM doc_statistics WHERE path = ?", doc.Path); err != nil {
			return fmt.Errorf("deleting statistics for %s: %w", doc.Path, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM graph_edge WHERE src_path = ? OR dst_path = ?", doc.Path, doc.Path); err != nil {
			return fmt.Errorf("deleting graph edges for %s: %w", doc.Path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.keyword.Delete(id)
}

// RecordDocOpen bumps the open counter and last-open timestamp for a path.
// This feeds the reranker's behavioral boosts.
func (s *Store) RecordDocOpen(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO doc_statistics (path, open_count, last_open_ts)
		VALUES (?, 1, ?)
		ON CONFLICT(path) DO UPDATE SET
			open_count = open_count + 1,
			last_open_ts = excluded.last_open_ts`,
		path, s.now())
	if err != nil {
		return fmt.Errorf("recording open for %s: %w", path, err)
	}
	return nil
}

// GetDocStatistics returns statistics for the given paths. Paths never
// opened are absent from the result.
func (s *Store) GetDocStatistics(ctx context.Context, paths []string) (map[string]DocStatistics, error) {
	if len(paths) == 0 {
		return map[string]DocStatistics{}, nil
	}

	placeholders := strings.Repeat("?,", len(paths))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT path, open_count, last_open_ts FROM doc_statistics WHERE path IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("querying doc statistics: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]DocStatistics)
	for rows.Next() {
		var st DocStatistics
		if err := rows.Scan(&st.Path, &st.OpenCount, &st.LastOpenTs); err != nil {
			return nil, fmt.Errorf("scanning doc statistics: %w", err)
		}
		stats[st.Path] = st
	}
	return stats, rows.Err()
}

// ReplaceDocLinks replaces a document's outgoing graph edges. Edges are
// undirected at query time; storage keeps the direction they were authored.
func (s *Store) ReplaceDocLinks(ctx context.Context, srcPath string, dstPaths []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM graph_edge WHERE src_path = ?", srcPath); err != nil {
			return fmt.Errorf("clearing edges for %s: %w", srcPath, err)
		}
		for _, dst := range dstPaths {
			if dst == srcPath {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO graph_edge (src_path, dst_path) VALUES (?, ?)", srcPath, dst); err != nil {
				return fmt.Errorf("inserting edge %s -> %s: %w", srcPath, dst, err)
			}
		}
		return nil
	})
}

// PathsWithinHops returns the set of paths within maxHops undirected hops of
// anchor, excluding the anchor itself.
func (s *Store) PathsWithinHops(ctx context.Context, anchor string, maxHops int) (map[string]bool, error) {
	visited := map[string]bool{anchor: true}
	frontier := []string{anchor}

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		placeholders := strings.Repeat("?,", len(frontier))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, 0, len(frontier)*2)
		for _, p := range frontier {
			args = append(args, p)
		}
		for _, p := range frontier {
			args = append(args, p)
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT dst_path FROM graph_edge WHERE src_path IN (`+placeholders+`)
			UNION
			SELECT src_path FROM graph_edge WHERE dst_path IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("expanding graph frontier: %w", err)
		}

		var next []string
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning graph edge: %w", err)
			}
			if !visited[p] {
				visited[p] = true
				next = append(next, p)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		frontier = next
	}

	delete(visited, anchor)
	return visited, nil
}
