// Package store hosts all persistent state of the engine: the SQLite
// database, the vector index sidecar, the keyword index, and the note files
// that carry conversation message bodies.
//
// The database is opened single-writer. Multi-row writes to the relational
// tables run in one transaction; vector-index rows, the keyword index and
// note files are written in separate steps outside that transaction, so a
// failure part-way through such an operation is not rolled back as a whole.
// Missing rows on read return absent, missing rows on targeted update are
// no-ops.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/notabene-ai/notabene/pkg/sqliteutil"
	"github.com/notabene-ai/notabene/pkg/store/vecindex"
)

// Store owns the database, the vector index, the keyword index, and the
// conversation/resource note files under root.
type Store struct {
	db      *sql.DB
	vec     *vecindex.Index
	keyword *KeywordIndex
	root    string

	now func() int64
}

// Options configures Open.
type Options struct {
	// DatabasePath locates the SQLite file.
	DatabasePath string
	// KeywordIndexPath locates the bleve index directory.
	KeywordIndexPath string
	// Root is the folder conversation and project files live under.
	Root string
}

// Open opens (creating if necessary) the store.
func Open(opts Options) (*Store, error) {
	db, err := sqliteutil.OpenDB(opts.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening store database: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating store schema: %w", err)
	}

	kw, err := OpenKeywordIndex(opts.KeywordIndexPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening keyword index: %w", err)
	}

	slog.Info("Store opened",
		"database", opts.DatabasePath,
		"keyword_index", opts.KeywordIndexPath,
		"root", opts.Root)

	return &Store{
		db:      db,
		vec:     vecindex.New(db),
		keyword: kw,
		root:    opts.Root,
		now:     func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// VectorIndex exposes the vector index for search.
func (s *Store) VectorIndex() *vecindex.Index { return s.vec }

// Keyword exposes the keyword index for search.
func (s *Store) Keyword() *KeywordIndex { return s.keyword }

// Root returns the note-file root folder.
func (s *Store) Root() string { return s.root }

// Close checkpoints and closes all underlying resources.
func (s *Store) Close() error {
	var firstErr error
	if s.keyword != nil {
		if err := s.keyword.Close(); err != nil {
			slog.Warn("Failed to close keyword index", "error", err)
			firstErr = err
		}
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		slog.Warn("Failed to checkpoint WAL before close", "error", err)
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// SetClock overrides the store's clock. Tests use this to make timestamps
// deterministic.
func (s *Store) SetClock(now func() int64) { s.now = now }

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
