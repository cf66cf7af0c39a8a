// Package vecindex manages the vec0 virtual table that mirrors the primary
// embedding table. The virtual table is keyed by rowid so KNN results join
// back to embeddings without string keys.
//
// The table's existence and dimension are cached behind a small state
// machine (unknown -> absent -> present(D)) that is only mutated here. The
// cache is re-probed after a failed vector write and after a missing-table
// error; a delete or KNN query that fails for any other reason leaves the
// cached state unchanged.
package vecindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// TableName is the fixed name of the vector virtual table.
const TableName = "vec_embeddings"

// ErrTableMissing is surfaced when the virtual table is absent even after a
// create attempt.
var ErrTableMissing = errors.New("vector table missing")

// DimensionMismatchError reports a write whose vector length does not match
// the table's declared dimension.
type DimensionMismatchError struct {
	Expected int
	Received int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: table expects %d, got %d", e.Expected, e.Received)
}

type state int

const (
	stateUnknown state = iota
	stateAbsent
	statePresent
)

// Index wraps the vec0 table lifecycle. All operations are safe for
// concurrent use; writes are serialized by the shared single-writer pool.
type Index struct {
	db *sql.DB

	mu    sync.Mutex
	state state
	dim   int
}

// New creates an Index over db. The table is probed lazily.
func New(db *sql.DB) *Index {
	return &Index{db: db}
}

// Match is one KNN result.
type Match struct {
	Rowid    int64
	Distance float64
}

// Dimension returns the current table dimension, probing if needed. ok is
// false when the table does not exist.
func (ix *Index) Dimension(ctx context.Context) (dim int, ok bool, err error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.probeLocked(ctx); err != nil {
		return 0, false, err
	}
	return ix.dim, ix.state == statePresent, nil
}

// Ensure creates the table at dimension dim if it is absent. An existing
// table with a different dimension is left alone; the writer path handles
// mismatch through Recreate.
func (ix *Index) Ensure(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid vector dimension %d", dim)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.probeLocked(ctx); err != nil {
		return err
	}
	if ix.state == statePresent {
		return nil
	}
	return ix.createLocked(ctx, dim)
}

// Recreate drops and recreates the table at the new dimension. All vector
// rows are destroyed; the primary embedding table is untouched and can be
// replayed into the new table.
func (ix *Index) Recreate(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid vector dimension %d", dim)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	slog.Warn("Recreating vector index, all vector rows will be dropped",
		"previous_dimension", ix.dim,
		"new_dimension", dim)

	if _, err := ix.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+TableName); err != nil {
		ix.state = stateUnknown
		return fmt.Errorf("dropping vector table: %w", err)
	}
	ix.state = stateAbsent
	return ix.createLocked(ctx, dim)
}

// Sync writes the vector for rowid. The virtual table does not support
// UPDATE, so this is a DELETE followed by an INSERT.
//
// Self-healing: a missing table is created at the vector's dimension and the
// write retried once; a dimension mismatch recreates the table at the new
// dimension and retries once. Any other error invalidates the cached state
// and surfaces with its cause.
func (ix *Index) Sync(ctx context.Context, rowid int64, vector []float32) error {
	if len(vector) == 0 {
		return errors.New("empty vector")
	}

	if err := ix.Ensure(ctx, len(vector)); err != nil {
		return err
	}

	err := ix.write(ctx, rowid, vector)
	if err == nil {
		return nil
	}

	switch v := classify(err).(type) {
	case *missingTableError:
		ix.invalidate()
		if err := ix.Ensure(ctx, len(vector)); err != nil {
			return err
		}
		if retryErr := ix.write(ctx, rowid, vector); retryErr != nil {
			if _, still := classify(retryErr).(*missingTableError); still {
				return fmt.Errorf("%w: %v", ErrTableMissing, retryErr)
			}
			return fmt.Errorf("syncing vector row %d: %w", rowid, retryErr)
		}
		return nil

	case *DimensionMismatchError:
		slog.Warn("Vector dimension changed, rebuilding index",
			"rowid", rowid,
			"expected", v.Expected,
			"received", v.Received)
		if err := ix.Recreate(ctx, len(vector)); err != nil {
			return err
		}
		if retryErr := ix.write(ctx, rowid, vector); retryErr != nil {
			return fmt.Errorf("syncing vector row %d after recreate: %w", rowid, retryErr)
		}
		return nil

	default:
		ix.invalidate()
		return fmt.Errorf("syncing vector row %d: %w", rowid, err)
	}
}

// Delete removes the vector row for rowid. A missing table or row is not an
// error.
func (ix *Index) Delete(ctx context.Context, rowid int64) error {
	_, err := ix.db.ExecContext(ctx, "DELETE FROM "+TableName+" WHERE rowid = ?", rowid)
	if err != nil {
		if _, missing := classify(err).(*missingTableError); missing {
			ix.invalidate()
			return nil
		}
		return fmt.Errorf("deleting vector row %d: %w", rowid, err)
	}
	return nil
}

// DeleteRowids removes many vector rows in one statement.
func (ix *Index) DeleteRowids(ctx context.Context, rowids []int64) error {
	if len(rowids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(rowids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(rowids))
	for i, r := range rowids {
		args[i] = r
	}
	_, err := ix.db.ExecContext(ctx, "DELETE FROM "+TableName+" WHERE rowid IN ("+placeholders+")", args...)
	if err != nil {
		if _, missing := classify(err).(*missingTableError); missing {
			ix.invalidate()
			return nil
		}
		return fmt.Errorf("deleting %d vector rows: %w", len(rowids), err)
	}
	return nil
}

// KNN runs a k-nearest-neighbor query, joined against the embedding and
// doc_meta tables so scopeFragment (which may reference aliases e and d) can
// prune candidates before the LIMIT. Results are ordered by ascending
// distance. The vec0 KNN operator requires the k = ? constraint to appear in
// the WHERE clause next to the MATCH expression.
func (ix *Index) KNN(ctx context.Context, query []float32, k int, scopeFragment string, scopeArgs ...any) ([]Match, error) {
	if len(query) == 0 {
		return nil, errors.New("empty query vector")
	}
	if k <= 0 {
		return nil, nil
	}

	sqlQuery := `SELECT v.rowid, v.distance
		FROM ` + TableName + ` v
		JOIN embedding e ON e.rowid = v.rowid
		JOIN doc_meta d ON d.id = e.doc_id
		WHERE v.embedding MATCH ? AND k = ?`
	if scopeFragment != "" {
		sqlQuery += " AND " + scopeFragment
	}
	sqlQuery += " ORDER BY v.distance"

	args := append([]any{Serialize(query), k}, scopeArgs...)

	rows, err := ix.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		if _, missing := classify(err).(*missingTableError); missing {
			// No index yet means no neighbors, after confirming via probe.
			ix.invalidate()
			if _, present, probeErr := ix.Dimension(ctx); probeErr == nil && !present {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("knn query: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Rowid, &m.Distance); err != nil {
			return nil, fmt.Errorf("scanning knn row: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (ix *Index) write(ctx context.Context, rowid int64, vector []float32) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+TableName+" WHERE rowid = ?", rowid); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO "+TableName+" (rowid, embedding) VALUES (?, ?)", rowid, Serialize(vector)); err != nil {
		return err
	}
	return tx.Commit()
}

func (ix *Index) invalidate() {
	ix.mu.Lock()
	ix.state = stateUnknown
	ix.mu.Unlock()
}

var dimensionPattern = regexp.MustCompile(`float\[(\d+)\]`)

func (ix *Index) probeLocked(ctx context.Context) error {
	if ix.state != stateUnknown {
		return nil
	}

	var ddl string
	err := ix.db.QueryRowContext(ctx,
		"SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", TableName).Scan(&ddl)
	if errors.Is(err, sql.ErrNoRows) {
		ix.state = stateAbsent
		ix.dim = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("probing vector table: %w", err)
	}

	m := dimensionPattern.FindStringSubmatch(ddl)
	if m == nil {
		return fmt.Errorf("vector table exists but dimension not found in DDL %q", ddl)
	}
	dim, err := strconv.Atoi(m[1])
	if err != nil {
		return fmt.Errorf("parsing vector table dimension: %w", err)
	}

	ix.state = statePresent
	ix.dim = dim
	return nil
}

func (ix *Index) createLocked(ctx context.Context, dim int) error {
	ddl := fmt.Sprintf("CREATE VIRTUAL TABLE %s USING vec0(embedding float[%d])", TableName, dim)
	if _, err := ix.db.ExecContext(ctx, ddl); err != nil {
		ix.state = stateUnknown
		return fmt.Errorf("creating vector table: %w", err)
	}
	ix.state = statePresent
	ix.dim = dim
	slog.Debug("Vector table created", "dimension", dim)
	return nil
}

// Serialize encodes a float32 vector in the little-endian blob format vec0
// expects.
func Serialize(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Deserialize decodes a vector blob written by Serialize.
func Deserialize(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

// missingTableError marks "no such table" backend errors.
type missingTableError struct{ cause error }

func (e *missingTableError) Error() string { return e.cause.Error() }
func (e *missingTableError) Unwrap() error { return e.cause }

var mismatchPattern = regexp.MustCompile(`[Ee]xpected (\d+) dimensions? but received (\d+)`)

// classify maps backend error text onto the taxonomy the recovery paths
// match on. The vec0 extension reports dimension mismatches only through its
// message, naming the expected and received dimensions.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()

	if strings.Contains(msg, "no such table") && strings.Contains(msg, TableName) {
		return &missingTableError{cause: err}
	}

	if m := mismatchPattern.FindStringSubmatch(msg); m != nil {
		expected, _ := strconv.Atoi(m[1])
		received, _ := strconv.Atoi(m[2])
		return &DimensionMismatchError{Expected: expected, Received: received}
	}

	return err
}
