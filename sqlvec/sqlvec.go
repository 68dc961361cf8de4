// Package sqlvec keeps source vectors in SQLite. Its Store serves both as
// an ingest.Source and as a query.Fetcher, so a single database file can
// feed the index and answer stage-2 lookups.
package sqlvec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/lshkv/ingest"
	"github.com/hupe1980/lshkv/query"
)

var (
	// ErrInvalidTable is returned for table names that are not plain identifiers.
	ErrInvalidTable = errors.New("sqlvec: invalid table name")

	// ErrCorruptVector is returned when a stored blob is not a float32 array.
	ErrCorruptVector = errors.New("sqlvec: corrupt vector blob")
)

const (
	// DefaultTable is the default table name.
	DefaultTable = "vectors"

	// DefaultPageSize is the default number of rows read per Scan query.
	DefaultPageSize = 512

	// maxParams stays below SQLite's default host parameter limit.
	maxParams = 900
)

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options configures a Store.
type Options struct {
	Table    string
	PageSize int
}

// Store is a SQLite table of id and vector rows.
//
// Scan walks rows in insertion order; its cursor is the row sequence
// number of the last record yielded.
type Store struct {
	db       *sql.DB
	table    string
	pageSize int
}

var (
	_ ingest.Source = (*Store)(nil)
	_ query.Fetcher = (*Store)(nil)
)

// Open opens or creates the database at path. Parent directories are
// created if needed.
func Open(path string, opts Options) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlvec: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlvec: open: %w", err)
	}
	s, err := New(db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlvec: enable WAL: %w", err)
	}
	return s, nil
}

// New wraps an open database and creates the table if missing.
func New(db *sql.DB, opts Options) (*Store, error) {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if !identRE.MatchString(opts.Table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, opts.Table)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		dim INTEGER NOT NULL,
		data BLOB NOT NULL
	);`, opts.Table)
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlvec: initialize schema: %w", err)
	}
	return &Store{db: db, table: opts.Table, pageSize: opts.PageSize}, nil
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Put inserts or replaces vectors. A replaced row moves to the end of the
// scan order.
func (s *Store) Put(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("%w: %d ids, %d vectors", ingest.ErrLengthMismatch, len(ids), len(vectors))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	del, err := tx.PrepareContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.table))
	if err != nil {
		return err
	}
	defer del.Close()
	ins, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, dim, data) VALUES (?, ?, ?)`, s.table))
	if err != nil {
		return err
	}
	defer ins.Close()

	for i, id := range ids {
		if _, err := del.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("sqlvec: put %s: %w", id, err)
		}
		if _, err := ins.ExecContext(ctx, id, len(vectors[i]), encode(vectors[i])); err != nil {
			return fmt.Errorf("sqlvec: put %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Delete removes the given ids and returns the number of rows deleted.
func (s *Store) Delete(ctx context.Context, ids ...string) (int, error) {
	total := 0
	for start := 0; start < len(ids); start += maxParams {
		chunk := ids[start:min(start+maxParams, len(ids))]
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE id IN (%s)`, s.table, placeholders(len(chunk))),
			args(chunk)...)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(n)
	}
	return total, nil
}

// Count returns the number of stored vectors.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n)
	return n, err
}

// Fetch returns the stored vectors among ids. Unknown ids are absent from
// the result.
func (s *Store) Fetch(ctx context.Context, ids []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(ids))
	for start := 0; start < len(ids); start += maxParams {
		chunk := ids[start:min(start+maxParams, len(ids))]
		rows, err := s.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT id, data FROM %s WHERE id IN (%s)`, s.table, placeholders(len(chunk))),
			args(chunk)...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var (
				id   string
				data []byte
			)
			if err := rows.Scan(&id, &data); err != nil {
				rows.Close()
				return nil, err
			}
			v, err := decode(data)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("%s: %w", id, err)
			}
			out[id] = v
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// Scan yields stored vectors in insertion order, starting after from.
func (s *Store) Scan(ctx context.Context, from ingest.Cursor) iter.Seq2[ingest.Record, error] {
	return func(yield func(ingest.Record, error) bool) {
		var last int64
		if from != "" {
			n, err := strconv.ParseInt(string(from), 10, 64)
			if err != nil || n < 0 {
				yield(ingest.Record{}, fmt.Errorf("sqlvec: invalid cursor %q", from))
				return
			}
			last = n
		}

		query := fmt.Sprintf(`SELECT seq, id, data FROM %s WHERE seq > ? ORDER BY seq LIMIT ?`, s.table)
		for {
			page, err := s.page(ctx, query, last)
			if err != nil {
				yield(ingest.Record{}, err)
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			last, _ = strconv.ParseInt(string(page[len(page)-1].Cursor), 10, 64)
		}
	}
}

// page reads one page fully so no rows handle stays open across yields.
func (s *Store) page(ctx context.Context, query string, after int64) ([]ingest.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, after, s.pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []ingest.Record
	for rows.Next() {
		var (
			seq  int64
			id   string
			data []byte
		)
		if err := rows.Scan(&seq, &id, &data); err != nil {
			return nil, err
		}
		v, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
		page = append(page, ingest.Record{
			ID:     id,
			Vector: v,
			Cursor: ingest.Cursor(strconv.FormatInt(seq, 10)),
		})
	}
	return page, rows.Err()
}

func encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptVector, len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func args(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
