// Package badger provides a kvstore.Store backed by BadgerDB v4.
//
// Sets are stored one row per member so that concurrent SAdd and SRem on
// the same set never conflict:
//
//	s\x00{key}\x00{member} -> (empty)
//	v\x00{key}             -> value
//
// Keys and members must not contain NUL bytes.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/hupe1980/lshkv/kvstore"
)

const (
	setTag   = 's'
	valueTag = 'v'
	nul      = 0x00
)

// ErrInvalidKey is returned for keys or members containing NUL bytes.
var ErrInvalidKey = fmt.Errorf("badger: key or member contains NUL byte: %w", kvstore.ErrInvalidKey)

// Options configures the BadgerDB store.
type Options struct {
	// Dir is the directory for BadgerDB data files.
	// Required unless InMemory is set.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool

	// Logger receives badger warnings and errors. If nil, badger output
	// is discarded.
	Logger *slog.Logger

	// SyncWrites forces an fsync after every write.
	SyncWrites bool
}

// Store is a kvstore.Store implementation backed by BadgerDB.
type Store struct {
	db *badger.DB
}

var (
	_ kvstore.Store       = (*Store)(nil)
	_ kvstore.MultiReader = (*Store)(nil)
)

// Open opens (or creates) a BadgerDB-backed Store.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger: Options.Dir is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(slogAdapter{logger: opts.Logger})
	if opts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *badger.DB { return s.db }

func (s *Store) SAdd(_ context.Context, key string, members ...string) error {
	if err := validate(key, members); err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, m := range members {
		if err := wb.Set(memberKey(key, m), nil); err != nil {
			return translate(err)
		}
	}
	return translate(wb.Flush())
}

func (s *Store) SRem(_ context.Context, key string, members ...string) error {
	if err := validate(key, members); err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, m := range members {
		if err := wb.Delete(memberKey(key, m)); err != nil {
			return translate(err)
		}
	}
	return translate(wb.Flush())
}

func (s *Store) SMembers(_ context.Context, key string) ([]string, error) {
	if err := validate(key, nil); err != nil {
		return nil, err
	}
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = readSet(txn, key)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// SMembersMulti implements kvstore.MultiReader using a single read
// transaction.
func (s *Store) SMembersMulti(_ context.Context, keys []string) (map[string][]string, error) {
	out := make(map[string][]string, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := validate(k, nil); err != nil {
				return err
			}
			members, err := readSet(txn, k)
			if err != nil {
				return err
			}
			if len(members) > 0 {
				out[k] = members
			}
		}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	if err := validate(key, nil); err != nil {
		return nil, err
	}
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(valueKey(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, kvstore.ErrNotFound
	}
	return val, translate(err)
}

func (s *Store) Put(_ context.Context, key string, value []byte) error {
	if err := validate(key, nil); err != nil {
		return err
	}
	return translate(s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(valueKey(key), value)
	}))
}

func (s *Store) Delete(_ context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	// Collect member rows first; a write batch cannot run inside a view.
	var doomed [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := validate(k, nil); err != nil {
				return err
			}
			doomed = append(doomed, valueKey(k))
			prefix := setPrefix(k)
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				doomed = append(doomed, it.Item().KeyCopy(nil))
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return translate(err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range doomed {
		if err := wb.Delete(k); err != nil {
			return translate(err)
		}
	}
	return translate(wb.Flush())
}

func (s *Store) Keys(_ context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if strings.IndexByte(prefix, nul) >= 0 {
			yield("", ErrInvalidKey)
			return
		}

		stopped := false
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			// Set rows are sorted by key, so members of one set are adjacent.
			sp := append([]byte{setTag, nul}, prefix...)
			opts.Prefix = sp
			it := txn.NewIterator(opts)
			var last string
			for it.Seek(sp); it.ValidForPrefix(sp); it.Next() {
				raw := it.Item().Key()[2:]
				i := bytes.IndexByte(raw, nul)
				if i < 0 {
					continue
				}
				k := string(raw[:i])
				if k == last {
					continue
				}
				last = k
				if !yield(k, nil) {
					stopped = true
					break
				}
			}
			it.Close()
			if stopped {
				return nil
			}

			vp := append([]byte{valueTag, nul}, prefix...)
			opts.Prefix = vp
			it = txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(vp); it.ValidForPrefix(vp); it.Next() {
				if !yield(string(it.Item().Key()[2:]), nil) {
					stopped = true
					return nil
				}
			}
			return nil
		})
		if err != nil && !stopped {
			yield("", translate(err))
		}
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func readSet(txn *badger.Txn, key string) ([]string, error) {
	prefix := setPrefix(key)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		out = append(out, string(it.Item().Key()[len(prefix):]))
	}
	return out, nil
}

func setPrefix(key string) []byte {
	b := make([]byte, 0, len(key)+3)
	b = append(b, setTag, nul)
	b = append(b, key...)
	return append(b, nul)
}

func memberKey(key, member string) []byte {
	return append(setPrefix(key), member...)
}

func valueKey(key string) []byte {
	b := make([]byte, 0, len(key)+2)
	b = append(b, valueTag, nul)
	return append(b, key...)
}

func validate(key string, members []string) error {
	if strings.IndexByte(key, nul) >= 0 {
		return ErrInvalidKey
	}
	for _, m := range members {
		if strings.IndexByte(m, nul) >= 0 {
			return ErrInvalidKey
		}
	}
	return nil
}

func translate(err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("%w: %w", kvstore.ErrClosed, err)
	}
	return err
}

// slogAdapter forwards badger warnings and errors to slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Errorf(f string, v ...any) {
	if a.logger != nil {
		a.logger.Error(strings.TrimSpace(fmt.Sprintf(f, v...)), "component", "badger")
	}
}

func (a slogAdapter) Warningf(f string, v ...any) {
	if a.logger != nil {
		a.logger.Warn(strings.TrimSpace(fmt.Sprintf(f, v...)), "component", "badger")
	}
}

func (slogAdapter) Infof(string, ...any)  {}
func (slogAdapter) Debugf(string, ...any) {}
