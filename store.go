package refstore

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

type StoreOptions struct {
	// Timeout bounds the wait for the shared file lock; defaults to 10s.
	Timeout time.Duration
	Logger  *slog.Logger
	Verbose bool
}

// Store is a read-only handle to one immutable store file.
//
// All methods are safe for concurrent use. Every Get and every scan runs in
// its own bbolt read transaction, so readers never block each other.
// Close waits for in-flight reads to finish.
type Store struct {
	path    string
	bdb     *bbolt.DB
	desc    Descriptor
	logger  *slog.Logger
	verbose bool

	ReadCount atomic.Uint64
	ScanCount atomic.Uint64
}

func OpenStore(path string, opt StoreOptions) (*Store, error) {
	if opt.Timeout == 0 {
		opt.Timeout = 10 * time.Second
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	bdb, err := bbolt.Open(path, 0o444, &bbolt.Options{
		ReadOnly: true,
		Timeout:  opt.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("refstore: open %s: %w", path, err)
	}
	s := &Store{
		path:    path,
		bdb:     bdb,
		logger:  opt.Logger,
		verbose: opt.Verbose,
	}
	err = bdb.View(func(btx *bbolt.Tx) error {
		if btx.Bucket(dataBucket) == nil {
			return fmt.Errorf("no %s bucket", dataBucketName)
		}
		meta := btx.Bucket(metaBucket)
		if meta == nil {
			return fmt.Errorf("no %s bucket", metaBucketName)
		}
		raw := meta.Get([]byte(descriptorKey))
		if raw == nil {
			return fmt.Errorf("no descriptor")
		}
		if err := decodeMsgPack(raw, &s.desc); err != nil {
			return err
		}
		return s.desc.validate()
	})
	if err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("refstore: open %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

// Descriptor returns a copy of the descriptor recorded at build time.
func (s *Store) Descriptor() Descriptor {
	return s.desc
}

func (s *Store) Reference() Reference {
	return s.desc.Reference
}

func (s *Store) Close() error {
	return s.bdb.Close()
}

// Get looks up an already normalized key. A missing key is not an error.
func (s *Store) Get(key string) ([]byte, bool, error) {
	s.ReadCount.Add(1)
	var value []byte
	var found bool
	kb := []byte(key)
	err := s.bdb.View(func(btx *bbolt.Tx) error {
		k, v := btx.Bucket(dataBucket).Cursor().Seek(kb)
		if k != nil && bytes.Equal(k, kb) {
			found = true
			value = appendRaw(make([]byte, 0, len(v)), v)
		}
		return nil
	})
	if err != nil {
		return nil, false, s.wrapErr(err)
	}
	if s.verbose {
		s.logger.Debug("refstore: GET", "ref", s.desc.Reference.String(), "key", key, "found", found)
	}
	return value, found, nil
}

// Scan lazily enumerates the entries within r in key order (reverse order
// if r.Reverse). Each range over the returned sequence opens a fresh read
// transaction that stays open until the loop ends, so the loop body must not
// close this store. An error, if any, is yielded as the last element.
func (s *Store) Scan(r KeyRange) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		s.ScanCount.Add(1)
		err := s.bdb.View(func(btx *bbolt.Tx) error {
			rc := newRangeCursor(r, btx.Bucket(dataBucket).Cursor())
			for k, v := rc.first(); k != nil; k, v = rc.next() {
				if !yield(Entry{Key: string(k), Value: cloneBytes(v)}, nil) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(Entry{}, s.wrapErr(err))
		}
	}
}

func (s *Store) PrefixScan(prefix string) iter.Seq2[Entry, error] {
	return s.Scan(PrefixRange(prefix))
}

func (s *Store) wrapErr(err error) error {
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return fmt.Errorf("%w: %s", ErrClosed, s.desc.Reference)
	}
	return fmt.Errorf("refstore: %s: %w", s.desc.Reference, err)
}
