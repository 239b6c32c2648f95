package refstore

import (
	"bytes"
	"context"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const DefaultMaxValueSize = 16 * 1024 * 1024

type BuildOptions struct {
	Reference     Reference
	Codec         Codec
	CaseSensitive bool

	// MaxValueSize rejects pathological values; defaults to DefaultMaxValueSize.
	MaxValueSize int
	// BatchSize is the number of writes per bbolt transaction.
	BatchSize int

	Logger  *slog.Logger
	Verbose bool
	Now     func() time.Time
}

// Build consumes records in a single pass and writes one immutable store
// file at path.
//
// Keys are normalized according to CaseSensitive. When several records
// normalize to the same key, the one that comes last in the stream wins.
//
// Records are first spooled into a scratch bbolt file next to path, which
// sorts and deduplicates them without holding the table in memory, and
// then streamed in key order through an Encoder.
func Build(ctx context.Context, path string, records iter.Seq2[Record, error], opt BuildOptions) (*Descriptor, error) {
	ref := opt.Reference
	if ref.IsZero() {
		return nil, buildErrf(ref, "", nil, "no reference")
	}
	if err := opt.Codec.check(); err != nil {
		return nil, buildErrf(ref, "", err, "bad codec")
	}
	if opt.MaxValueSize <= 0 {
		opt.MaxValueSize = DefaultMaxValueSize
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = defaultBatchSize
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	start := opt.Now()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, buildErrf(ref, "", err, "mkdir")
	}
	sp, err := newSpool(path+".spool-"+uuid.NewString(), ref, opt.BatchSize)
	if err != nil {
		return nil, err
	}
	defer sp.discard()

	var n int
	for rec, err := range records {
		if err != nil {
			return nil, buildErrf(ref, "", err, "reading record %d", n)
		}
		if n&0xFF == 0 {
			if err := ctx.Err(); err != nil {
				return nil, buildErrf(ref, "", err, "cancelled")
			}
		}
		n++
		key := NormalizeKey(rec.Key, opt.CaseSensitive)
		if key == "" {
			return nil, buildErrf(ref, rec.Key, nil, "empty key (record %d)", n)
		}
		if len(key) > maxKeySize {
			return nil, buildErrf(ref, "", nil, "key is %d bytes, limit is %d (record %d)", len(key), maxKeySize, n)
		}
		if len(rec.Value) > opt.MaxValueSize {
			return nil, buildErrf(ref, key, nil, "value is %d bytes, limit is %d", len(rec.Value), opt.MaxValueSize)
		}
		if err := opt.Codec.Validate(rec.Value); err != nil {
			return nil, buildErrf(ref, key, err, "invalid %v value", opt.Codec)
		}
		replaced, err := sp.put([]byte(key), rec.Value)
		if err != nil {
			return nil, err
		}
		if replaced && opt.Verbose {
			opt.Logger.LogAttrs(ctx, slog.LevelDebug, "refstore: duplicate key, keeping later value", slog.String("ref", ref.String()), slog.String("key", key))
		}
	}
	if err := sp.flush(); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, buildErrf(ref, "", nil, "empty input")
	}

	enc, err := NewEncoder(path, opt.Codec, EncoderOptions{Reference: ref, BatchSize: opt.BatchSize})
	if err != nil {
		return nil, err
	}
	err = sp.bdb.View(func(btx *bbolt.Tx) error {
		c := btx.Bucket(dataBucket).Cursor()
		var i int
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if i&0xFFF == 0 {
				if err := ctx.Err(); err != nil {
					return buildErrf(ref, "", err, "cancelled")
				}
			}
			i++
			if err := enc.Add(k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		enc.Abort()
		return nil, err
	}
	desc, err := enc.Finish(Descriptor{
		Reference:     ref,
		CaseSensitive: opt.CaseSensitive,
		Duplicates:    sp.duplicates,
		BuiltAt:       start.UTC(),
	})
	if err != nil {
		return nil, err
	}

	opt.Logger.LogAttrs(ctx, slog.LevelInfo, "refstore: built",
		slog.String("ref", ref.String()),
		slog.String("path", path),
		slog.Int("records", n),
		slog.Int("keys", desc.KeyCount),
		slog.Int("duplicates", desc.Duplicates),
		slog.Duration("elapsed", opt.Now().Sub(start)))
	return desc, nil
}

// spool is the scratch bbolt file that absorbs the unordered input.
type spool struct {
	path  string
	ref   Reference
	batch int

	bdb        *bbolt.DB
	btx        *bbolt.Tx
	buck       *bbolt.Bucket
	pending    int
	duplicates int
}

func newSpool(path string, ref Reference, batch int) (*spool, error) {
	bdb, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout:        time.Second,
		NoSync:         true,
		NoFreelistSync: true,
		FreelistType:   bbolt.FreelistMapType,
	})
	if err != nil {
		return nil, buildErrf(ref, "", err, "create spool %s", path)
	}
	return &spool{path: path, ref: ref, batch: batch, bdb: bdb}, nil
}

func (sp *spool) put(key, value []byte) (replaced bool, err error) {
	if sp.btx == nil {
		sp.btx, err = sp.bdb.Begin(true)
		if err != nil {
			return false, buildErrf(sp.ref, "", err, "spool begin")
		}
		sp.buck, err = sp.btx.CreateBucketIfNotExists(dataBucket)
		if err != nil {
			return false, buildErrf(sp.ref, "", err, "spool bucket")
		}
	}
	if k, _ := sp.buck.Cursor().Seek(key); bytes.Equal(k, key) {
		replaced = true
		sp.duplicates++
	}
	if err := sp.buck.Put(key, appendRaw(make([]byte, 0, len(value)), value)); err != nil {
		return false, buildErrf(sp.ref, string(key), err, "spool put")
	}
	sp.pending++
	if sp.pending >= sp.batch {
		return replaced, sp.flush()
	}
	return replaced, nil
}

func (sp *spool) flush() error {
	if sp.btx == nil {
		return nil
	}
	err := sp.btx.Commit()
	sp.btx, sp.buck, sp.pending = nil, nil, 0
	if err != nil {
		return buildErrf(sp.ref, "", err, "spool commit")
	}
	return nil
}

func (sp *spool) discard() {
	if sp.btx != nil {
		_ = sp.btx.Rollback()
		sp.btx, sp.buck = nil, nil
	}
	_ = sp.bdb.Close()
	_ = os.Remove(sp.path)
}
