package refstore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	dataBucketName = "data"
	metaBucketName = "meta"
	descriptorKey  = "descriptor"

	// maxKeySize is bbolt's limit on key length.
	maxKeySize = bbolt.MaxKeySize

	defaultBatchSize = 10000
)

var (
	dataBucket = []byte(dataBucketName)
	metaBucket = []byte(metaBucketName)
)

type EncoderOptions struct {
	Reference Reference
	BatchSize int
}

// Encoder writes an ordered record stream into an immutable store file.
// Keys must be added in strictly increasing byte order; that lets every
// page be filled completely. Encoder is not safe for concurrent use.
type Encoder struct {
	path  string
	tmp   string
	codec Codec
	ref   Reference
	batch int

	bdb     *bbolt.DB
	btx     *bbolt.Tx
	buck    *bbolt.Bucket
	lastKey []byte
	count   int
	pending int
	done    bool
}

func NewEncoder(path string, codec Codec, opt EncoderOptions) (*Encoder, error) {
	if err := codec.check(); err != nil {
		return nil, buildErrf(opt.Reference, "", err, "bad codec")
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = defaultBatchSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, buildErrf(opt.Reference, "", err, "mkdir")
	}
	tmp := path + ".tmp-" + uuid.NewString()
	bdb, err := bbolt.Open(tmp, 0o644, &bbolt.Options{
		Timeout:        time.Second,
		NoSync:         true,
		NoFreelistSync: true,
		FreelistType:   bbolt.FreelistMapType,
	})
	if err != nil {
		return nil, buildErrf(opt.Reference, "", err, "create %s", tmp)
	}
	e := &Encoder{
		path:  path,
		tmp:   tmp,
		codec: codec,
		ref:   opt.Reference,
		batch: opt.BatchSize,
		bdb:   bdb,
	}
	if err := e.begin(); err != nil {
		e.Abort()
		return nil, err
	}
	return e, nil
}

func (e *Encoder) begin() error {
	btx, err := e.bdb.Begin(true)
	if err != nil {
		return buildErrf(e.ref, "", err, "begin")
	}
	buck, err := btx.CreateBucketIfNotExists(dataBucket)
	if err != nil {
		_ = btx.Rollback()
		return buildErrf(e.ref, "", err, "create bucket")
	}
	// Keys arrive in order, so split pages when completely full.
	buck.FillPercent = 1.0
	e.btx, e.buck = btx, buck
	return nil
}

func (e *Encoder) commit() error {
	err := e.btx.Commit()
	e.btx, e.buck = nil, nil
	if err != nil {
		return buildErrf(e.ref, "", err, "commit")
	}
	e.pending = 0
	return nil
}

// Count returns the number of records added so far.
func (e *Encoder) Count() int {
	return e.count
}

func (e *Encoder) Add(key, value []byte) error {
	if e.done {
		panic("Encoder.Add after Finish or Abort")
	}
	if len(key) == 0 {
		return buildErrf(e.ref, "", nil, "empty key")
	}
	if len(key) > maxKeySize {
		return buildErrf(e.ref, string(key[:64]), nil, "key is %d bytes, limit is %d", len(key), maxKeySize)
	}
	if e.lastKey != nil && bytes.Compare(key, e.lastKey) <= 0 {
		return buildErrf(e.ref, string(key), nil, "keys out of order: %q after %q", key, e.lastKey)
	}
	if err := e.codec.Validate(value); err != nil {
		return buildErrf(e.ref, string(key), err, "invalid value")
	}
	if err := e.buck.Put(key, value); err != nil {
		return buildErrf(e.ref, string(key), err, "put")
	}
	e.lastKey = append(e.lastKey[:0], key...)
	e.count++
	e.pending++
	if e.pending >= e.batch {
		if err := e.commit(); err != nil {
			return err
		}
		return e.begin()
	}
	return nil
}

// Finish records the descriptor, syncs the file and moves it into place.
// The descriptor's KeyCount, Codec and Format are filled in by the encoder.
func (e *Encoder) Finish(desc Descriptor) (*Descriptor, error) {
	if e.done {
		panic("Encoder.Finish called twice")
	}
	if e.count == 0 {
		e.Abort()
		return nil, buildErrf(e.ref, "", nil, "no records")
	}
	desc.Format = FormatVersion
	desc.KeyCount = e.count
	desc.Codec = e.codec
	if desc.Reference.IsZero() {
		desc.Reference = e.ref
	}
	raw, err := encodeMsgPack(nil, &desc)
	if err != nil {
		e.Abort()
		return nil, buildErrf(e.ref, "", err, "descriptor")
	}
	meta, err := e.btx.CreateBucketIfNotExists(metaBucket)
	if err == nil {
		err = meta.Put([]byte(descriptorKey), raw)
	}
	if err != nil {
		e.Abort()
		return nil, buildErrf(e.ref, "", err, "write descriptor")
	}
	if err := e.commit(); err != nil {
		e.Abort()
		return nil, err
	}
	e.done = true

	err = e.bdb.Sync()
	if cerr := e.bdb.Close(); err == nil {
		err = cerr
	}
	e.bdb = nil
	if err == nil {
		err = os.Rename(e.tmp, e.path)
	}
	if err != nil {
		_ = os.Remove(e.tmp)
		return nil, buildErrf(e.ref, "", err, "finish %s", e.path)
	}
	return &desc, nil
}

// Abort discards everything written so far. Safe to call after Finish.
func (e *Encoder) Abort() {
	if e.btx != nil {
		_ = e.btx.Rollback()
		e.btx, e.buck = nil, nil
	}
	e.done = true
	if e.bdb != nil {
		_ = e.bdb.Close()
		e.bdb = nil
		_ = os.Remove(e.tmp)
	}
}

func (e *Encoder) String() string {
	return fmt.Sprintf("encoder(%s, %d records)", e.path, e.count)
}
