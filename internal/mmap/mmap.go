// Package mmap maps files into memory read-only and syncs written files.
package mmap

import (
	"errors"
	"fmt"
	"os"
)

type Options uint

const (
	// SequentialAccess requests aggressive read-ahead. Maps to MADV_SEQUENTIAL
	// on Unix. Incompatible with RandomAccess.
	SequentialAccess Options = 1 << iota

	// RandomAccess says read-ahead is less useful than normally. Maps to
	// MADV_RANDOM on Unix.
	RandomAccess

	// Prefault loads the entire file up front. Maps to MAP_POPULATE on Linux.
	Prefault
)

func (o Options) Has(v Options) bool {
	return o&v != 0
}

// ErrTooLarge is returned for files larger than MaxSize.
var ErrTooLarge = errors.New("mmap: file too large")

// Region is a read-only mapping of a whole file.
type Region struct {
	f    *os.File
	data []byte
}

// Open maps the file at path. Empty files yield an empty region without
// a mapping.
func Open(path string, opt Options) (*Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	size := fi.Size()
	if size > MaxSize {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, path, size)
	}
	r := &Region{f: f}
	if size > 0 {
		r.data, err = mmap(f, int(size), opt)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("mmap %s: %w", path, err)
		}
	}
	return r, nil
}

// Bytes returns the mapped contents. The slice is invalid after Close.
func (r *Region) Bytes() []byte {
	return r.data
}

func (r *Region) Len() int {
	return len(r.data)
}

func (r *Region) Close() error {
	var err error
	if r.data != nil {
		err = munmap(r.data)
		r.data = nil
	}
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}
