package mmap

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestOptionsHas(t *testing.T) {
	var o Options = SequentialAccess | Prefault
	if !o.Has(Prefault) || o.Has(RandomAccess) {
		t.Fatalf("Options.Has returned unexpected results for %v", o)
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	want := bytes.Repeat([]byte("0123456789abcdef"), 1024)
	must0(os.WriteFile(path, want, 0o644))

	r := must(Open(path, SequentialAccess))
	if r.Len() != len(want) {
		t.Fatalf("Len = %d, wanted %d", r.Len(), len(want))
	}
	if !bytes.Equal(r.Bytes(), want) {
		t.Fatalf("mapped contents differ")
	}
	must0(r.Close())
	if r.Bytes() != nil {
		t.Fatalf("Bytes after Close = non-nil")
	}
}

func TestOpen_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	must0(os.WriteFile(path, nil, 0o644))

	r := must(Open(path, 0))
	if r.Len() != 0 {
		t.Fatalf("Len = %d, wanted 0", r.Len())
	}
	must0(r.Close())
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"), 0)
	if !os.IsNotExist(err) {
		t.Fatalf("Open missing = %v, wanted not-exist", err)
	}
}

func TestFdatasync(t *testing.T) {
	f := must(os.Create(filepath.Join(t.TempDir(), "sync")))
	defer f.Close()
	must(f.Write([]byte("hello")))
	must0(Fdatasync(f))
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func must0(err error) {
	if err != nil {
		panic(err)
	}
}
