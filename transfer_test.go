package refstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"
)

func TestParseCompression(t *testing.T) {
	for s, e := range map[string]Compression{"": CompressionNone, "none": CompressionNone, "zstd": CompressionZstd, "lz4": CompressionLZ4} {
		deepEqual(t, must(ParseCompression(s)), e)
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Errorf("** ParseCompression(gzip) succeeded")
	}
}

func TestCompression_RoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("london\tloc\nparis\tloc\n"), 1000)
	for _, c := range []Compression{"", CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(string(c.orNone()), func(t *testing.T) {
			var buf bytes.Buffer
			w := must(c.compress(&buf))
			must(w.Write(data))
			ensure(w.Close())
			if c.orNone() != CompressionNone && buf.Len() >= len(data) {
				t.Errorf("** compressed to %d bytes from %d", buf.Len(), len(data))
			}

			r := must(c.decompress(&buf))
			out := must(io.ReadAll(r))
			ensure(r.Close())
			if !bytes.Equal(out, data) {
				t.Errorf("** round trip changed the data")
			}
		})
	}
}

func TestFileChecksum(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte{1, 2, 3, 4, 5}, 10000)
	path := filepath.Join(dir, "payload")
	ensure(os.WriteFile(path, data, 0o644))

	size, sum := must2(fileChecksum(path))
	deepEqual(t, size, int64(len(data)))
	deepEqual(t, sum, formatChecksum(xxhash.Sum64(data)))
	ssize, ssum := must2(streamChecksum(path))
	deepEqual(t, ssize, size)
	deepEqual(t, ssum, sum)
	deepEqual(t, len(sum), 16)

	empty := filepath.Join(dir, "empty")
	ensure(os.WriteFile(empty, nil, 0o644))
	size, sum = must2(fileChecksum(empty))
	deepEqual(t, size, int64(0))
	deepEqual(t, sum, formatChecksum(xxhash.Sum64(nil)))
}

func TestCountingWriter(t *testing.T) {
	var buf bytes.Buffer
	cw := newCountingWriter(&buf)
	must(cw.Write([]byte("hello ")))
	must(cw.Write([]byte("world")))
	deepEqual(t, cw.n, int64(11))
	deepEqual(t, cw.checksum(), formatChecksum(xxhash.Sum64String("hello world")))
	deepEqual(t, buf.String(), "hello world")
}

func TestThrottledReader(t *testing.T) {
	data := bytes.Repeat([]byte{7}, 4096)

	r := newThrottledReader(context.Background(), bytes.NewReader(data), nil)
	deepEqual(t, len(must(io.ReadAll(r))), len(data))

	// 4 KiB at 16 KiB/s with a 1 KiB burst takes about 190ms.
	lim := rate.NewLimiter(rate.Limit(16<<10), 1024)
	start := time.Now()
	r = newThrottledReader(context.Background(), bytes.NewReader(data), lim)
	deepEqual(t, len(must(io.ReadAll(r))), len(data))
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("** read 4 KiB in %v, wanted throttling", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r = newThrottledReader(ctx, bytes.NewReader(data), nil)
	if _, err := io.ReadAll(r); !errors.Is(err, context.Canceled) {
		t.Errorf("** ReadAll = %v, wanted context.Canceled", err)
	}
}
