package refstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/time/rate"

	"github.com/andreyvit/refstore/internal/mmap"
)

// Compression selects how a payload is encoded on the cluster file system.
// Local replicas are always stored uncompressed.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

func ParseCompression(s string) (Compression, error) {
	c := Compression(s)
	if c == "" {
		return CompressionNone, nil
	}
	switch c {
	case CompressionNone, CompressionZstd, CompressionLZ4:
		return c, nil
	default:
		return "", fmt.Errorf("unknown compression %q", s)
	}
}

func (c Compression) orNone() Compression {
	if c == "" {
		return CompressionNone
	}
	return c
}

func (c Compression) ext() string {
	switch c.orNone() {
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

func (c Compression) compress(w io.Writer) (io.WriteCloser, error) {
	switch c.orNone() {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", string(c))
	}
}

func (c Compression) decompress(r io.Reader) (io.ReadCloser, error) {
	switch c.orNone() {
	case CompressionNone:
		return io.NopCloser(r), nil
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", string(c))
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// formatChecksum renders an xxhash digest the way descriptors record it.
func formatChecksum(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}

// fileChecksum hashes the file at path through a sequential read-only
// mapping, falling back to streaming for files too large to map.
func fileChecksum(path string) (size int64, checksum string, err error) {
	region, err := mmap.Open(path, mmap.SequentialAccess)
	if errors.Is(err, mmap.ErrTooLarge) {
		return streamChecksum(path)
	} else if err != nil {
		return 0, "", err
	}
	defer region.Close()
	return int64(region.Len()), formatChecksum(xxhash.Sum64(region.Bytes())), nil
}

func streamChecksum(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()
	h := xxhash.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return n, formatChecksum(h.Sum64()), nil
}

// throttledReader paces reads through a shared token bucket, one token per
// byte.
type throttledReader struct {
	ctx context.Context
	r   io.Reader
	lim *rate.Limiter
}

func newThrottledReader(ctx context.Context, r io.Reader, lim *rate.Limiter) io.Reader {
	if lim == nil {
		return contextReader{ctx, r}
	}
	return &throttledReader{ctx, r, lim}
}

func (tr *throttledReader) Read(p []byte) (int, error) {
	if burst := tr.lim.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := tr.r.Read(p)
	if n > 0 {
		if werr := tr.lim.WaitN(tr.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

// countingWriter feeds every byte into a running checksum.
type countingWriter struct {
	w    io.Writer
	hash *xxhash.Digest
	n    int64
}

func newCountingWriter(w io.Writer) *countingWriter {
	return &countingWriter{w: w, hash: xxhash.New()}
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	_, _ = cw.hash.Write(p[:n])
	return n, err
}

func (cw *countingWriter) checksum() string {
	return formatChecksum(cw.hash.Sum64())
}
