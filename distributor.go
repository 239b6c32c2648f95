package refstore

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/andreyvit/refstore/clusterfs"
	"github.com/andreyvit/refstore/internal/mmap"
)

const (
	// StoreFile is the name of the store inside a local replica directory.
	StoreFile = "store.db"

	stagingDir = "_staging"

	defaultPrefetchParallelism = 4
)

type DistributorOptions struct {
	// Compression applies to newly published payloads. Materialization
	// follows whatever the published descriptor says.
	Compression Compression

	// BytesPerSecond caps the combined download rate of all
	// materializations through this Distributor. Zero means unlimited.
	BytesPerSecond int

	// PrefetchParallelism bounds concurrent materializations in Prefetch.
	PrefetchParallelism int

	Logger  *slog.Logger
	Verbose bool
}

// Distributor publishes built stores to the cluster file system and
// materializes them into node-local scratch directories.
//
// Both operations are idempotent and safe to race, across goroutines and
// across machines. Neither retries; callers decide.
type Distributor struct {
	fs          clusterfs.FS
	compression Compression
	limiter     *rate.Limiter
	parallelism int
	logger      *slog.Logger
	verbose     bool

	PublishCount     atomic.Uint64
	MaterializeCount atomic.Uint64
	MaterializeHits  atomic.Uint64
}

func NewDistributor(cfs clusterfs.FS, opt DistributorOptions) *Distributor {
	if cfs == nil {
		panic("refstore: nil cluster file system")
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.PrefetchParallelism <= 0 {
		opt.PrefetchParallelism = defaultPrefetchParallelism
	}
	d := &Distributor{
		fs:          cfs,
		compression: opt.Compression.orNone(),
		parallelism: opt.PrefetchParallelism,
		logger:      opt.Logger,
		verbose:     opt.Verbose,
	}
	if opt.BytesPerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(opt.BytesPerSecond), opt.BytesPerSecond)
	}
	return d
}

func (d *Distributor) FS() clusterfs.FS {
	return d.fs
}

// Publish makes the store at localPath available cluster-wide under
// ref.Dir(), which it returns.
//
// If ref is already published, Publish does nothing. Otherwise the payload
// is uploaded to a staging name and moved into place, and the descriptor is
// moved in last. Readers treat a directory without a descriptor as absent,
// so they observe either nothing or a complete store.
//
// The payload name embeds its checksum. Racing publishers of byte-identical
// stores converge on one payload; publishers of differing builds each move
// their own payload, and the descriptor that wins names the matching one.
func (d *Distributor) Publish(ctx context.Context, localPath string, ref Reference) (string, error) {
	if ref.IsZero() {
		return "", distErrf(ref, localPath, nil, "no reference")
	}
	dir := ref.Dir()
	descName := clusterfs.Join(dir, DescriptorFile)

	exists, err := d.fs.Exists(ctx, descName)
	if err != nil {
		return "", distErrf(ref, descName, err, "checking descriptor")
	}
	if exists {
		if d.verbose {
			d.logger.LogAttrs(ctx, slog.LevelDebug, "refstore: already published", slog.String("ref", ref.String()), slog.String("dir", dir))
		}
		return dir, nil
	}

	desc, err := readStoreDescriptor(localPath)
	if err != nil {
		return "", distErrf(ref, localPath, err, "reading local store")
	}
	if desc.Reference != ref {
		return "", distErrf(ref, localPath, nil, "local store is tagged %v", desc.Reference)
	}
	desc.Size, desc.Checksum, err = fileChecksum(localPath)
	if err != nil {
		return "", distErrf(ref, localPath, err, "checksumming")
	}
	desc.Compression = d.compression
	desc.Payload = "store-" + desc.Checksum + ".db" + d.compression.ext()

	payloadName := clusterfs.Join(dir, desc.Payload)
	err = d.stage(ctx, payloadName, func(w io.Writer) error {
		return copyCompressed(w, localPath, d.compression)
	})
	if err != nil {
		return "", distErrf(ref, payloadName, err, "uploading payload")
	}

	raw, err := desc.marshalYAML()
	if err != nil {
		return "", distErrf(ref, descName, err, "encoding descriptor")
	}
	err = d.stage(ctx, descName, func(w io.Writer) error {
		_, err := w.Write(raw)
		return err
	})
	if err != nil {
		return "", distErrf(ref, descName, err, "uploading descriptor")
	}

	d.PublishCount.Add(1)
	d.logger.LogAttrs(ctx, slog.LevelInfo, "refstore: published", slog.String("ref", ref.String()), slog.String("dir", dir), slog.Int64("size", desc.Size), slog.String("compression", string(d.compression)))
	return dir, nil
}

// stage uploads to a unique staging name and moves the upload to name.
// Finding name already taken counts as success only if the object is
// actually there; a claim without an object fails.
func (d *Distributor) stage(ctx context.Context, name string, write func(w io.Writer) error) error {
	tmp := clusterfs.Join(stagingDir, uuid.NewString())

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pw.CloseWithError(write(pw))
	}()
	err := d.fs.Put(ctx, tmp, pr)
	_ = pr.Close()
	<-done
	if err != nil {
		_ = d.fs.Remove(context.WithoutCancel(ctx), tmp)
		return err
	}

	err = d.fs.Move(ctx, tmp, name)
	if err != nil {
		_ = d.fs.Remove(context.WithoutCancel(ctx), tmp)
		if errors.Is(err, clusterfs.ErrExists) {
			exists, xerr := d.fs.Exists(ctx, name)
			if xerr != nil {
				return xerr
			}
			if !exists {
				return errors.New("destination is taken but holds no object")
			}
			if d.verbose {
				d.logger.LogAttrs(ctx, slog.LevelDebug, "refstore: lost publish race", slog.String("name", name))
			}
			return nil
		}
		return err
	}
	return nil
}

func copyCompressed(w io.Writer, path string, c Compression) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	cw, err := c.compress(w)
	if err != nil {
		return err
	}
	if _, err := io.Copy(cw, f); err != nil {
		_ = cw.Close()
		return err
	}
	return cw.Close()
}

func readStoreDescriptor(path string) (*Descriptor, error) {
	s, err := OpenStore(path, StoreOptions{})
	if err != nil {
		return nil, err
	}
	defer s.Close()
	desc := s.Descriptor()
	return &desc, nil
}

// Lookup fetches the published descriptor of ref. Returns
// a DistributionError wrapping clusterfs.ErrNotFound if ref is not
// published.
func (d *Distributor) Lookup(ctx context.Context, ref Reference) (*Descriptor, error) {
	descName := clusterfs.Join(ref.Dir(), DescriptorFile)
	desc, err := d.readDescriptor(ctx, descName)
	if err != nil {
		if clusterfs.IsNotFound(err) {
			return nil, distErrf(ref, descName, clusterfs.ErrNotFound, "not published")
		}
		return nil, distErrf(ref, descName, err, "reading descriptor")
	}
	if desc.Reference != ref {
		return nil, distErrf(ref, descName, nil, "directory holds %v", desc.Reference)
	}
	if desc.Payload == "" || desc.Checksum == "" {
		return nil, distErrf(ref, descName, nil, "descriptor does not name a payload")
	}
	return desc, nil
}

func (d *Distributor) readDescriptor(ctx context.Context, name string) (*Descriptor, error) {
	rc, err := d.fs.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return parseDescriptorYAML(raw)
}

// Materialize makes a complete local replica of ref under scratchDir and
// returns the path of its store file.
//
// An existing replica is returned as is. Otherwise the payload is
// downloaded into a temporary directory, decompressed, synced and verified
// against the published size and checksum, then renamed into place. When
// several materializers race, the first rename wins and the rest discard
// their copies.
func (d *Distributor) Materialize(ctx context.Context, ref Reference, scratchDir string) (string, error) {
	if ref.IsZero() {
		return "", distErrf(ref, scratchDir, nil, "no reference")
	}
	final := filepath.Join(scratchDir, filepath.FromSlash(ref.Dir()))

	if ok, err := checkReplica(final, ref); err != nil {
		return "", err
	} else if ok {
		d.MaterializeHits.Add(1)
		return filepath.Join(final, StoreFile), nil
	}

	desc, err := d.Lookup(ctx, ref)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return "", distErrf(ref, scratchDir, err, "creating scratch dir")
	}
	tmpDir, err := os.MkdirTemp(scratchDir, ".tmp-")
	if err != nil {
		return "", distErrf(ref, scratchDir, err, "creating temp dir")
	}
	defer os.RemoveAll(tmpDir)

	if err := d.download(ctx, desc, filepath.Join(tmpDir, StoreFile)); err != nil {
		return "", err
	}

	local := *desc
	local.Compression = ""
	local.Payload = StoreFile
	raw, err := local.marshalYAML()
	if err != nil {
		return "", distErrf(ref, tmpDir, err, "encoding descriptor")
	}
	if err := writeFileSync(filepath.Join(tmpDir, DescriptorFile), raw); err != nil {
		return "", distErrf(ref, tmpDir, err, "writing descriptor")
	}

	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", distErrf(ref, final, err, "creating replica parent")
	}
	if err := os.Rename(tmpDir, final); err != nil {
		if ok, cerr := checkReplica(final, ref); cerr == nil && ok {
			d.MaterializeHits.Add(1)
			return filepath.Join(final, StoreFile), nil
		}
		return "", distErrf(ref, final, err, "moving replica into place")
	}

	d.MaterializeCount.Add(1)
	d.logger.LogAttrs(ctx, slog.LevelInfo, "refstore: materialized", slog.String("ref", ref.String()), slog.String("path", final), slog.Int64("size", desc.Size))
	return filepath.Join(final, StoreFile), nil
}

func (d *Distributor) download(ctx context.Context, desc *Descriptor, path string) error {
	ref := desc.Reference
	payloadName := clusterfs.Join(ref.Dir(), desc.Payload)

	rc, err := d.fs.Open(ctx, payloadName)
	if err != nil {
		return distErrf(ref, payloadName, err, "opening payload")
	}
	defer rc.Close()

	dec, err := desc.Compression.decompress(newThrottledReader(ctx, rc, d.limiter))
	if err != nil {
		return distErrf(ref, payloadName, err, "decompressing payload")
	}
	defer dec.Close()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return distErrf(ref, path, err, "creating replica")
	}
	cw := newCountingWriter(f)
	_, err = io.Copy(cw, dec)
	if err == nil {
		err = mmap.Fdatasync(f)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return distErrf(ref, payloadName, err, "downloading payload")
	}

	if cw.n != desc.Size {
		return distErrf(ref, payloadName, nil, "size mismatch: got %d bytes, expected %d", cw.n, desc.Size)
	}
	if sum := cw.checksum(); sum != desc.Checksum {
		return distErrf(ref, payloadName, nil, "checksum mismatch: got %s, expected %s", sum, desc.Checksum)
	}
	return nil
}

// checkReplica reports whether dir holds a complete replica of ref.
func checkReplica(dir string, ref Reference) (bool, error) {
	descPath := filepath.Join(dir, DescriptorFile)
	desc, err := readDescriptorFile(descPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, distErrf(ref, descPath, err, "reading local descriptor")
	}
	if desc.Reference != ref {
		return false, distErrf(ref, descPath, nil, "replica holds %v", desc.Reference)
	}
	return true, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if err == nil {
		err = mmap.Fdatasync(f)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Published lists the references with a committed descriptor on the
// cluster, ordered by name and version.
func (d *Distributor) Published(ctx context.Context) ([]Reference, error) {
	names, err := d.fs.List(ctx, "")
	if err != nil {
		return nil, distErrf(Reference{}, "", err, "listing")
	}
	var refs []Reference
	for _, name := range names {
		if strings.HasPrefix(name, stagingDir+"/") || !strings.HasSuffix(name, "/"+DescriptorFile) {
			continue
		}
		desc, err := d.readDescriptor(ctx, name)
		if err != nil {
			return nil, distErrf(Reference{}, name, err, "reading descriptor")
		}
		refs = append(refs, desc.Reference)
	}
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].less(refs[j])
	})
	return refs, nil
}

// Prefetch materializes refs concurrently, returning the first error.
func (d *Distributor) Prefetch(ctx context.Context, scratchDir string, refs ...Reference) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallelism)
	for _, ref := range refs {
		g.Go(func() error {
			_, err := d.Materialize(ctx, ref, scratchDir)
			return err
		})
	}
	return g.Wait()
}

// Verify re-hashes a local replica's store file against its descriptor.
func (d *Distributor) Verify(storePath string) error {
	dir := filepath.Dir(storePath)
	desc, err := readDescriptorFile(filepath.Join(dir, DescriptorFile))
	if err != nil {
		return distErrf(Reference{}, dir, err, "reading local descriptor")
	}
	size, sum, err := fileChecksum(storePath)
	if err != nil {
		return distErrf(desc.Reference, storePath, err, "checksumming")
	}
	if size != desc.Size || sum != desc.Checksum {
		return distErrf(desc.Reference, storePath, nil, "replica is corrupted: %d bytes %s, expected %d bytes %s", size, sum, desc.Size, desc.Checksum)
	}
	return nil
}
