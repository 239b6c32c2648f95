package refstore

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/andreyvit/refstore/clusterfs"
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isnil[T any, P ~*T](t testing.TB, a P) {
	if a != nil {
		t.Helper()
		t.Errorf("** got &%v, wanted nil", *a)
	}
}

// buildStore builds recs into a fresh store file and returns its path.
func buildStore(t testing.TB, ref Reference, codec Codec, cs bool, recs ...Record) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	_, err := Build(context.Background(), path, Records(recs...), BuildOptions{
		Reference:     ref,
		Codec:         codec,
		CaseSensitive: cs,
	})
	if err != nil {
		t.Fatalf("Build(%v): %v", ref, err)
	}
	return path
}

func openStore(t testing.TB, path string) *Store {
	t.Helper()
	s := must(OpenStore(path, StoreOptions{}))
	t.Cleanup(func() { s.Close() })
	return s
}

// cluster is a shared directory plus a publisher's Distributor.
type cluster struct {
	fs   clusterfs.FS
	dist *Distributor
}

func setupCluster(t testing.TB, opt DistributorOptions) *cluster {
	t.Helper()
	fs := clusterfs.NewLocal(t.TempDir())
	return &cluster{fs: fs, dist: NewDistributor(fs, opt)}
}

// publish builds and publishes recs as ref.
func (c *cluster) publish(t testing.TB, ref Reference, codec Codec, cs bool, recs ...Record) {
	t.Helper()
	path := buildStore(t, ref, codec, cs, recs...)
	if _, err := c.dist.Publish(context.Background(), path, ref); err != nil {
		t.Fatalf("Publish(%v): %v", ref, err)
	}
}

// worker simulates one worker process with its own scratch dir and cache.
func (c *cluster) worker(t testing.TB) *ConnectionManager {
	t.Helper()
	m := NewConnectionManager(NewDistributor(c.fs, DistributorOptions{}), ManagerOptions{
		ScratchDir: t.TempDir(),
	})
	t.Cleanup(func() { m.Close() })
	return m
}

func collect(t testing.TB, seq func(func(Entry, error) bool)) []Entry {
	t.Helper()
	var result []Entry
	for e, err := range seq {
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		result = append(result, e)
	}
	return result
}

func keysOf(entries []Entry) []string {
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys
}

var gazRecords = []Record{
	StringRecord("London", "loc"),
	StringRecord("Paris", "loc"),
	StringRecord("Acme", "org"),
	StringRecord("Madrid", "loc"),
	StringRecord("Berlin", "loc"),
}
