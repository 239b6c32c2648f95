package refstore_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/andreyvit/refstore"
	"github.com/andreyvit/refstore/clusterfs"
)

func Example() {
	ctx := context.Background()
	tmp, err := os.MkdirTemp("", "refstore-example-")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(tmp)
	logger := slog.New(slog.DiscardHandler)

	// Build and publish once.
	ref := refstore.Ref("gaz_v1", 1, 0)
	local := filepath.Join(tmp, "build", "store.db")
	_, err = refstore.Build(ctx, local, refstore.Records(
		refstore.StringRecord("London", "loc"),
		refstore.StringRecord("Acme", "org"),
		refstore.StringRecord("Lorem", "misc"),
	), refstore.BuildOptions{Reference: ref, Codec: refstore.StringCodec(), Logger: logger})
	if err != nil {
		panic(err)
	}
	cluster := clusterfs.NewLocal(filepath.Join(tmp, "cluster"))
	publisher := refstore.NewDistributor(cluster, refstore.DistributorOptions{Compression: refstore.CompressionZstd, Logger: logger})
	if _, err := publisher.Publish(ctx, local, ref); err != nil {
		panic(err)
	}

	// Every worker reads through its own manager.
	mgr := refstore.NewConnectionManager(refstore.NewDistributor(cluster, refstore.DistributorOptions{Logger: logger}), refstore.ManagerOptions{
		ScratchDir: filepath.Join(tmp, "worker"),
		Logger:     logger,
	})
	defer mgr.Close()

	b := refstore.NewBinding(mgr, refstore.BindingOptions{})
	if err := b.SetReference(ref); err != nil {
		panic(err)
	}
	for e, err := range b.LookupPrefix(ctx, "LO") {
		if err != nil {
			panic(err)
		}
		fmt.Printf("%s = %s\n", e.Key, e.Value)
	}
	meta, _ := b.Metadata()
	fmt.Println(meta[refstore.MetaReference])

	// Output:
	// london = loc
	// lorem = misc
	// gaz_v1@1.0
}
