/*
Package refstore builds, distributes and serves immutable lookup tables
(gazetteers, word-vector tables, entity dictionaries) for annotation
workers.

We implement:

1. Build, turning an unordered stream of (key, value) records into a
compact read-only store file.

2. Distributor, publishing a store once to a shared cluster file system
and materializing it into each worker's local scratch directory.

3. ConnectionManager, keeping one open store per reference per worker
process and handing out cheap Connections.

4. Binding, tying a consuming component to exactly one reference and
checking that the columns it reads were produced against that same
reference.

# Technical Details

**References.**
A table is identified by a Reference: a name plus a two-part version
(library version and data version), rendered as name@lib.data. A store is
never modified after it is built; a new version is a new reference.

**Store file.**
A store is a Bolt file with two buckets: "data" holds normalized key to
encoded value, "meta" holds the msgpack-encoded Descriptor. Keys are added
in sorted order with a 100% fill percent, so pages are packed full. Stores
are always opened read-only, and any number of processes may share one.

**Keys.**
Unless the table is case-sensitive, keys are lowercased at build time and
at lookup time. Duplicate keys (after normalization) keep the last value;
the descriptor counts how many were dropped.

**Values.**
A store picks one Codec: UTF-8 strings, fixed-dimension float32 vectors
(little-endian), or msgpack documents.

## Cluster layout

	<name>@<lib>.<data>/store-<checksum>.db[.zst|.lz4]
	<name>@<lib>.<data>/descriptor.yaml
	_staging/<uuid>

Everything is uploaded to _staging first and moved into place; the move
fails if the target exists, so the first writer wins. The descriptor is
moved last and is the commit marker: a directory without one is treated
as absent.

## Local layout

	<scratch>/<name>@<lib>.<data>/store.db
	<scratch>/<name>@<lib>.<data>/descriptor.yaml
	<scratch>/.tmp-*

A replica is downloaded, decompressed, synced and verified against the
published size and xxhash checksum inside a temporary directory, which is
then renamed into place.
*/
package refstore
