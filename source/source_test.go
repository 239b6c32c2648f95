package source

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/andreyvit/refstore"
)

func collect(t *testing.T, seq func(func(refstore.Record, error) bool)) ([]refstore.Record, error) {
	t.Helper()
	var recs []refstore.Record
	for rec, err := range seq {
		if err != nil {
			return recs, err
		}
		recs = append(recs, refstore.Record{Key: rec.Key, Value: append([]byte(nil), rec.Value...)})
	}
	return recs, nil
}

func TestTSV(t *testing.T) {
	in := "# gazetteer\nLondon\tloc\nParis\tloc\nACME Corp\torg\n"
	recs, err := collect(t, TSV(strings.NewReader(in), TSVOptions{}))
	require.NoError(t, err)
	assert.Equal(t, []refstore.Record{
		refstore.StringRecord("London", "loc"),
		refstore.StringRecord("Paris", "loc"),
		refstore.StringRecord("ACME Corp", "org"),
	}, recs)
}

func TestTSV_HeaderAndComma(t *testing.T) {
	in := "key,value\na,1\nb,2\n"
	recs, err := collect(t, TSV(strings.NewReader(in), TSVOptions{Comma: ',', SkipHeader: true}))
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].Key)
}

func TestTSV_ExtraColumn(t *testing.T) {
	_, err := collect(t, TSV(strings.NewReader("a\tb\tc\n"), TSVOptions{}))
	assert.Error(t, err)
}

func TestWordVectors(t *testing.T) {
	in := "2 3\nthe 0.1 0.2 0.3\ncat -1 0 1.5\n"
	recs, err := collect(t, WordVectors(strings.NewReader(in), 3))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	codec := refstore.VectorCodec(3)
	vec, err := codec.DecodeVector(recs[1].Value)
	require.NoError(t, err)
	assert.Equal(t, "cat", recs[1].Key)
	assert.Equal(t, []float32{-1, 0, 1.5}, vec)
}

func TestWordVectors_WrongDim(t *testing.T) {
	_, err := collect(t, WordVectors(strings.NewReader("the 0.1 0.2\n"), 3))
	assert.ErrorContains(t, err, "line 1")
}

func TestSQL(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	_, err = db.ExecContext(ctx, `CREATE TABLE gaz (name TEXT, label TEXT)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO gaz VALUES ('London', 'loc'), ('Berlin', 'loc')`)
	require.NoError(t, err)

	recs, err := collect(t, SQL(ctx, db, `SELECT name, label FROM gaz ORDER BY name`))
	require.NoError(t, err)
	assert.Equal(t, []refstore.Record{
		refstore.StringRecord("Berlin", "loc"),
		refstore.StringRecord("London", "loc"),
	}, recs)
}

func TestSQL_Null(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	_, err = collect(t, SQL(context.Background(), db, `SELECT 'k', NULL`))
	assert.ErrorContains(t, err, "NULL")
}

func TestOpenFile_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gaz.tsv.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte("London\tloc\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	rc, err := OpenFile(path)
	require.NoError(t, err)
	defer rc.Close()

	recs, err := collect(t, TSV(rc, TSVOptions{}))
	require.NoError(t, err)
	assert.Equal(t, []refstore.Record{refstore.StringRecord("London", "loc")}, recs)
}
