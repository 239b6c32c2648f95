package clusterfs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFS(t *testing.T, fs FS) {
	ctx := context.Background()

	ok, err := fs.Exists(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = fs.Open(ctx, "a/b.txt")
	assert.True(t, IsNotFound(err))

	require.NoError(t, fs.Put(ctx, "_staging/1", strings.NewReader("one")))
	require.NoError(t, fs.Move(ctx, "_staging/1", "a/b.txt"))

	ok, err = fs.Exists(ctx, "_staging/1")
	require.NoError(t, err)
	assert.False(t, ok)

	rc, err := fs.Open(ctx, "a/b.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "one", string(data))

	require.NoError(t, fs.Put(ctx, "_staging/2", strings.NewReader("two")))
	err = fs.Move(ctx, "_staging/2", "a/b.txt")
	assert.True(t, errors.Is(err, ErrExists))

	ok, err = fs.Exists(ctx, "_staging/2")
	require.NoError(t, err)
	assert.True(t, ok, "losing move must leave its source in place")

	err = fs.Move(ctx, "_staging/none", "a/c.txt")
	assert.True(t, IsNotFound(err))

	require.NoError(t, fs.Put(ctx, "a/c.txt", strings.NewReader("three")))
	names, err := fs.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b.txt", "a/c.txt"}, names)

	require.NoError(t, fs.Remove(ctx, "a/c.txt"))
	require.NoError(t, fs.Remove(ctx, "a/c.txt"))
	names, err = fs.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"_staging/2", "a/b.txt"}, names)
}

func testConcurrentMove(t *testing.T, fs FS) {
	ctx := context.Background()
	const n = 8
	for i := range n {
		require.NoError(t, fs.Put(ctx, Join("_staging", string(rune('a'+i))), strings.NewReader("x")))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins, losses int
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fs.Move(ctx, Join("_staging", string(rune('a'+i))), "final")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, ErrExists) {
				losses++
			} else {
				t.Errorf("Move: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, losses)
}

func TestLocal(t *testing.T) {
	testFS(t, NewLocal(t.TempDir()))
}

func TestLocal_ConcurrentMove(t *testing.T) {
	testConcurrentMove(t, NewLocal(t.TempDir()))
}

func TestLocal_RejectsEscapingNames(t *testing.T) {
	fs := NewLocal(t.TempDir())
	_, err := fs.Exists(context.Background(), "../etc/passwd")
	assert.Error(t, err)
	err = fs.Put(context.Background(), "/abs", strings.NewReader(""))
	assert.Error(t, err)
}

func TestLocal_ListHidesOnlyPutTempFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fs := NewLocal(root)

	require.NoError(t, fs.Put(ctx, "lex.tmp-v@1.0/descriptor.yaml", strings.NewReader("d")))
	require.NoError(t, fs.Put(ctx, "a.tmp-x", strings.NewReader("x")))
	leftover := filepath.Join(root, "lex.tmp-v@1.0", "store.db.tmp-0f8fad5b-d9cb-469f-a165-70867728950e")
	require.NoError(t, os.WriteFile(leftover, []byte("partial"), 0o644))

	names, err := fs.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.tmp-x", "lex.tmp-v@1.0/descriptor.yaml"}, names)
}

func TestMemory(t *testing.T) {
	fs := NewMemory()
	testFS(t, fs)
	assert.Equal(t, 1, fs.MoveCount())
}

func TestMemory_ConcurrentMove(t *testing.T) {
	testConcurrentMove(t, NewMemory())
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "a/b/c", Join("a/", "/b", "c"))
	assert.Equal(t, "a", Join("", "a", ""))
	assert.Equal(t, "", Join())
}
