package filestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progrunhq/progrun/internal/progerr"
)

func TestPutGetRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key, err := store.Put(ctx, "p-1", "v-1", "lib/helper.py", []byte("def f(): pass\n"), "text/plain")
	require.NoError(t, err)
	assert.Len(t, key, 64, "storage key is the content hash")

	data, err := store.Get(ctx, "p-1", "v-1", "lib/helper.py")
	require.NoError(t, err)
	assert.Equal(t, "def f(): pass\n", string(data))

	_, err = store.Get(ctx, "p-1", "v-1", "missing.py")
	assert.Equal(t, progerr.CodeNotFound, progerr.CodeOf(err))
}

func TestPutRejectsEscapingPaths(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	tests := []string{"", "../escape.py", "a/../../escape.py", "/etc/passwd"}
	for _, path := range tests {
		_, err := store.Put(ctx, "p-1", "v-1", path, []byte("x"), "")
		assert.Equal(t, progerr.CodeValidation, progerr.CodeOf(err), "path %q", path)
	}
}

func TestListVersionFiles(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Put(ctx, "p-1", "v-1", "main.py", []byte("print()\n"), "")
	require.NoError(t, err)
	_, err = store.Put(ctx, "p-1", "v-1", "lib/util.py", []byte("pass\n"), "")
	require.NoError(t, err)

	files, err := store.List(ctx, "p-1", "v-1")
	require.NoError(t, err)
	require.Len(t, files, 2)

	paths := []string{files[0].Path, files[1].Path}
	assert.ElementsMatch(t, []string{"main.py", "lib/util.py"}, paths)

	empty, err := store.List(ctx, "p-1", "v-none")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDeleteFileAndVersion(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Put(ctx, "p-1", "v-1", "main.py", []byte("x"), "")
	require.NoError(t, err)
	_, err = store.Put(ctx, "p-1", "v-1", "other.py", []byte("y"), "")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "p-1", "v-1", "main.py"))
	_, err = store.Get(ctx, "p-1", "v-1", "main.py")
	assert.Equal(t, progerr.CodeNotFound, progerr.CodeOf(err))

	require.NoError(t, store.Delete(ctx, "p-1", "v-1", ""))
	files, err := store.List(ctx, "p-1", "v-1")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestCopyVersion(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Put(ctx, "p-1", "v-1", "main.py", []byte("v1 source"), "")
	require.NoError(t, err)

	require.NoError(t, store.Copy(ctx, "p-1", "v-1", "v-2"))

	data, err := store.Get(ctx, "p-1", "v-2", "main.py")
	require.NoError(t, err)
	assert.Equal(t, "v1 source", string(data))
}

func TestOutputRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.PutOutput(ctx, "p-1", "v-1", "e-1", "charts/plot.png", []byte("png-bytes"))
	require.NoError(t, err)

	data, err := store.GetOutput(ctx, "p-1", "v-1", "e-1", "charts/plot.png")
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	_, err = store.GetOutput(ctx, "p-1", "v-1", "e-1", "missing.png")
	assert.Equal(t, progerr.CodeNotFound, progerr.CodeOf(err))
}

func TestStats(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Put(ctx, "p-1", "v-1", "a.py", []byte("12345"), "")
	require.NoError(t, err)
	_, err = store.Put(ctx, "p-1", "v-2", "b.py", []byte("123"), "")
	require.NoError(t, err)

	stats, err := store.Stats(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FileCount)
	assert.EqualValues(t, 8, stats.TotalBytes)

	none, err := store.Stats(ctx, "p-unknown")
	require.NoError(t, err)
	assert.Zero(t, none.FileCount)
}
