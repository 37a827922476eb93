package local_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-warehouse/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("CreatesMissingDir", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "archive")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		require.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Empty(t, entries)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{BaseDir: "  "})
		require.Error(t, err)
	})

	t.Run("BaseDirIsFile", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		require.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("NestedPath", func(t *testing.T) {
		path := "pages/shop/test/session/abc/page-0001.html"
		uri, err := store.PutObject(ctx, path, "text/html", strings.NewReader("<html></html>"))
		require.NoError(t, err)
		full := filepath.Join(base, filepath.FromSlash(path))
		require.Equal(t, "file://"+full, uri)
		data, err := os.ReadFile(full) // #nosec G304 -- test reads from its temp dir.
		require.NoError(t, err)
		require.Equal(t, "<html></html>", string(data))
	})

	t.Run("Overwrite", func(t *testing.T) {
		_, err := store.PutObject(ctx, "same.html", "", bytes.NewReader([]byte("v1")))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, "same.html", "", bytes.NewReader([]byte("v2")))
		require.NoError(t, err)
		data, err := os.ReadFile(filepath.Join(base, "same.html")) // #nosec G304 -- test reads from its temp dir.
		require.NoError(t, err)
		require.Equal(t, "v2", string(data))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "text/plain", strings.NewReader("data"))
		require.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.html", "text/plain", strings.NewReader("data"))
		require.Error(t, err)
	})

	t.Run("ReaderFailureLeavesNothing", func(t *testing.T) {
		_, err := store.PutObject(ctx, "broken/page.html", "", failingReader{})
		require.Error(t, err)
		entries, err := os.ReadDir(filepath.Join(base, "broken"))
		require.NoError(t, err)
		require.Empty(t, entries)
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("read failed")
}
