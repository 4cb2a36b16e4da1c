package fs

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.lakehouse.dev/core/stores"
)

func TestStore(t *testing.T) {
	defer func(fs afero.Fs) { FileSystem = fs }(FileSystem)
	FileSystem = afero.NewMemMapFs()

	var ctx = context.Background()
	require.NoError(t, FileSystem.MkdirAll("/data/sub", 0755))
	require.NoError(t, afero.WriteFile(FileSystem, "/data/file.txt", []byte("content"), 0644))
	require.NoError(t, afero.WriteFile(FileSystem, "/data/sub/nested.txt", []byte("nested"), 0644))

	_, err := New(mustParseURL("file:///data/?invalid=param"))
	require.Error(t, err)
	_, err = New(mustParseURL("file:relative/path"))
	require.Error(t, err)

	s, err := New(mustParseURL("file:///data/?sync=true"))
	require.NoError(t, err)
	require.Equal(t, "fs", s.Provider())
	require.True(t, s.(*store).args.Sync)

	exists, err := s.Exists(ctx, "file.txt")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = s.Exists(ctx, "missing.txt")
	require.NoError(t, err)
	require.False(t, exists)

	reader, err := s.Get(ctx, "sub/nested.txt")
	require.NoError(t, err)
	content, err := io.ReadAll(reader)
	require.NoError(t, reader.Close())
	require.NoError(t, err)
	require.Equal(t, "nested", string(content))

	// Put creates parent directories and leaves no partial files behind.
	require.NoError(t, s.Put(ctx, "deep/er/out.txt", bytes.NewReader([]byte("out")), 3, "gzip"))
	b, err := afero.ReadFile(FileSystem, "/data/deep/er/out.txt")
	require.NoError(t, err)
	require.Equal(t, "out", string(b))

	var listed []string
	require.NoError(t, s.List(ctx, "", func(path string, _ time.Time) error {
		listed = append(listed, path)
		return nil
	}))
	sort.Strings(listed)
	require.Equal(t, []string{"deep/er/out.txt", "file.txt", "sub/nested.txt"}, listed)

	// Listing a missing directory is empty.
	require.NoError(t, s.List(ctx, "missing/", func(string, time.Time) error {
		t.Fatal("unexpected callback")
		return nil
	}))

	require.NoError(t, s.Remove(ctx, "file.txt"))
	require.NoError(t, s.Remove(ctx, "file.txt")) // Missing is not an error.

	require.True(t, s.IsAuthError(os.ErrPermission))
	require.False(t, s.IsAuthError(os.ErrNotExist))
	require.False(t, s.IsAuthError(nil))
}

func TestPrefixesUseDirectories(t *testing.T) {
	defer func(fs afero.Fs) { FileSystem = fs }(FileSystem)
	FileSystem = afero.NewMemMapFs()

	var ctx = context.Background()
	s, err := New(mustParseURL("file:///pgdata/"))
	require.NoError(t, err)

	require.NoError(t, stores.MakePrefix(ctx, s, "base/5/16384"))
	require.NoError(t, stores.MakePrefix(ctx, s, "base/5/16384"))

	isDir, err := afero.IsDir(FileSystem, "/pgdata/base/5/16384")
	require.NoError(t, err)
	require.True(t, isDir)

	// No marker object is written for directory stores.
	exists, err := afero.Exists(FileSystem, "/pgdata/base/5/16384/"+stores.PrefixMarker)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, s.Put(ctx, "base/5/16384/metadata/v1.metadata.json", bytes.NewReader([]byte("{}")), 2, ""))

	exists, err = stores.PrefixExists(ctx, s, "base/5/16384")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, stores.RemovePrefix(ctx, s, "base/5/16384", 4))
	require.NoError(t, stores.RemovePrefix(ctx, s, "base/5/16384", 4))

	exists, err = stores.PrefixExists(ctx, s, "base/5/16384")
	require.NoError(t, err)
	require.False(t, exists)

	// The parent directory remains.
	isDir, err = afero.IsDir(FileSystem, "/pgdata/base/5")
	require.NoError(t, err)
	require.True(t, isDir)
}

func mustParseURL(s string) *url.URL {
	var u, err = url.Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}
