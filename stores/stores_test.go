package stores

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func clearStores() { defaultRegistry = newRegistry() }

func TestGetCachesAndEvictsStores(t *testing.T) {
	clearStores()

	RegisterProviders(map[string]Constructor{
		"mem": func(u *url.URL) (Store, error) { return NewMemoryStore(u), nil },
		"bad": func(u *url.URL) (Store, error) { return nil, errors.New("init failed") },
	})
	require.Len(t, GetProviders(), 2)

	s1, err := Get("mem://bucket/one/?secret=shh")
	require.NoError(t, err)
	require.Equal(t, "mem://bucket/one/", s1.Label) // Query is never part of the label.
	require.Equal(t, "memory", s1.Provider())

	s2, err := Get("mem://bucket/one/?secret=shh")
	require.NoError(t, err)
	require.Same(t, s1, s2)

	s3, err := Get("mem://bucket/two/")
	require.NoError(t, err)
	require.NotSame(t, s1, s3)

	require.True(t, Evict("mem://bucket/one/?secret=shh"))
	require.False(t, Evict("mem://bucket/one/?secret=shh"))

	s4, err := Get("mem://bucket/one/?secret=shh")
	require.NoError(t, err)
	require.NotSame(t, s1, s4)

	_, err = Get("bad://bucket/")
	require.EqualError(t, err, "init failed")
	_, err = Get("unknown://bucket/")
	require.EqualError(t, err, `unsupported store scheme: "unknown"`)
}

func TestMemoryConstructorIsMemoized(t *testing.T) {
	var ctor = NewMemoryConstructor()
	var a, _ = ctor(mustParseURL("mem://b/p/"))
	var b, _ = ctor(mustParseURL("mem://b/p/"))
	var c, _ = ctor(mustParseURL("mem://b/q/"))

	require.Same(t, a, b)
	require.NotSame(t, a, c)
}

func TestPrefixLifecycleWithMarkers(t *testing.T) {
	var ctx = context.Background()
	var ms = NewMemoryStore(mustParseURL("mem://bucket/"))
	var s = NewActiveStore(ms.URL, ms)

	exists, err := PrefixExists(ctx, s, "5/16384")
	require.NoError(t, err)
	require.False(t, exists)

	// MakePrefix is idempotent.
	require.NoError(t, MakePrefix(ctx, s, "5/16384/"))
	require.NoError(t, MakePrefix(ctx, s, "5/16384"))
	require.Equal(t, []string{"5/16384/" + PrefixMarker}, keys(ms))

	exists, err = PrefixExists(ctx, s, "5/16384")
	require.NoError(t, err)
	require.True(t, exists)

	// A sibling prefix sharing a string prefix isn't matched.
	exists, err = PrefixExists(ctx, s, "5/1638")
	require.NoError(t, err)
	require.False(t, exists)

	for _, p := range []string{"data/a", "data/b", "metadata/v1.metadata.json"} {
		require.NoError(t, s.Put(ctx, "5/16384/"+p, bytes.NewReader([]byte(p)), int64(len(p)), ""))
	}
	require.NoError(t, s.Put(ctx, "5/163840/other", bytes.NewReader(nil), 0, ""))

	require.NoError(t, RemovePrefix(ctx, s, "5/16384", 2))
	require.Equal(t, []string{"5/163840/other"}, keys(ms))

	// RemovePrefix is idempotent.
	require.NoError(t, RemovePrefix(ctx, s, "5/16384", 2))

	exists, err = PrefixExists(ctx, s, "5/16384")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRemovePrefixKeepsMarkerOnFailure(t *testing.T) {
	var ctx = context.Background()
	var ms = NewMemoryStore(mustParseURL("mem://bucket/"))
	var removes int32

	var cs = &CallbackStore{
		Store: ms,
		RemoveFunc: func(ctx context.Context, path string) error {
			if atomic.AddInt32(&removes, 1) == 1 {
				return io.ErrUnexpectedEOF
			}
			return ms.Remove(ctx, path)
		},
	}
	require.NoError(t, MakePrefix(ctx, cs, "p"))
	require.NoError(t, cs.Put(ctx, "p/data", bytes.NewReader([]byte("x")), 1, ""))

	require.Equal(t, io.ErrUnexpectedEOF, RemovePrefix(ctx, cs, "p", 1))

	exists, err := PrefixExists(ctx, cs, "p")
	require.NoError(t, err)
	require.True(t, exists)

	// A retry completes the removal.
	require.NoError(t, RemovePrefix(ctx, cs, "p", 1))
	require.Empty(t, keys(ms))
}

func TestMemoryStoreListsInOrder(t *testing.T) {
	var ctx = context.Background()
	var ms = NewMemoryStore(mustParseURL("mem://bucket/"))

	for _, p := range []string{"a/3", "a/1", "a/2", "b/1"} {
		require.NoError(t, ms.Put(ctx, p, bytes.NewReader([]byte(p)), int64(len(p)), ""))
	}
	var listed []string
	require.NoError(t, ms.List(ctx, "a/", func(path string, _ time.Time) error {
		listed = append(listed, path)
		return nil
	}))
	require.Equal(t, []string{"1", "2", "3"}, listed)

	rc, err := ms.Get(ctx, "a/2")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	require.Equal(t, "a/2", string(b))

	_, err = ms.Get(ctx, "missing")
	require.True(t, os.IsNotExist(errors.Cause(err)))
}

func keys(ms *MemoryStore) []string {
	var out []string
	_ = ms.List(context.Background(), "", func(path string, _ time.Time) error {
		out = append(out, path)
		return nil
	})
	return out
}

func mustParseURL(s string) *url.URL {
	var u, err = url.Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}
